// Package metrics exposes Prometheus instruments for the update pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline groups the pipeline's instruments. A nil *Pipeline is valid and
// records nothing.
type Pipeline struct {
	runs   *prometheus.CounterVec
	stages *prometheus.HistogramVec
	bytes  *prometheus.CounterVec
	tasks  *prometheus.GaugeVec
}

// NewPipeline registers the instruments with reg.
func NewPipeline(reg prometheus.Registerer) *Pipeline {
	factory := promauto.With(reg)
	return &Pipeline{
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sheet_updater",
			Name:      "runs_total",
			Help:      "Pipeline runs by outcome.",
		}, []string{"outcome"}),
		stages: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sheet_updater",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"stage", "result"}),
		bytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sheet_updater",
			Name:      "transferred_bytes_total",
			Help:      "Document bytes moved to and from the storage provider.",
		}, []string{"direction"}),
		tasks: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sheet_updater",
			Name:      "async_tasks",
			Help:      "Asynchronous runs currently queued or running.",
		}, []string{"state"}),
	}
}

func (p *Pipeline) ObserveRun(outcome string) {
	if p == nil {
		return
	}
	p.runs.WithLabelValues(outcome).Inc()
}

func (p *Pipeline) ObserveStage(stage string, d time.Duration, err error) {
	if p == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	p.stages.WithLabelValues(stage, result).Observe(d.Seconds())
}

func (p *Pipeline) AddBytes(direction string, n int64) {
	if p == nil || n <= 0 {
		return
	}
	p.bytes.WithLabelValues(direction).Add(float64(n))
}

// TaskStarted and TaskFinished track in-flight asynchronous runs.
func (p *Pipeline) TaskStarted() {
	if p == nil {
		return
	}
	p.tasks.WithLabelValues("running").Inc()
}

func (p *Pipeline) TaskFinished() {
	if p == nil {
		return
	}
	p.tasks.WithLabelValues("running").Dec()
}
