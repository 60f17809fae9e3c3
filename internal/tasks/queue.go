// Package tasks runs update requests detached from the caller while keeping
// their completion observable.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Lllllllleong/sheetupdater/internal/metrics"
	"github.com/Lllllllleong/sheetupdater/internal/models"
	"github.com/Lllllllleong/sheetupdater/internal/services"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ErrQueueFull is returned by Submit when every slot is taken.
var ErrQueueFull = errors.New("task queue is full")

// Processor runs one update request to completion.
type Processor interface {
	Process(ctx context.Context, req models.UpdateRequest) *services.Result
}

// Task is one detached pipeline run.
type Task struct {
	ID         string
	DocumentID string

	done   chan struct{}
	result *services.Result
}

// Done is closed once the run has finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Result returns the run's result, or nil while it is still running.
func (t *Task) Result() *services.Result {
	select {
	case <-t.done:
		return t.result
	default:
		return nil
	}
}

// Queue runs update requests in the background with bounded concurrency.
type Queue struct {
	processor  Processor
	recorder   Recorder
	runTimeout time.Duration
	metrics    *metrics.Pipeline

	group errgroup.Group

	mu    sync.Mutex
	tasks map[string]*Task
}

// NewQueue creates a Queue running at most maxConcurrent requests at once.
// A nil recorder keeps records in memory.
func NewQueue(processor Processor, recorder Recorder, maxConcurrent int, runTimeout time.Duration, m *metrics.Pipeline) *Queue {
	if recorder == nil {
		recorder = NewMemoryRecorder()
	}
	q := &Queue{
		processor:  processor,
		recorder:   recorder,
		runTimeout: runTimeout,
		metrics:    m,
		tasks:      map[string]*Task{},
	}
	q.group.SetLimit(maxConcurrent)
	return q
}

// Submit starts req in the background and returns immediately. The run is
// detached from ctx's cancellation and bounded by the queue's run timeout.
func (q *Queue) Submit(ctx context.Context, req models.UpdateRequest) (*Task, error) {
	task := &Task{
		ID:         uuid.NewString(),
		DocumentID: req.DocumentID,
		done:       make(chan struct{}),
	}
	logCtx := slog.With("taskId", task.ID, "documentId", req.DocumentID)

	runCtx := context.WithoutCancel(ctx)
	rec := models.TaskRecord{
		ID:         task.ID,
		DocumentID: req.DocumentID,
		Status:     StatusQueued,
		CreatedAt:  time.Now(),
	}

	q.mu.Lock()
	q.tasks[task.ID] = task
	q.mu.Unlock()

	started := q.group.TryGo(func() error {
		defer q.forget(task.ID)
		q.run(runCtx, logCtx, task, rec, req)
		return nil
	})
	if !started {
		q.forget(task.ID)
		logCtx.Warn("Task queue is full, rejecting request.")
		return nil, ErrQueueFull
	}
	return task, nil
}

func (q *Queue) forget(id string) {
	q.mu.Lock()
	delete(q.tasks, id)
	q.mu.Unlock()
}

func (q *Queue) run(ctx context.Context, logCtx *slog.Logger, task *Task, rec models.TaskRecord, req models.UpdateRequest) {
	q.metrics.TaskStarted()
	defer q.metrics.TaskFinished()
	defer close(task.done)

	if err := q.recorder.Create(ctx, rec); err != nil {
		logCtx.Error("Failed to create task record.", "error", err)
	}
	if err := q.recorder.UpdateStatus(ctx, task.ID, StatusRunning); err != nil {
		logCtx.Warn("Failed to mark task running.", "error", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, q.runTimeout)
	defer cancel()
	task.result = q.processor.Process(runCtx, req)

	status, message := StatusDone, ""
	if task.result.Err != nil {
		status, message = StatusFailed, task.result.Err.Error()
	}
	if err := q.recorder.Finish(ctx, task.ID, status, string(task.result.Outcome), message); err != nil {
		logCtx.Error("Failed to record task completion.", "error", err)
	}
	logCtx.Info("Task finished.", "status", status, "outcome", task.result.Outcome)
}

// Lookup returns the record for a task. Tasks still in flight on this queue
// are found even before their record has been written.
func (q *Queue) Lookup(ctx context.Context, id string) (*models.TaskRecord, error) {
	q.mu.Lock()
	task, local := q.tasks[id]
	q.mu.Unlock()

	rec, err := q.recorder.Get(ctx, id)
	if err == nil {
		return rec, nil
	}
	if !local || !errors.Is(err, ErrTaskNotFound) {
		return nil, err
	}

	// Submitted here but the run has not written its record yet.
	return &models.TaskRecord{ID: task.ID, DocumentID: task.DocumentID, Status: StatusQueued}, nil
}

// Wait blocks until every submitted task has finished.
func (q *Queue) Wait() error {
	if err := q.group.Wait(); err != nil {
		return fmt.Errorf("task queue: %w", err)
	}
	return nil
}
