package services

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Lllllllleong/sheetupdater/internal/fields"
	"github.com/Lllllllleong/sheetupdater/internal/metrics"
	"github.com/Lllllllleong/sheetupdater/internal/models"
	"github.com/google/uuid"
)

// State is a step of one pipeline run.
type State string

const (
	StateReceived   State = "received"
	StateFetching   State = "fetching"
	StateMutating   State = "mutating"
	StatePublishing State = "publishing"
	StateSkipped    State = "skipped"
	StateCleanup    State = "cleanup"
	StateSuccess    State = "success"
	StateFailed     State = "failed"
)

// Outcome is the caller-visible result of a run.
type Outcome string

const (
	OutcomeUpdated Outcome = "updated"
	OutcomeNoOp    Outcome = "no-op"
	OutcomeFailed  Outcome = "failed"
)

// Result is returned by every run. Err is set only when Outcome is failed.
type Result struct {
	RunID    string
	Outcome  Outcome
	Written  []string
	Remote   *models.RemoteDocument
	States   []State
	Warnings []string
	Err      error
}

func (r *Result) enter(s State) {
	r.States = append(r.States, s)
}

// Updater sequences fetch, mutate and publish for one request and owns the
// scratch file for the duration of the run.
//
// Runs for different identifiers share nothing but the scratch directory.
// Two concurrent runs for the same identifier share a scratch path and are
// not coordinated.
type Updater struct {
	mapping      fields.Mapping
	scratchDir   string
	stageTimeout time.Duration

	fetcher   *Fetcher
	mutator   *Mutator
	publisher *Publisher
	store     DocumentStore

	notifier Notifier
	metrics  *metrics.Pipeline
	logger   *slog.Logger
}

// Option configures an Updater.
type Option func(*Updater)

// WithNotifier sets the hook told about every published update.
func WithNotifier(n Notifier) Option {
	return func(u *Updater) { u.notifier = n }
}

// WithMetrics records run, stage and transfer metrics.
func WithMetrics(m *metrics.Pipeline) Option {
	return func(u *Updater) { u.metrics = m }
}

// WithLogger replaces slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(u *Updater) { u.logger = l }
}

// NewUpdater assembles the pipeline around a document store.
func NewUpdater(cfg Config, mapping fields.Mapping, store DocumentStore, opts ...Option) *Updater {
	u := &Updater{
		mapping:      mapping,
		scratchDir:   cfg.ScratchDir,
		stageTimeout: cfg.StageTimeout,
		store:        store,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(u)
	}
	u.fetcher = NewFetcher(store, cfg, u.logger)
	u.mutator = NewMutator(mapping, u.logger)
	u.publisher = NewPublisher(store, cfg, u.logger)
	return u
}

// Mapping returns the field table the updater writes with.
func (u *Updater) Mapping() fields.Mapping {
	return u.mapping
}

// Process runs one request to completion and never panics or returns a bare
// error: the outcome, including any failure, is in the Result.
func (u *Updater) Process(ctx context.Context, req models.UpdateRequest) *Result {
	res := &Result{RunID: uuid.NewString()}
	res.enter(StateReceived)
	logCtx := u.logger.With("documentId", req.DocumentID, "runId", res.RunID)

	id := strings.TrimSpace(req.DocumentID)
	if id == "" {
		return u.fail(logCtx, res, newError(ErrInput, StateReceived, "no file ID provided"))
	}
	logCtx.Info("Update request received.", "idHex", hex.EncodeToString([]byte(req.DocumentID)), "fields", len(req.Fields))

	// Nothing to write means nothing to transfer.
	if len(u.mapping.Match(req.Fields)) == 0 {
		logCtx.Warn("No mappable data found in request. Skipping transfer.")
		res.enter(StateSkipped)
		res.enter(StateCleanup)
		return u.succeed(logCtx, res, OutcomeNoOp)
	}

	path := ScratchPath(u.scratchDir, id)
	outcome, err := u.run(ctx, logCtx, res, id, path, req.Fields)

	res.enter(StateCleanup)
	removeScratch(logCtx, path)

	if err != nil {
		return u.fail(logCtx, res, err)
	}
	return u.succeed(logCtx, res, outcome)
}

func (u *Updater) run(ctx context.Context, logCtx *slog.Logger, res *Result, id, path string, values map[string]string) (Outcome, error) {
	err := u.stage(ctx, res, StateFetching, func(ctx context.Context) error {
		if err := createScratch(path); err != nil {
			return newError(ErrFetch, StateFetching, "%w", err)
		}
		n, err := u.fetcher.Fetch(ctx, id, path)
		u.metrics.AddBytes("download", n)
		return err
	})
	if err != nil {
		return OutcomeFailed, err
	}

	var mutation *Mutation
	err = u.stage(ctx, res, StateMutating, func(ctx context.Context) error {
		var err error
		mutation, err = u.mutator.Mutate(ctx, path, values)
		return err
	})
	if err != nil {
		return OutcomeFailed, err
	}
	if mutation.Status == MutationNoOp {
		res.enter(StateSkipped)
		return OutcomeNoOp, nil
	}
	for _, w := range mutation.Written {
		res.Written = append(res.Written, w.Field)
	}

	err = u.stage(ctx, res, StatePublishing, func(ctx context.Context) error {
		remote, err := u.publisher.Publish(ctx, id, path)
		if err != nil {
			return err
		}
		res.Remote = remote
		u.metrics.AddBytes("upload", remote.Size)
		return nil
	})
	if err != nil {
		return OutcomeFailed, err
	}

	u.notify(ctx, logCtx, res, id)
	return OutcomeUpdated, nil
}

// stage runs fn under the stage timeout. A stage that ran out of time is
// reported as ErrTimeout wrapping the stage's own error.
func (u *Updater) stage(ctx context.Context, res *Result, state State, fn func(context.Context) error) error {
	res.enter(state)
	stageCtx, cancel := context.WithTimeout(ctx, u.stageTimeout)
	defer cancel()

	start := time.Now()
	err := fn(stageCtx)
	u.metrics.ObserveStage(string(state), time.Since(start), err)
	if err == nil {
		return nil
	}
	if errors.Is(stageCtx.Err(), context.DeadlineExceeded) {
		return &Error{Kind: ErrTimeout, Stage: state, Err: err}
	}
	return err
}

// notify runs the completion hook. The document is already published, so a
// failure here is a warning on the result rather than a failed run.
func (u *Updater) notify(ctx context.Context, logCtx *slog.Logger, res *Result, id string) {
	if u.notifier == nil {
		return
	}
	note := models.UpdateNotification{
		DocumentID: id,
		RunID:      res.RunID,
		Fields:     res.Written,
		Version:    res.Remote.Version,
	}
	if err := u.notifier.Notify(ctx, note); err != nil {
		logCtx.Warn("Completion notification failed.", "error", err)
		res.Warnings = append(res.Warnings, fmt.Sprintf("completion notification failed: %v", err))
	}
}

func (u *Updater) succeed(logCtx *slog.Logger, res *Result, outcome Outcome) *Result {
	res.enter(StateSuccess)
	res.Outcome = outcome
	u.metrics.ObserveRun(string(outcome))
	logCtx.Info("Update finished.", "outcome", outcome, "written", res.Written, "states", res.States)
	return res
}

func (u *Updater) fail(logCtx *slog.Logger, res *Result, err error) *Result {
	res.enter(StateFailed)
	res.Outcome = OutcomeFailed
	res.Err = err
	u.metrics.ObserveRun(string(OutcomeFailed))
	logCtx.Error("Update failed.", "error", err, "states", res.States)
	return res
}
