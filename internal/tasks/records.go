package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/sheetupdater/internal/models"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Task statuses as persisted in a TaskRecord.
const (
	StatusQueued  = "QUEUED"
	StatusRunning = "RUNNING"
	StatusDone    = "DONE"
	StatusFailed  = "FAILED"
)

// ErrTaskNotFound is returned when no record exists for a task id.
var ErrTaskNotFound = errors.New("task not found")

// Recorder persists task records so completion can be observed after the
// submitting request has returned.
type Recorder interface {
	Create(ctx context.Context, rec models.TaskRecord) error
	UpdateStatus(ctx context.Context, id, status string) error
	Finish(ctx context.Context, id, status, outcome, message string) error
	Get(ctx context.Context, id string) (*models.TaskRecord, error)
}

// MemoryRecorder keeps task records in process memory.
type MemoryRecorder struct {
	mu      sync.Mutex
	records map[string]models.TaskRecord
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{records: map[string]models.TaskRecord{}}
}

func (r *MemoryRecorder) Create(_ context.Context, rec models.TaskRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.ID] = rec
	return nil
}

func (r *MemoryRecorder) UpdateStatus(_ context.Context, id, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, ErrTaskNotFound)
	}
	rec.Status = status
	r.records[id] = rec
	return nil
}

func (r *MemoryRecorder) Finish(_ context.Context, id, status, outcome, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, ErrTaskNotFound)
	}
	rec.Status = status
	rec.Outcome = outcome
	rec.Message = message
	rec.FinishedAt = time.Now()
	r.records[id] = rec
	return nil
}

func (r *MemoryRecorder) Get(_ context.Context, id string) (*models.TaskRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, ErrTaskNotFound)
	}
	return &rec, nil
}

// FirestoreRecorder stores one document per task in a Firestore collection,
// so any instance can answer a status lookup.
type FirestoreRecorder struct {
	tasks *firestore.CollectionRef
}

func NewFirestoreRecorder(tasks *firestore.CollectionRef) *FirestoreRecorder {
	return &FirestoreRecorder{tasks: tasks}
}

func (r *FirestoreRecorder) Create(ctx context.Context, rec models.TaskRecord) error {
	if _, err := r.tasks.Doc(rec.ID).Set(ctx, rec); err != nil {
		return fmt.Errorf("failed to create task record %s: %w", rec.ID, err)
	}
	return nil
}

func (r *FirestoreRecorder) UpdateStatus(ctx context.Context, id, status string) error {
	return r.update(ctx, id, []firestore.Update{
		{Path: "status", Value: status},
	})
}

func (r *FirestoreRecorder) Finish(ctx context.Context, id, status, outcome, message string) error {
	updates := []firestore.Update{
		{Path: "status", Value: status},
		{Path: "outcome", Value: outcome},
		{Path: "finishedAt", Value: firestore.ServerTimestamp},
	}
	if message != "" {
		updates = append(updates, firestore.Update{Path: "message", Value: message})
	}
	return r.update(ctx, id, updates)
}

func (r *FirestoreRecorder) Get(ctx context.Context, id string) (*models.TaskRecord, error) {
	snap, err := r.tasks.Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, fmt.Errorf("task %s: %w", id, ErrTaskNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read task record %s: %w", id, err)
	}
	var rec models.TaskRecord
	if err := snap.DataTo(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode task record %s: %w", id, err)
	}
	return &rec, nil
}

func (r *FirestoreRecorder) update(ctx context.Context, id string, updates []firestore.Update) error {
	_, err := r.tasks.Doc(id).Update(ctx, updates)
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("task %s: %w", id, ErrTaskNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update task record %s: %w", id, err)
	}
	return nil
}
