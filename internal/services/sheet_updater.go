package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/Lllllllleong/sheetupdater/internal/fields"
	"github.com/Lllllllleong/sheetupdater/internal/gcp"
	"github.com/Lllllllleong/sheetupdater/internal/metrics"
	"github.com/Lllllllleong/sheetupdater/internal/models"
	"github.com/Lllllllleong/sheetupdater/internal/objectstore"
	"github.com/prometheus/client_golang/prometheus"
)

// ErrListUnsupported is returned when the configured backend cannot
// enumerate documents.
var ErrListUnsupported = errors.New("document listing is not supported by this backend")

// SheetUpdaterFunction holds the dependencies shared by every entry point of
// the sheet updater.
type SheetUpdaterFunction struct {
	Config   Config
	Updater  *Updater
	Store    DocumentStore
	Metrics  *metrics.Pipeline
	Registry *prometheus.Registry

	closers []io.Closer
}

// NewSheetUpdater loads configuration from the environment and creates a
// SheetUpdaterFunction.
func NewSheetUpdater(ctx context.Context) (*SheetUpdaterFunction, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return NewSheetUpdaterWithConfig(ctx, cfg)
}

// NewSheetUpdaterWithConfig builds the document store, field table, metrics
// and optional completion hook described by cfg.
func NewSheetUpdaterWithConfig(ctx context.Context, cfg Config) (*SheetUpdaterFunction, error) {
	mapping := fields.Default()
	if cfg.FieldMapFile != "" {
		var err error
		if mapping, err = fields.Load(cfg.FieldMapFile); err != nil {
			return nil, fmt.Errorf("failed to load field map: %w", err)
		}
	}

	store, err := NewStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	f := &SheetUpdaterFunction{
		Config:   cfg,
		Store:    store,
		Registry: prometheus.NewRegistry(),
	}
	if c, ok := store.(io.Closer); ok {
		f.closers = append(f.closers, c)
	}
	f.Metrics = metrics.NewPipeline(f.Registry)

	opts := []Option{WithMetrics(f.Metrics)}
	if cfg.WorkflowID != "" {
		notifier, err := gcp.NewWorkflowNotifier(ctx, cfg.ProjectID, cfg.WorkflowLocation, cfg.WorkflowID)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to create workflow notifier: %w", err)
		}
		f.closers = append(f.closers, notifier)
		opts = append(opts, WithNotifier(notifier))
	}

	f.Updater = NewUpdater(cfg, mapping, store, opts...)
	slog.Info("Sheet updater initialised.",
		"backend", cfg.Backend,
		"sheet", mapping.Sheet(),
		"fields", mapping.Fields(),
		"workflow", cfg.WorkflowID != "",
	)
	return f, nil
}

// NewStore creates the DocumentStore selected by cfg.Backend.
func NewStore(ctx context.Context, cfg Config) (DocumentStore, error) {
	switch cfg.Backend {
	case BackendDrive:
		service, err := gcp.NewDriveService(ctx, cfg.Drive)
		if err != nil {
			return nil, err
		}
		return gcp.NewDriveStore(service), nil
	case BackendGCS:
		return gcp.NewGCSStore(ctx, cfg.GCSBucket)
	case BackendS3:
		return objectstore.NewMinioStore(cfg.S3)
	default:
		return nil, fmt.Errorf("unknown document backend %q", cfg.Backend)
	}
}

// Process runs one update request.
func (f *SheetUpdaterFunction) Process(ctx context.Context, req models.UpdateRequest) *Result {
	return f.Updater.Process(ctx, req)
}

// CheckAccess confirms the document can be reached with the configured
// credentials.
func (f *SheetUpdaterFunction) CheckAccess(ctx context.Context, id string) (*models.RemoteDocument, error) {
	if strings.TrimSpace(id) == "" {
		return nil, newError(ErrInput, StateReceived, "no file ID provided")
	}
	return f.Store.GetMetadata(ctx, id)
}

// ListDocuments returns up to limit documents visible to the backend.
func (f *SheetUpdaterFunction) ListDocuments(ctx context.Context, limit int) ([]*models.RemoteDocument, error) {
	lister, ok := f.Store.(DocumentLister)
	if !ok {
		return nil, ErrListUnsupported
	}
	return lister.List(ctx, limit)
}

// InspectRemote downloads a document into its own scratch file, inspects it
// and removes the file again. The download skips the size floor so that a
// truncated document can still be reported on.
func (f *SheetUpdaterFunction) InspectRemote(ctx context.Context, id string) (*Report, error) {
	if strings.TrimSpace(id) == "" {
		return nil, newError(ErrInput, StateReceived, "no file ID provided")
	}
	logCtx := slog.With("documentId", id)

	path := inspectPath(f.Config.ScratchDir, id)
	defer removeScratch(logCtx, path)
	if err := createScratch(path); err != nil {
		return nil, newError(ErrFetch, StateFetching, "%w", err)
	}

	cfg := f.Config
	cfg.MinDocumentSize = 0
	fetchCtx, cancel := context.WithTimeout(ctx, cfg.StageTimeout)
	defer cancel()
	if _, err := NewFetcher(f.Store, cfg, logCtx).Fetch(fetchCtx, id, path); err != nil {
		return nil, err
	}

	report := Inspect(path, f.Config.MinDocumentSize)
	logCtx.Info("Inspection complete.", "ok", report.OK, "issues", len(report.Issues))
	return report, nil
}

// Close releases every client the function created.
func (f *SheetUpdaterFunction) Close() error {
	var errs []error
	for _, c := range f.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
