package services

import (
	"context"
	"log/slog"
	"os"

	"github.com/Lllllllleong/sheetupdater/internal/models"
)

// Publisher uploads a mutated local document to its remote identity.
type Publisher struct {
	store     DocumentStore
	minSize   int64
	chunkSize int
	logger    *slog.Logger
}

// NewPublisher creates a Publisher using the size floor and chunk size from cfg.
func NewPublisher(store DocumentStore, cfg Config, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		store:     store,
		minSize:   cfg.MinDocumentSize,
		chunkSize: cfg.ChunkSize,
		logger:    logger,
	}
}

// Publish replaces the remote document with the file at path. A file below
// the minimum size is rejected before any network call. Every failure is an
// ErrPublish.
func (p *Publisher) Publish(ctx context.Context, id, path string) (*models.RemoteDocument, error) {
	logCtx := p.logger.With("documentId", id, "path", path)

	info, err := os.Stat(path)
	if err != nil {
		return nil, newError(ErrPublish, StatePublishing, "failed to stat %s: %w", path, err)
	}
	size := info.Size()
	logCtx.Info("Local file size.", "bytes", size)
	if size < p.minSize {
		logCtx.Error("Refusing to publish a document below the minimum size.", "bytes", size, "minimum", p.minSize)
		return nil, newError(ErrPublish, StatePublishing, "local file is %d bytes, minimum is %d: %w", size, p.minSize, ErrTooSmall)
	}

	meta, err := p.store.GetMetadata(ctx, id)
	if err != nil {
		logCtx.Error("Document metadata check before upload failed.", "error", err)
		return nil, newError(ErrPublish, StatePublishing, "metadata check for %s failed: %w", id, err)
	}
	if meta == nil {
		return nil, newError(ErrPublish, StatePublishing, "metadata check for %s returned no document: %w", id, ErrDocumentNotFound)
	}
	logCtx.Info("Document metadata before upload.", "name", meta.Name, "size", meta.Size, "version", meta.Version)

	f, err := os.Open(path)
	if err != nil {
		return nil, newError(ErrPublish, StatePublishing, "failed to open %s: %w", path, err)
	}
	defer f.Close()

	logCtx.Info("Attempting chunked upload.", "chunkSize", p.chunkSize)
	lastPct := int64(-1)
	remote, err := p.store.Upload(ctx, id, f, size, models.UploadOptions{
		ChunkSize:   p.chunkSize,
		ContentType: models.XLSXMimeType,
		Progress: func(sent int64) {
			pct := sent * 100 / size
			if pct != lastPct {
				lastPct = pct
				logCtx.Info("Upload progress.", "percent", pct)
			}
		},
	})
	if err != nil {
		logCtx.Error("Upload failed.", "error", err)
		return nil, newError(ErrPublish, StatePublishing, "failed to upload %s: %w", id, err)
	}
	if remote == nil {
		logCtx.Error("Upload returned no document handle.")
		return nil, newError(ErrPublish, StatePublishing, "upload of %s returned no document handle", id)
	}

	logCtx.Info("Upload successful.", "name", remote.Name, "version", remote.Version, "size", remote.Size)
	return remote, nil
}
