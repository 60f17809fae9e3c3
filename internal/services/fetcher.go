package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Fetcher downloads a remote document into a local path.
type Fetcher struct {
	store     DocumentStore
	minSize   int64
	chunkSize int
	logger    *slog.Logger
}

// NewFetcher creates a Fetcher using the size floor and chunk size from cfg.
func NewFetcher(store DocumentStore, cfg Config, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		store:     store,
		minSize:   cfg.MinDocumentSize,
		chunkSize: cfg.ChunkSize,
		logger:    logger,
	}
}

// Fetch streams the document into destPath, replacing any existing content,
// and returns the number of bytes written. Every failure is an ErrFetch.
func (f *Fetcher) Fetch(ctx context.Context, id, destPath string) (int64, error) {
	logCtx := f.logger.With("documentId", id, "path", destPath)
	if strings.TrimSpace(id) == "" {
		return 0, newError(ErrFetch, StateFetching, "document id must not be empty")
	}

	logCtx.Info("About to download document.")

	// The existence check is diagnostic only; the download decides.
	meta, err := f.store.GetMetadata(ctx, id)
	switch {
	case err != nil:
		logCtx.Warn("Document metadata check failed.", "error", err)
	case meta == nil:
		logCtx.Warn("Document metadata check returned nothing.")
	default:
		logCtx.Info("Document exists.", "name", meta.Name, "size", meta.Size, "version", meta.Version)
	}

	body, err := f.store.Download(ctx, id)
	if err != nil {
		logCtx.Error("Download failed.", "error", err)
		return 0, newError(ErrFetch, StateFetching, "failed to download %s: %w", id, err)
	}
	defer body.Close()

	out, err := os.OpenFile(destPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, newError(ErrFetch, StateFetching, "failed to open scratch file %s: %w", destPath, err)
	}

	written, copyErr := copyChunks(ctx, out, body, f.chunkSize)
	closeErr := out.Close()
	if copyErr != nil {
		logCtx.Error("Download interrupted.", "bytes", written, "error", copyErr)
		return written, newError(ErrFetch, StateFetching, "failed to copy document to %s: %w", destPath, copyErr)
	}
	if closeErr != nil {
		return written, newError(ErrFetch, StateFetching, "failed to close scratch file %s: %w", destPath, closeErr)
	}

	if meta != nil && meta.Size > 0 && written != meta.Size {
		logCtx.Error("Download size does not match metadata.", "bytes", written, "expected", meta.Size)
		return written, newError(ErrFetch, StateFetching, "got %d of %d bytes: %w", written, meta.Size, ErrIncompleteTransfer)
	}
	if written < f.minSize {
		logCtx.Error("Downloaded document is below the minimum size.", "bytes", written, "minimum", f.minSize)
		return written, newError(ErrFetch, StateFetching, "downloaded %d bytes, minimum is %d: %w", written, f.minSize, ErrTooSmall)
	}

	logCtx.Info("Download complete.", "bytes", written)
	return written, nil
}

// copyChunks copies src to dst one chunk at a time, checking ctx between chunks.
func copyChunks(ctx context.Context, dst io.Writer, src io.Reader, chunkSize int) (int64, error) {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	buf := make([]byte, chunkSize)

	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			m, werr := dst.Write(buf[:n])
			written += int64(m)
			if werr != nil {
				return written, werr
			}
			if m != n {
				return written, io.ErrShortWrite
			}
		}
		if errors.Is(err, io.EOF) {
			return written, nil
		}
		if err != nil {
			return written, fmt.Errorf("read after %d bytes: %w", written, err)
		}
	}
}
