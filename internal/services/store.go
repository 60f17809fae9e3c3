package services

import (
	"context"
	"io"

	"github.com/Lllllllleong/sheetupdater/internal/models"
)

// DocumentStore is the storage provider boundary. Implementations live in
// internal/gcp (Drive, Cloud Storage) and internal/objectstore (S3). Every
// implementation reports a missing document as models.ErrDocumentNotFound.
type DocumentStore interface {
	// GetMetadata confirms the document exists and describes it.
	GetMetadata(ctx context.Context, id string) (*models.RemoteDocument, error)

	// Download opens a stream over the document's bytes.
	Download(ctx context.Context, id string) (io.ReadCloser, error)

	// Upload replaces the document's bytes and returns the updated handle.
	Upload(ctx context.Context, id string, r io.Reader, size int64, opts models.UploadOptions) (*models.RemoteDocument, error)
}

// DocumentLister is implemented by stores that can enumerate documents.
type DocumentLister interface {
	List(ctx context.Context, limit int) ([]*models.RemoteDocument, error)
}

// Notifier is told about every document that was updated and published.
type Notifier interface {
	Notify(ctx context.Context, note models.UpdateNotification) error
}
