package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/sheetupdater/internal/models"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// GCSStore keeps documents as objects in a single bucket; the document
// identifier is the object name.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore creates a Storage client for the given bucket.
func NewGCSStore(ctx context.Context, bucket string) (*GCSStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("GCS_BUCKET environment variable must be set")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

// Close releases the underlying Storage client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

// GetMetadata returns the object's attributes.
func (s *GCSStore) GetMetadata(ctx context.Context, id string) (*models.RemoteDocument, error) {
	attrs, err := s.client.Bucket(s.bucket).Object(id).Attrs(ctx)
	if err != nil {
		return nil, s.objectError(id, err)
	}
	return fromObjectAttrs(attrs), nil
}

// Download opens a reader over the object's content.
func (s *GCSStore) Download(ctx context.Context, id string) (io.ReadCloser, error) {
	reader, err := s.client.Bucket(s.bucket).Object(id).NewReader(ctx)
	if err != nil {
		return nil, s.objectError(id, err)
	}
	return reader, nil
}

// Upload replaces the object. The write is conditional on the generation
// seen before the transfer, so a concurrent replacement fails the upload
// instead of being silently overwritten.
func (s *GCSStore) Upload(ctx context.Context, id string, r io.Reader, size int64, opts models.UploadOptions) (*models.RemoteDocument, error) {
	obj := s.client.Bucket(s.bucket).Object(id)
	attrs, err := obj.Attrs(ctx)
	if err != nil {
		return nil, s.objectError(id, err)
	}

	writer := obj.If(storage.Conditions{GenerationMatch: attrs.Generation}).NewWriter(ctx)
	writer.ChunkSize = opts.ChunkSize
	writer.ContentType = opts.ContentType
	if opts.Progress != nil {
		writer.ProgressFunc = opts.Progress
	}

	if _, err := io.Copy(writer, r); err != nil {
		_ = writer.Close()
		slog.Error("Failed to copy content to GCS object", "gcsObject", id, "error", err)
		return nil, fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := writer.Close(); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == 412 {
			return nil, fmt.Errorf("object %s changed during the update: %w", id, err)
		}
		return nil, fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return fromObjectAttrs(writer.Attrs()), nil
}

// List returns up to limit objects in the bucket.
func (s *GCSStore) List(ctx context.Context, limit int) ([]*models.RemoteDocument, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, nil)

	var docs []*models.RemoteDocument
	for len(docs) < limit {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list objects in bucket %s: %w", s.bucket, err)
		}
		docs = append(docs, fromObjectAttrs(attrs))
	}
	return docs, nil
}

func (s *GCSStore) objectError(id string, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("gs://%s/%s: %w", s.bucket, id, models.ErrDocumentNotFound)
	}
	return fmt.Errorf("gs://%s/%s: %w", s.bucket, id, err)
}

func fromObjectAttrs(attrs *storage.ObjectAttrs) *models.RemoteDocument {
	if attrs == nil {
		return &models.RemoteDocument{}
	}
	return &models.RemoteDocument{
		ID:           attrs.Name,
		Name:         attrs.Name,
		MimeType:     attrs.ContentType,
		Size:         attrs.Size,
		Version:      strconv.FormatInt(attrs.Generation, 10),
		ModifiedTime: attrs.Updated,
	}
}
