// Package objectstore keeps documents in an S3-compatible bucket.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/Lllllllleong/sheetupdater/internal/models"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// minPartSize is the smallest multipart part S3 accepts.
const minPartSize = 5 << 20

// MinioStore transfers documents through the MinIO client. The document
// identifier is the object key.
type MinioStore struct {
	client *minio.Client
	bucket string
}

func NewMinioStore(cfg Config) (*MinioStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid object store config: %w", err)
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return NewMinioStoreWithClient(client, cfg.Bucket)
}

func NewMinioStoreWithClient(client *minio.Client, bucket string) (*MinioStore, error) {
	if client == nil {
		return nil, fmt.Errorf("minio client is required")
	}
	return &MinioStore{client: client, bucket: bucket}, nil
}

func (s *MinioStore) GetMetadata(ctx context.Context, id string) (*models.RemoteDocument, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("minio store not initialized")
	}
	info, err := s.client.StatObject(ctx, s.bucket, id, minio.StatObjectOptions{})
	if err != nil {
		return nil, s.objectError(id, err)
	}
	return fromObjectInfo(info), nil
}

func (s *MinioStore) Download(ctx context.Context, id string) (io.ReadCloser, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("minio store not initialized")
	}
	obj, err := s.client.GetObject(ctx, s.bucket, id, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.objectError(id, err)
	}
	// GetObject is lazy; Stat surfaces a missing key before any bytes are read.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, s.objectError(id, err)
	}
	return obj, nil
}

func (s *MinioStore) Upload(ctx context.Context, id string, r io.Reader, size int64, opts models.UploadOptions) (*models.RemoteDocument, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("minio store not initialized")
	}
	putOpts := minio.PutObjectOptions{
		ContentType: opts.ContentType,
		PartSize:    uint64(max(opts.ChunkSize, minPartSize)),
	}
	if opts.Progress != nil {
		putOpts.Progress = &progressReader{report: opts.Progress}
	}

	info, err := s.client.PutObject(ctx, s.bucket, id, r, size, putOpts)
	if err != nil {
		return nil, s.objectError(id, err)
	}
	return &models.RemoteDocument{
		ID:           info.Key,
		Name:         info.Key,
		MimeType:     opts.ContentType,
		Size:         info.Size,
		Version:      versionOf(info.VersionID, info.ETag),
		ModifiedTime: info.LastModified,
	}, nil
}

func (s *MinioStore) List(ctx context.Context, limit int) ([]*models.RemoteDocument, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("minio store not initialized")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var docs []*models.RemoteDocument
	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Recursive: true}) {
		if info.Err != nil {
			return nil, fmt.Errorf("failed to list objects in bucket %s: %w", s.bucket, info.Err)
		}
		docs = append(docs, fromObjectInfo(info))
		if len(docs) >= limit {
			break
		}
	}
	return docs, nil
}

func (s *MinioStore) objectError(id string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("s3://%s/%s: %w", s.bucket, id, models.ErrDocumentNotFound)
	}
	return fmt.Errorf("s3://%s/%s: %w", s.bucket, id, err)
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}

func fromObjectInfo(info minio.ObjectInfo) *models.RemoteDocument {
	return &models.RemoteDocument{
		ID:           info.Key,
		Name:         info.Key,
		MimeType:     info.ContentType,
		Size:         info.Size,
		Version:      versionOf(info.VersionID, info.ETag),
		ModifiedTime: info.LastModified,
	}
}

func versionOf(versionID, etag string) string {
	if versionID != "" {
		return versionID
	}
	return etag
}

// progressReader receives the bytes minio has uploaded so far; minio reads
// from it as parts complete.
type progressReader struct {
	sent   int64
	report func(sent int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	p.sent += int64(len(b))
	p.report(p.sent)
	return len(b), nil
}
