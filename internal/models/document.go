package models

import (
	"errors"
	"time"
)

// XLSXMimeType is the content type used when re-uploading a workbook.
const XLSXMimeType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ErrDocumentNotFound is returned by every document store when the remote
// identifier does not resolve to a document.
var ErrDocumentNotFound = errors.New("document not found")

// RemoteDocument describes a document held by the storage provider.
// It is returned by metadata lookups and by a completed upload.
type RemoteDocument struct {
	ID           string    `json:"id"`
	Name         string    `json:"name,omitempty"`
	MimeType     string    `json:"mimeType,omitempty"`
	Size         int64     `json:"size,omitempty"`
	Version      string    `json:"version,omitempty"`
	ModifiedTime time.Time `json:"modifiedTime,omitempty"`
}

// UploadOptions controls how a local document is streamed to the provider.
type UploadOptions struct {
	ChunkSize   int
	ContentType string
	// Progress receives the number of bytes sent so far.
	Progress func(sent int64)
}

// TaskRecord represents the persisted status of an asynchronous update run.
type TaskRecord struct {
	ID         string    `firestore:"id" json:"taskId"`
	DocumentID string    `firestore:"documentId,omitempty" json:"documentId,omitempty"`
	Status     string    `firestore:"status" json:"status"`
	Outcome    string    `firestore:"outcome,omitempty" json:"outcome,omitempty"`
	Message    string    `firestore:"message,omitempty" json:"message,omitempty"`
	CreatedAt  time.Time `firestore:"createdAt" json:"createdAt"`
	FinishedAt time.Time `firestore:"finishedAt,omitempty" json:"finishedAt,omitempty"`
}
