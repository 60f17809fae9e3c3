package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/Lllllllleong/sheetupdater/internal/fields"
	"github.com/Lllllllleong/sheetupdater/internal/models"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

// memoryStore is an in-memory DocumentStore that counts every call.
type memoryStore struct {
	mu   sync.Mutex
	docs map[string][]byte
	gen  map[string]int

	metaErr     error
	downloadErr error
	uploadErr   error
	// serve, when positive, truncates downloads to that many bytes while
	// metadata keeps reporting the full size.
	serve int
	// block makes Download wait for the context to end; blockUpload does the
	// same for Upload.
	block       bool
	blockUpload bool
	// nilUpload makes Upload succeed without returning a document handle.
	nilUpload bool

	metadataCalls int
	downloadCalls int
	uploadCalls   int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{docs: map[string][]byte{}, gen: map[string]int{}}
}

func (s *memoryStore) put(id string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[id] = data
	s.gen[id]++
}

func (s *memoryStore) get(id string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[id]
}

func (s *memoryStore) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metadataCalls + s.downloadCalls + s.uploadCalls
}

func (s *memoryStore) describe(id string) *models.RemoteDocument {
	return &models.RemoteDocument{
		ID:       id,
		Name:     id + ".xlsx",
		MimeType: models.XLSXMimeType,
		Size:     int64(len(s.docs[id])),
		Version:  strconv.Itoa(s.gen[id]),
	}
}

func (s *memoryStore) GetMetadata(_ context.Context, id string) (*models.RemoteDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadataCalls++
	if s.metaErr != nil {
		return nil, s.metaErr
	}
	if _, ok := s.docs[id]; !ok {
		return nil, fmt.Errorf("document %q: %w", id, models.ErrDocumentNotFound)
	}
	return s.describe(id), nil
}

func (s *memoryStore) Download(ctx context.Context, id string) (io.ReadCloser, error) {
	s.mu.Lock()
	s.downloadCalls++
	data, ok := s.docs[id]
	downloadErr, block, serve := s.downloadErr, s.block, s.serve
	s.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if downloadErr != nil {
		return nil, downloadErr
	}
	if !ok {
		return nil, fmt.Errorf("document %q: %w", id, models.ErrDocumentNotFound)
	}
	if serve > 0 && serve < len(data) {
		data = data[:serve]
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *memoryStore) Upload(ctx context.Context, id string, r io.Reader, size int64, opts models.UploadOptions) (*models.RemoteDocument, error) {
	s.mu.Lock()
	s.uploadCalls++
	uploadErr, block, nilUpload := s.uploadErr, s.blockUpload, s.nilUpload
	s.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if uploadErr != nil {
		return nil, uploadErr
	}
	if nilUpload {
		return nil, nil
	}

	var buf bytes.Buffer
	chunk := make([]byte, max(opts.ChunkSize, 1))
	for {
		n, err := r.Read(chunk)
		buf.Write(chunk[:n])
		if n > 0 && opts.Progress != nil {
			opts.Progress(int64(buf.Len()))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	if int64(buf.Len()) != size {
		return nil, fmt.Errorf("upload of %q sent %d of %d bytes", id, buf.Len(), size)
	}

	s.put(id, buf.Bytes())
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.describe(id), nil
}

// recordingNotifier captures notifications and optionally fails them.
type recordingNotifier struct {
	notes []models.UpdateNotification
	err   error
}

func (n *recordingNotifier) Notify(_ context.Context, note models.UpdateNotification) error {
	n.notes = append(n.notes, note)
	return n.err
}

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ScratchDir = t.TempDir()
	cfg.MinDocumentSize = 512
	cfg.ChunkSize = 1024
	cfg.StageTimeout = 5 * time.Second
	return cfg
}

// newWorkbook returns the bytes of a workbook containing the given sheet
// with a few unrelated cells already filled in.
func newWorkbook(t *testing.T, sheet string) []byte {
	t.Helper()
	wb := excelize.NewFile()
	defer wb.Close()

	require.NoError(t, wb.SetSheetName("Sheet1", sheet))
	require.NoError(t, wb.SetCellStr(sheet, "B6", "Branch"))
	require.NoError(t, wb.SetCellStr(sheet, "B8", "Project Number"))
	require.NoError(t, wb.SetCellStr(sheet, "B29", "Project Name"))
	require.NoError(t, wb.MergeCell(sheet, "D29", "G29"))
	require.NoError(t, wb.MergeCell(sheet, "D8", "F8"))
	require.NoError(t, wb.MergeCell(sheet, "D6", "G6"))

	buf, err := wb.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, data, 0o600))
}

func cellValue(t *testing.T, data []byte, cell string) string {
	t.Helper()
	wb, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer wb.Close()
	v, err := wb.GetCellValue(fields.DefaultSheet, cell)
	require.NoError(t, err)
	return v
}

// allValues returns every non-empty cell value in the default sheet.
func allValues(t *testing.T, data []byte) []string {
	t.Helper()
	wb, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer wb.Close()
	rows, err := wb.GetRows(fields.DefaultSheet)
	require.NoError(t, err)

	var out []string
	for _, row := range rows {
		for _, v := range row {
			if v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}

func assertScratchEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries, "scratch directory should be empty")
}
