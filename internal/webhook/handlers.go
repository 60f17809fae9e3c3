package webhook

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Lllllllleong/sheetupdater/internal/models"
	"github.com/Lllllllleong/sheetupdater/internal/services"
	"github.com/Lllllllleong/sheetupdater/internal/tasks"
)

const listFilesLimit = 10

// App is the pipeline surface the handlers drive.
// *services.SheetUpdaterFunction implements it.
type App interface {
	Process(ctx context.Context, req models.UpdateRequest) *services.Result
	CheckAccess(ctx context.Context, id string) (*models.RemoteDocument, error)
	ListDocuments(ctx context.Context, limit int) ([]*models.RemoteDocument, error)
	InspectRemote(ctx context.Context, id string) (*services.Report, error)
}

// Handlers serves the HTTP entry points of the sheet updater.
type Handlers struct {
	app      App
	queue    *tasks.Queue
	idFields []string
}

// New creates the handlers. queue may be nil, in which case the async
// endpoints answer 503.
func New(app App, queue *tasks.Queue, idFields []string) *Handlers {
	return &Handlers{app: app, queue: queue, idFields: idFields}
}

// Webhook answers health checks on GET and runs a synchronous update on POST.
// The body may be form-encoded, raw url-encoded text or JSON.
func (h *Handlers) Webhook(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		writeJSON(w, http.StatusOK, models.StatusResponse{Status: "ok", Message: "API is running"})
		return
	case http.MethodPost:
	default:
		writeStatus(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	slog.Info("Webhook request received.", "contentType", r.Header.Get("Content-Type"), "contentLength", r.ContentLength)
	values, err := DecodeRequest(w, r)
	if err != nil {
		badPayload(w, err)
		return
	}
	h.process(w, r, values)
}

// UpdateExcel runs a synchronous update from a JSON body only.
func (h *Handlers) UpdateExcel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeStatus(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var raw json.RawMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&raw); err != nil {
		slog.Warn("Could not decode request body", "error", err)
		badPayload(w, ErrNoData)
		return
	}
	values, err := nonEmpty(DecodeJSON(raw))
	if err != nil {
		badPayload(w, err)
		return
	}
	h.process(w, r, values)
}

func (h *Handlers) process(w http.ResponseWriter, r *http.Request, values map[string]string) {
	req := ExtractRequest(values, h.idFields)
	slog.Info("Processed webhook data.",
		"documentId", req.DocumentID,
		"idHex", hex.EncodeToString([]byte(req.DocumentID)),
		"fields", len(req.Fields),
	)
	writeResult(w, h.app.Process(r.Context(), req))
}

// UpdateAsync accepts an update, queues it and returns 202 with a task id
// that TaskStatus can be polled with.
func (h *Handlers) UpdateAsync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeStatus(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.queue == nil {
		writeStatus(w, http.StatusServiceUnavailable, "asynchronous updates are not enabled")
		return
	}

	values, err := DecodeRequest(w, r)
	if err != nil {
		badPayload(w, err)
		return
	}
	req := ExtractRequest(values, h.idFields)
	if req.DocumentID == "" {
		writeStatus(w, http.StatusBadRequest, "No file ID provided")
		return
	}

	task, err := h.queue.Submit(r.Context(), req)
	if errors.Is(err, tasks.ErrQueueFull) {
		writeStatus(w, http.StatusServiceUnavailable, "update queue is full, retry later")
		return
	}
	if err != nil {
		slog.Error("Failed to queue update.", "documentId", req.DocumentID, "error", err)
		writeStatus(w, http.StatusInternalServerError, err.Error())
		return
	}

	slog.Info("Update queued.", "documentId", req.DocumentID, "taskId", task.ID)
	writeJSON(w, http.StatusAccepted, models.StatusResponse{
		Status:  "accepted",
		Message: "Update accepted",
		TaskID:  task.ID,
	})
}

// TaskStatus reports the record of an asynchronous update. The task id is
// read from the task_id query parameter.
func (h *Handlers) TaskStatus(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		writeStatus(w, http.StatusServiceUnavailable, "asynchronous updates are not enabled")
		return
	}
	id := r.URL.Query().Get("task_id")
	if id == "" {
		writeStatus(w, http.StatusBadRequest, "No task ID provided")
		return
	}

	rec, err := h.queue.Lookup(r.Context(), id)
	if errors.Is(err, tasks.ErrTaskNotFound) {
		writeStatus(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		slog.Error("Task lookup failed.", "taskId", id, "error", err)
		writeStatus(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// TestFileAccess checks that the document named by file_id is reachable.
func (h *Handlers) TestFileAccess(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("file_id")
	slog.Info("Testing file access.", "documentId", id)

	doc, err := h.app.CheckAccess(r.Context(), id)
	if err != nil {
		slog.Error("Test file access error.", "documentId", id, "error", err)
		writeJSON(w, services.StatusCode(err), models.FileAccessResponse{Success: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, models.FileAccessResponse{Success: true, FileName: doc.Name})
}

// ListFiles lists the first documents visible to the configured credentials.
func (h *Handlers) ListFiles(w http.ResponseWriter, r *http.Request) {
	docs, err := h.app.ListDocuments(r.Context(), listFilesLimit)
	if err != nil {
		slog.Error("List files error.", "error", err)
		code := http.StatusInternalServerError
		if errors.Is(err, services.ErrListUnsupported) {
			code = http.StatusNotImplemented
		}
		writeJSON(w, code, models.ListFilesResponse{Error: err.Error()})
		return
	}
	if docs == nil {
		docs = []*models.RemoteDocument{}
	}
	writeJSON(w, http.StatusOK, models.ListFilesResponse{Files: docs})
}

// InspectDocument downloads the document named by file_id and returns its
// structural report.
func (h *Handlers) InspectDocument(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("file_id")
	report, err := h.app.InspectRemote(r.Context(), id)
	if err != nil {
		slog.Error("Inspection failed.", "documentId", id, "error", err)
		writeStatus(w, services.StatusCode(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func writeResult(w http.ResponseWriter, res *services.Result) {
	switch res.Outcome {
	case services.OutcomeUpdated:
		writeJSON(w, http.StatusOK, models.StatusResponse{
			Status:   "success",
			Message:  "Excel file updated successfully",
			Warnings: res.Warnings,
		})
	case services.OutcomeNoOp:
		writeJSON(w, http.StatusOK, models.StatusResponse{Status: "no-op", Message: "No updates were made"})
	default:
		writeStatus(w, services.StatusCode(res.Err), res.Err.Error())
	}
}

func badPayload(w http.ResponseWriter, err error) {
	slog.Warn("Rejecting webhook payload.", "error", err)
	msg := "No data provided"
	if !errors.Is(err, ErrNoData) {
		msg = err.Error()
	}
	writeStatus(w, http.StatusBadRequest, msg)
}

func writeStatus(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, models.StatusResponse{Status: "error", Message: message})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}
