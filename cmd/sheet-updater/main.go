package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/funcframework"
	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/sheetupdater/internal/gcp"
	"github.com/Lllllllleong/sheetupdater/internal/models"
	"github.com/Lllllllleong/sheetupdater/internal/services"
	"github.com/Lllllllleong/sheetupdater/internal/tasks"
	"github.com/Lllllllleong/sheetupdater/internal/webhook"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	updaterInstance *services.SheetUpdaterFunction
	handlers        *webhook.Handlers
	once            sync.Once
	initErr         error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("HandleWebhook", withHandlers(func(h *webhook.Handlers) http.HandlerFunc { return h.Webhook }))
	functions.HTTP("HandleUpdateExcel", withHandlers(func(h *webhook.Handlers) http.HandlerFunc { return h.UpdateExcel }))
	functions.HTTP("HandleUpdateAsync", withHandlers(func(h *webhook.Handlers) http.HandlerFunc { return h.UpdateAsync }))
	functions.HTTP("HandleTaskStatus", withHandlers(func(h *webhook.Handlers) http.HandlerFunc { return h.TaskStatus }))
	functions.HTTP("HandleTestFileAccess", withHandlers(func(h *webhook.Handlers) http.HandlerFunc { return h.TestFileAccess }))
	functions.HTTP("HandleListFiles", withHandlers(func(h *webhook.Handlers) http.HandlerFunc { return h.ListFiles }))
	functions.HTTP("HandleInspectDocument", withHandlers(func(h *webhook.Handlers) http.HandlerFunc { return h.InspectDocument }))
	functions.HTTP("HandleMetrics", handleMetrics)

	// Pub/Sub delivery of the same payloads the webhook accepts.
	functions.CloudEvent("ProcessUpdateEvent", processUpdateEvent)
}

// main starts a local server. Deployed functions are invoked by the
// framework through the registrations in init.
func main() {
	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()

	port := gcp.GetEnv("PORT", "8080")
	slog.Info("Starting local functions server.", "port", port)
	if err := funcframework.Start(port); err != nil {
		slog.Error("Functions server stopped", "error", err)
		os.Exit(1)
	}
}

// setup builds the shared updater, task queue and handlers exactly once.
func setup() error {
	once.Do(func() {
		ctx := context.Background()
		updaterInstance, initErr = services.NewSheetUpdater(ctx)
		if initErr != nil {
			return
		}
		cfg := updaterInstance.Config

		var recorder tasks.Recorder
		if cfg.ProjectID != "" {
			coll, _, err := gcp.OpenTaskCollection(ctx, cfg.ProjectID, cfg.TaskCollection)
			if err != nil {
				initErr = fmt.Errorf("failed to create task recorder: %w", err)
				return
			}
			recorder = tasks.NewFirestoreRecorder(coll)
		}
		queue := tasks.NewQueue(updaterInstance, recorder, cfg.AsyncMaxConcurrent, cfg.AsyncRunTimeout, updaterInstance.Metrics)
		handlers = webhook.New(updaterInstance, queue, cfg.IDFields)
	})
	return initErr
}

func withHandlers(pick func(*webhook.Handlers) http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := setup(); err != nil {
			slog.Error("Critical: SheetUpdater initialization failed", "error", err)
			http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
			return
		}
		pick(handlers)(w, r)
	}
}

func handleMetrics(w http.ResponseWriter, r *http.Request) {
	if err := setup(); err != nil {
		slog.Error("Critical: SheetUpdater initialization failed", "error", err)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}
	promhttp.HandlerFor(updaterInstance.Registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
}

// processUpdateEvent runs an update delivered through Pub/Sub. Payloads that
// can never succeed are logged and acknowledged; pipeline failures are
// returned so the delivery is marked failed.
func processUpdateEvent(ctx context.Context, e cloudevents.Event) error {
	if err := setup(); err != nil {
		slog.Error("Critical error during function initialization", "error", err)
		return err
	}

	var msg models.PubSubMessage
	if err := json.Unmarshal(e.Data(), &msg); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "eventId", e.ID())
		return nil
	}

	values, err := webhook.DecodeBody(msg.Message.Data)
	if err != nil {
		slog.Warn("Discarding message without usable data.", "messageId", msg.Message.ID, "error", err)
		return nil
	}
	req := webhook.ExtractRequest(values, updaterInstance.Config.IDFields)

	res := updaterInstance.Process(ctx, req)
	if res.Err == nil {
		return nil
	}
	if errors.Is(res.Err, services.ErrInput) {
		slog.Warn("Discarding invalid update message.", "messageId", msg.Message.ID, "error", res.Err)
		return nil
	}
	return fmt.Errorf("update of %s failed: %w", req.DocumentID, res.Err)
}
