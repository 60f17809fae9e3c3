package services

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Lllllllleong/sheetupdater/internal/fields"
	"github.com/Lllllllleong/sheetupdater/internal/metrics"
	"github.com/Lllllllleong/sheetupdater/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func newTestUpdater(t *testing.T, store *memoryStore, opts ...Option) (*Updater, Config) {
	t.Helper()
	cfg := testConfig(t)
	return NewUpdater(cfg, fields.Default(), store, opts...), cfg
}

func TestProcessUpdatesRecognisedField(t *testing.T) {
	store := newMemoryStore()
	store.put("abc", newWorkbook(t, fields.DefaultSheet))
	u, cfg := newTestUpdater(t, store)

	res := u.Process(context.Background(), models.UpdateRequest{
		DocumentID: "abc",
		Fields:     map[string]string{"docId": "abc", "projectName": "Tower One"},
	})

	require.NoError(t, res.Err)
	assert.Equal(t, OutcomeUpdated, res.Outcome)
	assert.Equal(t, []string{"projectName"}, res.Written)
	assert.Equal(t, []State{StateReceived, StateFetching, StateMutating, StatePublishing, StateCleanup, StateSuccess}, res.States)
	require.NotNil(t, res.Remote)
	assert.Equal(t, "2", res.Remote.Version)
	assert.NotEmpty(t, res.RunID)

	assert.Equal(t, "Tower One", cellValue(t, store.get("abc"), "D29"))
	assert.Equal(t, 1, store.uploadCalls)
	assertScratchEmpty(t, cfg.ScratchDir)
}

func TestProcessNeverWritesUnrecognisedFields(t *testing.T) {
	store := newMemoryStore()
	store.put("abc", newWorkbook(t, fields.DefaultSheet))
	u, _ := newTestUpdater(t, store)

	res := u.Process(context.Background(), models.UpdateRequest{
		DocumentID: "abc",
		Fields: map[string]string{
			"projectNumber": "P-1042",
			"branch":        "North",
			"clientName":    "should-not-appear",
			"D29":           "also-not",
		},
	})
	require.NoError(t, res.Err)

	doc := store.get("abc")
	assert.Equal(t, "P-1042", cellValue(t, doc, "D8"))
	assert.Equal(t, "North", cellValue(t, doc, "D6"))
	assert.Empty(t, cellValue(t, doc, "D29"))

	values := allValues(t, doc)
	assert.NotContains(t, values, "should-not-appear")
	assert.NotContains(t, values, "also-not")
}

func TestProcessRepeatedUpdateIsIdempotent(t *testing.T) {
	store := newMemoryStore()
	store.put("abc", newWorkbook(t, fields.DefaultSheet))
	u, _ := newTestUpdater(t, store)
	req := models.UpdateRequest{
		DocumentID: "abc",
		Fields:     map[string]string{"projectName": "Tower One", "branch": "South"},
	}

	first := u.Process(context.Background(), req)
	require.NoError(t, first.Err)
	afterFirst := allValues(t, store.get("abc"))

	second := u.Process(context.Background(), req)
	require.NoError(t, second.Err)
	assert.Equal(t, OutcomeUpdated, second.Outcome)
	assert.Equal(t, afterFirst, allValues(t, store.get("abc")))
	assert.Equal(t, "Tower One", cellValue(t, store.get("abc"), "D29"))

	third := u.Process(context.Background(), models.UpdateRequest{
		DocumentID: "abc",
		Fields:     map[string]string{"projectName": "Tower Two"},
	})
	require.NoError(t, third.Err)
	assert.Equal(t, "Tower Two", cellValue(t, store.get("abc"), "D29"))
	assert.Equal(t, "South", cellValue(t, store.get("abc"), "D6"))
}

func TestProcessNoRecognisedFieldsMakesNoCalls(t *testing.T) {
	tests := map[string]map[string]string{
		"only identifier":  {"docId": "abc"},
		"empty values":     {"docId": "abc", "projectName": "", "branch": ""},
		"unknown fields":   {"docId": "abc", "colour": "blue"},
		"nil field values": nil,
	}

	for name, values := range tests {
		t.Run(name, func(t *testing.T) {
			store := newMemoryStore()
			store.put("abc", newWorkbook(t, fields.DefaultSheet))
			u, cfg := newTestUpdater(t, store)

			res := u.Process(context.Background(), models.UpdateRequest{DocumentID: "abc", Fields: values})

			require.NoError(t, res.Err)
			assert.Equal(t, OutcomeNoOp, res.Outcome)
			assert.Equal(t, []State{StateReceived, StateSkipped, StateCleanup, StateSuccess}, res.States)
			assert.Zero(t, store.calls())
			assertScratchEmpty(t, cfg.ScratchDir)
		})
	}
}

func TestProcessEmptyIdentifierIsInputError(t *testing.T) {
	store := newMemoryStore()
	u, cfg := newTestUpdater(t, store)

	for _, id := range []string{"", "   "} {
		res := u.Process(context.Background(), models.UpdateRequest{
			DocumentID: id,
			Fields:     map[string]string{"projectName": "Tower One"},
		})

		assert.Equal(t, OutcomeFailed, res.Outcome)
		assert.ErrorIs(t, res.Err, ErrInput)
		assert.Equal(t, http.StatusBadRequest, StatusCode(res.Err))
		assert.Equal(t, []State{StateReceived, StateFailed}, res.States)
	}
	assert.Zero(t, store.calls())
	assertScratchEmpty(t, cfg.ScratchDir)
}

func TestProcessMissingDocumentIsFetchError(t *testing.T) {
	store := newMemoryStore()
	u, cfg := newTestUpdater(t, store)

	res := u.Process(context.Background(), models.UpdateRequest{
		DocumentID: "missing",
		Fields:     map[string]string{"projectName": "Tower One"},
	})

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrFetch)
	assert.ErrorIs(t, res.Err, ErrDocumentNotFound)
	assert.Equal(t, http.StatusInternalServerError, StatusCode(res.Err))
	assert.Equal(t, []State{StateReceived, StateFetching, StateCleanup, StateFailed}, res.States)
	assert.Zero(t, store.uploadCalls)
	assertScratchEmpty(t, cfg.ScratchDir)
}

func TestProcessVerificationFailureNeverPublishes(t *testing.T) {
	store := newMemoryStore()
	store.put("abc", newWorkbook(t, fields.DefaultSheet))
	u, cfg := newTestUpdater(t, store)
	u.mutator.reopen = func(string) (*excelize.File, error) {
		return nil, errors.New("zip: not a valid zip file")
	}

	res := u.Process(context.Background(), models.UpdateRequest{
		DocumentID: "abc",
		Fields:     map[string]string{"projectName": "Tower One"},
	})

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrMutate)
	assert.ErrorIs(t, res.Err, ErrVerify)
	assert.NotContains(t, res.States, StatePublishing)
	assert.Zero(t, store.uploadCalls)
	assertScratchEmpty(t, cfg.ScratchDir)
}

func TestProcessMissingSheetIsMutateError(t *testing.T) {
	store := newMemoryStore()
	store.put("abc", newWorkbook(t, "Summary"))
	u, cfg := newTestUpdater(t, store)

	res := u.Process(context.Background(), models.UpdateRequest{
		DocumentID: "abc",
		Fields:     map[string]string{"branch": "North"},
	})

	assert.ErrorIs(t, res.Err, ErrMutate)
	assert.ErrorIs(t, res.Err, ErrSheetMissing)
	assert.Zero(t, store.uploadCalls)
	assertScratchEmpty(t, cfg.ScratchDir)
}

func TestProcessStageTimeout(t *testing.T) {
	store := newMemoryStore()
	store.put("abc", newWorkbook(t, fields.DefaultSheet))
	store.block = true
	cfg := testConfig(t)
	cfg.StageTimeout = 50 * time.Millisecond
	u := NewUpdater(cfg, fields.Default(), store)

	res := u.Process(context.Background(), models.UpdateRequest{
		DocumentID: "abc",
		Fields:     map[string]string{"projectName": "Tower One"},
	})

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrTimeout)
	assert.ErrorIs(t, res.Err, ErrFetch)
	assert.Equal(t, http.StatusGatewayTimeout, StatusCode(res.Err))
	assert.Contains(t, res.States, StateCleanup)
	assert.Zero(t, store.uploadCalls)
	assertScratchEmpty(t, cfg.ScratchDir)
}

func TestProcessMutateTimeoutWaitsForWorkbookWrite(t *testing.T) {
	store := newMemoryStore()
	original := newWorkbook(t, fields.DefaultSheet)
	store.put("abc", original)
	cfg := testConfig(t)
	cfg.StageTimeout = 300 * time.Millisecond
	u := NewUpdater(cfg, fields.Default(), store)

	var saved atomic.Bool
	u.mutator.save = func(wb *excelize.File) error {
		time.Sleep(900 * time.Millisecond)
		err := wb.Save()
		saved.Store(true)
		return err
	}

	res := u.Process(context.Background(), models.UpdateRequest{
		DocumentID: "abc",
		Fields:     map[string]string{"projectName": "Tower One"},
	})

	assert.True(t, saved.Load(), "Process returned before the workbook write finished")
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrTimeout)
	assert.ErrorIs(t, res.Err, ErrMutate)
	assert.Equal(t, http.StatusGatewayTimeout, StatusCode(res.Err))
	assert.Equal(t, []State{StateReceived, StateFetching, StateMutating, StateCleanup, StateFailed}, res.States)
	assert.Zero(t, store.uploadCalls)
	assert.Equal(t, original, store.get("abc"))
	assertScratchEmpty(t, cfg.ScratchDir)
}

func TestProcessPublishTimeout(t *testing.T) {
	store := newMemoryStore()
	original := newWorkbook(t, fields.DefaultSheet)
	store.put("abc", original)
	store.blockUpload = true
	cfg := testConfig(t)
	cfg.StageTimeout = 250 * time.Millisecond
	u := NewUpdater(cfg, fields.Default(), store)

	res := u.Process(context.Background(), models.UpdateRequest{
		DocumentID: "abc",
		Fields:     map[string]string{"projectName": "Tower One"},
	})

	assert.ErrorIs(t, res.Err, ErrTimeout)
	assert.ErrorIs(t, res.Err, ErrPublish)
	assert.Equal(t, http.StatusGatewayTimeout, StatusCode(res.Err))
	assert.Equal(t, []State{StateReceived, StateFetching, StateMutating, StatePublishing, StateCleanup, StateFailed}, res.States)
	assert.Equal(t, original, store.get("abc"))
	assertScratchEmpty(t, cfg.ScratchDir)
}

func TestProcessUploadWithoutHandleFails(t *testing.T) {
	store := newMemoryStore()
	store.put("abc", newWorkbook(t, fields.DefaultSheet))
	store.nilUpload = true
	u, cfg := newTestUpdater(t, store)

	res := u.Process(context.Background(), models.UpdateRequest{
		DocumentID: "abc",
		Fields:     map[string]string{"projectName": "Tower One"},
	})

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrPublish)
	assert.Nil(t, res.Remote)
	assertScratchEmpty(t, cfg.ScratchDir)
}

func TestProcessPublishFailure(t *testing.T) {
	store := newMemoryStore()
	original := newWorkbook(t, fields.DefaultSheet)
	store.put("abc", original)
	store.uploadErr = errors.New("quota exceeded")
	u, cfg := newTestUpdater(t, store)

	res := u.Process(context.Background(), models.UpdateRequest{
		DocumentID: "abc",
		Fields:     map[string]string{"projectName": "Tower One"},
	})

	assert.ErrorIs(t, res.Err, ErrPublish)
	assert.Equal(t, []State{StateReceived, StateFetching, StateMutating, StatePublishing, StateCleanup, StateFailed}, res.States)
	assert.Equal(t, original, store.get("abc"))
	assertScratchEmpty(t, cfg.ScratchDir)
}

func TestProcessNotifiesAfterPublish(t *testing.T) {
	store := newMemoryStore()
	store.put("abc", newWorkbook(t, fields.DefaultSheet))
	notifier := &recordingNotifier{}
	u, _ := newTestUpdater(t, store, WithNotifier(notifier))

	res := u.Process(context.Background(), models.UpdateRequest{
		DocumentID: "abc",
		Fields:     map[string]string{"projectName": "Tower One", "projectNumber": "42"},
	})

	require.NoError(t, res.Err)
	require.Len(t, notifier.notes, 1)
	note := notifier.notes[0]
	assert.Equal(t, "abc", note.DocumentID)
	assert.Equal(t, res.RunID, note.RunID)
	assert.Equal(t, []string{"projectName", "projectNumber"}, note.Fields)
	assert.Equal(t, "2", note.Version)
	assert.Empty(t, res.Warnings)
}

func TestProcessNotifierFailureIsWarning(t *testing.T) {
	store := newMemoryStore()
	store.put("abc", newWorkbook(t, fields.DefaultSheet))
	notifier := &recordingNotifier{err: errors.New("workflow unavailable")}
	u, _ := newTestUpdater(t, store, WithNotifier(notifier))

	res := u.Process(context.Background(), models.UpdateRequest{
		DocumentID: "abc",
		Fields:     map[string]string{"projectName": "Tower One"},
	})

	require.NoError(t, res.Err)
	assert.Equal(t, OutcomeUpdated, res.Outcome)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "workflow unavailable")
}

func TestProcessNoOpWorkbookSkipsPublish(t *testing.T) {
	store := newMemoryStore()
	store.put("abc", newWorkbook(t, fields.DefaultSheet))
	u, _ := newTestUpdater(t, store)

	// The orchestrator's table matches the request; the mutator's does not.
	var err error
	u.mutator.mapping, err = fields.New(fields.DefaultSheet, map[string]string{"other": "A1"})
	require.NoError(t, err)

	res := u.Process(context.Background(), models.UpdateRequest{
		DocumentID: "abc",
		Fields:     map[string]string{"projectName": "Tower One"},
	})

	require.NoError(t, res.Err)
	assert.Equal(t, OutcomeNoOp, res.Outcome)
	assert.Equal(t, []State{StateReceived, StateFetching, StateMutating, StateSkipped, StateCleanup, StateSuccess}, res.States)
	assert.Zero(t, store.uploadCalls)
}

func TestProcessRecordsMetrics(t *testing.T) {
	store := newMemoryStore()
	store.put("abc", newWorkbook(t, fields.DefaultSheet))
	reg := prometheus.NewRegistry()
	m := metrics.NewPipeline(reg)
	u, _ := newTestUpdater(t, store, WithMetrics(m))

	u.Process(context.Background(), models.UpdateRequest{DocumentID: "abc", Fields: map[string]string{"branch": "East"}})
	u.Process(context.Background(), models.UpdateRequest{DocumentID: "", Fields: map[string]string{"branch": "East"}})

	count, err := testutil.GatherAndCount(reg, "sheet_updater_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
