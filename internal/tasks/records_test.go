package tasks

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/Lllllllleong/sheetupdater/internal/gcp"
	"github.com/Lllllllleong/sheetupdater/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFirestoreRecorder runs against the Firestore emulator when
// FIRESTORE_EMULATOR_HOST is set.
func TestFirestoreRecorder(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	ctx := context.Background()
	coll, client, err := gcp.OpenTaskCollection(ctx, "sheet-updater-test", "sheetUpdatesTest")
	require.NoError(t, err)
	defer client.Close()

	r := NewFirestoreRecorder(coll)
	id := uuid.NewString()

	_, err = r.Get(ctx, id)
	assert.ErrorIs(t, err, ErrTaskNotFound)
	assert.ErrorIs(t, r.UpdateStatus(ctx, id, StatusRunning), ErrTaskNotFound)

	require.NoError(t, r.Create(ctx, models.TaskRecord{
		ID:         id,
		DocumentID: "abc",
		Status:     StatusQueued,
		CreatedAt:  time.Now(),
	}))
	require.NoError(t, r.UpdateStatus(ctx, id, StatusRunning))
	require.NoError(t, r.Finish(ctx, id, StatusFailed, "failed", "fetch failed"))

	rec, err := r.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, "failed", rec.Outcome)
	assert.Equal(t, "fetch failed", rec.Message)
	assert.Equal(t, "abc", rec.DocumentID)
	assert.False(t, rec.FinishedAt.IsZero())
}
