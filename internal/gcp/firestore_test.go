package gcp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateCollection(t *testing.T) {
	assert.NoError(t, validateCollection("sheetUpdates"))

	for _, name := range []string{"", "  ", "tasks/abc/runs", "__internal__"} {
		assert.Error(t, validateCollection(name), "collection %q", name)
	}
}

func TestOpenTaskCollectionRequiresProject(t *testing.T) {
	_, _, err := OpenTaskCollection(context.Background(), "", "sheetUpdates")
	assert.ErrorContains(t, err, "projectID")

	_, _, err = OpenTaskCollection(context.Background(), "demo", "a/b")
	assert.ErrorContains(t, err, "top-level")
}
