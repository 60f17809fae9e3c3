package gcp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("SHEET_TEST_STRING", "value")

	assert.Equal(t, "value", GetEnv("SHEET_TEST_STRING", "fallback"))
	assert.Equal(t, "fallback", GetEnv("SHEET_TEST_STRING_MISSING", "fallback"))
}

func TestGetEnvInt(t *testing.T) {
	got, err := GetEnvInt("SHEET_TEST_INT_MISSING", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, got)

	t.Setenv("SHEET_TEST_INT", " 4096 ")
	got, err = GetEnvInt("SHEET_TEST_INT", 7)
	require.NoError(t, err)
	assert.Equal(t, 4096, got)

	t.Setenv("SHEET_TEST_INT", "lots")
	_, err = GetEnvInt("SHEET_TEST_INT", 7)
	assert.Error(t, err)
}

func TestGetEnvDuration(t *testing.T) {
	got, err := GetEnvDuration("SHEET_TEST_DURATION_MISSING", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, got)

	t.Setenv("SHEET_TEST_DURATION", "250ms")
	got, err = GetEnvDuration("SHEET_TEST_DURATION", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, got)

	t.Setenv("SHEET_TEST_DURATION", "soon")
	_, err = GetEnvDuration("SHEET_TEST_DURATION", 5*time.Second)
	assert.Error(t, err)
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("SHEET_TEST_BOOL", "true")
	got, err := GetEnvBool("SHEET_TEST_BOOL", false)
	require.NoError(t, err)
	assert.True(t, got)

	t.Setenv("SHEET_TEST_BOOL", "maybe")
	_, err = GetEnvBool("SHEET_TEST_BOOL", false)
	assert.Error(t, err)
}

func TestGetEnvList(t *testing.T) {
	fallback := []string{"Current File ID"}
	assert.Equal(t, fallback, GetEnvList("SHEET_TEST_LIST_MISSING", fallback))

	t.Setenv("SHEET_TEST_LIST", "Current File ID, docId,,")
	assert.Equal(t, []string{"Current File ID", "docId"}, GetEnvList("SHEET_TEST_LIST", fallback))
}
