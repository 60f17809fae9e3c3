package services

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Lllllllleong/sheetupdater/internal/models"
)

// Error kinds. Every error returned by the pipeline matches exactly one of
// them with errors.Is; a timeout additionally matches the kind of the stage
// that timed out.
var (
	ErrInput   = errors.New("invalid input")
	ErrFetch   = errors.New("fetch failed")
	ErrMutate  = errors.New("mutate failed")
	ErrPublish = errors.New("publish failed")
	ErrTimeout = errors.New("timed out")
)

// Causes carried inside a stage error.
var (
	ErrDocumentNotFound   = models.ErrDocumentNotFound
	ErrTooSmall           = errors.New("document below minimum size")
	ErrIncompleteTransfer = errors.New("incomplete transfer")
	ErrSheetMissing       = errors.New("required sheet not found")
	ErrVerify             = errors.New("post-write verification failed")
)

// Error is a pipeline failure: its kind, the state it happened in, and the
// underlying cause.
type Error struct {
	Kind  error
	Stage State
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func newError(kind error, stage State, format string, args ...any) *Error {
	return &Error{Kind: kind, Stage: stage, Err: fmt.Errorf(format, args...)}
}

// StatusCode maps a pipeline error to the HTTP status returned to callers.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
