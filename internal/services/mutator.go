package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/sheetupdater/internal/fields"
	"github.com/xuri/excelize/v2"
)

// MutationStatus says whether the mutator wrote anything.
type MutationStatus int

const (
	MutationNoOp MutationStatus = iota
	MutationUpdated
)

// Mutation is the result of a successful Mutate call.
type Mutation struct {
	Status  MutationStatus
	Written []fields.Match
}

// Mutator writes mapped field values into a local workbook.
type Mutator struct {
	mapping fields.Mapping
	logger  *slog.Logger
	// reopen is the verification step and save writes the workbook back;
	// tests replace both.
	reopen func(path string) (*excelize.File, error)
	save   func(wb *excelize.File) error
}

// NewMutator creates a Mutator for the given field table.
func NewMutator(mapping fields.Mapping, logger *slog.Logger) *Mutator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mutator{
		mapping: mapping,
		logger:  logger,
		reopen: func(path string) (*excelize.File, error) {
			return excelize.OpenFile(path)
		},
		save: func(wb *excelize.File) error {
			return wb.Save()
		},
	}
}

type mutateOutcome struct {
	mutation *Mutation
	err      error
}

// Mutate applies values to the workbook at path. Either every matched field
// is written, saved and verified, or an ErrMutate is returned. A request
// with no matched fields is a no-op that neither writes nor re-opens the
// file.
//
// excelize has no context support, so the work runs in its own goroutine.
// When ctx ends first the goroutine stops at its next checkpoint and Mutate
// waits for it, so nothing touches path once Mutate has returned.
func (m *Mutator) Mutate(ctx context.Context, path string, values map[string]string) (*Mutation, error) {
	done := make(chan mutateOutcome, 1)
	go func() {
		mutation, err := m.apply(ctx, path, values)
		done <- mutateOutcome{mutation: mutation, err: err}
	}()

	select {
	case out := <-done:
		return out.mutation, out.err
	case <-ctx.Done():
		m.logger.Warn("Workbook update ran out of time. Waiting for it to stop.", "path", path)
		<-done
		return nil, newError(ErrMutate, StateMutating, "workbook update abandoned: %w", ctx.Err())
	}
}

func (m *Mutator) apply(ctx context.Context, path string, values map[string]string) (*Mutation, error) {
	logCtx := m.logger.With("path", path, "sheet", m.mapping.Sheet())

	wb, err := excelize.OpenFile(path)
	if err != nil {
		logCtx.Error("Failed to open workbook.", "error", err)
		return nil, newError(ErrMutate, StateMutating, "failed to open workbook: %w", err)
	}
	defer wb.Close()

	idx, err := wb.GetSheetIndex(m.mapping.Sheet())
	if err != nil || idx < 0 {
		logCtx.Error("Required sheet not found.", "sheets", wb.GetSheetList())
		return nil, newError(ErrMutate, StateMutating, "sheet %q: %w", m.mapping.Sheet(), ErrSheetMissing)
	}

	matches := m.mapping.Match(values)
	if len(matches) == 0 {
		logCtx.Warn("No mappable data found in input. Nothing to update.")
		return &Mutation{Status: MutationNoOp}, nil
	}

	for _, match := range matches {
		logCtx.Info("Updating field.", "field", match.Field, "cell", match.Cell.String(), "value", match.Value)
		if err := wb.SetCellStr(m.mapping.Sheet(), match.Cell.String(), match.Value); err != nil {
			return nil, newError(ErrMutate, StateMutating, "failed to write %s: %w", match.Cell, err)
		}
	}

	if err := ctx.Err(); err != nil {
		logCtx.Warn("Workbook update cancelled before save.", "error", err)
		return nil, newError(ErrMutate, StateMutating, "workbook update abandoned: %w", err)
	}
	if err := m.save(wb); err != nil {
		logCtx.Error("Failed to save workbook.", "error", err)
		return nil, newError(ErrMutate, StateMutating, "failed to save workbook: %w", err)
	}

	if err := ctx.Err(); err != nil {
		logCtx.Warn("Workbook update cancelled before verification.", "error", err)
		return nil, newError(ErrMutate, StateMutating, "workbook update abandoned: %w", err)
	}
	if err := m.verify(path, matches); err != nil {
		logCtx.Error("Saved workbook failed verification.", "error", err)
		return nil, newError(ErrMutate, StateMutating, "%w: %v", ErrVerify, err)
	}

	logCtx.Info("Workbook updated and verified.", "fields", len(matches))
	return &Mutation{Status: MutationUpdated, Written: matches}, nil
}

// verify re-opens the saved workbook and reads back every written cell.
func (m *Mutator) verify(path string, matches []fields.Match) error {
	wb, err := m.reopen(path)
	if err != nil {
		return fmt.Errorf("re-open failed: %w", err)
	}
	defer wb.Close()

	for _, match := range matches {
		got, err := wb.GetCellValue(m.mapping.Sheet(), match.Cell.String())
		if err != nil {
			return fmt.Errorf("read back %s: %w", match.Cell, err)
		}
		if got != match.Value {
			return fmt.Errorf("cell %s holds %q, wrote %q", match.Cell, got, match.Value)
		}
	}
	return nil
}
