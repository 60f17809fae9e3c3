package services

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ScratchPath returns the scratch file for a document identifier. Characters
// outside [A-Za-z0-9._-] are replaced so an identifier can never name a path
// outside dir.
func ScratchPath(dir, id string) string {
	return filepath.Join(dir, sanitizeID(id)+".xlsx")
}

func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, id)
}

// createScratch creates an empty scratch file, truncating anything left by
// an earlier run that crashed.
func createScratch(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create scratch dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create scratch file at %s: %w", path, err)
	}
	return f.Close()
}

// removeScratch deletes the scratch file. A file that is already gone is not
// an error; any other failure is logged and tolerated.
func removeScratch(logCtx *slog.Logger, path string) {
	err := os.Remove(path)
	switch {
	case err == nil:
		logCtx.Info("Removed scratch file.", "path", path)
	case errors.Is(err, fs.ErrNotExist):
	default:
		logCtx.Warn("Failed to remove scratch file.", "path", path, "error", err)
	}
}

// inspectPath is the scratch file used when fetching a document only to
// inspect it, kept apart from the update pipeline's path.
func inspectPath(dir, id string) string {
	return filepath.Join(dir, sanitizeID(id)+".inspect.xlsx")
}
