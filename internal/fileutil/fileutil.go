// Package fileutil writes downloaded books and exported results to disk.
package fileutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// SanitizeFilename cleans a filename by replacing problematic characters
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, ":", " -")
	name = strings.ReplaceAll(name, "/", "-")
	name = strings.ReplaceAll(name, "\\", "-")
	return strings.TrimSpace(name)
}

// FileExists checks if a file exists at the given path
func FileExists(filePath string) bool {
	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

// WriteStream copies r into filePath, respecting the overwrite flag. The
// data lands in a temporary file next to the target and is renamed into
// place only after the copy succeeds, so an interrupted download never
// leaves a truncated book behind.
// Returns the number of bytes written, or -1 if the file was skipped.
func WriteStream(filePath string, r io.Reader, overwrite bool) (int64, error) {
	if FileExists(filePath) && !overwrite {
		slog.Info("File already exists, skipping", "filename", filePath)
		return -1, nil
	}

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(filePath)+".*.part")
	if err != nil {
		return 0, fmt.Errorf("failed to create temporary file: %w", err)
	}
	cleanup := func(cause error) error {
		return errors.Join(cause, tmp.Close(), os.Remove(tmp.Name()))
	}

	n, err := io.Copy(tmp, r)
	if err != nil {
		return n, cleanup(fmt.Errorf("failed to write %s: %w", filePath, err))
	}
	if err := tmp.Close(); err != nil {
		return n, errors.Join(fmt.Errorf("failed to write %s: %w", filePath, err), os.Remove(tmp.Name()))
	}
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		return n, errors.Join(fmt.Errorf("failed to move file into place: %w", err), os.Remove(tmp.Name()))
	}
	return n, nil
}

// WriteJSONFile writes data as JSON to a file, respecting the overwrite flag
// Returns true if the file was written, false if it was skipped
func WriteJSONFile(data any, filePath string, overwrite bool) (bool, error) {
	if FileExists(filePath) && !overwrite {
		slog.Info("JSON file already exists, skipping", "filename", filePath, "overwrite", overwrite)
		return false, nil
	}

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return false, fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return false, fmt.Errorf("failed to create directory: %w", err)
	}

	slog.Info("Writing JSON file", "filename", filePath, "overwrite", overwrite)
	if err := os.WriteFile(filePath, jsonData, 0644); err != nil {
		return false, fmt.Errorf("failed to write JSON file: %w", err)
	}

	return true, nil
}
