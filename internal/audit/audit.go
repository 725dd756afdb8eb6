// Package audit writes per-turn item lists to plain scratch files so
// operators can inspect what a turn extracted. Files are overwritten
// on every write; there is no history and none is wanted.
package audit

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Well-known file names written by the pipeline.
const (
	IngredientsFile = "ingredients.txt"
	MenuFile        = "menu.txt"
)

// Recorder writes item lists into a scratch directory.
type Recorder struct {
	dir    string
	logger *slog.Logger
}

// NewRecorder creates a Recorder writing into dir. An empty dir means
// the OS temp directory.
func NewRecorder(dir string, logger *slog.Logger) *Recorder {
	if dir == "" {
		dir = os.TempDir()
	}
	return &Recorder{
		dir:    dir,
		logger: logger.With("component", "audit"),
	}
}

// WriteList writes items to name inside the scratch directory, one per
// line with a trailing newline, replacing any previous content. It
// returns the full path written.
func (r *Recorder) WriteList(name string, items []string) (string, error) {
	path := filepath.Join(r.dir, name)

	var b strings.Builder
	for _, item := range items {
		b.WriteString(item)
		b.WriteByte('\n')
	}

	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}

	r.logger.Debug("item list written", "path", path, "items", len(items))
	return path, nil
}
