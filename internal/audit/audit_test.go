package audit

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWriteList(t *testing.T) {
	dir := t.TempDir()
	r := NewRecorder(dir, discardLogger())

	path, err := r.WriteList(IngredientsFile, []string{"huevos", "patatas", "aceite de oliva"})
	if err != nil {
		t.Fatalf("WriteList: %v", err)
	}
	if want := filepath.Join(dir, "ingredients.txt"); path != want {
		t.Errorf("path = %q, want %q", path, want)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	want := "huevos\npatatas\naceite de oliva\n"
	if string(data) != want {
		t.Errorf("content = %q, want %q", string(data), want)
	}
}

func TestWriteListOverwrites(t *testing.T) {
	dir := t.TempDir()
	r := NewRecorder(dir, discardLogger())

	if _, err := r.WriteList(MenuFile, []string{"paella", "gazpacho", "flan"}); err != nil {
		t.Fatalf("first write: %v", err)
	}
	path, err := r.WriteList(MenuFile, []string{"tortilla"})
	if err != nil {
		t.Fatalf("second write: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if got, want := string(data), "tortilla\n"; got != want {
		t.Errorf("content after overwrite = %q, want %q", got, want)
	}
}

func TestWriteListEmpty(t *testing.T) {
	dir := t.TempDir()
	r := NewRecorder(dir, discardLogger())

	path, err := r.WriteList("empty.txt", nil)
	if err != nil {
		t.Fatalf("WriteList: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("content = %q, want empty", string(data))
	}
}

func TestNewRecorderDefaultsToTempDir(t *testing.T) {
	r := NewRecorder("", discardLogger())
	if r.dir != os.TempDir() {
		t.Errorf("dir = %q, want %q", r.dir, os.TempDir())
	}
}

func TestWriteListBadDir(t *testing.T) {
	r := NewRecorder(filepath.Join(t.TempDir(), "missing", "nested"), discardLogger())
	if _, err := r.WriteList("x.txt", []string{"a"}); err == nil {
		t.Fatal("expected error writing into missing directory")
	}
}
