package handoff

import (
	"fmt"
	"os"
	"path/filepath"
)

// Writer publishes exports to a single file. Readers never observe a partial
// write: the export lands in a temp file in the same directory and is
// renamed over the target.
type Writer struct {
	path   string
	format string
}

func NewWriter(path, format string) *Writer {
	return &Writer{path: path, format: format}
}

func (w *Writer) Path() string {
	return w.path
}

func (w *Writer) Write(e Export) error {
	data, err := Encode(w.format, e)
	if err != nil {
		return err
	}
	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(w.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write handoff: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync handoff: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, w.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("publish handoff: %w", err)
	}
	return nil
}
