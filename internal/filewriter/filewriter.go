// Package filewriter keeps the fix document on disk for clients that poll a file.
package filewriter

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"beacon-locator/internal/emitter"
)

// Writer replaces a file with each new document. Readers never observe a
// partially written file: the document goes to a temporary file in the same
// directory which is then renamed over the target.
type Writer struct {
	path string
	mu   sync.Mutex
}

func NewWriter(path string) *Writer {
	return &Writer{path: path}
}

// Path returns the target file.
func (w *Writer) Path() string { return w.path }

// WriteFile atomically replaces the target with doc.
func (w *Writer) WriteFile(doc emitter.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	dir := filepath.Dir(w.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(w.path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write document: %w", err)
	}
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, w.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", w.path, err)
	}
	return nil
}

// ReadFile loads a document written by WriteFile.
func ReadFile(filename string) (emitter.Document, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return emitter.Document{}, fmt.Errorf("failed to read file: %w", err)
	}
	var doc emitter.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return emitter.Document{}, fmt.Errorf("failed to decode document: %w", err)
	}
	return doc, nil
}
