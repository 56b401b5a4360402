// ABOUTME: Persister interface and the JSON stack index file implementation
// ABOUTME: Writes {signatures, lastUpdated} with a temp file and rename on every save

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Persister stores and loads the full signature snapshot. Save is called with
// the store lock held and must not retain the snapshot after returning.
type Persister interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
	Close() error
}

// JSONFilePersister keeps the stack index as a single JSON document.
type JSONFilePersister struct {
	path string
}

// NewJSONFilePersister returns a persister for the given file. Parent
// directories are created if needed.
func NewJSONFilePersister(path string) (*JSONFilePersister, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}
	return &JSONFilePersister{path: path}, nil
}

// Path returns the index file location.
func (p *JSONFilePersister) Path() string {
	return p.path
}

// Load reads the index. A missing file is an empty snapshot.
func (p *JSONFilePersister) Load(_ context.Context) (*Snapshot, error) {
	data, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return &Snapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading signature index: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parsing signature index: %w", err)
	}
	return &snap, nil
}

// Save rewrites the whole index.
func (p *JSONFilePersister) Save(_ context.Context, snap *Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding signature index: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p.path), ".signatures-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp index: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing temp index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("closing temp index: %w", err)
	}
	if err := os.Rename(tmpName, p.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replacing signature index: %w", err)
	}
	return nil
}

// Close is a no-op for file persistence.
func (p *JSONFilePersister) Close() error {
	return nil
}
