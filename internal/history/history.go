// Package history persists the append-only sequence of usage records.
package history

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jgoulah/mobiletracker/internal/config"
	"github.com/jgoulah/mobiletracker/internal/database"
	"github.com/jgoulah/mobiletracker/pkg/models"
)

// FileName is the JSON history file kept in the config directory
const FileName = "usage_history.json"

// Store is an ordered, append-only list of usage records
type Store interface {
	// Load returns every record in insertion order; a missing store is empty, not an error
	Load() ([]models.UsageRecord, error)
	Append(rec models.UsageRecord) error
	Close() error
}

// Open returns the store for backend ("json" or "sqlite") rooted at dir
func Open(backend, dir string) (Store, error) {
	switch backend {
	case "", config.HistoryBackendJSON:
		return NewJSONFile(dir), nil
	case config.HistoryBackendSQLite:
		db, err := database.Open(dir)
		if err != nil {
			return nil, fmt.Errorf("opening history database: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown history backend: %s", backend)
	}
}

// JSONFile stores the history as a single JSON array
type JSONFile struct {
	path string
}

// NewJSONFile returns a store for the history file inside dir
func NewJSONFile(dir string) *JSONFile {
	return &JSONFile{path: filepath.Join(dir, FileName)}
}

// Close is a no-op; the file is only open during Load and Append
func (f *JSONFile) Close() error {
	return nil
}

// Load reads all records from disk
func (f *JSONFile) Load() ([]models.UsageRecord, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []models.UsageRecord{}, nil
		}
		return nil, fmt.Errorf("reading history file: %w", err)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return []models.UsageRecord{}, nil
	}

	var records []models.UsageRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parsing history file: %w", err)
	}
	if records == nil {
		records = []models.UsageRecord{}
	}
	return records, nil
}

// Append loads the history, adds rec and rewrites the whole file
func (f *JSONFile) Append(rec models.UsageRecord) error {
	records, err := f.Load()
	if err != nil {
		return err
	}
	records = append(records, rec)

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding history: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating history directory: %w", err)
	}

	// Write next to the target and rename over it
	tmp, err := os.CreateTemp(dir, ".usage_history-*.json")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("writing history: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing history: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replacing history file: %w", err)
	}

	return nil
}
