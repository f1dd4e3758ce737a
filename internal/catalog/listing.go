package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Listing is an exported category listing, written by the CLI for offline
// inspection. The engine itself keeps nothing on disk.
type Listing struct {
	Portal     string      `json:"portal"`
	Category   Category    `json:"category"`
	Generation uint64      `json:"generation,omitempty"`
	FetchedAt  time.Time   `json:"fetched_at"`
	Items      []MediaItem `json:"items"`
}

// Save writes l to path as JSON using a temp-file-then-rename strategy
// so readers never see a partially-written file.
func (l *Listing) Save(path string) error {
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(filepath.Clean(path))
	tmp, err := os.CreateTemp(dir, ".listing-*.json.tmp")
	if err != nil {
		return fmt.Errorf("listing save: create temp: %w", err)
	}
	tmpName := tmp.Name()
	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if writeErr != nil || closeErr != nil {
		os.Remove(tmpName)
		if writeErr != nil {
			return fmt.Errorf("listing save: write: %w", writeErr)
		}
		return fmt.Errorf("listing save: close: %w", closeErr)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("listing save: chmod: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("listing save: rename: %w", err)
	}
	return nil
}

// LoadListing reads a listing written by Save.
func LoadListing(path string) (*Listing, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var l Listing
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("listing load: %w", err)
	}
	return &l, nil
}
