package notes

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// File permissions for the local note store.
const (
	filePerms = 0o600
	dirPerms  = 0o700
)

// storedNote is the flat-file JSON representation of one note. The local
// store is a single JSON object keyed by note id.
type storedNote struct {
	Title    string   `json:"title,omitempty"`
	Text     string   `json:"text"`
	Created  flexTime `json:"created,omitzero"`
	Modified flexTime `json:"modified,omitzero"`
	Owner    string   `json:"owner,omitempty"`
	RemoteID string   `json:"remote_id,omitempty"`
	Storage  string   `json:"storage,omitempty"`
}

// LoadFile reads the local note store. A missing file is not an error —
// it returns an empty set, supporting the zero-config first run.
func LoadFile(path string) ([]Note, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("notes: reading %s: %w", path, err)
	}

	var stored map[string]storedNote
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("notes: decoding %s: %w", path, err)
	}

	ns := make([]Note, 0, len(stored))

	for id, sn := range stored {
		kind := StorageKind(sn.Storage)
		if kind == "" {
			kind = StorageLocal
		}

		if sn.RemoteID != "" {
			kind = StorageCloud
		}

		ns = append(ns, Note{
			ID:       id,
			Title:    sn.Title,
			Text:     sn.Text,
			Created:  time.Time(sn.Created),
			Modified: time.Time(sn.Modified),
			Owner:    sn.Owner,
			RemoteID: sn.RemoteID,
			Storage:  kind,
		})
	}

	SortByID(ns)

	return ns, nil
}

// SaveFile writes the local note store atomically (write-to-temp + rename).
func SaveFile(path string, ns []Note) error {
	stored := make(map[string]storedNote, len(ns))
	for _, n := range ns {
		stored[n.ID] = storedNote{
			Title:    n.Title,
			Text:     n.Text,
			Created:  flexTime(n.Created),
			Modified: flexTime(n.Modified),
			Owner:    n.Owner,
			RemoteID: n.RemoteID,
			Storage:  string(n.Storage),
		}
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("notes: encoding store: %w", err)
	}

	dir := filepath.Dir(path)
	if mkErr := os.MkdirAll(dir, dirPerms); mkErr != nil {
		return fmt.Errorf("notes: creating directory %s: %w", dir, mkErr)
	}

	tmp, err := os.CreateTemp(dir, ".notes-*.tmp")
	if err != nil {
		return fmt.Errorf("notes: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, filePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("notes: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("notes: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("notes: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("notes: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("notes: renaming: %w", err)
	}

	success = true

	return nil
}
