package infra

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const settingsFileName = "settings.json"

// FileSettingsStore implements domain.RawSettingsStore with a JSON file.
// Writers serialize on an flock so a CLI write and a running browse session
// never interleave.
type FileSettingsStore struct {
	path string
}

// NewFileSettingsStore creates a store at <dataDir>/settings.json.
func NewFileSettingsStore(dataDir string) (*FileSettingsStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return NewFileSettingsStoreWithPath(filepath.Join(dataDir, settingsFileName)), nil
}

// NewFileSettingsStoreWithPath creates a store at a specific path (for testing).
func NewFileSettingsStoreWithPath(path string) *FileSettingsStore {
	return &FileSettingsStore{path: path}
}

// WatchPath returns the settings file path.
func (s *FileSettingsStore) WatchPath() string {
	return s.path
}

// Load returns all stored values. A missing file is an empty store.
func (s *FileSettingsStore) Load() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]json.RawMessage{}, nil
		}
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	values := map[string]json.RawMessage{}
	if len(data) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to parse settings %s: %w", s.path, err)
	}
	return values, nil
}

// Store merges values into the file.
func (s *FileSettingsStore) Store(values map[string]json.RawMessage) error {
	return s.update(func(current map[string]json.RawMessage) {
		for k, v := range values {
			current[k] = v
		}
	})
}

// Remove deletes keys from the file.
func (s *FileSettingsStore) Remove(keys ...string) error {
	return s.update(func(current map[string]json.RawMessage) {
		for _, k := range keys {
			delete(current, k)
		}
	})
}

// Close is a no-op; the file is not held open.
func (s *FileSettingsStore) Close() error {
	return nil
}

// update runs a read-modify-write cycle under an exclusive lock.
func (s *FileSettingsStore) update(fn func(map[string]json.RawMessage)) error {
	lockFile, err := os.OpenFile(s.path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}
	defer lockFile.Close()

	unlock, err := lockExclusive(lockFile)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer unlock()

	current, err := s.Load()
	if err != nil {
		return err
	}
	fn(current)
	return s.atomicWrite(current)
}

// atomicWrite writes the file atomically (write + rename).
func (s *FileSettingsStore) atomicWrite(values map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	// Unique per process so concurrent writers never share a temp file
	tmpPath := fmt.Sprintf("%s.%d.tmp", s.path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace settings: %w", err)
	}
	return nil
}
