package infra

import (
	"encoding/json"
	"sync"
)

// MemorySettingsStore implements domain.RawSettingsStore in memory.
type MemorySettingsStore struct {
	mu     sync.Mutex
	values map[string]json.RawMessage
}

// NewMemorySettingsStore creates an empty store.
func NewMemorySettingsStore() *MemorySettingsStore {
	return &MemorySettingsStore{values: make(map[string]json.RawMessage)}
}

func (s *MemorySettingsStore) Load() (map[string]json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]json.RawMessage, len(s.values))
	for k, v := range s.values {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out, nil
}

func (s *MemorySettingsStore) Store(values map[string]json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range values {
		s.values[k] = append(json.RawMessage(nil), v...)
	}
	return nil
}

func (s *MemorySettingsStore) Remove(keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		delete(s.values, k)
	}
	return nil
}

// WatchPath is empty: nothing outside this process can change the store.
func (s *MemorySettingsStore) WatchPath() string {
	return ""
}

func (s *MemorySettingsStore) Close() error {
	return nil
}
