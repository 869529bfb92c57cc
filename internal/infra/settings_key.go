package infra

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/eliteGoblin/focusd/dirlink/internal/domain"
)

const (
	settingsKeyName = "settings.key"
	settingsKeySize = 32 // SQLCipher raw key
)

// ErrSettingsKeyMissing means settings.db has no key on disk yet.
var ErrSettingsKeyMissing = errors.New("settings key not found")

// SettingsKeyFile keeps the settings.db key base64-encoded in the data
// directory, readable by the owner only.
type SettingsKeyFile struct {
	path string
}

func NewSettingsKeyFile(dataDir string) *SettingsKeyFile {
	return &SettingsKeyFile{path: filepath.Join(dataDir, settingsKeyName)}
}

func (f *SettingsKeyFile) Path() string { return f.path }

func (f *SettingsKeyFile) Exists() bool {
	_, err := os.Stat(f.path)
	return err == nil
}

// Load returns the key. A key file other users can read is refused, since
// anyone holding it can open the settings database.
func (f *SettingsKeyFile) Load() ([]byte, error) {
	info, err := os.Stat(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrSettingsKeyMissing, f.path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat settings key: %w", err)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0o077 != 0 {
		return nil, fmt.Errorf("settings key %s is accessible to other users (mode %04o)", f.path, info.Mode().Perm())
	}

	encoded, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings key: %w", err)
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(encoded)))
	if err != nil {
		return nil, fmt.Errorf("settings key %s is not base64: %w", f.path, err)
	}
	if err := checkSettingsKeySize(key); err != nil {
		return nil, err
	}
	return key, nil
}

// Save replaces the key file atomically so a crash never leaves settings.db
// behind a truncated key.
func (f *SettingsKeyFile) Save(key []byte) error {
	if err := checkSettingsKeySize(key); err != nil {
		return err
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, settingsKeyName+".*")
	if err != nil {
		return fmt.Errorf("failed to create settings key: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0600); err != nil && runtime.GOOS != "windows" {
		tmp.Close()
		return fmt.Errorf("failed to restrict settings key: %w", err)
	}
	if _, err := tmp.WriteString(base64.StdEncoding.EncodeToString(key) + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write settings key: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync settings key: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write settings key: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("failed to install settings key: %w", err)
	}
	return nil
}

func checkSettingsKeySize(key []byte) error {
	if len(key) != settingsKeySize {
		return fmt.Errorf("settings key must be %d bytes, got %d", settingsKeySize, len(key))
	}
	return nil
}

// NewSettingsKey returns a fresh random key for settings.db.
func NewSettingsKey() ([]byte, error) {
	key := make([]byte, settingsKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate settings key: %w", err)
	}
	return key, nil
}

// LoadOrCreateSettingsKey returns the stored key. The first encrypted run
// has none, so one is generated and saved before settings.db is created.
func LoadOrCreateSettingsKey(store domain.SettingsKeyStore) ([]byte, error) {
	key, err := store.Load()
	if err == nil || !errors.Is(err, ErrSettingsKeyMissing) {
		return key, err
	}

	if key, err = NewSettingsKey(); err != nil {
		return nil, err
	}
	if err := store.Save(key); err != nil {
		return nil, err
	}
	return key, nil
}

var _ domain.SettingsKeyStore = (*SettingsKeyFile)(nil)
