package infra

import (
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	// Ensure sqlcipher driver is registered.
	_ "github.com/mutecomm/go-sqlcipher/v4"
)

const (
	settingsDBName        = "settings.db"
	settingsSchemaVersion = "1"
)

// EncryptedSettingsStore implements domain.RawSettingsStore using a
// SQLCipher encrypted SQLite database.
type EncryptedSettingsStore struct {
	db     *sql.DB
	dbPath string
}

// NewEncryptedSettingsStore opens (or creates) the settings database.
// The key is used as the SQLCipher passphrase via PRAGMA key.
func NewEncryptedSettingsStore(dataDir string, key []byte) (*EncryptedSettingsStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, settingsDBName)
	keyHex := hex.EncodeToString(key)

	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, keyHex)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}

	// A wrong key only shows up on first access
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	s := &EncryptedSettingsStore{db: db, dbPath: dbPath}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// createTables creates the schema if it doesn't exist.
func (s *EncryptedSettingsStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	_, err := s.db.Exec(`INSERT OR IGNORE INTO meta (key, value) VALUES ('schema_version', ?)`, settingsSchemaVersion)
	return err
}

// WatchPath returns the database file path.
func (s *EncryptedSettingsStore) WatchPath() string {
	return s.dbPath
}

// Load returns every stored key.
func (s *EncryptedSettingsStore) Load() (map[string]json.RawMessage, error) {
	rows, err := s.db.Query(`SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("failed to query settings: %w", err)
	}
	defer rows.Close()

	values := make(map[string]json.RawMessage)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		values[k] = json.RawMessage(v)
	}
	return values, rows.Err()
}

// Store upserts values in one transaction.
func (s *EncryptedSettingsStore) Store(values map[string]json.RawMessage) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().Unix()
	for k, v := range values {
		if !json.Valid(v) {
			return fmt.Errorf("value for %q is not valid JSON", k)
		}
		if _, err := tx.Exec(`INSERT OR REPLACE INTO settings (key, value, updated_at) VALUES (?, ?, ?)`,
			k, string(v), now); err != nil {
			return fmt.Errorf("failed to store %q: %w", k, err)
		}
	}
	return tx.Commit()
}

// Remove deletes keys.
func (s *EncryptedSettingsStore) Remove(keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	_, err := s.db.Exec(`DELETE FROM settings WHERE key IN (`+placeholders+`)`, args...)
	return err
}

// Close releases the database connection.
func (s *EncryptedSettingsStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
