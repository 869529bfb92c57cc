// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"encoding/json"
	"time"
)

// Setting keys as stored by the configuration provider.
const (
	KeyEnabled        = "enabled"
	KeyShowIndicator  = "showIndicator"
	KeyAllowedDomains = "allowedDomains"
	KeyBlockedDomains = "blockedDomains"
)

// SyncNamespace is the change-notification namespace carrying synced settings.
// Changes delivered under any other namespace are ignored by the interceptor.
const SyncNamespace = "sync"

// Settings is the flat key-value configuration consulted on every scan and click.
type Settings struct {
	Enabled        bool     `json:"enabled"`
	ShowIndicator  bool     `json:"showIndicator"`
	AllowedDomains []string `json:"allowedDomains"` // Empty means allow all not blocked
	BlockedDomains []string `json:"blockedDomains"` // Checked first, always wins
}

// DefaultSettings returns the built-in defaults used when no provider is reachable.
func DefaultSettings() Settings {
	return Settings{
		Enabled:        true,
		ShowIndicator:  true,
		AllowedDomains: []string{},
		BlockedDomains: []string{},
	}
}

// SettingKeys lists every recognized key in schema order.
func SettingKeys() []string {
	return []string{KeyEnabled, KeyShowIndicator, KeyAllowedDomains, KeyBlockedDomains}
}

// IsSettingKey reports whether key belongs to the settings schema.
func IsSettingKey(key string) bool {
	switch key {
	case KeyEnabled, KeyShowIndicator, KeyAllowedDomains, KeyBlockedDomains:
		return true
	}
	return false
}

// Clone returns a deep copy so callers can hand settings across goroutines.
func (s Settings) Clone() Settings {
	c := s
	c.AllowedDomains = append([]string{}, s.AllowedDomains...)
	c.BlockedDomains = append([]string{}, s.BlockedDomains...)
	return c
}

// SettingChange is one entry of a change notification.
// A nil NewValue means the key was removed from the store.
type SettingChange struct {
	OldValue json.RawMessage `json:"oldValue,omitempty"`
	NewValue json.RawMessage `json:"newValue,omitempty"`
}

// ApplyPatch updates recognized keys in place and returns the keys it applied.
// Unknown keys and values of the wrong JSON type are skipped so the cache keeps
// its shape. A removed key falls back to its default.
func (s *Settings) ApplyPatch(changes map[string]SettingChange) []string {
	defaults := DefaultSettings()
	var applied []string

	for _, key := range SettingKeys() {
		change, ok := changes[key]
		if !ok {
			continue
		}

		var err error
		switch key {
		case KeyEnabled:
			s.Enabled, err = decodeValue(change.NewValue, s.Enabled, defaults.Enabled)
		case KeyShowIndicator:
			s.ShowIndicator, err = decodeValue(change.NewValue, s.ShowIndicator, defaults.ShowIndicator)
		case KeyAllowedDomains:
			s.AllowedDomains, err = decodeValue(change.NewValue, s.AllowedDomains, defaults.AllowedDomains)
			s.AllowedDomains = nonNil(s.AllowedDomains)
		case KeyBlockedDomains:
			s.BlockedDomains, err = decodeValue(change.NewValue, s.BlockedDomains, defaults.BlockedDomains)
			s.BlockedDomains = nonNil(s.BlockedDomains)
		}
		if err != nil {
			continue
		}
		applied = append(applied, key)
	}

	return applied
}

// decodeValue returns def for a removed key, current if raw has the wrong type.
func decodeValue[T any](raw json.RawMessage, current, def T) (T, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return def, nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return current, err
	}
	return v, nil
}

// MergeValues overlays stored values onto defaults, the way a provider's
// get(defaults) fills missing keys.
func MergeValues(defaults Settings, values map[string]json.RawMessage) Settings {
	s := defaults.Clone()
	changes := make(map[string]SettingChange, len(values))
	for k, v := range values {
		if len(v) == 0 {
			continue
		}
		changes[k] = SettingChange{NewValue: v}
	}
	s.ApplyPatch(changes)
	return s
}

// DiffValues builds a change set between two stored snapshots.
// Keys whose encoded value did not change are omitted.
func DiffValues(before, after map[string]json.RawMessage) map[string]SettingChange {
	changes := make(map[string]SettingChange)
	for k, nv := range after {
		ov, ok := before[k]
		if ok && string(ov) == string(nv) {
			continue
		}
		changes[k] = SettingChange{OldValue: ov, NewValue: nv}
	}
	for k, ov := range before {
		if _, ok := after[k]; !ok {
			changes[k] = SettingChange{OldValue: ov}
		}
	}
	return changes
}

// ActionOpenDirectory is the only action the dispatcher accepts.
const ActionOpenDirectory = "openDirectory"

// RewriteRequest asks the privileged side to open a rewritten URL.
// ID is only set by transports that multiplex several requests on one stream.
type RewriteRequest struct {
	ID     string `json:"id,omitempty"`
	Action string `json:"action"`
	URL    string `json:"url"`
}

// RewriteResult is the single response to a RewriteRequest.
type RewriteResult struct {
	ID      string `json:"id,omitempty"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// LaunchHandle identifies the transient context created to trigger the
// protocol handler, so it can be torn down later.
type LaunchHandle struct {
	URL      string
	ID       string // Key the creating launcher uses to find the launch again
	PID      int    // Set by process-based launchers
	TargetID string // Set by browser-tab launchers
}

// NotificationKind selects the overlay styling.
type NotificationKind string

const (
	NotifyError   NotificationKind = "error"
	NotifySuccess NotificationKind = "success"
)

// DefaultNotificationTimeout is how long an overlay stays visible.
const DefaultNotificationTimeout = 4 * time.Second

// Notification is a transient on-page message.
type Notification struct {
	Message string
	Kind    NotificationKind
	Timeout time.Duration
}

// Indicator describes the marker element appended to a converted link.
type Indicator struct {
	Class string
	Text  string
	Title string
	Style string
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
