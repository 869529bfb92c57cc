package domain

import (
	"context"
	"encoding/json"
)

// ChangeListener receives change notifications from a SettingsProvider.
type ChangeListener func(namespace string, changes map[string]SettingChange)

// SettingsProvider is the key-value configuration provider.
// Implementations: encrypted SQLite store, JSON file store, in-memory store.
type SettingsProvider interface {
	// Get returns stored settings with missing keys filled from defaults.
	Get(ctx context.Context, defaults Settings) (Settings, error)

	// Set writes the given keys. Values must be JSON-encodable.
	Set(ctx context.Context, partial map[string]any) error

	// OnChange subscribes to change notifications. The returned func unsubscribes.
	OnChange(listener ChangeListener) (cancel func())
}

// RawSettingsStore is the storage backend behind a SettingsProvider.
type RawSettingsStore interface {
	// Load returns every stored key with its JSON-encoded value.
	Load() (map[string]json.RawMessage, error)

	// Store writes the given JSON-encoded values.
	Store(values map[string]json.RawMessage) error

	// Remove deletes the given keys.
	Remove(keys ...string) error

	// WatchPath is the file that changes when another process writes the store.
	WatchPath() string

	// Close releases resources (e.g., database connection).
	Close() error
}

// Dispatcher is the interceptor's view of the privileged side.
// A non-nil error means the transport failed; a reported failure comes back
// as a RewriteResult with Success=false.
type Dispatcher interface {
	Dispatch(ctx context.Context, req RewriteRequest) (RewriteResult, error)
}

// Launcher opens a URL in a short-lived background context and tears it down.
// Implementations: OS opener process, background browser tab.
type Launcher interface {
	// Launch creates the transient context pointed at url.
	Launch(ctx context.Context, url string) (LaunchHandle, error)

	// Cleanup destroys the context. Best-effort.
	Cleanup(ctx context.Context, h LaunchHandle) error
}

// ProcessManager inspects OS processes.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// FindByName returns PIDs of processes matching the pattern.
	FindByName(pattern string) ([]int, error)

	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool

	// GetCurrentPID returns the current process PID.
	GetCurrentPID() int
}

// SettingsKeyStore holds the key that unlocks the encrypted settings database.
type SettingsKeyStore interface {
	Load() ([]byte, error)
	Save(key []byte) error
	Exists() bool
}

// FileManager reveals a local path in the desktop file manager.
type FileManager interface {
	// Name returns the opener name (e.g., "explorer", "open", "xdg").
	Name() string

	// IsAvailable returns true if this opener can be used on this system.
	IsAvailable() bool

	// Reveal opens the directory, or the parent with the file selected.
	Reveal(path string, isFile bool) error
}

// HandlerInstaller registers this binary with the OS or a browser.
// Implementations: XDG desktop entry, macOS app bundle, native messaging manifest.
type HandlerInstaller interface {
	// Name returns a short label for status output.
	Name() string

	// Install writes the registration pointing at execPath.
	Install(execPath string) error

	// Uninstall removes the registration.
	Uninstall() error

	// IsInstalled checks if the registration file exists.
	IsInstalled() bool

	// NeedsUpdate checks if the registration exists but points elsewhere.
	NeedsUpdate(execPath string) bool

	// Path returns the registration file path.
	Path() string

	// Status describes the live registration state for humans.
	Status() string
}

// PathResolver checks and canonicalizes local paths.
type PathResolver interface {
	// Resolve returns the absolute, symlink-free path and whether it is a directory.
	Resolve(path string) (resolved string, isDir bool, err error)
}

// Page is a rendered document with its own event loop.
// Every callback it invokes runs on that loop, one at a time.
type Page interface {
	// Hostname of the page's URL.
	Hostname() string

	// Post schedules task on the page loop.
	Post(task func())

	// QueryAll returns elements matching a CSS selector in document order.
	QueryAll(selector string) []Element

	// ObserveSubtree reports batches of inserted element roots under the body.
	ObserveSubtree(fn func(roots []Element)) (disconnect func())

	// AddClickListener installs a capture-phase click listener.
	AddClickListener(fn func(Event)) (remove func())

	// Notify shows a transient overlay, replacing any current one.
	Notify(n Notification)
}

// Element is a DOM element handle.
type Element interface {
	// Tag returns the lowercase tag name.
	Tag() string

	// Attr returns an attribute value.
	Attr(name string) (string, bool)

	// Data reads a data-* attribute.
	Data(key string) string

	// SetData writes a data-* attribute.
	SetData(key, value string)

	// AppendIndicator appends the marker child element.
	AppendIndicator(ind Indicator)

	// Matches reports whether the element matches selector.
	Matches(selector string) bool

	// Closest returns the nearest inclusive ancestor matching selector, or nil.
	Closest(selector string) Element

	// QueryAll returns matching descendants.
	QueryAll(selector string) []Element
}

// Event is a click event seen by a capture listener.
type Event interface {
	Target() Element
	PreventDefault()
	StopPropagation()
}
