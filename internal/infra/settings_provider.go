package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/dirlink/internal/domain"
)

// StoreProvider implements domain.SettingsProvider over a RawSettingsStore.
// Writes made through it, and writes by other processes picked up by Watch,
// are announced to listeners as sync-namespace changes.
type StoreProvider struct {
	store  domain.RawSettingsStore
	logger *zap.Logger

	// refreshMu orders reload, diff and notification so a slower refresh
	// never announces an older store state after a newer one.
	refreshMu sync.Mutex

	mu        sync.Mutex
	snapshot  map[string]json.RawMessage
	listeners map[int]domain.ChangeListener
	nextID    int
}

// NewStoreProvider creates a provider and takes the initial snapshot.
func NewStoreProvider(store domain.RawSettingsStore, logger *zap.Logger) (*StoreProvider, error) {
	values, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	return &StoreProvider{
		store:     store,
		logger:    logger,
		snapshot:  values,
		listeners: make(map[int]domain.ChangeListener),
	}, nil
}

// Get returns stored settings with missing keys filled from defaults.
func (p *StoreProvider) Get(ctx context.Context, defaults domain.Settings) (domain.Settings, error) {
	if err := ctx.Err(); err != nil {
		return domain.Settings{}, err
	}
	values, err := p.store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("failed to load settings: %w", err)
	}
	return domain.MergeValues(defaults, values), nil
}

// Set JSON-encodes and stores each value, then notifies listeners.
func (p *StoreProvider) Set(ctx context.Context, partial map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	encoded := make(map[string]json.RawMessage, len(partial))
	for k, v := range partial {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode %q: %w", k, err)
		}
		encoded[k] = raw
	}
	if err := p.store.Store(encoded); err != nil {
		return fmt.Errorf("failed to store settings: %w", err)
	}
	return p.Refresh()
}

// Remove deletes keys so they fall back to defaults, then notifies listeners.
func (p *StoreProvider) Remove(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.store.Remove(keys...); err != nil {
		return fmt.Errorf("failed to remove settings: %w", err)
	}
	return p.Refresh()
}

// OnChange subscribes listener. Listeners run on the goroutine that observed
// the change and must hand work off quickly.
func (p *StoreProvider) OnChange(listener domain.ChangeListener) func() {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextID
	p.nextID++
	p.listeners[id] = listener

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
	}
}

// Refresh reloads the store and announces keys that differ from the last
// snapshot. Listeners must not call Set or Remove synchronously.
func (p *StoreProvider) Refresh() error {
	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()

	values, err := p.store.Load()
	if err != nil {
		return fmt.Errorf("failed to reload settings: %w", err)
	}

	p.mu.Lock()
	changes := domain.DiffValues(p.snapshot, values)
	p.snapshot = values
	listeners := make([]domain.ChangeListener, 0, len(p.listeners))
	for _, l := range p.listeners {
		listeners = append(listeners, l)
	}
	p.mu.Unlock()

	if len(changes) == 0 {
		return nil
	}
	p.logger.Debug("settings changed", zap.Int("keys", len(changes)))
	for _, l := range listeners {
		l(domain.SyncNamespace, changes)
	}
	return nil
}

// Watch follows the store's backing file until ctx ends. Events arrive in
// bursts during an atomic replace, so refreshes are debounced.
func (p *StoreProvider) Watch(ctx context.Context, debounce time.Duration) error {
	path := p.store.WatchPath()
	if path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: rename-into-place replaces the file's inode.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if err := p.Refresh(); err != nil {
				p.logger.Warn("failed to refresh settings", zap.Error(err))
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.logger.Warn("settings watcher error", zap.Error(err))
		}
	}
}

// Close releases the store.
func (p *StoreProvider) Close() error {
	return p.store.Close()
}

// Ensure implementations satisfy interfaces
var (
	_ domain.SettingsProvider = (*StoreProvider)(nil)
	_ domain.RawSettingsStore = (*FileSettingsStore)(nil)
	_ domain.RawSettingsStore = (*EncryptedSettingsStore)(nil)
	_ domain.RawSettingsStore = (*MemorySettingsStore)(nil)
)
