package policy

import (
	"github.com/eliteGoblin/focusd/dirlink/internal/domain"
)

// Engine holds the settings cache for one page and answers policy questions
// against it. It is owned by the page loop and is not safe for concurrent use.
type Engine struct {
	settings domain.Settings
}

// NewEngine creates an engine seeded with the built-in defaults.
func NewEngine() *Engine {
	return &Engine{settings: domain.DefaultSettings()}
}

// NewEngineWithSettings creates an engine with explicit settings (for testing).
func NewEngineWithSettings(s domain.Settings) *Engine {
	return &Engine{settings: s.Clone()}
}

// Settings returns a copy of the cached settings.
func (e *Engine) Settings() domain.Settings {
	return e.settings.Clone()
}

// Replace swaps the whole cache, used once after the initial load.
func (e *Engine) Replace(s domain.Settings) {
	e.settings = s.Clone()
}

// Apply updates recognized keys from a change notification.
func (e *Engine) Apply(changes map[string]domain.SettingChange) []string {
	return e.settings.ApplyPatch(changes)
}

// ShowIndicator reports whether matched links get a visual marker.
func (e *Engine) ShowIndicator() bool {
	return e.settings.ShowIndicator
}

// Active reports whether interception applies on hostname right now.
func (e *Engine) Active(hostname string) bool {
	return e.settings.Enabled && IsDomainAllowed(hostname, e.settings)
}

// Rewrite converts href to the target scheme.
func (e *Engine) Rewrite(href string) (string, bool) {
	return RewriteURL(href)
}
