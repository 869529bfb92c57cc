package page

import (
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/eliteGoblin/focusd/dirlink/internal/domain"
)

// Overlay and indicator markup shared by every page implementation.
const (
	ToastClass           = "dirlink-toast"
	ToastErrorModifier   = "dirlink-toast--error"
	ToastSuccessModifier = "dirlink-toast--success"

	toastBaseStyle = "position: fixed; top: 16px; right: 16px; z-index: 2147483647; " +
		"max-width: 420px; padding: 10px 14px; border-radius: 6px; " +
		"font: 13px/1.4 system-ui, sans-serif; color: #fff; " +
		"box-shadow: 0 2px 8px rgba(0, 0, 0, 0.3);"
	toastErrorStyle   = " background: #c62828;"
	toastSuccessStyle = " background: #2e7d32;"
)

// DefaultIndicator is the folder marker appended to converted links.
var DefaultIndicator = domain.Indicator{
	Class: "dirlink-indicator",
	Text:  " \U0001F4C2",
	Title: "Opens in file manager (dirlink)",
	Style: "font-size: 0.8em; opacity: 0.7;",
}

var stripPolicy = bluemonday.StrictPolicy()

// ToastText strips markup from a message before it is shown as plain text.
// Error strings from launchers sometimes carry HTML fragments.
func ToastText(msg string) string {
	return strings.TrimSpace(html.UnescapeString(stripPolicy.Sanitize(msg)))
}

// ToastClassFor returns the class attribute for a notification kind.
func ToastClassFor(kind domain.NotificationKind) string {
	if kind == domain.NotifySuccess {
		return ToastClass + " " + ToastSuccessModifier
	}
	return ToastClass + " " + ToastErrorModifier
}

// ToastStyleFor returns the inline style for a notification kind.
func ToastStyleFor(kind domain.NotificationKind) string {
	if kind == domain.NotifySuccess {
		return toastBaseStyle + toastSuccessStyle
	}
	return toastBaseStyle + toastErrorStyle
}

// ToastTimeout returns n.Timeout or the default.
func ToastTimeout(n domain.Notification) time.Duration {
	if n.Timeout > 0 {
		return n.Timeout
	}
	return domain.DefaultNotificationTimeout
}
