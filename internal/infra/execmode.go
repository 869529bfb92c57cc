package infra

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
)

// ExecMode represents the execution mode of the application.
type ExecMode string

const (
	// ExecModeUser registers for the current user only (no sudo required)
	ExecModeUser ExecMode = "user"
	// ExecModeSystem registers machine-wide (sudo required)
	ExecModeSystem ExecMode = "system"
)

// AppName is the binary, desktop entry and bundle name.
const AppName = "dirlink"

// ExecModeConfig holds paths and settings based on execution mode.
type ExecModeConfig struct {
	Mode           ExecMode
	GOOS           string
	BinaryPath     string   // Where the binary is installed by register
	DataDir        string   // Settings database, key, config and logs
	LogPath        string   // Log file inside DataDir
	ConfigPath     string   // Optional YAML config inside DataDir
	DesktopDir     string   // XDG applications dir (linux)
	AppBundleDir   string   // Applications dir holding the .app bundle (darwin)
	NativeHostDirs []string // Browser native messaging manifest dirs
	IsRoot         bool
}

// DetectExecMode determines the execution mode based on effective UID.
func DetectExecMode() *ExecModeConfig {
	home, _ := os.UserHomeDir()
	return execModeConfigFor(runtime.GOOS, home, os.Geteuid() == 0)
}

// GetUserModeConfig returns user mode config regardless of current euid.
// Under sudo the invoking user's home is used.
func GetUserModeConfig() *ExecModeConfig {
	config := execModeConfigFor(runtime.GOOS, GetRealUserHome(), false)
	config.IsRoot = os.Geteuid() == 0 // Still track actual root status for permission operations
	return config
}

func execModeConfigFor(goos, home string, root bool) *ExecModeConfig {
	c := &ExecModeConfig{GOOS: goos, IsRoot: root, Mode: ExecModeUser}
	if root && goos != "windows" {
		c.Mode = ExecModeSystem
	}

	switch {
	case goos == "windows":
		local := os.Getenv("LOCALAPPDATA")
		if local == "" {
			local = filepath.Join(home, "AppData", "Local")
		}
		c.DataDir = filepath.Join(local, AppName)
		c.BinaryPath = filepath.Join(c.DataDir, AppName+".exe")

	case c.Mode == ExecModeSystem:
		c.BinaryPath = filepath.Join("/usr/local/bin", AppName)
		c.DataDir = filepath.Join("/var/lib", AppName)
		if goos == "darwin" {
			c.AppBundleDir = "/Applications"
			c.NativeHostDirs = []string{
				"/Library/Google/Chrome/NativeMessagingHosts",
				"/Library/Application Support/Chromium/NativeMessagingHosts",
			}
		} else {
			c.DesktopDir = "/usr/share/applications"
			c.NativeHostDirs = []string{
				"/etc/opt/chrome/native-messaging-hosts",
				"/etc/chromium/native-messaging-hosts",
			}
		}

	case goos == "darwin":
		support := filepath.Join(home, "Library", "Application Support")
		c.BinaryPath = filepath.Join(home, ".local", "bin", AppName)
		c.DataDir = filepath.Join(support, AppName)
		c.AppBundleDir = filepath.Join(home, "Applications")
		c.NativeHostDirs = []string{
			filepath.Join(support, "Google", "Chrome", "NativeMessagingHosts"),
			filepath.Join(support, "Chromium", "NativeMessagingHosts"),
		}

	default:
		config := filepath.Join(home, ".config")
		c.BinaryPath = filepath.Join(home, ".local", "bin", AppName)
		c.DataDir = filepath.Join(config, AppName)
		c.DesktopDir = filepath.Join(home, ".local", "share", "applications")
		c.NativeHostDirs = []string{
			filepath.Join(config, "google-chrome", "NativeMessagingHosts"),
			filepath.Join(config, "chromium", "NativeMessagingHosts"),
		}
	}

	c.LogPath = filepath.Join(c.DataDir, AppName+".log")
	c.ConfigPath = filepath.Join(c.DataDir, "config.yaml")
	return c
}

// String returns a human-readable description of the mode.
func (m ExecMode) String() string {
	switch m {
	case ExecModeSystem:
		return "system (all users, root)"
	case ExecModeUser:
		return "user (current user, non-root)"
	default:
		return "unknown"
	}
}

// GetRealUserHome returns the real user's home directory, even when running under sudo.
func GetRealUserHome() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			return u.HomeDir
		}
	}
	home, _ := os.UserHomeDir()
	return home
}
