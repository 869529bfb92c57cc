package infra

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/eliteGoblin/focusd/dirlink/internal/domain"
)

const (
	// URLScheme is the scheme this binary handles.
	URLScheme = "directory"

	// MimeType is the XDG scheme handler type for URLScheme.
	MimeType = "x-scheme-handler/" + URLScheme

	// BundleID identifies the macOS app bundle with Launch Services.
	BundleID = "com.focusd.dirlink"

	// NativeHostName is the native messaging host name extensions connect to.
	NativeHostName = "com.focusd.dirlink"

	desktopFileName = AppName + ".desktop"
	lsregisterPath  = "/System/Library/Frameworks/CoreServices.framework/Frameworks/LaunchServices.framework/Support/lsregister"
	windowsClassKey = `HKCU\Software\Classes\` + URLScheme
)

// BundleVersion is written into Info.plist. The CLI overrides it with its
// build version.
var BundleVersion = "1.0"

// ErrInvalidExecPath is returned when execPath cannot be embedded in a
// registration command line.
var ErrInvalidExecPath = errors.New("invalid executable path")

// Desktop entry template (XDG, per user or system wide)
const desktopEntryTemplate = `[Desktop Entry]
Type=Application
Name={{.Name}}
Comment=Directory URI Handler
Exec="{{.ExecutablePath}}" open %u
Terminal=false
NoDisplay=true
MimeType={{.MimeType}};
`

// Info.plist template for the handler app bundle
const infoPlistTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>CFBundleIdentifier</key>
    <string>{{.BundleID}}</string>
    <key>CFBundleName</key>
    <string>{{.Name}}</string>
    <key>CFBundleDisplayName</key>
    <string>{{.Name}}</string>
    <key>CFBundleExecutable</key>
    <string>{{.Name}}</string>
    <key>CFBundlePackageType</key>
    <string>APPL</string>
    <key>CFBundleVersion</key>
    <string>{{.Version}}</string>
    <key>CFBundleShortVersionString</key>
    <string>{{.Version}}</string>
    <key>LSBackgroundOnly</key>
    <true/>
    <key>CFBundleURLTypes</key>
    <array>
        <dict>
            <key>CFBundleURLName</key>
            <string>Directory URL</string>
            <key>CFBundleURLSchemes</key>
            <array>
                <string>{{.Scheme}}</string>
            </array>
        </dict>
    </array>
</dict>
</plist>
`

type registrationConfig struct {
	Name           string
	ExecutablePath string
	MimeType       string
	BundleID       string
	Scheme         string
	Version        string
}

func renderTemplate(name, tmplStr string, config registrationConfig) ([]byte, error) {
	tmpl, err := template.New(name).Parse(tmplStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s template: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, config); err != nil {
		return nil, fmt.Errorf("failed to execute %s template: %w", name, err)
	}
	return buf.Bytes(), nil
}

// fileDiffers reports whether path exists with content other than expected.
func fileDiffers(path string, expected []byte) bool {
	current, err := os.ReadFile(path)
	if err != nil {
		return !errors.Is(err, os.ErrNotExist)
	}
	return !bytes.Equal(current, expected)
}

// DesktopEntryInstaller registers the scheme handler through an XDG desktop
// entry and xdg-mime.
type DesktopEntryInstaller struct {
	dir    string
	path   string
	runner CommandRunner
}

// NewDesktopEntryInstaller creates an installer writing into dir
// (e.g. ~/.local/share/applications).
func NewDesktopEntryInstaller(dir string, runner CommandRunner) *DesktopEntryInstaller {
	return &DesktopEntryInstaller{
		dir:    dir,
		path:   filepath.Join(dir, desktopFileName),
		runner: runner,
	}
}

func (d *DesktopEntryInstaller) Name() string {
	return "desktop-entry"
}

func (d *DesktopEntryInstaller) generate(execPath string) ([]byte, error) {
	return renderTemplate("desktop", desktopEntryTemplate, registrationConfig{
		Name:           AppName,
		ExecutablePath: execPath,
		MimeType:       MimeType,
	})
}

// Install writes the desktop entry and makes it the default handler.
func (d *DesktopEntryInstaller) Install(execPath string) error {
	if strings.ContainsAny(execPath, "\"\n") {
		return fmt.Errorf("%w: %q", ErrInvalidExecPath, execPath)
	}
	if err := os.MkdirAll(d.dir, 0755); err != nil {
		return err
	}

	content, err := d.generate(execPath)
	if err != nil {
		return err
	}
	if err := os.WriteFile(d.path, content, 0644); err != nil {
		return err
	}

	// Missing on minimal systems; xdg-mime still works without the cache
	_ = d.runner.Run("update-desktop-database", d.dir)

	if err := d.runner.Run("xdg-mime", "default", desktopFileName, MimeType); err != nil {
		return fmt.Errorf("failed to set default handler for %s: %w", MimeType, err)
	}
	return nil
}

// Uninstall removes the desktop entry.
func (d *DesktopEntryInstaller) Uninstall() error {
	if err := os.Remove(d.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	_ = d.runner.Run("update-desktop-database", d.dir)
	return nil
}

func (d *DesktopEntryInstaller) IsInstalled() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

func (d *DesktopEntryInstaller) NeedsUpdate(execPath string) bool {
	if !d.IsInstalled() {
		return false
	}
	expected, err := d.generate(execPath)
	if err != nil {
		return true
	}
	return fileDiffers(d.path, expected)
}

func (d *DesktopEntryInstaller) Path() string {
	return d.path
}

// Status reports which desktop entry xdg-mime resolves the scheme to.
func (d *DesktopEntryInstaller) Status() string {
	out, err := d.runner.Output("xdg-mime", "query", "default", MimeType)
	if err != nil {
		return "unknown (xdg-mime unavailable)"
	}
	handler := strings.TrimSpace(string(out))
	switch handler {
	case desktopFileName:
		return "default handler"
	case "":
		return "not set"
	default:
		return handler + " (different handler)"
	}
}

// AppBundleInstaller registers the scheme through a background-only app
// bundle known to Launch Services.
type AppBundleInstaller struct {
	bundle string
	runner CommandRunner
}

// NewAppBundleInstaller creates an installer for <dir>/dirlink.app.
func NewAppBundleInstaller(dir string, runner CommandRunner) *AppBundleInstaller {
	return &AppBundleInstaller{
		bundle: filepath.Join(dir, AppName+".app"),
		runner: runner,
	}
}

func (a *AppBundleInstaller) Name() string {
	return "app-bundle"
}

func (a *AppBundleInstaller) plistPath() string {
	return filepath.Join(a.bundle, "Contents", "Info.plist")
}

func (a *AppBundleInstaller) executablePath() string {
	return filepath.Join(a.bundle, "Contents", "MacOS", AppName)
}

func (a *AppBundleInstaller) generate() ([]byte, error) {
	return renderTemplate("plist", infoPlistTemplate, registrationConfig{
		Name:     AppName,
		BundleID: BundleID,
		Scheme:   URLScheme,
		Version:  BundleVersion,
	})
}

// Install copies execPath into the bundle, writes Info.plist and registers
// the bundle with Launch Services.
func (a *AppBundleInstaller) Install(execPath string) error {
	if _, err := InstallBinary(execPath, a.executablePath()); err != nil {
		return err
	}

	content, err := a.generate()
	if err != nil {
		return err
	}
	if err := os.WriteFile(a.plistPath(), content, 0644); err != nil {
		return err
	}

	if err := a.runner.Run(lsregisterPath, "-register", a.bundle); err != nil {
		return fmt.Errorf("failed to register with Launch Services: %w", err)
	}
	return nil
}

// Uninstall unregisters and deletes the bundle.
func (a *AppBundleInstaller) Uninstall() error {
	if _, err := os.Stat(a.bundle); err != nil {
		return nil
	}
	_ = a.runner.Run(lsregisterPath, "-unregister", a.bundle)
	return os.RemoveAll(a.bundle)
}

func (a *AppBundleInstaller) IsInstalled() bool {
	_, err := os.Stat(a.executablePath())
	return err == nil
}

// NeedsUpdate reports a stale Info.plist or bundled binary.
func (a *AppBundleInstaller) NeedsUpdate(execPath string) bool {
	if !a.IsInstalled() {
		return false
	}
	expected, err := a.generate()
	if err != nil || fileDiffers(a.plistPath(), expected) {
		return true
	}

	want, err := computeSHA256(execPath)
	if err != nil {
		return true
	}
	have, err := computeSHA256(a.executablePath())
	return err != nil || want != have
}

func (a *AppBundleInstaller) Path() string {
	return a.bundle
}

// Status checks the Launch Services database for the bundle id.
func (a *AppBundleInstaller) Status() string {
	out, err := a.runner.Output(lsregisterPath, "-dump")
	if err != nil {
		return "unknown (lsregister unavailable)"
	}
	if bytes.Contains(out, []byte(BundleID)) {
		return "registered"
	}
	return "not registered"
}

// WindowsProtocolInstaller registers the scheme under HKCU\Software\Classes
// with reg.exe.
type WindowsProtocolInstaller struct {
	runner CommandRunner
}

// NewWindowsProtocolInstaller creates a per-user protocol installer.
func NewWindowsProtocolInstaller(runner CommandRunner) *WindowsProtocolInstaller {
	return &WindowsProtocolInstaller{runner: runner}
}

func (w *WindowsProtocolInstaller) Name() string {
	return "url-protocol"
}

func (w *WindowsProtocolInstaller) commandKey() string {
	return windowsClassKey + `\shell\open\command`
}

func windowsOpenCommand(execPath string) string {
	return fmt.Sprintf(`"%s" open "%%1"`, execPath)
}

// Install writes the protocol keys.
func (w *WindowsProtocolInstaller) Install(execPath string) error {
	if strings.Contains(execPath, `"`) {
		return fmt.Errorf("%w: contains double quote", ErrInvalidExecPath)
	}

	steps := [][]string{
		{"add", windowsClassKey, "/ve", "/d", "URL:Directory Protocol", "/f"},
		{"add", windowsClassKey, "/v", "URL Protocol", "/d", "", "/f"},
		{"add", w.commandKey(), "/ve", "/d", windowsOpenCommand(execPath), "/f"},
	}
	for _, args := range steps {
		if err := w.runner.Run("reg", args...); err != nil {
			return fmt.Errorf("failed to write registry key %s: %w", args[1], err)
		}
	}
	return nil
}

// Uninstall deletes the protocol key tree.
func (w *WindowsProtocolInstaller) Uninstall() error {
	if !w.IsInstalled() {
		return nil
	}
	return w.runner.Run("reg", "delete", windowsClassKey, "/f")
}

func (w *WindowsProtocolInstaller) IsInstalled() bool {
	return w.runner.Run("reg", "query", windowsClassKey) == nil
}

// NeedsUpdate compares the registered open command with execPath.
func (w *WindowsProtocolInstaller) NeedsUpdate(execPath string) bool {
	if !w.IsInstalled() {
		return false
	}
	out, err := w.runner.Output("reg", "query", w.commandKey(), "/ve")
	if err != nil {
		return true
	}
	return !strings.Contains(string(out), windowsOpenCommand(execPath))
}

func (w *WindowsProtocolInstaller) Path() string {
	return windowsClassKey
}

func (w *WindowsProtocolInstaller) Status() string {
	if w.IsInstalled() {
		return "registered"
	}
	return "not registered"
}

// NativeHostManifest is the browser native messaging host manifest.
type NativeHostManifest struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Path           string   `json:"path"`
	Type           string   `json:"type"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// NativeHostInstaller writes the native messaging manifest into every
// browser manifest directory so an extension can start `dirlink host`.
type NativeHostInstaller struct {
	dirs        []string
	extensionID string
}

// NewNativeHostInstaller creates a manifest installer for the given
// extension id.
func NewNativeHostInstaller(dirs []string, extensionID string) *NativeHostInstaller {
	return &NativeHostInstaller{dirs: dirs, extensionID: extensionID}
}

func (n *NativeHostInstaller) Name() string {
	return "native-host"
}

func (n *NativeHostInstaller) manifestPaths() []string {
	paths := make([]string, 0, len(n.dirs))
	for _, dir := range n.dirs {
		paths = append(paths, filepath.Join(dir, NativeHostName+".json"))
	}
	return paths
}

func (n *NativeHostInstaller) generate(execPath string) ([]byte, error) {
	manifest := NativeHostManifest{
		Name:           NativeHostName,
		Description:    "dirlink directory opener",
		Path:           execPath,
		Type:           "stdio",
		AllowedOrigins: []string{"chrome-extension://" + n.extensionID + "/"},
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Install writes the manifest into each directory.
func (n *NativeHostInstaller) Install(execPath string) error {
	if n.extensionID == "" {
		return errors.New("native host requires an extension id")
	}
	if len(n.dirs) == 0 {
		return errors.New("no native messaging directories for this platform")
	}

	content, err := n.generate(execPath)
	if err != nil {
		return fmt.Errorf("failed to generate manifest: %w", err)
	}
	for _, path := range n.manifestPaths() {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(path, content, 0644); err != nil {
			return err
		}
	}
	return nil
}

// Uninstall removes every manifest.
func (n *NativeHostInstaller) Uninstall() error {
	var errs []error
	for _, path := range n.manifestPaths() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (n *NativeHostInstaller) IsInstalled() bool {
	for _, path := range n.manifestPaths() {
		if _, err := os.Stat(path); err == nil {
			return true
		}
	}
	return false
}

// NeedsUpdate reports any installed manifest pointing somewhere else.
func (n *NativeHostInstaller) NeedsUpdate(execPath string) bool {
	if !n.IsInstalled() {
		return false
	}
	for _, path := range n.manifestPaths() {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var m NativeHostManifest
		if err := json.Unmarshal(data, &m); err != nil || m.Path != execPath {
			return true
		}
		if n.extensionID != "" && !containsString(m.AllowedOrigins, "chrome-extension://"+n.extensionID+"/") {
			return true
		}
	}
	return false
}

func (n *NativeHostInstaller) Path() string {
	paths := n.manifestPaths()
	if len(paths) == 0 {
		return ""
	}
	return paths[0]
}

// Status lists which browsers have the manifest.
func (n *NativeHostInstaller) Status() string {
	var found []string
	for _, path := range n.manifestPaths() {
		if _, err := os.Stat(path); err == nil {
			found = append(found, filepath.Dir(path))
		}
	}
	if len(found) == 0 {
		return "not installed"
	}
	return "installed in " + strings.Join(found, ", ")
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// SchemeInstaller returns the OS scheme registration for config.GOOS.
func SchemeInstaller(config *ExecModeConfig, runner CommandRunner) domain.HandlerInstaller {
	switch config.GOOS {
	case "windows":
		return NewWindowsProtocolInstaller(runner)
	case "darwin":
		return NewAppBundleInstaller(config.AppBundleDir, runner)
	default:
		return NewDesktopEntryInstaller(config.DesktopDir, runner)
	}
}

// Ensure installers implement domain.HandlerInstaller.
var (
	_ domain.HandlerInstaller = (*DesktopEntryInstaller)(nil)
	_ domain.HandlerInstaller = (*AppBundleInstaller)(nil)
	_ domain.HandlerInstaller = (*WindowsProtocolInstaller)(nil)
	_ domain.HandlerInstaller = (*NativeHostInstaller)(nil)
)
