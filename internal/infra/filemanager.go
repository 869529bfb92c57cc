package infra

import (
	"fmt"
	"net/url"
	"path/filepath"
	"runtime"

	"github.com/eliteGoblin/focusd/dirlink/internal/domain"
)

// ExplorerFileManager reveals paths with Windows Explorer.
type ExplorerFileManager struct {
	goos    string
	starter ProcessStarter
}

// NewExplorerFileManager creates an Explorer opener.
func NewExplorerFileManager(goos string, starter ProcessStarter) *ExplorerFileManager {
	return &ExplorerFileManager{goos: goos, starter: starter}
}

func (e *ExplorerFileManager) Name() string {
	return "explorer"
}

func (e *ExplorerFileManager) IsAvailable() bool {
	return e.goos == "windows"
}

// Reveal opens the folder, or its parent with the file selected.
func (e *ExplorerFileManager) Reveal(path string, isFile bool) error {
	arg := path
	if isFile {
		arg = "/select," + path
	}
	_, err := e.starter.Start("explorer.exe", arg)
	return err
}

// FinderFileManager reveals paths with the macOS open command.
type FinderFileManager struct {
	goos    string
	starter ProcessStarter
}

// NewFinderFileManager creates a Finder opener.
func NewFinderFileManager(goos string, starter ProcessStarter) *FinderFileManager {
	return &FinderFileManager{goos: goos, starter: starter}
}

func (f *FinderFileManager) Name() string {
	return "open"
}

func (f *FinderFileManager) IsAvailable() bool {
	return f.goos == "darwin"
}

// Reveal opens the folder, or selects the file in its parent (open -R).
func (f *FinderFileManager) Reveal(path string, isFile bool) error {
	args := []string{path}
	if isFile {
		args = []string{"-R", path}
	}
	_, err := f.starter.Start("open", args...)
	return err
}

// FreedesktopFileManager reveals paths on Linux and BSD desktops. Files are
// selected through the org.freedesktop.FileManager1 D-Bus interface when
// dbus-send exists; otherwise the parent directory is opened with xdg-open.
type FreedesktopFileManager struct {
	goos    string
	starter ProcessStarter
	runner  CommandRunner
}

// NewFreedesktopFileManager creates an XDG opener.
func NewFreedesktopFileManager(goos string, starter ProcessStarter, runner CommandRunner) *FreedesktopFileManager {
	return &FreedesktopFileManager{goos: goos, starter: starter, runner: runner}
}

func (x *FreedesktopFileManager) Name() string {
	return "xdg"
}

func (x *FreedesktopFileManager) IsAvailable() bool {
	if x.goos == "windows" || x.goos == "darwin" {
		return false
	}
	_, err := x.runner.LookPath("xdg-open")
	return err == nil
}

// Reveal opens the directory, or asks the file manager to show the file.
func (x *FreedesktopFileManager) Reveal(path string, isFile bool) error {
	if !isFile {
		_, err := x.starter.Start("xdg-open", path)
		return err
	}

	fileURI := (&url.URL{Scheme: "file", Path: path}).String()
	_, err := x.starter.Start("dbus-send",
		"--session",
		"--dest=org.freedesktop.FileManager1",
		"--type=method_call",
		"/org/freedesktop/FileManager1",
		"org.freedesktop.FileManager1.ShowItems",
		"array:string:"+fileURI,
		"string:",
	)
	if err == nil {
		return nil
	}

	// No D-Bus: open the containing directory without selection
	_, err = x.starter.Start("xdg-open", filepath.Dir(path))
	return err
}

// FileManagers returns every opener known for goos, most specific first.
func FileManagers(goos string, starter ProcessStarter, runner CommandRunner) []domain.FileManager {
	return []domain.FileManager{
		NewExplorerFileManager(goos, starter),
		NewFinderFileManager(goos, starter),
		NewFreedesktopFileManager(goos, starter, runner),
	}
}

// SelectFileManager returns the first available opener.
func SelectFileManager(managers []domain.FileManager) (domain.FileManager, error) {
	for _, m := range managers {
		if m.IsAvailable() {
			return m, nil
		}
	}
	return nil, fmt.Errorf("no file manager available on %s", runtime.GOOS)
}

// NewFileManager returns the opener for this platform.
func NewFileManager() (domain.FileManager, error) {
	return SelectFileManager(FileManagers(runtime.GOOS, &RealProcessStarter{}, &RealCommandRunner{}))
}

// Ensure implementations satisfy interfaces
var (
	_ domain.FileManager = (*ExplorerFileManager)(nil)
	_ domain.FileManager = (*FinderFileManager)(nil)
	_ domain.FileManager = (*FreedesktopFileManager)(nil)
)
