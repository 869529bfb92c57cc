// Package fixtures provides test helpers for integration tests.
package fixtures

import (
	"embed"
	"os"
	"path/filepath"
)

//go:embed pages/*.html
var pages embed.FS

// Page returns the markup of pages/<name>.html.
func Page(name string) string {
	data, err := pages.ReadFile("pages/" + name + ".html")
	if err != nil {
		panic(err)
	}
	return string(data)
}

// FakeShare creates a directory tree mimicking a mounted file share.
type FakeShare struct {
	Root string
}

// NewFakeShare creates a new fake share generator under root.
func NewFakeShare(root string) *FakeShare {
	return &FakeShare{Root: root}
}

// Create creates the fake share directory structure.
func (f *FakeShare) Create() error {
	dirs := []string{
		f.ProjectsDir(),
		filepath.Join(f.ProjectsDir(), "report 2024"),
		filepath.Join(f.Root, "Archive"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return err
		}
	}

	if err := os.WriteFile(f.NotesFile(), []byte("meeting notes\n"), 0644); err != nil {
		return err
	}

	// Shortcut that resolves into the projects dir
	return os.Symlink(f.ProjectsDir(), filepath.Join(f.Root, "current"))
}

// ProjectsDir is a directory containing a space-named child.
func (f *FakeShare) ProjectsDir() string {
	return filepath.Join(f.Root, "Projects")
}

// NotesFile is a regular file inside ProjectsDir.
func (f *FakeShare) NotesFile() string {
	return filepath.Join(f.ProjectsDir(), "notes.txt")
}

// Exists checks if the fake share exists.
func (f *FakeShare) Exists() bool {
	_, err := os.Stat(f.ProjectsDir())
	return err == nil
}
