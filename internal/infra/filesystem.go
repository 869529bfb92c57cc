package infra

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/eliteGoblin/focusd/dirlink/internal/domain"
)

// ErrPathNotFound is returned by Resolve for paths that do not exist.
var ErrPathNotFound = errors.New("path does not exist")

// FileSystemImpl implements domain.PathResolver.
type FileSystemImpl struct {
	homeDir string
}

// NewFileSystem creates a resolver for the current user.
func NewFileSystem() *FileSystemImpl {
	home, _ := os.UserHomeDir()
	return &FileSystemImpl{homeDir: home}
}

// NewFileSystemWithHome creates a resolver with custom home (for testing).
func NewFileSystemWithHome(home string) *FileSystemImpl {
	return &FileSystemImpl{homeDir: home}
}

// Resolve requires path to exist and returns it absolute with symlinks
// resolved, so the file manager never sees a path that escapes through a link.
func (fs *FileSystemImpl) Resolve(path string) (string, bool, error) {
	expanded := fs.ExpandHome(path)

	if _, err := os.Stat(expanded); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("%w: %s", ErrPathNotFound, expanded)
		}
		return "", false, fmt.Errorf("failed to stat %s: %w", expanded, err)
	}

	resolved, err := filepath.EvalSymlinks(expanded)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve path %s: %w", expanded, err)
	}
	resolved, err = filepath.Abs(resolved)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve path %s: %w", expanded, err)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", false, fmt.Errorf("failed to stat %s: %w", resolved, err)
	}
	return resolved, info.IsDir(), nil
}

// ExpandHome expands ~ to the user's home directory.
func (fs *FileSystemImpl) ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(fs.homeDir, path[2:])
	}
	if path == "~" {
		return fs.homeDir
	}
	return path
}

// Ensure FileSystemImpl implements domain.PathResolver.
var _ domain.PathResolver = (*FileSystemImpl)(nil)
