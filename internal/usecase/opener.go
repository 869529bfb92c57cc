package usecase

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/dirlink/internal/dirurl"
	"github.com/eliteGoblin/focusd/dirlink/internal/domain"
)

// OpenResult describes what Open revealed.
type OpenResult struct {
	URI     string
	Path    string // Resolved native path
	Kind    dirurl.Kind
	IsDir   bool
	Manager string
}

// Opener is the handler side of the directory:// scheme: it turns a URI
// into a checked local path and shows it in the file manager.
type Opener struct {
	resolver domain.PathResolver
	manager  domain.FileManager
	logger   *zap.Logger
}

// NewOpener creates an opener.
func NewOpener(resolver domain.PathResolver, manager domain.FileManager, logger *zap.Logger) *Opener {
	return &Opener{
		resolver: resolver,
		manager:  manager,
		logger:   logger,
	}
}

// Open parses uri, requires the target to exist and reveals it. Directories
// are opened; files are selected inside their parent.
func (o *Opener) Open(uri string) (*OpenResult, error) {
	parsed, err := dirurl.Parse(uri)
	if err != nil {
		return nil, err
	}

	path, isDir, err := o.resolver.Resolve(parsed.Path)
	if err != nil {
		return nil, err
	}

	result := &OpenResult{
		URI:     uri,
		Path:    path,
		Kind:    parsed.Kind,
		IsDir:   isDir,
		Manager: o.manager.Name(),
	}

	o.logger.Info("revealing path",
		zap.String("path", path),
		zap.Bool("is_dir", isDir),
		zap.String("manager", result.Manager))

	if err := o.manager.Reveal(path, !isDir); err != nil {
		return result, fmt.Errorf("failed to open %s with %s: %w", path, result.Manager, err)
	}
	return result, nil
}
