package infra

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/dirlink/internal/domain"
)

// OpenerCommand returns the OS command that hands a URL to its registered
// protocol handler on goos.
func OpenerCommand(goos string) []string {
	switch goos {
	case "darwin":
		return []string{"open"}
	case "windows":
		return []string{"rundll32", "url.dll,FileProtocolHandler"}
	default:
		return []string{"xdg-open"}
	}
}

// ExecLauncher implements domain.Launcher by running the OS opener as a
// short-lived detached process. Cleanup kills the opener if it is still
// around; the protocol handler it spawned is left alone.
type ExecLauncher struct {
	opener  []string
	starter ProcessStarter
	logger  *zap.Logger

	mu       sync.Mutex
	seq      uint64
	children map[string]Child
}

// NewExecLauncher creates a launcher for the current platform.
func NewExecLauncher(logger *zap.Logger) *ExecLauncher {
	return NewExecLauncherWithDeps(OpenerCommand(runtime.GOOS), &RealProcessStarter{}, logger)
}

// NewExecLauncherWithDeps creates a launcher with injectable dependencies (for testing)
func NewExecLauncherWithDeps(opener []string, starter ProcessStarter, logger *zap.Logger) *ExecLauncher {
	return &ExecLauncher{
		opener:   opener,
		starter:  starter,
		logger:   logger,
		children: make(map[string]Child),
	}
}

// Launch starts the opener for url.
func (l *ExecLauncher) Launch(ctx context.Context, url string) (domain.LaunchHandle, error) {
	if err := ctx.Err(); err != nil {
		return domain.LaunchHandle{}, err
	}
	if len(l.opener) == 0 {
		return domain.LaunchHandle{}, fmt.Errorf("no opener configured")
	}

	args := append(append([]string(nil), l.opener[1:]...), url)
	child, err := l.starter.Start(l.opener[0], args...)
	if err != nil {
		return domain.LaunchHandle{}, fmt.Errorf("failed to start %s: %w", l.opener[0], err)
	}

	l.mu.Lock()
	l.seq++
	id := fmt.Sprintf("exec-%d", l.seq)
	l.children[id] = child
	l.mu.Unlock()

	l.logger.Debug("opener started", zap.String("cmd", l.opener[0]), zap.Int("pid", child.Pid()))
	return domain.LaunchHandle{URL: url, PID: child.Pid(), ID: id}, nil
}

// Cleanup kills the opener behind h if it has not exited yet. Handles this
// launcher did not create, or already cleaned, are ignored.
func (l *ExecLauncher) Cleanup(ctx context.Context, h domain.LaunchHandle) error {
	l.mu.Lock()
	child, ok := l.children[h.ID]
	delete(l.children, h.ID)
	l.mu.Unlock()

	if !ok || child.Exited() {
		return nil
	}
	if err := child.Kill(); err != nil {
		return fmt.Errorf("failed to kill opener %d: %w", child.Pid(), err)
	}
	l.logger.Debug("opener killed", zap.Int("pid", child.Pid()))
	return nil
}

// Ensure ExecLauncher implements domain.Launcher.
var _ domain.Launcher = (*ExecLauncher)(nil)
