// Package dispatch implements the privileged side of the rewrite pipeline:
// the handler that opens rewritten URLs and the transports that carry
// requests to it.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/dirlink/internal/domain"
)

// DefaultCleanupDelay gives the OS handler time to pick up the URL before
// the launch context is torn down.
const DefaultCleanupDelay = 500 * time.Millisecond

var (
	// ErrClosed is returned when a transport is closed before a response arrives.
	ErrClosed = errors.New("dispatch channel closed")

	// ErrMessageTooLarge is returned for native messages over the size limit.
	ErrMessageTooLarge = errors.New("native message too large")
)

// RequestHandler answers one rewrite request. Failures are reported in the
// result, never as a Go error.
type RequestHandler interface {
	Handle(ctx context.Context, req domain.RewriteRequest) domain.RewriteResult
}

// HandlerConfig holds handler tunables.
type HandlerConfig struct {
	CleanupDelay   time.Duration // Delay between a successful launch and cleanup
	CleanupTimeout time.Duration // Upper bound on one cleanup call
}

// DefaultHandlerConfig returns default handler configuration.
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		CleanupDelay:   DefaultCleanupDelay,
		CleanupTimeout: 5 * time.Second,
	}
}

// Handler performs the open-and-cleanup sequence through a Launcher.
type Handler struct {
	launcher domain.Launcher
	config   HandlerConfig
	logger   *zap.Logger

	cleanups sync.WaitGroup
}

// NewHandler creates a handler around launcher.
func NewHandler(launcher domain.Launcher, config HandlerConfig, logger *zap.Logger) *Handler {
	if config.CleanupDelay < 0 {
		config.CleanupDelay = 0
	}
	return &Handler{
		launcher: launcher,
		config:   config,
		logger:   logger,
	}
}

// Handle validates req, launches its URL and schedules cleanup. The result
// is returned once cleanup is scheduled; cleanup itself is never awaited.
func (h *Handler) Handle(ctx context.Context, req domain.RewriteRequest) domain.RewriteResult {
	res := domain.RewriteResult{ID: req.ID}

	if req.Action != domain.ActionOpenDirectory {
		res.Error = fmt.Sprintf("unknown action: %q", req.Action)
		return res
	}
	if req.URL == "" {
		res.Error = "missing url"
		return res
	}

	handle, err := h.launcher.Launch(ctx, req.URL)
	if err != nil {
		h.logger.Warn("launch failed", zap.String("url", req.URL), zap.Error(err))
		res.Error = err.Error()
		return res
	}

	h.scheduleCleanup(handle)

	h.logger.Debug("launched", zap.String("url", req.URL), zap.Int("pid", handle.PID))
	res.Success = true
	return res
}

// Dispatch lets a Handler serve as an in-process domain.Dispatcher.
func (h *Handler) Dispatch(ctx context.Context, req domain.RewriteRequest) (domain.RewriteResult, error) {
	return h.Handle(ctx, req), nil
}

func (h *Handler) scheduleCleanup(handle domain.LaunchHandle) {
	h.cleanups.Add(1)
	time.AfterFunc(h.config.CleanupDelay, func() {
		h.cleanup(handle)
	})
}

func (h *Handler) cleanup(handle domain.LaunchHandle) {
	defer h.cleanups.Done()
	defer func() {
		if r := recover(); r != nil {
			h.logger.Debug("cleanup panicked", zap.Any("panic", r))
		}
	}()

	ctx := context.Background()
	if h.config.CleanupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.config.CleanupTimeout)
		defer cancel()
	}

	if err := h.launcher.Cleanup(ctx, handle); err != nil {
		h.logger.Debug("cleanup failed", zap.String("url", handle.URL), zap.Error(err))
	}
}

// Flush waits for every scheduled cleanup to run. Each one still fires at
// its own deadline, so a launch that just happened keeps its full delay.
// Callers must stop submitting requests first; the native host bounds the
// wait with its shutdown timeout.
func (h *Handler) Flush() {
	h.cleanups.Wait()
}

// Ensure Handler can be used directly as a Dispatcher.
var (
	_ RequestHandler    = (*Handler)(nil)
	_ domain.Dispatcher = (*Handler)(nil)
)
