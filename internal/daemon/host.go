// Package daemon runs the long-lived side of dirlink: the native messaging
// host that Chrome starts on demand.
package daemon

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/dirlink/internal/dispatch"
	"github.com/eliteGoblin/focusd/dirlink/internal/domain"
)

// HostConfig holds host tunables.
type HostConfig struct {
	ShutdownTimeout time.Duration // Upper bound on flushing pending cleanups
	RepairOnStart   bool          // Rewrite registrations that point at another binary
}

// DefaultHostConfig returns default host configuration.
func DefaultHostConfig() HostConfig {
	return HostConfig{
		ShutdownTimeout: 10 * time.Second,
		RepairOnStart:   true,
	}
}

// FlushingHandler is a request handler with deferred cleanups.
type FlushingHandler interface {
	dispatch.RequestHandler
	Flush()
}

// Host serves native messaging requests on a byte stream until the browser
// closes it.
//
// The stream is the protocol channel: the host logs to the logger only, and
// nothing else may write to out.
type Host struct {
	config  HostConfig
	handler FlushingHandler
	in      io.Reader
	out     io.Writer
	logger  *zap.Logger

	execPath      string
	registrations []domain.HandlerInstaller
}

// NewHost creates a host reading from in and answering on out.
func NewHost(config HostConfig, handler FlushingHandler, in io.Reader, out io.Writer, logger *zap.Logger) *Host {
	return &Host{
		config:  config,
		handler: handler,
		in:      in,
		out:     out,
		logger:  logger,
	}
}

// WithRegistrations makes the host keep installers pointed at execPath.
func (h *Host) WithRegistrations(execPath string, installers ...domain.HandlerInstaller) *Host {
	h.execPath = execPath
	h.registrations = installers
	return h
}

// Run blocks until the stream ends or ctx is canceled, then flushes pending
// cleanups. A clean end of stream and cancellation both return nil.
func (h *Host) Run(ctx context.Context) error {
	h.logger.Info("native host started", zap.Int("pid", os.Getpid()))

	if h.config.RepairOnStart {
		h.ensureRegistrations()
	}

	server := dispatch.NewNativeServer(h.in, h.out, h.handler, h.logger)
	err := server.Serve(ctx)

	h.shutdown()

	if err != nil && !errors.Is(err, context.Canceled) {
		h.logger.Error("native host stopped", zap.Error(err))
		return err
	}
	h.logger.Info("native host stopped")
	return nil
}

// shutdown waits for scheduled cleanups so no launch context outlives the
// process. Each cleanup keeps its delay; Chrome closes stdin right after
// reading a one-shot response.
func (h *Host) shutdown() {
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.handler.Flush()
	}()

	if h.config.ShutdownTimeout <= 0 {
		<-done
		return
	}

	select {
	case <-done:
	case <-time.After(h.config.ShutdownTimeout):
		h.logger.Warn("gave up waiting for cleanups", zap.Duration("timeout", h.config.ShutdownTimeout))
	}
}

// ensureRegistrations rewrites registrations that exist but point at another
// binary, e.g. after the binary moved. Missing ones are left alone: the user
// may have unregistered on purpose.
func (h *Host) ensureRegistrations() {
	if h.execPath == "" {
		return
	}

	for _, r := range h.registrations {
		if !r.IsInstalled() || !r.NeedsUpdate(h.execPath) {
			continue
		}

		h.logger.Info("registration outdated, updating...", zap.String("registration", r.Name()))
		if err := r.Install(h.execPath); err != nil {
			h.logger.Error("failed to update registration", zap.String("registration", r.Name()), zap.Error(err))
		} else {
			h.logger.Info("registration updated", zap.String("registration", r.Name()), zap.String("path", r.Path()))
		}
	}
}

// SignalContext returns a context canceled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
