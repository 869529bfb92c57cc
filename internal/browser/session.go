package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// Config controls how Chrome is reached.
type Config struct {
	// RemoteURL is the DevTools WebSocket URL of a running Chrome.
	// Empty launches a local Chrome.
	RemoteURL  string
	Headless   bool
	Bin        string // Chrome binary; empty lets rod find or download one
	NavTimeout time.Duration
}

func (c *Config) defaults() {
	if c.NavTimeout <= 0 {
		c.NavTimeout = 30 * time.Second
	}
}

// AttachFunc is called for every document loaded in a session's tab. The
// returned func is called when that document goes away.
type AttachFunc func(p *LivePage) (detach func())

// Session is one Chrome connection with a single interactive tab.
type Session struct {
	cfg     Config
	browser *rod.Browser
	lnch    *launcher.Launcher
	logger  *zap.Logger

	mu      sync.Mutex
	current *LivePage
	detach  func()
}

// Start launches or connects to Chrome.
func Start(cfg Config, logger *zap.Logger) (*Session, error) {
	cfg.defaults()
	s := &Session{cfg: cfg, logger: logger}

	wsURL := cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().Headless(cfg.Headless)
		if cfg.Bin != "" {
			l = l.Bin(cfg.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("failed to launch chrome: %w", err)
		}
		wsURL = u
		s.lnch = l
		logger.Info("launched local chrome", zap.String("url", wsURL), zap.Bool("headless", cfg.Headless))
	} else {
		logger.Info("connecting to remote chrome", zap.String("url", wsURL))
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		s.killLauncher()
		return nil, fmt.Errorf("failed to connect to chrome: %w", err)
	}
	s.browser = b
	return s, nil
}

// Open navigates a new tab to pageURL and runs attach for each document the
// tab loads, until ctx ends or the tab is closed.
func (s *Session) Open(ctx context.Context, pageURL, filter string, attach AttachFunc) error {
	rp, err := s.browser.Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		return fmt.Errorf("failed to create tab: %w", err)
	}
	rp = rp.Context(ctx)

	// Subscribe before navigating so the first load is not missed
	wait := rp.EachEvent(
		func(e *proto.PageLoadEventFired) {
			s.reattach(ctx, rp, filter, attach)
		},
		func(e *proto.InspectorDetached) bool {
			s.logger.Info("tab closed", zap.String("reason", e.Reason))
			return true
		},
	)

	navCtx, cancel := context.WithTimeout(ctx, s.cfg.NavTimeout)
	err = rp.Context(navCtx).Navigate(pageURL)
	cancel()
	if err != nil {
		_ = rp.Close()
		return fmt.Errorf("failed to navigate to %s: %w", pageURL, err)
	}

	wait()
	s.detachCurrent()
	return nil
}

func (s *Session) reattach(ctx context.Context, rp *rod.Page, filter string, attach AttachFunc) {
	s.detachCurrent()

	p, err := Attach(ctx, rp, filter, s.logger)
	if err != nil {
		s.logger.Warn("failed to attach to page", zap.Error(err))
		return
	}

	s.mu.Lock()
	s.current = p
	s.detach = attach(p)
	s.mu.Unlock()
}

func (s *Session) detachCurrent() {
	s.mu.Lock()
	p, detach := s.current, s.detach
	s.current, s.detach = nil, nil
	s.mu.Unlock()

	if detach != nil {
		detach()
	}
	if p != nil {
		p.Close()
	}
}

// Close disconnects and, for a launched Chrome, kills it.
func (s *Session) Close() error {
	s.detachCurrent()

	// A remote Chrome is left running
	var err error
	if s.browser != nil && s.lnch != nil {
		err = s.browser.Close()
	}
	s.killLauncher()
	return err
}

func (s *Session) killLauncher() {
	if s.lnch != nil {
		s.lnch.Kill()
		s.lnch.Cleanup()
	}
}
