package infra

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/dirlink/internal/domain"
)

// TabLauncherConfig selects the Chrome instance a TabLauncher drives.
type TabLauncherConfig struct {
	RemoteURL string // DevTools websocket or http URL of a running Chrome; empty launches one
	ExecPath  string // Chrome binary when launching
	Headless  bool
}

// TabLauncher implements domain.Launcher with background Chrome tabs. The
// browser resolves the directory:// URL through its own protocol handler
// lookup; cleanup closes the tab.
type TabLauncher struct {
	logger *zap.Logger

	mu            sync.Mutex
	browserCtx    context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc
}

// NewTabLauncher connects to (or starts) Chrome.
func NewTabLauncher(config TabLauncherConfig, logger *zap.Logger) (*TabLauncher, error) {
	var allocCtx context.Context
	var cancelAlloc context.CancelFunc

	if config.RemoteURL != "" {
		logger.Info("connecting to Chrome", zap.String("url", config.RemoteURL))
		allocCtx, cancelAlloc = chromedp.NewRemoteAllocator(context.Background(), config.RemoteURL)
	} else {
		opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
		opts = append(opts, chromedp.Flag("headless", config.Headless))
		if config.ExecPath != "" {
			opts = append(opts, chromedp.ExecPath(config.ExecPath))
		}
		logger.Info("launching Chrome", zap.Bool("headless", config.Headless))
		allocCtx, cancelAlloc = chromedp.NewExecAllocator(context.Background(), opts...)
	}

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("failed to connect to Chrome: %w", err)
	}

	return &TabLauncher{
		logger:        logger,
		browserCtx:    browserCtx,
		cancelBrowser: cancelBrowser,
		cancelAlloc:   cancelAlloc,
	}, nil
}

// browser returns a context whose executor is the browser connection
// rather than a page session.
func (l *TabLauncher) browser(ctx context.Context) (context.Context, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.browserCtx == nil {
		return nil, fmt.Errorf("tab launcher closed")
	}
	c := chromedp.FromContext(l.browserCtx)
	if c == nil || c.Browser == nil {
		return nil, fmt.Errorf("browser not allocated")
	}
	return cdp.WithExecutor(ctx, c.Browser), nil
}

// Launch opens url in an inactive background tab.
func (l *TabLauncher) Launch(ctx context.Context, url string) (domain.LaunchHandle, error) {
	bctx, err := l.browser(ctx)
	if err != nil {
		return domain.LaunchHandle{}, err
	}

	id, err := target.CreateTarget(url).WithBackground(true).Do(bctx)
	if err != nil {
		return domain.LaunchHandle{}, fmt.Errorf("failed to create tab: %w", err)
	}

	l.logger.Debug("background tab created", zap.String("target", string(id)))
	return domain.LaunchHandle{URL: url, TargetID: string(id)}, nil
}

// Cleanup closes the tab.
func (l *TabLauncher) Cleanup(ctx context.Context, h domain.LaunchHandle) error {
	if h.TargetID == "" {
		return nil
	}
	bctx, err := l.browser(ctx)
	if err != nil {
		return err
	}
	if err := target.CloseTarget(target.ID(h.TargetID)).Do(bctx); err != nil {
		return fmt.Errorf("failed to close tab %s: %w", h.TargetID, err)
	}
	return nil
}

// Close disconnects from Chrome, stopping it if this launcher started it.
func (l *TabLauncher) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.browserCtx == nil {
		return
	}
	l.cancelBrowser()
	l.cancelAlloc()
	l.browserCtx = nil
}

// Ensure TabLauncher implements domain.Launcher.
var _ domain.Launcher = (*TabLauncher)(nil)
