// Package usecase contains application business logic.
package usecase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/dirlink/internal/domain"
	"github.com/eliteGoblin/focusd/dirlink/internal/policy"
)

// ConvertedMarker is the dataset key set on every annotated link.
const ConvertedMarker = "dirlinkConverted"

// State is the lifecycle of an Interceptor on one page.
type State int32

const (
	StatePending  State = iota // Settings not loaded yet
	StateActive                // Listening for clicks and mutations
	StateBypassed              // Disabled or domain rejected at init
	StateInert                 // Initialization failed; nothing attached
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	case StateBypassed:
		return "bypassed"
	case StateInert:
		return "inert"
	default:
		return "unknown"
	}
}

// InterceptorConfig holds interceptor tunables.
type InterceptorConfig struct {
	LoadTimeout     time.Duration // Upper bound on the initial settings load
	NotifyTimeout   time.Duration // How long overlays stay visible
	NotifyOnSuccess bool          // Also show an overlay when the open succeeded
	Indicator       domain.Indicator
}

// DefaultInterceptorConfig returns default interceptor configuration.
func DefaultInterceptorConfig(ind domain.Indicator) InterceptorConfig {
	return InterceptorConfig{
		LoadTimeout:   5 * time.Second,
		NotifyTimeout: domain.DefaultNotificationTimeout,
		Indicator:     ind,
	}
}

// Interceptor annotates file:// links on a page, intercepts clicks on them
// and hands the rewritten URL to the dispatcher.
//
// The policy engine, the listeners and every DOM access live on the page loop.
// Only dispatch round trips run on their own goroutines.
type Interceptor struct {
	config     InterceptorConfig
	page       domain.Page
	provider   domain.SettingsProvider
	dispatcher domain.Dispatcher
	logger     *zap.Logger

	engine   *policy.Engine // Loop-owned
	detach   []func()       // Loop-owned
	state    atomic.Int32
	inflight sync.WaitGroup
	baseCtx  context.Context
}

// NewInterceptor creates an interceptor for page.
func NewInterceptor(
	config InterceptorConfig,
	page domain.Page,
	provider domain.SettingsProvider,
	dispatcher domain.Dispatcher,
	logger *zap.Logger,
) *Interceptor {
	return &Interceptor{
		config:     config,
		page:       page,
		provider:   provider,
		dispatcher: dispatcher,
		logger:     logger.With(zap.String("host", page.Hostname())),
		engine:     policy.NewEngine(),
		baseCtx:    context.Background(),
	}
}

// State returns the current lifecycle state.
func (i *Interceptor) State() State {
	return State(i.state.Load())
}

// Start loads settings and runs initialization on the page loop. It returns
// the resulting state once initialization has run, or StatePending if ctx
// ends first.
func (i *Interceptor) Start(ctx context.Context) State {
	// Dispatches outlive a canceled Start context: there is no cancellation
	// for an in-flight open.
	i.baseCtx = context.WithoutCancel(ctx)

	settings := i.loadSettings(ctx)

	done := make(chan State, 1)
	i.page.Post(func() { done <- i.initialize(settings) })

	select {
	case s := <-done:
		return s
	case <-ctx.Done():
		return i.State()
	}
}

// Stop detaches every listener and waits for in-flight dispatches.
func (i *Interceptor) Stop() {
	detached := make(chan struct{})
	i.page.Post(func() {
		defer close(detached)
		i.detachAll()
	})
	<-detached
	i.Wait()
}

// Wait blocks until every in-flight dispatch has reported its outcome.
func (i *Interceptor) Wait() {
	i.inflight.Wait()
}

// loadSettings reads the provider, falling back to defaults when it is
// missing, slow, failing or panicking.
func (i *Interceptor) loadSettings(ctx context.Context) (settings domain.Settings) {
	defaults := domain.DefaultSettings()
	if i.provider == nil {
		i.logger.Warn("no settings provider, using defaults")
		return defaults
	}

	defer func() {
		if r := recover(); r != nil {
			i.logger.Error("settings provider panicked, using defaults", zap.Any("panic", r))
			settings = defaults
		}
	}()

	loadCtx := ctx
	if i.config.LoadTimeout > 0 {
		var cancel context.CancelFunc
		loadCtx, cancel = context.WithTimeout(ctx, i.config.LoadTimeout)
		defer cancel()
	}

	s, err := i.provider.Get(loadCtx, defaults)
	if err != nil {
		i.logger.Warn("failed to load settings, using defaults", zap.Error(err))
		return defaults
	}
	return s
}

// initialize runs once on the page loop. Any panic leaves the interceptor
// inert with nothing attached.
func (i *Interceptor) initialize(settings domain.Settings) (state State) {
	defer func() {
		if r := recover(); r != nil {
			i.logger.Error("initialization failed, interceptor inert", zap.Any("panic", r))
			i.detachAll()
			state = StateInert
			i.state.Store(int32(state))
		}
	}()

	i.engine.Replace(settings)

	if !i.engine.Active(i.page.Hostname()) {
		i.logger.Info("interception bypassed on this page",
			zap.Bool("enabled", settings.Enabled))
		i.state.Store(int32(StateBypassed))
		return StateBypassed
	}

	annotated := i.scan(i.page.QueryAll(policy.FileLinkSelector))

	i.detach = append(i.detach, i.page.AddClickListener(i.handleClick))
	i.detach = append(i.detach, i.page.ObserveSubtree(i.handleInserted))
	if i.provider != nil {
		i.detach = append(i.detach, i.provider.OnChange(i.handleSettingsChange))
	}

	i.logger.Info("interceptor active", zap.Int("annotated", annotated))
	i.state.Store(int32(StateActive))
	return StateActive
}

func (i *Interceptor) detachAll() {
	for _, d := range i.detach {
		if d != nil {
			d()
		}
	}
	i.detach = nil
}

// scan annotates every file link in els and returns how many were new.
func (i *Interceptor) scan(els []domain.Element) int {
	n := 0
	for _, el := range els {
		if i.annotate(el) {
			n++
		}
	}
	return n
}

// annotate adds the indicator once per link.
func (i *Interceptor) annotate(el domain.Element) bool {
	if !policy.IsFileLink(el) {
		return false
	}
	if !i.engine.ShowIndicator() {
		return false
	}
	if el.Data(ConvertedMarker) != "" {
		return false
	}

	el.SetData(ConvertedMarker, "true")
	el.AppendIndicator(i.config.Indicator)
	return true
}

// handleInserted re-scans inserted subtrees: the root itself and every
// matching descendant.
func (i *Interceptor) handleInserted(roots []domain.Element) {
	if !i.engine.Active(i.page.Hostname()) {
		return
	}
	for _, root := range roots {
		i.annotate(root)
		i.scan(root.QueryAll(policy.FileLinkSelector))
	}
}

// handleClick is the capture-phase listener.
func (i *Interceptor) handleClick(ev domain.Event) {
	if i.State() != StateActive {
		return
	}
	if !i.engine.Active(i.page.Hostname()) {
		return
	}

	target := ev.Target()
	if target == nil {
		return
	}
	link := target.Closest(policy.FileLinkSelector)
	if link == nil {
		return
	}
	href, _ := link.Attr("href")

	ev.PreventDefault()
	ev.StopPropagation()

	url, ok := i.engine.Rewrite(href)
	if !ok {
		i.logger.Warn("link did not rewrite", zap.String("href", href))
		return
	}

	i.dispatch(url)
}

// dispatch sends one request on its own goroutine. Repeated clicks issue
// independent requests.
func (i *Interceptor) dispatch(url string) {
	req := domain.RewriteRequest{Action: domain.ActionOpenDirectory, URL: url}

	i.inflight.Add(1)
	go func() {
		defer i.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				err := fmt.Errorf("dispatch panicked: %v", r)
				i.page.Post(func() { i.report(url, domain.RewriteResult{}, err) })
			}
		}()

		res, err := i.dispatcher.Dispatch(i.baseCtx, req)
		i.page.Post(func() { i.report(url, res, err) })
	}()
}

// report surfaces a dispatch outcome on the page.
func (i *Interceptor) report(url string, res domain.RewriteResult, err error) {
	switch {
	case err != nil:
		i.logger.Warn("dispatch transport failed", zap.String("url", url), zap.Error(err))
		i.notify(domain.NotifyError, fmt.Sprintf("dirlink: failed to open directory: %v", err))

	case !res.Success:
		msg := res.Error
		if msg == "" {
			msg = "dirlink: failed to open directory"
		}
		i.logger.Warn("dispatcher reported failure", zap.String("url", url), zap.String("error", res.Error))
		i.notify(domain.NotifyError, msg)

	default:
		i.logger.Debug("directory opened", zap.String("url", url))
		if i.config.NotifyOnSuccess {
			i.notify(domain.NotifySuccess, "Opened "+url)
		}
	}
}

func (i *Interceptor) notify(kind domain.NotificationKind, msg string) {
	i.page.Notify(domain.Notification{Message: msg, Kind: kind, Timeout: i.config.NotifyTimeout})
}

// handleSettingsChange runs on the provider's goroutine and hands sync-namespace
// changes to the loop.
func (i *Interceptor) handleSettingsChange(namespace string, changes map[string]domain.SettingChange) {
	if namespace != domain.SyncNamespace {
		return
	}
	i.page.Post(func() {
		applied := i.engine.Apply(changes)
		if len(applied) > 0 {
			i.logger.Info("settings updated", zap.Strings("keys", applied))
		}
	})
}
