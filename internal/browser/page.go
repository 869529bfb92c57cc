// Package browser drives a live Chrome tab through go-rod and exposes it as a
// domain.Page, so the interceptor runs against real pages the same way it
// runs against the in-memory document.
package browser

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/go-rod/rod"
	"github.com/ysmood/gson"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/dirlink/internal/domain"
	"github.com/eliteGoblin/focusd/dirlink/internal/page"
)

//go:embed shim.js
var shimJS string

const (
	clickBinding    = "__dirlinkClick"
	mutationBinding = "__dirlinkMutations"
)

// LivePage implements domain.Page over one loaded document of a rod page.
//
// Click interception happens in an injected capture listener that cancels
// clicks inside links matching the filter selector before any page script
// sees them; the Go listeners then decide, and a click nobody cancelled is
// replayed with interception bypassed. The capture listener is armed only
// while at least one Go click listener is registered.
type LivePage struct {
	rp       *rod.Page
	hostname string
	loop     *page.Loop
	logger   *zap.Logger

	mu        sync.Mutex
	listeners []*clickListener
	observers []*subtreeObserver
	stops     []func() error
}

type clickListener struct {
	fn      func(domain.Event)
	removed bool
}

type subtreeObserver struct {
	fn           func([]domain.Element)
	disconnected bool
}

// Attach installs the page shim on rp's current document. filter selects the
// links whose clicks are reported to AddClickListener listeners.
func Attach(ctx context.Context, rp *rod.Page, filter string, logger *zap.Logger) (*LivePage, error) {
	rp = rp.Context(ctx)

	info, err := rp.Info()
	if err != nil {
		return nil, fmt.Errorf("failed to read page info: %w", err)
	}
	u, err := url.Parse(info.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse page url %q: %w", info.URL, err)
	}

	p := &LivePage{
		rp:       rp,
		hostname: u.Hostname(),
		loop:     page.NewLoop(logger),
		logger:   logger,
	}

	stopClick, err := rp.Expose(clickBinding, p.onClickBinding)
	if err != nil {
		p.loop.Close()
		return nil, fmt.Errorf("failed to expose click binding: %w", err)
	}
	p.stops = append(p.stops, stopClick)

	stopMutations, err := rp.Expose(mutationBinding, p.onMutationBinding)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to expose mutation binding: %w", err)
	}
	p.stops = append(p.stops, stopMutations)

	if _, err := rp.Eval(shimJS, filter, clickBinding, mutationBinding); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to inject page shim: %w", err)
	}

	logger.Debug("page attached", zap.String("url", info.URL))
	return p, nil
}

// Close removes the bindings and stops the page loop. The shim stays in the
// document until it navigates.
func (p *LivePage) Close() {
	p.removeBindings()
	p.loop.Close()
}

// Loop returns the page's event loop.
func (p *LivePage) Loop() *page.Loop {
	return p.loop
}

func (p *LivePage) Hostname() string {
	return p.hostname
}

func (p *LivePage) Post(task func()) {
	p.loop.Post(task)
}

// QueryAll returns matching elements. Errors from the browser match nothing.
func (p *LivePage) QueryAll(selector string) []domain.Element {
	els, err := p.rp.Elements(selector)
	if err != nil {
		p.logger.Debug("query failed", zap.String("selector", selector), zap.Error(err))
		return nil
	}
	return p.wrap(els)
}

// ObserveSubtree starts the shim's MutationObserver on first use.
func (p *LivePage) ObserveSubtree(fn func(roots []domain.Element)) func() {
	o := &subtreeObserver{fn: fn}
	p.mu.Lock()
	p.observers = append(p.observers, o)
	p.mu.Unlock()

	if _, err := p.rp.Eval(`() => window.__dirlink.observe()`); err != nil {
		p.logger.Warn("failed to start mutation observer", zap.Error(err))
	}

	return func() {
		p.mu.Lock()
		o.disconnected = true
		remaining := 0
		for _, other := range p.observers {
			if !other.disconnected {
				remaining++
			}
		}
		p.mu.Unlock()

		if remaining == 0 {
			_, _ = p.rp.Eval(`() => window.__dirlink.disconnect()`)
		}
	}
}

// AddClickListener registers fn and arms the shim for the first listener.
// Removing the last listener disarms it so clicks reach the page untouched.
func (p *LivePage) AddClickListener(fn func(domain.Event)) func() {
	l := &clickListener{fn: fn}
	p.mu.Lock()
	p.listeners = append(p.listeners, l)
	first := p.activeListeners() == 1
	p.mu.Unlock()

	if first {
		p.arm(true)
	}

	return func() {
		p.mu.Lock()
		if l.removed {
			p.mu.Unlock()
			return
		}
		l.removed = true
		last := p.activeListeners() == 0
		p.mu.Unlock()

		if last {
			p.arm(false)
		}
	}
}

// activeListeners must be called with p.mu held.
func (p *LivePage) activeListeners() int {
	n := 0
	for _, l := range p.listeners {
		if !l.removed {
			n++
		}
	}
	return n
}

func (p *LivePage) arm(on bool) {
	if _, err := p.rp.Eval(`(on) => window.__dirlink.arm(on)`, on); err != nil {
		p.logger.Debug("failed to toggle click interception", zap.Bool("on", on), zap.Error(err))
	}
}

// Release hands the document back to the page: the shim stops intercepting
// and observing for good and the bindings are removed. Used when the
// interceptor decides not to run on this document. The loop keeps running
// until Close.
func (p *LivePage) Release() {
	if _, err := p.rp.Eval(`() => window.__dirlink.release()`); err != nil {
		p.logger.Debug("failed to release page shim", zap.Error(err))
	}
	p.removeBindings()
}

func (p *LivePage) removeBindings() {
	p.mu.Lock()
	stops := p.stops
	p.stops = nil
	p.mu.Unlock()

	for _, stop := range stops {
		if err := stop(); err != nil {
			p.logger.Debug("failed to remove binding", zap.Error(err))
		}
	}
}

// Notify shows n through the shim's overlay. Safe to call from any goroutine.
func (p *LivePage) Notify(n domain.Notification) {
	p.loop.Post(func() {
		_, err := p.rp.Eval(`(text, cls, style, ms) => window.__dirlink.notify(text, cls, style, ms)`,
			page.ToastText(n.Message),
			page.ToastClassFor(n.Kind),
			page.ToastStyleFor(n.Kind),
			page.ToastTimeout(n).Milliseconds(),
		)
		if err != nil {
			p.logger.Warn("failed to show notification", zap.Error(err))
		}
	})
}

// onClickBinding runs on rod's event goroutine and hands the click to the loop.
func (p *LivePage) onClickBinding(req gson.JSON) (interface{}, error) {
	id := req.Str()
	p.loop.Post(func() { p.dispatchClick(id) })
	return nil, nil
}

func (p *LivePage) dispatchClick(id string) {
	target, err := p.take(id)
	if err != nil {
		p.logger.Debug("click target gone", zap.String("id", id), zap.Error(err))
		return
	}

	ev := &liveEvent{target: target}

	p.mu.Lock()
	listeners := append([]*clickListener(nil), p.listeners...)
	p.mu.Unlock()

	for _, l := range listeners {
		p.mu.Lock()
		removed := l.removed
		p.mu.Unlock()
		if removed {
			continue
		}
		l.fn(ev)
		if ev.stopped {
			break
		}
	}

	if !ev.prevented {
		if _, err := target.el.Eval(`() => window.__dirlink.replay(this)`); err != nil {
			p.logger.Debug("failed to replay click", zap.Error(err))
		}
	}
}

// onMutationBinding receives ids of inserted element roots.
func (p *LivePage) onMutationBinding(req gson.JSON) (interface{}, error) {
	var ids []string
	for _, v := range req.Arr() {
		ids = append(ids, v.Str())
	}
	p.loop.Post(func() { p.deliverMutations(ids) })
	return nil, nil
}

func (p *LivePage) deliverMutations(ids []string) {
	roots := make([]domain.Element, 0, len(ids))
	for _, id := range ids {
		el, err := p.take(id)
		if err != nil {
			continue // Removed again before we looked
		}
		roots = append(roots, el)
	}
	if len(roots) == 0 {
		return
	}

	p.mu.Lock()
	observers := append([]*subtreeObserver(nil), p.observers...)
	p.mu.Unlock()

	for _, o := range observers {
		p.mu.Lock()
		gone := o.disconnected
		p.mu.Unlock()
		if !gone {
			o.fn(roots)
		}
	}
}

// take resolves a node id kept by the shim.
func (p *LivePage) take(id string) (*liveElement, error) {
	el, err := p.rp.Sleeper(rod.NotFoundSleeper).ElementByJS(rod.Eval(`(id) => window.__dirlink.take(id)`, id))
	if err != nil {
		var notFound *rod.ElementNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("node %s no longer exists", id)
		}
		return nil, err
	}
	return &liveElement{page: p, el: el}, nil
}

func (p *LivePage) wrap(els rod.Elements) []domain.Element {
	out := make([]domain.Element, 0, len(els))
	for _, el := range els {
		out = append(out, &liveElement{page: p, el: el})
	}
	return out
}

var _ domain.Page = (*LivePage)(nil)
