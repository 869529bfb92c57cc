package page

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/eliteGoblin/focusd/dirlink/internal/domain"
)

// Document is an in-memory page. All tree access happens on its loop; the
// exported methods that are not part of domain.Page marshal onto the loop and
// must not be called from a loop task.
type Document struct {
	loop     *Loop
	root     *html.Node
	pageURL  *url.URL
	logger   *zap.Logger
	selMu    sync.Mutex
	selCache map[string]cascadia.Matcher

	// Loop-owned state.
	capture     []*listener
	bubble      []*listener
	observers   []*observer
	pending     [][]*html.Node
	delivering  bool
	navigations []string
	toast       *html.Node
	toastNote   domain.Notification
	toastGen    int
}

type listener struct {
	fn      func(domain.Event)
	removed bool
}

type observer struct {
	fn           func(roots []domain.Element)
	disconnected bool
}

// ClickResult reports what happened to a synthetic click.
type ClickResult struct {
	DefaultPrevented   bool
	PropagationStopped bool
	Navigated          string // href followed by the default action
}

// Parse builds a Document from HTML served at pageURL and starts its loop.
func Parse(r io.Reader, pageURL string, logger *zap.Logger) (*Document, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid page url: %w", err)
	}

	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}

	return &Document{
		loop:     NewLoop(logger),
		root:     root,
		pageURL:  u,
		logger:   logger,
		selCache: make(map[string]cascadia.Matcher),
	}, nil
}

// ParseString is Parse for an in-memory string.
func ParseString(markup, pageURL string, logger *zap.Logger) (*Document, error) {
	return Parse(strings.NewReader(markup), pageURL, logger)
}

// Loop returns the page's event loop.
func (d *Document) Loop() *Loop {
	return d.loop
}

// Close stops the page loop.
func (d *Document) Close() {
	d.loop.Close()
}

// --- domain.Page implementation ---

// Hostname returns the host of the page URL without port.
func (d *Document) Hostname() string {
	return d.pageURL.Hostname()
}

// Post schedules task on the page loop.
func (d *Document) Post(task func()) {
	d.loop.Post(task)
}

// QueryAll returns elements matching selector in document order.
// An invalid selector matches nothing.
func (d *Document) QueryAll(selector string) []domain.Element {
	return d.wrapAll(goquery.NewDocumentFromNode(d.root).Find(selector).Nodes)
}

// ObserveSubtree registers fn for batches of element roots inserted under body.
func (d *Document) ObserveSubtree(fn func(roots []domain.Element)) func() {
	o := &observer{fn: fn}
	d.observers = append(d.observers, o)
	return func() { o.disconnected = true }
}

// AddClickListener installs a document-level capture listener.
func (d *Document) AddClickListener(fn func(domain.Event)) func() {
	l := &listener{fn: fn}
	d.capture = append(d.capture, l)
	return func() { l.removed = true }
}

// Notify shows n as a fixed-position overlay, replacing the current one.
// Safe to call from any goroutine.
func (d *Document) Notify(n domain.Notification) {
	d.loop.Post(func() { d.showToast(n) })
}

// --- page-side simulation, used by tests and the scan command ---

// OnClick installs a bubble-phase handler, standing in for the page's own scripts.
func (d *Document) OnClick(fn func(domain.Event)) {
	d.loop.Do(func() {
		d.bubble = append(d.bubble, &listener{fn: fn})
	})
}

// Click dispatches a click on target and runs the default action.
func (d *Document) Click(target domain.Element) ClickResult {
	var res ClickResult
	d.loop.Do(func() { res = d.dispatchClick(target) })
	return res
}

// ClickFirst clicks the first element matching selector.
func (d *Document) ClickFirst(selector string) (ClickResult, error) {
	var (
		res ClickResult
		err error
	)
	d.loop.Do(func() {
		found := d.QueryAll(selector)
		if len(found) == 0 {
			err = fmt.Errorf("no element matches %q", selector)
			return
		}
		res = d.dispatchClick(found[0])
	})
	return res, err
}

// AppendHTML parses fragment in the context of the first element matching
// parentSelector and appends the result, queuing a mutation record.
func (d *Document) AppendHTML(parentSelector, fragment string) error {
	var err error
	d.loop.Do(func() {
		parents := d.QueryAll(parentSelector)
		if len(parents) == 0 {
			err = fmt.Errorf("no element matches %q", parentSelector)
			return
		}
		parent := parents[0].(*element).n

		var nodes []*html.Node
		nodes, err = html.ParseFragment(strings.NewReader(fragment), parent)
		if err != nil {
			err = fmt.Errorf("failed to parse fragment: %w", err)
			return
		}
		for _, n := range nodes {
			parent.AppendChild(n)
		}
		d.recordInsert(nodes...)
	})
	return err
}

// Select runs fn with a goquery view of the tree on the loop.
func (d *Document) Select(fn func(doc *goquery.Document)) {
	d.loop.Do(func() { fn(goquery.NewDocumentFromNode(d.root)) })
}

// Navigations returns every href followed by an un-prevented click.
func (d *Document) Navigations() []string {
	var out []string
	d.loop.Do(func() { out = append(out, d.navigations...) })
	return out
}

// Toast returns the notification currently on screen.
func (d *Document) Toast() (domain.Notification, bool) {
	var (
		n  domain.Notification
		ok bool
	)
	d.loop.Do(func() {
		if d.toast != nil {
			n, ok = d.toastNote, true
		}
	})
	return n, ok
}

// Render serializes the current tree.
func (d *Document) Render() (string, error) {
	var (
		buf bytes.Buffer
		err error
	)
	d.loop.Do(func() { err = html.Render(&buf, d.root) })
	return buf.String(), err
}

// --- loop-side internals ---

func (d *Document) dispatchClick(target domain.Element) ClickResult {
	ev := &clickEvent{target: target}

	for _, l := range append([]*listener(nil), d.capture...) {
		if !l.removed {
			l.fn(ev)
		}
	}

	if !ev.stopped {
		for _, l := range append([]*listener(nil), d.bubble...) {
			if !l.removed {
				l.fn(ev)
			}
			if ev.stopped {
				break
			}
		}
	}

	res := ClickResult{DefaultPrevented: ev.prevented, PropagationStopped: ev.stopped}
	if !ev.prevented && target != nil {
		if a := target.Closest("a[href]"); a != nil {
			href, _ := a.Attr("href")
			d.navigations = append(d.navigations, href)
			res.Navigated = href
		}
	}
	return res
}

// recordInsert queues a mutation record and schedules batch delivery in a
// follow-up task, so observers never run inside the mutating task.
func (d *Document) recordInsert(nodes ...*html.Node) {
	var roots []*html.Node
	for _, n := range nodes {
		if n.Type == html.ElementNode && d.underBody(n) {
			roots = append(roots, n)
		}
	}
	if len(roots) == 0 {
		return
	}

	d.pending = append(d.pending, roots)
	if d.delivering {
		return
	}
	d.delivering = true
	d.loop.Post(d.deliverMutations)
}

func (d *Document) deliverMutations() {
	records := d.pending
	d.pending = nil
	d.delivering = false

	var roots []domain.Element
	for _, r := range records {
		roots = append(roots, d.wrapAll(r)...)
	}

	for _, o := range append([]*observer(nil), d.observers...) {
		if !o.disconnected {
			o.fn(roots)
		}
	}
}

func (d *Document) underBody(n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && p.DataAtom == atom.Body {
			return true
		}
	}
	return false
}

func (d *Document) body() *html.Node {
	var find func(*html.Node) *html.Node
	find = func(n *html.Node) *html.Node {
		if n.Type == html.ElementNode && n.DataAtom == atom.Body {
			return n
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if b := find(c); b != nil {
				return b
			}
		}
		return nil
	}
	return find(d.root)
}

func (d *Document) showToast(n domain.Notification) {
	d.removeToast()

	body := d.body()
	if body == nil {
		return
	}

	div := &html.Node{
		Type:     html.ElementNode,
		Data:     "div",
		DataAtom: atom.Div,
		Attr: []html.Attribute{
			{Key: "class", Val: ToastClassFor(n.Kind)},
			{Key: "role", Val: "alert"},
			{Key: "style", Val: ToastStyleFor(n.Kind)},
		},
	}
	n.Message = ToastText(n.Message)
	div.AppendChild(&html.Node{Type: html.TextNode, Data: n.Message})
	body.AppendChild(div)

	d.toast = div
	d.toastNote = n
	d.toastGen++
	gen := d.toastGen

	time.AfterFunc(ToastTimeout(n), func() {
		d.loop.Post(func() {
			if d.toastGen == gen {
				d.removeToast()
			}
		})
	})
}

func (d *Document) removeToast() {
	if d.toast == nil {
		return
	}
	if d.toast.Parent != nil {
		d.toast.Parent.RemoveChild(d.toast)
	}
	d.toast = nil
}

func (d *Document) compile(selector string) (cascadia.Matcher, error) {
	d.selMu.Lock()
	defer d.selMu.Unlock()

	if sel, ok := d.selCache[selector]; ok {
		return sel, nil
	}
	sel, err := cascadia.ParseGroup(selector)
	if err != nil {
		return nil, err
	}
	d.selCache[selector] = sel
	return sel, nil
}

func (d *Document) wrapAll(nodes []*html.Node) []domain.Element {
	out := make([]domain.Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, &element{doc: d, n: n})
	}
	return out
}

// Ensure Document implements domain.Page.
var _ domain.Page = (*Document)(nil)
