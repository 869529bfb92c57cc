package browser

import (
	"errors"

	"github.com/go-rod/rod"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/dirlink/internal/domain"
)

// liveElement is a remote element handle. Browser errors degrade to zero
// values, the same way a detached node answers queries in the page.
type liveElement struct {
	page *LivePage
	el   *rod.Element
}

func (e *liveElement) debug(msg string, err error) {
	e.page.logger.Debug(msg, zap.Error(err))
}

func (e *liveElement) Tag() string {
	res, err := e.el.Eval(`() => this.localName`)
	if err != nil {
		e.debug("failed to read tag", err)
		return ""
	}
	return res.Value.Str()
}

func (e *liveElement) Attr(name string) (string, bool) {
	v, err := e.el.Attribute(name)
	if err != nil {
		e.debug("failed to read attribute", err)
		return "", false
	}
	if v == nil {
		return "", false
	}
	return *v, true
}

func (e *liveElement) Data(key string) string {
	res, err := e.el.Eval(`(k) => this.dataset[k] || ""`, key)
	if err != nil {
		e.debug("failed to read dataset", err)
		return ""
	}
	return res.Value.Str()
}

func (e *liveElement) SetData(key, value string) {
	if _, err := e.el.Eval(`(k, v) => { this.dataset[k] = v }`, key, value); err != nil {
		e.debug("failed to write dataset", err)
	}
}

func (e *liveElement) AppendIndicator(ind domain.Indicator) {
	_, err := e.el.Eval(`(cls, text, title, style) => {
		const span = document.createElement('span');
		span.className = cls;
		span.textContent = text;
		span.title = title;
		span.setAttribute('style', style);
		this.appendChild(span);
	}`, ind.Class, ind.Text, ind.Title, ind.Style)
	if err != nil {
		e.debug("failed to append indicator", err)
	}
}

func (e *liveElement) Matches(selector string) bool {
	ok, err := e.el.Matches(selector)
	if err != nil {
		e.debug("failed to match selector", err)
		return false
	}
	return ok
}

func (e *liveElement) Closest(selector string) domain.Element {
	el, err := e.el.Sleeper(rod.NotFoundSleeper).ElementByJS(rod.Eval(`(s) => this.closest(s)`, selector))
	if err != nil {
		var notFound *rod.ElementNotFoundError
		if !errors.As(err, &notFound) {
			e.debug("failed to find closest", err)
		}
		return nil
	}
	return &liveElement{page: e.page, el: el}
}

func (e *liveElement) QueryAll(selector string) []domain.Element {
	els, err := e.el.Elements(selector)
	if err != nil {
		e.debug("failed to query descendants", err)
		return nil
	}
	return e.page.wrap(els)
}

// liveEvent is a click the shim already cancelled in the page. Whether it
// stays cancelled is decided by PreventDefault.
type liveEvent struct {
	target    *liveElement
	prevented bool
	stopped   bool
}

func (e *liveEvent) Target() domain.Element { return e.target }
func (e *liveEvent) PreventDefault()        { e.prevented = true }
func (e *liveEvent) StopPropagation()       { e.stopped = true }

var (
	_ domain.Element = (*liveElement)(nil)
	_ domain.Event   = (*liveEvent)(nil)
)
