package page

import (
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/eliteGoblin/focusd/dirlink/internal/domain"
)

type element struct {
	doc *Document
	n   *html.Node
}

// Node exposes the underlying html node of an element created by this package.
func Node(el domain.Element) (*html.Node, bool) {
	e, ok := el.(*element)
	if !ok {
		return nil, false
	}
	return e.n, true
}

func (e *element) Tag() string {
	return strings.ToLower(e.n.Data)
}

func (e *element) Attr(name string) (string, bool) {
	for _, a := range e.n.Attr {
		if a.Namespace == "" && a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func (e *element) Data(key string) string {
	v, _ := e.Attr(dataAttr(key))
	return v
}

func (e *element) SetData(key, value string) {
	name := dataAttr(key)
	for i, a := range e.n.Attr {
		if a.Namespace == "" && a.Key == name {
			e.n.Attr[i].Val = value
			return
		}
	}
	e.n.Attr = append(e.n.Attr, html.Attribute{Key: name, Val: value})
}

func (e *element) AppendIndicator(ind domain.Indicator) {
	span := &html.Node{
		Type:     html.ElementNode,
		Data:     "span",
		DataAtom: atom.Span,
		Attr: []html.Attribute{
			{Key: "class", Val: ind.Class},
			{Key: "title", Val: ind.Title},
			{Key: "style", Val: ind.Style},
		},
	}
	span.AppendChild(&html.Node{Type: html.TextNode, Data: ind.Text})
	e.n.AppendChild(span)
	e.doc.recordInsert(span)
}

func (e *element) Matches(selector string) bool {
	m, err := e.doc.compile(selector)
	if err != nil {
		return false
	}
	return m.Match(e.n)
}

func (e *element) Closest(selector string) domain.Element {
	m, err := e.doc.compile(selector)
	if err != nil {
		return nil
	}
	for n := e.n; n != nil; n = n.Parent {
		if n.Type == html.ElementNode && m.Match(n) {
			return &element{doc: e.doc, n: n}
		}
	}
	return nil
}

func (e *element) QueryAll(selector string) []domain.Element {
	return e.doc.wrapAll(goquery.NewDocumentFromNode(e.n).Find(selector).Nodes)
}

// dataAttr maps a dataset key to its attribute name: fooBar -> data-foo-bar.
func dataAttr(key string) string {
	var b strings.Builder
	b.WriteString("data-")
	for _, r := range key {
		if unicode.IsUpper(r) {
			b.WriteByte('-')
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type clickEvent struct {
	target    domain.Element
	prevented bool
	stopped   bool
}

func (e *clickEvent) Target() domain.Element { return e.target }
func (e *clickEvent) PreventDefault()        { e.prevented = true }
func (e *clickEvent) StopPropagation()       { e.stopped = true }

var (
	_ domain.Element = (*element)(nil)
	_ domain.Event   = (*clickEvent)(nil)
)
