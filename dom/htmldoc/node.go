package htmldoc

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/xASHx26/testflow-sub001/dom"
)

// node is a handle to one element. Two handles to the same element
// compare equal; the engine compares by ID() and never relies on that.
type node struct {
	d *Doc
	n *html.Node
}

func (x node) ID() string  { return x.d.handleOf(x.n) }
func (x node) Tag() string { return strings.ToLower(x.n.Data) }

func (x node) Attr(name string) (string, bool) {
	return getAttrRaw(x.n, name)
}

func (x node) Attrs() []dom.Attribute {
	out := make([]dom.Attribute, 0, len(x.n.Attr))
	for _, a := range x.n.Attr {
		out = append(out, dom.Attribute{Name: a.Key, Value: a.Val})
	}
	return out
}

func (x node) Text() string {
	var b strings.Builder
	for c := x.n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}

func (x node) InnerText() string {
	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
			return
		case html.ElementNode:
			if hiddenLocalRaw(n) {
				return
			}
		default:
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(x.n)
	return strings.Join(parts, " ")
}

func (x node) Parent() dom.Node {
	p := parentElem(x.n)
	if p == nil {
		return nil
	}
	return node{x.d, p}
}

func (x node) Children() []dom.Node {
	var out []dom.Node
	for c := x.n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, node{x.d, c})
		}
	}
	return out
}

func (x node) Index() int {
	p := parentElem(x.n)
	if p == nil {
		return 1
	}
	idx := 1
	for c := p.FirstChild; c != nil; c = c.NextSibling {
		if c == x.n {
			break
		}
		if c.Type == html.ElementNode && c.Data == x.n.Data {
			idx++
		}
	}
	return idx
}

func (x node) SameTagSiblings() int {
	p := parentElem(x.n)
	if p == nil {
		return 1
	}
	total := 0
	for c := p.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == x.n.Data {
			total++
		}
	}
	return total
}

func (x node) BoundingBox() dom.Rect {
	x.d.mu.Lock()
	defer x.d.mu.Unlock()
	x.d.ensureLayoutLocked()
	r, _ := x.d.effectiveRectLocked(x.n)
	return r
}

func (x node) Visible() bool {
	for cur := x.n; cur != nil && cur.Type == html.ElementNode; cur = parentElem(cur) {
		if hiddenLocalRaw(cur) {
			return false
		}
	}
	return x.BoundingBox().Area() > 0
}

func (x node) OuterHTML(maxBytes int) string {
	var buf bytes.Buffer
	if err := html.Render(&buf, x.n); err != nil {
		return ""
	}
	return cutBytes(buf.String(), maxBytes)
}

// hiddenLocalRaw mirrors dom.HiddenLocal on the raw tree.
func hiddenLocalRaw(n *html.Node) bool {
	if dom.NonRendered(strings.ToLower(n.Data)) {
		return true
	}
	if hasAttrRaw(n, "hidden") {
		return true
	}
	if style, ok := getAttrRaw(n, "style"); ok && dom.HiddenStyle(style) {
		return true
	}
	return false
}

// cutBytes truncates s to at most max bytes without splitting a rune.
// max <= 0 disables the limit.
func cutBytes(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
