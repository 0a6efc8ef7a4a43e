package htmldoc

import (
	"golang.org/x/net/html"

	"github.com/xASHx26/testflow-sub001/dom"
)

// Synthetic flow layout: every rendered element occupies one line plus
// the lines of its descendants, indented by depth. The numbers are
// arbitrary but deterministic, which is all hit-testing and the
// zero-area visibility rule need.
const (
	lineHeight = 20.0
	indentStep = 16.0
	pageMargin = 8.0
	minWidth   = 40.0
)

// ensureLayoutLocked recomputes the layout if a mutation invalidated
// it. Caller holds d.mu.
func (d *Doc) ensureLayoutLocked() {
	if d.layoutOK {
		return
	}
	d.layout = make(map[*html.Node]dom.Rect)
	d.layoutOK = true

	if d.htmlEl == nil {
		return
	}
	cursor := pageMargin
	var walk func(n *html.Node, depth int)
	walk = func(n *html.Node, depth int) {
		if n.Type != html.ElementNode || hiddenLocalRaw(n) {
			return
		}
		x := pageMargin + indentStep*float64(depth)
		w := d.viewW - x - pageMargin
		if w < minWidth {
			w = minWidth
		}
		start := cursor
		cursor += lineHeight
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, depth+1)
		}
		d.layout[n] = dom.Rect{X: x, Y: start, Width: w, Height: cursor - start}
	}

	if d.bodyEl != nil {
		for c := d.bodyEl.FirstChild; c != nil; c = c.NextSibling {
			walk(c, 0)
		}
	}

	content := cursor + pageMargin
	if content < d.viewH {
		content = d.viewH
	}
	d.layout[d.htmlEl] = dom.Rect{X: 0, Y: 0, Width: d.viewW, Height: content}
	if d.bodyEl != nil {
		d.layout[d.bodyEl] = dom.Rect{X: 0, Y: 0, Width: d.viewW, Height: content}
	}
}

// effectiveRectLocked returns the rect for n: an explicit override
// wins over the computed layout. ok is false for elements the layout
// skipped and no override covers.
func (d *Doc) effectiveRectLocked(n *html.Node) (dom.Rect, bool) {
	if r, ok := d.overrides[n]; ok {
		return r, true
	}
	r, ok := d.layout[n]
	return r, ok
}

// SetRect overrides the synthetic rect of a node. Geometry overrides
// are not DOM mutations: no change record is produced. Foreign nodes
// are ignored.
func (d *Doc) SetRect(n dom.Node, r dom.Rect) {
	x, ok := n.(node)
	if !ok || x.d != d {
		return
	}
	d.mu.Lock()
	d.overrides[x.n] = r
	d.mu.Unlock()
}
