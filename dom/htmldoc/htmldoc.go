// Package htmldoc implements dom.Document over an HTML tree parsed
// with golang.org/x/net/html. It is the document used by tests and by
// replay against saved page snapshots: geometry comes from a synthetic
// deterministic flow layout, and programmatic mutations are delivered
// to subscribers in batches the way a MutationObserver would deliver
// them at the end of an update cycle.
package htmldoc

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/xASHx26/testflow-sub001/dom"
	"github.com/xASHx26/testflow-sub001/idgen"
)

// Doc is an in-memory document. All methods are safe for the
// single-actor usage pattern the engine follows; internal maps are
// additionally guarded so that inspection from test goroutines does
// not race with mutation.
type Doc struct {
	mu    sync.Mutex
	url   string
	viewW float64
	viewH float64

	root    *html.Node // document node
	htmlEl  *html.Node
	bodyEl  *html.Node
	nextRef int

	handles   map[*html.Node]string
	byHandle  map[string]*html.Node
	overrides map[*html.Node]dom.Rect
	layout    map[*html.Node]dom.Rect
	layoutOK  bool

	pending []dom.Change
	subs    map[*subscription]struct{}
	seq     atomic.Uint64
}

// Option configures a Doc at parse time.
type Option func(*Doc)

// WithURL sets the document URL reported by URL().
func WithURL(u string) Option {
	return func(d *Doc) { d.url = u }
}

// WithViewport overrides the default 1280x800 viewport used by the
// synthetic layout.
func WithViewport(w, h float64) Option {
	return func(d *Doc) { d.viewW, d.viewH = w, h }
}

// Parse reads an HTML document. The parser is lenient the way
// browsers are: missing html/head/body elements are synthesised.
func Parse(r io.Reader, opts ...Option) (*Doc, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("htmldoc: parse: %w", err)
	}

	d := &Doc{
		viewW:     1280,
		viewH:     800,
		root:      root,
		handles:   make(map[*html.Node]string),
		byHandle:  make(map[string]*html.Node),
		overrides: make(map[*html.Node]dom.Rect),
		layout:    make(map[*html.Node]dom.Rect),
		subs:      make(map[*subscription]struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	d.indexTree()
	return d, nil
}

// ParseString is Parse over a string.
func ParseString(src string, opts ...Option) (*Doc, error) {
	return Parse(strings.NewReader(src), opts...)
}

func (d *Doc) indexTree() {
	d.htmlEl, d.bodyEl = nil, nil
	for c := d.root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == "html" {
			d.htmlEl = c
			break
		}
	}
	if d.htmlEl != nil {
		for c := d.htmlEl.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && c.Data == "body" {
				d.bodyEl = c
				break
			}
		}
	}
}

// URL returns the document URL, empty when none was set.
func (d *Doc) URL() string { return d.url }

// Root returns the html element.
func (d *Doc) Root() dom.Node {
	if d.htmlEl == nil {
		return nil
	}
	return node{d, d.htmlEl}
}

// Body returns the body element, nil for a document without one.
func (d *Doc) Body() dom.Node {
	if d.bodyEl == nil {
		return nil
	}
	return node{d, d.bodyEl}
}

// NodeByID resolves a handle previously produced by this document.
// Stale and unknown handles yield (nil, nil).
func (d *Doc) NodeByID(_ context.Context, id string) (dom.Node, error) {
	d.mu.Lock()
	n, ok := d.byHandle[id]
	d.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return node{d, n}, nil
}

// NodeAt returns the topmost visible element at (x, y): the deepest
// element whose laid-out box contains the point, later siblings
// winning ties. Elements under the overlay marker are transparent to
// hit-testing.
func (d *Doc) NodeAt(_ context.Context, x, y float64) (dom.Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ensureLayoutLocked()

	var best *html.Node
	bestDepth := -1
	var walk func(n *html.Node, depth int)
	walk = func(n *html.Node, depth int) {
		if n.Type != html.ElementNode {
			return
		}
		if hasAttrRaw(n, dom.OverlayAttr) {
			return
		}
		r, ok := d.effectiveRectLocked(n)
		if ok && r.Contains(x, y) && depth >= bestDepth {
			best = n
			bestDepth = depth
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, depth+1)
		}
	}
	if d.htmlEl != nil {
		walk(d.htmlEl, 0)
	}
	if best == nil {
		return nil, nil
	}
	return node{d, best}, nil
}

// QuerySelectorAll resolves a CSS selector against the document.
// Invalid selectors error; zero matches is not an error.
func (d *Doc) QuerySelectorAll(_ context.Context, selector string) ([]dom.Node, error) {
	m, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("htmldoc: selector %q: %w", selector, err)
	}
	gq := goquery.NewDocumentFromNode(d.root)
	var out []dom.Node
	for _, n := range gq.FindMatcher(m).Nodes {
		out = append(out, node{d, n})
	}
	return out, nil
}

// Subscribe starts a mutation feed. Batches are delivered from Flush
// on the mutating goroutine; a subscriber that falls more than 64
// batches behind loses the oldest ones.
func (d *Doc) Subscribe(ctx context.Context, filter dom.SubtreeFilter) (dom.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("htmldoc: subscribe: %w", err)
	}
	s := &subscription{
		d:      d,
		ch:     make(chan dom.ChangeBatch, 64),
		filter: filter,
	}
	d.mu.Lock()
	d.subs[s] = struct{}{}
	d.mu.Unlock()
	return s, nil
}

type subscription struct {
	d      *Doc
	ch     chan dom.ChangeBatch
	filter dom.SubtreeFilter
	closed bool
}

func (s *subscription) Batches() <-chan dom.ChangeBatch { return s.ch }

func (s *subscription) Close() error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	delete(s.d.subs, s)
	close(s.ch)
	return nil
}

// Flush packages all pending changes into one batch, delivers it to
// every live subscription and returns it. The second return is false
// when nothing was pending.
func (d *Doc) Flush() (dom.ChangeBatch, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.pending) == 0 {
		return dom.ChangeBatch{}, false
	}
	batch := dom.ChangeBatch{
		ID:        idgen.New(),
		Seq:       d.seq.Add(1),
		Changes:   d.pending,
		Timestamp: time.Now().UnixMilli(),
	}
	d.pending = nil

	for s := range d.subs {
		filtered := filterChanges(batch, s.filter)
		if len(filtered.Changes) == 0 {
			continue
		}
		select {
		case s.ch <- filtered:
		default:
			// Slow subscriber: shed the oldest batch and retry once.
			select {
			case <-s.ch:
			default:
			}
			select {
			case s.ch <- filtered:
			default:
			}
		}
	}
	return batch, true
}

func filterChanges(b dom.ChangeBatch, f dom.SubtreeFilter) dom.ChangeBatch {
	if len(f.Attributes) == 0 {
		return b
	}
	out := b
	out.Changes = nil
	for _, c := range b.Changes {
		if (c.Op == dom.OpAttr || c.Op == dom.OpAttrDel) && !f.WantsAttr(c.Name) {
			continue
		}
		out.Changes = append(out.Changes, c)
	}
	return out
}

// Pending returns a copy of the not-yet-flushed changes. Test hook.
func (d *Doc) Pending() []dom.Change {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]dom.Change, len(d.pending))
	copy(out, d.pending)
	return out
}

func (d *Doc) handleOf(n *html.Node) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handleOfLocked(n)
}

func (d *Doc) handleOfLocked(n *html.Node) string {
	if id, ok := d.handles[n]; ok {
		return id
	}
	d.nextRef++
	id := fmt.Sprintf("n%d", d.nextRef)
	d.handles[n] = id
	d.byHandle[id] = n
	return id
}

func (d *Doc) dropHandlesLocked(n *html.Node) {
	if n.Type == html.ElementNode {
		if id, ok := d.handles[n]; ok {
			delete(d.handles, n)
			delete(d.byHandle, id)
		}
		delete(d.overrides, n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		d.dropHandlesLocked(c)
	}
}

func hasAttrRaw(n *html.Node, name string) bool {
	for _, a := range n.Attr {
		if a.Key == name {
			return true
		}
	}
	return false
}

func getAttrRaw(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func parentElem(n *html.Node) *html.Node {
	p := n.Parent
	for p != nil && p.Type != html.ElementNode {
		p = p.Parent
	}
	return p
}
