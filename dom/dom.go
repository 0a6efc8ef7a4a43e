// Package dom defines the document and node abstraction the testflow
// engine operates on. Two implementations exist: dom/htmldoc is an
// in-memory document over parsed HTML (tests, snapshot replay), and
// browser adapts a live Chrome tab. The engine, the descriptor
// extractor and the locator generator only ever see these interfaces.
package dom

import "context"

// OverlayAttr marks elements that belong to the picker's own visual
// chrome (the highlight overlay). Implementations exclude marked
// elements and their subtrees from hit-testing; consumers additionally
// ignore mutations beneath them.
const OverlayAttr = "data-testflow-overlay"

// Rect is an element bounding box in viewport coordinates.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Area returns the rect surface, zero for degenerate boxes.
func (r Rect) Area() float64 {
	if r.Width <= 0 || r.Height <= 0 {
		return 0
	}
	return r.Width * r.Height
}

// Contains reports whether the point (x, y) falls inside the rect.
func (r Rect) Contains(x, y float64) bool {
	return x >= r.X && x < r.X+r.Width && y >= r.Y && y < r.Y+r.Height
}

// Attribute is a single element attribute. Order matters: Attrs()
// returns attributes in source order and descriptors preserve it.
type Attribute struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Node is a handle to a single element. Handles stay valid until the
// node is removed or the document resets; a stale handle resolves to
// nil through Document.NodeByID rather than erroring.
type Node interface {
	// ID is the document-scoped handle, not the HTML id attribute.
	ID() string
	// Tag is the lowercase element name.
	Tag() string
	Attr(name string) (string, bool)
	// Attrs returns all attributes in source order.
	Attrs() []Attribute
	// Text is the element's own text content (direct text children).
	Text() string
	// InnerText is the visible text of the whole subtree in document
	// order, with hidden branches skipped.
	InnerText() string
	// Parent is nil at the root element.
	Parent() Node
	// Children returns element children only, in document order.
	Children() []Node
	// Index is the 1-based position among same-tag element siblings.
	Index() int
	// SameTagSiblings counts same-tag element siblings including self.
	SameTagSiblings() int
	BoundingBox() Rect
	// Visible is false when the element or an ancestor is hidden via
	// display:none, visibility:hidden, the hidden attribute, a
	// non-rendered tag, or a zero-area box.
	Visible() bool
	// OuterHTML serialises the element with source-order attributes,
	// truncated to maxBytes at a rune boundary. maxBytes <= 0 means
	// no limit.
	OuterHTML(maxBytes int) string
}

// Document is the engine's view of a page.
type Document interface {
	Root() Node
	// NodeAt returns the topmost visible element at the viewport
	// coordinate, nil when nothing renders there. Stateless and
	// side-effect free.
	NodeAt(ctx context.Context, x, y float64) (Node, error)
	// NodeByID resolves a node handle. Stale or unknown handles yield
	// (nil, nil).
	NodeByID(ctx context.Context, id string) (Node, error)
	// Subscribe starts a mutation feed restricted by the filter. It
	// errors when the document cannot be observed.
	Subscribe(ctx context.Context, filter SubtreeFilter) (Subscription, error)
	URL() string
}

// Selectable is implemented by documents that can resolve CSS
// selectors natively.
type Selectable interface {
	QuerySelectorAll(ctx context.Context, selector string) ([]Node, error)
}

// SubtreeFilter restricts a subscription. An empty attribute list
// means all attribute mutations are reported.
type SubtreeFilter struct {
	Attributes []string
}

// WantsAttr reports whether attribute mutations for name pass the
// filter.
func (f SubtreeFilter) WantsAttr(name string) bool {
	if len(f.Attributes) == 0 {
		return true
	}
	for _, a := range f.Attributes {
		if a == name {
			return true
		}
	}
	return false
}

// Subscription is a live mutation feed. Batches are delivered as
// units: everything one DOM update cycle produced arrives together.
type Subscription interface {
	Batches() <-chan ChangeBatch
	Close() error
}
