package browser

import (
	"context"
	"encoding/json"

	"github.com/xASHx26/testflow-sub001/dom"
	"github.com/xASHx26/testflow-sub001/markup"
)

// nodeInfo is the element bundle the inspector returns from describe().
// A zero-ID entry in the cache marks a handle known to be stale.
type nodeInfo struct {
	ID        string          `json:"id"`
	Tag       string          `json:"tag"`
	Attrs     []dom.Attribute `json:"attrs"`
	Text      string          `json:"text"`
	InnerText string          `json:"inner_text"`
	Parent    string          `json:"parent"`
	Children  []string        `json:"children"`
	Index     int             `json:"index"`
	SameTag   int             `json:"same_tag"`
	Rect      dom.Rect        `json:"rect"`
	Visible   bool            `json:"visible"`
	Path      string          `json:"path"`
}

// info returns the current bundle for a handle, fetching it from the
// page on cache miss. The cache lives for one mutation generation: any
// delivered batch clears it.
func (p *Page) info(ctx context.Context, id string) (nodeInfo, bool) {
	p.mu.Lock()
	gen := p.gen
	if cached, ok := p.cache[id]; ok {
		p.mu.Unlock()
		return cached, cached.ID != ""
	}
	p.mu.Unlock()

	raw, err := p.evalString(ctx, `(h) => window.__testflow.describe(h)`, id)
	if err != nil {
		p.logger.Debug("browser: describe", "handle", id, "error", err)
		return nodeInfo{}, false
	}

	var ni nodeInfo
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &ni); err != nil {
			p.logger.Warn("browser: parse describe", "handle", id, "error", err)
			return nodeInfo{}, false
		}
	}

	p.mu.Lock()
	if p.gen == gen {
		p.cache[id] = ni
	}
	p.mu.Unlock()
	return ni, ni.ID != ""
}

// remoteNode is a dom.Node over a live element in the page. The handle
// stays valid until the element is removed or the document navigates.
type remoteNode struct {
	p  *Page
	id string
}

func (n remoteNode) ID() string { return n.id }

func (n remoteNode) Tag() string {
	ni, _ := n.p.info(n.p.ctx, n.id)
	return ni.Tag
}

func (n remoteNode) Attr(name string) (string, bool) {
	ni, ok := n.p.info(n.p.ctx, n.id)
	if !ok {
		return "", false
	}
	for _, a := range ni.Attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

func (n remoteNode) Attrs() []dom.Attribute {
	ni, _ := n.p.info(n.p.ctx, n.id)
	out := make([]dom.Attribute, len(ni.Attrs))
	copy(out, ni.Attrs)
	return out
}

func (n remoteNode) Text() string {
	ni, _ := n.p.info(n.p.ctx, n.id)
	return ni.Text
}

func (n remoteNode) InnerText() string {
	ni, _ := n.p.info(n.p.ctx, n.id)
	return ni.InnerText
}

func (n remoteNode) Parent() dom.Node {
	ni, ok := n.p.info(n.p.ctx, n.id)
	if !ok || ni.Parent == "" {
		return nil
	}
	return remoteNode{p: n.p, id: ni.Parent}
}

func (n remoteNode) Children() []dom.Node {
	ni, _ := n.p.info(n.p.ctx, n.id)
	out := make([]dom.Node, len(ni.Children))
	for i, id := range ni.Children {
		out[i] = remoteNode{p: n.p, id: id}
	}
	return out
}

func (n remoteNode) Index() int {
	ni, _ := n.p.info(n.p.ctx, n.id)
	return ni.Index
}

func (n remoteNode) SameTagSiblings() int {
	ni, _ := n.p.info(n.p.ctx, n.id)
	return ni.SameTag
}

func (n remoteNode) BoundingBox() dom.Rect {
	ni, _ := n.p.info(n.p.ctx, n.id)
	return ni.Rect
}

func (n remoteNode) Visible() bool {
	ni, _ := n.p.info(n.p.ctx, n.id)
	return ni.Visible
}

// OuterHTML fetches the serialised element. The page slices by UTF-16
// units, which never undershoots a byte budget; the final cut to
// maxBytes happens here at a rune boundary.
func (n remoteNode) OuterHTML(maxBytes int) string {
	limit := maxBytes
	if limit < 0 {
		limit = 0
	}
	s, err := n.p.evalString(n.p.ctx, `(h, max) => window.__testflow.outerHTML(h, max)`, n.id, limit)
	if err != nil {
		n.p.logger.Debug("browser: outer html", "handle", n.id, "error", err)
		return ""
	}
	if maxBytes <= 0 {
		return s
	}
	return markup.Truncate(s, maxBytes)
}

// AbsolutePath returns the element's absolute path as computed in the
// page. Used by tooling that wants the live path without a Go-side
// walk.
func (n remoteNode) AbsolutePath() string {
	ni, _ := n.p.info(n.p.ctx, n.id)
	return ni.Path
}
