package htmldoc

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/xASHx26/testflow-sub001/dom"
)

// errForeignNode is returned when a mutation receives a node that did
// not come from this document.
var errForeignNode = errors.New("htmldoc: node does not belong to this document")

func (d *Doc) own(n dom.Node) (node, error) {
	x, ok := n.(node)
	if !ok || x.d != d {
		return node{}, errForeignNode
	}
	return x, nil
}

// SetAttr sets or replaces an attribute and records an attr change.
func (d *Doc) SetAttr(n dom.Node, name, value string) error {
	x, err := d.own(n)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	old, had := getAttrRaw(x.n, name)
	if had {
		for i := range x.n.Attr {
			if x.n.Attr[i].Key == name {
				x.n.Attr[i].Val = value
				break
			}
		}
	} else {
		x.n.Attr = append(x.n.Attr, html.Attribute{Key: name, Val: value})
	}
	d.layoutOK = false
	d.pending = append(d.pending, dom.Change{
		Op:       dom.OpAttr,
		NodeID:   d.handleOfLocked(x.n),
		Tag:      x.Tag(),
		Name:     name,
		Value:    value,
		OldValue: old,
		Path:     dom.AbsolutePath(x),
	})
	return nil
}

// RemoveAttr removes an attribute. Removing an absent attribute is a
// no-op with no change record.
func (d *Doc) RemoveAttr(n dom.Node, name string) error {
	x, err := d.own(n)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	old, had := getAttrRaw(x.n, name)
	if !had {
		return nil
	}
	attrs := x.n.Attr[:0]
	for _, a := range x.n.Attr {
		if a.Key != name {
			attrs = append(attrs, a)
		}
	}
	x.n.Attr = attrs
	d.layoutOK = false
	d.pending = append(d.pending, dom.Change{
		Op:       dom.OpAttrDel,
		NodeID:   d.handleOfLocked(x.n),
		Tag:      x.Tag(),
		Name:     name,
		OldValue: old,
		Path:     dom.AbsolutePath(x),
	})
	return nil
}

// SetText replaces the element's direct text content and records a
// text change.
func (d *Doc) SetText(n dom.Node, text string) error {
	x, err := d.own(n)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	old := x.Text()
	var next *html.Node
	for c := x.n.FirstChild; c != nil; c = next {
		next = c.NextSibling
		if c.Type == html.TextNode {
			x.n.RemoveChild(c)
		}
	}
	if text != "" {
		x.n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	}
	d.layoutOK = false
	d.pending = append(d.pending, dom.Change{
		Op:       dom.OpText,
		NodeID:   d.handleOfLocked(x.n),
		Tag:      x.Tag(),
		Value:    text,
		OldValue: old,
		Path:     dom.AbsolutePath(x) + "/text()",
	})
	return nil
}

// InsertChild parses an HTML fragment and appends its top-level
// elements to parent. One insert change is recorded per top-level
// element; the first inserted element is returned.
func (d *Doc) InsertChild(parent dom.Node, fragment string) (dom.Node, error) {
	x, err := d.own(parent)
	if err != nil {
		return nil, err
	}
	ctxNode := &html.Node{
		Type:     html.ElementNode,
		Data:     x.Tag(),
		DataAtom: atom.Lookup([]byte(x.Tag())),
	}
	parsed, err := html.ParseFragment(strings.NewReader(fragment), ctxNode)
	if err != nil {
		return nil, fmt.Errorf("htmldoc: parse fragment: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var first dom.Node
	for _, c := range parsed {
		if c.Parent != nil {
			c.Parent.RemoveChild(c)
		}
		x.n.AppendChild(c)
		if c.Type != html.ElementNode {
			continue
		}
		inserted := node{d, c}
		if first == nil {
			first = inserted
		}
		d.pending = append(d.pending, dom.Change{
			Op:     dom.OpInsert,
			NodeID: d.handleOfLocked(c),
			Tag:    inserted.Tag(),
			Path:   dom.AbsolutePath(inserted),
		})
	}
	d.layoutOK = false
	if first == nil {
		return nil, fmt.Errorf("htmldoc: fragment %q contains no element", fragment)
	}
	return first, nil
}

// Remove unlinks a node. The subtree's handles go stale; the change
// record keeps the path the node had before removal.
func (d *Doc) Remove(n dom.Node) error {
	x, err := d.own(n)
	if err != nil {
		return err
	}
	if x.n.Parent == nil {
		return fmt.Errorf("htmldoc: cannot remove detached node")
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	change := dom.Change{
		Op:     dom.OpRemove,
		NodeID: d.handleOfLocked(x.n),
		Tag:    x.Tag(),
		Path:   dom.AbsolutePath(x),
	}
	x.n.Parent.RemoveChild(x.n)
	d.dropHandlesLocked(x.n)
	d.layoutOK = false
	d.pending = append(d.pending, change)
	return nil
}

// Reset replaces the whole document with newly parsed HTML and records
// a doc_reset change. All existing handles go stale.
func (d *Doc) Reset(src string) error {
	root, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return fmt.Errorf("htmldoc: reset: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	d.root = root
	d.indexTree()
	d.handles = make(map[*html.Node]string)
	d.byHandle = make(map[string]*html.Node)
	d.overrides = make(map[*html.Node]dom.Rect)
	d.layoutOK = false
	d.pending = append(d.pending, dom.Change{
		Op:   dom.OpDocReset,
		Path: "/",
	})
	return nil
}
