package descriptor

import (
	"context"
	"fmt"
	"strings"

	"github.com/xASHx26/testflow-sub001/dom"
	"github.com/xASHx26/testflow-sub001/markup"
)

// Extract builds the descriptor of n. The document is only consulted
// for label association; extraction has no side effects on either.
func Extract(ctx context.Context, doc dom.Document, n dom.Node) (Descriptor, error) {
	if n == nil {
		return zero(), ErrNilNode
	}

	d := Descriptor{
		Tag:        n.Tag(),
		Classes:    classList(n),
		Attributes: copyAttrs(n.Attrs()),
		Hierarchy:  hierarchy(n),
		Rect:       n.BoundingBox(),
		Visible:    n.Visible(),
	}
	d.Type, _ = n.Attr("type")
	d.ID, _ = n.Attr("id")
	d.Name, _ = n.Attr("name")
	d.TestIDAttr, d.TestID = TestID(n)
	d.Text = markup.TruncateRunes(markup.NormalizeText(n.InnerText()), TextLimit)
	d.Label = labelText(ctx, doc, n)

	d.AbsoluteXPath = dom.AbsolutePath(n)
	d.XPath, _ = dom.AnchoredPath(n)
	d.CSSSelector = CSSPath(n)

	d.Markup = markup.Capture(n, markup.ElementBudget)
	d.ContextMarkup = markup.Capture(n.Parent(), markup.ContextBudget)
	return d, nil
}

// ExtractAt hit-tests the document and extracts whatever renders at
// (x, y). Stateless: repeated calls see only the document's current
// state.
func ExtractAt(ctx context.Context, doc dom.Document, x, y float64) (Descriptor, error) {
	if doc == nil {
		return zero(), fmt.Errorf("descriptor: nil document")
	}
	n, err := doc.NodeAt(ctx, x, y)
	if err != nil {
		return zero(), fmt.Errorf("descriptor: hit test at (%g, %g): %w", x, y, err)
	}
	if n == nil {
		return zero(), ErrNoElement
	}
	return Extract(ctx, doc, n)
}

// TestID returns the first test-hook attribute present on n in
// priority order, with its value.
func TestID(n dom.Node) (attr, value string) {
	for _, name := range TestIDAttributes {
		if v, ok := n.Attr(name); ok {
			return name, v
		}
	}
	return "", ""
}

// zero is the all-defaults descriptor with slices initialised so it
// still serialises per the wire contract.
func zero() Descriptor {
	return Descriptor{
		Classes:    []string{},
		Attributes: []dom.Attribute{},
		Hierarchy:  []AncestorRef{},
	}
}

func classList(n dom.Node) []string {
	raw, _ := n.Attr("class")
	fields := strings.Fields(raw)
	out := make([]string, 0, len(fields))
	seen := make(map[string]bool, len(fields))
	for _, c := range fields {
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

func copyAttrs(attrs []dom.Attribute) []dom.Attribute {
	out := make([]dom.Attribute, len(attrs))
	copy(out, attrs)
	return out
}

func hierarchy(n dom.Node) []AncestorRef {
	out := make([]AncestorRef, 0, HierarchyDepth)
	for cur := n.Parent(); cur != nil && len(out) < HierarchyDepth; cur = cur.Parent() {
		ref := AncestorRef{Tag: cur.Tag(), Classes: classList(cur)}
		ref.ID, _ = cur.Attr("id")
		if len(ref.Classes) > HierarchyClassLimit {
			ref.Classes = ref.Classes[:HierarchyClassLimit]
		}
		out = append(out, ref)
	}
	return out
}

// labelText resolves the element's label: a <label for=...> pointing
// at its id wins, then a wrapping <label> ancestor.
func labelText(ctx context.Context, doc dom.Document, n dom.Node) string {
	if id, ok := n.Attr("id"); ok && id != "" && doc != nil {
		if sel, ok := doc.(dom.Selectable); ok {
			q := fmt.Sprintf(`label[for=%s]`, QuoteCSSString(id))
			if nodes, err := sel.QuerySelectorAll(ctx, q); err == nil && len(nodes) > 0 {
				return markup.TruncateRunes(markup.NormalizeText(nodes[0].InnerText()), TextLimit)
			}
		}
	}
	for cur := n.Parent(); cur != nil; cur = cur.Parent() {
		if cur.Tag() == "label" {
			return markup.TruncateRunes(markup.NormalizeText(cur.InnerText()), TextLimit)
		}
	}
	return ""
}
