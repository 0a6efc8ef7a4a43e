package dom

import (
	"fmt"
	"strings"
)

// AbsolutePath builds the rooted element path of n in the form
// /html/body/div[2]/span[1]. html, body and head are never indexed;
// every step below them carries its 1-based same-tag sibling index
// regardless of sibling counts, so the path survives later sibling
// insertions without becoming ambiguous about which position it meant.
func AbsolutePath(n Node) string {
	if n == nil {
		return ""
	}
	var steps []string
	for cur := n; cur != nil; cur = cur.Parent() {
		tag := cur.Tag()
		switch tag {
		case "html":
			steps = append(steps, "html")
		case "body", "head":
			steps = append(steps, tag)
		default:
			steps = append(steps, fmt.Sprintf("%s[%d]", tag, cur.Index()))
		}
	}
	// steps is leaf-first; reverse into a rooted path.
	var b strings.Builder
	for i := len(steps) - 1; i >= 0; i-- {
		b.WriteByte('/')
		b.WriteString(steps[i])
	}
	return b.String()
}

// AnchoredPath builds a relative path anchored at the nearest ancestor
// (or self) carrying an HTML id: //*[@id="x"]/div[2]/span. Steps below
// the anchor are indexed only when the element actually has same-tag
// siblings. When no id exists anywhere up the chain — or the nearest id
// contains a double quote, which XPath string literals cannot carry —
// the absolute path is returned with anchored=false.
func AnchoredPath(n Node) (path string, anchored bool) {
	if n == nil {
		return "", false
	}
	var steps []string
	for cur := n; cur != nil; cur = cur.Parent() {
		if id, ok := cur.Attr("id"); ok && id != "" && !strings.Contains(id, `"`) {
			var b strings.Builder
			b.WriteString(`//*[@id="`)
			b.WriteString(id)
			b.WriteString(`"]`)
			for i := len(steps) - 1; i >= 0; i-- {
				b.WriteByte('/')
				b.WriteString(steps[i])
			}
			return b.String(), true
		}
		steps = append(steps, relativeStep(cur))
	}
	return AbsolutePath(n), false
}

func relativeStep(n Node) string {
	if n.SameTagSiblings() > 1 {
		return fmt.Sprintf("%s[%d]", n.Tag(), n.Index())
	}
	return n.Tag()
}
