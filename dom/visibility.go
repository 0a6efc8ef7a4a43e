package dom

import "regexp"

// Inline style patterns that hide an element. Case-insensitive,
// whitespace-tolerant; matching is substring-based so compound style
// attributes are handled.
var hiddenStylePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)display\s*:\s*none`),
	regexp.MustCompile(`(?i)visibility\s*:\s*hidden`),
}

// HiddenStyle reports whether an inline style value hides the element.
func HiddenStyle(style string) bool {
	for _, p := range hiddenStylePatterns {
		if p.MatchString(style) {
			return true
		}
	}
	return false
}

// Tags that never render content of their own.
var nonRenderedTags = map[string]bool{
	"script": true, "style": true, "template": true, "noscript": true,
	"head": true, "meta": true, "link": true, "title": true, "base": true,
}

// NonRendered reports whether a tag never produces visible output.
func NonRendered(tag string) bool {
	return nonRenderedTags[tag]
}

// HiddenLocal reports whether the node itself (ignoring ancestors) is
// hidden: non-rendered tag, hidden attribute, or hiding inline style.
func HiddenLocal(n Node) bool {
	if n == nil {
		return true
	}
	if NonRendered(n.Tag()) {
		return true
	}
	if _, ok := n.Attr("hidden"); ok {
		return true
	}
	if style, ok := n.Attr("style"); ok && HiddenStyle(style) {
		return true
	}
	return false
}

// UnderOverlay reports whether the node or an ancestor carries
// OverlayAttr.
func UnderOverlay(n Node) bool {
	for cur := n; cur != nil; cur = cur.Parent() {
		if _, ok := cur.Attr(OverlayAttr); ok {
			return true
		}
	}
	return false
}
