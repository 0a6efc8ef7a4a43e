// Package locator turns element descriptors into ranked lookup
// strategies. Generation is pure and deterministic; scoring orders
// candidates by how well they survive page changes, with the hard
// guarantee that structural selectors (CSS paths, xpaths) never
// outrank identity selectors (test ids, ids).
package locator

import (
	"strings"
	"unicode/utf8"

	"github.com/xASHx26/testflow-sub001/descriptor"
)

// Strategy names how a locator finds its element.
type Strategy string

const (
	StrategyTestID        Strategy = "testid"
	StrategyID            Strategy = "id"
	StrategyName          Strategy = "name"
	StrategyXPath         Strategy = "xpath"
	StrategyAbsoluteXPath Strategy = "absolute_xpath"
	StrategyCSS           Strategy = "css"
	StrategyAttribute     Strategy = "attribute"
)

// Locator is one way to find an element again. Attr names the source
// attribute for testid and attribute strategies and is empty
// otherwise. Confidence is in [0, 1].
type Locator struct {
	Strategy   Strategy `json:"strategy"`
	Value      string   `json:"value"`
	Attr       string   `json:"attr"`
	Confidence float64  `json:"confidence"`
}

// Attributes beyond id/name/test hooks that are worth a locator when
// present with a reasonably short value.
var attributeAllowList = []string{
	"placeholder", "aria-label", "title", "alt", "href", "src",
}

const attrValueLimit = 120 // runes

// Generate builds all locator candidates for a descriptor, unscored,
// in fixed generation order: test hooks, id, name, anchored xpath,
// CSS path, descriptive attributes, absolute xpath. Score or Rank
// assigns confidences.
func Generate(d descriptor.Descriptor) []Locator {
	var out []Locator

	for _, name := range descriptor.TestIDAttributes {
		if v, ok := attrValue(d, name); ok && v != "" {
			out = append(out, Locator{
				Strategy: StrategyTestID,
				Value:    "[" + name + "=" + descriptor.QuoteCSSString(v) + "]",
				Attr:     name,
			})
		}
	}

	if d.ID != "" {
		out = append(out, Locator{Strategy: StrategyID, Value: idSelector(d.ID)})
	}

	if d.Name != "" && d.Tag != "" {
		out = append(out, Locator{
			Strategy: StrategyName,
			Value:    d.Tag + "[name=" + descriptor.QuoteCSSString(d.Name) + "]",
		})
	}

	if d.XPath != "" {
		out = append(out, Locator{Strategy: StrategyXPath, Value: d.XPath})
	}

	if d.CSSSelector != "" {
		out = append(out, Locator{Strategy: StrategyCSS, Value: d.CSSSelector})
	}

	for _, name := range attributeAllowList {
		v, ok := attrValue(d, name)
		if !ok || v == "" || utf8.RuneCountInString(v) > attrValueLimit {
			continue
		}
		out = append(out, Locator{
			Strategy: StrategyAttribute,
			Value:    d.Tag + "[" + name + "=" + descriptor.QuoteCSSString(v) + "]",
			Attr:     name,
		})
	}

	if d.AbsoluteXPath != "" {
		out = append(out, Locator{Strategy: StrategyAbsoluteXPath, Value: d.AbsoluteXPath})
	}

	return out
}

func attrValue(d descriptor.Descriptor, name string) (string, bool) {
	for _, a := range d.Attributes {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// idSelector prefers the #id shorthand and falls back to an attribute
// selector when the id needs escaping a shorthand cannot carry.
func idSelector(id string) string {
	if simpleIdent(id) {
		return "#" + id
	}
	return "[id=" + descriptor.QuoteCSSString(id) + "]"
}

func simpleIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9', r == '-':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// anchoredValue reports whether an xpath candidate is id-anchored as
// opposed to a degraded rooted path.
func anchoredValue(value string) bool {
	return strings.HasPrefix(value, "//")
}
