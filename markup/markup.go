// Package markup captures element snapshots for descriptors and
// events: serialized outer HTML is sanitized, cut to a byte budget,
// and optionally rendered as markdown for logs and tool output.
package markup

import (
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"github.com/xASHx26/testflow-sub001/dom"
)

// Byte budgets for captured markup, applied after sanitation.
const (
	ElementBudget = 2000
	ContextBudget = 3000
)

var policy = buildPolicy()

// buildPolicy extends the UGC policy with the attributes descriptors
// and locators depend on. Event handlers and scripts stay stripped.
func buildPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs(
		"id", "name", "class", "type", "value", "placeholder", "role",
		"href", "src", "alt", "title", "style", "hidden", "open",
		"disabled", "tabindex", "for",
		"data-testid", "data-cy", "data-test", "data-automation-id",
	).Globally()
	p.AllowAttrs("aria-label", "aria-hidden", "aria-expanded").Globally()
	p.AllowElements("button", "input", "select", "option", "textarea",
		"label", "form", "summary", "details", "nav", "header", "footer",
		"main", "section", "article", "aside")
	return p
}

// Sanitize strips scripts, event handlers and unknown markup from an
// HTML fragment, keeping the attributes descriptors carry.
func Sanitize(html string) string {
	return policy.Sanitize(html)
}

// Capture serializes a node, sanitizes it and cuts it to the byte
// budget. A nil node yields "". budget <= 0 disables the cut.
func Capture(n dom.Node, budget int) string {
	if n == nil {
		return ""
	}
	// Serialize a little past the budget so sanitation has material to
	// work with, then cut the sanitized result.
	raw := n.OuterHTML(budgetWithSlack(budget))
	return Truncate(Sanitize(raw), budget)
}

func budgetWithSlack(budget int) int {
	if budget <= 0 {
		return 0
	}
	return budget * 2
}

// Truncate cuts s to at most max bytes without splitting a rune.
// Truncation is idempotent: truncating an already-truncated string is
// a no-op. max <= 0 disables the limit.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// TruncateRunes cuts s to at most max runes, collapsing nothing.
// max <= 0 disables the limit.
func TruncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}

// NormalizeText collapses whitespace runs to single spaces and trims.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
