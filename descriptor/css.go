package descriptor

import (
	"regexp"
	"strings"

	"github.com/xASHx26/testflow-sub001/dom"
)

// Classes carrying generated tokens churn on every build; a class with
// a long digit run or a single character is treated as unstable and
// never used in selectors.
var digitRun = regexp.MustCompile(`[0-9]{4,}`)

// StableClass reports whether a class name is usable in a selector.
func StableClass(c string) bool {
	return len(c) > 1 && !digitRun.MatchString(c)
}

const (
	cssAncestorDepth  = 3
	cssClassesPerStep = 3
)

// CSSPath builds a class-based selector for n: the element step plus
// up to three ancestor steps joined with the child combinator. The
// element step must carry at least one stable class or a type
// qualifier; otherwise the selector would match half the page and ""
// is returned instead.
func CSSPath(n dom.Node) string {
	if n == nil {
		return ""
	}
	self, qualified := cssStep(n)
	if !qualified {
		return ""
	}
	steps := []string{self}
	cur := n.Parent()
	for i := 0; i < cssAncestorDepth && cur != nil; i++ {
		tag := cur.Tag()
		if tag == "html" || tag == "body" {
			break
		}
		step, _ := cssStep(cur)
		steps = append([]string{step}, steps...)
		cur = cur.Parent()
	}
	return strings.Join(steps, " > ")
}

// cssStep renders one selector step. qualified is true when the step
// narrows beyond the bare tag.
func cssStep(n dom.Node) (step string, qualified bool) {
	var b strings.Builder
	b.WriteString(n.Tag())

	kept := 0
	for _, c := range stableClasses(n) {
		if kept == cssClassesPerStep {
			break
		}
		b.WriteByte('.')
		b.WriteString(EscapeCSSIdent(c))
		kept++
	}

	if kept == 0 {
		if t := typeQualifier(n); t != "" {
			b.WriteString(t)
			return b.String(), true
		}
		return b.String(), false
	}
	if t := typeQualifier(n); t != "" {
		b.WriteString(t)
	}
	return b.String(), true
}

func stableClasses(n dom.Node) []string {
	raw, _ := n.Attr("class")
	var out []string
	for _, c := range strings.Fields(raw) {
		if StableClass(c) {
			out = append(out, c)
		}
	}
	return out
}

func typeQualifier(n dom.Node) string {
	switch n.Tag() {
	case "input", "button":
		if t, ok := n.Attr("type"); ok && t != "" {
			return `[type=` + QuoteCSSString(t) + `]`
		}
	}
	return ""
}

// EscapeCSSIdent escapes a class name for use in a selector: colons
// and combinator characters get a backslash, a leading digit gets the
// CSS hex escape.
func EscapeCSSIdent(s string) string {
	if s == "" {
		return s
	}
	s = strings.ReplaceAll(s, `:`, `\:`)
	s = strings.ReplaceAll(s, `>`, `\>`)
	if s[0] >= '0' && s[0] <= '9' {
		s = `\3` + s[:1] + " " + s[1:]
	}
	return s
}

// QuoteCSSString renders a double-quoted CSS string with backslash
// and quote escaping, for attribute selector values.
func QuoteCSSString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}
