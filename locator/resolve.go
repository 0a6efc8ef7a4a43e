package locator

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/xASHx26/testflow-sub001/dom"
)

// ErrNotSelectable is returned when a CSS-form locator meets a
// document that cannot resolve selectors.
var ErrNotSelectable = errors.New("locator: document cannot resolve CSS selectors")

// Resolve finds every node the locator matches in the document. Zero
// matches is not an error; a strategy the document cannot serve is.
func Resolve(ctx context.Context, doc dom.Document, loc Locator) ([]dom.Node, error) {
	if doc == nil {
		return nil, fmt.Errorf("locator: nil document")
	}
	switch loc.Strategy {
	case StrategyTestID, StrategyID, StrategyName, StrategyCSS, StrategyAttribute:
		sel, ok := doc.(dom.Selectable)
		if !ok {
			return nil, ErrNotSelectable
		}
		return sel.QuerySelectorAll(ctx, loc.Value)
	case StrategyXPath, StrategyAbsoluteXPath:
		return resolvePath(doc, loc.Value)
	default:
		return nil, fmt.Errorf("locator: unknown strategy %q", loc.Strategy)
	}
}

const anchorPrefix = `//*[@id="`

func resolvePath(doc dom.Document, path string) ([]dom.Node, error) {
	if strings.HasPrefix(path, anchorPrefix) {
		return resolveAnchored(doc, path)
	}
	if strings.HasPrefix(path, "/") {
		return resolveAbsolute(doc, path)
	}
	return nil, fmt.Errorf("locator: unsupported path %q", path)
}

func resolveAnchored(doc dom.Document, path string) ([]dom.Node, error) {
	rest := path[len(anchorPrefix):]
	end := strings.Index(rest, `"]`)
	if end < 0 {
		return nil, fmt.Errorf("locator: malformed anchor in %q", path)
	}
	id := rest[:end]
	tail := rest[end+2:]

	anchor := findByHTMLID(doc.Root(), id)
	if anchor == nil {
		return nil, nil
	}
	if tail == "" {
		return []dom.Node{anchor}, nil
	}
	steps, err := parseSteps(strings.TrimPrefix(tail, "/"))
	if err != nil {
		return nil, err
	}
	if n := walkSteps(anchor, steps); n != nil {
		return []dom.Node{n}, nil
	}
	return nil, nil
}

func resolveAbsolute(doc dom.Document, path string) ([]dom.Node, error) {
	steps, err := parseSteps(strings.TrimPrefix(path, "/"))
	if err != nil {
		return nil, err
	}
	root := doc.Root()
	if root == nil || len(steps) == 0 {
		return nil, nil
	}
	if steps[0].tag != root.Tag() {
		return nil, nil
	}
	if n := walkSteps(root, steps[1:]); n != nil {
		return []dom.Node{n}, nil
	}
	return nil, nil
}

type pathStep struct {
	tag   string
	index int
}

var stepRe = regexp.MustCompile(`^([a-zA-Z][a-zA-Z0-9-]*)(?:\[([0-9]+)\])?$`)

func parseSteps(p string) ([]pathStep, error) {
	if p == "" {
		return nil, nil
	}
	parts := strings.Split(p, "/")
	out := make([]pathStep, 0, len(parts))
	for _, part := range parts {
		m := stepRe.FindStringSubmatch(part)
		if m == nil {
			return nil, fmt.Errorf("locator: malformed path step %q", part)
		}
		s := pathStep{tag: strings.ToLower(m[1]), index: 1}
		if m[2] != "" {
			idx, err := strconv.Atoi(m[2])
			if err != nil || idx < 1 {
				return nil, fmt.Errorf("locator: malformed path index %q", part)
			}
			s.index = idx
		}
		out = append(out, s)
	}
	return out, nil
}

// walkSteps descends from cur following same-tag ordinals. A missing
// step yields nil.
func walkSteps(cur dom.Node, steps []pathStep) dom.Node {
	for _, s := range steps {
		var next dom.Node
		seen := 0
		for _, c := range cur.Children() {
			if c.Tag() != s.tag {
				continue
			}
			seen++
			if seen == s.index {
				next = c
				break
			}
		}
		if next == nil {
			return nil
		}
		cur = next
	}
	return cur
}

func findByHTMLID(root dom.Node, id string) dom.Node {
	if root == nil {
		return nil
	}
	if v, ok := root.Attr("id"); ok && v == id {
		return root
	}
	for _, c := range root.Children() {
		if n := findByHTMLID(c, id); n != nil {
			return n
		}
	}
	return nil
}
