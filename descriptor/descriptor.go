// Package descriptor extracts the full identity of a DOM element: the
// attributes, geometry, text, ancestry and addressing paths that
// locator generation and replay verification work from. Extraction is
// read-only and never panics; broken inputs produce zero values.
package descriptor

import (
	"errors"

	"github.com/xASHx26/testflow-sub001/dom"
)

// TestIDAttributes are the test-hook attributes recognised on
// elements, in priority order. The first one present wins.
var TestIDAttributes = []string{
	"data-testid",
	"data-cy",
	"data-test",
	"data-automation-id",
}

// Extraction limits.
const (
	TextLimit           = 300 // runes of normalised visible text
	HierarchyDepth      = 4   // ancestors captured, nearest first
	HierarchyClassLimit = 3   // classes kept per ancestor
)

var (
	// ErrNilNode is returned by Extract for a nil node.
	ErrNilNode = errors.New("descriptor: nil node")
	// ErrNoElement is returned by ExtractAt when nothing renders at
	// the coordinates.
	ErrNoElement = errors.New("descriptor: no element at coordinates")
)

// AncestorRef is one entry of a descriptor's hierarchy.
type AncestorRef struct {
	Tag     string   `json:"tag"`
	ID      string   `json:"id"`
	Classes []string `json:"classes"`
}

// Descriptor is the extracted identity of one element. Every field is
// always serialised — consumers distinguish "absent" by the zero
// value, never by key omission — and slices are empty, not null.
type Descriptor struct {
	Tag           string          `json:"tag"`
	Type          string          `json:"type"`
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Classes       []string        `json:"classes"`
	Text          string          `json:"text"`
	Label         string          `json:"label"`
	Attributes    []dom.Attribute `json:"attributes"`
	TestIDAttr    string          `json:"test_id_attr"`
	TestID        string          `json:"test_id"`
	Rect          dom.Rect        `json:"rect"`
	Visible       bool            `json:"visible"`
	Hierarchy     []AncestorRef   `json:"hierarchy"`
	XPath         string          `json:"xpath"`
	AbsoluteXPath string          `json:"absolute_xpath"`
	CSSSelector   string          `json:"css_selector"`
	Markup        string          `json:"markup"`
	ContextMarkup string          `json:"context_markup"`
}

// Zero reports whether the descriptor carries nothing — the result of
// extraction against a missing element.
func (d Descriptor) Zero() bool {
	return d.Tag == "" && d.AbsoluteXPath == ""
}
