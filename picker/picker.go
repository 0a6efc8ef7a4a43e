// Package picker provides interactive element picking over a live or
// in-memory document. An enabled picker tracks the pointer, previews
// hovered and newly inserted interactive elements, locks an element on
// click, and emits the locked element's descriptor with ranked
// locators to sinks (stdout, webhook, callback).
//
// The picker observes and describes, it does not act: clicks are
// consumed for selection, never forwarded to the page.
package picker

import (
	"github.com/xASHx26/testflow-sub001/dom"
	"github.com/xASHx26/testflow-sub001/picker/internal/engine"
)

// Engine is the interaction state machine. Create one per observed
// document.
type Engine = engine.Engine

// Options configure an Engine.
type Options = engine.Options

// State of the interaction loop.
type State = engine.State

// Interaction states.
const (
	StateDisabled = engine.StateDisabled
	StateHovering = engine.StateHovering
	StateLocked   = engine.StateLocked
)

// Highlighter draws the visual affordance over the active element.
type Highlighter = engine.Highlighter

// ErrNotEnabled is returned by interactions that require an enabled
// picker.
var ErrNotEnabled = engine.ErrNotEnabled

// WatchedAttributes are the attribute mutations the picker subscribes
// to.
var WatchedAttributes = engine.WatchedAttributes

// New creates a picker engine over a document. The engine starts
// Disabled; Enable begins observation.
func New(doc dom.Document, opts Options) *Engine {
	return engine.New(doc, opts)
}

// Interactive reports whether an element is something a user acts on.
// The mutation reconciler uses the same test to decide which inserted
// elements deserve previews.
func Interactive(n dom.Node) bool {
	return engine.Interactive(n)
}
