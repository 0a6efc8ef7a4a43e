// Package event defines the structured types emitted by the picker.
// These are the public API contract: any consumer (replay, recording
// pipelines, custom sinks) imports this package to receive and process
// picker output.
package event

import (
	"github.com/xASHx26/testflow-sub001/descriptor"
	"github.com/xASHx26/testflow-sub001/locator"
)

// Preview reasons.
const (
	ReasonHover    = "hover"    // pointer moved onto the element
	ReasonInserted = "inserted" // interactive element appeared in the page
)

// Preview announces a candidate element before any commitment: the
// hovered element, or an interactive element a mutation inserted.
// Every field is always serialised; absence is the zero value, never a
// missing key.
type Preview struct {
	EventID    string                `json:"event_id"` // UUIDv7
	Seq        uint64                `json:"seq"`      // shared counter with selections
	SessionID  string                `json:"session_id"`
	PageURL    string                `json:"page_url"`
	Reason     string                `json:"reason"`
	Descriptor descriptor.Descriptor `json:"descriptor"`
	Timestamp  int64                 `json:"timestamp"` // epoch milliseconds
}

// Selection is a committed pick: the full descriptor plus ranked
// locators. Refreshed marks re-emissions caused by mutations on an
// already-locked element.
type Selection struct {
	EventID    string                `json:"event_id"` // UUIDv7
	Seq        uint64                `json:"seq"`
	SessionID  string                `json:"session_id"`
	PageURL    string                `json:"page_url"`
	Descriptor descriptor.Descriptor `json:"descriptor"`
	Locators   []locator.Locator     `json:"locators"`
	Refreshed  bool                  `json:"refreshed"`
	Timestamp  int64                 `json:"timestamp"`
}
