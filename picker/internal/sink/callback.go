package sink

import (
	"context"

	"github.com/xASHx26/testflow-sub001/picker/event"
)

// PreviewFunc is called for each preview (in-process, zero
// serialisation).
type PreviewFunc func(ctx context.Context, p event.Preview) error

// SelectionFunc is called for each selection.
type SelectionFunc func(ctx context.Context, s event.Selection) error

// Callback delivers events via Go function calls. This is the
// in-process path — when the picker and its consumer live in the same
// binary, events are delivered as in-memory function calls with zero
// serialisation overhead.
type Callback struct {
	onPreview   PreviewFunc
	onSelection SelectionFunc
}

// NewCallback creates a Callback sink. Either handler may be nil.
func NewCallback(onPreview PreviewFunc, onSelection SelectionFunc) *Callback {
	return &Callback{onPreview: onPreview, onSelection: onSelection}
}

func (c *Callback) SendPreview(ctx context.Context, p event.Preview) error {
	if c.onPreview != nil {
		return c.onPreview(ctx, p)
	}
	return nil
}

func (c *Callback) SendSelection(ctx context.Context, s event.Selection) error {
	if c.onSelection != nil {
		return c.onSelection(ctx, s)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
