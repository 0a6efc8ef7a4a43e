// Package sink defines output backends for picker events.
package sink

import (
	"context"

	"github.com/xASHx26/testflow-sub001/picker/event"
)

// Sink is the output interface. Implementations deliver picker events
// to different backends (stdout, webhook, in-process callback).
type Sink interface {
	SendPreview(ctx context.Context, p event.Preview) error
	SendSelection(ctx context.Context, s event.Selection) error
	Close() error
}
