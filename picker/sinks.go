package picker

import (
	"context"
	"io"
	"log/slog"

	"github.com/xASHx26/testflow-sub001/picker/event"
	"github.com/xASHx26/testflow-sub001/picker/internal/sink"
)

// Sink is the output interface for picker events.
type Sink = sink.Sink

// NewStdoutSink creates a stdout JSON-lines sink.
func NewStdoutSink(w io.Writer) Sink {
	return sink.NewStdout(w)
}

// NewWebhookSink creates a webhook POST sink with retry.
func NewWebhookSink(url string, logger *slog.Logger) Sink {
	return sink.NewWebhook(url, sink.WithWebhookLogger(logger))
}

// PreviewFunc is called for each preview.
type PreviewFunc = sink.PreviewFunc

// SelectionFunc is called for each selection.
type SelectionFunc = sink.SelectionFunc

// NewCallbackSink creates an in-process callback sink for the connectivity
// "local" path — zero serialisation.
func NewCallbackSink(
	onPreview func(ctx context.Context, p event.Preview) error,
	onSelection func(ctx context.Context, s event.Selection) error,
) Sink {
	return sink.NewCallback(onPreview, onSelection)
}

// NewRouterSink fans events out to several sinks; failures are logged
// and the first error is returned after all sinks have been tried.
func NewRouterSink(logger *slog.Logger, sinks ...Sink) Sink {
	return sink.NewRouter(logger, sinks...)
}
