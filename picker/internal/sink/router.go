package sink

import (
	"context"
	"log/slog"

	"github.com/xASHx26/testflow-sub001/picker/event"
)

// Router fans out events to all configured sinks. One sink error does
// not block the others — errors are logged and the first encountered
// is returned.
type Router struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewRouter creates a fan-out router delivering to all sinks.
func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, logger: logger}
}

func (r *Router) SendPreview(ctx context.Context, p event.Preview) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.SendPreview(ctx, p); err != nil {
			r.logger.Warn("sink: send preview failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) SendSelection(ctx context.Context, sel event.Selection) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.SendSelection(ctx, sel); err != nil {
			r.logger.Warn("sink: send selection failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) Close() error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
