// Package engine implements the picker's interaction state machine.
// One engine observes one document; every entry point — pointer moves,
// clicks, cancel keys, mutation batches — serialises on the engine
// mutex, so consumers see a single coherent sequence of events.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xASHx26/testflow-sub001/descriptor"
	"github.com/xASHx26/testflow-sub001/dom"
	"github.com/xASHx26/testflow-sub001/idgen"
	"github.com/xASHx26/testflow-sub001/locator"
	"github.com/xASHx26/testflow-sub001/picker/event"
	"github.com/xASHx26/testflow-sub001/picker/internal/sink"
)

// State of the interaction loop.
type State string

const (
	StateDisabled State = "disabled"
	StateHovering State = "hovering"
	StateLocked   State = "locked"
)

// ErrNotEnabled is returned by interactions that require an enabled
// picker.
var ErrNotEnabled = errors.New("picker: not enabled")

// WatchedAttributes are the attribute mutations the engine subscribes
// to: the ones that change what an element is or whether it shows.
var WatchedAttributes = []string{
	"style", "class", "hidden", "aria-hidden", "aria-expanded", "open", "disabled",
}

// Highlighter draws the visual affordance over the active element.
// Implementations must not call back into the engine.
type Highlighter interface {
	Show(r dom.Rect)
	Hide()
}

type nopHighlighter struct{}

func (nopHighlighter) Show(dom.Rect) {}
func (nopHighlighter) Hide()         {}

// Options configure an Engine.
type Options struct {
	Sink        sink.Sink
	Highlighter Highlighter
	Logger      *slog.Logger
	SessionID   string
	IDs         idgen.Generator
	Clock       func() time.Time
}

// Engine drives element picking over one document.
type Engine struct {
	mu     sync.Mutex
	doc    dom.Document
	sink   sink.Sink
	hl     Highlighter
	logger *slog.Logger
	sess   string
	ids    idgen.Generator
	clock  func() time.Time

	state    State
	sub      dom.Subscription
	cancel   context.CancelFunc
	loopDone chan struct{}

	hoverID     string
	lockedID    string
	lockedDesc  descriptor.Descriptor
	lockedStale bool

	seq atomic.Uint64
}

// New creates an Engine over a document. The engine starts Disabled.
func New(doc dom.Document, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Highlighter == nil {
		opts.Highlighter = nopHighlighter{}
	}
	if opts.Sink == nil {
		opts.Sink = sink.NewRouter(opts.Logger)
	}
	if opts.IDs == nil {
		opts.IDs = idgen.Default
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.SessionID == "" {
		opts.SessionID = opts.IDs()
	}
	return &Engine{
		doc:    doc,
		sink:   opts.Sink,
		hl:     opts.Highlighter,
		logger: opts.Logger,
		sess:   opts.SessionID,
		ids:    opts.IDs,
		clock:  opts.Clock,
		state:  StateDisabled,
	}
}

// Enable transitions Disabled → Hovering: it subscribes to the
// document's mutation feed and starts consuming batches. Calling
// Enable on an already-enabled engine is a no-op with a nil error.
// A document that cannot be observed fails the call and leaves the
// engine Disabled.
func (e *Engine) Enable(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateDisabled {
		return nil
	}

	sub, err := e.doc.Subscribe(ctx, dom.SubtreeFilter{Attributes: WatchedAttributes})
	if err != nil {
		return fmt.Errorf("picker: enable: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	e.sub = sub
	e.cancel = cancel
	e.loopDone = done
	e.state = StateHovering
	e.hoverID = ""
	go e.loop(loopCtx, sub, done)

	e.logger.Info("picker: enabled", "url", e.doc.URL(), "session", e.sess)
	return nil
}

// Disable transitions any state → Disabled, closing the subscription
// and hiding the highlight. Idempotent.
func (e *Engine) Disable(ctx context.Context) error {
	e.mu.Lock()
	if e.state == StateDisabled {
		e.mu.Unlock()
		return nil
	}
	done := e.loopDone
	e.disableLocked()
	e.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// disableLocked clears all interaction state. Caller holds e.mu.
func (e *Engine) disableLocked() {
	if e.sub != nil {
		if err := e.sub.Close(); err != nil {
			e.logger.Warn("picker: close subscription", "error", err)
		}
		e.sub = nil
	}
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.hl.Hide()
	e.state = StateDisabled
	e.hoverID = ""
	e.lockedID = ""
	e.lockedDesc = descriptor.Descriptor{}
	e.lockedStale = false
	e.logger.Info("picker: disabled", "session", e.sess)
}

func (e *Engine) loop(ctx context.Context, sub dom.Subscription, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-sub.Batches():
			if !ok {
				return
			}
			e.handleBatch(ctx, b)
		}
	}
}

// PointerMove updates the hover while Hovering. Moves while Disabled
// or Locked are ignored. Re-entering the already-hovered element emits
// nothing; a new element moves the highlight and emits one preview.
func (e *Engine) PointerMove(ctx context.Context, x, y float64) error {
	e.mu.Lock()
	out, err := e.pointerMoveLocked(ctx, x, y)
	e.mu.Unlock()
	e.dispatch(ctx, out)
	return err
}

func (e *Engine) pointerMoveLocked(ctx context.Context, x, y float64) ([]outbound, error) {
	if e.state != StateHovering {
		return nil, nil
	}
	n, err := e.doc.NodeAt(ctx, x, y)
	if err != nil {
		return nil, fmt.Errorf("picker: hit test: %w", err)
	}
	if n == nil {
		if e.hoverID != "" {
			e.hoverID = ""
			e.hl.Hide()
		}
		return nil, nil
	}
	if dom.UnderOverlay(n) {
		return nil, nil
	}
	id := n.ID()
	if id == e.hoverID {
		return nil, nil
	}
	e.hoverID = id
	e.hl.Show(n.BoundingBox())

	p, ok := e.previewEvent(ctx, n, event.ReasonHover)
	if !ok {
		return nil, nil
	}
	return []outbound{{preview: &p}}, nil
}

// Click commits, moves, or releases a pick. Hovering + element under
// the pointer locks it and emits one selection; Hovering with nothing
// under the pointer stays put. While Locked, clicking the locked
// element releases it without emitting, and clicking a different
// element moves the lock onto it with a fresh selection. Clicks while
// Disabled error.
func (e *Engine) Click(ctx context.Context, x, y float64) error {
	e.mu.Lock()
	out, err := e.clickLocked(ctx, x, y)
	e.mu.Unlock()
	e.dispatch(ctx, out)
	return err
}

func (e *Engine) clickLocked(ctx context.Context, x, y float64) ([]outbound, error) {
	switch e.state {
	case StateDisabled:
		return nil, ErrNotEnabled

	case StateLocked:
		n, err := e.doc.NodeAt(ctx, x, y)
		if err != nil {
			return nil, fmt.Errorf("picker: hit test: %w", err)
		}
		if n == nil || dom.UnderOverlay(n) {
			return nil, nil
		}
		if n.ID() == e.lockedID {
			// Clicking the locked element releases it. The release
			// click never emits; the next pointer move resumes
			// previews.
			e.state = StateHovering
			e.lockedID = ""
			e.lockedDesc = descriptor.Descriptor{}
			e.lockedStale = false
			e.hoverID = ""
			e.hl.Hide()
			return nil, nil
		}
		e.hoverID = n.ID()
		e.hl.Show(n.BoundingBox())
		sel, ok := e.commitLocked(ctx, n, false)
		if !ok {
			return nil, nil
		}
		return []outbound{{selection: &sel}}, nil

	default: // StateHovering
		n, err := e.doc.NodeAt(ctx, x, y)
		if err != nil {
			return nil, fmt.Errorf("picker: hit test: %w", err)
		}
		if n == nil || dom.UnderOverlay(n) {
			return nil, nil
		}
		e.state = StateLocked
		e.hoverID = n.ID()
		e.hl.Show(n.BoundingBox())
		sel, ok := e.commitLocked(ctx, n, false)
		if !ok {
			return nil, nil
		}
		return []outbound{{selection: &sel}}, nil
	}
}

// CancelKey steps the interaction back: Locked → Hovering, Hovering →
// Disabled. Already Disabled is a no-op.
func (e *Engine) CancelKey(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case StateLocked:
		e.state = StateHovering
		e.lockedID = ""
		e.lockedDesc = descriptor.Descriptor{}
		e.lockedStale = false
		e.hoverID = ""
		e.hl.Hide()
	case StateHovering:
		e.disableLocked()
	}
	return nil
}

// ElementAt is the stateless probe: it extracts whatever renders at
// the coordinates without touching hover or lock state, in any engine
// state including Disabled, and emits no events.
func (e *Engine) ElementAt(ctx context.Context, x, y float64) (descriptor.Descriptor, error) {
	return descriptor.ExtractAt(ctx, e.doc, x, y)
}

// State returns the current interaction state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Locked returns the committed descriptor while a lock is held.
func (e *Engine) Locked() (descriptor.Descriptor, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lockedDesc, e.state == StateLocked
}

// SessionID returns the engine's session identifier.
func (e *Engine) SessionID() string { return e.sess }

// commitLocked runs the full pipeline for a locked node: extract,
// generate, rank with verification, build the selection event. Caller
// holds e.mu.
func (e *Engine) commitLocked(ctx context.Context, n dom.Node, refreshed bool) (event.Selection, bool) {
	d, err := descriptor.Extract(ctx, e.doc, n)
	if err != nil {
		e.logger.Error("picker: extract failed", "error", err)
		return event.Selection{}, false
	}
	e.lockedID = n.ID()
	e.lockedDesc = d
	e.lockedStale = false

	locs := locator.RankVerified(ctx, e.doc, locator.Generate(d))
	return event.Selection{
		EventID:    e.ids(),
		Seq:        e.seq.Add(1),
		SessionID:  e.sess,
		PageURL:    e.doc.URL(),
		Descriptor: d,
		Locators:   locs,
		Refreshed:  refreshed,
		Timestamp:  e.clock().UnixMilli(),
	}, true
}

func (e *Engine) previewEvent(ctx context.Context, n dom.Node, reason string) (event.Preview, bool) {
	d, err := descriptor.Extract(ctx, e.doc, n)
	if err != nil {
		e.logger.Warn("picker: extract for preview failed", "error", err)
		return event.Preview{}, false
	}
	return event.Preview{
		EventID:    e.ids(),
		Seq:        e.seq.Add(1),
		SessionID:  e.sess,
		PageURL:    e.doc.URL(),
		Reason:     reason,
		Descriptor: d,
		Timestamp:  e.clock().UnixMilli(),
	}, true
}

// outbound is an event built under the engine mutex and delivered
// after it is released, so sinks can never deadlock the engine.
type outbound struct {
	preview   *event.Preview
	selection *event.Selection
}

func (e *Engine) dispatch(ctx context.Context, out []outbound) {
	for _, o := range out {
		if o.preview != nil {
			if err := e.sink.SendPreview(ctx, *o.preview); err != nil {
				e.logger.Error("picker: send preview failed", "error", err)
			}
		}
		if o.selection != nil {
			if err := e.sink.SendSelection(ctx, *o.selection); err != nil {
				e.logger.Error("picker: send selection failed", "error", err)
			}
		}
	}
}
