package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/xASHx26/testflow-sub001/dom"
	"github.com/xASHx26/testflow-sub001/dom/htmldoc"
	"github.com/xASHx26/testflow-sub001/locator"
	"github.com/xASHx26/testflow-sub001/picker/event"
)

// Synthetic layout: body children stack in 20px lines from y=8, so the
// first child is hit at y=10, the second at y=30, and so on. A nested
// child occupies the line after its parent's own.
const twoButtons = `<html><body>
<button id="a">A</button>
<button id="b">B</button>
</body></html>`

// recorder captures delivered events.
type recorder struct {
	mu   sync.Mutex
	prev []event.Preview
	sels []event.Selection
}

func (r *recorder) SendPreview(_ context.Context, p event.Preview) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prev = append(r.prev, p)
	return nil
}

func (r *recorder) SendSelection(_ context.Context, s event.Selection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sels = append(r.sels, s)
	return nil
}

func (r *recorder) Close() error { return nil }

func (r *recorder) previews() []event.Preview {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.Preview(nil), r.prev...)
}

func (r *recorder) selections() []event.Selection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.Selection(nil), r.sels...)
}

// hlRec counts highlight calls.
type hlRec struct {
	mu    sync.Mutex
	shows int
	hides int
	last  dom.Rect
}

func (h *hlRec) Show(r dom.Rect) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.shows++
	h.last = r
}

func (h *hlRec) Hide() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hides++
}

func (h *hlRec) counts() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.shows, h.hides
}

func parse(t *testing.T, src string) *htmldoc.Doc {
	t.Helper()
	d, err := htmldoc.ParseString(src)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func newEngine(t *testing.T, doc *htmldoc.Doc) (*Engine, *recorder, *hlRec) {
	t.Helper()
	rec := &recorder{}
	hl := &hlRec{}
	var n int
	e := New(doc, Options{
		Sink:        rec,
		Highlighter: hl,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		SessionID:   "sess-test",
		IDs:         func() string { n++; return fmt.Sprintf("ev-%d", n) },
		Clock:       func() time.Time { return time.UnixMilli(1700000000000) },
	})
	return e, rec, hl
}

// forceHovering arms the engine without a mutation subscription, so
// batch tests can drive handleBatch directly with flushed batches.
func forceHovering(e *Engine) {
	e.mu.Lock()
	e.state = StateHovering
	e.mu.Unlock()
}

func flush(t *testing.T, doc *htmldoc.Doc) dom.ChangeBatch {
	t.Helper()
	b, ok := doc.Flush()
	if !ok {
		t.Fatal("no pending changes to flush")
	}
	return b
}

func TestHoverEmitsOnePreviewPerElement(t *testing.T) {
	ctx := context.Background()
	doc := parse(t, twoButtons)
	e, rec, hl := newEngine(t, doc)
	forceHovering(e)

	if err := e.PointerMove(ctx, 100, 10); err != nil {
		t.Fatal(err)
	}
	if err := e.PointerMove(ctx, 101, 12); err != nil { // same element
		t.Fatal(err)
	}
	if got := rec.previews(); len(got) != 1 || got[0].Descriptor.ID != "a" {
		t.Fatalf("after re-enter: %+v", got)
	}

	if err := e.PointerMove(ctx, 100, 30); err != nil {
		t.Fatal(err)
	}
	got := rec.previews()
	if len(got) != 2 || got[1].Descriptor.ID != "b" {
		t.Fatalf("after move to b: %+v", got)
	}
	if got[0].Seq != 1 || got[1].Seq != 2 {
		t.Errorf("seq: %d, %d", got[0].Seq, got[1].Seq)
	}
	if got[1].Reason != event.ReasonHover || got[1].SessionID != "sess-test" {
		t.Errorf("event fields: %+v", got[1])
	}

	// Off every element: highlight clears, nothing emitted, and coming
	// back re-emits.
	if err := e.PointerMove(ctx, 5000, 5000); err != nil {
		t.Fatal(err)
	}
	if len(rec.previews()) != 2 {
		t.Error("empty space emitted a preview")
	}
	if _, hides := hl.counts(); hides != 1 {
		t.Errorf("hides: %d", hides)
	}
	if err := e.PointerMove(ctx, 100, 10); err != nil {
		t.Fatal(err)
	}
	if got := rec.previews(); len(got) != 3 || got[2].Descriptor.ID != "a" {
		t.Fatalf("re-hover after clear: %+v", got)
	}
}

func TestClickLocksThenClickingLockedReleases(t *testing.T) {
	ctx := context.Background()
	doc := parse(t, twoButtons)
	e, rec, hl := newEngine(t, doc)
	forceHovering(e)

	if err := e.PointerMove(ctx, 100, 10); err != nil {
		t.Fatal(err)
	}
	if err := e.Click(ctx, 100, 10); err != nil {
		t.Fatal(err)
	}
	if got := e.State(); got != StateLocked {
		t.Fatalf("state after click: %s", got)
	}
	sels := rec.selections()
	if len(sels) != 1 {
		t.Fatalf("selections: %d", len(sels))
	}
	sel := sels[0]
	if sel.Descriptor.ID != "a" || sel.Refreshed {
		t.Errorf("selection: %+v", sel)
	}
	if sel.Seq != 2 { // previews and selections share the counter
		t.Errorf("selection seq: %d", sel.Seq)
	}
	if len(sel.Locators) == 0 || sel.Locators[0].Strategy != locator.StrategyID {
		t.Errorf("locators: %+v", sel.Locators)
	}
	if d, ok := e.Locked(); !ok || d.ID != "a" {
		t.Errorf("Locked(): %v %v", d, ok)
	}

	// Clicking the locked element again releases it without emitting
	// and hides the highlight.
	_, hidesBefore := hl.counts()
	if err := e.Click(ctx, 100, 10); err != nil {
		t.Fatal(err)
	}
	if got := e.State(); got != StateHovering {
		t.Fatalf("state after release: %s", got)
	}
	if _, ok := e.Locked(); ok {
		t.Error("still locked after release")
	}
	if len(rec.selections()) != 1 || len(rec.previews()) != 1 {
		t.Errorf("release emitted: %d selections, %d previews",
			len(rec.selections()), len(rec.previews()))
	}
	if _, hides := hl.counts(); hides != hidesBefore+1 {
		t.Error("highlight not hidden on release")
	}

	// The release cleared the hover, so staying put re-previews.
	if err := e.PointerMove(ctx, 100, 10); err != nil {
		t.Fatal(err)
	}
	if got := rec.previews(); len(got) != 2 || got[1].Descriptor.ID != "a" {
		t.Fatalf("re-hover after release: %+v", got)
	}
}

func TestClickWhileLockedMovesLock(t *testing.T) {
	ctx := context.Background()
	doc := parse(t, twoButtons)
	e, rec, hl := newEngine(t, doc)
	forceHovering(e)

	if err := e.Click(ctx, 100, 10); err != nil {
		t.Fatal(err)
	}

	// Clicking a different element while locked moves the lock onto it
	// and commits a fresh selection, with no preview in between.
	showsBefore, _ := hl.counts()
	if err := e.Click(ctx, 100, 30); err != nil {
		t.Fatal(err)
	}
	if got := e.State(); got != StateLocked {
		t.Fatalf("state after move: %s", got)
	}
	if d, ok := e.Locked(); !ok || d.ID != "b" {
		t.Errorf("Locked(): %v %v", d, ok)
	}
	sels := rec.selections()
	if len(sels) != 2 || sels[1].Descriptor.ID != "b" || sels[1].Refreshed {
		t.Fatalf("selections after move: %+v", sels)
	}
	if len(rec.previews()) != 0 {
		t.Errorf("move emitted previews: %+v", rec.previews())
	}
	if shows, _ := hl.counts(); shows != showsBefore+1 {
		t.Error("highlight did not follow the lock")
	}

	// Empty space while locked changes nothing.
	if err := e.Click(ctx, 5000, 5000); err != nil {
		t.Fatal(err)
	}
	if got := e.State(); got != StateLocked {
		t.Errorf("state after empty click: %s", got)
	}
	if d, _ := e.Locked(); d.ID != "b" {
		t.Errorf("empty click moved the lock: %+v", d)
	}
	if len(rec.selections()) != 2 {
		t.Errorf("empty click emitted: %d selections", len(rec.selections()))
	}

	// Clicking the new lock releases it.
	if err := e.Click(ctx, 100, 30); err != nil {
		t.Fatal(err)
	}
	if got := e.State(); got != StateHovering {
		t.Errorf("state after release: %s", got)
	}
	if len(rec.selections()) != 2 {
		t.Errorf("release emitted: %d selections", len(rec.selections()))
	}
}

func TestClickOnEmptySpaceKeepsHovering(t *testing.T) {
	ctx := context.Background()
	doc := parse(t, twoButtons)
	e, rec, _ := newEngine(t, doc)
	forceHovering(e)

	if err := e.Click(ctx, 5000, 5000); err != nil {
		t.Fatal(err)
	}
	if got := e.State(); got != StateHovering {
		t.Errorf("state: %s", got)
	}
	if len(rec.selections()) != 0 {
		t.Error("empty-space click emitted")
	}
}

func TestInteractionsWhileDisabled(t *testing.T) {
	ctx := context.Background()
	doc := parse(t, twoButtons)
	e, rec, _ := newEngine(t, doc)

	if err := e.Click(ctx, 100, 10); !errors.Is(err, ErrNotEnabled) {
		t.Errorf("click: %v", err)
	}
	if err := e.PointerMove(ctx, 100, 10); err != nil {
		t.Errorf("pointer move: %v", err)
	}
	if err := e.CancelKey(ctx); err != nil {
		t.Errorf("cancel: %v", err)
	}
	if len(rec.previews())+len(rec.selections()) != 0 {
		t.Error("disabled engine emitted events")
	}

	// The stateless probe still answers.
	d, err := e.ElementAt(ctx, 100, 10)
	if err != nil {
		t.Fatal(err)
	}
	if d.ID != "a" {
		t.Errorf("probe: %+v", d)
	}
	if got := e.State(); got != StateDisabled {
		t.Errorf("state: %s", got)
	}
}

func TestCancelKeyStepsBack(t *testing.T) {
	ctx := context.Background()
	doc := parse(t, twoButtons)
	e, rec, _ := newEngine(t, doc)
	forceHovering(e)

	if err := e.Click(ctx, 100, 10); err != nil {
		t.Fatal(err)
	}
	if err := e.CancelKey(ctx); err != nil {
		t.Fatal(err)
	}
	if got := e.State(); got != StateHovering {
		t.Fatalf("after first cancel: %s", got)
	}
	if err := e.CancelKey(ctx); err != nil {
		t.Fatal(err)
	}
	if got := e.State(); got != StateDisabled {
		t.Fatalf("after second cancel: %s", got)
	}
	if err := e.CancelKey(ctx); err != nil {
		t.Fatal(err)
	}
	if got := e.State(); got != StateDisabled {
		t.Fatalf("cancel while disabled: %s", got)
	}
	if len(rec.selections()) != 1 {
		t.Errorf("cancel emitted: %d selections", len(rec.selections()))
	}
}

func TestElementAtIsStateless(t *testing.T) {
	ctx := context.Background()
	doc := parse(t, twoButtons)
	e, rec, _ := newEngine(t, doc)
	forceHovering(e)

	if err := e.Click(ctx, 100, 10); err != nil {
		t.Fatal(err)
	}
	before := len(rec.selections()) + len(rec.previews())

	d, err := e.ElementAt(ctx, 100, 30)
	if err != nil {
		t.Fatal(err)
	}
	if d.ID != "b" {
		t.Errorf("probe: %+v", d)
	}
	if got := e.State(); got != StateLocked {
		t.Errorf("probe changed state: %s", got)
	}
	if locked, _ := e.Locked(); locked.ID != "a" {
		t.Errorf("probe changed lock: %+v", locked)
	}
	if len(rec.selections())+len(rec.previews()) != before {
		t.Error("probe emitted events")
	}
}

func TestEnableIdempotentDisableIdempotent(t *testing.T) {
	ctx := context.Background()
	doc := parse(t, twoButtons)
	e, rec, _ := newEngine(t, doc)

	if err := e.Enable(ctx); err != nil {
		t.Fatal(err)
	}
	if got := e.State(); got != StateHovering {
		t.Fatalf("after enable: %s", got)
	}
	if err := e.Enable(ctx); err != nil {
		t.Fatalf("second enable: %v", err)
	}
	if got := e.State(); got != StateHovering {
		t.Fatalf("after double enable: %s", got)
	}

	// One subscription survives the double enable: a flushed batch is
	// handled exactly once.
	if _, err := doc.InsertChild(doc.Body(), `<button id="n">N</button>`); err != nil {
		t.Fatal(err)
	}
	if _, ok := doc.Flush(); !ok {
		t.Fatal("flush had nothing")
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(rec.previews()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("inserted preview never arrived")
		}
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	if got := rec.previews(); len(got) != 1 {
		t.Fatalf("batch handled %d times, want once", len(got))
	}

	if err := e.Disable(ctx); err != nil {
		t.Fatal(err)
	}
	if got := e.State(); got != StateDisabled {
		t.Fatalf("after disable: %s", got)
	}
	if err := e.Disable(ctx); err != nil {
		t.Fatalf("second disable: %v", err)
	}

	// The engine can come back after a disable.
	if err := e.Enable(ctx); err != nil {
		t.Fatal(err)
	}
	if got := e.State(); got != StateHovering {
		t.Fatalf("after re-enable: %s", got)
	}
	if err := e.Disable(ctx); err != nil {
		t.Fatal(err)
	}
}

// deafDoc implements dom.Document but refuses subscriptions.
type deafDoc struct{ root dom.Node }

func (d deafDoc) Root() dom.Node { return d.root }
func (d deafDoc) NodeAt(ctx context.Context, x, y float64) (dom.Node, error) { return nil, nil }
func (d deafDoc) NodeByID(ctx context.Context, id string) (dom.Node, error) { return nil, nil }
func (d deafDoc) Subscribe(ctx context.Context, f dom.SubtreeFilter) (dom.Subscription, error) {
	return nil, errors.New("no mutation feed")
}
func (d deafDoc) URL() string { return "" }

func TestEnableFailsWhenNotObservable(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	e := New(deafDoc{}, Options{
		Sink:   rec,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	if err := e.Enable(ctx); err == nil {
		t.Fatal("enable succeeded without a mutation feed")
	}
	if got := e.State(); got != StateDisabled {
		t.Errorf("state: %s", got)
	}
}

func TestOverlayIsTransparentToPicking(t *testing.T) {
	ctx := context.Background()
	doc := parse(t, `<html><body>
<button id="a">A</button>
<div id="hl" `+dom.OverlayAttr+`=""><span id="badge">pick me</span></div>
</body></html>`)
	// Park the highlight box right on top of the button, the way the
	// real overlay sits on the hovered element.
	doc.SetRect(byID(t, doc, "hl"), dom.Rect{X: 8, Y: 8, Width: 400, Height: 20})
	doc.SetRect(byID(t, doc, "badge"), dom.Rect{X: 8, Y: 8, Width: 400, Height: 20})

	e, rec, _ := newEngine(t, doc)
	forceHovering(e)

	if err := e.PointerMove(ctx, 100, 10); err != nil {
		t.Fatal(err)
	}
	got := rec.previews()
	if len(got) != 1 || got[0].Descriptor.ID != "a" {
		t.Fatalf("hover through overlay: %+v", got)
	}

	if err := e.Click(ctx, 100, 10); err != nil {
		t.Fatal(err)
	}
	sels := rec.selections()
	if len(sels) != 1 || sels[0].Descriptor.ID != "a" {
		t.Fatalf("click through overlay: %+v", sels)
	}
}

func TestAttrBatchEmitsOneRefreshedSelection(t *testing.T) {
	ctx := context.Background()
	doc := parse(t, twoButtons)
	e, rec, _ := newEngine(t, doc)
	forceHovering(e)

	if err := e.Click(ctx, 100, 10); err != nil {
		t.Fatal(err)
	}
	a := byID(t, doc, "a")

	// Three watched attribute changes in one batch.
	if err := doc.SetAttr(a, "aria-expanded", "true"); err != nil {
		t.Fatal(err)
	}
	if err := doc.SetAttr(a, "class", "open wide"); err != nil {
		t.Fatal(err)
	}
	if err := doc.SetAttr(a, "style", "color:red"); err != nil {
		t.Fatal(err)
	}
	e.handleBatch(ctx, flush(t, doc))

	sels := rec.selections()
	if len(sels) != 2 {
		t.Fatalf("got %d selections, want 2 (one initial, one refresh)", len(sels))
	}
	refresh := sels[1]
	if !refresh.Refreshed {
		t.Error("refresh not marked")
	}
	if refresh.Seq != sels[0].Seq+1 {
		t.Errorf("refresh seq: %d after %d", refresh.Seq, sels[0].Seq)
	}
	want := []string{"open", "wide"}
	if got := refresh.Descriptor.Classes; len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("refreshed classes: %v", got)
	}
	if len(rec.previews()) != 0 {
		t.Errorf("refresh produced previews: %+v", rec.previews())
	}
}

func TestUnwatchedAttrDoesNotRefresh(t *testing.T) {
	ctx := context.Background()
	doc := parse(t, twoButtons)
	e, rec, _ := newEngine(t, doc)
	forceHovering(e)

	if err := e.Click(ctx, 100, 10); err != nil {
		t.Fatal(err)
	}
	if err := doc.SetAttr(byID(t, doc, "a"), "data-tracking", "42"); err != nil {
		t.Fatal(err)
	}
	e.handleBatch(ctx, flush(t, doc))

	if len(rec.selections()) != 1 {
		t.Errorf("unwatched attr refreshed: %d selections", len(rec.selections()))
	}
}

func TestAttrOnOtherElementDoesNotRefresh(t *testing.T) {
	ctx := context.Background()
	doc := parse(t, twoButtons)
	e, rec, _ := newEngine(t, doc)
	forceHovering(e)

	if err := e.Click(ctx, 100, 10); err != nil {
		t.Fatal(err)
	}
	b, err := doc.NodeAt(ctx, 100, 30)
	if err != nil || b == nil {
		t.Fatal("missing second button")
	}
	if err := doc.SetAttr(b, "class", "busy"); err != nil {
		t.Fatal(err)
	}
	e.handleBatch(ctx, flush(t, doc))

	if len(rec.selections()) != 1 {
		t.Errorf("unrelated change refreshed: %d selections", len(rec.selections()))
	}
}

func TestTextChangeInLockedSubtreeRefreshes(t *testing.T) {
	ctx := context.Background()
	doc := parse(t, `<html><body>
<div id="wrap"><button id="t">Old</button></div>
<p id="other">text</p>
</body></html>`)
	e, rec, _ := newEngine(t, doc)
	forceHovering(e)

	// Lock the wrapping div on its own line.
	if err := e.Click(ctx, 100, 10); err != nil {
		t.Fatal(err)
	}
	if got := rec.selections()[0].Descriptor.ID; got != "wrap" {
		t.Fatalf("locked %q, want wrap", got)
	}

	inner, err := doc.NodeAt(ctx, 100, 30)
	if err != nil || inner == nil {
		t.Fatal("missing inner button")
	}
	if err := doc.SetText(inner, "New"); err != nil {
		t.Fatal(err)
	}
	e.handleBatch(ctx, flush(t, doc))

	sels := rec.selections()
	if len(sels) != 2 || !sels[1].Refreshed {
		t.Fatalf("descendant text change: %+v", sels)
	}

	// A text change outside the locked subtree stays quiet.
	other, _ := doc.NodeAt(ctx, 100, 50)
	if err := doc.SetText(other, "changed"); err != nil {
		t.Fatal(err)
	}
	e.handleBatch(ctx, flush(t, doc))
	if len(rec.selections()) != 2 {
		t.Errorf("outside text change refreshed: %d", len(rec.selections()))
	}
}

func TestInsertedInteractiveElementsPreview(t *testing.T) {
	ctx := context.Background()
	doc := parse(t, twoButtons)
	e, rec, _ := newEngine(t, doc)
	forceHovering(e)

	body := doc.Body()
	if _, err := doc.InsertChild(body, `<button id="new">Go</button>`); err != nil {
		t.Fatal(err)
	}
	if _, err := doc.InsertChild(body, `<div style="display:none"><button id="ghost">X</button></div>`); err != nil {
		t.Fatal(err)
	}
	if _, err := doc.InsertChild(body, `<div><span>plain</span></div>`); err != nil {
		t.Fatal(err)
	}
	e.handleBatch(ctx, flush(t, doc))

	got := rec.previews()
	if len(got) != 1 {
		t.Fatalf("got %d previews, want 1: %+v", len(got), got)
	}
	if got[0].Reason != event.ReasonInserted || got[0].Descriptor.ID != "new" {
		t.Errorf("preview: %+v", got[0])
	}
}

func TestInsertedSubtreePreviewsEachControl(t *testing.T) {
	ctx := context.Background()
	doc := parse(t, twoButtons)
	e, rec, _ := newEngine(t, doc)
	forceHovering(e)

	if _, err := doc.InsertChild(doc.Body(),
		`<form id="f"><input id="q" type="text"><button id="go">Go</button></form>`); err != nil {
		t.Fatal(err)
	}
	e.handleBatch(ctx, flush(t, doc))

	got := rec.previews()
	if len(got) != 2 {
		t.Fatalf("got %d previews, want input and button: %+v", len(got), got)
	}
	if got[0].Descriptor.ID != "q" || got[1].Descriptor.ID != "go" {
		t.Errorf("document order lost: %q, %q", got[0].Descriptor.ID, got[1].Descriptor.ID)
	}
}

func TestInsertUnderOverlayDoesNotPreview(t *testing.T) {
	ctx := context.Background()
	doc := parse(t, `<html><body>
<div id="ov" `+dom.OverlayAttr+`=""></div>
</body></html>`)
	e, rec, _ := newEngine(t, doc)
	forceHovering(e)

	if _, err := doc.InsertChild(byID(t, doc, "ov"), `<button id="inside">X</button>`); err != nil {
		t.Fatal(err)
	}
	e.handleBatch(ctx, flush(t, doc))

	if len(rec.previews()) != 0 {
		t.Errorf("overlay insert emitted: %+v", rec.previews())
	}
}

// byID resolves an HTML id to its node.
func byID(t *testing.T, doc *htmldoc.Doc, htmlID string) dom.Node {
	t.Helper()
	nodes, err := doc.QuerySelectorAll(context.Background(), "#"+htmlID)
	if err != nil || len(nodes) != 1 {
		t.Fatalf("#%s: %v %v", htmlID, nodes, err)
	}
	return nodes[0]
}

func TestLockedRemovalGoesStaleWithoutEvent(t *testing.T) {
	ctx := context.Background()
	doc := parse(t, twoButtons)
	e, rec, hl := newEngine(t, doc)
	forceHovering(e)

	if err := e.Click(ctx, 100, 10); err != nil {
		t.Fatal(err)
	}
	_, hidesBefore := hl.counts()

	if err := doc.Remove(byID(t, doc, "a")); err != nil {
		t.Fatal(err)
	}
	e.handleBatch(ctx, flush(t, doc))

	if len(rec.selections()) != 1 || len(rec.previews()) != 0 {
		t.Errorf("removal emitted: %d selections, %d previews",
			len(rec.selections()), len(rec.previews()))
	}
	if got := e.State(); got != StateLocked {
		t.Errorf("removal broke the lock: %s", got)
	}
	if _, hides := hl.counts(); hides != hidesBefore+1 {
		t.Error("highlight not hidden on removal")
	}

	// With "a" gone, "b" moved up into its line; clicking there moves
	// the stale lock onto the surviving element and commits it.
	if err := e.Click(ctx, 100, 10); err != nil {
		t.Fatal(err)
	}
	if got := e.State(); got != StateLocked {
		t.Errorf("retarget after stale: %s", got)
	}
	sels := rec.selections()
	if len(sels) != 2 || sels[1].Descriptor.ID != "b" {
		t.Fatalf("retarget selections: %+v", sels)
	}

	// Cancel releases the moved lock without emitting.
	if err := e.CancelKey(ctx); err != nil {
		t.Fatal(err)
	}
	if got := e.State(); got != StateHovering {
		t.Errorf("release after retarget: %s", got)
	}
	if len(rec.selections()) != 2 {
		t.Error("cancel emitted")
	}
}

func TestAncestorRemovalGoesStale(t *testing.T) {
	ctx := context.Background()
	doc := parse(t, `<html><body>
<div id="wrap"><button id="t">T</button></div>
<p>after</p>
</body></html>`)
	e, rec, _ := newEngine(t, doc)
	forceHovering(e)

	// Lock the nested button on the line after its wrapper.
	if err := e.Click(ctx, 100, 30); err != nil {
		t.Fatal(err)
	}
	if got := rec.selections()[0].Descriptor.ID; got != "t" {
		t.Fatalf("locked %q, want t", got)
	}

	if err := doc.Remove(byID(t, doc, "wrap")); err != nil {
		t.Fatal(err)
	}
	e.handleBatch(ctx, flush(t, doc))

	if len(rec.selections()) != 1 {
		t.Errorf("ancestor removal emitted: %d selections", len(rec.selections()))
	}
	e.mu.Lock()
	stale := e.lockedStale
	e.mu.Unlock()
	if !stale {
		t.Error("lock not stale after ancestor removal")
	}
}

func TestDocResetDisables(t *testing.T) {
	ctx := context.Background()
	doc := parse(t, twoButtons)
	e, rec, _ := newEngine(t, doc)
	forceHovering(e)

	if err := e.Click(ctx, 100, 10); err != nil {
		t.Fatal(err)
	}
	if err := doc.Reset(`<html><body><p>fresh</p></body></html>`); err != nil {
		t.Fatal(err)
	}
	e.handleBatch(ctx, flush(t, doc))

	if got := e.State(); got != StateDisabled {
		t.Errorf("state after reset: %s", got)
	}
	if len(rec.selections()) != 1 {
		t.Errorf("reset emitted: %d selections", len(rec.selections()))
	}
}

func TestSubscriptionDeliversRefreshEndToEnd(t *testing.T) {
	ctx := context.Background()
	doc := parse(t, twoButtons)
	e, rec, _ := newEngine(t, doc)

	if err := e.Enable(ctx); err != nil {
		t.Fatal(err)
	}
	defer e.Disable(ctx)

	if err := e.Click(ctx, 100, 10); err != nil {
		t.Fatal(err)
	}
	if err := doc.SetAttr(byID(t, doc, "a"), "disabled", ""); err != nil {
		t.Fatal(err)
	}
	if _, ok := doc.Flush(); !ok {
		t.Fatal("flush had nothing")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if len(rec.selections()) == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("refresh never arrived: %+v", rec.selections())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if sel := rec.selections()[1]; !sel.Refreshed {
		t.Errorf("refresh flag: %+v", sel)
	}
}
