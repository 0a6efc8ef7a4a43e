// Package e2e tests cross-package integration chains from picking to
// replay.
//
// These tests drive the pipeline the way testflowd wires it in
// production: a picker engine over a live document emits selections to
// sinks, the selections replay against a changed document, and the
// outcomes land in the replay log.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xASHx26/testflow-sub001/dom"
	"github.com/xASHx26/testflow-sub001/dom/htmldoc"
	"github.com/xASHx26/testflow-sub001/locator"
	"github.com/xASHx26/testflow-sub001/picker"
	"github.com/xASHx26/testflow-sub001/picker/event"
	"github.com/xASHx26/testflow-sub001/replay"

	_ "modernc.org/sqlite"
)

// --- test helpers ---

// collector is a callback sink that records everything the engine
// emits.
type collector struct {
	mu         sync.Mutex
	previews   []event.Preview
	selections []event.Selection
}

func (c *collector) sink() picker.Sink {
	return picker.NewCallbackSink(
		func(_ context.Context, p event.Preview) error {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.previews = append(c.previews, p)
			return nil
		},
		func(_ context.Context, s event.Selection) error {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.selections = append(c.selections, s)
			return nil
		},
	)
}

func (c *collector) snapshot() []event.Selection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]event.Selection(nil), c.selections...)
}

func (c *collector) previewCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.previews)
}

func parse(t *testing.T, src string) *htmldoc.Doc {
	t.Helper()
	d, err := htmldoc.ParseString(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return d
}

func byID(t *testing.T, doc *htmldoc.Doc, id string) dom.Node {
	t.Helper()
	nodes, err := doc.QuerySelectorAll(context.Background(), "#"+id)
	if err != nil || len(nodes) != 1 {
		t.Fatalf("#%s: %d nodes, err %v", id, len(nodes), err)
	}
	return nodes[0]
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// storefrontPage lays out as one line per element: header 8-28, its h1
// 28-48, main 48-68, the input 68-88 and the button 88-108.
const storefrontPage = `<html><body>
<header id="top"><h1>Storefront</h1></header>
<main id="content">
<input id="qty" name="quantity" type="number">
<button id="checkout" class="btn primary" data-testid="checkout-btn">Checkout</button>
</main>
</body></html>`

// redeployedPage keeps the controls but churns their identity: the
// input loses its id, the button loses its id and changes classes.
// The test hook and the name attribute survive the redeploy.
const redeployedPage = `<html><body>
<header><h1>Storefront</h1></header>
<main class="content">
<input name="quantity" type="number">
<button class="button primary" data-testid="checkout-btn">Checkout</button>
</main>
</body></html>`

// --- E2E: pick on one page, replay on the next deploy, log the run ---

func TestE2E_PickReplayStore(t *testing.T) {
	ctx := context.Background()
	doc := parse(t, storefrontPage)

	col := &collector{}
	eng := picker.New(doc, picker.Options{
		Sink:      col.sink(),
		Logger:    discardLogger(),
		SessionID: "e2e-pick",
	})

	// Step 1: Pick the quantity input, step back, pick the checkout
	// button.
	if err := eng.Enable(ctx); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if err := eng.PointerMove(ctx, 100, 78); err != nil {
		t.Fatalf("move: %v", err)
	}
	if err := eng.Click(ctx, 100, 78); err != nil {
		t.Fatalf("click input: %v", err)
	}
	if err := eng.CancelKey(ctx); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := eng.PointerMove(ctx, 100, 98); err != nil {
		t.Fatalf("move: %v", err)
	}
	if err := eng.Click(ctx, 100, 98); err != nil {
		t.Fatalf("click button: %v", err)
	}
	if err := eng.Disable(ctx); err != nil {
		t.Fatalf("disable: %v", err)
	}

	picks := col.snapshot()
	if len(picks) != 2 {
		t.Fatalf("selections = %d, want 2", len(picks))
	}
	if got := col.previewCount(); got != 2 {
		t.Errorf("previews = %d, want 2 (one per hovered element)", got)
	}
	if picks[0].Descriptor.ID != "qty" || picks[1].Descriptor.ID != "checkout" {
		t.Fatalf("picked %q and %q, want qty and checkout",
			picks[0].Descriptor.ID, picks[1].Descriptor.ID)
	}
	if got := picks[0].Locators[0].Strategy; got != locator.StrategyID {
		t.Errorf("input best locator = %s, want %s", got, locator.StrategyID)
	}
	if got := picks[1].Locators[0].Strategy; got != locator.StrategyTestID {
		t.Errorf("button best locator = %s, want %s", got, locator.StrategyTestID)
	}

	// Step 2: Replay both selections against the redeployed page. The
	// input falls back to its name, the button matches on the test
	// hook first try.
	redeploy := parse(t, redeployedPage)

	inputRes := replay.Resolve(ctx, redeploy, picks[0])
	if !inputRes.Matched {
		t.Fatalf("input did not resolve: %+v", inputRes)
	}
	if inputRes.Strategy != string(locator.StrategyName) {
		t.Errorf("input strategy = %q, want name", inputRes.Strategy)
	}
	if !inputRes.FallbackUsed || len(inputRes.LocatorsFailed) != 1 {
		t.Errorf("input fallback: used=%v failures=%v",
			inputRes.FallbackUsed, inputRes.LocatorsFailed)
	}
	if len(inputRes.LocatorsFailed) > 0 && !strings.Contains(inputRes.LocatorsFailed[0], "no match") {
		t.Errorf("failure reason: %q", inputRes.LocatorsFailed[0])
	}
	if inputRes.Similarity != 1 {
		t.Errorf("input similarity = %v, want 1", inputRes.Similarity)
	}

	buttonRes := replay.Resolve(ctx, redeploy, picks[1])
	if !buttonRes.Matched {
		t.Fatalf("button did not resolve: %+v", buttonRes)
	}
	if buttonRes.Strategy != string(locator.StrategyTestID) {
		t.Errorf("button strategy = %q, want testid", buttonRes.Strategy)
	}
	if buttonRes.FallbackUsed || len(buttonRes.LocatorsFailed) != 0 {
		t.Errorf("button took a fallback: %+v", buttonRes)
	}
	if buttonRes.Similarity < replay.SimilarityThreshold {
		t.Errorf("button similarity = %v, want >= %v",
			buttonRes.Similarity, replay.SimilarityThreshold)
	}
	if buttonRes.Descriptor.Tag != "button" || buttonRes.Descriptor.TestID != "checkout-btn" {
		t.Errorf("re-extracted button: %+v", buttonRes.Descriptor)
	}

	// Step 3: Log both outcomes and check the run aggregates.
	st, err := replay.OpenStore(filepath.Join(t.TempDir(), "replay.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	if err := st.BeginRun(ctx, "run-e2e", redeploy.URL(), "e2e", time.Now().UnixMilli()); err != nil {
		t.Fatalf("begin run: %v", err)
	}
	for _, r := range []replay.Result{inputRes, buttonRes} {
		if err := replay.LogResult(ctx, st, "run-e2e", r); err != nil {
			t.Fatalf("log result: %v", err)
		}
	}

	sum, err := st.RunSummary(ctx, "run-e2e")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.Total != 2 || sum.Matched != 2 || sum.Fallbacks != 1 {
		t.Errorf("summary = %+v, want total 2 matched 2 fallbacks 1", sum)
	}
	if sum.AvgSimilarity < replay.SimilarityThreshold {
		t.Errorf("avg similarity = %v", sum.AvgSimilarity)
	}
}

// --- E2E: live mutation refreshes the lock, refresh replays cleanly ---

func TestE2E_LiveRefreshReplays(t *testing.T) {
	ctx := context.Background()
	doc := parse(t, storefrontPage)

	col := &collector{}
	eng := picker.New(doc, picker.Options{
		Sink:      col.sink(),
		Logger:    discardLogger(),
		SessionID: "e2e-refresh",
	})

	if err := eng.Enable(ctx); err != nil {
		t.Fatalf("enable: %v", err)
	}
	t.Cleanup(func() { eng.Disable(ctx) })

	// Step 1: Lock the checkout button.
	if err := eng.PointerMove(ctx, 100, 98); err != nil {
		t.Fatalf("move: %v", err)
	}
	if err := eng.Click(ctx, 100, 98); err != nil {
		t.Fatalf("click: %v", err)
	}
	if got := len(col.snapshot()); got != 1 {
		t.Fatalf("selections after click = %d, want 1", got)
	}

	// Step 2: Mutate the locked element and wait for the refreshed
	// selection to arrive through the mutation subscription.
	btn := byID(t, doc, "checkout")
	if err := doc.SetAttr(btn, "class", "btn primary wide"); err != nil {
		t.Fatalf("set attr: %v", err)
	}
	if _, ok := doc.Flush(); !ok {
		t.Fatal("flush produced no batch")
	}

	var refreshed event.Selection
	deadline := time.Now().Add(2 * time.Second)
	for {
		if picks := col.snapshot(); len(picks) == 2 {
			refreshed = picks[1]
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("refreshed selection never arrived")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !refreshed.Refreshed {
		t.Error("second selection not flagged as a refresh")
	}
	if got := strings.Join(refreshed.Descriptor.Classes, " "); got != "btn primary wide" {
		t.Errorf("refreshed classes = %q, want %q", got, "btn primary wide")
	}

	// Step 3: The refreshed selection replays against the mutated
	// document without any fallback.
	res := replay.Resolve(ctx, doc, refreshed)
	if !res.Matched || res.FallbackUsed {
		t.Fatalf("resolution: %+v", res)
	}
	if res.Strategy != string(locator.StrategyTestID) {
		t.Errorf("strategy = %q, want testid", res.Strategy)
	}
	if res.Similarity != 1 {
		t.Errorf("similarity = %v, want 1", res.Similarity)
	}
}

// --- E2E: sink fan-out and the JSONL wire format ---

func TestE2E_SinkFanoutWireFormat(t *testing.T) {
	ctx := context.Background()
	doc := parse(t, storefrontPage)

	var wire bytes.Buffer
	col := &collector{}
	logger := discardLogger()
	eng := picker.New(doc, picker.Options{
		Sink:      picker.NewRouterSink(logger, picker.NewStdoutSink(&wire), col.sink()),
		Logger:    logger,
		SessionID: "e2e-wire",
	})

	// Step 1: Hover and lock the quantity input.
	if err := eng.Enable(ctx); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if err := eng.PointerMove(ctx, 100, 78); err != nil {
		t.Fatalf("move: %v", err)
	}
	if err := eng.Click(ctx, 100, 78); err != nil {
		t.Fatalf("click: %v", err)
	}
	if err := eng.Disable(ctx); err != nil {
		t.Fatalf("disable: %v", err)
	}

	// Step 2: The stream carries one preview then one selection.
	lines := strings.Split(strings.TrimSpace(wire.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("wire lines = %d, want 2:\n%s", len(lines), wire.String())
	}

	var envs []envelope
	for _, l := range lines {
		var e envelope
		if err := json.Unmarshal([]byte(l), &e); err != nil {
			t.Fatalf("envelope %q: %v", l, err)
		}
		envs = append(envs, e)
	}
	if envs[0].Type != "preview" || envs[1].Type != "selection" {
		t.Fatalf("envelope types = %s, %s, want preview, selection", envs[0].Type, envs[1].Type)
	}

	// Step 3: The wire selection round-trips and matches what the
	// in-process callback saw.
	sel, err := event.UnmarshalSelection(envs[1].Data)
	if err != nil {
		t.Fatalf("decode selection: %v", err)
	}
	picks := col.snapshot()
	if len(picks) != 1 {
		t.Fatalf("callback selections = %d, want 1", len(picks))
	}
	if sel.EventID != picks[0].EventID {
		t.Errorf("wire event %q != callback event %q", sel.EventID, picks[0].EventID)
	}
	if sel.SessionID != "e2e-wire" {
		t.Errorf("session = %q", sel.SessionID)
	}
	if sel.Descriptor.Name != "quantity" {
		t.Errorf("wire descriptor = %+v", sel.Descriptor)
	}
}

// envelope is the framing every sink writes: a type tag and the raw
// event payload.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}
