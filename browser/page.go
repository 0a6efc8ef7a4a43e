package browser

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/xASHx26/testflow-sub001/dom"
	"github.com/xASHx26/testflow-sub001/idgen"
)

//go:embed inspector.js
var inspectorJS string

const bindingName = "__testflow_binding"

// subBuffer is the per-subscription batch channel depth. Delivery sheds
// the oldest batch instead of blocking the binding listener.
const subBuffer = 64

// inputBuffer is the captured input event channel depth.
const inputBuffer = 128

// Input event kinds.
const (
	InputPointerMove = "pointermove"
	InputClick       = "click"
	InputKey         = "key"
)

// InputEvent is one captured user interaction from the page.
type InputEvent struct {
	Kind string
	X    float64
	Y    float64
	Key  string
}

// Page adapts one Chrome tab to dom.Document. It also implements
// dom.Selectable for live CSS resolution and the engine's Highlighter
// via the injected overlay.
type Page struct {
	page   *rod.Page
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	root   string // handle of document.documentElement
	gen    uint64 // bumped per batch; invalidates the node info cache
	cache  map[string]nodeInfo
	subs   map[*subscription]struct{}
	curURL string
	closed bool

	seq   atomic.Uint64
	input chan InputEvent
}

// OpenPage creates a tab, navigates it, injects the inspector script
// and starts listening for mutations and captured input.
func OpenPage(ctx context.Context, mgr *Manager, pageURL string) (*Page, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	var page *rod.Page
	var err error
	if mgr.cfg.Stealth == ModeHeadless {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	if len(mgr.cfg.ResourceBlocking) > 0 {
		applyResourceBlocking(page, mgr.cfg.ResourceBlocking)
	}

	navCtx, cancelNav := context.WithTimeout(ctx, mgr.cfg.NavTimeout)
	defer cancelNav()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		mgr.cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}

	pageCtx, cancel := context.WithCancel(context.Background())
	p := &Page{
		page:   page,
		logger: mgr.cfg.Logger,
		ctx:    pageCtx,
		cancel: cancel,
		cache:  make(map[string]nodeInfo),
		subs:   make(map[*subscription]struct{}),
		curURL: pageURL,
		input:  make(chan InputEvent, inputBuffer),
	}

	if err := (proto.RuntimeAddBinding{Name: bindingName}.Call(page)); err != nil {
		p.logger.Warn("browser: add binding failed (may already exist)", "error", err)
	}
	go p.listen()

	if err := p.inject(navCtx); err != nil {
		p.cancel()
		page.Close()
		return nil, err
	}

	return p, nil
}

// inject evaluates the inspector script and refreshes the root handle.
// Safe to call again after navigation: the script guards itself.
func (p *Page) inject(ctx context.Context) error {
	if _, err := p.page.Context(ctx).Eval(inspectorJS); err != nil {
		return fmt.Errorf("browser: inject inspector: %w", err)
	}
	root, err := p.evalString(ctx, `() => window.__testflow.rootHandle()`)
	if err != nil {
		return fmt.Errorf("browser: root handle: %w", err)
	}
	p.mu.Lock()
	p.root = root
	p.mu.Unlock()
	return nil
}

// listen consumes binding calls and page load events until the page
// context ends.
func (p *Page) listen() {
	p.page.Context(p.ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != bindingName {
			return
		}
		p.onBinding(e.Payload)
	}, func(e *proto.PageLoadEventFired) {
		p.onLoad()
	})()
}

func (p *Page) onBinding(payload string) {
	var msg struct {
		Kind    string            `json:"kind"`
		X       float64           `json:"x"`
		Y       float64           `json:"y"`
		Key     string            `json:"key"`
		Records []json.RawMessage `json:"records"`
	}
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		p.logger.Warn("browser: parse binding payload", "error", err)
		return
	}

	switch msg.Kind {
	case "changes":
		p.onChanges(msg.Records)
	case InputPointerMove:
		p.pushInput(InputEvent{Kind: InputPointerMove, X: msg.X, Y: msg.Y})
	case InputClick:
		p.pushInput(InputEvent{Kind: InputClick, X: msg.X, Y: msg.Y})
	case InputKey:
		p.pushInput(InputEvent{Kind: InputKey, Key: msg.Key})
	}
}

func (p *Page) onChanges(records []json.RawMessage) {
	changes := make([]dom.Change, 0, len(records))
	for _, raw := range records {
		var rec struct {
			Op       string `json:"op"`
			ID       string `json:"id"`
			Tag      string `json:"tag"`
			Name     string `json:"name"`
			Value    string `json:"value"`
			OldValue string `json:"old_value"`
			Path     string `json:"path"`
		}
		if err := json.Unmarshal(raw, &rec); err != nil {
			p.logger.Warn("browser: parse change record", "error", err)
			continue
		}
		changes = append(changes, dom.Change{
			Op:       dom.ChangeOp(rec.Op),
			NodeID:   rec.ID,
			Tag:      rec.Tag,
			Name:     rec.Name,
			Value:    rec.Value,
			OldValue: rec.OldValue,
			Path:     rec.Path,
		})
	}
	if len(changes) == 0 {
		return
	}
	p.deliver(changes)
}

// onLoad runs after a navigation: the old JS world is gone, so all
// handles are stale. Re-inject, then tell subscribers the document
// reset.
func (p *Page) onLoad() {
	if err := p.inject(p.ctx); err != nil {
		p.logger.Warn("browser: re-inject after load", "error", err)
	}
	if info, err := p.page.Info(); err == nil {
		p.mu.Lock()
		p.curURL = info.URL
		p.mu.Unlock()
	}
	p.deliver([]dom.Change{{Op: dom.OpDocReset, Path: "/"}})
}

// deliver fans one batch out to all subscriptions, invalidating the
// node info cache first so post-batch reads observe the new document
// state. Sends never block: a subscriber more than 64 batches behind
// loses the oldest ones.
func (p *Page) deliver(changes []dom.Change) {
	batch := dom.ChangeBatch{
		ID:        idgen.New(),
		Seq:       p.seq.Add(1),
		Changes:   changes,
		Timestamp: time.Now().UnixMilli(),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.gen++
	clear(p.cache)

	for s := range p.subs {
		b := filterBatch(batch, s.filter)
		if len(b.Changes) == 0 {
			continue
		}
		select {
		case s.ch <- b:
		default:
			// Slow subscriber: shed the oldest batch and retry once.
			select {
			case <-s.ch:
			default:
			}
			select {
			case s.ch <- b:
			default:
			}
		}
	}
}

// filterBatch drops attribute changes the filter rejects. Inserts,
// removals, text changes and document resets always pass.
func filterBatch(b dom.ChangeBatch, f dom.SubtreeFilter) dom.ChangeBatch {
	if len(f.Attributes) == 0 {
		return b
	}
	kept := make([]dom.Change, 0, len(b.Changes))
	for _, c := range b.Changes {
		if (c.Op == dom.OpAttr || c.Op == dom.OpAttrDel) && !f.WantsAttr(c.Name) {
			continue
		}
		kept = append(kept, c)
	}
	out := b
	out.Changes = kept
	return out
}

func (p *Page) pushInput(ev InputEvent) {
	select {
	case p.input <- ev:
	default:
		// Shed the oldest event rather than stall the listener.
		select {
		case <-p.input:
		default:
		}
		select {
		case p.input <- ev:
		default:
		}
	}
}

// Events returns the captured input stream. Events arrive only while
// capturing is on.
func (p *Page) Events() <-chan InputEvent {
	return p.input
}

// SetCapturing toggles page-side input capture. While on, clicks are
// swallowed by the inspector and reported instead of acted on.
func (p *Page) SetCapturing(ctx context.Context, enabled bool) error {
	_, err := p.page.Context(ctx).Eval(`(v) => window.__testflow.setCapturing(v)`, enabled)
	if err != nil {
		return fmt.Errorf("browser: set capturing: %w", err)
	}
	return nil
}

// Root implements dom.Document.
func (p *Page) Root() dom.Node {
	p.mu.Lock()
	root := p.root
	p.mu.Unlock()
	if root == "" {
		return nil
	}
	return remoteNode{p: p, id: root}
}

// NodeAt implements dom.Document via elementsFromPoint in the page,
// skipping the picker's own overlay.
func (p *Page) NodeAt(ctx context.Context, x, y float64) (dom.Node, error) {
	h, err := p.evalString(ctx, `(x, y) => window.__testflow.elementAt(x, y)`, x, y)
	if err != nil {
		return nil, fmt.Errorf("browser: element at: %w", err)
	}
	if h == "" {
		return nil, nil
	}
	return remoteNode{p: p, id: h}, nil
}

// NodeByID implements dom.Document. Stale handles yield (nil, nil).
func (p *Page) NodeByID(ctx context.Context, id string) (dom.Node, error) {
	if _, ok := p.info(ctx, id); !ok {
		return nil, nil
	}
	return remoteNode{p: p, id: id}, nil
}

// QuerySelectorAll implements dom.Selectable with the page's native
// selector engine.
func (p *Page) QuerySelectorAll(ctx context.Context, selector string) ([]dom.Node, error) {
	raw, err := p.evalString(ctx, `(s) => window.__testflow.query(s)`, selector)
	if err != nil {
		return nil, fmt.Errorf("browser: query: %w", err)
	}
	var res struct {
		Error string   `json:"error"`
		IDs   []string `json:"ids"`
	}
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return nil, fmt.Errorf("browser: parse query result: %w", err)
	}
	if res.Error != "" {
		return nil, fmt.Errorf("browser: invalid selector %q: %s", selector, res.Error)
	}
	nodes := make([]dom.Node, len(res.IDs))
	for i, id := range res.IDs {
		nodes[i] = remoteNode{p: p, id: id}
	}
	return nodes, nil
}

// Subscribe implements dom.Document.
func (p *Page) Subscribe(ctx context.Context, filter dom.SubtreeFilter) (dom.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, errors.New("browser: page is closed")
	}
	s := &subscription{
		p:      p,
		filter: filter,
		ch:     make(chan dom.ChangeBatch, subBuffer),
	}
	p.subs[s] = struct{}{}
	return s, nil
}

// URL implements dom.Document, tracking navigations.
func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.curURL
}

// Show implements the engine Highlighter over the injected overlay.
func (p *Page) Show(r dom.Rect) {
	_, err := p.page.Context(p.ctx).Eval(
		`(x, y, w, h) => window.__testflow.showOverlay(x, y, w, h)`,
		r.X, r.Y, r.Width, r.Height)
	if err != nil {
		p.logger.Debug("browser: show overlay", "error", err)
	}
}

// Hide implements the engine Highlighter.
func (p *Page) Hide() {
	if _, err := p.page.Context(p.ctx).Eval(`() => window.__testflow.hideOverlay()`); err != nil {
		p.logger.Debug("browser: hide overlay", "error", err)
	}
}

// Close stops listening and closes the tab. All subscriptions end.
func (p *Page) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for s := range p.subs {
		if !s.closed {
			s.closed = true
			close(s.ch)
		}
	}
	p.subs = make(map[*subscription]struct{})
	p.mu.Unlock()

	p.cancel()
	return p.page.Close()
}

// evalString evaluates a JS function returning a string.
func (p *Page) evalString(ctx context.Context, js string, args ...interface{}) (string, error) {
	res, err := p.page.Context(ctx).Eval(js, args...)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

type subscription struct {
	p      *Page
	filter dom.SubtreeFilter
	ch     chan dom.ChangeBatch
	closed bool // guarded by p.mu
}

func (s *subscription) Batches() <-chan dom.ChangeBatch { return s.ch }

func (s *subscription) Close() error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	delete(s.p.subs, s)
	close(s.ch)
	return nil
}
