package browser

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/xASHx26/testflow-sub001/dom"
)

func TestParseStealthMode(t *testing.T) {
	tests := []struct {
		in      string
		want    StealthMode
		wantErr bool
	}{
		{"", ModeHeadless, false},
		{"headless", ModeHeadless, false},
		{"headful", ModeHeadful, false},
		{"invisible", ModeHeadless, true},
	}
	for _, tt := range tests {
		got, err := ParseStealthMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseStealthMode(%q): err = %v", tt.in, err)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseStealthMode(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFilterBatchKeepsStructuralChanges(t *testing.T) {
	b := dom.ChangeBatch{
		Seq: 3,
		Changes: []dom.Change{
			{Op: dom.OpAttr, NodeID: "n1", Name: "class"},
			{Op: dom.OpAttr, NodeID: "n1", Name: "data-reactid"},
			{Op: dom.OpAttrDel, NodeID: "n2", Name: "style"},
			{Op: dom.OpAttrDel, NodeID: "n2", Name: "data-x"},
			{Op: dom.OpInsert, NodeID: "n3"},
			{Op: dom.OpRemove, NodeID: "n4"},
			{Op: dom.OpText, NodeID: "n5"},
			{Op: dom.OpDocReset},
		},
	}

	got := filterBatch(b, dom.SubtreeFilter{Attributes: []string{"class", "style"}})
	if len(got.Changes) != 6 {
		t.Fatalf("got %d changes, want 6: %+v", len(got.Changes), got.Changes)
	}
	for _, c := range got.Changes {
		if (c.Op == dom.OpAttr || c.Op == dom.OpAttrDel) && c.Name != "class" && c.Name != "style" {
			t.Errorf("unwatched attr survived: %+v", c)
		}
	}
	if got.Seq != 3 {
		t.Errorf("batch metadata lost: %+v", got)
	}

	// An empty filter passes everything through untouched.
	all := filterBatch(b, dom.SubtreeFilter{})
	if len(all.Changes) != len(b.Changes) {
		t.Errorf("empty filter dropped changes: %d of %d", len(all.Changes), len(b.Changes))
	}
}

func testPage() *Page {
	return &Page{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		cache:  make(map[string]nodeInfo),
		subs:   make(map[*subscription]struct{}),
		input:  make(chan InputEvent, inputBuffer),
	}
}

func TestPushInputShedsOldest(t *testing.T) {
	p := testPage()

	for i := 0; i < inputBuffer+1; i++ {
		p.pushInput(InputEvent{Kind: InputPointerMove, X: float64(i)})
	}

	first := <-p.Events()
	if first.X != 1 {
		t.Errorf("first surviving event X = %v, want 1 (oldest shed)", first.X)
	}
	drained := 1
	for {
		select {
		case <-p.Events():
			drained++
		default:
			if drained != inputBuffer {
				t.Errorf("drained %d events, want %d", drained, inputBuffer)
			}
			return
		}
	}
}

func TestOnBindingDecodesInput(t *testing.T) {
	p := testPage()

	p.onBinding(`{"kind":"pointermove","x":12.5,"y":40}`)
	p.onBinding(`{"kind":"click","x":3,"y":4}`)
	p.onBinding(`{"kind":"key","key":"Escape"}`)
	p.onBinding(`not json at all`)
	p.onBinding(`{"kind":"unknown-kind"}`)

	want := []InputEvent{
		{Kind: InputPointerMove, X: 12.5, Y: 40},
		{Kind: InputClick, X: 3, Y: 4},
		{Kind: InputKey, Key: "Escape"},
	}
	for i, w := range want {
		select {
		case got := <-p.Events():
			if got != w {
				t.Errorf("event %d: got %+v, want %+v", i, got, w)
			}
		default:
			t.Fatalf("event %d missing", i)
		}
	}
	select {
	case got := <-p.Events():
		t.Errorf("unexpected extra event: %+v", got)
	default:
	}
}

func TestOnBindingDeliversChangeBatches(t *testing.T) {
	ctx := context.Background()
	p := testPage()

	sub, err := p.Subscribe(ctx, dom.SubtreeFilter{Attributes: []string{"class"}})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	p.onBinding(`{"kind":"changes","records":[
		{"op":"attr","id":"h7","tag":"button","name":"class","value":"on","old_value":"off","path":"/html/body/button[1]"},
		{"op":"attr","id":"h7","tag":"button","name":"data-junk","value":"1"},
		{"op":"insert","id":"h9","tag":"div","path":"/html/body/div[2]"}
	]}`)

	select {
	case b := <-sub.Batches():
		if b.Seq != 1 {
			t.Errorf("seq: %d", b.Seq)
		}
		if len(b.Changes) != 2 {
			t.Fatalf("got %d changes, want filtered 2: %+v", len(b.Changes), b.Changes)
		}
		c := b.Changes[0]
		if c.Op != dom.OpAttr || c.NodeID != "h7" || c.OldValue != "off" || c.Path != "/html/body/button[1]" {
			t.Errorf("decoded change: %+v", c)
		}
		if b.Changes[1].Op != dom.OpInsert || b.Changes[1].NodeID != "h9" {
			t.Errorf("insert change: %+v", b.Changes[1])
		}
	default:
		t.Fatal("no batch delivered")
	}

	// A batch that filters down to nothing is not delivered.
	p.onBinding(`{"kind":"changes","records":[{"op":"attr","id":"h7","name":"data-junk"}]}`)
	select {
	case b := <-sub.Batches():
		t.Errorf("empty batch delivered: %+v", b)
	default:
	}
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	p := testPage()

	sub, err := p.Subscribe(ctx, dom.SubtreeFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if err := sub.Close(); err != nil {
		t.Fatal(err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	// Delivery to a closed subscription must not panic.
	p.onBinding(fmt.Sprintf(`{"kind":"changes","records":[{"op":"%s","id":"x"}]}`, dom.OpRemove))
}
