package dom_test

import (
	"testing"

	"github.com/xASHx26/testflow-sub001/dom"
)

func TestRectContains(t *testing.T) {
	r := dom.Rect{X: 10, Y: 20, Width: 100, Height: 50}

	tests := []struct {
		x, y float64
		want bool
	}{
		{10, 20, true},   // top-left corner inclusive
		{109, 69, true},  // inside bottom-right
		{110, 20, false}, // right edge exclusive
		{10, 70, false},  // bottom edge exclusive
		{9, 20, false},
		{50, 40, true},
	}
	for _, tt := range tests {
		if got := r.Contains(tt.x, tt.y); got != tt.want {
			t.Errorf("Contains(%v, %v): got %v, want %v", tt.x, tt.y, got, tt.want)
		}
	}
}

func TestRectArea(t *testing.T) {
	if got := (dom.Rect{Width: 4, Height: 5}).Area(); got != 20 {
		t.Errorf("Area: got %v, want 20", got)
	}
	for _, r := range []dom.Rect{
		{Width: 0, Height: 10},
		{Width: 10, Height: 0},
		{Width: -1, Height: 10},
	} {
		if got := r.Area(); got != 0 {
			t.Errorf("Area(%+v): got %v, want 0", r, got)
		}
	}
}

func TestHiddenStyle(t *testing.T) {
	tests := []struct {
		style string
		want  bool
	}{
		{"display:none", true},
		{"display : none", true},
		{"DISPLAY: NONE", true},
		{"color:red;display:none;margin:0", true},
		{"visibility:hidden", true},
		{"visibility : HIDDEN", true},
		{"display:block", false},
		{"visibility:visible", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := dom.HiddenStyle(tt.style); got != tt.want {
			t.Errorf("HiddenStyle(%q): got %v, want %v", tt.style, got, tt.want)
		}
	}
}

func TestNonRendered(t *testing.T) {
	for _, tag := range []string{"script", "style", "template", "noscript", "head", "meta", "link", "title", "base"} {
		if !dom.NonRendered(tag) {
			t.Errorf("NonRendered(%q) = false, want true", tag)
		}
	}
	for _, tag := range []string{"div", "span", "button", "a"} {
		if dom.NonRendered(tag) {
			t.Errorf("NonRendered(%q) = true, want false", tag)
		}
	}
}

func TestSubtreeFilterWantsAttr(t *testing.T) {
	empty := dom.SubtreeFilter{}
	if !empty.WantsAttr("anything") {
		t.Error("empty filter should pass all attributes")
	}

	f := dom.SubtreeFilter{Attributes: []string{"class", "hidden"}}
	if !f.WantsAttr("class") || !f.WantsAttr("hidden") {
		t.Error("listed attributes should pass")
	}
	if f.WantsAttr("style") {
		t.Error("unlisted attribute should not pass")
	}
}

func TestHiddenLocalAndUnderOverlay(t *testing.T) {
	d := mustParse(t, `<html><body>
		<div hidden id="h">x</div>
		<div style="display:none" id="s">y</div>
		<div id="v">z</div>
		<div `+dom.OverlayAttr+`="1" id="ov"><span id="inside">i</span></div>
	</body></html>`)

	if !dom.HiddenLocal(selectOne(t, d, "#h")) {
		t.Error("hidden attribute: HiddenLocal = false")
	}
	if !dom.HiddenLocal(selectOne(t, d, "#s")) {
		t.Error("display:none: HiddenLocal = false")
	}
	if dom.HiddenLocal(selectOne(t, d, "#v")) {
		t.Error("plain div: HiddenLocal = true")
	}

	if !dom.UnderOverlay(selectOne(t, d, "#ov")) {
		t.Error("overlay root: UnderOverlay = false")
	}
	if !dom.UnderOverlay(selectOne(t, d, "#inside")) {
		t.Error("overlay descendant: UnderOverlay = false")
	}
	if dom.UnderOverlay(selectOne(t, d, "#v")) {
		t.Error("unrelated node: UnderOverlay = true")
	}
}
