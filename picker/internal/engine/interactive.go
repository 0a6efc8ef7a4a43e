package engine

import (
	"strings"

	"github.com/xASHx26/testflow-sub001/dom"
)

var interactiveTags = map[string]bool{
	"a": true, "button": true, "input": true, "select": true,
	"textarea": true, "option": true, "label": true,
	"summary": true, "details": true,
}

var interactiveRoles = map[string]bool{
	"button": true, "link": true, "checkbox": true, "radio": true,
	"tab": true, "menuitem": true, "option": true, "switch": true,
	"textbox": true, "combobox": true, "searchbox": true,
}

// Interactive reports whether an element is something a user acts on:
// a native control, a widget role, or an element wired for clicks or
// focus.
func Interactive(n dom.Node) bool {
	if n == nil {
		return false
	}
	if interactiveTags[n.Tag()] {
		return true
	}
	if r, ok := n.Attr("role"); ok {
		if interactiveRoles[strings.ToLower(strings.TrimSpace(r))] {
			return true
		}
	}
	if _, ok := n.Attr("onclick"); ok {
		return true
	}
	if _, ok := n.Attr("tabindex"); ok {
		return true
	}
	return false
}
