package engine

import (
	"context"

	"github.com/xASHx26/testflow-sub001/dom"
	"github.com/xASHx26/testflow-sub001/picker/event"
)

// handleBatch reconciles one mutation batch against the interaction
// state. The batch is a unit: however many changes it carries, it
// produces at most one preview per distinct inserted element and at
// most one refreshed selection for the locked element.
func (e *Engine) handleBatch(ctx context.Context, b dom.ChangeBatch) {
	e.mu.Lock()
	out := e.reconcileLocked(ctx, b)
	e.mu.Unlock()
	e.dispatch(ctx, out)
}

func (e *Engine) reconcileLocked(ctx context.Context, b dom.ChangeBatch) []outbound {
	if e.state == StateDisabled {
		return nil
	}

	for _, c := range b.Changes {
		if c.Op == dom.OpDocReset {
			e.logger.Info("picker: document reset", "seq", b.Seq)
			e.disableLocked()
			return nil
		}
	}

	var (
		out           []outbound
		refresh       bool
		removedLocked bool
		sawRemove     bool
		seen          = make(map[string]bool)
	)

	for _, c := range b.Changes {
		switch c.Op {
		case dom.OpInsert:
			n, err := e.doc.NodeByID(ctx, c.NodeID)
			if err != nil || n == nil || seen[c.NodeID] {
				continue
			}
			seen[c.NodeID] = true
			for _, cand := range insertedCandidates(n) {
				id := cand.ID()
				if seen[id] {
					continue
				}
				seen[id] = true
				if p, ok := e.previewEvent(ctx, cand, event.ReasonInserted); ok {
					out = append(out, outbound{preview: &p})
				}
			}

		case dom.OpAttr, dom.OpAttrDel:
			if e.state != StateLocked || !watchedAttr(c.Name) {
				continue
			}
			if c.NodeID == e.lockedID {
				refresh = true
			}

		case dom.OpText:
			if e.state != StateLocked {
				continue
			}
			if c.NodeID == e.lockedID || e.underLocked(ctx, c.NodeID) {
				refresh = true
			}

		case dom.OpRemove:
			if e.state != StateLocked || e.lockedStale {
				continue
			}
			if c.NodeID == e.lockedID {
				removedLocked = true
			} else {
				sawRemove = true
			}
		}
	}

	// A removed ancestor takes the locked element with it without a
	// removal record of its own. Any removal while locked re-checks
	// that the locked element is still in the document.
	if sawRemove && !removedLocked && e.state == StateLocked && !e.lockedStale {
		if n, err := e.doc.NodeByID(ctx, e.lockedID); err != nil || n == nil {
			removedLocked = true
		}
	}

	if removedLocked {
		// The locked element left the page. The lock is kept but goes
		// stale: no event is emitted for a disappearance, and a later
		// click or cancel moves or releases the lock normally.
		e.hl.Hide()
		e.lockedStale = true
		e.logger.Info("picker: locked element removed", "seq", b.Seq)
		return out
	}

	if refresh && e.state == StateLocked && !e.lockedStale {
		n, err := e.doc.NodeByID(ctx, e.lockedID)
		if err == nil && n != nil {
			e.hl.Show(n.BoundingBox())
			if sel, ok := e.commitLocked(ctx, n, true); ok {
				out = append(out, outbound{selection: &sel})
			}
		}
	}
	return out
}

// insertedCandidates collects the preview-worthy elements of an
// inserted subtree: visible interactive elements outside the overlay,
// in document order. Hidden branches are pruned whole.
func insertedCandidates(n dom.Node) []dom.Node {
	var out []dom.Node
	var walk func(cur dom.Node)
	walk = func(cur dom.Node) {
		if cur == nil || !cur.Visible() {
			return
		}
		if _, overlay := cur.Attr(dom.OverlayAttr); overlay {
			return
		}
		if Interactive(cur) {
			out = append(out, cur)
		}
		for _, c := range cur.Children() {
			walk(c)
		}
	}
	if !dom.UnderOverlay(n) {
		walk(n)
	}
	return out
}

// underLocked reports whether the node sits inside the locked
// element's subtree. Caller holds e.mu and has checked Locked state.
func (e *Engine) underLocked(ctx context.Context, nodeID string) bool {
	n, err := e.doc.NodeByID(ctx, nodeID)
	if err != nil || n == nil {
		return false
	}
	for cur := n; cur != nil; cur = cur.Parent() {
		if cur.ID() == e.lockedID {
			return true
		}
	}
	return false
}

func watchedAttr(name string) bool {
	for _, a := range WatchedAttributes {
		if a == name {
			return true
		}
	}
	return false
}
