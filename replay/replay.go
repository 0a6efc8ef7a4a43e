// Package replay resolves previously captured selections against a
// current document. It walks the selection's ranked locators in order,
// verifies each hit against the recorded descriptor, and reports which
// strategy matched, whether a fallback was needed and why earlier
// candidates failed.
package replay

import (
	"context"
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/xASHx26/testflow-sub001/descriptor"
	"github.com/xASHx26/testflow-sub001/dom"
	"github.com/xASHx26/testflow-sub001/locator"
	"github.com/xASHx26/testflow-sub001/markup"
	"github.com/xASHx26/testflow-sub001/picker/event"
)

// SimilarityThreshold is the minimum descriptor similarity for a
// resolved node to count as the recorded element. Below it, the
// locator found something, but not the same thing.
const SimilarityThreshold = 0.6

// Result is the outcome of resolving one captured selection.
type Result struct {
	// Matched is true when some locator resolved to a verified node.
	Matched bool `json:"matched"`

	// EventID of the selection that was replayed.
	EventID string `json:"event_id"`

	// NodeID is the handle of the matched node in the current document.
	NodeID string `json:"node_id"`

	// Descriptor re-extracted from the matched node.
	Descriptor descriptor.Descriptor `json:"descriptor"`

	// Strategy that produced the match.
	Strategy string `json:"strategy"`

	// FallbackUsed is true when the match came from any candidate after
	// the first.
	FallbackUsed bool `json:"fallback_used"`

	// Similarity between the recorded and the matched descriptor.
	Similarity float64 `json:"similarity"`

	// LocatorsFailed lists every candidate tried before the match (or
	// all of them on a miss) as "strategy: value → reason".
	LocatorsFailed []string `json:"locators_failed"`
}

// Resolve replays a captured selection against doc. It never errors:
// a selection that cannot be matched yields Matched=false with every
// failure recorded.
func Resolve(ctx context.Context, doc dom.Document, sel event.Selection) Result {
	res := Result{
		EventID:        sel.EventID,
		LocatorsFailed: []string{},
	}

	for i, loc := range sel.Locators {
		n, sim, reason := tryLocator(ctx, doc, sel.Descriptor, loc)
		if n == nil {
			res.LocatorsFailed = append(res.LocatorsFailed, failure(loc, reason))
			continue
		}

		d, err := descriptor.Extract(ctx, doc, n)
		if err != nil {
			res.LocatorsFailed = append(res.LocatorsFailed, failure(loc, fmt.Sprintf("extract: %v", err)))
			continue
		}

		res.Matched = true
		res.NodeID = n.ID()
		res.Descriptor = d
		res.Strategy = string(loc.Strategy)
		res.FallbackUsed = i > 0
		res.Similarity = sim
		return res
	}

	return res
}

// tryLocator resolves one candidate and verifies the best hit. It
// returns the accepted node with its similarity, or nil with the
// failure reason.
func tryLocator(ctx context.Context, doc dom.Document, want descriptor.Descriptor, loc locator.Locator) (dom.Node, float64, string) {
	nodes, err := locator.Resolve(ctx, doc, loc)
	if err != nil {
		return nil, 0, fmt.Sprintf("resolve: %v", err)
	}
	if len(nodes) == 0 {
		return nil, 0, "no match"
	}

	var best dom.Node
	bestSim := -1.0
	for _, n := range nodes {
		s := Similarity(want, n)
		if s > bestSim {
			best, bestSim = n, s
		}
	}

	if bestSim < SimilarityThreshold {
		if len(nodes) > 1 {
			return nil, 0, fmt.Sprintf("%d matches, best similarity %.2f below %.2f", len(nodes), bestSim, SimilarityThreshold)
		}
		return nil, 0, fmt.Sprintf("similarity %.2f below %.2f", bestSim, SimilarityThreshold)
	}
	return best, bestSim, ""
}

func failure(loc locator.Locator, reason string) string {
	return fmt.Sprintf("%s: %s → %s", loc.Strategy, loc.Value, reason)
}

// Similarity compares a recorded descriptor with a live node: 0 for a
// tag mismatch, otherwise a weighted edit-distance similarity over the
// class list and the visible text. A side with no signal (both strings
// empty) does not count against the match.
func Similarity(want descriptor.Descriptor, n dom.Node) float64 {
	if n == nil || want.Tag != n.Tag() {
		return 0
	}

	liveText := markup.TruncateRunes(markup.NormalizeText(n.InnerText()), descriptor.TextLimit)
	wantText := markup.NormalizeText(want.Text)

	liveClasses := strings.Join(classList(n), " ")
	wantClasses := strings.Join(want.Classes, " ")

	textSim, textSignal := stringSimilarity(wantText, liveText)
	classSim, classSignal := stringSimilarity(wantClasses, liveClasses)

	switch {
	case textSignal && classSignal:
		return 0.6*textSim + 0.4*classSim
	case textSignal:
		return textSim
	case classSignal:
		return classSim
	default:
		// Same tag and nothing else to compare.
		return 1
	}
}

// stringSimilarity returns 1 - dist/maxLen and whether either side
// carried any signal at all.
func stringSimilarity(a, b string) (float64, bool) {
	if a == "" && b == "" {
		return 1, false
	}
	dist := levenshtein.ComputeDistance(a, b)
	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	if longest == 0 {
		return 1, false
	}
	return 1 - float64(dist)/float64(longest), true
}

func classList(n dom.Node) []string {
	raw, _ := n.Attr("class")
	return strings.Fields(raw)
}
