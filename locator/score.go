package locator

import (
	"context"
	"sort"

	"github.com/xASHx26/testflow-sub001/dom"
)

// Base confidences by strategy. Identity selectors sit well above
// structural ones so that ordinary adjustments cannot reorder the
// classes against each other.
const (
	confTestID          = 0.95
	confID              = 0.88
	confName            = 0.80
	confXPathAnchored   = 0.65
	confXPathUnanchored = 0.55
	confCSS             = 0.50
	confAttribute       = 0.40
	confAbsolute        = 0.25

	// structuralCap bounds CSS and path strategies even when no
	// identity candidate exists to bound them.
	structuralCap = 0.75

	uniqueBonus      = 0.03
	ambiguousPenalty = 0.05
)

// Score assigns base confidences and enforces the ordering guarantee.
// The input slice is returned with confidences filled in.
func Score(locs []Locator) []Locator {
	for i := range locs {
		locs[i].Confidence = baseConfidence(locs[i])
	}
	enforceOrdering(locs)
	return locs
}

// Rank scores and sorts candidates by descending confidence. The sort
// is stable, so equal-confidence candidates keep generation order.
func Rank(locs []Locator) []Locator {
	Score(locs)
	sort.SliceStable(locs, func(i, j int) bool {
		return locs[i].Confidence > locs[j].Confidence
	})
	return locs
}

// RankVerified ranks with a verification pass against a document:
// candidates resolving to exactly one node gain a small bonus, those
// resolving ambiguously are penalised. Resolution errors leave the
// base confidence untouched.
func RankVerified(ctx context.Context, doc dom.Document, locs []Locator) []Locator {
	for i := range locs {
		locs[i].Confidence = baseConfidence(locs[i])
		nodes, err := Resolve(ctx, doc, locs[i])
		if err != nil {
			continue
		}
		switch {
		case len(nodes) == 1:
			locs[i].Confidence += uniqueBonus
		case len(nodes) > 1:
			locs[i].Confidence -= ambiguousPenalty
		}
	}
	enforceOrdering(locs)
	sort.SliceStable(locs, func(i, j int) bool {
		return locs[i].Confidence > locs[j].Confidence
	})
	return locs
}

func baseConfidence(l Locator) float64 {
	switch l.Strategy {
	case StrategyTestID:
		return confTestID
	case StrategyID:
		return confID
	case StrategyName:
		return confName
	case StrategyXPath:
		if anchoredValue(l.Value) {
			return confXPathAnchored
		}
		return confXPathUnanchored
	case StrategyCSS:
		return confCSS
	case StrategyAttribute:
		return confAttribute
	case StrategyAbsoluteXPath:
		return confAbsolute
	default:
		return 0
	}
}

func structural(s Strategy) bool {
	switch s {
	case StrategyCSS, StrategyXPath, StrategyAbsoluteXPath:
		return true
	}
	return false
}

// enforceOrdering applies the hard rule: a structural candidate's
// confidence stays strictly below every present id/testid candidate,
// and below the structural cap regardless. Everything clamps to
// [0, 1].
func enforceOrdering(locs []Locator) {
	identityFloor := 1.1
	for _, l := range locs {
		if l.Strategy == StrategyID || l.Strategy == StrategyTestID {
			if l.Confidence < identityFloor {
				identityFloor = l.Confidence
			}
		}
	}

	for i := range locs {
		c := locs[i].Confidence
		if structural(locs[i].Strategy) {
			if c > structuralCap {
				c = structuralCap
			}
			if identityFloor <= 1 && c >= identityFloor {
				c = identityFloor - 0.01
			}
		}
		if c < 0 {
			c = 0
		}
		if c > 1 {
			c = 1
		}
		locs[i].Confidence = c
	}
}
