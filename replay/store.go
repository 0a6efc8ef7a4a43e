package replay

import (
	"context"
	"time"

	"github.com/xASHx26/testflow-sub001/replay/internal/store"
)

// Store persists replay runs and outcomes. Re-exported from internal.
type Store = store.Store

// Summary aggregates one run.
type Summary = store.Summary

// OpenStore opens (and if needed creates) the replay log at path. The
// caller must blank-import an SQLite driver.
func OpenStore(path string) (*Store, error) {
	return store.Open(path)
}

// LogResult appends a resolution result to a run.
func LogResult(ctx context.Context, s *Store, runID string, r Result) error {
	return s.LogResolution(ctx, runID, store.Resolution{
		EventID:    r.EventID,
		Matched:    r.Matched,
		Strategy:   r.Strategy,
		Fallback:   r.FallbackUsed,
		Similarity: r.Similarity,
		Failures:   r.LocatorsFailed,
		At:         time.Now().UnixMilli(),
	})
}
