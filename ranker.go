package photopick

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"
)

// RankCandidate is a scored, non-duplicate photo eligible for auto-selection.
type RankCandidate struct {
	PhotoID   string
	Score     float64
	CreatedAt time.Time
}

// RankTopN orders candidates by score descending, then creation time and id
// ascending, and returns the ids of the first n. The input is not modified.
func RankTopN(candidates []RankCandidate, n int) []string {
	if n <= 0 || len(candidates) == 0 {
		return nil
	}

	sorted := slices.Clone(candidates)
	slices.SortFunc(sorted, func(a, b RankCandidate) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.PhotoID, b.PhotoID)
	})

	ids := make([]string, 0, min(n, len(sorted)))
	for _, c := range sorted[:min(n, len(sorted))] {
		ids = append(ids, c.PhotoID)
	}
	return ids
}

// RecomputeSelection rebuilds the automatic Top-N of one uploader from the
// current stored scores. Pinned rows are left untouched and their photos do
// not take an automatic slot. Runs for the same group are serialized, and
// the result depends only on stored state, so repeated runs converge.
func (p *Pipeline) RecomputeSelection(ctx context.Context, eventID, uploaderID string) ([]Selection, error) {
	unlock := p.groups.lock(eventID + "\x00" + uploaderID)
	defer unlock()

	candidates, err := p.cfg.Store.RankCandidates(ctx, eventID, uploaderID)
	if err != nil {
		return nil, storeError("rank_candidates", "", err)
	}
	current, err := p.cfg.Store.ListSelection(ctx, eventID, uploaderID)
	if err != nil {
		return nil, storeError("list_selection", "", err)
	}

	pinned := make(map[string]bool, len(current))
	for _, s := range current {
		if s.PinnedByHost {
			pinned[s.PhotoID] = true
		}
	}
	if len(pinned) > 0 {
		candidates = slices.DeleteFunc(slices.Clone(candidates), func(c RankCandidate) bool {
			return pinned[c.PhotoID]
		})
	}

	top := RankTopN(candidates, p.cfg.MaxAutoSelections)
	if err := p.cfg.Store.ReplaceAutoSelection(ctx, eventID, uploaderID, top); err != nil {
		return nil, storeError("replace_selection", "", err)
	}

	p.logger.Debug("photopick: selection recomputed",
		"event_id", eventID, "uploader_id", uploaderID,
		"candidates", len(candidates), "selected", len(top), "pinned", len(pinned))

	return p.Selection(ctx, eventID, uploaderID)
}

// Selection returns the current rows for (event, uploader): pinned rows
// first, then automatic rows by rank.
func (p *Pipeline) Selection(ctx context.Context, eventID, uploaderID string) ([]Selection, error) {
	rows, err := p.cfg.Store.ListSelection(ctx, eventID, uploaderID)
	if err != nil {
		return nil, storeError("list_selection", "", err)
	}
	return rows, nil
}

// keyedMutex hands out one mutex per key and forgets it when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
