package photopick

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store and EventContextProvider backed by
// keyed maps. Useful for tests and single-node tools.
type MemoryStore struct {
	mu         sync.RWMutex
	events     map[string]EventInfo
	uploaders  map[string]string // uploader id -> display name
	photos     map[string]Photo
	scores     map[string]QualityScore
	selections map[string][]Selection // groupKey -> rows
	now        func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:     make(map[string]EventInfo),
		uploaders:  make(map[string]string),
		photos:     make(map[string]Photo),
		scores:     make(map[string]QualityScore),
		selections: make(map[string][]Selection),
		now:        time.Now,
	}
}

func groupKey(eventID, uploaderID string) string {
	return eventID + "\x00" + uploaderID
}

// AddEvent registers or replaces an event.
func (m *MemoryStore) AddEvent(ev EventInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[ev.ID] = ev
}

// AddUploader sets an uploader's display name.
func (m *MemoryStore) AddUploader(uploaderID, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploaders[uploaderID] = name
}

// AddPhoto stores a photo, assigning an id and CreatedAt when empty.
func (m *MemoryStore) AddPhoto(ph Photo) Photo {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ph.ID == "" {
		ph.ID = uuid.Must(uuid.NewV7()).String()
	}
	if ph.CreatedAt.IsZero() {
		ph.CreatedAt = m.now()
	}
	if ph.UpdatedAt.IsZero() {
		ph.UpdatedAt = ph.CreatedAt
	}
	m.photos[ph.ID] = clonePhoto(ph)
	return ph
}

// PinPhoto marks a photo as host-pinned in its uploader's selection. An
// automatic row for the same photo is replaced by the pinned one.
func (m *MemoryStore) PinPhoto(_ context.Context, photoID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ph, ok := m.photos[photoID]
	if !ok {
		return fmt.Errorf("photo %s: %w", photoID, ErrNotFound)
	}
	key := groupKey(ph.EventID, ph.UploaderID)

	rows := m.selections[key]
	pinnedCount := 0
	for _, s := range rows {
		if s.PhotoID == photoID && s.PinnedByHost {
			return nil
		}
		if s.PinnedByHost {
			pinnedCount++
		}
	}
	rows = slices.DeleteFunc(rows, func(s Selection) bool { return s.PhotoID == photoID })
	rows = append(rows, Selection{
		ID:           uuid.Must(uuid.NewV7()).String(),
		EventID:      ph.EventID,
		UploaderID:   ph.UploaderID,
		PhotoID:      photoID,
		Rank:         pinnedCount + 1,
		PinnedByHost: true,
		CreatedAt:    m.now(),
	})
	m.selections[key] = rows
	return nil
}

// Photo returns a copy of a stored photo.
func (m *MemoryStore) Photo(photoID string) (Photo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ph, ok := m.photos[photoID]
	return clonePhoto(ph), ok
}

// Score returns a copy of a photo's current score.
func (m *MemoryStore) Score(photoID string) (QualityScore, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sc, ok := m.scores[photoID]
	return sc, ok
}

// EventContext implements EventContextProvider.
func (m *MemoryStore) EventContext(_ context.Context, eventID, uploaderID string) (EventContext, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ev, ok := m.events[eventID]
	if !ok {
		return EventContext{}, fmt.Errorf("event %s: %w", eventID, ErrNotFound)
	}
	return EventContext{Event: ev, UploaderName: m.uploaders[uploaderID]}, nil
}

func (m *MemoryStore) GetPhoto(_ context.Context, photoID string) (*Photo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ph, ok := m.photos[photoID]
	if !ok {
		return nil, fmt.Errorf("photo %s: %w", photoID, ErrNotFound)
	}
	out := clonePhoto(ph)
	return &out, nil
}

func (m *MemoryStore) PriorFingerprints(_ context.Context, eventID, excludeID string) ([]HashedPhoto, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type prior struct {
		hashed  HashedPhoto
		scored  time.Time
		created time.Time
	}
	var found []prior
	for id, ph := range m.photos {
		if ph.EventID != eventID || id == excludeID || ph.IsDuplicate {
			continue
		}
		sc, ok := m.scores[id]
		if !ok {
			continue
		}
		fp, err := ParseFingerprint(sc.Metadata.ImageHash)
		if err != nil {
			continue
		}
		found = append(found, prior{
			hashed:  HashedPhoto{PhotoID: id, Fingerprint: fp},
			scored:  sc.CreatedAt,
			created: ph.CreatedAt,
		})
	}

	slices.SortFunc(found, func(a, b prior) int {
		if scoredBefore(a.scored, a.created, a.hashed.PhotoID, b.scored, b.created, b.hashed.PhotoID) {
			return -1
		}
		return 1
	})

	out := make([]HashedPhoto, len(found))
	for i, f := range found {
		out[i] = f.hashed
	}
	return out, nil
}

func (m *MemoryStore) SaveResult(_ context.Context, photo *Photo, score *QualityScore) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.photos[photo.ID]; !ok {
		return fmt.Errorf("photo %s: %w", photo.ID, ErrNotFound)
	}

	now := m.now()
	sc := *score
	sc.PhotoID = photo.ID
	if prev, ok := m.scores[photo.ID]; ok {
		sc.CreatedAt = prev.CreatedAt
	} else if sc.CreatedAt.IsZero() {
		sc.CreatedAt = now
	}
	sc.UpdatedAt = now

	ph := clonePhoto(*photo)
	ph.UpdatedAt = now

	m.photos[ph.ID] = ph
	m.scores[ph.ID] = sc
	score.CreatedAt, score.UpdatedAt = sc.CreatedAt, sc.UpdatedAt
	return nil
}

func (m *MemoryStore) RankCandidates(_ context.Context, eventID, uploaderID string) ([]RankCandidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []RankCandidate
	for id, ph := range m.photos {
		if ph.EventID != eventID || ph.UploaderID != uploaderID || ph.IsDuplicate {
			continue
		}
		sc, ok := m.scores[id]
		if !ok {
			continue
		}
		out = append(out, RankCandidate{PhotoID: id, Score: sc.QualityScore, CreatedAt: ph.CreatedAt})
	}
	return out, nil
}

func (m *MemoryStore) ReplaceAutoSelection(_ context.Context, eventID, uploaderID string, photoIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := groupKey(eventID, uploaderID)
	pinned := make(map[string]bool)
	rows := make([]Selection, 0, len(m.selections[key])+len(photoIDs))
	for _, s := range m.selections[key] {
		if s.PinnedByHost {
			pinned[s.PhotoID] = true
			rows = append(rows, s)
		}
	}

	now := m.now()
	rank := 0
	for _, id := range photoIDs {
		if pinned[id] {
			continue
		}
		rank++
		rows = append(rows, Selection{
			ID:         uuid.Must(uuid.NewV7()).String(),
			EventID:    eventID,
			UploaderID: uploaderID,
			PhotoID:    id,
			Rank:       rank,
			CreatedAt:  now,
		})
	}
	m.selections[key] = rows
	return nil
}

func (m *MemoryStore) ListSelection(_ context.Context, eventID, uploaderID string) ([]Selection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows := slices.Clone(m.selections[groupKey(eventID, uploaderID)])
	slices.SortStableFunc(rows, func(a, b Selection) int {
		if selectionLess(a, b) {
			return -1
		}
		if selectionLess(b, a) {
			return 1
		}
		return 0
	})
	return rows, nil
}

func (m *MemoryStore) UnscoredPhotos(_ context.Context, eventID string) ([]Photo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Photo
	for id, ph := range m.photos {
		if ph.EventID != eventID {
			continue
		}
		if _, ok := m.scores[id]; ok {
			continue
		}
		out = append(out, clonePhoto(ph))
	}
	slices.SortFunc(out, func(a, b Photo) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		return 1
	})
	return out, nil
}

func (m *MemoryStore) EventAnalyses(_ context.Context, eventID string) ([]AIAnalysis, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type item struct {
		created  time.Time
		analysis AIAnalysis
	}
	var items []item
	for id, sc := range m.scores {
		ph := m.photos[id]
		if ph.EventID != eventID || ph.IsDuplicate || sc.Metadata.AIAnalysis == nil {
			continue
		}
		items = append(items, item{created: ph.CreatedAt, analysis: *sc.Metadata.AIAnalysis})
	}
	slices.SortFunc(items, func(a, b item) int { return a.created.Compare(b.created) })

	out := make([]AIAnalysis, len(items))
	for i, it := range items {
		out[i] = it.analysis
	}
	return out, nil
}

func (m *MemoryStore) EventsWithUnscoredPhotos(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]bool)
	for id, ph := range m.photos {
		if _, ok := m.scores[id]; !ok {
			seen[ph.EventID] = true
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	slices.Sort(out)
	return out, nil
}

func clonePhoto(ph Photo) Photo {
	if ph.Width != nil {
		ph.Width = ptr(*ph.Width)
	}
	if ph.Height != nil {
		ph.Height = ptr(*ph.Height)
	}
	if ph.DuplicateOfID != nil {
		ph.DuplicateOfID = ptr(*ph.DuplicateOfID)
	}
	return ph
}
