package photopick

import (
	"slices"
	"sync"
)

// HashedPhoto is a previously processed, non-duplicate photo and its fingerprint.
type HashedPhoto struct {
	PhotoID     string
	Fingerprint Fingerprint
}

// DuplicateMatch identifies the canonical photo a new one duplicates.
type DuplicateMatch struct {
	PhotoID    string
	Similarity float64
}

// FindDuplicate scans prior in order and returns the first photo whose
// similarity to fp is strictly above threshold. prior must already be in
// processing order; the earliest match is the canonical one.
func FindDuplicate(fp Fingerprint, prior []HashedPhoto, threshold float64) (DuplicateMatch, bool) {
	for _, h := range prior {
		sim := Similarity(fp, h.Fingerprint)
		if sim > threshold {
			return DuplicateMatch{PhotoID: h.PhotoID, Similarity: sim}, true
		}
	}
	return DuplicateMatch{}, false
}

// inflightSet tracks non-duplicate photos that passed dedup but are not yet
// committed, per event, so concurrent runs see each other's fingerprints.
type inflightSet struct {
	mu     sync.Mutex
	events map[string][]HashedPhoto
}

func (s *inflightSet) add(eventID string, h HashedPhoto) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.events == nil {
		s.events = make(map[string][]HashedPhoto)
	}
	s.events[eventID] = append(s.events[eventID], h)
}

func (s *inflightSet) remove(eventID, photoID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rest := slices.DeleteFunc(s.events[eventID], func(h HashedPhoto) bool { return h.PhotoID == photoID })
	if len(rest) == 0 {
		delete(s.events, eventID)
		return
	}
	s.events[eventID] = rest
}

// list returns the in-flight photos of eventID in claim order, excluding
// exceptID.
func (s *inflightSet) list(eventID, exceptID string) []HashedPhoto {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []HashedPhoto
	for _, h := range s.events[eventID] {
		if h.PhotoID != exceptID {
			out = append(out, h)
		}
	}
	return out
}
