package photopick

import (
	"context"
	"time"
)

// Store is the persistence port. Implementations must return errors wrapping
// ErrNotFound for missing photos and must make SaveResult and
// ReplaceAutoSelection atomic.
type Store interface {
	// GetPhoto loads one photo.
	GetPhoto(ctx context.Context, photoID string) (*Photo, error)

	// PriorFingerprints returns the fingerprints of the event's scored,
	// non-duplicate photos other than excludeID, in processing order: score
	// CreatedAt ascending, then photo CreatedAt, then id.
	PriorFingerprints(ctx context.Context, eventID, excludeID string) ([]HashedPhoto, error)

	// SaveResult commits the photo's dimensions and duplicate flags together
	// with its score. The score replaces any previous one for the photo but
	// keeps the original CreatedAt.
	SaveResult(ctx context.Context, photo *Photo, score *QualityScore) error

	// RankCandidates returns the scored, non-duplicate photos of one uploader.
	RankCandidates(ctx context.Context, eventID, uploaderID string) ([]RankCandidate, error)

	// ReplaceAutoSelection deletes the group's non-pinned rows and inserts
	// photoIDs as ranks 1..k, skipping photos that already have a pinned row.
	ReplaceAutoSelection(ctx context.Context, eventID, uploaderID string, photoIDs []string) error

	// ListSelection returns the group's rows, pinned rows first, then by rank.
	ListSelection(ctx context.Context, eventID, uploaderID string) ([]Selection, error)

	// UnscoredPhotos returns the event's photos without a score, oldest first.
	UnscoredPhotos(ctx context.Context, eventID string) ([]Photo, error)

	// EventAnalyses returns the stored AI analyses of the event's non-duplicate photos.
	EventAnalyses(ctx context.Context, eventID string) ([]AIAnalysis, error)

	// EventsWithUnscoredPhotos lists events that still have work pending.
	EventsWithUnscoredPhotos(ctx context.Context) ([]string, error)
}

// EventContextProvider resolves event details for an (event, uploader) pair.
type EventContextProvider interface {
	EventContext(ctx context.Context, eventID, uploaderID string) (EventContext, error)
}

// SourceImage is the encoded image returned by an ImageSource.
type SourceImage struct {
	Data        []byte
	Filename    string
	ContentType string
}

// ImageSource fetches encoded image bytes by storage key.
type ImageSource interface {
	Fetch(ctx context.Context, key string) (*SourceImage, error)
}

// selectionLess sorts pinned rows first, then by rank, then by creation.
func selectionLess(a, b Selection) bool {
	if a.PinnedByHost != b.PinnedByHost {
		return a.PinnedByHost
	}
	if a.Rank != b.Rank {
		return a.Rank < b.Rank
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// scoredBefore orders prior photos for duplicate detection.
func scoredBefore(aScored, aCreated time.Time, aID string, bScored, bCreated time.Time, bID string) bool {
	if !aScored.Equal(bScored) {
		return aScored.Before(bScored)
	}
	if !aCreated.Equal(bCreated) {
		return aCreated.Before(bCreated)
	}
	return aID < bID
}
