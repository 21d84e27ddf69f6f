package photopick

import (
	"errors"
	"strings"
)

// Error kinds. Match them with errors.Is; every error returned by the pipeline
// for a failed photo is a *StageError carrying one of these.
var (
	// ErrDecode marks an unreadable or corrupt image. Not retryable.
	ErrDecode = errors.New("photopick: decode failed")
	// ErrDownload marks source bytes that could not be fetched. Retryable.
	ErrDownload = errors.New("photopick: download failed")
	// ErrPersistence marks a storage failure reading or committing state.
	ErrPersistence = errors.New("photopick: persistence failed")
	// ErrNotFound marks a photo or event missing from the store.
	ErrNotFound = errors.New("photopick: not found")
)

// StageError describes which pipeline stage failed for which photo.
type StageError struct {
	Kind    error  // one of ErrDecode, ErrDownload, ErrPersistence, ErrNotFound
	Stage   string // e.g. "decode", "save_result"
	PhotoID string
	Err     error
}

func (e *StageError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	b.WriteString(" at ")
	b.WriteString(e.Stage)
	if e.PhotoID != "" {
		b.WriteString(" (photo ")
		b.WriteString(e.PhotoID)
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the underlying cause.
func (e *StageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func stageError(kind error, stage, photoID string, err error) error {
	return &StageError{Kind: kind, Stage: stage, PhotoID: photoID, Err: err}
}

// storeError classifies a Store failure, keeping ErrNotFound distinct from
// generic persistence failures.
func storeError(stage, photoID string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return stageError(ErrNotFound, stage, photoID, err)
	}
	return stageError(ErrPersistence, stage, photoID, err)
}

// IsRetryable reports whether redelivering the job may succeed. Decode and
// not-found failures are permanent; everything else is worth another attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrDecode) && !errors.Is(err, ErrNotFound)
}
