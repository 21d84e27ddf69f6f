package natsqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	photopick "github.com/anatolykoptev/go-photopick"
)

// Processor is the subset of *photopick.Pipeline the worker drives.
type Processor interface {
	ProcessPhoto(ctx context.Context, photoID string, data []byte) (*photopick.QualityScore, error)
	ProcessEvent(ctx context.Context, eventID string) (*photopick.BatchReport, error)
}

// PhotoLookup resolves a photo's storage key when a job omits it.
type PhotoLookup interface {
	GetPhoto(ctx context.Context, photoID string) (*photopick.Photo, error)
}

// Outcome tells the consumer how to settle a message.
type Outcome int

const (
	// Ack removes the message.
	Ack Outcome = iota
	// Retry redelivers the message after a backoff.
	Retry
	// Terminate drops the message without further attempts.
	Terminate
)

func (o Outcome) String() string {
	switch o {
	case Ack:
		return "ack"
	case Retry:
		return "retry"
	case Terminate:
		return "terminate"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

var errUnknownSubject = errors.New("natsqueue: unknown subject")

// Handler turns job messages into pipeline calls.
type Handler struct {
	proc   Processor
	source photopick.ImageSource
	photos PhotoLookup
	logger *slog.Logger
}

// NewHandler builds a Handler. photos may be nil when every PhotoJob carries
// its SourceKey.
func NewHandler(proc Processor, source photopick.ImageSource, photos PhotoLookup) *Handler {
	return &Handler{
		proc:   proc,
		source: source,
		photos: photos,
		logger: slog.Default().With("component", "natsqueue"),
	}
}

// Handle processes one message body and reports how to settle it.
// Malformed jobs and non-retryable failures terminate.
func (h *Handler) Handle(ctx context.Context, subject string, data []byte) (Outcome, error) {
	switch subject {
	case SubjectPhoto:
		var job PhotoJob
		if err := decodeJob(data, &job); err != nil {
			return Terminate, err
		}
		return h.handlePhoto(ctx, job)
	case SubjectEvent:
		var job EventJob
		if err := decodeJob(data, &job); err != nil {
			return Terminate, err
		}
		return h.handleEvent(ctx, job)
	default:
		return Terminate, fmt.Errorf("%w: %s", errUnknownSubject, subject)
	}
}

func decodeJob(data []byte, job any) error {
	if err := json.Unmarshal(data, job); err != nil {
		return fmt.Errorf("natsqueue: decode job: %w", err)
	}
	return validateJob(job)
}

func (h *Handler) handlePhoto(ctx context.Context, job PhotoJob) (Outcome, error) {
	key := job.SourceKey
	if key == "" {
		if h.photos == nil {
			return Terminate, fmt.Errorf("natsqueue: photo %s: no source key", job.PhotoID)
		}
		ph, err := h.photos.GetPhoto(ctx, job.PhotoID)
		if err != nil {
			return outcomeFor(err), fmt.Errorf("natsqueue: lookup photo %s: %w", job.PhotoID, err)
		}
		key = ph.StorageKey
	}

	src, err := h.source.Fetch(ctx, key)
	if err != nil {
		return outcomeFor(err), fmt.Errorf("natsqueue: fetch photo %s: %w", job.PhotoID, err)
	}

	score, err := h.proc.ProcessPhoto(ctx, job.PhotoID, src.Data)
	if err != nil {
		return outcomeFor(err), err
	}

	h.logger.InfoContext(ctx, "photopick: photo job done",
		"photo_id", job.PhotoID, "score", score.QualityScore, "ai", score.AIAestheticScore != nil)
	return Ack, nil
}

// handleEvent acks once the batch ran; photos that failed inside it stay
// unscored and are picked up by the next sweep.
func (h *Handler) handleEvent(ctx context.Context, job EventJob) (Outcome, error) {
	report, err := h.proc.ProcessEvent(ctx, job.EventID)
	if err != nil {
		return outcomeFor(err), err
	}
	h.logger.InfoContext(ctx, "photopick: event job done",
		"event_id", job.EventID, "scored", len(report.Scored), "failed", len(report.Failed))
	return Ack, nil
}

func outcomeFor(err error) Outcome {
	if photopick.IsRetryable(err) {
		return Retry
	}
	return Terminate
}
