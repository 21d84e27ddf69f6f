// Package natsqueue carries photopick jobs over NATS JetStream: one message
// per uploaded photo and one per event batch.
package natsqueue

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Stream, consumer and subject names.
const (
	StreamName   = "PHOTOPICK_JOBS"
	ConsumerName = "PHOTOPICK_WORKER"
	SubjectAll   = "photopick.>"
	SubjectPhoto = "photopick.photo.process"
	SubjectEvent = "photopick.event.batch"
)

// Delivery policy: three attempts, exponential backoff starting at 2s.
const (
	MaxDeliver     = 3
	baseRetryDelay = 2 * time.Second
	maxRetryDelay  = 5 * time.Minute
)

// PhotoJob asks the worker to score one uploaded photo. SourceKey is the
// storage key of the original; when empty the worker looks it up.
type PhotoJob struct {
	PhotoID   string `json:"photo_id" validate:"required"`
	EventID   string `json:"event_id,omitempty"`
	SourceKey string `json:"source_key,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// EventJob asks the worker to score every unscored photo of an event.
type EventJob struct {
	EventID   string `json:"event_id" validate:"required"`
	CreatedAt int64  `json:"created_at"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func validateJob(job any) error {
	if err := validate.Struct(job); err != nil {
		return fmt.Errorf("natsqueue: invalid job: %w", err)
	}
	return nil
}

// retryDelay is the backoff before delivery attempt numDelivered+1.
func retryDelay(numDelivered uint64) time.Duration {
	if numDelivered == 0 {
		numDelivered = 1
	}
	delay := baseRetryDelay
	for i := uint64(1); i < numDelivered; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}
