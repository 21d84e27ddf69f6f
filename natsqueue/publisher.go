package natsqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// publisher is the slice of jetstream.JetStream the Publisher uses.
type publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Publisher enqueues jobs.
type Publisher struct {
	js  publisher
	now func() time.Time
}

// NewPublisher publishes through c's JetStream context.
func NewPublisher(c *Client) *Publisher {
	return &Publisher{js: c.js, now: time.Now}
}

// PublishPhoto enqueues a single-photo job.
func (p *Publisher) PublishPhoto(ctx context.Context, job PhotoJob) error {
	if job.CreatedAt == 0 {
		job.CreatedAt = p.now().Unix()
	}
	return p.publish(ctx, SubjectPhoto, job)
}

// PublishEvent enqueues an event batch job.
func (p *Publisher) PublishEvent(ctx context.Context, eventID string) error {
	return p.publish(ctx, SubjectEvent, EventJob{EventID: eventID, CreatedAt: p.now().Unix()})
}

func (p *Publisher) publish(ctx context.Context, subject string, job any) error {
	if err := validateJob(job); err != nil {
		return err
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("natsqueue: marshal job: %w", err)
	}
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("natsqueue: publish %s: %w", subject, err)
	}
	return nil
}
