package natsqueue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const streamMaxAge = 7 * 24 * time.Hour

// Client owns the NATS connection and the JetStream context.
type Client struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// Connect dials NATS with unlimited reconnects.
func Connect(url string) (*Client, error) {
	nc, err := nats.Connect(url,
		nats.Name("photopick"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("natsqueue: connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("natsqueue: jetstream: %w", err)
	}

	return &Client{nc: nc, js: js, logger: slog.Default().With("component", "natsqueue")}, nil
}

// EnsureStream creates or updates the work-queue stream for every photopick subject.
func (c *Client) EnsureStream(ctx context.Context) (jetstream.Stream, error) {
	stream, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{SubjectAll},
		Retention: jetstream.WorkQueuePolicy,
		MaxAge:    streamMaxAge,
	})
	if err != nil {
		return nil, fmt.Errorf("natsqueue: create stream: %w", err)
	}
	return stream, nil
}

// Close closes the NATS connection. Unacked jobs are redelivered after AckWait.
func (c *Client) Close() {
	if c.nc != nil {
		c.nc.Close()
	}
}
