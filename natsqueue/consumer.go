package natsqueue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// ConsumerConfig tunes the durable worker consumer.
type ConsumerConfig struct {
	Name        string        // default: ConsumerName
	Concurrency int           // default: 2
	AckWait     time.Duration // default: 5m; extended while a job runs
}

func (c *ConsumerConfig) defaults() {
	if c.Name == "" {
		c.Name = ConsumerName
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 2
	}
	if c.AckWait <= 0 {
		c.AckWait = 5 * time.Minute
	}
}

// Consumer pulls jobs from the stream and settles them per Handler outcome.
type Consumer struct {
	client  *Client
	handler *Handler
	cfg     ConsumerConfig
	logger  *slog.Logger
}

// NewConsumer wires a Handler to the client's stream.
func NewConsumer(client *Client, handler *Handler, cfg ConsumerConfig) *Consumer {
	cfg.defaults()
	return &Consumer{
		client:  client,
		handler: handler,
		cfg:     cfg,
		logger:  slog.Default().With("component", "natsqueue"),
	}
}

// Run consumes until ctx is cancelled, then waits for in-flight jobs.
func (c *Consumer) Run(ctx context.Context) error {
	stream, err := c.client.EnsureStream(ctx)
	if err != nil {
		return err
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          c.cfg.Name,
		Durable:       c.cfg.Name,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    MaxDeliver,
		AckWait:       c.cfg.AckWait,
		FilterSubject: SubjectAll,
	})
	if err != nil {
		return fmt.Errorf("natsqueue: create consumer: %w", err)
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, c.cfg.Concurrency)

	consumeCtx, err := cons.Consume(func(msg jetstream.Msg) {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			_ = msg.Nak()
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			c.process(ctx, msg)
		}()
	})
	if err != nil {
		return fmt.Errorf("natsqueue: consume: %w", err)
	}

	c.logger.Info("photopick: consumer started",
		"stream", StreamName, "consumer", c.cfg.Name, "concurrency", c.cfg.Concurrency)

	<-ctx.Done()
	consumeCtx.Stop()
	wg.Wait()
	c.logger.Info("photopick: consumer stopped")
	return nil
}

func (c *Consumer) process(ctx context.Context, msg jetstream.Msg) {
	stop := keepAlive(msg, c.cfg.AckWait/3, c.logger)
	defer func() {
		if r := recover(); r != nil {
			stop()
			c.logger.Error("photopick: job panicked", "subject", msg.Subject(), "panic", r)
			_ = msg.Term()
		}
	}()

	outcome, err := c.handler.Handle(ctx, msg.Subject(), msg.Data())
	stop()
	settle(msg, outcome, err, c.logger)
}

// keepAlive resets the ack timer of msg every interval until stop is called.
// stop is idempotent and returns once no further InProgress can be sent.
func keepAlive(msg jetstream.Msg, every time.Duration, logger *slog.Logger) (stop func()) {
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				if err := msg.InProgress(); err != nil {
					logger.Warn("photopick: extend ack deadline", "subject", msg.Subject(), "error", err)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
		<-exited
	}
}

// settle acks, naks with backoff, or terminates msg.
func settle(msg jetstream.Msg, outcome Outcome, jobErr error, logger *slog.Logger) {
	var delivered uint64 = 1
	if md, err := msg.Metadata(); err == nil {
		delivered = md.NumDelivered
	}

	if outcome == Retry && delivered >= MaxDeliver {
		outcome = Terminate
	}

	var err error
	switch outcome {
	case Ack:
		err = msg.Ack()
	case Retry:
		delay := retryDelay(delivered)
		logger.Warn("photopick: job failed, retrying",
			"subject", msg.Subject(), "attempt", delivered, "delay", delay, "error", jobErr)
		err = msg.NakWithDelay(delay)
	default:
		logger.Error("photopick: job dropped",
			"subject", msg.Subject(), "attempt", delivered, "error", jobErr)
		err = msg.Term()
	}
	if err != nil {
		logger.Warn("photopick: settle message", "outcome", outcome.String(), "error", err)
	}
}
