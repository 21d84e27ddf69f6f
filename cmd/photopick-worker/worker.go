package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/spf13/cobra"

	"github.com/anatolykoptev/go-photopick/natsqueue"
)

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume photo and event jobs from NATS until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runWorker(ctx)
		},
	}
}

func runWorker(ctx context.Context) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	client, err := natsqueue.Connect(a.cfg.NATS.URL)
	if err != nil {
		return err
	}
	defer client.Close()
	if _, err := client.EnsureStream(ctx); err != nil {
		return err
	}

	if a.cfg.Sweep.Interval > 0 {
		sched, err := startSweep(ctx, a.cfg.Sweep.Interval, a.store, natsqueue.NewPublisher(client), a.logger)
		if err != nil {
			return err
		}
		defer sched.Stop()
	}

	handler := natsqueue.NewHandler(a.pipeline, a.source, a.store)
	consumer := natsqueue.NewConsumer(client, handler, natsqueue.ConsumerConfig{
		Concurrency: a.cfg.NATS.Concurrency,
	})
	return consumer.Run(ctx)
}

// backlogLister finds events whose photos are still waiting for a score.
type backlogLister interface {
	EventsWithUnscoredPhotos(ctx context.Context) ([]string, error)
}

// eventEnqueuer schedules an event batch.
type eventEnqueuer interface {
	PublishEvent(ctx context.Context, eventID string) error
}

func startSweep(ctx context.Context, every time.Duration, lister backlogLister, queue eventEnqueuer, logger *slog.Logger) (*gocron.Scheduler, error) {
	sched := gocron.NewScheduler(time.UTC)
	sched.SingletonModeAll()

	_, err := sched.Every(every).Do(func() {
		if n, err := sweepBacklog(ctx, lister, queue); err != nil {
			logger.Warn("photopick: backlog sweep failed", "enqueued", n, "error", err)
		} else if n > 0 {
			logger.Info("photopick: backlog sweep", "enqueued", n)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule backlog sweep: %w", err)
	}
	sched.StartAsync()
	return sched, nil
}

// sweepBacklog enqueues one batch job per event with unscored photos.
func sweepBacklog(ctx context.Context, lister backlogLister, queue eventEnqueuer) (int, error) {
	events, err := lister.EventsWithUnscoredPhotos(ctx)
	if err != nil {
		return 0, fmt.Errorf("list backlog: %w", err)
	}
	for i, eventID := range events {
		if err := queue.PublishEvent(ctx, eventID); err != nil {
			return i, fmt.Errorf("enqueue event %s: %w", eventID, err)
		}
	}
	return len(events), nil
}
