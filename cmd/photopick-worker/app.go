package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/viper"

	photopick "github.com/anatolykoptev/go-photopick"
	"github.com/anatolykoptev/go-photopick/gemini"
	"github.com/anatolykoptev/go-photopick/internal/config"
	"github.com/anatolykoptev/go-photopick/internal/logging"
	"github.com/anatolykoptev/go-photopick/rediscache"
	"github.com/anatolykoptev/go-photopick/s3source"
	"github.com/anatolykoptev/go-photopick/store"
)

// app holds the wired pipeline and everything that must be closed with it.
type app struct {
	cfg      config.AppConfig
	logger   *slog.Logger
	store    *store.Store
	source   photopick.ImageSource
	pipeline *photopick.Pipeline
	closers  []io.Closer
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// newApp loads configuration and builds the pipeline. Adapters that are not
// configured stay nil: no API key disables AI, no Redis URL disables caching.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	logger, logCloser, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger, closers: []io.Closer{logCloser}}
	if err := a.wire(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg

	st, err := store.Open(store.Options{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN})
	if err != nil {
		return err
	}
	a.store = st
	a.closers = append(a.closers, st)

	source, err := newSource(ctx, cfg)
	if err != nil {
		return err
	}
	a.source = source

	pcfg := photopick.Config{
		Store:              st,
		Events:             st,
		Source:             source,
		AIEnabled:          cfg.AIActive(),
		AIPlanTiers:        cfg.AI.PlanTiers,
		AIConcurrency:      cfg.AI.Concurrency,
		AITimeout:          cfg.AI.Timeout,
		AIBatchPause:       cfg.PipelineBatchPause(),
		PreviewWidth:       cfg.AI.PreviewWidth,
		MaxAutoSelections:  cfg.Selection.MaxAuto,
		DuplicateThreshold: cfg.Selection.DuplicateThreshold,
		Logger:             a.logger,
		OnPanic: func(tag string, r any) {
			a.logger.Error("photopick: panic", "tag", tag, "panic", r)
		},
	}

	if cfg.AIActive() {
		client, err := gemini.NewClient(ctx, cfg.AI.GeminiAPIKey, cfg.AI.Model)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, client)
		pcfg.Scorer = client
		pcfg.Summarizer = client
	} else {
		a.logger.Info("photopick: AI advisor disabled")
	}

	if cfg.Redis.URL != "" {
		cache, err := rediscache.New(ctx, cfg.Redis.URL, cfg.Redis.TTL)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, cache)
		pcfg.Cache = cache
	}

	a.pipeline, err = photopick.New(pcfg)
	return err
}

func newSource(ctx context.Context, cfg config.AppConfig) (photopick.ImageSource, error) {
	maxBytes := int64(cfg.S3.MaxBytesMB) << 20
	switch {
	case cfg.S3.Bucket != "":
		return s3source.New(ctx, s3source.Config{
			Endpoint:  cfg.S3.Endpoint,
			Region:    cfg.S3.Region,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Bucket:    cfg.S3.Bucket,
			Prefix:    cfg.S3.Prefix,
			MaxBytes:  maxBytes,
		})
	case cfg.Source.HTTPBaseURL != "":
		return &photopick.HTTPSource{BaseURL: cfg.Source.HTTPBaseURL, MaxBytes: maxBytes}, nil
	default:
		return nil, fmt.Errorf("no image source: set s3.bucket or source.http_base_url")
	}
}
