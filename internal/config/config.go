// Package config loads photopick-worker settings from flags, environment
// (PHOTOPICK_*), an optional config file and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "PHOTOPICK"

const (
	defaultLogLevel       = "info"
	defaultLogFormat      = "json"
	defaultDBDriver       = "sqlite"
	defaultDBDSN          = "photopick.db"
	defaultNATSURL        = "nats://127.0.0.1:4222"
	defaultNATSWorkers    = 2
	defaultGeminiModel    = "gemini-1.5-flash"
	defaultAIConcurrency  = 3
	defaultAITimeout      = 30 * time.Second
	defaultAIBatchPause   = time.Second
	defaultPreviewWidth   = 1024
	defaultS3Region       = "auto"
	defaultCacheTTL       = 7 * 24 * time.Hour
	defaultSweepInterval  = 10 * time.Minute
	defaultMaxAuto        = 5
	defaultDupThreshold   = 0.95
	defaultLogMaxSizeMB   = 100
	defaultLogMaxBackups  = 5
	defaultLogMaxAgeDays  = 30
	defaultHTTPMaxBytesMB = 50
)

// AppConfig is the fully resolved worker configuration.
type AppConfig struct {
	Log       LogConfig
	Database  DatabaseConfig
	NATS      NATSConfig
	AI        AIConfig
	S3        S3Config
	Source    SourceConfig
	Redis     RedisConfig
	Selection SelectionConfig
	Sweep     SweepConfig
}

type LogConfig struct {
	Level      string
	Format     string // json, text
	File       string // empty = stderr only
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type DatabaseConfig struct {
	Driver string // sqlite, postgres
	DSN    string
}

type NATSConfig struct {
	URL         string
	Concurrency int
}

type AIConfig struct {
	Enabled      bool
	GeminiAPIKey string
	Model        string
	PlanTiers    []string
	Concurrency  int
	Timeout      time.Duration
	BatchPause   time.Duration // 0 disables the pause between advisor chunks
	PreviewWidth int
}

type S3Config struct {
	Endpoint   string
	Region     string
	AccessKey  string
	SecretKey  string
	Bucket     string
	Prefix     string
	MaxBytesMB int
}

// SourceConfig configures the HTTP fallback used when no bucket is set.
type SourceConfig struct {
	HTTPBaseURL string
}

type RedisConfig struct {
	URL string // empty disables the advisor cache
	TTL time.Duration
}

type SelectionConfig struct {
	MaxAuto            int
	DuplicateThreshold float64
}

type SweepConfig struct {
	Interval time.Duration // 0 disables the backlog sweep
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	v := viper.New()
	ApplyDefaults(v)
	return v
}

// ApplyDefaults configures defaults and env bindings on v.
func ApplyDefaults(v *viper.Viper) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log.level", defaultLogLevel)
	v.SetDefault("log.format", defaultLogFormat)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", defaultLogMaxSizeMB)
	v.SetDefault("log.max_backups", defaultLogMaxBackups)
	v.SetDefault("log.max_age_days", defaultLogMaxAgeDays)

	v.SetDefault("database.driver", defaultDBDriver)
	v.SetDefault("database.dsn", defaultDBDSN)

	v.SetDefault("nats.url", defaultNATSURL)
	v.SetDefault("nats.concurrency", defaultNATSWorkers)

	v.SetDefault("ai.enabled", true)
	v.SetDefault("ai.gemini_api_key", "")
	v.SetDefault("ai.model", defaultGeminiModel)
	v.SetDefault("ai.plan_tiers", []string{})
	v.SetDefault("ai.concurrency", defaultAIConcurrency)
	v.SetDefault("ai.timeout", defaultAITimeout)
	v.SetDefault("ai.batch_pause", defaultAIBatchPause)
	v.SetDefault("ai.preview_width", defaultPreviewWidth)

	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.region", defaultS3Region)
	v.SetDefault("s3.access_key", "")
	v.SetDefault("s3.secret_key", "")
	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.prefix", "")
	v.SetDefault("s3.max_bytes_mb", defaultHTTPMaxBytesMB)

	v.SetDefault("source.http_base_url", "")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.ttl", defaultCacheTTL)

	v.SetDefault("selection.max_auto", defaultMaxAuto)
	v.SetDefault("selection.duplicate_threshold", defaultDupThreshold)

	v.SetDefault("sweep.interval", defaultSweepInterval)
}

// LoadDotEnv loads variables from the given .env files (default ".env")
// without overriding the environment. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: load %s: %w", p, err)
		}
	}
	return nil
}

// Load resolves the configuration from v and validates it.
func Load(v *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		Log: LogConfig{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			File:       v.GetString("log.file"),
			MaxSizeMB:  v.GetInt("log.max_size_mb"),
			MaxBackups: v.GetInt("log.max_backups"),
			MaxAgeDays: v.GetInt("log.max_age_days"),
		},
		Database: DatabaseConfig{
			Driver: strings.ToLower(v.GetString("database.driver")),
			DSN:    v.GetString("database.dsn"),
		},
		NATS: NATSConfig{
			URL:         v.GetString("nats.url"),
			Concurrency: v.GetInt("nats.concurrency"),
		},
		AI: AIConfig{
			Enabled:      v.GetBool("ai.enabled"),
			GeminiAPIKey: v.GetString("ai.gemini_api_key"),
			Model:        v.GetString("ai.model"),
			PlanTiers:    splitList(v.GetStringSlice("ai.plan_tiers")),
			Concurrency:  v.GetInt("ai.concurrency"),
			Timeout:      v.GetDuration("ai.timeout"),
			BatchPause:   v.GetDuration("ai.batch_pause"),
			PreviewWidth: v.GetInt("ai.preview_width"),
		},
		S3: S3Config{
			Endpoint:   v.GetString("s3.endpoint"),
			Region:     v.GetString("s3.region"),
			AccessKey:  v.GetString("s3.access_key"),
			SecretKey:  v.GetString("s3.secret_key"),
			Bucket:     v.GetString("s3.bucket"),
			Prefix:     v.GetString("s3.prefix"),
			MaxBytesMB: v.GetInt("s3.max_bytes_mb"),
		},
		Source: SourceConfig{
			HTTPBaseURL: v.GetString("source.http_base_url"),
		},
		Redis: RedisConfig{
			URL: v.GetString("redis.url"),
			TTL: v.GetDuration("redis.ttl"),
		},
		Selection: SelectionConfig{
			MaxAuto:            v.GetInt("selection.max_auto"),
			DuplicateThreshold: v.GetFloat64("selection.duplicate_threshold"),
		},
		Sweep: SweepConfig{
			Interval: v.GetDuration("sweep.interval"),
		},
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// HasSource reports whether originals can be fetched.
func (c AppConfig) HasSource() bool {
	return c.S3.Bucket != "" || c.Source.HTTPBaseURL != ""
}

// PipelineBatchPause maps ai.batch_pause onto photopick.Config.AIBatchPause,
// where a negative value disables the pause.
func (c AppConfig) PipelineBatchPause() time.Duration {
	if c.AI.BatchPause == 0 {
		return -1
	}
	return c.AI.BatchPause
}

// AIActive reports whether the worker should build a scorer.
func (c AppConfig) AIActive() bool {
	return c.AI.Enabled && c.AI.GeminiAPIKey != ""
}

func (c AppConfig) validate() error {
	var errs []error
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver))
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or text, got %q", c.Log.Format))
	}
	if c.Selection.MaxAuto <= 0 {
		errs = append(errs, errors.New("selection.max_auto must be positive"))
	}
	if c.Selection.DuplicateThreshold <= 0 || c.Selection.DuplicateThreshold > 1 {
		errs = append(errs, errors.New("selection.duplicate_threshold must be in (0, 1]"))
	}
	if c.AI.Concurrency <= 0 {
		errs = append(errs, errors.New("ai.concurrency must be positive"))
	}
	if c.AI.BatchPause < 0 {
		errs = append(errs, errors.New("ai.batch_pause must not be negative"))
	}
	if c.AI.PreviewWidth <= 0 {
		errs = append(errs, errors.New("ai.preview_width must be positive"))
	}
	if c.Sweep.Interval < 0 {
		errs = append(errs, errors.New("sweep.interval must not be negative"))
	}
	if (c.S3.AccessKey == "") != (c.S3.SecretKey == "") {
		errs = append(errs, errors.New("s3.access_key and s3.secret_key must be set together"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// splitList accepts both repeated values and a single comma-separated env value.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
