package photopick

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// DefaultMaxAutoSelections is the size of the automatic Top-N kept per uploader.
const DefaultMaxAutoSelections = 5

// DefaultDuplicateThreshold is the fingerprint similarity above which a photo
// is treated as a near-duplicate of an earlier one.
const DefaultDuplicateThreshold = 0.95

const (
	defaultAIConcurrency = 3
	defaultAIBatchPause  = time.Second
	defaultAITimeout     = 30 * time.Second
	defaultPreviewWidth  = 1024
)

var (
	errMissingStore  = errors.New("photopick: store is required")
	errMissingEvents = errors.New("photopick: event context provider is required")
	errMissingSource = errors.New("photopick: image source is required for event batches")
)

// ImageInput is the image payload handed to a Scorer.
type ImageInput struct {
	Data     []byte
	MIMEType string // e.g. "image/jpeg"
}

// Cache abstracts key-value caching (Redis, sync.Map, etc.)
type Cache interface {
	Key(prefix, value string) string
	Get(ctx context.Context, key string, dest any) bool
	Set(ctx context.Context, key string, value any)
}

// Scorer abstracts the external vision model. It returns the raw JSON text of
// the model's answer; normalization happens on this side of the interface.
type Scorer interface {
	Score(ctx context.Context, prompt string, image ImageInput) (string, error)
}

// Summarizer produces free text for the optional event summary.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

// ScoredPhoto is reported through Config.OnScored after a photo is committed.
type ScoredPhoto struct {
	PhotoID    string
	EventID    string
	UploaderID string
	Score      float64
	Duplicate  bool
	AIUsed     bool
}

// Config holds all dependencies injected by the consumer.
type Config struct {
	Store        Store                // required
	Events       EventContextProvider // required
	Source       ImageSource          // required for ProcessEvent
	Scorer       Scorer               // nil = AI always unavailable
	Summarizer   Summarizer           // optional: event summary after a batch
	Cache        Cache                // optional: caches advisor results
	FaceDetector FaceDetector         // default: NoFaceDetector

	// AIEnabled gates every call to Scorer and Summarizer.
	AIEnabled bool
	// AIPlanTiers restricts AI scoring to events on these plan tiers.
	// Empty means every tier is eligible.
	AIPlanTiers []string

	AIConcurrency int           // fan-out per batch chunk (default: 3)
	AIBatchPause  time.Duration // pause between batch chunks (default: 1s)
	AITimeout     time.Duration // per scorer call (default: 30s)
	PreviewWidth  int           // AI preview width in pixels (default: 1024)

	MaxAutoSelections  int     // default: DefaultMaxAutoSelections (5)
	DuplicateThreshold float64 // default: DefaultDuplicateThreshold (0.95)

	Clock  func() time.Time // default: time.Now
	Logger *slog.Logger     // default: slog.Default()

	// Optional callbacks for metrics/logging.
	OnPanic  func(tag string, r any)
	OnScored func(ScoredPhoto)
}

// defaults fills zero-value fields with sensible defaults.
func (c *Config) defaults() {
	if c.FaceDetector == nil {
		c.FaceDetector = NoFaceDetector{}
	}
	if c.AIConcurrency <= 0 {
		c.AIConcurrency = defaultAIConcurrency
	}
	if c.AIBatchPause < 0 {
		c.AIBatchPause = 0
	} else if c.AIBatchPause == 0 {
		c.AIBatchPause = defaultAIBatchPause
	}
	if c.AITimeout <= 0 {
		c.AITimeout = defaultAITimeout
	}
	if c.PreviewWidth <= 0 {
		c.PreviewWidth = defaultPreviewWidth
	}
	if c.MaxAutoSelections <= 0 {
		c.MaxAutoSelections = DefaultMaxAutoSelections
	}
	if c.DuplicateThreshold <= 0 || c.DuplicateThreshold > 1 {
		c.DuplicateThreshold = DefaultDuplicateThreshold
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Pipeline scores photos and maintains the per-uploader selections.
// It is safe for concurrent use.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger
	groups keyedMutex

	dedup    keyedMutex // per event: dedup read, check and reservation
	batches  keyedMutex // per event: one ProcessEvent at a time
	inflight inflightSet
}

// New validates cfg, applies defaults and returns a ready Pipeline.
// A negative AIBatchPause disables the pause between batch chunks.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Events == nil {
		return nil, errMissingEvents
	}
	cfg.defaults()

	return &Pipeline{
		cfg:    cfg,
		logger: cfg.Logger,
	}, nil
}

// ShouldUseAI reports whether a photo qualifies for the AI advisor: AI must be
// enabled with a scorer configured, the photo must not be a duplicate, and the
// event's plan tier must be allowed.
func (p *Pipeline) ShouldUseAI(isDuplicate bool, planTier string) bool {
	if !p.cfg.AIEnabled || p.cfg.Scorer == nil || isDuplicate {
		return false
	}
	if len(p.cfg.AIPlanTiers) == 0 {
		return true
	}
	for _, tier := range p.cfg.AIPlanTiers {
		if tier == planTier {
			return true
		}
	}
	return false
}

func (p *Pipeline) recoverPanic(tag string) {
	if r := recover(); r != nil {
		p.logger.Error("photopick: recovered panic", "tag", tag, "panic", r)
		if p.cfg.OnPanic != nil {
			p.cfg.OnPanic(tag, r)
		}
	}
}
