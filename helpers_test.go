package photopick

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// patternImage renders an 8x8 grid of light and dark cells chosen by the bits
// of a seeded generator, so different seeds give unrelated fingerprints.
func patternImage(seed uint64, size int) *image.RGBA {
	rng := rand.New(rand.NewPCG(seed, 0x9e3779b97f4a7c15))
	bitsVal := rng.Uint64()
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	cell := max(size/8, 1)
	for y := range size {
		for x := range size {
			bit := (y/cell)*8 + x/cell
			v := uint8(40)
			if bit < 64 && bitsVal&(1<<uint(bit)) != 0 {
				v = 215
			}
			// A little deterministic texture so blur and noise are not degenerate.
			v += uint8((x*7 + y*13) % 9)
			img.Set(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func makeJPEG(t *testing.T, seed uint64) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, patternImage(seed, 96), &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func makePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func uniformImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, c)
		}
	}
	return img
}

func inUnit(v float64) bool { return v >= 0 && v <= 1 && !math.IsNaN(v) }

// mockScorer is a test double for the Scorer interface. It is safe for
// concurrent use and records the peak number of in-flight calls.
type mockScorer struct {
	response string
	err      error
	delay    time.Duration
	failOn   string // prompts containing this fail

	calls    atomic.Int32
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (m *mockScorer) Score(ctx context.Context, prompt string, img ImageInput) (string, error) {
	m.calls.Add(1)
	n := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		p := m.peak.Load()
		if n <= p || m.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if len(img.Data) == 0 {
		return "", errors.New("empty image")
	}
	if m.failOn != "" && strings.Contains(prompt, m.failOn) {
		return "", errors.New("scorer failed")
	}
	return m.response, m.err
}

// mockSummarizer is a test double for the Summarizer interface.
type mockSummarizer struct {
	mu     sync.Mutex
	text   string
	err    error
	prompt string
}

func (m *mockSummarizer) Summarize(_ context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompt = prompt
	return m.text, m.err
}

// mockCache is a test double for the Cache interface storing JSON values.
type mockCache struct {
	mu    sync.Mutex
	store map[string][]byte
}

func newMockCache() *mockCache { return &mockCache{store: make(map[string][]byte)} }

func (m *mockCache) Key(prefix, value string) string { return prefix + ":" + value }

func (m *mockCache) Get(_ context.Context, key string, dest any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.store[key]
	if !ok {
		return false
	}
	return json.Unmarshal(v, dest) == nil
}

func (m *mockCache) Set(_ context.Context, key string, value any) {
	b, err := json.Marshal(value)
	if err != nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[key] = b
}

// fakeSource serves bytes from a map keyed by storage key.
type fakeSource struct {
	files map[string][]byte
}

func (f *fakeSource) Fetch(_ context.Context, key string) (*SourceImage, error) {
	data, ok := f.files[key]
	if !ok {
		return nil, ErrDownload
	}
	return &SourceImage{Data: data, Filename: key, ContentType: "image/jpeg"}, nil
}

const validAnalysisJSON = `{
  "aestheticScore": 8,
  "contextScore": 7,
  "composition": {"ruleOfThirds": true, "balance": "symmetric", "leadingLines": false},
  "technicalQuality": {"sharpness": "good", "exposure": "perfect", "colorBalance": "warm"},
  "emotions": ["joy", "love"],
  "sceneType": "group",
  "memorability": 9,
  "suggestions": ["crop tighter"],
  "eventRelevance": 8,
  "groupPhoto": true,
  "candid": true
}`

// newTestPipeline builds a pipeline over a fresh MemoryStore with one event.
func newTestPipeline(t *testing.T, mutate func(*Config)) (*Pipeline, *MemoryStore) {
	t.Helper()
	st := NewMemoryStore()
	st.AddEvent(EventInfo{ID: "ev1", Type: EventWedding, Name: "Ana & Luis", PlanTier: "P100"})
	cfg := Config{
		Store:        st,
		Events:       st,
		AIBatchPause: -1,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p, st
}

func TestClamp01(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want float64
	}{
		{-1, 0},
		{0, 0},
		{0.42, 0.42},
		{1, 1},
		{7, 1},
		{math.NaN(), 0},
		{math.Inf(1), 1},
		{math.Inf(-1), 0},
	}
	for _, tc := range tests {
		if got := clamp01(tc.in); got != tc.want {
			t.Errorf("clamp01(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestDigest(t *testing.T) {
	t.Parallel()

	a := digest([]byte("ab"), []byte("c"))
	b := digest([]byte("abc"))
	if a != b {
		t.Errorf("digest should hash the concatenation: %s != %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("digest length = %d, want 64", len(a))
	}
	if digest([]byte("x")) == digest([]byte("y")) {
		t.Error("different inputs produced the same digest")
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	st := NewMemoryStore()
	if _, err := New(Config{Events: st}); !errors.Is(err, errMissingStore) {
		t.Errorf("New without store: err = %v, want errMissingStore", err)
	}
	if _, err := New(Config{Store: st}); !errors.Is(err, errMissingEvents) {
		t.Errorf("New without events: err = %v, want errMissingEvents", err)
	}

	p, err := New(Config{Store: st, Events: st})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.cfg.MaxAutoSelections != DefaultMaxAutoSelections {
		t.Errorf("MaxAutoSelections = %d, want %d", p.cfg.MaxAutoSelections, DefaultMaxAutoSelections)
	}
	if p.cfg.DuplicateThreshold != DefaultDuplicateThreshold {
		t.Errorf("DuplicateThreshold = %v, want %v", p.cfg.DuplicateThreshold, DefaultDuplicateThreshold)
	}
	if p.cfg.AIConcurrency != 3 || p.cfg.AIBatchPause != time.Second || p.cfg.AITimeout != 30*time.Second {
		t.Errorf("AI defaults = %d/%v/%v", p.cfg.AIConcurrency, p.cfg.AIBatchPause, p.cfg.AITimeout)
	}
}

func TestShouldUseAI(t *testing.T) {
	t.Parallel()

	scorer := &mockScorer{}
	tests := []struct {
		name      string
		enabled   bool
		scorer    Scorer
		tiers     []string
		duplicate bool
		tier      string
		want      bool
	}{
		{name: "enabled any tier", enabled: true, scorer: scorer, tier: "FREE", want: true},
		{name: "disabled", enabled: false, scorer: scorer, want: false},
		{name: "no scorer", enabled: true, scorer: nil, want: false},
		{name: "duplicate", enabled: true, scorer: scorer, duplicate: true, want: false},
		{name: "tier allowed", enabled: true, scorer: scorer, tiers: []string{"P100", "P200"}, tier: "P200", want: true},
		{name: "tier not allowed", enabled: true, scorer: scorer, tiers: []string{"P100", "P200"}, tier: "FREE", want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p, _ := newTestPipeline(t, func(c *Config) {
				c.AIEnabled = tc.enabled
				c.Scorer = tc.scorer
				c.AIPlanTiers = tc.tiers
			})
			if got := p.ShouldUseAI(tc.duplicate, tc.tier); got != tc.want {
				t.Errorf("ShouldUseAI = %v, want %v", got, tc.want)
			}
		})
	}
}
