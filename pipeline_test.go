package photopick

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"
)

func addPhoto(st *MemoryStore, id, uploader string, at time.Time) Photo {
	return st.AddPhoto(Photo{
		ID:         id,
		EventID:    "ev1",
		UploaderID: uploader,
		StorageKey: "events/ev1/" + id + ".jpg",
		CreatedAt:  at,
	})
}

func TestProcessPhotoWithoutAI(t *testing.T) {
	t.Parallel()

	scorer := &mockScorer{response: validAnalysisJSON}
	p, st := newTestPipeline(t, func(c *Config) {
		c.AIEnabled = false
		c.Scorer = scorer
	})
	addPhoto(st, "p1", "u1", rankBase)

	score, err := p.ProcessPhoto(context.Background(), "p1", makeJPEG(t, 10))
	if err != nil {
		t.Fatalf("ProcessPhoto: %v", err)
	}

	if scorer.calls.Load() != 0 {
		t.Errorf("scorer called %d times with AI disabled", scorer.calls.Load())
	}
	if score.AIAestheticScore != nil || score.AIContextScore != nil || score.Metadata.AIAnalysis != nil {
		t.Errorf("AI fields set with AI disabled: %+v", score)
	}
	basic := BasicQualityScore(BasicAnalysis{
		BlurScore:     score.BlurScore,
		ExposureScore: score.ExposureScore,
		NoiseScore:    score.NoiseScore,
		FacesDetected: score.FacesDetected,
		EyesOpenScore: score.EyesOpenScore,
	})
	if score.QualityScore != basic {
		t.Errorf("QualityScore = %v, want basic score %v exactly", score.QualityScore, basic)
	}
	for name, v := range map[string]float64{
		"blur": score.BlurScore, "exposure": score.ExposureScore, "noise": score.NoiseScore, "quality": score.QualityScore,
	} {
		if !inUnit(v) {
			t.Errorf("%s = %v outside [0,1]", name, v)
		}
	}
	if len(score.Metadata.ImageHash) != 16 {
		t.Errorf("ImageHash = %q, want 16 hex chars", score.Metadata.ImageHash)
	}

	stored, ok := st.Score("p1")
	if !ok || stored.QualityScore != score.QualityScore {
		t.Errorf("stored score = %+v (present %v)", stored, ok)
	}
	photo, _ := st.Photo("p1")
	if photo.Width == nil || *photo.Width != 96 || photo.Height == nil || *photo.Height != 96 {
		t.Errorf("dimensions not recorded: %+v", photo)
	}

	sel, err := p.Selection(context.Background(), "ev1", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(sel) != 1 || sel[0].PhotoID != "p1" || sel[0].Rank != 1 {
		t.Errorf("selection = %+v, want p1 at rank 1", sel)
	}
}

func TestProcessPhotoWithAI(t *testing.T) {
	t.Parallel()

	scorer := &mockScorer{response: validAnalysisJSON}
	var scored []ScoredPhoto
	p, st := newTestPipeline(t, func(c *Config) {
		c.AIEnabled = true
		c.Scorer = scorer
		c.OnScored = func(s ScoredPhoto) { scored = append(scored, s) }
	})
	addPhoto(st, "p1", "u1", rankBase)

	score, err := p.ProcessPhoto(context.Background(), "p1", makeJPEG(t, 11))
	if err != nil {
		t.Fatalf("ProcessPhoto: %v", err)
	}
	if scorer.calls.Load() != 1 {
		t.Errorf("scorer calls = %d, want 1", scorer.calls.Load())
	}
	if score.AIAestheticScore == nil || *score.AIAestheticScore != 0.8 {
		t.Errorf("AIAestheticScore = %v, want 0.8", score.AIAestheticScore)
	}
	if score.AIContextScore == nil || *score.AIContextScore != 0.7 {
		t.Errorf("AIContextScore = %v, want 0.7", score.AIContextScore)
	}
	if score.Metadata.AIAnalysis == nil || score.Metadata.AIAnalysis.SceneType != "group" {
		t.Errorf("analysis not kept in metadata: %+v", score.Metadata.AIAnalysis)
	}
	if !inUnit(score.QualityScore) {
		t.Errorf("QualityScore = %v", score.QualityScore)
	}
	if len(scored) != 1 || !scored[0].AIUsed || scored[0].PhotoID != "p1" {
		t.Errorf("OnScored = %+v", scored)
	}
}

func TestProcessPhotoAdvisorFailureDoesNotBlock(t *testing.T) {
	t.Parallel()

	p, st := newTestPipeline(t, func(c *Config) {
		c.AIEnabled = true
		c.Scorer = &mockScorer{err: errors.New("rate limited")}
	})
	addPhoto(st, "p1", "u1", rankBase)

	score, err := p.ProcessPhoto(context.Background(), "p1", makeJPEG(t, 12))
	if err != nil {
		t.Fatalf("ProcessPhoto: %v", err)
	}
	if score.AIAestheticScore != nil {
		t.Error("AI score present after advisor failure")
	}
	sel, _ := p.Selection(context.Background(), "ev1", "u1")
	if len(sel) != 1 {
		t.Errorf("photo not ranked after advisor failure: %+v", sel)
	}
}

func TestProcessPhotoByteIdenticalDuplicate(t *testing.T) {
	t.Parallel()

	scorer := &mockScorer{response: validAnalysisJSON}
	p, st := newTestPipeline(t, func(c *Config) {
		c.AIEnabled = true
		c.Scorer = scorer
	})
	addPhoto(st, "a", "u1", rankBase)
	addPhoto(st, "b", "u1", rankBase.Add(time.Minute))

	data := makeJPEG(t, 20)
	ctx := context.Background()
	if _, err := p.ProcessPhoto(ctx, "a", data); err != nil {
		t.Fatal(err)
	}
	scoreB, err := p.ProcessPhoto(ctx, "b", data)
	if err != nil {
		t.Fatal(err)
	}

	b, _ := st.Photo("b")
	if !b.IsDuplicate || b.DuplicateOfID == nil || *b.DuplicateOfID != "a" {
		t.Errorf("photo b = duplicate %v of %v, want duplicate of a", b.IsDuplicate, b.DuplicateOfID)
	}
	if _, ok := st.Score("b"); !ok {
		t.Error("duplicate lost its quality score")
	}
	if scoreB.AIAestheticScore != nil {
		t.Error("duplicate was sent to the advisor")
	}
	if scorer.calls.Load() != 1 {
		t.Errorf("scorer calls = %d, want 1", scorer.calls.Load())
	}

	sel, _ := p.Selection(ctx, "ev1", "u1")
	if len(sel) != 1 || sel[0].PhotoID != "a" {
		t.Errorf("selection = %+v, want only a", sel)
	}

	// The canonical photo is never marked retroactively.
	a, _ := st.Photo("a")
	if a.IsDuplicate {
		t.Error("canonical photo marked as duplicate")
	}
}

func TestProcessPhotoDuplicatesAcrossUploaders(t *testing.T) {
	t.Parallel()

	p, st := newTestPipeline(t, nil)
	addPhoto(st, "a", "u1", rankBase)
	addPhoto(st, "b", "u2", rankBase.Add(time.Minute))

	data := makeJPEG(t, 21)
	ctx := context.Background()
	if _, err := p.ProcessPhoto(ctx, "a", data); err != nil {
		t.Fatal(err)
	}
	if _, err := p.ProcessPhoto(ctx, "b", data); err != nil {
		t.Fatal(err)
	}
	b, _ := st.Photo("b")
	if !b.IsDuplicate {
		t.Error("dedup should span the whole event, not one uploader")
	}
}

func TestProcessPhotoDecodeErrorPersistsNothing(t *testing.T) {
	t.Parallel()

	p, st := newTestPipeline(t, nil)
	addPhoto(st, "p1", "u1", rankBase)

	score, err := p.ProcessPhoto(context.Background(), "p1", []byte("not an image"))
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("err = %v, want ErrDecode", err)
	}
	if IsRetryable(err) {
		t.Error("decode errors must not be retryable")
	}
	if score != nil {
		t.Errorf("score = %+v, want nil", score)
	}
	if _, ok := st.Score("p1"); ok {
		t.Error("partial score persisted after decode failure")
	}
	ph, _ := st.Photo("p1")
	if ph.Width != nil {
		t.Error("photo mutated after decode failure")
	}
}

func TestProcessPhotoNotFound(t *testing.T) {
	t.Parallel()

	p, _ := newTestPipeline(t, nil)
	_, err := p.ProcessPhoto(context.Background(), "missing", makeJPEG(t, 1))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

// failingSaveStore wraps a MemoryStore and fails every SaveResult.
type failingSaveStore struct {
	*MemoryStore
}

func (failingSaveStore) SaveResult(context.Context, *Photo, *QualityScore) error {
	return errors.New("connection refused")
}

func TestProcessPhotoPersistenceError(t *testing.T) {
	t.Parallel()

	mem := NewMemoryStore()
	mem.AddEvent(EventInfo{ID: "ev1", Type: EventOther})
	addPhoto(mem, "p1", "u1", rankBase)

	p, err := New(Config{Store: failingSaveStore{mem}, Events: mem})
	if err != nil {
		t.Fatal(err)
	}
	_, err = p.ProcessPhoto(context.Background(), "p1", makeJPEG(t, 2))
	if !errors.Is(err, ErrPersistence) {
		t.Errorf("err = %v, want ErrPersistence", err)
	}
	if !IsRetryable(err) {
		t.Error("persistence errors should be retryable")
	}
	sel, _ := mem.ListSelection(context.Background(), "ev1", "u1")
	if len(sel) != 0 {
		t.Errorf("selection changed after failed commit: %+v", sel)
	}
}

func TestProcessEventTenPhotosOneCorrupt(t *testing.T) {
	t.Parallel()

	src := &fakeSource{files: make(map[string][]byte)}
	scorer := &mockScorer{response: validAnalysisJSON}
	summarizer := &mockSummarizer{text: "  A joyful wedding.  "}
	p, st := newTestPipeline(t, func(c *Config) {
		c.Source = src
		c.AIEnabled = true
		c.Scorer = scorer
		c.Summarizer = summarizer
	})

	var ids []string
	for i := range 10 {
		id := fmt.Sprintf("p%02d", i)
		uploader := "u1"
		if i%2 == 1 {
			uploader = "u2"
		}
		ph := addPhoto(st, id, uploader, rankBase.Add(time.Duration(i)*time.Second))
		src.files[ph.StorageKey] = makeJPEG(t, uint64(100+i))
		ids = append(ids, id)
	}
	src.files["events/ev1/p04.jpg"] = []byte("\xff\xd8corrupt")

	report, err := p.ProcessEvent(context.Background(), "ev1")
	if err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}

	if len(report.Scored) != 9 {
		t.Errorf("scored = %d, want 9", len(report.Scored))
	}
	if len(report.Failed) != 1 {
		t.Fatalf("failed = %v, want exactly one", report.Failed)
	}
	if ferr := report.Failed["p04"]; !errors.Is(ferr, ErrDecode) {
		t.Errorf("failure for p04 = %v, want ErrDecode", ferr)
	}
	if _, ok := st.Score("p04"); ok {
		t.Error("corrupt photo has a score")
	}
	for _, id := range ids {
		if id == "p04" {
			continue
		}
		if _, ok := st.Score(id); !ok {
			t.Errorf("%s not scored", id)
		}
	}
	if report.Summary != "A joyful wedding." {
		t.Errorf("Summary = %q", report.Summary)
	}
	if !strings.Contains(summarizer.prompt, "Photos analyzed: 9") {
		t.Errorf("summary prompt = %q", summarizer.prompt)
	}
	if peak := scorer.peak.Load(); peak > 3 {
		t.Errorf("advisor concurrency peaked at %d", peak)
	}

	// u1 uploaded p00, p02, p04, p06, p08 and lost p04.
	for u, want := range map[string]int{"u1": 4, "u2": 5} {
		sel, _ := p.Selection(context.Background(), "ev1", u)
		if len(sel) != want {
			t.Errorf("%s selection = %d rows, want %d", u, len(sel), want)
		}
	}

	// Nothing left to do: a second run is a no-op.
	again, err := p.ProcessEvent(context.Background(), "ev1")
	if err != nil {
		t.Fatal(err)
	}
	if len(again.Scored) != 0 || len(again.Failed) != 1 {
		t.Errorf("second run = %d scored, %d failed; want 0 and only the corrupt photo", len(again.Scored), len(again.Failed))
	}
}

func TestProcessEventDedupWithinBatch(t *testing.T) {
	t.Parallel()

	src := &fakeSource{files: make(map[string][]byte)}
	p, st := newTestPipeline(t, func(c *Config) { c.Source = src })

	same := makeJPEG(t, 300)
	for i, id := range []string{"first", "copy", "other"} {
		ph := addPhoto(st, id, "u1", rankBase.Add(time.Duration(i)*time.Second))
		src.files[ph.StorageKey] = same
	}
	src.files["events/ev1/other.jpg"] = makeJPEG(t, 301)

	report, err := p.ProcessEvent(context.Background(), "ev1")
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Scored) != 3 {
		t.Fatalf("scored = %v, failed = %v", report.Scored, report.Failed)
	}
	cp, _ := st.Photo("copy")
	if !cp.IsDuplicate || *cp.DuplicateOfID != "first" {
		t.Errorf("copy = duplicate %v of %v, want duplicate of first", cp.IsDuplicate, cp.DuplicateOfID)
	}
	first, _ := st.Photo("first")
	other, _ := st.Photo("other")
	if first.IsDuplicate || other.IsDuplicate {
		t.Error("non-duplicate photo flagged")
	}
	if report.Summary != "" {
		t.Errorf("Summary = %q, want empty without AI", report.Summary)
	}
}

func TestProcessEventDownloadFailureContinues(t *testing.T) {
	t.Parallel()

	src := &fakeSource{files: make(map[string][]byte)}
	p, st := newTestPipeline(t, func(c *Config) { c.Source = src })

	ok := addPhoto(st, "ok", "u1", rankBase)
	src.files[ok.StorageKey] = makeJPEG(t, 400)
	addPhoto(st, "missing", "u1", rankBase.Add(time.Second))

	report, err := p.ProcessEvent(context.Background(), "ev1")
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Scored) != 1 || report.Scored[0] != "ok" {
		t.Errorf("scored = %v", report.Scored)
	}
	if ferr := report.Failed["missing"]; !errors.Is(ferr, ErrDownload) || !IsRetryable(ferr) {
		t.Errorf("missing photo failure = %v, want retryable ErrDownload", ferr)
	}
}

func TestProcessEventRequiresSource(t *testing.T) {
	t.Parallel()

	p, _ := newTestPipeline(t, nil)
	if _, err := p.ProcessEvent(context.Background(), "ev1"); !errors.Is(err, errMissingSource) {
		t.Errorf("err = %v, want errMissingSource", err)
	}
}

func TestProcessEventCancelled(t *testing.T) {
	t.Parallel()

	src := &fakeSource{files: make(map[string][]byte)}
	p, st := newTestPipeline(t, func(c *Config) { c.Source = src })
	ph := addPhoto(st, "p1", "u1", rankBase)
	src.files[ph.StorageKey] = makeJPEG(t, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := p.ProcessEvent(ctx, "ev1")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if report == nil || len(report.Scored) != 0 {
		t.Errorf("report = %+v", report)
	}
}

func TestProcessPhotoConcurrentUploads(t *testing.T) {
	t.Parallel()

	p, st := newTestPipeline(t, nil)
	const n = 8
	data := make([][]byte, n)
	for i := range n {
		addPhoto(st, fmt.Sprintf("p%d", i), "u1", rankBase.Add(time.Duration(i)*time.Second))
		data[i] = makeJPEG(t, uint64(500+i))
	}

	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := p.ProcessPhoto(context.Background(), fmt.Sprintf("p%d", i), data[i]); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	ctx := context.Background()
	before, _ := p.Selection(ctx, "ev1", "u1")
	after, err := p.RecomputeSelection(ctx, "ev1", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(before) != DefaultMaxAutoSelections {
		t.Errorf("selection = %d rows, want %d", len(before), DefaultMaxAutoSelections)
	}
	if fmt.Sprint(selectionKeys(before)) != fmt.Sprint(selectionKeys(after)) {
		t.Errorf("racing uploads did not converge:\n%v\n%v", selectionKeys(before), selectionKeys(after))
	}
}

func TestProcessPhotoConcurrentIdenticalUploads(t *testing.T) {
	t.Parallel()

	data := makeJPEG(t, 700)
	for round := range 20 {
		p, st := newTestPipeline(t, nil)
		addPhoto(st, "a", "u1", rankBase)
		addPhoto(st, "b", "u2", rankBase.Add(time.Second))

		start := make(chan struct{})
		var wg sync.WaitGroup
		for _, id := range []string{"a", "b"} {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				<-start
				if _, err := p.ProcessPhoto(context.Background(), id, data); err != nil {
					t.Error(err)
				}
			}(id)
		}
		close(start)
		wg.Wait()

		a, _ := st.Photo("a")
		b, _ := st.Photo("b")
		if a.IsDuplicate == b.IsDuplicate {
			t.Fatalf("round %d: duplicate flags a=%v b=%v, want exactly one set", round, a.IsDuplicate, b.IsDuplicate)
		}
		dup, canonical := a, b
		if b.IsDuplicate {
			dup, canonical = b, a
		}
		if dup.DuplicateOfID == nil || *dup.DuplicateOfID != canonical.ID {
			t.Fatalf("round %d: %s duplicate of %v, want %s", round, dup.ID, dup.DuplicateOfID, canonical.ID)
		}
	}
}

// commitObservingScorer records, on every call, how many of ids already
// have a committed score.
type commitObservingScorer struct {
	st  *MemoryStore
	ids []string

	mu       sync.Mutex
	observed []int
}

func (s *commitObservingScorer) Score(context.Context, string, ImageInput) (string, error) {
	n := 0
	for _, id := range s.ids {
		if _, ok := s.st.Score(id); ok {
			n++
		}
	}
	s.mu.Lock()
	s.observed = append(s.observed, n)
	s.mu.Unlock()
	return validAnalysisJSON, nil
}

func TestProcessEventCommitsEachChunk(t *testing.T) {
	t.Parallel()

	src := &fakeSource{files: make(map[string][]byte)}
	scorer := &commitObservingScorer{}
	p, st := newTestPipeline(t, func(c *Config) {
		c.Source = src
		c.AIEnabled = true
		c.Scorer = scorer
		c.AIConcurrency = 2
	})
	scorer.st = st

	for i := range 4 {
		id := fmt.Sprintf("c%d", i)
		ph := addPhoto(st, id, "u1", rankBase.Add(time.Duration(i)*time.Second))
		src.files[ph.StorageKey] = makeJPEG(t, uint64(800+i))
		scorer.ids = append(scorer.ids, id)
	}

	report, err := p.ProcessEvent(context.Background(), "ev1")
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Scored) != 4 {
		t.Fatalf("scored = %v, failed = %v", report.Scored, report.Failed)
	}

	slices.Sort(scorer.observed)
	if fmt.Sprint(scorer.observed) != "[0 0 2 2]" {
		t.Errorf("committed scores seen by the advisor = %v, want [0 0 2 2]", scorer.observed)
	}
}

func TestProcessEventCancelledMidBatchKeepsEarlierChunks(t *testing.T) {
	t.Parallel()

	src := &fakeSource{files: make(map[string][]byte)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var done int
	p, st := newTestPipeline(t, func(c *Config) {
		c.Source = src
		c.AIConcurrency = 2
		c.OnScored = func(ScoredPhoto) {
			done++
			if done == 2 {
				cancel()
			}
		}
	})
	for i := range 4 {
		ph := addPhoto(st, fmt.Sprintf("k%d", i), "u1", rankBase.Add(time.Duration(i)*time.Second))
		src.files[ph.StorageKey] = makeJPEG(t, uint64(900+i))
	}

	report, err := p.ProcessEvent(ctx, "ev1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if fmt.Sprint(report.Scored) != "[k0 k1]" {
		t.Errorf("scored = %v, want the first chunk", report.Scored)
	}

	rest, err := p.ProcessEvent(context.Background(), "ev1")
	if err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(rest.Scored) != "[k2 k3]" {
		t.Errorf("rerun scored = %v, want the remaining chunk", rest.Scored)
	}
}
