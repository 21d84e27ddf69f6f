package photopick

import (
	"context"
	"errors"
	"fmt"
	"image"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"
)

// BatchReport is the outcome of ProcessEvent.
type BatchReport struct {
	EventID string
	Scored  []string         // photo ids committed, in processing order
	Failed  map[string]error // photo id -> *StageError
	Summary string           // optional event recap; "" when unavailable
}

// preparedPhoto is a photo after decode, hashing, analysis and dedup, ready
// for the advisor and the final commit.
type preparedPhoto struct {
	photo       Photo
	event       EventInfo
	fingerprint Fingerprint
	basic       BasicAnalysis
	exif        *ExifSummary
	img         image.Image // dropped once the preview is built
	preview     []byte      // non-nil when the photo is AI eligible
}

// ProcessPhoto runs the whole pipeline for one photo: decode, fingerprint and
// basic analysis, dedup, optional AI advice, fusion, an atomic commit of the
// photo and its score, then a selection recompute for the uploader. A failure
// before the commit aborts the run with nothing persisted; a failed recompute
// after it is returned as an error and repaired by the next run.
//
// Concurrent runs for the same event see each other once past dedup: a photo
// that is not a duplicate stays reserved until its commit, so a byte-identical
// upload racing it is flagged against it.
func (p *Pipeline) ProcessPhoto(ctx context.Context, photoID string, data []byte) (*QualityScore, error) {
	photo, err := p.cfg.Store.GetPhoto(ctx, photoID)
	if err != nil {
		return nil, storeError("load_photo", photoID, err)
	}
	if photo.ByteSize == 0 {
		photo.ByteSize = int64(len(data))
	}

	ectx, err := p.cfg.Events.EventContext(ctx, photo.EventID, photo.UploaderID)
	if err != nil {
		return nil, storeError("event_context", photoID, err)
	}

	prep, err := p.prepare(ctx, *photo, ectx.Event, data)
	if err != nil {
		return nil, err
	}

	release, err := p.claim(ctx, prep)
	if err != nil {
		return nil, err
	}
	defer release()

	var ai *AIAnalysis
	if prep.preview != nil {
		ai, _ = p.Advise(ctx, prep.event, prep.preview)
	}

	return p.finish(ctx, prep, ai)
}

// ProcessEvent scores every unscored photo of an event in chunks of
// Config.AIConcurrency. Each chunk is prepared in upload order, its
// AI-eligible photos are advised together and every photo is then fused,
// committed and ranked before the next chunk starts, so an interrupted run
// leaves earlier chunks persisted and a rerun resumes from the rest.
// Per-photo failures are recorded in the report and do not stop the batch.
// The returned error is non-nil only when the batch could not run at all or
// ctx was cancelled.
func (p *Pipeline) ProcessEvent(ctx context.Context, eventID string) (*BatchReport, error) {
	if p.cfg.Source == nil {
		return nil, errMissingSource
	}

	unlock := p.batches.lock(eventID)
	defer unlock()

	start := time.Now()
	report := &BatchReport{EventID: eventID, Failed: make(map[string]error)}

	photos, err := p.cfg.Store.UnscoredPhotos(ctx, eventID)
	if err != nil {
		return nil, storeError("unscored_photos", "", err)
	}
	if len(photos) == 0 {
		return report, nil
	}

	fail := func(photoID string, err error) {
		report.Failed[photoID] = err
		p.logger.Warn("photopick: photo failed", "event_id", eventID, "photo_id", photoID, "error", err.Error())
	}

	events := make(map[string]EventInfo)
	aiRequests := 0
	advisedBefore := false

	for chunk := range slices.Chunk(photos, p.cfg.AIConcurrency) {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		prepared, releases := p.prepareChunk(ctx, eventID, chunk, events, fail)

		var requests []AdviceRequest
		for _, prep := range prepared {
			if prep.preview != nil {
				requests = append(requests, AdviceRequest{PhotoID: prep.photo.ID, Event: prep.event, Preview: prep.preview})
			}
		}
		if len(requests) > 0 && advisedBefore && !p.pause(ctx) {
			releaseAll(releases)
			return report, ctx.Err()
		}
		advice := p.AdviseBatch(ctx, requests)
		advisedBefore = advisedBefore || len(requests) > 0
		aiRequests += len(requests)

		for i, prep := range prepared {
			if err := ctx.Err(); err != nil {
				releaseAll(releases[i:])
				return report, err
			}
			prep.preview = nil
			_, err := p.finish(ctx, prep, advice[prep.photo.ID])
			releases[i]()
			if err != nil {
				fail(prep.photo.ID, err)
				continue
			}
			report.Scored = append(report.Scored, prep.photo.ID)
		}
	}

	if len(report.Scored) > 0 && p.cfg.AIEnabled && p.cfg.Summarizer != nil {
		ev, ok := firstEvent(events)
		if ok {
			summary, err := p.SummarizeEvent(ctx, ev)
			if err != nil {
				p.logger.Warn("photopick: event summary failed", "event_id", eventID, "error", err.Error())
			}
			report.Summary = summary
		}
	}

	p.logger.Info("photopick: event batch done",
		"event_id", eventID,
		"scored", len(report.Scored),
		"failed", len(report.Failed),
		"ai_requests", aiRequests,
		"duration", time.Since(start))

	return report, nil
}

// prepareChunk fetches, prepares and claims the photos of one chunk in
// order. The returned releases match prepared index for index.
func (p *Pipeline) prepareChunk(ctx context.Context, eventID string, chunk []Photo,
	events map[string]EventInfo, fail func(string, error)) ([]*preparedPhoto, []func()) {
	prepared := make([]*preparedPhoto, 0, len(chunk))
	releases := make([]func(), 0, len(chunk))

	for _, ph := range chunk {
		ev, ok := events[ph.UploaderID]
		if !ok {
			ectx, err := p.cfg.Events.EventContext(ctx, eventID, ph.UploaderID)
			if err != nil {
				fail(ph.ID, storeError("event_context", ph.ID, err))
				continue
			}
			ev = ectx.Event
			events[ph.UploaderID] = ev
		}

		src, err := p.cfg.Source.Fetch(ctx, ph.StorageKey)
		if err != nil {
			fail(ph.ID, stageError(ErrDownload, "download", ph.ID, err))
			continue
		}
		if ph.ByteSize == 0 {
			ph.ByteSize = int64(len(src.Data))
		}

		prep, err := p.prepare(ctx, ph, ev, src.Data)
		if err != nil {
			fail(ph.ID, err)
			continue
		}
		release, err := p.claim(ctx, prep)
		if err != nil {
			fail(ph.ID, err)
			continue
		}
		prepared = append(prepared, prep)
		releases = append(releases, release)
	}
	return prepared, releases
}

func releaseAll(releases []func()) {
	for _, r := range releases {
		r()
	}
}

// prepare decodes data and computes fingerprint and basic analysis in
// parallel.
func (p *Pipeline) prepare(ctx context.Context, photo Photo, event EventInfo, data []byte) (*preparedPhoto, error) {
	img, format, err := decodeImage(data)
	if err != nil {
		return nil, stageError(ErrDecode, "decode", photo.ID, err)
	}

	var (
		fp    Fingerprint
		basic BasicAnalysis
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		f, err := ComputeFingerprint(img)
		if err != nil {
			return stageError(ErrDecode, "fingerprint", photo.ID, err)
		}
		fp = f
		return nil
	})
	g.Go(func() error {
		a, err := AnalyzeImage(gctx, img, p.cfg.FaceDetector)
		if err != nil {
			return stageError(ErrDecode, "analyze", photo.ID, err)
		}
		basic = a
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	b := img.Bounds()
	photo.Width = ptr(b.Dx())
	photo.Height = ptr(b.Dy())

	return &preparedPhoto{
		photo:       photo,
		event:       event,
		fingerprint: fp,
		basic:       basic,
		exif:        ExtractExifSummary(data, format),
		img:         img,
	}, nil
}

// claim runs dedup for prep against committed photos of the event and the
// ones other runs hold in flight, then reserves prep if it is not a
// duplicate. The read, the check and the reservation happen under one
// per-event lock. AI-eligible photos get their advisor preview here. The
// caller must call release once prep is committed or abandoned.
func (p *Pipeline) claim(ctx context.Context, prep *preparedPhoto) (release func(), err error) {
	photo := &prep.photo

	unlock := p.dedup.lock(photo.EventID)
	prior, err := p.cfg.Store.PriorFingerprints(ctx, photo.EventID, photo.ID)
	if err != nil {
		unlock()
		return nil, storeError("prior_fingerprints", photo.ID, err)
	}
	prior = append(prior, p.inflight.list(photo.EventID, photo.ID)...)

	photo.IsDuplicate = false
	photo.DuplicateOfID = nil
	if match, ok := FindDuplicate(prep.fingerprint, prior, p.cfg.DuplicateThreshold); ok {
		photo.IsDuplicate = true
		photo.DuplicateOfID = ptr(match.PhotoID)
		p.logger.Debug("photopick: duplicate detected",
			"photo_id", photo.ID, "duplicate_of", match.PhotoID, "similarity", match.Similarity)
	} else {
		p.inflight.add(photo.EventID, HashedPhoto{PhotoID: photo.ID, Fingerprint: prep.fingerprint})
	}
	unlock()

	release = func() {}
	if !photo.IsDuplicate {
		eventID, photoID := photo.EventID, photo.ID
		release = func() {
			unlock := p.dedup.lock(eventID)
			p.inflight.remove(eventID, photoID)
			unlock()
		}
	}

	img := prep.img
	prep.img = nil
	if p.ShouldUseAI(photo.IsDuplicate, prep.event.PlanTier) {
		preview, err := EncodePreview(img, p.cfg.PreviewWidth)
		if err != nil {
			p.logger.Warn("photopick: preview encode failed, skipping AI", "photo_id", photo.ID, "error", err.Error())
		} else {
			prep.preview = preview
		}
	}

	return release, nil
}

// finish fuses the signals, commits photo and score atomically and
// recomputes the uploader's selection.
func (p *Pipeline) finish(ctx context.Context, prep *preparedPhoto, ai *AIAnalysis) (*QualityScore, error) {
	assessment := AssessScore(prep.basic, ai)

	score := &QualityScore{
		PhotoID:       prep.photo.ID,
		BlurScore:     prep.basic.BlurScore,
		ExposureScore: prep.basic.ExposureScore,
		NoiseScore:    prep.basic.NoiseScore,
		FacesDetected: prep.basic.FacesDetected,
		EyesOpenScore: prep.basic.EyesOpenScore,
		QualityScore:  assessment.Score,
		Metadata: ScoreMetadata{
			ImageHash:   prep.fingerprint.String(),
			AIAnalysis:  ai,
			EXIF:        prep.exif,
			ProcessedAt: p.cfg.Clock(),
		},
	}
	if ai != nil {
		score.AIAestheticScore = ptr(clamp01(ai.AestheticScore / 10))
		score.AIContextScore = ptr(clamp01(ai.ContextScore / 10))
	}

	photo := prep.photo
	if err := p.cfg.Store.SaveResult(ctx, &photo, score); err != nil {
		return nil, storeError("save_result", photo.ID, err)
	}

	if _, err := p.RecomputeSelection(ctx, photo.EventID, photo.UploaderID); err != nil {
		var se *StageError
		if errors.As(err, &se) {
			se.PhotoID = photo.ID
		}
		return nil, fmt.Errorf("score saved, selection not updated: %w", err)
	}

	p.logger.Debug("photopick: photo scored",
		"photo_id", photo.ID, "score", score.QualityScore, "ai", assessment.AIUsed, "duplicate", photo.IsDuplicate)

	if p.cfg.OnScored != nil {
		p.cfg.OnScored(ScoredPhoto{
			PhotoID:    photo.ID,
			EventID:    photo.EventID,
			UploaderID: photo.UploaderID,
			Score:      score.QualityScore,
			Duplicate:  photo.IsDuplicate,
			AIUsed:     assessment.AIUsed,
		})
	}
	return score, nil
}

// firstEvent returns any event info from the map; all entries share the event.
func firstEvent(m map[string]EventInfo) (EventInfo, bool) {
	for _, ev := range m {
		return ev, true
	}
	return EventInfo{}, false
}
