// Package store persists photos, scores and selections with gorm on SQLite
// or PostgreSQL.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	photopick "github.com/anatolykoptev/go-photopick"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var (
	errMissingDSN      = errors.New("store: dsn is required")
	errMissingDatabase = errors.New("store: database is required")
)

// Options configures Open.
type Options struct {
	Driver       string // "sqlite" (default) or "postgres"
	DSN          string // file path for sqlite, connection string for postgres
	MaxOpenConns int    // postgres only (default: 10)
	Debug        bool   // log every SQL statement
}

// Store implements photopick.Store and photopick.EventContextProvider.
type Store struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *slog.Logger
}

var (
	_ photopick.Store                = (*Store)(nil)
	_ photopick.EventContextProvider = (*Store)(nil)
)

// Open connects to the database described by opts and migrates the schema.
func Open(opts Options) (*Store, error) {
	if opts.DSN == "" {
		return nil, errMissingDSN
	}

	gormCfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	if opts.Debug {
		gormCfg.Logger = logger.Default.LogMode(logger.Info)
	}

	var dialector gorm.Dialector
	switch opts.Driver {
	case "", DriverSQLite:
		dialector = sqlite.Open(opts.DSN)
	case DriverPostgres:
		dialector = postgres.Open(opts.DSN)
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", opts.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", opts.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("store: underlying db: %w", err)
	}
	if opts.Driver == DriverPostgres {
		maxOpen := opts.MaxOpenConns
		if maxOpen <= 0 {
			maxOpen = 10
		}
		sqlDB.SetMaxOpenConns(maxOpen)
		sqlDB.SetMaxIdleConns(max(maxOpen/2, 1))
		sqlDB.SetConnMaxLifetime(time.Hour)
	} else {
		sqlDB.SetMaxOpenConns(1)
	}

	return New(db)
}

// New wraps an existing connection and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	if err := db.AutoMigrate(&eventRecord{}, &uploaderRecord{}, &photoRecord{}, &scoreRecord{}, &selectionRecord{}); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &Store{
		db:     db,
		clock:  time.Now,
		logger: slog.Default().With("component", "photopick_store"),
	}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) now() time.Time { return s.clock().UTC() }

func newID() string { return uuid.Must(uuid.NewV7()).String() }

// notFound maps gorm's missing-row error onto photopick.ErrNotFound.
func notFound(err error, what, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %s: %w", what, id, photopick.ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w", what, id, err)
}

// UpsertEvent creates or replaces an event.
func (s *Store) UpsertEvent(ctx context.Context, ev photopick.EventInfo) error {
	rec := eventRecord{ID: ev.ID, Type: string(ev.Type), Name: ev.Name, PlanTier: ev.PlanTier, CreatedAt: s.now()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"type", "name", "plan_tier"}),
	}).Create(&rec).Error
}

// UpsertUploader creates or renames an uploader.
func (s *Store) UpsertUploader(ctx context.Context, uploaderID, displayName string) error {
	rec := uploaderRecord{ID: uploaderID, DisplayName: displayName, CreatedAt: s.now()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name"}),
	}).Create(&rec).Error
}

// CreatePhoto records an accepted upload. Empty ids get a UUIDv7.
func (s *Store) CreatePhoto(ctx context.Context, ph *photopick.Photo) error {
	if ph.ID == "" {
		ph.ID = newID()
	}
	if ph.CreatedAt.IsZero() {
		ph.CreatedAt = s.now()
	}
	ph.UpdatedAt = ph.CreatedAt

	rec := photoRecord{
		ID:           ph.ID,
		EventID:      ph.EventID,
		UploaderID:   ph.UploaderID,
		StorageKey:   ph.StorageKey,
		OriginalName: ph.OriginalName,
		ByteSize:     ph.ByteSize,
		CreatedAt:    ph.CreatedAt,
		UpdatedAt:    ph.UpdatedAt,
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

// Score returns the stored score of a photo.
func (s *Store) Score(ctx context.Context, photoID string) (*photopick.QualityScore, error) {
	var rec scoreRecord
	if err := s.db.WithContext(ctx).Where("photo_id = ?", photoID).Take(&rec).Error; err != nil {
		return nil, notFound(err, "score", photoID)
	}
	sc := rec.toScore()
	return &sc, nil
}

// PinPhoto marks a photo as host-pinned in its uploader's selection,
// replacing any automatic row for it.
func (s *Store) PinPhoto(ctx context.Context, photoID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ph photoRecord
		if err := tx.Where("id = ?", photoID).Take(&ph).Error; err != nil {
			return notFound(err, "photo", photoID)
		}

		var existing selectionRecord
		err := tx.Where("event_id = ? AND uploader_id = ? AND photo_id = ?", ph.EventID, ph.UploaderID, photoID).
			Take(&existing).Error
		switch {
		case err == nil && existing.PinnedByHost:
			return nil
		case err == nil:
			if err := tx.Delete(&existing).Error; err != nil {
				return err
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		var pinned int64
		if err := tx.Model(&selectionRecord{}).
			Where("event_id = ? AND uploader_id = ? AND pinned_by_host = ?", ph.EventID, ph.UploaderID, true).
			Count(&pinned).Error; err != nil {
			return err
		}

		return tx.Create(&selectionRecord{
			ID:           newID(),
			EventID:      ph.EventID,
			UploaderID:   ph.UploaderID,
			PhotoID:      photoID,
			Rank:         int(pinned) + 1,
			PinnedByHost: true,
			CreatedAt:    s.now(),
		}).Error
	})
}

// EventContext implements photopick.EventContextProvider.
func (s *Store) EventContext(ctx context.Context, eventID, uploaderID string) (photopick.EventContext, error) {
	var ev eventRecord
	if err := s.db.WithContext(ctx).Where("id = ?", eventID).Take(&ev).Error; err != nil {
		return photopick.EventContext{}, notFound(err, "event", eventID)
	}

	out := photopick.EventContext{Event: photopick.EventInfo{
		ID:       ev.ID,
		Type:     photopick.ParseEventType(ev.Type),
		Name:     ev.Name,
		PlanTier: ev.PlanTier,
	}}

	var up uploaderRecord
	err := s.db.WithContext(ctx).Where("id = ?", uploaderID).Take(&up).Error
	switch {
	case err == nil:
		out.UploaderName = up.DisplayName
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return photopick.EventContext{}, fmt.Errorf("uploader %s: %w", uploaderID, err)
	}
	return out, nil
}

func (s *Store) GetPhoto(ctx context.Context, photoID string) (*photopick.Photo, error) {
	var rec photoRecord
	if err := s.db.WithContext(ctx).Where("id = ?", photoID).Take(&rec).Error; err != nil {
		return nil, notFound(err, "photo", photoID)
	}
	ph := rec.toPhoto()
	return &ph, nil
}

func (s *Store) PriorFingerprints(ctx context.Context, eventID, excludeID string) ([]photopick.HashedPhoto, error) {
	var rows []struct {
		ID        string
		ImageHash string
	}
	err := s.db.WithContext(ctx).
		Table("photos").
		Select("photos.id AS id, quality_scores.image_hash AS image_hash").
		Joins("JOIN quality_scores ON quality_scores.photo_id = photos.id").
		Where("photos.event_id = ? AND photos.is_duplicate = ? AND photos.id <> ?", eventID, false, excludeID).
		Order("quality_scores.created_at ASC, photos.created_at ASC, photos.id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("prior fingerprints for event %s: %w", eventID, err)
	}

	out := make([]photopick.HashedPhoto, 0, len(rows))
	for _, r := range rows {
		fp, err := photopick.ParseFingerprint(r.ImageHash)
		if err != nil {
			s.logger.Warn("photopick_store: skipping unreadable fingerprint", "photo_id", r.ID, "error", err.Error())
			continue
		}
		out = append(out, photopick.HashedPhoto{PhotoID: r.ID, Fingerprint: fp})
	}
	return out, nil
}

func (s *Store) SaveResult(ctx context.Context, photo *photopick.Photo, score *photopick.QualityScore) error {
	now := s.now()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&photoRecord{}).Where("id = ?", photo.ID).Updates(map[string]any{
			"width":           photo.Width,
			"height":          photo.Height,
			"byte_size":       photo.ByteSize,
			"is_duplicate":    photo.IsDuplicate,
			"duplicate_of_id": photo.DuplicateOfID,
			"updated_at":      now,
		})
		if res.Error != nil {
			return fmt.Errorf("update photo %s: %w", photo.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("photo %s: %w", photo.ID, photopick.ErrNotFound)
		}

		createdAt := score.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		rec := scoreRecord{
			PhotoID:          photo.ID,
			BlurScore:        score.BlurScore,
			ExposureScore:    score.ExposureScore,
			NoiseScore:       score.NoiseScore,
			FacesDetected:    score.FacesDetected,
			EyesOpenScore:    score.EyesOpenScore,
			AIAestheticScore: score.AIAestheticScore,
			AIContextScore:   score.AIContextScore,
			QualityScore:     score.QualityScore,
			ImageHash:        score.Metadata.ImageHash,
			Metadata:         datatypes.NewJSONType(score.Metadata),
			CreatedAt:        createdAt,
			UpdatedAt:        now,
		}
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "photo_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"blur_score", "exposure_score", "noise_score", "faces_detected", "eyes_open_score",
				"ai_aesthetic_score", "ai_context_score", "quality_score", "image_hash", "metadata", "updated_at",
			}),
		}).Create(&rec).Error
		if err != nil {
			return fmt.Errorf("upsert score %s: %w", photo.ID, err)
		}

		var stored scoreRecord
		if err := tx.Select("created_at", "updated_at").Where("photo_id = ?", photo.ID).Take(&stored).Error; err != nil {
			return fmt.Errorf("reload score %s: %w", photo.ID, err)
		}
		score.PhotoID = photo.ID
		score.CreatedAt, score.UpdatedAt = stored.CreatedAt, stored.UpdatedAt
		return nil
	})
}

func (s *Store) RankCandidates(ctx context.Context, eventID, uploaderID string) ([]photopick.RankCandidate, error) {
	var rows []struct {
		ID           string
		QualityScore float64
		CreatedAt    time.Time
	}
	err := s.db.WithContext(ctx).
		Table("photos").
		Select("photos.id AS id, quality_scores.quality_score AS quality_score, photos.created_at AS created_at").
		Joins("JOIN quality_scores ON quality_scores.photo_id = photos.id").
		Where("photos.event_id = ? AND photos.uploader_id = ? AND photos.is_duplicate = ?", eventID, uploaderID, false).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("rank candidates %s/%s: %w", eventID, uploaderID, err)
	}

	out := make([]photopick.RankCandidate, len(rows))
	for i, r := range rows {
		out[i] = photopick.RankCandidate{PhotoID: r.ID, Score: r.QualityScore, CreatedAt: r.CreatedAt}
	}
	return out, nil
}

func (s *Store) ReplaceAutoSelection(ctx context.Context, eventID, uploaderID string, photoIDs []string) error {
	now := s.now()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("event_id = ? AND uploader_id = ? AND pinned_by_host = ?", eventID, uploaderID, false).
			Delete(&selectionRecord{}).Error; err != nil {
			return fmt.Errorf("delete auto selection: %w", err)
		}

		var pinnedIDs []string
		if err := tx.Model(&selectionRecord{}).
			Where("event_id = ? AND uploader_id = ? AND pinned_by_host = ?", eventID, uploaderID, true).
			Pluck("photo_id", &pinnedIDs).Error; err != nil {
			return fmt.Errorf("load pinned rows: %w", err)
		}
		pinned := make(map[string]bool, len(pinnedIDs))
		for _, id := range pinnedIDs {
			pinned[id] = true
		}

		rows := make([]selectionRecord, 0, len(photoIDs))
		for _, id := range photoIDs {
			if pinned[id] {
				continue
			}
			rows = append(rows, selectionRecord{
				ID:         newID(),
				EventID:    eventID,
				UploaderID: uploaderID,
				PhotoID:    id,
				Rank:       len(rows) + 1,
				CreatedAt:  now,
			})
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("insert auto selection: %w", err)
		}
		return nil
	})
}

func (s *Store) ListSelection(ctx context.Context, eventID, uploaderID string) ([]photopick.Selection, error) {
	var recs []selectionRecord
	err := s.db.WithContext(ctx).
		Where("event_id = ? AND uploader_id = ?", eventID, uploaderID).
		Order("pinned_by_host DESC, rank ASC, created_at ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list selection %s/%s: %w", eventID, uploaderID, err)
	}

	out := make([]photopick.Selection, len(recs))
	for i, r := range recs {
		out[i] = r.toSelection()
	}
	return out, nil
}

func (s *Store) UnscoredPhotos(ctx context.Context, eventID string) ([]photopick.Photo, error) {
	var recs []photoRecord
	err := s.db.WithContext(ctx).
		Joins("LEFT JOIN quality_scores ON quality_scores.photo_id = photos.id").
		Where("photos.event_id = ? AND quality_scores.photo_id IS NULL", eventID).
		Order("photos.created_at ASC, photos.id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("unscored photos for event %s: %w", eventID, err)
	}

	out := make([]photopick.Photo, len(recs))
	for i, r := range recs {
		out[i] = r.toPhoto()
	}
	return out, nil
}

func (s *Store) EventAnalyses(ctx context.Context, eventID string) ([]photopick.AIAnalysis, error) {
	var recs []scoreRecord
	err := s.db.WithContext(ctx).
		Joins("JOIN photos ON photos.id = quality_scores.photo_id").
		Where("photos.event_id = ? AND photos.is_duplicate = ?", eventID, false).
		Order("photos.created_at ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("event analyses %s: %w", eventID, err)
	}

	var out []photopick.AIAnalysis
	for _, r := range recs {
		if a := r.Metadata.Data().AIAnalysis; a != nil {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s *Store) EventsWithUnscoredPhotos(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&photoRecord{}).
		Distinct("photos.event_id").
		Joins("LEFT JOIN quality_scores ON quality_scores.photo_id = photos.id").
		Where("quality_scores.photo_id IS NULL").
		Order("photos.event_id ASC").
		Pluck("photos.event_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("events with unscored photos: %w", err)
	}
	return ids, nil
}
