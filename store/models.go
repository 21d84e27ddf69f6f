package store

import (
	"time"

	"gorm.io/datatypes"

	photopick "github.com/anatolykoptev/go-photopick"
)

type eventRecord struct {
	ID        string    `gorm:"column:id;primaryKey;size:64"`
	Type      string    `gorm:"column:type;size:32;not null"`
	Name      string    `gorm:"column:name;size:255;not null"`
	PlanTier  string    `gorm:"column:plan_tier;size:32"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (eventRecord) TableName() string { return "events" }

type uploaderRecord struct {
	ID          string    `gorm:"column:id;primaryKey;size:64"`
	DisplayName string    `gorm:"column:display_name;size:255"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

func (uploaderRecord) TableName() string { return "uploaders" }

type photoRecord struct {
	ID            string    `gorm:"column:id;primaryKey;size:64"`
	EventID       string    `gorm:"column:event_id;size:64;not null;index:idx_photos_event_uploader,priority:1"`
	UploaderID    string    `gorm:"column:uploader_id;size:64;not null;index:idx_photos_event_uploader,priority:2"`
	StorageKey    string    `gorm:"column:storage_key;size:1024;not null"`
	OriginalName  string    `gorm:"column:original_name;size:255"`
	ByteSize      int64     `gorm:"column:byte_size"`
	Width         *int      `gorm:"column:width"`
	Height        *int      `gorm:"column:height"`
	IsDuplicate   bool      `gorm:"column:is_duplicate;not null;default:false"`
	DuplicateOfID *string   `gorm:"column:duplicate_of_id;size:64"`
	CreatedAt     time.Time `gorm:"column:created_at;index"`
	UpdatedAt     time.Time `gorm:"column:updated_at"`
}

func (photoRecord) TableName() string { return "photos" }

type scoreRecord struct {
	PhotoID          string                                      `gorm:"column:photo_id;primaryKey;size:64"`
	BlurScore        float64                                     `gorm:"column:blur_score"`
	ExposureScore    float64                                     `gorm:"column:exposure_score"`
	NoiseScore       float64                                     `gorm:"column:noise_score"`
	FacesDetected    int                                         `gorm:"column:faces_detected"`
	EyesOpenScore    float64                                     `gorm:"column:eyes_open_score"`
	AIAestheticScore *float64                                    `gorm:"column:ai_aesthetic_score"`
	AIContextScore   *float64                                    `gorm:"column:ai_context_score"`
	QualityScore     float64                                     `gorm:"column:quality_score;not null"`
	ImageHash        string                                      `gorm:"column:image_hash;size:16"`
	Metadata         datatypes.JSONType[photopick.ScoreMetadata] `gorm:"column:metadata"`
	CreatedAt        time.Time                                   `gorm:"column:created_at"`
	UpdatedAt        time.Time                                   `gorm:"column:updated_at"`
}

func (scoreRecord) TableName() string { return "quality_scores" }

type selectionRecord struct {
	ID           string    `gorm:"column:id;primaryKey;size:64"`
	EventID      string    `gorm:"column:event_id;size:64;not null;uniqueIndex:idx_selection_photo,priority:1"`
	UploaderID   string    `gorm:"column:uploader_id;size:64;not null;uniqueIndex:idx_selection_photo,priority:2"`
	PhotoID      string    `gorm:"column:photo_id;size:64;not null;uniqueIndex:idx_selection_photo,priority:3"`
	Rank         int       `gorm:"column:rank;not null"`
	PinnedByHost bool      `gorm:"column:pinned_by_host;not null;default:false"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

func (selectionRecord) TableName() string { return "selections" }

func (r photoRecord) toPhoto() photopick.Photo {
	return photopick.Photo{
		ID:            r.ID,
		EventID:       r.EventID,
		UploaderID:    r.UploaderID,
		StorageKey:    r.StorageKey,
		OriginalName:  r.OriginalName,
		ByteSize:      r.ByteSize,
		Width:         r.Width,
		Height:        r.Height,
		IsDuplicate:   r.IsDuplicate,
		DuplicateOfID: r.DuplicateOfID,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func (r scoreRecord) toScore() photopick.QualityScore {
	return photopick.QualityScore{
		PhotoID:          r.PhotoID,
		BlurScore:        r.BlurScore,
		ExposureScore:    r.ExposureScore,
		NoiseScore:       r.NoiseScore,
		FacesDetected:    r.FacesDetected,
		EyesOpenScore:    r.EyesOpenScore,
		AIAestheticScore: r.AIAestheticScore,
		AIContextScore:   r.AIContextScore,
		QualityScore:     r.QualityScore,
		Metadata:         r.Metadata.Data(),
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

func (r selectionRecord) toSelection() photopick.Selection {
	return photopick.Selection{
		ID:           r.ID,
		EventID:      r.EventID,
		UploaderID:   r.UploaderID,
		PhotoID:      r.PhotoID,
		Rank:         r.Rank,
		PinnedByHost: r.PinnedByHost,
		CreatedAt:    r.CreatedAt,
	}
}
