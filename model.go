package photopick

import (
	"strings"
	"time"
)

// EventType is the closed set of event categories the advisor understands.
type EventType string

const (
	EventWedding     EventType = "WEDDING"
	EventQuinceanera EventType = "QUINCEANERA"
	EventBaptism     EventType = "BAPTISM"
	EventBirthday    EventType = "BIRTHDAY"
	EventReligious   EventType = "RELIGIOUS"
	EventOther       EventType = "OTHER"
)

// ParseEventType maps free text onto EventType. Unknown values become EventOther.
func ParseEventType(s string) EventType {
	switch t := EventType(strings.ToUpper(strings.TrimSpace(s))); t {
	case EventWedding, EventQuinceanera, EventBaptism, EventBirthday, EventReligious:
		return t
	default:
		return EventOther
	}
}

// Label returns the human wording used in advisor prompts.
func (t EventType) Label() string {
	switch t {
	case EventWedding:
		return "wedding"
	case EventQuinceanera:
		return "quinceañera"
	case EventBaptism:
		return "baptism"
	case EventBirthday:
		return "birthday party"
	case EventReligious:
		return "religious ceremony"
	default:
		return "celebration"
	}
}

// EventInfo is the event context needed by the advisor and eligibility checks.
type EventInfo struct {
	ID       string
	Type     EventType
	Name     string
	PlanTier string
}

// EventContext is what an EventContextProvider returns for (event, uploader).
type EventContext struct {
	Event        EventInfo
	UploaderName string // used for public watermarked variants, outside this package
}

// Photo is one uploaded image.
type Photo struct {
	ID            string
	EventID       string
	UploaderID    string
	StorageKey    string
	OriginalName  string
	ByteSize      int64
	Width         *int // nil until analyzed
	Height        *int
	IsDuplicate   bool
	DuplicateOfID *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// QualityScore is the one-per-photo score record. Reprocessing replaces it.
type QualityScore struct {
	PhotoID          string
	BlurScore        float64
	ExposureScore    float64
	NoiseScore       float64
	FacesDetected    int
	EyesOpenScore    float64
	AIAestheticScore *float64 // nil when the advisor was unavailable
	AIContextScore   *float64
	QualityScore     float64 // fused score used for ranking
	Metadata         ScoreMetadata
	CreatedAt        time.Time // first time the photo was scored
	UpdatedAt        time.Time
}

// ScoreMetadata is the loosely structured bag stored with every score.
// Only deduplication and diagnostics read it.
type ScoreMetadata struct {
	ImageHash   string       `json:"imageHash"`
	AIAnalysis  *AIAnalysis  `json:"aiAnalysis,omitempty"`
	EXIF        *ExifSummary `json:"exif,omitempty"`
	ProcessedAt time.Time    `json:"processedAt"`
}

// Selection is a ranked membership of a photo in an uploader's Top-N.
type Selection struct {
	ID           string
	EventID      string
	UploaderID   string
	PhotoID      string
	Rank         int
	PinnedByHost bool
	CreatedAt    time.Time
}
