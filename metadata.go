package photopick

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/bep/imagemeta"
)

// ExifSummary is the small slice of EXIF kept for diagnostics in ScoreMetadata.
type ExifSummary struct {
	CameraMake  string `json:"cameraMake,omitempty"`
	CameraModel string `json:"cameraModel,omitempty"`
	TakenAt     string `json:"takenAt,omitempty"` // EXIF "2006:01:02 15:04:05" form
	Orientation int    `json:"orientation,omitempty"`
}

// wantedExifTags lists the EXIF tags copied into ExifSummary.
var wantedExifTags = map[string]bool{
	"Make":             true,
	"Model":            true,
	"DateTimeOriginal": true,
	"Orientation":      true,
}

// exifFormats maps image.Decode format names onto imagemeta formats.
var exifFormats = map[string]imagemeta.ImageFormat{
	"jpeg": imagemeta.JPEG,
	"png":  imagemeta.PNG,
	"tiff": imagemeta.TIFF,
	"webp": imagemeta.WebP,
}

// ExtractExifSummary parses EXIF from raw image bytes. format is the name
// reported by image.Decode. Returns nil when the format carries no EXIF, the
// data cannot be parsed or no wanted tag is present. Never returns an error.
func ExtractExifSummary(data []byte, format string) *ExifSummary {
	if len(data) == 0 {
		return nil
	}
	imgFormat, ok := exifFormats[format]
	if !ok {
		return nil
	}

	sum := &ExifSummary{}
	found := false

	_, err := imagemeta.Decode(imagemeta.Options{
		R:           bytes.NewReader(data),
		ImageFormat: imgFormat,
		Sources:     imagemeta.EXIF,
		ShouldHandleTag: func(ti imagemeta.TagInfo) bool {
			return ti.Source == imagemeta.EXIF && wantedExifTags[ti.Tag]
		},
		HandleTag: func(ti imagemeta.TagInfo) error {
			handleExifTag(sum, ti, &found)
			return nil
		},
	})

	if err != nil || !found {
		return nil
	}
	return sum
}

func handleExifTag(sum *ExifSummary, ti imagemeta.TagInfo, found *bool) {
	switch ti.Tag {
	case "Make":
		sum.CameraMake = tagValueString(ti.Value)
		*found = *found || sum.CameraMake != ""
	case "Model":
		sum.CameraModel = tagValueString(ti.Value)
		*found = *found || sum.CameraModel != ""
	case "DateTimeOriginal":
		sum.TakenAt = tagValueString(ti.Value)
		*found = *found || sum.TakenAt != ""
	case "Orientation":
		if n, ok := tagValueInt(ti.Value); ok {
			sum.Orientation = n
			*found = true
		}
	}
}

// tagValueString extracts a trimmed string from a tag value.
// Values may be string or []string (from altList/seqList).
func tagValueString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(strings.TrimRight(val, "\x00"))
	case []string:
		if len(val) > 0 {
			return strings.TrimSpace(val[0])
		}
		return ""
	case []any:
		if len(val) > 0 {
			if s, ok := val[0].(string); ok {
				return strings.TrimSpace(s)
			}
		}
		return ""
	case fmt.Stringer:
		return val.String()
	default:
		return ""
	}
}

func tagValueInt(v any) (int, bool) {
	switch val := v.(type) {
	case int:
		return val, true
	case uint16:
		return int(val), true
	case uint32:
		return int(val), true
	case int64:
		return int(val), true
	case uint64:
		return int(val), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(val))
		return n, err == nil
	case []uint16:
		if len(val) > 0 {
			return int(val[0]), true
		}
	}
	return 0, false
}
