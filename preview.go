package photopick

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/nfnt/resize"
)

const previewQuality = 85

// EncodePreview produces the downsized JPEG sent to the AI scorer. Images
// narrower than maxWidth are re-encoded without enlargement.
func EncodePreview(img image.Image, maxWidth int) ([]byte, error) {
	if maxWidth <= 0 {
		maxWidth = defaultPreviewWidth
	}
	if img.Bounds().Dx() > maxWidth {
		img = resize.Resize(uint(maxWidth), 0, img, resize.Lanczos3)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: previewQuality}); err != nil {
		return nil, fmt.Errorf("photopick: encode preview: %w", err)
	}
	return buf.Bytes(), nil
}
