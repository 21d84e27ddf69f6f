package photopick

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"math"

	"github.com/disintegration/gift"
)

const (
	// maxAnalysisSide bounds the working copy used for pixel statistics.
	maxAnalysisSide = 1600

	blurSampleTarget  = 10000
	noiseSampleTarget = 5000

	// blurVarianceCeiling is the Laplacian variance treated as fully sharp.
	// Typical phone photos land between 100 and 800.
	blurVarianceCeiling = 1000.0

	idealLuminance = 127.5
)

// Weights of the basic quality composite.
const (
	weightBlur     = 0.30
	weightExposure = 0.25
	weightFaces    = 0.15
	weightEyes     = 0.10
	weightNoise    = 0.20
	faceBonus      = 0.10
)

// FaceSignals is what a FaceDetector reports for one image.
type FaceSignals struct {
	Count    int
	EyesOpen float64 // [0,1]
}

// FaceDetector is the extension point for face and eyes-open signals.
type FaceDetector interface {
	DetectFaces(ctx context.Context, img image.Image) (FaceSignals, error)
}

// NoFaceDetector reports no faces and eyes open. It is the default.
type NoFaceDetector struct{}

// DetectFaces implements FaceDetector.
func (NoFaceDetector) DetectFaces(context.Context, image.Image) (FaceSignals, error) {
	return FaceSignals{Count: 0, EyesOpen: 1}, nil
}

// BasicAnalysis holds the pixel-derived scores, each in [0,1].
type BasicAnalysis struct {
	BlurScore     float64
	ExposureScore float64
	NoiseScore    float64
	FacesDetected int
	EyesOpenScore float64
	QualityScore  float64 // weighted composite
}

// RawImage is an interleaved 8-bit pixel buffer.
type RawImage struct {
	Pix      []uint8
	Width    int
	Height   int
	Channels int
}

// NewRawImage converts img into an RGBA buffer, shrinking it to fit
// maxAnalysisSide on the long edge.
func NewRawImage(img image.Image) RawImage {
	g := gift.New()
	b := img.Bounds()
	if b.Dx() > maxAnalysisSide || b.Dy() > maxAnalysisSide {
		g.Add(gift.ResizeToFit(maxAnalysisSide, maxAnalysisSide, gift.LinearResampling))
	}
	dst := image.NewNRGBA(g.Bounds(b))
	g.Draw(dst, img)

	return RawImage{
		Pix:      dst.Pix,
		Width:    dst.Rect.Dx(),
		Height:   dst.Rect.Dy(),
		Channels: 4,
	}
}

func (r RawImage) valid() bool {
	return r.Width > 0 && r.Height > 0 && r.Channels > 0 &&
		len(r.Pix) >= r.Width*r.Height*r.Channels
}

// luminance returns the Rec. 601 luma at (x, y).
func (r RawImage) luminance(x, y int) float64 {
	i := (y*r.Width + x) * r.Channels
	if r.Channels < 3 {
		return float64(r.Pix[i])
	}
	return 0.299*float64(r.Pix[i]) + 0.587*float64(r.Pix[i+1]) + 0.114*float64(r.Pix[i+2])
}

// AnalyzeImage runs the face detector and the pixel analysis for img.
// A failing detector degrades to the NoFaceDetector signals.
func AnalyzeImage(ctx context.Context, img image.Image, detector FaceDetector) (BasicAnalysis, error) {
	faces := FaceSignals{EyesOpen: 1}
	if detector != nil {
		got, err := detector.DetectFaces(ctx, img)
		if err != nil {
			slog.WarnContext(ctx, "photopick: face detector failed, using defaults", "error", err)
		} else {
			faces = got
		}
	}
	return AnalyzePixels(NewRawImage(img), faces)
}

// AnalyzePixels computes blur, exposure and noise scores for r and combines
// them with the face signals into the basic quality score.
func AnalyzePixels(r RawImage, faces FaceSignals) (BasicAnalysis, error) {
	if !r.valid() {
		return BasicAnalysis{}, fmt.Errorf("%w: pixel buffer %dx%dx%d holds %d bytes",
			ErrDecode, r.Width, r.Height, r.Channels, len(r.Pix))
	}

	a := BasicAnalysis{
		BlurScore:     blurScore(r),
		ExposureScore: exposureScore(r),
		NoiseScore:    noiseScore(r),
		FacesDetected: max(faces.Count, 0),
		EyesOpenScore: clamp01(faces.EyesOpen),
	}
	a.QualityScore = BasicQualityScore(a)
	return a, nil
}

// BasicQualityScore is the weighted composite of the basic signals, clamped.
func BasicQualityScore(a BasicAnalysis) float64 {
	facePresence, bonus := 0.0, 0.0
	if a.FacesDetected > 0 {
		facePresence, bonus = 1, faceBonus
	}
	score := a.BlurScore*weightBlur +
		a.ExposureScore*weightExposure +
		facePresence*weightFaces +
		a.EyesOpenScore*weightEyes +
		a.NoiseScore*weightNoise +
		bonus
	return clamp01(score)
}

// blurScore is the variance of the 4-neighbour Laplacian over sampled pixels.
func blurScore(r RawImage) float64 {
	if r.Width < 3 || r.Height < 3 {
		return 0
	}
	total := r.Width * r.Height
	step := max(1, total/blurSampleTarget)

	var sum, sumSq float64
	n := 0
	for i := 0; i < total; i += step {
		x, y := i%r.Width, i/r.Width
		if x == 0 || y == 0 || x == r.Width-1 || y == r.Height-1 {
			continue
		}
		lap := 4*r.luminance(x, y) -
			r.luminance(x-1, y) - r.luminance(x+1, y) -
			r.luminance(x, y-1) - r.luminance(x, y+1)
		sum += lap
		sumSq += lap * lap
		n++
	}
	if n == 0 {
		return 0
	}
	mean := sum / float64(n)
	variance := sumSq/float64(n) - mean*mean
	return clamp01(variance / blurVarianceCeiling)
}

func exposureScore(r RawImage) float64 {
	total := r.Width * r.Height
	step := max(1, total/blurSampleTarget)

	var sum float64
	n := 0
	for i := 0; i < total; i += step {
		sum += r.luminance(i%r.Width, i/r.Width)
		n++
	}
	lum := sum / float64(n)
	return clamp01(1 - math.Abs(lum-idealLuminance)/idealLuminance)
}

// noiseScore averages neighbour luminance differences on a sparse grid.
// An image too small to compare scores 1.
func noiseScore(r RawImage) float64 {
	step := max(1, (r.Width*r.Height)/noiseSampleTarget)

	var total float64
	n := 0
	for y := 1; y < r.Height-1; y += step {
		for x := 1; x < r.Width-1; x += step {
			c := r.luminance(x, y)
			total += math.Abs(c - r.luminance(x-1, y))
			total += math.Abs(c - r.luminance(x+1, y))
			total += math.Abs(c - r.luminance(x, y-1))
			total += math.Abs(c - r.luminance(x, y+1))
			n += 4
		}
	}
	if n == 0 {
		return 1
	}
	avg := total / float64(n) / 255
	return clamp01(1 - 2*avg)
}
