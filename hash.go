package photopick

import (
	"fmt"
	"image"
	"math/bits"
	"strconv"

	"github.com/corona10/goimagehash"
)

const fingerprintBits = 64

// Fingerprint is a 64-bit average hash: the image is reduced to 8x8 grayscale
// and each bit records whether that cell is brighter than the mean.
type Fingerprint uint64

// ComputeFingerprint hashes a decoded image. It never returns a zero hash in
// place of an error.
func ComputeFingerprint(img image.Image) (Fingerprint, error) {
	if img == nil {
		return 0, fmt.Errorf("%w: nil image", ErrDecode)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return 0, fmt.Errorf("%w: empty image bounds %v", ErrDecode, b)
	}

	hash, err := goimagehash.AverageHash(img)
	if err != nil {
		return 0, fmt.Errorf("%w: average hash: %v", ErrDecode, err)
	}
	return Fingerprint(hash.GetHash()), nil
}

// String returns the fingerprint as 16 lowercase hex characters.
func (f Fingerprint) String() string {
	return fmt.Sprintf("%016x", uint64(f))
}

// ParseFingerprint parses the String form back into a Fingerprint.
func ParseFingerprint(s string) (Fingerprint, error) {
	if len(s) != fingerprintBits/4 {
		return 0, fmt.Errorf("photopick: fingerprint %q: want %d hex characters", s, fingerprintBits/4)
	}
	v, err := strconv.ParseUint(s, 16, fingerprintBits)
	if err != nil {
		return 0, fmt.Errorf("photopick: fingerprint %q: %w", s, err)
	}
	return Fingerprint(v), nil
}

// Similarity returns 1 - hamming(a, b)/64, in [0,1].
func Similarity(a, b Fingerprint) float64 {
	dist := bits.OnesCount64(uint64(a ^ b))
	return 1 - float64(dist)/fingerprintBits
}
