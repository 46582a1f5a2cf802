package similarity

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder

	"github.com/corona10/goimagehash"
)

// hashBits is the size of a perception hash.
const hashBits = 64

// PerceptualScorer compares images locally by pHash Hamming distance.
// score = 1 - distance/64.
type PerceptualScorer struct{}

func NewPerceptualScorer() *PerceptualScorer {
	return &PerceptualScorer{}
}

func (s *PerceptualScorer) Compare(ctx context.Context, presented, reference []byte) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, NewError(ErrorTimeout, "phash", "context done", err)
	}
	a, err := perceptionHash(presented)
	if err != nil {
		return 0, NewError(ErrorInvalidImage, "phash", "presented image", err)
	}
	b, err := perceptionHash(reference)
	if err != nil {
		return 0, NewError(ErrorInvalidImage, "phash", "reference image", err)
	}
	distance, err := a.Distance(b)
	if err != nil {
		return 0, NewError(ErrorInternal, "phash", "hash distance", err)
	}
	return normalizeScore("phash", 1-float64(distance)/hashBits)
}

func perceptionHash(data []byte) (*goimagehash.ImageHash, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return goimagehash.PerceptionHash(img)
}

var _ Scorer = (*PerceptualScorer)(nil)
