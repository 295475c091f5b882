package imaging

import (
	"image"
	"math"
)

// FitSize returns the aspect-preserving size for a w x h image.
// A non-zero targetW wins over targetH; the other side is rounded to the nearest pixel and
// is at least 1. With both targets zero the source size is returned.
func FitSize(w, h, targetW, targetH int) image.Point {
	if w <= 0 || h <= 0 || (targetW <= 0 && targetH <= 0) {
		return image.Pt(w, h)
	}

	if targetW > 0 {
		ratio := float64(targetW) / float64(w)
		return image.Pt(targetW, atLeastOne(math.Round(float64(h)*ratio)))
	}

	ratio := float64(targetH) / float64(h)
	return image.Pt(atLeastOne(math.Round(float64(w)*ratio)), targetH)
}

func atLeastOne(v float64) int {
	if v < 1 {
		return 1
	}
	return int(v)
}
