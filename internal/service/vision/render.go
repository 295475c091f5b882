package vision

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"roaddamage/internal/service/assessment"
)

// DamageLabel formats the smoothed damage figure drawn on each frame.
const DamageLabel = "Road Damage: %.2f%%"

var (
	red   = color.RGBA{R: 255, G: 0, B: 0, A: 0}
	white = color.RGBA{R: 255, G: 255, B: 255, A: 0}

	maskPalette = []color.RGBA{
		{R: 255, G: 56, B: 56},
		{R: 255, G: 157, B: 151},
		{R: 255, G: 112, B: 31},
		{R: 255, G: 178, B: 29},
		{R: 207, G: 210, B: 49},
		{R: 72, G: 249, B: 10},
	}
)

// Overlay returns a copy of frame with every mask filled in its class color, blended at alpha.
func Overlay(frame gocv.Mat, masks []*Mask, alpha float64) (gocv.Mat, error) {
	if frame.Empty() {
		return gocv.Mat{}, fmt.Errorf("frame is empty")
	}
	out := frame.Clone()
	if len(masks) == 0 {
		return out, nil
	}

	colored := frame.Clone()
	defer colored.Close()
	for _, m := range masks {
		c := maskPalette[m.Class%len(maskPalette)]
		solid := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(float64(c.B), float64(c.G), float64(c.R), 0), frame.Rows(), frame.Cols(), frame.Type())
		solid.CopyToWithMask(&colored, m.Mat)
		solid.Close()
	}

	gocv.AddWeighted(frame, 1-alpha, colored, alpha, 0, &out)
	return out, nil
}

// Annotator draws the damage banner: a thick red bar with the smoothed percentage on top.
type Annotator struct{}

func (Annotator) Annotate(frame assessment.Frame, smoothed float64) error {
	mat, err := matOf(frame)
	if err != nil {
		return err
	}

	if err := gocv.Line(&mat, image.Pt(40, 70), image.Pt(390, 70), red, 40); err != nil {
		return fmt.Errorf("failed to draw banner: %w", err)
	}

	text := fmt.Sprintf(DamageLabel, smoothed)
	if err := gocv.PutTextWithParams(&mat, text, image.Pt(40, 80), gocv.FontHersheySimplex, 1, white, 2, gocv.LineAA, false); err != nil {
		return fmt.Errorf("failed to draw text: %w", err)
	}
	return nil
}
