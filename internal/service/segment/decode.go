// Package segment decodes the raw tensors of a YOLOv8 segmentation head.
//
// output0 is laid out as [1, 4+classes+maskDim, anchors]: for every anchor a box in
// center form (cx, cy, w, h) at network input scale, one score per class and the mask
// coefficients. output1 holds the prototype masks as [1, maskDim, protoH, protoW].
package segment

import (
	"fmt"
	"image"
	"math"
)

// MaskFloor is the logit written outside a candidate's box, so binarizing at zero drops it.
const MaskFloor = float32(-1)

// Layout describes the dimensions of both output tensors.
type Layout struct {
	Classes int
	MaskDim int
	Anchors int
	ProtoH  int
	ProtoW  int
}

// Channels is the number of rows per anchor in output0.
func (l Layout) Channels() int {
	return 4 + l.Classes + l.MaskDim
}

// LayoutFromShapes validates the two tensor shapes and derives the layout.
func LayoutFromShapes(detections, protos []int) (Layout, error) {
	if len(detections) != 3 || detections[0] != 1 {
		return Layout{}, fmt.Errorf("unexpected detection tensor shape %v", detections)
	}
	if len(protos) != 4 || protos[0] != 1 {
		return Layout{}, fmt.Errorf("unexpected prototype tensor shape %v", protos)
	}

	l := Layout{
		MaskDim: protos[1],
		ProtoH:  protos[2],
		ProtoW:  protos[3],
		Anchors: detections[2],
	}
	l.Classes = detections[1] - 4 - l.MaskDim
	if l.Classes < 1 {
		return Layout{}, fmt.Errorf("detection tensor has %d rows, need more than %d", detections[1], 4+l.MaskDim)
	}
	return l, nil
}

// Candidate is one anchor that passed the confidence threshold.
type Candidate struct {
	// Box is in frame pixels, clipped to the frame.
	Box    image.Rectangle
	Score  float32
	Class  int
	Coeffs []float32
}

// SuppressionBoxes returns the boxes to run non-maximum suppression over, index aligned
// with candidates. Unless agnostic, every class is shifted into its own band past the
// largest coordinate, so boxes of different classes never overlap and only boxes of the
// same class suppress each other.
func SuppressionBoxes(candidates []Candidate, agnostic bool) []image.Rectangle {
	boxes := make([]image.Rectangle, len(candidates))
	band := 0
	if !agnostic {
		for _, c := range candidates {
			band = max(band, c.Box.Max.X, c.Box.Max.Y)
		}
		band++
	}
	for i, c := range candidates {
		shift := c.Class * band
		boxes[i] = c.Box.Add(image.Pt(shift, shift))
	}
	return boxes
}

// Decode returns every anchor whose best class score exceeds confidence.
// scale maps network input pixels back to frame pixels (frame side / input side).
func Decode(output []float32, l Layout, confidence float32, scale float64, frame image.Point) ([]Candidate, error) {
	if want := l.Channels() * l.Anchors; len(output) < want {
		return nil, fmt.Errorf("detection tensor has %d values, want %d", len(output), want)
	}

	at := func(row, anchor int) float32 {
		return output[row*l.Anchors+anchor]
	}
	bounds := image.Rectangle{Max: frame}

	var candidates []Candidate
	for a := 0; a < l.Anchors; a++ {
		best, class := float32(0), -1
		for c := 0; c < l.Classes; c++ {
			if s := at(4+c, a); s > best {
				best, class = s, c
			}
		}
		if class < 0 || best <= confidence {
			continue
		}

		cx, cy := float64(at(0, a)), float64(at(1, a))
		w, h := float64(at(2, a)), float64(at(3, a))
		box := image.Rect(
			int(math.Round((cx-w/2)*scale)),
			int(math.Round((cy-h/2)*scale)),
			int(math.Round((cx+w/2)*scale)),
			int(math.Round((cy+h/2)*scale)),
		).Intersect(bounds)
		if box.Empty() {
			continue
		}

		coeffs := make([]float32, l.MaskDim)
		for k := range coeffs {
			coeffs[k] = at(4+l.Classes+k, a)
		}

		candidates = append(candidates, Candidate{
			Box:    box,
			Score:  best,
			Class:  class,
			Coeffs: coeffs,
		})
	}
	return candidates, nil
}

// MaskLogits combines the candidate's coefficients with the prototypes into a
// protoH x protoW logit grid (row-major). Cells outside the candidate's box are MaskFloor.
// inputSize is the square network input side the prototypes cover.
func MaskLogits(c Candidate, protos []float32, l Layout, scale float64, inputSize int) ([]float32, error) {
	plane := l.ProtoH * l.ProtoW
	if len(protos) < l.MaskDim*plane {
		return nil, fmt.Errorf("prototype tensor has %d values, want %d", len(protos), l.MaskDim*plane)
	}
	if len(c.Coeffs) != l.MaskDim {
		return nil, fmt.Errorf("candidate has %d mask coefficients, want %d", len(c.Coeffs), l.MaskDim)
	}

	crop := ProtoBox(c.Box, l, scale, inputSize)
	logits := make([]float32, plane)
	for y := 0; y < l.ProtoH; y++ {
		for x := 0; x < l.ProtoW; x++ {
			i := y*l.ProtoW + x
			if !image.Pt(x, y).In(crop) {
				logits[i] = MaskFloor
				continue
			}
			var sum float32
			for k, coeff := range c.Coeffs {
				sum += coeff * protos[k*plane+i]
			}
			logits[i] = sum
		}
	}
	return logits, nil
}

// ProtoBox maps a frame-pixel box onto the prototype grid.
func ProtoBox(box image.Rectangle, l Layout, scale float64, inputSize int) image.Rectangle {
	if scale <= 0 || inputSize <= 0 {
		return image.Rectangle{}
	}
	fx := float64(l.ProtoW) / float64(inputSize) / scale
	fy := float64(l.ProtoH) / float64(inputSize) / scale
	return image.Rect(
		int(math.Floor(float64(box.Min.X)*fx)),
		int(math.Floor(float64(box.Min.Y)*fy)),
		int(math.Ceil(float64(box.Max.X)*fx)),
		int(math.Ceil(float64(box.Max.Y)*fy)),
	).Intersect(image.Rect(0, 0, l.ProtoW, l.ProtoH))
}

// LetterboxScale returns the side of the square a frame is padded to and the factor
// from network input pixels to frame pixels.
func LetterboxScale(frame image.Point, inputSize int) (side int, scale float64) {
	side = frame.X
	if frame.Y > side {
		side = frame.Y
	}
	if inputSize <= 0 {
		return side, 0
	}
	return side, float64(side) / float64(inputSize)
}
