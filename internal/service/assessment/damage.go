package assessment

import "image"

// Mask is one segmented region of a frame.
type Mask interface {
	// Area is the area enclosed by the mask's outer contour, in pixels.
	Area() float64
}

// TotalArea sums the contour areas of all masks.
func TotalArea(masks []Mask) float64 {
	var total float64
	for _, m := range masks {
		total += m.Area()
	}
	return total
}

// Percentage is the masked share of a frame, from 0 to 100.
// A frame without masked area is exactly 0.
func Percentage(maskedArea float64, frame image.Point) float64 {
	pixels := frame.X * frame.Y
	if maskedArea <= 0 || pixels <= 0 {
		return 0
	}
	return maskedArea / float64(pixels) * 100
}
