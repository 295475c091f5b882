// Package imaging implements the still-image inspection chain: resize, grayscale,
// threshold contours and a battery of blur, morphology and edge filters.
package imaging

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"roaddamage/internal/apperr"
	"roaddamage/internal/config"
	"roaddamage/internal/logger"
)

// Display size of the resized image. Width takes precedence.
const (
	DisplayWidth  = 275
	DisplayHeight = 180
)

const (
	PotholeDetected   = "Pothole Detected!"
	NoPotholeDetected = "No Pothole Detected!"
)

// Stage is one rendered step of the chain.
type Stage struct {
	Name  string `json:"name"`
	Title string `json:"title"`
	JPEG  []byte `json:"jpeg"`
}

// Report is the outcome of running the chain over one image.
type Report struct {
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	ContourCount    int     `json:"contourCount"`
	PotholeDetected bool    `json:"potholeDetected"`
	Message         string  `json:"message"`
	Stages          []Stage `json:"stages"`
}

var contourColor = color.RGBA{R: 0, G: 250, B: 0, A: 0}

// Chain runs the image inspection steps. It holds no per-image state.
type Chain struct {
	grayPath string
	width    int
	height   int
	logger   *logger.Logger
}

func NewChain(cfg *config.Config, logger *logger.Logger) *Chain {
	return &Chain{
		grayPath: cfg.GrayImagePath,
		width:    DisplayWidth,
		height:   DisplayHeight,
		logger:   logger,
	}
}

// Run decodes data and renders every stage as JPEG.
func (c *Chain) Run(data []byte) (*Report, error) {
	src, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, apperr.New(apperr.DecodeFailure, "decode image", err)
	}
	defer src.Close()
	if src.Empty() {
		return nil, apperr.Newf(apperr.DecodeFailure, "decoded image is empty")
	}

	report := &Report{Width: src.Cols(), Height: src.Rows()}
	stages := newStageWriter()

	stages.add("original", "Original Image", src)

	resized := Resize(src, c.width, c.height)
	defer resized.Close()
	stages.add("resized", "Resized Image", resized)

	gray, err := Grayscale(resized)
	if err != nil {
		return nil, apperr.New(apperr.DecodeFailure, "convert to grayscale", err)
	}
	defer gray.Close()
	if ok := gocv.IMWrite(c.grayPath, gray); !ok {
		return nil, apperr.Newf(apperr.IOFailure, "failed to write gray image to %s", c.grayPath)
	}
	stages.add("gray", "Grayscale Image", gray)

	contours := DetectContours(gray)
	defer contours.Close()
	report.ContourCount = contours.Size()
	report.PotholeDetected = report.ContourCount > 0

	if report.PotholeDetected {
		report.Message = PotholeDetected
		outlined := DrawContours(resized, contours)
		defer outlined.Close()
		stages.add("contours", "Contours on Image", outlined)
	} else {
		report.Message = NoPotholeDetected
	}

	filtered := Filters(gray)
	defer filtered.Close()
	for _, f := range filtered {
		stages.add(f.Name, f.Title, f.Mat)
	}

	if stages.err != nil {
		return nil, apperr.New(apperr.IOFailure, "encode stages", stages.err)
	}
	report.Stages = stages.stages

	c.logger.Info("Image %dx%d processed: %d contour(s), %s", report.Width, report.Height, report.ContourCount, report.Message)
	return report, nil
}

// Resize scales src to fit targetW/targetH with area interpolation.
func Resize(src gocv.Mat, targetW, targetH int) gocv.Mat {
	size := FitSize(src.Cols(), src.Rows(), targetW, targetH)
	dst := gocv.NewMat()
	gocv.Resize(src, &dst, size, 0, 0, gocv.InterpolationArea)
	return dst
}

// Grayscale converts a BGR image to a single channel.
func Grayscale(src gocv.Mat) (gocv.Mat, error) {
	gray := gocv.NewMat()
	if err := gocv.CvtColor(src, &gray, gocv.ColorBGRToGray); err != nil {
		gray.Close()
		return gocv.Mat{}, fmt.Errorf("failed to convert image to grayscale: %w", err)
	}
	return gray, nil
}

// DetectContours thresholds gray at 127 and returns the full contour tree.
// A uniform thresholded image has no contours.
func DetectContours(gray gocv.Mat) gocv.PointsVector {
	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(gray, &thresh, 127, 255, gocv.ThresholdBinary)

	nonZero := gocv.CountNonZero(thresh)
	if nonZero == 0 || nonZero == thresh.Rows()*thresh.Cols() {
		return gocv.NewPointsVector()
	}
	return gocv.FindContours(thresh, gocv.RetrievalTree, gocv.ChainApproxSimple)
}

// DrawContours returns a copy of img with all contours outlined.
func DrawContours(img gocv.Mat, contours gocv.PointsVector) gocv.Mat {
	outlined := img.Clone()
	gocv.DrawContours(&outlined, contours, -1, contourColor, 1)
	return outlined
}

// Filtered is one output of the filter battery.
type Filtered struct {
	Name  string
	Title string
	Mat   gocv.Mat
}

// FilterSet owns the matrices produced by Filters.
type FilterSet []Filtered

func (fs FilterSet) Close() {
	for _, f := range fs {
		f.Mat.Close()
	}
}

// Filters applies the blur, morphology and edge steps to a grayscale image.
func Filters(gray gocv.Mat) FilterSet {
	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(5, 5))
	defer kernel.Close()

	blur := gocv.NewMat()
	gocv.Blur(gray, &blur, image.Pt(5, 5))

	gblur := gocv.NewMat()
	gocv.GaussianBlur(gray, &gblur, image.Pt(5, 5), 0, 0, gocv.BorderDefault)

	median := gocv.NewMat()
	gocv.MedianBlur(gray, &median, 5)

	erosion := gocv.NewMat()
	gocv.Erode(median, &erosion, kernel)

	dilation := erosion.Clone()
	for i := 0; i < 5; i++ {
		next := gocv.NewMat()
		gocv.Dilate(dilation, &next, kernel)
		dilation.Close()
		dilation = next
	}

	closing := gocv.NewMat()
	gocv.MorphologyEx(dilation, &closing, gocv.MorphClose, kernel)

	edges := gocv.NewMat()
	gocv.Canny(dilation, &edges, 9, 220)

	return FilterSet{
		{Name: "blur", Title: "Blurred Image", Mat: blur},
		{Name: "gaussian", Title: "Gaussian Blurred Image", Mat: gblur},
		{Name: "median", Title: "Median Blurred Image", Mat: median},
		{Name: "erosion", Title: "Erosion Image", Mat: erosion},
		{Name: "dilation", Title: "Dilation Image", Mat: dilation},
		{Name: "closing", Title: "Closing Image", Mat: closing},
		{Name: "edges", Title: "Edges Image", Mat: edges},
	}
}

// stageWriter encodes stages and keeps the first encoding error.
type stageWriter struct {
	stages []Stage
	err    error
}

func newStageWriter() *stageWriter {
	return &stageWriter{}
}

func (w *stageWriter) add(name, title string, mat gocv.Mat) {
	if w.err != nil {
		return
	}
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
	if err != nil {
		w.err = fmt.Errorf("failed to encode %s: %w", name, err)
		return
	}
	defer buf.Close()

	data := make([]byte, len(buf.GetBytes()))
	copy(data, buf.GetBytes())
	w.stages = append(w.stages, Stage{Name: name, Title: title, JPEG: data})
}
