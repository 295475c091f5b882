package vision

import (
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"math"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"roaddamage/internal/config"
	"roaddamage/internal/logger"
	"roaddamage/internal/service/assessment"
	"roaddamage/internal/service/segment"
)

// OverlayAlpha is the opacity of the colored mask overlay.
const OverlayAlpha = 0.5

// Segmenter runs a YOLOv8 segmentation network exported to ONNX.
type Segmenter struct {
	net        gocv.Net
	outputs    []string
	inputSize  int
	confidence float32
	nms        float32
	agnostic   bool
	logger     *logger.Logger

	mu sync.Mutex
}

// NewSegmenter loads the network at modelPath.
func NewSegmenter(modelPath string, cfg *config.Config, logger *logger.Logger) (*Segmenter, error) {
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", modelPath)
	}

	net := gocv.ReadNetFromONNX(modelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load network from %s", modelPath)
	}

	errBackend := net.SetPreferableBackend(gocv.NetBackendDefault)
	errTarget := net.SetPreferableTarget(gocv.NetTargetCPU)
	if errBackend != nil || errTarget != nil {
		net.Close()
		return nil, fmt.Errorf("failed to set preferable backend or target")
	}

	s := &Segmenter{
		net:        net,
		outputs:    outputLayers(net),
		inputSize:  cfg.InferenceSize,
		confidence: float32(cfg.Confidence),
		nms:        float32(cfg.NMSThreshold),
		agnostic:   cfg.NMSAgnostic,
		logger:     logger,
	}
	logger.Info("Segmentation network loaded from %s (outputs %v)", modelPath, s.outputs)
	return s, nil
}

// Loader returns an assessment.ModelLoader producing Segmenters configured from cfg.
func Loader(cfg *config.Config, logger *logger.Logger) assessment.ModelLoader {
	return func(path string) (assessment.Model, error) {
		s, err := NewSegmenter(path, cfg, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Predict segments one frame. The frame must stay open until the prediction is closed.
func (s *Segmenter) Predict(ctx context.Context, frame assessment.Frame) (assessment.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mat, err := matOf(frame)
	if err != nil {
		return nil, err
	}

	size := frame.Size()
	side, scale := segment.LetterboxScale(size, s.inputSize)

	// pad to a square anchored top-left so boxes only need scaling back
	square := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(114, 114, 114, 0), side, side, mat.Type())
	defer square.Close()
	roi := square.Region(image.Rect(0, 0, size.X, size.Y))
	mat.CopyTo(&roi)
	roi.Close()

	blob := gocv.BlobFromImage(square, 1.0/255.0, image.Pt(s.inputSize, s.inputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.net.SetInput(blob, "")
	outputs := s.net.ForwardLayers(s.outputs)
	defer func() {
		for i := range outputs {
			outputs[i].Close()
		}
	}()

	detections, protos, err := splitOutputs(outputs)
	if err != nil {
		return nil, err
	}

	layout, err := segment.LayoutFromShapes(detections.Size(), protos.Size())
	if err != nil {
		return nil, err
	}
	detData, err := detections.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("failed to read detection tensor: %w", err)
	}
	protoData, err := protos.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("failed to read prototype tensor: %w", err)
	}

	candidates, err := segment.Decode(detData, layout, s.confidence, scale, size)
	if err != nil {
		return nil, err
	}
	kept := s.suppress(candidates)

	p := &prediction{frame: mat}
	for _, c := range kept {
		m, err := s.buildMask(c, protoData, layout, scale, side, size)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.masks = append(p.masks, m)
	}
	return p, nil
}

// suppress applies non-maximum suppression within each class, or across all
// candidates when the segmenter is class agnostic.
func (s *Segmenter) suppress(candidates []segment.Candidate) []segment.Candidate {
	if len(candidates) == 0 {
		return nil
	}
	boxes := segment.SuppressionBoxes(candidates, s.agnostic)
	scores := make([]float32, len(candidates))
	for i, c := range candidates {
		scores[i] = c.Score
	}

	indices := gocv.NMSBoxes(boxes, scores, s.confidence, s.nms)
	kept := make([]segment.Candidate, 0, len(indices))
	for _, i := range indices {
		if i >= 0 && i < len(candidates) {
			kept = append(kept, candidates[i])
		}
	}
	return kept
}

// buildMask upsamples the candidate's logits to the padded square, crops the frame area
// and binarizes at zero.
func (s *Segmenter) buildMask(c segment.Candidate, protos []float32, l segment.Layout, scale float64, side int, size image.Point) (*Mask, error) {
	logits, err := segment.MaskLogits(c, protos, l, scale, s.inputSize)
	if err != nil {
		return nil, err
	}

	grid, err := gocv.NewMatFromBytes(l.ProtoH, l.ProtoW, gocv.MatTypeCV32F, float32Bytes(logits))
	if err != nil {
		return nil, fmt.Errorf("failed to build mask grid: %w", err)
	}
	defer grid.Close()

	upsampled := gocv.NewMat()
	defer upsampled.Close()
	gocv.Resize(grid, &upsampled, image.Pt(side, side), 0, 0, gocv.InterpolationLinear)

	region := upsampled.Region(image.Rect(0, 0, size.X, size.Y))
	defer region.Close()

	binarized := gocv.NewMat()
	defer binarized.Close()
	gocv.Threshold(region, &binarized, 0, 255, gocv.ThresholdBinary)

	mask := gocv.NewMat()
	binarized.ConvertTo(&mask, gocv.MatTypeCV8U)

	return &Mask{
		Class: c.Class,
		Score: c.Score,
		Box:   c.Box,
		Mat:   mask,
		area:  outerContourArea(mask),
	}, nil
}

func (s *Segmenter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.net.Close()
}

// outerContourArea is the area of the first external contour of a binary mask.
func outerContourArea(mask gocv.Mat) float64 {
	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()
	if contours.Size() == 0 {
		return 0
	}
	return gocv.ContourArea(contours.At(0))
}

// splitOutputs tells the detection tensor (3 dims) from the prototype tensor (4 dims).
func splitOutputs(outputs []gocv.Mat) (detections, protos gocv.Mat, err error) {
	var haveDet, haveProto bool
	for _, o := range outputs {
		switch len(o.Size()) {
		case 3:
			detections, haveDet = o, true
		case 4:
			protos, haveProto = o, true
		}
	}
	if !haveDet || !haveProto {
		return gocv.Mat{}, gocv.Mat{}, fmt.Errorf("model is not a segmentation model: got %d output(s)", len(outputs))
	}
	return detections, protos, nil
}

// outputLayers returns the names of the network's unconnected output layers.
func outputLayers(net gocv.Net) []string {
	layerNames := net.GetLayerNames()
	unconnected := net.GetUnconnectedOutLayers()

	var names []string
	for _, i := range unconnected {
		if i-1 >= 0 && i-1 < len(layerNames) {
			names = append(names, layerNames[i-1])
		}
	}
	return names
}

func float32Bytes(values []float32) []byte {
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

// Mask is one binarized instance mask at frame resolution.
type Mask struct {
	Class int
	Score float32
	Box   image.Rectangle
	Mat   gocv.Mat
	area  float64
}

func (m *Mask) Area() float64 {
	return m.area
}

type prediction struct {
	frame gocv.Mat
	masks []*Mask
}

func (p *prediction) Masks() []assessment.Mask {
	masks := make([]assessment.Mask, len(p.masks))
	for i, m := range p.masks {
		masks[i] = m
	}
	return masks
}

func (p *prediction) Render() (assessment.Frame, error) {
	out, err := Overlay(p.frame, p.masks, OverlayAlpha)
	if err != nil {
		return nil, err
	}
	return NewMatFrame(out), nil
}

func (p *prediction) Close() error {
	for _, m := range p.masks {
		m.Mat.Close()
	}
	p.masks = nil
	return nil
}
