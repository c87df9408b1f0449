package vision

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"time"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-weedbot/internal/log"
)

// Perception is the result of one capture and detection cycle.
type Perception struct {
	Detected bool
	Count    int
	JPEG     []byte // annotated when Detected
	At       time.Time
}

// Pipeline captures a frame, runs the detector and encodes the frame the
// operator sees.
type Pipeline struct {
	camera      *Camera
	detector    Detector
	jpegQuality int
	logger      *slog.Logger
}

// NewPipeline builds a pipeline. Quality is the JPEG quality (1-100).
func NewPipeline(camera *Camera, detector Detector, quality int) *Pipeline {
	if quality <= 0 || quality > 100 {
		quality = 80
	}
	return &Pipeline{
		camera:      camera,
		detector:    detector,
		jpegQuality: quality,
		logger:      log.Component("vision"),
	}
}

// Perceive runs one cycle. Errors are per-cycle; the caller retries.
func (p *Pipeline) Perceive(ctx context.Context) (Perception, error) {
	frame := gocv.NewMat()
	defer frame.Close()

	if err := p.camera.Read(ctx, &frame); err != nil {
		return Perception{}, err
	}
	at := time.Now()

	dets, err := p.detector.Detect(frame)
	if err != nil {
		return Perception{}, fmt.Errorf("detect: %w", err)
	}
	if len(dets) > 0 {
		p.logger.Debug("weeds detected", "count", len(dets))
		annotate(&frame, dets)
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, frame, []int{gocv.IMWriteJpegQuality, p.jpegQuality})
	if err != nil {
		return Perception{}, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()
	jpeg := append([]byte(nil), buf.GetBytes()...)

	return Perception{Detected: len(dets) > 0, Count: len(dets), JPEG: jpeg, At: at}, nil
}

// Close releases the camera and the detector.
func (p *Pipeline) Close() error {
	derr := p.detector.Close()
	cerr := p.camera.Close()
	if derr != nil {
		return derr
	}
	return cerr
}

var boxColor = color.RGBA{R: 0, G: 255, B: 0, A: 0}

func annotate(frame *gocv.Mat, dets []Detection) {
	for _, d := range dets {
		gocv.Rectangle(frame, d.Box, boxColor, 2)
		label := fmt.Sprintf("weed %.2f", d.Confidence)
		gocv.PutText(frame, label, image.Pt(d.Box.Min.X, max(d.Box.Min.Y-6, 12)), gocv.FontHersheySimplex, 0.5, boxColor, 1)
	}
}
