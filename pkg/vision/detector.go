// Package vision turns camera frames into a weed/no-weed signal and an
// annotated JPEG for the operator stream.
package vision

import (
	"image"

	"gocv.io/x/gocv"
)

// Detection is one object found in a frame, in frame pixels.
type Detection struct {
	Box        image.Rectangle
	Confidence float32
	ClassID    int
}

// Detector finds objects in a BGR frame.
type Detector interface {
	Detect(frame gocv.Mat) ([]Detection, error)
	Close() error
}
