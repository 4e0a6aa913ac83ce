// Package detector counts people in frames.
//
// Detection itself runs outside this module: Process drives an external
// worker (typically a YOLO script) over a JSON-lines pipe, and Scripted
// replays a fixed sequence of counts for demos and tests.
package detector

import (
	"context"
	"errors"
	"image"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/pkg/types"
)

const (
	// PersonClassID is the COCO class id for "person".
	PersonClassID = 0
	// PersonClassName is the COCO class name for "person".
	PersonClassName = "person"
	// UnknownClassID marks a detection whose worker sent no class id.
	UnknownClassID = -1
)

var (
	// ErrClosed is returned by Detect after Close or once the worker exited.
	ErrClosed = errors.New("detector closed")
	// ErrTimeout is returned when the worker does not answer in time.
	ErrTimeout = errors.New("detector timeout")
)

// Detector finds objects in a frame.
type Detector interface {
	Detect(ctx context.Context, frame *types.Frame) (Result, error)
	Close() error
}

// Detection is one bounding box reported by the detector.
type Detection struct {
	ClassID    int
	ClassName  string
	Confidence float64
	BBox       image.Rectangle
}

// IsPerson reports whether the detection is of the person class. A class
// name, when present, decides; otherwise the class id does.
func (d Detection) IsPerson() bool {
	if d.ClassName != "" {
		return d.ClassName == PersonClassName
	}
	return d.ClassID == PersonClassID
}

// Timing is the worker-reported inference breakdown.
type Timing struct {
	TotalMS     float64 `json:"total_ms"`
	InferenceMS float64 `json:"inference_ms"`
}

// Result is the outcome of one Detect call.
type Result struct {
	Detections []Detection
	Timing     Timing
	Latency    time.Duration
}

// PersonCount returns the number of person detections.
func (r Result) PersonCount() int {
	n := 0
	for _, d := range r.Detections {
		if d.IsPerson() {
			n++
		}
	}
	return n
}

// People returns the person detections.
func (r Result) People() []Detection {
	out := make([]Detection, 0, len(r.Detections))
	for _, d := range r.Detections {
		if d.IsPerson() {
			out = append(out, d)
		}
	}
	return out
}
