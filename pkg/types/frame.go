package types

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"time"
)

// Frame is one captured camera image with metadata.
type Frame struct {
	Data      []byte    // JPEG encoded image
	Timestamp time.Time // Capture timestamp
	Seq       uint64    // Sequential frame number, starting at 1
	Width     int       // Frame width (0 if unknown)
	Height    int       // Frame height (0 if unknown)
	TraceID   string    // Correlates the frame across detector and logs
	Source    string    // Name of the source that produced the frame
}

// Decode decodes the JPEG payload.
func (f *Frame) Decode() (image.Image, error) {
	if len(f.Data) == 0 {
		return nil, fmt.Errorf("frame %d: empty payload", f.Seq)
	}
	img, err := jpeg.Decode(bytes.NewReader(f.Data))
	if err != nil {
		return nil, fmt.Errorf("frame %d: decode jpeg: %w", f.Seq, err)
	}
	if f.Width == 0 || f.Height == 0 {
		b := img.Bounds()
		f.Width, f.Height = b.Dx(), b.Dy()
	}
	return img, nil
}

// SourceConfig describes where frames come from.
type SourceConfig struct {
	Kind   string  `yaml:"kind"`   // synthetic, dir, mjpeg, camera
	Device string  `yaml:"device"` // V4L2 device for camera
	URL    string  `yaml:"url"`    // MJPEG stream URL
	Dir    string  `yaml:"dir"`    // JPEG directory
	FPS    float64 `yaml:"fps"`    // Target frame rate for paced sources
	Loop   bool    `yaml:"loop"`   // Restart dir source at the end
	Limit  int     `yaml:"limit"`  // Stop after this many frames (0 = unlimited)
	Width  int     `yaml:"width"`
	Height int     `yaml:"height"`
}
