package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/pkg/types"
)

var colorBars = []color.RGBA{
	{R: 255, G: 255, B: 255, A: 255}, // White
	{R: 255, G: 255, B: 0, A: 255},   // Yellow
	{R: 0, G: 255, B: 255, A: 255},   // Cyan
	{R: 0, G: 255, B: 0, A: 255},     // Green
	{R: 255, G: 0, B: 255, A: 255},   // Magenta
	{R: 255, G: 0, B: 0, A: 255},     // Red
	{R: 0, G: 0, B: 255, A: 255},     // Blue
	{R: 0, G: 0, B: 0, A: 255},       // Black
}

// ColorBars renders the test pattern with a dark band at row offset%height.
func ColorBars(width, height, offset int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	barWidth := max(width/len(colorBars), 1)
	band := 0
	if height > 0 {
		band = offset % height
	}
	for y := 0; y < height; y++ {
		dark := y >= band && y < band+height/12
		for x := 0; x < width; x++ {
			idx := min(x/barWidth, len(colorBars)-1)
			c := colorBars[idx]
			if dark {
				c = color.RGBA{R: c.R / 3, G: c.G / 3, B: c.B / 3, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

// Synthetic generates a moving colour-bar pattern, for running without a
// camera.
type Synthetic struct {
	width, height int
	pace          *pacer
	seq           sequencer
}

// NewSynthetic creates a synthetic source.
func NewSynthetic(cfg types.SourceConfig) *Synthetic {
	w, h := cfg.Width, cfg.Height
	if w <= 0 || h <= 0 {
		w, h = 640, 480
	}
	return &Synthetic{width: w, height: h, pace: newPacer(cfg.FPS)}
}

func (s *Synthetic) Name() string { return "synthetic" }

func (s *Synthetic) Next(ctx context.Context) (*types.Frame, error) {
	if err := s.pace.wait(ctx); err != nil {
		return nil, err
	}
	n := s.seq.seq.Load()
	img := ColorBars(s.width, s.height, int(n)*8)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75}); err != nil {
		return nil, fmt.Errorf("encode synthetic frame: %w", err)
	}
	return s.seq.frame(s.Name(), buf.Bytes(), s.width, s.height), nil
}

func (s *Synthetic) Close() error { return nil }
