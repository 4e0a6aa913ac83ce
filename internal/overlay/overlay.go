// Package overlay draws detections and monitor status onto frames.
package overlay

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"strconv"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/internal/detector"
	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/internal/occupancy"
	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/pkg/types"
)

const (
	AlertTitle   = "SECURITY ALERT:"
	AlertMessage = "Potential Video Spoofing Detected!"
	TamperBanner = "SECURITY ALERT: MODEL TAMPERED"

	DefaultQuality = 80
)

var (
	colorRed   = color.RGBA{R: 255, A: 255}
	colorGreen = color.RGBA{G: 255, A: 255}
	colorWhite = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	colorBox   = color.RGBA{R: 0, G: 200, B: 80, A: 255}
)

// Annotation is everything drawn on one frame.
type Annotation struct {
	Detections []detector.Detection
	Decision   occupancy.Decision
	Tampered   bool
}

// StatusText returns the status line shown when no alert is active.
func StatusText(d occupancy.Decision) string {
	return "People: " + strconv.Itoa(d.Count) + " | Status: " + d.DoorStatus()
}

// Renderer annotates JPEG frames.
type Renderer struct {
	Quality int
}

// NewRenderer returns a renderer encoding at quality (1-100, 0 = default).
func NewRenderer(quality int) *Renderer {
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	return &Renderer{Quality: quality}
}

// Annotate decodes frame, draws a and re-encodes it as JPEG.
func (r *Renderer) Annotate(frame *types.Frame, a Annotation) ([]byte, error) {
	src, err := frame.Decode()
	if err != nil {
		return nil, err
	}
	return EncodeJPEG(Draw(src, a), r.Quality)
}

// Draw returns a copy of src with a drawn on it. An active alert replaces
// the status light and people count; a tampered model replaces everything.
func Draw(src image.Image, a Annotation) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(dst, dst.Bounds(), src, b.Min, xdraw.Src)

	if a.Tampered {
		drawText(dst, TamperBanner, 50, 240, 2, colorRed)
		return dst
	}

	for _, det := range a.Detections {
		if !det.IsPerson() {
			continue
		}
		drawBox(dst, det.BBox, 2, colorBox)
		label := fmt.Sprintf("%s %.2f", det.ClassName, det.Confidence)
		drawText(dst, label, det.BBox.Min.X, det.BBox.Min.Y-2, 1, colorBox)
	}

	if a.Decision.AlertActive {
		drawText(dst, AlertTitle, 50, 50, 3, colorRed)
		drawText(dst, AlertMessage, 50, 100, 2, colorRed)
		return dst
	}

	light := colorRed
	if a.Decision.Light() == occupancy.LightGreen {
		light = colorGreen
	}
	fillCircle(dst, image.Pt(50, 50), 30, light)
	drawText(dst, StatusText(a.Decision), 100, 60, 2, colorWhite)
	return dst
}

// EncodeJPEG encodes img at quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// drawText renders s with its baseline at (x, y), magnified by scale.
func drawText(dst *image.RGBA, s string, x, y, scale int, c color.Color) {
	face := basicfont.Face7x13
	metrics := face.Metrics()
	w := font.MeasureString(face, s).Ceil()
	h := metrics.Height.Ceil()
	if w == 0 {
		return
	}

	glyphs := image.NewRGBA(image.Rect(0, 0, w, h))
	d := font.Drawer{
		Dst:  glyphs,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(0, metrics.Ascent.Ceil()),
	}
	d.DrawString(s)

	top := y - metrics.Ascent.Ceil()*scale
	target := image.Rect(x, top, x+w*scale, top+h*scale)
	xdraw.NearestNeighbor.Scale(dst, target, glyphs, glyphs.Bounds(), xdraw.Over, nil)
}

func drawBox(dst *image.RGBA, r image.Rectangle, thickness int, c color.RGBA) {
	r = r.Intersect(dst.Bounds())
	if r.Empty() {
		return
	}
	u := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+thickness),
		image.Rect(r.Min.X, r.Max.Y-thickness, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+thickness, r.Max.Y),
		image.Rect(r.Max.X-thickness, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		xdraw.Draw(dst, e.Intersect(r), u, image.Point{}, xdraw.Src)
	}
}

func fillCircle(dst *image.RGBA, center image.Point, radius int, c color.RGBA) {
	bounds := dst.Bounds()
	r2 := radius * radius
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy > r2 {
				continue
			}
			p := image.Pt(center.X+dx, center.Y+dy)
			if p.In(bounds) {
				dst.SetRGBA(p.X, p.Y, c)
			}
		}
	}
}
