package overlay

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/internal/detector"
	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/internal/occupancy"
	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/pkg/types"
)

func black(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}
	return img
}

func countColor(img *image.RGBA, r image.Rectangle, c color.RGBA) int {
	n := 0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if img.RGBAAt(x, y) == c {
				n++
			}
		}
	}
	return n
}

var person = detector.Detection{
	ClassID:    detector.PersonClassID,
	ClassName:  detector.PersonClassName,
	Confidence: 0.87,
	BBox:       image.Rect(200, 200, 300, 400),
}

func TestStatusText(t *testing.T) {
	t.Parallel()

	require.Equal(t, "People: 3 | Status: Door Closed", StatusText(occupancy.Decision{Count: 3}))
	require.Equal(t, "People: 4 | Status: Door Open", StatusText(occupancy.Decision{Count: 4, DoorOpen: true}))
}

func TestDrawStatusLight(t *testing.T) {
	t.Parallel()

	open := Draw(black(640, 480), Annotation{Decision: occupancy.Decision{Count: 4, DoorOpen: true}})
	require.Equal(t, colorGreen, open.RGBAAt(25, 50))

	closed := Draw(black(640, 480), Annotation{Decision: occupancy.Decision{Count: 1}})
	require.Equal(t, colorRed, closed.RGBAAt(25, 50))
	require.Positive(t, countColor(closed, image.Rect(100, 30, 640, 70), colorWhite))
}

func TestDrawAlertReplacesStatus(t *testing.T) {
	t.Parallel()

	img := Draw(black(640, 480), Annotation{
		Detections: []detector.Detection{person},
		Decision:   occupancy.Decision{Count: 5, DoorOpen: true, AlertActive: true},
	})

	require.Equal(t, color.RGBA{A: 255}, img.RGBAAt(25, 50))
	require.Zero(t, countColor(img, image.Rect(0, 0, 640, 480), colorGreen))
	require.Zero(t, countColor(img, image.Rect(0, 0, 640, 480), colorWhite))
	require.Positive(t, countColor(img, image.Rect(50, 0, 640, 110), colorRed))
	require.Equal(t, colorBox, img.RGBAAt(200, 300))
}

func TestDrawTamperedShowsOnlyBanner(t *testing.T) {
	t.Parallel()

	img := Draw(black(640, 480), Annotation{
		Detections: []detector.Detection{person},
		Decision:   occupancy.Decision{Count: 5, DoorOpen: true},
		Tampered:   true,
	})

	require.Equal(t, color.RGBA{A: 255}, img.RGBAAt(25, 50))
	require.Equal(t, color.RGBA{A: 255}, img.RGBAAt(200, 300))
	require.Positive(t, countColor(img, image.Rect(50, 200, 640, 260), colorRed))
}

func TestDrawSkipsNonPersonAndClipsBoxes(t *testing.T) {
	t.Parallel()

	car := detector.Detection{ClassID: 2, ClassName: "car", BBox: image.Rect(400, 300, 500, 400)}
	outside := detector.Detection{ClassID: 0, ClassName: "person", BBox: image.Rect(600, 400, 900, 700)}

	img := Draw(black(640, 480), Annotation{Detections: []detector.Detection{car, outside}})
	require.Equal(t, color.RGBA{A: 255}, img.RGBAAt(400, 350))
	require.Equal(t, colorBox, img.RGBAAt(600, 450))
}

func TestAnnotateRoundTrip(t *testing.T) {
	t.Parallel()

	src, err := EncodeJPEG(black(320, 240), 90)
	require.NoError(t, err)

	r := NewRenderer(0)
	require.Equal(t, DefaultQuality, r.Quality)

	out, err := r.Annotate(&types.Frame{Seq: 1, Data: src}, Annotation{Decision: occupancy.Decision{Count: 2}})
	require.NoError(t, err)

	decoded, err := (&types.Frame{Data: out}).Decode()
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 320, 240), decoded.Bounds())
}

func TestAnnotateRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := NewRenderer(50).Annotate(&types.Frame{Seq: 7, Data: []byte("nope")}, Annotation{})
	require.Error(t, err)
}
