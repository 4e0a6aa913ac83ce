package detector

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/pkg/types"
)

// Scripted replays a fixed sequence of person counts, one per call. After the
// script ends it repeats the last count, or starts over when Loop is set.
type Scripted struct {
	counts []int
	loop   bool

	mu     sync.Mutex
	pos    int
	closed bool
}

// NewScripted creates a scripted detector. An empty script always reports
// zero people.
func NewScripted(counts []int, loop bool) *Scripted {
	return &Scripted{
		counts: append([]int(nil), counts...),
		loop:   loop,
	}
}

// Detect returns the next scripted count as evenly spaced person boxes.
func (s *Scripted) Detect(ctx context.Context, frame *types.Frame) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Result{}, ErrClosed
	}
	count := s.next()
	s.mu.Unlock()

	start := time.Now()
	width, height := 640, 480
	if frame != nil && frame.Width > 0 && frame.Height > 0 {
		width, height = frame.Width, frame.Height
	}

	return Result{
		Detections: layoutPeople(count, width, height),
		Latency:    time.Since(start),
	}, nil
}

func (s *Scripted) next() int {
	if len(s.counts) == 0 {
		return 0
	}
	if s.pos >= len(s.counts) {
		if !s.loop {
			return s.counts[len(s.counts)-1]
		}
		s.pos = 0
	}
	n := s.counts[s.pos]
	s.pos++
	return n
}

// Close stops the detector.
func (s *Scripted) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func layoutPeople(count, width, height int) []Detection {
	if count <= 0 {
		return nil
	}
	slot := width / count
	boxW := slot * 3 / 5
	top := height / 5
	out := make([]Detection, count)
	for i := range out {
		x := i*slot + (slot-boxW)/2
		out[i] = Detection{
			ClassID:    PersonClassID,
			ClassName:  PersonClassName,
			Confidence: 0.9,
			BBox:       image.Rect(x, top, x+boxW, height-height/20),
		}
	}
	return out
}
