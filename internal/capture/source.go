// Package capture produces JPEG frames for the monitor pipeline.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/pkg/types"
)

// ErrGStreamerUnavailable is returned by NewCamera in builds without the
// gst tag.
var ErrGStreamerUnavailable = errors.New("gstreamer support not built in (build with -tags gst)")

// Source yields frames until it is exhausted (io.EOF) or closed.
type Source interface {
	Next(ctx context.Context) (*types.Frame, error)
	Name() string
	Close() error
}

// Open builds the source described by cfg.
func Open(ctx context.Context, cfg types.SourceConfig) (Source, error) {
	var (
		src Source
		err error
	)
	switch cfg.Kind {
	case "", "synthetic":
		src = NewSynthetic(cfg)
	case "dir":
		src, err = NewDirectory(cfg)
	case "mjpeg":
		src, err = NewMJPEG(ctx, cfg.URL, nil)
	case "camera":
		src, err = NewCamera(cfg)
	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Kind)
	}
	if err != nil {
		return nil, err
	}
	if cfg.Limit > 0 {
		src = Limit(src, cfg.Limit)
	}
	return src, nil
}

type limited struct {
	Source
	remaining int
}

// Limit stops src with io.EOF after n frames.
func Limit(src Source, n int) Source {
	return &limited{Source: src, remaining: n}
}

func (l *limited) Next(ctx context.Context) (*types.Frame, error) {
	if l.remaining <= 0 {
		return nil, io.EOF
	}
	f, err := l.Source.Next(ctx)
	if err != nil {
		return nil, err
	}
	l.remaining--
	return f, nil
}

// pacer spaces out frames of file-backed sources.
type pacer struct {
	interval time.Duration
	next     time.Time
}

func newPacer(fps float64) *pacer {
	if fps <= 0 {
		return &pacer{}
	}
	return &pacer{interval: time.Duration(float64(time.Second) / fps)}
}

func (p *pacer) wait(ctx context.Context) error {
	if p.interval == 0 {
		return ctx.Err()
	}
	now := time.Now()
	if p.next.IsZero() || p.next.Before(now) {
		p.next = now
	}
	delay := p.next.Sub(now)
	p.next = p.next.Add(p.interval)
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type sequencer struct {
	seq atomic.Uint64
}

func (s *sequencer) frame(source string, data []byte, width, height int) *types.Frame {
	return &types.Frame{
		Data:      data,
		Timestamp: time.Now(),
		Seq:       s.seq.Add(1),
		Width:     width,
		Height:    height,
		TraceID:   uuid.NewString(),
		Source:    source,
	}
}
