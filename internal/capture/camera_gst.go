//go:build gst

package capture

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/pkg/types"
)

// Camera captures from a V4L2 device and JPEG-encodes inside GStreamer.
type Camera struct {
	device        string
	width, height int

	pipeline *gst.Pipeline
	frames   chan []byte
	errs     chan error
	done     chan struct{}
	once     sync.Once
	seq      sequencer
}

// NewCamera starts a v4l2src pipeline for cfg.Device.
func NewCamera(cfg types.SourceConfig) (Source, error) {
	gst.Init(nil)

	width, height := cfg.Width, cfg.Height
	if width <= 0 || height <= 0 {
		width, height = 640, 480
	}
	rate := ""
	if cfg.FPS >= 1 {
		rate = fmt.Sprintf(",framerate=%d/1", int(cfg.FPS))
	}
	desc := fmt.Sprintf(
		"v4l2src device=%s ! videoconvert ! videoscale ! videorate drop-only=true ! "+
			"video/x-raw,width=%d,height=%d%s ! jpegenc quality=85 ! "+
			"appsink name=sink sync=false max-buffers=2 drop=true",
		cfg.Device, width, height, rate,
	)

	pipeline, err := gst.NewPipelineFromString(desc)
	if err != nil {
		return nil, fmt.Errorf("create camera pipeline: %w", err)
	}
	elem, err := pipeline.GetElementByName("sink")
	if err != nil {
		return nil, fmt.Errorf("find appsink: %w", err)
	}

	c := &Camera{
		device:   cfg.Device,
		width:    width,
		height:   height,
		pipeline: pipeline,
		frames:   make(chan []byte, 2),
		errs:     make(chan error, 1),
		done:     make(chan struct{}),
	}

	sink := app.SinkFromElement(elem)
	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: c.onSample,
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, fmt.Errorf("start camera pipeline: %w", err)
	}
	go c.watchBus()

	logger.Info("Capture", "camera started: %s %dx%d", cfg.Device, width, height)
	return c, nil
}

func (c *Camera) onSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowEOS
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return gst.FlowOK
	}
	frame := make([]byte, len(data))
	copy(frame, data)
	buffer.Unmap()

	select {
	case c.frames <- frame:
	default:
		logger.Debug("Capture", "camera frame dropped, consumer busy")
	}
	return gst.FlowOK
}

func (c *Camera) watchBus() {
	bus := c.pipeline.GetPipelineBus()
	for {
		select {
		case <-c.done:
			return
		default:
		}

		msg := bus.TimedPop(100 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS:
			c.fail(io.EOF)
			return
		case gst.MessageError:
			gerr := msg.ParseError()
			logger.Error("Capture", "camera pipeline error: %s (%s)", gerr.Error(), gerr.DebugString())
			c.fail(fmt.Errorf("camera pipeline: %w", gerr))
			return
		}
	}
}

func (c *Camera) fail(err error) {
	select {
	case c.errs <- err:
	default:
	}
}

func (c *Camera) Name() string { return "camera:" + c.device }

func (c *Camera) Next(ctx context.Context) (*types.Frame, error) {
	select {
	case data := <-c.frames:
		return c.seq.frame(c.Name(), data, c.width, c.height), nil
	case err := <-c.errs:
		return nil, err
	case <-c.done:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Camera) Close() error {
	c.once.Do(func() {
		close(c.done)
		if err := c.pipeline.SetState(gst.StateNull); err != nil {
			logger.Warn("Capture", "stop camera pipeline: %v", err)
		}
	})
	return nil
}
