// Package pipeline runs the per-frame loop: capture, detection, occupancy
// evaluation, annotation and fan-out to viewers, recorder and sinks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/internal/capture"
	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/internal/detector"
	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/internal/eventlog"
	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/internal/integrity"
	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/internal/notify"
	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/internal/occupancy"
	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/internal/overlay"
	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/internal/recorder"
	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/internal/webmonitor"
	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/pkg/types"
)

const eventQueueSize = 64

// FramePublisher receives every annotated frame.
type FramePublisher interface {
	Publish(jpeg []byte)
}

// DetectionPublisher receives every detection event.
type DetectionPublisher interface {
	Publish(event webmonitor.DetectionEvent)
}

// AlertQueue accepts alerts without blocking.
type AlertQueue interface {
	Enqueue(a notify.Alert) bool
}

// Deps are the collaborators of a Pipeline. Source and Tracker are
// required; every other field may be left nil.
type Deps struct {
	Source     capture.Source
	Detector   detector.Detector
	Tracker    *occupancy.Tracker
	Renderer   *overlay.Renderer
	Model      integrity.Result
	Monitor    *webmonitor.Monitor
	Frames     FramePublisher
	Detections DetectionPublisher
	Recorder   *recorder.Recorder
	Events     eventlog.Sink
	Alerts     AlertQueue
	Metrics    *metrics.Metrics

	// AutoRecord starts a recording when an alert is raised and stops it
	// when that alert clears.
	AutoRecord bool
}

// Pipeline processes frames from one source.
type Pipeline struct {
	Deps

	events chan eventlog.Record
	wg     sync.WaitGroup
}

// New validates deps and returns a pipeline.
func New(deps Deps) (*Pipeline, error) {
	if deps.Source == nil {
		return nil, errors.New("pipeline: source is required")
	}
	if deps.Tracker == nil {
		return nil, errors.New("pipeline: tracker is required")
	}
	if deps.Renderer == nil {
		deps.Renderer = overlay.NewRenderer(overlay.DefaultQuality)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Model.Status == "" {
		deps.Model.Status = integrity.StatusDisabled
	}
	return &Pipeline{Deps: deps}, nil
}

// Tampered reports whether detection is disabled by a failed model check.
func (p *Pipeline) Tampered() bool {
	return !p.Model.Status.Trusted()
}

// Run reads frames until the source ends, ctx is cancelled or the source
// fails. End of stream and cancellation return nil.
func (p *Pipeline) Run(ctx context.Context) error {
	if p.Events != nil {
		p.events = make(chan eventlog.Record, eventQueueSize)
		p.wg.Add(1)
		go p.writeEvents()
		defer func() {
			close(p.events)
			p.wg.Wait()
		}()
	}

	// no frame can clear the alert once the loop is gone
	defer p.stopAlertRecording("frame loop ended")

	if p.Tampered() {
		logger.Error("Pipeline", "model %s is %s: detection disabled", p.Model.Path, p.Model.Status)
	}
	logger.Info("Pipeline", "reading frames from %s", p.Source.Name())

	for {
		frame, err := p.Source.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				logger.Info("Pipeline", "source %s ended", p.Source.Name())
				return nil
			case ctx.Err() != nil:
				return nil
			default:
				p.Metrics.SourceErrors.Add(1)
				return fmt.Errorf("read frame: %w", err)
			}
		}
		p.Metrics.FramesRead.Add(1)
		p.Process(ctx, frame)
	}
}

// Process runs one frame through detection, evaluation and fan-out. It
// returns the tracker snapshot and whether the frame was evaluated.
func (p *Pipeline) Process(ctx context.Context, frame *types.Frame) (occupancy.Snapshot, bool) {
	start := time.Now()
	defer func() {
		p.Metrics.UpdateProcessLatency(time.Since(start))
		if !frame.Timestamp.IsZero() {
			p.Metrics.UpdateFrameLatency(frame.Timestamp)
		}
	}()

	if p.Tampered() || p.Detector == nil {
		p.Metrics.FramesSkipped.Add(1)
		p.publish(frame, p.render(frame, overlay.Annotation{Tampered: p.Tampered()}))
		return occupancy.Snapshot{}, false
	}

	result, err := p.Detector.Detect(ctx, frame)
	if err != nil {
		if ctx.Err() == nil {
			p.Metrics.DetectErrors.Add(1)
			p.Metrics.FramesDropped.Add(1)
			logger.Warn("Pipeline", "frame %d (%s): detect: %v", frame.Seq, frame.TraceID, err)
		}
		if !p.Tracker.Snapshot().AlertActive {
			p.stopAlertRecording("alert expired without detections")
		}
		p.publish(frame, frame.Data)
		return occupancy.Snapshot{}, false
	}
	p.Metrics.ObserveDetect(result.Latency)

	snap := p.Tracker.Observe(frame.Seq, result.PersonCount())
	p.Metrics.FramesProcessed.Add(1)
	p.Metrics.SetOccupancy(snap.Count, snap.DoorOpen, snap.AlertActive)
	if snap.Anomaly {
		p.Metrics.Anomalies.Add(1)
		logger.Warn("Pipeline", "frame %d: people count changed by %d (%d people)", frame.Seq, snap.Delta, snap.Count)
	}

	jpeg := p.render(frame, overlay.Annotation{
		Detections: result.Detections,
		Decision:   snap.Decision,
	})
	p.publish(frame, jpeg)

	if p.Monitor != nil {
		event := p.Monitor.UpdateDetection(frame.Seq, frame.Timestamp, result)
		if p.Detections != nil {
			p.Detections.Publish(event)
		}
	}

	p.handleTransition(snap)
	p.queueEvent(eventlog.FromSnapshot(snap))
	return snap, true
}

// render annotates frame, falling back to the raw JPEG on failure.
func (p *Pipeline) render(frame *types.Frame, a overlay.Annotation) []byte {
	jpeg, err := p.Renderer.Annotate(frame, a)
	if err != nil {
		p.Metrics.RenderErrors.Add(1)
		logger.Warn("Pipeline", "frame %d: render: %v", frame.Seq, err)
		return frame.Data
	}
	return jpeg
}

func (p *Pipeline) publish(frame *types.Frame, jpeg []byte) {
	if p.Monitor != nil {
		p.Monitor.MarkFrame(frame.Timestamp)
	}
	if p.Frames != nil {
		p.Frames.Publish(jpeg)
	}
	if p.Recorder != nil {
		if p.Recorder.SendFrame(jpeg) {
			p.Metrics.RecordingFrames.Add(1)
		} else if p.Recorder.IsRecording() {
			p.Metrics.RecordingDrops.Add(1)
		}
		p.Metrics.RecordingActive.Store(boolValue(p.Recorder.IsRecording()))
	}
}

func (p *Pipeline) handleTransition(snap occupancy.Snapshot) {
	switch snap.Transition {
	case occupancy.TransitionRaised:
		p.Metrics.AlertsRaised.Add(1)
		logger.Warn("Pipeline", "SECURITY ALERT: potential video spoofing at frame %d (until %s)",
			snap.Seq, snap.AlertUntil.Format(time.RFC3339))
		if p.Alerts != nil {
			if p.Alerts.Enqueue(notify.AlertFromSnapshot(snap)) {
				p.Metrics.NotificationsQueued.Add(1)
			} else {
				p.Metrics.NotificationsDrop.Add(1)
			}
		}
		if p.AutoRecord && p.Recorder != nil && !p.Recorder.IsRecording() {
			if _, err := p.Recorder.Start("", recorder.TriggerAlert); err != nil {
				logger.Warn("Pipeline", "auto recording: %v", err)
			}
		}
	case occupancy.TransitionExtended:
		logger.Info("Pipeline", "alert extended to %s", snap.AlertUntil.Format(time.RFC3339))
	case occupancy.TransitionCleared:
		logger.Info("Pipeline", "alert cleared at frame %d", snap.Seq)
		p.stopAlertRecording("alert cleared")
	}
}

// stopAlertRecording stops a recording started by an alert. Manual
// recordings are left running.
func (p *Pipeline) stopAlertRecording(reason string) {
	if !p.AutoRecord || p.Recorder == nil || p.Recorder.GetStatus().Trigger != recorder.TriggerAlert {
		return
	}
	path, err := p.Recorder.Stop()
	switch {
	case errors.Is(err, recorder.ErrNotRecording):
	case err != nil:
		logger.Warn("Pipeline", "auto recording stop: %v", err)
	default:
		logger.Info("Pipeline", "auto recording %s stopped: %s", path, reason)
		p.Metrics.RecordingActive.Store(0)
	}
}

func (p *Pipeline) queueEvent(rec eventlog.Record) {
	if p.events == nil {
		if p.Events != nil {
			// Process called outside Run
			p.writeEvent(context.Background(), rec)
		}
		return
	}
	select {
	case p.events <- rec:
	default:
		p.Metrics.RecordErrors.Add(1)
		logger.Warn("Pipeline", "event queue full, dropping record for frame %d", rec.FrameSeq)
	}
}

func (p *Pipeline) writeEvents() {
	defer p.wg.Done()
	for rec := range p.events {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		p.writeEvent(ctx, rec)
		cancel()
	}
}

func (p *Pipeline) writeEvent(ctx context.Context, rec eventlog.Record) {
	if err := p.Events.Write(ctx, rec); err != nil {
		p.Metrics.RecordErrors.Add(1)
		logger.Warn("EventLog", "write frame %d: %v", rec.FrameSeq, err)
		return
	}
	p.Metrics.RecordsWritten.Add(1)
}

func boolValue(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
