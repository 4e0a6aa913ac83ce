package webmonitor

import (
	"sync"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/internal/detector"
	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/internal/integrity"
	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/internal/occupancy"
)

// Monitor joins the occupancy tracker with the per-frame facts the HTTP
// endpoints report. All reads go through the tracker's snapshot.
type Monitor struct {
	tracker   *occupancy.Tracker
	startTime time.Time

	mu               sync.RWMutex
	source           string
	detector         string
	modelStatus      integrity.Status
	recording        func() bool
	lastFrame        time.Time
	latestDetection  *DetectionEvent
	detectionHistory []DetectionEvent
	historySize      int
}

// NewMonitor creates a Monitor reading occupancy from tracker.
func NewMonitor(tracker *occupancy.Tracker, source, detectorName string, model integrity.Status) *Monitor {
	return &Monitor{
		tracker:     tracker,
		startTime:   time.Now(),
		source:      source,
		detector:    detectorName,
		modelStatus: model,
		historySize: DefaultConfig().HistorySize,
	}
}

// SetRecordingProbe installs the function reporting whether a recording runs.
func (m *Monitor) SetRecordingProbe(fn func() bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recording = fn
}

// SetModelStatus records the latest model integrity result.
func (m *Monitor) SetModelStatus(s integrity.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modelStatus = s
}

// ModelStatus returns the latest model integrity result.
func (m *Monitor) ModelStatus() integrity.Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.modelStatus
}

// Status returns the current status payload.
func (m *Monitor) Status() StatusPayload {
	snap := m.tracker.Snapshot()

	m.mu.RLock()
	model := m.modelStatus
	probe := m.recording
	m.mu.RUnlock()

	payload := StatusPayload{
		DoorStatus:      snap.DoorStatus(),
		PeopleCount:     snap.Count,
		AlertActive:     snap.AlertActive,
		Light:           snap.Light(),
		Mode:            string(snap.Mode()),
		FramesProcessed: snap.Frames,
		Anomalies:       snap.Anomalies,
		ModelStatus:     string(model),
		Timestamp:       unixSeconds(time.Now()),
	}
	if snap.AlertActive {
		until := unixSeconds(snap.AlertUntil)
		payload.AlertUntil = &until
	}
	if probe != nil {
		payload.Recording = probe()
	}
	return payload
}

// UpdateDetection stores the detections of one frame and returns the event
// to broadcast.
func (m *Monitor) UpdateDetection(seq uint64, ts time.Time, result detector.Result) DetectionEvent {
	event := DetectionEvent{
		FrameNumber: seq,
		Timestamp:   unixSeconds(ts),
		PeopleCount: result.PersonCount(),
		Detections:  convertDetections(result.Detections),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastFrame = ts
	m.latestDetection = &event
	if len(event.Detections) > 0 {
		m.detectionHistory = append([]DetectionEvent{event}, m.detectionHistory...)
		if len(m.detectionHistory) > m.historySize {
			m.detectionHistory = m.detectionHistory[:m.historySize]
		}
	}
	return event
}

// MarkFrame records that a frame went through the pipeline without detection.
func (m *Monitor) MarkFrame(ts time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastFrame = ts
}

// Detections returns the latest detection event and a copy of the history.
func (m *Monitor) Detections() (*DetectionEvent, []DetectionEvent) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history := make([]DetectionEvent, len(m.detectionHistory))
	copy(history, m.detectionHistory)
	if m.latestDetection == nil {
		return nil, history
	}
	latest := *m.latestDetection
	return &latest, history
}

// Health returns the /healthz payload.
func (m *Monitor) Health() HealthPayload {
	snap := m.tracker.Snapshot()

	m.mu.RLock()
	defer m.mu.RUnlock()

	h := HealthPayload{
		Status:      "ok",
		Source:      m.source,
		Detector:    m.detector,
		ModelStatus: string(m.modelStatus),
		Frames:      snap.Frames,
		UptimeSec:   time.Since(m.startTime).Seconds(),
	}
	if !m.modelStatus.Trusted() {
		h.Status = "degraded"
	}
	if !m.lastFrame.IsZero() {
		last := m.lastFrame.UTC().Format(time.RFC3339Nano)
		h.LastFrame = &last
	}
	return h
}
