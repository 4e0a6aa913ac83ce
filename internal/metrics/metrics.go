package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Frame processing counters
	FramesRead      atomic.Uint64
	FramesProcessed atomic.Uint64
	FramesDropped   atomic.Uint64
	FramesSkipped   atomic.Uint64 // detection skipped (untrusted model)

	// Error counters
	SourceErrors atomic.Uint64
	DetectErrors atomic.Uint64
	RenderErrors atomic.Uint64
	RecordErrors atomic.Uint64

	// Occupancy state
	PeopleCount  atomic.Int64
	DoorOpen     atomic.Uint64 // 0 = closed, 1 = open
	AlertActive  atomic.Uint64 // 0 = normal, 1 = alerting
	Anomalies    atomic.Uint64
	AlertsRaised atomic.Uint64

	// Latency tracking
	FrameLatencyMs   atomic.Uint64 // Capture to publish latency of the last frame
	ProcessLatencyMs atomic.Uint64 // Processing time of the last frame

	// Client tracking
	MJPEGClients  atomic.Int64
	StatusClients atomic.Int64

	// Sinks
	RecordsWritten      atomic.Uint64
	NotificationsQueued atomic.Uint64
	NotificationsDrop   atomic.Uint64

	// Recording state
	RecordingActive atomic.Uint64 // 0 = inactive, 1 = active
	RecordingFrames atomic.Uint64
	RecordingDrops  atomic.Uint64

	detectLatency prometheus.Histogram

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		detectLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "door_detector_latency_seconds",
			Help:    "Detector round-trip latency",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		}),
	}

	m.registerPrometheusMetrics()

	return m
}

func (m *Metrics) gauge(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		fn,
	))
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	u := func(v *atomic.Uint64) func() float64 {
		return func() float64 { return float64(v.Load()) }
	}
	i := func(v *atomic.Int64) func() float64 {
		return func() float64 { return float64(v.Load()) }
	}

	// Frame processing metrics
	m.gauge("door_frames_read_total", "Total frames read from the source", u(&m.FramesRead))
	m.gauge("door_frames_processed_total", "Total frames evaluated by the occupancy monitor", u(&m.FramesProcessed))
	m.gauge("door_frames_dropped_total", "Total frames dropped by the pipeline", u(&m.FramesDropped))
	m.gauge("door_frames_skipped_total", "Total frames streamed without detection", u(&m.FramesSkipped))

	// Error metrics
	m.gauge("door_source_errors_total", "Total frame source errors", u(&m.SourceErrors))
	m.gauge("door_detect_errors_total", "Total detector errors", u(&m.DetectErrors))
	m.gauge("door_render_errors_total", "Total overlay rendering errors", u(&m.RenderErrors))
	m.gauge("door_record_errors_total", "Total occupancy log write errors", u(&m.RecordErrors))

	// Occupancy metrics
	m.gauge("door_people_count", "People counted in the last frame", i(&m.PeopleCount))
	m.gauge("door_open", "Door status (0=closed, 1=open)", u(&m.DoorOpen))
	m.gauge("door_alert_active", "Spoofing alert (0=normal, 1=alerting)", u(&m.AlertActive))
	m.gauge("door_anomalies_total", "Frames whose count jump exceeded the limit", u(&m.Anomalies))
	m.gauge("door_alerts_raised_total", "Alerts raised from the normal state", u(&m.AlertsRaised))

	// Latency metrics
	m.gauge("door_frame_latency_ms", "Capture to publish latency of the last frame in milliseconds", u(&m.FrameLatencyMs))
	m.gauge("door_process_latency_ms", "Processing time of the last frame in milliseconds", u(&m.ProcessLatencyMs))
	m.registry.MustRegister(m.detectLatency)

	// Client metrics
	m.gauge("door_mjpeg_clients", "Connected MJPEG viewers", i(&m.MJPEGClients))
	m.gauge("door_status_clients", "Connected SSE and WebSocket status clients", i(&m.StatusClients))

	// Sink metrics
	m.gauge("door_records_written_total", "Occupancy records handed to the event log", u(&m.RecordsWritten))
	m.gauge("door_notifications_queued_total", "Alert notifications queued", u(&m.NotificationsQueued))
	m.gauge("door_notifications_dropped_total", "Alert notifications dropped on a full queue", u(&m.NotificationsDrop))

	// Recording metrics
	m.gauge("door_recording_active", "Recording active (0=inactive, 1=active)", u(&m.RecordingActive))
	m.gauge("door_recording_frames_total", "Frames queued to the recorder", u(&m.RecordingFrames))
	m.gauge("door_recording_dropped_total", "Frames the recorder could not accept", u(&m.RecordingDrops))
}

// ObserveDetect records one detector call.
func (m *Metrics) ObserveDetect(d time.Duration) {
	m.detectLatency.Observe(d.Seconds())
}

// SetOccupancy publishes the latest occupancy decision.
func (m *Metrics) SetOccupancy(count int, doorOpen, alertActive bool) {
	m.PeopleCount.Store(int64(count))
	m.DoorOpen.Store(boolValue(doorOpen))
	m.AlertActive.Store(boolValue(alertActive))
}

// UpdateFrameLatency updates the frame latency
func (m *Metrics) UpdateFrameLatency(captureTime time.Time) {
	latency := time.Since(captureTime).Milliseconds()
	if latency < 0 {
		latency = 0
	}
	m.FrameLatencyMs.Store(uint64(latency))
}

// UpdateProcessLatency updates the processing latency
func (m *Metrics) UpdateProcessLatency(duration time.Duration) {
	m.ProcessLatencyMs.Store(uint64(duration.Milliseconds()))
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func boolValue(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
