package webmonitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/internal/recorder"
)

// ShutdownTimeout bounds graceful HTTP shutdown.
const ShutdownTimeout = 5 * time.Second

// Server serves the door monitor dashboard, streams and APIs.
type Server struct {
	cfg                  Config
	monitor              *Monitor
	recorder             *recorder.Recorder
	metrics              *metrics.Metrics
	frames               *FrameBroadcaster
	detectionBroadcaster *DetectionBroadcaster
	statusBroadcaster    *StatusBroadcaster
}

// NewServer returns a configured monitor server and starts its status
// broadcaster. rec and m may be nil.
func NewServer(cfg Config, monitor *Monitor, rec *recorder.Recorder, m *metrics.Metrics) *Server {
	cfg = cfg.withDefaults()

	monitor.mu.Lock()
	monitor.historySize = cfg.HistorySize
	monitor.mu.Unlock()
	if rec != nil {
		monitor.SetRecordingProbe(rec.IsRecording)
	}

	statusBroadcaster := NewStatusBroadcaster(monitor.Status, cfg.StatusInterval)
	statusBroadcaster.Start()

	return &Server{
		cfg:                  cfg,
		monitor:              monitor,
		recorder:             rec,
		metrics:              m,
		frames:               NewFrameBroadcaster(),
		detectionBroadcaster: NewDetectionBroadcaster(),
		statusBroadcaster:    statusBroadcaster,
	}
}

// Frames returns the broadcaster annotated frames are published to.
func (s *Server) Frames() *FrameBroadcaster {
	return s.frames
}

// Detections returns the broadcaster detection events are published to.
func (s *Server) Detections() *DetectionBroadcaster {
	return s.detectionBroadcaster
}

// Monitor returns the status source of the server.
func (s *Server) Monitor() *Monitor {
	return s.monitor
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/video_feed", s.handleStream)
	mux.HandleFunc("/snapshot.jpg", s.handleSnapshot)
	mux.HandleFunc("/api/status", s.cors(s.handleStatus))
	mux.HandleFunc("/api/status/stream", s.cors(s.handleStatusStream))
	mux.HandleFunc("/api/detections", s.cors(s.handleDetections))
	mux.HandleFunc("/api/detections/stream", s.cors(s.handleDetectionsStream))
	mux.HandleFunc("/api/recording/start", s.cors(s.handleRecordingStart))
	mux.HandleFunc("/api/recording/stop", s.cors(s.handleRecordingStop))
	mux.HandleFunc("/api/recording/status", s.cors(s.handleRecordingStatus))
	mux.HandleFunc("/ws/status", s.handleStatusWS)
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}

	return mux
}

// Serve runs the HTTP server on ln until ctx is cancelled, then shuts it
// down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("HTTP", "shutting down")
	// Streams return once their broadcasters close.
	s.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// ListenAndServe listens on the configured address and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	logger.Info("HTTP", "door monitor listening on %s", ln.Addr())
	return s.Serve(ctx, ln)
}

// Close stops the broadcasters and disconnects every streaming client.
func (s *Server) Close() {
	s.statusBroadcaster.Stop()
	s.detectionBroadcaster.Stop()
	s.frames.Stop()
}

func (s *Server) cors(next http.HandlerFunc) http.HandlerFunc {
	if s.cfg.AllowOrigin == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.cfg.AllowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, frameCh := s.frames.Subscribe()
	defer s.frames.Unsubscribe(id)

	if s.metrics != nil {
		s.metrics.MJPEGClients.Add(1)
		defer s.metrics.MJPEGClients.Add(-1)
	}
	streamMJPEGFromChannel(w, r, frameCh, s.frames.Latest(), s.cfg.MJPEGIdle)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	frame := s.frames.Latest()
	if frame == nil {
		blank, err := blankJPEG()
		if err != nil {
			http.Error(w, "Failed to render frame", http.StatusInternalServerError)
			return
		}
		frame = blank
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(frame)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.monitor.Status())
}

// wantsProtobuf reports whether the client prefers protobuf over JSON.
func wantsProtobuf(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.statusBroadcaster.Subscribe()
	defer s.statusBroadcaster.Unsubscribe(id)

	if s.metrics != nil {
		s.metrics.StatusClients.Add(1)
		defer s.metrics.StatusClients.Add(-1)
	}

	first, err := s.statusBroadcaster.Current()
	if err != nil {
		logger.Warn("SSE", "initial status: %v", err)
	}
	streamEventsFromChannel(w, r, eventCh, first, wantsProtobuf(r), s.cfg.SSEKeepalive)
}

func (s *Server) handleDetections(w http.ResponseWriter, r *http.Request) {
	latest, history := s.monitor.Detections()
	writeJSON(w, map[string]any{
		"latest_detection":  latest,
		"detection_history": history,
	})
}

func (s *Server) handleDetectionsStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.detectionBroadcaster.Subscribe()
	defer s.detectionBroadcaster.Unsubscribe(id)

	streamEventsFromChannel(w, r, eventCh, nil, wantsProtobuf(r), s.cfg.SSEKeepalive)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.monitor.Health())
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.recorder == nil {
		writeJSONWithStatus(w, map[string]any{"error": "recording is disabled"}, http.StatusServiceUnavailable)
		return
	}

	filename, err := s.recorder.Start(r.URL.Query().Get("filename"), recorder.TriggerManual)
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}

	payload := map[string]any{
		"status":     "recording",
		"file":       filename,
		"started_at": unixSeconds(time.Now()),
	}
	writeJSON(w, payload)
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.recorder == nil {
		writeJSONWithStatus(w, map[string]any{"error": "recording is disabled"}, http.StatusServiceUnavailable)
		return
	}

	filename, err := s.recorder.Stop()
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}

	payload := map[string]any{
		"status":     "stopped",
		"file":       filename,
		"stats":      s.recorder.GetStatus(),
		"stopped_at": unixSeconds(time.Now()),
	}
	writeJSON(w, payload)
}

func (s *Server) handleRecordingStatus(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		writeJSON(w, recorder.RecordingStatus{})
		return
	}
	writeJSON(w, s.recorder.GetStatus())
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":%q}`, err.Error())
	}
}
