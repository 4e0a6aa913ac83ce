package recorder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/internal/logger"
)

var (
	ErrAlreadyRecording = errors.New("already recording")
	ErrNotRecording     = errors.New("not recording")
)

// Trigger records why a recording was started.
type Trigger string

const (
	TriggerManual Trigger = "manual"
	TriggerAlert  Trigger = "alert"
)

const (
	fileExt     = ".mjpeg"
	frameBuffer = 60 // a few seconds of frames
)

// Recorder writes annotated JPEG frames back to back into an .mjpeg file
type Recorder struct {
	mu           sync.RWMutex
	basePath     string
	session      *session // nil when idle
	stopping     bool     // a Stop is flushing the previous session
	filename     string
	trigger      Trigger
	frameCount   uint64
	bytesWritten uint64
	dropped      uint64
	startTime    time.Time
}

// session is one recording: its file, frame queue and writer goroutine.
type session struct {
	file   *os.File
	path   string
	frames chan []byte
	stop   chan struct{}
	done   chan struct{}
}

// NewRecorder creates a new recorder writing into basePath
func NewRecorder(basePath string) *Recorder {
	return &Recorder{basePath: basePath}
}

// Start starts recording to a new file and returns its path. An empty name
// uses recording_YYYYMMDD_HHMMSS.mjpeg. It fails with ErrAlreadyRecording
// while a recording is running or still being stopped.
func (r *Recorder) Start(name string, trigger Trigger) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session != nil || r.stopping {
		return "", ErrAlreadyRecording
	}

	if err := os.MkdirAll(r.basePath, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}

	filename := cleanName(name)
	if filename == "" {
		filename = fmt.Sprintf("recording_%s%s", time.Now().Format("20060102_150405"), fileExt)
	}
	path := filepath.Join(r.basePath, filename)

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}

	s := &session{
		file:   file,
		path:   path,
		frames: make(chan []byte, frameBuffer),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	r.session = s
	r.filename = path
	r.trigger = trigger
	r.frameCount = 0
	r.bytesWritten = 0
	r.dropped = 0
	r.startTime = time.Now()

	go r.writeFrames(s)

	logger.Info("Recorder", "recording started (%s): %s", trigger, path)
	return path, nil
}

// Stop stops recording and returns the finished file's path. Queued frames
// are flushed before the file is closed.
func (r *Recorder) Stop() (string, error) {
	r.mu.Lock()
	s := r.session
	if s == nil {
		r.mu.Unlock()
		return "", ErrNotRecording
	}
	r.session = nil
	r.stopping = true
	close(s.stop)
	r.mu.Unlock()

	<-s.done

	syncErr := s.file.Sync()
	closeErr := s.file.Close()

	r.mu.Lock()
	r.stopping = false
	frames, written, dropped := r.frameCount, r.bytesWritten, r.dropped
	r.mu.Unlock()

	if syncErr != nil {
		return s.path, fmt.Errorf("failed to sync file: %w", syncErr)
	}
	if closeErr != nil {
		return s.path, fmt.Errorf("failed to close file: %w", closeErr)
	}

	logger.Info("Recorder", "recording stopped: %s (%d frames, %d bytes, %d dropped)",
		s.path, frames, written, dropped)
	return s.path, nil
}

// SendFrame queues a JPEG frame (non-blocking). It returns false when not
// recording or when the buffer is full.
func (r *Recorder) SendFrame(jpeg []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.session
	if s == nil {
		return false
	}

	select {
	case s.frames <- jpeg:
		return true
	default:
		r.dropped++
		return false
	}
}

func (r *Recorder) writeFrames(s *session) {
	defer close(s.done)

	for {
		select {
		case frame := <-s.frames:
			r.writeFrame(s, frame)
		case <-s.stop:
			// Drain remaining frames
			for {
				select {
				case frame := <-s.frames:
					r.writeFrame(s, frame)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) writeFrame(s *session, frame []byte) {
	n, err := s.file.Write(frame)

	r.mu.Lock()
	r.bytesWritten += uint64(n)
	if err == nil {
		r.frameCount++
	}
	r.mu.Unlock()

	if err != nil {
		logger.Warn("Recorder", "write failed: %v", err)
	}
}

// IsRecording returns true if currently recording
func (r *Recorder) IsRecording() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.session != nil
}

// GetStatus returns the current recording status
func (r *Recorder) GetStatus() RecordingStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	recording := r.session != nil
	var duration time.Duration
	if recording {
		duration = time.Since(r.startTime)
	}

	status := RecordingStatus{
		Recording:    recording,
		FrameCount:   r.frameCount,
		BytesWritten: r.bytesWritten,
		Dropped:      r.dropped,
		DurationMS:   duration.Milliseconds(),
		StartTime:    r.startTime,
	}
	if r.filename != "" {
		filename := r.filename
		status.Filename = &filename
	}
	if recording {
		status.Trigger = r.trigger
	}
	return status
}

// Close stops any recording in progress
func (r *Recorder) Close() error {
	if _, err := r.Stop(); err != nil && !errors.Is(err, ErrNotRecording) {
		return err
	}
	return nil
}

// RecordingStatus holds the current recording status
type RecordingStatus struct {
	Recording    bool      `json:"recording"`
	Filename     *string   `json:"filename"`
	Trigger      Trigger   `json:"trigger,omitempty"`
	FrameCount   uint64    `json:"frame_count"`
	BytesWritten uint64    `json:"bytes_written"`
	Dropped      uint64    `json:"dropped"`
	DurationMS   int64     `json:"duration_ms"`
	StartTime    time.Time `json:"start_time"`
}

func cleanName(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == string(filepath.Separator) {
		return ""
	}
	if !strings.HasSuffix(name, fileExt) {
		name += fileExt
	}
	return name
}
