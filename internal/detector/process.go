package detector

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/pkg/types"
)

const (
	defaultProcessTimeout = 2 * time.Second
	stopGracePeriod       = 2 * time.Second
	maxResponseLine       = 4 << 20
	responseBuffer        = 16
)

// ProcessConfig configures an external detector worker.
type ProcessConfig struct {
	Command    []string // argv of the worker
	Env        []string // full environment, nil inherits ours
	Dir        string
	Classes    []int // class ids the worker should report, nil means all
	Confidence float64
	Timeout    time.Duration // per request
}

type bboxWire struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

type detectionWire struct {
	ClassID    int      `json:"class_id"`
	ClassName  string   `json:"class_name"`
	Confidence float64  `json:"confidence"`
	BBox       bboxWire `json:"bbox"`
}

// UnmarshalJSON leaves ClassID at UnknownClassID when class_id is absent,
// so a missing id is never read as class 0.
func (d *detectionWire) UnmarshalJSON(data []byte) error {
	type plain detectionWire
	w := plain{ClassID: UnknownClassID}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*d = detectionWire(w)
	return nil
}

type request struct {
	ID         string  `json:"id"`
	Image      string  `json:"image"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Classes    []int   `json:"classes,omitempty"`
	Confidence float64 `json:"confidence"`
}

type response struct {
	ID         string          `json:"id"`
	Detections []detectionWire `json:"detections"`
	Timing     Timing          `json:"timing"`
	Error      string          `json:"error,omitempty"`
}

// Process runs detection in a child process. Requests are written one JSON
// object per line to the worker's stdin; the worker answers one JSON object
// per line on stdout, echoing the request id. Detect calls are serialized.
type Process struct {
	cfg ProcessConfig

	cmd   *exec.Cmd
	stdin io.WriteCloser

	mu        sync.Mutex // serializes requests
	responses chan response
	exited    chan struct{}
	waitErr   error
	closed    atomic.Bool
	closeOnce sync.Once
}

// StartProcess spawns the worker. The worker is killed when ctx is cancelled.
func StartProcess(ctx context.Context, cfg ProcessConfig) (*Process, error) {
	if len(cfg.Command) == 0 {
		return nil, errors.New("detector command is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultProcessTimeout
	}

	cmd := exec.CommandContext(ctx, cfg.Command[0], cfg.Command[1:]...)
	cmd.Env = cfg.Env
	cmd.Dir = cfg.Dir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start detector %q: %w", cfg.Command[0], err)
	}

	p := &Process{
		cfg:       cfg,
		cmd:       cmd,
		stdin:     stdin,
		responses: make(chan response, responseBuffer),
		exited:    make(chan struct{}),
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		p.readResponses(stdout)
	}()
	go func() {
		defer readers.Done()
		p.logStderr(stderr)
	}()
	go func() {
		readers.Wait()
		p.waitErr = cmd.Wait()
		if p.waitErr != nil && !p.closed.Load() {
			logger.Error("Detector", "worker exited: %v", p.waitErr)
		} else {
			logger.Debug("Detector", "worker exited")
		}
		close(p.exited)
	}()

	logger.Info("Detector", "worker started: pid=%d cmd=%s", cmd.Process.Pid, strings.Join(cfg.Command, " "))
	return p, nil
}

// Detect sends frame to the worker and waits for the matching response.
func (p *Process) Detect(ctx context.Context, frame *types.Frame) (Result, error) {
	if frame == nil {
		return Result{}, errors.New("nil frame")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed.Load() {
		return Result{}, ErrClosed
	}
	select {
	case <-p.exited:
		return Result{}, ErrClosed
	default:
	}

	start := time.Now()
	req := request{
		ID:         uuid.NewString(),
		Image:      base64.StdEncoding.EncodeToString(frame.Data),
		Width:      frame.Width,
		Height:     frame.Height,
		Classes:    p.cfg.Classes,
		Confidence: p.cfg.Confidence,
	}
	line, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("encode request: %w", err)
	}
	line = append(line, '\n')

	timer := time.NewTimer(p.cfg.Timeout)
	defer timer.Stop()

	// A hung worker can block the pipe write; the write runs aside so the
	// timeout still applies.
	written := make(chan error, 1)
	go func() {
		_, err := p.stdin.Write(line)
		written <- err
	}()

	select {
	case err := <-written:
		if err != nil {
			return Result{}, fmt.Errorf("write request: %w", err)
		}
	case <-timer.C:
		p.kill()
		return Result{}, fmt.Errorf("%w: write frame %d", ErrTimeout, frame.Seq)
	case <-ctx.Done():
		p.kill()
		return Result{}, ctx.Err()
	case <-p.exited:
		return Result{}, ErrClosed
	}

	for {
		select {
		case resp := <-p.responses:
			if resp.ID != req.ID {
				logger.Debug("Detector", "discarding stale response %s", resp.ID)
				continue
			}
			if resp.Error != "" {
				return Result{}, fmt.Errorf("detector: %s", resp.Error)
			}
			return Result{
				Detections: fromWire(resp.Detections),
				Timing:     resp.Timing,
				Latency:    time.Since(start),
			}, nil
		case <-timer.C:
			return Result{}, fmt.Errorf("%w: frame %d after %s", ErrTimeout, frame.Seq, p.cfg.Timeout)
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-p.exited:
			return Result{}, ErrClosed
		}
	}
}

// Close closes the worker's stdin and waits for it to exit, killing it
// after a grace period.
func (p *Process) Close() error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		_ = p.stdin.Close()
		select {
		case <-p.exited:
		case <-time.After(stopGracePeriod):
			logger.Warn("Detector", "worker did not exit, killing")
			p.kill()
			<-p.exited
		}
	})
	return nil
}

func (p *Process) kill() {
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
}

func (p *Process) readResponses(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxResponseLine)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp response
		if err := json.Unmarshal(line, &resp); err != nil {
			logger.Warn("Detector", "invalid response line: %v", err)
			continue
		}
		select {
		case p.responses <- resp:
		default:
			logger.Warn("Detector", "response buffer full, dropping %s", resp.ID)
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Error("Detector", "read stdout: %v", err)
	}
}

func (p *Process) logStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, "ERROR"), strings.Contains(line, "CRITICAL"):
			logger.Error("Detector", "worker: %s", line)
		case strings.Contains(line, "WARN"):
			logger.Warn("Detector", "worker: %s", line)
		default:
			logger.Debug("Detector", "worker: %s", line)
		}
	}
}

func fromWire(in []detectionWire) []Detection {
	out := make([]Detection, len(in))
	for i, d := range in {
		out[i] = Detection{
			ClassID:    d.ClassID,
			ClassName:  d.ClassName,
			Confidence: d.Confidence,
			BBox:       image.Rect(d.BBox.X, d.BBox.Y, d.BBox.X+d.BBox.W, d.BBox.Y+d.BBox.H),
		}
	}
	return out
}
