package webmonitor

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/internal/logger"
)

// hub fans values out to subscribers. Slow subscribers miss values instead
// of blocking the publisher.
type hub[T any] struct {
	name    string
	mu      sync.Mutex
	clients map[int]chan T
	nextID  int
	closed  bool
	dropped uint64
}

func newHub[T any](name string) *hub[T] {
	return &hub[T]{
		name:    name,
		clients: make(map[int]chan T),
	}
}

// Subscribe adds a new client and returns a channel for receiving values.
// The channel is already closed when the hub has been stopped.
func (h *hub[T]) Subscribe() (int, <-chan T) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan T, 2) // Buffer 2 values to avoid blocking
	if h.closed {
		close(ch)
		return id, ch
	}
	h.clients[id] = ch

	logger.Debug(h.name, "Client #%d subscribed (total clients: %d)", id, len(h.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (h *hub[T]) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.clients[id]; ok {
		close(ch)
		delete(h.clients, id)
		logger.Debug(h.name, "Client #%d unsubscribed (remaining clients: %d)", id, len(h.clients))
	}
}

// Clients returns the number of subscribers.
func (h *hub[T]) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped returns how many deliveries were skipped on full buffers.
func (h *hub[T]) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

func (h *hub[T]) broadcast(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.clients {
		select {
		case ch <- v:
		default:
			h.dropped++
		}
	}
}

// stop closes every subscriber channel so streaming handlers return.
func (h *hub[T]) stop() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	h.closed = true
	for id, ch := range h.clients {
		close(ch)
		delete(h.clients, id)
	}
	return true
}

// FrameBroadcaster fans annotated JPEG frames out to MJPEG viewers.
type FrameBroadcaster struct {
	*hub[[]byte]

	latestMu sync.RWMutex
	latest   []byte
}

// NewFrameBroadcaster creates an empty frame broadcaster.
func NewFrameBroadcaster() *FrameBroadcaster {
	return &FrameBroadcaster{hub: newHub[[]byte]("FrameBroadcaster")}
}

// Publish stores jpeg as the latest frame and sends it to every viewer.
func (fb *FrameBroadcaster) Publish(jpeg []byte) {
	fb.latestMu.Lock()
	fb.latest = jpeg
	fb.latestMu.Unlock()

	fb.broadcast(jpeg)
}

// Latest returns the most recently published frame, or nil.
func (fb *FrameBroadcaster) Latest() []byte {
	fb.latestMu.RLock()
	defer fb.latestMu.RUnlock()
	return fb.latest
}

// Stop disconnects every viewer.
func (fb *FrameBroadcaster) Stop() {
	if fb.stop() {
		logger.Debug("FrameBroadcaster", "stopped")
	}
}

// SerializedEvent holds one event pre-serialized in both wire formats.
type SerializedEvent struct {
	JSONData     []byte // Pre-serialized JSON
	ProtobufData []byte // Pre-serialized google.protobuf.Struct, base64 encoded for SSE
}

// serializeEvent encodes payload once as JSON and once as a protobuf Struct.
func serializeEvent(payload any) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("json marshal: %w", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(jsonData, &fields); err != nil {
		return nil, fmt.Errorf("payload is not an object: %w", err)
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("protobuf struct: %w", err)
	}
	pbData, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("protobuf marshal: %w", err)
	}

	return &SerializedEvent{
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}

// DetectionBroadcaster pushes per-frame detection events to SSE clients.
type DetectionBroadcaster struct {
	*hub[*SerializedEvent]
}

// NewDetectionBroadcaster creates an empty detection broadcaster.
func NewDetectionBroadcaster() *DetectionBroadcaster {
	return &DetectionBroadcaster{hub: newHub[*SerializedEvent]("DetectionBroadcaster")}
}

// Publish serializes event and sends it to every subscriber. Serialization
// is skipped while nobody listens.
func (db *DetectionBroadcaster) Publish(event DetectionEvent) {
	if db.Clients() == 0 {
		return
	}
	serialized, err := serializeEvent(event)
	if err != nil {
		logger.Error("DetectionBroadcaster", "serialize error: %v", err)
		return
	}
	db.broadcast(serialized)
}

// Stop disconnects every subscriber.
func (db *DetectionBroadcaster) Stop() {
	db.stop()
}

// StatusBroadcaster samples the monitor status on a fixed interval and
// pushes it to SSE and WebSocket clients.
type StatusBroadcaster struct {
	*hub[*SerializedEvent]

	status   func() StatusPayload
	interval time.Duration
	done     chan struct{}
	once     sync.Once
}

// NewStatusBroadcaster creates a broadcaster sampling status every interval.
func NewStatusBroadcaster(status func() StatusPayload, interval time.Duration) *StatusBroadcaster {
	if interval <= 0 {
		interval = DefaultConfig().StatusInterval
	}
	return &StatusBroadcaster{
		hub:      newHub[*SerializedEvent]("StatusBroadcaster"),
		status:   status,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start begins the sampling loop.
func (sb *StatusBroadcaster) Start() {
	go sb.run()
}

// Stop halts the loop and disconnects every subscriber.
func (sb *StatusBroadcaster) Stop() {
	sb.once.Do(func() {
		close(sb.done)
		sb.stop()
	})
}

// Current serializes the status right now.
func (sb *StatusBroadcaster) Current() (*SerializedEvent, error) {
	return serializeEvent(sb.status())
}

func (sb *StatusBroadcaster) run() {
	logger.Info("StatusBroadcaster", "Starting status event broadcaster (interval=%v)...", sb.interval)
	ticker := time.NewTicker(sb.interval)
	defer ticker.Stop()

	for {
		select {
		case <-sb.done:
			return
		case <-ticker.C:
			if sb.Clients() == 0 {
				continue
			}
			event, err := sb.Current()
			if err != nil {
				logger.Error("StatusBroadcaster", "serialize error: %v", err)
				continue
			}
			sb.broadcast(event)
		}
	}
}
