// Package notify delivers spoofing alerts to operators.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/internal/occupancy"
)

// Alert describes a newly raised spoofing alert.
type Alert struct {
	Count      int
	Delta      int
	DoorStatus string
	RaisedAt   time.Time
	Until      time.Time
	FrameSeq   uint64
}

// AlertFromSnapshot builds an alert from the snapshot that raised it.
func AlertFromSnapshot(s occupancy.Snapshot) Alert {
	return Alert{
		Count:      s.Count,
		Delta:      s.Delta,
		DoorStatus: s.DoorStatus(),
		RaisedAt:   s.EvaluatedAt,
		Until:      s.AlertUntil,
		FrameSeq:   s.Seq,
	}
}

// Text renders the alert as a Markdown message.
func (a Alert) Text() string {
	var b strings.Builder
	b.WriteString("*SECURITY ALERT*\nPotential video spoofing detected\n\n")
	fmt.Fprintf(&b, "*People:* %d (changed by %d)\n", a.Count, a.Delta)
	fmt.Fprintf(&b, "*Door:* %s\n", a.DoorStatus)
	fmt.Fprintf(&b, "*Raised:* %s\n", a.RaisedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "*Until:* %s\n", a.Until.Format(time.RFC3339))
	fmt.Fprintf(&b, "*Frame:* %d", a.FrameSeq)
	return b.String()
}

// Notifier sends an alert somewhere.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// Dispatcher sends alerts from a bounded queue on its own goroutine so the
// frame loop never waits on the network. Alerts that do not fit are dropped.
type Dispatcher struct {
	notifier Notifier
	queue    chan Alert
	timeout  time.Duration

	sent    atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64

	mu     sync.Mutex // guards closed and sends on queue
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher with room for size pending alerts.
func NewDispatcher(n Notifier, size int, timeout time.Duration) *Dispatcher {
	if size <= 0 {
		size = 8
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{
		notifier: n,
		queue:    make(chan Alert, size),
		timeout:  timeout,
	}
}

// Start runs the delivery loop until Close.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for a := range d.queue {
			sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
			err := d.notifier.Notify(sendCtx, a)
			cancel()
			if err != nil {
				d.failed.Add(1)
				logger.Error("Notify", "alert for frame %d not delivered: %v", a.FrameSeq, err)
				continue
			}
			d.sent.Add(1)
			logger.Info("Notify", "alert for frame %d delivered", a.FrameSeq)
		}
	}()
}

// Enqueue queues a without blocking and reports whether it was accepted.
// Alerts after Close are refused.
func (d *Dispatcher) Enqueue(a Alert) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		d.dropped.Add(1)
		logger.Warn("Notify", "dispatcher closed, dropping alert for frame %d", a.FrameSeq)
		return false
	}
	select {
	case d.queue <- a:
		return true
	default:
		d.dropped.Add(1)
		logger.Warn("Notify", "alert queue full, dropping alert for frame %d", a.FrameSeq)
		return false
	}
}

// Stats returns delivery counters.
func (d *Dispatcher) Stats() (sent, failed, dropped uint64) {
	return d.sent.Load(), d.failed.Load(), d.dropped.Load()
}

// Close stops accepting alerts and waits for queued ones to be attempted.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}
