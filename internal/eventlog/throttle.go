package eventlog

import (
	"context"
	"sync"
	"time"
)

// Throttle decides which records are worth writing: a record passes when
// the people count or door status changed, or when interval has elapsed
// since the last record that passed. A zero interval passes everything.
type Throttle struct {
	interval time.Duration

	mu     sync.Mutex
	last   Record
	lastAt time.Time
	seen   bool
}

// NewThrottle creates a throttle.
func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{interval: interval}
}

// Allow reports whether rec should be written and, if so, remembers it.
func (t *Throttle) Allow(rec Record) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	pass := !t.seen ||
		t.interval <= 0 ||
		rec.PeopleCount != t.last.PeopleCount ||
		rec.DoorStatus != t.last.DoorStatus ||
		rec.Timestamp.Sub(t.lastAt) >= t.interval
	if pass {
		t.last = rec
		t.lastAt = rec.Timestamp
		t.seen = true
	}
	return pass
}

type throttled struct {
	Sink
	throttle *Throttle
}

// Throttled wraps sink so that only records allowed by a Throttle with
// interval reach it.
func Throttled(sink Sink, interval time.Duration) Sink {
	return &throttled{Sink: sink, throttle: NewThrottle(interval)}
}

func (t *throttled) Write(ctx context.Context, rec Record) error {
	if !t.throttle.Allow(rec) {
		return nil
	}
	return t.Sink.Write(ctx, rec)
}
