package occupancy

import (
	"sync"
	"time"
)

// Transition describes what a frame did to the alert latch.
type Transition string

const (
	TransitionNone     Transition = "none"
	TransitionRaised   Transition = "raised"
	TransitionExtended Transition = "extended"
	TransitionCleared  Transition = "cleared"
)

// Snapshot is an immutable view of the tracker after a frame.
type Snapshot struct {
	Decision
	Seq         uint64
	Frames      uint64
	Anomalies   uint64
	EvaluatedAt time.Time
	Transition  Transition
}

// Tracker owns the monitor state for one video stream and publishes
// snapshots to concurrent readers. Observe is expected to be called from a
// single capture loop; Snapshot may be called from anywhere.
type Tracker struct {
	policy Policy
	clock  Clock

	mu    sync.RWMutex
	state State
	last  Snapshot
}

// NewTracker creates a tracker in the initial NORMAL state.
func NewTracker(policy Policy, clock Clock) *Tracker {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Tracker{
		policy: policy,
		clock:  clock,
	}
}

// Policy returns the thresholds the tracker evaluates with.
func (t *Tracker) Policy() Policy {
	return t.policy
}

// Observe evaluates one frame's person count at the current clock time.
// Negative counts are treated as zero.
func (t *Tracker) Observe(seq uint64, count int) Snapshot {
	if count < 0 {
		count = 0
	}
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	wasActive := t.last.AlertActive && t.state.AlertActiveAt(now)
	next, decision := t.policy.Evaluate(t.state, count, now)

	transition := TransitionNone
	switch {
	case decision.Anomaly && wasActive:
		transition = TransitionExtended
	case decision.Anomaly:
		transition = TransitionRaised
	case t.last.AlertActive && !decision.AlertActive:
		transition = TransitionCleared
	}

	snap := Snapshot{
		Decision:    decision,
		Seq:         seq,
		Frames:      t.last.Frames + 1,
		Anomalies:   t.last.Anomalies,
		EvaluatedAt: now,
		Transition:  transition,
	}
	if decision.Anomaly {
		snap.Anomalies++
	}

	t.state = next
	t.last = snap
	return snap
}

// Snapshot returns the last published snapshot with the alert flag
// re-derived against the current time, so a latch that expires between
// frames is reported as cleared.
func (t *Tracker) Snapshot() Snapshot {
	now := t.clock.Now()

	t.mu.RLock()
	snap := t.last
	state := t.state
	t.mu.RUnlock()

	snap.AlertActive = state.AlertActiveAt(now)
	return snap
}

// State returns a copy of the raw monitor state.
func (t *Tracker) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Reset returns the tracker to its initial state.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = State{}
	t.last = Snapshot{}
}
