package occupancy

import (
	"errors"
	"time"
)

const (
	// DefaultMaxPeopleChangePerFrame is the largest count jump between two
	// consecutive frames that is not treated as an anomaly.
	DefaultMaxPeopleChangePerFrame = 2
	// DefaultAlertDuration is how long a raised alert stays latched.
	DefaultAlertDuration = 5 * time.Second
	// DefaultOccupancyThreshold is the person count at which the door opens.
	DefaultOccupancyThreshold = 4
)

const (
	DoorOpen   = "Door Open"
	DoorClosed = "Door Closed"

	LightGreen = "green"
	LightRed   = "red"
)

// Mode is the latent state of the alert latch.
type Mode string

const (
	ModeNormal   Mode = "NORMAL"
	ModeAlerting Mode = "ALERTING"
)

var (
	errNegativeChange    = errors.New("max people change per frame must not be negative")
	errNonPositiveAlert  = errors.New("alert duration must be positive")
	errNegativeThreshold = errors.New("occupancy threshold must not be negative")
)

// Policy holds the thresholds driving door status and the spoofing alert.
type Policy struct {
	MaxPeopleChangePerFrame int
	AlertDuration           time.Duration
	OccupancyThreshold      int
}

// DefaultPolicy returns the policy the monitor ships with.
func DefaultPolicy() Policy {
	return Policy{
		MaxPeopleChangePerFrame: DefaultMaxPeopleChangePerFrame,
		AlertDuration:           DefaultAlertDuration,
		OccupancyThreshold:      DefaultOccupancyThreshold,
	}
}

// Validate reports whether the policy is usable.
func (p Policy) Validate() error {
	if p.MaxPeopleChangePerFrame < 0 {
		return errNegativeChange
	}
	if p.AlertDuration <= 0 {
		return errNonPositiveAlert
	}
	if p.OccupancyThreshold < 0 {
		return errNegativeThreshold
	}
	return nil
}

// State is everything the monitor remembers between frames.
// The zero value is the initial state: no people seen, no alert.
type State struct {
	LastCount  int
	AlertUntil time.Time
}

// AlertActiveAt reports whether the latch holds the alert at now.
func (s State) AlertActiveAt(now time.Time) bool {
	return !s.AlertUntil.IsZero() && now.Before(s.AlertUntil)
}

// Decision is the outcome of evaluating one frame.
type Decision struct {
	Count       int
	Delta       int
	Anomaly     bool
	DoorOpen    bool
	AlertActive bool
	AlertUntil  time.Time
}

// DoorStatus returns the human readable door status.
func (d Decision) DoorStatus() string {
	if d.DoorOpen {
		return DoorOpen
	}
	return DoorClosed
}

// Light returns the status light colour.
func (d Decision) Light() string {
	if d.DoorOpen {
		return LightGreen
	}
	return LightRed
}

// Mode returns the latch state the decision leaves the monitor in.
func (d Decision) Mode() Mode {
	if d.AlertActive {
		return ModeAlerting
	}
	return ModeNormal
}

// Evaluate applies one frame's person count to state. count must be
// non-negative. Evaluate has no side effects: identical inputs always yield
// identical outputs.
func (p Policy) Evaluate(state State, count int, now time.Time) (State, Decision) {
	delta := count - state.LastCount
	if delta < 0 {
		delta = -delta
	}

	next := state
	anomaly := delta > p.MaxPeopleChangePerFrame
	if anomaly {
		// alert_until only ever moves forward
		if until := now.Add(p.AlertDuration); until.After(next.AlertUntil) {
			next.AlertUntil = until
		}
	}
	next.LastCount = count

	return next, Decision{
		Count:       count,
		Delta:       delta,
		Anomaly:     anomaly,
		DoorOpen:    count >= p.OccupancyThreshold,
		AlertActive: next.AlertActiveAt(now),
		AlertUntil:  next.AlertUntil,
	}
}
