// Package eventlog persists occupancy records to CSV, Kafka and PostgreSQL.
package eventlog

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/internal/occupancy"
)

// TimestampLayout is the timestamp format of CSV records.
const TimestampLayout = "2006-01-02 15:04:05"

// Record is one occupancy log entry.
type Record struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	PeopleCount int       `json:"people_count"`
	DoorStatus  string    `json:"door_status"`
	AlertActive bool      `json:"alert_active"`
	Anomaly     bool      `json:"anomaly"`
	FrameSeq    uint64    `json:"frame_seq"`
}

// FromSnapshot builds a record from a tracker snapshot.
func FromSnapshot(s occupancy.Snapshot) Record {
	return Record{
		ID:          uuid.NewString(),
		Timestamp:   s.EvaluatedAt,
		PeopleCount: s.Count,
		DoorStatus:  s.DoorStatus(),
		AlertActive: s.AlertActive,
		Anomaly:     s.Anomaly,
		FrameSeq:    s.Seq,
	}
}

// Sink stores records.
type Sink interface {
	Write(ctx context.Context, rec Record) error
	Close() error
}

// Multi writes every record to all sinks.
type Multi []Sink

func (m Multi) Write(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
