package eventlog

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresSink inserts records into a PostgreSQL table.
type PostgresSink struct {
	db     execer
	insert string
	close  func()
}

// NewPostgresSink connects to dsn and creates table if it does not exist.
func NewPostgresSink(ctx context.Context, dsn, table string) (*PostgresSink, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	s := newPostgresSink(pool, table)
	s.close = pool.Close

	if err := s.migrate(ctx, table); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func newPostgresSink(db execer, table string) *PostgresSink {
	return &PostgresSink{
		db: db,
		insert: fmt.Sprintf(`
    INSERT INTO %s (
        id, ts, people_count, door_status, alert_active, anomaly, frame_seq
    ) VALUES ($1, $2, $3, $4, $5, $6, $7)`, table),
	}
}

func (s *PostgresSink) migrate(ctx context.Context, table string) error {
	query := fmt.Sprintf(`
    CREATE TABLE IF NOT EXISTS %s (
        id           UUID PRIMARY KEY,
        ts           TIMESTAMPTZ NOT NULL,
        people_count INTEGER NOT NULL,
        door_status  TEXT NOT NULL,
        alert_active BOOLEAN NOT NULL,
        anomaly      BOOLEAN NOT NULL,
        frame_seq    BIGINT NOT NULL
    )`, table)
	if _, err := s.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	return nil
}

func (s *PostgresSink) Write(ctx context.Context, rec Record) error {
	_, err := s.db.Exec(ctx, s.insert,
		rec.ID,
		rec.Timestamp,
		rec.PeopleCount,
		rec.DoorStatus,
		rec.AlertActive,
		rec.Anomaly,
		int64(rec.FrameSeq),
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

func (s *PostgresSink) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}
