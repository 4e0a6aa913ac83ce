package eventlog

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// CSVHeader is the first row of every CSV log file, rotated backups included.
var CSVHeader = []string{"timestamp", "people_count", "door_status"}

const (
	megabyte       = 1024 * 1024
	defaultMaxSize = 100 // lumberjack's own default, in megabytes
)

// CSVConfig configures a CSV sink.
type CSVConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
}

// CSVSink appends records to a size-rotated CSV file. Rotation happens
// between rows, and each new file starts with CSVHeader.
type CSVSink struct {
	mu       sync.Mutex
	out      *lumberjack.Logger
	maxBytes int64
	size     int64 // bytes in the active file

	buf bytes.Buffer
	w   *csv.Writer
}

// NewCSVSink opens cfg.Path for appending. The header is written only when
// the file does not exist yet or is empty.
func NewCSVSink(cfg CSVConfig) (*CSVSink, error) {
	maxSize := cfg.MaxSizeMB
	if maxSize <= 0 {
		maxSize = defaultMaxSize
	}
	return openCSVSink(cfg, int64(maxSize)*megabyte)
}

func openCSVSink(cfg CSVConfig, maxBytes int64) (*CSVSink, error) {
	if cfg.Path == "" {
		return nil, errors.New("csv path is empty")
	}

	var size int64
	if info, err := os.Stat(cfg.Path); err == nil {
		size = info.Size()
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat %s: %w", cfg.Path, err)
	}

	s := &CSVSink{
		out: &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    int((maxBytes + megabyte - 1) / megabyte),
			MaxBackups: cfg.MaxBackups,
		},
		maxBytes: maxBytes,
		size:     size,
	}
	s.w = csv.NewWriter(&s.buf)

	if size == 0 {
		if err := s.writeRow(CSVHeader); err != nil {
			_ = s.out.Close()
			return nil, fmt.Errorf("write csv header: %w", err)
		}
	}
	return s, nil
}

func (s *CSVSink) Write(_ context.Context, rec Record) error {
	return s.writeRow([]string{
		rec.Timestamp.Format(TimestampLayout),
		strconv.Itoa(rec.PeopleCount),
		rec.DoorStatus,
	})
}

func (s *CSVSink) writeRow(row []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	line, err := s.encode(row)
	if err != nil {
		return err
	}

	if s.size > 0 && s.size+int64(len(line)) > s.maxBytes {
		if err := s.rotate(); err != nil {
			return err
		}
	}
	return s.write(line)
}

// rotate moves the active file aside and starts the next one with the header.
func (s *CSVSink) rotate() error {
	if err := s.out.Rotate(); err != nil {
		return fmt.Errorf("rotate csv log: %w", err)
	}
	s.size = 0

	header, err := s.encode(CSVHeader)
	if err != nil {
		return err
	}
	return s.write(header)
}

func (s *CSVSink) encode(row []string) ([]byte, error) {
	s.buf.Reset()
	if err := s.w.Write(row); err != nil {
		return nil, err
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return nil, err
	}
	return bytes.Clone(s.buf.Bytes()), nil
}

func (s *CSVSink) write(line []byte) error {
	n, err := s.out.Write(line)
	s.size += int64(n)
	return err
}

func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.Close()
}
