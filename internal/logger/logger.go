// Package logger is the process-wide leveled logger. Every line carries the
// name of the component that wrote it.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents the severity of a log message
type LogLevel int32

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	SILENT // No logging
)

var levelNames = [...]string{
	DEBUG:  "DEBUG",
	INFO:   "INFO",
	WARN:   "WARN",
	ERROR:  "ERROR",
	SILENT: "SILENT",
}

// Logger writes module-tagged, leveled lines through a zap console core.
// The level can be changed while other goroutines log.
type Logger struct {
	level atomic.Int32
	base  *zap.SugaredLogger
}

// New creates a logger writing to output (stderr when nil).
func New(level LogLevel, output io.Writer, useColor bool) *Logger {
	if output == nil {
		output = os.Stderr
	}

	levelEncoder := zapcore.CapitalLevelEncoder
	if useColor {
		levelEncoder = zapcore.CapitalColorLevelEncoder
	}

	encoder := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		TimeKey:          "time",
		MessageKey:       "message",
		LevelKey:         "level",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeLevel:      levelEncoder,
		EncodeTime:       zapcore.ISO8601TimeEncoder,
		EncodeDuration:   zapcore.StringDurationEncoder,
		ConsoleSeparator: " ",
	})

	// the core accepts everything; enabled() filters
	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(output)), zapcore.DebugLevel)

	l := &Logger{base: zap.New(core).Sugar()}
	l.level.Store(int32(level))
	return l
}

// SetLevel changes the minimum level written.
func (l *Logger) SetLevel(level LogLevel) { l.level.Store(int32(level)) }

// GetLevel returns the minimum level written.
func (l *Logger) GetLevel() LogLevel { return LogLevel(l.level.Load()) }

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.base.Sync()
}

func (l *Logger) enabled(level LogLevel) bool {
	return level != SILENT && level >= l.GetLevel()
}

func (l *Logger) log(level LogLevel, module string, format string, args []any) {
	if !l.enabled(level) {
		return
	}

	msg := fmt.Sprintf(format, args...)
	var fields []any
	if module != "" {
		fields = []any{"module", module}
	}

	switch level {
	case DEBUG:
		l.base.Debugw(msg, fields...)
	case INFO:
		l.base.Infow(msg, fields...)
	case WARN:
		l.base.Warnw(msg, fields...)
	case ERROR:
		l.base.Errorw(msg, fields...)
	}
}

func (l *Logger) Debug(module string, format string, args ...any) {
	l.log(DEBUG, module, format, args)
}

func (l *Logger) Info(module string, format string, args ...any) {
	l.log(INFO, module, format, args)
}

func (l *Logger) Warn(module string, format string, args ...any) {
	l.log(WARN, module, format, args)
}

func (l *Logger) Error(module string, format string, args ...any) {
	l.log(ERROR, module, format, args)
}

// global is what the package-level functions write to. Until Init it logs
// INFO and above to stderr without colour.
var global atomic.Pointer[Logger]

func init() {
	global.Store(New(INFO, os.Stderr, false))
}

// Init replaces the global logger.
func Init(level LogLevel, output io.Writer, useColor bool) {
	previous := global.Swap(New(level, output, useColor))
	_ = previous.Sync()
}

// Default returns the global logger.
func Default() *Logger { return global.Load() }

func SetLevel(level LogLevel) { Default().SetLevel(level) }

func GetLevel() LogLevel { return Default().GetLevel() }

// Sync flushes the global logger.
func Sync() { _ = Default().Sync() }

func Debug(module string, format string, args ...any) { Default().log(DEBUG, module, format, args) }

func Info(module string, format string, args ...any) { Default().log(INFO, module, format, args) }

func Warn(module string, format string, args ...any) { Default().log(WARN, module, format, args) }

func Error(module string, format string, args ...any) { Default().log(ERROR, module, format, args) }

// ParseLevel parses a level name, case-insensitively. Unknown names return
// INFO and an error.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG, nil
	case "info", "":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	case "silent", "none", "off":
		return SILENT, nil
	default:
		return INFO, fmt.Errorf("invalid log level: %s", s)
	}
}

func (l LogLevel) String() string {
	if l >= 0 && int(l) < len(levelNames) {
		return levelNames[l]
	}
	return "UNKNOWN"
}
