package webmonitor

import "time"

// Config defines the runtime configuration for the web monitor server.
type Config struct {
	Addr           string
	StatusInterval time.Duration
	// MJPEGIdle is how long a viewer waits before a blank keepalive frame.
	MJPEGIdle    time.Duration
	SSEKeepalive time.Duration
	WSWriteWait  time.Duration
	HistorySize  int
	// AllowOrigin, when set, is sent as Access-Control-Allow-Origin on API routes.
	AllowOrigin string
}

// DefaultConfig returns the monitor defaults.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		StatusInterval: time.Second,
		MJPEGIdle:      5 * time.Second,
		SSEKeepalive:   30 * time.Second,
		WSWriteWait:    5 * time.Second,
		HistorySize:    8,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Addr == "" {
		c.Addr = def.Addr
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = def.StatusInterval
	}
	if c.MJPEGIdle <= 0 {
		c.MJPEGIdle = def.MJPEGIdle
	}
	if c.SSEKeepalive <= 0 {
		c.SSEKeepalive = def.SSEKeepalive
	}
	if c.WSWriteWait <= 0 {
		c.WSWriteWait = def.WSWriteWait
	}
	if c.HistorySize <= 0 {
		c.HistorySize = def.HistorySize
	}
	return c
}
