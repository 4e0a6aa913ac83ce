//go:build !gst

package capture

import "github.com/dj-oyu/rdk-x5_smart-door/door-monitor/pkg/types"

// NewCamera is unavailable without GStreamer.
func NewCamera(types.SourceConfig) (Source, error) {
	return nil, ErrGStreamerUnavailable
}
