package webmonitor

import (
	"time"

	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/internal/detector"
)

// BoundingBox is the JSON shape of a detection box.
type BoundingBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Detection is the JSON shape of one detected object.
type Detection struct {
	ClassID    int         `json:"class_id"`
	ClassName  string      `json:"class_name"`
	Confidence float64     `json:"confidence"`
	BBox       BoundingBox `json:"bbox"`
}

// DetectionEvent is the payload for /api/detections/stream.
type DetectionEvent struct {
	FrameNumber uint64      `json:"frame_number"`
	Timestamp   float64     `json:"timestamp"`
	PeopleCount int         `json:"people_count"`
	Detections  []Detection `json:"detections"`
}

// StatusPayload is served by /api/status and pushed over SSE and WebSocket.
type StatusPayload struct {
	DoorStatus      string   `json:"door_status"`
	PeopleCount     int      `json:"people_count"`
	AlertActive     bool     `json:"alert_active"`
	AlertUntil      *float64 `json:"alert_until"`
	Light           string   `json:"light"`
	Mode            string   `json:"mode"`
	FramesProcessed uint64   `json:"frames_processed"`
	Anomalies       uint64   `json:"anomalies"`
	ModelStatus     string   `json:"model_status"`
	Recording       bool     `json:"recording"`
	Timestamp       float64  `json:"timestamp"`
}

// HealthPayload is served by /healthz.
type HealthPayload struct {
	Status      string  `json:"status"`
	Source      string  `json:"source"`
	Detector    string  `json:"detector"`
	ModelStatus string  `json:"model_status"`
	Frames      uint64  `json:"frames_processed"`
	LastFrame   *string `json:"last_frame"`
	UptimeSec   float64 `json:"uptime_s"`
}

func convertDetections(dets []detector.Detection) []Detection {
	out := make([]Detection, len(dets))
	for i, d := range dets {
		out[i] = Detection{
			ClassID:    d.ClassID,
			ClassName:  d.ClassName,
			Confidence: d.Confidence,
			BBox: BoundingBox{
				X: d.BBox.Min.X,
				Y: d.BBox.Min.Y,
				W: d.BBox.Dx(),
				H: d.BBox.Dy(),
			},
		}
	}
	return out
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
