package webmonitor

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/internal/detector"
	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/internal/integrity"
	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/internal/occupancy"
	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/internal/recorder"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	server  *Server
	http    *httptest.Server
	clock   *manualClock
	tracker *occupancy.Tracker
	rec     *recorder.Recorder
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, cfg Config, model integrity.Status, withRecorder bool) *fixture {
	t.Helper()

	clock := &manualClock{now: t0}
	tracker := occupancy.NewTracker(occupancy.DefaultPolicy(), clock)
	monitor := NewMonitor(tracker, "synthetic", "scripted", model)
	m := metrics.New()

	var rec *recorder.Recorder
	if withRecorder {
		rec = recorder.NewRecorder(t.TempDir())
		t.Cleanup(func() { _ = rec.Close() })
	}

	if cfg.StatusInterval == 0 {
		cfg.StatusInterval = 20 * time.Millisecond
	}
	srv := NewServer(cfg, monitor, rec, m)
	ts := httptest.NewServer(srv.Handler())
	// Cleanups run last-in first-out: streams end before the listener closes.
	t.Cleanup(ts.Close)
	t.Cleanup(srv.Close)

	return &fixture{server: srv, http: ts, clock: clock, tracker: tracker, rec: rec, metrics: m}
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp
}

func TestStatusReportsAlert(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, integrity.StatusOK, false)
	f.tracker.Observe(1, 0)
	f.clock.Advance(time.Second)
	f.tracker.Observe(2, 5)

	var status StatusPayload
	resp := getJSON(t, f.http.URL+"/api/status", &status)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	require.Equal(t, occupancy.DoorOpen, status.DoorStatus)
	require.Equal(t, 5, status.PeopleCount)
	require.True(t, status.AlertActive)
	require.NotNil(t, status.AlertUntil)
	require.InDelta(t, unixSeconds(t0.Add(6*time.Second)), *status.AlertUntil, 1e-3)
	require.Equal(t, occupancy.LightGreen, status.Light)
	require.Equal(t, string(occupancy.ModeAlerting), status.Mode)
	require.EqualValues(t, 2, status.FramesProcessed)
	require.EqualValues(t, 1, status.Anomalies)
	require.Equal(t, "ok", status.ModelStatus)
}

func TestStatusAlertExpiresBetweenFrames(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, integrity.StatusOK, false)
	f.tracker.Observe(1, 3)
	f.clock.Advance(6 * time.Second)

	var status StatusPayload
	getJSON(t, f.http.URL+"/api/status", &status)
	require.False(t, status.AlertActive)
	require.Nil(t, status.AlertUntil)
	require.Equal(t, string(occupancy.ModeNormal), status.Mode)
	require.Equal(t, occupancy.DoorClosed, status.DoorStatus)
	require.Equal(t, occupancy.LightRed, status.Light)
}

func TestHealth(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, integrity.StatusTampered, false)
	var health HealthPayload
	getJSON(t, f.http.URL+"/healthz", &health)
	require.Equal(t, "degraded", health.Status)
	require.Equal(t, "synthetic", health.Source)
	require.Equal(t, "scripted", health.Detector)
	require.Equal(t, "tampered", health.ModelStatus)
	require.Nil(t, health.LastFrame)

	f.server.Monitor().SetModelStatus(integrity.StatusOK)
	f.server.Monitor().MarkFrame(t0)
	getJSON(t, f.http.URL+"/healthz", &health)
	require.Equal(t, "ok", health.Status)
	require.NotNil(t, health.LastFrame)
}

func TestIndexAndNotFound(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, integrity.StatusOK, false)

	resp, err := http.Get(f.http.URL + "/")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "Smart Door Monitor")
	require.Contains(t, string(body), "/video_feed")

	resp, err = http.Get(f.http.URL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRecordingEndpoints(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, integrity.StatusOK, true)
	base := f.http.URL + "/api/recording/"

	resp, err := http.Get(base + "start")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	post := func(path string) (int, map[string]any) {
		resp, err := http.Post(base+path, "application/json", nil)
		require.NoError(t, err)
		defer resp.Body.Close()
		var out map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return resp.StatusCode, out
	}

	code, body := post("start?filename=door")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "recording", body["status"])
	require.True(t, strings.HasSuffix(body["file"].(string), "door.mjpeg"))

	code, body = post("start")
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, recorder.ErrAlreadyRecording.Error(), body["error"])

	var status recorder.RecordingStatus
	getJSON(t, base+"status", &status)
	require.True(t, status.Recording)
	require.Equal(t, recorder.TriggerManual, status.Trigger)

	var payload StatusPayload
	getJSON(t, f.http.URL+"/api/status", &payload)
	require.True(t, payload.Recording)

	code, body = post("stop")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "stopped", body["status"])
	require.Contains(t, body, "stats")

	code, body = post("stop")
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, recorder.ErrNotRecording.Error(), body["error"])
}

func TestRecordingDisabled(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, integrity.StatusOK, false)
	resp, err := http.Post(f.http.URL+"/api/recording/start", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var status recorder.RecordingStatus
	getJSON(t, f.http.URL+"/api/recording/status", &status)
	require.False(t, status.Recording)
}

// readMJPEGPart reads one multipart/x-mixed-replace part using its
// Content-Length, so a part is returned before the next boundary arrives.
func readMJPEGPart(t *testing.T, r *bufio.Reader) (textproto.MIMEHeader, []byte) {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if strings.TrimSpace(line) == "--"+mjpegBoundary {
			break
		}
	}
	header, err := textproto.NewReader(r).ReadMIMEHeader()
	require.NoError(t, err)
	n, err := strconv.Atoi(header.Get("Content-Length"))
	require.NoError(t, err)
	data := make([]byte, n)
	_, err = io.ReadFull(r, data)
	require.NoError(t, err)
	return header, data
}

func TestMJPEGStream(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, integrity.StatusOK, false)
	frameA := []byte{0xff, 0xd8, 'a', 0xff, 0xd9}
	frameB := []byte{0xff, 0xd8, 'b', 0xff, 0xd9}
	f.server.Frames().Publish(frameA)

	resp, err := http.Get(f.http.URL + "/video_feed")
	require.NoError(t, err)
	defer resp.Body.Close()

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	require.NoError(t, err)
	require.Equal(t, "multipart/x-mixed-replace", mediaType)
	require.Equal(t, "frame", params["boundary"])

	r := bufio.NewReader(resp.Body)
	header, data := readMJPEGPart(t, r)
	require.Equal(t, "image/jpeg", header.Get("Content-Type"))
	require.Equal(t, frameA, data, "latest frame is sent on connect")

	require.Eventually(t, func() bool { return f.metrics.MJPEGClients.Load() == 1 }, time.Second, 5*time.Millisecond)
	f.server.Frames().Publish(frameB)

	_, data = readMJPEGPart(t, r)
	require.Equal(t, frameB, data)
}

func TestMJPEGKeepaliveSendsBlankFrame(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{MJPEGIdle: 20 * time.Millisecond}, integrity.StatusOK, false)
	blank, err := blankJPEG()
	require.NoError(t, err)

	resp, err := http.Get(f.http.URL + "/stream")
	require.NoError(t, err)
	defer resp.Body.Close()

	r := bufio.NewReader(resp.Body)
	for _i := 0; _i < 2; _i++ {
		_, data := readMJPEGPart(t, r)
		require.Equal(t, blank, data)
	}
}

func TestSnapshot(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, integrity.StatusOK, false)
	frame := []byte{0xff, 0xd8, 'x', 0xff, 0xd9}
	f.server.Frames().Publish(frame)

	resp, err := http.Get(f.http.URL + "/snapshot.jpg")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, frame, data)
}

func readSSEData(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		}
	}
}

func TestStatusStreamJSON(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, integrity.StatusOK, false)
	f.tracker.Observe(1, 4)

	resp, err := http.Get(f.http.URL + "/api/status/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	require.Equal(t, "application/json", resp.Header.Get("X-Content-Format"))

	r := bufio.NewReader(resp.Body)
	for _i := 0; _i < 2; _i++ {
		var status StatusPayload
		require.NoError(t, json.Unmarshal([]byte(readSSEData(t, r)), &status))
		require.Equal(t, 4, status.PeopleCount)
		require.Equal(t, occupancy.DoorOpen, status.DoorStatus)
	}
}

func TestStatusStreamProtobuf(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, integrity.StatusOK, false)
	f.tracker.Observe(1, 2)

	req, err := http.NewRequest(http.MethodGet, f.http.URL+"/api/status/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "application/protobuf")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "application/protobuf", resp.Header.Get("X-Content-Format"))

	raw, err := base64.StdEncoding.DecodeString(readSSEData(t, bufio.NewReader(resp.Body)))
	require.NoError(t, err)
	var st structpb.Struct
	require.NoError(t, proto.Unmarshal(raw, &st))
	require.Equal(t, occupancy.DoorClosed, st.Fields["door_status"].GetStringValue())
	require.EqualValues(t, 2, st.Fields["people_count"].GetNumberValue())
	require.False(t, st.Fields["alert_active"].GetBoolValue())
}

func TestDetectionsStream(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, integrity.StatusOK, false)

	resp, err := http.Get(f.http.URL + "/api/detections/stream")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Eventually(t, func() bool { return f.server.Detections().Clients() == 1 }, time.Second, 5*time.Millisecond)

	result := detector.Result{Detections: []detector.Detection{
		{ClassID: 0, ClassName: "person", Confidence: 0.9},
		{ClassID: 2, ClassName: "car", Confidence: 0.5},
	}}
	event := f.server.Monitor().UpdateDetection(7, t0, result)
	f.server.Detections().Publish(event)

	var got DetectionEvent
	require.NoError(t, json.Unmarshal([]byte(readSSEData(t, bufio.NewReader(resp.Body))), &got))
	require.EqualValues(t, 7, got.FrameNumber)
	require.Equal(t, 1, got.PeopleCount)
	require.Len(t, got.Detections, 2)

	var history struct {
		Latest  *DetectionEvent  `json:"latest_detection"`
		History []DetectionEvent `json:"detection_history"`
	}
	getJSON(t, f.http.URL+"/api/detections", &history)
	require.NotNil(t, history.Latest)
	require.Len(t, history.History, 1)
}

func TestStatusWebSocket(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, integrity.StatusOK, false)
	f.tracker.Observe(1, 1)

	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws/status"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	for _i := 0; _i < 2; _i++ {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		msgType, data, err := conn.ReadMessage()
		require.NoError(t, err)
		require.Equal(t, websocket.TextMessage, msgType)

		var status StatusPayload
		require.NoError(t, json.Unmarshal(data, &status))
		require.Equal(t, 1, status.PeopleCount)
	}
	require.Eventually(t, func() bool { return f.metrics.StatusClients.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestCloseEndsStreams(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, integrity.StatusOK, false)

	resp, err := http.Get(f.http.URL + "/api/status/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	readSSEData(t, bufio.NewReader(resp.Body))

	f.server.Close()
	_, err = io.Copy(io.Discard, resp.Body)
	require.NoError(t, err)
}

func TestMetricsRoute(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, integrity.StatusOK, false)
	resp, err := http.Get(f.http.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Contains(t, string(body), "door_people_count")
}

func TestCORS(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{AllowOrigin: "http://dashboard.local"}, integrity.StatusOK, false)
	req, err := http.NewRequest(http.MethodOptions, f.http.URL+"/api/status", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "http://dashboard.local", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestSerializeEventRejectsNonObjects(t *testing.T) {
	t.Parallel()

	_, err := serializeEvent([]int{1, 2})
	require.Error(t, err)

	ev, err := serializeEvent(StatusPayload{DoorStatus: occupancy.DoorClosed})
	require.NoError(t, err)
	require.Contains(t, string(ev.JSONData), `"door_status":"Door Closed"`)
	require.NotEmpty(t, ev.ProtobufData)
}

func TestHubDropsForSlowClients(t *testing.T) {
	t.Parallel()

	fb := NewFrameBroadcaster()
	id, ch := fb.Subscribe()
	for _i := 0; _i < 5; _i++ {
		fb.Publish([]byte{1})
	}
	require.Len(t, ch, 2)
	require.EqualValues(t, 3, fb.Dropped())

	fb.Unsubscribe(id)
	fb.Unsubscribe(id)
	fb.Stop()

	_, ch = fb.Subscribe()
	_, open := <-ch
	require.False(t, open, "subscribing after stop yields a closed channel")
}
