// Package statuscompat checks a running door monitor over HTTP against the
// dashboard contract. Tests skip when no server is reachable; point
// DOOR_MONITOR_URL at a running instance to enable them.
package statuscompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

const (
	defaultBaseURL        = "http://localhost:8080"
	defaultRequestTimeout = 2 * time.Second
)

type liveClient struct {
	baseURL string
	client  *http.Client
}

func newLiveClient(t *testing.T) *liveClient {
	t.Helper()
	baseURL := os.Getenv("DOOR_MONITOR_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client := &http.Client{Timeout: defaultRequestTimeout}

	if !isReachable(client, baseURL+"/api/status") {
		t.Skipf("door monitor not reachable at %s (set DOOR_MONITOR_URL to run)", baseURL)
	}

	return &liveClient{
		baseURL: baseURL,
		client:  client,
	}
}

func isReachable(client *http.Client, url string) bool {
	resp, err := client.Get(url)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 500
}

func (c *liveClient) do(t *testing.T, method, path string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, c.baseURL+path, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	_ = resp.Body.Close()
	return resp, body
}

func (c *liveClient) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	return c.do(t, http.MethodGet, path)
}

func (c *liveClient) post(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	return c.do(t, http.MethodPost, path)
}

// openStream starts a streaming GET that stays open until the test ends.
func (c *liveClient) openStream(t *testing.T, path string) *http.Response {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func readSSEEvent(url string, timeout time.Duration) (string, http.Header, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 256)
	for {
		n, readErr := resp.Body.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			for {
				idx := bytes.Index(buf, []byte("\n\n"))
				if idx < 0 {
					break
				}
				event := string(buf[:idx])
				buf = buf[idx+2:]
				// skip keepalive comments
				if strings.HasPrefix(event, ":") {
					continue
				}
				return event, resp.Header, nil
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return "", nil, fmt.Errorf("sse stream closed before event")
			}
			return "", nil, fmt.Errorf("read sse: %w", readErr)
		}
	}
}

func parseSSEData(t *testing.T, event string) map[string]any {
	t.Helper()
	for _, line := range strings.Split(event, "\n") {
		if strings.HasPrefix(line, "data:") {
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" {
				t.Fatalf("empty sse data line")
			}
			return decodeJSONMap(t, []byte(payload))
		}
	}
	t.Fatalf("no data line in sse event: %q", event)
	return nil
}

func decodeJSONMap(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode json: %v\nbody=%s", err, string(body))
	}
	return payload
}

func requireString(t *testing.T, value any, field string) string {
	t.Helper()
	str, ok := value.(string)
	if !ok {
		t.Fatalf("expected %s to be string, got %T", field, value)
	}
	return str
}

func requireNumber(t *testing.T, value any, field string) float64 {
	t.Helper()
	num, ok := value.(float64)
	if !ok {
		t.Fatalf("expected %s to be number, got %T", field, value)
	}
	return num
}

func requireBool(t *testing.T, value any, field string) bool {
	t.Helper()
	b, ok := value.(bool)
	if !ok {
		t.Fatalf("expected %s to be bool, got %T", field, value)
	}
	return b
}

func requireMap(t *testing.T, value any, field string) map[string]any {
	t.Helper()
	m, ok := value.(map[string]any)
	if !ok {
		t.Fatalf("expected %s to be object, got %T", field, value)
	}
	return m
}

func requireSlice(t *testing.T, value any, field string) []any {
	t.Helper()
	s, ok := value.([]any)
	if !ok {
		t.Fatalf("expected %s to be array, got %T", field, value)
	}
	return s
}

func requireOneOf(t *testing.T, got, field string, allowed ...string) {
	t.Helper()
	for _, a := range allowed {
		if got == a {
			return
		}
	}
	t.Fatalf("%s = %q, want one of %q", field, got, allowed)
}

// assertStatusPayload checks the dashboard status document and the
// relations between its fields.
func assertStatusPayload(t *testing.T, payload map[string]any) {
	t.Helper()
	door := requireString(t, payload["door_status"], "door_status")
	requireOneOf(t, door, "door_status", "Door Open", "Door Closed")

	light := requireString(t, payload["light"], "light")
	requireOneOf(t, light, "light", "green", "red")

	mode := requireString(t, payload["mode"], "mode")
	requireOneOf(t, mode, "mode", "NORMAL", "ALERTING")

	people := requireNumber(t, payload["people_count"], "people_count")
	if people < 0 {
		t.Fatalf("people_count = %v, want >= 0", people)
	}

	alert := requireBool(t, payload["alert_active"], "alert_active")
	if alert {
		requireNumber(t, payload["alert_until"], "alert_until")
		if door != "Door Closed" || light != "red" || mode != "ALERTING" {
			t.Fatalf("alert active but door=%q light=%q mode=%q", door, light, mode)
		}
	} else {
		if payload["alert_until"] != nil {
			t.Fatalf("alert_until = %v without an active alert", payload["alert_until"])
		}
		if mode != "NORMAL" {
			t.Fatalf("mode = %q without an active alert", mode)
		}
		if (door == "Door Open") != (light == "green") {
			t.Fatalf("door=%q does not match light=%q", door, light)
		}
	}

	requireNumber(t, payload["frames_processed"], "frames_processed")
	requireNumber(t, payload["anomalies"], "anomalies")
	requireString(t, payload["model_status"], "model_status")
	requireBool(t, payload["recording"], "recording")
	requireNumber(t, payload["timestamp"], "timestamp")
}

func assertDetectionPayload(t *testing.T, payload map[string]any) {
	t.Helper()
	requireNumber(t, payload["frame_number"], "frame_number")
	requireNumber(t, payload["timestamp"], "timestamp")
	people := requireNumber(t, payload["people_count"], "people_count")
	detections := requireSlice(t, payload["detections"], "detections")
	if int(people) > len(detections) {
		t.Fatalf("people_count %v exceeds %d detections", people, len(detections))
	}
	for i, raw := range detections {
		det := requireMap(t, raw, fmt.Sprintf("detections[%d]", i))
		requireString(t, det["class_name"], "detections.class_name")
		requireNumber(t, det["confidence"], "detections.confidence")
		bbox := requireMap(t, det["bbox"], "detections.bbox")
		requireNumber(t, bbox["x"], "detections.bbox.x")
		requireNumber(t, bbox["y"], "detections.bbox.y")
		requireNumber(t, bbox["w"], "detections.bbox.w")
		requireNumber(t, bbox["h"], "detections.bbox.h")
	}
}
