package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/pkg/types"
)

const maxMJPEGPart = 8 << 20

// MJPEG reads frames from an HTTP multipart/x-mixed-replace stream, as
// served by IP cameras and by the monitor's own /video_feed.
type MJPEG struct {
	url    string
	body   io.ReadCloser
	parts  *multipart.Reader
	cancel context.CancelFunc
	seq    sequencer
}

// NewMJPEG connects to url. A nil client uses http.DefaultClient.
func NewMJPEG(ctx context.Context, url string, client *http.Client) (*MJPEG, error) {
	if client == nil {
		client = http.DefaultClient
	}
	ctx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("connect %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("connect %s: unexpected status %s", url, resp.Status)
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") || params["boundary"] == "" {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("connect %s: not a multipart stream (%q)", url, resp.Header.Get("Content-Type"))
	}

	logger.Info("Capture", "MJPEG stream connected: %s", url)
	return &MJPEG{
		url:    url,
		body:   resp.Body,
		parts:  multipart.NewReader(resp.Body, params["boundary"]),
		cancel: cancel,
	}, nil
}

func (m *MJPEG) Name() string { return "mjpeg:" + m.url }

// Next returns the next JPEG part. A closed stream yields io.EOF.
func (m *MJPEG) Next(ctx context.Context) (*types.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for {
		part, err := m.parts.NextPart()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, io.EOF
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("read part: %w", err)
		}

		data, err := io.ReadAll(io.LimitReader(part, maxMJPEGPart))
		part.Close()
		if err != nil {
			return nil, fmt.Errorf("read part body: %w", err)
		}
		if len(data) == 0 {
			continue
		}

		var width, height int
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
			width, height = cfg.Width, cfg.Height
		} else {
			logger.Debug("Capture", "skipping undecodable part: %v", err)
			continue
		}
		return m.seq.frame(m.Name(), data, width, height), nil
	}
}

func (m *MJPEG) Close() error {
	m.cancel()
	return m.body.Close()
}
