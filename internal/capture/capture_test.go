package capture

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/pkg/types"
)

func encodeBars(t *testing.T, w, h, offset int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, ColorBars(w, h, offset), nil))
	return buf.Bytes()
}

func TestSyntheticFrames(t *testing.T) {
	t.Parallel()

	src := NewSynthetic(types.SourceConfig{Width: 160, Height: 120})
	defer src.Close()

	for i := 1; i <= 3; i++ {
		f, err := src.Next(context.Background())
		require.NoError(t, err)
		require.EqualValues(t, i, f.Seq)
		require.Equal(t, 160, f.Width)
		require.Equal(t, 120, f.Height)
		require.NotEmpty(t, f.TraceID)

		img, err := f.Decode()
		require.NoError(t, err)
		require.Equal(t, 160, img.Bounds().Dx())
	}
}

func TestSyntheticRespectsContext(t *testing.T) {
	t.Parallel()

	src := NewSynthetic(types.SourceConfig{FPS: 0.5})
	_, err := src.Next(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = src.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOpenLimit(t *testing.T) {
	t.Parallel()

	src, err := Open(context.Background(), types.SourceConfig{Kind: "synthetic", Width: 32, Height: 24, Limit: 2})
	require.NoError(t, err)

	for _i := 0; _i < 2; _i++ {
		_, err := src.Next(context.Background())
		require.NoError(t, err)
	}
	_, err = src.Next(context.Background())
	require.ErrorIs(t, err, io.EOF)
}

func TestOpenUnknownKind(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), types.SourceConfig{Kind: "vhs"})
	require.Error(t, err)
}

func writeFrames(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	for i := 0; i < n; i++ {
		name := filepath.Join(dir, fmt.Sprintf("frame_%03d.jpg", i))
		require.NoError(t, os.WriteFile(name, encodeBars(t, 64, 48, i), 0o600))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))
	return dir
}

func TestDirectoryPlaysInOrder(t *testing.T) {
	t.Parallel()

	dir := writeFrames(t, 3)
	src, err := NewDirectory(types.SourceConfig{Dir: dir})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		f, err := src.Next(context.Background())
		require.NoError(t, err)
		require.EqualValues(t, i+1, f.Seq)
		require.Equal(t, 64, f.Width)
		require.Equal(t, 48, f.Height)
		want, err := os.ReadFile(filepath.Join(dir, fmt.Sprintf("frame_%03d.jpg", i)))
		require.NoError(t, err)
		require.Equal(t, want, f.Data)
	}

	_, err = src.Next(context.Background())
	require.ErrorIs(t, err, io.EOF)
}

func TestDirectoryLoops(t *testing.T) {
	t.Parallel()

	src, err := NewDirectory(types.SourceConfig{Dir: writeFrames(t, 2), Loop: true})
	require.NoError(t, err)

	for _i := 0; _i < 5; _i++ {
		_, err := src.Next(context.Background())
		require.NoError(t, err)
	}
}

func TestDirectoryEmpty(t *testing.T) {
	t.Parallel()

	_, err := NewDirectory(types.SourceConfig{Dir: t.TempDir()})
	require.Error(t, err)

	_, err = NewDirectory(types.SourceConfig{Dir: filepath.Join(t.TempDir(), "missing")})
	require.Error(t, err)
}

func TestMJPEGReadsParts(t *testing.T) {
	t.Parallel()

	frames := [][]byte{encodeBars(t, 80, 60, 0), encodeBars(t, 80, 60, 10)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		for _, f := range frames {
			_, _ = w.Write([]byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n"))
			_, _ = w.Write(f)
			_, _ = w.Write([]byte("\r\n"))
		}
		_, _ = w.Write([]byte("--frame--\r\n"))
	}))
	defer srv.Close()

	src, err := NewMJPEG(context.Background(), srv.URL, srv.Client())
	require.NoError(t, err)
	defer src.Close()

	for i, want := range frames {
		f, err := src.Next(context.Background())
		require.NoError(t, err)
		require.EqualValues(t, i+1, f.Seq)
		require.Equal(t, want, f.Data)
		require.Equal(t, 80, f.Width)
	}

	_, err = src.Next(context.Background())
	require.ErrorIs(t, err, io.EOF)
}

func TestMJPEGRejectsNonMultipart(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("hello"))
	}))
	defer srv.Close()

	_, err := NewMJPEG(context.Background(), srv.URL, srv.Client())
	require.Error(t, err)
}

func TestMJPEGRejectsBadStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewMJPEG(context.Background(), srv.URL, srv.Client())
	require.Error(t, err)
}
