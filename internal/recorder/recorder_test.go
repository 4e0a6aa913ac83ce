package recorder

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var jpegA = []byte{0xff, 0xd8, 'a', 0xff, 0xd9}
var jpegB = []byte{0xff, 0xd8, 'b', 'b', 0xff, 0xd9}

func TestRecorderWritesFramesBackToBack(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	r := NewRecorder(dir)

	require.False(t, r.SendFrame(jpegA), "not recording yet")

	path, err := r.Start("", TriggerManual)
	require.NoError(t, err)
	require.Regexp(t, regexp.MustCompile(`recording_\d{8}_\d{6}\.mjpeg$`), path)
	require.Equal(t, dir, filepath.Dir(path))

	require.True(t, r.SendFrame(jpegA))
	require.True(t, r.SendFrame(jpegB))

	status := r.GetStatus()
	require.True(t, status.Recording)
	require.Equal(t, TriggerManual, status.Trigger)

	stopped, err := r.Stop()
	require.NoError(t, err)
	require.Equal(t, path, stopped)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, append(append([]byte{}, jpegA...), jpegB...), data)

	status = r.GetStatus()
	require.False(t, status.Recording)
	require.EqualValues(t, 2, status.FrameCount)
	require.EqualValues(t, len(jpegA)+len(jpegB), status.BytesWritten)
	require.NotNil(t, status.Filename)
	require.Equal(t, path, *status.Filename)
	require.Empty(t, status.Trigger)
}

func TestRecorderStateErrors(t *testing.T) {
	t.Parallel()

	r := NewRecorder(t.TempDir())

	_, err := r.Stop()
	require.ErrorIs(t, err, ErrNotRecording)

	_, err = r.Start("clip", TriggerAlert)
	require.NoError(t, err)
	_, err = r.Start("other", TriggerManual)
	require.ErrorIs(t, err, ErrAlreadyRecording)

	require.NoError(t, r.Close())
	require.False(t, r.IsRecording())
	require.NoError(t, r.Close())
}

func TestRecorderNameIsConfinedToBasePath(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	r := NewRecorder(dir)

	path, err := r.Start("../../etc/evil", TriggerManual)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "evil.mjpeg"), path)
	_, err = r.Stop()
	require.NoError(t, err)
}

func TestRecorderCreatesBasePath(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "nested", "recordings")
	r := NewRecorder(dir)
	path, err := r.Start("x.mjpeg", TriggerManual)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "x.mjpeg"), path)
	_, err = r.Stop()
	require.NoError(t, err)
}

func TestRecorderSequentialSessions(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	r := NewRecorder(dir)

	for i, name := range []string{"one", "two"} {
		path, err := r.Start(name, TriggerAlert)
		require.NoError(t, err)
		for _i := 0; _i < i+1; _i++ {
			require.True(t, r.SendFrame(jpegA))
		}
		time.Sleep(10 * time.Millisecond)
		_, err = r.Stop()
		require.NoError(t, err)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		require.Equal(t, i+1, bytes.Count(data, []byte{0xff, 0xd8}))
	}
}

func TestRecorderStartWaitsForStopToFinish(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	r := NewRecorder(dir)

	first, err := r.Start("first", TriggerAlert)
	require.NoError(t, err)
	for _i := 0; _i < 2*frameBuffer; _i++ {
		r.SendFrame(jpegB)
	}

	stopped := make(chan error, 1)
	go func() {
		_, err := r.Stop()
		stopped <- err
	}()

	// Until the first file is closed every Start is refused, never half-started.
	var second string
	deadline := time.After(5 * time.Second)
	for second == "" {
		select {
		case <-deadline:
			t.Fatal("Start never succeeded after Stop")
		default:
		}
		path, err := r.Start("second", TriggerManual)
		if err != nil {
			require.ErrorIs(t, err, ErrAlreadyRecording)
			continue
		}
		second = path
	}

	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}

	require.True(t, r.IsRecording())
	require.Equal(t, TriggerManual, r.GetStatus().Trigger)
	require.True(t, r.SendFrame(jpegA))

	_, err = r.Stop()
	require.NoError(t, err)

	data, err := os.ReadFile(first)
	require.NoError(t, err)
	require.Equal(t, 0, len(data)%len(jpegB))
	require.Positive(t, len(data))

	data, err = os.ReadFile(second)
	require.NoError(t, err)
	require.Equal(t, jpegA, data)
}
