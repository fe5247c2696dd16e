package transcoder

import (
	"bufio"
	"bytes"
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// shPath returns a shell for scripting fake encoders, or skips the test.
func shPath(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not installed")
	}
	return path
}

func TestSupervisor_PumpsOutput(t *testing.T) {
	var chunkTotal int
	sup := New(Config{
		BinaryPath: shPath(t),
		Args:       []string{"-c", "printf abcdef"},
		OnChunk:    func(n int) { chunkTotal += n },
	})

	var buf bytes.Buffer
	err := sup.Run(context.Background(), &buf)
	require.NoError(t, err)

	assert.Equal(t, "abcdef", buf.String())
	assert.EqualValues(t, 6, sup.BytesOut())
	assert.Equal(t, 6, chunkTotal)
	assert.False(t, sup.LastActivity().IsZero())

	err = sup.Run(context.Background(), &buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already started")
}

func TestSupervisor_ExitBeforeOutputIsStartupFailure(t *testing.T) {
	var errLines []string
	sup := New(Config{
		BinaryPath:  shPath(t),
		Args:        []string{"-c", "echo 'Connection refused to upstream' >&2; exit 3"},
		OnErrorLine: func(line string) { errLines = append(errLines, line) },
	})

	var buf bytes.Buffer
	err := sup.Run(context.Background(), &buf)
	require.ErrorIs(t, err, ErrStartupFailed)
	assert.Contains(t, err.Error(), "Connection refused")

	assert.Zero(t, sup.BytesOut())
	assert.EqualValues(t, 1, sup.ErrorCount())
	assert.Equal(t, []string{"Connection refused to upstream"}, errLines)
	assert.Contains(t, sup.StderrHistory(), "Connection refused to upstream")
}

func TestSupervisor_CleanExitWithoutOutputIsStartupFailure(t *testing.T) {
	sup := New(Config{
		BinaryPath: shPath(t),
		Args:       []string{"-c", "exit 0"},
	})

	var buf bytes.Buffer
	err := sup.Run(context.Background(), &buf)
	assert.ErrorIs(t, err, ErrStartupFailed)
}

func TestSupervisor_UncleanExitAfterOutputIsSoft(t *testing.T) {
	sup := New(Config{
		BinaryPath: shPath(t),
		Args:       []string{"-c", "printf data; exit 3"},
	})

	var buf bytes.Buffer
	err := sup.Run(context.Background(), &buf)
	require.NoError(t, err)
	assert.EqualValues(t, 4, sup.BytesOut())
}

func TestSupervisor_StopTerminatesEncoder(t *testing.T) {
	sup := New(Config{
		BinaryPath: shPath(t),
		Args:       []string{"-c", "printf x; exec sleep 30"},
		StopGrace:  time.Second,
	})

	var buf bytes.Buffer
	errCh := make(chan error, 1)
	go func() { errCh <- sup.Run(context.Background(), &buf) }()

	require.Eventually(t, func() bool { return sup.BytesOut() > 0 },
		2*time.Second, 10*time.Millisecond)

	assert.Positive(t, sup.PID())
	require.Eventually(t, func() bool { return sup.Stats().PID > 0 },
		2*time.Second, 10*time.Millisecond)
	stats := sup.Stats()
	assert.EqualValues(t, sup.PID(), stats.PID)
	assert.False(t, stats.StartedAt.IsZero())
	assert.Positive(t, stats.BytesOut)

	sup.Stop()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("encoder did not stop within the grace period")
	}

	// Stopping again is a no-op.
	sup.Stop()
}

func TestSupervisor_ContextCancelIsNotAFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	sup := New(Config{
		BinaryPath: shPath(t),
		Args:       []string{"-c", "exec sleep 30"},
		StopGrace:  time.Second,
	})

	var buf bytes.Buffer
	start := time.Now()
	err := sup.Run(ctx, &buf)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Zero(t, sup.BytesOut())
}

func TestSupervisor_StderrRingKeepsNewestLines(t *testing.T) {
	sup := New(Config{
		BinaryPath:         shPath(t),
		Args:               []string{"-c", "for i in 1 2 3 4 5; do echo line$i >&2; done; printf x"},
		StderrHistoryLines: 3,
	})

	var buf bytes.Buffer
	err := sup.Run(context.Background(), &buf)
	require.NoError(t, err)

	assert.Equal(t, []string{"line3", "line4", "line5"}, sup.StderrHistory())
	assert.Zero(t, sup.ErrorCount())
}

func TestSupervisor_PSIKeepaliveBridgesSlowStartup(t *testing.T) {
	sup := New(Config{
		BinaryPath:           shPath(t),
		Args:                 []string{"-c", "sleep 0.3; printf media"},
		PSIKeepalive:         true,
		PSIKeepaliveInterval: 20 * time.Millisecond,
	})

	var buf bytes.Buffer
	err := sup.Run(context.Background(), &buf)
	require.NoError(t, err)

	out := buf.Bytes()
	require.True(t, bytes.HasSuffix(out, []byte("media")),
		"media bytes should arrive after the tables")

	psi := out[:len(out)-len("media")]
	require.NotEmpty(t, psi, "tables should flow while the encoder is silent")
	assert.Zero(t, len(psi)%188, "tables should be whole transport packets")
	assert.EqualValues(t, 0x47, psi[0], "transport packets start with the sync byte")
}

func TestGatedWriter_SwallowsTablesAfterMedia(t *testing.T) {
	var buf bytes.Buffer
	gw := &gatedWriter{w: &buf}

	n, err := gw.Write([]byte("tables"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.False(t, gw.MediaStarted())

	_, err = gw.WriteMedia([]byte("media"))
	require.NoError(t, err)
	assert.True(t, gw.MediaStarted())

	n, err = gw.Write([]byte("late tables"))
	require.NoError(t, err)
	assert.Equal(t, 11, n)

	assert.Equal(t, "tablesmedia", buf.String())
}

func TestIsErrorLine(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"Connection refused", true},
		{"[https @ 0x55] HTTP error 403 Forbidden", true},
		{"Invalid data found when processing input", true},
		{"Operation timed out", true},
		{"Server returned 404 Not Found", true},
		{"Unable to open resource", true},
		{"Opening 'https://example.com/seg1.ts' for reading", false},
		{"Stream mapping:", false},
		{"Press [q] to stop", false},
		{"Output #0, mpegts, to 'pipe:1':", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isErrorLine(tt.line), tt.line)
	}
}

func TestIsProgressLine(t *testing.T) {
	assert.True(t, isProgressLine("frame= 1234 fps= 25 q=-1.0 size= 10240KiB"))
	assert.True(t, isProgressLine("size=   10240KiB time=00:00:41.00 bitrate=2045.9kbits/s speed=1.02x"))
	assert.False(t, isProgressLine("Stream #0:0: Video: h264 (High)"))
}

func TestScanLinesWithCR(t *testing.T) {
	scanner := bufio.NewScanner(strings.NewReader("alpha\r\nbeta\rgamma\ndelta\n\r\nepsilon"))
	scanner.Split(scanLinesWithCR)

	var got []string
	for scanner.Scan() {
		got = append(got, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, []string{"alpha", "beta", "gamma", "delta", "epsilon"}, got)
}
