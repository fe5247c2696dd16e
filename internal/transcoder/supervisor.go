package transcoder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// ErrStartupFailed reports an encoder that exited before producing any
// output. Callers treat this as a hard failure of the session; an unclean
// exit after bytes have flowed is only logged.
var ErrStartupFailed = errors.New("encoder exited before producing output")

// Config describes one supervised encoder run.
type Config struct {
	// BinaryPath is the encoder executable. Empty resolves "ffmpeg" from
	// PATH.
	BinaryPath string

	// Args is the full argument list, normally from BuildArgs. The encoder
	// must write its output to stdout.
	Args []string

	// StopGrace is how long a graceful stop may take before the process is
	// killed. Zero means 5s.
	StopGrace time.Duration

	// StderrHistoryLines caps the retained stderr ring. Zero means 100.
	StderrHistoryLines int

	// PSIKeepalive emits PAT/PMT tables on a cadence until the encoder
	// produces its first byte, so tuner clients waiting on a slow upstream
	// see a live transport stream instead of silence.
	PSIKeepalive bool

	// PSIKeepaliveInterval is the table cadence. Zero means 500ms.
	PSIKeepaliveInterval time.Duration

	Logger *slog.Logger

	// OnChunk is invoked after each stdout chunk reaches the sink, with the
	// chunk size. Session accounting hangs off this.
	OnChunk func(n int)

	// OnErrorLine is invoked for each stderr line classified as an error.
	OnErrorLine func(line string)
}

// Supervisor runs a single encoder process and pumps its stdout to a sink.
// A Supervisor is single-use: one Run, then discard.
type Supervisor struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	monitor *processMonitor

	stderrMu    sync.RWMutex
	stderrLines []string

	bytesOut   atomic.Uint64
	errorCount atomic.Uint64

	started       atomic.Bool
	stopRequested atomic.Bool

	lastActivity atomic.Value // time.Time

	done chan struct{}
}

// New returns a Supervisor for one encoder run.
func New(cfg Config) *Supervisor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Supervisor{
		cfg:    cfg,
		logger: logger,
		done:   make(chan struct{}),
	}
	s.lastActivity.Store(time.Time{})
	return s
}

// Run starts the encoder and pumps stdout into w until the process exits,
// the context is cancelled, or a write to w fails. It blocks for the life
// of the process.
//
// A non-zero exit before the first output byte returns ErrStartupFailed.
// An unclean exit after output has flowed, a cancelled context, and a
// consumer that went away all return nil; those are ordinary ways for a
// session to end.
func (s *Supervisor) Run(ctx context.Context, w io.Writer) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("supervisor already started")
	}

	bin := s.cfg.BinaryPath
	if bin == "" {
		path, err := exec.LookPath("ffmpeg")
		if err != nil {
			return fmt.Errorf("encoder binary not found: %w", err)
		}
		bin = path
	}

	cmd := exec.CommandContext(ctx, bin, s.cfg.Args...)
	// Context cancellation asks the encoder to stop cleanly; WaitDelay
	// bounds how long it may linger before the runtime kills it.
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = s.stopGrace()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdout.Close()
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting encoder: %w", err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.monitor = newProcessMonitor(int32(cmd.Process.Pid), &s.bytesOut)
	s.monitor.Start()
	s.mu.Unlock()
	s.touch()

	s.logger.Debug("encoder started",
		slog.Int("pid", cmd.Process.Pid),
		slog.String("binary", bin))

	// Stop raced ahead of Start; honor it now that there is a process.
	if s.stopRequested.Load() {
		_ = cmd.Process.Signal(syscall.SIGTERM)
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.readStderr(stderr)
	}()

	out := &gatedWriter{w: w}
	if s.cfg.PSIKeepalive {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runKeepalive(runCtx, out)
		}()
	}

	buf := make([]byte, 188*348)
	var writeErr error
	for {
		n, rerr := stdout.Read(buf)
		if n > 0 {
			if _, werr := out.WriteMedia(buf[:n]); werr != nil {
				writeErr = werr
				break
			}
			s.bytesOut.Add(uint64(n))
			s.touch()
			if s.cfg.OnChunk != nil {
				s.cfg.OnChunk(n)
			}
		}
		if rerr != nil {
			break
		}
	}

	if writeErr != nil {
		// The consumer went away mid-stream. Ask the encoder to stop and
		// drain the leftovers so Wait can reap it; escalate if it lingers.
		_ = s.signalTerm()
		killTimer := time.AfterFunc(s.stopGrace(), func() { _ = s.kill() })
		_, _ = io.Copy(io.Discard, stdout)
		killTimer.Stop()
	}

	cancelRun()
	wg.Wait()
	waitErr := cmd.Wait()
	close(s.done)

	s.mu.Lock()
	if s.monitor != nil {
		s.monitor.Stop()
	}
	s.mu.Unlock()

	bytes := s.bytesOut.Load()
	switch {
	case writeErr != nil:
		s.logger.Debug("consumer write failed; encoder stopped",
			slog.Uint64("bytes_out", bytes),
			slog.Any("error", writeErr))
		return nil
	case bytes == 0 && ctx.Err() == nil && !s.stopRequested.Load():
		// Any exit before the first byte is a hard failure, whatever the
		// exit code; the consumer never saw a stream.
		return s.startupError(waitErr)
	case waitErr != nil && ctx.Err() == nil && !s.stopRequested.Load():
		s.logger.Warn("encoder exited uncleanly after streaming",
			slog.Uint64("bytes_out", bytes),
			slog.Uint64("stderr_errors", s.errorCount.Load()),
			slog.Any("error", waitErr))
		return nil
	default:
		return nil
	}
}

func (s *Supervisor) startupError(waitErr error) error {
	tail := s.lastStderrLine()
	switch {
	case waitErr != nil && tail != "":
		return fmt.Errorf("%w: %v (%s)", ErrStartupFailed, waitErr, tail)
	case waitErr != nil:
		return fmt.Errorf("%w: %v", ErrStartupFailed, waitErr)
	case tail != "":
		return fmt.Errorf("%w (%s)", ErrStartupFailed, tail)
	default:
		return ErrStartupFailed
	}
}

// Stop asks the encoder to exit and escalates to a kill after the grace
// period. It is safe to call more than once and from any goroutine.
func (s *Supervisor) Stop() {
	s.stopRequested.Store(true)

	if err := s.signalTerm(); err != nil {
		return
	}

	select {
	case <-s.done:
		return
	case <-time.After(s.stopGrace()):
	}

	s.logger.Warn("encoder ignored graceful stop; killing",
		slog.Int("pid", s.PID()))
	_ = s.kill()

	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
		s.logger.Error("encoder did not exit after kill",
			slog.Int("pid", s.PID()))
	}
}

func (s *Supervisor) signalTerm() error {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return errors.New("encoder not running")
	}
	return cmd.Process.Signal(syscall.SIGTERM)
}

func (s *Supervisor) kill() error {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return errors.New("encoder not running")
	}
	return cmd.Process.Kill()
}

// PID returns the encoder process ID, or 0 before Start.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// BytesOut returns the total bytes pumped to the sink so far.
func (s *Supervisor) BytesOut() uint64 {
	return s.bytesOut.Load()
}

// ErrorCount returns how many stderr lines were classified as errors.
func (s *Supervisor) ErrorCount() uint64 {
	return s.errorCount.Load()
}

// LastActivity returns when the encoder last produced output. The zero
// time means it never has.
func (s *Supervisor) LastActivity() time.Time {
	t, _ := s.lastActivity.Load().(time.Time)
	return t
}

// StderrHistory returns a copy of the retained stderr ring, oldest first.
func (s *Supervisor) StderrHistory() []string {
	s.stderrMu.RLock()
	defer s.stderrMu.RUnlock()
	out := make([]string, len(s.stderrLines))
	copy(out, s.stderrLines)
	return out
}

// Stats returns a point-in-time snapshot of encoder resource usage. It is
// zero before the process starts.
func (s *Supervisor) Stats() ProcessStats {
	s.mu.Lock()
	mon := s.monitor
	s.mu.Unlock()
	if mon == nil {
		return ProcessStats{}
	}
	return mon.Stats()
}

func (s *Supervisor) touch() {
	s.lastActivity.Store(time.Now())
}

func (s *Supervisor) lastStderrLine() string {
	s.stderrMu.RLock()
	defer s.stderrMu.RUnlock()
	if len(s.stderrLines) == 0 {
		return ""
	}
	return s.stderrLines[len(s.stderrLines)-1]
}

func (s *Supervisor) stopGrace() time.Duration {
	if s.cfg.StopGrace > 0 {
		return s.cfg.StopGrace
	}
	return 5 * time.Second
}

func (s *Supervisor) historyLimit() int {
	if s.cfg.StderrHistoryLines > 0 {
		return s.cfg.StderrHistoryLines
	}
	return 100
}

func (s *Supervisor) keepaliveInterval() time.Duration {
	if s.cfg.PSIKeepaliveInterval > 0 {
		return s.cfg.PSIKeepaliveInterval
	}
	return 500 * time.Millisecond
}

// gatedWriter serializes encoder output with keepalive tables. Once media
// bytes flow, further table writes are swallowed so stale PSI never lands
// after real packets.
type gatedWriter struct {
	mu           sync.Mutex
	w            io.Writer
	mediaStarted bool
}

// WriteMedia writes an encoder output chunk and closes the gate to
// keepalive tables.
func (g *gatedWriter) WriteMedia(p []byte) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.mediaStarted = true
	return g.w.Write(p)
}

// Write carries keepalive tables. It turns into a no-op once media has
// started.
func (g *gatedWriter) Write(p []byte) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.mediaStarted {
		return len(p), nil
	}
	return g.w.Write(p)
}

// MediaStarted reports whether any encoder output has been written.
func (g *gatedWriter) MediaStarted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mediaStarted
}
