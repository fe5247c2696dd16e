package session

import (
	"sync"
	"sync/atomic"
	"time"
)

// Stopper terminates the encoder attached to a session. The relay attaches
// its supervisor here so the registry sweeper and admin terminate calls can
// tear a session down without importing the transcoder.
type Stopper interface {
	Stop()
}

// Session is a single client playback of a channel. Identity fields are set
// at admission and never change; everything mutable lives behind mu except
// the byte counters, which the pump updates on every chunk.
type Session struct {
	ID            string
	ChannelID     string
	ChannelName   string
	ChannelNumber string
	Fingerprint   Fingerprint
	ClientIP      string
	UserAgent     string
	StartedAt     time.Time

	bw *BandwidthWindow

	errorCount atomic.Uint64

	mu            sync.Mutex
	state         State
	endReason     EndReason
	lastByte      time.Time
	lastPoll      time.Time
	gotBytes      bool
	polled        bool
	probeFailures int
	encoder       Stopper
}

func newSession(id string, req AdmitRequest, now time.Time) *Session {
	return &Session{
		ID:            id,
		ChannelID:     req.ChannelID,
		ChannelName:   req.ChannelName,
		ChannelNumber: req.ChannelNumber,
		Fingerprint:   req.Fingerprint,
		ClientIP:      req.ClientIP,
		UserAgent:     req.UserAgent,
		StartedAt:     now,
		bw:            NewBandwidthWindow(0),
		state:         StateAdmitting,
	}
}

// RecordChunk notes n bytes delivered to the client. The first chunk moves
// the session from admitting to streaming; fresh bytes also pull a
// monitoring session back to streaming.
func (s *Session) RecordChunk(n int) {
	if n <= 0 {
		return
	}
	s.bw.Record(n)
	metricStreamBytes(n)

	s.mu.Lock()
	s.lastByte = time.Now()
	s.gotBytes = true
	if s.state == StateAdmitting || s.state == StateMonitoring {
		s.state = StateStreaming
	}
	s.mu.Unlock()
}

// RecordPoll notes a client-side status poll (tuner status, timeline,
// transcode alive checks). Polls reset the consecutive probe failure count.
func (s *Session) RecordPoll() {
	s.mu.Lock()
	s.lastPoll = time.Now()
	s.polled = true
	s.probeFailures = 0
	s.mu.Unlock()
}

// RecordError bumps the session error counter. The supervisor wires its
// stderr classifier here.
func (s *Session) RecordError() {
	s.errorCount.Add(1)
}

// RecordProbeFailure notes one failed client liveness probe and returns the
// consecutive failure count.
func (s *Session) RecordProbeFailure() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probeFailures++
	return s.probeFailures
}

// RecordProbeSuccess resets the consecutive probe failure count.
func (s *Session) RecordProbeSuccess() {
	s.mu.Lock()
	s.probeFailures = 0
	s.mu.Unlock()
}

// AttachEncoder binds the running encoder so teardown can stop it.
func (s *Session) AttachEncoder(enc Stopper) {
	s.mu.Lock()
	s.encoder = enc
	s.mu.Unlock()
}

// StopEncoder stops the attached encoder, if any. Safe to call repeatedly.
func (s *Session) StopEncoder() {
	s.mu.Lock()
	enc := s.encoder
	s.mu.Unlock()
	if enc != nil {
		enc.Stop()
	}
}

// BeginStop moves the session into stopping with the given reason. It
// returns false when teardown is already underway or done, which is what
// makes teardown idempotent: exactly one caller wins.
func (s *Session) BeginStop(reason EndReason) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStopping || s.state == StateTerminated {
		return false
	}
	s.state = StateStopping
	s.endReason = reason
	return true
}

// FinishStop completes teardown, moving stopping to terminated.
func (s *Session) FinishStop() {
	s.mu.Lock()
	if s.state == StateStopping {
		s.state = StateTerminated
	}
	s.mu.Unlock()
}

// markMonitoring flags a streaming session whose bytes have gone stale.
// The sweeper calls this; fresh bytes move it back via RecordChunk.
func (s *Session) markMonitoring() {
	s.mu.Lock()
	if s.state == StateStreaming {
		s.state = StateMonitoring
	}
	s.mu.Unlock()
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// EndReason returns why the session ended, empty while it is live.
func (s *Session) EndReason() EndReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endReason
}

// ErrorCount returns the number of encoder error lines seen.
func (s *Session) ErrorCount() uint64 {
	return s.errorCount.Load()
}

// activity is the single-lock-hop snapshot the crash detector reads.
type activity struct {
	state         State
	startedAt     time.Time
	lastByte      time.Time
	lastPoll      time.Time
	gotBytes      bool
	polled        bool
	probeFailures int
}

func (s *Session) activitySnapshot() activity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return activity{
		state:         s.state,
		startedAt:     s.StartedAt,
		lastByte:      s.lastByte,
		lastPoll:      s.lastPoll,
		gotBytes:      s.gotBytes,
		polled:        s.polled,
		probeFailures: s.probeFailures,
	}
}

// Info is the JSON shape of a session for the monitor API.
type Info struct {
	ID            string      `json:"id"`
	ChannelID     string      `json:"channel_id"`
	ChannelNumber string      `json:"channel_number,omitempty"`
	ChannelName   string      `json:"channel_name,omitempty"`
	State         State       `json:"state"`
	ClientIP      string      `json:"client_ip"`
	UserAgent     string      `json:"user_agent,omitempty"`
	Fingerprint   Fingerprint `json:"fingerprint"`
	StartedAt     time.Time   `json:"started_at"`
	Duration      string      `json:"duration"`
	BytesOut      uint64      `json:"bytes_out"`
	CurrentBps    uint64      `json:"current_bps"`
	AverageBps    uint64      `json:"average_bps"`
	PeakBps       uint64      `json:"peak_bps"`
	ErrorCount    uint64      `json:"error_count"`
	LastByteAt    *time.Time  `json:"last_byte_at,omitempty"`
	LastPollAt    *time.Time  `json:"last_poll_at,omitempty"`
	EndReason     EndReason   `json:"end_reason,omitempty"`
}

// Snapshot returns a point-in-time view of the session.
func (s *Session) Snapshot() Info {
	s.mu.Lock()
	state := s.state
	reason := s.endReason
	lastByte := s.lastByte
	lastPoll := s.lastPoll
	s.mu.Unlock()

	info := Info{
		ID:            s.ID,
		ChannelID:     s.ChannelID,
		ChannelNumber: s.ChannelNumber,
		ChannelName:   s.ChannelName,
		State:         state,
		ClientIP:      s.ClientIP,
		UserAgent:     s.UserAgent,
		Fingerprint:   s.Fingerprint,
		StartedAt:     s.StartedAt,
		Duration:      time.Since(s.StartedAt).Round(time.Second).String(),
		BytesOut:      s.bw.TotalBytes(),
		CurrentBps:    s.bw.CurrentBps(),
		AverageBps:    s.bw.AverageBps(),
		PeakBps:       s.bw.PeakBps(),
		ErrorCount:    s.errorCount.Load(),
		EndReason:     reason,
	}
	if !lastByte.IsZero() {
		info.LastByteAt = &lastByte
	}
	if !lastPoll.IsZero() {
		info.LastPollAt = &lastPoll
	}
	return info
}
