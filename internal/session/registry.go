package session

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/tunerr/internal/config"
)

// AdmitRequest carries everything the registry needs to admit a playback.
// SessionID may be supplied by clients that tune with an explicit session
// query parameter; when empty the registry generates one.
type AdmitRequest struct {
	SessionID     string
	ChannelID     string
	ChannelName   string
	ChannelNumber string
	Fingerprint   Fingerprint
	ClientIP      string
	UserAgent     string
}

// Stats summarizes registry occupancy for the monitor API and tuner status.
type Stats struct {
	Active        int            `json:"active"`
	Limit         int            `json:"limit"`
	Utilization   float64        `json:"utilization_percent"`
	PerChannel    map[string]int `json:"per_channel"`
	UniqueClients int            `json:"unique_clients"`
}

// tombstoneTTL bounds how long a removed session id keeps answering with
// its end reason. Plex polls every few seconds, so a couple of minutes is
// enough for every poll chain against a dead session to see the 410.
const tombstoneTTL = 2 * time.Minute

// tombstone records why a session was removed so polls that arrive after
// teardown can still be answered truthfully.
type tombstone struct {
	reason EndReason
	at     time.Time
}

// Registry indexes live sessions and enforces admission limits. The
// registry lock is always taken before any session lock, never after.
type Registry struct {
	streaming config.StreamingConfig
	crash     config.CrashConfig
	logger    *slog.Logger

	mu         sync.RWMutex
	sessions   map[string]*Session
	tombstones map[string]tombstone

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRegistry creates a session registry with the given limits. The crash
// thresholds are needed here because the sweeper uses the byte-freshness
// window to move stalled sessions into monitoring.
func NewRegistry(streaming config.StreamingConfig, crash config.CrashConfig, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Registry{
		streaming:  streaming,
		crash:      crash,
		logger:     logger,
		sessions:   make(map[string]*Session),
		tombstones: make(map[string]tombstone),
	}
}

// Admit checks duplicates and concurrency ceilings and registers a new
// session in one critical section, so two racing tunes can never both pass
// the same limit. It returns DuplicateError or LimitError on refusal.
func (r *Registry) Admit(req AdmitRequest) (*Session, error) {
	id := req.SessionID
	if id == "" {
		id = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	active := 0
	perChannel := 0
	for _, s := range r.sessions {
		st := s.State()
		if !st.Active() {
			continue
		}
		active++
		if s.ChannelID == req.ChannelID {
			perChannel++
		}
		if !st.Live() {
			continue
		}
		if s.ID == id || (req.Fingerprint != "" && s.Fingerprint == req.Fingerprint && s.ChannelID == req.ChannelID) {
			metricAdmissionRejected("duplicate")
			return nil, &DuplicateError{ExistingID: s.ID}
		}
	}

	if limit := r.streaming.MaxConcurrentStreams; limit > 0 && active >= limit {
		metricAdmissionRejected("global_limit")
		return nil, &LimitError{Scope: "global", Limit: limit}
	}
	if limit := r.streaming.MaxPerChannelStreams; limit > 0 && perChannel >= limit {
		metricAdmissionRejected("channel_limit")
		return nil, &LimitError{Scope: "channel", Limit: limit}
	}

	s := newSession(id, req, time.Now())
	r.sessions[id] = s
	// A client reusing the id of an earlier session starts fresh.
	delete(r.tombstones, id)
	metricSessionStarted(req.ChannelID)

	r.logger.Info("session admitted",
		"session_id", s.ID,
		"channel_id", s.ChannelID,
		"channel_name", s.ChannelName,
		"client_ip", s.ClientIP,
		"fingerprint", s.Fingerprint,
		"active", active+1)
	return s, nil
}

// Get returns the session with the given id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove deindexes a session and records its end. Idempotent; only the
// call that actually removes the entry touches the gauges. The end reason
// is kept as a tombstone so late polls can distinguish a terminated
// session from one that never existed.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	var reason EndReason
	if ok {
		delete(r.sessions, id)
		reason = s.EndReason()
		if reason == "" {
			reason = EndReasonDisconnect
		}
		r.tombstones[id] = tombstone{reason: reason, at: time.Now()}
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	metricSessionEnded(s.ChannelID, reason)
}

// Terminated reports the end reason of a recently removed session. The
// second return is false once the tombstone has aged out or the id was
// never held.
func (r *Registry) Terminated(id string) (EndReason, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tombstones[id]
	if !ok || time.Since(t.at) > tombstoneTTL {
		return "", false
	}
	return t.reason, true
}

// Enumerate returns a point-in-time snapshot of every active session,
// oldest first.
func (r *Registry) Enumerate() []Info {
	sessions := r.collect()

	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		info := s.Snapshot()
		if !info.State.Active() {
			continue
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].StartedAt.Equal(infos[j].StartedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].StartedAt.Before(infos[j].StartedAt)
	})
	return infos
}

// ByChannel groups active sessions by channel id.
func (r *Registry) ByChannel() map[string][]Info {
	grouped := make(map[string][]Info)
	for _, info := range r.Enumerate() {
		grouped[info.ChannelID] = append(grouped[info.ChannelID], info)
	}
	return grouped
}

// ForClient returns the active sessions held by one client fingerprint.
func (r *Registry) ForClient(fp Fingerprint) []Info {
	var infos []Info
	for _, info := range r.Enumerate() {
		if info.Fingerprint == fp {
			infos = append(infos, info)
		}
	}
	return infos
}

// Stats returns current occupancy against the configured limits.
func (r *Registry) Stats() Stats {
	stats := Stats{
		Limit:      r.streaming.MaxConcurrentStreams,
		PerChannel: make(map[string]int),
	}
	clients := make(map[Fingerprint]struct{})
	for _, s := range r.collect() {
		if !s.State().Active() {
			continue
		}
		stats.Active++
		stats.PerChannel[s.ChannelID]++
		clients[s.Fingerprint] = struct{}{}
	}
	stats.UniqueClients = len(clients)
	if stats.Limit > 0 {
		stats.Utilization = float64(stats.Active) / float64(stats.Limit) * 100
	}
	return stats
}

func (r *Registry) collect() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// Start launches the background sweeper that marks stalled sessions as
// monitoring, retires sessions past their max age, and clears terminated
// entries that teardown failed to deindex.
func (r *Registry) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		interval := r.streaming.SweepInterval
		if interval <= 0 {
			interval = 10 * time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sweep(time.Now())
			}
		}
	}()
}

// Stop halts the sweeper. Live sessions are left to their own teardown.
func (r *Registry) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Registry) sweep(now time.Time) {
	r.mu.Lock()
	for id, t := range r.tombstones {
		if now.Sub(t.at) > tombstoneTTL {
			delete(r.tombstones, id)
		}
	}
	r.mu.Unlock()

	for _, s := range r.collect() {
		act := s.activitySnapshot()
		switch {
		case !act.state.Active():
			r.Remove(s.ID)

		case r.streaming.SessionMaxAge > 0 && now.Sub(act.startedAt) > r.streaming.SessionMaxAge:
			if !s.BeginStop(EndReasonMaxAge) {
				continue
			}
			r.logger.Info("session exceeded max age",
				"session_id", s.ID,
				"channel_id", s.ChannelID,
				"age", now.Sub(act.startedAt).Round(time.Second))
			go func(s *Session) {
				s.StopEncoder()
				s.FinishStop()
				r.Remove(s.ID)
			}(s)

		case act.state == StateStreaming && act.gotBytes && now.Sub(act.lastByte) >= r.crash.ByteFresh:
			s.markMonitoring()
			r.logger.Debug("session bytes stalled, monitoring",
				"session_id", s.ID,
				"channel_id", s.ChannelID,
				"last_byte_age", now.Sub(act.lastByte).Round(time.Millisecond))
		}
	}
}
