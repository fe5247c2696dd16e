package session

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/jmylchreest/tunerr/internal/config"
)

// Verdict is the crash detector's judgement of one session.
type Verdict int

const (
	// VerdictHealthy means the client and the upstream both show life.
	VerdictHealthy Verdict = iota

	// VerdictPossibleCrash means the client is polling but no bytes have
	// moved for the stall window; the upstream pipe is suspect.
	VerdictPossibleCrash

	// VerdictAndroidTVPossibleCrash means an Android TV client went
	// silent; those apps stop polling abruptly when they die.
	VerdictAndroidTVPossibleCrash

	// VerdictClientTimeout means no polls for the timeout window.
	VerdictClientTimeout

	// VerdictConfirmedCrash means the client is confirmed gone: poll
	// silence past the confirm window or consecutive failed probes.
	VerdictConfirmedCrash

	// VerdictConfirmedTimeoutCrash means the session never produced any
	// activity at all after admission.
	VerdictConfirmedTimeoutCrash
)

// String returns the verdict name.
func (v Verdict) String() string {
	switch v {
	case VerdictHealthy:
		return "healthy"
	case VerdictPossibleCrash:
		return "possible_crash"
	case VerdictAndroidTVPossibleCrash:
		return "android_tv_possible_crash"
	case VerdictClientTimeout:
		return "client_timeout"
	case VerdictConfirmedCrash:
		return "confirmed_crash"
	case VerdictConfirmedTimeoutCrash:
		return "confirmed_timeout_crash"
	default:
		return "unknown"
	}
}

// MarshalJSON implements json.Marshaler.
func (v Verdict) MarshalJSON() ([]byte, error) {
	return []byte(`"` + v.String() + `"`), nil
}

// Confirmed reports whether the verdict is terminal; confirmed sessions
// get HTTP 410 from compatibility endpoints and are torn down.
func (v Verdict) Confirmed() bool {
	return v == VerdictConfirmedCrash || v == VerdictConfirmedTimeoutCrash
}

// Degraded reports whether the verdict is anything other than healthy.
func (v Verdict) Degraded() bool {
	return v != VerdictHealthy
}

// Detector turns a session's activity timestamps into a health verdict.
// Assessment is read-only; only the Watch loop accumulates probe failures.
type Detector struct {
	cfg    config.CrashConfig
	logger *slog.Logger
}

// NewDetector creates a crash detector with the given thresholds.
func NewDetector(cfg config.CrashConfig, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Detector{cfg: cfg, logger: logger}
}

// Assess produces the current verdict for a session.
func (d *Detector) Assess(s *Session) Verdict {
	return d.assessAt(s.activitySnapshot(), IsAndroidTV(s.UserAgent), time.Now())
}

// assessAt evaluates the rules against one activity snapshot.
//
// The rule families are ordered so that fresh client activity always wins,
// then zero-activity sessions are confirmed dead, then poll silence
// escalates by severity. Severity ordering matters: a session silent for
// 70 s must confirm rather than report the milder 30 s timeout, and an
// Android TV client must escalate past its 10 s early warning.
func (d *Detector) assessAt(act activity, androidTV bool, now time.Time) Verdict {
	pollAge := now.Sub(act.startedAt)
	if act.polled {
		pollAge = now.Sub(act.lastPoll)
	}
	byteAge := now.Sub(act.startedAt)
	if act.gotBytes {
		byteAge = now.Sub(act.lastByte)
	}
	pollFresh := act.polled && pollAge <= d.cfg.PollFresh
	byteFresh := act.gotBytes && byteAge <= d.cfg.ByteFresh

	switch {
	case pollFresh && byteFresh:
		return VerdictHealthy

	case pollFresh && byteAge >= d.cfg.ByteStall:
		return VerdictPossibleCrash

	case !act.polled && !act.gotBytes && now.Sub(act.startedAt) >= d.cfg.StartupSilence:
		return VerdictConfirmedTimeoutCrash

	// A client that never polls but keeps receiving bytes is not a
	// polling client at all; poll silence means nothing for it and the
	// idle timer owns its fate.
	case !act.polled && byteFresh:
		return VerdictHealthy

	case pollAge >= d.cfg.PollConfirm,
		d.cfg.ProbeFailureLimit > 0 && act.probeFailures >= d.cfg.ProbeFailureLimit:
		return VerdictConfirmedCrash

	case pollAge >= d.cfg.PollTimeout:
		return VerdictClientTimeout

	case androidTV && pollAge >= d.cfg.AndroidPollGap:
		return VerdictAndroidTVPossibleCrash

	default:
		return VerdictHealthy
	}
}

// Watch runs the periodic health check over every live session. A cycle
// where the client shows no poll-side life counts as one failed probe;
// consecutive failures escalate to confirmed through the assessment rules.
// onConfirmed is invoked for terminal verdicts and must be safe to call
// more than once for the same session.
func (d *Detector) Watch(ctx context.Context, reg *Registry, interval time.Duration, onConfirmed func(*Session, Verdict)) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.check(reg, onConfirmed)
		}
	}
}

func (d *Detector) check(reg *Registry, onConfirmed func(*Session, Verdict)) {
	for _, s := range reg.collect() {
		if !s.State().Live() {
			continue
		}
		v := d.Assess(s)
		switch {
		case v == VerdictHealthy || v == VerdictPossibleCrash:
			// The client itself is alive even when the upstream
			// has stalled.
			s.RecordProbeSuccess()

		case v.Confirmed():
			metricCrashVerdict(v)
			d.logger.Warn("session crash confirmed",
				"session_id", s.ID,
				"channel_id", s.ChannelID,
				"verdict", v.String())
			if onConfirmed != nil {
				onConfirmed(s, v)
			}

		default:
			failures := s.RecordProbeFailure()
			metricCrashVerdict(v)
			d.logger.Debug("session probe failed",
				"session_id", s.ID,
				"channel_id", s.ChannelID,
				"verdict", v.String(),
				"consecutive_failures", failures)
		}
	}
}
