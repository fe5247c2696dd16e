// Package relay serves live playback over HTTP. It admits a session for a
// channel, resolves the channel's best stream, classifies the upstream,
// spawns the encoder, and pumps MPEG-TS to the client until the client
// leaves or the session is torn down by the idle timer, the crash detector,
// or an operator.
package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/tunerr/internal/analyzer"
	"github.com/jmylchreest/tunerr/internal/config"
	"github.com/jmylchreest/tunerr/internal/httpclient"
	"github.com/jmylchreest/tunerr/internal/models"
	"github.com/jmylchreest/tunerr/internal/session"
	"github.com/jmylchreest/tunerr/internal/transcoder"
)

const (
	contentTypeMPEGTS = "video/mp2t"
	contentTypeMP4    = "video/mp4"

	defaultIdleTimeout = 30 * time.Second
)

// ChannelSource resolves a channel with its streams preloaded in priority
// order.
type ChannelSource interface {
	GetByIDWithStreams(ctx context.Context, id models.ULID) (*models.Channel, error)
}

// AnalysisRecorder persists analyzer outcomes so operators can see how each
// stream was last handled. Recording is best effort; failures never block
// playback.
type AnalysisRecorder interface {
	UpdateAnalysis(ctx context.Context, id models.ULID, method, complexity string, at time.Time) error
}

// encoder is the slice of the transcoder supervisor the relay drives.
type encoder interface {
	Run(ctx context.Context, w io.Writer) error
	Stop()
	BytesOut() uint64
}

// Options wires a Relay. Channels, Analyzer, Registry, and Consumers are
// required; Streams is optional.
type Options struct {
	Streaming config.StreamingConfig
	Encoder   config.TranscoderConfig

	Channels  ChannelSource
	Streams   AnalysisRecorder
	Analyzer  *analyzer.Service
	Registry  *session.Registry
	Consumers *session.ConsumerManager

	Logger *slog.Logger
}

// Relay owns the live playback path.
type Relay struct {
	streaming config.StreamingConfig
	encoder   config.TranscoderConfig

	channels  ChannelSource
	streams   AnalysisRecorder
	analyzer  *analyzer.Service
	registry  *session.Registry
	consumers *session.ConsumerManager

	logger   *slog.Logger
	upstream *httpclient.Client

	// spawn builds the encoder process for a session. Tests swap it out.
	spawn func(cfg transcoder.Config) encoder
}

// New builds a Relay from Options.
func New(opts Options) *Relay {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	hc := httpclient.DefaultConfig()
	hc.RetryAttempts = 1
	hc.Logger = logger

	return &Relay{
		streaming: opts.Streaming,
		encoder:   opts.Encoder,
		channels:  opts.Channels,
		streams:   opts.Streams,
		analyzer:  opts.Analyzer,
		registry:  opts.Registry,
		consumers: opts.Consumers,
		logger:    logger,
		upstream:  httpclient.New(hc),
		spawn: func(cfg transcoder.Config) encoder {
			return transcoder.New(cfg)
		},
	}
}

// ServeChannel handles GET /stream/{channelID}. The response is a live
// MPEG-TS stream that lasts until the client disconnects or the session is
// torn down.
func (rl *Relay) ServeChannel(w http.ResponseWriter, r *http.Request, channelID string) {
	setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer does not support streaming")
		return
	}

	id, err := models.ParseULID(channelID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_channel_id", "channel id must be a ULID")
		return
	}

	ch, st, ok := rl.resolvePlayable(r.Context(), w, id)
	if !ok {
		return
	}

	clientIP := session.ClientIP(r)
	s, err := rl.registry.Admit(session.AdmitRequest{
		SessionID:     r.URL.Query().Get("session"),
		ChannelID:     id.String(),
		ChannelName:   ch.Name,
		ChannelNumber: strconv.Itoa(ch.Number),
		Fingerprint:   session.FingerprintFrom(clientIP, r.UserAgent()),
		ClientIP:      clientIP,
		UserAgent:     r.UserAgent(),
	})
	if err != nil {
		rl.writeAdmitError(w, err)
		return
	}

	// The session id doubles as the consumer id: adopting it keeps the
	// poll-side entry alive for as long as the stream runs.
	rl.consumers.Adopt(s.ID, s.ChannelID)
	if cid := r.URL.Query().Get("client"); cid != "" && cid != s.ID {
		rl.consumers.Touch(cid, "stream", r.UserAgent())
	}

	headers, err := st.HeaderMap()
	if err != nil {
		rl.logger.Warn("stream headers unreadable", "stream_id", st.ID, "error", err)
	}

	profile := rl.analyzer.AnalyzeWithOptions(r.Context(), st.URL, analyzer.Options{
		Username:  st.Username,
		Password:  st.Password,
		UserAgent: st.UserAgent,
		Headers:   headers,
	})
	if rl.streams != nil {
		if err := rl.streams.UpdateAnalysis(r.Context(), st.ID, string(profile.PrimaryMethod()), profile.PlaylistComplexity.String(), profile.AnalyzedAt); err != nil {
			rl.logger.Debug("analysis record failed", "stream_id", st.ID, "error", err)
		}
	}

	args := transcoder.BuildArgs(st.URL, profile, transcoder.BuildOptions{
		Format:            transcoder.FormatMPEGTS,
		UserAgent:         st.UserAgent,
		Headers:           headers,
		ReconnectDelayMax: rl.encoder.ReconnectDelayMax,
	})

	idle := rl.streaming.IdleTimeout
	if idle <= 0 {
		idle = defaultIdleTimeout
	}

	streamCtx, cancelStream := context.WithCancel(r.Context())
	defer cancelStream()

	var idleTimer *time.Timer
	idleTimer = time.AfterFunc(idle, func() {
		if rl.Teardown(s, session.EndReasonIdleTimeout) {
			rl.logger.Warn("session idle timeout", "session_id", s.ID, "channel_id", s.ChannelID)
		}
		cancelStream()
	})
	defer idleTimer.Stop()

	enc := rl.spawn(transcoder.Config{
		BinaryPath:           rl.encoder.FFmpegPath,
		Args:                 args,
		StopGrace:            rl.encoder.StopGrace,
		StderrHistoryLines:   rl.encoder.StderrHistoryLines,
		PSIKeepalive:         rl.encoder.PSIKeepalive,
		PSIKeepaliveInterval: rl.encoder.PSIKeepaliveInterval,
		Logger:               rl.logger.With("session_id", s.ID),
		OnChunk: func(n int) {
			s.RecordChunk(n)
			idleTimer.Reset(idle)
		},
		OnErrorLine: func(string) { s.RecordError() },
	})
	s.AttachEncoder(enc)

	setStreamHeaders(w, contentTypeMPEGTS)

	rl.logger.Debug("encoder launched",
		"session_id", s.ID,
		"channel_id", s.ChannelID,
		"method", string(profile.PrimaryMethod()),
	)

	fw := &flushWriter{w: w, f: flusher}
	runErr := enc.Run(streamCtx, fw)

	switch {
	case errors.Is(runErr, transcoder.ErrStartupFailed):
		rl.Teardown(s, session.EndReasonStartFailed)
		if fw.count() == 0 {
			writeError(w, http.StatusBadGateway, "encoder_start_failed", "encoder exited before producing output")
		}
	case r.Context().Err() != nil:
		rl.Teardown(s, session.EndReasonDisconnect)
	case streamCtx.Err() != nil:
		// Torn down by the idle timer; the timer callback recorded why.
	default:
		rl.Teardown(s, session.EndReasonProcessExit)
	}
}

// resolvePlayable loads the channel and picks its stream, writing the error
// response itself when the channel cannot be played.
func (rl *Relay) resolvePlayable(ctx context.Context, w http.ResponseWriter, id models.ULID) (*models.Channel, *models.Stream, bool) {
	ch, err := rl.channels.GetByIDWithStreams(ctx, id)
	if err != nil {
		rl.logger.Error("channel lookup failed", "channel_id", id.String(), "error", err)
		writeError(w, http.StatusInternalServerError, "channel_lookup_failed", "could not load channel")
		return nil, nil, false
	}
	if ch == nil || (ch.Enabled != nil && !*ch.Enabled) {
		writeError(w, http.StatusNotFound, "channel_not_found", "channel does not exist or is disabled")
		return nil, nil, false
	}
	st := firstEnabledStream(ch)
	if st == nil {
		writeError(w, http.StatusNotFound, "no_stream", "channel has no enabled stream")
		return nil, nil, false
	}
	return ch, st, true
}

func (rl *Relay) writeAdmitError(w http.ResponseWriter, err error) {
	var dup *session.DuplicateError
	var lim *session.LimitError
	switch {
	case errors.As(err, &dup):
		writeJSON(w, http.StatusConflict, errorBody{
			Error:     "duplicate_session",
			Message:   "client is already streaming this channel",
			SessionID: dup.ExistingID,
		})
	case errors.As(err, &lim):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{
			Error:   "session_limit",
			Message: lim.Error(),
			Scope:   lim.Scope,
			Limit:   lim.Limit,
		})
	default:
		rl.logger.Error("admission failed", "error", err)
		writeError(w, http.StatusInternalServerError, "admission_failed", "could not admit session")
	}
}

// Teardown ends a session: it wins the stopping transition, stops the
// encoder, deindexes the session, releases its consumer adoption, and emits
// the session-ended event. Only the first caller for a given session gets
// true; later callers are no-ops.
func (rl *Relay) Teardown(s *session.Session, reason session.EndReason) bool {
	if !s.BeginStop(reason) {
		return false
	}
	s.StopEncoder()
	rl.registry.Remove(s.ID)
	rl.consumers.Release(s.ID)
	s.FinishStop()

	info := s.Snapshot()
	rl.logger.Info("session ended",
		"session_id", s.ID,
		"channel_id", s.ChannelID,
		"reason", string(reason),
		"duration", info.Duration,
		"bytes_out", info.BytesOut,
		"avg_bps", info.AverageBps,
		"peak_bps", info.PeakBps,
	)
	return true
}

// TerminateSession tears down a session by id on an operator's behalf.
func (rl *Relay) TerminateSession(id string) bool {
	s, ok := rl.registry.Get(id)
	if !ok {
		return false
	}
	return rl.Teardown(s, session.EndReasonAdmin)
}

// OnCrashConfirmed is the crash detector callback: a confirmed verdict ends
// the session immediately so the tuner slot frees up.
func (rl *Relay) OnCrashConfirmed(s *session.Session, v session.Verdict) {
	if rl.Teardown(s, session.EndReasonCrash) {
		rl.logger.Warn("session ended by crash detector",
			"session_id", s.ID,
			"channel_id", s.ChannelID,
			"verdict", v.String(),
		)
	}
}

// Shutdown tears down every live session, typically at server stop.
func (rl *Relay) Shutdown() {
	for _, info := range rl.registry.Enumerate() {
		if s, ok := rl.registry.Get(info.ID); ok {
			rl.Teardown(s, session.EndReasonShutdown)
		}
	}
}

// firstEnabledStream picks the first enabled stream, relying on the
// repository's priority ordering.
func firstEnabledStream(ch *models.Channel) *models.Stream {
	for i := range ch.Streams {
		st := &ch.Streams[i]
		if st.Enabled == nil || *st.Enabled {
			return st
		}
	}
	return nil
}

// flushWriter pushes every chunk to the client immediately. Tuner clients
// stall when output sits in server buffers.
type flushWriter struct {
	w http.ResponseWriter
	f http.Flusher
	n atomic.Int64
}

func (fw *flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if n > 0 {
		fw.n.Add(int64(n))
		fw.f.Flush()
	}
	return n, err
}

func (fw *flushWriter) count() int64 { return fw.n.Load() }
