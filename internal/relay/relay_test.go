package relay

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/tunerr/internal/analyzer"
	"github.com/jmylchreest/tunerr/internal/config"
	"github.com/jmylchreest/tunerr/internal/models"
	"github.com/jmylchreest/tunerr/internal/session"
	"github.com/jmylchreest/tunerr/internal/transcoder"
)

type stubChannels struct {
	channels map[models.ULID]*models.Channel
	err      error
}

func (s *stubChannels) GetByIDWithStreams(_ context.Context, id models.ULID) (*models.Channel, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.channels[id], nil
}

type stubAnalysis struct {
	mu     sync.Mutex
	calls  int
	method string
}

func (s *stubAnalysis) UpdateAnalysis(_ context.Context, _ models.ULID, method, _ string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.method = method
	return nil
}

func (s *stubAnalysis) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// fakeEncoder stands in for the transcoder supervisor: it writes its payload
// through the relay's chunk accounting, then either returns or blocks until
// stopped.
type fakeEncoder struct {
	cfg     transcoder.Config
	payload []byte
	runErr  error
	block   bool

	stopOnce sync.Once
	stopCh   chan struct{}
	stopped  atomic.Bool
	bytes    atomic.Uint64
}

func (f *fakeEncoder) Run(ctx context.Context, w io.Writer) error {
	if len(f.payload) > 0 {
		n, err := w.Write(f.payload)
		if n > 0 {
			f.bytes.Add(uint64(n))
			if f.cfg.OnChunk != nil {
				f.cfg.OnChunk(n)
			}
		}
		if err != nil {
			return err
		}
	}
	if f.block {
		select {
		case <-ctx.Done():
		case <-f.stopCh:
		}
	}
	return f.runErr
}

func (f *fakeEncoder) Stop() {
	f.stopped.Store(true)
	f.stopOnce.Do(func() { close(f.stopCh) })
}

func (f *fakeEncoder) BytesOut() uint64 { return f.bytes.Load() }

type rig struct {
	relay     *Relay
	registry  *session.Registry
	consumers *session.ConsumerManager
	channels  *stubChannels
	analysis  *stubAnalysis

	mu      sync.Mutex
	factory func() *fakeEncoder
	spawned []*fakeEncoder
}

func newRig(t *testing.T, mutate ...func(*Options)) *rig {
	t.Helper()

	opts := Options{
		Streaming: config.StreamingConfig{
			MaxConcurrentStreams: 10,
			MaxPerChannelStreams: 5,
			IdleTimeout:          time.Minute,
			SweepInterval:        time.Minute,
		},
		Encoder: config.TranscoderConfig{FFmpegPath: "/usr/bin/ffmpeg"},
	}
	for _, m := range mutate {
		m(&opts)
	}

	crash := config.CrashConfig{
		PollFresh:      2 * time.Second,
		ByteFresh:      5 * time.Second,
		ByteStall:      15 * time.Second,
		AndroidPollGap: 10 * time.Second,
		PollTimeout:    30 * time.Second,
		PollConfirm:    60 * time.Second,
		StartupSilence: 15 * time.Second,
	}

	opts.Registry = session.NewRegistry(opts.Streaming, crash, nil)
	opts.Consumers = session.NewConsumerManager(time.Minute, nil)
	opts.Analyzer = analyzer.New(config.AnalyzerConfig{}, nil)

	chans := &stubChannels{channels: map[models.ULID]*models.Channel{}}
	rec := &stubAnalysis{}
	opts.Channels = chans
	opts.Streams = rec

	r := &rig{
		relay:     New(opts),
		registry:  opts.Registry,
		consumers: opts.Consumers,
		channels:  chans,
		analysis:  rec,
		factory: func() *fakeEncoder {
			return &fakeEncoder{payload: []byte("tsdata")}
		},
	}
	r.relay.spawn = func(cfg transcoder.Config) encoder {
		r.mu.Lock()
		defer r.mu.Unlock()
		enc := r.factory()
		if enc.stopCh == nil {
			enc.stopCh = make(chan struct{})
		}
		enc.cfg = cfg
		r.spawned = append(r.spawned, enc)
		return enc
	}
	return r
}

// addChannel registers a playable channel backed by one RTSP stream. RTSP
// keeps the analyzer off the network.
func (r *rig) addChannel(url string) models.ULID {
	id := models.NewULID()
	r.channels.channels[id] = &models.Channel{
		BaseModel: models.BaseModel{ID: id},
		Number:    101,
		Name:      "News One",
		Enabled:   models.BoolPtr(true),
		Streams: []models.Stream{{
			BaseModel: models.BaseModel{ID: models.NewULID()},
			ChannelID: id,
			URL:       url,
			Enabled:   models.BoolPtr(true),
		}},
	}
	return id
}

func (r *rig) lastEncoder() *fakeEncoder {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.spawned) == 0 {
		return nil
	}
	return r.spawned[len(r.spawned)-1]
}

func streamRequest(target, userAgent, remoteAddr string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}
	return req
}

func TestServeChannel_StreamsToClient(t *testing.T) {
	r := newRig(t)
	id := r.addChannel("rtsp://upstream.example/news")

	rec := httptest.NewRecorder()
	req := streamRequest("/stream/"+id.String()+"?session=sess-1", "VLC/3.0", "10.0.0.9:41000")
	r.relay.ServeChannel(rec, req, id.String())

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "video/mp2t", rec.Header().Get("Content-Type"))
	assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "tsdata", rec.Body.String())

	// encoder exit tears the session down
	assert.Empty(t, r.registry.Enumerate())

	// the consumer keeps answering polls but is no longer adopted
	infos := r.consumers.Snapshot()
	require.Len(t, infos, 1)
	assert.Equal(t, "sess-1", infos[0].ID)
	assert.False(t, infos[0].Adopted)

	assert.Equal(t, 1, r.analysis.count())
}

func TestServeChannel_RequestErrors(t *testing.T) {
	r := newRig(t)
	enabled := r.addChannel("rtsp://upstream.example/ok")

	disabled := r.addChannel("rtsp://upstream.example/off")
	r.channels.channels[disabled].Enabled = models.BoolPtr(false)

	noStream := r.addChannel("rtsp://upstream.example/dead")
	r.channels.channels[noStream].Streams[0].Enabled = models.BoolPtr(false)

	tests := []struct {
		name       string
		channelID  string
		wantStatus int
		wantError  string
	}{
		{"malformed id", "not-a-ulid", http.StatusBadRequest, "invalid_channel_id"},
		{"unknown channel", models.NewULID().String(), http.StatusNotFound, "channel_not_found"},
		{"disabled channel", disabled.String(), http.StatusNotFound, "channel_not_found"},
		{"no enabled stream", noStream.String(), http.StatusNotFound, "no_stream"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := streamRequest("/stream/"+tt.channelID, "VLC/3.0", "10.0.0.9:41000")
			r.relay.ServeChannel(rec, req, tt.channelID)

			require.Equal(t, tt.wantStatus, rec.Code)
			var body errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantError, body.Error)
		})
	}

	// the happy channel still admits after all those rejections
	rec := httptest.NewRecorder()
	r.relay.ServeChannel(rec, streamRequest("/stream/"+enabled.String(), "VLC/3.0", "10.0.0.9:41000"), enabled.String())
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServeChannel_Preflight(t *testing.T) {
	r := newRig(t)
	id := r.addChannel("rtsp://upstream.example/news")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/stream/"+id.String(), nil)
	r.relay.ServeChannel(rec, req, id.String())

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Empty(t, r.registry.Enumerate())
}

func TestServeChannel_RejectsDuplicateClient(t *testing.T) {
	r := newRig(t)
	id := r.addChannel("rtsp://upstream.example/news")
	r.factory = func() *fakeEncoder {
		return &fakeEncoder{payload: []byte("x"), block: true}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		rec := httptest.NewRecorder()
		req := streamRequest("/stream/"+id.String()+"?session=sess-1", "VLC/3.0", "10.0.0.9:41000")
		r.relay.ServeChannel(rec, req, id.String())
	}()

	require.Eventually(t, func() bool {
		return len(r.registry.Enumerate()) == 1
	}, time.Second, 10*time.Millisecond)

	rec := httptest.NewRecorder()
	req := streamRequest("/stream/"+id.String(), "VLC/3.0", "10.0.0.9:41000")
	r.relay.ServeChannel(rec, req, id.String())

	require.Equal(t, http.StatusConflict, rec.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "duplicate_session", body.Error)
	assert.Equal(t, "sess-1", body.SessionID)

	require.True(t, r.relay.TerminateSession("sess-1"))
	<-done
	assert.Empty(t, r.registry.Enumerate())
}

func TestServeChannel_GlobalLimit(t *testing.T) {
	r := newRig(t, func(o *Options) {
		o.Streaming.MaxConcurrentStreams = 1
	})
	first := r.addChannel("rtsp://upstream.example/one")
	second := r.addChannel("rtsp://upstream.example/two")
	r.factory = func() *fakeEncoder {
		return &fakeEncoder{payload: []byte("x"), block: true}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		rec := httptest.NewRecorder()
		req := streamRequest("/stream/"+first.String()+"?session=sess-1", "VLC/3.0", "10.0.0.9:41000")
		r.relay.ServeChannel(rec, req, first.String())
	}()

	require.Eventually(t, func() bool {
		return len(r.registry.Enumerate()) == 1
	}, time.Second, 10*time.Millisecond)

	rec := httptest.NewRecorder()
	req := streamRequest("/stream/"+second.String(), "Plex/4.0", "10.0.0.10:41000")
	r.relay.ServeChannel(rec, req, second.String())

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "session_limit", body.Error)
	assert.Equal(t, "global", body.Scope)
	assert.Equal(t, 1, body.Limit)

	r.relay.Shutdown()
	<-done
}

func TestServeChannel_EncoderStartupFailure(t *testing.T) {
	r := newRig(t)
	id := r.addChannel("rtsp://upstream.example/news")
	r.factory = func() *fakeEncoder {
		return &fakeEncoder{runErr: transcoder.ErrStartupFailed}
	}

	rec := httptest.NewRecorder()
	req := streamRequest("/stream/"+id.String(), "VLC/3.0", "10.0.0.9:41000")
	r.relay.ServeChannel(rec, req, id.String())

	require.Equal(t, http.StatusBadGateway, rec.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "encoder_start_failed", body.Error)
	assert.Empty(t, r.registry.Enumerate())
}

func TestServeChannel_ClientDisconnect(t *testing.T) {
	r := newRig(t)
	id := r.addChannel("rtsp://upstream.example/news")
	r.factory = func() *fakeEncoder {
		return &fakeEncoder{payload: []byte("x"), block: true}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		rec := httptest.NewRecorder()
		req := streamRequest("/stream/"+id.String(), "VLC/3.0", "10.0.0.9:41000").WithContext(ctx)
		r.relay.ServeChannel(rec, req, id.String())
	}()

	require.Eventually(t, func() bool {
		return len(r.registry.Enumerate()) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
	assert.Empty(t, r.registry.Enumerate())
}

func TestServeChannel_IdleTimeout(t *testing.T) {
	r := newRig(t, func(o *Options) {
		o.Streaming.IdleTimeout = 40 * time.Millisecond
	})
	id := r.addChannel("rtsp://upstream.example/news")
	r.factory = func() *fakeEncoder {
		// Blocks without ever producing a byte.
		return &fakeEncoder{block: true}
	}

	rec := httptest.NewRecorder()
	req := streamRequest("/stream/"+id.String(), "VLC/3.0", "10.0.0.9:41000")
	r.relay.ServeChannel(rec, req, id.String())

	assert.Empty(t, r.registry.Enumerate())
	require.NotNil(t, r.lastEncoder())
	assert.True(t, r.lastEncoder().stopped.Load())
}

func TestTerminateSession_UnknownID(t *testing.T) {
	r := newRig(t)
	assert.False(t, r.relay.TerminateSession("no-such-session"))
}

func TestShutdown_EndsAllSessions(t *testing.T) {
	r := newRig(t)
	first := r.addChannel("rtsp://upstream.example/one")
	second := r.addChannel("rtsp://upstream.example/two")
	r.factory = func() *fakeEncoder {
		return &fakeEncoder{payload: []byte("x"), block: true}
	}

	var wg sync.WaitGroup
	for i, ch := range []models.ULID{first, second} {
		wg.Add(1)
		go func(idx int, id models.ULID) {
			defer wg.Done()
			rec := httptest.NewRecorder()
			addr := "10.0.0.9:41000"
			if idx == 1 {
				addr = "10.0.0.10:41000"
			}
			req := streamRequest("/stream/"+id.String(), "VLC/3.0", addr)
			r.relay.ServeChannel(rec, req, id.String())
		}(i, ch)
	}

	require.Eventually(t, func() bool {
		return len(r.registry.Enumerate()) == 2
	}, time.Second, 10*time.Millisecond)

	r.relay.Shutdown()
	wg.Wait()

	assert.Empty(t, r.registry.Enumerate())
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, enc := range r.spawned {
		assert.True(t, enc.stopped.Load())
	}
}
