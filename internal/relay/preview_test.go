package relay

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/tunerr/internal/models"
)

func TestServePreview_HLSPassthrough(t *testing.T) {
	r := newRig(t)

	var mu sync.Mutex
	var lastUA string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		mu.Lock()
		lastUA = req.Header.Get("User-Agent")
		mu.Unlock()
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		_, _ = w.Write([]byte("#EXTM3U\n#EXT-X-VERSION:3\n#EXTINF:6.0,\nseg1.ts\n"))
	}))
	defer upstream.Close()

	id := r.addChannel(upstream.URL + "/live/stream.m3u8")
	r.channels.channels[id].Streams[0].UserAgent = "PreviewUA/1.0"

	rec := httptest.NewRecorder()
	req := streamRequest("/preview/"+id.String(), "Mozilla/5.0", "10.0.0.9:41000")
	r.relay.ServePreview(rec, req, id.String())

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.apple.mpegurl", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "#EXTM3U")

	mu.Lock()
	assert.Equal(t, "PreviewUA/1.0", lastUA)
	mu.Unlock()

	// previews are sessionless and never occupy a tuner slot
	assert.Empty(t, r.registry.Enumerate())
	assert.Nil(t, r.lastEncoder())
}

func TestServePreview_FallsBackToRemuxOnUpstreamError(t *testing.T) {
	r := newRig(t)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer upstream.Close()

	id := r.addChannel(upstream.URL + "/gone/master.m3u8")
	r.factory = func() *fakeEncoder {
		return &fakeEncoder{payload: []byte("fmp4data")}
	}

	rec := httptest.NewRecorder()
	req := streamRequest("/preview/"+id.String(), "Mozilla/5.0", "10.0.0.9:41000")
	r.relay.ServePreview(rec, req, id.String())

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
	assert.Equal(t, "fmp4data", rec.Body.String())

	enc := r.lastEncoder()
	require.NotNil(t, enc)
	assert.Contains(t, enc.cfg.Args, "mp4")
	assert.NotContains(t, enc.cfg.Args, "mpegts")
}

func TestServePreview_RemuxesNonHTTPSource(t *testing.T) {
	r := newRig(t)
	id := r.addChannel("rtsp://camera.example/live")
	r.factory = func() *fakeEncoder {
		return &fakeEncoder{payload: []byte("fmp4data")}
	}

	rec := httptest.NewRecorder()
	req := streamRequest("/preview/"+id.String(), "Mozilla/5.0", "10.0.0.9:41000")
	r.relay.ServePreview(rec, req, id.String())

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
	assert.Equal(t, "fmp4data", rec.Body.String())
}

func TestServePreview_InvalidID(t *testing.T) {
	r := newRig(t)

	rec := httptest.NewRecorder()
	req := streamRequest("/preview/bogus", "Mozilla/5.0", "10.0.0.9:41000")
	r.relay.ServePreview(rec, req, "bogus")

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "invalid_channel_id", body.Error)
}

func TestManifestContentType(t *testing.T) {
	assert.Equal(t, "application/dash+xml", manifestContentType(models.ProtocolDASH))
	assert.Equal(t, "application/vnd.apple.mpegurl", manifestContentType(models.ProtocolHLS))
}
