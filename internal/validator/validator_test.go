package validator

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveThrough(v *Interceptor, h http.HandlerFunc, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	v.Middleware()(h).ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_RewritesForbiddenTypeJSON(t *testing.T) {
	v := New(16, nil)
	h := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write([]byte(`{"type":5,"title":"Movie 5","Media":[{"contentType":5,"id":5}]}`))
	}

	rec := serveThrough(v, h, "/library/metadata/123")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"type":4,"title":"Movie 5","Media":[{"contentType":4,"id":5}]}`,
		rec.Body.String(), "monitored fields rewritten, everything else untouched")

	events := v.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "json", events[0].Kind)
	assert.Equal(t, "/library/metadata/123", events[0].Path)
	assert.Equal(t, 2, events[0].Count)
	assert.False(t, events[0].At.IsZero())
}

func TestMiddleware_RewritesForbiddenTypeXML(t *testing.T) {
	v := New(16, nil)
	h := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`<MediaContainer size="1"><Video type="trailer" contentType="5"/></MediaContainer>`))
	}

	rec := serveThrough(v, h, "/livetv/sessions/abc")

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `type="clip"`)
	assert.Contains(t, body, `contentType="4"`)
	assert.Contains(t, body, `size="1"`, "container size is not a media type")

	events := v.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "xml", events[0].Kind)
	assert.Equal(t, 2, events[0].Count)
}

func TestMiddleware_CleanBodyPassesThrough(t *testing.T) {
	v := New(16, nil)
	payload := `{"type":4,"Media":[{"contentType":4}]}`
	h := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(payload))
	}

	rec := serveThrough(v, h, "/livetv/sessions/abc")

	assert.Equal(t, payload, rec.Body.String(), "clean bodies are forwarded byte for byte")
	assert.Empty(t, v.Events())
}

func TestMiddleware_IgnoresOtherContentTypes(t *testing.T) {
	v := New(16, nil)
	payload := `binary with type="5" inside`
	h := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte(payload))
	}

	rec := serveThrough(v, h, "/library/metadata/123/thumb")

	assert.Equal(t, payload, rec.Body.String())
	assert.Empty(t, v.Events())
}

func TestMiddleware_PreservesStatusAndEmptyBody(t *testing.T) {
	v := New(16, nil)
	h := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}

	rec := serveThrough(v, h, "/livetv/sessions/abc")

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Empty(t, v.Events())
}

func TestMiddleware_UpdatesContentLength(t *testing.T) {
	v := New(16, nil)
	payload := `{"type":"trailer"}`
	h := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		_, _ = w.Write([]byte(payload))
	}

	rec := serveThrough(v, h, "/livetv/sessions/abc")

	body := rec.Body.String()
	assert.JSONEq(t, `{"type":"clip"}`, body)
	assert.Equal(t, strconv.Itoa(len(body)), rec.Header().Get("Content-Length"),
		"a stale Content-Length would truncate the rewritten body")
}

func TestEvents_RingOverwritesOldest(t *testing.T) {
	v := New(3, nil)
	for i := 1; i <= 5; i++ {
		h := func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"type":5}`))
		}
		serveThrough(v, h, fmt.Sprintf("/p%d", i))
	}

	events := v.Events()
	require.Len(t, events, 3)
	assert.Equal(t, "/p3", events[0].Path, "oldest retained event first")
	assert.Equal(t, "/p4", events[1].Path)
	assert.Equal(t, "/p5", events[2].Path)
}

func TestNew_RingSizeFallback(t *testing.T) {
	v := New(0, nil)
	h := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"type":5}`))
	}
	serveThrough(v, h, "/p")
	assert.Len(t, v.Events(), 1)
}
