// Package validator is the last line of defense against the Plex live TV
// type bug: a payload that reaches a client with media type code 5 (trailer)
// instead of 4 (live) makes the player tear down the stream. Handlers are
// required to emit 4 already; this interceptor rewrites anything that slips
// through and records the catch so the bug can be traced, because a silent
// fix with no trail would hide the defect forever.
package validator

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const defaultRingSize = 256

// Event records one intercepted response that needed rewriting.
type Event struct {
	Kind  string    `json:"kind"`
	Path  string    `json:"path"`
	Count int       `json:"count"`
	At    time.Time `json:"at"`
}

// Interceptor rewrites outgoing live TV metadata and retains a bounded
// history of its catches.
type Interceptor struct {
	ring   *ring
	logger *slog.Logger
}

// New creates an interceptor whose event history holds ringSize entries;
// zero or negative falls back to the default.
func New(ringSize int, logger *slog.Logger) *Interceptor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Interceptor{
		ring:   newRing(ringSize),
		logger: logger,
	}
}

// Events returns the retained rewrite events, oldest first.
func (v *Interceptor) Events() []Event {
	return v.ring.snapshot()
}

// Middleware buffers JSON and XML responses, rewrites forbidden type codes,
// and forwards the result. Responses of other content types pass through
// untouched. The buffered bodies are metadata payloads, never stream data;
// the relay is mounted outside this middleware.
func (v *Interceptor) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bw := &bufferedWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(bw, r)
			v.emit(bw, r)
		})
	}
}

func (v *Interceptor) emit(bw *bufferedWriter, r *http.Request) {
	body := bw.body.Bytes()

	if kind := bodyKind(bw.Header().Get("Content-Type")); kind != "" && len(body) > 0 {
		var rewritten []byte
		var n int
		switch kind {
		case "json":
			rewritten, n = RewriteJSON(body)
		case "xml":
			rewritten, n = RewriteXML(body)
		}
		if n > 0 {
			v.logger.Warn("forbidden media type rewritten",
				"path", r.URL.Path,
				"kind", kind,
				"count", n)
			v.ring.record(Event{Kind: kind, Path: r.URL.Path, Count: n, At: time.Now()})
			rewritesTotal.WithLabelValues(kind).Add(float64(n))
			body = rewritten
			if bw.Header().Get("Content-Length") != "" {
				bw.Header().Set("Content-Length", strconv.Itoa(len(body)))
			}
		}
	}

	bw.ResponseWriter.WriteHeader(bw.status)
	if len(body) > 0 {
		_, _ = bw.ResponseWriter.Write(body)
	}
}

func bodyKind(contentType string) string {
	switch {
	case strings.Contains(contentType, "json"):
		return "json"
	case strings.Contains(contentType, "xml"):
		return "xml"
	default:
		return ""
	}
}

// bufferedWriter holds the response back until the handler returns. Headers
// go straight to the underlying writer's map; only the status line and body
// are deferred.
type bufferedWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (bw *bufferedWriter) WriteHeader(code int) {
	if bw.wroteHeader {
		return
	}
	bw.status = code
	bw.wroteHeader = true
}

func (bw *bufferedWriter) Write(b []byte) (int, error) {
	if !bw.wroteHeader {
		bw.WriteHeader(http.StatusOK)
	}
	return bw.body.Write(b)
}

// Unwrap returns the underlying ResponseWriter for middleware compatibility.
func (bw *bufferedWriter) Unwrap() http.ResponseWriter {
	return bw.ResponseWriter
}

// ring is a fixed-size overwrite-oldest event buffer.
type ring struct {
	mu     sync.Mutex
	events []Event
	next   int
	filled bool
}

func newRing(size int) *ring {
	if size <= 0 {
		size = defaultRingSize
	}
	return &ring{events: make([]Event, size)}
}

func (r *ring) record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[r.next] = e
	r.next = (r.next + 1) % len(r.events)
	if r.next == 0 {
		r.filled = true
	}
}

func (r *ring) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.filled {
		out := make([]Event, r.next)
		copy(out, r.events[:r.next])
		return out
	}
	out := make([]Event, 0, len(r.events))
	out = append(out, r.events[r.next:]...)
	out = append(out, r.events[:r.next]...)
	return out
}
