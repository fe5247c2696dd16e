package relay

import (
	"net/http"

	json "github.com/goccy/go-json"
)

// errorBody is the JSON envelope playback routes return on failure. Tuner
// clients rarely read bodies, so it stays small and stable for the web
// players and scripts that do.
type errorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	Scope     string `json:"scope,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: code, Message: message})
}

// setCORSHeaders applies the permissive policy playback clients expect.
// Browser-based players preflight both stream and preview URLs.
func setCORSHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Accept, Range")
	h.Set("Access-Control-Expose-Headers", "Content-Length, Content-Range, Accept-Ranges")
}

// setStreamHeaders marks the response as an unbounded live stream. Ranges
// are advertised for client compatibility but never honored; live output
// has no seekable extent.
func setStreamHeaders(w http.ResponseWriter, contentType string) {
	h := w.Header()
	h.Set("Content-Type", contentType)
	h.Set("Accept-Ranges", "bytes")
	h.Set("Cache-Control", "no-store")
	h.Set("Pragma", "no-cache")
}
