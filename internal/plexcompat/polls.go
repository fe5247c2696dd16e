package plexcompat

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

type consumerStatus struct {
	Available    bool   `json:"available"`
	Active       bool   `json:"active"`
	State        string `json:"state"`
	LastActivity string `json:"lastActivity,omitempty"`
}

type sessionStatus struct {
	Healthy bool   `json:"healthy"`
	Reason  string `json:"reason"`
}

type consumerResponse struct {
	Consumer consumerStatus `json:"consumer"`
	Session  sessionStatus  `json:"session"`
}

type liveStatus struct {
	State  string `json:"state"`
	Reason string `json:"reason,omitempty"`
}

type transcodeStatus struct {
	Running bool   `json:"running"`
	Alive   bool   `json:"alive"`
	State   string `json:"state"`
}

// handleConsumer reports consumer and session health as JSON. Plex treats
// this endpoint as authoritative when deciding whether to keep a stale
// playback element alive.
func (s *Surface) handleConsumer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "consumerID")
	sess, verdict := s.assess(id)

	if verdict.Confirmed() {
		writeJSON(w, http.StatusGone, consumerResponse{
			Consumer: consumerStatus{Available: false, State: "terminated"},
			Session:  sessionStatus{Healthy: false, Reason: verdict.String()},
		})
		return
	}

	if sess != nil {
		sess.RecordPoll()
	}
	c := s.consumers.Touch(id, "/consumer", r.UserAgent())

	state := "idle"
	active := false
	if sess != nil {
		state = sess.State().String()
		active = sess.State().Active()
	}
	writeJSON(w, http.StatusOK, consumerResponse{
		Consumer: consumerStatus{
			Available:    true,
			Active:       active,
			State:        state,
			LastActivity: c.Info().LastSeenAt.UTC().Format(time.RFC3339),
		},
		Session: sessionStatus{
			Healthy: !verdict.Degraded(),
			Reason:  verdict.String(),
		},
	})
}

// handleLive answers the /Live poll family. Clients hit it with GET, HEAD,
// and the occasional POST, all expecting the same JSON body.
func (s *Surface) handleLive(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	sess, verdict := s.assess(id)

	if verdict.Confirmed() {
		writeJSON(w, http.StatusGone, liveStatus{
			State:  "terminated",
			Reason: verdict.String(),
		})
		return
	}

	if sess != nil {
		sess.RecordPoll()
	}
	s.consumers.Touch(id, "/Live", r.UserAgent())
	writeJSON(w, http.StatusOK, liveStatus{State: "streaming"})
}

func (s *Surface) handleLiveFallback(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, liveStatus{State: "streaming"})
}

func (s *Surface) handleTranscode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	sess, verdict := s.assess(id)

	if verdict.Confirmed() {
		writeJSON(w, http.StatusGone, transcodeStatus{
			Running: false,
			Alive:   false,
			State:   "terminated",
		})
		return
	}

	if sess != nil {
		sess.RecordPoll()
	}
	s.consumers.Touch(id, "/Transcode", r.UserAgent())

	running := sess != nil && sess.State().Active()
	state := "idle"
	if sess != nil {
		state = sess.State().String()
	}
	writeJSON(w, http.StatusOK, transcodeStatus{
		Running: running,
		Alive:   true,
		State:   state,
	})
}

// handleTimeline serves the playback timeline Plex polls during live TV.
// Every response gets a unique ETag and cache suppression headers; some
// clients otherwise cache the first timeline and freeze the progress bar.
func (s *Surface) handleTimeline(w http.ResponseWriter, r *http.Request) {
	// Timelines keep arriving after a crash verdict; recording those
	// polls would reset the detector's window and mask the crash.
	if sid := r.URL.Query().Get("X-Plex-Session-Identifier"); sid != "" {
		if sess, verdict := s.assess(sid); sess != nil && !verdict.Confirmed() {
			sess.RecordPoll()
		}
	}

	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Header().Set("ETag", `"tl-`+strconv.FormatUint(s.timelineSeq.Add(1), 10)+`"`)

	writeContainer(w, http.StatusOK, mediaContainer{
		Size: 1,
		Timelines: []timeline{{
			State:       "playing",
			Type:        "episode",
			ContentType: 4,
			ItemID:      chi.URLParam(r, "itemID"),
			Duration:    liveDurationMS,
			Time:        time.Since(s.startedAt).Milliseconds(),
		}},
	})
}
