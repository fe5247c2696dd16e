package plexcompat

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/jmylchreest/tunerr/internal/models"
	"github.com/jmylchreest/tunerr/internal/session"
)

// handleSessionPoll answers the periodic GET Plex issues against an active
// live TV session. The health check runs before the poll is recorded; a poll
// that resets activity first would mask the very timeout it should reveal.
func (s *Surface) handleSessionPoll(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	sess, verdict := s.assess(id)

	if verdict.Confirmed() {
		s.logger.Info("poll against terminated session",
			"session_id", id,
			"verdict", verdict.String())
		writeContainer(w, http.StatusGone, terminatedContainer())
		return
	}
	if verdict.Degraded() {
		// Suspected but unconfirmed. 204 keeps the client polling without
		// feeding it stale stream metadata.
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if sess != nil {
		sess.RecordPoll()
	}
	c := s.consumers.Touch(id, "/livetv/sessions", r.UserAgent())

	title := "Live TV"
	channelID := ""
	if sess != nil {
		channelID = sess.ChannelID
		if sess.ChannelName != "" {
			title = sess.ChannelName
		}
	}
	if channelID == "" {
		channelID = c.Info().ChannelID
	}
	partKey := "/stream/" + id
	if channelID != "" {
		partKey = "/stream/" + channelID + "?session=" + id
	}

	writeContainer(w, http.StatusOK, mediaContainer{
		Size: 1,
		Videos: []video{{
			RatingKey:   id,
			Key:         "/livetv/sessions/" + id,
			Type:        "clip",
			Title:       title,
			Live:        "1",
			ContentType: 4,
			Duration:    liveDurationMS,
			Media: []media{{
				ID:         "1",
				Duration:   liveDurationMS,
				VideoCodec: "h264",
				AudioCodec: "aac",
				Container:  "mpegts",
				Protocol:   "http",
				Parts: []part{{
					Key:      partKey,
					Duration: liveDurationMS,
				}},
			}},
		}},
	})
}

// handleSessionPost covers the POST variant some clients use as a keepalive.
func (s *Surface) handleSessionPost(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	sess, verdict := s.assess(id)

	if verdict.Confirmed() {
		writeContainer(w, http.StatusGone, terminatedContainer())
		return
	}
	if verdict.Degraded() {
		writeContainer(w, http.StatusOK, emptyContainer())
		return
	}

	if sess != nil {
		sess.RecordPoll()
	}
	s.consumers.Touch(id, "/livetv/sessions", r.UserAgent())
	writeContainer(w, http.StatusOK, emptyContainer())
}

// handleIndexM3U8 resolves the playlist URL Plex requests after a tune and
// redirects it to the relay. The channel comes from the live session when one
// exists, otherwise from the consumer the tune created.
func (s *Surface) handleIndexM3U8(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sessionID")
	cid := chi.URLParam(r, "clientID")

	sess, verdict := s.assess(sid)
	if verdict.Confirmed() {
		writeContainer(w, http.StatusGone, terminatedContainer())
		return
	}

	channelID := ""
	if sess != nil {
		channelID = sess.ChannelID
	}
	if channelID == "" {
		if c, ok := s.consumers.Get(sid); ok {
			channelID = c.Info().ChannelID
		}
	}

	if channelID != "" {
		s.consumers.Touch(sid, "/livetv/playlist", r.UserAgent())
		redirect(w, streamURL(channelID, sid, cid, false))
		return
	}

	if !s.cfg.RecoveryRedirect {
		writeContainer(w, http.StatusNotFound, notFoundContainer("Session not found"))
		return
	}

	// Recovery mode: Plex lost the tune but still wants a playlist. Point it
	// at the first enabled channel rather than admit the session is gone.
	ch, err := s.channels.GetFirstEnabled(r.Context())
	if err != nil || ch == nil {
		if err != nil {
			s.logger.Error("recovery lookup failed", "error", err)
		}
		writeContainer(w, http.StatusNotFound, notFoundContainer("Session not found"))
		return
	}
	s.consumers.Associate(sid, "recovery", r.UserAgent(), ch.ID.String())
	s.logger.Warn("fabricated recovery consumer for unknown session",
		"session_id", sid,
		"channel_id", ch.ID.String(),
		"client_ip", session.ClientIP(r))
	redirect(w, streamURL(ch.ID.String(), sid, cid, true))
}

// handleTune services Plex's DVR tune request. It does not start a stream;
// it registers the intent as a consumer and hands back the playlist key the
// client fetches next.
func (s *Surface) handleTune(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil {
		writeContainer(w, http.StatusNotFound, notFoundContainer("Channel not found"))
		return
	}

	ch, err := s.channels.GetByNumber(r.Context(), number)
	if err != nil {
		s.logger.Error("tune lookup failed", "channel_number", number, "error", err)
		writeContainer(w, http.StatusNotFound, notFoundContainer("Channel not found"))
		return
	}
	if ch == nil || !models.BoolVal(ch.Enabled) {
		writeContainer(w, http.StatusNotFound, notFoundContainer("Channel not found"))
		return
	}

	sid := tuneSessionID(r)
	if sess, ok := s.registry.Get(sid); ok {
		if sess.Fingerprint != session.FingerprintRequest(r) {
			s.logger.Warn("tune rejected, session owned by another client",
				"session_id", sid,
				"client_ip", session.ClientIP(r))
			writeContainer(w, http.StatusForbidden, notFoundContainer("SESSION_IP_MISMATCH"))
			return
		}
		sess.RecordPoll()
	}

	cid := clientID(r, sid)
	s.consumers.Associate(sid, "tune", r.UserAgent(), ch.ID.String())

	s.logger.Info("tune request",
		"channel_number", number,
		"channel_id", ch.ID.String(),
		"session_id", sid,
		"client_ip", session.ClientIP(r))

	writeContainer(w, http.StatusOK, mediaContainer{
		Size: 1,
		Videos: []video{{
			RatingKey:   sid,
			Key:         "/livetv/sessions/" + sid,
			Type:        "clip",
			Title:       ch.Name,
			Live:        "1",
			ContentType: 4,
			Duration:    liveDurationMS,
			Media: []media{{
				ID:       "1",
				Duration: liveDurationMS,
				Protocol: "hls",
				Parts: []part{{
					Key:      "/livetv/sessions/" + sid + "/" + cid + "/index.m3u8",
					Duration: liveDurationMS,
				}},
			}},
		}},
	})
}

// tuneSessionID extracts the session identifier Plex sends with a tune,
// minting one when the client sent none so the playlist chain still works.
func tuneSessionID(r *http.Request) string {
	if v := r.Header.Get("X-Plex-Session-Identifier"); v != "" {
		return v
	}
	if v := r.URL.Query().Get("X-Plex-Session-Identifier"); v != "" {
		return v
	}
	return models.NewULID().String()
}

func clientID(r *http.Request, fallback string) string {
	if v := r.Header.Get("X-Plex-Client-Identifier"); v != "" {
		return v
	}
	if v := r.URL.Query().Get("X-Plex-Client-Identifier"); v != "" {
		return v
	}
	return fallback
}
