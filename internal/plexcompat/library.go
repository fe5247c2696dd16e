package plexcompat

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jmylchreest/tunerr/internal/models"
)

// handleMetadata serves minimal library metadata for a channel. Plex asks for
// it when building the player UI; anything it cannot parse kills playback, so
// unknown or unfetchable items degrade to an empty container.
func (s *Surface) handleMetadata(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "metadataID")
	id, err := models.ParseULID(raw)
	if err != nil {
		writeContainer(w, http.StatusOK, emptyContainer())
		return
	}

	ch, err := s.channels.GetByIDWithStreams(r.Context(), id)
	if err != nil {
		s.logger.Error("metadata lookup failed", "channel_id", raw, "error", err)
		writeContainer(w, http.StatusOK, emptyContainer())
		return
	}
	if ch == nil {
		writeContainer(w, http.StatusOK, emptyContainer())
		return
	}

	writeContainer(w, http.StatusOK, mediaContainer{
		Size: 1,
		Videos: []video{{
			RatingKey:   raw,
			Key:         "/library/metadata/" + raw,
			Type:        "clip",
			Title:       ch.Name,
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
					Key:      "/stream/" + raw,
					Duration: liveDurationMS,
				}},
			}},
		}},
	})
}

// handleMetadataImage serves channel artwork. There is none; a transparent
// pixel keeps clients from rendering a broken-image placeholder.
func (s *Surface) handleMetadataImage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(onePixelPNG)
}

// handleDecision answers the universal transcode decision request with an
// unconditional direct play verdict. The relay already delivers a stream the
// client can play; letting Plex negotiate a transcode here would route
// playback away from it.
func (s *Surface) handleDecision(w http.ResponseWriter, r *http.Request) {
	if sid := r.URL.Query().Get("session"); sid != "" {
		if sess, ok := s.registry.Get(sid); ok {
			sess.RecordPoll()
		}
	}

	writeContainer(w, http.StatusOK, mediaContainer{
		Size:                   0,
		Identifier:             plexIdentifier,
		DirectPlayDecisionCode: 1000,
		DirectPlayDecisionText: "Direct play OK",
		GeneralDecisionCode:    1000,
		GeneralDecisionText:    "Direct play OK",
	})
}
