// Package plexcompat implements the Plex Media Server endpoints Plex clients
// poll while watching live TV through a network tuner.
//
// Plex does not limit itself to the HDHomeRun surface: once a stream is up,
// clients hit session polls, consumer checks, timelines, transcode decisions,
// and library metadata against whatever host served the lineup. Every handler
// here answers with a well-formed envelope of the family the client expects,
// XML MediaContainer or JSON, even when the request makes no sense. An HTML
// error page or a 500 makes Plex abandon the tuner entirely, which reads as
// "all tuners in use" on every client.
//
// The polls double as liveness signals: each one feeds the session registry
// and crash detector, and a poll against a session the detector has confirmed
// dead gets 410 so the client stops retrying a stream that will never resume.
package plexcompat

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jmylchreest/tunerr/internal/config"
	"github.com/jmylchreest/tunerr/internal/models"
	"github.com/jmylchreest/tunerr/internal/session"
)

// ChannelSource is the slice of the channel repository the compat surface
// needs for tune requests and metadata lookups.
type ChannelSource interface {
	GetByNumber(ctx context.Context, number int) (*models.Channel, error)
	GetFirstEnabled(ctx context.Context) (*models.Channel, error)
	GetByIDWithStreams(ctx context.Context, id models.ULID) (*models.Channel, error)
}

// GuideLocator resolves the XMLTV export URL for guide redirects. A nil
// locator falls back to the local export path.
type GuideLocator interface {
	XMLTVURL() string
}

// Options wires the compat surface to its collaborators.
type Options struct {
	Compat    config.CompatConfig
	Registry  *session.Registry
	Consumers *session.ConsumerManager
	Detector  *session.Detector
	Channels  ChannelSource
	Guide     GuideLocator
	Logger    *slog.Logger
}

// Surface serves the Plex compatibility endpoints.
type Surface struct {
	cfg       config.CompatConfig
	registry  *session.Registry
	consumers *session.ConsumerManager
	detector  *session.Detector
	channels  ChannelSource
	guide     GuideLocator
	logger    *slog.Logger

	timelineSeq atomic.Uint64
	startedAt   time.Time
}

// New creates the compat surface. Registry, Consumers, Detector, and Channels
// are required; Guide may be nil.
func New(opts Options) *Surface {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Surface{
		cfg:       opts.Compat,
		registry:  opts.Registry,
		consumers: opts.Consumers,
		detector:  opts.Detector,
		channels:  opts.Channels,
		guide:     opts.Guide,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// RegisterRoutes mounts the compat endpoints. Routes that Plex hits with
// varying methods (HEAD probes, OPTIONS preflights) use Handle; the catchalls
// keep unknown paths inside their family's empty envelope.
func (s *Surface) RegisterRoutes(router chi.Router) {
	router.Get("/livetv/sessions/{sessionID}", s.protectXML(s.handleSessionPoll))
	router.Post("/livetv/sessions/{sessionID}", s.protectXML(s.handleSessionPost))
	router.Get("/livetv/sessions/{sessionID}/{clientID}/index.m3u8", s.protectXML(s.handleIndexM3U8))
	router.Post("/livetv/dvrs/{dvrID}/channels/{number}/tune", s.protectXML(s.handleTune))
	router.Get("/livetv/*", s.protectXML(s.handleEmptyContainer))

	router.Get("/consumer/{consumerID}", s.protectJSON(s.handleConsumer))
	router.Get("/consumer/{consumerID}/{action}", s.protectJSON(s.handleConsumer))

	router.Handle("/Live/{sessionID}", s.protectJSON(s.handleLive))
	router.Handle("/Live/{sessionID}/{action}", s.protectJSON(s.handleLive))
	router.Handle("/Live/*", s.protectJSON(s.handleLiveFallback))

	router.Handle("/Transcode/{sessionID}", s.protectJSON(s.handleTranscode))
	router.Handle("/Transcode/{sessionID}/status", s.protectJSON(s.handleTranscode))

	router.Get("/timeline", s.protectXML(s.handleTimeline))
	router.Get("/timeline/{itemID}", s.protectXML(s.handleTimeline))

	router.Get("/library/metadata/{metadataID}", s.protectXML(s.handleMetadata))
	router.Get("/library/metadata/{metadataID}/{image}", s.protectXML(s.handleMetadataImage))
	router.Get("/library/*", s.protectXML(s.handleEmptyContainer))

	router.Get("/video/:/transcode/universal/decision", s.protectXML(s.handleDecision))

	router.Get("/guide", s.handleGuideRedirect)
	router.Get("/guide.xml", s.handleGuideRedirect)
}

// assess looks up a session and runs the crash detector over it. A session
// the registry no longer holds is usually reported healthy; absence alone
// is not evidence of a crash. The exception is a fresh tombstone from a
// crash or admin termination: teardown removes the session before the
// client's next poll lands, and that poll must see 410, not a resurrected
// healthy container.
func (s *Surface) assess(id string) (*session.Session, session.Verdict) {
	sess, ok := s.registry.Get(id)
	if !ok {
		if reason, dead := s.registry.Terminated(id); dead && terminalReason(reason) {
			return nil, session.VerdictConfirmedCrash
		}
		return nil, session.VerdictHealthy
	}
	verdict := s.detector.Assess(sess)
	if verdict.Degraded() {
		session.RecordVerdict(verdict)
	}
	return sess, verdict
}

// terminalReason reports whether an end reason means the client must stop
// polling. A plain disconnect or idle timeout is the client's own doing;
// answering 410 there would break a legitimate re-tune with the same id.
func terminalReason(reason session.EndReason) bool {
	switch reason {
	case session.EndReasonCrash, session.EndReasonAdmin, session.EndReasonMaxAge:
		return true
	}
	return false
}

// protectXML converts handler panics into an empty MediaContainer so a bug
// in one handler cannot surface as an HTML error page to Plex.
func (s *Surface) protectXML(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("compat handler panic",
					"path", r.URL.Path,
					"panic", rec)
				writeContainer(w, http.StatusOK, emptyContainer())
			}
		}()
		h(w, r)
	}
}

func (s *Surface) protectJSON(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("compat handler panic",
					"path", r.URL.Path,
					"panic", rec)
				writeJSON(w, http.StatusOK, struct{}{})
			}
		}()
		h(w, r)
	}
}

// redirect sends a 302 without a body. http.Redirect writes an HTML anchor
// on GET, which Plex would reject as a malformed tuner response.
func redirect(w http.ResponseWriter, location string) {
	w.Header().Set("Location", location)
	w.WriteHeader(http.StatusFound)
}

func (s *Surface) handleEmptyContainer(w http.ResponseWriter, r *http.Request) {
	writeContainer(w, http.StatusOK, emptyContainer())
}

func (s *Surface) handleGuideRedirect(w http.ResponseWriter, r *http.Request) {
	target := defaultGuidePath
	if s.guide != nil {
		if u := s.guide.XMLTVURL(); u != "" {
			target = u
		}
	}
	redirect(w, target)
}

const defaultGuidePath = "/epg/xmltv.xml"

// streamURL builds the relay URL a redirected client should fetch.
func streamURL(channelID, sessionID, clientID string, recovery bool) string {
	q := url.Values{}
	q.Set("session", sessionID)
	if clientID != "" && clientID != sessionID {
		q.Set("client", clientID)
	}
	if recovery {
		q.Set("recovery", "1")
	}
	return "/stream/" + channelID + "?" + q.Encode()
}
