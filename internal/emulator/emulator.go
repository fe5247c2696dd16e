// Package emulator presents the HDHomeRun network-tuner surface that media
// servers discover and poll. It answers the discovery, lineup, and tuner
// status endpoints with the JSON shapes Plex expects from Silicondust
// hardware, backed by the channel store and the live session registry.
//
// Every JSON endpoint degrades rather than erroring: a failed lookup
// produces a 200 with a well-formed empty structure, because Plex abandons
// a tuner whose discovery surface ever answers with an HTML error page.
// Only an expired soft deadline produces a 503.
package emulator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/jmylchreest/tunerr/internal/config"
	"github.com/jmylchreest/tunerr/internal/models"
	"github.com/jmylchreest/tunerr/internal/session"
	"github.com/jmylchreest/tunerr/internal/urlutil"
)

const (
	manufacturer    = "Silicondust"
	modelName       = "HDHomeRun EXTEND"
	modelNumber     = "HDTC-2US"
	firmwareName    = "hdhomeruntc_atsc"
	firmwareVersion = "20250101"

	defaultRequestDeadline = 5 * time.Second
)

// LineupSource lists the channels exposed through the tuner lineup.
type LineupSource interface {
	GetEnabled(ctx context.Context) ([]*models.Channel, error)
}

// GuideStatusSource reports whether guide data is loaded and how many
// programs are held. A nil source means no guide collaborator is wired.
type GuideStatusSource interface {
	GuideStatus(ctx context.Context) (available bool, programs int64)
}

// SessionSource exposes the active playback sessions that map onto
// tuner slots.
type SessionSource interface {
	Enumerate() []session.Info
}

// Options carries the emulator's collaborators.
type Options struct {
	Server    config.ServerConfig
	Discovery config.DiscoveryConfig
	Channels  LineupSource
	Guide     GuideStatusSource
	Sessions  SessionSource
	Logger    *slog.Logger
}

// Emulator serves the HDHomeRun endpoint set.
type Emulator struct {
	discovery  config.DiscoveryConfig
	channels   LineupSource
	guide      GuideStatusSource
	sessions   SessionSource
	base       *Resolver
	deviceID   string
	deviceAuth string
	logger     *slog.Logger
}

// New builds an Emulator. The device identity is derived from the
// configured device UUID, so it stays stable across restarts as long as
// the UUID is persisted.
func New(opts Options) *Emulator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	uuid := strings.TrimSpace(opts.Discovery.DeviceUUID)
	return &Emulator{
		discovery:  opts.Discovery,
		channels:   opts.Channels,
		guide:      opts.Guide,
		sessions:   opts.Sessions,
		base:       NewResolver(opts.Server),
		deviceID:   DeviceID(uuid),
		deviceAuth: DeviceAuth(uuid),
		logger:     logger,
	}
}

// DeviceID derives the 8-hex-digit tuner identifier from the device UUID.
func DeviceID(uuid string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(uuid))))
	return strings.ToUpper(hex.EncodeToString(sum[:4]))
}

// DeviceAuth derives the opaque auth token discovery payloads carry.
// Plex echoes it back verbatim and never validates it server-side.
func DeviceAuth(uuid string) string {
	sum := sha256.Sum256([]byte("auth:" + strings.ToLower(strings.TrimSpace(uuid))))
	return hex.EncodeToString(sum[:8])
}

// BaseResolver exposes the advertised-URL resolver for collaborators that
// announce outside an HTTP exchange, such as the SSDP responder.
func (e *Emulator) BaseResolver() *Resolver {
	return e.base
}

// RegisterRoutes mounts the HDHomeRun endpoints. Plex probes
// /lineup.post with GET before POSTing a scan, so both methods are bound.
func (e *Emulator) RegisterRoutes(router chi.Router) {
	router.Get("/discover.json", e.handleDiscover)
	router.Get("/auto/hdhr", e.handleDiscover)
	router.Get("/device.xml", e.handleDeviceXML)
	router.Get("/lineup_status.json", e.handleLineupStatus)
	router.Get("/lineup.json", e.handleLineup)
	router.Get("/lineup.post", e.handleLineupPost)
	router.Post("/lineup.post", e.handleLineupPost)
	router.Get("/tuner.json", e.handleTuners)
}

type discoverPayload struct {
	FriendlyName    string `json:"FriendlyName"`
	Manufacturer    string `json:"Manufacturer"`
	ModelNumber     string `json:"ModelNumber"`
	FirmwareName    string `json:"FirmwareName"`
	FirmwareVersion string `json:"FirmwareVersion"`
	DeviceID        string `json:"DeviceID"`
	DeviceAuth      string `json:"DeviceAuth"`
	BaseURL         string `json:"BaseURL"`
	LineupURL       string `json:"LineupURL"`
	TunerCount      int    `json:"TunerCount"`
}

type lineupEntry struct {
	GuideNumber string `json:"GuideNumber"`
	GuideName   string `json:"GuideName"`
	URL         string `json:"URL"`
	VideoCodec  string `json:"VideoCodec"`
	AudioCodec  string `json:"AudioCodec"`
	Container   string `json:"Container"`
	MediaType   string `json:"MediaType"`
	ContentType int    `json:"ContentType"`
	Live        bool   `json:"Live"`
}

type lineupStatus struct {
	ScanInProgress int      `json:"ScanInProgress"`
	ScanPossible   int      `json:"ScanPossible"`
	Source         string   `json:"Source"`
	SourceList     []string `json:"SourceList"`
	GuideAvailable bool     `json:"GuideAvailable"`
	ProgramCount   int64    `json:"ProgramCount"`
	TunerCount     int      `json:"TunerCount"`
	TunersInUse    int      `json:"TunersInUse"`
}

type tunerStatus struct {
	Resource      string `json:"Resource"`
	InUse         int    `json:"InUse"`
	ChannelNumber string `json:"ChannelNumber,omitempty"`
	ChannelName   string `json:"ChannelName,omitempty"`
	ClientIP      string `json:"ClientIP,omitempty"`
	StartedAt     string `json:"StartedAt,omitempty"`
	BytesOut      uint64 `json:"BytesOut,omitempty"`
}

func (e *Emulator) handleDiscover(w http.ResponseWriter, r *http.Request) {
	base := e.base.BaseURL(r)
	writeJSON(w, http.StatusOK, discoverPayload{
		FriendlyName:    e.friendlyName(),
		Manufacturer:    manufacturer,
		ModelNumber:     modelNumber,
		FirmwareName:    firmwareName,
		FirmwareVersion: firmwareVersion,
		DeviceID:        e.deviceID,
		DeviceAuth:      e.deviceAuth,
		BaseURL:         base,
		LineupURL:       urlutil.JoinPath(base, "/lineup.json"),
		TunerCount:      e.tunerCount(),
	})
}

const deviceDescriptorXML = `<?xml version="1.0" encoding="utf-8"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
  <specVersion>
    <major>1</major>
    <minor>0</minor>
  </specVersion>
  <URLBase>%s</URLBase>
  <device>
    <deviceType>urn:schemas-upnp-org:device:MediaServer:1</deviceType>
    <friendlyName>%s</friendlyName>
    <manufacturer>%s</manufacturer>
    <modelName>%s</modelName>
    <modelNumber>%s</modelNumber>
    <serialNumber>%s</serialNumber>
    <UDN>uuid:%s</UDN>
  </device>
</root>
`

func (e *Emulator) handleDeviceXML(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	fmt.Fprintf(w, deviceDescriptorXML,
		e.base.BaseURL(r),
		e.friendlyName(),
		manufacturer,
		modelName,
		modelNumber,
		e.deviceID,
		e.discovery.DeviceUUID,
	)
}

func (e *Emulator) handleLineupStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), e.deadline())
	defer cancel()

	available, programs := false, int64(0)
	if e.guide != nil {
		available, programs = e.guide.GuideStatus(ctx)
	}
	if ctx.Err() != nil {
		writeDeadlineExpired(w, "guide status did not load in time")
		return
	}

	active := e.activeSessions()
	writeJSON(w, http.StatusOK, lineupStatus{
		ScanInProgress: 0,
		ScanPossible:   1,
		Source:         "Antenna",
		SourceList:     []string{"Antenna"},
		GuideAvailable: available,
		ProgramCount:   programs,
		TunerCount:     e.tunerCount(),
		TunersInUse:    min(len(active), e.tunerCount()),
	})
}

func (e *Emulator) handleLineup(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), e.deadline())
	defer cancel()

	channels, err := e.channels.GetEnabled(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			writeDeadlineExpired(w, "channel lineup did not load in time")
			return
		}
		e.logger.Error("lineup lookup failed", "error", err)
		writeJSON(w, http.StatusOK, []lineupEntry{})
		return
	}

	base := e.base.BaseURL(r)
	entries := make([]lineupEntry, 0, len(channels))
	for _, ch := range channels {
		entries = append(entries, lineupEntry{
			GuideNumber: strconv.Itoa(ch.Number),
			GuideName:   ch.Name,
			URL:         urlutil.JoinPath(base, "/stream/"+ch.ID.String()),
			VideoCodec:  "H264",
			AudioCodec:  "AAC",
			Container:   "MPEGTS",
			MediaType:   "LiveTV",
			ContentType: 4,
			Live:        true,
		})
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleLineupPost acknowledges a rescan request. The lineup is always
// current because it is read straight from the channel store, so the
// response is the lineup itself, immediately.
func (e *Emulator) handleLineupPost(w http.ResponseWriter, r *http.Request) {
	if scan := r.URL.Query().Get("scan"); scan != "" {
		e.logger.Info("lineup rescan requested",
			"scan", scan,
			"remote_addr", r.RemoteAddr,
		)
	}
	e.handleLineup(w, r)
}

func (e *Emulator) handleTuners(w http.ResponseWriter, r *http.Request) {
	active := e.activeSessions()
	count := e.tunerCount()
	tuners := make([]tunerStatus, 0, count)
	for i := 0; i < count; i++ {
		t := tunerStatus{Resource: "tuner" + strconv.Itoa(i)}
		if i < len(active) {
			info := active[i]
			t.InUse = 1
			t.ChannelNumber = info.ChannelNumber
			t.ChannelName = info.ChannelName
			t.ClientIP = info.ClientIP
			t.StartedAt = info.StartedAt.UTC().Format(time.RFC3339)
			t.BytesOut = info.BytesOut
		}
		tuners = append(tuners, t)
	}
	writeJSON(w, http.StatusOK, tuners)
}

// activeSessions returns the sessions occupying tuner slots, oldest
// first so a long-running stream keeps its tuner index between polls.
func (e *Emulator) activeSessions() []session.Info {
	if e.sessions == nil {
		return nil
	}
	return e.sessions.Enumerate()
}

func (e *Emulator) friendlyName() string {
	if name := strings.TrimSpace(e.discovery.FriendlyName); name != "" {
		return name
	}
	return "tunerr"
}

func (e *Emulator) tunerCount() int {
	if n := e.discovery.TunerCount; n > 0 {
		return n
	}
	return 1
}

func (e *Emulator) deadline() time.Duration {
	if d := e.discovery.RequestDeadline; d > 0 {
		return d
	}
	return defaultRequestDeadline
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDeadlineExpired(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusServiceUnavailable, errorBody{
		Error:   "deadline_exceeded",
		Message: message,
	})
}
