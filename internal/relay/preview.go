package relay

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/jmylchreest/tunerr/internal/analyzer"
	"github.com/jmylchreest/tunerr/internal/httpclient"
	"github.com/jmylchreest/tunerr/internal/models"
	"github.com/jmylchreest/tunerr/internal/transcoder"
)

// ServePreview handles GET /preview/{channelID}: a sessionless relay for
// operator spot checks. HLS and DASH sources are passed through with the
// right manifest MIME type so the browser player can talk to the upstream
// directly; everything else, and any source whose manifest fetch fails, is
// remuxed to fragmented MP4. Previews never count against tuner limits.
func (rl *Relay) ServePreview(w http.ResponseWriter, r *http.Request, channelID string) {
	setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	id, err := models.ParseULID(channelID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_channel_id", "channel id must be a ULID")
		return
	}

	_, st, ok := rl.resolvePlayable(r.Context(), w, id)
	if !ok {
		return
	}

	headers, err := st.HeaderMap()
	if err != nil {
		rl.logger.Warn("stream headers unreadable", "stream_id", st.ID, "error", err)
	}

	profile := rl.analyzer.AnalyzeWithOptions(r.Context(), st.URL, analyzer.Options{
		Username:  st.Username,
		Password:  st.Password,
		UserAgent: st.UserAgent,
		Headers:   headers,
	})

	switch profile.Kind {
	case models.ProtocolHLS, models.ProtocolDASH:
		if rl.relayManifest(w, r, st, headers, profile.Kind) {
			return
		}
	}
	rl.remuxPreview(w, r, st, headers, profile)
}

// relayManifest proxies the upstream manifest as-is. It returns false when
// the upstream could not be fetched so the caller can fall back to a remux;
// once body bytes are on the wire there is no way back.
func (rl *Relay) relayManifest(w http.ResponseWriter, r *http.Request, st *models.Stream, headers map[string]string, kind models.StreamProtocol) bool {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, st.URL, nil)
	if err != nil {
		return false
	}
	if st.UserAgent != "" {
		req.Header.Set("User-Agent", st.UserAgent)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if st.Username != "" || st.Password != "" {
		req.SetBasicAuth(st.Username, st.Password)
	}

	resp, err := rl.upstream.Do(req)
	if err != nil {
		rl.logger.Warn("preview upstream fetch failed",
			"url", httpclient.RedactURLString(st.URL), "error", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		rl.logger.Warn("preview upstream rejected",
			"status", resp.StatusCode, "url", httpclient.RedactURLString(st.URL))
		return false
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" || strings.HasPrefix(ct, "application/octet-stream") || strings.HasPrefix(ct, "text/plain") {
		ct = manifestContentType(kind)
	}
	setStreamHeaders(w, ct)
	if _, err := io.Copy(w, resp.Body); err != nil {
		rl.logger.Debug("preview copy interrupted", "error", err)
	}
	return true
}

// remuxPreview runs a short-lived encoder that rewraps the source as
// fragmented MP4, which browsers play natively. PSI keepalive is TS
// framing and stays off for MP4 output.
func (rl *Relay) remuxPreview(w http.ResponseWriter, r *http.Request, st *models.Stream, headers map[string]string, profile analyzer.Profile) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer does not support streaming")
		return
	}

	args := transcoder.BuildArgs(st.URL, profile, transcoder.BuildOptions{
		Format:            transcoder.FormatMP4,
		UserAgent:         st.UserAgent,
		Headers:           headers,
		ReconnectDelayMax: rl.encoder.ReconnectDelayMax,
	})

	enc := rl.spawn(transcoder.Config{
		BinaryPath:         rl.encoder.FFmpegPath,
		Args:               args,
		StopGrace:          rl.encoder.StopGrace,
		StderrHistoryLines: rl.encoder.StderrHistoryLines,
		Logger:             rl.logger.With("preview", st.ID.String()),
	})

	setStreamHeaders(w, contentTypeMP4)

	fw := &flushWriter{w: w, f: flusher}
	err := enc.Run(r.Context(), fw)
	switch {
	case errors.Is(err, transcoder.ErrStartupFailed):
		if fw.count() == 0 {
			writeError(w, http.StatusBadGateway, "encoder_start_failed", "encoder exited before producing output")
		}
	case err != nil && r.Context().Err() == nil:
		rl.logger.Debug("preview encoder exit", "error", err)
	}
}

func manifestContentType(kind models.StreamProtocol) string {
	if kind == models.ProtocolDASH {
		return "application/dash+xml"
	}
	return "application/vnd.apple.mpegurl"
}
