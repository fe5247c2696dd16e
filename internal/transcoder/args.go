// Package transcoder supervises one external encoder process per playback
// session. It builds the encoder argument list from the stream's handling
// profile, pumps encoder stdout to the session's byte sink, keeps a ring of
// recent stderr lines, and enforces the graceful-then-forceful stop
// contract.
package transcoder

import (
	"sort"
	"strconv"
	"strings"

	"github.com/jmylchreest/tunerr/internal/analyzer"
	"github.com/jmylchreest/tunerr/internal/models"
)

// Format selects the container the encoder emits on stdout.
type Format string

const (
	// FormatMPEGTS is the live path output: MPEG-TS suitable for tuner
	// clients.
	FormatMPEGTS Format = "mpegts"

	// FormatMP4 is a fragmented MP4 remux for browser preview playback.
	FormatMP4 Format = "mp4"
)

// BuildOptions carries per-stream settings that shape the argument list
// alongside the handling profile.
type BuildOptions struct {
	// Format is the output container. Empty means MPEG-TS.
	Format Format

	// UserAgent is presented to HTTP upstreams when set.
	UserAgent string

	// Headers are extra HTTP request headers for the upstream.
	Headers map[string]string

	// ReconnectDelayMax caps the encoder's reconnect backoff in seconds.
	// Zero means 5.
	ReconnectDelayMax int
}

// BuildArgs assembles the encoder argument list for one upstream URL.
//
// The profile drives the input flags: token-auth on a complex playlist
// gets a minimal pipeline with no connection-management flags, so the
// encoder fetches the URL exactly as the provider issued it; CDN-backed
// sources keep HTTP connections open across segment fetches; complex
// playlists turn on reconnect-on-EOF; RTSP is forced onto TCP. User-agent
// and headers are upstream identity and survive even the minimal pipeline.
// Output is always a copy-codec remux on stdout.
func BuildArgs(streamURL string, profile analyzer.Profile, opts BuildOptions) []string {
	args := []string{"-hide_banner", "-loglevel", "warning", "-nostats"}

	minimalCopy := profile.HasTokenAuth && profile.PlaylistComplexity == analyzer.ComplexityComplex

	switch {
	case profile.Kind == models.ProtocolRTSP:
		args = append(args, "-rtsp_transport", "tcp")
	case httpKind(profile.Kind) && !minimalCopy:
		if profile.IsCDNBacked {
			args = append(args, "-multiple_requests", "1")
		}
		if profile.PlaylistComplexity == analyzer.ComplexityComplex {
			delay := opts.ReconnectDelayMax
			if delay <= 0 {
				delay = 5
			}
			args = append(args,
				"-reconnect", "1",
				"-reconnect_streamed", "1",
				"-reconnect_delay_max", strconv.Itoa(delay),
			)
		}
	}

	if httpKind(profile.Kind) {
		if opts.UserAgent != "" {
			args = append(args, "-user_agent", opts.UserAgent)
		}
		if len(opts.Headers) > 0 {
			args = append(args, "-headers", formatHeaders(opts.Headers))
		}
	}

	args = append(args, "-i", streamURL, "-c", "copy")

	switch opts.Format {
	case FormatMP4:
		args = append(args,
			"-f", "mp4",
			"-movflags", "frag_keyframe+empty_moov+default_base_moof",
		)
	default:
		args = append(args,
			"-f", "mpegts",
			"-mpegts_copyts", "1",
			"-avoid_negative_ts", "disabled",
			"-mpegts_start_pid", "256",
			"-mpegts_pmt_start_pid", "4096",
		)
	}

	args = append(args, "-flush_packets", "1", "-muxdelay", "0", "pipe:1")
	return args
}

// httpKind reports whether the protocol rides on HTTP, where user-agent,
// header, and connection flags apply.
func httpKind(kind models.StreamProtocol) bool {
	switch kind {
	case models.ProtocolHLS, models.ProtocolDASH, models.ProtocolTS, models.ProtocolHTTP:
		return true
	}
	return false
}

// formatHeaders renders headers the way the encoder's HTTP demuxer expects:
// CRLF-joined "Name: Value" lines. Keys are sorted so the argument list is
// stable.
func formatHeaders(headers map[string]string) string {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(headers[k])
		b.WriteString("\r\n")
	}
	return b.String()
}
