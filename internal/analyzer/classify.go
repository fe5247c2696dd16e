package analyzer

import (
	"net/url"
	"strings"

	"github.com/jmylchreest/tunerr/internal/models"
)

// tokenParamNames are parameter names that indicate token or credential
// based auth when present in a URL's query string or path.
var tokenParamNames = []string{
	"token", "auth", "key", "signature", "expires",
	"sessionid", "sid", "jwt", "bearer",
}

// cdnHostMarkers are substrings of a hostname that indicate CDN fronting.
var cdnHostMarkers = []string{
	"cdn", "edge", "cache", "akamai", "cloudfront",
	"fastly", "cloudflare", "azure", "amazonaws",
}

// cdnPathMarkers are path fragments common to CDN-packaged streams.
var cdnPathMarkers = []string{
	"/hls/", "/dash/", "/playlist/", "/manifest/", "/stream/",
}

// classifyKind maps a URL to a stream protocol by scheme first, then by
// path extension. Anything HTTP-ish without a recognizable extension is
// plain HTTP.
func classifyKind(u *url.URL) models.StreamProtocol {
	switch strings.ToLower(u.Scheme) {
	case "rtsp":
		return models.ProtocolRTSP
	case "rtmp", "rtmps":
		return models.ProtocolRTMP
	case "udp":
		return models.ProtocolUDP
	case "mms":
		return models.ProtocolMMS
	case "srt":
		return models.ProtocolSRT
	}

	path := strings.ToLower(u.Path)
	switch {
	case strings.HasSuffix(path, ".m3u8"), strings.HasSuffix(path, ".m3u"):
		return models.ProtocolHLS
	case strings.HasSuffix(path, ".mpd"):
		return models.ProtocolDASH
	case strings.HasSuffix(path, ".ts"),
		strings.HasSuffix(path, ".mpegts"),
		strings.HasSuffix(path, ".mts"):
		return models.ProtocolTS
	}
	return models.ProtocolHTTP
}

// hasTokenParams reports whether the URL carries an auth-style parameter
// in its query string or as a path segment. IPTV providers embed tokens
// both ways: ?token=abc and /token=abc/ (or /token/abc/) are all common.
func hasTokenParams(u *url.URL) bool {
	for name := range u.Query() {
		lower := strings.ToLower(name)
		for _, tok := range tokenParamNames {
			if lower == tok {
				return true
			}
		}
	}
	for _, segment := range strings.Split(strings.ToLower(u.Path), "/") {
		for _, tok := range tokenParamNames {
			if segment == tok || strings.HasPrefix(segment, tok+"=") {
				return true
			}
		}
	}
	return false
}

// isCDNBacked reports whether the host or path suggests a CDN-fronted
// origin.
func isCDNBacked(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	for _, marker := range cdnHostMarkers {
		if strings.Contains(host, marker) {
			return true
		}
	}
	path := strings.ToLower(u.Path)
	for _, marker := range cdnPathMarkers {
		if strings.Contains(path, marker) {
			return true
		}
	}
	return false
}

// countComplexityMarkers scans raw playlist text for the tags that make a
// playlist hard to relay. It returns the marker score and the names of the
// markers found. The markers are counted once each regardless of how often
// the tag repeats; multiple variant entries count as a single marker.
func countComplexityMarkers(data []byte) (int, []string) {
	var (
		streamInfCount int
		hasKey         bool
		hasDiscont     bool
		hasPDT         bool
		hasByteRange   bool
		hasEndlist     bool
	)

	for _, raw := range strings.Split(string(data), "\n") {
		line := strings.TrimSpace(raw)
		switch {
		case strings.HasPrefix(line, "#EXT-X-STREAM-INF"):
			streamInfCount++
		case strings.HasPrefix(line, "#EXT-X-KEY"):
			hasKey = true
		// The bare DISCONTINUITY tag has no attributes; a prefix match
		// would also catch #EXT-X-DISCONTINUITY-SEQUENCE.
		case line == "#EXT-X-DISCONTINUITY":
			hasDiscont = true
		case strings.HasPrefix(line, "#EXT-X-PROGRAM-DATE-TIME"):
			hasPDT = true
		case strings.HasPrefix(line, "#EXT-X-BYTERANGE"):
			hasByteRange = true
		case line == "#EXT-X-ENDLIST":
			hasEndlist = true
		}
	}

	var found []string
	if streamInfCount > 1 {
		found = append(found, "multiple variants")
	}
	if hasKey {
		found = append(found, "encryption keys")
	}
	if hasDiscont {
		found = append(found, "discontinuities")
	}
	if hasPDT {
		found = append(found, "program date-time")
	}
	if hasByteRange {
		found = append(found, "byte ranges")
	}
	if !hasEndlist {
		found = append(found, "live window")
	}
	return len(found), found
}

// gradeComplexity maps a marker score to a complexity grade.
func gradeComplexity(markers int) Complexity {
	switch {
	case markers >= 3:
		return ComplexityComplex
	case markers >= 1:
		return ComplexityModerate
	default:
		return ComplexitySimple
	}
}
