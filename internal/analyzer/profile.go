// Package analyzer classifies upstream stream URLs into handling profiles.
//
// A profile records what kind of stream a URL points at, which delivery
// quirks it carries (token auth, CDN fronting, redirects, playlist
// complexity) and, derived from those, the ordered list of streaming
// methods the relay should attempt. Profiles are produced by a mix of
// static URL inspection and short network probes, and are memoized so
// repeated tune requests against the same URL do not hammer the upstream.
package analyzer

import (
	"time"

	"github.com/jmylchreest/tunerr/internal/models"
)

// Method names a streaming strategy the relay can apply to an upstream URL.
type Method string

const (
	// MethodStandardProxy is the default: fetch upstream, feed the encoder.
	MethodStandardProxy Method = "standard-proxy"

	// MethodDirectPassthrough hands the URL to the encoder unmodified.
	MethodDirectPassthrough Method = "direct-passthrough"

	// MethodTokenPreservation forwards the URL with its auth parameters
	// intact and never rewrites embedded segment URLs.
	MethodTokenPreservation Method = "token-preservation"

	// MethodMasterPlaylistDirect hands the master playlist URL straight to
	// the encoder so variant selection happens with the token still attached.
	MethodMasterPlaylistDirect Method = "master-playlist-direct"

	// MethodResolveRedirects chases the redirect chain once and streams
	// from the final location.
	MethodResolveRedirects Method = "resolve-redirects"

	// MethodDirect connects to the resolved URL with no proxying layer.
	MethodDirect Method = "direct"

	// MethodSegmentProxy fetches HLS segments individually through the
	// proxy, which plays well with CDN edge caches.
	MethodSegmentProxy Method = "segment-proxy"

	// MethodPersistentConnections reuses upstream connections across
	// segment fetches.
	MethodPersistentConnections Method = "persistent-connections"

	// MethodEnhancedRecovery enables aggressive reconnect handling for
	// playlists with discontinuities or rolling keys.
	MethodEnhancedRecovery Method = "enhanced-recovery"

	// MethodPlaylistRewrite rewrites playlist URIs to route segment
	// fetches through the proxy.
	MethodPlaylistRewrite Method = "playlist-rewrite"

	// MethodMinimalIntervention touches nothing and simply relays bytes.
	// Always present as the final fallback of a method list.
	MethodMinimalIntervention Method = "minimal-intervention"
)

// Complexity grades how involved an HLS playlist is to relay.
type Complexity int

const (
	// ComplexitySimple - no complexity markers in the playlist.
	ComplexitySimple Complexity = iota

	// ComplexityModerate - one or two markers (keys, discontinuities,
	// byte ranges, live window, multiple variants).
	ComplexityModerate

	// ComplexityComplex - three or more markers; the playlist needs
	// careful handling to relay without stalls.
	ComplexityComplex
)

// String returns the string representation of the complexity grade.
func (c Complexity) String() string {
	switch c {
	case ComplexitySimple:
		return "simple"
	case ComplexityModerate:
		return "moderate"
	case ComplexityComplex:
		return "complex"
	default:
		return "unknown"
	}
}

// MarshalJSON implements json.Marshaler so Complexity serializes as a string.
func (c Complexity) MarshalJSON() ([]byte, error) {
	return []byte(`"` + c.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler for Complexity.
func (c *Complexity) UnmarshalJSON(data []byte) error {
	str := string(data)
	if len(str) >= 2 && str[0] == '"' && str[len(str)-1] == '"' {
		str = str[1 : len(str)-1]
	}
	switch str {
	case "moderate":
		*c = ComplexityModerate
	case "complex":
		*c = ComplexityComplex
	default:
		*c = ComplexitySimple
	}
	return nil
}

// Confidence grades how much of the profile rests on observed behaviour
// versus static guesswork.
type Confidence int

const (
	// ConfidenceLow - probes failed or were skipped; the profile is a
	// conservative guess.
	ConfidenceLow Confidence = iota

	// ConfidenceMedium - static classification only; the scheme rules out
	// HTTP probing.
	ConfidenceMedium

	// ConfidenceHigh - all applicable probes completed.
	ConfidenceHigh
)

// String returns the string representation of the confidence grade.
func (c Confidence) String() string {
	switch c {
	case ConfidenceLow:
		return "low"
	case ConfidenceMedium:
		return "medium"
	case ConfidenceHigh:
		return "high"
	default:
		return "unknown"
	}
}

// MarshalJSON implements json.Marshaler so Confidence serializes as a string.
func (c Confidence) MarshalJSON() ([]byte, error) {
	return []byte(`"` + c.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler for Confidence.
func (c *Confidence) UnmarshalJSON(data []byte) error {
	str := string(data)
	if len(str) >= 2 && str[0] == '"' && str[len(str)-1] == '"' {
		str = str[1 : len(str)-1]
	}
	switch str {
	case "medium":
		*c = ConfidenceMedium
	case "high":
		*c = ConfidenceHigh
	default:
		*c = ConfidenceLow
	}
	return nil
}

// Profile is the handling profile for one upstream URL.
type Profile struct {
	// Kind is the detected stream protocol.
	Kind models.StreamProtocol `json:"kind"`

	// RequiresSpecialHandling is set when the method selection picked
	// anything other than the plain default chain, or when probing failed
	// and the relay should tread carefully.
	RequiresSpecialHandling bool `json:"requires_special_handling"`

	// HasTokenAuth is set when the URL carries an auth-style parameter.
	HasTokenAuth bool `json:"has_token_auth"`

	// IsCDNBacked is set when the host or path looks CDN-fronted.
	IsCDNBacked bool `json:"is_cdn_backed"`

	// HasRedirects is set when a HEAD probe answered 301 or 302.
	HasRedirects bool `json:"has_redirects"`

	// PlaylistComplexity grades the fetched HLS playlist. Non-HLS kinds
	// and failed fetches report simple.
	PlaylistComplexity Complexity `json:"playlist_complexity"`

	// SupportedMethods is the ordered list of strategies to attempt. The
	// last entry is always minimal-intervention.
	SupportedMethods []Method `json:"supported_methods"`

	// Confidence grades how much probing backs this profile.
	Confidence Confidence `json:"confidence"`

	// Reasons explains each step of the classification.
	Reasons []string `json:"reasons,omitempty"`

	// AnalyzedAt is when the profile was produced.
	AnalyzedAt time.Time `json:"analyzed_at"`
}

// PrimaryMethod returns the first supported method, the one the relay
// attempts before any fallback.
func (p Profile) PrimaryMethod() Method {
	if len(p.SupportedMethods) == 0 {
		return MethodMinimalIntervention
	}
	return p.SupportedMethods[0]
}

// Supports reports whether m appears anywhere in the method list.
func (p Profile) Supports(m Method) bool {
	for _, have := range p.SupportedMethods {
		if have == m {
			return true
		}
	}
	return false
}
