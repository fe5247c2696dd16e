package session

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"regexp"
	"strings"
)

// Fingerprint identifies a client deterministically from its address and
// user agent. The same TV app reconnecting yields the same fingerprint,
// which is what lets the registry refuse a second session on the same
// channel from the same client.
type Fingerprint string

// FingerprintFrom derives a fingerprint from a client IP and user agent.
func FingerprintFrom(ip, userAgent string) Fingerprint {
	sum := sha256.Sum256([]byte(ip + "|" + userAgent))
	return Fingerprint(hex.EncodeToString(sum[:8]))
}

// FingerprintRequest derives the fingerprint for an incoming request.
func FingerprintRequest(r *http.Request) Fingerprint {
	return FingerprintFrom(ClientIP(r), r.UserAgent())
}

// ClientIP returns the requesting client's address, preferring the
// forwarded chain over the socket peer so sessions survive reverse
// proxies.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	if rip := r.Header.Get("X-Real-Ip"); rip != "" {
		return strings.TrimSpace(rip)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Android TV clients stop polling abruptly when the app dies, so the crash
// detector treats their silence differently from other players.
var androidTVPattern = regexp.MustCompile(`(?i)android[ _-]?\(?tv\)?|androidtv|shield|bravia|fire ?tv`)

// IsAndroidTV reports whether a user agent looks like an Android TV client.
func IsAndroidTV(userAgent string) bool {
	return androidTVPattern.MatchString(userAgent)
}
