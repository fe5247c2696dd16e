package emulator

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/jmylchreest/tunerr/internal/config"
	"github.com/jmylchreest/tunerr/internal/urlutil"
)

// Resolver computes the base URL advertised in discovery payloads,
// lineups, and device descriptors. Precedence: the configured advertised
// host (which viper already resolves across flag, environment, and config
// file), then the first routable IPv4 on the box, then the request Host
// header, then localhost. The streaming port is appended whenever the
// chosen host carries none.
type Resolver struct {
	advertised string
	port       int
	lanIP      func() string
}

// NewResolver builds a Resolver from the HTTP server configuration.
func NewResolver(server config.ServerConfig) *Resolver {
	return &Resolver{
		advertised: strings.TrimSpace(server.AdvertisedHost),
		port:       server.Port,
		lanIP:      firstLANIPv4,
	}
}

// BaseURL resolves the advertised base URL for a request. The request may
// be nil for callers that advertise outside an HTTP exchange, such as the
// SSDP responder.
func (rv *Resolver) BaseURL(r *http.Request) string {
	host := rv.advertised
	if host == "" {
		host = rv.lanIP()
	}
	if host == "" && r != nil {
		host = r.Host
	}
	if host == "" {
		host = "localhost"
	}
	return urlutil.NormalizeBaseURL(rv.withPort(host))
}

// withPort appends the streaming port unless the host already names one.
// A scheme prefix is preserved so an https advertised host stays https.
func (rv *Resolver) withPort(host string) string {
	prefix := ""
	rest := host
	for _, p := range []string{"http://", "https://"} {
		if strings.HasPrefix(rest, p) {
			prefix = p
			rest = strings.TrimPrefix(rest, p)
			break
		}
	}
	if _, _, err := net.SplitHostPort(rest); err == nil {
		return host
	}
	rest = strings.Trim(rest, "[]")
	return prefix + net.JoinHostPort(rest, strconv.Itoa(rv.port))
}

// firstLANIPv4 returns the first non-loopback, non-link-local IPv4
// address on any interface, or empty when none is available.
func firstLANIPv4() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip := ipNet.IP
		if ip.IsLoopback() || ip.IsLinkLocalUnicast() {
			continue
		}
		if v4 := ip.To4(); v4 != nil {
			return v4.String()
		}
	}
	return ""
}
