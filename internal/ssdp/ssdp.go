// Package ssdp announces the emulated tuner over UPnP Simple Service
// Discovery so media servers on the LAN find it without manual
// configuration. It joins the SSDP multicast group, answers M-SEARCH
// probes with unicast responses pointing at the device descriptor, and
// re-advertises itself with periodic ssdp:alive notifications.
package ssdp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/jmylchreest/tunerr/internal/config"
	"github.com/jmylchreest/tunerr/internal/urlutil"
)

const (
	searchAllTarget  = "ssdp:all"
	rootDeviceTarget = "upnp:rootdevice"

	aliveNTS  = "ssdp:alive"
	byebyeNTS = "ssdp:byebye"

	// serverIdent matches the Silicondust firmware string so discovery
	// tooling groups the emulator with real tuners.
	serverIdent = "HDHomeRun/1.0 UPnP/1.0"

	defaultNotifyInterval = 30 * time.Minute
	readBufferSize        = 2048
)

// Options carries the responder's collaborators.
type Options struct {
	Discovery config.DiscoveryConfig

	// BaseURL resolves the advertised HTTP base at send time, so LOCATION
	// headers track address changes between announcements.
	BaseURL func() string

	Logger *slog.Logger
}

// Responder serves SSDP discovery for the device emulator.
type Responder struct {
	discovery config.DiscoveryConfig
	baseURL   func() string
	uuid      string
	logger    *slog.Logger
	limits    *requesterLimits
}

// announcement is one advertised notification target.
type announcement struct {
	nt  string
	usn string
}

// packetWriter sends a datagram to one destination. The indirection keeps
// response assembly testable without a multicast socket.
type packetWriter interface {
	write(msg []byte, dst *net.UDPAddr) error
}

type connWriter struct {
	conn *ipv4.PacketConn
}

func (w *connWriter) write(msg []byte, dst *net.UDPAddr) error {
	_, err := w.conn.WriteTo(msg, nil, dst)
	return err
}

// New builds a Responder. Zero-value discovery settings are normalized
// to the conventional SSDP group, port, and the MediaServer device URN
// that Plex probes for.
func New(opts Options) *Responder {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	discovery := opts.Discovery
	if len(discovery.SearchTargets) == 0 {
		discovery.SearchTargets = []string{"urn:schemas-upnp-org:device:MediaServer:1"}
	}
	if strings.TrimSpace(discovery.MulticastAddress) == "" {
		discovery.MulticastAddress = "239.255.255.250"
	}
	if discovery.Port <= 0 {
		discovery.Port = 1900
	}
	if discovery.NotifyInterval <= 0 {
		discovery.NotifyInterval = defaultNotifyInterval
	}

	return &Responder{
		discovery: discovery,
		baseURL:   opts.BaseURL,
		uuid:      strings.TrimSpace(discovery.DeviceUUID),
		logger:    logger,
		limits:    newRequesterLimits(searchRate, searchBurst),
	}
}

// Run joins the multicast group and serves discovery until ctx is
// cancelled. A byebye notification is sent on the way out so clients
// drop the device instead of timing it out.
func (r *Responder) Run(ctx context.Context) error {
	if !r.discovery.Enabled {
		r.logger.Info("ssdp responder disabled")
		return nil
	}
	if r.uuid == "" {
		r.logger.Warn("ssdp running without a device uuid; USN headers will be incomplete")
	}

	conn, err := r.listen()
	if err != nil {
		return err
	}
	defer conn.Close()

	r.logger.Info("ssdp responder listening",
		"group", r.groupAddr().String(),
		"notify_interval", r.notifyInterval(),
	)

	w := &connWriter{conn: conn}
	r.announce(w, aliveNTS)

	ticker := time.NewTicker(r.notifyInterval())
	defer ticker.Stop()

	buf := make([]byte, readBufferSize)
	for {
		select {
		case <-ctx.Done():
			r.announce(w, byebyeNTS)
			return nil
		case <-ticker.C:
			r.announce(w, aliveNTS)
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		n, _, src, err := conn.ReadFrom(buf)
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				r.announce(w, byebyeNTS)
				return nil
			}
			r.logger.Warn("ssdp read failed", "error", err)
			continue
		}
		udp, ok := src.(*net.UDPAddr)
		if !ok {
			continue
		}
		r.serveSearch(w, buf[:n], udp)
	}
}

// listen binds the SSDP port and joins the group on every multicast-capable
// interface, falling back to the system default route when none accepts.
func (r *Responder) listen() (*ipv4.PacketConn, error) {
	pc, err := net.ListenPacket("udp4", fmt.Sprintf("0.0.0.0:%d", r.port()))
	if err != nil {
		return nil, fmt.Errorf("ssdp: listen udp %d: %w", r.port(), err)
	}

	conn := ipv4.NewPacketConn(pc)
	group := &net.UDPAddr{IP: r.group()}

	joined := 0
	ifaces, err := net.Interfaces()
	if err == nil {
		for i := range ifaces {
			iface := ifaces[i]
			if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagMulticast == 0 {
				continue
			}
			if err := conn.JoinGroup(&iface, group); err != nil {
				continue
			}
			joined++
		}
	}
	if joined == 0 {
		if err := conn.JoinGroup(nil, group); err != nil {
			pc.Close()
			return nil, fmt.Errorf("ssdp: join group %s: %w", r.group(), err)
		}
	}
	_ = conn.SetMulticastTTL(2)

	return conn, nil
}

// serveSearch answers one datagram if it is an M-SEARCH for a target this
// device advertises and the requester is under its rate allowance.
func (r *Responder) serveSearch(w packetWriter, raw []byte, src *net.UDPAddr) {
	st, ok := parseSearch(raw)
	if !ok {
		return
	}
	matches := r.matches(st)
	if len(matches) == 0 {
		return
	}
	if !r.limits.Allow(src.IP.String()) {
		r.logger.Debug("m-search rate limited", "peer", src.String())
		return
	}
	location := r.deviceXMLURL()
	if location == "" {
		return
	}
	for _, a := range matches {
		if err := w.write(r.searchResponse(a, location), src); err != nil {
			r.logger.Debug("ssdp response failed", "error", err, "peer", src.String())
			return
		}
	}
	r.logger.Debug("answered m-search", "st", st, "peer", src.String())
}

// announce multicasts one notification per advertised target.
func (r *Responder) announce(w packetWriter, nts string) {
	dst := r.groupAddr()
	location := ""
	if nts == aliveNTS {
		location = r.deviceXMLURL()
		if location == "" {
			return
		}
	}
	for _, a := range r.announcements() {
		var msg []byte
		if nts == aliveNTS {
			msg = r.aliveMessage(a, location)
		} else {
			msg = r.byebyeMessage(a)
		}
		if err := w.write(msg, dst); err != nil {
			r.logger.Debug("ssdp notify failed", "error", err, "nt", a.nt)
			return
		}
	}
}

// parseSearch extracts the search target from an M-SEARCH datagram.
func parseSearch(raw []byte) (string, bool) {
	lines := strings.Split(string(raw), "\r\n")
	if len(lines) == 0 || !strings.HasPrefix(lines[0], "M-SEARCH") {
		return "", false
	}
	var st string
	discover := false
	for _, line := range lines[1:] {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "st":
			st = strings.TrimSpace(value)
		case "man":
			discover = strings.Contains(value, "ssdp:discover")
		}
	}
	if !discover || st == "" {
		return "", false
	}
	return st, true
}

// matches returns the announcements covering a search target. ssdp:all
// gets everything; anything else must name an advertised NT exactly.
func (r *Responder) matches(st string) []announcement {
	all := r.announcements()
	if strings.EqualFold(st, searchAllTarget) {
		return all
	}
	for _, a := range all {
		if strings.EqualFold(st, a.nt) {
			return []announcement{a}
		}
	}
	return nil
}

// announcements lists the root device, the device UUID, and every
// configured device/service URN.
func (r *Responder) announcements() []announcement {
	uuid := "uuid:" + r.uuid
	list := []announcement{
		{nt: rootDeviceTarget, usn: uuid + "::" + rootDeviceTarget},
		{nt: uuid, usn: uuid},
	}
	for _, target := range r.discovery.SearchTargets {
		target = strings.TrimSpace(target)
		if target == "" {
			continue
		}
		list = append(list, announcement{nt: target, usn: uuid + "::" + target})
	}
	return list
}

func (r *Responder) searchResponse(a announcement, location string) []byte {
	return []byte(fmt.Sprintf("HTTP/1.1 200 OK\r\n"+
		"CACHE-CONTROL: max-age=%d\r\n"+
		"EXT:\r\n"+
		"LOCATION: %s\r\n"+
		"SERVER: %s\r\n"+
		"ST: %s\r\n"+
		"USN: %s\r\n"+
		"\r\n",
		r.maxAge(), location, serverIdent, a.nt, a.usn))
}

func (r *Responder) aliveMessage(a announcement, location string) []byte {
	return []byte(fmt.Sprintf("NOTIFY * HTTP/1.1\r\n"+
		"HOST: %s\r\n"+
		"CACHE-CONTROL: max-age=%d\r\n"+
		"LOCATION: %s\r\n"+
		"NT: %s\r\n"+
		"NTS: %s\r\n"+
		"SERVER: %s\r\n"+
		"USN: %s\r\n"+
		"\r\n",
		r.discovery.GroupAddress(), r.maxAge(), location, a.nt, aliveNTS, serverIdent, a.usn))
}

func (r *Responder) byebyeMessage(a announcement) []byte {
	return []byte(fmt.Sprintf("NOTIFY * HTTP/1.1\r\n"+
		"HOST: %s\r\n"+
		"NT: %s\r\n"+
		"NTS: %s\r\n"+
		"USN: %s\r\n"+
		"\r\n",
		r.discovery.GroupAddress(), a.nt, byebyeNTS, a.usn))
}

func (r *Responder) deviceXMLURL() string {
	if r.baseURL == nil {
		return ""
	}
	base := r.baseURL()
	if base == "" {
		return ""
	}
	return urlutil.JoinPath(base, "/device.xml")
}

func (r *Responder) group() net.IP {
	if ip := net.ParseIP(r.discovery.MulticastAddress); ip != nil {
		return ip
	}
	return net.IPv4(239, 255, 255, 250)
}

func (r *Responder) groupAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: r.group(), Port: r.port()}
}

func (r *Responder) port() int {
	return r.discovery.Port
}

func (r *Responder) notifyInterval() time.Duration {
	return r.discovery.NotifyInterval
}

// maxAge keeps cached advertisements valid across one missed notify cycle.
func (r *Responder) maxAge() int {
	return int((2 * r.notifyInterval()).Seconds())
}
