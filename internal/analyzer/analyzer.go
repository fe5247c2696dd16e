package analyzer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"
	"golang.org/x/time/rate"

	"github.com/jmylchreest/tunerr/internal/config"
	"github.com/jmylchreest/tunerr/internal/httpclient"
	"github.com/jmylchreest/tunerr/internal/models"
)

// Options carries upstream credentials and request headers applied to probe
// requests. Some providers answer 403 to anonymous probes, so the analyzer
// must present the same identity the relay will.
type Options struct {
	Username  string
	Password  string
	UserAgent string
	Headers   map[string]string
}

type cacheEntry struct {
	profile Profile
	expires time.Time
}

// Service analyzes upstream URLs and memoizes the resulting profiles.
// Concurrent analyses of the same URL may both probe; the cache is
// last-writer-wins.
type Service struct {
	cfg            config.AnalyzerConfig
	probeClient    *http.Client
	playlistClient *http.Client
	logger         *slog.Logger

	mu    sync.RWMutex
	cache map[string]cacheEntry

	limMu    sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates an analyzer service. A nil logger discards analysis logging.
// Zero-valued config fields fall back to the standard defaults.
func New(cfg config.AnalyzerConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.PlaylistTimeout <= 0 {
		cfg.PlaylistTimeout = 8 * time.Second
	}
	if cfg.PlaylistMaxBytes <= 0 {
		cfg.PlaylistMaxBytes = 256 * 1024
	}
	if cfg.PlaylistMaxRedirects <= 0 {
		cfg.PlaylistMaxRedirects = 3
	}
	return &Service{
		cfg:            cfg,
		probeClient:    httpclient.NewProbeClient(cfg.ProbeTimeout),
		playlistClient: httpclient.NewBoundedRedirectClient(cfg.PlaylistTimeout, cfg.PlaylistMaxRedirects),
		logger:         logger,
		cache:          make(map[string]cacheEntry),
		limiters:       make(map[string]*rate.Limiter),
	}
}

// Analyze classifies a URL with no upstream credentials.
func (s *Service) Analyze(ctx context.Context, rawURL string) Profile {
	return s.AnalyzeWithOptions(ctx, rawURL, Options{})
}

// AnalyzeWithOptions classifies a URL, probing with the given credentials
// and headers. Results are served from cache within the configured TTL.
// Probe failures never propagate as errors; they degrade the profile to a
// conservative one instead.
func (s *Service) AnalyzeWithOptions(ctx context.Context, rawURL string, opts Options) Profile {
	if p, ok := s.cached(rawURL); ok {
		return p
	}

	p := s.analyze(ctx, rawURL, opts)
	s.store(rawURL, p)
	s.logProfile(rawURL, p)
	return p
}

func (s *Service) analyze(ctx context.Context, rawURL string, opts Options) Profile {
	profile := Profile{
		Kind:       models.ProtocolHTTP,
		Confidence: ConfidenceHigh,
		AnalyzedAt: time.Now(),
		Reasons:    []string{},
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		s.degrade(&profile, fmt.Sprintf("Invalid URL: %v", err))
		s.finish(&profile)
		return profile
	}
	if u.Scheme == "" {
		s.degrade(&profile, "URL has no scheme")
		s.finish(&profile)
		return profile
	}

	profile.Kind = classifyKind(u)
	profile.Reasons = append(profile.Reasons,
		fmt.Sprintf("Classified as %s from scheme and extension", profile.Kind))

	if hasTokenParams(u) {
		profile.HasTokenAuth = true
		profile.Reasons = append(profile.Reasons, "URL carries token-auth parameters")
	}
	if isCDNBacked(u) {
		profile.IsCDNBacked = true
		profile.Reasons = append(profile.Reasons, "Host or path suggests CDN fronting")
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		s.probe(ctx, u, rawURL, opts, &profile)
	default:
		// Non-HTTP transports cannot be probed here; the classification
		// stands on the URL alone.
		profile.Confidence = ConfidenceMedium
		profile.Reasons = append(profile.Reasons, "Scheme rules out HTTP probing")
	}

	s.finish(&profile)
	return profile
}

// finish runs method selection and derives the special-handling flag.
func (s *Service) finish(profile *Profile) {
	methods, rule := selectMethods(profile)
	profile.SupportedMethods = methods
	if methods[0] != MethodStandardProxy {
		profile.RequiresSpecialHandling = true
	}
	profile.Reasons = append(profile.Reasons,
		fmt.Sprintf("Selected %s chain: %s", methods[0], rule))
}

// selectMethods picks the ordered method list for a profile. First match
// wins; the list always ends with minimal-intervention.
func selectMethods(p *Profile) ([]Method, string) {
	var (
		methods []Method
		rule    string
	)
	switch {
	case p.HasTokenAuth && p.PlaylistComplexity == ComplexityComplex:
		methods = []Method{MethodMasterPlaylistDirect, MethodMinimalIntervention}
		rule = "token auth on a complex playlist"
	case p.HasTokenAuth:
		methods = []Method{MethodTokenPreservation, MethodMinimalIntervention}
		rule = "token auth"
	case p.HasRedirects:
		methods = []Method{MethodResolveRedirects, MethodDirect}
		rule = "redirecting upstream"
	case p.IsCDNBacked && p.PlaylistComplexity == ComplexitySimple:
		methods = []Method{MethodSegmentProxy, MethodPersistentConnections}
		rule = "CDN-backed with a simple playlist"
	case p.PlaylistComplexity == ComplexityComplex:
		methods = []Method{MethodEnhancedRecovery, MethodPlaylistRewrite}
		rule = "complex playlist"
	default:
		methods = []Method{MethodStandardProxy, MethodDirectPassthrough}
		rule = "no special characteristics"
	}
	if methods[len(methods)-1] != MethodMinimalIntervention {
		methods = append(methods, MethodMinimalIntervention)
	}
	return methods, rule
}

// probe performs the network half of the analysis: a redirect-sensing HEAD
// and, for HLS, a bounded playlist fetch. Any failure degrades the profile.
func (s *Service) probe(ctx context.Context, u *url.URL, rawURL string, opts Options, profile *Profile) {
	if err := s.limiterFor(u.Hostname()).Wait(ctx); err != nil {
		s.degrade(profile, fmt.Sprintf("Probe aborted: %v", err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		s.degrade(profile, fmt.Sprintf("Probe request invalid: %v", err))
		return
	}
	applyOptions(req, opts)

	resp, err := s.probeClient.Do(req)
	if err != nil {
		s.degrade(profile, fmt.Sprintf("HEAD probe failed: %v", err))
		return
	}
	resp.Body.Close()

	if resp.StatusCode == http.StatusMovedPermanently || resp.StatusCode == http.StatusFound {
		profile.HasRedirects = true
		profile.Reasons = append(profile.Reasons,
			fmt.Sprintf("HEAD answered %d redirect", resp.StatusCode))
	}

	if profile.Kind != models.ProtocolHLS {
		return
	}

	data, err := s.fetchPlaylist(ctx, rawURL, opts)
	if err != nil {
		s.degrade(profile, fmt.Sprintf("Playlist fetch failed: %v", err))
		return
	}
	s.inspectPlaylist(data, profile)
}

// fetchPlaylist fetches an HLS playlist with bounded redirects and size.
func (s *Service) fetchPlaylist(ctx context.Context, playlistURL string, opts Options) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, playlistURL, nil)
	if err != nil {
		return nil, err
	}
	applyOptions(req, opts)

	resp, err := s.playlistClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	data, truncated, err := httpclient.ReadAllLimit(resp.Body, int64(s.cfg.PlaylistMaxBytes))
	if err != nil {
		return nil, err
	}
	if truncated {
		return nil, fmt.Errorf("playlist exceeds %d bytes", s.cfg.PlaylistMaxBytes)
	}
	return data, nil
}

// inspectPlaylist grades a fetched playlist. Markers are counted from the
// raw text so the grading matches the tags exactly; gohlslib supplies the
// structural facts for the reasons.
func (s *Service) inspectPlaylist(data []byte, profile *Profile) {
	markers, found := countComplexityMarkers(data)
	profile.PlaylistComplexity = gradeComplexity(markers)

	pl, err := playlist.Unmarshal(data)
	if err != nil {
		// Marker counting already ran on the raw text, so a parse failure
		// degrades confidence without discarding the grade.
		s.degrade(profile, fmt.Sprintf("Playlist did not parse cleanly: %v", err))
		return
	}

	switch p := pl.(type) {
	case *playlist.Multivariant:
		profile.Reasons = append(profile.Reasons,
			fmt.Sprintf("Master playlist with %d variant(s)", len(p.Variants)))
	case *playlist.Media:
		profile.Reasons = append(profile.Reasons,
			fmt.Sprintf("Media playlist with %d segment(s)", len(p.Segments)))
	}

	if markers > 0 {
		profile.Reasons = append(profile.Reasons,
			fmt.Sprintf("Complexity %s: %s", profile.PlaylistComplexity, strings.Join(found, ", ")))
	} else {
		profile.Reasons = append(profile.Reasons, "No complexity markers")
	}
}

// degrade applies the conservative fallback: probing failed, so the relay
// should assume special handling is required.
func (s *Service) degrade(profile *Profile, reason string) {
	profile.RequiresSpecialHandling = true
	profile.Confidence = ConfidenceLow
	profile.Reasons = append(profile.Reasons, reason)
}

func applyOptions(req *http.Request, opts Options) {
	if opts.Username != "" {
		req.SetBasicAuth(opts.Username, opts.Password)
	}
	if opts.UserAgent != "" {
		req.Header.Set("User-Agent", opts.UserAgent)
	}
	for name, value := range opts.Headers {
		req.Header.Set(name, value)
	}
}

func (s *Service) cached(rawURL string) (Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.cache[rawURL]
	if !ok || time.Now().After(entry.expires) {
		return Profile{}, false
	}
	return entry.profile, true
}

func (s *Service) store(rawURL string, p Profile) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, entry := range s.cache {
		if now.After(entry.expires) {
			delete(s.cache, key)
		}
	}
	s.cache[rawURL] = cacheEntry{profile: p, expires: now.Add(s.cfg.CacheTTL)}
}

// Invalidate drops the cached profile for a URL, forcing the next analysis
// to probe again. It reports whether an entry was present.
func (s *Service) Invalidate(rawURL string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.cache[rawURL]
	delete(s.cache, rawURL)
	return ok
}

// CachedProfile is one analyzer cache entry as exposed to the monitor API.
// URLs are redacted because token parameters are credentials.
type CachedProfile struct {
	URL       string    `json:"url"`
	Profile   Profile   `json:"profile"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CacheSnapshot returns the unexpired cache entries sorted by URL.
func (s *Service) CacheSnapshot() []CachedProfile {
	now := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]CachedProfile, 0, len(s.cache))
	for key, entry := range s.cache {
		if now.After(entry.expires) {
			continue
		}
		out = append(out, CachedProfile{
			URL:       httpclient.RedactURLString(key),
			Profile:   entry.profile,
			ExpiresAt: entry.expires,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

// limiterFor returns the probe rate limiter for an upstream host, creating
// it on first use.
func (s *Service) limiterFor(host string) *rate.Limiter {
	s.limMu.Lock()
	defer s.limMu.Unlock()
	if lim, ok := s.limiters[host]; ok {
		return lim
	}
	limit := rate.Limit(s.cfg.ProbeRatePerHost)
	if limit <= 0 {
		limit = rate.Inf
	}
	burst := s.cfg.ProbeBurst
	if burst < 1 {
		burst = 1
	}
	lim := rate.NewLimiter(limit, burst)
	s.limiters[host] = lim
	return lim
}

func (s *Service) logProfile(rawURL string, p Profile) {
	s.logger.Debug("analyzed upstream URL",
		slog.String("url", httpclient.RedactURLString(rawURL)),
		slog.String("kind", string(p.Kind)),
		slog.Bool("token_auth", p.HasTokenAuth),
		slog.Bool("cdn_backed", p.IsCDNBacked),
		slog.Bool("redirects", p.HasRedirects),
		slog.Bool("special_handling", p.RequiresSpecialHandling),
		slog.String("complexity", p.PlaylistComplexity.String()),
		slog.String("confidence", p.Confidence.String()),
		slog.Any("methods", p.SupportedMethods),
		slog.Any("reasons", p.Reasons),
	)
}
