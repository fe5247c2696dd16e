// Package urlutil carries the URL plumbing shared by ingest and the device
// surface: base-URL normalization, scheme checks, and a fetcher that reads
// playlists and guides from http(s):// or file:// sources alike.
package urlutil

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/jmylchreest/tunerr/internal/httpclient"
)

// NormalizeBaseURL trims a base URL into the canonical form used for
// building advertised links: scheme always present (http by default), no
// trailing slash.
func NormalizeBaseURL(baseURL string) string {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return ""
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}
	return strings.TrimSuffix(baseURL, "/")
}

// JoinPath appends path to baseURL with exactly one slash between them.
func JoinPath(baseURL, path string) string {
	if baseURL == "" {
		return path
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return baseURL + path
}

// IsRemoteURL reports whether u is fetchable over HTTP, including
// protocol-relative forms.
func IsRemoteURL(u string) bool {
	return strings.HasPrefix(u, "http://") ||
		strings.HasPrefix(u, "https://") ||
		strings.HasPrefix(u, "//")
}

// IsFileURL reports whether u is a file:// URL.
func IsFileURL(u string) bool {
	return strings.HasPrefix(u, "file://")
}

func scheme(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Scheme)
}

// FilePathFromURL extracts the filesystem path from a file:// URL.
func FilePathFromURL(u string) (string, error) {
	if !IsFileURL(u) {
		return "", fmt.Errorf("not a file:// URL: %s", u)
	}
	parsed, err := url.Parse(u)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Path == "" {
		return "", fmt.Errorf("empty path in file URL: %s", u)
	}
	return parsed.Path, nil
}

// ValidateURL rejects source URLs a refresh could never read: missing or
// unsupported schemes, and file:// paths that do not exist.
func ValidateURL(u string) error {
	if u == "" {
		return fmt.Errorf("URL is required")
	}
	parsed, err := url.Parse(u)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
		return nil
	case "file":
		path, err := FilePathFromURL(u)
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("file not found: %s", path)
			}
			return fmt.Errorf("cannot access file: %w", err)
		}
		return nil
	case "":
		return fmt.Errorf("URL must include a scheme (http://, https://, or file://)")
	default:
		return fmt.Errorf("unsupported URL scheme: %s (supported: http, https, file)", parsed.Scheme)
	}
}

// Fetcher reads source content from http(s):// URLs through the retrying
// client or straight off disk for file:// URLs. Providers rate-limit and
// flake, files do not; callers see one interface either way.
type Fetcher struct {
	client *httpclient.Client
}

// NewFetcher creates a Fetcher with the given HTTP client configuration.
func NewFetcher(cfg httpclient.Config) *Fetcher {
	return &Fetcher{client: httpclient.New(cfg)}
}

// NewDefaultFetcher creates a Fetcher with the default client settings.
func NewDefaultFetcher() *Fetcher {
	return &Fetcher{client: httpclient.NewWithDefaults()}
}

// FetchOptions carries per-source request identity. Zero values are
// omitted from the request.
type FetchOptions struct {
	Username  string
	Password  string
	UserAgent string
}

// Fetch opens u for reading. The caller owns the returned ReadCloser.
func (f *Fetcher) Fetch(ctx context.Context, u string) (io.ReadCloser, error) {
	return f.FetchWithOptions(ctx, u, FetchOptions{})
}

// FetchWithOptions opens u for reading with per-source request identity.
// file:// URLs ignore the options.
func (f *Fetcher) FetchWithOptions(ctx context.Context, u string, opts FetchOptions) (io.ReadCloser, error) {
	switch scheme(u) {
	case "http", "https":
		return f.fetchHTTP(ctx, u, opts)
	case "file":
		return f.fetchFile(u)
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (URL: %s)", scheme(u), httpclient.RedactURLString(u))
	}
}

func (f *Fetcher) fetchHTTP(ctx context.Context, u string, opts FetchOptions) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if opts.Username != "" || opts.Password != "" {
		req.SetBasicAuth(opts.Username, opts.Password)
	}
	if opts.UserAgent != "" {
		req.Header.Set("User-Agent", opts.UserAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch URL: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return resp.Body, nil
}

func (f *Fetcher) fetchFile(u string) (io.ReadCloser, error) {
	path, err := FilePathFromURL(u)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}
