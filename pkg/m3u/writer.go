package m3u

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/goccy/go-json"
)

// Writer provides streaming M3U playlist writing.
type Writer struct {
	w             io.Writer
	headerWritten bool
}

// NewWriter creates a new M3U writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteHeader writes the M3U header. WriteEntry calls it implicitly.
func (w *Writer) WriteHeader() error {
	if w.headerWritten {
		return nil
	}
	if _, err := fmt.Fprintln(w.w, "#EXTM3U"); err != nil {
		return fmt.Errorf("writing M3U header: %w", err)
	}
	w.headerWritten = true
	return nil
}

// WriteEntry writes one channel entry: the EXTINF line, any request
// identity directives, then the URL.
func (w *Writer) WriteEntry(entry *Entry) error {
	if err := w.WriteHeader(); err != nil {
		return err
	}

	if _, err := fmt.Fprintln(w.w, extinfLine(entry)); err != nil {
		return fmt.Errorf("writing EXTINF: %w", err)
	}

	if entry.UserAgent != "" {
		if _, err := fmt.Fprintf(w.w, "#EXTVLCOPT:http-user-agent=%s\n", entry.UserAgent); err != nil {
			return fmt.Errorf("writing EXTVLCOPT: %w", err)
		}
	}
	if len(entry.HTTPHeaders) > 0 {
		payload, err := json.Marshal(entry.HTTPHeaders)
		if err != nil {
			return fmt.Errorf("encoding EXTHTTP headers: %w", err)
		}
		if _, err := fmt.Fprintf(w.w, "#EXTHTTP:%s\n", payload); err != nil {
			return fmt.Errorf("writing EXTHTTP: %w", err)
		}
	}

	if _, err := fmt.Fprintln(w.w, entry.URL); err != nil {
		return fmt.Errorf("writing URL: %w", err)
	}

	return nil
}

// extinfLine renders the EXTINF line with tvg attributes in stable order.
func extinfLine(entry *Entry) string {
	var attrs []string

	if entry.TvgID != "" {
		attrs = append(attrs, fmt.Sprintf(`tvg-id="%s"`, escapeQuotes(entry.TvgID)))
	}
	if entry.TvgName != "" {
		attrs = append(attrs, fmt.Sprintf(`tvg-name="%s"`, escapeQuotes(entry.TvgName)))
	}
	if entry.TvgLogo != "" {
		attrs = append(attrs, fmt.Sprintf(`tvg-logo="%s"`, escapeQuotes(entry.TvgLogo)))
	}
	if entry.ChannelNumber > 0 {
		attrs = append(attrs, fmt.Sprintf(`tvg-chno="%d"`, entry.ChannelNumber))
	}
	if entry.GroupTitle != "" {
		attrs = append(attrs, fmt.Sprintf(`group-title="%s"`, escapeQuotes(entry.GroupTitle)))
	}

	extraKeys := make([]string, 0, len(entry.Extra))
	for k := range entry.Extra {
		extraKeys = append(extraKeys, k)
	}
	sort.Strings(extraKeys)
	for _, k := range extraKeys {
		attrs = append(attrs, fmt.Sprintf(`%s="%s"`, k, escapeQuotes(entry.Extra[k])))
	}

	duration := entry.Duration
	if duration == 0 {
		duration = -1
	}

	if len(attrs) == 0 {
		return fmt.Sprintf("#EXTINF:%d,%s", duration, entry.Title)
	}
	return fmt.Sprintf("#EXTINF:%d %s,%s", duration, strings.Join(attrs, " "), entry.Title)
}

// escapeQuotes escapes double quotes in attribute values.
func escapeQuotes(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}
