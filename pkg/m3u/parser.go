// Package m3u provides streaming parsing and writing of extended M3U
// playlists as IPTV providers publish them: EXTINF tvg attributes plus the
// per-entry EXTVLCOPT, EXTHTTP, and EXTGRP directives that carry request
// identity. Compressed playlists (gzip, bzip2, xz) are detected by magic
// bytes.
package m3u

import (
	"bufio"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/ulikunitz/xz"
)

// Entry is a single channel entry in an M3U playlist.
type Entry struct {
	// Duration is the track duration in seconds (-1 for live streams).
	Duration int

	// TvgID is the EPG channel identifier.
	TvgID string

	// TvgName is the display name from the tvg-name attribute.
	TvgName string

	// TvgLogo is the URL to the channel logo.
	TvgLogo string

	// GroupTitle is the category from the group-title attribute, or the
	// enclosing EXTGRP group when the attribute is absent.
	GroupTitle string

	// ChannelNumber is the channel number from the tvg-chno attribute.
	ChannelNumber int

	// Title is the display title following the EXTINF comma.
	Title string

	// URL is the stream URL.
	URL string

	// UserAgent is the player identity from EXTVLCOPT:http-user-agent.
	UserAgent string

	// HTTPHeaders holds request headers from EXTVLCOPT http options and
	// EXTHTTP JSON blocks (Referer, Origin, Cookie and friends).
	HTTPHeaders map[string]string

	// Extra contains tvg attributes not explicitly mapped.
	Extra map[string]string
}

// setHeader lazily initialises the header map.
func (e *Entry) setHeader(key, value string) {
	if e.HTTPHeaders == nil {
		e.HTTPHeaders = make(map[string]string)
	}
	e.HTTPHeaders[key] = value
}

// Parser provides streaming M3U parsing with callback-based processing.
type Parser struct {
	// OnEntry is called for each parsed entry.
	OnEntry func(entry *Entry) error

	// OnError is called for recoverable parsing errors.
	// If nil, errors are silently ignored.
	OnError func(lineNum int, err error)
}

var (
	// Matches duration and attributes: #EXTINF:-1 tvg-id="..." ...,Title
	extinfRegex = regexp.MustCompile(`^#EXTINF:\s*(-?\d+)\s*(.*)$`)

	// Matches key="value" or key=value attribute pairs.
	attrRegex = regexp.MustCompile(`([a-zA-Z0-9_-]+)=(?:"([^"]*)"|([^\s,]+))`)
)

// Parse parses an M3U playlist, calling OnEntry for each channel. Directive
// lines between an EXTINF and its URL attach to that entry.
func (p *Parser) Parse(r io.Reader) error {
	if p.OnEntry == nil {
		return fmt.Errorf("OnEntry callback is required")
	}

	scanner := bufio.NewScanner(r)
	// Provider playlists carry very long tokenised URLs.
	const maxLineSize = 1024 * 1024
	scanner.Buffer(make([]byte, maxLineSize), maxLineSize)

	var pending *Entry
	var stickyGroup string
	lineNum := 0
	isExtM3U := false
	skipURL := false

	emit := func(entry *Entry) error {
		if entry.GroupTitle == "" {
			entry.GroupTitle = stickyGroup
		}
		if err := p.OnEntry(entry); err != nil {
			return fmt.Errorf("callback error at line %d: %w", lineNum, err)
		}
		return nil
	}

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "":
			continue

		case strings.HasPrefix(line, "#EXTM3U"):
			isExtM3U = true

		case strings.HasPrefix(line, "#EXTINF:"):
			entry, err := p.parseExtinf(line)
			if err != nil {
				p.handleError(lineNum, err)
				// The URL belonging to this broken EXTINF must not be
				// mistaken for a bare-URL entry.
				skipURL = true
				continue
			}
			pending = entry
			skipURL = false

		case strings.HasPrefix(line, "#EXTVLCOPT:"):
			if pending != nil {
				applyVLCOption(pending, strings.TrimPrefix(line, "#EXTVLCOPT:"))
			}

		case strings.HasPrefix(line, "#EXTHTTP:"):
			if pending != nil {
				if err := applyExtHTTP(pending, strings.TrimPrefix(line, "#EXTHTTP:")); err != nil {
					p.handleError(lineNum, err)
				}
			}

		case strings.HasPrefix(line, "#EXTGRP:"):
			group := strings.TrimSpace(strings.TrimPrefix(line, "#EXTGRP:"))
			if pending != nil && pending.GroupTitle == "" {
				pending.GroupTitle = group
			} else {
				stickyGroup = group
			}

		case strings.HasPrefix(line, "#"):
			// Unknown comment or directive.

		case pending != nil:
			pending.URL = line
			if err := emit(pending); err != nil {
				return err
			}
			pending = nil

		case skipURL:
			skipURL = false

		case isExtM3U:
			// Bare URL without EXTINF; synthesise a minimal entry.
			if err := emit(&Entry{
				Duration: -1,
				URL:      line,
				Title:    titleFromURL(line),
			}); err != nil {
				return err
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanning M3U: %w", err)
	}

	return nil
}

// ParseCompressed parses a playlist that may be gzip, bzip2, or xz
// compressed, detected from the stream's magic bytes.
func (p *Parser) ParseCompressed(r io.Reader) error {
	reader, err := sniffCompression(r)
	if err != nil {
		return err
	}
	return p.Parse(reader)
}

// sniffCompression wraps r with the decoder its first bytes announce.
func sniffCompression(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)

	header, err := br.Peek(6)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("peeking header: %w", err)
	}

	switch {
	case len(header) >= 2 && header[0] == 0x1f && header[1] == 0x8b:
		gzr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("creating gzip reader: %w", err)
		}
		return gzr, nil

	case len(header) >= 3 && header[0] == 'B' && header[1] == 'Z' && header[2] == 'h':
		return bzip2.NewReader(br), nil

	case len(header) >= 6 && header[0] == 0xfd && header[1] == '7' && header[2] == 'z' &&
		header[3] == 'X' && header[4] == 'Z' && header[5] == 0x00:
		xzr, err := xz.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("creating xz reader: %w", err)
		}
		return xzr, nil
	}

	return br, nil
}

// parseExtinf extracts duration, tvg attributes, and title from an EXTINF line.
func (p *Parser) parseExtinf(line string) (*Entry, error) {
	matches := extinfRegex.FindStringSubmatch(line)
	if matches == nil {
		return nil, fmt.Errorf("invalid EXTINF format")
	}

	duration, _ := strconv.Atoi(matches[1])
	remainder := matches[2]

	entry := &Entry{
		Duration: duration,
		Extra:    make(map[string]string),
	}

	// The title follows the last comma outside quotes.
	if idx := lastUnquotedComma(remainder); idx >= 0 {
		entry.Title = strings.TrimSpace(remainder[idx+1:])
		remainder = remainder[:idx]
	}

	for _, match := range attrRegex.FindAllStringSubmatch(remainder, -1) {
		key := strings.ToLower(match[1])
		value := match[2]
		if value == "" {
			value = match[3]
		}

		switch key {
		case "tvg-id":
			entry.TvgID = value
		case "tvg-name":
			entry.TvgName = value
		case "tvg-logo":
			entry.TvgLogo = value
		case "group-title":
			entry.GroupTitle = value
		case "tvg-chno":
			entry.ChannelNumber, _ = strconv.Atoi(value)
		default:
			entry.Extra[key] = value
		}
	}

	return entry, nil
}

// applyVLCOption maps an EXTVLCOPT key=value onto the entry. Only the HTTP
// identity options matter for relays; playback tuning options are ignored.
func applyVLCOption(entry *Entry, opt string) {
	key, value, found := strings.Cut(opt, "=")
	if !found {
		return
	}
	key = strings.ToLower(strings.TrimSpace(key))
	value = strings.TrimSpace(value)

	switch key {
	case "http-user-agent":
		entry.UserAgent = value
	case "http-referrer":
		entry.setHeader("Referer", value)
	case "http-origin":
		entry.setHeader("Origin", value)
	case "http-cookie":
		entry.setHeader("Cookie", value)
	}
}

// applyExtHTTP merges an EXTHTTP JSON object of request headers into the
// entry. A User-Agent key wins over any earlier EXTVLCOPT value.
func applyExtHTTP(entry *Entry, payload string) error {
	headers := make(map[string]string)
	if err := json.Unmarshal([]byte(strings.TrimSpace(payload)), &headers); err != nil {
		return fmt.Errorf("invalid EXTHTTP JSON: %w", err)
	}

	for key, value := range headers {
		if strings.EqualFold(key, "user-agent") {
			entry.UserAgent = value
			continue
		}
		entry.setHeader(key, value)
	}
	return nil
}

// lastUnquotedComma finds the comma separating attributes from the title,
// skipping commas inside quoted values.
func lastUnquotedComma(s string) int {
	inQuotes := false
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '"' {
			inQuotes = !inQuotes
		}
		if s[i] == ',' && !inQuotes {
			return i
		}
	}
	return -1
}

// titleFromURL derives a display title from a bare URL entry.
func titleFromURL(url string) string {
	parts := strings.Split(url, "/")
	if len(parts) == 0 {
		return "Unknown"
	}

	filename := parts[len(parts)-1]
	if idx := strings.Index(filename, "?"); idx > 0 {
		filename = filename[:idx]
	}
	if idx := strings.LastIndex(filename, "."); idx > 0 {
		filename = filename[:idx]
	}
	if filename == "" {
		return "Unknown"
	}
	return filename
}

// handleError calls the OnError callback if set.
func (p *Parser) handleError(lineNum int, err error) {
	if p.OnError != nil {
		p.OnError(lineNum, err)
	}
}
