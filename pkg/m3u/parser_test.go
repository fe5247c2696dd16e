package m3u

import (
	"bytes"
	"compress/gzip"
	"errors"
	"strings"
	"testing"

	"github.com/dsnet/compress/bzip2"
	"github.com/ulikunitz/xz"
)

func collectEntries(t *testing.T, content string) []*Entry {
	t.Helper()

	var entries []*Entry
	p := &Parser{
		OnEntry: func(entry *Entry) error {
			entries = append(entries, entry)
			return nil
		},
	}
	if err := p.Parse(strings.NewReader(content)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return entries
}

func TestParser_BasicParsing(t *testing.T) {
	content := `#EXTM3U
#EXTINF:-1 tvg-id="channel1" tvg-name="Channel One" tvg-logo="http://example.com/logo.png" group-title="News",Channel 1 HD
http://example.com/stream1.m3u8
#EXTINF:-1 tvg-id="channel2" tvg-name="Channel Two" group-title="Sports",Channel 2
http://example.com/stream2.m3u8
`

	entries := collectEntries(t, content)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	e1 := entries[0]
	if e1.TvgID != "channel1" {
		t.Errorf("expected tvg-id 'channel1', got '%s'", e1.TvgID)
	}
	if e1.TvgName != "Channel One" {
		t.Errorf("expected tvg-name 'Channel One', got '%s'", e1.TvgName)
	}
	if e1.TvgLogo != "http://example.com/logo.png" {
		t.Errorf("expected logo URL, got '%s'", e1.TvgLogo)
	}
	if e1.GroupTitle != "News" {
		t.Errorf("expected group-title 'News', got '%s'", e1.GroupTitle)
	}
	if e1.Title != "Channel 1 HD" {
		t.Errorf("expected title 'Channel 1 HD', got '%s'", e1.Title)
	}
	if e1.URL != "http://example.com/stream1.m3u8" {
		t.Errorf("expected stream URL, got '%s'", e1.URL)
	}
	if e1.Duration != -1 {
		t.Errorf("expected duration -1, got %d", e1.Duration)
	}

	if entries[1].TvgID != "channel2" {
		t.Errorf("expected tvg-id 'channel2', got '%s'", entries[1].TvgID)
	}
}

func TestParser_ChannelNumber(t *testing.T) {
	content := `#EXTM3U
#EXTINF:-1 tvg-id="ch1" tvg-chno="105",Channel 1
http://example.com/stream.m3u8
`

	entries := collectEntries(t, content)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].ChannelNumber != 105 {
		t.Errorf("expected channel number 105, got %d", entries[0].ChannelNumber)
	}
}

func TestParser_TitleWithCommaInQuotedAttribute(t *testing.T) {
	content := `#EXTM3U
#EXTINF:-1 tvg-name="News, Weather & Sport" group-title="UK",BBC One
http://example.com/bbc.m3u8
`

	entries := collectEntries(t, content)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].TvgName != "News, Weather & Sport" {
		t.Errorf("quoted comma mangled tvg-name: '%s'", entries[0].TvgName)
	}
	if entries[0].Title != "BBC One" {
		t.Errorf("expected title 'BBC One', got '%s'", entries[0].Title)
	}
}

func TestParser_VLCOptions(t *testing.T) {
	content := `#EXTM3U
#EXTINF:-1 tvg-id="ch1",Channel 1
#EXTVLCOPT:http-user-agent=Mozilla/5.0 (SmartTV)
#EXTVLCOPT:http-referrer=http://portal.example.com/
#EXTVLCOPT:network-caching=1000
http://example.com/stream.m3u8
#EXTINF:-1 tvg-id="ch2",Channel 2
http://example.com/stream2.m3u8
`

	entries := collectEntries(t, content)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	e1 := entries[0]
	if e1.UserAgent != "Mozilla/5.0 (SmartTV)" {
		t.Errorf("expected user agent from EXTVLCOPT, got '%s'", e1.UserAgent)
	}
	if e1.HTTPHeaders["Referer"] != "http://portal.example.com/" {
		t.Errorf("expected Referer header, got %v", e1.HTTPHeaders)
	}
	if _, ok := e1.HTTPHeaders["network-caching"]; ok {
		t.Error("playback tuning options should not become headers")
	}

	// Options must not leak onto the following entry.
	if entries[1].UserAgent != "" || entries[1].HTTPHeaders != nil {
		t.Errorf("directives leaked onto second entry: %+v", entries[1])
	}
}

func TestParser_ExtHTTP(t *testing.T) {
	content := `#EXTM3U
#EXTINF:-1 tvg-id="ch1",Channel 1
#EXTHTTP:{"cookie":"session=abc123","User-Agent":"Lavf/58.76.100"}
http://example.com/stream.m3u8
`

	entries := collectEntries(t, content)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].HTTPHeaders["cookie"] != "session=abc123" {
		t.Errorf("expected cookie header, got %v", entries[0].HTTPHeaders)
	}
	if entries[0].UserAgent != "Lavf/58.76.100" {
		t.Errorf("EXTHTTP User-Agent should map to UserAgent, got '%s'", entries[0].UserAgent)
	}
}

func TestParser_ExtHTTPInvalidJSON(t *testing.T) {
	content := `#EXTM3U
#EXTINF:-1 tvg-id="ch1",Channel 1
#EXTHTTP:{not json}
http://example.com/stream.m3u8
`

	var errCount int
	var entries []*Entry
	p := &Parser{
		OnEntry: func(entry *Entry) error {
			entries = append(entries, entry)
			return nil
		},
		OnError: func(lineNum int, err error) {
			errCount++
		},
	}

	if err := p.Parse(strings.NewReader(content)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if errCount != 1 {
		t.Errorf("expected 1 recoverable error, got %d", errCount)
	}
	if len(entries) != 1 {
		t.Fatalf("entry should survive a bad EXTHTTP line, got %d entries", len(entries))
	}
}

func TestParser_ExtGrp(t *testing.T) {
	content := `#EXTM3U
#EXTGRP:Documentaries
#EXTINF:-1 tvg-id="ch1",Channel 1
http://example.com/stream1.m3u8
#EXTINF:-1 tvg-id="ch2" group-title="Sports",Channel 2
http://example.com/stream2.m3u8
#EXTINF:-1 tvg-id="ch3",Channel 3
#EXTGRP:Movies
http://example.com/stream3.m3u8
`

	entries := collectEntries(t, content)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].GroupTitle != "Documentaries" {
		t.Errorf("expected sticky EXTGRP group, got '%s'", entries[0].GroupTitle)
	}
	if entries[1].GroupTitle != "Sports" {
		t.Errorf("group-title attribute should win over EXTGRP, got '%s'", entries[1].GroupTitle)
	}
	if entries[2].GroupTitle != "Movies" {
		t.Errorf("EXTGRP after EXTINF should fill the pending entry, got '%s'", entries[2].GroupTitle)
	}
}

func TestParser_BareURLEntry(t *testing.T) {
	content := `#EXTM3U
http://example.com/streams/discovery.ts?token=x
`

	entries := collectEntries(t, content)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Title != "discovery" {
		t.Errorf("expected title derived from URL, got '%s'", entries[0].Title)
	}
	if entries[0].Duration != -1 {
		t.Errorf("expected duration -1, got %d", entries[0].Duration)
	}
}

func TestParser_InvalidExtinfReported(t *testing.T) {
	content := `#EXTM3U
#EXTINF:notanumber,Broken
http://example.com/broken.m3u8
#EXTINF:-1,Good
http://example.com/good.m3u8
`

	var entries []*Entry
	var reportedLine int
	p := &Parser{
		OnEntry: func(entry *Entry) error {
			entries = append(entries, entry)
			return nil
		},
		OnError: func(lineNum int, err error) {
			reportedLine = lineNum
		},
	}

	if err := p.Parse(strings.NewReader(content)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reportedLine != 2 {
		t.Errorf("expected error reported on line 2, got %d", reportedLine)
	}
	if len(entries) != 1 || entries[0].Title != "Good" {
		t.Fatalf("expected only the valid entry, got %+v", entries)
	}
}

func TestParser_CallbackErrorStopsParsing(t *testing.T) {
	content := `#EXTM3U
#EXTINF:-1,One
http://example.com/1.m3u8
#EXTINF:-1,Two
http://example.com/2.m3u8
`

	boom := errors.New("stop")
	count := 0
	p := &Parser{
		OnEntry: func(entry *Entry) error {
			count++
			return boom
		},
	}

	err := p.Parse(strings.NewReader(content))
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
	if count != 1 {
		t.Errorf("parsing should stop at first callback error, got %d calls", count)
	}
}

func TestParser_MissingOnEntry(t *testing.T) {
	p := &Parser{}
	if err := p.Parse(strings.NewReader("#EXTM3U\n")); err == nil {
		t.Fatal("expected error when OnEntry is nil")
	}
}

func TestParser_ParseCompressed(t *testing.T) {
	content := `#EXTM3U
#EXTINF:-1 tvg-id="ch1",Channel 1
http://example.com/stream.m3u8
`

	compress := map[string]func(t *testing.T) []byte{
		"plain": func(t *testing.T) []byte {
			return []byte(content)
		},
		"gzip": func(t *testing.T) []byte {
			var buf bytes.Buffer
			gw := gzip.NewWriter(&buf)
			if _, err := gw.Write([]byte(content)); err != nil {
				t.Fatalf("writing gzip: %v", err)
			}
			if err := gw.Close(); err != nil {
				t.Fatalf("closing gzip: %v", err)
			}
			return buf.Bytes()
		},
		"bzip2": func(t *testing.T) []byte {
			var buf bytes.Buffer
			bw, err := bzip2.NewWriter(&buf, nil)
			if err != nil {
				t.Fatalf("creating bzip2 writer: %v", err)
			}
			if _, err := bw.Write([]byte(content)); err != nil {
				t.Fatalf("writing bzip2: %v", err)
			}
			if err := bw.Close(); err != nil {
				t.Fatalf("closing bzip2: %v", err)
			}
			return buf.Bytes()
		},
		"xz": func(t *testing.T) []byte {
			var buf bytes.Buffer
			xw, err := xz.NewWriter(&buf)
			if err != nil {
				t.Fatalf("creating xz writer: %v", err)
			}
			if _, err := xw.Write([]byte(content)); err != nil {
				t.Fatalf("writing xz: %v", err)
			}
			if err := xw.Close(); err != nil {
				t.Fatalf("closing xz: %v", err)
			}
			return buf.Bytes()
		},
	}

	for name, build := range compress {
		t.Run(name, func(t *testing.T) {
			data := build(t)

			var entries []*Entry
			p := &Parser{
				OnEntry: func(entry *Entry) error {
					entries = append(entries, entry)
					return nil
				},
			}

			if err := p.ParseCompressed(bytes.NewReader(data)); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(entries) != 1 {
				t.Fatalf("expected 1 entry, got %d", len(entries))
			}
			if entries[0].TvgID != "ch1" {
				t.Errorf("expected tvg-id 'ch1', got '%s'", entries[0].TvgID)
			}
		})
	}
}

func TestWriter_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	err := w.WriteEntry(&Entry{
		TvgID:         "bbc1.uk",
		TvgName:       "BBC One",
		TvgLogo:       "http://example.com/bbc1.png",
		GroupTitle:    "UK",
		ChannelNumber: 101,
		Title:         "BBC One HD",
		URL:           "http://example.com/bbc1.m3u8",
		UserAgent:     "SmartTV/1.0",
		HTTPHeaders:   map[string]string{"Referer": "http://portal.example.com/"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	if !strings.HasPrefix(out, "#EXTM3U\n") {
		t.Errorf("missing header:\n%s", out)
	}
	if !strings.Contains(out, "#EXTVLCOPT:http-user-agent=SmartTV/1.0") {
		t.Errorf("missing EXTVLCOPT line:\n%s", out)
	}

	var entries []*Entry
	p := &Parser{
		OnEntry: func(entry *Entry) error {
			entries = append(entries, entry)
			return nil
		},
	}
	if err := p.Parse(strings.NewReader(out)); err != nil {
		t.Fatalf("reparsing output: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	got := entries[0]
	if got.TvgID != "bbc1.uk" || got.Title != "BBC One HD" || got.ChannelNumber != 101 {
		t.Errorf("round trip lost EXTINF fields: %+v", got)
	}
	if got.UserAgent != "SmartTV/1.0" {
		t.Errorf("round trip lost user agent: '%s'", got.UserAgent)
	}
	if got.HTTPHeaders["Referer"] != "http://portal.example.com/" {
		t.Errorf("round trip lost headers: %v", got.HTTPHeaders)
	}
}

func TestWriter_MinimalEntry(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	if err := w.WriteEntry(&Entry{Title: "Plain", URL: "http://example.com/plain.ts"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := "#EXTM3U\n#EXTINF:-1,Plain\nhttp://example.com/plain.ts\n"
	if buf.String() != want {
		t.Errorf("unexpected output:\n%q\nwant:\n%q", buf.String(), want)
	}
}
