// Package xmltv provides streaming XMLTV parsing and writing for
// electronic program guide data. The parser is callback-based so large
// guide files never need to be held in memory, and compressed input
// (gzip, bzip2, xz) is detected from magic bytes.
package xmltv

import (
	"bufio"
	"compress/bzip2"
	"compress/gzip"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ulikunitz/xz"
)

// Programme represents a single program entry in an XMLTV file.
type Programme struct {
	Start       time.Time
	Stop        time.Time
	Channel     string
	Title       string
	SubTitle    string
	Description string
	Category    string
	Icon        string
	EpisodeNum  string
	Rating      string
	Language    string
}

// Channel represents a channel definition in an XMLTV file.
type Channel struct {
	ID          string
	DisplayName string
	Icon        string
	URL         string
}

// Parser provides streaming XMLTV parsing with callback-based processing.
type Parser struct {
	// OnChannel is called for each channel definition.
	OnChannel func(channel *Channel) error

	// OnProgramme is called for each parsed programme.
	OnProgramme func(programme *Programme) error

	// OnError is called for recoverable parsing errors.
	OnError func(err error)
}

// parseXMLTVTime parses the XMLTV time format "20240101120000 +0000".
// The offset is honoured when present; truncated forms are accepted.
func parseXMLTVTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time string")
	}

	formats := []string{
		"20060102150405 -0700",
		"20060102150405",
		"200601021504",
		"20060102",
	}

	for _, format := range formats {
		t, err := time.Parse(format, s)
		if err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse time: %s", s)
}

// Parse parses an XMLTV file from a reader.
func (p *Parser) Parse(r io.Reader) error {
	decoder := xml.NewDecoder(r)
	decoder.Strict = false
	decoder.AutoClose = xml.HTMLAutoClose
	decoder.Entity = xml.HTMLEntity

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading XML token: %w", err)
		}

		switch elem := token.(type) {
		case xml.StartElement:
			switch elem.Name.Local {
			case "channel":
				if p.OnChannel != nil {
					channel, err := p.parseChannel(decoder, elem)
					if err != nil {
						p.handleError(err)
						continue
					}
					if err := p.OnChannel(channel); err != nil {
						return fmt.Errorf("channel callback: %w", err)
					}
				} else {
					_ = decoder.Skip()
				}

			case "programme":
				if p.OnProgramme != nil {
					programme, err := p.parseProgramme(decoder, elem)
					if err != nil {
						p.handleError(err)
						continue
					}
					if err := p.OnProgramme(programme); err != nil {
						return fmt.Errorf("programme callback: %w", err)
					}
				} else {
					_ = decoder.Skip()
				}
			}
		}
	}

	return nil
}

// ParseCompressed parses a potentially compressed XMLTV file,
// auto-detecting the compression format from magic bytes.
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

// parseChannel parses a channel element.
func (p *Parser) parseChannel(decoder *xml.Decoder, start xml.StartElement) (*Channel, error) {
	channel := &Channel{}

	for _, attr := range start.Attr {
		if attr.Name.Local == "id" {
			channel.ID = attr.Value
		}
	}

	for {
		token, err := decoder.Token()
		if err != nil {
			return nil, err
		}

		switch elem := token.(type) {
		case xml.StartElement:
			switch elem.Name.Local {
			case "display-name":
				// The first display-name wins; sources often list aliases.
				var name string
				if err := decoder.DecodeElement(&name, &elem); err == nil && channel.DisplayName == "" {
					channel.DisplayName = strings.TrimSpace(name)
				}
			case "icon":
				for _, attr := range elem.Attr {
					if attr.Name.Local == "src" {
						channel.Icon = attr.Value
					}
				}
				_ = decoder.Skip()
			case "url":
				var url string
				if err := decoder.DecodeElement(&url, &elem); err == nil {
					channel.URL = strings.TrimSpace(url)
				}
			default:
				_ = decoder.Skip()
			}
		case xml.EndElement:
			if elem.Name.Local == "channel" {
				return channel, nil
			}
		}
	}
}

// parseProgramme parses a programme element.
func (p *Parser) parseProgramme(decoder *xml.Decoder, start xml.StartElement) (*Programme, error) {
	prog := &Programme{}

	for _, attr := range start.Attr {
		switch attr.Name.Local {
		case "start":
			t, err := parseXMLTVTime(attr.Value)
			if err == nil {
				prog.Start = t
			}
		case "stop":
			t, err := parseXMLTVTime(attr.Value)
			if err == nil {
				prog.Stop = t
			}
		case "channel":
			prog.Channel = attr.Value
		}
	}

	for {
		token, err := decoder.Token()
		if err != nil {
			return nil, err
		}

		switch elem := token.(type) {
		case xml.StartElement:
			switch elem.Name.Local {
			case "title":
				var title string
				if err := decoder.DecodeElement(&title, &elem); err == nil && prog.Title == "" {
					prog.Title = strings.TrimSpace(title)
				}
			case "sub-title":
				var subtitle string
				if err := decoder.DecodeElement(&subtitle, &elem); err == nil {
					prog.SubTitle = strings.TrimSpace(subtitle)
				}
			case "desc":
				var desc string
				if err := decoder.DecodeElement(&desc, &elem); err == nil {
					prog.Description = strings.TrimSpace(desc)
				}
			case "category":
				var cat string
				if err := decoder.DecodeElement(&cat, &elem); err == nil && prog.Category == "" {
					prog.Category = strings.TrimSpace(cat)
				}
			case "icon":
				for _, attr := range elem.Attr {
					if attr.Name.Local == "src" {
						prog.Icon = attr.Value
					}
				}
				_ = decoder.Skip()
			case "episode-num":
				var epNum string
				if err := decoder.DecodeElement(&epNum, &elem); err == nil {
					prog.EpisodeNum = strings.TrimSpace(epNum)
				}
			case "rating":
				p.parseRating(decoder, prog)
			case "language":
				var lang string
				if err := decoder.DecodeElement(&lang, &elem); err == nil {
					prog.Language = strings.TrimSpace(lang)
				}
			default:
				_ = decoder.Skip()
			}
		case xml.EndElement:
			if elem.Name.Local == "programme" {
				return prog, nil
			}
		}
	}
}

// parseRating extracts the value child of a rating element.
func (p *Parser) parseRating(decoder *xml.Decoder, prog *Programme) {
	for {
		token, err := decoder.Token()
		if err != nil {
			return
		}

		switch elem := token.(type) {
		case xml.StartElement:
			if elem.Name.Local == "value" {
				var value string
				if err := decoder.DecodeElement(&value, &elem); err == nil {
					prog.Rating = strings.TrimSpace(value)
				}
			} else {
				_ = decoder.Skip()
			}
		case xml.EndElement:
			if elem.Name.Local == "rating" {
				return
			}
		}
	}
}

// handleError calls the OnError callback if set.
func (p *Parser) handleError(err error) {
	if p.OnError != nil {
		p.OnError(err)
	}
}

// ParseAll parses an entire XMLTV document and returns all programmes.
// It loads everything into memory; use Parse with callbacks for large files.
func ParseAll(r io.Reader) ([]*Programme, error) {
	var programmes []*Programme
	p := &Parser{
		OnProgramme: func(prog *Programme) error {
			programmes = append(programmes, prog)
			return nil
		},
	}
	if err := p.Parse(r); err != nil {
		return nil, err
	}
	return programmes, nil
}
