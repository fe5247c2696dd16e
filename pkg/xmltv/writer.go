package xmltv

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"
)

// Writer provides streaming XMLTV file writing. Write errors stick:
// once a write fails, every later call returns that first error.
type Writer struct {
	w             io.Writer
	err           error
	headerWritten bool
	channelsDone  bool
}

// NewWriter creates a new XMLTV writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// printf writes one formatted line, retaining the first error seen.
func (w *Writer) printf(format string, args ...any) {
	if w.err != nil {
		return
	}
	if _, err := fmt.Fprintf(w.w, format, args...); err != nil {
		w.err = err
		return
	}
	_, w.err = io.WriteString(w.w, "\n")
}

// WriteHeader writes the XML declaration and opens the tv element.
func (w *Writer) WriteHeader() error {
	if w.headerWritten {
		return w.err
	}
	w.headerWritten = true
	w.printf(`<?xml version="1.0" encoding="UTF-8"?>`)
	w.printf(`<tv generator-info-name="tunerr" generator-info-url="https://github.com/jmylchreest/tunerr">`)
	return w.err
}

// WriteChannel writes a channel definition.
// All channels must be written before any programmes.
func (w *Writer) WriteChannel(ch *Channel) error {
	if err := w.WriteHeader(); err != nil {
		return err
	}
	if w.channelsDone {
		return fmt.Errorf("channels must be written before programmes")
	}

	w.printf(`  <channel id="%s">`, xmlEscape(ch.ID))
	w.printf(`    <display-name>%s</display-name>`, xmlEscape(ch.DisplayName))
	if ch.Icon != "" {
		w.printf(`    <icon src="%s"/>`, xmlEscape(ch.Icon))
	}
	if ch.URL != "" {
		w.printf(`    <url>%s</url>`, xmlEscape(ch.URL))
	}
	w.printf(`  </channel>`)
	return w.err
}

// WriteProgramme writes a programme entry.
func (w *Writer) WriteProgramme(prog *Programme) error {
	if err := w.WriteHeader(); err != nil {
		return err
	}
	w.channelsDone = true

	w.printf(`  <programme start="%s" stop="%s" channel="%s">`,
		formatXMLTVTime(prog.Start), formatXMLTVTime(prog.Stop), xmlEscape(prog.Channel))

	lang := prog.Language
	if lang == "" {
		lang = "en"
	}
	w.printf(`    <title lang="%s">%s</title>`, lang, xmlEscape(prog.Title))
	if prog.SubTitle != "" {
		w.printf(`    <sub-title lang="%s">%s</sub-title>`, lang, xmlEscape(prog.SubTitle))
	}
	if prog.Description != "" {
		w.printf(`    <desc lang="%s">%s</desc>`, lang, xmlEscape(prog.Description))
	}
	if prog.Category != "" {
		w.printf(`    <category lang="%s">%s</category>`, lang, xmlEscape(prog.Category))
	}
	if prog.Icon != "" {
		w.printf(`    <icon src="%s"/>`, xmlEscape(prog.Icon))
	}
	if prog.EpisodeNum != "" {
		w.printf(`    <episode-num system="onscreen">%s</episode-num>`, xmlEscape(prog.EpisodeNum))
	}
	if prog.Rating != "" {
		w.printf(`    <rating><value>%s</value></rating>`, xmlEscape(prog.Rating))
	}
	w.printf(`  </programme>`)
	return w.err
}

// WriteFooter closes the tv element.
func (w *Writer) WriteFooter() error {
	if err := w.WriteHeader(); err != nil {
		return err
	}
	w.printf(`</tv>`)
	return w.err
}

// formatXMLTVTime formats a time in XMLTV format, normalised to UTC.
func formatXMLTVTime(t time.Time) string {
	return t.UTC().Format("20060102150405 +0000")
}

// xmlEscape escapes special XML characters.
func xmlEscape(s string) string {
	var sb strings.Builder
	_ = xml.EscapeText(&sb, []byte(s))
	return sb.String()
}
