package plexcompat

import (
	"encoding/xml"
	"io"
	"net/http"

	json "github.com/goccy/go-json"
)

// plexIdentifier is the container identifier Plex expects on transcode
// decision responses. Real Plex Media Server stamps it on every library
// container; clients check it before trusting decision codes.
const plexIdentifier = "com.plexapp.plugins.library"

// liveDurationMS is the duration advertised for live items. Plex needs a
// finite, large duration to size its seek bar; 24h matches what HDHomeRun
// DVR sessions report.
const liveDurationMS = 86400000

// mediaContainer is the XML envelope wrapping every Plex response. An empty
// container with Size 0 is the universal "nothing here, keep going" answer;
// Plex treats any non-XML body as a tuner fault and abandons the device.
type mediaContainer struct {
	XMLName    xml.Name `xml:"MediaContainer"`
	Size       int      `xml:"size,attr"`
	Identifier string   `xml:"identifier,attr,omitempty"`
	Error      string   `xml:"error,attr,omitempty"`

	DirectPlayDecisionCode int    `xml:"directPlayDecisionCode,attr,omitempty"`
	DirectPlayDecisionText string `xml:"directPlayDecisionText,attr,omitempty"`
	GeneralDecisionCode    int    `xml:"generalDecisionCode,attr,omitempty"`
	GeneralDecisionText    string `xml:"generalDecisionText,attr,omitempty"`

	Videos    []video    `xml:"Video,omitempty"`
	Timelines []timeline `xml:"Timeline,omitempty"`
}

type video struct {
	RatingKey   string `xml:"ratingKey,attr,omitempty"`
	Key         string `xml:"key,attr,omitempty"`
	Type        string `xml:"type,attr,omitempty"`
	Title       string `xml:"title,attr,omitempty"`
	Live        string `xml:"live,attr,omitempty"`
	ContentType int    `xml:"contentType,attr,omitempty"`
	Duration    int    `xml:"duration,attr,omitempty"`

	Media []media `xml:"Media,omitempty"`
}

type media struct {
	ID         string `xml:"id,attr,omitempty"`
	Duration   int    `xml:"duration,attr,omitempty"`
	VideoCodec string `xml:"videoCodec,attr,omitempty"`
	AudioCodec string `xml:"audioCodec,attr,omitempty"`
	Container  string `xml:"container,attr,omitempty"`
	Protocol   string `xml:"protocol,attr,omitempty"`

	Parts []part `xml:"Part,omitempty"`
}

type part struct {
	Key      string `xml:"key,attr,omitempty"`
	Duration int    `xml:"duration,attr,omitempty"`
}

type timeline struct {
	State       string `xml:"state,attr"`
	Type        string `xml:"type,attr"`
	ContentType int    `xml:"contentType,attr"`
	ItemID      string `xml:"itemID,attr,omitempty"`
	Duration    int    `xml:"duration,attr"`
	Time        int64  `xml:"time,attr"`
}

func emptyContainer() mediaContainer {
	return mediaContainer{Size: 0}
}

func terminatedContainer() mediaContainer {
	return mediaContainer{Size: 0, Error: "Session terminated"}
}

func notFoundContainer(msg string) mediaContainer {
	return mediaContainer{Size: 0, Error: msg}
}

// writeContainer serializes a MediaContainer with the XML declaration Plex
// clients require. Every envelope leaves with the library identifier set;
// clients check it before trusting the container. Encoding errors after the
// header is out are unrecoverable mid-body, so they are swallowed; the
// status line has already been sent.
func writeContainer(w http.ResponseWriter, status int, c mediaContainer) {
	if c.Identifier == "" {
		c.Identifier = plexIdentifier
	}
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, xml.Header)
	_ = xml.NewEncoder(w).Encode(c)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// onePixelPNG is a 1x1 transparent PNG served for artwork requests. Plex
// renders a blank thumbnail instead of a broken-image placeholder.
var onePixelPNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a,
	0x00, 0x00, 0x00, 0x0d, 0x49, 0x48, 0x44, 0x52,
	0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4,
	0x89, 0x00, 0x00, 0x00, 0x0a, 0x49, 0x44, 0x41,
	0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00,
	0x00, 0x00, 0x00, 0x49, 0x45, 0x4e, 0x44, 0xae,
	0x42, 0x60, 0x82,
}
