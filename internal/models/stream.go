package models

import (
	"net/url"

	"github.com/goccy/go-json"
	"gorm.io/gorm"
)

// StreamProtocol identifies the container or transport of an upstream stream.
// An empty value means the protocol is detected from the URL at analysis time.
type StreamProtocol string

const (
	// ProtocolHLS is an HTTP Live Streaming playlist.
	ProtocolHLS StreamProtocol = "hls"
	// ProtocolDASH is a DASH manifest.
	ProtocolDASH StreamProtocol = "dash"
	// ProtocolTS is a raw MPEG-TS stream over HTTP.
	ProtocolTS StreamProtocol = "ts"
	// ProtocolRTSP is an RTSP stream.
	ProtocolRTSP StreamProtocol = "rtsp"
	// ProtocolRTMP is an RTMP stream.
	ProtocolRTMP StreamProtocol = "rtmp"
	// ProtocolUDP is a UDP or multicast stream.
	ProtocolUDP StreamProtocol = "udp"
	// ProtocolMMS is a Microsoft Media Server stream.
	ProtocolMMS StreamProtocol = "mms"
	// ProtocolSRT is an SRT stream.
	ProtocolSRT StreamProtocol = "srt"
	// ProtocolHTTP is plain HTTP with no recognizable container extension.
	ProtocolHTTP StreamProtocol = "http"
)

// ValidProtocol reports whether p is a known protocol hint. The empty
// string is valid and means auto-detect.
func ValidProtocol(p StreamProtocol) bool {
	switch p {
	case "", ProtocolHLS, ProtocolDASH, ProtocolTS, ProtocolRTSP,
		ProtocolRTMP, ProtocolUDP, ProtocolMMS, ProtocolSRT, ProtocolHTTP:
		return true
	}
	return false
}

// Stream represents one upstream URL backing a channel. Channels can carry
// several streams; the proxy picks the highest-priority enabled one.
type Stream struct {
	BaseModel

	// ChannelID is the foreign key to the owning Channel.
	ChannelID ULID `gorm:"type:varchar(26);not null;index" json:"channel_id"`

	// URL is the upstream stream URL.
	URL string `gorm:"not null;size:4096" json:"url"`

	// Protocol is an optional protocol hint. Empty means auto-detect.
	Protocol StreamProtocol `gorm:"size:20" json:"protocol,omitempty"`

	// Username for upstream authentication (optional).
	Username string `gorm:"size:255" json:"username,omitempty"`

	// Password for upstream authentication (optional).
	Password string `gorm:"size:255" json:"password,omitempty" masq:"secret"`

	// UserAgent to present to the upstream server (optional).
	UserAgent string `gorm:"size:512" json:"user_agent,omitempty"`

	// Headers stores extra upstream request headers as a JSON object.
	Headers string `gorm:"type:text" json:"headers,omitempty"`

	// Enabled indicates whether this stream may be used for playback.
	Enabled *bool `gorm:"default:true" json:"enabled"`

	// Priority orders streams within a channel. Lower values are tried first.
	Priority int `gorm:"default:0" json:"priority"`

	// LastMethod records the streaming method chosen by the most recent
	// analysis of this URL.
	LastMethod string `gorm:"size:40" json:"last_method,omitempty"`

	// LastComplexity records the complexity classification from the most
	// recent analysis.
	LastComplexity string `gorm:"size:20" json:"last_complexity,omitempty"`

	// LastAnalyzedAt is when this URL was last analyzed.
	LastAnalyzedAt *Time `json:"last_analyzed_at,omitempty"`

	// Channel is the relationship back to the owning Channel.
	Channel *Channel `gorm:"foreignKey:ChannelID" json:"channel,omitempty"`
}

// TableName returns the table name for Stream.
func (Stream) TableName() string {
	return "streams"
}

// HeaderMap decodes the Headers JSON object. Returns an empty map when no
// headers are set.
func (s *Stream) HeaderMap() (map[string]string, error) {
	if s.Headers == "" {
		return map[string]string{}, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s.Headers), &m); err != nil {
		return nil, err
	}
	return m, nil
}

// SetHeaderMap encodes headers into the Headers JSON column. A nil or empty
// map clears the column.
func (s *Stream) SetHeaderMap(headers map[string]string) error {
	if len(headers) == 0 {
		s.Headers = ""
		return nil
	}
	data, err := json.Marshal(headers)
	if err != nil {
		return err
	}
	s.Headers = string(data)
	return nil
}

// Validate performs basic validation on the stream.
func (s *Stream) Validate() error {
	if s.ChannelID.IsZero() {
		return ErrChannelIDRequired
	}
	if s.URL == "" {
		return ErrURLRequired
	}
	u, err := url.Parse(s.URL)
	if err != nil || u.Scheme == "" {
		return ErrInvalidURL
	}
	if !ValidProtocol(s.Protocol) {
		return ErrInvalidProtocol
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the stream and generates ULID.
func (s *Stream) BeforeCreate(tx *gorm.DB) error {
	if err := s.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return s.Validate()
}

// BeforeUpdate is a GORM hook that validates full-model saves. Column-map
// updates carry no model state to validate.
func (s *Stream) BeforeUpdate(tx *gorm.DB) error {
	if _, ok := tx.Statement.Dest.(map[string]any); ok {
		return nil
	}
	return s.Validate()
}
