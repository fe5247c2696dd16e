package models

import (
	"net/url"
	"strings"

	"gorm.io/gorm"
)

// SourceStatus represents the current refresh status of a source.
type SourceStatus string

const (
	// SourceStatusPending indicates the source has not been refreshed yet.
	SourceStatusPending SourceStatus = "pending"
	// SourceStatusRefreshing indicates a refresh is in progress.
	SourceStatusRefreshing SourceStatus = "refreshing"
	// SourceStatusSuccess indicates the last refresh was successful.
	SourceStatusSuccess SourceStatus = "success"
	// SourceStatusFailed indicates the last refresh failed.
	SourceStatusFailed SourceStatus = "failed"
)

// StreamSource represents an upstream M3U playlist that channels are
// imported from.
type StreamSource struct {
	BaseModel

	// Name is a user-friendly name for the source.
	// Must be unique across all stream sources.
	Name string `gorm:"uniqueIndex;not null;size:255" json:"name"`

	// URL is the playlist URL. http, https and file schemes are supported.
	URL string `gorm:"not null;size:2048" json:"url"`

	// Username for HTTP basic auth when fetching the playlist (optional).
	Username string `gorm:"size:255" json:"username,omitempty"`

	// Password for HTTP basic auth when fetching the playlist (optional).
	Password string `gorm:"size:255" json:"password,omitempty" masq:"secret"`

	// UserAgent to use when fetching the source (optional).
	UserAgent string `gorm:"size:512" json:"user_agent,omitempty"`

	// CronSchedule for automatic refresh (optional).
	// Uses standard cron format: "0 */6 * * *" for every 6 hours.
	CronSchedule string `gorm:"size:100" json:"cron_schedule,omitempty"`

	// Enabled indicates whether this source should be included in refresh runs.
	// Using pointer to distinguish between "not set" (nil->default true) and "explicitly false".
	Enabled *bool `gorm:"default:true" json:"enabled"`

	// Priority determines the order when merging channels from multiple sources.
	// Higher priority sources win channel number conflicts.
	Priority int `gorm:"default:0" json:"priority"`

	// Status indicates the current refresh status.
	Status SourceStatus `gorm:"not null;default:'pending';size:20" json:"status"`

	// LastRefreshAt is the timestamp of the last successful refresh.
	LastRefreshAt *Time `json:"last_refresh_at,omitempty"`

	// LastError contains the error message from the last failed refresh.
	LastError string `gorm:"size:4096" json:"last_error,omitempty"`

	// ChannelCount is the number of channels from the last refresh.
	ChannelCount int `gorm:"default:0" json:"channel_count"`

	// Channels is the relationship to channels from this source.
	Channels []Channel `gorm:"foreignKey:SourceID;constraint:OnDelete:CASCADE" json:"channels,omitempty"`
}

// TableName returns the table name for StreamSource.
func (StreamSource) TableName() string {
	return "stream_sources"
}

// MarkRefreshing sets the source status to refreshing.
func (s *StreamSource) MarkRefreshing() {
	s.Status = SourceStatusRefreshing
	s.LastError = ""
}

// MarkSuccess sets the source status to success with the channel count.
func (s *StreamSource) MarkSuccess(channelCount int) {
	s.Status = SourceStatusSuccess
	now := Now()
	s.LastRefreshAt = &now
	s.ChannelCount = channelCount
	s.LastError = ""
}

// MarkFailed sets the source status to failed with an error message.
func (s *StreamSource) MarkFailed(err error) {
	s.Status = SourceStatusFailed
	if err != nil {
		s.LastError = err.Error()
	}
}

// Sanitize trims whitespace from user-provided fields.
func (s *StreamSource) Sanitize() {
	s.Name = strings.TrimSpace(s.Name)
	s.URL = strings.TrimSpace(s.URL)
	s.Username = strings.TrimSpace(s.Username)
	s.Password = strings.TrimSpace(s.Password)
	s.UserAgent = strings.TrimSpace(s.UserAgent)
}

// Validate performs basic validation on the source.
func (s *StreamSource) Validate() error {
	s.Sanitize()

	if s.Name == "" {
		return ErrNameRequired
	}
	if s.URL == "" {
		return ErrURLRequired
	}
	u, err := url.Parse(s.URL)
	if err != nil {
		return ErrInvalidURL
	}
	switch u.Scheme {
	case "http", "https", "file":
	default:
		return ErrInvalidURL
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the source and generates ULID.
func (s *StreamSource) BeforeCreate(tx *gorm.DB) error {
	if err := s.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return s.Validate()
}

// BeforeUpdate is a GORM hook that validates the source before update.
func (s *StreamSource) BeforeUpdate(tx *gorm.DB) error {
	return s.Validate()
}
