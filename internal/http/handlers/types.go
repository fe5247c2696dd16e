// Package handlers implements the typed admin and monitor API.
package handlers

import (
	"strings"
	"time"

	"github.com/jmylchreest/tunerr/internal/models"
)

// StreamSourceResponse is the API shape of a playlist source. The password
// never leaves the server.
type StreamSourceResponse struct {
	ID            models.ULID         `json:"id"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
	Name          string              `json:"name"`
	URL           string              `json:"url"`
	Username      string              `json:"username,omitempty"`
	UserAgent     string              `json:"user_agent,omitempty"`
	CronSchedule  string              `json:"cron_schedule,omitempty"`
	Enabled       bool                `json:"enabled"`
	Priority      int                 `json:"priority"`
	Status        models.SourceStatus `json:"status"`
	LastRefreshAt *models.Time        `json:"last_refresh_at,omitempty"`
	LastError     string              `json:"last_error,omitempty"`
	ChannelCount  int                 `json:"channel_count"`
	Refreshing    bool                `json:"refreshing"`
}

// StreamSourceFromModel converts a model to a response.
func StreamSourceFromModel(s *models.StreamSource, refreshing bool) StreamSourceResponse {
	return StreamSourceResponse{
		ID:            s.ID,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
		Name:          s.Name,
		URL:           s.URL,
		Username:      s.Username,
		UserAgent:     s.UserAgent,
		CronSchedule:  s.CronSchedule,
		Enabled:       models.BoolVal(s.Enabled),
		Priority:      s.Priority,
		Status:        s.Status,
		LastRefreshAt: s.LastRefreshAt,
		LastError:     s.LastError,
		ChannelCount:  s.ChannelCount,
		Refreshing:    refreshing,
	}
}

// CreateStreamSourceRequest is the request body for creating a source.
type CreateStreamSourceRequest struct {
	Name         string `json:"name" minLength:"1" maxLength:"255" doc:"Unique source name"`
	URL          string `json:"url" minLength:"1" maxLength:"2048" doc:"Playlist URL (http, https or file)"`
	Username     string `json:"username,omitempty" maxLength:"255"`
	Password     string `json:"password,omitempty" maxLength:"255"`
	UserAgent    string `json:"user_agent,omitempty" maxLength:"512"`
	CronSchedule string `json:"cron_schedule,omitempty" maxLength:"100" doc:"Five-field cron expression for automatic refresh"`
	Enabled      *bool  `json:"enabled,omitempty"`
	Priority     int    `json:"priority,omitempty"`
}

// ToModel converts the request to a model.
func (r *CreateStreamSourceRequest) ToModel() *models.StreamSource {
	enabled := true
	if r.Enabled != nil {
		enabled = *r.Enabled
	}
	return &models.StreamSource{
		Name:         r.Name,
		URL:          r.URL,
		Username:     r.Username,
		Password:     r.Password,
		UserAgent:    r.UserAgent,
		CronSchedule: r.CronSchedule,
		Enabled:      models.BoolPtr(enabled),
		Priority:     r.Priority,
	}
}

// UpdateStreamSourceRequest carries partial updates; nil fields are left
// unchanged. An explicit empty string clears the field.
type UpdateStreamSourceRequest struct {
	Name         *string `json:"name,omitempty" maxLength:"255"`
	URL          *string `json:"url,omitempty" maxLength:"2048"`
	Username     *string `json:"username,omitempty" maxLength:"255"`
	Password     *string `json:"password,omitempty" maxLength:"255"`
	UserAgent    *string `json:"user_agent,omitempty" maxLength:"512"`
	CronSchedule *string `json:"cron_schedule,omitempty" maxLength:"100"`
	Enabled      *bool   `json:"enabled,omitempty"`
	Priority     *int    `json:"priority,omitempty"`
}

// ApplyToModel applies the non-nil fields onto the model.
func (r *UpdateStreamSourceRequest) ApplyToModel(s *models.StreamSource) {
	if r.Name != nil {
		s.Name = *r.Name
	}
	if r.URL != nil {
		s.URL = *r.URL
	}
	if r.Username != nil {
		s.Username = *r.Username
	}
	if r.Password != nil {
		s.Password = *r.Password
	}
	if r.UserAgent != nil {
		s.UserAgent = *r.UserAgent
	}
	if r.CronSchedule != nil {
		s.CronSchedule = *r.CronSchedule
	}
	if r.Enabled != nil {
		s.Enabled = models.BoolPtr(*r.Enabled)
	}
	if r.Priority != nil {
		s.Priority = *r.Priority
	}
}

// GuideSourceResponse is the API shape of an XMLTV source.
type GuideSourceResponse struct {
	ID            models.ULID         `json:"id"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
	Name          string              `json:"name"`
	URL           string              `json:"url"`
	Username      string              `json:"username,omitempty"`
	UserAgent     string              `json:"user_agent,omitempty"`
	CronSchedule  string              `json:"cron_schedule,omitempty"`
	Enabled       bool                `json:"enabled"`
	Priority      int                 `json:"priority"`
	Status        models.SourceStatus `json:"status"`
	LastRefreshAt *models.Time        `json:"last_refresh_at,omitempty"`
	LastError     string              `json:"last_error,omitempty"`
	ProgramCount  int                 `json:"program_count"`
	Refreshing    bool                `json:"refreshing"`
}

// GuideSourceFromModel converts a model to a response.
func GuideSourceFromModel(s *models.GuideSource, refreshing bool) GuideSourceResponse {
	return GuideSourceResponse{
		ID:            s.ID,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
		Name:          s.Name,
		URL:           s.URL,
		Username:      s.Username,
		UserAgent:     s.UserAgent,
		CronSchedule:  s.CronSchedule,
		Enabled:       models.BoolVal(s.Enabled),
		Priority:      s.Priority,
		Status:        s.Status,
		LastRefreshAt: s.LastRefreshAt,
		LastError:     s.LastError,
		ProgramCount:  s.ProgramCount,
		Refreshing:    refreshing,
	}
}

// CreateGuideSourceRequest is the request body for creating a guide source.
type CreateGuideSourceRequest struct {
	Name         string `json:"name" minLength:"1" maxLength:"255"`
	URL          string `json:"url" minLength:"1" maxLength:"2048" doc:"XMLTV URL (http, https or file; gz/bz2/xz accepted)"`
	Username     string `json:"username,omitempty" maxLength:"255"`
	Password     string `json:"password,omitempty" maxLength:"255"`
	UserAgent    string `json:"user_agent,omitempty" maxLength:"512"`
	CronSchedule string `json:"cron_schedule,omitempty" maxLength:"100"`
	Enabled      *bool  `json:"enabled,omitempty"`
	Priority     int    `json:"priority,omitempty"`
}

// ToModel converts the request to a model.
func (r *CreateGuideSourceRequest) ToModel() *models.GuideSource {
	enabled := true
	if r.Enabled != nil {
		enabled = *r.Enabled
	}
	return &models.GuideSource{
		Name:         r.Name,
		URL:          r.URL,
		Username:     r.Username,
		Password:     r.Password,
		UserAgent:    r.UserAgent,
		CronSchedule: r.CronSchedule,
		Enabled:      models.BoolPtr(enabled),
		Priority:     r.Priority,
	}
}

// UpdateGuideSourceRequest carries partial updates for a guide source.
type UpdateGuideSourceRequest struct {
	Name         *string `json:"name,omitempty" maxLength:"255"`
	URL          *string `json:"url,omitempty" maxLength:"2048"`
	Username     *string `json:"username,omitempty" maxLength:"255"`
	Password     *string `json:"password,omitempty" maxLength:"255"`
	UserAgent    *string `json:"user_agent,omitempty" maxLength:"512"`
	CronSchedule *string `json:"cron_schedule,omitempty" maxLength:"100"`
	Enabled      *bool   `json:"enabled,omitempty"`
	Priority     *int    `json:"priority,omitempty"`
}

// ApplyToModel applies the non-nil fields onto the model.
func (r *UpdateGuideSourceRequest) ApplyToModel(s *models.GuideSource) {
	if r.Name != nil {
		s.Name = *r.Name
	}
	if r.URL != nil {
		s.URL = *r.URL
	}
	if r.Username != nil {
		s.Username = *r.Username
	}
	if r.Password != nil {
		s.Password = *r.Password
	}
	if r.UserAgent != nil {
		s.UserAgent = *r.UserAgent
	}
	if r.CronSchedule != nil {
		s.CronSchedule = *r.CronSchedule
	}
	if r.Enabled != nil {
		s.Enabled = models.BoolPtr(*r.Enabled)
	}
	if r.Priority != nil {
		s.Priority = *r.Priority
	}
}

// StreamResponse is the API shape of a channel's backing stream.
type StreamResponse struct {
	ID             models.ULID           `json:"id"`
	URL            string                `json:"url"`
	Protocol       models.StreamProtocol `json:"protocol,omitempty"`
	UserAgent      string                `json:"user_agent,omitempty"`
	Enabled        bool                  `json:"enabled"`
	Priority       int                   `json:"priority"`
	LastMethod     string                `json:"last_method,omitempty"`
	LastComplexity string                `json:"last_complexity,omitempty"`
	LastAnalyzedAt *time.Time            `json:"last_analyzed_at,omitempty"`
}

// StreamFromModel converts a model to a response.
func StreamFromModel(s *models.Stream) StreamResponse {
	return StreamResponse{
		ID:             s.ID,
		URL:            s.URL,
		Protocol:       s.Protocol,
		UserAgent:      s.UserAgent,
		Enabled:        models.BoolVal(s.Enabled),
		Priority:       s.Priority,
		LastMethod:     s.LastMethod,
		LastComplexity: s.LastComplexity,
		LastAnalyzedAt: s.LastAnalyzedAt,
	}
}

// ChannelResponse is the API shape of a channel.
type ChannelResponse struct {
	ID         models.ULID      `json:"id"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
	SourceID   models.ULID      `json:"source_id"`
	ExtID      string           `json:"ext_id"`
	Number     int              `json:"number"`
	Name       string           `json:"name"`
	EpgID      string           `json:"epg_id,omitempty"`
	LogoURL    string           `json:"logo_url,omitempty"`
	GroupTitle string           `json:"group_title,omitempty"`
	Enabled    bool             `json:"enabled"`
	Streams    []StreamResponse `json:"streams,omitempty"`
}

// ChannelFromModel converts a model to a response, including streams when
// they are loaded.
func ChannelFromModel(c *models.Channel) ChannelResponse {
	resp := ChannelResponse{
		ID:         c.ID,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
		SourceID:   c.SourceID,
		ExtID:      c.ExtID,
		Number:     c.Number,
		Name:       c.Name,
		EpgID:      c.EpgID,
		LogoURL:    c.LogoURL,
		GroupTitle: c.GroupTitle,
		Enabled:    models.BoolVal(c.Enabled),
	}
	for i := range c.Streams {
		resp.Streams = append(resp.Streams, StreamFromModel(&c.Streams[i]))
	}
	return resp
}

// UpdateChannelRequest carries the curatable channel fields. Imports never
// touch number and enabled once an operator has set them.
type UpdateChannelRequest struct {
	Number  *int    `json:"number,omitempty" minimum:"1" maximum:"9999"`
	Name    *string `json:"name,omitempty" maxLength:"512"`
	EpgID   *string `json:"epg_id,omitempty" maxLength:"255"`
	LogoURL *string `json:"logo_url,omitempty" maxLength:"2048"`
	Enabled *bool   `json:"enabled,omitempty"`
}

// ApplyToModel applies the non-nil fields onto the model.
func (r *UpdateChannelRequest) ApplyToModel(c *models.Channel) {
	if r.Number != nil {
		c.Number = *r.Number
	}
	if r.Name != nil {
		c.Name = *r.Name
	}
	if r.EpgID != nil {
		c.EpgID = *r.EpgID
	}
	if r.LogoURL != nil {
		c.LogoURL = *r.LogoURL
	}
	if r.Enabled != nil {
		c.Enabled = models.BoolPtr(*r.Enabled)
	}
}

// isUniqueViolation reports whether err looks like a unique-constraint
// failure on any of the supported drivers.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "Duplicate entry")
}
