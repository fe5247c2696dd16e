package models

import (
	"net/url"
	"strings"

	"gorm.io/gorm"
)

// GuideSource represents an XMLTV guide feed that program data is
// imported from.
type GuideSource struct {
	BaseModel

	// Name is a user-friendly name for the source.
	// Must be unique across all guide sources.
	Name string `gorm:"uniqueIndex;not null;size:255" json:"name"`

	// URL is the XMLTV document URL. http, https and file schemes are
	// supported; gzip, bzip2 and xz compressed documents are handled
	// transparently.
	URL string `gorm:"not null;size:2048" json:"url"`

	// Username for HTTP basic auth when fetching the guide (optional).
	Username string `gorm:"size:255" json:"username,omitempty"`

	// Password for HTTP basic auth when fetching the guide (optional).
	Password string `gorm:"size:255" json:"password,omitempty" masq:"secret"`

	// UserAgent to use when fetching the source (optional).
	UserAgent string `gorm:"size:512" json:"user_agent,omitempty"`

	// CronSchedule for automatic refresh (optional).
	CronSchedule string `gorm:"size:100" json:"cron_schedule,omitempty"`

	// Priority determines the order when programmes from multiple guides
	// overlap on the same channel.
	Priority int `gorm:"default:0" json:"priority"`

	// Enabled indicates whether this source should be included in refresh runs.
	Enabled *bool `gorm:"default:true" json:"enabled"`

	// Status indicates the current refresh status.
	Status SourceStatus `gorm:"not null;default:'pending';size:20" json:"status"`

	// LastRefreshAt is the timestamp of the last successful refresh.
	LastRefreshAt *Time `json:"last_refresh_at,omitempty"`

	// LastError contains the error message from the last failed refresh.
	LastError string `gorm:"size:4096" json:"last_error,omitempty"`

	// ProgramCount is the number of programs from the last refresh.
	ProgramCount int `gorm:"default:0" json:"program_count"`

	// Programs is the relationship to programs from this source.
	Programs []GuideProgram `gorm:"foreignKey:SourceID;constraint:OnDelete:CASCADE" json:"programs,omitempty"`
}

// TableName returns the table name for GuideSource.
func (GuideSource) TableName() string {
	return "guide_sources"
}

// MarkRefreshing sets the source status to refreshing.
func (g *GuideSource) MarkRefreshing() {
	g.Status = SourceStatusRefreshing
	g.LastError = ""
}

// MarkSuccess sets the source status to success with the program count.
func (g *GuideSource) MarkSuccess(programCount int) {
	g.Status = SourceStatusSuccess
	now := Now()
	g.LastRefreshAt = &now
	g.ProgramCount = programCount
	g.LastError = ""
}

// MarkFailed sets the source status to failed with an error message.
func (g *GuideSource) MarkFailed(err error) {
	g.Status = SourceStatusFailed
	if err != nil {
		g.LastError = err.Error()
	}
}

// Validate performs basic validation on the source.
func (g *GuideSource) Validate() error {
	g.Name = strings.TrimSpace(g.Name)
	g.URL = strings.TrimSpace(g.URL)
	g.Username = strings.TrimSpace(g.Username)
	g.Password = strings.TrimSpace(g.Password)
	g.UserAgent = strings.TrimSpace(g.UserAgent)

	if g.Name == "" {
		return ErrNameRequired
	}
	if g.URL == "" {
		return ErrURLRequired
	}
	u, err := url.Parse(g.URL)
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
func (g *GuideSource) BeforeCreate(tx *gorm.DB) error {
	if err := g.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return g.Validate()
}

// BeforeUpdate is a GORM hook that validates the source before update.
func (g *GuideSource) BeforeUpdate(tx *gorm.DB) error {
	return g.Validate()
}
