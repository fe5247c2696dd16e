package models

import (
	"time"

	"gorm.io/gorm"
)

// GuideProgram represents a single program entry from an XMLTV guide source.
type GuideProgram struct {
	BaseModel

	// SourceID is the foreign key to the parent GuideSource.
	SourceID ULID `gorm:"type:varchar(26);not null;uniqueIndex:idx_guide_program_unique" json:"source_id"`

	// ChannelEpgID is the guide channel identifier (matches Channel.EpgID).
	ChannelEpgID string `gorm:"not null;size:255;uniqueIndex:idx_guide_program_unique;index:idx_guide_channel_time" json:"channel_epg_id"`

	// Start is the program start time.
	Start time.Time `gorm:"not null;uniqueIndex:idx_guide_program_unique;index:idx_guide_channel_time" json:"start"`

	// Stop is the program end time.
	Stop time.Time `gorm:"not null;index" json:"stop"`

	// Title is the program title.
	Title string `gorm:"not null;size:512" json:"title"`

	// SubTitle is the episode title or subtitle.
	SubTitle string `gorm:"size:512" json:"sub_title,omitempty"`

	// Description is the full program description.
	Description string `gorm:"type:text" json:"description,omitempty"`

	// Category is the program genre/category.
	Category string `gorm:"size:255" json:"category,omitempty"`

	// Icon is the URL to a program image.
	Icon string `gorm:"size:2048" json:"icon,omitempty"`

	// EpisodeNum is the episode number in its original format (e.g. "S01E05").
	EpisodeNum string `gorm:"size:100" json:"episode_num,omitempty"`

	// Rating is the content rating (e.g. "TV-14").
	Rating string `gorm:"size:50" json:"rating,omitempty"`
}

// TableName returns the table name for GuideProgram.
func (GuideProgram) TableName() string {
	return "guide_programs"
}

// Active reports whether the program is airing at the given time.
func (p *GuideProgram) Active(at time.Time) bool {
	return !at.Before(p.Start) && at.Before(p.Stop)
}

// Validate performs basic validation on the program.
func (p *GuideProgram) Validate() error {
	if p.SourceID.IsZero() {
		return ErrSourceIDRequired
	}
	if p.ChannelEpgID == "" {
		return ErrEpgChannelRequired
	}
	if p.Title == "" {
		return ErrTitleRequired
	}
	if !p.Stop.After(p.Start) {
		return ErrProgramWindow
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the program and generates ULID.
func (p *GuideProgram) BeforeCreate(tx *gorm.DB) error {
	if err := p.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return p.Validate()
}
