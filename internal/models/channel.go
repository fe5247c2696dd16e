package models

import (
	"gorm.io/gorm"
)

// Channel represents a single tuner lineup entry. A channel owns one or
// more streams; playback uses the highest-priority enabled stream.
type Channel struct {
	BaseModel

	// SourceID is the foreign key to the parent StreamSource.
	SourceID ULID `gorm:"type:varchar(26);not null;index;uniqueIndex:idx_channel_source_ext" json:"source_id"`

	// ExtID is an external identifier used for deduplication within a source.
	// Derived from tvg-id or the primary stream URL during import.
	ExtID string `gorm:"size:255;uniqueIndex:idx_channel_source_ext" json:"ext_id"`

	// Number is the guide number presented in the tuner lineup.
	Number int `gorm:"not null;index" json:"number"`

	// Name is the guide name presented in the tuner lineup.
	Name string `gorm:"not null;size:512" json:"name"`

	// EpgID is the guide channel identifier for matching with program data.
	EpgID string `gorm:"size:255;index" json:"epg_id,omitempty"`

	// LogoURL is the URL to the channel logo.
	LogoURL string `gorm:"size:2048" json:"logo_url,omitempty"`

	// GroupTitle is the category/group from the playlist group-title attribute.
	GroupTitle string `gorm:"size:255;index" json:"group_title,omitempty"`

	// Enabled indicates whether this channel appears in the lineup.
	Enabled *bool `gorm:"default:true" json:"enabled"`

	// Source is the relationship back to the parent StreamSource.
	Source *StreamSource `gorm:"foreignKey:SourceID" json:"source,omitempty"`

	// Streams is the relationship to the streams backing this channel.
	Streams []Stream `gorm:"foreignKey:ChannelID;constraint:OnDelete:CASCADE" json:"streams,omitempty"`
}

// TableName returns the table name for Channel.
func (Channel) TableName() string {
	return "channels"
}

// Validate performs basic validation on the channel.
func (c *Channel) Validate() error {
	if c.SourceID.IsZero() {
		return ErrSourceIDRequired
	}
	if c.Name == "" {
		return ErrNameRequired
	}
	if c.Number < 1 || c.Number > 9999 {
		return ErrChannelNumberRange
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the channel and generates ULID.
func (c *Channel) BeforeCreate(tx *gorm.DB) error {
	if err := c.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	// A channel created outside an import has no provider identifier.
	// Its own id keeps the per-source dedup index satisfied.
	if c.ExtID == "" {
		c.ExtID = c.ID.String()
	}
	return c.Validate()
}

// BeforeUpdate is a GORM hook that validates the channel before update.
func (c *Channel) BeforeUpdate(tx *gorm.DB) error {
	return c.Validate()
}
