package models

import "time"

// Well-known setting keys.
const (
	// SettingAdvertisedHost overrides the host (and optional port) that
	// discovery responses and lineup URLs advertise. Takes precedence over
	// the TUNERR_SERVER_ADVERTISED_HOST environment variable and the
	// config file.
	SettingAdvertisedHost = "server.advertised_host"

	// SettingFriendlyName overrides the device name shown to clients.
	SettingFriendlyName = "discovery.friendly_name"

	// SettingTunerCount overrides the advertised tuner count.
	SettingTunerCount = "discovery.tuner_count"
)

// Setting is a single runtime-editable key/value pair. Settings take
// precedence over environment variables and the config file for the keys
// that support runtime override.
type Setting struct {
	Key       string    `gorm:"primarykey;size:255" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for Setting.
func (Setting) TableName() string {
	return "settings"
}

// Validate performs basic validation on the setting.
func (s *Setting) Validate() error {
	if s.Key == "" {
		return ErrSettingKeyRequired
	}
	return nil
}
