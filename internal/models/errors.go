package models

import "errors"

// Common validation errors for models.
var (
	// ErrNameRequired indicates a required name field is empty.
	ErrNameRequired = errors.New("name is required")

	// ErrURLRequired indicates a required URL field is empty.
	ErrURLRequired = errors.New("url is required")

	// ErrInvalidURL indicates a malformed or unsupported URL.
	ErrInvalidURL = errors.New("invalid URL format")

	// ErrSourceIDRequired indicates a required source ID field is zero.
	ErrSourceIDRequired = errors.New("source_id is required")

	// ErrChannelIDRequired indicates a required channel ID field is zero.
	ErrChannelIDRequired = errors.New("channel_id is required")

	// ErrChannelNumberRange indicates a channel number outside the 1-9999 range.
	ErrChannelNumberRange = errors.New("channel number must be between 1 and 9999")

	// ErrInvalidProtocol indicates an unknown stream protocol hint.
	ErrInvalidProtocol = errors.New("invalid stream protocol")

	// ErrEpgChannelRequired indicates a guide entry without a channel identifier.
	ErrEpgChannelRequired = errors.New("epg_channel_id is required")

	// ErrTitleRequired indicates a required title field is empty.
	ErrTitleRequired = errors.New("title is required")

	// ErrProgramWindow indicates a guide entry whose stop time is not after its start.
	ErrProgramWindow = errors.New("program stop must be after start")

	// ErrSettingKeyRequired indicates a setting without a key.
	ErrSettingKeyRequired = errors.New("setting key is required")
)
