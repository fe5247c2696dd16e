package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmylchreest/tunerr/pkg/duration"
)

// Duration is a time.Duration that additionally parses day and week
// units, so retention windows read naturally in config: "7d", "2w",
// "1w12h". Standard Go forms like "720h" still parse. Viper and YAML
// pick it up through encoding.TextUnmarshaler; JSON config files go
// through json.Unmarshaler so nanosecond numbers keep working.
type Duration time.Duration

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// String renders weeks and days explicitly, falling back to the
// standard Go format for anything under a day.
func (d Duration) String() string {
	dur := time.Duration(d)
	if dur == 0 {
		return "0s"
	}

	negative := dur < 0
	if negative {
		dur = -dur
	}

	const day = 24 * time.Hour
	weeks := dur / (7 * day)
	dur -= weeks * 7 * day
	days := dur / day
	dur -= days * day

	if weeks == 0 && days == 0 {
		return time.Duration(d).String()
	}

	var out string
	if weeks > 0 {
		out = fmt.Sprintf("%dw", weeks)
	}
	if days > 0 {
		out += fmt.Sprintf("%dd", days)
	}
	if dur > 0 {
		out += dur.String()
	}
	if negative {
		out = "-" + out
	}
	return out
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := duration.Parse(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalJSON accepts either a duration string or nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return d.UnmarshalText([]byte(s))
	}
	var ns int64
	if err := json.Unmarshal(data, &ns); err != nil {
		return err
	}
	*d = Duration(ns)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}
