// Package duration parses and formats human-readable durations.
// It extends Go's standard duration syntax with days, weeks, months,
// and years, and accepts full-word units with optional whitespace:
// "90m", "1w2d12h", "30 days", and "1.5 hours" are all valid.
package duration

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// Day represents 24 hours.
	Day = 24 * time.Hour
	// Week represents 7 days.
	Week = 7 * Day
	// Month represents 30 days (approximate).
	Month = 30 * Day
	// Year represents 365 days (approximate).
	Year = 365 * Day
)

// units maps every accepted unit spelling to its duration.
var units = map[string]time.Duration{
	"ns": time.Nanosecond, "nanosecond": time.Nanosecond, "nanoseconds": time.Nanosecond,
	"us": time.Microsecond, "µs": time.Microsecond, "μs": time.Microsecond,
	"microsecond": time.Microsecond, "microseconds": time.Microsecond,
	"ms": time.Millisecond, "millisecond": time.Millisecond, "milliseconds": time.Millisecond,
	"s": time.Second, "sec": time.Second, "secs": time.Second,
	"second": time.Second, "seconds": time.Second,
	"m": time.Minute, "min": time.Minute, "mins": time.Minute,
	"minute": time.Minute, "minutes": time.Minute,
	"h": time.Hour, "hr": time.Hour, "hrs": time.Hour,
	"hour": time.Hour, "hours": time.Hour,
	"d": Day, "day": Day, "days": Day,
	"w": Week, "wk": Week, "wks": Week, "week": Week, "weeks": Week,
	"mo": Month, "mos": Month, "month": Month, "months": Month,
	"y": Year, "yr": Year, "yrs": Year, "year": Year, "years": Year,
}

// tokenPattern matches one number-unit pair. Whitespace between the
// number and its unit is optional.
var tokenPattern = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)\s*([a-zµμ]+)`)

// Parse parses a human-readable duration string. Beyond the standard
// Go units it understands d (days), w (weeks), mo (months), and
// y (years), in short or full-word spellings, case-insensitively.
func Parse(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("duration: empty string")
	}

	s = strings.TrimSpace(s)
	negative := strings.HasPrefix(s, "-")
	if negative {
		s = strings.TrimSpace(strings.TrimPrefix(s, "-"))
	}

	if s == "0" {
		return 0, nil
	}

	lower := strings.ToLower(s)
	var total time.Duration
	last := 0
	matched := false
	for _, idx := range tokenPattern.FindAllStringSubmatchIndex(lower, -1) {
		if strings.TrimSpace(lower[last:idx[0]]) != "" {
			return 0, fmt.Errorf("duration: invalid format %q", s)
		}
		last = idx[1]
		matched = true

		value, err := strconv.ParseFloat(lower[idx[2]:idx[3]], 64)
		if err != nil {
			return 0, fmt.Errorf("duration: invalid number in %q: %w", s, err)
		}
		unit, ok := units[lower[idx[4]:idx[5]]]
		if !ok {
			return 0, fmt.Errorf("duration: unknown unit %q", lower[idx[4]:idx[5]])
		}
		total += time.Duration(value * float64(unit))
	}
	if !matched || strings.TrimSpace(lower[last:]) != "" {
		return 0, fmt.Errorf("duration: invalid format %q", s)
	}

	if negative {
		total = -total
	}
	return total, nil
}

// MustParse is like Parse but panics if the string cannot be parsed.
// Use only for compile-time constants.
func MustParse(s string) time.Duration {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// formatSteps orders units for Format, largest first.
var formatSteps = []struct {
	unit time.Duration
	name string
}{
	{Year, "y"},
	{Month, "mo"},
	{Week, "w"},
	{Day, "d"},
	{time.Hour, "h"},
	{time.Minute, "m"},
	{time.Second, "s"},
	{time.Millisecond, "ms"},
	{time.Microsecond, "µs"},
	{time.Nanosecond, "ns"},
}

// Format converts a duration to a compact human-readable string using
// the largest fitting units: 90*time.Minute becomes "1h30m". Zero
// components are omitted.
func Format(d time.Duration) string {
	if d == 0 {
		return "0s"
	}

	negative := d < 0
	if negative {
		d = -d
	}

	var sb strings.Builder
	for _, step := range formatSteps {
		if d < step.unit {
			continue
		}
		n := d / step.unit
		d -= n * step.unit
		fmt.Fprintf(&sb, "%d%s", n, step.name)
	}

	if negative {
		return "-" + sb.String()
	}
	return sb.String()
}
