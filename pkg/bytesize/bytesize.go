// Package bytesize provides human-readable byte size parsing and
// formatting. Units are binary: 1KB is 1024 bytes, and the explicit
// KiB/MiB/GiB spellings are accepted as synonyms.
package bytesize

import (
	"fmt"
	"strconv"
	"strings"
)

// Size represents a byte count.
type Size int64

// Binary size constants.
const (
	B  Size = 1
	KB Size = 1024
	MB Size = 1024 * KB
	GB Size = 1024 * MB
	TB Size = 1024 * GB
	PB Size = 1024 * TB
)

// multipliers maps accepted unit spellings (lowercased) to sizes.
var multipliers = map[string]Size{
	"": B, "b": B, "byte": B, "bytes": B,
	"k": KB, "kb": KB, "kib": KB,
	"m": MB, "mb": MB, "mib": MB,
	"g": GB, "gb": GB, "gib": GB,
	"t": TB, "tb": TB, "tib": TB,
	"p": PB, "pb": PB, "pib": PB,
}

// Parse parses a human-readable byte size such as "5MB", "1.5 GB", or
// "1024". Units are case-insensitive; a bare number means bytes.
func Parse(s string) (Size, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, fmt.Errorf("bytesize: empty string")
	}

	split := len(trimmed)
	for i, r := range trimmed {
		if (r < '0' || r > '9') && r != '.' {
			split = i
			break
		}
	}

	valueStr := trimmed[:split]
	if valueStr == "" {
		return 0, fmt.Errorf("bytesize: invalid format %q", s)
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("bytesize: invalid number %q: %w", valueStr, err)
	}

	unitStr := strings.TrimSpace(trimmed[split:])
	multiplier, ok := multipliers[strings.ToLower(unitStr)]
	if !ok {
		return 0, fmt.Errorf("bytesize: unknown unit %q", unitStr)
	}

	return Size(value * float64(multiplier)), nil
}

// MustParse is like Parse but panics if the string cannot be parsed.
// Use only for compile-time constants.
func MustParse(s string) Size {
	size, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return size
}

// formatUnits orders units for Format, largest first.
var formatUnits = []struct {
	size Size
	name string
}{
	{PB, "PB"},
	{TB, "TB"},
	{GB, "GB"},
	{MB, "MB"},
	{KB, "KB"},
}

// Format renders a size using the largest unit that keeps the value at
// or above 1, trimming trailing zeros: 1536 becomes "1.5KB".
func Format(s Size) string {
	negative := s < 0
	if negative {
		s = -s
	}

	out := fmt.Sprintf("%dB", s)
	for _, u := range formatUnits {
		if s >= u.size {
			out = trimZeros(fmt.Sprintf("%.2f", float64(s)/float64(u.size))) + u.name
			break
		}
	}

	if negative {
		return "-" + out
	}
	return out
}

func trimZeros(s string) string {
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}

// Bytes returns the size in bytes as int64.
func (s Size) Bytes() int64 {
	return int64(s)
}

// String returns a human-readable representation.
func (s Size) String() string {
	return Format(s)
}
