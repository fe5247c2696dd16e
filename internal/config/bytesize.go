package config

import (
	"encoding/json"

	"github.com/jmylchreest/tunerr/pkg/bytesize"
)

// ByteSize is a byte count that parses human-friendly size strings in
// config files and environment variables: "256KB", "1.5 GB", or a bare
// number of bytes. Viper and YAML pick it up through
// encoding.TextUnmarshaler; JSON config files go through
// json.Unmarshaler so numeric values keep working.
type ByteSize int64

// Bytes returns the size as a plain int64 byte count.
func (b ByteSize) Bytes() int64 { return int64(b) }

// String renders the size with the largest unit that divides it cleanly.
func (b ByteSize) String() string {
	return bytesize.Format(bytesize.Size(b))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *ByteSize) UnmarshalText(text []byte) error {
	size, err := bytesize.Parse(string(text))
	if err != nil {
		return err
	}
	*b = ByteSize(size)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalJSON accepts either a size string or a raw byte count.
func (b *ByteSize) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return b.UnmarshalText([]byte(s))
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*b = ByteSize(n)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (b ByteSize) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}
