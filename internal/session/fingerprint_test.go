package session

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "socket peer",
			remoteAddr: "192.168.1.50:34022",
			want:       "192.168.1.50",
		},
		{
			name:       "forwarded chain wins over peer",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"},
			want:       "203.0.113.9",
		},
		{
			name:       "real ip fallback",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Real-Ip": "198.51.100.4"},
			want:       "198.51.100.4",
		},
		{
			name:       "peer without port",
			remoteAddr: "192.168.1.50",
			want:       "192.168.1.50",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/stream/ch-1", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(r))
		})
	}
}

func TestFingerprintFrom(t *testing.T) {
	a := FingerprintFrom("192.168.1.50", "Plex/4.29")
	b := FingerprintFrom("192.168.1.50", "Plex/4.29")
	c := FingerprintFrom("192.168.1.51", "Plex/4.29")
	d := FingerprintFrom("192.168.1.50", "VLC/3.0")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
	assert.Len(t, string(a), 16)
}

func TestFingerprintRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/stream/ch-1", nil)
	r.RemoteAddr = "192.168.1.50:34022"
	r.Header.Set("User-Agent", "Plex/4.29")

	assert.Equal(t, FingerprintFrom("192.168.1.50", "Plex/4.29"), FingerprintRequest(r))
}

func TestIsAndroidTV(t *testing.T) {
	tests := []struct {
		ua   string
		want bool
	}{
		{"Mozilla/5.0 (Linux; Android 9; SHIELD Android TV Build/PPR1)", true},
		{"Plex for Android (TV)/10.19.0", true},
		{"AndroidTV/9 ExoPlayerLib/2.18.1", true},
		{"Mozilla/5.0 (Linux; Android 10; BRAVIA 4K VH2)", true},
		{"Dalvik/2.1.0 (Linux; U; Android 9; AFTMM Build) FireTV", true},
		{"Plex/4.29 (Windows 10)", false},
		{"Mozilla/5.0 (iPhone; CPU iPhone OS 16_0)", false},
		{"Dalvik/2.1.0 (Linux; U; Android 13; Pixel 7)", false},
		{"VLC/3.0.18 LibVLC/3.0.18", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.ua, func(t *testing.T) {
			assert.Equal(t, tt.want, IsAndroidTV(tt.ua))
		})
	}
}
