package transcoder

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/tunerr/internal/analyzer"
	"github.com/jmylchreest/tunerr/internal/models"
)

// argAfter returns the argument following the first occurrence of flag, or
// "" when the flag is absent.
func argAfter(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func TestBuildArgs(t *testing.T) {
	tests := []struct {
		name        string
		url         string
		profile     analyzer.Profile
		opts        BuildOptions
		contains    []string
		notContains []string
	}{
		{
			name:    "plain http ts stream",
			url:     "http://example.com/live/ch1.ts",
			profile: analyzer.Profile{Kind: models.ProtocolTS},
			contains: []string{
				"-hide_banner -loglevel warning -nostats",
				"-i http://example.com/live/ch1.ts -c copy",
				"-f mpegts -mpegts_copyts 1 -avoid_negative_ts disabled",
				"-mpegts_start_pid 256 -mpegts_pmt_start_pid 4096",
				"-flush_packets 1 -muxdelay 0 pipe:1",
			},
			notContains: []string{"-reconnect", "-multiple_requests", "-rtsp_transport"},
		},
		{
			name: "cdn backed source keeps connections open",
			url:  "https://cdn.example.com/hls/ch1.m3u8",
			profile: analyzer.Profile{
				Kind:        models.ProtocolHLS,
				IsCDNBacked: true,
			},
			contains:    []string{"-multiple_requests 1"},
			notContains: []string{"-reconnect"},
		},
		{
			name: "complex playlist turns on reconnect",
			url:  "https://example.com/hls/ch1.m3u8",
			profile: analyzer.Profile{
				Kind:               models.ProtocolHLS,
				PlaylistComplexity: analyzer.ComplexityComplex,
			},
			contains: []string{"-reconnect 1 -reconnect_streamed 1 -reconnect_delay_max 5"},
		},
		{
			name: "reconnect delay respects the configured cap",
			url:  "https://example.com/hls/ch1.m3u8",
			profile: analyzer.Profile{
				Kind:               models.ProtocolHLS,
				PlaylistComplexity: analyzer.ComplexityComplex,
			},
			opts:     BuildOptions{ReconnectDelayMax: 8},
			contains: []string{"-reconnect_delay_max 8"},
		},
		{
			name: "token auth on complex playlist gets the minimal pipeline",
			url:  "https://example.com/hls/ch1.m3u8?token=abc",
			profile: analyzer.Profile{
				Kind:               models.ProtocolHLS,
				HasTokenAuth:       true,
				IsCDNBacked:        true,
				PlaylistComplexity: analyzer.ComplexityComplex,
			},
			contains:    []string{"-i https://example.com/hls/ch1.m3u8?token=abc -c copy"},
			notContains: []string{"-reconnect", "-multiple_requests"},
		},
		{
			name: "token auth on a simple playlist keeps http flags",
			url:  "https://cdn.example.com/hls/ch1.m3u8?token=abc",
			profile: analyzer.Profile{
				Kind:         models.ProtocolHLS,
				HasTokenAuth: true,
				IsCDNBacked:  true,
			},
			contains: []string{"-multiple_requests 1"},
		},
		{
			name:        "rtsp forces tcp transport",
			url:         "rtsp://camera.local/stream1",
			profile:     analyzer.Profile{Kind: models.ProtocolRTSP},
			opts:        BuildOptions{UserAgent: "VLC/3.0"},
			contains:    []string{"-rtsp_transport tcp"},
			notContains: []string{"-user_agent", "-multiple_requests"},
		},
		{
			name: "mp4 preview output",
			url:  "http://example.com/live/ch1.ts",
			profile: analyzer.Profile{
				Kind: models.ProtocolTS,
			},
			opts: BuildOptions{Format: FormatMP4},
			contains: []string{
				"-f mp4 -movflags frag_keyframe+empty_moov+default_base_moof",
				"-flush_packets 1 -muxdelay 0 pipe:1",
			},
			notContains: []string{"-f mpegts", "-mpegts_start_pid"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := BuildArgs(tt.url, tt.profile, tt.opts)
			require.NotEmpty(t, args)
			assert.Equal(t, "pipe:1", args[len(args)-1])

			joined := strings.Join(args, " ")
			for _, want := range tt.contains {
				assert.Contains(t, joined, want)
			}
			for _, notWant := range tt.notContains {
				assert.NotContains(t, joined, notWant)
			}
		})
	}
}

func TestBuildArgs_UserAgentAndHeaders(t *testing.T) {
	profile := analyzer.Profile{Kind: models.ProtocolHLS}
	args := BuildArgs("https://example.com/ch.m3u8", profile, BuildOptions{
		UserAgent: "ExoPlayer/2.18",
		Headers: map[string]string{
			"X-Api-Key": "k1",
			"Referer":   "https://example.com/player",
		},
	})

	assert.Equal(t, "ExoPlayer/2.18", argAfter(args, "-user_agent"))
	assert.Equal(t, "Referer: https://example.com/player\r\nX-Api-Key: k1\r\n",
		argAfter(args, "-headers"))
}

func TestBuildArgs_InputComesBeforeOutput(t *testing.T) {
	profile := analyzer.Profile{
		Kind:               models.ProtocolHLS,
		IsCDNBacked:        true,
		PlaylistComplexity: analyzer.ComplexityComplex,
	}
	args := BuildArgs("https://example.com/ch.m3u8", profile, BuildOptions{})

	joined := strings.Join(args, " ")
	input := strings.Index(joined, "-i ")
	require.Greater(t, input, 0)

	// Input option flags must precede -i; output flags must follow it.
	assert.Less(t, strings.Index(joined, "-multiple_requests"), input)
	assert.Less(t, strings.Index(joined, "-reconnect"), input)
	assert.Greater(t, strings.Index(joined, "-f mpegts"), input)
}

func TestFormatHeaders_SortsKeys(t *testing.T) {
	got := formatHeaders(map[string]string{
		"Zulu":    "z",
		"Alpha":   "a",
		"Mike":    "m",
		"Charlie": "c",
	})
	assert.Equal(t, "Alpha: a\r\nCharlie: c\r\nMike: m\r\nZulu: z\r\n", got)
}

func TestHTTPKind(t *testing.T) {
	assert.True(t, httpKind(models.ProtocolHLS))
	assert.True(t, httpKind(models.ProtocolDASH))
	assert.True(t, httpKind(models.ProtocolTS))
	assert.True(t, httpKind(models.ProtocolHTTP))
	assert.False(t, httpKind(models.ProtocolRTSP))
	assert.False(t, httpKind(models.ProtocolUDP))
	assert.False(t, httpKind(models.ProtocolSRT))
}
