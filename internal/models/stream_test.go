package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStream_TableName(t *testing.T) {
	s := Stream{}
	assert.Equal(t, "streams", s.TableName())
}

func TestValidProtocol(t *testing.T) {
	valid := []StreamProtocol{
		"", ProtocolHLS, ProtocolDASH, ProtocolTS, ProtocolRTSP,
		ProtocolRTMP, ProtocolUDP, ProtocolMMS, ProtocolSRT, ProtocolHTTP,
	}
	for _, p := range valid {
		assert.True(t, ValidProtocol(p), "protocol %q should be valid", p)
	}

	assert.False(t, ValidProtocol("mpegts"))
	assert.False(t, ValidProtocol("HLS"))
}

func TestStream_Validate(t *testing.T) {
	channelID := NewULID()

	tests := []struct {
		name    string
		stream  Stream
		wantErr error
	}{
		{
			name: "valid http stream",
			stream: Stream{
				ChannelID: channelID,
				URL:       "http://example.com/stream.m3u8",
			},
			wantErr: nil,
		},
		{
			name: "valid rtsp stream with hint",
			stream: Stream{
				ChannelID: channelID,
				URL:       "rtsp://camera.local/live",
				Protocol:  ProtocolRTSP,
			},
			wantErr: nil,
		},
		{
			name: "missing channel ID",
			stream: Stream{
				URL: "http://example.com/stream.m3u8",
			},
			wantErr: ErrChannelIDRequired,
		},
		{
			name: "missing URL",
			stream: Stream{
				ChannelID: channelID,
			},
			wantErr: ErrURLRequired,
		},
		{
			name: "URL without scheme",
			stream: Stream{
				ChannelID: channelID,
				URL:       "example.com/stream.ts",
			},
			wantErr: ErrInvalidURL,
		},
		{
			name: "unknown protocol hint",
			stream: Stream{
				ChannelID: channelID,
				URL:       "http://example.com/stream.ts",
				Protocol:  "webrtc",
			},
			wantErr: ErrInvalidProtocol,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.stream.Validate()
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStream_HeaderMap(t *testing.T) {
	t.Run("empty headers", func(t *testing.T) {
		s := Stream{}
		m, err := s.HeaderMap()
		require.NoError(t, err)
		assert.Empty(t, m)
	})

	t.Run("roundtrip", func(t *testing.T) {
		s := Stream{}
		want := map[string]string{
			"Referer":   "http://portal.example.com/",
			"X-Api-Key": "abc123",
		}
		require.NoError(t, s.SetHeaderMap(want))
		assert.NotEmpty(t, s.Headers)

		got, err := s.HeaderMap()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("nil map clears column", func(t *testing.T) {
		s := Stream{Headers: `{"a":"b"}`}
		require.NoError(t, s.SetHeaderMap(nil))
		assert.Empty(t, s.Headers)
	})

	t.Run("malformed JSON errors", func(t *testing.T) {
		s := Stream{Headers: "{not json"}
		_, err := s.HeaderMap()
		assert.Error(t, err)
	})
}
