package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamSource_TableName(t *testing.T) {
	s := StreamSource{}
	assert.Equal(t, "stream_sources", s.TableName())
}

func TestStreamSource_Validate(t *testing.T) {
	tests := []struct {
		name    string
		source  StreamSource
		wantErr error
	}{
		{
			name:    "valid http source",
			source:  StreamSource{Name: "Provider", URL: "http://example.com/playlist.m3u"},
			wantErr: nil,
		},
		{
			name:    "valid file source",
			source:  StreamSource{Name: "Local", URL: "file:///data/playlist.m3u"},
			wantErr: nil,
		},
		{
			name:    "missing name",
			source:  StreamSource{URL: "http://example.com/playlist.m3u"},
			wantErr: ErrNameRequired,
		},
		{
			name:    "missing URL",
			source:  StreamSource{Name: "Provider"},
			wantErr: ErrURLRequired,
		},
		{
			name:    "unsupported scheme",
			source:  StreamSource{Name: "Provider", URL: "ftp://example.com/playlist.m3u"},
			wantErr: ErrInvalidURL,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.source.Validate()
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStreamSource_Validate_Sanitizes(t *testing.T) {
	s := StreamSource{
		Name: "  Provider  ",
		URL:  " http://example.com/playlist.m3u ",
	}
	require.NoError(t, s.Validate())
	assert.Equal(t, "Provider", s.Name)
	assert.Equal(t, "http://example.com/playlist.m3u", s.URL)
}

func TestStreamSource_StatusTransitions(t *testing.T) {
	s := StreamSource{Name: "Provider", URL: "http://example.com/playlist.m3u"}
	assert.Equal(t, SourceStatus(""), s.Status)

	s.MarkRefreshing()
	assert.Equal(t, SourceStatusRefreshing, s.Status)

	s.MarkSuccess(42)
	assert.Equal(t, SourceStatusSuccess, s.Status)
	assert.Equal(t, 42, s.ChannelCount)
	require.NotNil(t, s.LastRefreshAt)
	assert.Empty(t, s.LastError)

	s.MarkFailed(errors.New("fetch failed"))
	assert.Equal(t, SourceStatusFailed, s.Status)
	assert.Equal(t, "fetch failed", s.LastError)
}
