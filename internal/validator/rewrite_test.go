package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRewriteJSON(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		want  string
		count int
	}{
		{
			name:  "top-level type code",
			body:  `{"type":5}`,
			want:  `{"type":4}`,
			count: 1,
		},
		{
			name:  "nested media and part",
			body:  `{"Media":[{"contentType":5,"Part":[{"mediaType":5}]}]}`,
			want:  `{"Media":[{"contentType":4,"Part":[{"mediaType":4}]}]}`,
			count: 2,
		},
		{
			name:  "snake case field",
			body:  `{"content_type":5}`,
			want:  `{"content_type":4}`,
			count: 1,
		},
		{
			name:  "pascal case lineup field",
			body:  `{"ContentType":5}`,
			want:  `{"ContentType":4}`,
			count: 1,
		},
		{
			name:  "string type code",
			body:  `{"type":"5"}`,
			want:  `{"type":"4"}`,
			count: 1,
		},
		{
			name:  "trailer label",
			body:  `{"type":"trailer"}`,
			want:  `{"type":"clip"}`,
			count: 1,
		},
		{
			name:  "movie label",
			body:  `{"type":"movie"}`,
			want:  `{"type":"episode"}`,
			count: 1,
		},
		{
			name:  "unmonitored fields stay",
			body:  `{"id":5,"duration":5,"title":"movie","size":5}`,
			want:  `{"id":5,"duration":5,"title":"movie","size":5}`,
			count: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, n := RewriteJSON([]byte(tt.body))
			assert.Equal(t, tt.count, n)
			assert.JSONEq(t, tt.want, string(out))
		})
	}
}

func TestRewriteJSON_LeavesCleanBodyBytesAlone(t *testing.T) {
	body := []byte(`{"type":4,"Media":[{"contentType":4}]}`)
	out, n := RewriteJSON(body)
	assert.Zero(t, n)
	assert.Equal(t, body, out, "a clean body must not be re-encoded")
}

func TestRewriteJSON_InvalidBodyUnchanged(t *testing.T) {
	body := []byte(`{not json`)
	out, n := RewriteJSON(body)
	assert.Zero(t, n)
	assert.Equal(t, body, out)
}

func TestRewriteXML(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		want  string
		count int
	}{
		{
			name:  "type attribute code",
			body:  `<Video type="5" duration="5"/>`,
			want:  `<Video type="4" duration="5"/>`,
			count: 1,
		},
		{
			name:  "contentType not half-matched",
			body:  `<Media contentType="5"/>`,
			want:  `<Media contentType="4"/>`,
			count: 1,
		},
		{
			name:  "multiple attributes",
			body:  `<Part content_type="5" mediaType="5"/>`,
			want:  `<Part content_type="4" mediaType="4"/>`,
			count: 2,
		},
		{
			name:  "trailer label",
			body:  `<Video type="trailer"/>`,
			want:  `<Video type="clip"/>`,
			count: 1,
		},
		{
			name:  "movie label",
			body:  `<Video type="movie"/>`,
			want:  `<Video type="episode"/>`,
			count: 1,
		},
		{
			name:  "clean body",
			body:  `<Video type="clip" contentType="4"/>`,
			want:  `<Video type="clip" contentType="4"/>`,
			count: 0,
		},
		{
			name:  "element text is not an attribute",
			body:  `<type>5</type>`,
			want:  `<type>5</type>`,
			count: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, n := RewriteXML([]byte(tt.body))
			assert.Equal(t, tt.count, n)
			assert.Equal(t, tt.want, string(out))
		})
	}
}
