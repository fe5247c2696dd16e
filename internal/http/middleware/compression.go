package middleware

import (
	"net/http"
)

// SkipCompressionForStreams wraps a compression middleware so the long-lived
// video endpoints bypass it entirely. Compression buffers output, and the
// stream path depends on flush-per-write delivery; even content-type based
// skipping inside the compressor still wraps the writer and hides Flush.
func SkipCompressionForStreams(compressionHandler func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		compressed := compressionHandler(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isStreamPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			compressed.ServeHTTP(w, r)
		})
	}
}
