// Package api implements the livedesk console REST API using chi.
package api

import "net/http"

// maxBodyBytes bounds request bodies; note text is the largest payload.
const maxBodyBytes = 10 << 20

// BodyLimit returns middleware that caps the request body at limit bytes.
func BodyLimit(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}
