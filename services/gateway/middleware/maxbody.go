package middleware

import "net/http"

// MaxBodySize caps request body size. Reads past the limit make the
// handler's json decode fail with a 400 instead of buffering unbounded
// input.
func MaxBodySize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
