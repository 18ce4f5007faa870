// Package requesttime provides middleware for request-scoped time.
// Every timestamp written while serving one request (clock-in, lunch, samples)
// uses the same server "now".
package requesttime

import (
	"net/http"
	"time"

	"timeclock/pkg/requestcontext"
)

// Middleware captures the current time at the start of the request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now().UTC())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
