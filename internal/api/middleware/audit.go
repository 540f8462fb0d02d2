package middleware

import (
	"net/http"
	"time"

	"github.com/linetrace-io/linetrace/internal/audit"
)

// Audit returns a middleware that publishes an audit event for every
// completed request whose method the publisher is configured to audit.
// Publishing is best-effort and never affects the response.
func Audit(publisher *audit.Publisher) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !publisher.Audits(r.Method) {
				next.ServeHTTP(w, r)

				return
			}

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			event := audit.Event{
				Time:          time.Now().UTC(),
				Method:        r.Method,
				Path:          r.URL.Path,
				Status:        rw.statusCode,
				CorrelationID: GetCorrelationID(r.Context()),
				RemoteAddr:    r.RemoteAddr,
			}

			if tenantCtx, ok := GetTenantContext(r.Context()); ok {
				event.TenantID = tenantCtx.TenantID
				event.KeyID = tenantCtx.KeyID
			}

			publisher.Publish(r.Context(), event)
		})
	}
}
