package middleware

import (
	"net/http"
	"time"

	"clinical-coding/internal/platform/logger"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// RequestLogger deja en el contexto un logger con request_id y escribe una
// línea por request al terminar. 5xx salen como error, 4xx como warn.
func RequestLogger(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqLog := log.With(map[string]any{
				"request_id": chimw.GetReqID(r.Context()),
				"method":     r.Method,
				"path":       r.URL.Path,
			})

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(logger.IntoContext(r.Context(), reqLog)))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := map[string]any{
				"status":   status,
				"bytes":    ww.BytesWritten(),
				"duration": time.Since(start),
			}
			switch {
			case status >= 500:
				reqLog.Error("request", fields)
			case status >= 400:
				reqLog.Warn("request", fields)
			default:
				reqLog.Debug("request", fields)
			}
		})
	}
}
