package httpadapter

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type ctxKey string

const ctxKeyLogger ctxKey = "logger"

const headerRequestID = "X-Request-Id"

// withRequestLogger выдаёт каждому запросу request_id и кладёт логгер с ним в контекст
func withRequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get(headerRequestID)
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set(headerRequestID, reqID)

			log := base.With("request_id", reqID)
			ctx := context.WithValue(r.Context(), ctxKeyLogger, log)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r.WithContext(ctx))

			log.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
			)
		})
	}
}

func loggerFrom(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if log, ok := ctx.Value(ctxKeyLogger).(*slog.Logger); ok {
		return log
	}
	return fallback
}
