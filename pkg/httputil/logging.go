package httputil

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/cwrk-planet/chat-client/pkg/logger"

	"github.com/go-chi/chi/v5/middleware"
)

// MiddlewareLogging кладёт в ctx логгер с req_id/method/path и пишет итог
// запроса. Уровень по статусу: 5xx error, 4xx warn, иначе debug.
func MiddlewareLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID, _ := FromContext(r.Context())

		log := logger.FromContext(r.Context()).With(
			slog.String("req_id", reqID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
		ctx := logger.WithContext(r.Context(), log)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		status := ww.Status()
		if status == 0 {
			// hijack (websocket) или пустой ответ
			status = http.StatusOK
		}
		level := slog.LevelDebug
		if status >= 500 {
			level = slog.LevelError
		} else if status >= 400 {
			level = slog.LevelWarn
		}

		log.LogAttrs(ctx, level, "http_request",
			slog.Int("status", status),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("duration", time.Since(start)),
		)
	})
}
