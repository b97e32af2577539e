package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	chimw "github.com/go-chi/chi/v5/middleware"

	"chat-relay/internal/infra/logger"
)

// Recover converts a handler panic into the 500 JSON error envelope when no
// response has been started yet.
func Recover(log *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.FromContext(r.Context(), log).Error("handler panic",
					"panic", rec,
					"stack", string(debug.Stack()),
				)
				if ww.Status() == 0 {
					writeError(ww, http.StatusInternalServerError, fmt.Sprint(rec))
				}
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
