package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// Recovery turns a handler panic into a 500 response. http.ErrAbortHandler
// is re-raised so net/http can abort the connection.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			slog.Error("panic in http handler",
				"panic", rec,
				"method", r.Method,
				"path", redactPath(r.URL.Path),
				"request_id", chimw.GetReqID(r.Context()),
				"stack", string(debug.Stack()),
			)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}()

		next.ServeHTTP(w, r)
	})
}
