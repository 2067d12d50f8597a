package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/iconidentify/clipgrab/internal/api/handler"
	mw "github.com/iconidentify/clipgrab/internal/api/middleware"
	"github.com/iconidentify/clipgrab/pkg/ui"
)

// NewRouter creates the HTTP router of the file server. Admin routes are
// mounted only when both adminHandler and adminKey are set.
func NewRouter(
	deliveryHandler *handler.DeliveryHandler,
	healthHandler *handler.HealthHandler,
	adminHandler *handler.AdminHandler,
	adminKey string,
) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware. No request timeout: downloads stream for as long
	// as the client reads.
	r.Use(middleware.CleanPath)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mw.Logger)
	r.Use(mw.Metrics)
	r.Use(mw.Recovery)

	r.Get("/health", healthHandler.Live)

	r.Get("/download/{token}", deliveryHandler.Page)
	r.Get("/preview/{token}", deliveryHandler.Preview)
	r.Get("/files/{token}", deliveryHandler.File)

	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServerFS(ui.Static())))

	if adminHandler != nil && adminKey != "" {
		r.Route("/api/v1", func(r chi.Router) {
			r.Use(mw.AdminKeyAuth(adminKey))

			r.Get("/stats", adminHandler.Stats)
			r.Get("/history", adminHandler.History)
		})
	}

	return r
}
