package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kospisim/market-engine/internal/metrics"
)

// NewRouter wires the HTTP surface. hub may be nil to serve without a
// WebSocket endpoint.
func NewRouter(svc *Service, admin *Admin, hub *WSHub, adminToken string) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"market-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for snapshots and notifications. Kept outside
		// the timeout group so connections are not cut.
		if hub != nil {
			r.Get("/ws", hub.HandleWS)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			// Market reads.
			r.Get("/market", svc.GetMarket)
			r.Get("/instruments", svc.ListInstruments)
			r.Get("/instruments/{id}", svc.GetInstrument)
			r.Get("/news", svc.ListNews)

			// Orders.
			r.Post("/orders", svc.PlaceOrder)
			r.Post("/orders/leverage", svc.PlaceLeveraged)
			r.Post("/orders/limit", svc.PlaceLimit)
			r.Delete("/orders/limit/{orderID}", svc.CancelLimit)

			// Portfolio.
			r.Get("/portfolio/{userID}", svc.GetPortfolio)
			r.Post("/portfolio/{userID}/sell-all", svc.SellAll)

			// Session control.
			r.Route("/admin", func(r chi.Router) {
				r.Use(RequireToken(adminToken))
				r.Post("/start", admin.Start)
				r.Post("/stop", admin.Stop)
				r.Post("/reset", admin.Reset)
				r.Post("/batch", admin.Batch)
			})
		})
	})

	return r
}
