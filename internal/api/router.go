package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// RouterDeps holds the dependencies the router wires into handlers.
type RouterDeps struct {
	Receipts ReceiptReader
	Exporter Exporter
	DB       Pinger
}

func NewRouter(logger *slog.Logger, deps RouterDeps) *chi.Mux {
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chimw.Recoverer)

	health := NewHealthHandler(deps.DB)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"message":   "Receipt Management API",
			"status":    "running",
			"timestamp": time.Now().UTC(),
			"endpoints": map[string]string{
				"receipts":       "/api/receipts",
				"single_receipt": "/api/receipts/{id}",
				"search":         "/api/receipts/search/{term}",
				"stats":          "/api/receipts/stats/summary",
				"stores":         "/api/receipts/stores",
				"daily":          "/api/stats/daily/{date}",
				"export":         "/api/receipts/export.xlsx",
				"health":         "/healthz",
			},
		})
	})

	receipts := NewReceiptHandler(deps.Receipts, deps.Exporter, logger)
	r.Route("/api", func(r chi.Router) {
		r.Route("/receipts", func(r chi.Router) {
			r.Get("/", receipts.List)
			r.Get("/export.xlsx", receipts.Export)
			r.Get("/stores", receipts.Stores)
			r.Get("/stats/summary", receipts.Summary)
			r.Get("/search/{term}", receipts.Search)
			r.Get("/{id}", receipts.Get)
		})
		r.Get("/stats/daily/{date}", receipts.DailyStats)
	})

	return r
}
