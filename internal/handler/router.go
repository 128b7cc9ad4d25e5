package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	custommiddleware "github.com/mmeshcher/gestock-pos/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware кассового сервиса.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(h.metrics.Middleware)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	if h.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/pos", func(r chi.Router) {
		r.Use(custommiddleware.Bearer(h.now))

		r.Get("/tax-rates", h.GetTaxRates)
		r.Post("/sessions", h.OpenSession)

		r.Group(func(r chi.Router) {
			r.Use(h.workflowMiddleware.Middleware)

			r.Delete("/sessions", h.CloseSession)

			r.Get("/cart", h.GetCart)
			r.Put("/cart/transaction", h.SetTransaction)
			r.Post("/cart/items", h.AddItem)
			r.Patch("/cart/items/{position}", h.UpdateItem)
			r.Delete("/cart/items/{productID}", h.RemoveItem)
			r.Post("/cart/scan", h.Scan)
			r.Post("/cart/submit", h.Submit)

			r.Get("/submissions", h.GetSubmissions)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
