package handler

import (
	"io"
	"net/http"

	"github.com/andybalholm/brotli"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"fsanano/canteen/internal/service"
)

type Handler struct {
	router *chi.Mux
	engine *service.Engine
	secret []byte
	logger *zap.Logger
}

func NewHandler(engine *service.Engine, secret []byte, gatherer prometheus.Gatherer, logger *zap.Logger) *Handler {
	router := chi.NewRouter()

	compressor := middleware.NewCompressor(5, "application/json", "text/plain")
	compressor.SetEncoder("br", func(w io.Writer, level int) io.Writer {
		return brotli.NewWriterLevel(w, level)
	})

	// Middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(compressor.Handler)

	h := &Handler{
		router: router,
		engine: engine,
		secret: secret,
		logger: logger,
	}

	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	h.registerRoutes()
	return h
}

func (h *Handler) registerRoutes() {
	h.router.Route("/v1", func(r chi.Router) {
		r.Get("/health", h.HealthCheck)

		r.Group(func(r chi.Router) {
			r.Use(h.authenticate)

			r.Get("/menu/today", h.GetTodayMenu)

			r.Post("/orders", h.CreateOrder)
			r.Post("/orders/{id}/pay", h.PayOrder)
			r.Post("/orders/{id}/collect", h.CollectOrder)

			r.Get("/dishes/{id}/reviews", h.ListReviews)
			r.Post("/dishes/{id}/reviews", h.SubmitReview)

			r.Get("/allergens", h.ListAllergens)
			r.Put("/allergens/{id}", h.AddAllergen)
			r.Delete("/allergens/{id}", h.RemoveAllergen)

			r.Get("/fulfillment/pending", h.FindPendingOrders)
			r.Post("/fulfillment/walk-in", h.WalkInIssue)

			r.Get("/ingredients/low-stock", h.LowStockIngredients)

			r.Post("/purchase-requests", h.CreatePurchaseRequest)
			r.Get("/purchase-requests", h.ListPurchaseRequests)
			r.Put("/purchase-requests/{id}", h.DecidePurchaseRequest)

			r.Post("/subscriptions", h.GrantSubscription)
			r.Post("/balance/topup", h.TopUp)

			r.Get("/admin/stats", h.Stats)
			r.Get("/admin/reports", h.DailyRevenue)
		})
	})
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
