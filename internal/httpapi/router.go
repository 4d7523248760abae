// Package httpapi exposes the storefront over HTTP.
package httpapi

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/safar/go-storefront/internal/checkout"
	"github.com/safar/go-storefront/internal/lifecycle"
	"github.com/safar/go-storefront/internal/models"
	"github.com/safar/go-storefront/internal/orderstate"
)

type OrderPlacer interface {
	PlaceOrder(ctx context.Context, userID int64, req checkout.Request) (*models.Receipt, error)
}

type OrderTransitioner interface {
	Apply(ctx context.Context, orderID int64, ev orderstate.Event) (*lifecycle.Outcome, error)
	ApplyByPaymentReference(ctx context.Context, reference string, ev orderstate.Event) (*lifecycle.Outcome, error)
}

type CartStore interface {
	Get(ctx context.Context, userID int64) ([]models.CartLine, error)
	Add(ctx context.Context, userID, productID int64, quantity int) error
	SetQuantity(ctx context.Context, userID, productID int64, quantity int) error
	Remove(ctx context.Context, userID, productID int64) error
	Saved(ctx context.Context, userID int64, list models.SavedList) ([]models.SavedProduct, error)
	Save(ctx context.Context, userID, productID int64, list models.SavedList) error
	Unsave(ctx context.Context, userID, productID int64, list models.SavedList) error
}

type Handler struct {
	db        *sql.DB
	checkout  OrderPlacer
	lifecycle OrderTransitioner
	carts     CartStore
	logger    *slog.Logger
}

func NewHandler(db *sql.DB, placer OrderPlacer, transitioner OrderTransitioner, carts CartStore, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		db:        db,
		checkout:  placer,
		lifecycle: transitioner,
		carts:     carts,
		logger:    logger.With("component", "http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.health)

	r.Route("/users", func(r chi.Router) {
		r.Post("/", h.createUser)
		r.Route("/{userID}", func(r chi.Router) {
			r.Get("/", h.getUser)

			r.Get("/cart", h.getCart)
			r.Post("/cart/items", h.addCartItem)
			r.Put("/cart/items/{productID}", h.setCartItem)
			r.Delete("/cart/items/{productID}", h.removeCartItem)

			r.Get("/saved/{list}", h.getSaved)
			r.Put("/saved/{list}/{productID}", h.saveProduct)
			r.Delete("/saved/{list}/{productID}", h.unsaveProduct)

			r.Post("/checkout", h.placeOrder)
			r.Get("/orders", h.listOrders)
		})
	})

	r.Route("/products", func(r chi.Router) {
		r.Post("/", h.createProduct)
		r.Get("/", h.listProducts)
		r.Get("/{productID}", h.getProduct)
		r.Post("/{productID}/archive", h.archiveProduct)
		r.Delete("/{productID}/archive", h.unarchiveProduct)
		r.Put("/{productID}/discount", h.setDiscount)
		r.Put("/{productID}/stock", h.setStock)
	})

	r.Route("/promocodes", func(r chi.Router) {
		r.Post("/", h.createPromocode)
		r.Get("/{code}", h.getPromocode)
	})

	r.Route("/orders/{orderID}", func(r chi.Router) {
		r.Get("/", h.getOrder)
		r.Post("/events", h.applyOrderEvent)
	})

	r.Post("/payments/callback", h.paymentCallback)

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.db != nil {
		if err := h.db.PingContext(ctx); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		h.logger.InfoContext(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
