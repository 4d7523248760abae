package httpapi

import (
	"net/http"

	"github.com/safar/go-storefront/internal/checkout"
	"github.com/safar/go-storefront/internal/lifecycle"
	"github.com/safar/go-storefront/internal/models"
	"github.com/safar/go-storefront/internal/orderstate"
	"github.com/safar/go-storefront/internal/store"
)

const idempotencyHeader = "Idempotency-Key"

type eventRequest struct {
	Event          orderstate.EventKind `json:"event"`
	TrackingNumber string               `json:"trackingNumber"`
}

type paymentCallbackRequest struct {
	PaymentReference string `json:"paymentReference"`
	Status           string `json:"status"`
}

type outcomeResponse struct {
	Order   *models.Order `json:"order"`
	Applied bool          `json:"applied"`
}

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	var req checkout.Request
	if err := decode(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	if key := r.Header.Get(idempotencyHeader); key != "" && req.IdempotencyKey == "" {
		req.IdempotencyKey = key
	}

	receipt, err := h.checkout.PlaceOrder(r.Context(), userID, req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, receipt)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	limit := queryInt(r, "limit", 20, 100)
	page, err := store.ListOrdersCursor(r.Context(), h.db, userID, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, page)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathID(r, "orderID")
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	order, err := store.GetOrder(r.Context(), h.db, orderID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, order)
}

func (h *Handler) applyOrderEvent(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathID(r, "orderID")
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	var req eventRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	outcome, err := h.lifecycle.Apply(r.Context(), orderID, orderstate.Event{
		Kind:           req.Event,
		TrackingNumber: req.TrackingNumber,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	respondOutcome(w, outcome)
}

func (h *Handler) paymentCallback(w http.ResponseWriter, r *http.Request) {
	var req paymentCallbackRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	var kind orderstate.EventKind
	switch req.Status {
	case "paid":
		kind = orderstate.EventPaymentConfirmed
	case "failed":
		kind = orderstate.EventPaymentDeclined
	default:
		h.respondError(w, r, invalid("status must be paid or failed"))
		return
	}

	outcome, err := h.lifecycle.ApplyByPaymentReference(r.Context(), req.PaymentReference, orderstate.Event{Kind: kind})
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	respondOutcome(w, outcome)
}

func respondOutcome(w http.ResponseWriter, outcome *lifecycle.Outcome) {
	respondJSON(w, http.StatusOK, outcomeResponse{Order: outcome.Order, Applied: outcome.Applied})
}
