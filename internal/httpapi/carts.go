package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/safar/go-storefront/internal/models"
)

type cartItemRequest struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

type quantityRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	lines, err := h.carts.Get(r.Context(), userID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if lines == nil {
		lines = []models.CartLine{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"items": lines})
}

func (h *Handler) addCartItem(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	var req cartItemRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	if req.ProductID <= 0 {
		h.respondError(w, r, invalid("productId is required"))
		return
	}

	if err := h.carts.Add(r.Context(), userID, req.ProductID, req.Quantity); err != nil {
		h.respondError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setCartItem(w http.ResponseWriter, r *http.Request) {
	userID, productID, ok := h.userAndProduct(w, r)
	if !ok {
		return
	}

	var req quantityRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	if err := h.carts.SetQuantity(r.Context(), userID, productID, req.Quantity); err != nil {
		h.respondError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removeCartItem(w http.ResponseWriter, r *http.Request) {
	userID, productID, ok := h.userAndProduct(w, r)
	if !ok {
		return
	}

	if err := h.carts.Remove(r.Context(), userID, productID); err != nil {
		h.respondError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getSaved(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	saved, err := h.carts.Saved(r.Context(), userID, models.SavedList(chi.URLParam(r, "list")))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if saved == nil {
		saved = []models.SavedProduct{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"items": saved})
}

func (h *Handler) saveProduct(w http.ResponseWriter, r *http.Request) {
	userID, productID, ok := h.userAndProduct(w, r)
	if !ok {
		return
	}

	if err := h.carts.Save(r.Context(), userID, productID, models.SavedList(chi.URLParam(r, "list"))); err != nil {
		h.respondError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) unsaveProduct(w http.ResponseWriter, r *http.Request) {
	userID, productID, ok := h.userAndProduct(w, r)
	if !ok {
		return
	}

	if err := h.carts.Unsave(r.Context(), userID, productID, models.SavedList(chi.URLParam(r, "list"))); err != nil {
		h.respondError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) userAndProduct(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	userID, err := pathID(r, "userID")
	if err != nil {
		h.respondError(w, r, err)
		return 0, 0, false
	}
	productID, err := pathID(r, "productID")
	if err != nil {
		h.respondError(w, r, err)
		return 0, 0, false
	}
	return userID, productID, true
}
