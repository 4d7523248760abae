package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/safar/go-storefront/internal/models"
	"github.com/safar/go-storefront/internal/store"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

type createProductRequest struct {
	SKU                string          `json:"sku"`
	Name               string          `json:"name"`
	Description        string          `json:"description"`
	Price              decimal.Decimal `json:"price"`
	StockQuantity      int             `json:"stockQuantity"`
	DiscountPercentage decimal.Decimal `json:"discountPercentage"`
	DiscountStartsAt   *time.Time      `json:"discountStartsAt"`
	DiscountEndsAt     *time.Time      `json:"discountEndsAt"`
}

type discountRequest struct {
	Percentage decimal.Decimal `json:"percentage"`
	StartsAt   *time.Time      `json:"startsAt"`
	EndsAt     *time.Time      `json:"endsAt"`
}

func validDiscount(pct decimal.Decimal, startsAt, endsAt *time.Time) error {
	if pct.IsNegative() || pct.GreaterThan(hundred) {
		return invalid("discount percentage must be within [0, 100]")
	}
	if startsAt != nil && endsAt != nil && endsAt.Before(*startsAt) {
		return invalid("discount window ends before it starts")
	}
	return nil
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	if strings.TrimSpace(req.SKU) == "" || strings.TrimSpace(req.Name) == "" {
		h.respondError(w, r, invalid("sku and name are required"))
		return
	}
	if req.Price.IsNegative() || req.StockQuantity < 0 {
		h.respondError(w, r, invalid("price and stock cannot be negative"))
		return
	}
	if err := validDiscount(req.DiscountPercentage, req.DiscountStartsAt, req.DiscountEndsAt); err != nil {
		h.respondError(w, r, err)
		return
	}

	product, err := store.CreateProduct(r.Context(), h.db, store.CreateProductParams{
		SKU:                req.SKU,
		Name:               req.Name,
		Description:        req.Description,
		Price:              req.Price,
		Stock:              req.StockQuantity,
		DiscountPercentage: req.DiscountPercentage,
		DiscountStartsAt:   req.DiscountStartsAt,
		DiscountEndsAt:     req.DiscountEndsAt,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, product)
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1, 0)
	pageSize := queryInt(r, "page_size", 20, 100)
	includeArchived := r.URL.Query().Get("include_archived") == "true"

	result, err := store.ListProducts(r.Context(), h.db, page, pageSize, includeArchived)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

type productView struct {
	*models.Product
	EffectivePrice decimal.Decimal `json:"effective_price"`
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	productID, err := pathID(r, "productID")
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	product, err := store.GetProduct(r.Context(), h.db, productID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, productView{Product: product, EffectivePrice: product.EffectivePrice(time.Now())})
}

func (h *Handler) archiveProduct(w http.ResponseWriter, r *http.Request) {
	h.setArchived(w, r, true)
}

func (h *Handler) unarchiveProduct(w http.ResponseWriter, r *http.Request) {
	h.setArchived(w, r, false)
}

func (h *Handler) setArchived(w http.ResponseWriter, r *http.Request, archived bool) {
	productID, err := pathID(r, "productID")
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	if err := store.SetProductArchived(r.Context(), h.db, productID, archived); err != nil {
		h.respondError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setDiscount(w http.ResponseWriter, r *http.Request) {
	productID, err := pathID(r, "productID")
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	var req discountRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	if err := validDiscount(req.Percentage, req.StartsAt, req.EndsAt); err != nil {
		h.respondError(w, r, err)
		return
	}

	if err := store.SetProductDiscount(r.Context(), h.db, productID, req.Percentage, req.StartsAt, req.EndsAt); err != nil {
		h.respondError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type stockRequest struct {
	StockQuantity int `json:"stockQuantity"`
	Version       int `json:"version"`
}

// setStock overwrites the stock level for a product version the caller has
// seen. A stale version is reported as a conflict.
func (h *Handler) setStock(w http.ResponseWriter, r *http.Request) {
	productID, err := pathID(r, "productID")
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	var req stockRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	if req.StockQuantity < 0 || req.Version < 1 {
		h.respondError(w, r, invalid("stock cannot be negative and version is required"))
		return
	}

	if err := store.UpdateStockOptimistic(r.Context(), h.db, productID, req.StockQuantity, req.Version); err != nil {
		h.respondError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type createPromocodeRequest struct {
	Code               string               `json:"code"`
	DiscountPercentage decimal.Decimal      `json:"discountPercentage"`
	MinOrderAmount     decimal.Decimal      `json:"minOrderAmount"`
	MaxDiscountAmount  *decimal.Decimal     `json:"maxDiscountAmount"`
	Type               models.PromocodeType `json:"type"`
	ExpiresAt          *time.Time           `json:"expiresAt"`
	IsActive           *bool                `json:"isActive"`
}

func (h *Handler) createPromocode(w http.ResponseWriter, r *http.Request) {
	var req createPromocodeRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	switch {
	case strings.TrimSpace(req.Code) == "":
		h.respondError(w, r, invalid("code is required"))
		return
	case !req.DiscountPercentage.IsPositive() || req.DiscountPercentage.GreaterThan(hundred):
		h.respondError(w, r, invalid("discount percentage must be within (0, 100]"))
		return
	case req.MinOrderAmount.IsNegative():
		h.respondError(w, r, invalid("minimum order amount cannot be negative"))
		return
	case req.MaxDiscountAmount != nil && req.MaxDiscountAmount.IsNegative():
		h.respondError(w, r, invalid("maximum discount cannot be negative"))
		return
	case req.Type != models.PromocodeSingleUse && req.Type != models.PromocodeTemporary:
		h.respondError(w, r, invalid("type must be single_use or temporary"))
		return
	case req.Type == models.PromocodeTemporary && req.ExpiresAt == nil:
		h.respondError(w, r, invalid("temporary promocodes need an expiry"))
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	promocode, err := store.CreatePromocode(r.Context(), h.db, store.CreatePromocodeParams{
		Code:               strings.TrimSpace(req.Code),
		DiscountPercentage: req.DiscountPercentage,
		MinOrderAmount:     req.MinOrderAmount,
		MaxDiscountAmount:  req.MaxDiscountAmount,
		Type:               req.Type,
		ExpiresAt:          req.ExpiresAt,
		IsActive:           active,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, promocode)
}

func (h *Handler) getPromocode(w http.ResponseWriter, r *http.Request) {
	promocode, err := store.GetPromocodeByCode(r.Context(), h.db, chi.URLParam(r, "code"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, promocode)
}
