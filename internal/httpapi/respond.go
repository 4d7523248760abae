package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/models"
)

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable"`
}

var domainStatus = map[string]int{
	"invalid_request":              http.StatusBadRequest,
	"empty_cart":                   http.StatusUnprocessableEntity,
	"product_unavailable":          http.StatusConflict,
	"promocode_invalid":            http.StatusUnprocessableEntity,
	"promocode_already_used":       http.StatusConflict,
	"promocode_min_order_not_met":  http.StatusUnprocessableEntity,
	"insufficient_bonus_balance":   http.StatusUnprocessableEntity,
	"delivery_pricing_unavailable": http.StatusServiceUnavailable,
	"invalid_order_transition":     http.StatusConflict,
	"payment_gateway_error":        http.StatusBadGateway,
}

// classify maps an error to its HTTP status and machine-readable code.
func classify(err error) (int, string) {
	if code := models.ErrorCode(err); code != "" {
		return domainStatus[code], code
	}

	switch {
	case errors.Is(err, database.ErrUserNotFound),
		errors.Is(err, database.ErrProductNotFound),
		errors.Is(err, database.ErrOrderNotFound),
		errors.Is(err, database.ErrPromocodeNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, database.ErrOptimisticLockFailed):
		return http.StatusConflict, "conflict"
	case database.IsUniqueViolation(err, ""):
		return http.StatusConflict, "already_exists"
	case errors.Is(err, database.ErrLockTimeout), database.IsRetryable(err):
		return http.StatusServiceUnavailable, "busy"
	}

	return http.StatusInternalServerError, "internal"
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encode JSON response", "error", err)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)

	message := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err)
		message = "internal error"
	}

	respondJSON(w, status, errorResponse{
		Error:     message,
		Code:      code,
		Retryable: models.IsRetryable(err) || status == http.StatusServiceUnavailable,
	})
}

func decode(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return invalid("invalid request body: " + err.Error())
	}
	return nil
}

func invalid(message string) error {
	return &requestError{message: message}
}

type requestError struct {
	message string
}

func (e *requestError) Error() string { return e.message }

func (e *requestError) Unwrap() error { return models.ErrInvalidRequest }

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, invalid("invalid " + name)
	}
	return id, nil
}

func queryInt(r *http.Request, name string, def, max int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v < 1 {
		return def
	}
	if max > 0 && v > max {
		return max
	}
	return v
}
