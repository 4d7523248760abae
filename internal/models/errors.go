package models

import "errors"

// Checkout and lifecycle failures surfaced to the client. Each one maps to a
// distinct user-facing message.
var (
	ErrInvalidRequest             = errors.New("invalid request")
	ErrEmptyCart                  = errors.New("empty cart")
	ErrProductUnavailable         = errors.New("product unavailable")
	ErrPromocodeInvalid           = errors.New("promocode invalid")
	ErrPromocodeAlreadyUsed       = errors.New("promocode already used")
	ErrPromocodeMinOrderNotMet    = errors.New("promocode minimum order amount not met")
	ErrInsufficientBonusBalance   = errors.New("insufficient bonus balance")
	ErrDeliveryPricingUnavailable = errors.New("delivery pricing unavailable")
	ErrInvalidOrderTransition     = errors.New("invalid order transition")
	ErrPaymentGatewayError        = errors.New("payment gateway error")
)

// IsRetryable reports whether the caller may resubmit the same request.
// Gateway failures are retryable; validation failures are not.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrDeliveryPricingUnavailable) || errors.Is(err, ErrPaymentGatewayError)
}

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrEmptyCart, "empty_cart"},
	{ErrProductUnavailable, "product_unavailable"},
	{ErrPromocodeAlreadyUsed, "promocode_already_used"},
	{ErrPromocodeInvalid, "promocode_invalid"},
	{ErrPromocodeMinOrderNotMet, "promocode_min_order_not_met"},
	{ErrInsufficientBonusBalance, "insufficient_bonus_balance"},
	{ErrDeliveryPricingUnavailable, "delivery_pricing_unavailable"},
	{ErrInvalidOrderTransition, "invalid_order_transition"},
	{ErrPaymentGatewayError, "payment_gateway_error"},
	{ErrInvalidRequest, "invalid_request"},
}

// ErrorCode is the machine-readable code of a domain failure, or "" when
// err is not one.
func ErrorCode(err error) string {
	for _, entry := range errorCodes {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return ""
}
