// Package promo validates promocodes against an order subtotal.
//
// Validation is a pure function of the promocode row, the user's usage
// history, the caller's clock reading and the subtotal, so the checkout
// transaction can run it against rows it has already locked.
package promo

import (
	"fmt"
	"time"

	"github.com/safar/go-storefront/internal/models"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Application is an accepted promocode.
type Application struct {
	PromocodeID int64
	Discount    decimal.Decimal
	SingleUse   bool
}

// Validate checks p for the user and returns the discount it grants on
// subtotal. usedBefore reports whether the user already has a usage record
// for p.
func Validate(p *models.Promocode, usedBefore bool, now time.Time, subtotal decimal.Decimal) (*Application, error) {
	if p == nil || !p.IsActive {
		return nil, models.ErrPromocodeInvalid
	}

	switch p.Type {
	case models.PromocodeTemporary:
		if p.ExpiresAt == nil || !now.Before(*p.ExpiresAt) {
			return nil, fmt.Errorf("%w: %s expired", models.ErrPromocodeInvalid, p.Code)
		}
	case models.PromocodeSingleUse:
		if p.ExpiresAt != nil && !now.Before(*p.ExpiresAt) {
			return nil, fmt.Errorf("%w: %s expired", models.ErrPromocodeInvalid, p.Code)
		}
		if usedBefore {
			return nil, models.ErrPromocodeAlreadyUsed
		}
	default:
		return nil, fmt.Errorf("%w: unknown type %q", models.ErrPromocodeInvalid, p.Type)
	}

	if subtotal.LessThan(p.MinOrderAmount) {
		return nil, fmt.Errorf("%w: need %s, have %s", models.ErrPromocodeMinOrderNotMet, p.MinOrderAmount, subtotal)
	}

	return &Application{
		PromocodeID: p.ID,
		Discount:    Discount(p, subtotal),
		SingleUse:   p.Type == models.PromocodeSingleUse,
	}, nil
}

// Discount is subtotal × percentage / 100 rounded down to cents, clamped to
// the promocode cap and to the subtotal itself.
func Discount(p *models.Promocode, subtotal decimal.Decimal) decimal.Decimal {
	discount := subtotal.Mul(p.DiscountPercentage).Div(hundred).RoundFloor(2)
	if p.MaxDiscountAmount != nil && discount.GreaterThan(*p.MaxDiscountAmount) {
		discount = *p.MaxDiscountAmount
	}
	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}
	if discount.IsNegative() {
		return decimal.Zero
	}
	return discount
}
