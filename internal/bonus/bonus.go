// Package bonus holds the loyalty balance rules shared by checkout and the
// order lifecycle. One bonus redeems one currency unit.
package bonus

import (
	"fmt"

	"github.com/safar/go-storefront/internal/models"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// CheckRedeemable verifies that requested bonuses fit both the balance and
// the amount still payable after the promocode discount.
func CheckRedeemable(requested, balance int64, payable decimal.Decimal) error {
	if requested < 0 {
		return fmt.Errorf("%w: negative bonuses", models.ErrInvalidRequest)
	}
	if requested == 0 {
		return nil
	}
	if requested > balance {
		return fmt.Errorf("%w: requested %d, balance %d", models.ErrInsufficientBonusBalance, requested, balance)
	}
	if decimal.NewFromInt(requested).GreaterThan(payable) {
		return fmt.Errorf("%w: requested %d exceeds payable %s", models.ErrInsufficientBonusBalance, requested, payable)
	}
	return nil
}

// Earned is the bonus accrual for a completed order: percent of the paid
// subtotal, rounded down to whole bonuses.
func Earned(paidSubtotal, percent decimal.Decimal) int64 {
	if !paidSubtotal.IsPositive() || !percent.IsPositive() {
		return 0
	}
	return paidSubtotal.Mul(percent).Div(hundred).Floor().IntPart()
}
