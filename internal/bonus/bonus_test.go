package bonus

import (
	"testing"

	"github.com/safar/go-storefront/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCheckRedeemable(t *testing.T) {
	tests := []struct {
		name      string
		requested int64
		balance   int64
		payable   int64
		want      error
	}{
		{"nothing requested", 0, 0, 0, nil},
		{"within balance and payable", 200, 500, 900, nil},
		{"exactly the payable amount", 900, 900, 900, nil},
		{"over balance", 5000, 100, 10000, models.ErrInsufficientBonusBalance},
		{"over payable", 950, 1000, 900, models.ErrInsufficientBonusBalance},
		{"negative", -1, 100, 100, models.ErrInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckRedeemable(tt.requested, tt.balance, decimal.NewFromInt(tt.payable))
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCheckRedeemableFractionalPayable(t *testing.T) {
	payable := decimal.RequireFromString("99.50")
	assert.NoError(t, CheckRedeemable(99, 1000, payable))
	assert.ErrorIs(t, CheckRedeemable(100, 1000, payable), models.ErrInsufficientBonusBalance)
}

func TestEarned(t *testing.T) {
	five := decimal.NewFromInt(5)
	assert.Equal(t, int64(35), Earned(decimal.NewFromInt(700), five))
	assert.Equal(t, int64(4), Earned(decimal.RequireFromString("99.99"), five))
	assert.Equal(t, int64(0), Earned(decimal.Zero, five))
	assert.Equal(t, int64(0), Earned(decimal.NewFromInt(700), decimal.Zero))
	assert.Equal(t, int64(0), Earned(decimal.NewFromInt(-10), five))
}
