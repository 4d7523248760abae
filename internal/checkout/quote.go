package checkout

import (
	"fmt"
	"time"

	"github.com/safar/go-storefront/internal/bonus"
	"github.com/safar/go-storefront/internal/models"
	"github.com/safar/go-storefront/internal/promo"
	"github.com/shopspring/decimal"
)

// Line is one merged order line.
type Line struct {
	ProductID int64
	Quantity  int
}

// QuoteInput is everything the price computation reads. The caller loads it
// under the checkout transaction's locks.
type QuoteInput struct {
	Lines            []Line
	Products         map[int64]*models.Product
	Now              time.Time
	Promocode        *models.Promocode
	PromocodeUsed    bool
	BonusesRequested int64
	BonusBalance     int64
	DeliveryCost     decimal.Decimal
}

type Quote struct {
	Items        []models.OrderItem
	Subtotal     decimal.Decimal
	Discount     decimal.Decimal
	Promo        *promo.Application
	BonusesUsed  int64
	DeliveryCost decimal.Decimal
	Total        decimal.Decimal
}

// BuildQuote prices the lines from the catalog rows, never from client
// input, then applies the promocode, the bonuses and the delivery cost in
// that order.
func BuildQuote(in QuoteInput) (*Quote, error) {
	if len(in.Lines) == 0 {
		return nil, models.ErrEmptyCart
	}

	resolved := 0
	for _, line := range in.Lines {
		if _, ok := in.Products[line.ProductID]; ok {
			resolved++
		}
	}
	if resolved == 0 {
		return nil, models.ErrEmptyCart
	}

	q := &Quote{
		Items:        make([]models.OrderItem, 0, len(in.Lines)),
		Subtotal:     decimal.Zero,
		Discount:     decimal.Zero,
		DeliveryCost: in.DeliveryCost,
	}

	for _, line := range in.Lines {
		product, ok := in.Products[line.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: product %d not found", models.ErrProductUnavailable, line.ProductID)
		}
		if product.IsArchived {
			return nil, fmt.Errorf("%w: product %d is archived", models.ErrProductUnavailable, product.ID)
		}
		if !product.Available(line.Quantity) {
			return nil, fmt.Errorf("%w: product %d has %d in stock, need %d",
				models.ErrProductUnavailable, product.ID, product.StockQuantity, line.Quantity)
		}

		unitPrice := product.EffectivePrice(in.Now)
		lineTotal := unitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
		q.Items = append(q.Items, models.OrderItem{
			ProductID:          product.ID,
			ProductName:        product.Name,
			Quantity:           line.Quantity,
			UnitPrice:          unitPrice,
			DiscountPercentage: product.AppliedDiscount(in.Now),
			Subtotal:           lineTotal,
		})
		q.Subtotal = q.Subtotal.Add(lineTotal)
	}

	if in.Promocode != nil {
		application, err := promo.Validate(in.Promocode, in.PromocodeUsed, in.Now, q.Subtotal)
		if err != nil {
			return nil, err
		}
		q.Promo = application
		q.Discount = application.Discount
	}

	if err := bonus.CheckRedeemable(in.BonusesRequested, in.BonusBalance, q.Subtotal.Sub(q.Discount)); err != nil {
		return nil, err
	}
	q.BonusesUsed = in.BonusesRequested

	q.Total = q.Subtotal.
		Sub(q.Discount).
		Sub(decimal.NewFromInt(q.BonusesUsed)).
		Add(q.DeliveryCost)

	return q, nil
}
