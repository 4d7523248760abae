// Package gateway holds the delivery and payment collaborators the order
// pipeline calls out to.
package gateway

import (
	"context"
	"fmt"

	"github.com/safar/go-storefront/internal/models"
	"github.com/shopspring/decimal"
)

type DeliveryPricer interface {
	Price(ctx context.Context, delivery models.Delivery) (decimal.Decimal, error)
}

// TariffPricer prices deliveries from a flat table keyed by "service:type".
type TariffPricer struct {
	tariffs map[string]decimal.Decimal
}

func NewTariffPricer(tariffs map[string]decimal.Decimal) *TariffPricer {
	copied := make(map[string]decimal.Decimal, len(tariffs))
	for key, cost := range tariffs {
		copied[key] = cost
	}
	return &TariffPricer{tariffs: copied}
}

func TariffKey(service models.DeliveryService, deliveryType models.DeliveryType) string {
	return string(service) + ":" + string(deliveryType)
}

func (p *TariffPricer) Price(ctx context.Context, delivery models.Delivery) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}

	key := TariffKey(delivery.Service, delivery.Type)
	cost, ok := p.tariffs[key]
	if !ok {
		return decimal.Zero, fmt.Errorf("no tariff for %s", key)
	}
	return cost, nil
}
