package checkout

import (
	"fmt"
	"strings"

	"github.com/safar/go-storefront/internal/models"
	"github.com/shopspring/decimal"
)

type ItemRequest struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
	// Price is the client's view of the unit price. It is never trusted.
	Price *decimal.Decimal `json:"price,omitempty"`
}

// AddressRequest is the courier address as the checkout client sends it.
type AddressRequest struct {
	City       string `json:"city"`
	Street     string `json:"street"`
	Building   string `json:"building"`
	Apartment  string `json:"apartment,omitempty"`
	PostalCode string `json:"postalCode"`
}

func (a *AddressRequest) address() *models.Address {
	return &models.Address{
		City:       strings.TrimSpace(a.City),
		Street:     strings.TrimSpace(a.Street),
		Building:   strings.TrimSpace(a.Building),
		Apartment:  strings.TrimSpace(a.Apartment),
		PostalCode: strings.TrimSpace(a.PostalCode),
	}
}

type Request struct {
	Items             []ItemRequest          `json:"items"`
	DeliveryService   models.DeliveryService `json:"deliveryService"`
	DeliveryType      models.DeliveryType    `json:"deliveryType"`
	DeliveryPointCode string                 `json:"deliveryPointCode,omitempty"`
	DeliveryAddress   *AddressRequest        `json:"deliveryAddress,omitempty"`
	PaymentMethod     models.PaymentMethod   `json:"paymentMethod"`
	PromocodeID       *int64                 `json:"promocodeId,omitempty"`
	PromocodeCode     string                 `json:"promocode,omitempty"`
	BonusesUsed       int64                  `json:"bonusesUsed,omitempty"`
	IdempotencyKey    string                 `json:"idempotencyKey,omitempty"`
}

func (r Request) hasPromocode() bool {
	return r.PromocodeID != nil || strings.TrimSpace(r.PromocodeCode) != ""
}

// Normalize checks the request shape and merges repeated products into one
// line, keeping first-seen order.
func (r Request) Normalize() ([]Line, models.Delivery, error) {
	if len(r.Items) == 0 {
		return nil, models.Delivery{}, models.ErrEmptyCart
	}

	index := make(map[int64]int, len(r.Items))
	lines := make([]Line, 0, len(r.Items))
	for _, item := range r.Items {
		if item.ProductID <= 0 {
			return nil, models.Delivery{}, fmt.Errorf("%w: product id %d", models.ErrInvalidRequest, item.ProductID)
		}
		if item.Quantity < 1 {
			return nil, models.Delivery{}, fmt.Errorf("%w: quantity %d for product %d", models.ErrInvalidRequest, item.Quantity, item.ProductID)
		}
		if i, ok := index[item.ProductID]; ok {
			lines[i].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(lines)
		lines = append(lines, Line{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	if !r.PaymentMethod.Valid() {
		return nil, models.Delivery{}, fmt.Errorf("%w: payment method %q", models.ErrInvalidRequest, r.PaymentMethod)
	}
	if r.BonusesUsed < 0 {
		return nil, models.Delivery{}, fmt.Errorf("%w: negative bonuses", models.ErrInvalidRequest)
	}
	if len(r.IdempotencyKey) > 128 {
		return nil, models.Delivery{}, fmt.Errorf("%w: idempotency key too long", models.ErrInvalidRequest)
	}

	delivery, err := r.delivery()
	if err != nil {
		return nil, models.Delivery{}, err
	}

	return lines, delivery, nil
}

func (r Request) delivery() (models.Delivery, error) {
	if !r.DeliveryService.Valid() {
		return models.Delivery{}, fmt.Errorf("%w: delivery service %q", models.ErrInvalidRequest, r.DeliveryService)
	}
	if !r.DeliveryType.Valid() {
		return models.Delivery{}, fmt.Errorf("%w: delivery type %q", models.ErrInvalidRequest, r.DeliveryType)
	}

	d := models.Delivery{Service: r.DeliveryService, Type: r.DeliveryType}
	if r.DeliveryType == models.DeliveryCourier {
		if r.DeliveryAddress == nil {
			return models.Delivery{}, fmt.Errorf("%w: courier delivery needs an address", models.ErrInvalidRequest)
		}
		a := r.DeliveryAddress.address()
		if a.City == "" || a.Street == "" || a.Building == "" || a.PostalCode == "" {
			return models.Delivery{}, fmt.Errorf("%w: courier delivery needs city, street, building and postal code", models.ErrInvalidRequest)
		}
		d.Address = a
		return d, nil
	}

	if strings.TrimSpace(r.DeliveryPointCode) == "" {
		return models.Delivery{}, fmt.Errorf("%w: %s delivery needs a point code", models.ErrInvalidRequest, r.DeliveryType)
	}
	d.PointCode = strings.TrimSpace(r.DeliveryPointCode)
	return d, nil
}
