package models

import (
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	BonusBalance int64     `json:"bonus_balance"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Version      int       `json:"version"`
}

type Product struct {
	ID                 int64           `json:"id"`
	SKU                string          `json:"sku"`
	Name               string          `json:"name"`
	Description        string          `json:"description,omitempty"`
	Price              decimal.Decimal `json:"price"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
	DiscountStartsAt   *time.Time      `json:"discount_starts_at,omitempty"`
	DiscountEndsAt     *time.Time      `json:"discount_ends_at,omitempty"`
	StockQuantity      int             `json:"stock_quantity"`
	IsArchived         bool            `json:"is_archived"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	Version            int             `json:"version"`
}

// DiscountActive reports whether now falls inside the inclusive discount
// window. A window with a missing bound is never active.
func (p *Product) DiscountActive(now time.Time) bool {
	if !p.DiscountPercentage.IsPositive() || p.DiscountStartsAt == nil || p.DiscountEndsAt == nil {
		return false
	}
	return !now.Before(*p.DiscountStartsAt) && !now.After(*p.DiscountEndsAt)
}

// AppliedDiscount is the discount percentage in effect at now, zero outside the window.
func (p *Product) AppliedDiscount(now time.Time) decimal.Decimal {
	if !p.DiscountActive(now) {
		return decimal.Zero
	}
	return p.DiscountPercentage
}

// EffectivePrice is price × (1 − discount/100) inside the discount window,
// rounded to cents, and the list price otherwise.
func (p *Product) EffectivePrice(now time.Time) decimal.Decimal {
	pct := p.AppliedDiscount(now)
	if pct.IsZero() {
		return p.Price
	}
	return p.Price.Mul(hundred.Sub(pct)).Div(hundred).Round(2)
}

// Available reports whether qty units may be put into a new order.
func (p *Product) Available(qty int) bool {
	return !p.IsArchived && p.StockQuantity >= qty && qty > 0
}

type CartLine struct {
	UserID    int64     `json:"user_id"`
	ProductID int64     `json:"product_id"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type SavedList string

const (
	SavedListWishlist   SavedList = "wishlist"
	SavedListComparison SavedList = "comparison"
)

func (l SavedList) Valid() bool {
	return l == SavedListWishlist || l == SavedListComparison
}

type SavedProduct struct {
	UserID    int64     `json:"user_id"`
	ProductID int64     `json:"product_id"`
	List      SavedList `json:"list"`
	CreatedAt time.Time `json:"created_at"`
}

type PromocodeType string

const (
	PromocodeSingleUse PromocodeType = "single_use"
	PromocodeTemporary PromocodeType = "temporary"
)

type Promocode struct {
	ID                 int64            `json:"id"`
	Code               string           `json:"code"`
	DiscountPercentage decimal.Decimal  `json:"discount_percentage"`
	MinOrderAmount     decimal.Decimal  `json:"min_order_amount"`
	MaxDiscountAmount  *decimal.Decimal `json:"max_discount_amount,omitempty"`
	Type               PromocodeType    `json:"type"`
	ExpiresAt          *time.Time       `json:"expires_at,omitempty"`
	IsActive           bool             `json:"is_active"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

type PromocodeUsage struct {
	ID          int64     `json:"id"`
	PromocodeID int64     `json:"promocode_id"`
	UserID      int64     `json:"user_id"`
	OrderID     int64     `json:"order_id"`
	SingleUse   bool      `json:"single_use"`
	CreatedAt   time.Time `json:"created_at"`
}

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusFailed  PaymentStatus = "failed"
)

type PaymentMethod string

const (
	PaymentOnline     PaymentMethod = "online"
	PaymentOnDelivery PaymentMethod = "on_delivery"
)

func (m PaymentMethod) Valid() bool {
	return m == PaymentOnline || m == PaymentOnDelivery
}

type DeliveryService string

const (
	DeliveryCDEK     DeliveryService = "cdek"
	DeliveryBoxberry DeliveryService = "boxberry"
)

func (s DeliveryService) Valid() bool {
	return s == DeliveryCDEK || s == DeliveryBoxberry
}

type DeliveryType string

const (
	DeliveryPickupPoint DeliveryType = "pvz"
	DeliveryPostamat    DeliveryType = "postamat"
	DeliveryCourier     DeliveryType = "courier"
)

func (t DeliveryType) Valid() bool {
	return t == DeliveryPickupPoint || t == DeliveryPostamat || t == DeliveryCourier
}

type Address struct {
	City       string `json:"city"`
	Street     string `json:"street"`
	Building   string `json:"building"`
	Apartment  string `json:"apartment,omitempty"`
	PostalCode string `json:"postal_code"`
}

// Delivery is the customer's delivery selection. Courier delivery needs an
// address; pickup points and postamats need a point code.
type Delivery struct {
	Service   DeliveryService `json:"service"`
	Type      DeliveryType    `json:"type"`
	PointCode string          `json:"point_code,omitempty"`
	Address   *Address        `json:"address,omitempty"`
}

type Order struct {
	ID                     int64           `json:"id"`
	UserID                 int64           `json:"user_id"`
	OrderNumber            string          `json:"order_number"`
	Status                 OrderStatus     `json:"status"`
	PaymentStatus          PaymentStatus   `json:"payment_status"`
	PaymentMethod          PaymentMethod   `json:"payment_method"`
	PaymentReference       string          `json:"payment_reference,omitempty"`
	Subtotal               decimal.Decimal `json:"subtotal"`
	DiscountAmount         decimal.Decimal `json:"discount_amount"`
	BonusesUsed            int64           `json:"bonuses_used"`
	BonusesEarned          int64           `json:"bonuses_earned"`
	DeliveryCost           decimal.Decimal `json:"delivery_cost"`
	TotalAmount            decimal.Decimal `json:"total_amount"`
	Delivery               Delivery        `json:"delivery"`
	DeliveryTrackingNumber string          `json:"delivery_tracking_number,omitempty"`
	PromocodeID            *int64          `json:"promocode_id,omitempty"`
	IdempotencyKey         string          `json:"-"`
	PaidAt                 *time.Time      `json:"paid_at,omitempty"`
	ShippedAt              *time.Time      `json:"shipped_at,omitempty"`
	DeliveredAt            *time.Time      `json:"delivered_at,omitempty"`
	CompletedAt            *time.Time      `json:"completed_at,omitempty"`
	CancelledAt            *time.Time      `json:"cancelled_at,omitempty"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
	Version                int             `json:"version"`
	Items                  []OrderItem     `json:"items,omitempty"`
}

// PaidSubtotal is the money paid for goods: subtotal less promocode discount
// and redeemed bonuses. Delivery is excluded.
func (o *Order) PaidSubtotal() decimal.Decimal {
	return o.Subtotal.Sub(o.DiscountAmount).Sub(decimal.NewFromInt(o.BonusesUsed))
}

type OrderItem struct {
	ID                 int64           `json:"id"`
	OrderID            int64           `json:"order_id"`
	ProductID          int64           `json:"product_id"`
	ProductName        string          `json:"product_name"`
	Quantity           int             `json:"quantity"`
	UnitPrice          decimal.Decimal `json:"unit_price"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
	Subtotal           decimal.Decimal `json:"subtotal"`
	CreatedAt          time.Time       `json:"created_at"`
}

// Receipt is returned to the client once checkout commits.
type Receipt struct {
	OrderID          int64           `json:"order_id"`
	OrderNumber      string          `json:"order_number"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	DiscountAmount   decimal.Decimal `json:"discount_amount"`
	BonusesUsed      int64           `json:"bonuses_used"`
	DeliveryCost     decimal.Decimal `json:"delivery_cost"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	Status           OrderStatus     `json:"status"`
	PaymentStatus    PaymentStatus   `json:"payment_status"`
	PaymentReference string          `json:"payment_reference,omitempty"`
}

func (o *Order) Receipt() *Receipt {
	return &Receipt{
		OrderID:          o.ID,
		OrderNumber:      o.OrderNumber,
		Subtotal:         o.Subtotal,
		DiscountAmount:   o.DiscountAmount,
		BonusesUsed:      o.BonusesUsed,
		DeliveryCost:     o.DeliveryCost,
		TotalAmount:      o.TotalAmount,
		Status:           o.Status,
		PaymentStatus:    o.PaymentStatus,
		PaymentReference: o.PaymentReference,
	}
}
