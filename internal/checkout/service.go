// Package checkout turns a checkout request into a persisted order.
//
// Every step that reads or writes money, stock or promocode usage runs in
// one serializable transaction. The user's bonus row and the ordered
// product rows are locked before anything is computed, and the single-use
// index on promocode_usages decides races between concurrent submits.
package checkout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/events"
	"github.com/safar/go-storefront/internal/gateway"
	"github.com/safar/go-storefront/internal/metrics"
	"github.com/safar/go-storefront/internal/models"
	"github.com/safar/go-storefront/internal/store"
	"github.com/shopspring/decimal"
)

// CartInvalidator drops cached cart state after the order consumed it.
type CartInvalidator interface {
	Invalidate(ctx context.Context, userID int64)
}

type Options struct {
	GatewayTimeout time.Duration
	MaxRetries     int
}

type Deps struct {
	Pricer    gateway.DeliveryPricer
	Payments  gateway.PaymentGateway
	Publisher events.Publisher
	Carts     CartInvalidator
	Metrics   *metrics.Recorder
	Logger    *slog.Logger
	Now       func() time.Time
}

type Service struct {
	db   *sql.DB
	deps Deps
	opts Options
}

func NewService(db *sql.DB, deps Deps, opts Options) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if opts.GatewayTimeout <= 0 {
		opts.GatewayTimeout = 5 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	deps.Logger = deps.Logger.With("component", "checkout")
	return &Service{db: db, deps: deps, opts: opts}
}

// PlaceOrder runs the whole pipeline. On any error nothing is persisted.
func (s *Service) PlaceOrder(ctx context.Context, userID int64, req Request) (*models.Receipt, error) {
	start := time.Now()
	receipt, err := s.placeOrder(ctx, userID, req)

	outcome := "ok"
	if err != nil {
		outcome = models.ErrorCode(err)
		if outcome == "" {
			outcome = "internal"
		}
		s.deps.Logger.WarnContext(ctx, "checkout rejected",
			"user_id", userID,
			"outcome", outcome,
			"error", err)
	}
	s.deps.Metrics.CheckoutAttempt(ctx, outcome, time.Since(start))

	return receipt, err
}

func (s *Service) placeOrder(ctx context.Context, userID int64, req Request) (*models.Receipt, error) {
	lines, delivery, err := req.Normalize()
	if err != nil {
		return nil, err
	}

	deliveryCost, err := s.priceDelivery(ctx, delivery)
	if err != nil {
		return nil, err
	}

	now := s.deps.Now()
	orderNumber := store.GenerateOrderNumber(now)

	var (
		order    *models.Order
		replayed bool
	)
	err = database.WithRetry(ctx, s.db, database.SerializableTxOptions(s.opts.MaxRetries), func(tx *sql.Tx) error {
		order, replayed = nil, false

		if req.IdempotencyKey != "" {
			existing, err := store.GetOrderByIdempotencyKey(ctx, tx, userID, req.IdempotencyKey)
			if err == nil {
				order, replayed = existing, true
				return nil
			}
			if !errors.Is(err, database.ErrOrderNotFound) {
				return err
			}
		}

		var err error
		order, err = s.commit(ctx, tx, userID, req, lines, delivery, deliveryCost, orderNumber, now)
		return err
	})
	if err != nil {
		if req.IdempotencyKey != "" && database.IsUniqueViolation(err, store.IdempotencyConstraint) {
			return s.replay(ctx, userID, req.IdempotencyKey)
		}
		return nil, err
	}

	if replayed {
		s.deps.Logger.InfoContext(ctx, "checkout replayed",
			"user_id", userID,
			"order_number", order.OrderNumber)
		return order.Receipt(), nil
	}

	if s.deps.Carts != nil {
		s.deps.Carts.Invalidate(ctx, userID)
	}
	events.Emit(ctx, s.deps.Publisher, s.deps.Logger, events.NewOrderEvent(events.TypeOrderCreated, order, ""))

	s.deps.Logger.InfoContext(ctx, "order placed",
		"user_id", userID,
		"order_id", order.ID,
		"order_number", order.OrderNumber,
		"total", order.TotalAmount.StringFixed(2),
		"bonuses_used", order.BonusesUsed,
		"payment_method", order.PaymentMethod)

	return order.Receipt(), nil
}

func (s *Service) commit(
	ctx context.Context,
	tx *sql.Tx,
	userID int64,
	req Request,
	lines []Line,
	delivery models.Delivery,
	deliveryCost decimal.Decimal,
	orderNumber string,
	now time.Time,
) (*models.Order, error) {
	balance, err := store.LockBonusBalance(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, len(lines))
	for i, line := range lines {
		ids[i] = line.ProductID
	}
	products, err := store.LockProducts(ctx, tx, ids)
	if err != nil {
		return nil, err
	}

	input := QuoteInput{
		Lines:            lines,
		Products:         products,
		Now:              now,
		BonusesRequested: req.BonusesUsed,
		BonusBalance:     balance,
		DeliveryCost:     deliveryCost,
	}

	if req.hasPromocode() {
		input.Promocode, input.PromocodeUsed, err = loadPromocode(ctx, tx, userID, req)
		if err != nil {
			return nil, err
		}
	}

	quote, err := BuildQuote(input)
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		UserID:         userID,
		OrderNumber:    orderNumber,
		Status:         models.OrderStatusPending,
		PaymentStatus:  models.PaymentStatusPending,
		PaymentMethod:  req.PaymentMethod,
		Subtotal:       quote.Subtotal,
		DiscountAmount: quote.Discount,
		BonusesUsed:    quote.BonusesUsed,
		DeliveryCost:   quote.DeliveryCost,
		TotalAmount:    quote.Total,
		Delivery:       delivery,
		IdempotencyKey: req.IdempotencyKey,
		Items:          quote.Items,
	}
	if quote.Promo != nil {
		id := quote.Promo.PromocodeID
		order.PromocodeID = &id
	}

	if err := store.InsertOrder(ctx, tx, order); err != nil {
		return nil, err
	}

	for _, item := range order.Items {
		if err := store.DecrementStock(ctx, tx, item.ProductID, item.Quantity); err != nil {
			return nil, err
		}
	}

	if err := store.DebitBonuses(ctx, tx, userID, quote.BonusesUsed); err != nil {
		return nil, err
	}

	if quote.Promo != nil {
		usage := &models.PromocodeUsage{
			PromocodeID: quote.Promo.PromocodeID,
			UserID:      userID,
			OrderID:     order.ID,
			SingleUse:   quote.Promo.SingleUse,
		}
		if err := store.InsertPromocodeUsage(ctx, tx, usage); err != nil {
			return nil, err
		}
	}

	if _, err := store.DeleteCartLines(ctx, tx, userID, ids); err != nil {
		return nil, err
	}

	if order.PaymentMethod == models.PaymentOnline {
		reference, err := s.initiatePayment(ctx, order)
		if err != nil {
			return nil, err
		}
		if err := store.SetPaymentReference(ctx, tx, order.ID, reference); err != nil {
			return nil, err
		}
		order.PaymentReference = reference
	}

	return order, nil
}

// loadPromocode resolves the promocode by id or code. An unknown code is
// reported as invalid rather than not found.
func loadPromocode(ctx context.Context, tx *sql.Tx, userID int64, req Request) (*models.Promocode, bool, error) {
	var (
		p   *models.Promocode
		err error
	)
	if req.PromocodeID != nil {
		p, err = store.GetPromocode(ctx, tx, *req.PromocodeID)
	} else {
		p, err = store.GetPromocodeByCode(ctx, tx, req.PromocodeCode)
	}
	if err != nil {
		if errors.Is(err, database.ErrPromocodeNotFound) {
			return nil, false, fmt.Errorf("%w: not found", models.ErrPromocodeInvalid)
		}
		return nil, false, err
	}

	if p.Type != models.PromocodeSingleUse {
		return p, false, nil
	}

	used, err := store.HasSingleUseUsage(ctx, tx, p.ID, userID)
	if err != nil {
		return nil, false, err
	}
	return p, used, nil
}

func (s *Service) priceDelivery(ctx context.Context, delivery models.Delivery) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.GatewayTimeout)
	defer cancel()

	cost, err := s.deps.Pricer.Price(ctx, delivery)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", models.ErrDeliveryPricingUnavailable, err)
	}
	if cost.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: negative cost %s", models.ErrDeliveryPricingUnavailable, cost)
	}
	return cost, nil
}

func (s *Service) initiatePayment(ctx context.Context, order *models.Order) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.GatewayTimeout)
	defer cancel()

	reference, err := s.deps.Payments.Initiate(ctx, order)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrPaymentGatewayError, err)
	}
	if reference == "" {
		return "", fmt.Errorf("%w: empty payment reference", models.ErrPaymentGatewayError)
	}
	return reference, nil
}

func (s *Service) replay(ctx context.Context, userID int64, key string) (*models.Receipt, error) {
	order, err := store.GetOrderByIdempotencyKey(ctx, s.db, userID, key)
	if err != nil {
		return nil, fmt.Errorf("load replayed order: %w", err)
	}
	return order.Receipt(), nil
}
