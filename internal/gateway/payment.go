package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/safar/go-storefront/internal/models"
)

// PaymentGateway starts online payments and signals refunds. The outcome of
// a payment arrives later as a callback keyed by the returned reference.
//
// Both calls run inside a retried database transaction, so they may be
// repeated for the same order. Initiate must return the same reference for
// the same order number, and Refund must refund an order's payment at most
// once however many times it is called.
type PaymentGateway interface {
	Initiate(ctx context.Context, order *models.Order) (string, error)
	Refund(ctx context.Context, order *models.Order) error
}

var ErrUnknownPayment = errors.New("unknown payment reference")

// DeferredGateway issues references locally and leaves confirmation to the
// callback endpoint. It is the development stand-in for a real acquirer.
type DeferredGateway struct {
	logger *slog.Logger

	mu        sync.Mutex
	initiated map[string]string
	refunded  map[string]bool
}

func NewDeferredGateway(logger *slog.Logger) *DeferredGateway {
	return &DeferredGateway{
		logger:    logger.With("component", "payment_gateway"),
		initiated: make(map[string]string),
		refunded:  make(map[string]bool),
	}
}

// Initiate is idempotent per order number, so a retried checkout
// transaction reuses the reference it was given the first time.
func (g *DeferredGateway) Initiate(ctx context.Context, order *models.Order) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if ref, ok := g.initiated[order.OrderNumber]; ok {
		return ref, nil
	}

	ref := "pay_" + uuid.NewString()
	g.initiated[order.OrderNumber] = ref
	g.logger.InfoContext(ctx, "payment initiated",
		"order_number", order.OrderNumber,
		"reference", ref,
		"amount", order.TotalAmount.StringFixed(2))
	return ref, nil
}

func (g *DeferredGateway) Refund(ctx context.Context, order *models.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if order.PaymentReference == "" {
		return ErrUnknownPayment
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.refunded[order.PaymentReference] {
		return nil
	}
	g.refunded[order.PaymentReference] = true
	g.logger.InfoContext(ctx, "refund signaled",
		"order_number", order.OrderNumber,
		"reference", order.PaymentReference,
		"amount", order.TotalAmount.StringFixed(2))
	return nil
}

func (g *DeferredGateway) Refunded(reference string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.refunded[reference]
}
