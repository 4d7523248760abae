// Package lifecycle applies lifecycle events to persisted orders.
//
// Each event is journaled under (order, target state) in the same
// transaction that applies it, so a redelivered event finds its journal row
// and changes nothing. Side effects (bonus restore and credit, restock,
// refund signal) commit or roll back together with the state change.
package lifecycle

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/safar/go-storefront/internal/bonus"
	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/events"
	"github.com/safar/go-storefront/internal/gateway"
	"github.com/safar/go-storefront/internal/metrics"
	"github.com/safar/go-storefront/internal/models"
	"github.com/safar/go-storefront/internal/orderstate"
	"github.com/safar/go-storefront/internal/store"
	"github.com/shopspring/decimal"
)

type Options struct {
	Policy           orderstate.Policy
	BonusEarnPercent decimal.Decimal
	GatewayTimeout   time.Duration
	MaxRetries       int
}

type Deps struct {
	Payments  gateway.PaymentGateway
	Publisher events.Publisher
	Metrics   *metrics.Recorder
	Logger    *slog.Logger
}

// Outcome is the order after the event. Applied is false when the event
// was a duplicate of one already processed.
type Outcome struct {
	Order   *models.Order
	Applied bool
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
	if opts.GatewayTimeout <= 0 {
		opts.GatewayTimeout = 5 * time.Second
	}
	deps.Logger = deps.Logger.With("component", "lifecycle")
	return &Service{db: db, deps: deps, opts: opts}
}

func (s *Service) Apply(ctx context.Context, orderID int64, ev orderstate.Event) (*Outcome, error) {
	return s.run(ctx, ev, func(tx *sql.Tx) (*models.Order, error) {
		return store.LockOrder(ctx, tx, orderID)
	})
}

// ApplyByPaymentReference handles gateway callbacks, which only know the
// reference issued at checkout.
func (s *Service) ApplyByPaymentReference(ctx context.Context, reference string, ev orderstate.Event) (*Outcome, error) {
	if reference == "" {
		return nil, fmt.Errorf("%w: empty payment reference", models.ErrInvalidRequest)
	}
	return s.run(ctx, ev, func(tx *sql.Tx) (*models.Order, error) {
		return store.LockOrderByPaymentReference(ctx, tx, reference)
	})
}

// CompleteDue completes the oldest paid order delivered before cutoff. It
// returns database.ErrOrderNotFound when nothing is due.
func (s *Service) CompleteDue(ctx context.Context, cutoff time.Time) (*Outcome, error) {
	_, outcome, err := s.completeNext(ctx, cutoff, nil)
	return outcome, err
}

// completeNext is CompleteDue with a list of order ids to pass over. It also
// reports the id it claimed, so a caller can skip an order that fails.
func (s *Service) completeNext(ctx context.Context, cutoff time.Time, skip []int64) (int64, *Outcome, error) {
	var claimed int64
	outcome, err := s.run(ctx, orderstate.Event{Kind: orderstate.EventCompleted}, func(tx *sql.Tx) (*models.Order, error) {
		order, err := store.NextOrderDueForCompletion(ctx, tx, cutoff, skip)
		if err != nil {
			return nil, err
		}
		claimed = order.ID
		return order, nil
	})
	return claimed, outcome, err
}

func (s *Service) run(ctx context.Context, ev orderstate.Event, lock func(*sql.Tx) (*models.Order, error)) (*Outcome, error) {
	if !ev.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown event %q", models.ErrInvalidRequest, ev.Kind)
	}

	var (
		order   *models.Order
		applied bool
	)
	err := database.WithRetry(ctx, s.db, database.SerializableTxOptions(s.opts.MaxRetries), func(tx *sql.Tx) error {
		var err error
		order, err = lock(tx)
		if err != nil {
			return err
		}

		applied, err = s.apply(ctx, tx, order, ev)
		if err != nil {
			return err
		}
		if !applied {
			return nil
		}

		order, err = store.GetOrder(ctx, tx, order.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.deps.Metrics.Transition(ctx, string(ev.Kind), applied)

	if !applied {
		s.deps.Logger.InfoContext(ctx, "duplicate order event ignored",
			"order_id", order.ID,
			"event", ev.Kind)
		return &Outcome{Order: order, Applied: false}, nil
	}

	s.deps.Logger.InfoContext(ctx, "order transitioned",
		"order_id", order.ID,
		"order_number", order.OrderNumber,
		"event", ev.Kind,
		"status", order.Status,
		"payment_status", order.PaymentStatus)
	events.Emit(ctx, s.deps.Publisher, s.deps.Logger, events.NewOrderEvent(events.TypeOrderTransitioned, order, string(ev.Kind)))

	return &Outcome{Order: order, Applied: true}, nil
}

// apply runs inside the caller's transaction with order already locked.
func (s *Service) apply(ctx context.Context, tx *sql.Tx, order *models.Order, ev orderstate.Event) (bool, error) {
	target := ev.Kind.Target()
	first, err := store.RecordTransition(ctx, tx, order.ID, target, string(ev.Kind))
	if err != nil {
		return false, err
	}
	if !first {
		return false, nil
	}

	result, err := orderstate.Transition(orderstate.StateOf(order), ev, s.opts.Policy)
	if err != nil {
		return false, err
	}

	effects := result.Effects

	if effects.RestoreBonuses && order.BonusesUsed > 0 {
		if err := store.CreditBonuses(ctx, tx, order.UserID, order.BonusesUsed); err != nil {
			return false, fmt.Errorf("restore bonuses: %w", err)
		}
	}

	if effects.Restock {
		for _, item := range order.Items {
			if err := store.IncrementStock(ctx, tx, item.ProductID, item.Quantity); err != nil {
				return false, err
			}
		}
	}

	var earned int64
	if effects.CreditBonuses {
		earned = bonus.Earned(order.PaidSubtotal(), s.opts.BonusEarnPercent)
		if err := store.CreditBonuses(ctx, tx, order.UserID, earned); err != nil {
			return false, fmt.Errorf("credit earned bonuses: %w", err)
		}
	}

	err = store.UpdateOrderState(ctx, tx, order.ID, order.Version, store.StateUpdate{
		Status:         result.Next.Status,
		PaymentStatus:  result.Next.PaymentStatus,
		TrackingNumber: result.TrackingNumber,
		BonusesEarned:  earned,
	})
	if err != nil {
		return false, err
	}

	// A decline that cancels the order also closes the cancellation target,
	// so a late cancel request is seen as a duplicate.
	if result.Next.Status == models.OrderStatusCancelled && ev.Kind != orderstate.EventCancelRequested {
		if _, err := store.RecordTransition(ctx, tx, order.ID, orderstate.EventCancelRequested.Target(), string(ev.Kind)); err != nil {
			return false, err
		}
	}

	// The refund goes last so that no database write of this attempt can
	// fail after it. Only a failed commit can still re-send it, which
	// PaymentGateway.Refund tolerates.
	if effects.RefundPayment {
		if err := s.refund(ctx, order); err != nil {
			return false, err
		}
	}

	return true, nil
}

func (s *Service) refund(ctx context.Context, order *models.Order) error {
	if s.deps.Payments == nil {
		return fmt.Errorf("%w: no payment gateway configured", models.ErrPaymentGatewayError)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.GatewayTimeout)
	defer cancel()

	if err := s.deps.Payments.Refund(ctx, order); err != nil {
		return fmt.Errorf("%w: refund %s: %v", models.ErrPaymentGatewayError, order.OrderNumber, err)
	}
	return nil
}
