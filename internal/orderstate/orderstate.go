// Package orderstate implements the order lifecycle as a pure function over
// the two state axes: fulfillment status and payment status.
package orderstate

import (
	"fmt"

	"github.com/safar/go-storefront/internal/models"
)

type EventKind string

const (
	EventPaymentConfirmed EventKind = "payment_confirmed"
	EventPaymentDeclined  EventKind = "payment_declined"
	EventDispatched       EventKind = "dispatched"
	EventDelivered        EventKind = "delivered"
	EventCompleted        EventKind = "completed"
	EventCancelRequested  EventKind = "cancel_requested"
)

func (k EventKind) Valid() bool {
	switch k {
	case EventPaymentConfirmed, EventPaymentDeclined, EventDispatched,
		EventDelivered, EventCompleted, EventCancelRequested:
		return true
	}
	return false
}

// Target names the state an event drives the order into. Together with the
// order id it is the idempotency key of the transition.
func (k EventKind) Target() string {
	switch k {
	case EventPaymentConfirmed:
		return "payment:" + string(models.PaymentStatusPaid)
	case EventPaymentDeclined:
		return "payment:" + string(models.PaymentStatusFailed)
	case EventDispatched:
		return "status:" + string(models.OrderStatusShipped)
	case EventDelivered:
		return "status:" + string(models.OrderStatusDelivered)
	case EventCompleted:
		return "status:" + string(models.OrderStatusCompleted)
	case EventCancelRequested:
		return "status:" + string(models.OrderStatusCancelled)
	}
	return ""
}

type Event struct {
	Kind           EventKind
	TrackingNumber string
}

type State struct {
	Status        models.OrderStatus
	PaymentStatus models.PaymentStatus
	PaymentMethod models.PaymentMethod
}

func StateOf(o *models.Order) State {
	return State{Status: o.Status, PaymentStatus: o.PaymentStatus, PaymentMethod: o.PaymentMethod}
}

type Policy struct {
	// CancelOnPaymentFailure cancels online orders whose payment is declined.
	// Orders paid on delivery are never cancelled by a decline.
	CancelOnPaymentFailure bool
}

// Effects lists the side effects the caller must perform in the same
// transaction that persists Next.
type Effects struct {
	RefundPayment  bool
	RestoreBonuses bool
	Restock        bool
	CreditBonuses  bool
}

type Result struct {
	Next    State
	Effects Effects
	// TrackingNumber is set only by a dispatch. Other events never touch
	// the stored number.
	TrackingNumber string
}

// Transition returns the state reached by applying ev to cur, or
// ErrInvalidOrderTransition when a guard rejects it.
func Transition(cur State, ev Event, policy Policy) (Result, error) {
	if cur.Status.Terminal() {
		return Result{}, reject(cur, ev)
	}

	next := cur
	var (
		effects  Effects
		tracking string
	)

	switch ev.Kind {
	case EventPaymentConfirmed:
		if cur.PaymentStatus == models.PaymentStatusPaid {
			return Result{}, reject(cur, ev)
		}
		next.PaymentStatus = models.PaymentStatusPaid
		if cur.Status == models.OrderStatusPending {
			next.Status = models.OrderStatusPaid
		}

	case EventPaymentDeclined:
		if cur.PaymentStatus != models.PaymentStatusPending {
			return Result{}, reject(cur, ev)
		}
		next.PaymentStatus = models.PaymentStatusFailed
		if cur.Status == models.OrderStatusPending && cur.PaymentMethod == models.PaymentOnline && policy.CancelOnPaymentFailure {
			next.Status = models.OrderStatusCancelled
			effects = cancellationEffects(cur)
		}

	case EventDispatched:
		if ev.TrackingNumber == "" {
			return Result{}, fmt.Errorf("%w: tracking number required", models.ErrInvalidRequest)
		}
		switch {
		case cur.Status == models.OrderStatusPaid:
		case cur.Status == models.OrderStatusPending && cur.PaymentMethod == models.PaymentOnDelivery:
		default:
			return Result{}, reject(cur, ev)
		}
		next.Status = models.OrderStatusShipped
		tracking = ev.TrackingNumber

	case EventDelivered:
		if cur.Status != models.OrderStatusShipped {
			return Result{}, reject(cur, ev)
		}
		next.Status = models.OrderStatusDelivered

	case EventCompleted:
		if cur.Status != models.OrderStatusDelivered || cur.PaymentStatus != models.PaymentStatusPaid {
			return Result{}, reject(cur, ev)
		}
		next.Status = models.OrderStatusCompleted
		effects.CreditBonuses = true

	case EventCancelRequested:
		if cur.Status != models.OrderStatusPending && cur.Status != models.OrderStatusPaid {
			return Result{}, reject(cur, ev)
		}
		next.Status = models.OrderStatusCancelled
		effects = cancellationEffects(cur)

	default:
		return Result{}, fmt.Errorf("%w: unknown event %q", models.ErrInvalidRequest, ev.Kind)
	}

	return Result{Next: next, Effects: effects, TrackingNumber: tracking}, nil
}

// cancellationEffects refunds only money taken through the gateway. Cash
// collected on delivery is settled outside the system.
func cancellationEffects(cur State) Effects {
	return Effects{
		RefundPayment:  cur.PaymentStatus == models.PaymentStatusPaid && cur.PaymentMethod == models.PaymentOnline,
		RestoreBonuses: true,
		Restock:        true,
	}
}

func reject(cur State, ev Event) error {
	return fmt.Errorf("%w: %s on %s/%s", models.ErrInvalidOrderTransition, ev.Kind, cur.Status, cur.PaymentStatus)
}
