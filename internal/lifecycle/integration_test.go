package lifecycle

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/safar/go-storefront/internal/checkout"
	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/gateway"
	"github.com/safar/go-storefront/internal/models"
	"github.com/safar/go-storefront/internal/orderstate"
	"github.com/safar/go-storefront/internal/store"
	"github.com/safar/go-storefront/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	db       *sql.DB
	payments *gateway.DeferredGateway
	checkout *checkout.Service
	svc      *Service
	user     *models.User
	product  *models.Product
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewPostgres(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	payments := gateway.NewDeferredGateway(logger)

	user, err := store.CreateUser(ctx, db, "lifecycle@example.com", "Buyer", 500)
	require.NoError(t, err)

	product, err := store.CreateProduct(ctx, db, store.CreateProductParams{
		SKU:   "LAMP-1",
		Name:  "Lamp",
		Price: decimal.NewFromInt(1000),
		Stock: 10,
	})
	require.NoError(t, err)

	co := checkout.NewService(db, checkout.Deps{
		Pricer:   gateway.NewTariffPricer(map[string]decimal.Decimal{"cdek:pvz": decimal.NewFromInt(300)}),
		Payments: payments,
		Logger:   logger,
	}, checkout.Options{GatewayTimeout: 2 * time.Second, MaxRetries: 5})

	svc := NewService(db, Deps{Payments: payments, Logger: logger}, Options{
		Policy:           orderstate.Policy{CancelOnPaymentFailure: true},
		BonusEarnPercent: decimal.NewFromInt(10),
		GatewayTimeout:   2 * time.Second,
		MaxRetries:       5,
	})

	return &fixture{db: db, payments: payments, checkout: co, svc: svc, user: user, product: product}
}

func (f *fixture) placeOrder(t *testing.T, method models.PaymentMethod, bonuses int64) *models.Receipt {
	t.Helper()

	receipt, err := f.checkout.PlaceOrder(context.Background(), f.user.ID, checkout.Request{
		Items:             []checkout.ItemRequest{{ProductID: f.product.ID, Quantity: 2}},
		DeliveryService:   models.DeliveryCDEK,
		DeliveryType:      models.DeliveryPickupPoint,
		DeliveryPointCode: "MSK-1",
		PaymentMethod:     method,
		BonusesUsed:       bonuses,
	})
	require.NoError(t, err)
	return receipt
}

func (f *fixture) balance(t *testing.T) int64 {
	t.Helper()
	user, err := store.GetUser(context.Background(), f.db, f.user.ID)
	require.NoError(t, err)
	return user.BonusBalance
}

func (f *fixture) stock(t *testing.T) int {
	t.Helper()
	product, err := store.GetProduct(context.Background(), f.db, f.product.ID)
	require.NoError(t, err)
	return product.StockQuantity
}

func (f *fixture) deliver(t *testing.T, receipt *models.Receipt) {
	t.Helper()
	ctx := context.Background()

	_, err := f.svc.ApplyByPaymentReference(ctx, receipt.PaymentReference, orderstate.Event{Kind: orderstate.EventPaymentConfirmed})
	require.NoError(t, err)
	_, err = f.svc.Apply(ctx, receipt.OrderID, orderstate.Event{Kind: orderstate.EventDispatched, TrackingNumber: "TRK-42"})
	require.NoError(t, err)
	_, err = f.svc.Apply(ctx, receipt.OrderID, orderstate.Event{Kind: orderstate.EventDelivered})
	require.NoError(t, err)
}

func TestFullLifecycleCreditsBonusesOnceIntegration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	receipt := f.placeOrder(t, models.PaymentOnline, 100)
	assert.Equal(t, int64(400), f.balance(t))

	f.deliver(t, receipt)

	// paid subtotal = 2000 - 100 bonuses = 1900; 10% = 190
	var wg sync.WaitGroup
	outcomes := make([]*Outcome, 3)
	errs := make([]error, 3)
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = f.svc.Apply(ctx, receipt.OrderID, orderstate.Event{Kind: orderstate.EventCompleted})
		}(i)
	}
	wg.Wait()

	applied := 0
	for i := range outcomes {
		require.NoError(t, errs[i])
		if outcomes[i].Applied {
			applied++
		}
		assert.Equal(t, models.OrderStatusCompleted, outcomes[i].Order.Status)
	}
	assert.Equal(t, 1, applied)
	assert.Equal(t, int64(400+190), f.balance(t))

	order, err := store.GetOrder(ctx, f.db, receipt.OrderID)
	require.NoError(t, err)
	assert.Equal(t, int64(190), order.BonusesEarned)
	assert.Equal(t, "TRK-42", order.DeliveryTrackingNumber)
	assert.NotNil(t, order.PaidAt)
	assert.NotNil(t, order.ShippedAt)
	assert.NotNil(t, order.DeliveredAt)
	assert.NotNil(t, order.CompletedAt)

	_, err = f.svc.Apply(ctx, receipt.OrderID, orderstate.Event{Kind: orderstate.EventCancelRequested})
	assert.ErrorIs(t, err, models.ErrInvalidOrderTransition)
}

func TestDuplicatePaymentCallbackIsNoopIntegration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	receipt := f.placeOrder(t, models.PaymentOnline, 0)

	first, err := f.svc.ApplyByPaymentReference(ctx, receipt.PaymentReference, orderstate.Event{Kind: orderstate.EventPaymentConfirmed})
	require.NoError(t, err)
	assert.True(t, first.Applied)
	assert.Equal(t, models.OrderStatusPaid, first.Order.Status)

	again, err := f.svc.ApplyByPaymentReference(ctx, receipt.PaymentReference, orderstate.Event{Kind: orderstate.EventPaymentConfirmed})
	require.NoError(t, err)
	assert.False(t, again.Applied)
	assert.Equal(t, first.Order.Version, again.Order.Version)
}

func TestCancelPaidOrderRestoresEverythingIntegration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	receipt := f.placeOrder(t, models.PaymentOnline, 150)
	assert.Equal(t, int64(350), f.balance(t))
	assert.Equal(t, 8, f.stock(t))

	_, err := f.svc.ApplyByPaymentReference(ctx, receipt.PaymentReference, orderstate.Event{Kind: orderstate.EventPaymentConfirmed})
	require.NoError(t, err)

	outcome, err := f.svc.Apply(ctx, receipt.OrderID, orderstate.Event{Kind: orderstate.EventCancelRequested})
	require.NoError(t, err)
	assert.True(t, outcome.Applied)
	assert.Equal(t, models.OrderStatusCancelled, outcome.Order.Status)
	assert.NotNil(t, outcome.Order.CancelledAt)

	assert.Equal(t, int64(500), f.balance(t))
	assert.Equal(t, 10, f.stock(t))
	assert.True(t, f.payments.Refunded(receipt.PaymentReference))
}

func TestDeclinedOnlinePaymentCancelsIntegration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	receipt := f.placeOrder(t, models.PaymentOnline, 50)

	outcome, err := f.svc.ApplyByPaymentReference(ctx, receipt.PaymentReference, orderstate.Event{Kind: orderstate.EventPaymentDeclined})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, outcome.Order.Status)
	assert.Equal(t, models.PaymentStatusFailed, outcome.Order.PaymentStatus)
	assert.Equal(t, int64(500), f.balance(t))
	assert.Equal(t, 10, f.stock(t))
	assert.False(t, f.payments.Refunded(receipt.PaymentReference))

	late, err := f.svc.Apply(ctx, receipt.OrderID, orderstate.Event{Kind: orderstate.EventCancelRequested})
	require.NoError(t, err)
	assert.False(t, late.Applied)
}

func TestOnDeliveryOrderShipsUnpaidIntegration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	receipt := f.placeOrder(t, models.PaymentOnDelivery, 0)
	assert.Empty(t, receipt.PaymentReference)

	shipped, err := f.svc.Apply(ctx, receipt.OrderID, orderstate.Event{Kind: orderstate.EventDispatched, TrackingNumber: "TRK-7"})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusShipped, shipped.Order.Status)
	assert.Equal(t, models.PaymentStatusPending, shipped.Order.PaymentStatus)

	_, err = f.svc.Apply(ctx, receipt.OrderID, orderstate.Event{Kind: orderstate.EventDelivered})
	require.NoError(t, err)

	_, err = f.svc.Apply(ctx, receipt.OrderID, orderstate.Event{Kind: orderstate.EventCompleted})
	assert.ErrorIs(t, err, models.ErrInvalidOrderTransition, "unpaid orders cannot complete")

	paid, err := f.svc.Apply(ctx, receipt.OrderID, orderstate.Event{Kind: orderstate.EventPaymentConfirmed})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusDelivered, paid.Order.Status)
	assert.Equal(t, models.PaymentStatusPaid, paid.Order.PaymentStatus)

	done, err := f.svc.Apply(ctx, receipt.OrderID, orderstate.Event{Kind: orderstate.EventCompleted})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCompleted, done.Order.Status)
}

func TestAutoCompletionIntegration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	receipt := f.placeOrder(t, models.PaymentOnline, 0)
	f.deliver(t, receipt)

	completed, err := f.svc.completeBatch(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, completed, "recently delivered orders are not due")

	completed, err = f.svc.completeBatch(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, completed)

	_, err = f.svc.CompleteDue(ctx, time.Now().Add(time.Minute))
	assert.ErrorIs(t, err, database.ErrOrderNotFound)

	order, err := store.GetOrder(ctx, f.db, receipt.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCompleted, order.Status)
	assert.Equal(t, int64(500+200), f.balance(t))
}
