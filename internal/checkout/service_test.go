package checkout

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/safar/go-storefront/internal/gateway"
	"github.com/safar/go-storefront/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var productCols = []string{
	"id", "sku", "name", "description", "price", "discount_percentage", "discount_starts_at",
	"discount_ends_at", "stock_quantity", "is_archived", "created_at", "updated_at", "version",
}

type failingPricer struct{}

func (failingPricer) Price(context.Context, models.Delivery) (decimal.Decimal, error) {
	return decimal.Zero, errors.New("carrier api timeout")
}

type failingPayments struct{}

func (failingPayments) Initiate(context.Context, *models.Order) (string, error) {
	return "", errors.New("acquirer unavailable")
}

func (failingPayments) Refund(context.Context, *models.Order) error { return nil }

type recordingCarts struct {
	invalidated []int64
}

func (c *recordingCarts) Invalidate(_ context.Context, userID int64) {
	c.invalidated = append(c.invalidated, userID)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T, deps Deps) (*Service, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	if deps.Pricer == nil {
		deps.Pricer = gateway.NewTariffPricer(map[string]decimal.Decimal{"cdek:pvz": decimal.NewFromInt(300)})
	}
	if deps.Payments == nil {
		deps.Payments = gateway.NewDeferredGateway(discardLogger())
	}
	deps.Logger = discardLogger()
	deps.Now = func() time.Time { return quoteNow }

	return NewService(db, deps, Options{GatewayTimeout: time.Second, MaxRetries: 0}), mock
}

func expectLocks(mock sqlmock.Sqlmock, balance int64, archived bool) {
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT bonus_balance FROM users WHERE id = $1 FOR UPDATE")).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"bonus_balance"}).AddRow(balance))
	mock.ExpectQuery(regexp.QuoteMeta("FROM products")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(productCols).AddRow(
			int64(10), "SKU-10", "Kettle", "", "1000.00", "0", nil, nil, 5, archived, quoteNow, quoteNow, 1,
		))
}

func expectOrderWrites(mock sqlmock.Sqlmock, bonuses int64) {
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO orders")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at", "version"}).
			AddRow(int64(77), quoteNow, quoteNow, 1))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO order_items")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(1), quoteNow))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE products")).
		WithArgs(1, int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if bonuses > 0 {
		mock.ExpectExec(regexp.QuoteMeta("UPDATE users")).
			WithArgs(bonuses, int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	// only the ordered products leave the cart
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM cart_items")).
		WithArgs(int64(1), pq.Array([]int64{10})).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func onDeliveryRequest() Request {
	req := pickupRequest(ItemRequest{ProductID: 10, Quantity: 1})
	req.PaymentMethod = models.PaymentOnDelivery
	req.BonusesUsed = 200
	return req
}

func TestPlaceOrderCommitsEverything(t *testing.T) {
	carts := &recordingCarts{}
	svc, mock := newTestService(t, Deps{Carts: carts})

	expectLocks(mock, 500, false)
	expectOrderWrites(mock, 200)
	mock.ExpectCommit()

	receipt, err := svc.PlaceOrder(context.Background(), 1, onDeliveryRequest())
	require.NoError(t, err)

	assert.Equal(t, int64(77), receipt.OrderID)
	assert.Regexp(t, `^ORD-20260504-`, receipt.OrderNumber)
	assert.True(t, receipt.Subtotal.Equal(decimal.NewFromInt(1000)))
	assert.True(t, receipt.TotalAmount.Equal(decimal.NewFromInt(1100)), receipt.TotalAmount.String())
	assert.Equal(t, models.OrderStatusPending, receipt.Status)
	assert.Equal(t, models.PaymentStatusPending, receipt.PaymentStatus)
	assert.Empty(t, receipt.PaymentReference)
	assert.Equal(t, []int64{1}, carts.invalidated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlaceOrderArchivedProductRollsBack(t *testing.T) {
	carts := &recordingCarts{}
	svc, mock := newTestService(t, Deps{Carts: carts})

	expectLocks(mock, 500, true)
	mock.ExpectRollback()

	_, err := svc.PlaceOrder(context.Background(), 1, onDeliveryRequest())
	assert.ErrorIs(t, err, models.ErrProductUnavailable)
	assert.Empty(t, carts.invalidated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlaceOrderInsufficientBonusesRollsBack(t *testing.T) {
	svc, mock := newTestService(t, Deps{})

	expectLocks(mock, 100, false)
	mock.ExpectRollback()

	req := onDeliveryRequest()
	req.BonusesUsed = 5000
	_, err := svc.PlaceOrder(context.Background(), 1, req)
	assert.ErrorIs(t, err, models.ErrInsufficientBonusBalance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlaceOrderDeliveryPricingFailureTouchesNothing(t *testing.T) {
	svc, mock := newTestService(t, Deps{Pricer: failingPricer{}})

	_, err := svc.PlaceOrder(context.Background(), 1, onDeliveryRequest())
	assert.ErrorIs(t, err, models.ErrDeliveryPricingUnavailable)
	assert.True(t, models.IsRetryable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlaceOrderPaymentFailureRollsBack(t *testing.T) {
	svc, mock := newTestService(t, Deps{Payments: failingPayments{}})

	expectLocks(mock, 500, false)
	expectOrderWrites(mock, 200)
	mock.ExpectRollback()

	req := onDeliveryRequest()
	req.PaymentMethod = models.PaymentOnline
	_, err := svc.PlaceOrder(context.Background(), 1, req)
	assert.ErrorIs(t, err, models.ErrPaymentGatewayError)
	assert.True(t, models.IsRetryable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlaceOrderOnlineStoresPaymentReference(t *testing.T) {
	svc, mock := newTestService(t, Deps{})

	expectLocks(mock, 500, false)
	expectOrderWrites(mock, 200)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE orders SET payment_reference")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	req := onDeliveryRequest()
	req.PaymentMethod = models.PaymentOnline
	receipt, err := svc.PlaceOrder(context.Background(), 1, req)
	require.NoError(t, err)
	assert.Regexp(t, `^pay_`, receipt.PaymentReference)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlaceOrderUnknownPromocodeIsInvalid(t *testing.T) {
	svc, mock := newTestService(t, Deps{})

	expectLocks(mock, 500, false)
	mock.ExpectQuery(regexp.QuoteMeta("FROM promocodes WHERE code = $1")).
		WithArgs("NOPE").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	req := onDeliveryRequest()
	req.PromocodeCode = "NOPE"
	_, err := svc.PlaceOrder(context.Background(), 1, req)
	assert.ErrorIs(t, err, models.ErrPromocodeInvalid)
	assert.NoError(t, mock.ExpectationsWereMet())
}
