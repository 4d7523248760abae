package store

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockTx(t *testing.T) (*sql.DB, *sql.Tx, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectBegin()
	tx, err := db.Begin()
	require.NoError(t, err)

	return db, tx, mock
}

func TestDecrementStockRejectsOversell(t *testing.T) {
	_, tx, mock := newMockTx(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE products")).
		WithArgs(3, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := DecrementStock(context.Background(), tx, 7, 3)
	assert.ErrorIs(t, err, models.ErrProductUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDecrementStock(t *testing.T) {
	_, tx, mock := newMockTx(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE products")).
		WithArgs(2, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, DecrementStock(context.Background(), tx, 7, 2))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDebitBonuses(t *testing.T) {
	t.Run("insufficient", func(t *testing.T) {
		_, tx, mock := newMockTx(t)
		mock.ExpectExec(regexp.QuoteMeta("UPDATE users")).
			WithArgs(int64(500), int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := DebitBonuses(context.Background(), tx, 1, 500)
		assert.ErrorIs(t, err, models.ErrInsufficientBonusBalance)
	})

	t.Run("zero is a no-op", func(t *testing.T) {
		_, tx, mock := newMockTx(t)
		require.NoError(t, DebitBonuses(context.Background(), tx, 1, 0))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("debits", func(t *testing.T) {
		_, tx, mock := newMockTx(t)
		mock.ExpectExec(regexp.QuoteMeta("UPDATE users")).
			WithArgs(int64(200), int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, DebitBonuses(context.Background(), tx, 1, 200))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLockBonusBalanceMissingUser(t *testing.T) {
	_, tx, mock := newMockTx(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT bonus_balance FROM users WHERE id = $1 FOR UPDATE")).
		WithArgs(int64(9)).
		WillReturnError(sql.ErrNoRows)

	_, err := LockBonusBalance(context.Background(), tx, 9)
	assert.ErrorIs(t, err, database.ErrUserNotFound)
}

func TestInsertPromocodeUsageMapsSingleUseConflict(t *testing.T) {
	_, tx, mock := newMockTx(t)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO promocode_usages")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: SingleUseConstraint})

	err := InsertPromocodeUsage(context.Background(), tx, &models.PromocodeUsage{
		PromocodeID: 1, UserID: 2, OrderID: 3, SingleUse: true,
	})
	assert.ErrorIs(t, err, models.ErrPromocodeAlreadyUsed)
}

func TestInsertPromocodeUsageKeepsOtherConflicts(t *testing.T) {
	_, tx, mock := newMockTx(t)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO promocode_usages")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "promocode_usages_order_id_key"})

	err := InsertPromocodeUsage(context.Background(), tx, &models.PromocodeUsage{PromocodeID: 1, UserID: 2, OrderID: 3})
	require.Error(t, err)
	assert.NotErrorIs(t, err, models.ErrPromocodeAlreadyUsed)
}

func TestRecordTransition(t *testing.T) {
	_, tx, mock := newMockTx(t)
	query := regexp.QuoteMeta("INSERT INTO order_transitions")

	mock.ExpectExec(query).WithArgs(int64(5), "status:completed", "completed").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(query).WithArgs(int64(5), "status:completed", "completed").
		WillReturnResult(sqlmock.NewResult(0, 0))

	first, err := RecordTransition(context.Background(), tx, 5, "status:completed", "completed")
	require.NoError(t, err)
	assert.True(t, first)

	replay, err := RecordTransition(context.Background(), tx, 5, "status:completed", "completed")
	require.NoError(t, err)
	assert.False(t, replay)
}

func TestUpdateOrderStateVersionConflict(t *testing.T) {
	_, tx, mock := newMockTx(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE orders")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := UpdateOrderState(context.Background(), tx, 1, 3, StateUpdate{
		Status:        models.OrderStatusPaid,
		PaymentStatus: models.PaymentStatusPaid,
	})
	assert.ErrorIs(t, err, database.ErrOptimisticLockFailed)
}

func TestSetCartQuantityMissingLine(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE cart_items")).
		WithArgs(4, int64(1), int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = SetCartQuantity(context.Background(), db, 1, 2, 4)
	assert.ErrorIs(t, err, database.ErrProductNotFound)
}

func TestGetProductNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM products WHERE id = $1")).
		WithArgs(int64(42)).
		WillReturnError(sql.ErrNoRows)

	_, err = GetProduct(context.Background(), db, 42)
	assert.ErrorIs(t, err, database.ErrProductNotFound)
}

func TestCursorRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	encoded := EncodeCursor(OrderCursor{CreatedAt: at, ID: 17})

	decoded, err := DecodeCursor(encoded)
	require.NoError(t, err)
	assert.True(t, at.Equal(decoded.CreatedAt))
	assert.Equal(t, int64(17), decoded.ID)

	_, err = DecodeCursor("%%%")
	assert.Error(t, err)
}

func TestGenerateOrderNumber(t *testing.T) {
	at := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	number := GenerateOrderNumber(at)

	assert.Regexp(t, `^ORD-20260301-[0-9A-F]{8}$`, number)
	assert.NotEqual(t, number, GenerateOrderNumber(at))
}

func TestNewOffsetPage(t *testing.T) {
	page := newOffsetPage([]int{1, 2}, 21, 2, 10)
	assert.Equal(t, 3, page.TotalPages)
	assert.Equal(t, int64(21), page.Total)
}
