package cart

import (
	"context"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/safar/go-storefront/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 2, 2, 8, 0, 0, 0, time.UTC)

var productCols = []string{
	"id", "sku", "name", "description", "price", "discount_percentage", "discount_starts_at",
	"discount_ends_at", "stock_quantity", "is_archived", "created_at", "updated_at", "version",
}

func setup(t *testing.T) (*Service, sqlmock.Sqlmock, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(db, client, time.Minute, logger), mock, mr
}

func expectProduct(mock sqlmock.Sqlmock, id int64, archived bool) {
	mock.ExpectQuery(regexp.QuoteMeta("FROM products WHERE id = $1")).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(productCols).AddRow(
			id, "SKU", "Mug", "", "10.00", "0", nil, nil, 3, archived, now, now, 1,
		))
}

func TestGetReadsThroughCache(t *testing.T) {
	svc, mock, mr := setup(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("FROM cart_items")).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "product_id", "quantity", "created_at", "updated_at"}).
			AddRow(int64(1), int64(7), 2, now, now))

	first, err := svc.Get(ctx, 1)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.True(t, mr.Exists("cart:1"))
	assert.Equal(t, time.Minute, mr.TTL("cart:1"))

	second, err := svc.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, first[0].ProductID, second[0].ProductID)
	assert.Equal(t, 2, second[0].Quantity)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddInvalidatesCache(t *testing.T) {
	svc, mock, mr := setup(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("cart:1", "[]"))

	expectProduct(mock, 7, false)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO cart_items")).
		WithArgs(int64(1), int64(7), 2).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, svc.Add(ctx, 1, 7, 2))
	assert.False(t, mr.Exists("cart:1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddRejectsArchivedProduct(t *testing.T) {
	svc, mock, _ := setup(t)

	expectProduct(mock, 7, true)

	err := svc.Add(context.Background(), 1, 7, 1)
	assert.ErrorIs(t, err, models.ErrProductUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddRejectsBadQuantity(t *testing.T) {
	svc, _, _ := setup(t)
	assert.ErrorIs(t, svc.Add(context.Background(), 1, 7, 0), models.ErrInvalidRequest)
}

func TestSetQuantityZeroRemoves(t *testing.T) {
	svc, mock, mr := setup(t)
	require.NoError(t, mr.Set("cart:1", "[]"))

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM cart_items")).
		WithArgs(int64(1), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, svc.SetQuantity(context.Background(), 1, 7, 0))
	assert.False(t, mr.Exists("cart:1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSavedListsAreCachedPerList(t *testing.T) {
	svc, mock, mr := setup(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("FROM saved_products")).
		WithArgs(int64(1), models.SavedListWishlist).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "product_id", "list", "created_at"}).
			AddRow(int64(1), int64(7), "wishlist", now))

	items, err := svc.Saved(ctx, 1, models.SavedListWishlist)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, mr.Exists("saved:1:wishlist"))
	assert.False(t, mr.Exists("saved:1:comparison"))

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM saved_products")).
		WithArgs(int64(1), int64(7), models.SavedListWishlist).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, svc.Unsave(ctx, 1, 7, models.SavedListWishlist))
	assert.False(t, mr.Exists("saved:1:wishlist"))

	_, err = svc.Saved(ctx, 1, "favourites")
	assert.ErrorIs(t, err, models.ErrInvalidRequest)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheOutageFallsBackToDatabase(t *testing.T) {
	svc, mock, mr := setup(t)
	mr.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM cart_items")).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "product_id", "quantity", "created_at", "updated_at"}))

	lines, err := svc.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, lines)
	assert.NoError(t, mock.ExpectationsWereMet())
}
