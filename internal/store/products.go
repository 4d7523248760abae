package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/models"
	"github.com/shopspring/decimal"
)

const productColumns = `id, sku, name, description, price, discount_percentage, discount_starts_at,
	discount_ends_at, stock_quantity, is_archived, created_at, updated_at, version`

type CreateProductParams struct {
	SKU                string
	Name               string
	Description        string
	Price              decimal.Decimal
	Stock              int
	DiscountPercentage decimal.Decimal
	DiscountStartsAt   *time.Time
	DiscountEndsAt     *time.Time
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*models.Product, error) {
	product := &models.Product{}
	var startsAt, endsAt sql.NullTime

	err := row.Scan(
		&product.ID,
		&product.SKU,
		&product.Name,
		&product.Description,
		&product.Price,
		&product.DiscountPercentage,
		&startsAt,
		&endsAt,
		&product.StockQuantity,
		&product.IsArchived,
		&product.CreatedAt,
		&product.UpdatedAt,
		&product.Version,
	)
	if err != nil {
		return nil, err
	}

	product.DiscountStartsAt = timePtr(startsAt)
	product.DiscountEndsAt = timePtr(endsAt)
	return product, nil
}

func CreateProduct(ctx context.Context, q database.Querier, params CreateProductParams) (*models.Product, error) {
	query := `
		INSERT INTO products (sku, name, description, price, stock_quantity, discount_percentage,
		                      discount_starts_at, discount_ends_at, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW(), 1)
		RETURNING ` + productColumns

	product, err := scanProduct(q.QueryRowContext(ctx, query,
		params.SKU, params.Name, params.Description, params.Price, params.Stock,
		params.DiscountPercentage, nullTime(params.DiscountStartsAt), nullTime(params.DiscountEndsAt)))
	if err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	return product, nil
}

func GetProduct(ctx context.Context, q database.Querier, id int64) (*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	product, err := scanProduct(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	return product, nil
}

// LockProducts row-locks the given products in id order, so concurrent
// checkouts over overlapping carts cannot deadlock. Missing ids are absent
// from the result.
func LockProducts(ctx context.Context, tx *sql.Tx, ids []int64) (map[int64]*models.Product, error) {
	query := `SELECT ` + productColumns + `
		FROM products
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE`

	rows, err := tx.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		if database.IsLockNotAvailable(err) {
			return nil, database.ErrLockTimeout
		}
		return nil, fmt.Errorf("lock products: %w", err)
	}
	defer rows.Close()

	products := make(map[int64]*models.Product, len(ids))
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products[product.ID] = product
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return products, nil
}

func UpdateStockOptimistic(ctx context.Context, q database.Querier, productID int64, newStock int, version int) error {
	result, err := q.ExecContext(ctx,
		`UPDATE products
		 SET stock_quantity = $1, version = version + 1, updated_at = NOW()
		 WHERE id = $2 AND version = $3`,
		newStock, productID, version)
	if err != nil {
		return fmt.Errorf("update stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrOptimisticLockFailed
	}

	return nil
}

// DecrementStock takes quantity units out of stock, failing with
// ErrProductUnavailable rather than going below zero.
func DecrementStock(ctx context.Context, tx *sql.Tx, productID int64, quantity int) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE products
		 SET stock_quantity = stock_quantity - $1,
		     version = version + 1,
		     updated_at = NOW()
		 WHERE id = $2
		   AND stock_quantity >= $1
		   AND NOT is_archived`,
		quantity, productID)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%w: product %d", models.ErrProductUnavailable, productID)
	}

	return nil
}

func IncrementStock(ctx context.Context, tx *sql.Tx, productID int64, quantity int) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE products
		 SET stock_quantity = stock_quantity + $1,
		     version = version + 1,
		     updated_at = NOW()
		 WHERE id = $2`,
		quantity, productID)
	if err != nil {
		return fmt.Errorf("increment stock: %w", err)
	}
	return nil
}

func SetProductArchived(ctx context.Context, q database.Querier, productID int64, archived bool) error {
	result, err := q.ExecContext(ctx,
		`UPDATE products SET is_archived = $1, version = version + 1, updated_at = NOW() WHERE id = $2`,
		archived, productID)
	if err != nil {
		return fmt.Errorf("archive product: %w", err)
	}
	return requireAffected(result, database.ErrProductNotFound)
}

func SetProductDiscount(ctx context.Context, q database.Querier, productID int64, pct decimal.Decimal, startsAt, endsAt *time.Time) error {
	result, err := q.ExecContext(ctx,
		`UPDATE products
		 SET discount_percentage = $1, discount_starts_at = $2, discount_ends_at = $3,
		     version = version + 1, updated_at = NOW()
		 WHERE id = $4`,
		pct, nullTime(startsAt), nullTime(endsAt), productID)
	if err != nil {
		return fmt.Errorf("set product discount: %w", err)
	}
	return requireAffected(result, database.ErrProductNotFound)
}

func ListProducts(ctx context.Context, q database.Querier, page, pageSize int, includeArchived bool) (*OffsetPage, error) {
	var total int64
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM products WHERE $1 OR NOT is_archived`, includeArchived).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count products: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `SELECT ` + productColumns + `
		FROM products
		WHERE $1 OR NOT is_archived
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`

	rows, err := q.QueryContext(ctx, query, includeArchived, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, *product)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return newOffsetPage(products, total, page, pageSize), nil
}

func requireAffected(result sql.Result, notFound error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return notFound
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
