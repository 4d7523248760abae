package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/models"
)

func GetCart(ctx context.Context, q database.Querier, userID int64) ([]models.CartLine, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT user_id, product_id, quantity, created_at, updated_at
		 FROM cart_items
		 WHERE user_id = $1
		 ORDER BY created_at, product_id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("get cart: %w", err)
	}
	defer rows.Close()

	lines := []models.CartLine{}
	for rows.Next() {
		var line models.CartLine
		if err := rows.Scan(&line.UserID, &line.ProductID, &line.Quantity, &line.CreatedAt, &line.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		lines = append(lines, line)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return lines, nil
}

// AddToCart adds quantity to the line, creating it when absent.
func AddToCart(ctx context.Context, q database.Querier, userID, productID int64, quantity int) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO cart_items (user_id, product_id, quantity, created_at, updated_at)
		 VALUES ($1, $2, $3, NOW(), NOW())
		 ON CONFLICT (user_id, product_id) DO UPDATE
		 SET quantity = cart_items.quantity + EXCLUDED.quantity,
		     updated_at = NOW()`,
		userID, productID, quantity)
	if err != nil {
		return fmt.Errorf("add to cart: %w", err)
	}
	return nil
}

func SetCartQuantity(ctx context.Context, q database.Querier, userID, productID int64, quantity int) error {
	result, err := q.ExecContext(ctx,
		`UPDATE cart_items SET quantity = $1, updated_at = NOW()
		 WHERE user_id = $2 AND product_id = $3`,
		quantity, userID, productID)
	if err != nil {
		return fmt.Errorf("set cart quantity: %w", err)
	}
	return requireAffected(result, database.ErrProductNotFound)
}

func RemoveFromCart(ctx context.Context, q database.Querier, userID, productID int64) error {
	_, err := q.ExecContext(ctx,
		`DELETE FROM cart_items WHERE user_id = $1 AND product_id = $2`,
		userID, productID)
	if err != nil {
		return fmt.Errorf("remove from cart: %w", err)
	}
	return nil
}

// DeleteCartLines clears the lines consumed by an order.
func DeleteCartLines(ctx context.Context, tx *sql.Tx, userID int64, productIDs []int64) (int64, error) {
	result, err := tx.ExecContext(ctx,
		`DELETE FROM cart_items WHERE user_id = $1 AND product_id = ANY($2)`,
		userID, pq.Array(productIDs))
	if err != nil {
		return 0, fmt.Errorf("delete cart lines: %w", err)
	}
	return result.RowsAffected()
}

func ListSaved(ctx context.Context, q database.Querier, userID int64, list models.SavedList) ([]models.SavedProduct, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT user_id, product_id, list, created_at
		 FROM saved_products
		 WHERE user_id = $1 AND list = $2
		 ORDER BY created_at, product_id`,
		userID, list)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", list, err)
	}
	defer rows.Close()

	saved := []models.SavedProduct{}
	for rows.Next() {
		var item models.SavedProduct
		if err := rows.Scan(&item.UserID, &item.ProductID, &item.List, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan saved product: %w", err)
		}
		saved = append(saved, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return saved, nil
}

func AddSaved(ctx context.Context, q database.Querier, userID, productID int64, list models.SavedList) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO saved_products (user_id, product_id, list, created_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT DO NOTHING`,
		userID, productID, list)
	if err != nil {
		return fmt.Errorf("add to %s: %w", list, err)
	}
	return nil
}

func RemoveSaved(ctx context.Context, q database.Querier, userID, productID int64, list models.SavedList) error {
	_, err := q.ExecContext(ctx,
		`DELETE FROM saved_products WHERE user_id = $1 AND product_id = $2 AND list = $3`,
		userID, productID, list)
	if err != nil {
		return fmt.Errorf("remove from %s: %w", list, err)
	}
	return nil
}
