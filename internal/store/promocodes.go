package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/models"
	"github.com/shopspring/decimal"
)

// SingleUseConstraint is the partial unique index that makes a single-use
// promocode consumable once per user.
const SingleUseConstraint = "uq_promocode_usages_single_use"

const promocodeColumns = `id, code, discount_percentage, min_order_amount, max_discount_amount,
	type, expires_at, is_active, created_at, updated_at`

type CreatePromocodeParams struct {
	Code               string
	DiscountPercentage decimal.Decimal
	MinOrderAmount     decimal.Decimal
	MaxDiscountAmount  *decimal.Decimal
	Type               models.PromocodeType
	ExpiresAt          *time.Time
	IsActive           bool
}

func scanPromocode(row rowScanner) (*models.Promocode, error) {
	p := &models.Promocode{}
	var maxDiscount decimal.NullDecimal
	var expiresAt sql.NullTime

	err := row.Scan(
		&p.ID,
		&p.Code,
		&p.DiscountPercentage,
		&p.MinOrderAmount,
		&maxDiscount,
		&p.Type,
		&expiresAt,
		&p.IsActive,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if maxDiscount.Valid {
		p.MaxDiscountAmount = &maxDiscount.Decimal
	}
	p.ExpiresAt = timePtr(expiresAt)
	return p, nil
}

func CreatePromocode(ctx context.Context, q database.Querier, params CreatePromocodeParams) (*models.Promocode, error) {
	var maxDiscount decimal.NullDecimal
	if params.MaxDiscountAmount != nil {
		maxDiscount = decimal.NullDecimal{Decimal: *params.MaxDiscountAmount, Valid: true}
	}

	query := `
		INSERT INTO promocodes (code, discount_percentage, min_order_amount, max_discount_amount,
		                        type, expires_at, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING ` + promocodeColumns

	p, err := scanPromocode(q.QueryRowContext(ctx, query,
		params.Code, params.DiscountPercentage, params.MinOrderAmount, maxDiscount,
		params.Type, nullTime(params.ExpiresAt), params.IsActive))
	if err != nil {
		return nil, fmt.Errorf("create promocode: %w", err)
	}

	return p, nil
}

func GetPromocode(ctx context.Context, q database.Querier, id int64) (*models.Promocode, error) {
	p, err := scanPromocode(q.QueryRowContext(ctx,
		`SELECT `+promocodeColumns+` FROM promocodes WHERE id = $1`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrPromocodeNotFound
		}
		return nil, fmt.Errorf("get promocode: %w", err)
	}
	return p, nil
}

func GetPromocodeByCode(ctx context.Context, q database.Querier, code string) (*models.Promocode, error) {
	p, err := scanPromocode(q.QueryRowContext(ctx,
		`SELECT `+promocodeColumns+` FROM promocodes WHERE code = $1`, code))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrPromocodeNotFound
		}
		return nil, fmt.Errorf("get promocode by code: %w", err)
	}
	return p, nil
}

// HasSingleUseUsage reports whether the user already consumed the
// single-use promocode.
func HasSingleUseUsage(ctx context.Context, q database.Querier, promocodeID, userID int64) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS(
		     SELECT 1 FROM promocode_usages
		     WHERE promocode_id = $1 AND user_id = $2 AND single_use
		 )`,
		promocodeID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check promocode usage: %w", err)
	}
	return exists, nil
}

// InsertPromocodeUsage records that the promocode was applied to the order.
// Losing the race on the single-use index yields ErrPromocodeAlreadyUsed.
func InsertPromocodeUsage(ctx context.Context, tx *sql.Tx, usage *models.PromocodeUsage) error {
	err := tx.QueryRowContext(ctx,
		`INSERT INTO promocode_usages (promocode_id, user_id, order_id, single_use, created_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 RETURNING id, created_at`,
		usage.PromocodeID, usage.UserID, usage.OrderID, usage.SingleUse).Scan(&usage.ID, &usage.CreatedAt)
	if err != nil {
		if database.IsUniqueViolation(err, SingleUseConstraint) {
			return models.ErrPromocodeAlreadyUsed
		}
		return fmt.Errorf("insert promocode usage: %w", err)
	}
	return nil
}

func ListPromocodeUsages(ctx context.Context, q database.Querier, promocodeID int64) ([]models.PromocodeUsage, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, promocode_id, user_id, order_id, single_use, created_at
		 FROM promocode_usages
		 WHERE promocode_id = $1
		 ORDER BY id`,
		promocodeID)
	if err != nil {
		return nil, fmt.Errorf("list promocode usages: %w", err)
	}
	defer rows.Close()

	usages := []models.PromocodeUsage{}
	for rows.Next() {
		var u models.PromocodeUsage
		if err := rows.Scan(&u.ID, &u.PromocodeID, &u.UserID, &u.OrderID, &u.SingleUse, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan promocode usage: %w", err)
		}
		usages = append(usages, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return usages, nil
}
