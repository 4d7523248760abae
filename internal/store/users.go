package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/models"
)

const userColumns = `id, email, name, bonus_balance, created_at, updated_at, version`

func scanUser(row rowScanner) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.BonusBalance,
		&user.CreatedAt,
		&user.UpdatedAt,
		&user.Version,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

func CreateUser(ctx context.Context, q database.Querier, email, name string, bonusBalance int64) (*models.User, error) {
	query := `
		INSERT INTO users (email, name, bonus_balance, created_at, updated_at, version)
		VALUES ($1, $2, $3, NOW(), NOW(), 1)
		RETURNING ` + userColumns

	user, err := scanUser(q.QueryRowContext(ctx, query, email, name, bonusBalance))
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	return user, nil
}

func GetUser(ctx context.Context, q database.Querier, id int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return user, nil
}

// LockBonusBalance row-locks the user for the rest of the transaction and
// returns the current balance. Every checkout and lifecycle write for the
// user goes through this lock first.
func LockBonusBalance(ctx context.Context, tx *sql.Tx, userID int64) (int64, error) {
	var balance int64
	err := tx.QueryRowContext(ctx,
		`SELECT bonus_balance FROM users WHERE id = $1 FOR UPDATE`,
		userID).Scan(&balance)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, database.ErrUserNotFound
		}
		return 0, fmt.Errorf("lock bonus balance: %w", err)
	}
	return balance, nil
}

// DebitBonuses subtracts amount only if the balance covers it.
func DebitBonuses(ctx context.Context, tx *sql.Tx, userID, amount int64) error {
	if amount == 0 {
		return nil
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE users
		 SET bonus_balance = bonus_balance - $1,
		     version = version + 1,
		     updated_at = NOW()
		 WHERE id = $2
		   AND bonus_balance >= $1`,
		amount, userID)
	if err != nil {
		return fmt.Errorf("debit bonuses: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return models.ErrInsufficientBonusBalance
	}

	return nil
}

func CreditBonuses(ctx context.Context, tx *sql.Tx, userID, amount int64) error {
	if amount <= 0 {
		return nil
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE users
		 SET bonus_balance = bonus_balance + $1,
		     version = version + 1,
		     updated_at = NOW()
		 WHERE id = $2`,
		amount, userID)
	if err != nil {
		return fmt.Errorf("credit bonuses: %w", err)
	}

	return requireAffected(result, database.ErrUserNotFound)
}
