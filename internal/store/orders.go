package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/models"
)

const orderColumns = `id, user_id, order_number, status, payment_status, payment_method,
	payment_reference, subtotal, discount_amount, bonuses_used, bonuses_earned, delivery_cost,
	total_amount, delivery_service, delivery_type, delivery_point_code, delivery_address,
	delivery_tracking_number, promocode_id, idempotency_key, paid_at, shipped_at, delivered_at,
	completed_at, cancelled_at, created_at, updated_at, version`

// IdempotencyConstraint guards against a retried checkout creating a second order.
const IdempotencyConstraint = "orders_user_id_idempotency_key_key"

func GenerateOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("ORD-%s-%s", now.UTC().Format("20060102"), suffix)
}

func scanOrder(row rowScanner) (*models.Order, error) {
	order := &models.Order{}
	var (
		paymentReference sql.NullString
		pointCode        sql.NullString
		address          []byte
		trackingNumber   sql.NullString
		promocodeID      sql.NullInt64
		idempotencyKey   sql.NullString
		paidAt           sql.NullTime
		shippedAt        sql.NullTime
		deliveredAt      sql.NullTime
		completedAt      sql.NullTime
		cancelledAt      sql.NullTime
	)

	err := row.Scan(
		&order.ID,
		&order.UserID,
		&order.OrderNumber,
		&order.Status,
		&order.PaymentStatus,
		&order.PaymentMethod,
		&paymentReference,
		&order.Subtotal,
		&order.DiscountAmount,
		&order.BonusesUsed,
		&order.BonusesEarned,
		&order.DeliveryCost,
		&order.TotalAmount,
		&order.Delivery.Service,
		&order.Delivery.Type,
		&pointCode,
		&address,
		&trackingNumber,
		&promocodeID,
		&idempotencyKey,
		&paidAt,
		&shippedAt,
		&deliveredAt,
		&completedAt,
		&cancelledAt,
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.Version,
	)
	if err != nil {
		return nil, err
	}

	order.PaymentReference = paymentReference.String
	order.Delivery.PointCode = pointCode.String
	order.DeliveryTrackingNumber = trackingNumber.String
	order.IdempotencyKey = idempotencyKey.String
	if promocodeID.Valid {
		id := promocodeID.Int64
		order.PromocodeID = &id
	}
	if len(address) > 0 {
		order.Delivery.Address = &models.Address{}
		if err := json.Unmarshal(address, order.Delivery.Address); err != nil {
			return nil, fmt.Errorf("decode delivery address: %w", err)
		}
	}
	order.PaidAt = timePtr(paidAt)
	order.ShippedAt = timePtr(shippedAt)
	order.DeliveredAt = timePtr(deliveredAt)
	order.CompletedAt = timePtr(completedAt)
	order.CancelledAt = timePtr(cancelledAt)

	return order, nil
}

// InsertOrder persists the order snapshot with its frozen line items and
// fills in the generated ids and timestamps.
func InsertOrder(ctx context.Context, tx *sql.Tx, order *models.Order) error {
	var address sql.NullString
	if order.Delivery.Address != nil {
		encoded, err := json.Marshal(order.Delivery.Address)
		if err != nil {
			return fmt.Errorf("encode delivery address: %w", err)
		}
		address = sql.NullString{String: string(encoded), Valid: true}
	}

	err := tx.QueryRowContext(ctx,
		`INSERT INTO orders (user_id, order_number, status, payment_status, payment_method,
		                     payment_reference, subtotal, discount_amount, bonuses_used, bonuses_earned,
		                     delivery_cost, total_amount, delivery_service, delivery_type,
		                     delivery_point_code, delivery_address, promocode_id, idempotency_key,
		                     created_at, updated_at, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, $10, $11, $12, $13, $14, $15::jsonb, $16, $17, NOW(), NOW(), 1)
		 RETURNING id, created_at, updated_at, version`,
		order.UserID, order.OrderNumber, order.Status, order.PaymentStatus, order.PaymentMethod,
		nullString(order.PaymentReference), order.Subtotal, order.DiscountAmount, order.BonusesUsed,
		order.DeliveryCost, order.TotalAmount, order.Delivery.Service, order.Delivery.Type,
		nullString(order.Delivery.PointCode), address, order.PromocodeID, nullString(order.IdempotencyKey),
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt, &order.Version)
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID

		err = tx.QueryRowContext(ctx,
			`INSERT INTO order_items (order_id, product_id, product_name, quantity, unit_price,
			                          discount_percentage, subtotal, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
			 RETURNING id, created_at`,
			order.ID, item.ProductID, item.ProductName, item.Quantity, item.UnitPrice,
			item.DiscountPercentage, item.Subtotal).Scan(&item.ID, &item.CreatedAt)
		if err != nil {
			return fmt.Errorf("create order item: %w", err)
		}
	}

	return nil
}

// SetPaymentReference attaches the gateway reference to a freshly inserted order.
func SetPaymentReference(ctx context.Context, tx *sql.Tx, orderID int64, reference string) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE orders SET payment_reference = $1, updated_at = NOW() WHERE id = $2`,
		reference, orderID)
	if err != nil {
		return fmt.Errorf("set payment reference: %w", err)
	}
	return requireAffected(result, database.ErrOrderNotFound)
}

func GetOrder(ctx context.Context, q database.Querier, id int64) (*models.Order, error) {
	order, err := scanOrder(q.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	if err := loadItems(ctx, q, order); err != nil {
		return nil, err
	}

	return order, nil
}

// GetOrderByIdempotencyKey returns the order a previous checkout with the
// same key created, or ErrOrderNotFound.
func GetOrderByIdempotencyKey(ctx context.Context, q database.Querier, userID int64, key string) (*models.Order, error) {
	order, err := scanOrder(q.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 AND idempotency_key = $2`,
		userID, key))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order by idempotency key: %w", err)
	}

	if err := loadItems(ctx, q, order); err != nil {
		return nil, err
	}

	return order, nil
}

func LockOrder(ctx context.Context, tx *sql.Tx, id int64) (*models.Order, error) {
	return lockOrderWhere(ctx, tx, "id = $1", id)
}

func LockOrderByPaymentReference(ctx context.Context, tx *sql.Tx, reference string) (*models.Order, error) {
	return lockOrderWhere(ctx, tx, "payment_reference = $1", reference)
}

func lockOrderWhere(ctx context.Context, tx *sql.Tx, predicate string, arg any) (*models.Order, error) {
	order, err := scanOrder(tx.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE `+predicate+` FOR UPDATE`, arg))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("lock order: %w", err)
	}

	if err := loadItems(ctx, tx, order); err != nil {
		return nil, err
	}

	return order, nil
}

func loadItems(ctx context.Context, q database.Querier, order *models.Order) error {
	rows, err := q.QueryContext(ctx,
		`SELECT id, order_id, product_id, product_name, quantity, unit_price, discount_percentage, subtotal, created_at
		 FROM order_items
		 WHERE order_id = $1
		 ORDER BY id`,
		order.ID)
	if err != nil {
		return fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.ProductName,
			&item.Quantity,
			&item.UnitPrice,
			&item.DiscountPercentage,
			&item.Subtotal,
			&item.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}

	order.Items = items
	return nil
}

// StateUpdate is a lifecycle write. Timestamps are stamped by the database
// on the first entry into the matching state.
type StateUpdate struct {
	Status         models.OrderStatus
	PaymentStatus  models.PaymentStatus
	TrackingNumber string
	BonusesEarned  int64
}

// UpdateOrderState writes a transition guarded by the version the caller read.
func UpdateOrderState(ctx context.Context, tx *sql.Tx, orderID int64, version int, update StateUpdate) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE orders
		 SET status = $1,
		     payment_status = $2,
		     delivery_tracking_number = COALESCE($3, delivery_tracking_number),
		     bonuses_earned = bonuses_earned + $4,
		     paid_at = CASE WHEN $2 = 'paid' THEN COALESCE(paid_at, NOW()) ELSE paid_at END,
		     shipped_at = CASE WHEN $1 = 'shipped' THEN COALESCE(shipped_at, NOW()) ELSE shipped_at END,
		     delivered_at = CASE WHEN $1 = 'delivered' THEN COALESCE(delivered_at, NOW()) ELSE delivered_at END,
		     completed_at = CASE WHEN $1 = 'completed' THEN COALESCE(completed_at, NOW()) ELSE completed_at END,
		     cancelled_at = CASE WHEN $1 = 'cancelled' THEN COALESCE(cancelled_at, NOW()) ELSE cancelled_at END,
		     updated_at = NOW(),
		     version = version + 1
		 WHERE id = $5 AND version = $6`,
		update.Status, update.PaymentStatus, nullString(update.TrackingNumber), update.BonusesEarned,
		orderID, version)
	if err != nil {
		return fmt.Errorf("update order state: %w", err)
	}

	return requireAffected(result, database.ErrOptimisticLockFailed)
}

// RecordTransition journals (order, target). It returns false when the
// transition was already recorded, which marks the event as a duplicate.
func RecordTransition(ctx context.Context, tx *sql.Tx, orderID int64, target, event string) (bool, error) {
	result, err := tx.ExecContext(ctx,
		`INSERT INTO order_transitions (order_id, target, event, created_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (order_id, target) DO NOTHING`,
		orderID, target, event)
	if err != nil {
		return false, fmt.Errorf("record transition: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}

	return rowsAffected == 1, nil
}

func ListOrdersCursor(ctx context.Context, q database.Querier, userID int64, cursor string, limit int) (*CursorPage, error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed cursor: %v", models.ErrInvalidRequest, err)
	}

	query := `SELECT ` + orderColumns + `
		FROM orders
		WHERE user_id = $1
		  AND (created_at, id) < ($2, $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4`

	rows, err := q.QueryContext(ctx, query, userID, cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		lastOrder := orders[len(orders)-1]
		nextCursor = EncodeCursor(OrderCursor{
			CreatedAt: lastOrder.CreatedAt,
			ID:        lastOrder.ID,
		})
	}

	return &CursorPage{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

// NextOrderDueForCompletion claims the oldest delivered order delivered
// before the cutoff, ignoring the excluded ids. Rows held by other workers
// are skipped.
func NextOrderDueForCompletion(ctx context.Context, tx *sql.Tx, deliveredBefore time.Time, excluded []int64) (*models.Order, error) {
	if excluded == nil {
		excluded = []int64{}
	}

	order, err := scanOrder(tx.QueryRowContext(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE status = $1
		   AND payment_status = $2
		   AND delivered_at < $3
		   AND id <> ALL($4)
		 ORDER BY delivered_at
		 LIMIT 1
		 FOR UPDATE SKIP LOCKED`,
		models.OrderStatusDelivered, models.PaymentStatusPaid, deliveredBefore, pq.Array(excluded)))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get next order due for completion: %w", err)
	}

	if err := loadItems(ctx, tx, order); err != nil {
		return nil, err
	}

	return order, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
