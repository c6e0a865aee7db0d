package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/checkoutd/checkoutd/internal/domain/order"
)

const (
	orderColumns = `id, order_number, user_id, items, address, subtotal, discount,
		shipping_fee, tax, total, currency, status, payment_status, payment_method,
		shipping_method, tracking_number, coupon_code, note, version, created_at, updated_at`

	insertOrderSQL = `INSERT INTO orders (id, order_number, user_id, items, address,
		subtotal, discount, shipping_fee, tax, total, currency, status, payment_status,
		payment_method, shipping_method, tracking_number, coupon_code, note, version,
		created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21)`

	updateOrderSQL = `UPDATE orders SET
		subtotal = $2, discount = $3, shipping_fee = $4, tax = $5, total = $6,
		status = $7, payment_status = $8, tracking_number = $9, note = $10,
		version = $11, updated_at = $12
		WHERE id = $1 AND version = $13`

	getOrderByIDSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	getOrderByNumberSQL = `SELECT ` + orderColumns + ` FROM orders WHERE order_number = $1`

	findOrdersByUserStatusSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE user_id = $1 AND status = $2
		ORDER BY created_at DESC
		OFFSET $3 LIMIT $4`

	deleteOrderSQL = `DELETE FROM orders WHERE id = $1`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. Writes
// use optimistic versioning: an update whose version no longer matches the
// stored row affects zero rows and surfaces ErrConcurrentModification.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Save inserts a new order (Version zero) or updates an existing one.
// Items and address are serialized to JSONB; the item snapshot and address
// never change after creation, so updates only touch the mutable columns.
func (r *OrderRepository) Save(ctx context.Context, o *order.Order) error {
	if o.Version == 0 {
		return r.insert(ctx, o)
	}
	return r.update(ctx, o)
}

func (r *OrderRepository) insert(ctx context.Context, o *order.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}
	addressJSON, err := json.Marshal(o.Address)
	if err != nil {
		return fmt.Errorf("marshaling order address: %w", err)
	}

	o.Version = 1
	_, err = r.pool.Exec(ctx, insertOrderSQL,
		o.ID, o.OrderNumber, o.UserID, itemsJSON, addressJSON,
		o.Subtotal, o.Discount, o.ShippingFee, o.Tax, o.Total,
		o.Currency, string(o.Status), string(o.PaymentStatus), o.PaymentMethod,
		o.ShippingMethod, o.TrackingNumber, o.CouponCode, o.Note, o.Version,
		o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		o.Version = 0
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("creating order %q: %w", o.ID, order.ErrConcurrentModification)
		}
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

func (r *OrderRepository) update(ctx context.Context, o *order.Order) error {
	prev := o.Version
	next := prev + 1
	tag, err := r.pool.Exec(ctx, updateOrderSQL,
		o.ID, o.Subtotal, o.Discount, o.ShippingFee, o.Tax, o.Total,
		string(o.Status), string(o.PaymentStatus), o.TrackingNumber, o.Note,
		next, o.UpdatedAt, prev,
	)
	if err != nil {
		return fmt.Errorf("updating order %q: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrConcurrentModification
	}
	o.Version = next
	return nil
}

// FindByID returns the order with the given id, or order.ErrNotFound.
func (r *OrderRepository) FindByID(ctx context.Context, id string) (*order.Order, error) {
	return r.findOne(ctx, getOrderByIDSQL, id)
}

// FindByOrderNumber returns the order with the given human-readable number.
func (r *OrderRepository) FindByOrderNumber(ctx context.Context, number string) (*order.Order, error) {
	return r.findOne(ctx, getOrderByNumberSQL, number)
}

func (r *OrderRepository) findOne(ctx context.Context, sql, arg string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("finding order %q: %w", arg, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("finding order %q: %w", arg, err)
	}
	return &o, nil
}

// FindByUserIDAndStatus returns the user's orders in the given status,
// newest first, bounded by page.
func (r *OrderRepository) FindByUserIDAndStatus(ctx context.Context, userID string, status order.Status, page order.Page) ([]order.Order, error) {
	limit := page.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, findOrdersByUserStatusSQL, userID, string(status), page.Offset, limit)
	if err != nil {
		return nil, fmt.Errorf("finding orders for user %q: %w", userID, err)
	}

	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("finding orders for user %q: %w", userID, err)
	}
	return orders, nil
}

// Delete removes the order with the given id.
func (r *OrderRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, deleteOrderSQL, id)
	if err != nil {
		return fmt.Errorf("deleting order %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o           order.Order
		itemsJSON   []byte
		addressJSON []byte
		status      string
		payStatus   string
	)
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.UserID, &itemsJSON, &addressJSON,
		&o.Subtotal, &o.Discount, &o.ShippingFee, &o.Tax, &o.Total,
		&o.Currency, &status, &payStatus, &o.PaymentMethod,
		&o.ShippingMethod, &o.TrackingNumber, &o.CouponCode, &o.Note,
		&o.Version, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}
	o.Status = order.Status(status)
	o.PaymentStatus = order.PaymentStatus(payStatus)
	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return o, fmt.Errorf("unmarshaling order items: %w", err)
	}
	if err := json.Unmarshal(addressJSON, &o.Address); err != nil {
		return o, fmt.Errorf("unmarshaling order address: %w", err)
	}
	return o, nil
}
