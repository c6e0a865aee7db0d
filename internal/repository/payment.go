package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/checkoutd/checkoutd/internal/domain/payment"
)

const (
	paymentColumns = `id, order_id, amount, method, status, version, created_at, updated_at`

	insertPaymentSQL = `INSERT INTO payments (id, order_id, amount, method, status,
		version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	updatePaymentSQL = `UPDATE payments SET status = $2, version = $3, updated_at = $4
		WHERE id = $1 AND version = $5`

	getPaymentByIDSQL = `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`

	findPaymentsByOrderSQL = `SELECT ` + paymentColumns + ` FROM payments
		WHERE order_id = $1 ORDER BY created_at`

	findPaymentsByStatusSQL = `SELECT ` + paymentColumns + ` FROM payments
		WHERE status = $1 ORDER BY created_at`

	findPendingPaymentsSQL = `SELECT ` + paymentColumns + ` FROM payments
		WHERE status = 'PENDING' AND created_at < $1 ORDER BY created_at`

	insertTransactionSQL = `INSERT INTO payment_transactions (id, payment_id,
		gateway_txn_id, response_code, raw_payload, status, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`

	findTransactionsSQL = `SELECT id, payment_id, gateway_txn_id, response_code,
		raw_payload, status, amount, created_at
		FROM payment_transactions WHERE payment_id = ANY($1) ORDER BY created_at`
)

var _ payment.Repository = (*PaymentRepository)(nil)

// PaymentRepository implements payment.Repository backed by PostgreSQL.
// The transaction list is append-only: Save inserts transaction rows not yet
// present and never updates or deletes existing ones.
type PaymentRepository struct {
	pool *pgxpool.Pool
}

// NewPaymentRepository returns a PaymentRepository that uses the given pool.
func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

// Save persists the payment and any newly appended transactions in one
// database transaction.
func (r *PaymentRepository) Save(ctx context.Context, p *payment.Payment) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning save of payment %q: %w", p.ID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if p.Version == 0 {
		p.Version = 1
		_, err = tx.Exec(ctx, insertPaymentSQL,
			p.ID, p.OrderID, p.Amount, p.Method, string(p.Status),
			p.Version, p.CreatedAt, p.UpdatedAt,
		)
		if err != nil {
			p.Version = 0
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
				return fmt.Errorf("creating payment %q: %w", p.ID, payment.ErrActivePaymentExists)
			}
			return fmt.Errorf("creating payment %q: %w", p.ID, err)
		}
	} else {
		prev := p.Version
		next := prev + 1
		tag, err := tx.Exec(ctx, updatePaymentSQL,
			p.ID, string(p.Status), next, p.UpdatedAt, prev,
		)
		if err != nil {
			return fmt.Errorf("updating payment %q: %w", p.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return payment.ErrConcurrentModification
		}
		p.Version = next
	}

	for _, txn := range p.Transactions {
		_, err = tx.Exec(ctx, insertTransactionSQL,
			txn.ID, txn.PaymentID, txn.GatewayTxnID, txn.ResponseCode,
			txn.RawPayload, string(txn.Status), txn.Amount, txn.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("appending transaction %q: %w", txn.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing save of payment %q: %w", p.ID, err)
	}
	return nil
}

// FindByID returns the payment with its transaction trail.
func (r *PaymentRepository) FindByID(ctx context.Context, id string) (*payment.Payment, error) {
	rows, err := r.pool.Query(ctx, getPaymentByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("finding payment %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanPayment)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrNotFound
		}
		return nil, fmt.Errorf("finding payment %q: %w", id, err)
	}

	payments := []payment.Payment{p}
	if err := r.attachTransactions(ctx, payments); err != nil {
		return nil, err
	}
	return &payments[0], nil
}

// FindByOrderID returns all payment attempts for an order, oldest first.
func (r *PaymentRepository) FindByOrderID(ctx context.Context, orderID string) ([]payment.Payment, error) {
	return r.findMany(ctx, findPaymentsByOrderSQL, orderID)
}

// FindByStatus returns all payments in the given status, oldest first.
func (r *PaymentRepository) FindByStatus(ctx context.Context, status payment.Status) ([]payment.Payment, error) {
	return r.findMany(ctx, findPaymentsByStatusSQL, string(status))
}

// FindPending returns PENDING payments created before olderThan.
func (r *PaymentRepository) FindPending(ctx context.Context, olderThan time.Time) ([]payment.Payment, error) {
	return r.findMany(ctx, findPendingPaymentsSQL, olderThan)
}

func (r *PaymentRepository) findMany(ctx context.Context, sql string, arg any) ([]payment.Payment, error) {
	rows, err := r.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("finding payments: %w", err)
	}

	payments, err := pgx.CollectRows(rows, scanPayment)
	if err != nil {
		return nil, fmt.Errorf("finding payments: %w", err)
	}
	if err := r.attachTransactions(ctx, payments); err != nil {
		return nil, err
	}
	return payments, nil
}

// attachTransactions loads the transaction trails for the given payments in
// a single query.
func (r *PaymentRepository) attachTransactions(ctx context.Context, payments []payment.Payment) error {
	if len(payments) == 0 {
		return nil
	}
	ids := make([]string, len(payments))
	byID := make(map[string]*payment.Payment, len(payments))
	for i := range payments {
		ids[i] = payments[i].ID
		byID[payments[i].ID] = &payments[i]
	}

	rows, err := r.pool.Query(ctx, findTransactionsSQL, ids)
	if err != nil {
		return fmt.Errorf("loading payment transactions: %w", err)
	}

	txns, err := pgx.CollectRows(rows, scanTransaction)
	if err != nil {
		return fmt.Errorf("loading payment transactions: %w", err)
	}
	for _, txn := range txns {
		if p, ok := byID[txn.PaymentID]; ok {
			p.Transactions = append(p.Transactions, txn)
		}
	}
	return nil
}

func scanPayment(row pgx.CollectableRow) (payment.Payment, error) {
	var (
		p      payment.Payment
		status string
	)
	err := row.Scan(&p.ID, &p.OrderID, &p.Amount, &p.Method, &status,
		&p.Version, &p.CreatedAt, &p.UpdatedAt)
	p.Status = payment.Status(status)
	return p, err
}

func scanTransaction(row pgx.CollectableRow) (payment.Transaction, error) {
	var (
		t      payment.Transaction
		status string
	)
	err := row.Scan(&t.ID, &t.PaymentID, &t.GatewayTxnID, &t.ResponseCode,
		&t.RawPayload, &status, &t.Amount, &t.CreatedAt)
	t.Status = payment.Status(status)
	return t, err
}
