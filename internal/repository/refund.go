package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/checkoutd/checkoutd/internal/domain/payment"
)

const (
	refundColumns = `id, payment_transaction_id, payment_id, amount, status,
		gateway_refund_id, reason, created_at, updated_at`

	upsertRefundSQL = `INSERT INTO refund_transactions (id, payment_transaction_id,
		payment_id, amount, status, gateway_refund_id, reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			gateway_refund_id = EXCLUDED.gateway_refund_id,
			updated_at = EXCLUDED.updated_at`

	getRefundByIDSQL = `SELECT ` + refundColumns + ` FROM refund_transactions WHERE id = $1`

	findRefundsByTxnSQL = `SELECT ` + refundColumns + ` FROM refund_transactions
		WHERE payment_transaction_id = $1 ORDER BY created_at`

	findPendingRefundsSQL = `SELECT ` + refundColumns + ` FROM refund_transactions
		WHERE status = 'PENDING' AND created_at < $1 ORDER BY created_at`
)

var _ payment.RefundRepository = (*RefundRepository)(nil)

// RefundRepository implements payment.RefundRepository backed by PostgreSQL.
type RefundRepository struct {
	pool *pgxpool.Pool
}

// NewRefundRepository returns a RefundRepository that uses the given pool.
func NewRefundRepository(pool *pgxpool.Pool) *RefundRepository {
	return &RefundRepository{pool: pool}
}

// Save inserts the refund or updates its settlement fields. Amount and the
// transaction reference are immutable after creation.
func (r *RefundRepository) Save(ctx context.Context, rf *payment.Refund) error {
	_, err := r.pool.Exec(ctx, upsertRefundSQL,
		rf.ID, rf.PaymentTransactionID, rf.PaymentID, rf.Amount,
		string(rf.Status), rf.GatewayRefundID, rf.Reason, rf.CreatedAt, rf.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving refund %q: %w", rf.ID, err)
	}
	return nil
}

// FindByID returns the refund with the given id, or payment.ErrRefundNotFound.
func (r *RefundRepository) FindByID(ctx context.Context, id string) (*payment.Refund, error) {
	rows, err := r.pool.Query(ctx, getRefundByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("finding refund %q: %w", id, err)
	}

	rf, err := pgx.CollectExactlyOneRow(rows, scanRefund)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrRefundNotFound
		}
		return nil, fmt.Errorf("finding refund %q: %w", id, err)
	}
	return &rf, nil
}

// FindByPaymentTransactionID returns all refunds against a transaction,
// oldest first.
func (r *RefundRepository) FindByPaymentTransactionID(ctx context.Context, txnID string) ([]payment.Refund, error) {
	rows, err := r.pool.Query(ctx, findRefundsByTxnSQL, txnID)
	if err != nil {
		return nil, fmt.Errorf("finding refunds for transaction %q: %w", txnID, err)
	}

	refunds, err := pgx.CollectRows(rows, scanRefund)
	if err != nil {
		return nil, fmt.Errorf("finding refunds for transaction %q: %w", txnID, err)
	}
	return refunds, nil
}

// FindPending returns PENDING refunds created before olderThan.
func (r *RefundRepository) FindPending(ctx context.Context, olderThan time.Time) ([]payment.Refund, error) {
	rows, err := r.pool.Query(ctx, findPendingRefundsSQL, olderThan)
	if err != nil {
		return nil, fmt.Errorf("finding pending refunds: %w", err)
	}

	refunds, err := pgx.CollectRows(rows, scanRefund)
	if err != nil {
		return nil, fmt.Errorf("finding pending refunds: %w", err)
	}
	return refunds, nil
}

func scanRefund(row pgx.CollectableRow) (payment.Refund, error) {
	var (
		rf     payment.Refund
		status string
	)
	err := row.Scan(&rf.ID, &rf.PaymentTransactionID, &rf.PaymentID, &rf.Amount,
		&status, &rf.GatewayRefundID, &rf.Reason, &rf.CreatedAt, &rf.UpdatedAt)
	rf.Status = payment.RefundStatus(status)
	return rf, err
}
