package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/checkoutd/checkoutd/internal/domain/event"
)

const appendAuditSQL = `INSERT INTO audit_log (kind, entity_id, order_id,
	from_status, to_status, detail, occurred_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

// AuditLog appends one row per domain event. Registered on the event bus via
// SubscribeAll so every state transition leaves a trace.
type AuditLog struct {
	pool *pgxpool.Pool
}

// NewAuditLog returns an AuditLog that writes to the given pool.
func NewAuditLog(pool *pgxpool.Pool) *AuditLog {
	return &AuditLog{pool: pool}
}

// Append records the event.
func (a *AuditLog) Append(ctx context.Context, ev event.Event) error {
	_, err := a.pool.Exec(ctx, appendAuditSQL,
		string(ev.Kind), ev.EntityID, ev.OrderID, ev.From, ev.To, ev.Detail, ev.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("appending audit entry: %w", err)
	}
	return nil
}
