package payment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status describes a payment's settlement state.
type Status string

const (
	StatusPending           Status = "PENDING"
	StatusAuthorized        Status = "AUTHORIZED"
	StatusCaptured          Status = "CAPTURED"
	StatusFailed            Status = "FAILED"
	StatusPartiallyRefunded Status = "PARTIALLY_REFUNDED"
	StatusRefunded          Status = "REFUNDED"
)

// transitions is the legal edge set of the payment status machine.
var transitions = map[Status][]Status{
	StatusPending:           {StatusAuthorized, StatusFailed},
	StatusAuthorized:        {StatusCaptured, StatusFailed},
	StatusCaptured:          {StatusPartiallyRefunded, StatusRefunded},
	StatusPartiallyRefunded: {StatusPartiallyRefunded, StatusRefunded},
	StatusFailed:            nil,
	StatusRefunded:          nil,
}

// IsTerminal reports whether no further transition is permitted from s.
func (s Status) IsTerminal() bool {
	return s == StatusFailed || s == StatusRefunded
}

// CanTransition reports whether the edge s -> target is legal.
func (s Status) CanTransition(target Status) bool {
	for _, t := range transitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsActive reports whether the payment still occupies the order's single
// active-payment slot. Failed and fully refunded payments free the slot.
func (s Status) IsActive() bool {
	return !s.IsTerminal()
}

// RefundStatus describes the settlement state of a refund request.
type RefundStatus string

const (
	RefundPending RefundStatus = "PENDING"
	RefundSuccess RefundStatus = "SUCCESS"
	RefundFailed  RefundStatus = "FAILED"
)

var (
	// ErrNotFound is returned when a payment lookup misses.
	ErrNotFound = errors.New("payment not found")
	// ErrRefundNotFound is returned when a refund lookup misses.
	ErrRefundNotFound = errors.New("refund not found")
	// ErrTransactionNotFound is returned when a payment has no transaction
	// with the requested id.
	ErrTransactionNotFound = errors.New("payment transaction not found")
	// ErrActivePaymentExists is returned when creating a payment for an order
	// that already has a non-terminal payment attempt.
	ErrActivePaymentExists = errors.New("order already has an active payment")
	// ErrPaymentNotCaptured is returned when a refund targets a payment that
	// never reached CAPTURED.
	ErrPaymentNotCaptured = errors.New("payment not captured")
	// ErrRefundExceedsCaptured is returned when a refund amount exceeds the
	// remaining refundable amount of its transaction.
	ErrRefundExceedsCaptured = errors.New("refund exceeds captured amount")
	// ErrUnknownGatewayStatus is returned when a gateway reports a status the
	// machine does not recognize. The transaction is still recorded; the
	// payment keeps its state and the case goes to manual reconciliation.
	ErrUnknownGatewayStatus = errors.New("unknown gateway status")
	// ErrConcurrentModification is returned on an optimistic version race.
	ErrConcurrentModification = errors.New("payment modified concurrently")
)

// InvalidTransitionError indicates a gateway-reported status that is not
// reachable from the payment's current state.
type InvalidTransitionError struct {
	From, To Status
}

func (e *InvalidTransitionError) Error() string {
	return "invalid payment transition " + string(e.From) + " -> " + string(e.To)
}

// Transaction is one gateway round-trip, recorded append-only. RawPayload is
// the gateway response verbatim, kept for reconciliation.
type Transaction struct {
	ID           string
	PaymentID    string
	GatewayTxnID string
	ResponseCode string
	RawPayload   string
	Status       Status
	Amount       decimal.Decimal
	CreatedAt    time.Time
}

// Payment is one settlement attempt against an order. Amount equals the order
// total at creation. Transactions are owned by the payment and never removed.
type Payment struct {
	ID           string
	OrderID      string
	Amount       decimal.Decimal
	Method       string
	Status       Status
	Transactions []Transaction
	Version      int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CapturedTotal returns the sum of amounts across captured transactions.
func (p *Payment) CapturedTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, t := range p.Transactions {
		if t.Status == StatusCaptured {
			sum = sum.Add(t.Amount)
		}
	}
	return sum
}

// Transaction returns the owned transaction with the given id.
func (p *Payment) Transaction(txnID string) (*Transaction, error) {
	for i := range p.Transactions {
		if p.Transactions[i].ID == txnID {
			return &p.Transactions[i], nil
		}
	}
	return nil, ErrTransactionNotFound
}

// Refund is a refund request against a specific captured transaction. It
// references the transaction by id only; the refund outlives the transaction
// record through that weak reference.
type Refund struct {
	ID                   string
	PaymentTransactionID string
	PaymentID            string
	Amount               decimal.Decimal
	Status               RefundStatus
	GatewayRefundID      string
	Reason               string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Repository defines persistence operations for payments. Save persists the
// payment row and any transactions appended since the last save; it fails
// with ErrConcurrentModification on a version race.
type Repository interface {
	Save(ctx context.Context, p *Payment) error
	FindByID(ctx context.Context, id string) (*Payment, error)
	FindByOrderID(ctx context.Context, orderID string) ([]Payment, error)
	FindByStatus(ctx context.Context, status Status) ([]Payment, error)
	FindPending(ctx context.Context, olderThan time.Time) ([]Payment, error)
}

// RefundRepository defines persistence operations for refunds.
type RefundRepository interface {
	Save(ctx context.Context, r *Refund) error
	FindByID(ctx context.Context, id string) (*Refund, error)
	FindByPaymentTransactionID(ctx context.Context, txnID string) ([]Refund, error)
	FindPending(ctx context.Context, olderThan time.Time) ([]Refund, error)
}
