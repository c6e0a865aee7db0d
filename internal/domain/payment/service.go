package payment

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"github.com/checkoutd/checkoutd/internal/domain/event"
)

// GatewayResult is the outcome of one gateway round-trip as reported by the
// infrastructure layer. The core never talks to the gateway itself.
type GatewayResult struct {
	GatewayTxnID string
	ResponseCode string
	RawPayload   string
	// Status is the gateway's reported state, e.g. "authorized", "captured",
	// "failed". Unrecognized values are recorded but cause no transition.
	Status string
	Amount decimal.Decimal
}

// mapGatewayStatus translates a gateway-reported status into the payment
// status machine. The bool is false for unrecognized values.
func mapGatewayStatus(s string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending":
		return StatusPending, true
	case "authorized", "authorised":
		return StatusAuthorized, true
	case "captured", "settled":
		return StatusCaptured, true
	case "failed", "declined", "error":
		return StatusFailed, true
	default:
		return "", false
	}
}

// OrderHook notifies the order subsystem of settlement outcomes. Implemented
// by an adapter over the order service; kept as an interface so the payment
// core does not depend on the order package.
type OrderHook interface {
	MarkPaid(ctx context.Context, orderID string) error
	MarkRefunded(ctx context.Context, orderID string) error
}

// NopOrderHook ignores settlement notifications. Useful in tests.
type NopOrderHook struct{}

func (NopOrderHook) MarkPaid(context.Context, string) error     { return nil }
func (NopOrderHook) MarkRefunded(context.Context, string) error { return nil }

// Service owns the payment and refund state machines.
type Service struct {
	payments Repository
	refunds  RefundRepository
	orders   OrderHook
	events   event.Dispatcher

	now func() time.Time
}

// NewService creates a payment Service.
func NewService(payments Repository, refunds RefundRepository, orders OrderHook, events event.Dispatcher) *Service {
	return &Service{
		payments: payments,
		refunds:  refunds,
		orders:   orders,
		events:   events,
		now:      time.Now,
	}
}

// Create opens a new payment attempt for an order. Amount must be the order
// total at creation time; the caller passes it in to keep this package
// decoupled from the order aggregate. Only one active attempt may exist per
// order at a time.
func (s *Service) Create(ctx context.Context, orderID string, amount decimal.Decimal, method string) (*Payment, error) {
	existing, err := s.payments.FindByOrderID(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "list payments for order")
	}
	for _, p := range existing {
		if p.Status.IsActive() {
			return nil, ErrActivePaymentExists
		}
	}

	now := s.now()
	p := &Payment{
		ID:        uuid.New().String(),
		OrderID:   orderID,
		Amount:    amount,
		Method:    method,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.payments.Save(ctx, p); err != nil {
		return nil, errors.Wrap(err, "save payment")
	}
	return p, nil
}

// Get returns the payment with its transaction trail.
func (s *Service) Get(ctx context.Context, id string) (*Payment, error) {
	return s.payments.FindByID(ctx, id)
}

// RecordGatewayResponse appends the gateway round-trip to the payment's audit
// trail and advances the status machine to the reported state.
//
// The transaction is persisted even when the reported status is unrecognized
// or unreachable from the current state; in those cases the payment keeps its
// status and a typed error surfaces the case for manual reconciliation.
func (s *Service) RecordGatewayResponse(ctx context.Context, paymentID string, res GatewayResult) (*Payment, error) {
	var out *Payment
	var outErr error
	err := s.withRetry(ctx, func(ctx context.Context) error {
		p, err := s.payments.FindByID(ctx, paymentID)
		if err != nil {
			return err
		}
		outErr = nil

		now := s.now()
		txn := Transaction{
			ID:           uuid.New().String(),
			PaymentID:    p.ID,
			GatewayTxnID: res.GatewayTxnID,
			ResponseCode: res.ResponseCode,
			RawPayload:   res.RawPayload,
			Amount:       res.Amount,
			CreatedAt:    now,
		}

		target, ok := mapGatewayStatus(res.Status)
		switch {
		case !ok:
			txn.Status = p.Status
			outErr = errors.Wrapf(ErrUnknownGatewayStatus, "%q", res.Status)
		case target == p.Status:
			txn.Status = target
		case !p.Status.CanTransition(target):
			txn.Status = p.Status
			outErr = &InvalidTransitionError{From: p.Status, To: target}
		default:
			txn.Status = target
		}

		from := p.Status
		if outErr == nil {
			p.Status = txn.Status
		}
		p.Transactions = append(p.Transactions, txn)
		p.UpdatedAt = now
		if err := s.payments.Save(ctx, p); err != nil {
			return err
		}

		if outErr == nil && from != p.Status {
			s.events.Dispatch(ctx, event.Event{
				Kind:       event.KindPaymentStatusChanged,
				EntityID:   p.ID,
				OrderID:    p.OrderID,
				From:       string(from),
				To:         string(p.Status),
				Detail:     res.GatewayTxnID,
				OccurredAt: now,
			})
			if p.Status == StatusCaptured {
				if err := s.orders.MarkPaid(ctx, p.OrderID); err != nil {
					return errors.Wrap(err, "mark order paid")
				}
			}
		}

		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, outErr
}

// RequestRefund opens a PENDING refund against a captured transaction. The
// amount may not exceed the transaction's captured amount minus refunds that
// already succeeded or are still awaiting gateway confirmation.
func (s *Service) RequestRefund(ctx context.Context, paymentID, txnID string, amount decimal.Decimal, reason string) (*Refund, error) {
	if !amount.IsPositive() {
		return nil, errors.New("refund amount must be positive")
	}

	p, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusCaptured && p.Status != StatusPartiallyRefunded {
		return nil, ErrPaymentNotCaptured
	}

	txn, err := p.Transaction(txnID)
	if err != nil {
		return nil, err
	}
	if txn.Status != StatusCaptured {
		return nil, ErrPaymentNotCaptured
	}

	refundable, err := s.refundableAmount(ctx, txn)
	if err != nil {
		return nil, err
	}
	if amount.GreaterThan(refundable) {
		return nil, errors.Wrapf(ErrRefundExceedsCaptured,
			"requested %s, refundable %s", amount, refundable)
	}

	now := s.now()
	r := &Refund{
		ID:                   uuid.New().String(),
		PaymentTransactionID: txn.ID,
		PaymentID:            p.ID,
		Amount:               amount,
		Status:               RefundPending,
		Reason:               reason,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.refunds.Save(ctx, r); err != nil {
		return nil, errors.Wrap(err, "save refund")
	}
	return r, nil
}

// refundableAmount returns the transaction's captured amount minus refunds
// that succeeded or are still pending. Pending refunds reserve their amount
// until the gateway answers; a failed refund frees it again.
func (s *Service) refundableAmount(ctx context.Context, txn *Transaction) (decimal.Decimal, error) {
	prior, err := s.refunds.FindByPaymentTransactionID(ctx, txn.ID)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "list refunds for transaction")
	}
	remaining := txn.Amount
	for _, r := range prior {
		if r.Status != RefundFailed {
			remaining = remaining.Sub(r.Amount)
		}
	}
	return remaining, nil
}

// ConfirmRefund settles a pending refund with the gateway's verdict. Success
// recomputes the owning payment's status; failure leaves the payment as is.
func (s *Service) ConfirmRefund(ctx context.Context, refundID string, success bool, gatewayRefundID string) (*Refund, error) {
	r, err := s.refunds.FindByID(ctx, refundID)
	if err != nil {
		return nil, err
	}
	if r.Status != RefundPending {
		return nil, errors.Errorf("refund %s already settled as %s", r.ID, r.Status)
	}

	now := s.now()
	r.GatewayRefundID = gatewayRefundID
	r.UpdatedAt = now

	if !success {
		r.Status = RefundFailed
		if err := s.refunds.Save(ctx, r); err != nil {
			return nil, errors.Wrap(err, "save refund")
		}
		s.dispatchRefundSettled(ctx, r, now)
		return r, nil
	}

	r.Status = RefundSuccess
	if err := s.refunds.Save(ctx, r); err != nil {
		return nil, errors.Wrap(err, "save refund")
	}

	if err := s.recomputeAfterRefund(ctx, r, now); err != nil {
		return nil, err
	}

	s.dispatchRefundSettled(ctx, r, now)
	return r, nil
}

// recomputeAfterRefund moves the owning payment to PARTIALLY_REFUNDED or
// REFUNDED depending on how much captured amount remains.
func (s *Service) recomputeAfterRefund(ctx context.Context, r *Refund, now time.Time) error {
	return s.withRetry(ctx, func(ctx context.Context) error {
		p, err := s.payments.FindByID(ctx, r.PaymentID)
		if err != nil {
			return err
		}

		refunded := decimal.Zero
		for _, txn := range p.Transactions {
			if txn.Status != StatusCaptured {
				continue
			}
			prior, err := s.refunds.FindByPaymentTransactionID(ctx, txn.ID)
			if err != nil {
				return errors.Wrap(err, "list refunds for transaction")
			}
			for _, pr := range prior {
				if pr.Status == RefundSuccess {
					refunded = refunded.Add(pr.Amount)
				}
			}
		}

		target := StatusPartiallyRefunded
		if refunded.GreaterThanOrEqual(p.CapturedTotal()) {
			target = StatusRefunded
		}
		if target == p.Status {
			return nil
		}
		if !p.Status.CanTransition(target) {
			return &InvalidTransitionError{From: p.Status, To: target}
		}

		from := p.Status
		p.Status = target
		p.UpdatedAt = now
		if err := s.payments.Save(ctx, p); err != nil {
			return err
		}

		s.events.Dispatch(ctx, event.Event{
			Kind:       event.KindPaymentStatusChanged,
			EntityID:   p.ID,
			OrderID:    p.OrderID,
			From:       string(from),
			To:         string(target),
			OccurredAt: now,
		})

		if target == StatusRefunded {
			if err := s.orders.MarkRefunded(ctx, p.OrderID); err != nil {
				return errors.Wrap(err, "mark order refunded")
			}
		}
		return nil
	})
}

// RefundCaptured asks for a full refund of everything captured for an order.
// Used as the compensating action when a paid order is cancelled. It creates
// one pending refund per captured transaction's remaining refundable amount.
func (s *Service) RefundCaptured(ctx context.Context, orderID, reason string) error {
	payments, err := s.payments.FindByOrderID(ctx, orderID)
	if err != nil {
		return errors.Wrap(err, "list payments for order")
	}

	for i := range payments {
		p := &payments[i]
		if p.Status != StatusCaptured && p.Status != StatusPartiallyRefunded {
			continue
		}
		for j := range p.Transactions {
			txn := &p.Transactions[j]
			if txn.Status != StatusCaptured {
				continue
			}
			remaining, err := s.refundableAmount(ctx, txn)
			if err != nil {
				return err
			}
			if !remaining.IsPositive() {
				continue
			}
			if _, err := s.RequestRefund(ctx, p.ID, txn.ID, remaining, reason); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Service) dispatchRefundSettled(ctx context.Context, r *Refund, now time.Time) {
	s.events.Dispatch(ctx, event.Event{
		Kind:       event.KindRefundSettled,
		EntityID:   r.ID,
		OrderID:    "",
		From:       string(RefundPending),
		To:         string(r.Status),
		Detail:     r.PaymentTransactionID,
		OccurredAt: now,
	})
}

const conflictRetries = 3

// withRetry retries fn with backoff on optimistic version conflicts.
func (s *Service) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(conflictRetries, retry.NewFibonacci(10*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if errors.Is(err, ErrConcurrentModification) {
			return retry.RetryableError(err)
		}
		return err
	})
}
