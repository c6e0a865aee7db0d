package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/checkoutd/checkoutd/internal/domain/payment"
)

// PaymentStore is an in-memory payment.Repository with optimistic versioning.
type PaymentStore struct {
	mu       sync.Mutex
	payments map[string]payment.Payment
}

var _ payment.Repository = (*PaymentStore)(nil)

// NewPaymentStore returns an empty PaymentStore.
func NewPaymentStore() *PaymentStore {
	return &PaymentStore{payments: make(map[string]payment.Payment)}
}

// Save inserts the payment or replaces it when the stored version matches.
func (s *PaymentStore) Save(_ context.Context, p *payment.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.payments[p.ID]
	if ok && stored.Version != p.Version {
		return payment.ErrConcurrentModification
	}
	p.Version++
	s.payments[p.ID] = *clonePayment(p)
	return nil
}

// FindByID returns a copy of the payment with its transactions.
func (s *PaymentStore) FindByID(_ context.Context, id string) (*payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, payment.ErrNotFound
	}
	return clonePayment(&p), nil
}

// FindByOrderID returns all payment attempts for an order, oldest first.
func (s *PaymentStore) FindByOrderID(_ context.Context, orderID string) ([]payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []payment.Payment
	for _, p := range s.payments {
		if p.OrderID == orderID {
			out = append(out, *clonePayment(&p))
		}
	}
	sortPayments(out)
	return out, nil
}

// FindByStatus returns all payments in the given status, oldest first.
func (s *PaymentStore) FindByStatus(_ context.Context, status payment.Status) ([]payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []payment.Payment
	for _, p := range s.payments {
		if p.Status == status {
			out = append(out, *clonePayment(&p))
		}
	}
	sortPayments(out)
	return out, nil
}

// FindPending returns PENDING payments created before olderThan.
func (s *PaymentStore) FindPending(_ context.Context, olderThan time.Time) ([]payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []payment.Payment
	for _, p := range s.payments {
		if p.Status == payment.StatusPending && p.CreatedAt.Before(olderThan) {
			out = append(out, *clonePayment(&p))
		}
	}
	sortPayments(out)
	return out, nil
}

func sortPayments(ps []payment.Payment) {
	sort.Slice(ps, func(i, j int) bool {
		return ps[i].CreatedAt.Before(ps[j].CreatedAt)
	})
}

func clonePayment(p *payment.Payment) *payment.Payment {
	cp := *p
	cp.Transactions = append([]payment.Transaction(nil), p.Transactions...)
	return &cp
}

// RefundStore is an in-memory payment.RefundRepository.
type RefundStore struct {
	mu      sync.Mutex
	refunds map[string]payment.Refund
}

var _ payment.RefundRepository = (*RefundStore)(nil)

// NewRefundStore returns an empty RefundStore.
func NewRefundStore() *RefundStore {
	return &RefundStore{refunds: make(map[string]payment.Refund)}
}

// Save inserts or replaces the refund.
func (s *RefundStore) Save(_ context.Context, r *payment.Refund) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refunds[r.ID] = *r
	return nil
}

// FindByID returns a copy of the refund with the given id.
func (s *RefundStore) FindByID(_ context.Context, id string) (*payment.Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.refunds[id]
	if !ok {
		return nil, payment.ErrRefundNotFound
	}
	return &r, nil
}

// FindByPaymentTransactionID returns all refunds against a transaction,
// oldest first.
func (s *RefundStore) FindByPaymentTransactionID(_ context.Context, txnID string) ([]payment.Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []payment.Refund
	for _, r := range s.refunds {
		if r.PaymentTransactionID == txnID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// FindPending returns PENDING refunds created before olderThan.
func (s *RefundStore) FindPending(_ context.Context, olderThan time.Time) ([]payment.Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []payment.Refund
	for _, r := range s.refunds {
		if r.Status == payment.RefundPending && r.CreatedAt.Before(olderThan) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
