package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/checkoutd/checkoutd/internal/domain/order"
)

// OrderStore is an in-memory order.Repository with optimistic versioning:
// Save fails with ErrConcurrentModification when the caller's copy is stale.
type OrderStore struct {
	mu     sync.Mutex
	orders map[string]order.Order
}

var _ order.Repository = (*OrderStore)(nil)

// NewOrderStore returns an empty OrderStore.
func NewOrderStore() *OrderStore {
	return &OrderStore{orders: make(map[string]order.Order)}
}

// Save inserts the order or replaces it when the stored version matches the
// caller's. The caller's Version is bumped on success.
func (s *OrderStore) Save(_ context.Context, o *order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.orders[o.ID]
	if ok && stored.Version != o.Version {
		return order.ErrConcurrentModification
	}
	o.Version++
	s.orders[o.ID] = *cloneOrder(o)
	return nil
}

// FindByID returns a copy of the order with the given id.
func (s *OrderStore) FindByID(_ context.Context, id string) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := cloneOrder(&o)
	return cp, nil
}

// FindByOrderNumber returns a copy of the order with the given number.
func (s *OrderStore) FindByOrderNumber(_ context.Context, number string) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.OrderNumber == number {
			cp := cloneOrder(&o)
			return cp, nil
		}
	}
	return nil, order.ErrNotFound
}

// FindByUserIDAndStatus returns the user's orders in the given status,
// newest first, bounded by page.
func (s *OrderStore) FindByUserIDAndStatus(_ context.Context, userID string, status order.Status, page order.Page) ([]order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []order.Order
	for _, o := range s.orders {
		if o.UserID == userID && o.Status == status {
			matched = append(matched, *cloneOrder(&o))
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if page.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[page.Offset:]
	if page.Limit > 0 && page.Limit < len(matched) {
		matched = matched[:page.Limit]
	}
	return matched, nil
}

// Delete removes the order with the given id.
func (s *OrderStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[id]; !ok {
		return order.ErrNotFound
	}
	delete(s.orders, id)
	return nil
}

func cloneOrder(o *order.Order) *order.Order {
	cp := *o
	cp.Items = append([]order.Item(nil), o.Items...)
	return &cp
}

// NopInventory is an order.InventoryService that accepts every reservation.
type NopInventory struct{}

var _ order.InventoryService = NopInventory{}

func (NopInventory) Reserve(context.Context, []order.Item) error { return nil }
func (NopInventory) Release(context.Context, []order.Item) error { return nil }
