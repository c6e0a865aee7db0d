// Package memstore provides in-memory repository implementations. They are
// the reference for the query and locking semantics the PostgreSQL
// repositories must match, and they back the unit tests.
package memstore

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/checkoutd/checkoutd/internal/domain/coupon"
)

// CouponStore is an in-memory coupon.Repository. A single mutex guards the
// map; Redeem performs its limit check and increment under that lock, so
// concurrent redemptions can never exceed MaxUses. Codes match
// case-insensitively.
type CouponStore struct {
	mu    sync.Mutex
	rules map[string]coupon.Rule
}

var _ coupon.Repository = (*CouponStore)(nil)

// NewCouponStore returns an empty CouponStore.
func NewCouponStore() *CouponStore {
	return &CouponStore{rules: make(map[string]coupon.Rule)}
}

// Save inserts or replaces the rule keyed by its code.
func (s *CouponStore) Save(_ context.Context, rule *coupon.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[strings.ToUpper(rule.Code)] = *rule
	return nil
}

// FindByCode returns a copy of the rule with the given code.
func (s *CouponStore) FindByCode(_ context.Context, code string) (*coupon.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule, ok := s.rules[strings.ToUpper(code)]
	if !ok {
		return nil, coupon.ErrNotFound
	}
	return &rule, nil
}

// FindAllValid returns every rule that is active, inside its validity window,
// and below its usage limit at the given instant.
func (s *CouponStore) FindAllValid(_ context.Context, now time.Time) ([]coupon.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []coupon.Rule
	for _, rule := range s.rules {
		if !rule.Active {
			continue
		}
		if rule.ValidFrom != nil && now.Before(*rule.ValidFrom) {
			continue
		}
		if rule.ValidUntil != nil && now.After(*rule.ValidUntil) {
			continue
		}
		if rule.MaxUses > 0 && rule.Uses >= rule.MaxUses {
			continue
		}
		out = append(out, rule)
	}
	return out, nil
}

// ExistsByCode reports whether a rule with the given code exists.
func (s *CouponStore) ExistsByCode(_ context.Context, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rules[strings.ToUpper(code)]
	return ok, nil
}

// Redeem consumes one use. The check and increment run under the store lock:
// this is the compare-and-swap the coupon contract requires.
func (s *CouponStore) Redeem(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToUpper(code)
	rule, ok := s.rules[key]
	if !ok {
		return coupon.ErrNotFound
	}
	if rule.MaxUses > 0 && rule.Uses >= rule.MaxUses {
		return coupon.ErrUsageLimitReached
	}
	rule.Uses++
	s.rules[key] = rule
	return nil
}
