package memstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/checkoutd/checkoutd/internal/domain/coupon"
	"github.com/checkoutd/checkoutd/internal/domain/order"
	"github.com/checkoutd/checkoutd/internal/domain/payment"
)

var storeNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func TestCouponStore_RedeemConcurrent(t *testing.T) {
	// N goroutines race for 10 remaining uses; exactly 10 may win.
	const (
		workers = 100
		maxUses = 10
	)

	store := NewCouponStore()
	require.NoError(t, store.Save(context.Background(), &coupon.Rule{
		Code:    "RACE",
		MaxUses: maxUses,
		Active:  true,
	}))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.Redeem(context.Background(), "RACE"); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, coupon.ErrUsageLimitReached)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, maxUses, succeeded)

	rule, err := store.FindByCode(context.Background(), "RACE")
	require.NoError(t, err)
	assert.Equal(t, maxUses, rule.Uses)
}

func TestCouponStore_RedeemUnlimited(t *testing.T) {
	store := NewCouponStore()
	require.NoError(t, store.Save(context.Background(), &coupon.Rule{Code: "FREE", Active: true}))

	for range 1000 {
		require.NoError(t, store.Redeem(context.Background(), "FREE"))
	}

	rule, err := store.FindByCode(context.Background(), "FREE")
	require.NoError(t, err)
	assert.Equal(t, 1000, rule.Uses)
}

func TestCouponStore_RedeemNotFound(t *testing.T) {
	store := NewCouponStore()
	require.ErrorIs(t, store.Redeem(context.Background(), "MISSING"), coupon.ErrNotFound)
}

func TestCouponStore_FindAllValid(t *testing.T) {
	store := NewCouponStore()
	past := storeNow.Add(-time.Hour)
	future := storeNow.Add(time.Hour)

	rules := []coupon.Rule{
		{Code: "OK", Active: true},
		{Code: "INACTIVE", Active: false},
		{Code: "NOT_YET", Active: true, ValidFrom: &future},
		{Code: "EXPIRED", Active: true, ValidUntil: &past},
		{Code: "EXHAUSTED", Active: true, MaxUses: 1, Uses: 1},
	}
	for i := range rules {
		require.NoError(t, store.Save(context.Background(), &rules[i]))
	}

	valid, err := store.FindAllValid(context.Background(), storeNow)
	require.NoError(t, err)
	require.Len(t, valid, 1)
	assert.Equal(t, "OK", valid[0].Code)
}

func TestOrderStore_OptimisticVersioning(t *testing.T) {
	store := NewOrderStore()
	ctx := context.Background()

	o := &order.Order{ID: "o1", Status: order.StatusPending}
	require.NoError(t, store.Save(ctx, o))
	assert.Equal(t, int64(1), o.Version)

	// Two readers take the same snapshot; the second writer must lose.
	first, err := store.FindByID(ctx, "o1")
	require.NoError(t, err)
	second, err := store.FindByID(ctx, "o1")
	require.NoError(t, err)

	first.Status = order.StatusConfirmed
	require.NoError(t, store.Save(ctx, first))

	second.Status = order.StatusCancelled
	require.ErrorIs(t, store.Save(ctx, second), order.ErrConcurrentModification)

	stored, err := store.FindByID(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusConfirmed, stored.Status)
}

func TestOrderStore_CopiesAreIsolated(t *testing.T) {
	store := NewOrderStore()
	ctx := context.Background()

	o := &order.Order{
		ID:    "o1",
		Items: []order.Item{{ProductID: "p1", Quantity: 1, UnitPrice: decimal.NewFromInt(10)}},
	}
	require.NoError(t, store.Save(ctx, o))

	got, err := store.FindByID(ctx, "o1")
	require.NoError(t, err)
	got.Items[0].Quantity = 99

	again, err := store.FindByID(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, 1, again.Items[0].Quantity, "mutating a returned copy must not leak into the store")
}

func TestOrderStore_FindByOrderNumber(t *testing.T) {
	store := NewOrderStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &order.Order{ID: "o1", OrderNumber: "ORD-20260315-AAAA0000"}))

	got, err := store.FindByOrderNumber(ctx, "ORD-20260315-AAAA0000")
	require.NoError(t, err)
	assert.Equal(t, "o1", got.ID)

	_, err = store.FindByOrderNumber(ctx, "ORD-00000000-XXXXXXXX")
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestOrderStore_FindByUserIDAndStatus(t *testing.T) {
	store := NewOrderStore()
	ctx := context.Background()

	for i, id := range []string{"o1", "o2", "o3", "o4"} {
		o := &order.Order{
			ID:        id,
			UserID:    "u1",
			Status:    order.StatusPending,
			CreatedAt: storeNow.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, store.Save(ctx, o))
	}
	require.NoError(t, store.Save(ctx, &order.Order{ID: "other", UserID: "u2", Status: order.StatusPending}))

	page, err := store.FindByUserIDAndStatus(ctx, "u1", order.StatusPending, order.Page{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "o4", page[0].ID, "newest first")
	assert.Equal(t, "o3", page[1].ID)

	page, err = store.FindByUserIDAndStatus(ctx, "u1", order.StatusPending, order.Page{Offset: 2, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "o2", page[0].ID)

	page, err = store.FindByUserIDAndStatus(ctx, "u1", order.StatusPending, order.Page{Offset: 100})
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestOrderStore_Delete(t *testing.T) {
	store := NewOrderStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &order.Order{ID: "o1"}))
	require.NoError(t, store.Delete(ctx, "o1"))
	require.ErrorIs(t, store.Delete(ctx, "o1"), order.ErrNotFound)

	_, err := store.FindByID(ctx, "o1")
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestPaymentStore_VersioningAndLookup(t *testing.T) {
	store := NewPaymentStore()
	ctx := context.Background()

	p := &payment.Payment{
		ID:        "p1",
		OrderID:   "o1",
		Status:    payment.StatusPending,
		Amount:    decimal.NewFromInt(100),
		CreatedAt: storeNow,
	}
	require.NoError(t, store.Save(ctx, p))

	stale, err := store.FindByID(ctx, "p1")
	require.NoError(t, err)

	fresh, err := store.FindByID(ctx, "p1")
	require.NoError(t, err)
	fresh.Status = payment.StatusAuthorized
	require.NoError(t, store.Save(ctx, fresh))

	stale.Status = payment.StatusFailed
	require.ErrorIs(t, store.Save(ctx, stale), payment.ErrConcurrentModification)

	byOrder, err := store.FindByOrderID(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, byOrder, 1)
	assert.Equal(t, payment.StatusAuthorized, byOrder[0].Status)
}

func TestPaymentStore_FindPending(t *testing.T) {
	store := NewPaymentStore()
	ctx := context.Background()

	old := &payment.Payment{ID: "old", Status: payment.StatusPending, CreatedAt: storeNow.Add(-time.Hour)}
	recent := &payment.Payment{ID: "recent", Status: payment.StatusPending, CreatedAt: storeNow.Add(-time.Minute)}
	captured := &payment.Payment{ID: "done", Status: payment.StatusCaptured, CreatedAt: storeNow.Add(-time.Hour)}
	for _, p := range []*payment.Payment{old, recent, captured} {
		require.NoError(t, store.Save(ctx, p))
	}

	stale, err := store.FindPending(ctx, storeNow.Add(-30*time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "old", stale[0].ID)
}

func TestRefundStore_Lifecycle(t *testing.T) {
	store := NewRefundStore()
	ctx := context.Background()

	r := &payment.Refund{
		ID:                   "r1",
		PaymentID:            "p1",
		PaymentTransactionID: "t1",
		Amount:               decimal.NewFromInt(30),
		Status:               payment.RefundPending,
		CreatedAt:            storeNow.Add(-time.Hour),
	}
	require.NoError(t, store.Save(ctx, r))

	byTxn, err := store.FindByPaymentTransactionID(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, byTxn, 1)

	pending, err := store.FindPending(ctx, storeNow)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	r.Status = payment.RefundSuccess
	require.NoError(t, store.Save(ctx, r))

	pending, err = store.FindPending(ctx, storeNow)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = store.FindByID(ctx, "missing")
	require.ErrorIs(t, err, payment.ErrRefundNotFound)
}
