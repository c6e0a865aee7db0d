package order

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusConfirmed, StatusProcessing, true},
		{StatusProcessing, StatusShipped, true},
		{StatusShipped, StatusDelivered, true},
		{StatusShipped, StatusRefunded, true},
		{StatusDelivered, StatusRefunded, true},

		// Cancellation is reachable from any non-terminal state only.
		{StatusPending, StatusCancelled, true},
		{StatusConfirmed, StatusCancelled, true},
		{StatusProcessing, StatusCancelled, true},
		{StatusShipped, StatusCancelled, true},
		{StatusDelivered, StatusCancelled, false},
		{StatusCancelled, StatusCancelled, false},
		{StatusRefunded, StatusCancelled, false},

		// No skipping forward, no going back.
		{StatusPending, StatusShipped, false},
		{StatusPending, StatusDelivered, false},
		{StatusConfirmed, StatusPending, false},
		{StatusShipped, StatusProcessing, false},
		{StatusDelivered, StatusConfirmed, false},
		{StatusCancelled, StatusConfirmed, false},
		{StatusRefunded, StatusDelivered, false},
		{StatusPending, StatusRefunded, false},
		{StatusConfirmed, StatusRefunded, false},
	}

	for _, tt := range tests {
		got := tt.from.CanTransition(tt.to)
		assert.Equal(t, tt.want, got, "%s -> %s", tt.from, tt.to)
	}
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusConfirmed.IsTerminal())
	assert.False(t, StatusProcessing.IsTerminal())
	assert.False(t, StatusShipped.IsTerminal())
	assert.True(t, StatusDelivered.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.True(t, StatusRefunded.IsTerminal())
}

func TestOrderTransition_Invalid(t *testing.T) {
	o := &Order{Status: StatusDelivered}

	err := o.Transition(StatusCancelled, time.Now())

	var itErr *InvalidTransitionError
	require.ErrorAs(t, err, &itErr)
	assert.Equal(t, StatusDelivered, itErr.From)
	assert.Equal(t, StatusCancelled, itErr.To)
	assert.Equal(t, StatusDelivered, o.Status, "status must not change on a rejected edge")
}

func TestOrderTransition_UpdatesTimestamp(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	o := &Order{Status: StatusPending}

	require.NoError(t, o.Transition(StatusConfirmed, now))
	assert.Equal(t, StatusConfirmed, o.Status)
	assert.Equal(t, now, o.UpdatedAt)
}

func TestRecalcTotals(t *testing.T) {
	o := &Order{
		Items: []Item{
			{ProductID: "p1", Quantity: 2, UnitPrice: decimal.RequireFromString("19.99")},
			{ProductID: "p2", Quantity: 1, UnitPrice: decimal.RequireFromString("5.00")},
		},
		Discount:    decimal.RequireFromString("4.99"),
		ShippingFee: decimal.RequireFromString("5.00"),
		Tax:         decimal.RequireFromString("3.20"),
	}

	o.recalcTotals()

	assert.True(t, decimal.RequireFromString("44.98").Equal(o.Subtotal), "subtotal %s", o.Subtotal)
	// 44.98 - 4.99 + 5.00 + 3.20
	assert.True(t, decimal.RequireFromString("48.19").Equal(o.Total), "total %s", o.Total)
}

func TestRecalcTotals_DiscountClampedToSubtotal(t *testing.T) {
	o := &Order{
		Items:    []Item{{ProductID: "p1", Quantity: 1, UnitPrice: decimal.NewFromInt(10)}},
		Discount: decimal.NewFromInt(999),
	}

	o.recalcTotals()

	assert.True(t, decimal.NewFromInt(10).Equal(o.Discount))
	assert.True(t, o.Total.IsZero(), "total %s", o.Total)
}

func TestLineTotal(t *testing.T) {
	it := Item{Quantity: 3, UnitPrice: decimal.RequireFromString("2.50")}
	assert.True(t, decimal.RequireFromString("7.50").Equal(it.LineTotal()))
}
