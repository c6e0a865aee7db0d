package coupon

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func activeRule() Rule {
	return Rule{
		Code:         "TEST",
		DiscountType: DiscountPercentage,
		Value:        decimal.NewFromInt(10),
		Active:       true,
	}
}

func TestValidate_Active(t *testing.T) {
	rule := activeRule()
	require.NoError(t, Validate(&rule, decimal.NewFromInt(100), testNow))
}

func TestValidate_Inactive(t *testing.T) {
	rule := activeRule()
	rule.Active = false
	require.ErrorIs(t, Validate(&rule, decimal.NewFromInt(100), testNow), ErrInactive)
}

func TestValidate_NotYetValid(t *testing.T) {
	rule := activeRule()
	from := testNow.Add(time.Hour)
	rule.ValidFrom = &from
	require.ErrorIs(t, Validate(&rule, decimal.NewFromInt(100), testNow), ErrExpired)
}

func TestValidate_Expired(t *testing.T) {
	rule := activeRule()
	until := testNow.Add(-time.Second)
	rule.ValidUntil = &until
	require.ErrorIs(t, Validate(&rule, decimal.NewFromInt(100), testNow), ErrExpired)
}

func TestValidate_ExpiresAtBoundary(t *testing.T) {
	// A coupon is still valid at the exact end of its window.
	rule := activeRule()
	until := testNow
	rule.ValidUntil = &until
	require.NoError(t, Validate(&rule, decimal.NewFromInt(100), testNow))
}

func TestValidate_UsageLimitReached(t *testing.T) {
	rule := activeRule()
	rule.MaxUses = 5
	rule.Uses = 5
	require.ErrorIs(t, Validate(&rule, decimal.NewFromInt(100), testNow), ErrUsageLimitReached)
}

func TestValidate_UsageLimitZeroMeansUnlimited(t *testing.T) {
	rule := activeRule()
	rule.Uses = 1_000_000
	require.NoError(t, Validate(&rule, decimal.NewFromInt(100), testNow))
}

func TestValidate_MinOrderNotMet(t *testing.T) {
	rule := activeRule()
	rule.MinOrderValue = decimal.NewFromInt(50)

	require.ErrorIs(t, Validate(&rule, decimal.RequireFromString("49.99"), testNow), ErrMinOrderNotMet)
	require.NoError(t, Validate(&rule, decimal.NewFromInt(50), testNow))
}

func TestDiscount_Percentage(t *testing.T) {
	rule := activeRule()

	got, err := Discount(&rule, decimal.NewFromInt(200))
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(20).Equal(got), "got %s", got)
}

func TestDiscount_PercentageCappedByMaxDiscount(t *testing.T) {
	rule := activeRule()
	rule.MaxDiscount = decimal.NewFromInt(50_000)

	got, err := Discount(&rule, decimal.NewFromInt(1_000_000))
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(50_000).Equal(got), "got %s", got)
}

func TestDiscount_PercentageNeverExceedsSubtotal(t *testing.T) {
	rule := activeRule()
	rule.Value = decimal.NewFromInt(150)

	got, err := Discount(&rule, decimal.NewFromInt(80))
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(80).Equal(got), "got %s", got)
}

func TestDiscount_PercentageRounding(t *testing.T) {
	rule := activeRule()
	rule.Value = decimal.RequireFromString("7.5")

	got, err := Discount(&rule, decimal.RequireFromString("33.33"))
	require.NoError(t, err)
	// 33.33 * 0.075 = 2.49975, rounds to 2.50
	assert.True(t, decimal.RequireFromString("2.50").Equal(got), "got %s", got)
}

func TestDiscount_FixedUnderSubtotal(t *testing.T) {
	rule := activeRule()
	rule.DiscountType = DiscountFixed
	rule.Value = decimal.NewFromInt(15)

	got, err := Discount(&rule, decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(15).Equal(got), "got %s", got)
}

func TestDiscount_FixedCappedAtSubtotal(t *testing.T) {
	rule := activeRule()
	rule.DiscountType = DiscountFixed
	rule.Value = decimal.NewFromInt(40)

	got, err := Discount(&rule, decimal.RequireFromString("12.50"))
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("12.50").Equal(got), "got %s", got)
}

func TestDiscount_UnknownType(t *testing.T) {
	rule := activeRule()
	rule.DiscountType = "bogus"

	_, err := Discount(&rule, decimal.NewFromInt(100))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported discount type")
}
