package coupon

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Validate checks whether the rule can be applied to an order with the given
// subtotal at the given instant. It returns nil when the coupon qualifies, or
// one of ErrInactive, ErrExpired, ErrUsageLimitReached, ErrMinOrderNotMet.
func Validate(rule *Rule, subtotal decimal.Decimal, now time.Time) error {
	if !rule.Active {
		return ErrInactive
	}
	if rule.ValidFrom != nil && now.Before(*rule.ValidFrom) {
		return ErrExpired
	}
	if rule.ValidUntil != nil && now.After(*rule.ValidUntil) {
		return ErrExpired
	}
	if rule.MaxUses > 0 && rule.Uses >= rule.MaxUses {
		return ErrUsageLimitReached
	}
	if rule.MinOrderValue.IsPositive() && subtotal.LessThan(rule.MinOrderValue) {
		return ErrMinOrderNotMet
	}
	return nil
}

// Discount calculates the discount amount for the given rule and subtotal.
// The result is never negative and never exceeds the subtotal.
func Discount(rule *Rule, subtotal decimal.Decimal) (decimal.Decimal, error) {
	switch rule.DiscountType {
	case DiscountPercentage:
		return applyPercentage(rule, subtotal), nil
	case DiscountFixed:
		return applyFixed(rule, subtotal), nil
	default:
		return decimal.Zero, errors.Errorf("unsupported discount type: %q", rule.DiscountType)
	}
}

func applyPercentage(rule *Rule, subtotal decimal.Decimal) decimal.Decimal {
	amount := subtotal.Mul(rule.Value).Div(hundred)
	if rule.MaxDiscount.IsPositive() {
		amount = decimal.Min(amount, rule.MaxDiscount)
	}
	amount = decimal.Min(amount, subtotal)
	return floorAtZero(amount).Round(2)
}

func applyFixed(rule *Rule, subtotal decimal.Decimal) decimal.Decimal {
	amount := decimal.Min(rule.Value, subtotal)
	return floorAtZero(amount).Round(2)
}

// floorAtZero clamps negative values to zero.
func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
