package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage applies a percentage-based discount to the subtotal.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed applies a fixed monetary discount capped at the subtotal.
	DiscountFixed DiscountType = "fixed"
)

var (
	// ErrNotFound is returned when a coupon code does not exist.
	ErrNotFound = errors.New("coupon not found")
	// ErrInactive is returned when a coupon has been disabled.
	ErrInactive = errors.New("coupon inactive")
	// ErrExpired is returned when a coupon is outside its valid time window.
	ErrExpired = errors.New("coupon expired")
	// ErrUsageLimitReached is returned when a coupon has exhausted its allowed uses.
	ErrUsageLimitReached = errors.New("coupon usage limit reached")
	// ErrMinOrderNotMet is returned when the order subtotal is below the
	// coupon's minimum qualifying value.
	ErrMinOrderNotMet = errors.New("order subtotal below coupon minimum")
)

// Rule defines a coupon's discount behaviour and eligibility constraints.
// The code doubles as the primary key and is immutable once created.
type Rule struct {
	Code          string
	Description   string
	DiscountType  DiscountType
	Value         decimal.Decimal
	MaxDiscount   decimal.Decimal // cap for percentage coupons; zero means uncapped
	MinOrderValue decimal.Decimal
	MaxUses       int // zero means unlimited
	Uses          int
	ValidFrom     *time.Time
	ValidUntil    *time.Time
	Active        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Repository provides lookup and redemption of coupon rules.
//
// Redeem consumes one use of the coupon identified by code. Implementations
// must perform the usage-count increment atomically with the limit check
// (conditional UPDATE, compare-and-swap, or an exclusive per-code lock):
// two concurrent redemptions of a coupon with one remaining use must not
// both succeed. A plain read-then-write increment is a bug.
type Repository interface {
	Save(ctx context.Context, rule *Rule) error
	FindByCode(ctx context.Context, code string) (*Rule, error)
	FindAllValid(ctx context.Context, now time.Time) ([]Rule, error)
	ExistsByCode(ctx context.Context, code string) (bool, error)
	Redeem(ctx context.Context, code string) error
}
