package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/checkoutd/checkoutd/internal/domain/coupon"
)

const (
	couponColumns = `code, description, discount_type, value, max_discount,
		min_order_value, max_uses, uses, valid_from, valid_until, active,
		created_at, updated_at`

	upsertCouponSQL = `INSERT INTO coupons (code, description, discount_type, value,
		max_discount, min_order_value, max_uses, uses, valid_from, valid_until, active,
		created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (code) DO UPDATE SET
			description = EXCLUDED.description,
			discount_type = EXCLUDED.discount_type,
			value = EXCLUDED.value,
			max_discount = EXCLUDED.max_discount,
			min_order_value = EXCLUDED.min_order_value,
			max_uses = EXCLUDED.max_uses,
			valid_from = EXCLUDED.valid_from,
			valid_until = EXCLUDED.valid_until,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at`

	getCouponByCodeSQL = `SELECT ` + couponColumns + `
		FROM coupons WHERE UPPER(code) = UPPER($1)`

	findAllValidCouponsSQL = `SELECT ` + couponColumns + `
		FROM coupons
		WHERE active = TRUE
		  AND (valid_from IS NULL OR valid_from <= $1)
		  AND (valid_until IS NULL OR valid_until >= $1)
		  AND (max_uses = 0 OR uses < max_uses)
		ORDER BY code`

	couponExistsSQL = `SELECT EXISTS (SELECT 1 FROM coupons WHERE UPPER(code) = UPPER($1))`

	// The usage limit check and the increment happen in one statement, so two
	// concurrent redemptions of a coupon with one remaining use cannot both
	// pass: the row lock serializes them and the second sees the new count.
	redeemCouponSQL = `UPDATE coupons
		SET uses = uses + 1, updated_at = now()
		WHERE UPPER(code) = UPPER($1) AND (max_uses = 0 OR uses < max_uses)`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// Save inserts the rule or updates everything except the usage counter,
// which only Redeem may touch.
func (r *CouponRepository) Save(ctx context.Context, rule *coupon.Rule) error {
	_, err := r.pool.Exec(ctx, upsertCouponSQL,
		rule.Code, rule.Description, string(rule.DiscountType), rule.Value,
		rule.MaxDiscount, rule.MinOrderValue, int32(rule.MaxUses), int32(rule.Uses),
		rule.ValidFrom, rule.ValidUntil, rule.Active, rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving coupon %q: %w", rule.Code, err)
	}
	return nil
}

// FindByCode looks up a coupon by its code (case-insensitive).
// Returns coupon.ErrNotFound when no such coupon exists.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Rule, error) {
	rows, err := r.pool.Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	rule, err := pgx.CollectExactlyOneRow(rows, scanCouponRule)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return &rule, nil
}

// FindAllValid returns all coupons valid at the given instant.
func (r *CouponRepository) FindAllValid(ctx context.Context, now time.Time) ([]coupon.Rule, error) {
	rows, err := r.pool.Query(ctx, findAllValidCouponsSQL, now)
	if err != nil {
		return nil, fmt.Errorf("finding valid coupons: %w", err)
	}

	rules, err := pgx.CollectRows(rows, scanCouponRule)
	if err != nil {
		return nil, fmt.Errorf("finding valid coupons: %w", err)
	}
	return rules, nil
}

// ExistsByCode reports whether a coupon with the given code exists.
func (r *CouponRepository) ExistsByCode(ctx context.Context, code string) (bool, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, couponExistsSQL, code).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking coupon %q: %w", code, err)
	}
	return exists, nil
}

// Redeem consumes one use of the coupon via a conditional UPDATE. No rows
// affected means the coupon is either missing or its limit is exhausted.
func (r *CouponRepository) Redeem(ctx context.Context, code string) error {
	tag, err := r.pool.Exec(ctx, redeemCouponSQL, code)
	if err != nil {
		return fmt.Errorf("redeeming coupon %q: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		exists, err := r.ExistsByCode(ctx, code)
		if err != nil {
			return err
		}
		if !exists {
			return coupon.ErrNotFound
		}
		return coupon.ErrUsageLimitReached
	}
	return nil
}

func scanCouponRule(row pgx.CollectableRow) (coupon.Rule, error) {
	var (
		rule         coupon.Rule
		discountType string
		value        decimal.Decimal
		maxDiscount  decimal.Decimal
		minOrder     decimal.Decimal
		maxUses      int32
		uses         int32
	)
	err := row.Scan(
		&rule.Code, &rule.Description, &discountType, &value, &maxDiscount,
		&minOrder, &maxUses, &uses, &rule.ValidFrom, &rule.ValidUntil, &rule.Active,
		&rule.CreatedAt, &rule.UpdatedAt,
	)
	rule.DiscountType = coupon.DiscountType(discountType)
	rule.Value = value
	rule.MaxDiscount = maxDiscount
	rule.MinOrderValue = minOrder
	rule.MaxUses = int(maxUses)
	rule.Uses = int(uses)
	return rule, err
}
