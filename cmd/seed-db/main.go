// Command seed-db loads a set of demo coupon rules into the database so a
// fresh deployment has something to exercise the checkout flow with.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/checkoutd/checkoutd/internal/domain/coupon"
	"github.com/checkoutd/checkoutd/internal/repository"
)

func main() {
	var databaseURL string

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL string) error {
	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	repo := repository.NewCouponRepository(pool)
	now := time.Now()
	nextMonth := now.AddDate(0, 1, 0)

	rules := []coupon.Rule{
		{
			Code:         "WELCOME10",
			Description:  "10% off your first order",
			DiscountType: coupon.DiscountPercentage,
			Value:        decimal.NewFromInt(10),
			MaxDiscount:  decimal.NewFromInt(25),
			Active:       true,
		},
		{
			Code:          "SUMMER25",
			Description:   "25% off orders over $100, capped at $50",
			DiscountType:  coupon.DiscountPercentage,
			Value:         decimal.NewFromInt(25),
			MaxDiscount:   decimal.NewFromInt(50),
			MinOrderValue: decimal.NewFromInt(100),
			ValidUntil:    &nextMonth,
			Active:        true,
		},
		{
			Code:         "FLAT15",
			Description:  "$15 off any order",
			DiscountType: coupon.DiscountFixed,
			Value:        decimal.NewFromInt(15),
			MaxUses:      1000,
			Active:       true,
		},
		{
			Code:         "VIPONLY",
			Description:  "$40 off, limited to 50 redemptions",
			DiscountType: coupon.DiscountFixed,
			Value:        decimal.NewFromInt(40),
			MaxUses:      50,
			Active:       true,
		},
		{
			Code:         "EXPIRED24",
			Description:  "Last year's holiday promo, kept for regression checks",
			DiscountType: coupon.DiscountPercentage,
			Value:        decimal.NewFromInt(20),
			Active:       false,
		},
	}

	for i := range rules {
		rules[i].CreatedAt = now
		rules[i].UpdatedAt = now
		if err := repo.Save(ctx, &rules[i]); err != nil {
			return errors.Wrapf(err, "save coupon %s", rules[i].Code)
		}
		slog.Info("seeded coupon", slog.String("code", rules[i].Code))
	}

	return nil
}
