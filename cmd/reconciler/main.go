// Command reconciler periodically sweeps payments and refunds that have sat in
// PENDING longer than the configured cutoff. Stale payments are expired to
// FAILED so the order can accept a fresh attempt; stale refunds are only
// reported, since failing them automatically would hide money owed to a
// customer.
package main

import (
	"context"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/checkoutd/checkoutd/internal/domain/payment"
	"github.com/checkoutd/checkoutd/internal/repository"
)

type config struct {
	DatabaseURL string        `env:"DATABASE_URL" usage:"PostgreSQL connection URL"`
	Interval    time.Duration `env:"INTERVAL" default:"1m" usage:"time between sweeps"`
	ExpireAfter time.Duration `env:"EXPIRE_AFTER" default:"30m" usage:"age after which a pending payment is failed"`
	ReportAfter time.Duration `env:"REPORT_AFTER" default:"10m" usage:"age after which a pending refund is reported"`
	Once        bool          `env:"ONCE" usage:"run a single sweep and exit"`
}

func main() {
	app.Run(func(ctx context.Context, lg *zap.Logger, _ *app.Telemetry) error {
		var cfg config
		loader := aconfig.LoaderFor(&cfg, aconfig.Config{
			EnvPrefix: "RECONCILER",
		})
		if err := loader.Load(); err != nil {
			return errors.Wrap(err, "load config")
		}
		if cfg.DatabaseURL == "" {
			return errors.New("RECONCILER_DATABASE_URL is required")
		}

		pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return errors.Wrap(err, "connect to database")
		}
		defer pool.Close()

		r := &reconciler{
			payments:    repository.NewPaymentRepository(pool),
			refunds:     repository.NewRefundRepository(pool),
			expireAfter: cfg.ExpireAfter,
			reportAfter: cfg.ReportAfter,
			now:         time.Now,
		}

		if cfg.Once {
			return r.sweep(ctx, lg)
		}

		lg.Info("reconciler started",
			zap.Duration("interval", cfg.Interval),
			zap.Duration("expire_after", cfg.ExpireAfter),
		)

		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				lg.Info("reconciler stopping")
				return nil
			case <-ticker.C:
				if err := r.sweep(ctx, lg); err != nil {
					lg.Error("sweep failed", zap.Error(err))
				}
			}
		}
	})
}

type reconciler struct {
	payments    payment.Repository
	refunds     payment.RefundRepository
	expireAfter time.Duration
	reportAfter time.Duration
	now         func() time.Time
}

func (r *reconciler) sweep(ctx context.Context, lg *zap.Logger) error {
	now := r.now()

	stale, err := r.payments.FindPending(ctx, now.Add(-r.expireAfter))
	if err != nil {
		return errors.Wrap(err, "find pending payments")
	}

	expired := 0
	for i := range stale {
		if err := r.expirePayment(ctx, stale[i].ID); err != nil {
			lg.Error("expire payment",
				zap.String("payment_id", stale[i].ID),
				zap.String("order_id", stale[i].OrderID),
				zap.Error(err),
			)
			continue
		}
		expired++
		lg.Info("expired stale payment",
			zap.String("payment_id", stale[i].ID),
			zap.String("order_id", stale[i].OrderID),
			zap.Time("created_at", stale[i].CreatedAt),
		)
	}

	pendingRefunds, err := r.refunds.FindPending(ctx, now.Add(-r.reportAfter))
	if err != nil {
		return errors.Wrap(err, "find pending refunds")
	}
	for i := range pendingRefunds {
		lg.Warn("refund pending past cutoff, needs manual confirmation",
			zap.String("refund_id", pendingRefunds[i].ID),
			zap.String("payment_id", pendingRefunds[i].PaymentID),
			zap.String("amount", pendingRefunds[i].Amount.String()),
			zap.Time("created_at", pendingRefunds[i].CreatedAt),
		)
	}

	if expired > 0 || len(pendingRefunds) > 0 {
		lg.Info("sweep complete",
			zap.Int("payments_expired", expired),
			zap.Int("refunds_reported", len(pendingRefunds)),
		)
	} else {
		zctx.From(ctx).Debug("sweep complete, nothing stale")
	}

	return nil
}

// expirePayment moves a pending payment to FAILED, retrying on version races
// with the gateway callback path. A payment that left PENDING between the
// sweep query and the save is left alone.
func (r *reconciler) expirePayment(ctx context.Context, id string) error {
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(10*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		p, err := r.payments.FindByID(ctx, id)
		if err != nil {
			return errors.Wrap(err, "reload payment")
		}
		if p.Status != payment.StatusPending {
			return nil
		}
		p.Status = payment.StatusFailed
		p.UpdatedAt = r.now()
		if err := r.payments.Save(ctx, p); err != nil {
			if errors.Is(err, payment.ErrConcurrentModification) {
				return retry.RetryableError(err)
			}
			return errors.Wrap(err, "save payment")
		}
		return nil
	})
}
