// Package app wires configuration, storage, domain services, and the HTTP
// server into a running process.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/checkoutd/checkoutd/internal/domain/event"
	"github.com/checkoutd/checkoutd/internal/domain/order"
	"github.com/checkoutd/checkoutd/internal/domain/payment"
	"github.com/checkoutd/checkoutd/internal/handler"
	"github.com/checkoutd/checkoutd/internal/repository"
	"github.com/checkoutd/checkoutd/pkg/health"
	"github.com/checkoutd/checkoutd/pkg/httpmiddleware"
)

// loggingInventory stands in for the external stock service: reservations are
// logged and always granted. A real inventory client satisfies the same
// interface.
type loggingInventory struct{}

var _ order.InventoryService = loggingInventory{}

func (loggingInventory) Reserve(ctx context.Context, items []order.Item) error {
	zctx.From(ctx).Info("inventory reserve", zap.Int("lines", len(items)))
	return nil
}

func (loggingInventory) Release(ctx context.Context, items []order.Item) error {
	zctx.From(ctx).Info("inventory release", zap.Int("lines", len(items)))
	return nil
}

// orderHook adapts the order service to the payment service's notification
// interface. The pointer is set after both services exist.
type orderHook struct {
	orders *order.Service
}

var _ payment.OrderHook = (*orderHook)(nil)

func (h *orderHook) MarkPaid(ctx context.Context, orderID string) error {
	return h.orders.MarkPaid(ctx, orderID)
}

func (h *orderHook) MarkRefunded(ctx context.Context, orderID string) error {
	return h.orders.MarkRefunded(ctx, orderID)
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	pricing, err := cfg.OrderPricing()
	if err != nil {
		return err
	}

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	orderRepo := repository.NewOrderRepository(pool)
	paymentRepo := repository.NewPaymentRepository(pool)
	refundRepo := repository.NewRefundRepository(pool)
	couponRepo := repository.NewCouponRepository(pool)
	auditLog := repository.NewAuditLog(pool)

	// Event bus: audit log sees everything.
	bus := event.NewBus()
	bus.SubscribeAll(auditLog.Append)
	bus.Subscribe(event.KindOrderStatusChanged, func(ctx context.Context, ev event.Event) error {
		zctx.From(ctx).Info("order status changed",
			zap.String("order_id", ev.OrderID),
			zap.String("from", ev.From),
			zap.String("to", ev.To),
		)
		return nil
	})

	// Domain services. Order and payment reference each other through small
	// interfaces; the hook is patched once both exist.
	hook := &orderHook{}
	paymentSvc := payment.NewService(paymentRepo, refundRepo, hook, bus)
	orderSvc := order.NewService(orderRepo, couponRepo, loggingInventory{}, paymentSvc, bus, pricing)
	hook.orders = orderSvc

	// HTTP surface.
	h := handler.New(orderSvc, orderRepo, paymentSvc, couponRepo)

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/api/", http.StripPrefix("/api", h.Routes()))

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins: cfg.CORS.Origins,
				AllowHeaders: []string{"Content-Type", "Authorization"},
				MaxAge:       86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.LogRequests(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
