package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"github.com/checkoutd/checkoutd/internal/domain/coupon"
	"github.com/checkoutd/checkoutd/internal/domain/event"
)

// ErrInvalidCoupon wraps any coupon validation failure during order creation.
var ErrInvalidCoupon = errors.New("invalid coupon")

// RefundRequester asks the payment subsystem to refund whatever has been
// captured for an order. Used by Cancel as a compensating action.
type RefundRequester interface {
	RefundCaptured(ctx context.Context, orderID, reason string) error
}

// Pricing holds the fee schedule applied at order creation.
type Pricing struct {
	// ShippingFees maps shipping method to its flat fee. Methods not present
	// fall back to DefaultShippingFee.
	ShippingFees       map[string]decimal.Decimal
	DefaultShippingFee decimal.Decimal
	// TaxRate is a fraction (0.1 = 10%) applied to subtotal minus discount.
	TaxRate  decimal.Decimal
	Currency string
}

func (p Pricing) shippingFee(method string) decimal.Decimal {
	if fee, ok := p.ShippingFees[method]; ok {
		return fee
	}
	return p.DefaultShippingFee
}

// CreateRequest holds the input for placing an order. Unit prices are the
// catalog snapshot taken by the caller at request time.
type CreateRequest struct {
	UserID         string
	Items          []Item
	Address        Address
	PaymentMethod  string
	ShippingMethod string
	CouponCode     string
	Note           string
}

// Service encapsulates the order lifecycle: creation with coupon settlement,
// status transitions, and cancellation with compensating actions.
type Service struct {
	orders    Repository
	coupons   coupon.Repository
	inventory InventoryService
	refunds   RefundRequester
	events    event.Dispatcher
	pricing   Pricing

	now func() time.Time
}

// NewService creates an order Service with the required collaborators.
func NewService(
	orders Repository,
	coupons coupon.Repository,
	inventory InventoryService,
	refunds RefundRequester,
	events event.Dispatcher,
	pricing Pricing,
) *Service {
	return &Service{
		orders:    orders,
		coupons:   coupons,
		inventory: inventory,
		refunds:   refunds,
		events:    events,
		pricing:   pricing,
		now:       time.Now,
	}
}

// Create validates the request, applies the coupon (when provided), reserves
// inventory, and persists the order in PENDING. A failure after this point
// (payment creation, capture) leaves the order PENDING and retryable.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Order, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}
	for _, it := range req.Items {
		if it.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: it.ProductID}
		}
	}

	now := s.now()

	o := &Order{
		ID:             uuid.New().String(),
		UserID:         req.UserID,
		Items:          req.Items,
		Address:        req.Address,
		Currency:       s.pricing.Currency,
		Status:         StatusPending,
		PaymentStatus:  PaymentUnpaid,
		PaymentMethod:  req.PaymentMethod,
		ShippingMethod: req.ShippingMethod,
		CouponCode:     req.CouponCode,
		Note:           req.Note,
		ShippingFee:    s.pricing.shippingFee(req.ShippingMethod),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	o.OrderNumber = newOrderNumber(now, o.ID)
	o.recalcTotals()

	if req.CouponCode != "" {
		discount, err := s.settleCoupon(ctx, req.CouponCode, o.Subtotal, now)
		if err != nil {
			return nil, err
		}
		o.Discount = discount
	}

	o.Tax = o.Subtotal.Sub(o.Discount).Mul(s.pricing.TaxRate).Round(2)
	o.recalcTotals()

	if err := s.inventory.Reserve(ctx, o.Items); err != nil {
		return nil, errors.Wrap(err, "reserve inventory")
	}

	if err := s.orders.Save(ctx, o); err != nil {
		// Put the stock back; the redeemed coupon use is not returned, which
		// errs on the side of never over-redeeming.
		if relErr := s.inventory.Release(ctx, o.Items); relErr != nil {
			return nil, errors.Wrap(err, "save order (inventory release also failed)")
		}
		return nil, errors.Wrap(err, "save order")
	}

	s.events.Dispatch(ctx, event.Event{
		Kind:       event.KindOrderCreated,
		EntityID:   o.ID,
		OrderID:    o.ID,
		To:         string(StatusPending),
		Detail:     o.OrderNumber,
		OccurredAt: now,
	})

	return o, nil
}

// settleCoupon validates the coupon against the subtotal, computes the
// discount, and consumes one use. Redemption happens through the repository's
// atomic increment so concurrent creations cannot over-redeem.
func (s *Service) settleCoupon(ctx context.Context, code string, subtotal decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	rule, err := s.coupons.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, coupon.ErrNotFound) {
			return decimal.Zero, errors.Wrap(ErrInvalidCoupon, coupon.ErrNotFound.Error())
		}
		return decimal.Zero, errors.Wrap(err, "lookup coupon")
	}

	if err := coupon.Validate(rule, subtotal, now); err != nil {
		return decimal.Zero, errors.Wrapf(ErrInvalidCoupon, "%s", err)
	}

	discount, err := coupon.Discount(rule, subtotal)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "compute discount")
	}

	if err := s.coupons.Redeem(ctx, code); err != nil {
		if errors.Is(err, coupon.ErrUsageLimitReached) {
			return decimal.Zero, errors.Wrap(ErrInvalidCoupon, coupon.ErrUsageLimitReached.Error())
		}
		return decimal.Zero, errors.Wrap(err, "redeem coupon")
	}

	return discount, nil
}

// Transition moves the order identified by id to target, retrying a bounded
// number of times when the save loses an optimistic version race.
func (s *Service) Transition(ctx context.Context, id string, target Status) (*Order, error) {
	var out *Order
	err := s.withRetry(ctx, func(ctx context.Context) error {
		o, err := s.orders.FindByID(ctx, id)
		if err != nil {
			return err
		}
		from := o.Status
		if err := o.Transition(target, s.now()); err != nil {
			return err
		}
		if err := s.orders.Save(ctx, o); err != nil {
			return err
		}
		s.dispatchStatusChange(ctx, o, from, target, "")
		out = o
		return nil
	})
	return out, err
}

// Ship transitions the order to SHIPPED and records the tracking number.
func (s *Service) Ship(ctx context.Context, id, trackingNumber string) (*Order, error) {
	var out *Order
	err := s.withRetry(ctx, func(ctx context.Context) error {
		o, err := s.orders.FindByID(ctx, id)
		if err != nil {
			return err
		}
		from := o.Status
		if err := o.Transition(StatusShipped, s.now()); err != nil {
			return err
		}
		o.TrackingNumber = trackingNumber
		if err := s.orders.Save(ctx, o); err != nil {
			return err
		}
		s.dispatchStatusChange(ctx, o, from, StatusShipped, trackingNumber)
		out = o
		return nil
	})
	return out, err
}

// Cancel aborts a non-terminal order: releases reserved inventory and, when a
// payment was already captured, requests a compensating refund.
func (s *Service) Cancel(ctx context.Context, id, reason string) (*Order, error) {
	var out *Order
	err := s.withRetry(ctx, func(ctx context.Context) error {
		o, err := s.orders.FindByID(ctx, id)
		if err != nil {
			return err
		}
		from := o.Status
		if err := o.Transition(StatusCancelled, s.now()); err != nil {
			return err
		}
		if reason != "" {
			o.Note = reason
		}
		if err := s.orders.Save(ctx, o); err != nil {
			return err
		}

		if err := s.inventory.Release(ctx, o.Items); err != nil {
			return errors.Wrap(err, "release inventory")
		}
		if o.PaymentStatus == PaymentPaid {
			if err := s.refunds.RefundCaptured(ctx, o.ID, reason); err != nil {
				return errors.Wrap(err, "request refund")
			}
		}

		s.dispatchStatusChange(ctx, o, from, StatusCancelled, reason)
		out = o
		return nil
	})
	return out, err
}

// MarkPaid records that the order's payment was captured. Called by the
// payment subsystem once settlement confirms.
func (s *Service) MarkPaid(ctx context.Context, id string) error {
	return s.withRetry(ctx, func(ctx context.Context) error {
		o, err := s.orders.FindByID(ctx, id)
		if err != nil {
			return err
		}
		o.PaymentStatus = PaymentPaid
		o.UpdatedAt = s.now()
		return s.orders.Save(ctx, o)
	})
}

// MarkRefunded records that the order's captured payment was fully refunded.
func (s *Service) MarkRefunded(ctx context.Context, id string) error {
	return s.withRetry(ctx, func(ctx context.Context) error {
		o, err := s.orders.FindByID(ctx, id)
		if err != nil {
			return err
		}
		o.PaymentStatus = PaymentRefunded
		o.UpdatedAt = s.now()
		return s.orders.Save(ctx, o)
	})
}

func (s *Service) dispatchStatusChange(ctx context.Context, o *Order, from, to Status, detail string) {
	s.events.Dispatch(ctx, event.Event{
		Kind:       event.KindOrderStatusChanged,
		EntityID:   o.ID,
		OrderID:    o.ID,
		From:       string(from),
		To:         string(to),
		Detail:     detail,
		OccurredAt: o.UpdatedAt,
	})
}

const conflictRetries = 3

// withRetry runs fn, retrying with backoff when it fails with
// ErrConcurrentModification. Other errors surface immediately.
func (s *Service) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(conflictRetries, retry.NewFibonacci(10*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if errors.Is(err, ErrConcurrentModification) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// newOrderNumber builds a human-readable unique order number such as
// ORD-20240101-9F86D081. The suffix comes from the order's UUID.
func newOrderNumber(now time.Time, id string) string {
	suffix := strings.ToUpper(strings.ReplaceAll(id, "-", ""))
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return "ORD-" + now.UTC().Format("20060102") + "-" + suffix
}
