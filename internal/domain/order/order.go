package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status describes where an order is in its lifecycle.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusConfirmed  Status = "CONFIRMED"
	StatusProcessing Status = "PROCESSING"
	StatusShipped    Status = "SHIPPED"
	StatusDelivered  Status = "DELIVERED"
	StatusCancelled  Status = "CANCELLED"
	StatusRefunded   Status = "REFUNDED"
)

// PaymentStatus summarizes the settlement state of an order as seen from the
// order side. The payment aggregate holds the authoritative state machine.
type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "UNPAID"
	PaymentPaid     PaymentStatus = "PAID"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

// transitions is the legal edge set of the order status machine. CANCELLED is
// additionally reachable from every non-terminal state, handled in CanTransition.
var transitions = map[Status][]Status{
	StatusPending:    {StatusConfirmed},
	StatusConfirmed:  {StatusProcessing},
	StatusProcessing: {StatusShipped},
	StatusShipped:    {StatusDelivered, StatusRefunded},
	StatusDelivered:  {StatusRefunded},
	StatusCancelled:  nil,
	StatusRefunded:   nil,
}

// IsTerminal reports whether no further transition is permitted from s, with
// the exception that DELIVERED still admits a refund.
func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled || s == StatusRefunded
}

// CanTransition reports whether the edge s -> target is legal.
func (s Status) CanTransition(target Status) bool {
	if target == StatusCancelled {
		return !s.IsTerminal()
	}
	for _, t := range transitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

var (
	// ErrNotFound is returned when an order lookup misses.
	ErrNotFound = errors.New("order not found")
	// ErrEmptyItems is returned when an order is created without line items.
	ErrEmptyItems = errors.New("order items required")
	// ErrConcurrentModification is returned when a save loses an optimistic
	// version race. Callers retry a bounded number of times.
	ErrConcurrentModification = errors.New("order modified concurrently")
)

// InvalidTransitionError indicates an illegal order status edge.
type InvalidTransitionError struct {
	From, To Status
}

func (e *InvalidTransitionError) Error() string {
	return "invalid order transition " + string(e.From) + " -> " + string(e.To)
}

// InvalidQuantityError indicates a line item with a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return "quantity must be greater than 0 for product " + e.ProductID
}

// Item is an immutable snapshot of one ordered line at order time. Unit price
// is captured from the catalog when the order is placed and never re-read.
type Item struct {
	ProductID string          `json:"product_id"`
	VariantID string          `json:"variant_id,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// LineTotal returns UnitPrice * Quantity.
func (i Item) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Address is the shipping destination, denormalized at order time. It is a
// copy, not a live reference to a customer address book entry.
type Address struct {
	Recipient  string `json:"recipient"`
	Phone      string `json:"phone,omitempty"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// Order is the order aggregate root. Items and Address are fixed once the
// order is created; monetary fields are recomputed through recalcTotals so
// that Total == Subtotal - Discount + ShippingFee + Tax always holds.
type Order struct {
	ID             string
	OrderNumber    string
	UserID         string
	Items          []Item
	Address        Address
	Subtotal       decimal.Decimal
	Discount       decimal.Decimal
	ShippingFee    decimal.Decimal
	Tax            decimal.Decimal
	Total          decimal.Decimal
	Currency       string
	Status         Status
	PaymentStatus  PaymentStatus
	PaymentMethod  string
	ShippingMethod string
	TrackingNumber string
	CouponCode     string
	Note           string
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// recalcTotals reapplies the total invariant from the component amounts.
// Every mutation of a monetary field goes through here.
func (o *Order) recalcTotals() {
	subtotal := decimal.Zero
	for _, it := range o.Items {
		subtotal = subtotal.Add(it.LineTotal())
	}
	o.Subtotal = subtotal.Round(2)
	o.Discount = o.Discount.Round(2)
	if o.Discount.GreaterThan(o.Subtotal) {
		o.Discount = o.Subtotal
	}
	o.Total = o.Subtotal.Sub(o.Discount).Add(o.ShippingFee).Add(o.Tax).Round(2)
	if o.Total.IsNegative() {
		o.Total = decimal.Zero
	}
}

// Transition moves the order to target, failing with InvalidTransitionError
// when the edge is not in the status graph.
func (o *Order) Transition(target Status, now time.Time) error {
	if !o.Status.CanTransition(target) {
		return &InvalidTransitionError{From: o.Status, To: target}
	}
	o.Status = target
	o.UpdatedAt = now
	return nil
}

// Page bounds a repository listing.
type Page struct {
	Offset int
	Limit  int
}

// Repository defines persistence operations for orders.
//
// Save persists the order and bumps its Version; when the stored version no
// longer matches the one read, Save fails with ErrConcurrentModification and
// the caller re-reads and retries.
type Repository interface {
	Save(ctx context.Context, o *Order) error
	FindByID(ctx context.Context, id string) (*Order, error)
	FindByOrderNumber(ctx context.Context, number string) (*Order, error)
	FindByUserIDAndStatus(ctx context.Context, userID string, status Status, page Page) ([]Order, error)
	Delete(ctx context.Context, id string) error
}

// InventoryService reserves stock when an order is placed and releases it on
// cancellation. The implementation lives outside the order core.
type InventoryService interface {
	Reserve(ctx context.Context, items []Item) error
	Release(ctx context.Context, items []Item) error
}
