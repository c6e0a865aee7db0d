package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/checkoutd/checkoutd/internal/domain/coupon"
	"github.com/checkoutd/checkoutd/internal/domain/event"
	"github.com/checkoutd/checkoutd/internal/domain/order"
	"github.com/checkoutd/checkoutd/internal/domain/payment"
	"github.com/checkoutd/checkoutd/internal/memstore"
)

// orderHook bridges payment settlement callbacks to the order service.
type orderHook struct {
	orders *order.Service
}

func (h *orderHook) MarkPaid(ctx context.Context, orderID string) error {
	return h.orders.MarkPaid(ctx, orderID)
}

func (h *orderHook) MarkRefunded(ctx context.Context, orderID string) error {
	return h.orders.MarkRefunded(ctx, orderID)
}

type fixture struct {
	router  http.Handler
	orders  *memstore.OrderStore
	coupons *memstore.CouponStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	orderStore := memstore.NewOrderStore()
	couponStore := memstore.NewCouponStore()
	paymentStore := memstore.NewPaymentStore()
	refundStore := memstore.NewRefundStore()

	pricing := order.Pricing{
		ShippingFees: map[string]decimal.Decimal{
			"standard": decimal.RequireFromString("5.00"),
		},
		DefaultShippingFee: decimal.RequireFromString("5.00"),
		TaxRate:            decimal.RequireFromString("0.08"),
		Currency:           "USD",
	}

	hook := &orderHook{}
	paymentSvc := payment.NewService(paymentStore, refundStore, hook, event.Nop{})
	orderSvc := order.NewService(orderStore, couponStore, memstore.NopInventory{}, paymentSvc, event.Nop{}, pricing)
	hook.orders = orderSvc

	h := New(orderSvc, orderStore, paymentSvc, couponStore)
	return &fixture{
		router:  h.Routes(),
		orders:  orderStore,
		coupons: couponStore,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(dst))
}

func createReq() map[string]any {
	return map[string]any{
		"user_id": "u1",
		"items": []map[string]any{
			{"product_id": "p1", "quantity": 2, "unit_price": "10.00"},
			{"product_id": "p2", "quantity": 1, "unit_price": "20.00"},
		},
		"address": map[string]any{
			"recipient":   "Ida Larsen",
			"line1":       "12 Harbour St",
			"city":        "Aarhus",
			"postal_code": "8000",
			"country":     "DK",
		},
		"shipping_method": "standard",
	}
}

func TestCreateOrder(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/orders", createReq())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var got orderResp
	decodeBody(t, rec, &got)
	assert.NotEmpty(t, got.ID)
	assert.Regexp(t, `^ORD-\d{8}-[0-9A-F]{8}$`, got.OrderNumber)
	assert.Equal(t, "PENDING", got.Status)
	assert.Equal(t, "UNPAID", got.PaymentStatus)
	assert.True(t, decimal.RequireFromString("48.20").Equal(got.Total), "total %s", got.Total)
}

func TestCreateOrder_MalformedBody(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateOrder_EmptyItems(t *testing.T) {
	f := newFixture(t)

	body := createReq()
	body["items"] = []map[string]any{}
	rec := f.do(t, http.MethodPost, "/orders", body)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateOrder_InvalidCoupon(t *testing.T) {
	f := newFixture(t)

	body := createReq()
	body["coupon_code"] = "BOGUS"
	rec := f.do(t, http.MethodPost, "/orders", body)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestCreateOrder_WithCoupon(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.coupons.Save(context.Background(), &coupon.Rule{
		Code:         "TEN",
		DiscountType: coupon.DiscountPercentage,
		Value:        decimal.NewFromInt(10),
		Active:       true,
	}))

	body := createReq()
	body["coupon_code"] = "TEN"
	rec := f.do(t, http.MethodPost, "/orders", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var got orderResp
	decodeBody(t, rec, &got)
	assert.True(t, decimal.RequireFromString("4.00").Equal(got.Discount), "discount %s", got.Discount)
	assert.True(t, decimal.RequireFromString("43.88").Equal(got.Total), "total %s", got.Total)
}

func TestGetOrder_ByIDAndNumber(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/orders", createReq())
	require.Equal(t, http.StatusCreated, rec.Code)
	var created orderResp
	decodeBody(t, rec, &created)

	rec = f.do(t, http.MethodGet, "/orders/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/orders/"+created.OrderNumber, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got orderResp
	decodeBody(t, rec, &got)
	assert.Equal(t, created.ID, got.ID)
}

func TestGetOrder_NotFound(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/orders/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListOrders(t *testing.T) {
	f := newFixture(t)

	for range 3 {
		rec := f.do(t, http.MethodPost, "/orders", createReq())
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := f.do(t, http.MethodGet, "/orders?user_id=u1&status=PENDING&limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got []orderResp
	decodeBody(t, rec, &got)
	assert.Len(t, got, 2)

	rec = f.do(t, http.MethodGet, "/orders?user_id=u1", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code, "status is required")
}

func TestTransitionOrder_InvalidEdge(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/orders", createReq())
	var created orderResp
	decodeBody(t, rec, &created)

	rec = f.do(t, http.MethodPost, "/orders/"+created.ID+"/status", map[string]any{"status": "DELIVERED"})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestPaymentLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t)

	// Place the order.
	rec := f.do(t, http.MethodPost, "/orders", createReq())
	require.Equal(t, http.StatusCreated, rec.Code)
	var o orderResp
	decodeBody(t, rec, &o)

	// Open a payment; the amount comes from the order, not the request.
	rec = f.do(t, http.MethodPost, "/payments", map[string]any{
		"order_id": o.ID,
		"method":   "card",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var p paymentResp
	decodeBody(t, rec, &p)
	assert.Equal(t, "PENDING", p.Status)
	assert.True(t, decimal.RequireFromString("48.20").Equal(p.Amount))

	// A second attempt while the first is active is rejected.
	rec = f.do(t, http.MethodPost, "/payments", map[string]any{"order_id": o.ID, "method": "card"})
	require.Equal(t, http.StatusConflict, rec.Code)

	// Authorize, then capture.
	callback := fmt.Sprintf("/payments/%s/gateway-callback", p.ID)
	rec = f.do(t, http.MethodPost, callback, map[string]any{
		"gateway_txn_id": "gw-1", "status": "authorized", "amount": "48.20",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, callback, map[string]any{
		"gateway_txn_id": "gw-2", "status": "captured", "amount": "48.20",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decodeBody(t, rec, &p)
	assert.Equal(t, "CAPTURED", p.Status)
	require.Len(t, p.Transactions, 2)

	// The capture marked the order paid.
	rec = f.do(t, http.MethodGet, "/orders/"+o.ID, nil)
	decodeBody(t, rec, &o)
	assert.Equal(t, "PAID", o.PaymentStatus)

	// Refund the captured transaction in full.
	capturedTxn := p.Transactions[1].ID
	rec = f.do(t, http.MethodPost, "/payments/"+p.ID+"/refunds", map[string]any{
		"transaction_id": capturedTxn,
		"amount":         "48.20",
		"reason":         "item returned",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var rf refundResp
	decodeBody(t, rec, &rf)
	assert.Equal(t, "PENDING", rf.Status)

	rec = f.do(t, http.MethodPost, "/refunds/"+rf.ID+"/confirm", map[string]any{
		"success":           true,
		"gateway_refund_id": "gw-r1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decodeBody(t, rec, &rf)
	assert.Equal(t, "SUCCESS", rf.Status)

	rec = f.do(t, http.MethodGet, "/payments/"+p.ID, nil)
	decodeBody(t, rec, &p)
	assert.Equal(t, "REFUNDED", p.Status)

	rec = f.do(t, http.MethodGet, "/orders/"+o.ID, nil)
	decodeBody(t, rec, &o)
	assert.Equal(t, "REFUNDED", o.PaymentStatus)
}

func TestGatewayCallback_UnknownStatus(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/orders", createReq())
	var o orderResp
	decodeBody(t, rec, &o)

	rec = f.do(t, http.MethodPost, "/payments", map[string]any{"order_id": o.ID, "method": "card"})
	var p paymentResp
	decodeBody(t, rec, &p)

	rec = f.do(t, http.MethodPost, "/payments/"+p.ID+"/gateway-callback", map[string]any{
		"gateway_txn_id": "gw-x",
		"status":         "chargeback_reversal",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// The round-trip is still on the audit trail.
	rec = f.do(t, http.MethodGet, "/payments/"+p.ID, nil)
	decodeBody(t, rec, &p)
	assert.Equal(t, "PENDING", p.Status)
	assert.Len(t, p.Transactions, 1)
}

func TestRequestRefund_ExceedsCapturedOverHTTP(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/orders", createReq())
	var o orderResp
	decodeBody(t, rec, &o)

	rec = f.do(t, http.MethodPost, "/payments", map[string]any{"order_id": o.ID, "method": "card"})
	var p paymentResp
	decodeBody(t, rec, &p)

	callback := "/payments/" + p.ID + "/gateway-callback"
	f.do(t, http.MethodPost, callback, map[string]any{"gateway_txn_id": "gw-1", "status": "authorized", "amount": "48.20"})
	rec = f.do(t, http.MethodPost, callback, map[string]any{"gateway_txn_id": "gw-2", "status": "captured", "amount": "48.20"})
	decodeBody(t, rec, &p)

	rec = f.do(t, http.MethodPost, "/payments/"+p.ID+"/refunds", map[string]any{
		"transaction_id": p.Transactions[1].ID,
		"amount":         "100.00",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestGetCoupon(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.coupons.Save(context.Background(), &coupon.Rule{
		Code:         "TEN",
		Description:  "10% off",
		DiscountType: coupon.DiscountPercentage,
		Value:        decimal.NewFromInt(10),
		Active:       true,
	}))

	rec := f.do(t, http.MethodGet, "/coupons/TEN", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/coupons/NOPE", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
