// Package handler exposes the REST surface over the order, payment, and
// coupon services.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/checkoutd/checkoutd/internal/domain/coupon"
	"github.com/checkoutd/checkoutd/internal/domain/order"
	"github.com/checkoutd/checkoutd/internal/domain/payment"
)

// Handler holds the services the REST routes delegate to.
type Handler struct {
	orders     *order.Service
	orderRepo  order.Repository
	payments   *payment.Service
	couponRepo coupon.Repository
}

// New constructs a Handler with the required domain dependencies.
func New(
	orders *order.Service,
	orderRepo order.Repository,
	payments *payment.Service,
	couponRepo coupon.Repository,
) *Handler {
	return &Handler{
		orders:     orders,
		orderRepo:  orderRepo,
		payments:   payments,
		couponRepo: couponRepo,
	}
}

// Routes mounts all API routes on a fresh chi router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.createOrder)
		r.Get("/", h.listOrders)
		r.Get("/{id}", h.getOrder)
		r.Post("/{id}/status", h.transitionOrder)
		r.Post("/{id}/ship", h.shipOrder)
		r.Post("/{id}/cancel", h.cancelOrder)
	})

	r.Route("/payments", func(r chi.Router) {
		r.Post("/", h.createPayment)
		r.Get("/{id}", h.getPayment)
		r.Post("/{id}/gateway-callback", h.gatewayCallback)
		r.Post("/{id}/refunds", h.requestRefund)
	})

	r.Post("/refunds/{id}/confirm", h.confirmRefund)
	r.Get("/coupons/{code}", h.getCoupon)

	return r
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func respond(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zctx.From(r.Context()).Warn("encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	respond(w, r, status, errorResponse{Code: status, Message: msg})
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, r, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}
