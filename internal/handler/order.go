package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/checkoutd/checkoutd/internal/domain/order"
)

type orderItemReq struct {
	ProductID string          `json:"product_id"`
	VariantID string          `json:"variant_id,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type createOrderReq struct {
	UserID         string         `json:"user_id"`
	Items          []orderItemReq `json:"items"`
	Address        order.Address  `json:"address"`
	PaymentMethod  string         `json:"payment_method"`
	ShippingMethod string         `json:"shipping_method"`
	CouponCode     string         `json:"coupon_code,omitempty"`
	Note           string         `json:"note,omitempty"`
}

type orderResp struct {
	ID             string          `json:"id"`
	OrderNumber    string          `json:"order_number"`
	UserID         string          `json:"user_id"`
	Items          []order.Item    `json:"items"`
	Address        order.Address   `json:"address"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	Discount       decimal.Decimal `json:"discount"`
	ShippingFee    decimal.Decimal `json:"shipping_fee"`
	Tax            decimal.Decimal `json:"tax"`
	Total          decimal.Decimal `json:"total"`
	Currency       string          `json:"currency"`
	Status         string          `json:"status"`
	PaymentStatus  string          `json:"payment_status"`
	ShippingMethod string          `json:"shipping_method"`
	TrackingNumber string          `json:"tracking_number,omitempty"`
	CouponCode     string          `json:"coupon_code,omitempty"`
	Note           string          `json:"note,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func toOrderResp(o *order.Order) orderResp {
	return orderResp{
		ID:             o.ID,
		OrderNumber:    o.OrderNumber,
		UserID:         o.UserID,
		Items:          o.Items,
		Address:        o.Address,
		Subtotal:       o.Subtotal,
		Discount:       o.Discount,
		ShippingFee:    o.ShippingFee,
		Tax:            o.Tax,
		Total:          o.Total,
		Currency:       o.Currency,
		Status:         string(o.Status),
		PaymentStatus:  string(o.PaymentStatus),
		ShippingMethod: o.ShippingMethod,
		TrackingNumber: o.TrackingNumber,
		CouponCode:     o.CouponCode,
		Note:           o.Note,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderReq
	if !decode(w, r, &req) {
		return
	}

	items := make([]order.Item, len(req.Items))
	for i, it := range req.Items {
		items[i] = order.Item{
			ProductID: it.ProductID,
			VariantID: it.VariantID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		}
	}

	o, err := h.orders.Create(r.Context(), order.CreateRequest{
		UserID:         req.UserID,
		Items:          items,
		Address:        req.Address,
		PaymentMethod:  req.PaymentMethod,
		ShippingMethod: req.ShippingMethod,
		CouponCode:     req.CouponCode,
		Note:           req.Note,
	})
	if err != nil {
		h.orderError(w, r, err)
		return
	}
	respond(w, r, http.StatusCreated, toOrderResp(o))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	o, err := h.orderRepo.FindByID(r.Context(), id)
	if errors.Is(err, order.ErrNotFound) {
		// Fall back to lookup by the human-readable number.
		o, err = h.orderRepo.FindByOrderNumber(r.Context(), id)
	}
	if err != nil {
		h.orderError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, toOrderResp(o))
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := q.Get("user_id")
	status := order.Status(q.Get("status"))
	if userID == "" || status == "" {
		respondError(w, r, http.StatusBadRequest, "user_id and status are required")
		return
	}
	offset, _ := strconv.Atoi(q.Get("offset"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	orders, err := h.orderRepo.FindByUserIDAndStatus(r.Context(), userID, status, order.Page{
		Offset: offset,
		Limit:  limit,
	})
	if err != nil {
		h.orderError(w, r, err)
		return
	}

	out := make([]orderResp, len(orders))
	for i := range orders {
		out[i] = toOrderResp(&orders[i])
	}
	respond(w, r, http.StatusOK, out)
}

func (h *Handler) transitionOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if !decode(w, r, &req) {
		return
	}
	o, err := h.orders.Transition(r.Context(), chi.URLParam(r, "id"), order.Status(req.Status))
	if err != nil {
		h.orderError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, toOrderResp(o))
}

func (h *Handler) shipOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TrackingNumber string `json:"tracking_number"`
	}
	if !decode(w, r, &req) {
		return
	}
	o, err := h.orders.Ship(r.Context(), chi.URLParam(r, "id"), req.TrackingNumber)
	if err != nil {
		h.orderError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, toOrderResp(o))
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if !decode(w, r, &req) {
		return
	}
	o, err := h.orders.Cancel(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.orderError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, toOrderResp(o))
}

// orderError maps order domain errors onto HTTP statuses.
func (h *Handler) orderError(w http.ResponseWriter, r *http.Request, err error) {
	var transitionErr *order.InvalidTransitionError
	var quantityErr *order.InvalidQuantityError

	switch {
	case errors.Is(err, order.ErrNotFound):
		respondError(w, r, http.StatusNotFound, "order not found")
	case errors.Is(err, order.ErrEmptyItems):
		respondError(w, r, http.StatusBadRequest, err.Error())
	case errors.As(err, &quantityErr):
		respondError(w, r, http.StatusUnprocessableEntity, quantityErr.Error())
	case errors.Is(err, order.ErrInvalidCoupon):
		respondError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &transitionErr):
		respondError(w, r, http.StatusConflict, transitionErr.Error())
	case errors.Is(err, order.ErrConcurrentModification):
		respondError(w, r, http.StatusConflict, "order modified concurrently, retry")
	default:
		zctx.From(r.Context()).Error("order request failed", zap.Error(err))
		respondError(w, r, http.StatusInternalServerError, "internal error")
	}
}
