package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/checkoutd/checkoutd/internal/domain/order"
	"github.com/checkoutd/checkoutd/internal/domain/payment"
)

type paymentResp struct {
	ID           string            `json:"id"`
	OrderID      string            `json:"order_id"`
	Amount       decimal.Decimal   `json:"amount"`
	Method       string            `json:"method"`
	Status       string            `json:"status"`
	Transactions []transactionResp `json:"transactions,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

type transactionResp struct {
	ID           string          `json:"id"`
	GatewayTxnID string          `json:"gateway_txn_id,omitempty"`
	ResponseCode string          `json:"response_code,omitempty"`
	Status       string          `json:"status"`
	Amount       decimal.Decimal `json:"amount"`
	CreatedAt    time.Time       `json:"created_at"`
}

type refundResp struct {
	ID                   string          `json:"id"`
	PaymentTransactionID string          `json:"payment_transaction_id"`
	Amount               decimal.Decimal `json:"amount"`
	Status               string          `json:"status"`
	GatewayRefundID      string          `json:"gateway_refund_id,omitempty"`
	Reason               string          `json:"reason,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
}

func toPaymentResp(p *payment.Payment) paymentResp {
	txns := make([]transactionResp, len(p.Transactions))
	for i, t := range p.Transactions {
		txns[i] = transactionResp{
			ID:           t.ID,
			GatewayTxnID: t.GatewayTxnID,
			ResponseCode: t.ResponseCode,
			Status:       string(t.Status),
			Amount:       t.Amount,
			CreatedAt:    t.CreatedAt,
		}
	}
	return paymentResp{
		ID:           p.ID,
		OrderID:      p.OrderID,
		Amount:       p.Amount,
		Method:       p.Method,
		Status:       string(p.Status),
		Transactions: txns,
		CreatedAt:    p.CreatedAt,
	}
}

func toRefundResp(r *payment.Refund) refundResp {
	return refundResp{
		ID:                   r.ID,
		PaymentTransactionID: r.PaymentTransactionID,
		Amount:               r.Amount,
		Status:               string(r.Status),
		GatewayRefundID:      r.GatewayRefundID,
		Reason:               r.Reason,
		CreatedAt:            r.CreatedAt,
	}
}

// createPayment opens a payment attempt for an order. The amount is read from
// the order itself, never from the request.
func (h *Handler) createPayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrderID string `json:"order_id"`
		Method  string `json:"method"`
	}
	if !decode(w, r, &req) {
		return
	}

	o, err := h.orderRepo.FindByID(r.Context(), req.OrderID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			respondError(w, r, http.StatusNotFound, "order not found")
			return
		}
		h.paymentError(w, r, err)
		return
	}

	p, err := h.payments.Create(r.Context(), o.ID, o.Total, req.Method)
	if err != nil {
		h.paymentError(w, r, err)
		return
	}
	respond(w, r, http.StatusCreated, toPaymentResp(p))
}

func (h *Handler) getPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.payments.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.paymentError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, toPaymentResp(p))
}

// gatewayCallback records a gateway round-trip result against the payment.
func (h *Handler) gatewayCallback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		GatewayTxnID string          `json:"gateway_txn_id"`
		ResponseCode string          `json:"response_code"`
		RawPayload   string          `json:"raw_payload"`
		Status       string          `json:"status"`
		Amount       decimal.Decimal `json:"amount"`
	}
	if !decode(w, r, &req) {
		return
	}

	p, err := h.payments.RecordGatewayResponse(r.Context(), chi.URLParam(r, "id"), payment.GatewayResult{
		GatewayTxnID: req.GatewayTxnID,
		ResponseCode: req.ResponseCode,
		RawPayload:   req.RawPayload,
		Status:       req.Status,
		Amount:       req.Amount,
	})
	if err != nil {
		h.paymentError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, toPaymentResp(p))
}

func (h *Handler) requestRefund(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TransactionID string          `json:"transaction_id"`
		Amount        decimal.Decimal `json:"amount"`
		Reason        string          `json:"reason"`
	}
	if !decode(w, r, &req) {
		return
	}

	rf, err := h.payments.RequestRefund(r.Context(), chi.URLParam(r, "id"),
		req.TransactionID, req.Amount, req.Reason)
	if err != nil {
		h.paymentError(w, r, err)
		return
	}
	respond(w, r, http.StatusCreated, toRefundResp(rf))
}

func (h *Handler) confirmRefund(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Success         bool   `json:"success"`
		GatewayRefundID string `json:"gateway_refund_id"`
	}
	if !decode(w, r, &req) {
		return
	}

	rf, err := h.payments.ConfirmRefund(r.Context(), chi.URLParam(r, "id"),
		req.Success, req.GatewayRefundID)
	if err != nil {
		h.paymentError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, toRefundResp(rf))
}

// paymentError maps payment domain errors onto HTTP statuses.
func (h *Handler) paymentError(w http.ResponseWriter, r *http.Request, err error) {
	var transitionErr *payment.InvalidTransitionError

	switch {
	case errors.Is(err, payment.ErrNotFound),
		errors.Is(err, payment.ErrRefundNotFound),
		errors.Is(err, payment.ErrTransactionNotFound):
		respondError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, payment.ErrActivePaymentExists):
		respondError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, payment.ErrPaymentNotCaptured),
		errors.Is(err, payment.ErrRefundExceedsCaptured):
		respondError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, payment.ErrUnknownGatewayStatus):
		respondError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &transitionErr):
		respondError(w, r, http.StatusConflict, transitionErr.Error())
	case errors.Is(err, payment.ErrConcurrentModification):
		respondError(w, r, http.StatusConflict, "payment modified concurrently, retry")
	default:
		zctx.From(r.Context()).Error("payment request failed", zap.Error(err))
		respondError(w, r, http.StatusInternalServerError, "internal error")
	}
}
