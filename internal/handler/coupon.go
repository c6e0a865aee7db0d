package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/checkoutd/checkoutd/internal/domain/coupon"
)

type couponResp struct {
	Code          string          `json:"code"`
	Description   string          `json:"description,omitempty"`
	DiscountType  string          `json:"discount_type"`
	Value         decimal.Decimal `json:"value"`
	MaxDiscount   decimal.Decimal `json:"max_discount,omitempty"`
	MinOrderValue decimal.Decimal `json:"min_order_value,omitempty"`
	MaxUses       int             `json:"max_uses,omitempty"`
	Uses          int             `json:"uses"`
	ValidFrom     *time.Time      `json:"valid_from,omitempty"`
	ValidUntil    *time.Time      `json:"valid_until,omitempty"`
	Active        bool            `json:"active"`
}

func (h *Handler) getCoupon(w http.ResponseWriter, r *http.Request) {
	rule, err := h.couponRepo.FindByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		if errors.Is(err, coupon.ErrNotFound) {
			respondError(w, r, http.StatusNotFound, "coupon not found")
			return
		}
		zctx.From(r.Context()).Error("coupon lookup failed", zap.Error(err))
		respondError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	respond(w, r, http.StatusOK, couponResp{
		Code:          rule.Code,
		Description:   rule.Description,
		DiscountType:  string(rule.DiscountType),
		Value:         rule.Value,
		MaxDiscount:   rule.MaxDiscount,
		MinOrderValue: rule.MinOrderValue,
		MaxUses:       rule.MaxUses,
		Uses:          rule.Uses,
		ValidFrom:     rule.ValidFrom,
		ValidUntil:    rule.ValidUntil,
		Active:        rule.Active,
	})
}
