package payment

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/noah-isme/roastery-checkout/internal/checkout"
	"github.com/noah-isme/roastery-checkout/internal/common"
	"github.com/noah-isme/roastery-checkout/internal/promotion"
)

// Handler exposes payment start and gateway callback endpoints.
type Handler struct {
	Svc *Service
	// Replay guards callbacks so concurrent or repeated deliveries of the
	// same outcome verify once.
	Replay    *redis.Client
	ReplayTTL time.Duration
	Sandbox   *Sandbox
}

type startReq struct {
	Gateway string `json:"gateway"`
}

type startResp struct {
	PaymentID   uuid.UUID `json:"paymentId"`
	Gateway     string    `json:"gateway"`
	Authority   string    `json:"authority"`
	RedirectURL string    `json:"redirectUrl"`
	Amount      int64     `json:"amount"`
	Currency    string    `json:"currency"`
}

// Start handles POST /checkouts/{id}/payment.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	checkoutID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid checkout id", nil)
		return
	}
	var req startReq
	if err := common.DecodeJSON(r, &req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	p, redirect, err := h.Svc.Start(r.Context(), checkoutID, req.Gateway)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": startResp{
		PaymentID:   p.ID,
		Gateway:     p.Gateway,
		Authority:   redirect.Authority,
		RedirectURL: redirect.URL,
		Amount:      p.Amount.Amount,
		Currency:    p.Amount.Currency,
	}})
}

// Callback handles GET|POST /payments/callback/{gateway}.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	gatewayName := strings.ToLower(chi.URLParam(r, "gateway"))
	gw, err := h.Svc.Gateway(gatewayName)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := r.ParseForm(); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid callback", nil)
		return
	}
	cb, err := gw.ParseCallback(r.Form)
	if err != nil {
		writeError(w, err)
		return
	}

	if h.Replay != nil && h.ReplayTTL > 0 {
		key := common.ScopedKey("payment:callback", gw.Name(), cb.Authority)
		first, err := h.Replay.SetNX(r.Context(), key, "1", h.ReplayTTL).Result()
		if err != nil {
			common.JSONError(w, http.StatusInternalServerError, "REPLAY_STORE_ERROR", "callback guard unavailable", nil)
			return
		}
		if !first {
			h.replayed(w, r, gw.Name(), cb.Authority)
			return
		}
	}

	out, err := h.Svc.Verify(r.Context(), gw.Name(), cb)
	if errors.Is(err, ErrNotAuthorized) {
		common.JSON(w, http.StatusPaymentRequired, map[string]any{
			"error": common.ErrorBody{Code: "PAYMENT_NOT_AUTHORIZED", Message: "payment was not authorized"},
			"data":  out,
		})
		return
	}
	if errors.Is(err, ErrRefundRequired) {
		common.JSON(w, http.StatusConflict, map[string]any{
			"error": common.ErrorBody{Code: "PAYMENT_REFUND_REQUIRED", Message: "payment will be refunded, no order was placed for it"},
			"data":  out,
		})
		return
	}
	if err != nil {
		if h.Replay != nil {
			// let the gateway or shopper retry a verification that errored
			_ = h.Replay.Del(r.Context(), common.ScopedKey("payment:callback", gw.Name(), cb.Authority)).Err()
		}
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": out})
}

func (h *Handler) replayed(w http.ResponseWriter, r *http.Request, gateway, authority string) {
	p, err := h.Svc.Lookup(r.Context(), gateway, authority)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	switch {
	case p.Status == StatusFailed:
		status = http.StatusPaymentRequired
	case p.Status == StatusRefundPending:
		status = http.StatusConflict
	case p.Status == StatusInitiated || p.OrderID == nil:
		status = http.StatusAccepted
	}
	common.JSON(w, status, map[string]any{"data": Outcome{Payment: p}})
}

// SandboxPay handles GET /sandbox/pay/{authority}. The outcome query
// parameter ("ok" by default, or "fail") picks the result.
func (h *Handler) SandboxPay(w http.ResponseWriter, r *http.Request) {
	if h.Sandbox == nil {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "sandbox gateway disabled", nil)
		return
	}
	ok := !strings.EqualFold(r.URL.Query().Get("outcome"), "fail")
	target, err := h.Sandbox.CallbackURL(chi.URLParam(r, "authority"), ok)
	if err != nil {
		writeError(w, err)
		return
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

var paymentErrors = common.ErrorTable{
	{Err: ErrGatewayNotSupported, Status: http.StatusNotFound, Code: "GATEWAY_NOT_SUPPORTED"},
	{Err: ErrInvalidCallback, Status: http.StatusBadRequest, Code: "INVALID_CALLBACK"},
	{Err: ErrPaymentNotFound, Status: http.StatusNotFound, Code: "PAYMENT_NOT_FOUND", Message: "payment not found"},
	{Err: checkout.ErrNotFound, Status: http.StatusNotFound, Code: "NOT_FOUND", Message: "checkout not found"},
	{Err: checkout.ErrCheckoutClosed, Status: http.StatusConflict, Code: "CHECKOUT_CLOSED"},
	{Err: ErrNothingToPay, Status: http.StatusUnprocessableEntity, Code: "NOTHING_TO_PAY"},
	{Err: ErrAmountMismatch, Status: http.StatusBadRequest, Code: "AMOUNT_MISMATCH"},
	{Err: promotion.ErrCouponUsageLimitReached, Status: http.StatusConflict, Code: "COUPON_EXHAUSTED", Message: "coupon has no uses left, quote the checkout again"},
	{Err: promotion.ErrCouponPerUserLimitReached, Status: http.StatusConflict, Code: "COUPON_EXHAUSTED", Message: "coupon has no uses left, quote the checkout again"},
}

func writeError(w http.ResponseWriter, err error) {
	paymentErrors.Write(w, err, common.ErrorMapping{
		Status:  http.StatusBadGateway,
		Code:    "PAYMENT_FAILED",
		Message: "payment gateway request failed",
	})
}
