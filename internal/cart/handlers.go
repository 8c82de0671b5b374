package cart

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/roastery-checkout/internal/catalog"
	"github.com/noah-isme/roastery-checkout/internal/common"
	"github.com/noah-isme/roastery-checkout/internal/promotion"
)

// Handler wires cart services to HTTP.
type Handler struct {
	Svc *Service
}

// Create creates or returns the caller's cart.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return
	}
	var payload struct {
		AnonymousID string `json:"anonymousId"`
	}
	_ = json.NewDecoder(r.Body).Decode(&payload)

	userID := common.UserUUID(r.Context())
	var anonID *uuid.UUID
	if userID == nil {
		id := uuid.New()
		if payload.AnonymousID != "" {
			parsed, err := uuid.Parse(payload.AnonymousID)
			if err != nil {
				common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid anonymousId", nil)
				return
			}
			id = parsed
		}
		anonID = &id
	}
	c, err := h.Svc.EnsureCart(r.Context(), userID, anonID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": c})
}

// Get returns cart contents.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	cartID, ok := h.cartID(w, r)
	if !ok {
		return
	}
	c, err := h.Svc.Get(r.Context(), cartID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": c})
}

type addItemRequest struct {
	VariantID uuid.UUID `json:"variantId"`
	Qty       int       `json:"qty"`
}

// AddItem handles POST /carts/{id}/items.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	cartID, ok := h.cartID(w, r)
	if !ok {
		return
	}
	var req addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.VariantID == uuid.Nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	c, err := h.Svc.AddItem(r.Context(), cartID, req.VariantID, req.Qty)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": c})
}

// UpdateItem handles PATCH /carts/{id}/items/{variantId}.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	cartID, ok := h.cartID(w, r)
	if !ok {
		return
	}
	variantID, err := uuid.Parse(chi.URLParam(r, "variantId"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid variant id", nil)
		return
	}
	var req struct {
		Qty int `json:"qty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	c, err := h.Svc.UpdateQty(r.Context(), cartID, variantID, req.Qty)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": c})
}

// RemoveItem handles DELETE /carts/{id}/items/{variantId}.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	cartID, ok := h.cartID(w, r)
	if !ok {
		return
	}
	variantID, err := uuid.Parse(chi.URLParam(r, "variantId"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid variant id", nil)
		return
	}
	c, err := h.Svc.RemoveItem(r.Context(), cartID, variantID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": c})
}

// ApplyCoupon handles POST /carts/{id}/coupon.
func (h *Handler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	cartID, ok := h.cartID(w, r)
	if !ok {
		return
	}
	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	c, err := h.Svc.ApplyCoupon(r.Context(), cartID, req.Code)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": c})
}

// RemoveCoupon handles DELETE /carts/{id}/coupon.
func (h *Handler) RemoveCoupon(w http.ResponseWriter, r *http.Request) {
	cartID, ok := h.cartID(w, r)
	if !ok {
		return
	}
	c, err := h.Svc.RemoveCoupon(r.Context(), cartID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": c})
}

func (h *Handler) cartID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return uuid.Nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid cart id", nil)
		return uuid.Nil, false
	}
	return id, true
}

var cartErrors = common.ErrorTable{
	{Err: ErrInvalidInput, Status: http.StatusBadRequest, Code: "BAD_REQUEST"},
	{Err: catalog.ErrInvalidQuantity, Status: http.StatusUnprocessableEntity, Code: "INVALID_QUANTITY"},
	{Err: catalog.ErrVariantUnavailable, Status: http.StatusUnprocessableEntity, Code: "VARIANT_UNAVAILABLE"},
	{Err: catalog.ErrNoPriceConfigured, Status: http.StatusUnprocessableEntity, Code: "NO_PRICE_CONFIGURED"},
	{Err: promotion.ErrCouponNotFound, Status: http.StatusNotFound, Code: "COUPON_NOT_FOUND"},
	{Err: promotion.ErrCouponInactiveOrExpired, Status: http.StatusUnprocessableEntity, Code: "COUPON_INACTIVE"},
	{Err: ErrNotFound, Status: http.StatusNotFound, Code: "NOT_FOUND"},
	{Err: catalog.ErrVariantNotFound, Status: http.StatusNotFound, Code: "NOT_FOUND"},
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	cartErrors.Write(w, err, common.ErrorMapping{Message: "cart operation failed"})
}
