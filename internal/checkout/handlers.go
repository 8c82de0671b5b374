package checkout

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/roastery-checkout/internal/cart"
	"github.com/noah-isme/roastery-checkout/internal/catalog"
	"github.com/noah-isme/roastery-checkout/internal/common"
)

// Handler exposes quote and checkout endpoints.
type Handler struct {
	Svc *Service
}

type quoteRequest struct {
	ShippingFee *int64 `json:"shippingFee"`
}

type startRequest struct {
	StartInput
	ShippingFee *int64 `json:"shippingFee"`
}

// Quote handles POST /carts/{id}/quote.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	cartID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req quoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	q, err := h.Svc.QuoteCart(r.Context(), cartID, req.ShippingFee)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": q})
}

// Start handles POST /carts/{id}/checkout.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	cartID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	co, err := h.Svc.Start(r.Context(), cartID, req.StartInput, req.ShippingFee)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": co})
}

// Get handles GET /checkouts/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	co, err := h.Svc.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": co})
}

// Abandon handles POST /checkouts/{id}/abandon.
func (h *Handler) Abandon(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	co, err := h.Svc.Abandon(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": co})
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return uuid.Nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid id", nil)
		return uuid.Nil, false
	}
	return id, true
}

var checkoutErrors = common.ErrorTable{
	{Err: ErrEmptyCart, Status: http.StatusUnprocessableEntity, Code: "EMPTY_CART"},
	{Err: ErrInvalidShippingFee, Status: http.StatusBadRequest, Code: "INVALID_SHIPPING_FEE"},
	{Err: ErrCheckoutClosed, Status: http.StatusConflict, Code: "CHECKOUT_CLOSED"},
	{Err: catalog.ErrNoPriceConfigured, Status: http.StatusUnprocessableEntity, Code: "NO_PRICE_CONFIGURED"},
	{Err: ErrVariantUnavailable, Status: http.StatusUnprocessableEntity, Code: "VARIANT_UNAVAILABLE"},
	{Err: ErrNotFound, Status: http.StatusNotFound, Code: "NOT_FOUND"},
	{Err: cart.ErrNotFound, Status: http.StatusNotFound, Code: "NOT_FOUND"},
	{Err: catalog.ErrVariantNotFound, Status: http.StatusNotFound, Code: "NOT_FOUND"},
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_FAILED", "invalid checkout input", verr.Fields)
		return
	}
	checkoutErrors.Write(w, err, common.ErrorMapping{Message: "checkout failed"})
}
