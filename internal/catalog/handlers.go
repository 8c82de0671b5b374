package catalog

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/roastery-checkout/internal/common"
	"github.com/noah-isme/roastery-checkout/internal/pricing"
)

// Handler exposes public catalog endpoints.
type Handler struct {
	Resolver *Resolver
	Variants VariantStore
	Now      func() time.Time
}

type priceResponse struct {
	VariantID   uuid.UUID      `json:"variantId"`
	SKU         string         `json:"sku"`
	ProductName string         `json:"productName"`
	WeightGrams int            `json:"weightGrams"`
	Grind       Grind          `json:"grind"`
	Active      bool           `json:"active"`
	Price       pricing.Money  `json:"price"`
	CompareAt   *pricing.Money `json:"compareAt,omitempty"`
	At          time.Time      `json:"at"`
}

// VariantPrice handles GET /api/v1/variants/{id}/price. An optional "at"
// query parameter (RFC 3339) prices the variant at another instant.
func (h *Handler) VariantPrice(w http.ResponseWriter, r *http.Request) {
	if h.Resolver == nil || h.Variants == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid variant id", nil)
		return
	}
	at := h.now()
	if raw := strings.TrimSpace(r.URL.Query().Get("at")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "at must be RFC3339", nil)
			return
		}
		at = parsed
	}
	variant, err := h.Variants.Variant(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	window, err := h.Resolver.ResolveWindow(r.Context(), id, at)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": priceResponse{
		VariantID:   variant.ID,
		SKU:         variant.SKU,
		ProductName: variant.ProductName,
		WeightGrams: variant.WeightGrams,
		Grind:       variant.Grind,
		Active:      variant.Active,
		Price:       window.Price,
		CompareAt:   window.CompareAt,
		At:          at,
	}})
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrVariantNotFound):
		common.JSONError(w, http.StatusNotFound, "VARIANT_NOT_FOUND", "variant not found", nil)
	case errors.Is(err, ErrNoPriceConfigured):
		common.JSONError(w, http.StatusUnprocessableEntity, "NO_PRICE_CONFIGURED", err.Error(), nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to resolve price", nil)
	}
}
