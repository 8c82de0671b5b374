package order

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/roastery-checkout/internal/common"
)

// Handler exposes shopper-facing order endpoints.
type Handler struct {
	Svc *Service
}

// List handles GET /orders for the authenticated user.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID := common.UserUUID(r.Context())
	if userID == nil {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	page := common.ParsePage(r, 20, 100)
	orders, total, err := h.Svc.ListForUser(r.Context(), *userID, page.PerPage, page.Offset())
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       orders,
		"pagination": page.Envelope(total),
	})
}

// GetByNumber handles GET /orders/{number}. Orders owned by another user are
// reported as missing.
func (h *Handler) GetByNumber(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.ParseInt(chi.URLParam(r, "number"), 10, 64)
	if err != nil || number <= 0 {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid order number", nil)
		return
	}
	o, err := h.Svc.GetByNumber(r.Context(), number)
	if err != nil {
		writeError(w, err)
		return
	}
	if o.UserID != nil {
		if caller := common.UserUUID(r.Context()); caller == nil || *caller != *o.UserID {
			writeError(w, ErrNotFound)
			return
		}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": o})
}

// AdminHandler provides administrative order management endpoints.
type AdminHandler struct {
	Svc *Service
}

type patchStatusRequest struct {
	Status string `json:"status"`
}

// PatchStatus handles PATCH /admin/orders/{id}/status.
func (h *AdminHandler) PatchStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid order id", nil)
		return
	}
	var req patchStatusRequest
	if err := common.DecodeJSON(r, &req); err != nil || req.Status == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "status is required", nil)
		return
	}
	o, err := h.Svc.UpdateStatus(r.Context(), id, Status(req.Status))
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": o})
}

var orderErrors = common.ErrorTable{
	{Err: ErrNotFound, Status: http.StatusNotFound, Code: "NOT_FOUND", Message: "order not found"},
	{Err: ErrInvalidTransition, Status: http.StatusConflict, Code: "INVALID_STATE"},
}

func writeError(w http.ResponseWriter, err error) {
	orderErrors.Write(w, err, common.ErrorMapping{Message: "order request failed"})
}
