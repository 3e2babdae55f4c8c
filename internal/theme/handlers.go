package theme

import (
	"encoding/json"
	"net/http"

	"github.com/technoprod/backend-gestion/internal/common"
)

// Handler exposes the theme endpoints.
type Handler struct {
	Service *Service
}

// Get handles GET /api/v1/theme.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "theme service not configured", nil)
		return
	}
	t, err := h.Service.Get(r.Context())
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": t})
}

// Upsert handles PUT /api/v1/admin/theme.
func (h *Handler) Upsert(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "theme service not configured", nil)
		return
	}
	var input Input
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request payload", nil)
		return
	}
	t, err := h.Service.Upsert(r.Context(), input)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": t})
}
