package stats

import (
	"net/http"

	"github.com/technoprod/backend-gestion/internal/common"
)

// Handler exposes stats read endpoints.
type Handler struct {
	Svc *Service
}

// Devis handles GET /api/v1/stats/devis.
func (h *Handler) Devis(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "STATS_NOT_CONFIGURED", "stats service not configured", nil)
		return
	}
	out, err := h.Svc.ParStatut(r.Context())
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": out})
}

// ChiffreAffaires handles GET /api/v1/stats/ca.
func (h *Handler) ChiffreAffaires(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "STATS_NOT_CONFIGURED", "stats service not configured", nil)
		return
	}
	months := common.AtoiDefault(r.URL.Query().Get("months"), 0)
	rows, err := h.Svc.ChiffreAffaires(r.Context(), months)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": rows})
}
