package facture

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/technoprod/backend-gestion/internal/common"
)

type Handler struct {
	Service *Service
}

// List handles GET /api/v1/factures.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "facture service not configured", nil)
		return
	}
	page, perPage := common.ParsePagination(r, 20)
	factures, total, err := h.Service.List(r.Context(), page, perPage)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       factures,
		"pagination": common.Pagination{Page: page, PerPage: perPage, TotalItems: int(total)},
	})
}

// Get handles GET /api/v1/factures/{factureID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "facture service not configured", nil)
		return
	}
	f, err := h.Service.Get(r.Context(), chi.URLParam(r, "factureID"))
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": f})
}
