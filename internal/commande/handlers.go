package commande

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/technoprod/backend-gestion/internal/common"
)

// Handler exposes the commande HTTP endpoints.
type Handler struct {
	Service *Service
}

// List handles GET /api/v1/commandes.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "commande service not configured", nil)
		return
	}
	page, perPage := common.ParsePagination(r, 20)
	commandes, total, err := h.Service.List(r.Context(), page, perPage)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       commandes,
		"pagination": common.Pagination{Page: page, PerPage: perPage, TotalItems: int(total)},
	})
}

// Get handles GET /api/v1/commandes/{commandeID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "commande service not configured", nil)
		return
	}
	c, err := h.Service.Get(r.Context(), chi.URLParam(r, "commandeID"))
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": c})
}

// Facturer handles POST /api/v1/commandes/{commandeID}/facturer.
func (h *Handler) Facturer(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "commande service not configured", nil)
		return
	}
	ref, err := h.Service.ConvertToFacture(r.Context(), chi.URLParam(r, "commandeID"))
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": map[string]any{"facture": ref}})
}
