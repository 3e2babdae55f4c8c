package referentiel

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/technoprod/backend-gestion/internal/audit"
	"github.com/technoprod/backend-gestion/internal/common"
)

// Handler exposes the admin reference data endpoints. Routes carry the kind
// as a URL segment: /api/v1/admin/referentiel/{kind}.
type Handler struct {
	Service *Service
}

// List handles GET /api/v1/admin/referentiel/{kind}.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "referentiel service not configured", nil)
		return
	}
	entries, err := h.Service.List(r.Context(), chi.URLParam(r, "kind"))
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": entries})
}

// Create handles POST /api/v1/admin/referentiel/{kind}.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "referentiel service not configured", nil)
		return
	}
	var input Input
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request payload", nil)
		return
	}
	actor := audit.ActorFromContext(r.Context(), common.UserID)
	entry, err := h.Service.Create(r.Context(), chi.URLParam(r, "kind"), input, actor)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": entry})
}

// Update handles PUT /api/v1/admin/referentiel/{kind}/{entryID}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "referentiel service not configured", nil)
		return
	}
	var input Input
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request payload", nil)
		return
	}
	actor := audit.ActorFromContext(r.Context(), common.UserID)
	entry, err := h.Service.Update(r.Context(), chi.URLParam(r, "kind"), chi.URLParam(r, "entryID"), input, actor)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": entry})
}

// Delete handles DELETE /api/v1/admin/referentiel/{kind}/{entryID}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "referentiel service not configured", nil)
		return
	}
	actor := audit.ActorFromContext(r.Context(), common.UserID)
	if err := h.Service.Delete(r.Context(), chi.URLParam(r, "kind"), chi.URLParam(r, "entryID"), actor); err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{"deleted": true}})
}
