package client

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/technoprod/backend-gestion/internal/audit"
	"github.com/technoprod/backend-gestion/internal/common"
)

// Handler exposes CRM endpoints.
type Handler struct {
	Service *Service
}

// List handles GET /api/v1/clients with kind/search filters.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "client service not configured", nil)
		return
	}
	page, perPage := common.ParsePagination(r, 20)
	result, err := h.Service.List(r.Context(), ListParams{
		Kind:    strings.TrimSpace(r.URL.Query().Get("kind")),
		Search:  strings.TrimSpace(r.URL.Query().Get("q")),
		Page:    page,
		PerPage: perPage,
	})
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       result.Items,
		"pagination": common.Pagination{Page: page, PerPage: perPage, TotalItems: int(result.Total)},
	})
}

// Get handles GET /api/v1/clients/{clientID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "client service not configured", nil)
		return
	}
	c, err := h.Service.Get(r.Context(), chi.URLParam(r, "clientID"))
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": c})
}

// Create handles POST /api/v1/clients.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "client service not configured", nil)
		return
	}
	var input Input
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request payload", nil)
		return
	}
	c, err := h.Service.Create(r.Context(), input)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": c})
}

// Update handles PUT /api/v1/clients/{clientID}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "client service not configured", nil)
		return
	}
	var input Input
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request payload", nil)
		return
	}
	c, err := h.Service.Update(r.Context(), chi.URLParam(r, "clientID"), input)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": c})
}

// UpdateConsent handles PATCH /api/v1/clients/{clientID}/consent.
func (h *Handler) UpdateConsent(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "client service not configured", nil)
		return
	}
	var input ConsentInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request payload", nil)
		return
	}
	actor := audit.ActorFromContext(r.Context(), common.UserID)
	c, err := h.Service.UpdateConsent(r.Context(), chi.URLParam(r, "clientID"), input, actor)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": c})
}

// Delete handles DELETE /api/v1/clients/{clientID}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "client service not configured", nil)
		return
	}
	if err := h.Service.Delete(r.Context(), chi.URLParam(r, "clientID")); err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{"deleted": true}})
}
