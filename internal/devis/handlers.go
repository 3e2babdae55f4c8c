package devis

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/technoprod/backend-gestion/internal/common"
)

// Handler exposes the devis REST surface: header CRUD, lifecycle, the element
// endpoints and their legacy item twins.
type Handler struct {
	Service *Service
}

// elementRequest is shared by the element and item surfaces. Pointer fields
// distinguish absent from zero so updates stay partial.
type elementRequest struct {
	Type            string          `json:"type"`
	Position        *int32          `json:"position"`
	Designation     *string         `json:"designation"`
	Description     *string         `json:"description"`
	Quantite        *json.Number    `json:"quantite"`
	PrixUnitaire    *json.Number    `json:"prix_unitaire"`
	RemisePct       *json.Number    `json:"remise_pct"`
	TauxTVA         *json.Number    `json:"taux_tva"`
	ProduitID       *string         `json:"produit_id"`
	Params          json.RawMessage `json:"params"`
	ExpectedVersion *int32          `json:"expected_version"`
}

func parseAmount(n *json.Number, field string) (*decimal.Decimal, error) {
	if n == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return nil, common.NewAppError("VALIDATION_ERROR", field+" must be a number", http.StatusBadRequest, err)
	}
	return &d, nil
}

func toLigneInput(req elementRequest) (LigneInput, error) {
	input := LigneInput{
		Type:            req.Type,
		Position:        req.Position,
		Designation:     req.Designation,
		Description:     req.Description,
		ProduitID:       req.ProduitID,
		Params:          req.Params,
		ExpectedVersion: req.ExpectedVersion,
	}
	var err error
	if input.Quantite, err = parseAmount(req.Quantite, "quantite"); err != nil {
		return LigneInput{}, err
	}
	if input.PrixUnitaire, err = parseAmount(req.PrixUnitaire, "prix_unitaire"); err != nil {
		return LigneInput{}, err
	}
	if input.RemisePct, err = parseAmount(req.RemisePct, "remise_pct"); err != nil {
		return LigneInput{}, err
	}
	if input.TauxTVA, err = parseAmount(req.TauxTVA, "taux_tva"); err != nil {
		return LigneInput{}, err
	}
	return input, nil
}

// writeElementError renders failures in the legacy {success:false, message}
// envelope the element and item surfaces keep for the historical frontend.
// Unexpected errors never leak driver details to the client.
func writeElementError(w http.ResponseWriter, err error) {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		status := appErr.HTTPStatus
		if status == 0 {
			status = http.StatusInternalServerError
		}
		message := appErr.Message
		if message == "" {
			message = "internal error"
		}
		common.JSONFailure(w, status, message)
		return
	}
	common.JSONFailure(w, http.StatusInternalServerError, "internal error")
}

// CreateElement handles POST /api/v1/devis/{devisID}/element.
func (h *Handler) CreateElement(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONFailure(w, http.StatusInternalServerError, "devis service not configured")
		return
	}
	devisID := chi.URLParam(r, "devisID")
	var req elementRequest
	if err := decodeBody(r, &req); err != nil {
		common.JSONFailure(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	input, err := toLigneInput(req)
	if err != nil {
		writeElementError(w, err)
		return
	}
	element, _, err := h.Service.CreateLigne(r.Context(), devisID, input)
	if err != nil {
		writeElementError(w, err)
		return
	}
	common.JSONSuccess(w, http.StatusCreated, map[string]any{
		"element": element,
		"message": "element cree",
	})
}

// UpdateElement handles PUT /api/v1/devis/{devisID}/element/{elementID}.
func (h *Handler) UpdateElement(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONFailure(w, http.StatusInternalServerError, "devis service not configured")
		return
	}
	devisID := chi.URLParam(r, "devisID")
	elementID := chi.URLParam(r, "elementID")
	var req elementRequest
	if err := decodeBody(r, &req); err != nil {
		common.JSONFailure(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	input, err := toLigneInput(req)
	if err != nil {
		writeElementError(w, err)
		return
	}
	element, _, err := h.Service.UpdateLigne(r.Context(), devisID, elementID, input)
	if err != nil {
		writeElementError(w, err)
		return
	}
	common.JSONSuccess(w, http.StatusOK, map[string]any{
		"element": element,
		"message": "element mis a jour",
	})
}

// DeleteElement handles DELETE /api/v1/devis/{devisID}/element/{elementID}.
func (h *Handler) DeleteElement(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONFailure(w, http.StatusInternalServerError, "devis service not configured")
		return
	}
	devisID := chi.URLParam(r, "devisID")
	elementID := chi.URLParam(r, "elementID")
	if _, err := h.Service.DeleteLigne(r.Context(), devisID, elementID, nil); err != nil {
		writeElementError(w, err)
		return
	}
	common.JSONSuccess(w, http.StatusOK, map[string]any{
		"message": "element supprime",
	})
}

type reorderRequest struct {
	ElementIDs      []string `json:"elementIds"`
	ExpectedVersion *int32   `json:"expected_version"`
}

// ReorderElements handles POST /api/v1/devis/{devisID}/element/reorder.
func (h *Handler) ReorderElements(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONFailure(w, http.StatusInternalServerError, "devis service not configured")
		return
	}
	devisID := chi.URLParam(r, "devisID")
	var req reorderRequest
	if err := decodeBody(r, &req); err != nil {
		common.JSONFailure(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	count, _, err := h.Service.Reorder(r.Context(), devisID, req.ElementIDs, req.ExpectedVersion)
	if err != nil {
		writeElementError(w, err)
		return
	}
	common.JSONSuccess(w, http.StatusOK, map[string]any{
		"message": "elements reordonnes",
		"count":   count,
	})
}

// ListElementsHandler handles GET /api/v1/devis/{devisID}/element.
func (h *Handler) ListElementsHandler(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONFailure(w, http.StatusInternalServerError, "devis service not configured")
		return
	}
	devisID := chi.URLParam(r, "devisID")
	elements, err := h.Service.ListElements(r.Context(), devisID)
	if err != nil {
		writeElementError(w, err)
		return
	}
	common.JSONSuccess(w, http.StatusOK, map[string]any{
		"elements": elements,
	})
}

// SubtotalHandler handles GET /api/v1/devis/{devisID}/element/subtotal/{position}.
func (h *Handler) SubtotalHandler(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONFailure(w, http.StatusInternalServerError, "devis service not configured")
		return
	}
	devisID := chi.URLParam(r, "devisID")
	position, err := strconv.ParseInt(chi.URLParam(r, "position"), 10, 32)
	if err != nil {
		common.JSONFailure(w, http.StatusBadRequest, "position must be an integer")
		return
	}
	sub, err := h.Service.SubtotalUpTo(r.Context(), devisID, int32(position))
	if err != nil {
		writeElementError(w, err)
		return
	}
	common.JSONSuccess(w, http.StatusOK, map[string]any{
		"subtotal":           sub.HT,
		"subtotal_ttc":       sub.TTC,
		"subtotal_formatted": sub.Formatted,
	})
}

type headerRequest struct {
	ClientID        string `json:"client_id"`
	Objet           string `json:"objet"`
	DateDevis       string `json:"date_devis"`
	DateValidite    string `json:"date_validite"`
	ExpectedVersion *int32 `json:"expected_version"`
}

func toHeaderInput(req headerRequest) (HeaderInput, error) {
	input := HeaderInput{
		ClientID:        req.ClientID,
		Objet:           req.Objet,
		ExpectedVersion: req.ExpectedVersion,
	}
	var err error
	if req.DateDevis != "" {
		if input.DateDevis, err = time.Parse("2006-01-02", req.DateDevis); err != nil {
			return HeaderInput{}, common.NewAppError("VALIDATION_ERROR", "date_devis must be YYYY-MM-DD", http.StatusBadRequest, err)
		}
	}
	if req.DateValidite != "" {
		if input.DateValidite, err = time.Parse("2006-01-02", req.DateValidite); err != nil {
			return HeaderInput{}, common.NewAppError("VALIDATION_ERROR", "date_validite must be YYYY-MM-DD", http.StatusBadRequest, err)
		}
	}
	return input, nil
}

// Create handles POST /api/v1/devis.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "devis service not configured", nil)
		return
	}
	var req headerRequest
	if err := decodeBody(r, &req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request payload", nil)
		return
	}
	input, err := toHeaderInput(req)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	header, err := h.Service.CreateHeader(r.Context(), input)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": header})
}

// List handles GET /api/v1/devis.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "devis service not configured", nil)
		return
	}
	page, perPage := common.ParsePagination(r, 20)
	status := strings.TrimSpace(r.URL.Query().Get("status"))
	clientID := strings.TrimSpace(r.URL.Query().Get("client_id"))
	headers, total, err := h.Service.ListHeaders(r.Context(), status, clientID, page, perPage)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       headers,
		"pagination": common.Pagination{Page: page, PerPage: perPage, TotalItems: int(total)},
	})
}

// Get handles GET /api/v1/devis/{devisID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "devis service not configured", nil)
		return
	}
	header, elements, err := h.Service.GetHeader(r.Context(), chi.URLParam(r, "devisID"))
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{"devis": header, "elements": elements},
	})
}

// Update handles PATCH /api/v1/devis/{devisID}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "devis service not configured", nil)
		return
	}
	var req headerRequest
	if err := decodeBody(r, &req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request payload", nil)
		return
	}
	input, err := toHeaderInput(req)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	header, err := h.Service.UpdateHeader(r.Context(), chi.URLParam(r, "devisID"), input)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": header})
}

// Delete handles DELETE /api/v1/devis/{devisID}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "devis service not configured", nil)
		return
	}
	if err := h.Service.DeleteHeader(r.Context(), chi.URLParam(r, "devisID")); err != nil {
		common.RenderError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type transitionRequest struct {
	Status string `json:"status"`
}

// Transition handles POST /api/v1/devis/{devisID}/status.
func (h *Handler) Transition(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "devis service not configured", nil)
		return
	}
	var req transitionRequest
	if err := decodeBody(r, &req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request payload", nil)
		return
	}
	header, err := h.Service.Transition(r.Context(), chi.URLParam(r, "devisID"), req.Status)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": header})
}

// Convert handles POST /api/v1/devis/{devisID}/convert.
func (h *Handler) Convert(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "devis service not configured", nil)
		return
	}
	ref, err := h.Service.ConvertToCommande(r.Context(), chi.URLParam(r, "devisID"))
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": map[string]any{"commande": ref}})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	return dec.Decode(v)
}
