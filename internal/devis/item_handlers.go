package devis

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/technoprod/backend-gestion/internal/common"
)

// The item surface is the older flattened twin of the element endpoints. Both
// are backed by the same unified ligne service; this one keeps the camelCase
// field names and embeds devisTotals in every mutating response.

type itemRequest struct {
	Type            string          `json:"type"`
	Position        *int32          `json:"position"`
	Designation     *string         `json:"designation"`
	Description     *string         `json:"description"`
	Quantite        *json.Number    `json:"quantite"`
	PrixUnitaire    *json.Number    `json:"prixUnitaire"`
	RemisePct       *json.Number    `json:"remisePct"`
	TauxTVA         *json.Number    `json:"tauxTva"`
	ProduitID       *string         `json:"produitId"`
	Params          json.RawMessage `json:"params"`
	ExpectedVersion *int32          `json:"expectedVersion"`
}

type itemView struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Position     int32  `json:"position"`
	Designation  string `json:"designation,omitempty"`
	Description  string `json:"description,omitempty"`
	Quantite     string `json:"quantite,omitempty"`
	PrixUnitaire string `json:"prixUnitaire,omitempty"`
	RemisePct    string `json:"remisePct,omitempty"`
	TauxTVA      string `json:"tauxTva,omitempty"`
	TotalHT      string `json:"totalHt,omitempty"`
	TotalTTC     string `json:"totalTtc,omitempty"`
	ProduitID    string `json:"produitId,omitempty"`
}

func itemFromElement(e Element) itemView {
	return itemView{
		ID:           e.ID,
		Type:         e.Type,
		Position:     e.Position,
		Designation:  e.Designation,
		Description:  e.Description,
		Quantite:     e.Quantite,
		PrixUnitaire: e.PrixUnitaire,
		RemisePct:    e.RemisePct,
		TauxTVA:      e.TauxTVA,
		TotalHT:      e.TotalHT,
		TotalTTC:     e.TotalTTC,
		ProduitID:    e.ProduitID,
	}
}

func (req itemRequest) toLigneInput() (LigneInput, error) {
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
	if input.PrixUnitaire, err = parseAmount(req.PrixUnitaire, "prixUnitaire"); err != nil {
		return LigneInput{}, err
	}
	if input.RemisePct, err = parseAmount(req.RemisePct, "remisePct"); err != nil {
		return LigneInput{}, err
	}
	if input.TauxTVA, err = parseAmount(req.TauxTVA, "tauxTva"); err != nil {
		return LigneInput{}, err
	}
	return input, nil
}

// AddItem handles POST /api/v1/devis/{devisID}/items/add.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONFailure(w, http.StatusInternalServerError, "devis service not configured")
		return
	}
	devisID := chi.URLParam(r, "devisID")
	var req itemRequest
	if err := decodeBody(r, &req); err != nil {
		common.JSONFailure(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	input, err := req.toLigneInput()
	if err != nil {
		writeElementError(w, err)
		return
	}
	element, totals, err := h.Service.CreateLigne(r.Context(), devisID, input)
	if err != nil {
		writeElementError(w, err)
		return
	}
	common.JSONSuccess(w, http.StatusCreated, map[string]any{
		"item":        itemFromElement(element),
		"devisTotals": totals,
		"message":     "item ajoute",
	})
}

// UpdateItem handles PUT /api/v1/devis/{devisID}/items/{itemID}/update.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONFailure(w, http.StatusInternalServerError, "devis service not configured")
		return
	}
	devisID := chi.URLParam(r, "devisID")
	itemID := chi.URLParam(r, "itemID")
	var req itemRequest
	if err := decodeBody(r, &req); err != nil {
		common.JSONFailure(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	input, err := req.toLigneInput()
	if err != nil {
		writeElementError(w, err)
		return
	}
	element, totals, err := h.Service.UpdateLigne(r.Context(), devisID, itemID, input)
	if err != nil {
		writeElementError(w, err)
		return
	}
	common.JSONSuccess(w, http.StatusOK, map[string]any{
		"item":        itemFromElement(element),
		"devisTotals": totals,
		"message":     "item mis a jour",
	})
}

// DeleteItem handles DELETE /api/v1/devis/{devisID}/items/{itemID}/delete.
func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONFailure(w, http.StatusInternalServerError, "devis service not configured")
		return
	}
	devisID := chi.URLParam(r, "devisID")
	itemID := chi.URLParam(r, "itemID")
	totals, err := h.Service.DeleteLigne(r.Context(), devisID, itemID, nil)
	if err != nil {
		writeElementError(w, err)
		return
	}
	common.JSONSuccess(w, http.StatusOK, map[string]any{
		"devisTotals": totals,
		"message":     "item supprime",
	})
}

type itemReorderRequest struct {
	ItemIDs         []string `json:"itemIds"`
	ExpectedVersion *int32   `json:"expectedVersion"`
}

// ReorderItems handles POST /api/v1/devis/{devisID}/items/reorder.
func (h *Handler) ReorderItems(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONFailure(w, http.StatusInternalServerError, "devis service not configured")
		return
	}
	devisID := chi.URLParam(r, "devisID")
	var req itemReorderRequest
	if err := decodeBody(r, &req); err != nil {
		common.JSONFailure(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	count, totals, err := h.Service.Reorder(r.Context(), devisID, req.ItemIDs, req.ExpectedVersion)
	if err != nil {
		writeElementError(w, err)
		return
	}
	common.JSONSuccess(w, http.StatusOK, map[string]any{
		"count":       count,
		"devisTotals": totals,
		"message":     "items reordonnes",
	})
}
