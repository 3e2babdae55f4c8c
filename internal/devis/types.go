package devis

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/technoprod/backend-gestion/internal/pricing"
	"github.com/technoprod/backend-gestion/internal/store"
)

// Element is the API representation of one devis ligne. Monetary fields are
// fixed-point decimal strings; layout lines omit them entirely.
type Element struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Position     int32           `json:"position"`
	Designation  string          `json:"designation,omitempty"`
	Description  string          `json:"description,omitempty"`
	Quantite     string          `json:"quantite,omitempty"`
	PrixUnitaire string          `json:"prix_unitaire,omitempty"`
	RemisePct    string          `json:"remise_pct,omitempty"`
	TauxTVA      string          `json:"taux_tva,omitempty"`
	TotalHT      string          `json:"total_ht,omitempty"`
	TotalTTC     string          `json:"total_ttc,omitempty"`
	ProduitID    string          `json:"produit_id,omitempty"`
	Params       json.RawMessage `json:"params,omitempty"`
}

// Totals is the devis header aggregate embedded in legacy item responses as
// devisTotals.
type Totals struct {
	TotalHT  string `json:"totalHt"`
	TotalTVA string `json:"totalTva"`
	TotalTTC string `json:"totalTtc"`
}

// Header is the API representation of a devis.
type Header struct {
	ID           string    `json:"id"`
	Numero       string    `json:"numero"`
	ClientID     string    `json:"client_id"`
	Status       string    `json:"status"`
	Objet        string    `json:"objet,omitempty"`
	DateDevis    string    `json:"date_devis,omitempty"`
	DateValidite string    `json:"date_validite,omitempty"`
	TotalHT      string    `json:"total_ht"`
	TotalTVA     string    `json:"total_tva"`
	TotalTTC     string    `json:"total_ttc"`
	CommandeID   string    `json:"commande_id,omitempty"`
	Version      int32     `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// LigneInput captures the mutable fields of a ligne. Pointers distinguish
// "absent" from zero so updates only overwrite supplied fields.
type LigneInput struct {
	Type            string
	Position        *int32
	Designation     *string
	Description     *string
	Quantite        *decimal.Decimal
	PrixUnitaire    *decimal.Decimal
	RemisePct       *decimal.Decimal
	TauxTVA         *decimal.Decimal
	ProduitID       *string
	Params          json.RawMessage
	ExpectedVersion *int32
}

// HeaderInput captures the mutable fields of a devis header.
type HeaderInput struct {
	ClientID        string
	Objet           string
	DateDevis       time.Time
	DateValidite    time.Time
	ExpectedVersion *int32
}

func convertElement(l store.DevisLigne) Element {
	e := Element{
		ID:          store.UUIDString(l.ID),
		Type:        l.Kind,
		Position:    l.Position,
		Designation: store.TextString(l.Designation),
		Description: store.TextString(l.Description),
		ProduitID:   store.UUIDString(l.ProduitID),
	}
	if len(l.Params) > 0 {
		e.Params = json.RawMessage(l.Params)
	}
	if l.Kind == store.LigneKindProduit {
		e.Quantite = store.DecimalFromNumeric(l.Quantite).String()
		e.PrixUnitaire = store.DecimalFromNumeric(l.PrixUnitaire).StringFixed(2)
		e.RemisePct = store.DecimalFromNumeric(l.RemisePct).String()
		e.TauxTVA = store.DecimalFromNumeric(l.TauxTVA).String()
		e.TotalHT = store.DecimalFromNumeric(l.TotalHT).StringFixed(2)
		e.TotalTTC = store.DecimalFromNumeric(l.TotalTTC).StringFixed(2)
	}
	return e
}

func convertTotals(d store.Devis) Totals {
	return Totals{
		TotalHT:  store.DecimalFromNumeric(d.TotalHT).StringFixed(2),
		TotalTVA: store.DecimalFromNumeric(d.TotalTVA).StringFixed(2),
		TotalTTC: store.DecimalFromNumeric(d.TotalTTC).StringFixed(2),
	}
}

func convertHeader(d store.Devis) Header {
	h := Header{
		ID:         store.UUIDString(d.ID),
		Numero:     d.Numero,
		ClientID:   store.UUIDString(d.ClientID),
		Status:     d.Status,
		Objet:      store.TextString(d.Objet),
		TotalHT:    store.DecimalFromNumeric(d.TotalHT).StringFixed(2),
		TotalTVA:   store.DecimalFromNumeric(d.TotalTVA).StringFixed(2),
		TotalTTC:   store.DecimalFromNumeric(d.TotalTTC).StringFixed(2),
		CommandeID: store.UUIDString(d.CommandeID),
		Version:    d.Version,
	}
	if d.DateDevis.Valid {
		h.DateDevis = d.DateDevis.Time.Format("2006-01-02")
	}
	if d.DateValidite.Valid {
		h.DateValidite = d.DateValidite.Time.Format("2006-01-02")
	}
	if d.CreatedAt.Valid {
		h.CreatedAt = d.CreatedAt.Time
	}
	if d.UpdatedAt.Valid {
		h.UpdatedAt = d.UpdatedAt.Time
	}
	return h
}

func ligneTotals(l store.DevisLigne) pricing.LineTotals {
	return pricing.LineTotals{
		HT:  store.DecimalFromNumeric(l.TotalHT),
		TTC: store.DecimalFromNumeric(l.TotalTTC),
	}
}
