// Package facture exposes read access to invoices. Factures are created by
// the commande conversion and are immutable afterwards.
package facture

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/technoprod/backend-gestion/internal/common"
	"github.com/technoprod/backend-gestion/internal/repo"
	"github.com/technoprod/backend-gestion/internal/store"
)

type Querier interface {
	GetFacture(ctx context.Context, arg store.GetFactureParams) (store.Facture, error)
	ListFactures(ctx context.Context, arg store.ListFacturesParams) ([]store.Facture, error)
	CountFactures(ctx context.Context, societeID pgtype.UUID) (int64, error)
}

// Facture is the API representation of an invoice.
type Facture struct {
	ID         string          `json:"id"`
	Numero     string          `json:"numero"`
	ClientID   string          `json:"client_id"`
	CommandeID string          `json:"commande_id"`
	Status     string          `json:"status"`
	TotalHT    string          `json:"total_ht"`
	TotalTVA   string          `json:"total_tva"`
	TotalTTC   string          `json:"total_ttc"`
	Lignes     json.RawMessage `json:"lignes,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

type Service struct {
	Q Querier
}

func convert(f store.Facture, withLignes bool) Facture {
	out := Facture{
		ID:         store.UUIDString(f.ID),
		Numero:     f.Numero,
		ClientID:   store.UUIDString(f.ClientID),
		CommandeID: store.UUIDString(f.CommandeID),
		Status:     f.Status,
		TotalHT:    store.DecimalFromNumeric(f.TotalHT).StringFixed(2),
		TotalTVA:   store.DecimalFromNumeric(f.TotalTVA).StringFixed(2),
		TotalTTC:   store.DecimalFromNumeric(f.TotalTTC).StringFixed(2),
	}
	if withLignes && len(f.LignesSnapshot) > 0 {
		out.Lignes = json.RawMessage(f.LignesSnapshot)
	}
	if f.CreatedAt.Valid {
		out.CreatedAt = f.CreatedAt.Time
	}
	return out
}

func (s *Service) List(ctx context.Context, page, perPage int) ([]Facture, int64, error) {
	if s == nil || s.Q == nil {
		return nil, 0, common.NewAppError("INTERNAL", "facture service not configured", http.StatusInternalServerError, nil)
	}
	sid, err := repo.SocieteUUID(ctx)
	if err != nil {
		return nil, 0, common.NewAppError("SOCIETE_REQUIRED", "societe is required", http.StatusBadRequest, err)
	}
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 20
	}
	rows, err := s.Q.ListFactures(ctx, store.ListFacturesParams{
		SocieteID: sid,
		Limit:     int32(perPage),
		Offset:    int32((page - 1) * perPage),
	})
	if err != nil {
		return nil, 0, err
	}
	total, err := s.Q.CountFactures(ctx, sid)
	if err != nil {
		return nil, 0, err
	}
	out := make([]Facture, 0, len(rows))
	for _, f := range rows {
		out = append(out, convert(f, false))
	}
	return out, total, nil
}

func (s *Service) Get(ctx context.Context, id string) (Facture, error) {
	if s == nil || s.Q == nil {
		return Facture{}, common.NewAppError("INTERNAL", "facture service not configured", http.StatusInternalServerError, nil)
	}
	sid, err := repo.SocieteUUID(ctx)
	if err != nil {
		return Facture{}, common.NewAppError("SOCIETE_REQUIRED", "societe is required", http.StatusBadRequest, err)
	}
	fid, err := store.UUIDValue(id)
	if err != nil {
		return Facture{}, common.NewAppError("NOT_FOUND", "facture not found", http.StatusNotFound, err)
	}
	f, err := s.Q.GetFacture(ctx, store.GetFactureParams{SocieteID: sid, ID: fid})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Facture{}, common.NewAppError("NOT_FOUND", "facture not found", http.StatusNotFound, err)
		}
		return Facture{}, err
	}
	return convert(f, true), nil
}
