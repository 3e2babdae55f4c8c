// Package commande exposes the order documents produced by devis conversion:
// list/get plus the commande → facture conversion.
package commande

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/technoprod/backend-gestion/internal/common"
	"github.com/technoprod/backend-gestion/internal/obs"
	"github.com/technoprod/backend-gestion/internal/repo"
	"github.com/technoprod/backend-gestion/internal/store"
)

// Querier is the store access the commande service needs.
type Querier interface {
	GetCommande(ctx context.Context, arg store.GetCommandeParams) (store.Commande, error)
	GetCommandeForUpdate(ctx context.Context, arg store.GetCommandeParams) (store.Commande, error)
	ListCommandes(ctx context.Context, arg store.ListCommandesParams) ([]store.Commande, error)
	CountCommandes(ctx context.Context, societeID pgtype.UUID) (int64, error)
	SetCommandeFacture(ctx context.Context, arg store.SetCommandeFactureParams) error
	CreateFacture(ctx context.Context, arg store.CreateFactureParams) (store.Facture, error)
	InsertEvent(ctx context.Context, arg store.InsertEventParams) (store.Event, error)
}

// Commande is the API representation of an order document.
type Commande struct {
	ID        string          `json:"id"`
	Numero    string          `json:"numero"`
	ClientID  string          `json:"client_id"`
	DevisID   string          `json:"devis_id"`
	Status    string          `json:"status"`
	TotalHT   string          `json:"total_ht"`
	TotalTVA  string          `json:"total_tva"`
	TotalTTC  string          `json:"total_ttc"`
	FactureID string          `json:"facture_id,omitempty"`
	Lignes    json.RawMessage `json:"lignes,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// FactureRef is the conversion result.
type FactureRef struct {
	ID     string `json:"id"`
	Numero string `json:"numero"`
}

// TxRunner executes fn inside a transaction, handing it a Querier bound to
// that transaction.
type TxRunner interface {
	RunTx(ctx context.Context, fn func(q Querier) error) error
}

// PoolRunner is the production TxRunner backed by a pgx pool.
type PoolRunner struct {
	Pool *pgxpool.Pool
}

func (r PoolRunner) RunTx(ctx context.Context, fn func(q Querier) error) error {
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(store.New(tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Service reads commandes and converts them into factures.
type Service struct {
	DB TxRunner
	Q  Querier
}

func convert(c store.Commande, withLignes bool) Commande {
	out := Commande{
		ID:        store.UUIDString(c.ID),
		Numero:    c.Numero,
		ClientID:  store.UUIDString(c.ClientID),
		DevisID:   store.UUIDString(c.DevisID),
		Status:    c.Status,
		TotalHT:   store.DecimalFromNumeric(c.TotalHT).StringFixed(2),
		TotalTVA:  store.DecimalFromNumeric(c.TotalTVA).StringFixed(2),
		TotalTTC:  store.DecimalFromNumeric(c.TotalTTC).StringFixed(2),
		FactureID: store.UUIDString(c.FactureID),
	}
	if withLignes && len(c.LignesSnapshot) > 0 {
		out.Lignes = json.RawMessage(c.LignesSnapshot)
	}
	if c.CreatedAt.Valid {
		out.CreatedAt = c.CreatedAt.Time
	}
	return out
}

// List returns paginated commandes of the societe.
func (s *Service) List(ctx context.Context, page, perPage int) ([]Commande, int64, error) {
	if s == nil || s.Q == nil {
		return nil, 0, common.NewAppError("INTERNAL", "commande service not configured", http.StatusInternalServerError, nil)
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
	rows, err := s.Q.ListCommandes(ctx, store.ListCommandesParams{
		SocieteID: sid,
		Limit:     int32(perPage),
		Offset:    int32((page - 1) * perPage),
	})
	if err != nil {
		return nil, 0, err
	}
	total, err := s.Q.CountCommandes(ctx, sid)
	if err != nil {
		return nil, 0, err
	}
	out := make([]Commande, 0, len(rows))
	for _, c := range rows {
		out = append(out, convert(c, false))
	}
	return out, total, nil
}

// Get returns one commande with its ligne snapshot.
func (s *Service) Get(ctx context.Context, id string) (Commande, error) {
	if s == nil || s.Q == nil {
		return Commande{}, common.NewAppError("INTERNAL", "commande service not configured", http.StatusInternalServerError, nil)
	}
	sid, err := repo.SocieteUUID(ctx)
	if err != nil {
		return Commande{}, common.NewAppError("SOCIETE_REQUIRED", "societe is required", http.StatusBadRequest, err)
	}
	cid, err := store.UUIDValue(id)
	if err != nil {
		return Commande{}, common.NewAppError("NOT_FOUND", "commande not found", http.StatusNotFound, err)
	}
	c, err := s.Q.GetCommande(ctx, store.GetCommandeParams{SocieteID: sid, ID: cid})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Commande{}, common.NewAppError("NOT_FOUND", "commande not found", http.StatusNotFound, err)
		}
		return Commande{}, err
	}
	return convert(c, true), nil
}

// ConvertToFacture creates the facture for a commande, copying totals and the
// ligne snapshot. A commande can only be invoiced once.
func (s *Service) ConvertToFacture(ctx context.Context, id string) (FactureRef, error) {
	if s == nil || s.DB == nil || s.Q == nil {
		return FactureRef{}, common.NewAppError("INTERNAL", "commande service not configured", http.StatusInternalServerError, nil)
	}
	sid, err := repo.SocieteUUID(ctx)
	if err != nil {
		return FactureRef{}, common.NewAppError("SOCIETE_REQUIRED", "societe is required", http.StatusBadRequest, err)
	}
	cid, err := store.UUIDValue(id)
	if err != nil {
		return FactureRef{}, common.NewAppError("NOT_FOUND", "commande not found", http.StatusNotFound, err)
	}

	var ref FactureRef
	err = s.DB.RunTx(ctx, func(q Querier) error {
		c, err := q.GetCommandeForUpdate(ctx, store.GetCommandeParams{SocieteID: sid, ID: cid})
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return common.NewAppError("NOT_FOUND", "commande not found", http.StatusNotFound, err)
			}
			return err
		}
		if c.FactureID.Valid {
			return common.NewAppError("CONFLICT", "commande already invoiced", http.StatusConflict, nil)
		}

		numero := "FAC-" + strings.TrimPrefix(c.Numero, "CMD-")
		created, err := q.CreateFacture(ctx, store.CreateFactureParams{
			ID:             store.NewUUID(),
			SocieteID:      sid,
			ClientID:       c.ClientID,
			CommandeID:     cid,
			Numero:         numero,
			TotalHT:        c.TotalHT,
			TotalTVA:       c.TotalTVA,
			TotalTTC:       c.TotalTTC,
			LignesSnapshot: c.LignesSnapshot,
		})
		if err != nil {
			return err
		}
		if err := q.SetCommandeFacture(ctx, store.SetCommandeFactureParams{ID: cid, FactureID: created.ID}); err != nil {
			return err
		}
		payload, _ := json.Marshal(map[string]string{"commande_numero": c.Numero, "facture_numero": created.Numero})
		if _, err := q.InsertEvent(ctx, store.InsertEventParams{
			ID:          store.NewUUID(),
			SocieteID:   sid,
			Type:        "commande.facturee",
			AggregateID: cid,
			Payload:     payload,
		}); err != nil {
			return err
		}
		ref = FactureRef{ID: store.UUIDString(created.ID), Numero: created.Numero}
		return nil
	})
	obs.ObserveConversion("commande_facture", err)
	if err != nil {
		return FactureRef{}, err
	}
	return ref, nil
}
