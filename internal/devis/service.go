package devis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/technoprod/backend-gestion/internal/common"
	"github.com/technoprod/backend-gestion/internal/obs"
	"github.com/technoprod/backend-gestion/internal/repo"
	"github.com/technoprod/backend-gestion/internal/store"
)

// Querier is the store access the devis service needs. *store.Queries
// satisfies it; tests provide an in-memory fake.
type Querier interface {
	CreateDevis(ctx context.Context, arg store.CreateDevisParams) (store.Devis, error)
	GetDevis(ctx context.Context, arg store.GetDevisParams) (store.Devis, error)
	GetDevisForUpdate(ctx context.Context, arg store.GetDevisParams) (store.Devis, error)
	ListDevis(ctx context.Context, arg store.ListDevisParams) ([]store.Devis, error)
	CountDevis(ctx context.Context, arg store.CountDevisParams) (int64, error)
	UpdateDevisHeader(ctx context.Context, arg store.UpdateDevisHeaderParams) (store.Devis, error)
	UpdateDevisTotals(ctx context.Context, arg store.UpdateDevisTotalsParams) (store.Devis, error)
	UpdateDevisStatus(ctx context.Context, arg store.UpdateDevisStatusParams) (store.Devis, error)
	SetDevisCommande(ctx context.Context, arg store.SetDevisCommandeParams) error
	DeleteDevis(ctx context.Context, arg store.GetDevisParams) (int64, error)
	NextDevisNumero(ctx context.Context, arg store.NextDevisNumeroParams) (int32, error)

	InsertLigne(ctx context.Context, arg store.InsertLigneParams) (store.DevisLigne, error)
	GetLigne(ctx context.Context, arg store.GetLigneParams) (store.DevisLigne, error)
	ListLignes(ctx context.Context, devisID pgtype.UUID) ([]store.DevisLigne, error)
	UpdateLigne(ctx context.Context, arg store.UpdateLigneParams) (store.DevisLigne, error)
	DeleteLigne(ctx context.Context, arg store.GetLigneParams) (int64, error)
	ShiftPositionsUp(ctx context.Context, arg store.ShiftPositionsParams) (int64, error)
	ShiftPositionsDown(ctx context.Context, arg store.ShiftPositionsParams) (int64, error)
	SetLignePosition(ctx context.Context, arg store.SetLignePositionParams) (int64, error)
	NextPosition(ctx context.Context, devisID pgtype.UUID) (int32, error)
	ListLigneIDs(ctx context.Context, devisID pgtype.UUID) ([]pgtype.UUID, error)

	GetClient(ctx context.Context, arg store.GetClientParams) (store.Client, error)
	GetProduit(ctx context.Context, arg store.GetProduitParams) (store.Produit, error)
	CreateCommande(ctx context.Context, arg store.CreateCommandeParams) (store.Commande, error)
	InsertEvent(ctx context.Context, arg store.InsertEventParams) (store.Event, error)
}

// TxRunner executes fn inside one database transaction. PoolRunner is the
// production implementation; test fakes run fn against themselves.
type TxRunner interface {
	RunTx(ctx context.Context, fn func(q Querier) error) error
}

// Service orchestrates devis headers, lignes, totals and lifecycle.
type Service struct {
	DB           TxRunner
	Q            Querier
	NumeroPrefix string
	Now          func() time.Time
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) ready() error {
	if s == nil || s.DB == nil || s.Q == nil {
		return common.NewAppError("INTERNAL", "devis service not configured", http.StatusInternalServerError, nil)
	}
	return nil
}

var statusTransitions = map[string][]string{
	store.DevisStatusBrouillon: {store.DevisStatusEnvoye},
	store.DevisStatusEnvoye:    {store.DevisStatusSigne, store.DevisStatusRefuse},
	store.DevisStatusSigne:     {store.DevisStatusAcompteRegle},
}

func transitionAllowed(from, to string) bool {
	for _, next := range statusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func societeFromContext(ctx context.Context) (pgtype.UUID, error) {
	sid, err := repo.SocieteUUID(ctx)
	if err != nil {
		return pgtype.UUID{}, common.NewAppError("SOCIETE_REQUIRED", "societe is required", http.StatusBadRequest, err)
	}
	return sid, nil
}

func notFound(entity string) error {
	return common.NewAppError("NOT_FOUND", entity+" not found", http.StatusNotFound, nil)
}

func mapStoreError(err error, entity string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound(entity)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return common.NewAppError("CONFLICT", entity+" already exists", http.StatusConflict, err)
	}
	return err
}

func checkVersion(d store.Devis, expected *int32) error {
	if expected != nil && *expected != d.Version {
		return common.NewAppError("CONFLICT", "devis was modified by another request", http.StatusConflict, nil)
	}
	return nil
}

// CreateHeader creates a devis in brouillon with a freshly allocated numero.
func (s *Service) CreateHeader(ctx context.Context, input HeaderInput) (Header, error) {
	if err := s.ready(); err != nil {
		return Header{}, err
	}
	sid, err := societeFromContext(ctx)
	if err != nil {
		return Header{}, err
	}
	clientID, err := store.UUIDValue(input.ClientID)
	if err != nil {
		return Header{}, common.NewAppError("VALIDATION_ERROR", "client_id is required", http.StatusBadRequest, err)
	}

	var created store.Devis
	err = s.DB.RunTx(ctx, func(q Querier) error {
		if _, err := q.GetClient(ctx, store.GetClientParams{SocieteID: sid, ID: clientID}); err != nil {
			return mapStoreError(err, "client")
		}
		annee := int32(s.now().Year())
		seq, err := q.NextDevisNumero(ctx, store.NextDevisNumeroParams{SocieteID: sid, Annee: annee})
		if err != nil {
			return err
		}
		numero := fmt.Sprintf("%s-%d-%04d", s.NumeroPrefix, annee, seq)
		created, err = q.CreateDevis(ctx, store.CreateDevisParams{
			ID:           store.NewUUID(),
			SocieteID:    sid,
			ClientID:     clientID,
			Numero:       numero,
			Objet:        store.TextValue(input.Objet),
			DateDevis:    store.DateValue(input.DateDevis),
			DateValidite: store.DateValue(input.DateValidite),
		})
		if err != nil {
			return mapStoreError(err, "devis")
		}
		return nil
	})
	if err != nil {
		return Header{}, err
	}
	return convertHeader(created), nil
}

// GetHeader returns one devis with its lignes.
func (s *Service) GetHeader(ctx context.Context, devisID string) (Header, []Element, error) {
	if err := s.ready(); err != nil {
		return Header{}, nil, err
	}
	sid, err := societeFromContext(ctx)
	if err != nil {
		return Header{}, nil, err
	}
	did, err := store.UUIDValue(devisID)
	if err != nil {
		return Header{}, nil, notFound("devis")
	}
	d, err := s.Q.GetDevis(ctx, store.GetDevisParams{SocieteID: sid, ID: did})
	if err != nil {
		return Header{}, nil, mapStoreError(err, "devis")
	}
	lignes, err := s.Q.ListLignes(ctx, d.ID)
	if err != nil {
		return Header{}, nil, err
	}
	elements := make([]Element, 0, len(lignes))
	for _, l := range lignes {
		elements = append(elements, convertElement(l))
	}
	return convertHeader(d), elements, nil
}

// ListHeaders returns paginated devis filtered by status and client.
func (s *Service) ListHeaders(ctx context.Context, status, clientID string, page, perPage int) ([]Header, int64, error) {
	if err := s.ready(); err != nil {
		return nil, 0, err
	}
	sid, err := societeFromContext(ctx)
	if err != nil {
		return nil, 0, err
	}
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 20
	}
	var statusFilter pgtype.Text
	if status != "" {
		if !validStatus(status) {
			return nil, 0, common.NewAppError("VALIDATION_ERROR", "unknown status", http.StatusBadRequest, nil)
		}
		statusFilter = store.TextValue(status)
	}
	var clientFilter pgtype.UUID
	if clientID != "" {
		clientFilter, err = store.UUIDValue(clientID)
		if err != nil {
			return nil, 0, common.NewAppError("VALIDATION_ERROR", "invalid client_id", http.StatusBadRequest, err)
		}
	}
	rows, err := s.Q.ListDevis(ctx, store.ListDevisParams{
		SocieteID: sid,
		Status:    statusFilter,
		ClientID:  clientFilter,
		Limit:     int32(perPage),
		Offset:    int32((page - 1) * perPage),
	})
	if err != nil {
		return nil, 0, err
	}
	total, err := s.Q.CountDevis(ctx, store.CountDevisParams{SocieteID: sid, Status: statusFilter, ClientID: clientFilter})
	if err != nil {
		return nil, 0, err
	}
	headers := make([]Header, 0, len(rows))
	for _, d := range rows {
		headers = append(headers, convertHeader(d))
	}
	return headers, total, nil
}

func validStatus(status string) bool {
	switch status {
	case store.DevisStatusBrouillon, store.DevisStatusEnvoye, store.DevisStatusSigne,
		store.DevisStatusRefuse, store.DevisStatusAcompteRegle:
		return true
	}
	return false
}

// UpdateHeader overwrites the header fields, honoring expectedVersion.
func (s *Service) UpdateHeader(ctx context.Context, devisID string, input HeaderInput) (Header, error) {
	if err := s.ready(); err != nil {
		return Header{}, err
	}
	sid, err := societeFromContext(ctx)
	if err != nil {
		return Header{}, err
	}
	did, err := store.UUIDValue(devisID)
	if err != nil {
		return Header{}, notFound("devis")
	}
	var updated store.Devis
	err = s.DB.RunTx(ctx, func(q Querier) error {
		d, err := q.GetDevisForUpdate(ctx, store.GetDevisParams{SocieteID: sid, ID: did})
		if err != nil {
			return mapStoreError(err, "devis")
		}
		if err := checkVersion(d, input.ExpectedVersion); err != nil {
			return err
		}
		clientID := d.ClientID
		if input.ClientID != "" {
			clientID, err = store.UUIDValue(input.ClientID)
			if err != nil {
				return common.NewAppError("VALIDATION_ERROR", "invalid client_id", http.StatusBadRequest, err)
			}
			if _, err := q.GetClient(ctx, store.GetClientParams{SocieteID: sid, ID: clientID}); err != nil {
				return mapStoreError(err, "client")
			}
		}
		objet := d.Objet
		if input.Objet != "" {
			objet = store.TextValue(input.Objet)
		}
		dateDevis := d.DateDevis
		if !input.DateDevis.IsZero() {
			dateDevis = store.DateValue(input.DateDevis)
		}
		dateValidite := d.DateValidite
		if !input.DateValidite.IsZero() {
			dateValidite = store.DateValue(input.DateValidite)
		}
		updated, err = q.UpdateDevisHeader(ctx, store.UpdateDevisHeaderParams{
			ID:           did,
			SocieteID:    sid,
			ClientID:     clientID,
			Objet:        objet,
			DateDevis:    dateDevis,
			DateValidite: dateValidite,
		})
		if err != nil {
			return mapStoreError(err, "devis")
		}
		return nil
	})
	if err != nil {
		return Header{}, err
	}
	return convertHeader(updated), nil
}

// DeleteHeader removes a devis; its lignes cascade.
func (s *Service) DeleteHeader(ctx context.Context, devisID string) error {
	if err := s.ready(); err != nil {
		return err
	}
	sid, err := societeFromContext(ctx)
	if err != nil {
		return err
	}
	did, err := store.UUIDValue(devisID)
	if err != nil {
		return notFound("devis")
	}
	affected, err := s.Q.DeleteDevis(ctx, store.GetDevisParams{SocieteID: sid, ID: did})
	if err != nil {
		return err
	}
	if affected == 0 {
		return notFound("devis")
	}
	return nil
}

// Transition moves a devis along its lifecycle and records a domain event.
// Allowed: brouillon->envoye, envoye->signe, envoye->refuse, signe->acompte_regle.
func (s *Service) Transition(ctx context.Context, devisID, newStatus string) (Header, error) {
	if err := s.ready(); err != nil {
		return Header{}, err
	}
	sid, err := societeFromContext(ctx)
	if err != nil {
		return Header{}, err
	}
	did, err := store.UUIDValue(devisID)
	if err != nil {
		return Header{}, notFound("devis")
	}
	if !validStatus(newStatus) {
		return Header{}, common.NewAppError("VALIDATION_ERROR", "unknown status", http.StatusBadRequest, nil)
	}
	var updated store.Devis
	err = s.DB.RunTx(ctx, func(q Querier) error {
		d, err := q.GetDevisForUpdate(ctx, store.GetDevisParams{SocieteID: sid, ID: did})
		if err != nil {
			return mapStoreError(err, "devis")
		}
		if !transitionAllowed(d.Status, newStatus) {
			return common.NewAppError("INVALID_STATE",
				fmt.Sprintf("cannot move devis from %s to %s", d.Status, newStatus),
				http.StatusBadRequest, nil)
		}
		updated, err = q.UpdateDevisStatus(ctx, store.UpdateDevisStatusParams{SocieteID: sid, ID: did, Status: newStatus})
		if err != nil {
			return mapStoreError(err, "devis")
		}
		payload, _ := json.Marshal(map[string]string{"numero": updated.Numero, "status": newStatus})
		_, err = q.InsertEvent(ctx, store.InsertEventParams{
			ID:          store.NewUUID(),
			SocieteID:   sid,
			Type:        "devis." + newStatus,
			AggregateID: did,
			Payload:     payload,
		})
		return err
	})
	obs.ObserveDevisTransition(newStatus, err)
	if err != nil {
		return Header{}, err
	}
	return convertHeader(updated), nil
}
