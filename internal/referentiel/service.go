// Package referentiel manages the admin reference data lists: legal forms,
// payment modes, banks, VAT rates, carriers, user groups. Entries are
// discriminated by kind and scoped per societe.
package referentiel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/technoprod/backend-gestion/internal/audit"
	"github.com/technoprod/backend-gestion/internal/common"
	"github.com/technoprod/backend-gestion/internal/repo"
	"github.com/technoprod/backend-gestion/internal/store"
)

// Kinds lists the reference data families the admin screens manage.
var Kinds = []string{
	"forme_juridique",
	"mode_reglement",
	"banque",
	"taux_tva",
	"transporteur",
	"groupe_utilisateur",
}

// ValidKind reports whether kind is one of the managed families.
func ValidKind(kind string) bool {
	for _, k := range Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

type queryProvider interface {
	CreateReferentielEntry(ctx context.Context, arg store.CreateReferentielEntryParams) (store.ReferentielEntry, error)
	GetReferentielEntry(ctx context.Context, arg store.GetReferentielEntryParams) (store.ReferentielEntry, error)
	ListReferentielEntries(ctx context.Context, arg store.ListReferentielEntriesParams) ([]store.ReferentielEntry, error)
	UpdateReferentielEntry(ctx context.Context, arg store.UpdateReferentielEntryParams) (store.ReferentielEntry, error)
	DeleteReferentielEntry(ctx context.Context, arg store.GetReferentielEntryParams) (int64, error)
}

// Service manages reference data entries.
type Service struct {
	queries  queryProvider
	audit    audit.Service
	validate *validator.Validate
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Queries   queryProvider
	Audit     audit.Service
	Validator *validator.Validate
}

// NewService constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Queries == nil {
		return nil, errors.New("referentiel: queries provider is required")
	}
	v := cfg.Validator
	if v == nil {
		v = validator.New()
	}
	return &Service{queries: cfg.Queries, audit: cfg.Audit, validate: v}, nil
}

// Entry is the API representation of a reference data row.
type Entry struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Code      string    `json:"code"`
	Libelle   string    `json:"libelle"`
	Valeur    string    `json:"valeur,omitempty"`
	Actif     bool      `json:"actif"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Input is the create/update payload.
type Input struct {
	Code    string `json:"code" validate:"required,max=64"`
	Libelle string `json:"libelle" validate:"required,max=255"`
	Valeur  string `json:"valeur" validate:"max=255"`
	Actif   *bool  `json:"actif"`
}

func convert(e store.ReferentielEntry) Entry {
	out := Entry{
		ID:      store.UUIDString(e.ID),
		Kind:    e.Kind,
		Code:    e.Code,
		Libelle: e.Libelle,
		Valeur:  store.TextString(e.Valeur),
		Actif:   e.Actif,
	}
	if e.UpdatedAt.Valid {
		out.UpdatedAt = e.UpdatedAt.Time
	}
	return out
}

// List returns every entry of a kind, active or not, sorted by libelle.
func (s *Service) List(ctx context.Context, kind string) ([]Entry, error) {
	sid, err := repo.SocieteUUID(ctx)
	if err != nil {
		return nil, societeRequired(err)
	}
	if !ValidKind(kind) {
		return nil, unknownKind(kind)
	}
	rows, err := s.queries.ListReferentielEntries(ctx, store.ListReferentielEntriesParams{SocieteID: sid, Kind: kind})
	if err != nil {
		return nil, fmt.Errorf("list referentiel %s: %w", kind, err)
	}
	out := make([]Entry, 0, len(rows))
	for _, row := range rows {
		out = append(out, convert(row))
	}
	return out, nil
}

// Create inserts an entry under a kind.
func (s *Service) Create(ctx context.Context, kind string, input Input, actor audit.Actor) (Entry, error) {
	sid, err := repo.SocieteUUID(ctx)
	if err != nil {
		return Entry{}, societeRequired(err)
	}
	if !ValidKind(kind) {
		return Entry{}, unknownKind(kind)
	}
	if err := s.validate.Struct(input); err != nil {
		return Entry{}, validation(err)
	}
	row, err := s.queries.CreateReferentielEntry(ctx, store.CreateReferentielEntryParams{
		ID:        store.NewUUID(),
		SocieteID: sid,
		Kind:      kind,
		Code:      strings.TrimSpace(input.Code),
		Libelle:   strings.TrimSpace(input.Libelle),
		Valeur:    store.TextValue(input.Valeur),
	})
	if err != nil {
		return Entry{}, mapWriteError(err)
	}
	entry := convert(row)
	_ = s.audit.Record(ctx, actor, "referentiel.created", kind, entry.ID, map[string]string{"code": entry.Code})
	return entry, nil
}

// Update overwrites an entry.
func (s *Service) Update(ctx context.Context, kind, id string, input Input, actor audit.Actor) (Entry, error) {
	sid, err := repo.SocieteUUID(ctx)
	if err != nil {
		return Entry{}, societeRequired(err)
	}
	if !ValidKind(kind) {
		return Entry{}, unknownKind(kind)
	}
	eid, err := store.UUIDValue(id)
	if err != nil {
		return Entry{}, notFound(err)
	}
	if err := s.validate.Struct(input); err != nil {
		return Entry{}, validation(err)
	}
	current, err := s.queries.GetReferentielEntry(ctx, store.GetReferentielEntryParams{SocieteID: sid, ID: eid})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, notFound(err)
		}
		return Entry{}, fmt.Errorf("get referentiel entry: %w", err)
	}
	if current.Kind != kind {
		return Entry{}, notFound(nil)
	}
	actif := current.Actif
	if input.Actif != nil {
		actif = *input.Actif
	}
	row, err := s.queries.UpdateReferentielEntry(ctx, store.UpdateReferentielEntryParams{
		SocieteID: sid,
		ID:        eid,
		Code:      strings.TrimSpace(input.Code),
		Libelle:   strings.TrimSpace(input.Libelle),
		Valeur:    store.TextValue(input.Valeur),
		Actif:     actif,
	})
	if err != nil {
		return Entry{}, mapWriteError(err)
	}
	entry := convert(row)
	_ = s.audit.Record(ctx, actor, "referentiel.updated", kind, entry.ID, map[string]string{"code": entry.Code})
	return entry, nil
}

// Delete removes an entry.
func (s *Service) Delete(ctx context.Context, kind, id string, actor audit.Actor) error {
	sid, err := repo.SocieteUUID(ctx)
	if err != nil {
		return societeRequired(err)
	}
	if !ValidKind(kind) {
		return unknownKind(kind)
	}
	eid, err := store.UUIDValue(id)
	if err != nil {
		return notFound(err)
	}
	current, err := s.queries.GetReferentielEntry(ctx, store.GetReferentielEntryParams{SocieteID: sid, ID: eid})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return notFound(err)
		}
		return fmt.Errorf("get referentiel entry: %w", err)
	}
	if current.Kind != kind {
		return notFound(nil)
	}
	n, err := s.queries.DeleteReferentielEntry(ctx, store.GetReferentielEntryParams{SocieteID: sid, ID: eid})
	if err != nil {
		return fmt.Errorf("delete referentiel entry: %w", err)
	}
	if n == 0 {
		return notFound(nil)
	}
	_ = s.audit.Record(ctx, actor, "referentiel.deleted", kind, id, map[string]string{"code": current.Code})
	return nil
}

func societeRequired(err error) *common.AppError {
	return common.NewAppError("SOCIETE_REQUIRED", "societe is required", http.StatusBadRequest, err)
}

func unknownKind(kind string) *common.AppError {
	return common.NewAppError("BAD_REQUEST", "unknown referentiel kind: "+kind, http.StatusBadRequest, nil)
}

func notFound(err error) *common.AppError {
	return common.NewAppError("NOT_FOUND", "referentiel entry not found", http.StatusNotFound, err)
}

func validation(err error) *common.AppError {
	return common.NewAppError("VALIDATION_ERROR", "invalid referentiel payload", http.StatusBadRequest, err)
}

func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return common.NewAppError("CONFLICT", "code already exists for this kind", http.StatusConflict, err)
	}
	return fmt.Errorf("write referentiel entry: %w", err)
}
