// Package client manages the CRM book: clients and prospects, paginated
// search, and GDPR consent flags with an audit trail.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/technoprod/backend-gestion/internal/audit"
	"github.com/technoprod/backend-gestion/internal/common"
	"github.com/technoprod/backend-gestion/internal/repo"
	"github.com/technoprod/backend-gestion/internal/store"
)

type queryProvider interface {
	CreateClient(ctx context.Context, arg store.CreateClientParams) (store.Client, error)
	GetClient(ctx context.Context, arg store.GetClientParams) (store.Client, error)
	ListClients(ctx context.Context, arg store.ListClientsParams) ([]store.Client, error)
	CountClients(ctx context.Context, arg store.CountClientsParams) (int64, error)
	UpdateClient(ctx context.Context, arg store.UpdateClientParams) (store.Client, error)
	UpdateClientConsent(ctx context.Context, arg store.UpdateClientConsentParams) (store.Client, error)
	DeleteClient(ctx context.Context, arg store.GetClientParams) (int64, error)
}

// Service orchestrates CRM reads and writes.
type Service struct {
	queries  queryProvider
	audit    audit.Service
	validate *validator.Validate
	now      func() time.Time
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Queries   queryProvider
	Audit     audit.Service
	Validator *validator.Validate
	Now       func() time.Time
}

// NewService constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Queries == nil {
		return nil, errors.New("client: queries provider is required")
	}
	v := cfg.Validator
	if v == nil {
		v = validator.New()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{queries: cfg.Queries, audit: cfg.Audit, validate: v, now: now}, nil
}

// Client is the API representation of a CRM record.
type Client struct {
	ID                 string     `json:"id"`
	Kind               string     `json:"kind"`
	RaisonSociale      string     `json:"raison_sociale"`
	ContactNom         string     `json:"contact_nom,omitempty"`
	Email              string     `json:"email,omitempty"`
	Telephone          string     `json:"telephone,omitempty"`
	Adresse            string     `json:"adresse,omitempty"`
	CodePostal         string     `json:"code_postal,omitempty"`
	Ville              string     `json:"ville,omitempty"`
	Pays               string     `json:"pays,omitempty"`
	ConsentEmail       bool       `json:"consent_email"`
	ConsentEmailAt     *time.Time `json:"consent_email_at,omitempty"`
	ConsentTelephone   bool       `json:"consent_telephone"`
	ConsentTelephoneAt *time.Time `json:"consent_telephone_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// Input is the create/update payload.
type Input struct {
	Kind          string `json:"kind" validate:"required,oneof=client prospect"`
	RaisonSociale string `json:"raison_sociale" validate:"required,max=255"`
	ContactNom    string `json:"contact_nom" validate:"max=255"`
	Email         string `json:"email" validate:"omitempty,email"`
	Telephone     string `json:"telephone" validate:"max=32"`
	Adresse       string `json:"adresse" validate:"max=500"`
	CodePostal    string `json:"code_postal" validate:"max=16"`
	Ville         string `json:"ville" validate:"max=128"`
	Pays          string `json:"pays" validate:"max=128"`
}

// ConsentInput carries the GDPR consent flags.
type ConsentInput struct {
	ConsentEmail     *bool `json:"consent_email"`
	ConsentTelephone *bool `json:"consent_telephone"`
}

// ListParams captures CRM search filters.
type ListParams struct {
	Kind    string
	Search  string
	Page    int
	PerPage int
}

// ListResult contains list data and pagination metadata.
type ListResult struct {
	Items []Client
	Total int64
}

func convert(c store.Client) Client {
	out := Client{
		ID:               store.UUIDString(c.ID),
		Kind:             c.Kind,
		RaisonSociale:    c.RaisonSociale,
		ContactNom:       store.TextString(c.ContactNom),
		Email:            store.TextString(c.Email),
		Telephone:        store.TextString(c.Telephone),
		Adresse:          store.TextString(c.Adresse),
		CodePostal:       store.TextString(c.CodePostal),
		Ville:            store.TextString(c.Ville),
		Pays:             store.TextString(c.Pays),
		ConsentEmail:     c.ConsentEmail,
		ConsentTelephone: c.ConsentTelephone,
	}
	if c.ConsentEmailAt.Valid {
		t := c.ConsentEmailAt.Time
		out.ConsentEmailAt = &t
	}
	if c.ConsentTelephoneAt.Valid {
		t := c.ConsentTelephoneAt.Time
		out.ConsentTelephoneAt = &t
	}
	if c.CreatedAt.Valid {
		out.CreatedAt = c.CreatedAt.Time
	}
	return out
}

// List returns the filtered CRM book.
func (s *Service) List(ctx context.Context, params ListParams) (ListResult, error) {
	sid, err := repo.SocieteUUID(ctx)
	if err != nil {
		return ListResult{}, societeRequired(err)
	}
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PerPage < 1 {
		params.PerPage = 20
	}
	kind := pgtype.Text{}
	switch params.Kind {
	case "":
	case store.ClientKindClient, store.ClientKindProspect:
		kind = store.TextValue(params.Kind)
	default:
		return ListResult{}, common.NewAppError("BAD_REQUEST", "kind must be client or prospect", http.StatusBadRequest, nil)
	}
	search := pgtype.Text{}
	if v := strings.TrimSpace(params.Search); v != "" {
		search = store.TextValue(v)
	}
	total, err := s.queries.CountClients(ctx, store.CountClientsParams{SocieteID: sid, Kind: kind, Search: search})
	if err != nil {
		return ListResult{}, fmt.Errorf("count clients: %w", err)
	}
	rows, err := s.queries.ListClients(ctx, store.ListClientsParams{
		SocieteID: sid,
		Kind:      kind,
		Search:    search,
		Limit:     int32(params.PerPage),
		Offset:    int32((params.Page - 1) * params.PerPage),
	})
	if err != nil {
		return ListResult{}, fmt.Errorf("list clients: %w", err)
	}
	items := make([]Client, 0, len(rows))
	for _, row := range rows {
		items = append(items, convert(row))
	}
	return ListResult{Items: items, Total: total}, nil
}

// Get returns one CRM record.
func (s *Service) Get(ctx context.Context, id string) (Client, error) {
	sid, err := repo.SocieteUUID(ctx)
	if err != nil {
		return Client{}, societeRequired(err)
	}
	cid, err := store.UUIDValue(id)
	if err != nil {
		return Client{}, notFound(err)
	}
	row, err := s.queries.GetClient(ctx, store.GetClientParams{SocieteID: sid, ID: cid})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Client{}, notFound(err)
		}
		return Client{}, fmt.Errorf("get client: %w", err)
	}
	return convert(row), nil
}

// Create inserts a CRM record.
func (s *Service) Create(ctx context.Context, input Input) (Client, error) {
	sid, err := repo.SocieteUUID(ctx)
	if err != nil {
		return Client{}, societeRequired(err)
	}
	if err := s.validate.Struct(input); err != nil {
		return Client{}, validation(err)
	}
	row, err := s.queries.CreateClient(ctx, store.CreateClientParams{
		ID:            store.NewUUID(),
		SocieteID:     sid,
		Kind:          input.Kind,
		RaisonSociale: strings.TrimSpace(input.RaisonSociale),
		ContactNom:    store.TextValue(input.ContactNom),
		Email:         store.TextValue(strings.ToLower(strings.TrimSpace(input.Email))),
		Telephone:     store.TextValue(input.Telephone),
		Adresse:       store.TextValue(input.Adresse),
		CodePostal:    store.TextValue(input.CodePostal),
		Ville:         store.TextValue(input.Ville),
		Pays:          store.TextValue(input.Pays),
	})
	if err != nil {
		return Client{}, fmt.Errorf("create client: %w", err)
	}
	return convert(row), nil
}

// Update overwrites a CRM record. Consent flags are not touched here.
func (s *Service) Update(ctx context.Context, id string, input Input) (Client, error) {
	sid, err := repo.SocieteUUID(ctx)
	if err != nil {
		return Client{}, societeRequired(err)
	}
	cid, err := store.UUIDValue(id)
	if err != nil {
		return Client{}, notFound(err)
	}
	if err := s.validate.Struct(input); err != nil {
		return Client{}, validation(err)
	}
	row, err := s.queries.UpdateClient(ctx, store.UpdateClientParams{
		SocieteID:     sid,
		ID:            cid,
		Kind:          input.Kind,
		RaisonSociale: strings.TrimSpace(input.RaisonSociale),
		ContactNom:    store.TextValue(input.ContactNom),
		Email:         store.TextValue(strings.ToLower(strings.TrimSpace(input.Email))),
		Telephone:     store.TextValue(input.Telephone),
		Adresse:       store.TextValue(input.Adresse),
		CodePostal:    store.TextValue(input.CodePostal),
		Ville:         store.TextValue(input.Ville),
		Pays:          store.TextValue(input.Pays),
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Client{}, notFound(err)
		}
		return Client{}, fmt.Errorf("update client: %w", err)
	}
	return convert(row), nil
}

// UpdateConsent changes the GDPR flags only. Each flag that flips gets a
// fresh timestamp; the change is written to the audit trail.
func (s *Service) UpdateConsent(ctx context.Context, id string, input ConsentInput, actor audit.Actor) (Client, error) {
	sid, err := repo.SocieteUUID(ctx)
	if err != nil {
		return Client{}, societeRequired(err)
	}
	cid, err := store.UUIDValue(id)
	if err != nil {
		return Client{}, notFound(err)
	}
	if input.ConsentEmail == nil && input.ConsentTelephone == nil {
		return Client{}, common.NewAppError("BAD_REQUEST", "no consent field provided", http.StatusBadRequest, nil)
	}
	current, err := s.queries.GetClient(ctx, store.GetClientParams{SocieteID: sid, ID: cid})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Client{}, notFound(err)
		}
		return Client{}, fmt.Errorf("get client: %w", err)
	}

	now := s.now()
	params := store.UpdateClientConsentParams{
		SocieteID:          sid,
		ID:                 cid,
		ConsentEmail:       current.ConsentEmail,
		ConsentEmailAt:     current.ConsentEmailAt,
		ConsentTelephone:   current.ConsentTelephone,
		ConsentTelephoneAt: current.ConsentTelephoneAt,
	}
	detail := map[string]any{}
	if input.ConsentEmail != nil && *input.ConsentEmail != current.ConsentEmail {
		params.ConsentEmail = *input.ConsentEmail
		params.ConsentEmailAt = store.TimestamptzValue(now)
		detail["consent_email"] = *input.ConsentEmail
	}
	if input.ConsentTelephone != nil && *input.ConsentTelephone != current.ConsentTelephone {
		params.ConsentTelephone = *input.ConsentTelephone
		params.ConsentTelephoneAt = store.TimestamptzValue(now)
		detail["consent_telephone"] = *input.ConsentTelephone
	}

	row, err := s.queries.UpdateClientConsent(ctx, params)
	if err != nil {
		return Client{}, fmt.Errorf("update consent: %w", err)
	}
	if len(detail) > 0 {
		_ = s.audit.Record(ctx, actor, "client.consent_updated", "client", id, detail)
	}
	return convert(row), nil
}

// Delete removes a CRM record. Documents keep their client_id reference at
// the database level, so deletion fails while devis exist for the client.
func (s *Service) Delete(ctx context.Context, id string) error {
	sid, err := repo.SocieteUUID(ctx)
	if err != nil {
		return societeRequired(err)
	}
	cid, err := store.UUIDValue(id)
	if err != nil {
		return notFound(err)
	}
	n, err := s.queries.DeleteClient(ctx, store.GetClientParams{SocieteID: sid, ID: cid})
	if err != nil {
		return fmt.Errorf("delete client: %w", err)
	}
	if n == 0 {
		return notFound(nil)
	}
	return nil
}

func societeRequired(err error) *common.AppError {
	return common.NewAppError("SOCIETE_REQUIRED", "societe is required", http.StatusBadRequest, err)
}

func notFound(err error) *common.AppError {
	return common.NewAppError("NOT_FOUND", "client not found", http.StatusNotFound, err)
}

func validation(err error) *common.AppError {
	return common.NewAppError("VALIDATION_ERROR", "invalid client payload", http.StatusBadRequest, err)
}
