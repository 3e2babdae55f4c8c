// Package produit manages the product catalogue: tenant-scoped CRUD for the
// back office, paginated search for pickers, and the prefill payload the devis
// editor uses when a ligne references a produit. Reads go through Redis with a
// short TTL; writes invalidate.
package produit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/technoprod/backend-gestion/internal/cache"
	"github.com/technoprod/backend-gestion/internal/common"
	"github.com/technoprod/backend-gestion/internal/repo"
	"github.com/technoprod/backend-gestion/internal/store"
)

type queryProvider interface {
	CreateProduit(ctx context.Context, arg store.CreateProduitParams) (store.Produit, error)
	GetProduit(ctx context.Context, arg store.GetProduitParams) (store.Produit, error)
	ListProduits(ctx context.Context, arg store.ListProduitsParams) ([]store.Produit, error)
	CountProduits(ctx context.Context, arg store.CountProduitsParams) (int64, error)
	UpdateProduit(ctx context.Context, arg store.UpdateProduitParams) (store.Produit, error)
	DeleteProduit(ctx context.Context, arg store.GetProduitParams) (int64, error)
}

// Service orchestrates catalogue queries, DTO assembly, and caching.
type Service struct {
	queries      queryProvider
	cache        *Cache
	validate     *validator.Validate
	defaultPage  int
	defaultLimit int
	maxLimit     int
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Queries      queryProvider
	Cache        *Cache
	Validator    *validator.Validate
	DefaultPage  int
	DefaultLimit int
	MaxLimit     int
}

// NewService constructs a Service instance.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Queries == nil {
		return nil, errors.New("produit: queries provider is required")
	}
	v := cfg.Validator
	if v == nil {
		v = validator.New()
	}
	defaultPage := cfg.DefaultPage
	if defaultPage < 1 {
		defaultPage = 1
	}
	defaultLimit := cfg.DefaultLimit
	if defaultLimit < 1 {
		defaultLimit = 20
	}
	maxLimit := cfg.MaxLimit
	if maxLimit < 1 {
		maxLimit = 100
	}
	if defaultLimit > maxLimit {
		defaultLimit = maxLimit
	}
	return &Service{
		queries:      cfg.Queries,
		cache:        cfg.Cache,
		validate:     v,
		defaultPage:  defaultPage,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
	}, nil
}

// ListParams captures filters for catalogue listing.
type ListParams struct {
	Search string
	Page   int
	Limit  int
}

// Produit is the public catalogue payload.
type Produit struct {
	ID           string    `json:"id"`
	Reference    string    `json:"reference"`
	Designation  string    `json:"designation"`
	Description  string    `json:"description,omitempty"`
	PrixUnitaire string    `json:"prix_unitaire"`
	TauxTVA      string    `json:"taux_tva"`
	Unite        string    `json:"unite,omitempty"`
	Actif        bool      `json:"actif"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Prefill is what the devis editor needs when a ligne picks a produit.
type Prefill struct {
	Designation  string `json:"designation"`
	Description  string `json:"description,omitempty"`
	PrixUnitaire string `json:"prix_unitaire"`
	TauxTVA      string `json:"taux_tva"`
	Unite        string `json:"unite,omitempty"`
}

// Input is the create/update payload.
type Input struct {
	Reference    string `json:"reference" validate:"required,max=64"`
	Designation  string `json:"designation" validate:"required,max=255"`
	Description  string `json:"description" validate:"max=2000"`
	PrixUnitaire string `json:"prix_unitaire" validate:"required"`
	TauxTVA      string `json:"taux_tva" validate:"required"`
	Unite        string `json:"unite" validate:"max=32"`
	Actif        *bool  `json:"actif"`
}

// ListResult contains list data and pagination metadata.
type ListResult struct {
	Items []Produit
	Total int64
	Page  int
	Limit int
}

func convert(p store.Produit) Produit {
	out := Produit{
		ID:           store.UUIDString(p.ID),
		Reference:    p.Reference,
		Designation:  p.Designation,
		Description:  store.TextString(p.Description),
		PrixUnitaire: store.DecimalFromNumeric(p.PrixUnitaire).StringFixed(2),
		TauxTVA:      store.DecimalFromNumeric(p.TauxTVA).String(),
		Unite:        store.TextString(p.Unite),
		Actif:        p.Actif,
	}
	if p.UpdatedAt.Valid {
		out.UpdatedAt = p.UpdatedAt.Time
	}
	return out
}

// ParseListParams normalises raw query values into typed filters.
func (s *Service) ParseListParams(values url.Values) (ListParams, error) {
	params := ListParams{Page: s.defaultPage, Limit: s.defaultLimit}
	params.Search = strings.TrimSpace(values.Get("q"))

	if v := strings.TrimSpace(values.Get("page")); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page < 1 {
			return params, badRequest("page", "page must be a positive integer", err)
		}
		params.Page = page
	}
	limit := s.defaultLimit
	if v := strings.TrimSpace(values.Get("limit")); v != "" {
		l, err := strconv.Atoi(v)
		if err != nil || l < 1 {
			return params, badRequest("limit", "limit must be a positive integer", err)
		}
		limit = l
	}
	if limit > s.maxLimit {
		limit = s.maxLimit
	}
	params.Limit = limit
	return params, nil
}

// List returns the filtered catalogue with pagination metadata. Only the
// unfiltered first page is cached.
func (s *Service) List(ctx context.Context, params ListParams) (ListResult, error) {
	sid, err := repo.SocieteUUID(ctx)
	if err != nil {
		return ListResult{}, common.NewAppError("SOCIETE_REQUIRED", "societe is required", http.StatusBadRequest, err)
	}

	key, cacheable := s.listCacheKey(ctx, params)
	if cacheable {
		var cached cachedList
		ok, err := s.cache.GetJSON(ctx, key, &cached)
		if err == nil && ok {
			return ListResult{Items: cached.Items, Total: cached.Total, Page: params.Page, Limit: params.Limit}, nil
		}
	}

	search := pgtype.Text{}
	if params.Search != "" {
		search = store.TextValue(params.Search)
	}
	total, err := s.queries.CountProduits(ctx, store.CountProduitsParams{SocieteID: sid, Search: search})
	if err != nil {
		return ListResult{}, fmt.Errorf("count produits: %w", err)
	}
	rows, err := s.queries.ListProduits(ctx, store.ListProduitsParams{
		SocieteID: sid,
		Search:    search,
		Limit:     int32(params.Limit),
		Offset:    int32((params.Page - 1) * params.Limit),
	})
	if err != nil {
		return ListResult{}, fmt.Errorf("list produits: %w", err)
	}
	items := make([]Produit, 0, len(rows))
	for _, row := range rows {
		items = append(items, convert(row))
	}
	if cacheable {
		_ = s.cache.SetJSON(ctx, key, cachedList{Items: items, Total: total})
	}
	return ListResult{Items: items, Total: total, Page: params.Page, Limit: params.Limit}, nil
}

// Get returns one produit, going through the cache.
func (s *Service) Get(ctx context.Context, id string) (Produit, error) {
	sid, err := repo.SocieteUUID(ctx)
	if err != nil {
		return Produit{}, common.NewAppError("SOCIETE_REQUIRED", "societe is required", http.StatusBadRequest, err)
	}
	key := cache.KeyProduit(ctx, id)
	var cached Produit
	if ok, err := s.cache.GetJSON(ctx, key, &cached); err == nil && ok {
		return cached, nil
	}
	pid, err := store.UUIDValue(id)
	if err != nil {
		return Produit{}, notFound(err)
	}
	row, err := s.queries.GetProduit(ctx, store.GetProduitParams{SocieteID: sid, ID: pid})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Produit{}, notFound(err)
		}
		return Produit{}, fmt.Errorf("get produit: %w", err)
	}
	out := convert(row)
	_ = s.cache.SetJSON(ctx, key, out)
	return out, nil
}

// GetPrefill returns the fields the devis editor copies into a new ligne.
func (s *Service) GetPrefill(ctx context.Context, id string) (Prefill, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return Prefill{}, err
	}
	return Prefill{
		Designation:  p.Designation,
		Description:  p.Description,
		PrixUnitaire: p.PrixUnitaire,
		TauxTVA:      p.TauxTVA,
		Unite:        p.Unite,
	}, nil
}

// Create inserts a new catalogue entry. References are unique per societe.
func (s *Service) Create(ctx context.Context, input Input) (Produit, error) {
	sid, err := repo.SocieteUUID(ctx)
	if err != nil {
		return Produit{}, common.NewAppError("SOCIETE_REQUIRED", "societe is required", http.StatusBadRequest, err)
	}
	prix, tva, err := s.validateInput(input)
	if err != nil {
		return Produit{}, err
	}
	row, err := s.queries.CreateProduit(ctx, store.CreateProduitParams{
		ID:           store.NewUUID(),
		SocieteID:    sid,
		Reference:    strings.TrimSpace(input.Reference),
		Designation:  strings.TrimSpace(input.Designation),
		Description:  store.TextValue(input.Description),
		PrixUnitaire: store.NumericFromDecimal(prix),
		TauxTVA:      store.NumericFromDecimal(tva),
		Unite:        store.TextValue(input.Unite),
	})
	if err != nil {
		return Produit{}, mapWriteError(err)
	}
	s.invalidate(ctx, store.UUIDString(row.ID))
	return convert(row), nil
}

// Update overwrites a catalogue entry.
func (s *Service) Update(ctx context.Context, id string, input Input) (Produit, error) {
	sid, err := repo.SocieteUUID(ctx)
	if err != nil {
		return Produit{}, common.NewAppError("SOCIETE_REQUIRED", "societe is required", http.StatusBadRequest, err)
	}
	pid, err := store.UUIDValue(id)
	if err != nil {
		return Produit{}, notFound(err)
	}
	prix, tva, err := s.validateInput(input)
	if err != nil {
		return Produit{}, err
	}
	actif := true
	if input.Actif != nil {
		actif = *input.Actif
	}
	row, err := s.queries.UpdateProduit(ctx, store.UpdateProduitParams{
		SocieteID:    sid,
		ID:           pid,
		Reference:    strings.TrimSpace(input.Reference),
		Designation:  strings.TrimSpace(input.Designation),
		Description:  store.TextValue(input.Description),
		PrixUnitaire: store.NumericFromDecimal(prix),
		TauxTVA:      store.NumericFromDecimal(tva),
		Unite:        store.TextValue(input.Unite),
		Actif:        actif,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Produit{}, notFound(err)
		}
		return Produit{}, mapWriteError(err)
	}
	s.invalidate(ctx, id)
	return convert(row), nil
}

// Delete removes a catalogue entry. Existing devis lignes keep their copied
// values; only the produit reference disappears.
func (s *Service) Delete(ctx context.Context, id string) error {
	sid, err := repo.SocieteUUID(ctx)
	if err != nil {
		return common.NewAppError("SOCIETE_REQUIRED", "societe is required", http.StatusBadRequest, err)
	}
	pid, err := store.UUIDValue(id)
	if err != nil {
		return notFound(err)
	}
	n, err := s.queries.DeleteProduit(ctx, store.GetProduitParams{SocieteID: sid, ID: pid})
	if err != nil {
		return fmt.Errorf("delete produit: %w", err)
	}
	if n == 0 {
		return notFound(nil)
	}
	s.invalidate(ctx, id)
	return nil
}

func (s *Service) validateInput(input Input) (decimal.Decimal, decimal.Decimal, error) {
	if err := s.validate.Struct(input); err != nil {
		return decimal.Zero, decimal.Zero, common.NewAppError("VALIDATION_ERROR", "invalid produit payload", http.StatusBadRequest, err)
	}
	prix, err := decimal.NewFromString(strings.TrimSpace(input.PrixUnitaire))
	if err != nil || prix.IsNegative() {
		return decimal.Zero, decimal.Zero, badRequest("prix_unitaire", "prix_unitaire must be a non-negative amount", err)
	}
	tva, err := decimal.NewFromString(strings.TrimSpace(input.TauxTVA))
	if err != nil || tva.IsNegative() {
		return decimal.Zero, decimal.Zero, badRequest("taux_tva", "taux_tva must be a non-negative percentage", err)
	}
	return prix, tva, nil
}

func (s *Service) listCacheKey(ctx context.Context, params ListParams) (string, bool) {
	if s.cache == nil {
		return "", false
	}
	if params.Page != s.defaultPage || params.Limit != s.defaultLimit || params.Search != "" {
		return "", false
	}
	return cache.KeyProduitList(ctx, "produits:list:first"), true
}

func (s *Service) invalidate(ctx context.Context, id string) {
	_ = s.cache.Delete(ctx,
		cache.KeyProduitList(ctx, "produits:list:first"),
		cache.KeyProduit(ctx, id),
	)
}

type cachedList struct {
	Items []Produit `json:"items"`
	Total int64     `json:"total"`
}

func notFound(err error) *common.AppError {
	return common.NewAppError("NOT_FOUND", "produit not found", http.StatusNotFound, err)
}

func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return common.NewAppError("CONFLICT", "reference already exists", http.StatusConflict, err)
	}
	return fmt.Errorf("write produit: %w", err)
}

func badRequest(field, message string, err error) *common.AppError {
	return &common.AppError{
		Code:       "BAD_REQUEST",
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
		Err:        err,
		Details: map[string]any{
			"field": field,
		},
	}
}
