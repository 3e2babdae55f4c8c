// Package theme stores the per-societe branding document: colours, logo,
// label overrides. One row per societe, read on every page load, so reads go
// through Redis.
package theme

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	redis "github.com/redis/go-redis/v9"

	"github.com/technoprod/backend-gestion/internal/cache"
	"github.com/technoprod/backend-gestion/internal/common"
	"github.com/technoprod/backend-gestion/internal/repo"
	"github.com/technoprod/backend-gestion/internal/store"
	"github.com/technoprod/backend-gestion/internal/tenant"
)

type queryProvider interface {
	GetTheme(ctx context.Context, societeID pgtype.UUID) (store.Theme, error)
	UpsertTheme(ctx context.Context, arg store.UpsertThemeParams) (store.Theme, error)
}

// Service reads and writes the tenant theme.
type Service struct {
	queries queryProvider
	redis   *redis.Client
	ttl     time.Duration
}

// NewService constructs a Service. A nil redis client disables caching.
func NewService(queries queryProvider, client *redis.Client, ttl time.Duration) (*Service, error) {
	if queries == nil {
		return nil, errors.New("theme: queries provider is required")
	}
	return &Service{queries: queries, redis: client, ttl: ttl}, nil
}

// Theme is the API representation of the branding document.
type Theme struct {
	CouleurPrimaire   string            `json:"couleur_primaire"`
	CouleurSecondaire string            `json:"couleur_secondaire"`
	LogoURL           string            `json:"logo_url,omitempty"`
	Libelles          map[string]string `json:"libelles,omitempty"`
}

// DefaultTheme is served when a societe has never saved a theme.
var DefaultTheme = Theme{
	CouleurPrimaire:   "#1f2937",
	CouleurSecondaire: "#3b82f6",
}

// Input is the upsert payload.
type Input struct {
	CouleurPrimaire   string            `json:"couleur_primaire"`
	CouleurSecondaire string            `json:"couleur_secondaire"`
	LogoURL           string            `json:"logo_url"`
	Libelles          map[string]string `json:"libelles"`
}

var hexColor = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

func convert(t store.Theme) Theme {
	out := Theme{
		CouleurPrimaire:   t.CouleurPrimaire,
		CouleurSecondaire: t.CouleurSecondaire,
		LogoURL:           store.TextString(t.LogoURL),
	}
	if len(t.Libelles) > 0 {
		_ = json.Unmarshal(t.Libelles, &out.Libelles)
	}
	return out
}

// Get returns the societe theme, falling back to the default document.
func (s *Service) Get(ctx context.Context) (Theme, error) {
	sid, err := repo.SocieteUUID(ctx)
	if err != nil {
		return Theme{}, societeRequired(err)
	}
	societeID, _ := tenant.From(ctx)
	key := cache.KeyTheme(societeID)
	if s.redis != nil {
		if data, err := s.redis.Get(ctx, key).Bytes(); err == nil {
			var cached Theme
			if json.Unmarshal(data, &cached) == nil {
				return cached, nil
			}
		}
	}
	row, err := s.queries.GetTheme(ctx, sid)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DefaultTheme, nil
		}
		return Theme{}, fmt.Errorf("get theme: %w", err)
	}
	out := convert(row)
	s.cacheSet(ctx, key, out)
	return out, nil
}

// Upsert saves the societe theme and refreshes the cache.
func (s *Service) Upsert(ctx context.Context, input Input) (Theme, error) {
	sid, err := repo.SocieteUUID(ctx)
	if err != nil {
		return Theme{}, societeRequired(err)
	}
	primaire := strings.TrimSpace(input.CouleurPrimaire)
	secondaire := strings.TrimSpace(input.CouleurSecondaire)
	if primaire == "" {
		primaire = DefaultTheme.CouleurPrimaire
	}
	if secondaire == "" {
		secondaire = DefaultTheme.CouleurSecondaire
	}
	if !hexColor.MatchString(primaire) || !hexColor.MatchString(secondaire) {
		return Theme{}, common.NewAppError("VALIDATION_ERROR", "colours must be #RRGGBB", http.StatusBadRequest, nil)
	}
	var libelles []byte
	if len(input.Libelles) > 0 {
		libelles, err = json.Marshal(input.Libelles)
		if err != nil {
			return Theme{}, fmt.Errorf("marshal libelles: %w", err)
		}
	}
	row, err := s.queries.UpsertTheme(ctx, store.UpsertThemeParams{
		SocieteID:         sid,
		CouleurPrimaire:   primaire,
		CouleurSecondaire: secondaire,
		LogoURL:           store.TextValue(strings.TrimSpace(input.LogoURL)),
		Libelles:          libelles,
	})
	if err != nil {
		return Theme{}, fmt.Errorf("upsert theme: %w", err)
	}
	out := convert(row)
	societeID, _ := tenant.From(ctx)
	s.cacheSet(ctx, cache.KeyTheme(societeID), out)
	return out, nil
}

func (s *Service) cacheSet(ctx context.Context, key string, t Theme) {
	if s.redis == nil {
		return
	}
	if data, err := json.Marshal(t); err == nil {
		_ = s.redis.Set(ctx, key, data, s.ttl).Err()
	}
}

func societeRequired(err error) *common.AppError {
	return common.NewAppError("SOCIETE_REQUIRED", "societe is required", http.StatusBadRequest, err)
}
