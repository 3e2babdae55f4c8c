// Package stats provides the dashboard numbers: devis counts by status and
// the monthly signed revenue curve. Results are cached per societe with a
// short TTL since the dashboard polls.
package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/redis/go-redis/v9"

	"github.com/technoprod/backend-gestion/internal/repo"
	"github.com/technoprod/backend-gestion/internal/store"
	"github.com/technoprod/backend-gestion/internal/tenant"
)

// Querier defines the database access required for stats operations.
type Querier interface {
	CountDevisByStatus(ctx context.Context, societeID pgtype.UUID) ([]store.DevisStatusCount, error)
	MonthlySignedRevenue(ctx context.Context, arg store.MonthlyRevenueParams) ([]store.MonthlyRevenueRow, error)
}

// Service provides cached access to dashboard aggregates.
type Service struct {
	Q             Querier
	R             *redis.Client
	TTL           time.Duration
	DefaultMonths int
	Now           func() time.Time
}

// DevisParStatut is the status breakdown payload. Absent statuses are zero.
type DevisParStatut struct {
	Brouillon    int64 `json:"brouillon"`
	Envoye       int64 `json:"envoye"`
	Signe        int64 `json:"signe"`
	Refuse       int64 `json:"refuse"`
	AcompteRegle int64 `json:"acompte_regle"`
	Total        int64 `json:"total"`
}

// MoisCA is one month of signed revenue.
type MoisCA struct {
	Mois    string `json:"mois"`
	TotalHT string `json:"total_ht"`
	Devis   int64  `json:"devis"`
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) months() int {
	if s != nil && s.DefaultMonths > 0 {
		return s.DefaultMonths
	}
	return 12
}

func cacheKey(ctx context.Context, parts ...any) string {
	formatted := make([]string, 0, len(parts)+1)
	if id, ok := tenant.From(ctx); ok {
		formatted = append(formatted, id)
	}
	for _, part := range parts {
		formatted = append(formatted, fmt.Sprint(part))
	}
	return strings.Join(formatted, ":")
}

// ParStatut returns devis counts grouped by status for the societe.
func (s *Service) ParStatut(ctx context.Context) (DevisParStatut, error) {
	if s == nil || s.Q == nil {
		return DevisParStatut{}, fmt.Errorf("stats service not configured")
	}
	sid, err := repo.SocieteUUID(ctx)
	if err != nil {
		return DevisParStatut{}, err
	}
	key := cacheKey(ctx, "stats", "devis")
	var cached DevisParStatut
	if s.fromCache(ctx, key, &cached) {
		return cached, nil
	}
	rows, err := s.Q.CountDevisByStatus(ctx, sid)
	if err != nil {
		return DevisParStatut{}, err
	}
	var out DevisParStatut
	for _, row := range rows {
		out.Total += row.Count
		switch row.Status {
		case store.DevisStatusBrouillon:
			out.Brouillon = row.Count
		case store.DevisStatusEnvoye:
			out.Envoye = row.Count
		case store.DevisStatusSigne:
			out.Signe = row.Count
		case store.DevisStatusRefuse:
			out.Refuse = row.Count
		case store.DevisStatusAcompteRegle:
			out.AcompteRegle = row.Count
		}
	}
	s.store(ctx, key, out)
	return out, nil
}

// ChiffreAffaires returns the monthly signed revenue for the last N months.
func (s *Service) ChiffreAffaires(ctx context.Context, months int) ([]MoisCA, error) {
	if s == nil || s.Q == nil {
		return nil, fmt.Errorf("stats service not configured")
	}
	sid, err := repo.SocieteUUID(ctx)
	if err != nil {
		return nil, err
	}
	if months <= 0 || months > 36 {
		months = s.months()
	}
	key := cacheKey(ctx, "stats", "ca", months)
	var cached []MoisCA
	if s.fromCache(ctx, key, &cached) {
		return cached, nil
	}
	now := s.now()
	since := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -(months - 1), 0)
	rows, err := s.Q.MonthlySignedRevenue(ctx, store.MonthlyRevenueParams{
		SocieteID: sid,
		Since:     pgtype.Date{Time: since, Valid: true},
	})
	if err != nil {
		return nil, err
	}
	out := make([]MoisCA, 0, len(rows))
	for _, row := range rows {
		m := MoisCA{
			TotalHT: store.DecimalFromNumeric(row.TotalHT).StringFixed(2),
			Devis:   row.Devis,
		}
		if row.Mois.Valid {
			m.Mois = row.Mois.Time.Format("2006-01")
		}
		out = append(out, m)
	}
	s.store(ctx, key, out)
	return out, nil
}

func (s *Service) fromCache(ctx context.Context, key string, dst any) bool {
	if s.R == nil || s.TTL <= 0 {
		return false
	}
	data, err := s.R.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *Service) store(ctx context.Context, key string, value any) {
	if s.R == nil || s.TTL <= 0 {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	_ = s.R.Set(ctx, key, data, s.TTL).Err()
}
