// Package app wires the shared process-level dependencies used by cmd/api
// and cmd/worker.
package app

import (
	validator "github.com/go-playground/validator/v10"
	migrate "github.com/golang-migrate/migrate/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// Dependencies bundles the core clients handed to the HTTP server and worker.
type Dependencies struct {
	DB           *pgxpool.Pool
	Redis        *redis.Client
	Validator    *validator.Validate
	Limiter      *limiter.Limiter
	LimiterStore limiter.Store
}

// NewLimiterStore wires a rate limiter store backed by Redis.
func NewLimiterStore(rdb *redis.Client) (limiter.Store, error) {
	return limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{
		Prefix: "gestion:ratelimit",
	})
}

// NewAPILimiter builds the global per-client limiter applied in front of the
// public API. Rate is expressed in limiter notation, e.g. "300-M".
func NewAPILimiter(store limiter.Store, rate string) (*limiter.Limiter, error) {
	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, err
	}
	return limiter.New(store, parsed), nil
}

// RunMigrations applies pending migrations, treating an up-to-date schema as
// success.
func RunMigrations(m *migrate.Migrate) error {
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}
