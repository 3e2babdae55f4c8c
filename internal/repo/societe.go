// Package repo carries the societe scoping applied to every query: services
// resolve the societe from the request context here before touching the store.
package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/technoprod/backend-gestion/internal/tenant"
)

var (
	// ErrSocieteMissing indicates the societe identifier was not found in context.
	ErrSocieteMissing = errors.New("societe missing")
	// ErrSocieteInvalid indicates the societe identifier could not be parsed.
	ErrSocieteInvalid = errors.New("societe invalid")
)

// SocieteUUID resolves the societe identifier from the context as a UUID.
func SocieteUUID(ctx context.Context) (pgtype.UUID, error) {
	societeID, ok := tenant.From(ctx)
	if !ok {
		return pgtype.UUID{}, ErrSocieteMissing
	}
	parsed, err := uuid.Parse(societeID)
	if err != nil {
		return pgtype.UUID{}, fmt.Errorf("%w: %v", ErrSocieteInvalid, err)
	}
	var out pgtype.UUID
	out.Bytes = parsed
	out.Valid = true
	return out, nil
}
