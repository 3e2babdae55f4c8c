// Package user handles the authenticated user's own profile: reading it,
// renaming, and changing the password while logged in.
package user

import (
	"context"
	"strings"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/technoprod/backend-gestion/internal/common"
	"github.com/technoprod/backend-gestion/internal/store"
)

const (
	httpStatusBadRequest   = 400
	httpStatusUnauthorized = 401
)

// Querier defines the database access required for profile operations.
type Querier interface {
	GetUser(ctx context.Context, id pgtype.UUID) (store.User, error)
	UpdateUserProfile(ctx context.Context, arg store.UpdateUserProfileParams) (store.User, error)
	UpdateUserPassword(ctx context.Context, arg store.UpdateUserPasswordParams) error
	RevokeUserSessions(ctx context.Context, userID pgtype.UUID) error
}

// Profile is the user's own view of their account.
type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Nom       string    `json:"nom,omitempty"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Service orchestrates profile operations.
type Service struct {
	queries Querier
}

// NewService constructs a profile service.
func NewService(queries Querier) *Service {
	return &Service{queries: queries}
}

// Get returns the profile of the given user.
func (s *Service) Get(ctx context.Context, userID string) (Profile, error) {
	u, err := s.currentUser(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	return convertProfile(u), nil
}

// UpdateProfile renames the user.
func (s *Service) UpdateProfile(ctx context.Context, userID, nom string) (Profile, error) {
	u, err := s.currentUser(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	trimmed := strings.TrimSpace(nom)
	if trimmed == "" {
		return Profile{}, common.NewAppError("VALIDATION_ERROR", "nom is required", httpStatusBadRequest, nil)
	}
	updated, err := s.queries.UpdateUserProfile(ctx, store.UpdateUserProfileParams{
		ID:  u.ID,
		Nom: store.TextValue(trimmed),
	})
	if err != nil {
		return Profile{}, err
	}
	return convertProfile(updated), nil
}

// ChangePassword verifies the current password before setting the new one.
// All sessions are revoked so other devices must log in again.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	u, err := s.currentUser(ctx, userID)
	if err != nil {
		return err
	}
	ok, err := argon2id.ComparePasswordAndHash(current, u.PasswordHash)
	if err != nil || !ok {
		return common.NewAppError("INVALID_CREDENTIALS", "current password is incorrect", httpStatusUnauthorized, nil)
	}
	if len(next) < 8 {
		return common.NewAppError("WEAK_PASSWORD", "password must be at least 8 characters", httpStatusBadRequest, nil)
	}
	hash, err := argon2id.CreateHash(next, argon2id.DefaultParams)
	if err != nil {
		return err
	}
	if err := s.queries.UpdateUserPassword(ctx, store.UpdateUserPasswordParams{ID: u.ID, PasswordHash: hash}); err != nil {
		return err
	}
	return s.queries.RevokeUserSessions(ctx, u.ID)
}

func (s *Service) currentUser(ctx context.Context, userID string) (store.User, error) {
	if strings.TrimSpace(userID) == "" {
		return store.User{}, unauthorized()
	}
	id, err := store.UUIDValue(userID)
	if err != nil {
		return store.User{}, unauthorized()
	}
	u, err := s.queries.GetUser(ctx, id)
	if err != nil {
		return store.User{}, unauthorized()
	}
	return u, nil
}

func unauthorized() *common.AppError {
	return common.NewAppError("UNAUTHORIZED", "missing or invalid token", httpStatusUnauthorized, nil)
}

func convertProfile(u store.User) Profile {
	return Profile{
		ID:        store.UUIDString(u.ID),
		Email:     u.Email,
		Nom:       store.TextString(u.Nom),
		Role:      u.Role,
		CreatedAt: timeFrom(u.CreatedAt),
		UpdatedAt: timeFrom(u.UpdatedAt),
	}
}

func timeFrom(ts pgtype.Timestamptz) time.Time {
	if !ts.Valid {
		return time.Time{}
	}
	return ts.Time
}
