package user_test

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/require"

	"github.com/technoprod/backend-gestion/internal/common"
	"github.com/technoprod/backend-gestion/internal/store"
	"github.com/technoprod/backend-gestion/internal/user"
)

type stubQueries struct {
	users          map[string]store.User
	revokedUserIDs []string
}

func (s *stubQueries) GetUser(_ context.Context, id pgtype.UUID) (store.User, error) {
	u, ok := s.users[store.UUIDString(id)]
	if !ok {
		return store.User{}, fmt.Errorf("user not found")
	}
	return u, nil
}

func (s *stubQueries) UpdateUserProfile(_ context.Context, arg store.UpdateUserProfileParams) (store.User, error) {
	key := store.UUIDString(arg.ID)
	u, ok := s.users[key]
	if !ok {
		return store.User{}, fmt.Errorf("user not found")
	}
	u.Nom = arg.Nom
	u.UpdatedAt = store.TimestamptzValue(time.Now())
	s.users[key] = u
	return u, nil
}

func (s *stubQueries) UpdateUserPassword(_ context.Context, arg store.UpdateUserPasswordParams) error {
	key := store.UUIDString(arg.ID)
	u, ok := s.users[key]
	if !ok {
		return fmt.Errorf("user not found")
	}
	u.PasswordHash = arg.PasswordHash
	s.users[key] = u
	return nil
}

func (s *stubQueries) RevokeUserSessions(_ context.Context, userID pgtype.UUID) error {
	s.revokedUserIDs = append(s.revokedUserIDs, store.UUIDString(userID))
	return nil
}

func seedUser(t *testing.T, stub *stubQueries, password string) store.User {
	t.Helper()
	hash, err := argon2id.CreateHash(password, argon2id.DefaultParams)
	require.NoError(t, err)
	u := store.User{
		ID:           store.NewUUID(),
		SocieteID:    store.NewUUID(),
		Email:        "jean@acme.fr",
		PasswordHash: hash,
		Nom:          store.TextValue("Jean Test"),
		Role:         "utilisateur",
		CreatedAt:    store.TimestamptzValue(time.Now()),
		UpdatedAt:    store.TimestamptzValue(time.Now()),
	}
	stub.users[store.UUIDString(u.ID)] = u
	return u
}

func TestGetAndUpdateProfile(t *testing.T) {
	stub := &stubQueries{users: map[string]store.User{}}
	seeded := seedUser(t, stub, "motdepasse")
	svc := user.NewService(stub)
	ctx := context.Background()

	profile, err := svc.Get(ctx, store.UUIDString(seeded.ID))
	require.NoError(t, err)
	require.Equal(t, "jean@acme.fr", profile.Email)
	require.Equal(t, "Jean Test", profile.Nom)

	updated, err := svc.UpdateProfile(ctx, store.UUIDString(seeded.ID), "  Jean Renomme  ")
	require.NoError(t, err)
	require.Equal(t, "Jean Renomme", updated.Nom)

	_, err = svc.UpdateProfile(ctx, store.UUIDString(seeded.ID), "   ")
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "VALIDATION_ERROR", appErr.Code)
}

func TestChangePassword(t *testing.T) {
	stub := &stubQueries{users: map[string]store.User{}}
	seeded := seedUser(t, stub, "motdepasse")
	svc := user.NewService(stub)
	ctx := context.Background()
	id := store.UUIDString(seeded.ID)

	err := svc.ChangePassword(ctx, id, "mauvais", "nouveaumotdepasse")
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "INVALID_CREDENTIALS", appErr.Code)
	require.Equal(t, http.StatusUnauthorized, appErr.HTTPStatus)

	err = svc.ChangePassword(ctx, id, "motdepasse", "court")
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "WEAK_PASSWORD", appErr.Code)

	require.NoError(t, svc.ChangePassword(ctx, id, "motdepasse", "nouveaumotdepasse"))
	require.Equal(t, []string{id}, stub.revokedUserIDs)

	ok, err := argon2id.ComparePasswordAndHash("nouveaumotdepasse", stub.users[id].PasswordHash)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestUnknownUserIsUnauthorized(t *testing.T) {
	stub := &stubQueries{users: map[string]store.User{}}
	svc := user.NewService(stub)

	_, err := svc.Get(context.Background(), store.UUIDString(store.NewUUID()))
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "UNAUTHORIZED", appErr.Code)
}
