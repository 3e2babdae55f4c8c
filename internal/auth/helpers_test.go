package auth_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/require"

	"github.com/technoprod/backend-gestion/internal/auth"
	"github.com/technoprod/backend-gestion/internal/store"
	"github.com/technoprod/backend-gestion/internal/tenant"
)

type fakeQueries struct {
	mu           sync.Mutex
	now          func() time.Time
	usersByID    map[string]store.User
	sessionsByID map[string]store.Session
	resetsByID   map[string]store.PasswordReset
}

func newFakeQueries(now func() time.Time) *fakeQueries {
	return &fakeQueries{
		now:          now,
		usersByID:    make(map[string]store.User),
		sessionsByID: make(map[string]store.Session),
		resetsByID:   make(map[string]store.PasswordReset),
	}
}

func (f *fakeQueries) CreateUser(_ context.Context, arg store.CreateUserParams) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.usersByID {
		if u.SocieteID == arg.SocieteID && strings.EqualFold(u.Email, arg.Email) {
			return store.User{}, &pgconn.PgError{Code: "23505"}
		}
	}
	now := f.now()
	user := store.User{
		ID:           arg.ID,
		SocieteID:    arg.SocieteID,
		Email:        arg.Email,
		PasswordHash: arg.PasswordHash,
		Nom:          arg.Nom,
		Role:         arg.Role,
		CreatedAt:    store.TimestamptzValue(now),
		UpdatedAt:    store.TimestamptzValue(now),
	}
	f.usersByID[store.UUIDString(arg.ID)] = user
	return user, nil
}

func (f *fakeQueries) GetUserByEmail(_ context.Context, arg store.GetUserByEmailParams) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.usersByID {
		if u.SocieteID == arg.SocieteID && strings.EqualFold(u.Email, arg.Email) {
			return u, nil
		}
	}
	return store.User{}, fmt.Errorf("user not found")
}

func (f *fakeQueries) GetUser(_ context.Context, id pgtype.UUID) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.usersByID[store.UUIDString(id)]
	if !ok {
		return store.User{}, fmt.Errorf("user not found")
	}
	return user, nil
}

func (f *fakeQueries) UpdateUserPassword(_ context.Context, arg store.UpdateUserPasswordParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := store.UUIDString(arg.ID)
	user, ok := f.usersByID[key]
	if !ok {
		return fmt.Errorf("user not found")
	}
	user.PasswordHash = arg.PasswordHash
	user.UpdatedAt = store.TimestamptzValue(f.now())
	f.usersByID[key] = user
	return nil
}

func (f *fakeQueries) CreateSession(_ context.Context, arg store.CreateSessionParams) (store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session := store.Session{
		ID:               arg.ID,
		UserID:           arg.UserID,
		RefreshTokenHash: arg.RefreshTokenHash,
		ExpiresAt:        arg.ExpiresAt,
		CreatedAt:        store.TimestamptzValue(f.now()),
	}
	f.sessionsByID[store.UUIDString(arg.ID)] = session
	return session, nil
}

func (f *fakeQueries) GetSessionByTokenHash(_ context.Context, tokenHash string) (store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessionsByID {
		if s.RefreshTokenHash != tokenHash {
			continue
		}
		if s.RevokedAt.Valid || !s.ExpiresAt.Valid || f.now().After(s.ExpiresAt.Time) {
			return store.Session{}, fmt.Errorf("session not found")
		}
		return s, nil
	}
	return store.Session{}, fmt.Errorf("session not found")
}

func (f *fakeQueries) RevokeSession(_ context.Context, id pgtype.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := store.UUIDString(id)
	session, ok := f.sessionsByID[key]
	if !ok {
		return nil
	}
	if !session.RevokedAt.Valid {
		session.RevokedAt = store.TimestamptzValue(f.now())
		f.sessionsByID[key] = session
	}
	return nil
}

func (f *fakeQueries) RevokeUserSessions(_ context.Context, userID pgtype.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, session := range f.sessionsByID {
		if session.UserID == userID && !session.RevokedAt.Valid {
			session.RevokedAt = store.TimestamptzValue(f.now())
			f.sessionsByID[key] = session
		}
	}
	return nil
}

func (f *fakeQueries) CreatePasswordReset(_ context.Context, arg store.CreatePasswordResetParams) (store.PasswordReset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reset := store.PasswordReset{
		ID:        arg.ID,
		UserID:    arg.UserID,
		TokenHash: arg.TokenHash,
		ExpiresAt: arg.ExpiresAt,
		CreatedAt: store.TimestamptzValue(f.now()),
	}
	f.resetsByID[store.UUIDString(arg.ID)] = reset
	return reset, nil
}

func (f *fakeQueries) GetPasswordResetByTokenHash(_ context.Context, tokenHash string) (store.PasswordReset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, reset := range f.resetsByID {
		if reset.TokenHash != tokenHash {
			continue
		}
		if reset.UsedAt.Valid || !reset.ExpiresAt.Valid || f.now().After(reset.ExpiresAt.Time) {
			return store.PasswordReset{}, fmt.Errorf("reset not found")
		}
		return reset, nil
	}
	return store.PasswordReset{}, fmt.Errorf("reset not found")
}

func (f *fakeQueries) MarkPasswordResetUsed(_ context.Context, id pgtype.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := store.UUIDString(id)
	reset, ok := f.resetsByID[key]
	if !ok {
		return fmt.Errorf("reset not found")
	}
	reset.UsedAt = store.TimestamptzValue(f.now())
	f.resetsByID[key] = reset
	return nil
}

func (f *fakeQueries) liveSessionCount(userID pgtype.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, session := range f.sessionsByID {
		if session.UserID == userID && !session.RevokedAt.Valid {
			count++
		}
	}
	return count
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestService(t *testing.T) (*auth.Service, *fakeQueries, *testClock, context.Context) {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)}
	queries := newFakeQueries(clock.Now)
	svc, err := auth.NewService(auth.Config{
		Queries:          queries,
		Secret:           "test-secret-test-secret",
		AccessTokenTTL:   15 * time.Minute,
		RefreshTokenTTL:  24 * time.Hour,
		ResetTokenTTL:    time.Hour,
		Issuer:           "backend-gestion",
		Audience:         "gestion-frontend",
		ExposeResetToken: true,
	})
	require.NoError(t, err)
	svc.WithNow(clock.Now)
	ctx := tenant.With(context.Background(), store.UUIDString(store.NewUUID()))
	return svc, queries, clock, ctx
}

func parseUserID(id string) (pgtype.UUID, error) {
	return store.UUIDValue(id)
}

func mustRegister(t *testing.T, svc *auth.Service, ctx context.Context, email, password, role string) auth.User {
	t.Helper()
	user, err := svc.Register(ctx, "Jean Test", email, password, role)
	require.NoError(t, err)
	return user
}
