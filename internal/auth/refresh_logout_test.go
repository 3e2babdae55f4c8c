package auth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/technoprod/backend-gestion/internal/common"
)

func TestRefreshRotatesSession(t *testing.T) {
	svc, queries, _, ctx := newTestService(t)
	user := mustRegister(t, svc, ctx, "jean@acme.fr", "motdepasse", "")

	login, err := svc.Login(ctx, "jean@acme.fr", "motdepasse")
	require.NoError(t, err)

	refreshed, err := svc.Refresh(ctx, login.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, login.RefreshToken, refreshed.RefreshToken)

	claims, err := svc.ParseAccessToken(refreshed.AccessToken)
	require.NoError(t, err)
	require.Equal(t, user.ID, claims.UserID)

	// the old refresh token is dead after rotation
	_, err = svc.Refresh(ctx, login.RefreshToken)
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "UNAUTHORIZED", appErr.Code)

	id, err := parseUserID(user.ID)
	require.NoError(t, err)
	require.Equal(t, 1, queries.liveSessionCount(id))
}

func TestRefreshExpiredSession(t *testing.T) {
	svc, _, clock, ctx := newTestService(t)
	mustRegister(t, svc, ctx, "jean@acme.fr", "motdepasse", "")

	login, err := svc.Login(ctx, "jean@acme.fr", "motdepasse")
	require.NoError(t, err)

	clock.Advance(25 * time.Hour)
	_, err = svc.Refresh(ctx, login.RefreshToken)
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "UNAUTHORIZED", appErr.Code)
}

func TestLogoutRevokesSession(t *testing.T) {
	svc, queries, _, ctx := newTestService(t)
	user := mustRegister(t, svc, ctx, "jean@acme.fr", "motdepasse", "")

	login, err := svc.Login(ctx, "jean@acme.fr", "motdepasse")
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, login.RefreshToken))

	id, err := parseUserID(user.ID)
	require.NoError(t, err)
	require.Equal(t, 0, queries.liveSessionCount(id))

	_, err = svc.Refresh(ctx, login.RefreshToken)
	require.Error(t, err)
}

func TestLogoutUnknownTokenIsNoop(t *testing.T) {
	svc, _, _, ctx := newTestService(t)
	require.NoError(t, svc.Logout(ctx, "jamais-vu"))
	require.NoError(t, svc.Logout(ctx, ""))
}
