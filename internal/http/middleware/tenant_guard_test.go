package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	gestionmw "github.com/technoprod/backend-gestion/internal/http/middleware"
	"github.com/technoprod/backend-gestion/internal/tenant"
)

func TestRequireSocieteRejectsWithoutTenant(t *testing.T) {
	handler := gestionmw.RequireSociete(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler should not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devis", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "SOCIETE_REQUIRED")
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestRequireSocietePassesWithTenant(t *testing.T) {
	called := false
	handler := gestionmw.RequireSociete(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		id, ok := tenant.From(r.Context())
		require.True(t, ok)
		require.Equal(t, "11111111-1111-1111-1111-111111111111", id)
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devis", nil)
	req = req.WithContext(tenant.With(req.Context(), "11111111-1111-1111-1111-111111111111"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.True(t, called)
	require.Equal(t, http.StatusNoContent, rec.Code)
}
