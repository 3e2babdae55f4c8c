package client_test

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/require"

	"github.com/technoprod/backend-gestion/internal/audit"
	"github.com/technoprod/backend-gestion/internal/client"
	"github.com/technoprod/backend-gestion/internal/common"
	"github.com/technoprod/backend-gestion/internal/store"
	"github.com/technoprod/backend-gestion/internal/tenant"
)

type stubQueries struct {
	clients map[string]store.Client
	audits  []store.InsertAuditEntryParams
}

func key(id pgtype.UUID) string { return store.UUIDString(id) }

func (s *stubQueries) CreateClient(_ context.Context, arg store.CreateClientParams) (store.Client, error) {
	c := store.Client{
		ID:            arg.ID,
		SocieteID:     arg.SocieteID,
		Kind:          arg.Kind,
		RaisonSociale: arg.RaisonSociale,
		ContactNom:    arg.ContactNom,
		Email:         arg.Email,
		Telephone:     arg.Telephone,
		Adresse:       arg.Adresse,
		CodePostal:    arg.CodePostal,
		Ville:         arg.Ville,
		Pays:          arg.Pays,
	}
	s.clients[key(arg.ID)] = c
	return c, nil
}

func (s *stubQueries) GetClient(_ context.Context, arg store.GetClientParams) (store.Client, error) {
	c, ok := s.clients[key(arg.ID)]
	if !ok || key(c.SocieteID) != key(arg.SocieteID) {
		return store.Client{}, pgx.ErrNoRows
	}
	return c, nil
}

func (s *stubQueries) ListClients(_ context.Context, arg store.ListClientsParams) ([]store.Client, error) {
	var out []store.Client
	for _, c := range s.clients {
		if key(c.SocieteID) != key(arg.SocieteID) {
			continue
		}
		if arg.Kind.Valid && c.Kind != arg.Kind.String {
			continue
		}
		if arg.Search.Valid {
			q := strings.ToLower(arg.Search.String)
			if !strings.Contains(strings.ToLower(c.RaisonSociale), q) && !strings.Contains(strings.ToLower(store.TextString(c.Email)), q) {
				continue
			}
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *stubQueries) CountClients(ctx context.Context, arg store.CountClientsParams) (int64, error) {
	rows, _ := s.ListClients(ctx, store.ListClientsParams{SocieteID: arg.SocieteID, Kind: arg.Kind, Search: arg.Search, Limit: 1 << 30})
	return int64(len(rows)), nil
}

func (s *stubQueries) UpdateClient(_ context.Context, arg store.UpdateClientParams) (store.Client, error) {
	c, ok := s.clients[key(arg.ID)]
	if !ok || key(c.SocieteID) != key(arg.SocieteID) {
		return store.Client{}, pgx.ErrNoRows
	}
	c.Kind = arg.Kind
	c.RaisonSociale = arg.RaisonSociale
	c.ContactNom = arg.ContactNom
	c.Email = arg.Email
	c.Telephone = arg.Telephone
	c.Adresse = arg.Adresse
	c.CodePostal = arg.CodePostal
	c.Ville = arg.Ville
	c.Pays = arg.Pays
	s.clients[key(arg.ID)] = c
	return c, nil
}

func (s *stubQueries) UpdateClientConsent(_ context.Context, arg store.UpdateClientConsentParams) (store.Client, error) {
	c, ok := s.clients[key(arg.ID)]
	if !ok || key(c.SocieteID) != key(arg.SocieteID) {
		return store.Client{}, pgx.ErrNoRows
	}
	c.ConsentEmail = arg.ConsentEmail
	c.ConsentEmailAt = arg.ConsentEmailAt
	c.ConsentTelephone = arg.ConsentTelephone
	c.ConsentTelephoneAt = arg.ConsentTelephoneAt
	s.clients[key(arg.ID)] = c
	return c, nil
}

func (s *stubQueries) DeleteClient(_ context.Context, arg store.GetClientParams) (int64, error) {
	c, ok := s.clients[key(arg.ID)]
	if !ok || key(c.SocieteID) != key(arg.SocieteID) {
		return 0, nil
	}
	delete(s.clients, key(arg.ID))
	return 1, nil
}

func (s *stubQueries) InsertAuditEntry(_ context.Context, arg store.InsertAuditEntryParams) error {
	s.audits = append(s.audits, arg)
	return nil
}

func (s *stubQueries) ListAuditEntries(_ context.Context, _ store.ListAuditEntriesParams) ([]store.AuditEntry, error) {
	return nil, nil
}

var fixedNow = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, stub *stubQueries) *client.Service {
	t.Helper()
	svc, err := client.NewService(client.ServiceConfig{
		Queries: stub,
		Audit:   audit.Service{Store: stub, Enabled: true},
		Now:     func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return svc
}

func seed(t *testing.T, stub *stubQueries) (context.Context, string) {
	t.Helper()
	societe := store.NewUUID()
	ctx := tenant.With(context.Background(), store.UUIDString(societe))
	svc := newTestService(t, stub)
	c, err := svc.Create(ctx, client.Input{
		Kind:          "prospect",
		RaisonSociale: "ACME SARL",
		Email:         "Contact@Acme.FR",
	})
	require.NoError(t, err)
	require.Equal(t, "contact@acme.fr", c.Email, "emails are normalised")
	return ctx, c.ID
}

func requireAppError(t *testing.T, err error, status int, code string) {
	t.Helper()
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, status, appErr.HTTPStatus)
	require.Equal(t, code, appErr.Code)
}

func TestConsentUpdateStampsAndAudits(t *testing.T) {
	stub := &stubQueries{clients: map[string]store.Client{}}
	ctx, id := seed(t, stub)
	svc := newTestService(t, stub)

	yes := true
	c, err := svc.UpdateConsent(ctx, id, client.ConsentInput{ConsentEmail: &yes}, audit.Actor{Kind: audit.ActorKindUser})
	require.NoError(t, err)
	require.True(t, c.ConsentEmail)
	require.NotNil(t, c.ConsentEmailAt)
	require.Equal(t, fixedNow, *c.ConsentEmailAt)
	require.False(t, c.ConsentTelephone)
	require.Nil(t, c.ConsentTelephoneAt)

	require.Len(t, stub.audits, 1)
	require.Equal(t, "client.consent_updated", stub.audits[0].Action)
	require.Equal(t, "client", stub.audits[0].Entity)
}

func TestConsentNoopDoesNotAudit(t *testing.T) {
	stub := &stubQueries{clients: map[string]store.Client{}}
	ctx, id := seed(t, stub)
	svc := newTestService(t, stub)

	no := false
	_, err := svc.UpdateConsent(ctx, id, client.ConsentInput{ConsentEmail: &no}, audit.Actor{})
	require.NoError(t, err)
	require.Empty(t, stub.audits, "unchanged flag should not be audited")

	_, err = svc.UpdateConsent(ctx, id, client.ConsentInput{}, audit.Actor{})
	requireAppError(t, err, http.StatusBadRequest, "BAD_REQUEST")
}

func TestValidation(t *testing.T) {
	stub := &stubQueries{clients: map[string]store.Client{}}
	ctx, _ := seed(t, stub)
	svc := newTestService(t, stub)

	cases := []client.Input{
		{Kind: "fournisseur", RaisonSociale: "X"},
		{Kind: "client"},
		{Kind: "client", RaisonSociale: "X", Email: "not-an-email"},
	}
	for _, input := range cases {
		_, err := svc.Create(ctx, input)
		requireAppError(t, err, http.StatusBadRequest, "VALIDATION_ERROR")
	}
}

func TestSearchAndKindFilter(t *testing.T) {
	stub := &stubQueries{clients: map[string]store.Client{}}
	ctx, _ := seed(t, stub)
	svc := newTestService(t, stub)

	_, err := svc.Create(ctx, client.Input{Kind: "client", RaisonSociale: "Batimex"})
	require.NoError(t, err)

	result, err := svc.List(ctx, client.ListParams{Kind: "prospect"})
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	require.Equal(t, "ACME SARL", result.Items[0].RaisonSociale)

	result, err = svc.List(ctx, client.ListParams{Search: "batim"})
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	require.Equal(t, "Batimex", result.Items[0].RaisonSociale)

	_, err = svc.List(ctx, client.ListParams{Kind: "fournisseur"})
	requireAppError(t, err, http.StatusBadRequest, "BAD_REQUEST")
}

func TestClientTenantIsolation(t *testing.T) {
	stub := &stubQueries{clients: map[string]store.Client{}}
	_, id := seed(t, stub)
	svc := newTestService(t, stub)

	otherCtx := tenant.With(context.Background(), store.UUIDString(store.NewUUID()))
	_, err := svc.Get(otherCtx, id)
	requireAppError(t, err, http.StatusNotFound, "NOT_FOUND")

	err = svc.Delete(otherCtx, id)
	requireAppError(t, err, http.StatusNotFound, "NOT_FOUND")
	require.Len(t, stub.clients, 1)
}
