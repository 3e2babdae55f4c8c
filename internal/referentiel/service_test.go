package referentiel_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/require"

	"github.com/technoprod/backend-gestion/internal/audit"
	"github.com/technoprod/backend-gestion/internal/common"
	"github.com/technoprod/backend-gestion/internal/referentiel"
	"github.com/technoprod/backend-gestion/internal/store"
	"github.com/technoprod/backend-gestion/internal/tenant"
)

type stubQueries struct {
	entries map[string]store.ReferentielEntry
	audits  []store.InsertAuditEntryParams
}

func key(id pgtype.UUID) string { return store.UUIDString(id) }

func (s *stubQueries) CreateReferentielEntry(_ context.Context, arg store.CreateReferentielEntryParams) (store.ReferentielEntry, error) {
	for _, e := range s.entries {
		if key(e.SocieteID) == key(arg.SocieteID) && e.Kind == arg.Kind && e.Code == arg.Code {
			return store.ReferentielEntry{}, &pgconn.PgError{Code: "23505"}
		}
	}
	e := store.ReferentielEntry{
		ID:        arg.ID,
		SocieteID: arg.SocieteID,
		Kind:      arg.Kind,
		Code:      arg.Code,
		Libelle:   arg.Libelle,
		Valeur:    arg.Valeur,
		Actif:     true,
	}
	s.entries[key(arg.ID)] = e
	return e, nil
}

func (s *stubQueries) GetReferentielEntry(_ context.Context, arg store.GetReferentielEntryParams) (store.ReferentielEntry, error) {
	e, ok := s.entries[key(arg.ID)]
	if !ok || key(e.SocieteID) != key(arg.SocieteID) {
		return store.ReferentielEntry{}, pgx.ErrNoRows
	}
	return e, nil
}

func (s *stubQueries) ListReferentielEntries(_ context.Context, arg store.ListReferentielEntriesParams) ([]store.ReferentielEntry, error) {
	var out []store.ReferentielEntry
	for _, e := range s.entries {
		if key(e.SocieteID) == key(arg.SocieteID) && e.Kind == arg.Kind {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *stubQueries) UpdateReferentielEntry(_ context.Context, arg store.UpdateReferentielEntryParams) (store.ReferentielEntry, error) {
	e, ok := s.entries[key(arg.ID)]
	if !ok || key(e.SocieteID) != key(arg.SocieteID) {
		return store.ReferentielEntry{}, pgx.ErrNoRows
	}
	e.Code = arg.Code
	e.Libelle = arg.Libelle
	e.Valeur = arg.Valeur
	e.Actif = arg.Actif
	s.entries[key(arg.ID)] = e
	return e, nil
}

func (s *stubQueries) DeleteReferentielEntry(_ context.Context, arg store.GetReferentielEntryParams) (int64, error) {
	e, ok := s.entries[key(arg.ID)]
	if !ok || key(e.SocieteID) != key(arg.SocieteID) {
		return 0, nil
	}
	delete(s.entries, key(arg.ID))
	return 1, nil
}

func (s *stubQueries) InsertAuditEntry(_ context.Context, arg store.InsertAuditEntryParams) error {
	s.audits = append(s.audits, arg)
	return nil
}

func (s *stubQueries) ListAuditEntries(_ context.Context, _ store.ListAuditEntriesParams) ([]store.AuditEntry, error) {
	return nil, nil
}

func newTestService(t *testing.T, stub *stubQueries) *referentiel.Service {
	t.Helper()
	svc, err := referentiel.NewService(referentiel.ServiceConfig{
		Queries: stub,
		Audit:   audit.Service{Store: stub, Enabled: true},
	})
	require.NoError(t, err)
	return svc
}

func requireAppError(t *testing.T, err error, status int, code string) {
	t.Helper()
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, status, appErr.HTTPStatus)
	require.Equal(t, code, appErr.Code)
}

func TestKindIsDiscriminating(t *testing.T) {
	stub := &stubQueries{entries: map[string]store.ReferentielEntry{}}
	svc := newTestService(t, stub)
	ctx := tenant.With(context.Background(), store.UUIDString(store.NewUUID()))

	entry, err := svc.Create(ctx, "mode_reglement", referentiel.Input{Code: "VIR", Libelle: "Virement"}, audit.Actor{})
	require.NoError(t, err)
	require.Equal(t, "mode_reglement", entry.Kind)

	// same id under another kind is invisible
	_, err = svc.Update(ctx, "banque", entry.ID, referentiel.Input{Code: "VIR", Libelle: "x"}, audit.Actor{})
	requireAppError(t, err, http.StatusNotFound, "NOT_FOUND")

	err = svc.Delete(ctx, "taux_tva", entry.ID, audit.Actor{})
	requireAppError(t, err, http.StatusNotFound, "NOT_FOUND")

	_, err = svc.List(ctx, "not_a_kind")
	requireAppError(t, err, http.StatusBadRequest, "BAD_REQUEST")
}

func TestDuplicateCodeIsConflict(t *testing.T) {
	stub := &stubQueries{entries: map[string]store.ReferentielEntry{}}
	svc := newTestService(t, stub)
	ctx := tenant.With(context.Background(), store.UUIDString(store.NewUUID()))

	_, err := svc.Create(ctx, "taux_tva", referentiel.Input{Code: "TVA20", Libelle: "20%", Valeur: "20"}, audit.Actor{})
	require.NoError(t, err)
	_, err = svc.Create(ctx, "taux_tva", referentiel.Input{Code: "TVA20", Libelle: "doublon"}, audit.Actor{})
	requireAppError(t, err, http.StatusConflict, "CONFLICT")
}

func TestCRUDAudits(t *testing.T) {
	stub := &stubQueries{entries: map[string]store.ReferentielEntry{}}
	svc := newTestService(t, stub)
	ctx := tenant.With(context.Background(), store.UUIDString(store.NewUUID()))

	entry, err := svc.Create(ctx, "banque", referentiel.Input{Code: "BNP", Libelle: "BNP Paribas"}, audit.Actor{Kind: audit.ActorKindUser})
	require.NoError(t, err)

	inactive := false
	_, err = svc.Update(ctx, "banque", entry.ID, referentiel.Input{Code: "BNP", Libelle: "BNP", Actif: &inactive}, audit.Actor{})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, "banque", entry.ID, audit.Actor{}))

	require.Len(t, stub.audits, 3)
	require.Equal(t, "referentiel.created", stub.audits[0].Action)
	require.Equal(t, "referentiel.updated", stub.audits[1].Action)
	require.Equal(t, "referentiel.deleted", stub.audits[2].Action)
	require.Equal(t, "banque", stub.audits[0].Entity)
}
