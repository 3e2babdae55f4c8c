package commande_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/technoprod/backend-gestion/internal/commande"
	"github.com/technoprod/backend-gestion/internal/common"
	"github.com/technoprod/backend-gestion/internal/store"
	"github.com/technoprod/backend-gestion/internal/tenant"
)

// fakeStore implements commande.Querier and commande.TxRunner in memory.
type fakeStore struct {
	commandes map[string]store.Commande
	factures  map[string]store.Facture
	events    []store.Event
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		commandes: map[string]store.Commande{},
		factures:  map[string]store.Facture{},
	}
}

func key(id pgtype.UUID) string { return store.UUIDString(id) }

func (f *fakeStore) RunTx(_ context.Context, fn func(q commande.Querier) error) error {
	return fn(f)
}

func (f *fakeStore) GetCommande(_ context.Context, arg store.GetCommandeParams) (store.Commande, error) {
	c, ok := f.commandes[key(arg.ID)]
	if !ok || key(c.SocieteID) != key(arg.SocieteID) {
		return store.Commande{}, pgx.ErrNoRows
	}
	return c, nil
}

func (f *fakeStore) GetCommandeForUpdate(ctx context.Context, arg store.GetCommandeParams) (store.Commande, error) {
	return f.GetCommande(ctx, arg)
}

func (f *fakeStore) ListCommandes(_ context.Context, arg store.ListCommandesParams) ([]store.Commande, error) {
	var out []store.Commande
	for _, c := range f.commandes {
		if key(c.SocieteID) == key(arg.SocieteID) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) CountCommandes(_ context.Context, societeID pgtype.UUID) (int64, error) {
	var n int64
	for _, c := range f.commandes {
		if key(c.SocieteID) == key(societeID) {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) SetCommandeFacture(_ context.Context, arg store.SetCommandeFactureParams) error {
	c, ok := f.commandes[key(arg.ID)]
	if !ok {
		return pgx.ErrNoRows
	}
	c.FactureID = arg.FactureID
	f.commandes[key(arg.ID)] = c
	return nil
}

func (f *fakeStore) CreateFacture(_ context.Context, arg store.CreateFactureParams) (store.Facture, error) {
	fac := store.Facture{
		ID:             arg.ID,
		SocieteID:      arg.SocieteID,
		ClientID:       arg.ClientID,
		CommandeID:     arg.CommandeID,
		Numero:         arg.Numero,
		Status:         "emise",
		TotalHT:        arg.TotalHT,
		TotalTVA:       arg.TotalTVA,
		TotalTTC:       arg.TotalTTC,
		LignesSnapshot: arg.LignesSnapshot,
	}
	f.factures[key(arg.ID)] = fac
	return fac, nil
}

func (f *fakeStore) InsertEvent(_ context.Context, arg store.InsertEventParams) (store.Event, error) {
	e := store.Event{ID: arg.ID, SocieteID: arg.SocieteID, Type: arg.Type, AggregateID: arg.AggregateID, Payload: arg.Payload}
	f.events = append(f.events, e)
	return e, nil
}

func num(s string) pgtype.Numeric {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return store.NumericFromDecimal(d)
}

func seedCommande(f *fakeStore) (context.Context, string) {
	societe := store.NewUUID()
	id := store.NewUUID()
	f.commandes[key(id)] = store.Commande{
		ID:             id,
		SocieteID:      societe,
		ClientID:       store.NewUUID(),
		DevisID:        store.NewUUID(),
		Numero:         "CMD-2026-0007",
		Status:         "en_cours",
		TotalHT:        num("180.00"),
		TotalTVA:       num("36.00"),
		TotalTTC:       num("216.00"),
		LignesSnapshot: []byte(`[{"type":"produit","designation":"Pose cloison"}]`),
	}
	return tenant.With(context.Background(), store.UUIDString(societe)), store.UUIDString(id)
}

func requireAppError(t *testing.T, err error, status int, code string) {
	t.Helper()
	require.Error(t, err)
	appErr, ok := err.(*common.AppError)
	require.True(t, ok, "expected AppError, got %T: %v", err, err)
	require.Equal(t, status, appErr.HTTPStatus)
	require.Equal(t, code, appErr.Code)
}

func TestConvertToFacture(t *testing.T) {
	f := newFakeStore()
	ctx, id := seedCommande(f)
	svc := &commande.Service{DB: f, Q: f}

	ref, err := svc.ConvertToFacture(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "FAC-2026-0007", ref.Numero)

	c, err := svc.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, ref.ID, c.FactureID)

	fac := f.factures[ref.ID]
	require.Equal(t, "180.00", store.DecimalFromNumeric(fac.TotalHT).StringFixed(2))
	require.Equal(t, "216.00", store.DecimalFromNumeric(fac.TotalTTC).StringFixed(2))
	require.JSONEq(t, `[{"type":"produit","designation":"Pose cloison"}]`, string(fac.LignesSnapshot))

	require.Len(t, f.events, 1)
	require.Equal(t, "commande.facturee", f.events[0].Type)
}

func TestConvertToFactureIsOnce(t *testing.T) {
	f := newFakeStore()
	ctx, id := seedCommande(f)
	svc := &commande.Service{DB: f, Q: f}

	_, err := svc.ConvertToFacture(ctx, id)
	require.NoError(t, err)

	_, err = svc.ConvertToFacture(ctx, id)
	requireAppError(t, err, http.StatusConflict, "CONFLICT")
	require.Len(t, f.factures, 1)
}

func TestCommandeTenantIsolation(t *testing.T) {
	f := newFakeStore()
	_, id := seedCommande(f)
	svc := &commande.Service{DB: f, Q: f}

	otherCtx := tenant.With(context.Background(), store.UUIDString(store.NewUUID()))
	_, err := svc.Get(otherCtx, id)
	requireAppError(t, err, http.StatusNotFound, "NOT_FOUND")

	_, err = svc.ConvertToFacture(otherCtx, id)
	requireAppError(t, err, http.StatusNotFound, "NOT_FOUND")

	_, err = svc.Get(context.Background(), id)
	requireAppError(t, err, http.StatusBadRequest, "SOCIETE_REQUIRED")
}

func TestCommandeList(t *testing.T) {
	f := newFakeStore()
	ctx, _ := seedCommande(f)
	svc := &commande.Service{DB: f, Q: f}

	rows, total, err := svc.List(ctx, 1, 20)
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.Len(t, rows, 1)
	require.Equal(t, "CMD-2026-0007", rows[0].Numero)
	require.Empty(t, rows[0].Lignes, "list omits the snapshot")
}
