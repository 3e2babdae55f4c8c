package facture_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/technoprod/backend-gestion/internal/common"
	"github.com/technoprod/backend-gestion/internal/facture"
	"github.com/technoprod/backend-gestion/internal/store"
	"github.com/technoprod/backend-gestion/internal/tenant"
)

type stubQuerier struct {
	factures map[string]store.Facture
}

func key(id pgtype.UUID) string { return store.UUIDString(id) }

func (s *stubQuerier) GetFacture(_ context.Context, arg store.GetFactureParams) (store.Facture, error) {
	f, ok := s.factures[key(arg.ID)]
	if !ok || key(f.SocieteID) != key(arg.SocieteID) {
		return store.Facture{}, pgx.ErrNoRows
	}
	return f, nil
}

func (s *stubQuerier) ListFactures(_ context.Context, arg store.ListFacturesParams) ([]store.Facture, error) {
	var out []store.Facture
	for _, f := range s.factures {
		if key(f.SocieteID) == key(arg.SocieteID) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *stubQuerier) CountFactures(_ context.Context, societeID pgtype.UUID) (int64, error) {
	var n int64
	for _, f := range s.factures {
		if key(f.SocieteID) == key(societeID) {
			n++
		}
	}
	return n, nil
}

func num(s string) pgtype.Numeric {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return store.NumericFromDecimal(d)
}

func TestFactureGetAndList(t *testing.T) {
	societe := store.NewUUID()
	id := store.NewUUID()
	stub := &stubQuerier{factures: map[string]store.Facture{
		key(id): {
			ID:             id,
			SocieteID:      societe,
			ClientID:       store.NewUUID(),
			CommandeID:     store.NewUUID(),
			Numero:         "FAC-2026-0007",
			Status:         "emise",
			TotalHT:        num("180.00"),
			TotalTVA:       num("36.00"),
			TotalTTC:       num("216.00"),
			LignesSnapshot: []byte(`[{"designation":"Pose cloison"}]`),
		},
	}}
	svc := &facture.Service{Q: stub}
	ctx := tenant.With(context.Background(), store.UUIDString(societe))

	f, err := svc.Get(ctx, store.UUIDString(id))
	require.NoError(t, err)
	require.Equal(t, "FAC-2026-0007", f.Numero)
	require.Equal(t, "216.00", f.TotalTTC)
	require.NotEmpty(t, f.Lignes)

	rows, total, err := svc.List(ctx, 1, 20)
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.Len(t, rows, 1)
	require.Empty(t, rows[0].Lignes)

	otherCtx := tenant.With(context.Background(), store.UUIDString(store.NewUUID()))
	_, err = svc.Get(otherCtx, store.UUIDString(id))
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, http.StatusNotFound, appErr.HTTPStatus)
}
