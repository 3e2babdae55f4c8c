package devis_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/technoprod/backend-gestion/internal/devis"
)

func newTestRouter(h *devis.Handler) http.Handler {
	r := chi.NewRouter()
	r.Route("/api/v1/devis/{devisID}", func(r chi.Router) {
		r.Route("/element", func(r chi.Router) {
			r.Get("/", h.ListElementsHandler)
			r.Post("/", h.CreateElement)
			r.Post("/reorder", h.ReorderElements)
			r.Get("/subtotal/{position}", h.SubtotalHandler)
			r.Put("/{elementID}", h.UpdateElement)
			r.Delete("/{elementID}", h.DeleteElement)
		})
		r.Route("/items", func(r chi.Router) {
			r.Post("/add", h.AddItem)
			r.Post("/reorder", h.ReorderItems)
			r.Put("/{itemID}/update", h.UpdateItem)
			r.Delete("/{itemID}/delete", h.DeleteItem)
		})
	})
	return r
}

func TestElementEndpoints(t *testing.T) {
	f := newFakeStore()
	ctx, devisID := seedDevis(t, f)
	handler := &devis.Handler{Service: newTestService(f)}
	router := newTestRouter(handler)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		var req *http.Request
		if body == "" {
			req = httptest.NewRequest(method, path, nil)
		} else {
			req = httptest.NewRequest(method, path, strings.NewReader(body))
		}
		req = req.WithContext(ctx)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	t.Run("create element", func(t *testing.T) {
		rec := do(http.MethodPost, "/api/v1/devis/"+devisID+"/element",
			`{"type":"produit","designation":"Pose cloison","quantite":2,"prix_unitaire":100,"remise_pct":10,"taux_tva":20}`)
		require.Equal(t, http.StatusCreated, rec.Code)

		var resp struct {
			Success bool          `json:"success"`
			Element devis.Element `json:"element"`
			Message string        `json:"message"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.True(t, resp.Success)
		require.Equal(t, "180.00", resp.Element.TotalHT)
		require.Equal(t, "216.00", resp.Element.TotalTTC)
	})

	t.Run("list elements", func(t *testing.T) {
		rec := do(http.MethodGet, "/api/v1/devis/"+devisID+"/element", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Success  bool            `json:"success"`
			Elements []devis.Element `json:"elements"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.True(t, resp.Success)
		require.Len(t, resp.Elements, 1)
	})

	t.Run("subtotal", func(t *testing.T) {
		rec := do(http.MethodGet, "/api/v1/devis/"+devisID+"/element/subtotal/0", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, true, resp["success"])
		require.Equal(t, "180.00", resp["subtotal"])
		require.Equal(t, "180,00 €", resp["subtotal_formatted"])
	})

	t.Run("malformed body is 400", func(t *testing.T) {
		rec := do(http.MethodPost, "/api/v1/devis/"+devisID+"/element", `{"type":`)
		require.Equal(t, http.StatusBadRequest, rec.Code)

		var resp struct {
			Success bool   `json:"success"`
			Message string `json:"message"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.False(t, resp.Success)
	})

	t.Run("unknown devis is 404 failure envelope", func(t *testing.T) {
		rec := do(http.MethodGet, "/api/v1/devis/00000000-0000-0000-0000-000000000001/element", "")
		require.Equal(t, http.StatusNotFound, rec.Code)

		var resp struct {
			Success bool   `json:"success"`
			Message string `json:"message"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.False(t, resp.Success)
		require.Equal(t, "devis not found", resp.Message)
	})
}

func TestItemEndpointsEmbedDevisTotals(t *testing.T) {
	f := newFakeStore()
	ctx, devisID := seedDevis(t, f)
	handler := &devis.Handler{Service: newTestService(f)}
	router := newTestRouter(handler)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/devis/"+devisID+"/items/add",
		strings.NewReader(`{"type":"produit","designation":"Peinture","quantite":1,"prixUnitaire":50,"tauxTva":20}`))
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Success     bool `json:"success"`
		Item        struct {
			ID           string `json:"id"`
			PrixUnitaire string `json:"prixUnitaire"`
			TotalHT      string `json:"totalHt"`
		} `json:"item"`
		DevisTotals devis.Totals `json:"devisTotals"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.Equal(t, "50.00", resp.Item.PrixUnitaire)
	require.Equal(t, "50.00", resp.Item.TotalHT)
	require.Equal(t, "50.00", resp.DevisTotals.TotalHT)
	require.Equal(t, "10.00", resp.DevisTotals.TotalTVA)
	require.Equal(t, "60.00", resp.DevisTotals.TotalTTC)

	delReq := httptest.NewRequest(http.MethodDelete, "/api/v1/devis/"+devisID+"/items/"+resp.Item.ID+"/delete", nil)
	delReq = delReq.WithContext(ctx)
	delRec := httptest.NewRecorder()
	router.ServeHTTP(delRec, delReq)
	require.Equal(t, http.StatusOK, delRec.Code)

	var delResp struct {
		Success     bool         `json:"success"`
		DevisTotals devis.Totals `json:"devisTotals"`
	}
	require.NoError(t, json.Unmarshal(delRec.Body.Bytes(), &delResp))
	require.True(t, delResp.Success)
	require.Equal(t, "0.00", delResp.DevisTotals.TotalHT)
}
