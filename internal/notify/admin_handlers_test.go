package notify_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/require"

	"github.com/technoprod/backend-gestion/internal/events"
	"github.com/technoprod/backend-gestion/internal/notify"
	"github.com/technoprod/backend-gestion/internal/store"
	"github.com/technoprod/backend-gestion/internal/tenant"
)

type stubAdminStore struct {
	mu         sync.Mutex
	endpoints  map[string]store.WebhookEndpoint
	deliveries map[string]store.WebhookDelivery
}

func newStubAdminStore() *stubAdminStore {
	return &stubAdminStore{
		endpoints:  map[string]store.WebhookEndpoint{},
		deliveries: map[string]store.WebhookDelivery{},
	}
}

func (s *stubAdminStore) CreateWebhookEndpoint(_ context.Context, arg store.CreateWebhookEndpointParams) (store.WebhookEndpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep := store.WebhookEndpoint{
		ID:         arg.ID,
		SocieteID:  arg.SocieteID,
		URL:        arg.URL,
		Secret:     arg.Secret,
		EventTypes: arg.EventTypes,
		Actif:      true,
	}
	s.endpoints[store.UUIDString(ep.ID)] = ep
	return ep, nil
}

func (s *stubAdminStore) GetWebhookEndpoint(_ context.Context, arg store.GetWebhookEndpointParams) (store.WebhookEndpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.endpoints[store.UUIDString(arg.ID)]
	if !ok || ep.SocieteID != arg.SocieteID {
		return store.WebhookEndpoint{}, pgx.ErrNoRows
	}
	return ep, nil
}

func (s *stubAdminStore) ListWebhookEndpoints(_ context.Context, societeID pgtype.UUID) ([]store.WebhookEndpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.WebhookEndpoint
	for _, ep := range s.endpoints {
		if ep.SocieteID == societeID {
			out = append(out, ep)
		}
	}
	return out, nil
}

func (s *stubAdminStore) UpdateWebhookEndpoint(_ context.Context, arg store.UpdateWebhookEndpointParams) (store.WebhookEndpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.endpoints[store.UUIDString(arg.ID)]
	if !ok || ep.SocieteID != arg.SocieteID {
		return store.WebhookEndpoint{}, pgx.ErrNoRows
	}
	ep.URL = arg.URL
	ep.Secret = arg.Secret
	ep.EventTypes = arg.EventTypes
	ep.Actif = arg.Actif
	s.endpoints[store.UUIDString(arg.ID)] = ep
	return ep, nil
}

func (s *stubAdminStore) DeleteWebhookEndpoint(_ context.Context, arg store.GetWebhookEndpointParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.endpoints[store.UUIDString(arg.ID)]
	if !ok || ep.SocieteID != arg.SocieteID {
		return 0, nil
	}
	delete(s.endpoints, store.UUIDString(arg.ID))
	return 1, nil
}

func (s *stubAdminStore) ListWebhookDeliveries(_ context.Context, arg store.ListWebhookDeliveriesParams) ([]store.WebhookDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.WebhookDelivery
	for _, d := range s.deliveries {
		if d.EndpointID == arg.EndpointID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *stubAdminStore) GetWebhookDelivery(_ context.Context, id pgtype.UUID) (store.WebhookDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[store.UUIDString(id)]
	if !ok {
		return store.WebhookDelivery{}, pgx.ErrNoRows
	}
	return d, nil
}

func (s *stubAdminStore) ResetWebhookDeliveryForReplay(_ context.Context, id pgtype.UUID) (store.WebhookDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[store.UUIDString(id)]
	if !ok {
		return store.WebhookDelivery{}, pgx.ErrNoRows
	}
	d.Status = "pending"
	d.NextRetryAt = pgtype.Timestamptz{}
	d.DeliveredAt = pgtype.Timestamptz{}
	s.deliveries[store.UUIDString(id)] = d
	return d, nil
}

func newAdminRouter(s *stubAdminStore, societeID string) http.Handler {
	h := &notify.AdminHandler{Store: s}
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(tenant.With(req.Context(), societeID)))
		})
	})
	r.Mount("/api/v1/admin/webhooks", h.Routes())
	return r
}

func TestAdminCreateEndpoint(t *testing.T) {
	s := newStubAdminStore()
	societe := store.NewUUID()
	router := newAdminRouter(s, store.UUIDString(societe))

	body := `{"url":"https://hooks.example.com/wh","event_types":["devis.signe","commande.facturee"]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/webhooks", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp struct {
		Data struct {
			ID         string   `json:"id"`
			URL        string   `json:"url"`
			EventTypes []string `json:"event_types"`
			Actif      bool     `json:"actif"`
		} `json:"data"`
		Meta struct {
			Secret string `json:"secret"`
		} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Data.ID)
	require.True(t, resp.Data.Actif)
	require.True(t, strings.HasPrefix(resp.Meta.Secret, "whsec_"), "generated secret is returned once")

	stored := s.endpoints[resp.Data.ID]
	require.Equal(t, resp.Meta.Secret, stored.Secret)
	require.Equal(t, store.UUIDString(societe), store.UUIDString(stored.SocieteID))
}

func TestAdminCreateRejectsUnknownTopic(t *testing.T) {
	s := newStubAdminStore()
	router := newAdminRouter(s, store.UUIDString(store.NewUUID()))

	body := `{"url":"https://hooks.example.com/wh","event_types":["facture.creee"]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/webhooks", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "VALIDATION_ERROR")
}

func TestAdminCreateRejectsInsecureURL(t *testing.T) {
	s := newStubAdminStore()
	router := newAdminRouter(s, store.UUIDString(store.NewUUID()))

	body := `{"url":"http://hooks.example.com/wh","event_types":["devis.signe"]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/webhooks", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminEndpointIsTenantScoped(t *testing.T) {
	s := newStubAdminStore()
	owner := store.NewUUID()
	ep, err := s.CreateWebhookEndpoint(context.Background(), store.CreateWebhookEndpointParams{
		ID:         store.NewUUID(),
		SocieteID:  owner,
		URL:        "https://hooks.example.com/wh",
		Secret:     "s",
		EventTypes: []string{events.TopicDevisSigne},
	})
	require.NoError(t, err)

	otherRouter := newAdminRouter(s, store.UUIDString(store.NewUUID()))
	req := httptest.NewRequest(http.MethodPut, "/api/v1/admin/webhooks/"+store.UUIDString(ep.ID),
		strings.NewReader(`{"url":"https://evil.example.com/wh","event_types":["devis.signe"]}`))
	rec := httptest.NewRecorder()
	otherRouter.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "https://hooks.example.com/wh", s.endpoints[store.UUIDString(ep.ID)].URL)
}

func TestAdminReplayDelivery(t *testing.T) {
	s := newStubAdminStore()
	societe := store.NewUUID()
	ep, err := s.CreateWebhookEndpoint(context.Background(), store.CreateWebhookEndpointParams{
		ID:         store.NewUUID(),
		SocieteID:  societe,
		URL:        "https://hooks.example.com/wh",
		Secret:     "s",
		EventTypes: []string{events.TopicDevisSigne},
	})
	require.NoError(t, err)
	delivery := store.WebhookDelivery{
		ID:         store.NewUUID(),
		EndpointID: ep.ID,
		EventID:    store.NewUUID(),
		Status:     "dead",
		Attempts:   8,
	}
	s.deliveries[store.UUIDString(delivery.ID)] = delivery

	router := newAdminRouter(s, store.UUIDString(societe))
	path := "/api/v1/admin/webhooks/" + store.UUIDString(ep.ID) +
		"/deliveries/" + store.UUIDString(delivery.ID) + "/replay"
	req := httptest.NewRequest(http.MethodPost, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, "pending", s.deliveries[store.UUIDString(delivery.ID)].Status)
}
