package notify_test

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/technoprod/backend-gestion/internal/events"
	"github.com/technoprod/backend-gestion/internal/notify"
	"github.com/technoprod/backend-gestion/internal/queue"
	"github.com/technoprod/backend-gestion/internal/resilience"
	"github.com/technoprod/backend-gestion/internal/store"
)

var _ events.Handler = (*notify.Dispatcher)(nil)

type stubStore struct {
	mu         sync.Mutex
	endpoints  map[string]store.WebhookEndpoint
	deliveries map[string]store.WebhookDelivery
	eventsByID map[string]store.Event
	now        func() time.Time
}

func newStubStore() *stubStore {
	return &stubStore{
		endpoints:  map[string]store.WebhookEndpoint{},
		deliveries: map[string]store.WebhookDelivery{},
		eventsByID: map[string]store.Event{},
		now:        time.Now,
	}
}

func (s *stubStore) addEndpoint(societeID pgtype.UUID, url, secret string, topics ...string) store.WebhookEndpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep := store.WebhookEndpoint{
		ID:         store.NewUUID(),
		SocieteID:  societeID,
		URL:        url,
		Secret:     secret,
		EventTypes: topics,
		Actif:      true,
	}
	s.endpoints[store.UUIDString(ep.ID)] = ep
	return ep
}

func (s *stubStore) addEvent(societeID pgtype.UUID, topic string, payload string) store.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := store.Event{
		ID:        store.NewUUID(),
		SocieteID: societeID,
		Type:      topic,
		Payload:   []byte(payload),
		CreatedAt: pgtype.Timestamptz{Time: s.now(), Valid: true},
	}
	s.eventsByID[store.UUIDString(e.ID)] = e
	return e
}

func (s *stubStore) ListActiveWebhookEndpoints(_ context.Context, societeID pgtype.UUID, eventType string) ([]store.WebhookEndpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.WebhookEndpoint
	for _, ep := range s.endpoints {
		if ep.SocieteID != societeID || !ep.Actif {
			continue
		}
		for _, t := range ep.EventTypes {
			if t == eventType {
				out = append(out, ep)
				break
			}
		}
	}
	return out, nil
}

func (s *stubStore) CreateWebhookDelivery(_ context.Context, arg store.CreateWebhookDeliveryParams) (store.WebhookDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.deliveries {
		if d.EndpointID == arg.EndpointID && d.EventID == arg.EventID {
			return store.WebhookDelivery{}, &pgconn.PgError{Code: "23505"}
		}
	}
	d := store.WebhookDelivery{
		ID:         arg.ID,
		EndpointID: arg.EndpointID,
		EventID:    arg.EventID,
		Status:     "pending",
		CreatedAt:  pgtype.Timestamptz{Time: s.now(), Valid: true},
	}
	s.deliveries[store.UUIDString(d.ID)] = d
	return d, nil
}

func (s *stubStore) DequeueDueWebhookDeliveries(_ context.Context, limit int32) ([]store.WebhookDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.WebhookDelivery
	for _, d := range s.deliveries {
		if d.Status != "pending" && d.Status != "retrying" {
			continue
		}
		if d.NextRetryAt.Valid && d.NextRetryAt.Time.After(s.now()) {
			continue
		}
		out = append(out, d)
		if int32(len(out)) >= limit {
			break
		}
	}
	return out, nil
}

func (s *stubStore) GetWebhookDelivery(_ context.Context, id pgtype.UUID) (store.WebhookDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deliveries[store.UUIDString(id)], nil
}

func (s *stubStore) GetWebhookEndpointByID(_ context.Context, id pgtype.UUID) (store.WebhookEndpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoints[store.UUIDString(id)], nil
}

func (s *stubStore) GetEvent(_ context.Context, id pgtype.UUID) (store.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eventsByID[store.UUIDString(id)], nil
}

func (s *stubStore) MarkWebhookDelivered(_ context.Context, arg store.MarkWebhookDeliveredParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.deliveries[store.UUIDString(arg.ID)]
	d.Status = "delivered"
	d.Attempts++
	d.LastCode = arg.LastCode
	d.DeliveredAt = pgtype.Timestamptz{Time: s.now(), Valid: true}
	s.deliveries[store.UUIDString(arg.ID)] = d
	return nil
}

func (s *stubStore) MarkWebhookFailed(_ context.Context, arg store.MarkWebhookFailedParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.deliveries[store.UUIDString(arg.ID)]
	d.Status = arg.Status
	d.Attempts++
	d.LastError = arg.LastError
	d.LastCode = arg.LastCode
	d.NextRetryAt = arg.NextRetryAt
	s.deliveries[store.UUIDString(arg.ID)] = d
	return nil
}

func (s *stubStore) delivery(id pgtype.UUID) store.WebhookDelivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deliveries[store.UUIDString(id)]
}

func (s *stubStore) deliveriesFor(endpointID pgtype.UUID) []store.WebhookDelivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.WebhookDelivery
	for _, d := range s.deliveries {
		if d.EndpointID == endpointID {
			out = append(out, d)
		}
	}
	return out
}

func newDispatcher(s *stubStore) *notify.Dispatcher {
	return &notify.Dispatcher{
		Store:          s,
		HTTP:           resilience.HTTPClient{Client: &http.Client{}, MaxAttempts: 1},
		Enabled:        true,
		BackoffBaseSec: 30,
		MaxAttempts:    3,
	}
}

func TestScheduleFansOutAndDeduplicates(t *testing.T) {
	s := newStubStore()
	societe := store.NewUUID()
	subscribed := s.addEndpoint(societe, "https://hooks.example.com/a", "s1", events.TopicDevisSigne)
	s.addEndpoint(societe, "https://hooks.example.com/b", "s2", events.TopicCommandeFacturee)
	other := store.NewUUID()
	s.addEndpoint(other, "https://hooks.example.com/c", "s3", events.TopicDevisSigne)

	d := newDispatcher(s)
	event := s.addEvent(societe, events.TopicDevisSigne, `{"numero":"DEV-2026-0001"}`)

	require.NoError(t, d.Schedule(context.Background(), event))
	require.Len(t, s.deliveriesFor(subscribed.ID), 1)
	require.Len(t, s.deliveries, 1, "only the subscribed endpoint of the event's societe is scheduled")

	require.NoError(t, d.Schedule(context.Background(), event), "duplicate schedule is a no-op")
	require.Len(t, s.deliveries, 1)
}

func TestWorkOnceDeliversWithSignature(t *testing.T) {
	s := newStubStore()
	societe := store.NewUUID()

	var received struct {
		sync.Mutex
		eventID string
		sig     string
		ts      string
		body    []byte
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Lock()
		defer received.Unlock()
		received.eventID = r.Header.Get("X-Event-ID")
		received.sig = r.Header.Get("X-Signature")
		received.ts = r.Header.Get("X-Timestamp")
		body, _ := io.ReadAll(r.Body)
		received.body = body
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	// httptest binds to 127.0.0.1 so the plain-http rule accepts it
	ep := s.addEndpoint(societe, srv.URL, "super-secret", events.TopicDevisSigne)
	event := s.addEvent(societe, events.TopicDevisSigne, `{"numero":"DEV-2026-0002"}`)
	d := newDispatcher(s)

	require.NoError(t, d.Schedule(context.Background(), event))
	require.NoError(t, d.WorkOnce(context.Background(), 10))

	dels := s.deliveriesFor(ep.ID)
	require.Len(t, dels, 1)
	require.Equal(t, "delivered", dels[0].Status)
	require.Equal(t, int32(1), dels[0].Attempts)
	require.EqualValues(t, http.StatusOK, dels[0].LastCode.Int32)
	require.True(t, dels[0].DeliveredAt.Valid)

	received.Lock()
	defer received.Unlock()
	require.Equal(t, store.UUIDString(event.ID), received.eventID)
	ts, err := strconv.ParseInt(received.ts, 10, 64)
	require.NoError(t, err)
	expected := notify.ComputeSignature("super-secret", ts, received.eventID, received.body)
	require.True(t, hmac.Equal([]byte(expected), []byte(received.sig)), "signature covers ts, event id and body")

	var envelope struct {
		EventID string          `json:"event_id"`
		Type    string          `json:"type"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(received.body, &envelope))
	require.Equal(t, events.TopicDevisSigne, envelope.Type)
	require.JSONEq(t, `{"numero":"DEV-2026-0002"}`, string(envelope.Data))
}

func TestWorkOnceRetriesThenMarksDead(t *testing.T) {
	s := newStubStore()
	societe := store.NewUUID()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ep := s.addEndpoint(societe, srv.URL, "s", events.TopicDevisEnvoye)
	event := s.addEvent(societe, events.TopicDevisEnvoye, `{"numero":"DEV-2026-0003"}`)

	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	d := newDispatcher(s)
	d.Now = s.now

	require.NoError(t, d.Schedule(context.Background(), event))
	require.NoError(t, d.WorkOnce(context.Background(), 10))

	dels := s.deliveriesFor(ep.ID)
	require.Len(t, dels, 1)
	del := dels[0]
	require.Equal(t, "retrying", del.Status)
	require.Equal(t, int32(1), del.Attempts)
	require.Contains(t, store.TextString(del.LastError), "502")
	require.True(t, del.NextRetryAt.Valid)
	require.True(t, del.NextRetryAt.Time.After(now), "backoff pushes the next attempt into the future")

	// not due yet, nothing happens
	require.NoError(t, d.WorkOnce(context.Background(), 10))
	require.Equal(t, int32(1), s.delivery(del.ID).Attempts)

	// advance past every backoff window and exhaust the attempts
	for i := 0; i < 2; i++ {
		now = now.Add(time.Hour)
		require.NoError(t, d.WorkOnce(context.Background(), 10))
	}
	final := s.delivery(del.ID)
	require.Equal(t, "dead", final.Status)
	require.Equal(t, int32(3), final.Attempts)
}

func TestReplayProtectionSkipsDuplicateSend(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s := newStubStore()
	societe := store.NewUUID()
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ep := s.addEndpoint(societe, srv.URL, "s", events.TopicDevisRefuse)
	event := s.addEvent(societe, events.TopicDevisRefuse, `{"numero":"DEV-2026-0004"}`)
	d := newDispatcher(s)
	d.Replay = notify.RedisReplayProtector{Client: client}
	d.ReplayTTL = time.Hour

	require.NoError(t, d.Schedule(context.Background(), event))
	require.NoError(t, d.WorkOnce(context.Background(), 10))
	require.Equal(t, 1, hits)

	// force the delivery pending again, the replay guard still holds
	del := s.deliveriesFor(ep.ID)[0]
	s.mu.Lock()
	pending := s.deliveries[store.UUIDString(del.ID)]
	pending.Status = "pending"
	pending.NextRetryAt = pgtype.Timestamptz{}
	s.deliveries[store.UUIDString(del.ID)] = pending
	s.mu.Unlock()

	require.NoError(t, d.WorkOnce(context.Background(), 10))
	require.Equal(t, 1, hits, "second send is suppressed")
	require.Equal(t, "delivered", s.delivery(del.ID).Status)
}

func TestDisabledDispatcherDoesNothing(t *testing.T) {
	s := newStubStore()
	societe := store.NewUUID()
	s.addEndpoint(societe, "https://hooks.example.com/a", "s", events.TopicDevisSigne)
	event := s.addEvent(societe, events.TopicDevisSigne, `{}`)

	d := newDispatcher(s)
	d.Enabled = false
	require.NoError(t, d.Schedule(context.Background(), event))
	require.Empty(t, s.deliveries)
}

type capturedQueue struct {
	tasks []queue.Task
}

func (c *capturedQueue) Enqueue(_ context.Context, t queue.Task) error {
	c.tasks = append(c.tasks, t)
	return nil
}

func TestScheduleEnqueuesTaskAndHandleTaskDelivers(t *testing.T) {
	s := newStubStore()
	societe := store.NewUUID()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ep := s.addEndpoint(societe, srv.URL, "s", events.TopicDevisAcompteRegle)
	event := s.addEvent(societe, events.TopicDevisAcompteRegle, `{"numero":"DEV-2026-0005"}`)
	d := newDispatcher(s)
	tasks := &capturedQueue{}
	d.Tasks = tasks

	require.NoError(t, d.Schedule(context.Background(), event))
	require.Len(t, tasks.tasks, 1)
	task := tasks.tasks[0]
	require.Equal(t, notify.TaskKindWebhookDelivery, task.Kind)

	require.NoError(t, d.HandleTask(context.Background(), task))
	dels := s.deliveriesFor(ep.ID)
	require.Len(t, dels, 1)
	require.Equal(t, "delivered", dels[0].Status)

	// settled deliveries are acknowledged without another send
	require.NoError(t, d.HandleTask(context.Background(), task))
	require.Equal(t, int32(1), s.delivery(dels[0].ID).Attempts)
}

func TestValidateURL(t *testing.T) {
	require.NoError(t, notify.ValidateURL("https://hooks.example.com/wh"))
	require.NoError(t, notify.ValidateURL("http://localhost:9000/wh"))
	require.NoError(t, notify.ValidateURL("http://127.0.0.1:9000/wh"))
	require.Error(t, notify.ValidateURL("http://hooks.example.com/wh"))
	require.Error(t, notify.ValidateURL("ftp://hooks.example.com/wh"))
	require.Error(t, notify.ValidateURL("https://"))
	require.Error(t, notify.ValidateURL("not a url"))
}
