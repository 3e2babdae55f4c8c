// Package notify fans outbox events out to subscribed webhook endpoints and
// optional email recipients. Delivery state lives in webhook_deliveries;
// retries are driven by next_retry_at with exponential backoff.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/technoprod/backend-gestion/internal/obs"
	"github.com/technoprod/backend-gestion/internal/resilience"
	"github.com/technoprod/backend-gestion/internal/store"
)

const defaultMaxAttempts = 8

// Store defines the persistence operations required for webhook delivery.
type Store interface {
	ListActiveWebhookEndpoints(ctx context.Context, societeID pgtype.UUID, eventType string) ([]store.WebhookEndpoint, error)
	CreateWebhookDelivery(ctx context.Context, arg store.CreateWebhookDeliveryParams) (store.WebhookDelivery, error)
	DequeueDueWebhookDeliveries(ctx context.Context, limit int32) ([]store.WebhookDelivery, error)
	GetWebhookDelivery(ctx context.Context, id pgtype.UUID) (store.WebhookDelivery, error)
	GetWebhookEndpointByID(ctx context.Context, id pgtype.UUID) (store.WebhookEndpoint, error)
	GetEvent(ctx context.Context, id pgtype.UUID) (store.Event, error)
	MarkWebhookDelivered(ctx context.Context, arg store.MarkWebhookDeliveredParams) error
	MarkWebhookFailed(ctx context.Context, arg store.MarkWebhookFailedParams) error
}

// ReplayProtector guards against sending duplicate deliveries within a TTL.
type ReplayProtector interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Dispatcher schedules webhook deliveries for outbox events and executes them.
type Dispatcher struct {
	Store          Store
	HTTP           resilience.HTTPClient
	Enabled        bool
	BackoffBaseSec int
	MaxAttempts    int
	Replay         ReplayProtector
	ReplayTTL      time.Duration
	Tasks          TaskQueue
	Now            func() time.Time
}

func (d *Dispatcher) now() time.Time {
	if d != nil && d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Dispatcher) maxAttempts() int {
	if d != nil && d.MaxAttempts > 0 {
		return d.MaxAttempts
	}
	return defaultMaxAttempts
}

// Handle makes the dispatcher usable as an outbox relay handler.
func (d *Dispatcher) Handle(ctx context.Context, event store.Event) error {
	return d.Schedule(ctx, event)
}

// Schedule enqueues one delivery per active endpoint of the event's societe
// subscribed to the event type. A duplicate (endpoint, event) pair is skipped.
func (d *Dispatcher) Schedule(ctx context.Context, event store.Event) error {
	if d == nil || !d.Enabled || d.Store == nil {
		return nil
	}
	if strings.TrimSpace(event.Type) == "" {
		return nil
	}
	endpoints, err := d.Store.ListActiveWebhookEndpoints(ctx, event.SocieteID, event.Type)
	if err != nil {
		return err
	}
	var joined error
	for _, ep := range endpoints {
		created, err := d.Store.CreateWebhookDelivery(ctx, store.CreateWebhookDeliveryParams{
			ID:         store.NewUUID(),
			EndpointID: ep.ID,
			EventID:    event.ID,
		})
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				continue
			}
			joined = errors.Join(joined, fmt.Errorf("enqueue delivery for %s: %w", store.UUIDString(ep.ID), err))
			continue
		}
		// the DB-poll worker picks the row up anyway if the task is lost
		if err := d.enqueueTask(ctx, created); err != nil {
			joined = errors.Join(joined, err)
		}
	}
	return joined
}

// WorkOnce claims due deliveries and attempts each one.
func (d *Dispatcher) WorkOnce(ctx context.Context, batch int32) error {
	if d == nil || !d.Enabled || d.Store == nil {
		return nil
	}
	if batch <= 0 {
		batch = 1
	}
	ctx, span := otel.Tracer("notify.Dispatcher").Start(ctx, "Dispatcher.WorkOnce")
	defer span.End()
	span.SetAttributes(attribute.Int("webhook.batch", int(batch)))

	deliveries, err := d.Store.DequeueDueWebhookDeliveries(ctx, batch)
	if err != nil {
		span.RecordError(err)
		return err
	}
	for _, del := range deliveries {
		if _, err := d.attemptOne(ctx, del); err != nil {
			return err
		}
	}
	return nil
}

// attemptOne executes a single delivery attempt and records the outcome. The
// first return value is the delivery failure, the second a storage error.
func (d *Dispatcher) attemptOne(ctx context.Context, del store.WebhookDelivery) (error, error) {
	attemptStart := time.Now()
	endpoint, err := d.Store.GetWebhookEndpointByID(ctx, del.EndpointID)
	if err != nil {
		cause := fmt.Errorf("load endpoint: %w", err)
		return cause, d.failDelivery(ctx, del, 0, cause)
	}
	event, err := d.Store.GetEvent(ctx, del.EventID)
	if err != nil {
		cause := fmt.Errorf("load event: %w", err)
		return cause, d.failDelivery(ctx, del, 0, cause)
	}
	status, deliverErr := d.deliver(ctx, endpoint, event, del)
	if deliverErr == nil && status >= 200 && status < 300 {
		observeAttempt("delivered", attemptStart)
		return nil, d.Store.MarkWebhookDelivered(ctx, store.MarkWebhookDeliveredParams{
			ID:       del.ID,
			LastCode: codeValue(status),
		})
	}
	if deliverErr == nil {
		deliverErr = fmt.Errorf("endpoint returned status %d", status)
	}
	return deliverErr, d.failDelivery(ctx, del, status, deliverErr)
}

func (d *Dispatcher) failDelivery(ctx context.Context, del store.WebhookDelivery, status int, cause error) error {
	reason := store.TextValue(cause.Error())
	if int(del.Attempts)+1 >= d.maxAttempts() {
		observeAttempt("dead", time.Now())
		return d.Store.MarkWebhookFailed(ctx, store.MarkWebhookFailedParams{
			ID:        del.ID,
			Status:    "dead",
			LastError: reason,
			LastCode:  codeValue(status),
		})
	}
	observeAttempt("failed", time.Now())
	base := time.Duration(d.BackoffBaseSec) * time.Second
	if base <= 0 {
		base = 30 * time.Second
	}
	delay := resilience.Backoff(base, int(del.Attempts)+1, 0.2)
	return d.Store.MarkWebhookFailed(ctx, store.MarkWebhookFailedParams{
		ID:          del.ID,
		Status:      "retrying",
		LastError:   reason,
		LastCode:    codeValue(status),
		NextRetryAt: store.TimestamptzValue(d.now().Add(delay)),
	})
}

func (d *Dispatcher) deliver(ctx context.Context, ep store.WebhookEndpoint, ev store.Event, del store.WebhookDelivery) (int, error) {
	ctx, span := otel.Tracer("notify.Dispatcher").Start(ctx, "Dispatcher.deliver")
	defer span.End()
	span.SetAttributes(
		attribute.String("webhook.endpoint_id", store.UUIDString(ep.ID)),
		attribute.String("webhook.delivery_id", store.UUIDString(del.ID)),
		attribute.String("webhook.event_type", ev.Type),
	)
	if err := ValidateURL(ep.URL); err != nil {
		span.RecordError(err)
		return 0, err
	}
	occurred := d.now()
	if ev.CreatedAt.Valid {
		occurred = ev.CreatedAt.Time
	}
	eventID := store.UUIDString(ev.ID)
	body, err := json.Marshal(struct {
		EventID    string          `json:"event_id"`
		Type       string          `json:"type"`
		Data       json.RawMessage `json:"data"`
		OccurredAt time.Time       `json:"occurred_at"`
	}{
		EventID:    eventID,
		Type:       ev.Type,
		Data:       json.RawMessage(ev.Payload),
		OccurredAt: occurred,
	})
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	if d.Replay != nil && d.ReplayTTL > 0 {
		key := fmt.Sprintf("wh:%s:%s", store.UUIDString(ep.ID), eventID)
		ok, err := d.Replay.Acquire(ctx, key, d.ReplayTTL)
		if err != nil {
			span.RecordError(err)
			return 0, err
		}
		if !ok {
			span.AddEvent("delivery replay prevented")
			return http.StatusOK, nil
		}
	}
	ts := d.now().Unix()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "gestion-webhooks/1.0")
	req.Header.Set("X-Event-ID", eventID)
	req.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("X-Idempotency-Key", store.UUIDString(del.ID))
	req.Header.Set("X-Signature", ComputeSignature(ep.Secret, ts, eventID, body))
	resp, err := d.HTTP.Do(ctx, req)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	return resp.StatusCode, nil
}

// ValidateURL checks a webhook destination. Plain http is only accepted for
// local development targets.
func ValidateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid endpoint url: %w", err)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return errors.New("webhook url must be http or https")
	}
	if parsed.Scheme == "http" {
		host := parsed.Hostname()
		if host != "localhost" && host != "127.0.0.1" {
			return errors.New("http webhook only allowed for localhost")
		}
	}
	if parsed.Host == "" {
		return errors.New("webhook url must include host")
	}
	return nil
}

// ComputeSignature calculates the webhook signature for the provided payload.
// The format is HMAC-SHA256 over "<ts>.<eventID>.<body>" using the endpoint secret.
func ComputeSignature(secret string, ts int64, eventID string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(strconv.FormatInt(ts, 10)))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write([]byte(eventID))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func observeAttempt(result string, start time.Time) {
	if obs.WebhookDeliveriesTotal != nil {
		obs.WebhookDeliveriesTotal.WithLabelValues(result).Inc()
	}
	if obs.WebhookAttemptLatency != nil {
		obs.WebhookAttemptLatency.WithLabelValues(result).Observe(obs.DurationMillis(time.Since(start)))
	}
}

func codeValue(status int) pgtype.Int4 {
	if status <= 0 {
		return pgtype.Int4{}
	}
	return pgtype.Int4{Int32: int32(status), Valid: true}
}
