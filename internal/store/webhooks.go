package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const webhookEndpointColumns = `id, societe_id, url, secret, event_types, actif, created_at, updated_at`

func scanWebhookEndpoint(row rowScanner) (WebhookEndpoint, error) {
	var e WebhookEndpoint
	err := row.Scan(&e.ID, &e.SocieteID, &e.URL, &e.Secret, &e.EventTypes, &e.Actif, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

type CreateWebhookEndpointParams struct {
	ID         pgtype.UUID
	SocieteID  pgtype.UUID
	URL        string
	Secret     string
	EventTypes []string
}

func (q *Queries) CreateWebhookEndpoint(ctx context.Context, arg CreateWebhookEndpointParams) (WebhookEndpoint, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO webhook_endpoints (id, societe_id, url, secret, event_types)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+webhookEndpointColumns,
		arg.ID, arg.SocieteID, arg.URL, arg.Secret, arg.EventTypes,
	)
	return scanWebhookEndpoint(row)
}

type GetWebhookEndpointParams struct {
	SocieteID pgtype.UUID
	ID        pgtype.UUID
}

func (q *Queries) GetWebhookEndpoint(ctx context.Context, arg GetWebhookEndpointParams) (WebhookEndpoint, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+webhookEndpointColumns+` FROM webhook_endpoints WHERE societe_id = $1 AND id = $2`,
		arg.SocieteID, arg.ID,
	)
	return scanWebhookEndpoint(row)
}

// ListActiveWebhookEndpoints returns active endpoints of a societe subscribed
// to the given event type.
func (q *Queries) ListActiveWebhookEndpoints(ctx context.Context, societeID pgtype.UUID, eventType string) ([]WebhookEndpoint, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+webhookEndpointColumns+` FROM webhook_endpoints
		WHERE societe_id = $1 AND actif AND $2 = ANY(event_types)`,
		societeID, eventType,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []WebhookEndpoint
	for rows.Next() {
		e, err := scanWebhookEndpoint(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func (q *Queries) ListWebhookEndpoints(ctx context.Context, societeID pgtype.UUID) ([]WebhookEndpoint, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+webhookEndpointColumns+` FROM webhook_endpoints WHERE societe_id = $1 ORDER BY created_at`,
		societeID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []WebhookEndpoint
	for rows.Next() {
		e, err := scanWebhookEndpoint(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

type UpdateWebhookEndpointParams struct {
	SocieteID  pgtype.UUID
	ID         pgtype.UUID
	URL        string
	Secret     string
	EventTypes []string
	Actif      bool
}

func (q *Queries) UpdateWebhookEndpoint(ctx context.Context, arg UpdateWebhookEndpointParams) (WebhookEndpoint, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE webhook_endpoints
		SET url = $3, secret = $4, event_types = $5, actif = $6, updated_at = now()
		WHERE societe_id = $1 AND id = $2
		RETURNING `+webhookEndpointColumns,
		arg.SocieteID, arg.ID, arg.URL, arg.Secret, arg.EventTypes, arg.Actif,
	)
	return scanWebhookEndpoint(row)
}

func (q *Queries) DeleteWebhookEndpoint(ctx context.Context, arg GetWebhookEndpointParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		DELETE FROM webhook_endpoints WHERE societe_id = $1 AND id = $2`,
		arg.SocieteID, arg.ID,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const webhookDeliveryColumns = `id, endpoint_id, event_id, status, attempts, last_error,
	last_code, next_retry_at, delivered_at, created_at, updated_at`

func scanWebhookDelivery(row rowScanner) (WebhookDelivery, error) {
	var d WebhookDelivery
	err := row.Scan(
		&d.ID, &d.EndpointID, &d.EventID, &d.Status, &d.Attempts, &d.LastError,
		&d.LastCode, &d.NextRetryAt, &d.DeliveredAt, &d.CreatedAt, &d.UpdatedAt,
	)
	return d, err
}

type CreateWebhookDeliveryParams struct {
	ID         pgtype.UUID
	EndpointID pgtype.UUID
	EventID    pgtype.UUID
}

func (q *Queries) CreateWebhookDelivery(ctx context.Context, arg CreateWebhookDeliveryParams) (WebhookDelivery, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO webhook_deliveries (id, endpoint_id, event_id, status)
		VALUES ($1, $2, $3, 'pending')
		RETURNING `+webhookDeliveryColumns,
		arg.ID, arg.EndpointID, arg.EventID,
	)
	return scanWebhookDelivery(row)
}

func (q *Queries) GetWebhookDelivery(ctx context.Context, id pgtype.UUID) (WebhookDelivery, error) {
	row := q.db.QueryRow(ctx, `SELECT `+webhookDeliveryColumns+` FROM webhook_deliveries WHERE id = $1`, id)
	return scanWebhookDelivery(row)
}

// DequeueDueWebhookDeliveries claims due pending or retrying deliveries.
// SKIP LOCKED keeps concurrent workers from double-claiming a row.
func (q *Queries) DequeueDueWebhookDeliveries(ctx context.Context, limit int32) ([]WebhookDelivery, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+webhookDeliveryColumns+` FROM webhook_deliveries
		WHERE status IN ('pending', 'retrying')
		  AND (next_retry_at IS NULL OR next_retry_at <= now())
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []WebhookDelivery
	for rows.Next() {
		d, err := scanWebhookDelivery(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

// GetWebhookEndpointByID loads an endpoint without tenant scoping. Delivery
// rows reference endpoints directly, so the worker resolves them by ID.
func (q *Queries) GetWebhookEndpointByID(ctx context.Context, id pgtype.UUID) (WebhookEndpoint, error) {
	row := q.db.QueryRow(ctx, `SELECT `+webhookEndpointColumns+` FROM webhook_endpoints WHERE id = $1`, id)
	return scanWebhookEndpoint(row)
}

type ListWebhookDeliveriesParams struct {
	EndpointID pgtype.UUID
	Limit      int32
	Offset     int32
}

func (q *Queries) ListWebhookDeliveries(ctx context.Context, arg ListWebhookDeliveriesParams) ([]WebhookDelivery, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+webhookDeliveryColumns+` FROM webhook_deliveries
		WHERE endpoint_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		arg.EndpointID, arg.Limit, arg.Offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []WebhookDelivery
	for rows.Next() {
		d, err := scanWebhookDelivery(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

// ResetWebhookDeliveryForReplay puts a dead or delivered delivery back into
// the pending state so the worker retries it.
func (q *Queries) ResetWebhookDeliveryForReplay(ctx context.Context, id pgtype.UUID) (WebhookDelivery, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE webhook_deliveries
		SET status = 'pending', next_retry_at = NULL, delivered_at = NULL, updated_at = now()
		WHERE id = $1
		RETURNING `+webhookDeliveryColumns,
		id,
	)
	return scanWebhookDelivery(row)
}

type MarkWebhookDeliveredParams struct {
	ID       pgtype.UUID
	LastCode pgtype.Int4
}

func (q *Queries) MarkWebhookDelivered(ctx context.Context, arg MarkWebhookDeliveredParams) error {
	_, err := q.db.Exec(ctx, `
		UPDATE webhook_deliveries
		SET status = 'delivered', attempts = attempts + 1, last_code = $2,
		    delivered_at = now(), updated_at = now()
		WHERE id = $1`,
		arg.ID, arg.LastCode,
	)
	return err
}

type MarkWebhookFailedParams struct {
	ID          pgtype.UUID
	Status      string
	LastError   pgtype.Text
	LastCode    pgtype.Int4
	NextRetryAt pgtype.Timestamptz
}

// MarkWebhookFailed records a failed attempt. Status is either retrying or
// dead depending on whether attempts remain.
func (q *Queries) MarkWebhookFailed(ctx context.Context, arg MarkWebhookFailedParams) error {
	_, err := q.db.Exec(ctx, `
		UPDATE webhook_deliveries
		SET status = $2, attempts = attempts + 1, last_error = $3, last_code = $4,
		    next_retry_at = $5, updated_at = now()
		WHERE id = $1`,
		arg.ID, arg.Status, arg.LastError, arg.LastCode, arg.NextRetryAt,
	)
	return err
}
