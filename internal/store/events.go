package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const eventColumns = `id, societe_id, type, aggregate_id, payload, published_at, created_at`

func scanEvent(row rowScanner) (Event, error) {
	var e Event
	err := row.Scan(&e.ID, &e.SocieteID, &e.Type, &e.AggregateID, &e.Payload, &e.PublishedAt, &e.CreatedAt)
	return e, err
}

type InsertEventParams struct {
	ID          pgtype.UUID
	SocieteID   pgtype.UUID
	Type        string
	AggregateID pgtype.UUID
	Payload     []byte
}

// InsertEvent writes an outbox row inside the caller's transaction so events
// commit atomically with the mutation that produced them.
func (q *Queries) InsertEvent(ctx context.Context, arg InsertEventParams) (Event, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO events (id, societe_id, type, aggregate_id, payload)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+eventColumns,
		arg.ID, arg.SocieteID, arg.Type, arg.AggregateID, arg.Payload,
	)
	return scanEvent(row)
}

func (q *Queries) GetEvent(ctx context.Context, id pgtype.UUID) (Event, error) {
	row := q.db.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id)
	return scanEvent(row)
}

// ListUnpublishedEvents returns the oldest pending outbox rows for fan-out.
func (q *Queries) ListUnpublishedEvents(ctx context.Context, limit int32) ([]Event, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE published_at IS NULL
		ORDER BY created_at
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func (q *Queries) MarkEventPublished(ctx context.Context, id pgtype.UUID) error {
	_, err := q.db.Exec(ctx, `UPDATE events SET published_at = now() WHERE id = $1`, id)
	return err
}
