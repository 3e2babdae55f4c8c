package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const auditColumns = `id, societe_id, actor_id, actor_type, action, entity, entity_id, detail, created_at`

func scanAudit(row rowScanner) (AuditEntry, error) {
	var a AuditEntry
	err := row.Scan(&a.ID, &a.SocieteID, &a.ActorID, &a.ActorType, &a.Action, &a.Entity, &a.EntityID, &a.Detail, &a.CreatedAt)
	return a, err
}

type InsertAuditEntryParams struct {
	ID        pgtype.UUID
	SocieteID pgtype.UUID
	ActorID   pgtype.UUID
	ActorType string
	Action    string
	Entity    string
	EntityID  pgtype.Text
	Detail    []byte
}

func (q *Queries) InsertAuditEntry(ctx context.Context, arg InsertAuditEntryParams) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO audit_entries (id, societe_id, actor_id, actor_type, action, entity, entity_id, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		arg.ID, arg.SocieteID, arg.ActorID, arg.ActorType, arg.Action, arg.Entity, arg.EntityID, arg.Detail,
	)
	return err
}

type ListAuditEntriesParams struct {
	SocieteID pgtype.UUID
	Entity    pgtype.Text
	Limit     int32
	Offset    int32
}

func (q *Queries) ListAuditEntries(ctx context.Context, arg ListAuditEntriesParams) ([]AuditEntry, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+auditColumns+` FROM audit_entries
		WHERE societe_id = $1
		  AND ($2::text IS NULL OR entity = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`,
		arg.SocieteID, arg.Entity, arg.Limit, arg.Offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []AuditEntry
	for rows.Next() {
		a, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}
