package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const societeColumns = `id, slug, nom, created_at, updated_at`

func scanSociete(row rowScanner) (Societe, error) {
	var s Societe
	err := row.Scan(&s.ID, &s.Slug, &s.Nom, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

type CreateSocieteParams struct {
	ID   pgtype.UUID
	Slug string
	Nom  string
}

func (q *Queries) CreateSociete(ctx context.Context, arg CreateSocieteParams) (Societe, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO societes (id, slug, nom) VALUES ($1, $2, $3)
		RETURNING `+societeColumns,
		arg.ID, arg.Slug, arg.Nom,
	)
	return scanSociete(row)
}

func (q *Queries) GetSociete(ctx context.Context, id pgtype.UUID) (Societe, error) {
	row := q.db.QueryRow(ctx, `SELECT `+societeColumns+` FROM societes WHERE id = $1`, id)
	return scanSociete(row)
}

func (q *Queries) GetSocieteBySlug(ctx context.Context, slug string) (Societe, error) {
	row := q.db.QueryRow(ctx, `SELECT `+societeColumns+` FROM societes WHERE slug = $1`, slug)
	return scanSociete(row)
}
