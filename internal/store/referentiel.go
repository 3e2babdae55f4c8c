package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const referentielColumns = `id, societe_id, kind, code, libelle, valeur, actif, created_at, updated_at`

func scanReferentiel(row rowScanner) (ReferentielEntry, error) {
	var e ReferentielEntry
	err := row.Scan(&e.ID, &e.SocieteID, &e.Kind, &e.Code, &e.Libelle, &e.Valeur, &e.Actif, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

type CreateReferentielEntryParams struct {
	ID        pgtype.UUID
	SocieteID pgtype.UUID
	Kind      string
	Code      string
	Libelle   string
	Valeur    pgtype.Text
}

func (q *Queries) CreateReferentielEntry(ctx context.Context, arg CreateReferentielEntryParams) (ReferentielEntry, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO referentiel_entries (id, societe_id, kind, code, libelle, valeur)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+referentielColumns,
		arg.ID, arg.SocieteID, arg.Kind, arg.Code, arg.Libelle, arg.Valeur,
	)
	return scanReferentiel(row)
}

type GetReferentielEntryParams struct {
	SocieteID pgtype.UUID
	ID        pgtype.UUID
}

func (q *Queries) GetReferentielEntry(ctx context.Context, arg GetReferentielEntryParams) (ReferentielEntry, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+referentielColumns+` FROM referentiel_entries WHERE societe_id = $1 AND id = $2`,
		arg.SocieteID, arg.ID,
	)
	return scanReferentiel(row)
}

type ListReferentielEntriesParams struct {
	SocieteID pgtype.UUID
	Kind      string
}

func (q *Queries) ListReferentielEntries(ctx context.Context, arg ListReferentielEntriesParams) ([]ReferentielEntry, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+referentielColumns+` FROM referentiel_entries
		WHERE societe_id = $1 AND kind = $2
		ORDER BY libelle`,
		arg.SocieteID, arg.Kind,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ReferentielEntry
	for rows.Next() {
		e, err := scanReferentiel(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

type UpdateReferentielEntryParams struct {
	SocieteID pgtype.UUID
	ID        pgtype.UUID
	Code      string
	Libelle   string
	Valeur    pgtype.Text
	Actif     bool
}

func (q *Queries) UpdateReferentielEntry(ctx context.Context, arg UpdateReferentielEntryParams) (ReferentielEntry, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE referentiel_entries
		SET code = $3, libelle = $4, valeur = $5, actif = $6, updated_at = now()
		WHERE societe_id = $1 AND id = $2
		RETURNING `+referentielColumns,
		arg.SocieteID, arg.ID, arg.Code, arg.Libelle, arg.Valeur, arg.Actif,
	)
	return scanReferentiel(row)
}

func (q *Queries) DeleteReferentielEntry(ctx context.Context, arg GetReferentielEntryParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		DELETE FROM referentiel_entries WHERE societe_id = $1 AND id = $2`,
		arg.SocieteID, arg.ID,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
