package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const devisColumns = `id, societe_id, client_id, numero, status, objet, date_devis, date_validite,
	total_ht, total_tva, total_ttc, commande_id, version, created_at, updated_at`

func scanDevis(row rowScanner) (Devis, error) {
	var d Devis
	err := row.Scan(
		&d.ID, &d.SocieteID, &d.ClientID, &d.Numero, &d.Status, &d.Objet,
		&d.DateDevis, &d.DateValidite, &d.TotalHT, &d.TotalTVA, &d.TotalTTC,
		&d.CommandeID, &d.Version, &d.CreatedAt, &d.UpdatedAt,
	)
	return d, err
}

type CreateDevisParams struct {
	ID           pgtype.UUID
	SocieteID    pgtype.UUID
	ClientID     pgtype.UUID
	Numero       string
	Objet        pgtype.Text
	DateDevis    pgtype.Date
	DateValidite pgtype.Date
}

func (q *Queries) CreateDevis(ctx context.Context, arg CreateDevisParams) (Devis, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO devis (id, societe_id, client_id, numero, status, objet, date_devis, date_validite)
		VALUES ($1, $2, $3, $4, 'brouillon', $5, $6, $7)
		RETURNING `+devisColumns,
		arg.ID, arg.SocieteID, arg.ClientID, arg.Numero, arg.Objet, arg.DateDevis, arg.DateValidite,
	)
	return scanDevis(row)
}

type GetDevisParams struct {
	SocieteID pgtype.UUID
	ID        pgtype.UUID
}

func (q *Queries) GetDevis(ctx context.Context, arg GetDevisParams) (Devis, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+devisColumns+` FROM devis WHERE societe_id = $1 AND id = $2`,
		arg.SocieteID, arg.ID,
	)
	return scanDevis(row)
}

// GetDevisForUpdate locks the header row for the duration of the transaction.
// Every ligne mutation goes through this lock so position shifts and totals
// recomputation serialize per devis.
func (q *Queries) GetDevisForUpdate(ctx context.Context, arg GetDevisParams) (Devis, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+devisColumns+` FROM devis WHERE societe_id = $1 AND id = $2 FOR UPDATE`,
		arg.SocieteID, arg.ID,
	)
	return scanDevis(row)
}

type ListDevisParams struct {
	SocieteID pgtype.UUID
	Status    pgtype.Text
	ClientID  pgtype.UUID
	Limit     int32
	Offset    int32
}

func (q *Queries) ListDevis(ctx context.Context, arg ListDevisParams) ([]Devis, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+devisColumns+` FROM devis
		WHERE societe_id = $1
		  AND ($2::text IS NULL OR status = $2)
		  AND ($3::uuid IS NULL OR client_id = $3)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5`,
		arg.SocieteID, arg.Status, arg.ClientID, arg.Limit, arg.Offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Devis
	for rows.Next() {
		d, err := scanDevis(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

type CountDevisParams struct {
	SocieteID pgtype.UUID
	Status    pgtype.Text
	ClientID  pgtype.UUID
}

func (q *Queries) CountDevis(ctx context.Context, arg CountDevisParams) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, `
		SELECT count(*) FROM devis
		WHERE societe_id = $1
		  AND ($2::text IS NULL OR status = $2)
		  AND ($3::uuid IS NULL OR client_id = $3)`,
		arg.SocieteID, arg.Status, arg.ClientID,
	).Scan(&count)
	return count, err
}

type UpdateDevisHeaderParams struct {
	ID           pgtype.UUID
	SocieteID    pgtype.UUID
	ClientID     pgtype.UUID
	Objet        pgtype.Text
	DateDevis    pgtype.Date
	DateValidite pgtype.Date
}

func (q *Queries) UpdateDevisHeader(ctx context.Context, arg UpdateDevisHeaderParams) (Devis, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE devis
		SET client_id = $3, objet = $4, date_devis = $5, date_validite = $6,
		    version = version + 1, updated_at = now()
		WHERE societe_id = $1 AND id = $2
		RETURNING `+devisColumns,
		arg.SocieteID, arg.ID, arg.ClientID, arg.Objet, arg.DateDevis, arg.DateValidite,
	)
	return scanDevis(row)
}

type UpdateDevisTotalsParams struct {
	ID       pgtype.UUID
	TotalHT  pgtype.Numeric
	TotalTVA pgtype.Numeric
	TotalTTC pgtype.Numeric
}

// UpdateDevisTotals persists recomputed header totals and bumps the version.
func (q *Queries) UpdateDevisTotals(ctx context.Context, arg UpdateDevisTotalsParams) (Devis, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE devis
		SET total_ht = $2, total_tva = $3, total_ttc = $4,
		    version = version + 1, updated_at = now()
		WHERE id = $1
		RETURNING `+devisColumns,
		arg.ID, arg.TotalHT, arg.TotalTVA, arg.TotalTTC,
	)
	return scanDevis(row)
}

type UpdateDevisStatusParams struct {
	SocieteID pgtype.UUID
	ID        pgtype.UUID
	Status    string
}

func (q *Queries) UpdateDevisStatus(ctx context.Context, arg UpdateDevisStatusParams) (Devis, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE devis
		SET status = $3, version = version + 1, updated_at = now()
		WHERE societe_id = $1 AND id = $2
		RETURNING `+devisColumns,
		arg.SocieteID, arg.ID, arg.Status,
	)
	return scanDevis(row)
}

type SetDevisCommandeParams struct {
	ID         pgtype.UUID
	CommandeID pgtype.UUID
}

func (q *Queries) SetDevisCommande(ctx context.Context, arg SetDevisCommandeParams) error {
	_, err := q.db.Exec(ctx, `
		UPDATE devis SET commande_id = $2, version = version + 1, updated_at = now() WHERE id = $1`,
		arg.ID, arg.CommandeID,
	)
	return err
}

func (q *Queries) DeleteDevis(ctx context.Context, arg GetDevisParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM devis WHERE societe_id = $1 AND id = $2`, arg.SocieteID, arg.ID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type NextDevisNumeroParams struct {
	SocieteID pgtype.UUID
	Annee     int32
}

// NextDevisNumero allocates the next sequential quote number for a societe
// and year using an upsert on the counters table.
func (q *Queries) NextDevisNumero(ctx context.Context, arg NextDevisNumeroParams) (int32, error) {
	var next int32
	err := q.db.QueryRow(ctx, `
		INSERT INTO devis_counters (societe_id, annee, dernier)
		VALUES ($1, $2, 1)
		ON CONFLICT (societe_id, annee) DO UPDATE SET dernier = devis_counters.dernier + 1
		RETURNING dernier`,
		arg.SocieteID, arg.Annee,
	).Scan(&next)
	return next, err
}
