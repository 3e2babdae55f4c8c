package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const factureColumns = `id, societe_id, client_id, commande_id, numero, status, total_ht,
	total_tva, total_ttc, lignes_snapshot, created_at, updated_at`

func scanFacture(row rowScanner) (Facture, error) {
	var f Facture
	err := row.Scan(
		&f.ID, &f.SocieteID, &f.ClientID, &f.CommandeID, &f.Numero, &f.Status,
		&f.TotalHT, &f.TotalTVA, &f.TotalTTC, &f.LignesSnapshot, &f.CreatedAt, &f.UpdatedAt,
	)
	return f, err
}

type CreateFactureParams struct {
	ID             pgtype.UUID
	SocieteID      pgtype.UUID
	ClientID       pgtype.UUID
	CommandeID     pgtype.UUID
	Numero         string
	TotalHT        pgtype.Numeric
	TotalTVA       pgtype.Numeric
	TotalTTC       pgtype.Numeric
	LignesSnapshot []byte
}

func (q *Queries) CreateFacture(ctx context.Context, arg CreateFactureParams) (Facture, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO factures (id, societe_id, client_id, commande_id, numero, status,
			total_ht, total_tva, total_ttc, lignes_snapshot)
		VALUES ($1, $2, $3, $4, $5, 'emise', $6, $7, $8, $9)
		RETURNING `+factureColumns,
		arg.ID, arg.SocieteID, arg.ClientID, arg.CommandeID, arg.Numero,
		arg.TotalHT, arg.TotalTVA, arg.TotalTTC, arg.LignesSnapshot,
	)
	return scanFacture(row)
}

type GetFactureParams struct {
	SocieteID pgtype.UUID
	ID        pgtype.UUID
}

func (q *Queries) GetFacture(ctx context.Context, arg GetFactureParams) (Facture, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+factureColumns+` FROM factures WHERE societe_id = $1 AND id = $2`,
		arg.SocieteID, arg.ID,
	)
	return scanFacture(row)
}

type ListFacturesParams struct {
	SocieteID pgtype.UUID
	Limit     int32
	Offset    int32
}

func (q *Queries) ListFactures(ctx context.Context, arg ListFacturesParams) ([]Facture, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+factureColumns+` FROM factures
		WHERE societe_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		arg.SocieteID, arg.Limit, arg.Offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Facture
	for rows.Next() {
		f, err := scanFacture(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, f)
	}
	return items, rows.Err()
}

func (q *Queries) CountFactures(ctx context.Context, societeID pgtype.UUID) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, `SELECT count(*) FROM factures WHERE societe_id = $1`, societeID).Scan(&count)
	return count, err
}
