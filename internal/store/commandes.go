package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const commandeColumns = `id, societe_id, client_id, devis_id, numero, status, total_ht,
	total_tva, total_ttc, lignes_snapshot, facture_id, created_at, updated_at`

func scanCommande(row rowScanner) (Commande, error) {
	var c Commande
	err := row.Scan(
		&c.ID, &c.SocieteID, &c.ClientID, &c.DevisID, &c.Numero, &c.Status,
		&c.TotalHT, &c.TotalTVA, &c.TotalTTC, &c.LignesSnapshot, &c.FactureID,
		&c.CreatedAt, &c.UpdatedAt,
	)
	return c, err
}

type CreateCommandeParams struct {
	ID             pgtype.UUID
	SocieteID      pgtype.UUID
	ClientID       pgtype.UUID
	DevisID        pgtype.UUID
	Numero         string
	TotalHT        pgtype.Numeric
	TotalTVA       pgtype.Numeric
	TotalTTC       pgtype.Numeric
	LignesSnapshot []byte
}

func (q *Queries) CreateCommande(ctx context.Context, arg CreateCommandeParams) (Commande, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO commandes (id, societe_id, client_id, devis_id, numero, status,
			total_ht, total_tva, total_ttc, lignes_snapshot)
		VALUES ($1, $2, $3, $4, $5, 'en_cours', $6, $7, $8, $9)
		RETURNING `+commandeColumns,
		arg.ID, arg.SocieteID, arg.ClientID, arg.DevisID, arg.Numero,
		arg.TotalHT, arg.TotalTVA, arg.TotalTTC, arg.LignesSnapshot,
	)
	return scanCommande(row)
}

type GetCommandeParams struct {
	SocieteID pgtype.UUID
	ID        pgtype.UUID
}

func (q *Queries) GetCommande(ctx context.Context, arg GetCommandeParams) (Commande, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+commandeColumns+` FROM commandes WHERE societe_id = $1 AND id = $2`,
		arg.SocieteID, arg.ID,
	)
	return scanCommande(row)
}

// GetCommandeForUpdate locks the row so a facture conversion can check and
// set facture_id atomically.
func (q *Queries) GetCommandeForUpdate(ctx context.Context, arg GetCommandeParams) (Commande, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+commandeColumns+` FROM commandes WHERE societe_id = $1 AND id = $2 FOR UPDATE`,
		arg.SocieteID, arg.ID,
	)
	return scanCommande(row)
}

type ListCommandesParams struct {
	SocieteID pgtype.UUID
	Limit     int32
	Offset    int32
}

func (q *Queries) ListCommandes(ctx context.Context, arg ListCommandesParams) ([]Commande, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+commandeColumns+` FROM commandes
		WHERE societe_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		arg.SocieteID, arg.Limit, arg.Offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Commande
	for rows.Next() {
		c, err := scanCommande(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (q *Queries) CountCommandes(ctx context.Context, societeID pgtype.UUID) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, `SELECT count(*) FROM commandes WHERE societe_id = $1`, societeID).Scan(&count)
	return count, err
}

type SetCommandeFactureParams struct {
	ID        pgtype.UUID
	FactureID pgtype.UUID
}

func (q *Queries) SetCommandeFacture(ctx context.Context, arg SetCommandeFactureParams) error {
	_, err := q.db.Exec(ctx, `
		UPDATE commandes SET facture_id = $2, updated_at = now() WHERE id = $1`,
		arg.ID, arg.FactureID,
	)
	return err
}
