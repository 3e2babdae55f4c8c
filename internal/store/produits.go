package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const produitColumns = `id, societe_id, reference, designation, description, prix_unitaire,
	taux_tva, unite, actif, created_at, updated_at`

func scanProduit(row rowScanner) (Produit, error) {
	var p Produit
	err := row.Scan(
		&p.ID, &p.SocieteID, &p.Reference, &p.Designation, &p.Description,
		&p.PrixUnitaire, &p.TauxTVA, &p.Unite, &p.Actif, &p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

type CreateProduitParams struct {
	ID           pgtype.UUID
	SocieteID    pgtype.UUID
	Reference    string
	Designation  string
	Description  pgtype.Text
	PrixUnitaire pgtype.Numeric
	TauxTVA      pgtype.Numeric
	Unite        pgtype.Text
}

func (q *Queries) CreateProduit(ctx context.Context, arg CreateProduitParams) (Produit, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO produits (id, societe_id, reference, designation, description,
			prix_unitaire, taux_tva, unite)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+produitColumns,
		arg.ID, arg.SocieteID, arg.Reference, arg.Designation, arg.Description,
		arg.PrixUnitaire, arg.TauxTVA, arg.Unite,
	)
	return scanProduit(row)
}

type GetProduitParams struct {
	SocieteID pgtype.UUID
	ID        pgtype.UUID
}

func (q *Queries) GetProduit(ctx context.Context, arg GetProduitParams) (Produit, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+produitColumns+` FROM produits WHERE societe_id = $1 AND id = $2`,
		arg.SocieteID, arg.ID,
	)
	return scanProduit(row)
}

type ListProduitsParams struct {
	SocieteID pgtype.UUID
	Search    pgtype.Text
	Limit     int32
	Offset    int32
}

func (q *Queries) ListProduits(ctx context.Context, arg ListProduitsParams) ([]Produit, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+produitColumns+` FROM produits
		WHERE societe_id = $1 AND actif
		  AND ($2::text IS NULL OR designation ILIKE '%' || $2 || '%' OR reference ILIKE '%' || $2 || '%')
		ORDER BY designation
		LIMIT $3 OFFSET $4`,
		arg.SocieteID, arg.Search, arg.Limit, arg.Offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Produit
	for rows.Next() {
		p, err := scanProduit(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

type CountProduitsParams struct {
	SocieteID pgtype.UUID
	Search    pgtype.Text
}

func (q *Queries) CountProduits(ctx context.Context, arg CountProduitsParams) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, `
		SELECT count(*) FROM produits
		WHERE societe_id = $1 AND actif
		  AND ($2::text IS NULL OR designation ILIKE '%' || $2 || '%' OR reference ILIKE '%' || $2 || '%')`,
		arg.SocieteID, arg.Search,
	).Scan(&count)
	return count, err
}

type UpdateProduitParams struct {
	SocieteID    pgtype.UUID
	ID           pgtype.UUID
	Reference    string
	Designation  string
	Description  pgtype.Text
	PrixUnitaire pgtype.Numeric
	TauxTVA      pgtype.Numeric
	Unite        pgtype.Text
	Actif        bool
}

func (q *Queries) UpdateProduit(ctx context.Context, arg UpdateProduitParams) (Produit, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE produits
		SET reference = $3, designation = $4, description = $5, prix_unitaire = $6,
		    taux_tva = $7, unite = $8, actif = $9, updated_at = now()
		WHERE societe_id = $1 AND id = $2
		RETURNING `+produitColumns,
		arg.SocieteID, arg.ID, arg.Reference, arg.Designation, arg.Description,
		arg.PrixUnitaire, arg.TauxTVA, arg.Unite, arg.Actif,
	)
	return scanProduit(row)
}

func (q *Queries) DeleteProduit(ctx context.Context, arg GetProduitParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM produits WHERE societe_id = $1 AND id = $2`, arg.SocieteID, arg.ID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
