package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const ligneColumns = `id, devis_id, kind, position, designation, description, quantite,
	prix_unitaire, remise_pct, taux_tva, total_ht, total_ttc, produit_id, params, created_at, updated_at`

func scanLigne(row rowScanner) (DevisLigne, error) {
	var l DevisLigne
	err := row.Scan(
		&l.ID, &l.DevisID, &l.Kind, &l.Position, &l.Designation, &l.Description,
		&l.Quantite, &l.PrixUnitaire, &l.RemisePct, &l.TauxTVA, &l.TotalHT,
		&l.TotalTTC, &l.ProduitID, &l.Params, &l.CreatedAt, &l.UpdatedAt,
	)
	return l, err
}

type InsertLigneParams struct {
	ID           pgtype.UUID
	DevisID      pgtype.UUID
	Kind         string
	Position     int32
	Designation  pgtype.Text
	Description  pgtype.Text
	Quantite     pgtype.Numeric
	PrixUnitaire pgtype.Numeric
	RemisePct    pgtype.Numeric
	TauxTVA      pgtype.Numeric
	TotalHT      pgtype.Numeric
	TotalTTC     pgtype.Numeric
	ProduitID    pgtype.UUID
	Params       []byte
}

func (q *Queries) InsertLigne(ctx context.Context, arg InsertLigneParams) (DevisLigne, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO devis_lignes (id, devis_id, kind, position, designation, description,
			quantite, prix_unitaire, remise_pct, taux_tva, total_ht, total_ttc, produit_id, params)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING `+ligneColumns,
		arg.ID, arg.DevisID, arg.Kind, arg.Position, arg.Designation, arg.Description,
		arg.Quantite, arg.PrixUnitaire, arg.RemisePct, arg.TauxTVA, arg.TotalHT,
		arg.TotalTTC, arg.ProduitID, arg.Params,
	)
	return scanLigne(row)
}

type GetLigneParams struct {
	DevisID pgtype.UUID
	ID      pgtype.UUID
}

// GetLigne scopes the lookup to one devis so cross-devis IDs surface as no rows.
func (q *Queries) GetLigne(ctx context.Context, arg GetLigneParams) (DevisLigne, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+ligneColumns+` FROM devis_lignes WHERE devis_id = $1 AND id = $2`,
		arg.DevisID, arg.ID,
	)
	return scanLigne(row)
}

func (q *Queries) ListLignes(ctx context.Context, devisID pgtype.UUID) ([]DevisLigne, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+ligneColumns+` FROM devis_lignes WHERE devis_id = $1 ORDER BY position`,
		devisID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []DevisLigne
	for rows.Next() {
		l, err := scanLigne(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, l)
	}
	return items, rows.Err()
}

type UpdateLigneParams struct {
	ID           pgtype.UUID
	DevisID      pgtype.UUID
	Designation  pgtype.Text
	Description  pgtype.Text
	Quantite     pgtype.Numeric
	PrixUnitaire pgtype.Numeric
	RemisePct    pgtype.Numeric
	TauxTVA      pgtype.Numeric
	TotalHT      pgtype.Numeric
	TotalTTC     pgtype.Numeric
	ProduitID    pgtype.UUID
	Params       []byte
}

func (q *Queries) UpdateLigne(ctx context.Context, arg UpdateLigneParams) (DevisLigne, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE devis_lignes
		SET designation = $3, description = $4, quantite = $5, prix_unitaire = $6,
		    remise_pct = $7, taux_tva = $8, total_ht = $9, total_ttc = $10,
		    produit_id = $11, params = $12, updated_at = now()
		WHERE devis_id = $1 AND id = $2
		RETURNING `+ligneColumns,
		arg.DevisID, arg.ID, arg.Designation, arg.Description, arg.Quantite,
		arg.PrixUnitaire, arg.RemisePct, arg.TauxTVA, arg.TotalHT, arg.TotalTTC,
		arg.ProduitID, arg.Params,
	)
	return scanLigne(row)
}

func (q *Queries) DeleteLigne(ctx context.Context, arg GetLigneParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM devis_lignes WHERE devis_id = $1 AND id = $2`, arg.DevisID, arg.ID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type ShiftPositionsParams struct {
	DevisID  pgtype.UUID
	Position int32
}

// ShiftPositionsUp makes room for an insert: every ligne at or above the
// target position moves up by one. The unique (devis_id, position) constraint
// is deferred so the batch update is order-independent.
func (q *Queries) ShiftPositionsUp(ctx context.Context, arg ShiftPositionsParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE devis_lignes SET position = position + 1, updated_at = now()
		WHERE devis_id = $1 AND position >= $2`,
		arg.DevisID, arg.Position,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ShiftPositionsDown compacts after a delete: every ligne above the removed
// position moves down by one, keeping the sequence dense.
func (q *Queries) ShiftPositionsDown(ctx context.Context, arg ShiftPositionsParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE devis_lignes SET position = position - 1, updated_at = now()
		WHERE devis_id = $1 AND position > $2`,
		arg.DevisID, arg.Position,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type SetLignePositionParams struct {
	DevisID  pgtype.UUID
	ID       pgtype.UUID
	Position int32
}

func (q *Queries) SetLignePosition(ctx context.Context, arg SetLignePositionParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE devis_lignes SET position = $3, updated_at = now()
		WHERE devis_id = $1 AND id = $2`,
		arg.DevisID, arg.ID, arg.Position,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// NextPosition returns max(position)+1 for a devis, 0 when it has no lignes.
func (q *Queries) NextPosition(ctx context.Context, devisID pgtype.UUID) (int32, error) {
	var next int32
	err := q.db.QueryRow(ctx, `
		SELECT COALESCE(MAX(position) + 1, 0) FROM devis_lignes WHERE devis_id = $1`,
		devisID,
	).Scan(&next)
	return next, err
}

// ListLigneIDs returns the IDs of a devis' lignes in position order. Used to
// check that a reorder request is a full permutation.
func (q *Queries) ListLigneIDs(ctx context.Context, devisID pgtype.UUID) ([]pgtype.UUID, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id FROM devis_lignes WHERE devis_id = $1 ORDER BY position`,
		devisID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []pgtype.UUID
	for rows.Next() {
		var id pgtype.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
