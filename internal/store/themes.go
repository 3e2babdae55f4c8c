package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const themeColumns = `societe_id, couleur_primaire, couleur_secondaire, logo_url, libelles, updated_at`

func scanTheme(row rowScanner) (Theme, error) {
	var t Theme
	err := row.Scan(&t.SocieteID, &t.CouleurPrimaire, &t.CouleurSecondaire, &t.LogoURL, &t.Libelles, &t.UpdatedAt)
	return t, err
}

func (q *Queries) GetTheme(ctx context.Context, societeID pgtype.UUID) (Theme, error) {
	row := q.db.QueryRow(ctx, `SELECT `+themeColumns+` FROM themes WHERE societe_id = $1`, societeID)
	return scanTheme(row)
}

type UpsertThemeParams struct {
	SocieteID         pgtype.UUID
	CouleurPrimaire   string
	CouleurSecondaire string
	LogoURL           pgtype.Text
	Libelles          []byte
}

func (q *Queries) UpsertTheme(ctx context.Context, arg UpsertThemeParams) (Theme, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO themes (societe_id, couleur_primaire, couleur_secondaire, logo_url, libelles)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (societe_id) DO UPDATE
		SET couleur_primaire = EXCLUDED.couleur_primaire,
		    couleur_secondaire = EXCLUDED.couleur_secondaire,
		    logo_url = EXCLUDED.logo_url,
		    libelles = EXCLUDED.libelles,
		    updated_at = now()
		RETURNING `+themeColumns,
		arg.SocieteID, arg.CouleurPrimaire, arg.CouleurSecondaire, arg.LogoURL, arg.Libelles,
	)
	return scanTheme(row)
}
