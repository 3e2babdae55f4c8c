package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const clientColumns = `id, societe_id, kind, raison_sociale, contact_nom, email, telephone,
	adresse, code_postal, ville, pays, consent_email, consent_email_at,
	consent_telephone, consent_telephone_at, created_at, updated_at`

func scanClient(row rowScanner) (Client, error) {
	var c Client
	err := row.Scan(
		&c.ID, &c.SocieteID, &c.Kind, &c.RaisonSociale, &c.ContactNom, &c.Email,
		&c.Telephone, &c.Adresse, &c.CodePostal, &c.Ville, &c.Pays,
		&c.ConsentEmail, &c.ConsentEmailAt, &c.ConsentTelephone, &c.ConsentTelephoneAt,
		&c.CreatedAt, &c.UpdatedAt,
	)
	return c, err
}

type CreateClientParams struct {
	ID            pgtype.UUID
	SocieteID     pgtype.UUID
	Kind          string
	RaisonSociale string
	ContactNom    pgtype.Text
	Email         pgtype.Text
	Telephone     pgtype.Text
	Adresse       pgtype.Text
	CodePostal    pgtype.Text
	Ville         pgtype.Text
	Pays          pgtype.Text
}

func (q *Queries) CreateClient(ctx context.Context, arg CreateClientParams) (Client, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO clients (id, societe_id, kind, raison_sociale, contact_nom, email,
			telephone, adresse, code_postal, ville, pays)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+clientColumns,
		arg.ID, arg.SocieteID, arg.Kind, arg.RaisonSociale, arg.ContactNom, arg.Email,
		arg.Telephone, arg.Adresse, arg.CodePostal, arg.Ville, arg.Pays,
	)
	return scanClient(row)
}

type GetClientParams struct {
	SocieteID pgtype.UUID
	ID        pgtype.UUID
}

func (q *Queries) GetClient(ctx context.Context, arg GetClientParams) (Client, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+clientColumns+` FROM clients WHERE societe_id = $1 AND id = $2`,
		arg.SocieteID, arg.ID,
	)
	return scanClient(row)
}

type ListClientsParams struct {
	SocieteID pgtype.UUID
	Kind      pgtype.Text
	Search    pgtype.Text
	Limit     int32
	Offset    int32
}

func (q *Queries) ListClients(ctx context.Context, arg ListClientsParams) ([]Client, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+clientColumns+` FROM clients
		WHERE societe_id = $1
		  AND ($2::text IS NULL OR kind = $2)
		  AND ($3::text IS NULL OR raison_sociale ILIKE '%' || $3 || '%' OR email ILIKE '%' || $3 || '%')
		ORDER BY raison_sociale
		LIMIT $4 OFFSET $5`,
		arg.SocieteID, arg.Kind, arg.Search, arg.Limit, arg.Offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

type CountClientsParams struct {
	SocieteID pgtype.UUID
	Kind      pgtype.Text
	Search    pgtype.Text
}

func (q *Queries) CountClients(ctx context.Context, arg CountClientsParams) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, `
		SELECT count(*) FROM clients
		WHERE societe_id = $1
		  AND ($2::text IS NULL OR kind = $2)
		  AND ($3::text IS NULL OR raison_sociale ILIKE '%' || $3 || '%' OR email ILIKE '%' || $3 || '%')`,
		arg.SocieteID, arg.Kind, arg.Search,
	).Scan(&count)
	return count, err
}

type UpdateClientParams struct {
	SocieteID     pgtype.UUID
	ID            pgtype.UUID
	Kind          string
	RaisonSociale string
	ContactNom    pgtype.Text
	Email         pgtype.Text
	Telephone     pgtype.Text
	Adresse       pgtype.Text
	CodePostal    pgtype.Text
	Ville         pgtype.Text
	Pays          pgtype.Text
}

func (q *Queries) UpdateClient(ctx context.Context, arg UpdateClientParams) (Client, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE clients
		SET kind = $3, raison_sociale = $4, contact_nom = $5, email = $6, telephone = $7,
		    adresse = $8, code_postal = $9, ville = $10, pays = $11, updated_at = now()
		WHERE societe_id = $1 AND id = $2
		RETURNING `+clientColumns,
		arg.SocieteID, arg.ID, arg.Kind, arg.RaisonSociale, arg.ContactNom, arg.Email,
		arg.Telephone, arg.Adresse, arg.CodePostal, arg.Ville, arg.Pays,
	)
	return scanClient(row)
}

type UpdateClientConsentParams struct {
	SocieteID          pgtype.UUID
	ID                 pgtype.UUID
	ConsentEmail       bool
	ConsentEmailAt     pgtype.Timestamptz
	ConsentTelephone   bool
	ConsentTelephoneAt pgtype.Timestamptz
}

// UpdateClientConsent only touches consent flags and their timestamps so the
// audit trail can record exactly what changed.
func (q *Queries) UpdateClientConsent(ctx context.Context, arg UpdateClientConsentParams) (Client, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE clients
		SET consent_email = $3, consent_email_at = $4,
		    consent_telephone = $5, consent_telephone_at = $6, updated_at = now()
		WHERE societe_id = $1 AND id = $2
		RETURNING `+clientColumns,
		arg.SocieteID, arg.ID, arg.ConsentEmail, arg.ConsentEmailAt,
		arg.ConsentTelephone, arg.ConsentTelephoneAt,
	)
	return scanClient(row)
}

func (q *Queries) DeleteClient(ctx context.Context, arg GetClientParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM clients WHERE societe_id = $1 AND id = $2`, arg.SocieteID, arg.ID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
