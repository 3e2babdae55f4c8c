package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const userColumns = `id, societe_id, email, password_hash, nom, role, created_at, updated_at`

func scanUser(row rowScanner) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.SocieteID, &u.Email, &u.PasswordHash, &u.Nom, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

type CreateUserParams struct {
	ID           pgtype.UUID
	SocieteID    pgtype.UUID
	Email        string
	PasswordHash string
	Nom          pgtype.Text
	Role         string
}

func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (User, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO users (id, societe_id, email, password_hash, nom, role)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+userColumns,
		arg.ID, arg.SocieteID, arg.Email, arg.PasswordHash, arg.Nom, arg.Role,
	)
	return scanUser(row)
}

type GetUserByEmailParams struct {
	SocieteID pgtype.UUID
	Email     string
}

func (q *Queries) GetUserByEmail(ctx context.Context, arg GetUserByEmailParams) (User, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+userColumns+` FROM users WHERE societe_id = $1 AND lower(email) = lower($2)`,
		arg.SocieteID, arg.Email,
	)
	return scanUser(row)
}

func (q *Queries) GetUser(ctx context.Context, id pgtype.UUID) (User, error) {
	row := q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

type UpdateUserProfileParams struct {
	ID  pgtype.UUID
	Nom pgtype.Text
}

func (q *Queries) UpdateUserProfile(ctx context.Context, arg UpdateUserProfileParams) (User, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE users SET nom = $2, updated_at = now() WHERE id = $1
		RETURNING `+userColumns,
		arg.ID, arg.Nom,
	)
	return scanUser(row)
}

type UpdateUserPasswordParams struct {
	ID           pgtype.UUID
	PasswordHash string
}

func (q *Queries) UpdateUserPassword(ctx context.Context, arg UpdateUserPasswordParams) error {
	_, err := q.db.Exec(ctx, `
		UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`,
		arg.ID, arg.PasswordHash,
	)
	return err
}

const sessionColumns = `id, user_id, refresh_token_hash, expires_at, revoked_at, created_at`

func scanSession(row rowScanner) (Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.UserID, &s.RefreshTokenHash, &s.ExpiresAt, &s.RevokedAt, &s.CreatedAt)
	return s, err
}

type CreateSessionParams struct {
	ID               pgtype.UUID
	UserID           pgtype.UUID
	RefreshTokenHash string
	ExpiresAt        pgtype.Timestamptz
}

func (q *Queries) CreateSession(ctx context.Context, arg CreateSessionParams) (Session, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO sessions (id, user_id, refresh_token_hash, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING `+sessionColumns,
		arg.ID, arg.UserID, arg.RefreshTokenHash, arg.ExpiresAt,
	)
	return scanSession(row)
}

// GetSessionByTokenHash returns only live sessions: not revoked, not expired.
func (q *Queries) GetSessionByTokenHash(ctx context.Context, tokenHash string) (Session, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE refresh_token_hash = $1 AND revoked_at IS NULL AND expires_at > now()`,
		tokenHash,
	)
	return scanSession(row)
}

func (q *Queries) RevokeSession(ctx context.Context, id pgtype.UUID) error {
	_, err := q.db.Exec(ctx, `
		UPDATE sessions SET revoked_at = now() WHERE id = $1 AND revoked_at IS NULL`, id)
	return err
}

func (q *Queries) RevokeUserSessions(ctx context.Context, userID pgtype.UUID) error {
	_, err := q.db.Exec(ctx, `
		UPDATE sessions SET revoked_at = now() WHERE user_id = $1 AND revoked_at IS NULL`, userID)
	return err
}

func (q *Queries) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM sessions WHERE expires_at < now() - interval '7 days'`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const passwordResetColumns = `id, user_id, token_hash, expires_at, used_at, created_at`

func scanPasswordReset(row rowScanner) (PasswordReset, error) {
	var p PasswordReset
	err := row.Scan(&p.ID, &p.UserID, &p.TokenHash, &p.ExpiresAt, &p.UsedAt, &p.CreatedAt)
	return p, err
}

type CreatePasswordResetParams struct {
	ID        pgtype.UUID
	UserID    pgtype.UUID
	TokenHash string
	ExpiresAt pgtype.Timestamptz
}

func (q *Queries) CreatePasswordReset(ctx context.Context, arg CreatePasswordResetParams) (PasswordReset, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO password_resets (id, user_id, token_hash, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING `+passwordResetColumns,
		arg.ID, arg.UserID, arg.TokenHash, arg.ExpiresAt,
	)
	return scanPasswordReset(row)
}

func (q *Queries) GetPasswordResetByTokenHash(ctx context.Context, tokenHash string) (PasswordReset, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+passwordResetColumns+` FROM password_resets
		WHERE token_hash = $1 AND used_at IS NULL AND expires_at > now()`,
		tokenHash,
	)
	return scanPasswordReset(row)
}

func (q *Queries) MarkPasswordResetUsed(ctx context.Context, id pgtype.UUID) error {
	_, err := q.db.Exec(ctx, `UPDATE password_resets SET used_at = now() WHERE id = $1`, id)
	return err
}
