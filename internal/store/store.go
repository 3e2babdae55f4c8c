// Package store is the hand-written query layer over PostgreSQL. Method and
// struct shapes follow the sqlc convention (Params/Row structs, a DBTX seam)
// so services can declare narrow Querier interfaces and stub them in tests.
package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries bundles all query methods over one DBTX.
type Queries struct {
	db DBTX
}

// New returns a Queries bound to the given pool or transaction.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns a Queries bound to the given transaction.
func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

// rowScanner abstracts pgx.Row and pgx.Rows for the scan helpers.
type rowScanner interface {
	Scan(dest ...any) error
}
