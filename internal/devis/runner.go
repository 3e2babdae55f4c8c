package devis

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/technoprod/backend-gestion/internal/store"
)

// PoolRunner runs each mutation in one pgx transaction, handing the callback
// a transaction-bound query set.
type PoolRunner struct {
	Pool *pgxpool.Pool
}

// RunTx implements TxRunner.
func (r PoolRunner) RunTx(ctx context.Context, fn func(q Querier) error) error {
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(store.New(tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
