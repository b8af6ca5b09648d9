package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bibbank/loanserve/pkg/postgres"
)

// PoolRunner implements ledger.TxRunner against a pgxpool.Pool.
type PoolRunner struct {
	Pool *pgxpool.Pool
}

// NewPoolRunner wraps pool as a ledger.TxRunner.
func NewPoolRunner(pool *pgxpool.Pool) *PoolRunner {
	return &PoolRunner{Pool: pool}
}

// WithTransaction runs fn inside a pgx transaction, committing on success
// and rolling back on any error fn returns.
func (r *PoolRunner) WithTransaction(ctx context.Context, fn func(postgres.Querier) error) error {
	err := postgres.WithTransaction(ctx, r.Pool, func(tx pgx.Tx) error {
		return fn(tx)
	})
	if err != nil {
		return fmt.Errorf("ledger/postgres: %w", err)
	}
	return nil
}
