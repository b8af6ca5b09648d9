// Package postgres implements the ledger's EventRepository and
// BalanceReader ports against a PostgreSQL store, using the shared
// postgres.Querier abstraction so callers can pass either a pool or an
// in-flight transaction.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bibbank/loanserve/internal/ledger"
	"github.com/bibbank/loanserve/pkg/money"
	"github.com/bibbank/loanserve/pkg/postgres"
)

// Repository implements ledger.EventRepository and ledger.BalanceReader.
type Repository struct{}

// New returns a Repository. It carries no state; every method takes the
// postgres.Querier to operate against.
func New() *Repository {
	return &Repository{}
}

func (r *Repository) Insert(ctx context.Context, q postgres.Querier, e ledger.Event) error {
	_, err := q.Exec(ctx,
		`INSERT INTO ledger_events (id, loan_id, effective_date, schema, correlation_id, currency, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.LoanID, e.EffectiveDate, e.Schema, e.CorrelationID, e.Currency, e.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ledger.ErrDuplicateCorrelation
		}
		return fmt.Errorf("ledger/postgres: insert event: %w", err)
	}

	for i, line := range e.Lines {
		_, err := q.Exec(ctx,
			`INSERT INTO ledger_entries (event_id, line_no, account, debit_minor, credit_minor, currency, memo)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			e.ID, i, string(line.Account), int64(line.Debit), int64(line.Credit), e.Currency, line.Memo,
		)
		if err != nil {
			return fmt.Errorf("ledger/postgres: insert entry %d: %w", i, err)
		}
	}
	return nil
}

func (r *Repository) Finalize(ctx context.Context, q postgres.Querier, eventID uuid.UUID, at time.Time) error {
	if _, err := q.Exec(ctx, `SELECT finalize_ledger_event($1, $2)`, eventID, at); err != nil {
		return fmt.Errorf("ledger/postgres: finalize event %s: %w", eventID, err)
	}
	return nil
}

func (r *Repository) FindByCorrelation(ctx context.Context, q postgres.Querier, correlationID string) (ledger.Event, bool, error) {
	row := q.QueryRow(ctx,
		`SELECT id, loan_id, effective_date, schema, correlation_id, currency, finalized_at, created_at
		 FROM ledger_events WHERE correlation_id = $1`,
		correlationID,
	)

	var e ledger.Event
	var finalizedAt *time.Time
	if err := row.Scan(&e.ID, &e.LoanID, &e.EffectiveDate, &e.Schema, &e.CorrelationID, &e.Currency, &finalizedAt, &e.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Event{}, false, nil
		}
		return ledger.Event{}, false, fmt.Errorf("ledger/postgres: find by correlation: %w", err)
	}
	e.FinalizedAt = finalizedAt

	rows, err := q.Query(ctx,
		`SELECT account, debit_minor, credit_minor, memo FROM ledger_entries WHERE event_id = $1 ORDER BY line_no`,
		e.ID,
	)
	if err != nil {
		return ledger.Event{}, false, fmt.Errorf("ledger/postgres: load entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var account string
		var debit, credit int64
		var memo string
		if err := rows.Scan(&account, &debit, &credit, &memo); err != nil {
			return ledger.Event{}, false, fmt.Errorf("ledger/postgres: scan entry: %w", err)
		}
		e.Lines = append(e.Lines, ledger.Line{
			Account: ledger.Account(account),
			Debit:   money.Minor(debit),
			Credit:  money.Minor(credit),
			Memo:    memo,
		})
	}
	if err := rows.Err(); err != nil {
		return ledger.Event{}, false, fmt.Errorf("ledger/postgres: iterate entries: %w", err)
	}

	return e, true, nil
}

func (r *Repository) LatestBalances(ctx context.Context, q postgres.Querier, loanID uuid.UUID) (map[ledger.Account]money.Minor, error) {
	rows, err := q.Query(ctx,
		`SELECT le.account, SUM(le.debit_minor) - SUM(le.credit_minor)
		 FROM ledger_entries le
		 JOIN ledger_events e ON e.id = le.event_id
		 WHERE e.loan_id = $1 AND e.finalized_at IS NOT NULL
		 GROUP BY le.account`,
		loanID,
	)
	if err != nil {
		return nil, fmt.Errorf("ledger/postgres: latest balances: %w", err)
	}
	defer rows.Close()

	balances := make(map[ledger.Account]money.Minor)
	for rows.Next() {
		var account string
		var balance int64
		if err := rows.Scan(&account, &balance); err != nil {
			return nil, fmt.Errorf("ledger/postgres: scan balance: %w", err)
		}
		balances[ledger.Account(account)] = money.Minor(balance)
	}
	return balances, rows.Err()
}

func (r *Repository) TrialBalance(ctx context.Context, q postgres.Querier) ([]ledger.TrialBalanceLine, error) {
	rows, err := q.Query(ctx,
		`SELECT le.account, le.currency, SUM(le.debit_minor) - SUM(le.credit_minor)
		 FROM ledger_entries le
		 JOIN ledger_events e ON e.id = le.event_id
		 WHERE e.finalized_at IS NOT NULL
		 GROUP BY le.account, le.currency
		 ORDER BY le.account, le.currency`,
	)
	if err != nil {
		return nil, fmt.Errorf("ledger/postgres: trial balance: %w", err)
	}
	defer rows.Close()

	var lines []ledger.TrialBalanceLine
	for rows.Next() {
		var account, currency string
		var balance int64
		if err := rows.Scan(&account, &currency, &balance); err != nil {
			return nil, fmt.Errorf("ledger/postgres: scan trial balance line: %w", err)
		}
		lines = append(lines, ledger.TrialBalanceLine{
			Account:  ledger.Account(account),
			Currency: currency,
			Balance:  money.Minor(balance),
		})
	}
	return lines, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
