// Package postgres implements the scheduler's repository ports against
// PostgreSQL, in the same Querier-parameterized shape as every other
// component's repository. ListActiveLoans reads the loans table directly
// (owned by internal/payment's migration), the same cross-package
// direct-table-read convention already used by C6/C7/C8/C9.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bibbank/loanserve/internal/scheduler"
	"github.com/bibbank/loanserve/pkg/postgres"
)

type Repository struct{}

func New() *Repository {
	return &Repository{}
}

// ListActiveLoans returns every loan whose status is "active". asOf is
// accepted for interface symmetry with a future status-effective-dated
// loan model; the current loans table has no temporal status history.
func (r *Repository) ListActiveLoans(ctx context.Context, q postgres.Querier, asOf time.Time) ([]uuid.UUID, error) {
	rows, err := q.Query(ctx, `SELECT id FROM loans WHERE status = 'active' ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("scheduler: list active loans: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scheduler: scan loan id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *Repository) Enqueue(ctx context.Context, q postgres.Querier, row scheduler.OutboxRow) error {
	_, err := q.Exec(ctx, `
		INSERT INTO scheduler_outbox (event_id, topic, payload, created_at, next_retry_at)
		VALUES ($1, $2, $3, $4, $5)`,
		row.EventID, row.Topic, row.Payload, row.CreatedAt, row.NextRetryAt)
	return err
}

func (r *Repository) FetchDue(ctx context.Context, q postgres.Querier, limit int, now time.Time) ([]scheduler.OutboxRow, error) {
	rows, err := q.Query(ctx,
		`SELECT event_id, topic, payload, created_at, attempt_count, next_retry_at, last_error
		 FROM scheduler_outbox
		 WHERE published_at IS NULL AND NOT parked AND next_retry_at <= $1
		 ORDER BY created_at
		 LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("scheduler/postgres: fetch due outbox rows: %w", err)
	}
	defer rows.Close()

	var out []scheduler.OutboxRow
	for rows.Next() {
		var row scheduler.OutboxRow
		if err := rows.Scan(&row.EventID, &row.Topic, &row.Payload, &row.CreatedAt, &row.AttemptCount, &row.NextRetryAt, &row.LastError); err != nil {
			return nil, fmt.Errorf("scheduler/postgres: scan outbox row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *Repository) MarkPublished(ctx context.Context, q postgres.Querier, eventID uuid.UUID, at time.Time) error {
	_, err := q.Exec(ctx, `UPDATE scheduler_outbox SET published_at = $2 WHERE event_id = $1`, eventID, at)
	if err != nil {
		return fmt.Errorf("scheduler/postgres: mark published: %w", err)
	}
	return nil
}

func (r *Repository) MarkFailed(ctx context.Context, q postgres.Querier, eventID uuid.UUID, attemptCount int, nextRetryAt time.Time, lastErr string) error {
	_, err := q.Exec(ctx,
		`UPDATE scheduler_outbox SET attempt_count = $2, next_retry_at = $3, last_error = $4 WHERE event_id = $1`,
		eventID, attemptCount, nextRetryAt, lastErr,
	)
	if err != nil {
		return fmt.Errorf("scheduler/postgres: mark failed: %w", err)
	}
	return nil
}

func (r *Repository) Park(ctx context.Context, q postgres.Querier, eventID uuid.UUID) error {
	_, err := q.Exec(ctx, `UPDATE scheduler_outbox SET parked = true WHERE event_id = $1`, eventID)
	if err != nil {
		return fmt.Errorf("scheduler/postgres: park: %w", err)
	}
	return nil
}
