package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bibbank/loanserve/pkg/money"
	"github.com/bibbank/loanserve/pkg/postgres"
)

// TxRunner executes fn within a database transaction, passing a Querier
// scoped to it. It abstracts over pgxpool so Service can be exercised
// against a fake in tests without a live database.
type TxRunner interface {
	WithTransaction(ctx context.Context, fn func(postgres.Querier) error) error
}

// Service is the ledger core (spec C2): postEvent plus the thin,
// contract-preserving posting helpers built on top of it.
type Service struct {
	tx   TxRunner
	repo EventRepository
	bal  BalanceReader
	log  *slog.Logger
}

// NewService wires the ledger service to its repositories.
func NewService(tx TxRunner, repo EventRepository, bal BalanceReader, log *slog.Logger) *Service {
	return &Service{tx: tx, repo: repo, bal: bal, log: log}
}

// PostEvent opens a transaction, inserts the event and its lines, verifies
// the balance invariant a second time, finalizes, and commits — the
// postEvent contract of spec §4.2. On any failure it rolls back without
// side effect.
func (s *Service) PostEvent(ctx context.Context, loanID uuid.UUID, effectiveDate time.Time, correlationID, schema, currency string, lines []Line) (uuid.UUID, error) {
	e, err := NewEvent(loanID, effectiveDate, schema, correlationID, currency, lines)
	if err != nil {
		return uuid.Nil, err
	}

	err = s.tx.WithTransaction(ctx, func(q postgres.Querier) error {
		if _, exists, ferr := s.repo.FindByCorrelation(ctx, q, correlationID); ferr != nil {
			return fmt.Errorf("ledger: lookup correlation: %w", ferr)
		} else if exists {
			return ErrDuplicateCorrelation
		}

		if !e.Balanced() {
			return ErrUnbalanced
		}

		if err := s.repo.Insert(ctx, q, e); err != nil {
			return fmt.Errorf("ledger: insert event: %w", err)
		}

		// Defense in depth: repeat the balance check inside the same
		// transaction immediately before finalizing.
		if !e.Balanced() {
			return ErrUnbalanced
		}

		now := time.Now().UTC()
		if err := s.repo.Finalize(ctx, q, e.ID, now); err != nil {
			return fmt.Errorf("ledger: finalize event: %w", err)
		}
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}

	s.log.Info("ledger event posted", "event_id", e.ID, "loan_id", loanID, "schema", schema, "correlation_id", correlationID)
	return e.ID, nil
}

// LatestBalances returns {principal, interest receivable, escrow
// liability, fees receivable, cash} (and any other finalized account) for
// loanID, derived solely from finalized entries.
func (s *Service) LatestBalances(ctx context.Context, loanID uuid.UUID, q postgres.Querier) (map[Account]money.Minor, error) {
	return s.bal.LatestBalances(ctx, q, loanID)
}

// TrialBalance aggregates over all finalized entries, grouped by account
// and currency.
func (s *Service) TrialBalance(ctx context.Context, q postgres.Querier) ([]TrialBalanceLine, error) {
	return s.bal.TrialBalance(ctx, q)
}

// ReverseEvent loads an event by correlation ID and posts its reversal —
// a sibling event with swapped debit/credit legs, schema posting.reversal.v1.
func (s *Service) ReverseEvent(ctx context.Context, q postgres.Querier, correlationID string, effectiveDate time.Time) (uuid.UUID, error) {
	orig, ok, err := s.repo.FindByCorrelation(ctx, q, correlationID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("ledger: lookup for reversal: %w", err)
	}
	if !ok {
		return uuid.Nil, fmt.Errorf("ledger: no event for correlation %q", correlationID)
	}
	reversal, err := orig.Reverse(effectiveDate)
	if err != nil {
		return uuid.Nil, err
	}
	return s.PostEvent(ctx, reversal.LoanID, reversal.EffectiveDate, reversal.CorrelationID, reversal.Schema, reversal.Currency, reversal.Lines)
}
