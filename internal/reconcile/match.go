package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bibbank/loanserve/internal/ledger"
	"github.com/bibbank/loanserve/pkg/money"
	"github.com/bibbank/loanserve/pkg/postgres"
)

// Matcher scores a bank txn against candidate ledger cash events and
// either auto-matches it or opens/refreshes a reconciliation exception
// (spec §4.8 "Candidate scoring" / "Auto-match").
type Matcher struct {
	tx         TxRunner
	stmts      StatementRepository
	cash       CashEventLookup
	exceptions ExceptionRepository
	ledger     LedgerPoster
	outbox     OutboxRepository
	log        *slog.Logger
}

func NewMatcher(tx TxRunner, stmts StatementRepository, cash CashEventLookup, exceptions ExceptionRepository, poster LedgerPoster, outbox OutboxRepository, log *slog.Logger) *Matcher {
	return &Matcher{tx: tx, stmts: stmts, cash: cash, exceptions: exceptions, ledger: poster, outbox: outbox, log: log}
}

// MatchResult is the outcome of running Match against one bank txn.
type MatchResult struct {
	AutoMatched bool
	EventID     uuid.UUID
	TopScore    int
	Candidates  []Candidate
}

type reconciledPayload struct {
	BankTxnID     string `json:"bank_txn_id"`
	EventID       string `json:"event_id"`
	CorrelationID string `json:"correlation_id"`
	Score         int    `json:"score"`
}

// Match scores bankTxnID's candidates and auto-matches or files an
// exception (spec §4.8).
func (m *Matcher) Match(ctx context.Context, bankTxnID uuid.UUID) (MatchResult, error) {
	var result MatchResult

	err := m.tx.WithTransaction(ctx, func(q postgres.Querier) error {
		txn, found, err := m.stmts.GetTxn(ctx, q, bankTxnID)
		if err != nil {
			return fmt.Errorf("load bank txn: %w", err)
		}
		if !found {
			return fmt.Errorf("bank txn %s not found", bankTxnID)
		}
		if txn.Matched {
			result = MatchResult{AutoMatched: true, EventID: *txn.MatchedTo}
			return nil
		}

		events, err := m.cash.CashEventsNear(ctx, q, txn.PostedDate, candidateWindowDays)
		if err != nil {
			return fmt.Errorf("load candidate cash events: %w", err)
		}

		parsed := ParsedTxn{
			Type:        txn.Type,
			AmountMinor: txn.AmountMinor,
			BankRef:     txn.BankRef,
			Description: txn.Description,
			PostedDate:  txn.PostedDate,
		}
		candidates := rankCandidates(parsed, events)
		result.Candidates = candidates

		if len(candidates) > 0 {
			result.TopScore = candidates[0].Score
		}

		if len(candidates) > 0 && candidates[0].Score >= autoMatchThreshold {
			top := candidates[0]
			if err := m.stmts.MarkMatched(ctx, q, bankTxnID, top.Event.EventID); err != nil {
				return fmt.Errorf("mark matched: %w", err)
			}
			if err := m.exceptions.Resolve(ctx, q, bankTxnID, time.Now().UTC()); err != nil {
				return fmt.Errorf("resolve exception: %w", err)
			}
			if err := enqueueOutbox(ctx, q, m.outbox, TopicCashReconciled, uuid.New(), TopicCashReconciled, top.Event.CorrelationID, reconciledPayload{
				BankTxnID:     bankTxnID.String(),
				EventID:       top.Event.EventID.String(),
				CorrelationID: top.Event.CorrelationID,
				Score:         top.Score,
			}); err != nil {
				return err
			}
			result.AutoMatched = true
			result.EventID = top.Event.EventID
			return nil
		}

		variance := txn.AmountMinor
		if len(candidates) > 0 {
			expected := txn.AmountMinor
			if txn.Type == TxnDebit || txn.Type == TxnFee {
				expected = -expected
			}
			variance = money.Minor(int64(expected) - int64(candidates[0].Event.NetMinor))
		}
		if _, err := m.exceptions.Upsert(ctx, q, bankTxnID, variance); err != nil {
			return fmt.Errorf("upsert exception: %w", err)
		}
		return nil
	})
	if err != nil {
		return MatchResult{}, err
	}
	return result, nil
}

// ManualMatch records an operator-confirmed match between a bank txn and a
// specific ledger event, bypassing the scorer (spec §4.8 "Manual match...
// sets matched pair and emits cash.reconciled.v1").
func (m *Matcher) ManualMatch(ctx context.Context, bankTxnID, eventID uuid.UUID, correlationID string) error {
	return m.tx.WithTransaction(ctx, func(q postgres.Querier) error {
		if err := m.stmts.MarkMatched(ctx, q, bankTxnID, eventID); err != nil {
			return fmt.Errorf("mark matched: %w", err)
		}
		if err := m.exceptions.Resolve(ctx, q, bankTxnID, time.Now().UTC()); err != nil {
			return fmt.Errorf("resolve exception: %w", err)
		}
		return enqueueOutbox(ctx, q, m.outbox, TopicCashReconciled, uuid.New(), TopicCashReconciled, correlationID, reconciledPayload{
			BankTxnID:     bankTxnID.String(),
			EventID:       eventID.String(),
			CorrelationID: correlationID,
		})
	})
}

// WriteOff posts the compensating ledger event for an unreconcilable bank
// txn and marks its exception written_off (spec §4.8 "Write-off posts a
// compensating ledger event... and marks the exception written_off + the
// bank txn matched to the write-off event").
//
// expenseAccount is the debit side of the compensating entry (e.g.
// ledger.AccountFeeExpense for a bank fee); cash is always the credit
// side since a write-off always represents cash leaving unreconciled.
func (m *Matcher) WriteOff(ctx context.Context, bankTxnID, loanID uuid.UUID, effectiveDate time.Time, currency string, expenseAccount ledger.Account) error {
	return m.tx.WithTransaction(ctx, func(q postgres.Querier) error {
		txn, found, err := m.stmts.GetTxn(ctx, q, bankTxnID)
		if err != nil {
			return fmt.Errorf("load bank txn: %w", err)
		}
		if !found {
			return fmt.Errorf("bank txn %s not found", bankTxnID)
		}

		debit, err := ledger.DebitLine(expenseAccount, txn.AmountMinor, "Reconciliation write-off")
		if err != nil {
			return err
		}
		credit, err := ledger.CreditLine(ledger.AccountCash, txn.AmountMinor, "Reconciliation write-off")
		if err != nil {
			return err
		}
		correlationID := fmt.Sprintf("recon:writeoff:%s", bankTxnID)
		eventID, err := m.ledger.PostEvent(ctx, loanID, effectiveDate, correlationID, schemaReconciliationWriteOff, currency, []ledger.Line{debit, credit})
		if err != nil {
			return fmt.Errorf("post write-off event: %w", err)
		}

		if err := m.stmts.MarkMatched(ctx, q, bankTxnID, eventID); err != nil {
			return fmt.Errorf("mark matched: %w", err)
		}
		if err := m.exceptions.WriteOff(ctx, q, bankTxnID, time.Now().UTC()); err != nil {
			return fmt.Errorf("mark exception written off: %w", err)
		}
		return enqueueOutbox(ctx, q, m.outbox, TopicCashReconciled, uuid.New(), TopicCashReconciled, correlationID, reconciledPayload{
			BankTxnID:     bankTxnID.String(),
			EventID:       eventID.String(),
			CorrelationID: correlationID,
		})
	})
}
