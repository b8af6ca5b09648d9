package ach

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bibbank/loanserve/pkg/postgres"
)

// ReturnProcessor handles incoming NACHA return files. It looks up the
// originating entry by trace number, records the return idempotently,
// and signals downstream components entirely through the outbox rather
// than a direct port call: a reversal is requested from internal/payment
// by event, never by importing payment's types.
type ReturnProcessor struct {
	tx      TxRunner
	entries EntryLookup
	returns ReturnRepository
	outbox  OutboxRepository
	log     *slog.Logger
}

func NewReturnProcessor(tx TxRunner, entries EntryLookup, returns ReturnRepository, outbox OutboxRepository, log *slog.Logger) *ReturnProcessor {
	return &ReturnProcessor{tx: tx, entries: entries, returns: returns, outbox: outbox, log: log}
}

type reversalRequestedPayload struct {
	LoanID      uuid.UUID `json:"loan_id"`
	EntryID     uuid.UUID `json:"entry_id"`
	TraceNumber string    `json:"trace_number"`
	ReturnCode  string    `json:"return_code"`
}

type retryScheduledPayload struct {
	EntryID     uuid.UUID `json:"entry_id"`
	TraceNumber string    `json:"trace_number"`
	ReturnCode  string    `json:"return_code"`
}

type exceptionOpenedPayload struct {
	EntryID     uuid.UUID `json:"entry_id"`
	TraceNumber string    `json:"trace_number"`
	ReturnCode  string    `json:"return_code"`
	Reason      string    `json:"reason"`
}

// ProcessReturn implements spec §4.9's "Returns" steps: lookup entry by
// trace, insert the return row (idempotent on entry id), emit a
// reversal-requested event when the entry is loan-scoped, then branch on
// whether the return code is retryable.
func (p *ReturnProcessor) ProcessReturn(ctx context.Context, traceNumber string, code ReturnCode, reason string, receivedAt time.Time) error {
	return p.tx.WithTransaction(ctx, func(q postgres.Querier) error {
		entry, err := p.entries.GetEntryByTrace(ctx, q, traceNumber)
		if err != nil {
			return fmt.Errorf("ach: lookup entry by trace %s: %w", traceNumber, err)
		}

		returnID, created, err := p.returns.InsertReturn(ctx, q, Return{
			ReturnID:   uuid.New(),
			EntryID:    entry.EntryID,
			Code:       code,
			Reason:     reason,
			ReceivedAt: receivedAt,
		})
		if err != nil {
			return fmt.Errorf("ach: insert return: %w", err)
		}
		if !created {
			p.log.InfoContext(ctx, "ach: return already recorded for entry, skipping", "entry_id", entry.EntryID, "return_id", returnID)
			return nil
		}

		if entry.LoanID != nil {
			if err := enqueueOutbox(ctx, q, p.outbox, TopicPaymentReversalRequested, uuid.New(), "payment.reversal_requested.v1", traceNumber, reversalRequestedPayload{
				LoanID:      *entry.LoanID,
				EntryID:     entry.EntryID,
				TraceNumber: traceNumber,
				ReturnCode:  string(code),
			}); err != nil {
				return err
			}
		}

		if code.retryable() {
			return enqueueOutbox(ctx, q, p.outbox, TopicACHReturnRetryScheduled, uuid.New(), "ach.return_retry_scheduled.v1", traceNumber, retryScheduledPayload{
				EntryID:     entry.EntryID,
				TraceNumber: traceNumber,
				ReturnCode:  string(code),
			})
		}
		return enqueueOutbox(ctx, q, p.outbox, TopicACHReturnExceptionOpened, uuid.New(), "ach.return_exception_opened.v1", traceNumber, exceptionOpenedPayload{
			EntryID:     entry.EntryID,
			TraceNumber: traceNumber,
			ReturnCode:  string(code),
			Reason:      reason,
		})
	})
}
