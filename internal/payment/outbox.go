package payment

import (
	"context"
	"log/slog"
	"time"

	"github.com/bibbank/loanserve/pkg/postgres"
)

// dispatchBatchSize bounds one dispatch pass (spec §4.5: "publishes in
// small batches (≤100)").
const dispatchBatchSize = 100

// Dispatcher drains the outbox: fetches due rows, publishes each with
// publisher confirms, and advances its retry/park bookkeeping on failure
// (spec §4.5 "Outbox dispatcher").
type Dispatcher struct {
	tx        TxRunner
	outbox    OutboxRepository
	publisher Publisher
	log       *slog.Logger
	now       func() time.Time
}

// NewDispatcher wires the dispatcher to its dependencies.
func NewDispatcher(tx TxRunner, outbox OutboxRepository, publisher Publisher, log *slog.Logger) *Dispatcher {
	return &Dispatcher{tx: tx, outbox: outbox, publisher: publisher, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// DispatchOnce runs a single fetch-publish-mark pass and returns how many
// rows were successfully published. Callers (cmd/outboxd) loop this on a
// poll interval.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	published := 0

	err := d.tx.WithTransaction(ctx, func(q postgres.Querier) error {
		rows, err := d.outbox.FetchDue(ctx, q, dispatchBatchSize, d.now())
		if err != nil {
			return err
		}

		for _, row := range rows {
			if err := d.publisher.Publish(ctx, row.Topic, []byte(row.EventID.String()), row.Payload); err != nil {
				if derr := d.handleFailure(ctx, q, row, err); derr != nil {
					return derr
				}
				continue
			}
			if err := d.outbox.MarkPublished(ctx, q, row.EventID, d.now()); err != nil {
				return err
			}
			published++
		}
		return nil
	})

	return published, err
}

// handleFailure advances a row's attempt count, parking it once it has
// exhausted MaxDispatchAttempts (spec §4.5: "capped at 5 attempts ->
// parked, requires operator action").
func (d *Dispatcher) handleFailure(ctx context.Context, q postgres.Querier, row OutboxRow, cause error) error {
	attempt := row.AttemptCount + 1
	if attempt >= MaxDispatchAttempts {
		d.log.Error("outbox row parked after max dispatch attempts", "event_id", row.EventID, "topic", row.Topic, "error", cause)
		return d.outbox.Park(ctx, q, row.EventID)
	}

	d.log.Warn("outbox publish failed, will retry", "event_id", row.EventID, "topic", row.Topic, "attempt", attempt, "error", cause)
	return d.outbox.MarkFailed(ctx, q, row.EventID, attempt, nextRetryAt(d.now(), attempt), cause.Error())
}
