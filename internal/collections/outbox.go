package collections

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bibbank/loanserve/pkg/events"
	"github.com/bibbank/loanserve/pkg/postgres"
)

// enqueueOutbox wraps payload in the canonical envelope and enqueues it,
// mirroring internal/payment and internal/escrow's helper of the same name.
func enqueueOutbox(ctx context.Context, q postgres.Querier, outbox OutboxRepository, topic string, eventID uuid.UUID, schema, correlationID string, payload any) error {
	envelope, err := events.NewEnvelope(schema, correlationID, "", 0, payload)
	if err != nil {
		return fmt.Errorf("collections: build outbox envelope: %w", err)
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("collections: marshal outbox envelope: %w", err)
	}
	row := OutboxRow{
		EventID:     eventID,
		Topic:       topic,
		Payload:     raw,
		CreatedAt:   time.Now().UTC(),
		NextRetryAt: time.Now().UTC(),
	}
	if err := outbox.Enqueue(ctx, q, row); err != nil {
		return fmt.Errorf("collections: enqueue outbox row: %w", err)
	}
	return nil
}

// dispatchBatchSize bounds one dispatch pass.
const dispatchBatchSize = 100

// Dispatcher drains the collections outbox: fetches due rows, publishes
// each with publisher confirms, and advances retry/park bookkeeping on
// failure (mirrors internal/payment.Dispatcher).
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

func (d *Dispatcher) handleFailure(ctx context.Context, q postgres.Querier, row OutboxRow, cause error) error {
	attempt := row.AttemptCount + 1
	if attempt >= MaxDispatchAttempts {
		d.log.Error("outbox row parked after max dispatch attempts", "event_id", row.EventID, "topic", row.Topic, "error", cause)
		return d.outbox.Park(ctx, q, row.EventID)
	}

	d.log.Warn("outbox publish failed, will retry", "event_id", row.EventID, "topic", row.Topic, "attempt", attempt, "error", cause)
	return d.outbox.MarkFailed(ctx, q, row.EventID, attempt, nextRetryAt(d.now(), attempt), cause.Error())
}
