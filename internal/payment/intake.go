package payment

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

// IntakeStage is the first pipeline stage (spec §4.5 "Intake"): computes
// the idempotency key, silently dedupes re-delivered gateway events, and
// publishes payment.received.v1 via the outbox in the same transaction as
// the intake insert.
type IntakeStage struct {
	tx      TxRunner
	intakes IntakeRepository
	outbox  OutboxRepository
	log     *slog.Logger
}

// NewIntakeStage wires the intake stage to its dependencies.
func NewIntakeStage(tx TxRunner, intakes IntakeRepository, outbox OutboxRepository, log *slog.Logger) *IntakeStage {
	return &IntakeStage{tx: tx, intakes: intakes, outbox: outbox, log: log}
}

// Handle processes one raw gateway event. A duplicate idempotency key is
// not an error: the caller should ack the message either way.
func (s *IntakeStage) Handle(ctx context.Context, raw RawGatewayEvent) error {
	key := IdempotencyKey(raw.LoanID, raw.GatewayTxnID, raw.AmountMinor, raw.Currency, raw.EffectiveDate)

	return s.tx.WithTransaction(ctx, func(q postgres.Querier) error {
		if _, exists, err := s.intakes.FindByIdempotencyKey(ctx, q, key); err != nil {
			return fmt.Errorf("payment: lookup idempotency key: %w", err)
		} else if exists {
			s.log.Info("payment intake deduped", "idempotency_key", key, "gateway_txn_id", raw.GatewayTxnID)
			return nil
		}

		intake := PaymentIntake{
			PaymentID:      uuid.New(),
			LoanID:         raw.LoanID,
			Method:         raw.Method,
			AmountMinor:    raw.AmountMinor,
			Currency:       raw.Currency,
			ReceivedAt:     raw.ReceivedAt,
			GatewayTxnID:   raw.GatewayTxnID,
			Source:         raw.Source,
			IdempotencyKey: key,
			EffectiveDate:  raw.EffectiveDate,
			RawPayload:     raw.RawPayload,
		}
		if err := s.intakes.Insert(ctx, q, intake); err != nil {
			return fmt.Errorf("payment: insert intake: %w", err)
		}

		if err := enqueueOutbox(ctx, q, s.outbox, TopicPaymentReceived, intake.PaymentID, "payment.received.v1", intake.PaymentID.String(), intake); err != nil {
			return err
		}

		s.log.Info("payment intake accepted", "payment_id", intake.PaymentID, "loan_id", intake.LoanID, "idempotency_key", key)
		return nil
	})
}

// enqueueOutbox wraps payload in the canonical envelope and enqueues it,
// keyed by eventID so the outbox primary key matches the event it carries.
func enqueueOutbox(ctx context.Context, q postgres.Querier, outbox OutboxRepository, topic string, eventID uuid.UUID, schema, correlationID string, payload any) error {
	envelope, err := events.NewEnvelope(schema, correlationID, "", 0, payload)
	if err != nil {
		return fmt.Errorf("payment: build outbox envelope: %w", err)
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("payment: marshal outbox envelope: %w", err)
	}
	row := OutboxRow{
		EventID:     eventID,
		Topic:       topic,
		Payload:     raw,
		CreatedAt:   time.Now().UTC(),
		NextRetryAt: time.Now().UTC(),
	}
	if err := outbox.Enqueue(ctx, q, row); err != nil {
		return fmt.Errorf("payment: enqueue outbox row: %w", err)
	}
	return nil
}
