package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bibbank/loanserve/pkg/money"
	"github.com/bibbank/loanserve/pkg/postgres"
)

// schedulingWindow is how far ahead of effective_date a forecast row is
// turned into a scheduled disbursement (spec §4.6 "Disbursement
// scheduling").
const schedulingWindow = 30 * 24 * time.Hour

// Scheduler turns forecast rows falling within the scheduling window into
// EscrowDisbursement rows in the scheduled state. Re-entry is idempotent:
// a forecast row already scheduled or canceled is skipped.
type Scheduler struct {
	tx            TxRunner
	forecasts     ForecastRepository
	disbursements DisbursementRepository
	log           *slog.Logger
}

// NewScheduler wires the disbursement scheduler to its dependencies.
func NewScheduler(tx TxRunner, forecasts ForecastRepository, disbursements DisbursementRepository, log *slog.Logger) *Scheduler {
	return &Scheduler{tx: tx, forecasts: forecasts, disbursements: disbursements, log: log}
}

// Run schedules disbursements for one loan as of effectiveDate.
func (s *Scheduler) Run(ctx context.Context, loanID uuid.UUID, effectiveDate time.Time) (int, error) {
	var scheduled int
	err := s.tx.WithTransaction(ctx, func(q postgres.Querier) error {
		rows, err := s.forecasts.ForecastWindow(ctx, q, loanID, effectiveDate, effectiveDate.Add(schedulingWindow))
		if err != nil {
			return fmt.Errorf("escrow: load forecast window: %w", err)
		}

		for _, row := range rows {
			exists, err := s.disbursements.Exists(ctx, q, loanID, row.EscrowID, row.DueDate)
			if err != nil {
				return fmt.Errorf("escrow: check existing disbursement: %w", err)
			}
			if exists {
				continue
			}
			d := Disbursement{
				DisbID:      uuid.New(),
				LoanID:      row.LoanID,
				EscrowID:    row.EscrowID,
				DueDate:     row.DueDate,
				AmountMinor: row.AmountMinor,
				Status:      DisbursementScheduled,
			}
			if err := s.disbursements.InsertDisbursement(ctx, q, d); err != nil {
				return fmt.Errorf("escrow: insert disbursement: %w", err)
			}
			scheduled++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.log.Info("escrow disbursements scheduled", "loan_id", loanID, "count", scheduled)
	return scheduled, nil
}

// Poster posts scheduled disbursements whose due date has arrived (spec
// §4.6 "Disbursement posting").
type Poster struct {
	tx            TxRunner
	disbursements DisbursementRepository
	balances      BalanceLookup
	ledgerSvc     LedgerPoster
	outbox        OutboxRepository
	currency      string
	log           *slog.Logger
}

// NewPoster wires the disbursement poster to its dependencies. currency is
// the fixed billing currency (spec's product policy scopes one currency
// per loan; escrow disbursements post in the same currency as the loan).
func NewPoster(tx TxRunner, disbursements DisbursementRepository, balances BalanceLookup, ledgerSvc LedgerPoster, outbox OutboxRepository, currency string, log *slog.Logger) *Poster {
	return &Poster{tx: tx, disbursements: disbursements, balances: balances, ledgerSvc: ledgerSvc, outbox: outbox, currency: currency, log: log}
}

// Run posts every scheduled disbursement due on or before asOf. A posting
// failure leaves the row scheduled for re-attempt on the next cycle
// (spec §4.6: "failures leave state scheduled for re-attempt").
func (p *Poster) Run(ctx context.Context, loanID uuid.UUID, asOf time.Time) (int, error) {
	var posted int
	err := p.tx.WithTransaction(ctx, func(q postgres.Querier) error {
		due, err := p.disbursements.DueScheduled(ctx, q, loanID, asOf)
		if err != nil {
			return fmt.Errorf("escrow: load due disbursements: %w", err)
		}

		for _, d := range due {
			available, err := p.balances.EscrowLiability(ctx, q, loanID)
			if err != nil {
				return fmt.Errorf("escrow: read escrow liability: %w", err)
			}
			if available < 0 {
				available = 0
			}

			correlationID := fmt.Sprintf("escrow:disb:%s", d.DisbID)
			eventID, err := p.ledgerSvc.PostEscrowPayment(ctx, loanID, asOf, correlationID, p.currency, d.AmountMinor, available)
			if err != nil {
				p.log.Error("escrow disbursement posting failed, leaving scheduled", "disb_id", d.DisbID, "error", err)
				continue
			}

			if err := p.disbursements.MarkPosted(ctx, q, d.DisbID, eventID); err != nil {
				return fmt.Errorf("escrow: mark disbursement posted: %w", err)
			}

			payload := disbursementPostedPayload{DisbID: d.DisbID, LoanID: loanID, EscrowID: d.EscrowID, AmountMinor: d.AmountMinor, EventID: eventID}
			if err := enqueueOutbox(ctx, q, p.outbox, TopicEscrowDisbursement, d.DisbID, "escrow.disbursement.v1", correlationID, payload); err != nil {
				return err
			}
			posted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return posted, nil
}

type disbursementPostedPayload struct {
	DisbID      uuid.UUID   `json:"disb_id"`
	LoanID      uuid.UUID   `json:"loan_id"`
	EscrowID    string      `json:"escrow_id"`
	AmountMinor money.Minor `json:"amount_minor"`
	EventID     uuid.UUID   `json:"event_id"`
}
