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

// Forecaster generates the 12-month escrow forecast horizon for a loan
// (spec §4.6 "Forecast"), replacing whatever horizon previously existed.
type Forecaster struct {
	tx        TxRunner
	items     ItemLookup
	forecasts ForecastRepository
	outbox    OutboxRepository
	log       *slog.Logger
}

// NewForecaster wires the forecaster to its dependencies.
func NewForecaster(tx TxRunner, items ItemLookup, forecasts ForecastRepository, outbox OutboxRepository, log *slog.Logger) *Forecaster {
	return &Forecaster{tx: tx, items: items, forecasts: forecasts, outbox: outbox, log: log}
}

// Run generates the horizon for one loan as of asOf, replacing the prior
// horizon within a single transaction, then publishes escrow.forecast.v1
// (SPEC_FULL §C6 supplement: the recompute itself is the publish trigger).
func (f *Forecaster) Run(ctx context.Context, loanID uuid.UUID, asOf time.Time) error {
	return f.tx.WithTransaction(ctx, func(q postgres.Querier) error {
		items, err := f.items.ActiveItems(ctx, q, loanID)
		if err != nil {
			return fmt.Errorf("escrow: load active items: %w", err)
		}

		var rows []ForecastRow
		for _, item := range items {
			rows = append(rows, generateItemForecast(item, asOf)...)
		}

		if err := f.forecasts.ReplaceHorizon(ctx, q, loanID, rows); err != nil {
			return fmt.Errorf("escrow: replace forecast horizon: %w", err)
		}

		if err := enqueueOutbox(ctx, q, f.outbox, TopicEscrowForecast, uuid.New(), "escrow.forecast.v1", loanID.String(), forecastChangedPayload{LoanID: loanID, AsOf: asOf, RowCount: len(rows)}); err != nil {
			return err
		}

		f.log.Info("escrow forecast regenerated", "loan_id", loanID, "rows", len(rows))
		return nil
	})
}

// generateItemForecast steps one item's next_due_date forward from
// next_due_date until it falls within [asOf, asOf+12mo], per spec §4.6.
func generateItemForecast(item Item, asOf time.Time) []ForecastRow {
	horizonEnd := money.AddMonthsTime(asOf, 12)
	due := item.NextDueDate

	for due.Before(asOf) {
		due = money.AddMonthsTime(due, item.Frequency.step())
	}

	var rows []ForecastRow
	for !due.After(horizonEnd) {
		rows = append(rows, ForecastRow{
			LoanID:      item.LoanID,
			EscrowID:    item.EscrowID,
			DueDate:     due,
			AmountMinor: item.AmountMinor,
		})
		due = money.AddMonthsTime(due, item.Frequency.step())
	}
	return rows
}

type forecastChangedPayload struct {
	LoanID   uuid.UUID `json:"loan_id"`
	AsOf     time.Time `json:"as_of"`
	RowCount int       `json:"row_count"`
}
