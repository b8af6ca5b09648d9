package payment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/bibbank/loanserve/internal/escrow"
	"github.com/bibbank/loanserve/pkg/money"
	"github.com/bibbank/loanserve/pkg/postgres"
)

// escrowForecastWindow bounds how far ahead the next escrow due amount is
// sourced from — the same 30-day window C6's disbursement scheduler uses,
// so BucketEscrow tracks what will actually be scheduled next.
const escrowForecastWindow = 30 * 24 * time.Hour

// DefaultEscrowDue implements EscrowDueLookup against internal/escrow's
// forecast, so the waterfall allocator's escrow bucket reflects the
// nearest upcoming disbursement rather than being left at zero.
type DefaultEscrowDue struct {
	forecasts escrow.ForecastRepository
}

// NewDefaultEscrowDue wires an EscrowDueLookup to the escrow forecast port.
func NewDefaultEscrowDue(forecasts escrow.ForecastRepository) *DefaultEscrowDue {
	return &DefaultEscrowDue{forecasts: forecasts}
}

// NextDue returns the amount of the nearest forecast row due within the
// next 30 days, zero if none.
func (d *DefaultEscrowDue) NextDue(ctx context.Context, q postgres.Querier, loanID uuid.UUID) (money.Minor, error) {
	now := time.Now().UTC()
	rows, err := d.forecasts.ForecastWindow(ctx, q, loanID, now, now.Add(escrowForecastWindow))
	if err != nil {
		return 0, err
	}

	var nearest *escrow.ForecastRow
	for i := range rows {
		if nearest == nil || rows[i].DueDate.Before(nearest.DueDate) {
			nearest = &rows[i]
		}
	}
	if nearest == nil {
		return 0, nil
	}
	return nearest.AmountMinor, nil
}
