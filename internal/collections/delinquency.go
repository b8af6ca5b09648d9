package collections

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/bibbank/loanserve/pkg/money"
	"github.com/bibbank/loanserve/pkg/postgres"
)

// DelinquencyScanner computes and upserts one loan's daily delinquency
// snapshot (spec §4.7 "Delinquency").
type DelinquencyScanner struct {
	tx        TxRunner
	due       ScheduledDueLookup
	applied   AppliedPaymentsLookup
	fees      AssessedFeesLookup
	snapshots SnapshotRepository
	fc        ForeclosureRepository
	outbox    OutboxRepository
	log       *slog.Logger
}

// NewDelinquencyScanner wires the scanner to its dependencies.
func NewDelinquencyScanner(tx TxRunner, due ScheduledDueLookup, applied AppliedPaymentsLookup, fees AssessedFeesLookup, snapshots SnapshotRepository, fc ForeclosureRepository, outbox OutboxRepository, log *slog.Logger) *DelinquencyScanner {
	return &DelinquencyScanner{tx: tx, due: due, applied: applied, fees: fees, snapshots: snapshots, fc: fc, outbox: outbox, log: log}
}

// Run computes the snapshot for one loan as of asOf, upserts it, and on a
// bucket change publishes delinquency.status.changed.v1; a transition into
// dpd_90_plus additionally opens a foreclosure case if none is open (spec
// §4.7 step 6).
func (s *DelinquencyScanner) Run(ctx context.Context, loanID uuid.UUID, asOf time.Time) (Snapshot, error) {
	var snap Snapshot
	err := s.tx.WithTransaction(ctx, func(q postgres.Querier) error {
		dpd, earliest, err := s.compute(ctx, q, loanID, asOf)
		if err != nil {
			return err
		}

		prev, hadPrev, err := s.snapshots.Previous(ctx, q, loanID)
		if err != nil {
			return fmt.Errorf("collections: load previous snapshot: %w", err)
		}

		snap = Snapshot{
			LoanID:            loanID,
			AsOfDate:          asOf,
			EarliestUnpaidDue: earliest,
			DPD:               dpd,
			Bucket:            bucketFor(dpd),
			CreatedAt:         time.Now().UTC(),
		}
		if err := s.snapshots.Upsert(ctx, q, snap); err != nil {
			return fmt.Errorf("collections: upsert snapshot: %w", err)
		}

		if hadPrev && prev.Bucket == snap.Bucket {
			return nil
		}

		if err := enqueueOutbox(ctx, q, s.outbox, TopicDelinquencyStatusChanged, uuid.New(), "delinquency.status.changed.v1", loanID.String(), statusChangedPayload{
			LoanID:    loanID,
			AsOfDate:  asOf,
			OldBucket: prev.Bucket,
			NewBucket: snap.Bucket,
		}); err != nil {
			return err
		}

		if snap.Bucket == BucketDPD90Plus && (!hadPrev || prev.Bucket != BucketDPD90Plus) {
			if err := s.openForeclosureCase(ctx, q, loanID); err != nil {
				return err
			}
		}
		return nil
	})
	return snap, err
}

// compute implements spec §4.7 steps 1-4.
func (s *DelinquencyScanner) compute(ctx context.Context, q postgres.Querier, loanID uuid.UUID, asOf time.Time) (dpd int, earliest *time.Time, err error) {
	rows, err := s.due.DueRows(ctx, q, loanID, asOf)
	if err != nil {
		return 0, nil, fmt.Errorf("collections: load due rows: %w", err)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].DueDate.Before(rows[j].DueDate) })

	applied, err := s.applied.AppliedThrough(ctx, q, loanID, asOf)
	if err != nil {
		return 0, nil, fmt.Errorf("collections: load applied total: %w", err)
	}
	assessedFees, err := s.fees.AssessedThrough(ctx, q, loanID, asOf)
	if err != nil {
		return 0, nil, fmt.Errorf("collections: load assessed fees: %w", err)
	}

	// Assessed fees are owed immediately and have no schedule due date of
	// their own, so they fold into the running scheduled total from the
	// start rather than attaching to any one installment (spec §4.7 step 1:
	// "add assessed fees").
	running := assessedFees
	for _, row := range rows {
		running += row.ScheduledMinor
		if running > applied {
			due := row.DueDate
			days := money.DaysBetween(due, asOf, money.ACT365F)
			if days < 0 {
				days = 0
			}
			return days, &due, nil
		}
	}
	return 0, nil, nil
}

func (s *DelinquencyScanner) openForeclosureCase(ctx context.Context, q postgres.Querier, loanID uuid.UUID) error {
	_, open, err := s.fc.OpenCaseFor(ctx, q, loanID)
	if err != nil {
		return fmt.Errorf("collections: check open foreclosure case: %w", err)
	}
	if open {
		return nil
	}

	fc := ForeclosureCase{
		CaseID:   uuid.New(),
		LoanID:   loanID,
		Status:   ForeclosureOpen,
		OpenedAt: time.Now().UTC(),
	}
	if err := s.fc.InsertCase(ctx, q, fc); err != nil {
		return fmt.Errorf("collections: open foreclosure case: %w", err)
	}
	return enqueueOutbox(ctx, q, s.outbox, TopicForeclosureCaseOpened, uuid.New(), "foreclosure.case.opened.v1", loanID.String(), foreclosureOpenedPayload{
		CaseID: fc.CaseID,
		LoanID: loanID,
	})
}

type statusChangedPayload struct {
	LoanID    uuid.UUID `json:"loan_id"`
	AsOfDate  time.Time `json:"as_of_date"`
	OldBucket Bucket    `json:"old_bucket"`
	NewBucket Bucket    `json:"new_bucket"`
}

type foreclosureOpenedPayload struct {
	CaseID uuid.UUID `json:"case_id"`
	LoanID uuid.UUID `json:"loan_id"`
}
