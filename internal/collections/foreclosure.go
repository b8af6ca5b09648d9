package collections

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bibbank/loanserve/pkg/postgres"
)

// ForeclosureService appends foreclosure milestones and closes cases on a
// terminal hit (spec §4.7 "Foreclosure").
type ForeclosureService struct {
	tx     TxRunner
	fc     ForeclosureRepository
	outbox OutboxRepository
	log    *slog.Logger
}

// NewForeclosureService wires the service to its dependencies.
func NewForeclosureService(tx TxRunner, fc ForeclosureRepository, outbox OutboxRepository, log *slog.Logger) *ForeclosureService {
	return &ForeclosureService{tx: tx, fc: fc, outbox: outbox, log: log}
}

// HitMilestone records a milestone for a case, once per (fc_id, milestone).
// A terminal milestone closes the case and sets its outcome: "closed" if
// the sale completed, "normal" otherwise (spec §4.7: "Terminal milestones
// {sale_completed, reinstated, redeemed} close the case and update the
// collection-case status").
func (s *ForeclosureService) HitMilestone(ctx context.Context, caseID uuid.UUID, loanID uuid.UUID, m Milestone, hitAt time.Time) error {
	return s.tx.WithTransaction(ctx, func(q postgres.Querier) error {
		exists, err := s.fc.MilestoneExists(ctx, q, caseID, m)
		if err != nil {
			return fmt.Errorf("collections: check existing milestone: %w", err)
		}
		if exists {
			return nil
		}

		event := Event{CaseID: caseID, Milestone: m, HitAt: hitAt}
		if err := s.fc.InsertEvent(ctx, q, event); err != nil {
			return fmt.Errorf("collections: insert milestone: %w", err)
		}

		if err := enqueueOutbox(ctx, q, s.outbox, TopicForeclosureMilestoneHit, uuid.New(), "foreclosure.milestone.hit.v1", loanID.String(), milestoneHitPayload{
			CaseID:    caseID,
			LoanID:    loanID,
			Milestone: m,
			HitAt:     hitAt,
		}); err != nil {
			return err
		}

		if !m.isTerminal() {
			return nil
		}

		fc, open, err := s.fc.OpenCaseFor(ctx, q, loanID)
		if err != nil {
			return fmt.Errorf("collections: load open case: %w", err)
		}
		if !open || fc.CaseID != caseID {
			return nil
		}

		now := time.Now().UTC()
		fc.Status = ForeclosureClosed
		fc.ClosedAt = &now
		if m == MilestoneSaleCompleted {
			fc.Outcome = "closed"
		} else {
			fc.Outcome = "normal"
		}
		return s.fc.CloseCase(ctx, q, fc)
	})
}

type milestoneHitPayload struct {
	CaseID    uuid.UUID `json:"case_id"`
	LoanID    uuid.UUID `json:"loan_id"`
	Milestone Milestone `json:"milestone"`
	HitAt     time.Time `json:"hit_at"`
}
