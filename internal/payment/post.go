package payment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bibbank/loanserve/internal/ledger"
	"github.com/bibbank/loanserve/internal/waterfall"
	"github.com/bibbank/loanserve/pkg/money"
	"github.com/bibbank/loanserve/pkg/postgres"
)

// PostStage is the third pipeline stage (spec §4.5 "Poster"): loads the
// product policy, derives outstanding from the ledger and schedule,
// allocates the payment via the waterfall, and posts it as a balanced
// ledger event.
type PostStage struct {
	tx          TxRunner
	policies    PolicyLookup
	outstanding OutstandingLookup
	ledgerSvc   *ledger.Service
	postings    PostingRepository
	outbox      OutboxRepository
	log         *slog.Logger
}

// NewPostStage wires the poster to its dependencies.
func NewPostStage(tx TxRunner, policies PolicyLookup, outstanding OutstandingLookup, ledgerSvc *ledger.Service, postings PostingRepository, outbox OutboxRepository, log *slog.Logger) *PostStage {
	return &PostStage{tx: tx, policies: policies, outstanding: outstanding, ledgerSvc: ledgerSvc, postings: postings, outbox: outbox, log: log}
}

// Handle posts a validated payment. A validation with IsValid=false has
// nothing to post and is a no-op.
func (s *PostStage) Handle(ctx context.Context, validation PaymentValidation, intake PaymentIntake) error {
	if !validation.IsValid {
		return nil
	}

	return s.tx.WithTransaction(ctx, func(q postgres.Querier) error {
		policy, err := s.policies.GetPolicy(ctx, q, intake.LoanID)
		if err != nil {
			return fmt.Errorf("payment: load policy: %w", err)
		}

		outstanding, err := s.outstanding.Outstanding(ctx, q, intake.LoanID)
		if err != nil {
			return fmt.Errorf("payment: load outstanding: %w", err)
		}

		order := policy.WaterfallOrder
		if len(order) == 0 {
			order = waterfall.DefaultOrder
		}

		allocations := waterfall.AllocatePayment(intake.AmountMinor, order, outstanding)
		creditTotals := waterfall.ToLedgerAllocations(allocations)
		correlationID := fmt.Sprintf("payment:loan:%s:gw:%s", intake.LoanID, intake.GatewayTxnID)

		// PostPaymentReceived opens its own transaction (ledger.Service's
		// postEvent contract, spec §4.2) independent of this stage's
		// transaction, which covers only PaymentPosting + outbox.
		eventID, postErr := s.ledgerSvc.PostPaymentReceived(ctx, intake.LoanID, intake.EffectiveDate, correlationID, intake.Currency, creditTotals, intake.AmountMinor)

		topic := TopicPaymentPosted
		posting := PaymentPosting{PaymentID: intake.PaymentID}
		if postErr != nil {
			topic = TopicPaymentPostFailed
			s.log.Error("payment post failed", "payment_id", intake.PaymentID, "error", postErr)
		} else {
			posting.EventID = eventID
			posting.Applied = appliedByBucket(allocations)
			if balances, balErr := s.ledgerSvc.LatestBalances(ctx, intake.LoanID, q); balErr == nil {
				posting.NewBalances = balancesByAccount(balances)
			}
			s.log.Info("payment posted", "payment_id", intake.PaymentID, "event_id", eventID, "correlation_id", correlationID)
		}

		if err := s.postings.InsertPosting(ctx, q, posting); err != nil {
			return fmt.Errorf("payment: insert posting: %w", err)
		}
		if err := enqueueOutbox(ctx, q, s.outbox, topic, intake.PaymentID, "posting.payment.v1", correlationID, posting); err != nil {
			return err
		}

		// A ledger posting failure is recorded, not propagated: this
		// stage's own writes (the failed posting + outbox row) still
		// belong in the committed transaction so downstream consumers
		// learn about the failure.
		return nil
	})
}

func appliedByBucket(allocations []waterfall.Allocation) map[string]money.Minor {
	applied := make(map[string]money.Minor, len(allocations))
	for _, a := range allocations {
		applied[string(a.Bucket)] += a.Amount
	}
	return applied
}

func balancesByAccount(balances map[ledger.Account]money.Minor) map[string]money.Minor {
	out := make(map[string]money.Minor, len(balances))
	for account, amount := range balances {
		out[string(account)] = amount
	}
	return out
}
