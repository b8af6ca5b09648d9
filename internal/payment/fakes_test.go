package payment_test

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/bibbank/loanserve/internal/ledger"
	"github.com/bibbank/loanserve/internal/payment"
	"github.com/bibbank/loanserve/internal/schedule"
	"github.com/bibbank/loanserve/internal/waterfall"
	"github.com/bibbank/loanserve/pkg/money"
	"github.com/bibbank/loanserve/pkg/postgres"
)

// fakeTxRunner runs fn directly with no real transaction, mirroring
// internal/ledger's test fake.
type fakeTxRunner struct{}

func (f *fakeTxRunner) WithTransaction(ctx context.Context, fn func(postgres.Querier) error) error {
	return fn(nil)
}

type fakeIntakeRepo struct {
	byKey map[string]payment.PaymentIntake
}

func newFakeIntakeRepo() *fakeIntakeRepo {
	return &fakeIntakeRepo{byKey: make(map[string]payment.PaymentIntake)}
}

func (r *fakeIntakeRepo) FindByIdempotencyKey(ctx context.Context, q postgres.Querier, key string) (payment.PaymentIntake, bool, error) {
	in, ok := r.byKey[key]
	return in, ok, nil
}

func (r *fakeIntakeRepo) Insert(ctx context.Context, q postgres.Querier, intake payment.PaymentIntake) error {
	r.byKey[intake.IdempotencyKey] = intake
	return nil
}

type fakeValidationRepo struct {
	inserted []payment.PaymentValidation
}

func (r *fakeValidationRepo) InsertValidation(ctx context.Context, q postgres.Querier, v payment.PaymentValidation) error {
	r.inserted = append(r.inserted, v)
	return nil
}

type fakePostingRepo struct {
	inserted []payment.PaymentPosting
}

func (r *fakePostingRepo) InsertPosting(ctx context.Context, q postgres.Querier, p payment.PaymentPosting) error {
	r.inserted = append(r.inserted, p)
	return nil
}

type fakeOutbox struct {
	rows map[uuid.UUID]payment.OutboxRow
}

func newFakeOutbox() *fakeOutbox {
	return &fakeOutbox{rows: make(map[uuid.UUID]payment.OutboxRow)}
}

func (o *fakeOutbox) Enqueue(ctx context.Context, q postgres.Querier, row payment.OutboxRow) error {
	o.rows[row.EventID] = row
	return nil
}

func (o *fakeOutbox) FetchDue(ctx context.Context, q postgres.Querier, limit int, now time.Time) ([]payment.OutboxRow, error) {
	var due []payment.OutboxRow
	for _, row := range o.rows {
		if row.PublishedAt == nil && !row.Parked && !row.NextRetryAt.After(now) {
			due = append(due, row)
		}
		if len(due) >= limit {
			break
		}
	}
	return due, nil
}

func (o *fakeOutbox) MarkPublished(ctx context.Context, q postgres.Querier, eventID uuid.UUID, at time.Time) error {
	row := o.rows[eventID]
	row.PublishedAt = &at
	o.rows[eventID] = row
	return nil
}

func (o *fakeOutbox) MarkFailed(ctx context.Context, q postgres.Querier, eventID uuid.UUID, attemptCount int, nextRetryAt time.Time, lastErr string) error {
	row := o.rows[eventID]
	row.AttemptCount = attemptCount
	row.NextRetryAt = nextRetryAt
	row.LastError = lastErr
	o.rows[eventID] = row
	return nil
}

func (o *fakeOutbox) Park(ctx context.Context, q postgres.Querier, eventID uuid.UUID) error {
	row := o.rows[eventID]
	row.Parked = true
	o.rows[eventID] = row
	return nil
}

type fakeLoans struct {
	byID map[uuid.UUID]payment.Loan
}

func newFakeLoans() *fakeLoans {
	return &fakeLoans{byID: make(map[uuid.UUID]payment.Loan)}
}

func (l *fakeLoans) GetLoan(ctx context.Context, q postgres.Querier, loanID uuid.UUID) (payment.Loan, bool, error) {
	loan, ok := l.byID[loanID]
	return loan, ok, nil
}

type fakeSchedules struct {
	byLoan map[uuid.UUID]schedule.Plan
}

func newFakeSchedules() *fakeSchedules {
	return &fakeSchedules{byLoan: make(map[uuid.UUID]schedule.Plan)}
}

func (s *fakeSchedules) ActiveSchedule(ctx context.Context, q postgres.Querier, loanID uuid.UUID) (schedule.Plan, bool, error) {
	plan, ok := s.byLoan[loanID]
	return plan, ok, nil
}

type fakePolicies struct{}

func (fakePolicies) GetPolicy(ctx context.Context, q postgres.Querier, loanID uuid.UUID) (payment.Policy, error) {
	return payment.Policy{WaterfallOrder: waterfall.DefaultOrder, Rounding: money.RoundHalfAwayFromZero, DayCount: money.US30360}, nil
}

type fakeOutstanding struct {
	byLoan map[uuid.UUID]waterfall.Outstanding
}

func (o fakeOutstanding) Outstanding(ctx context.Context, q postgres.Querier, loanID uuid.UUID) (waterfall.Outstanding, error) {
	return o.byLoan[loanID], nil
}

type fakePublisher struct {
	published []string
	failTopic string
}

func (p *fakePublisher) Publish(ctx context.Context, topic string, key, payload []byte) error {
	if topic == p.failTopic {
		return errPublishFailed
	}
	p.published = append(p.published, topic)
	return nil
}

var errPublishFailed = errPublish{}

type errPublish struct{}

func (errPublish) Error() string { return "publish failed" }

// fakeLedgerRepo backs a real ledger.Service so the post stage's call into
// PostPaymentReceived exercises genuine balance/idempotency logic.
type fakeLedgerRepo struct {
	byCorrelation map[string]ledger.Event
	inserted      []ledger.Event
	finalized     map[uuid.UUID]time.Time
}

func newFakeLedgerRepo() *fakeLedgerRepo {
	return &fakeLedgerRepo{byCorrelation: make(map[string]ledger.Event), finalized: make(map[uuid.UUID]time.Time)}
}

func (r *fakeLedgerRepo) Insert(ctx context.Context, q postgres.Querier, e ledger.Event) error {
	if _, exists := r.byCorrelation[e.CorrelationID]; exists {
		return ledger.ErrDuplicateCorrelation
	}
	r.byCorrelation[e.CorrelationID] = e
	r.inserted = append(r.inserted, e)
	return nil
}

func (r *fakeLedgerRepo) Finalize(ctx context.Context, q postgres.Querier, eventID uuid.UUID, at time.Time) error {
	r.finalized[eventID] = at
	return nil
}

func (r *fakeLedgerRepo) FindByCorrelation(ctx context.Context, q postgres.Querier, correlationID string) (ledger.Event, bool, error) {
	e, ok := r.byCorrelation[correlationID]
	return e, ok, nil
}

func (r *fakeLedgerRepo) LatestBalances(ctx context.Context, q postgres.Querier, loanID uuid.UUID) (map[ledger.Account]money.Minor, error) {
	balances := make(map[ledger.Account]money.Minor)
	for _, e := range r.inserted {
		if e.LoanID != loanID {
			continue
		}
		if _, ok := r.finalized[e.ID]; !ok {
			continue
		}
		for _, l := range e.Lines {
			balances[l.Account] += l.Debit - l.Credit
		}
	}
	return balances, nil
}

func (r *fakeLedgerRepo) TrialBalance(ctx context.Context, q postgres.Querier) ([]ledger.TrialBalanceLine, error) {
	return nil, nil
}
