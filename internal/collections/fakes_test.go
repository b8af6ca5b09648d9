package collections_test

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bibbank/loanserve/internal/collections"
	"github.com/bibbank/loanserve/pkg/money"
	"github.com/bibbank/loanserve/pkg/postgres"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeTxRunner struct{}

func (f *fakeTxRunner) WithTransaction(ctx context.Context, fn func(postgres.Querier) error) error {
	return fn(nil)
}

type fakeDue struct {
	byLoan map[uuid.UUID][]collections.DueRow
}

func newFakeDue() *fakeDue {
	return &fakeDue{byLoan: make(map[uuid.UUID][]collections.DueRow)}
}

func (f *fakeDue) DueRows(ctx context.Context, q postgres.Querier, loanID uuid.UUID, asOf time.Time) ([]collections.DueRow, error) {
	var out []collections.DueRow
	for _, row := range f.byLoan[loanID] {
		if !row.DueDate.After(asOf) {
			out = append(out, row)
		}
	}
	return out, nil
}

type fakeApplied struct {
	byLoan map[uuid.UUID]money.Minor
}

func newFakeApplied() *fakeApplied {
	return &fakeApplied{byLoan: make(map[uuid.UUID]money.Minor)}
}

func (f *fakeApplied) AppliedThrough(ctx context.Context, q postgres.Querier, loanID uuid.UUID, asOf time.Time) (money.Minor, error) {
	return f.byLoan[loanID], nil
}

type fakeFees struct {
	byLoan map[uuid.UUID]money.Minor
}

func newFakeFees() *fakeFees {
	return &fakeFees{byLoan: make(map[uuid.UUID]money.Minor)}
}

func (f *fakeFees) AssessedThrough(ctx context.Context, q postgres.Querier, loanID uuid.UUID, asOf time.Time) (money.Minor, error) {
	return f.byLoan[loanID], nil
}

type fakeSnapshots struct {
	byLoan map[uuid.UUID][]collections.Snapshot
}

func newFakeSnapshots() *fakeSnapshots {
	return &fakeSnapshots{byLoan: make(map[uuid.UUID][]collections.Snapshot)}
}

func (f *fakeSnapshots) Previous(ctx context.Context, q postgres.Querier, loanID uuid.UUID) (collections.Snapshot, bool, error) {
	rows := f.byLoan[loanID]
	if len(rows) == 0 {
		return collections.Snapshot{}, false, nil
	}
	return rows[len(rows)-1], true, nil
}

func (f *fakeSnapshots) Upsert(ctx context.Context, q postgres.Querier, s collections.Snapshot) error {
	f.byLoan[s.LoanID] = append(f.byLoan[s.LoanID], s)
	return nil
}

type fakeForeclosures struct {
	byLoan map[uuid.UUID]collections.ForeclosureCase
	events map[uuid.UUID][]collections.Milestone
}

func newFakeForeclosures() *fakeForeclosures {
	return &fakeForeclosures{
		byLoan: make(map[uuid.UUID]collections.ForeclosureCase),
		events: make(map[uuid.UUID][]collections.Milestone),
	}
}

func (f *fakeForeclosures) OpenCaseFor(ctx context.Context, q postgres.Querier, loanID uuid.UUID) (collections.ForeclosureCase, bool, error) {
	c, ok := f.byLoan[loanID]
	if !ok || c.Status != collections.ForeclosureOpen {
		return collections.ForeclosureCase{}, false, nil
	}
	return c, true, nil
}

func (f *fakeForeclosures) InsertCase(ctx context.Context, q postgres.Querier, c collections.ForeclosureCase) error {
	f.byLoan[c.LoanID] = c
	return nil
}

func (f *fakeForeclosures) MilestoneExists(ctx context.Context, q postgres.Querier, caseID uuid.UUID, m collections.Milestone) (bool, error) {
	for _, hit := range f.events[caseID] {
		if hit == m {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeForeclosures) InsertEvent(ctx context.Context, q postgres.Querier, e collections.Event) error {
	f.events[e.CaseID] = append(f.events[e.CaseID], e.Milestone)
	return nil
}

func (f *fakeForeclosures) CloseCase(ctx context.Context, q postgres.Querier, c collections.ForeclosureCase) error {
	for loanID, existing := range f.byLoan {
		if existing.CaseID == c.CaseID {
			f.byLoan[loanID] = c
			return nil
		}
	}
	return nil
}

type fakeOutbox struct {
	rows []collections.OutboxRow
}

func newFakeOutbox() *fakeOutbox {
	return &fakeOutbox{}
}

func (f *fakeOutbox) Enqueue(ctx context.Context, q postgres.Querier, row collections.OutboxRow) error {
	f.rows = append(f.rows, row)
	return nil
}

func (f *fakeOutbox) FetchDue(ctx context.Context, q postgres.Querier, limit int, now time.Time) ([]collections.OutboxRow, error) {
	var due []collections.OutboxRow
	for _, row := range f.rows {
		if row.PublishedAt == nil && !row.Parked && !row.NextRetryAt.After(now) {
			due = append(due, row)
		}
		if len(due) >= limit {
			break
		}
	}
	return due, nil
}

func (f *fakeOutbox) indexOf(eventID uuid.UUID) int {
	for i, row := range f.rows {
		if row.EventID == eventID {
			return i
		}
	}
	return -1
}

func (f *fakeOutbox) MarkPublished(ctx context.Context, q postgres.Querier, eventID uuid.UUID, at time.Time) error {
	if i := f.indexOf(eventID); i >= 0 {
		f.rows[i].PublishedAt = &at
	}
	return nil
}

func (f *fakeOutbox) MarkFailed(ctx context.Context, q postgres.Querier, eventID uuid.UUID, attemptCount int, nextRetryAt time.Time, lastErr string) error {
	if i := f.indexOf(eventID); i >= 0 {
		f.rows[i].AttemptCount = attemptCount
		f.rows[i].NextRetryAt = nextRetryAt
		f.rows[i].LastError = lastErr
	}
	return nil
}

func (f *fakeOutbox) Park(ctx context.Context, q postgres.Querier, eventID uuid.UUID) error {
	if i := f.indexOf(eventID); i >= 0 {
		f.rows[i].Parked = true
	}
	return nil
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

type fakePolicies struct {
	byLoan map[uuid.UUID]collections.LateFeePolicy
	def    collections.LateFeePolicy
}

func newFakePolicies(def collections.LateFeePolicy) *fakePolicies {
	return &fakePolicies{byLoan: make(map[uuid.UUID]collections.LateFeePolicy), def: def}
}

func (f *fakePolicies) GetPolicy(ctx context.Context, q postgres.Querier, loanID uuid.UUID) (collections.LateFeePolicy, error) {
	if p, ok := f.byLoan[loanID]; ok {
		return p, nil
	}
	return f.def, nil
}

type fakeDueAmounts struct {
	byLoanAndDate map[uuid.UUID]map[time.Time]collections.DueAmounts
}

func newFakeDueAmounts() *fakeDueAmounts {
	return &fakeDueAmounts{byLoanAndDate: make(map[uuid.UUID]map[time.Time]collections.DueAmounts)}
}

func (f *fakeDueAmounts) set(loanID uuid.UUID, dueDate time.Time, a collections.DueAmounts) {
	if f.byLoanAndDate[loanID] == nil {
		f.byLoanAndDate[loanID] = make(map[time.Time]collections.DueAmounts)
	}
	f.byLoanAndDate[loanID][dueDate] = a
}

func (f *fakeDueAmounts) DueAmounts(ctx context.Context, q postgres.Querier, loanID uuid.UUID, dueDate time.Time) (collections.DueAmounts, bool, error) {
	a, ok := f.byLoanAndDate[loanID][dueDate]
	return a, ok, nil
}

type fakeAssessments struct {
	exists   map[uuid.UUID]map[time.Time]bool
	inserted []collections.Assessment
}

func newFakeAssessments() *fakeAssessments {
	return &fakeAssessments{exists: make(map[uuid.UUID]map[time.Time]bool)}
}

func (f *fakeAssessments) Exists(ctx context.Context, q postgres.Querier, loanID uuid.UUID, dueDate time.Time) (bool, error) {
	return f.exists[loanID][dueDate], nil
}

func (f *fakeAssessments) InsertAssessment(ctx context.Context, q postgres.Querier, a collections.Assessment) error {
	if f.exists[a.LoanID] == nil {
		f.exists[a.LoanID] = make(map[time.Time]bool)
	}
	f.exists[a.LoanID][a.PeriodDueDate] = true
	f.inserted = append(f.inserted, a)
	return nil
}

type fakeLedgerPoster struct {
	calls []feeCall
}

type feeCall struct {
	loanID    uuid.UUID
	amount    money.Minor
	isLateFee bool
}

func (f *fakeLedgerPoster) PostFeeAssessment(ctx context.Context, loanID uuid.UUID, effectiveDate time.Time, correlationID, currency string, amount money.Minor, isLateFee bool) (uuid.UUID, error) {
	f.calls = append(f.calls, feeCall{loanID: loanID, amount: amount, isLateFee: isLateFee})
	return uuid.New(), nil
}

type fakePlans struct {
	byLoan map[uuid.UUID]collections.Plan
}

func newFakePlans() *fakePlans {
	return &fakePlans{byLoan: make(map[uuid.UUID]collections.Plan)}
}

func (f *fakePlans) ActivePlan(ctx context.Context, q postgres.Querier, loanID uuid.UUID) (collections.Plan, bool, error) {
	p, ok := f.byLoan[loanID]
	if !ok || p.Status != collections.PlanStatusActive {
		return collections.Plan{}, false, nil
	}
	return p, true, nil
}

func (f *fakePlans) InsertPlan(ctx context.Context, q postgres.Querier, p collections.Plan) error {
	f.byLoan[p.LoanID] = p
	return nil
}

func (f *fakePlans) UpdatePlan(ctx context.Context, q postgres.Querier, p collections.Plan) error {
	f.byLoan[p.LoanID] = p
	return nil
}

func (f *fakePlans) PastDueActivePlans(ctx context.Context, q postgres.Querier, asOf time.Time) ([]collections.Plan, error) {
	var out []collections.Plan
	for _, p := range f.byLoan {
		if p.Status == collections.PlanStatusActive {
			out = append(out, p)
		}
	}
	return out, nil
}
