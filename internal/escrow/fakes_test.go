package escrow_test

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bibbank/loanserve/internal/escrow"
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

type fakeItems struct {
	byLoan map[uuid.UUID][]escrow.Item
}

func newFakeItems() *fakeItems {
	return &fakeItems{byLoan: make(map[uuid.UUID][]escrow.Item)}
}

func (f *fakeItems) ActiveItems(ctx context.Context, q postgres.Querier, loanID uuid.UUID) ([]escrow.Item, error) {
	return f.byLoan[loanID], nil
}

type fakePolicies struct {
	byLoan map[uuid.UUID]escrow.Policy
	def    escrow.Policy
}

func newFakePolicies(def escrow.Policy) *fakePolicies {
	return &fakePolicies{byLoan: make(map[uuid.UUID]escrow.Policy), def: def}
}

func (f *fakePolicies) GetPolicy(ctx context.Context, q postgres.Querier, loanID uuid.UUID) (escrow.Policy, error) {
	if p, ok := f.byLoan[loanID]; ok {
		return p, nil
	}
	return f.def, nil
}

type forecastKey struct {
	loanID   uuid.UUID
	escrowID string
	dueDate  time.Time
}

type fakeForecasts struct {
	rows map[forecastKey]escrow.ForecastRow
}

func newFakeForecasts() *fakeForecasts {
	return &fakeForecasts{rows: make(map[forecastKey]escrow.ForecastRow)}
}

func (f *fakeForecasts) ReplaceHorizon(ctx context.Context, q postgres.Querier, loanID uuid.UUID, rows []escrow.ForecastRow) error {
	for k := range f.rows {
		if k.loanID == loanID {
			delete(f.rows, k)
		}
	}
	for _, row := range rows {
		f.rows[forecastKey{loanID: row.LoanID, escrowID: row.EscrowID, dueDate: row.DueDate}] = row
	}
	return nil
}

func (f *fakeForecasts) ForecastWindow(ctx context.Context, q postgres.Querier, loanID uuid.UUID, from, to time.Time) ([]escrow.ForecastRow, error) {
	var out []escrow.ForecastRow
	for k, row := range f.rows {
		if k.loanID != loanID {
			continue
		}
		if row.DueDate.Before(from) || row.DueDate.After(to) {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

type fakeDisbursements struct {
	byID map[uuid.UUID]escrow.Disbursement
}

func newFakeDisbursements() *fakeDisbursements {
	return &fakeDisbursements{byID: make(map[uuid.UUID]escrow.Disbursement)}
}

func (f *fakeDisbursements) Exists(ctx context.Context, q postgres.Querier, loanID uuid.UUID, escrowID string, dueDate time.Time) (bool, error) {
	for _, d := range f.byID {
		if d.LoanID == loanID && d.EscrowID == escrowID && d.DueDate.Equal(dueDate) && d.Status != escrow.DisbursementCanceled {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeDisbursements) InsertDisbursement(ctx context.Context, q postgres.Querier, d escrow.Disbursement) error {
	f.byID[d.DisbID] = d
	return nil
}

func (f *fakeDisbursements) DueScheduled(ctx context.Context, q postgres.Querier, loanID uuid.UUID, asOf time.Time) ([]escrow.Disbursement, error) {
	var out []escrow.Disbursement
	for _, d := range f.byID {
		if d.LoanID == loanID && d.Status == escrow.DisbursementScheduled && !d.DueDate.After(asOf) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeDisbursements) MarkPosted(ctx context.Context, q postgres.Querier, disbID uuid.UUID, eventID uuid.UUID) error {
	d := f.byID[disbID]
	d.Status = escrow.DisbursementPosted
	d.EventID = &eventID
	f.byID[disbID] = d
	return nil
}

type fakeBalances struct {
	byLoan map[uuid.UUID]int64
}

func newFakeBalances() *fakeBalances {
	return &fakeBalances{byLoan: make(map[uuid.UUID]int64)}
}

func (f *fakeBalances) EscrowLiability(ctx context.Context, q postgres.Querier, loanID uuid.UUID) (money.Minor, error) {
	return money.Minor(f.byLoan[loanID]), nil
}

type fakeLedgerPoster struct {
	calls []ledgerPosterCall
	err   error
}

type ledgerPosterCall struct {
	loanID        uuid.UUID
	correlationID string
	amount        money.Minor
	available     money.Minor
}

func (f *fakeLedgerPoster) PostEscrowPayment(ctx context.Context, loanID uuid.UUID, effectiveDate time.Time, correlationID, currency string, amount, available money.Minor) (uuid.UUID, error) {
	if f.err != nil {
		return uuid.Nil, f.err
	}
	f.calls = append(f.calls, ledgerPosterCall{loanID: loanID, correlationID: correlationID, amount: amount, available: available})
	return uuid.New(), nil
}

type fakeAnalyses struct {
	byLoan   map[uuid.UUID]int
	inserted []escrow.Analysis
}

func newFakeAnalyses() *fakeAnalyses {
	return &fakeAnalyses{byLoan: make(map[uuid.UUID]int)}
}

func (f *fakeAnalyses) LatestVersion(ctx context.Context, q postgres.Querier, loanID uuid.UUID) (int, error) {
	return f.byLoan[loanID], nil
}

func (f *fakeAnalyses) Insert(ctx context.Context, q postgres.Querier, a escrow.Analysis) error {
	f.byLoan[a.LoanID] = a.Version
	f.inserted = append(f.inserted, a)
	return nil
}

type fakeOutbox struct {
	rows map[uuid.UUID]escrow.OutboxRow
}

func newFakeOutbox() *fakeOutbox {
	return &fakeOutbox{rows: make(map[uuid.UUID]escrow.OutboxRow)}
}

func (o *fakeOutbox) Enqueue(ctx context.Context, q postgres.Querier, row escrow.OutboxRow) error {
	o.rows[row.EventID] = row
	return nil
}

func (o *fakeOutbox) FetchDue(ctx context.Context, q postgres.Querier, limit int, now time.Time) ([]escrow.OutboxRow, error) {
	var due []escrow.OutboxRow
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
