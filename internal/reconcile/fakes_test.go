package reconcile_test

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bibbank/loanserve/internal/ledger"
	"github.com/bibbank/loanserve/internal/reconcile"
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

type fakeStatements struct {
	txns map[uuid.UUID]reconcile.BankTxn
}

func newFakeStatements() *fakeStatements {
	return &fakeStatements{txns: make(map[uuid.UUID]reconcile.BankTxn)}
}

func (f *fakeStatements) InsertStatement(ctx context.Context, q postgres.Querier, statementID uuid.UUID, account string, format reconcile.StatementFormat, ingestedAt time.Time) error {
	return nil
}

func (f *fakeStatements) InsertTxn(ctx context.Context, q postgres.Querier, txn reconcile.BankTxn) error {
	f.txns[txn.ID] = txn
	return nil
}

func (f *fakeStatements) MarkMatched(ctx context.Context, q postgres.Querier, bankTxnID uuid.UUID, eventID uuid.UUID) error {
	t := f.txns[bankTxnID]
	t.Matched = true
	id := eventID
	t.MatchedTo = &id
	f.txns[bankTxnID] = t
	return nil
}

func (f *fakeStatements) GetTxn(ctx context.Context, q postgres.Querier, bankTxnID uuid.UUID) (reconcile.BankTxn, bool, error) {
	t, ok := f.txns[bankTxnID]
	return t, ok, nil
}

func (f *fakeStatements) ListByStatement(ctx context.Context, q postgres.Querier, statementID uuid.UUID) ([]reconcile.BankTxn, error) {
	var out []reconcile.BankTxn
	for _, t := range f.txns {
		if t.StatementID == statementID {
			out = append(out, t)
		}
	}
	return out, nil
}

type fakeCashEvents struct {
	events []reconcile.CashEvent
}

func newFakeCashEvents(events ...reconcile.CashEvent) *fakeCashEvents {
	return &fakeCashEvents{events: events}
}

func (f *fakeCashEvents) CashEventsNear(ctx context.Context, q postgres.Querier, date time.Time, windowDays int) ([]reconcile.CashEvent, error) {
	var out []reconcile.CashEvent
	for _, e := range f.events {
		days := int(e.EffectiveDate.Sub(date).Hours() / 24)
		if days < 0 {
			days = -days
		}
		if days <= windowDays {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeExceptions struct {
	byTxn map[uuid.UUID]reconcile.Exception
}

func newFakeExceptions() *fakeExceptions {
	return &fakeExceptions{byTxn: make(map[uuid.UUID]reconcile.Exception)}
}

func (f *fakeExceptions) Upsert(ctx context.Context, q postgres.Querier, bankTxnID uuid.UUID, variance money.Minor) (uuid.UUID, error) {
	e, ok := f.byTxn[bankTxnID]
	if !ok {
		e = reconcile.Exception{ExceptionID: uuid.New(), BankTxnID: bankTxnID, CreatedAt: time.Now().UTC()}
	}
	e.Status = reconcile.ExceptionNew
	e.VarianceMinor = variance
	e.ResolvedAt = nil
	f.byTxn[bankTxnID] = e
	return e.ExceptionID, nil
}

func (f *fakeExceptions) Resolve(ctx context.Context, q postgres.Querier, bankTxnID uuid.UUID, at time.Time) error {
	e, ok := f.byTxn[bankTxnID]
	if !ok {
		return nil
	}
	e.Status = reconcile.ExceptionResolved
	e.ResolvedAt = &at
	f.byTxn[bankTxnID] = e
	return nil
}

func (f *fakeExceptions) WriteOff(ctx context.Context, q postgres.Querier, bankTxnID uuid.UUID, at time.Time) error {
	e, ok := f.byTxn[bankTxnID]
	if !ok {
		e = reconcile.Exception{ExceptionID: uuid.New(), BankTxnID: bankTxnID}
	}
	e.Status = reconcile.ExceptionWrittenOff
	e.ResolvedAt = &at
	f.byTxn[bankTxnID] = e
	return nil
}

func (f *fakeExceptions) OpenFor(ctx context.Context, q postgres.Querier, bankTxnID uuid.UUID) (reconcile.Exception, bool, error) {
	e, ok := f.byTxn[bankTxnID]
	return e, ok, nil
}

type ledgerPostCall struct {
	loanID        uuid.UUID
	effectiveDate time.Time
	correlationID string
	schema        string
	currency      string
	lines         []ledger.Line
}

type fakeLedgerPoster struct {
	calls []ledgerPostCall
}

func (f *fakeLedgerPoster) PostEvent(ctx context.Context, loanID uuid.UUID, effectiveDate time.Time, correlationID, schema, currency string, lines []ledger.Line) (uuid.UUID, error) {
	f.calls = append(f.calls, ledgerPostCall{loanID, effectiveDate, correlationID, schema, currency, lines})
	return uuid.New(), nil
}

type fakeOutbox struct {
	rows []reconcile.OutboxRow
}

func newFakeOutbox() *fakeOutbox {
	return &fakeOutbox{}
}

func (f *fakeOutbox) Enqueue(ctx context.Context, q postgres.Querier, row reconcile.OutboxRow) error {
	f.rows = append(f.rows, row)
	return nil
}

func (f *fakeOutbox) FetchDue(ctx context.Context, q postgres.Querier, limit int, now time.Time) ([]reconcile.OutboxRow, error) {
	var due []reconcile.OutboxRow
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
