package scheduler_test

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bibbank/loanserve/internal/scheduler"
	"github.com/bibbank/loanserve/pkg/postgres"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeTxRunner struct{}

func (f *fakeTxRunner) WithTransaction(ctx context.Context, fn func(postgres.Querier) error) error {
	return fn(nil)
}

type fakeLoanLister struct {
	loanIDs []uuid.UUID
	err     error
}

func (f *fakeLoanLister) ListActiveLoans(ctx context.Context, q postgres.Querier, asOf time.Time) ([]uuid.UUID, error) {
	return f.loanIDs, f.err
}

type fakeOutbox struct {
	rows []scheduler.OutboxRow
}

func newFakeOutbox() *fakeOutbox {
	return &fakeOutbox{}
}

func (f *fakeOutbox) Enqueue(ctx context.Context, q postgres.Querier, row scheduler.OutboxRow) error {
	f.rows = append(f.rows, row)
	return nil
}

func (f *fakeOutbox) FetchDue(ctx context.Context, q postgres.Querier, limit int, now time.Time) ([]scheduler.OutboxRow, error) {
	var due []scheduler.OutboxRow
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
