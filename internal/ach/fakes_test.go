package ach_test

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bibbank/loanserve/internal/ach"
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

type fakeBatches struct {
	batches map[uuid.UUID]ach.Batch
	entries map[uuid.UUID][]ach.Entry
}

func newFakeBatches() *fakeBatches {
	return &fakeBatches{
		batches: make(map[uuid.UUID]ach.Batch),
		entries: make(map[uuid.UUID][]ach.Entry),
	}
}

func (f *fakeBatches) OpenBatch(ctx context.Context, q postgres.Querier, b ach.Batch) (uuid.UUID, error) {
	id := uuid.New()
	b.BatchID = id
	b.Status = ach.BatchOpen
	f.batches[id] = b
	return id, nil
}

func (f *fakeBatches) GetBatch(ctx context.Context, q postgres.Querier, batchID uuid.UUID) (ach.Batch, error) {
	return f.batches[batchID], nil
}

func (f *fakeBatches) AddEntry(ctx context.Context, q postgres.Querier, e ach.Entry) (uuid.UUID, error) {
	id := uuid.New()
	e.EntryID = id
	f.entries[e.BatchID] = append(f.entries[e.BatchID], e)
	return id, nil
}

func (f *fakeBatches) ListEntries(ctx context.Context, q postgres.Querier, batchID uuid.UUID) ([]ach.Entry, error) {
	return f.entries[batchID], nil
}

func (f *fakeBatches) SealBatch(ctx context.Context, q postgres.Querier, batchID uuid.UUID, entryCount int, entryHash int64, debitTotal, creditTotal money.Minor, sealedAt time.Time) error {
	b := f.batches[batchID]
	b.Status = ach.BatchSealed
	b.EntryCount = entryCount
	b.EntryHash = entryHash
	b.DebitTotalMinor = debitTotal
	b.CreditTotalMinor = creditTotal
	b.SealedAt = &sealedAt
	f.batches[batchID] = b
	return nil
}

func (f *fakeBatches) StampTrace(ctx context.Context, q postgres.Querier, entryID uuid.UUID, traceNumber string) error {
	for batchID, entries := range f.entries {
		for i, e := range entries {
			if e.EntryID == entryID {
				f.entries[batchID][i].TraceNumber = traceNumber
				return nil
			}
		}
	}
	return nil
}

func (f *fakeBatches) MarkFiled(ctx context.Context, q postgres.Querier, batchID uuid.UUID, filedAt time.Time) error {
	return nil
}

func (f *fakeBatches) MarkSettled(ctx context.Context, q postgres.Querier, batchID uuid.UUID, settledAt time.Time) error {
	return nil
}

func (f *fakeBatches) MarkFailed(ctx context.Context, q postgres.Querier, batchID uuid.UUID) error {
	return nil
}

func (f *fakeBatches) NextSequence(ctx context.Context, q postgres.Querier, batchID uuid.UUID) (int, error) {
	return len(f.entries[batchID]) + 1, nil
}

type fakeReturns struct {
	byEntry map[uuid.UUID]ach.Return
}

func newFakeReturns() *fakeReturns {
	return &fakeReturns{byEntry: make(map[uuid.UUID]ach.Return)}
}

func (f *fakeReturns) InsertReturn(ctx context.Context, q postgres.Querier, r ach.Return) (uuid.UUID, bool, error) {
	if existing, ok := f.byEntry[r.EntryID]; ok {
		return existing.ReturnID, false, nil
	}
	f.byEntry[r.EntryID] = r
	return r.ReturnID, true, nil
}

type fakeEntryLookup struct {
	byTrace map[string]ach.Entry
}

func newFakeEntryLookup() *fakeEntryLookup {
	return &fakeEntryLookup{byTrace: make(map[string]ach.Entry)}
}

func (f *fakeEntryLookup) GetEntryByTrace(ctx context.Context, q postgres.Querier, traceNumber string) (ach.Entry, error) {
	return f.byTrace[traceNumber], nil
}

type fakeOutbox struct {
	rows []ach.OutboxRow
}

func newFakeOutbox() *fakeOutbox {
	return &fakeOutbox{}
}

func (f *fakeOutbox) Enqueue(ctx context.Context, q postgres.Querier, row ach.OutboxRow) error {
	f.rows = append(f.rows, row)
	return nil
}

func (f *fakeOutbox) FetchDue(ctx context.Context, q postgres.Querier, limit int, now time.Time) ([]ach.OutboxRow, error) {
	var due []ach.OutboxRow
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
