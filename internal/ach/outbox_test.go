package ach_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibbank/loanserve/internal/ach"
)

func TestDispatcher_PublishesDueRowAndMarksPublished(t *testing.T) {
	outbox := newFakeOutbox()
	eventID := uuid.New()
	outbox.rows = append(outbox.rows, ach.OutboxRow{EventID: eventID, Topic: ach.TopicACHReturnExceptionOpened, Payload: []byte(`{}`), CreatedAt: time.Now().UTC(), NextRetryAt: time.Now().UTC()})

	pub := &fakePublisher{}
	dispatcher := ach.NewDispatcher(&fakeTxRunner{}, outbox, pub, testLogger())

	n, err := dispatcher.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NotNil(t, outbox.rows[0].PublishedAt)
}

func TestDispatcher_RetriesOnFailureBelowAttemptCeiling(t *testing.T) {
	outbox := newFakeOutbox()
	eventID := uuid.New()
	outbox.rows = append(outbox.rows, ach.OutboxRow{EventID: eventID, Topic: ach.TopicACHReturnExceptionOpened, Payload: []byte(`{}`), CreatedAt: time.Now().UTC(), NextRetryAt: time.Now().UTC()})

	pub := &fakePublisher{failTopic: ach.TopicACHReturnExceptionOpened}
	dispatcher := ach.NewDispatcher(&fakeTxRunner{}, outbox, pub, testLogger())

	n, err := dispatcher.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	row := outbox.rows[0]
	assert.Equal(t, 1, row.AttemptCount)
	assert.False(t, row.Parked)
	assert.Nil(t, row.PublishedAt)
}

func TestDispatcher_ParksAfterMaxAttempts(t *testing.T) {
	outbox := newFakeOutbox()
	eventID := uuid.New()
	outbox.rows = append(outbox.rows, ach.OutboxRow{
		EventID: eventID, Topic: ach.TopicACHReturnExceptionOpened, Payload: []byte(`{}`),
		CreatedAt: time.Now().UTC(), NextRetryAt: time.Now().UTC(), AttemptCount: ach.MaxDispatchAttempts - 1,
	})

	pub := &fakePublisher{failTopic: ach.TopicACHReturnExceptionOpened}
	dispatcher := ach.NewDispatcher(&fakeTxRunner{}, outbox, pub, testLogger())

	_, err := dispatcher.DispatchOnce(context.Background())
	require.NoError(t, err)

	assert.True(t, outbox.rows[0].Parked)
}
