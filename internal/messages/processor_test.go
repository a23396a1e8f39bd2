package messages

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier/internal/domain"
	domaintypes "courier/internal/domain/types"
	"courier/internal/jobs"
)

func newTestProcessor(t *testing.T, c domain.EnvelopeCipher) (*IncomingMessageProcessor, Stores, *recordingQueue) {
	t.Helper()
	stores, _ := newStores(t)
	queue := &recordingQueue{}
	d := NewDecryptor(c, stores.Recipients, NewRetryCoordinator(stores, nil, nil), nil, true, nil)
	return NewIncomingMessageProcessor(d, queue, stores), stores, queue
}

func process(t *testing.T, p *IncomingMessageProcessor, env domain.Envelope) domain.DecryptionResult {
	t.Helper()
	proc := p.Acquire()
	defer proc.Release()
	res, err := proc.ProcessEnvelope(context.Background(), env)
	require.NoError(t, err)
	return res
}

func threadRows(t *testing.T, stores Stores, user domain.Username) []domain.MessageRecord {
	t.Helper()
	ctx := context.Background()
	rec, err := stores.Recipients.RecipientFor(ctx, user)
	require.NoError(t, err)
	thread, ok, err := stores.Threads.ThreadFor(ctx, rec.ID)
	require.NoError(t, err)
	if !ok {
		return nil
	}
	rows, err := stores.Messages.Messages(ctx, thread)
	require.NoError(t, err)
	return rows
}

func TestProcessorStoresContentOnce(t *testing.T) {
	c := domain.Content{
		Sender:       "alice",
		SenderDevice: 1,
		Timestamp:    1000,
		ServerGUID:   "guid-1",
		Kind:         domaintypes.ContentData,
		Body:         "hello",
		Capabilities: &domain.Capabilities{MessageRetries: true},
	}
	p, stores, queue := newTestProcessor(t, cipherReturning(domaintypes.Decrypted(c)))

	process(t, p, prekey(1000))
	process(t, p, prekey(1000))

	rows := threadRows(t, stores, "alice")
	require.Len(t, rows, 1)
	assert.Equal(t, "hello", rows[0].Body)
	assert.Equal(t, domaintypes.RecordText, rows[0].Kind)

	alice, err := stores.Recipients.RecipientFor(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, alice.SupportsMessageRetries)

	assert.Equal(t, 2, queue.count(jobs.KindRefreshPreKeys))
}

func TestProcessorErrorRecordsAreIdempotent(t *testing.T) {
	p, stores, queue := newTestProcessor(t, cipherReturning(
		sessionFailure(domaintypes.ErrKindDuplicateMessage, "alice", 1, 0),
	))

	for i := 0; i < 3; i++ {
		res := process(t, p, ordinary(1000))
		assert.Equal(t, domaintypes.StateDuplicateMessage, res.State)
	}

	rows := threadRows(t, stores, "alice")
	require.Len(t, rows, 1)
	assert.Equal(t, domaintypes.RecordDuplicate, rows[0].Kind)
	assert.Empty(t, queue.snapshot())
}

func TestProcessorNoopStoresNothing(t *testing.T) {
	p, stores, queue := newTestProcessor(t, cipherReturning(
		sessionFailure(domaintypes.ErrKindNoSession, "alice", 1, 0),
	))

	res := process(t, p, ordinary(1000))
	assert.Equal(t, domaintypes.StateNoop, res.State)
	assert.Empty(t, threadRows(t, stores, "alice"))
	assert.Equal(t, []domain.Job{jobs.AutomaticSessionResetJob{Sender: "alice", Device: 1, Timestamp: 1000}}, queue.snapshot())
}

func TestResendClearsPendingReceipt(t *testing.T) {
	resent := domain.Content{Sender: "alice", SenderDevice: 1, Timestamp: 1000, Kind: domaintypes.ContentData, Body: "again"}
	p, stores, queue := newTestProcessor(t, cipherReturning(
		sessionFailure(domaintypes.ErrKindInvalidMessage, "alice", 1, domaintypes.ContentHintResendable),
		domaintypes.Decrypted(resent),
	))
	supportRetries(t, stores, "alice")
	ctx := context.Background()

	process(t, p, ordinary(1000))
	pending, err := stores.Pending.List(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, queue.count(jobs.KindSendRetryReceipt))

	process(t, p, ordinary(1000))
	pending, err = stores.Pending.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	rows := threadRows(t, stores, "alice")
	require.Len(t, rows, 1)
	assert.Equal(t, "again", rows[0].Body)
}

func TestRetryReceiptContentQueuesResend(t *testing.T) {
	receipt := domain.Content{
		Sender:          "bob",
		SenderDevice:    2,
		Timestamp:       5000,
		Kind:            domaintypes.ContentDecryptionError,
		DecryptionError: &domain.DecryptionErrorMessage{Timestamp: 4000, DeviceID: 1},
	}
	p, stores, queue := newTestProcessor(t, cipherReturning(domaintypes.Decrypted(receipt)))

	process(t, p, domain.Envelope{Type: domaintypes.EnvelopePlaintextContent, Source: "bob", SourceDevice: 2, Timestamp: 5000})

	assert.Equal(t, []domain.Job{jobs.ResendMessageJob{Recipient: "bob", Device: 2, SentTimestamp: 4000}}, queue.snapshot())
	assert.Empty(t, threadRows(t, stores, "bob"))
}

func TestProcessorEnqueuesJobsInOrder(t *testing.T) {
	p, stores, queue := newTestProcessor(t, cipherReturning(
		sessionFailure(domaintypes.ErrKindNoSession, "alice", 3, domaintypes.ContentHintImplicit),
	))
	supportRetries(t, stores, "alice")

	process(t, p, prekey(10))

	got := queue.snapshot()
	require.Len(t, got, 2)
	assert.Equal(t, jobs.KindRefreshPreKeys, got[0].Kind())
	assert.Equal(t, jobs.KindSendRetryReceipt, got[1].Kind())
}

func TestRedeliveredEnvelopeStoresOneRow(t *testing.T) {
	c := domain.Content{
		Sender:       "alice",
		SenderDevice: 1,
		Timestamp:    1000,
		Kind:         domaintypes.ContentData,
		Body:         "hello",
	}
	p, stores, _ := newTestProcessor(t, cipherReturning(
		domaintypes.Decrypted(c),
		sessionFailure(domaintypes.ErrKindDuplicateMessage, "alice", 1, 0),
	))

	process(t, p, ordinary(1000))
	res := process(t, p, ordinary(1000))
	assert.Equal(t, domaintypes.StateDuplicateMessage, res.State)

	rows := threadRows(t, stores, "alice")
	require.Len(t, rows, 1)
	assert.Equal(t, domaintypes.RecordText, rows[0].Kind)
}
