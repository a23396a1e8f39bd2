package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier/internal/domain"
)

type fakeChannel struct {
	mu         sync.Mutex
	published  []amqp091.Publishing
	keys       []string
	bound      []string
	publishErr error
	deliveries chan amqp091.Delivery
	closed     bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{deliveries: make(chan amqp091.Delivery, 8)}
}

func (f *fakeChannel) ExchangeDeclare(string, string, bool, bool, bool, bool, amqp091.Table) error {
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, _ amqp091.Table) (amqp091.Queue, error) {
	return amqp091.Queue{Name: name}, nil
}

func (f *fakeChannel) QueueBind(_, key, _ string, _ bool, _ amqp091.Table) error {
	f.bound = append(f.bound, key)
	return nil
}

func (f *fakeChannel) Qos(int, int, bool) error { return nil }

func (f *fakeChannel) Consume(string, string, bool, bool, bool, bool, amqp091.Table) (<-chan amqp091.Delivery, error) {
	return f.deliveries, nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp091.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, msg)
	f.keys = append(f.keys, key)
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

type ackResult struct {
	acked   bool
	requeue bool
}

type fakeAcker struct {
	results chan ackResult
}

func (a *fakeAcker) Ack(uint64, bool) error {
	a.results <- ackResult{acked: true}
	return nil
}

func (a *fakeAcker) Nack(_ uint64, _ bool, requeue bool) error {
	a.results <- ackResult{requeue: requeue}
	return nil
}

func (a *fakeAcker) Reject(_ uint64, requeue bool) error {
	a.results <- ackResult{requeue: requeue}
	return nil
}

func waitAck(t *testing.T, a *fakeAcker) ackResult {
	t.Helper()
	select {
	case r := <-a.results:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for ack")
		return ackResult{}
	}
}

func TestAMQPPublishesPersistentJobs(t *testing.T) {
	ch := newFakeChannel()
	m := NewManager(fastOptions())
	defer m.Close()

	q, err := NewAMQPQueue(ch, nil, "courier.jobs", "courier.jobs.alice", m)
	require.NoError(t, err)
	assert.Equal(t, []string{"job.#"}, ch.bound)

	q.Enqueue(AutomaticSessionResetJob{Sender: "bob", Device: 2, Timestamp: 10})

	require.Len(t, ch.published, 1)
	msg := ch.published[0]
	assert.Equal(t, "job."+KindAutomaticSessionReset, ch.keys[0])
	assert.Equal(t, amqp091.Persistent, msg.DeliveryMode)
	assert.NotEmpty(t, msg.MessageId)

	id, job, err := Decode(msg.Body)
	require.NoError(t, err)
	assert.Equal(t, msg.MessageId, id)
	assert.Equal(t, AutomaticSessionResetJob{Sender: "bob", Device: 2, Timestamp: 10}, job)
}

func TestAMQPFallsBackToLocalWhenPublishFails(t *testing.T) {
	ch := newFakeChannel()
	ch.publishErr = errors.New("connection closed")
	m := NewManager(fastOptions())
	defer m.Close()

	ran := make(chan struct{})
	m.Register(KindRefreshPreKeys, func(context.Context, domain.Job) error {
		close(ran)
		return nil
	})

	q, err := NewAMQPQueue(ch, nil, "ex", "q", m)
	require.NoError(t, err)
	q.Enqueue(RefreshPreKeysJob{})

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not run locally")
	}
}

func TestAMQPConsumerAcksAfterJobRuns(t *testing.T) {
	ch := newFakeChannel()
	m := NewManager(fastOptions())
	defer m.Close()

	m.Register(KindRefreshPreKeys, func(context.Context, domain.Job) error { return nil })
	m.Register(KindResendMessage, func(context.Context, domain.Job) error { return errors.New("no such message") })

	q, err := NewAMQPQueue(ch, nil, "ex", "q", m)
	require.NoError(t, err)
	require.NoError(t, q.Start())
	defer q.Close()

	acker := &fakeAcker{results: make(chan ackResult, 4)}

	ok, err := Encode("a", RefreshPreKeysJob{})
	require.NoError(t, err)
	ch.deliveries <- amqp091.Delivery{Acknowledger: acker, Body: ok}
	assert.Equal(t, ackResult{acked: true}, waitAck(t, acker))

	failing, err := Encode("b", ResendMessageJob{Recipient: "bob", Device: 1, SentTimestamp: 3})
	require.NoError(t, err)
	ch.deliveries <- amqp091.Delivery{Acknowledger: acker, Body: failing}
	assert.Equal(t, ackResult{}, waitAck(t, acker), "failed job is dead-lettered, not requeued")

	ch.deliveries <- amqp091.Delivery{Acknowledger: acker, Body: []byte("not json")}
	assert.Equal(t, ackResult{}, waitAck(t, acker))
}

func TestAMQPCloseClosesChannel(t *testing.T) {
	ch := newFakeChannel()
	m := NewManager(fastOptions())
	defer m.Close()

	q, err := NewAMQPQueue(ch, nil, "ex", "q", m)
	require.NoError(t, err)
	require.NoError(t, q.Start())
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())
	assert.True(t, ch.closed)
}
