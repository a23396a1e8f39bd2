package messages

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"courier/internal/domain"
	"courier/internal/store/sqlite"
)

func newStores(t *testing.T) (Stores, *sqlite.Store) {
	t.Helper()

	store, _, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return Stores{
		Recipients: store,
		Threads:    store,
		Messages:   store,
		Pending:    store.PendingRetries(),
	}, store
}

// scriptedCipher returns outcomes in order and then the last one forever.
type scriptedCipher struct {
	mu       sync.Mutex
	outcomes []domain.DecryptOutcome
	calls    int
}

func cipherReturning(outcomes ...domain.DecryptOutcome) *scriptedCipher {
	return &scriptedCipher{outcomes: outcomes}
}

func (c *scriptedCipher) Decrypt(context.Context, domain.Envelope) domain.DecryptOutcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.calls
	if i >= len(c.outcomes) {
		i = len(c.outcomes) - 1
	}
	c.calls++
	return c.outcomes[i]
}

type recordingQueue struct {
	mu   sync.Mutex
	jobs []domain.Job
}

func (q *recordingQueue) Enqueue(job domain.Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
}

func (q *recordingQueue) snapshot() []domain.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]domain.Job(nil), q.jobs...)
}

func (q *recordingQueue) count(kind string) int {
	n := 0
	for _, j := range q.snapshot() {
		if j.Kind() == kind {
			n++
		}
	}
	return n
}

type recordingNotifier struct {
	mu      sync.Mutex
	senders []domain.Username
}

func (n *recordingNotifier) NotifyInternalError(_ context.Context, sender domain.Username, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.senders = append(n.senders, sender)
}

type switches struct {
	registered atomic.Bool
	push       atomic.Bool
	network    atomic.Bool
}

func (s *switches) IsRegistered() bool  { return s.registered.Load() }
func (s *switches) IsPushEnabled() bool { return s.push.Load() }
func (s *switches) IsAvailable() bool   { return s.network.Load() }

func fixedClock(ms int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(ms) }
}

func sessionFailure(kind domain.ProtocolErrorKind, sender domain.Username, device domain.DeviceID, hint domain.ContentHint) domain.DecryptOutcome {
	return domain.DecryptOutcome{Err: &domain.ProtocolError{
		Kind:         kind,
		Sender:       sender,
		SenderDevice: device,
		ContentHint:  hint,
	}}
}

func supportRetries(t *testing.T, stores Stores, user domain.Username) domain.Recipient {
	t.Helper()
	ctx := context.Background()
	rec, err := stores.Recipients.RecipientFor(ctx, user)
	if err != nil {
		t.Fatalf("recipient: %v", err)
	}
	if err := stores.Recipients.SetMessageRetries(ctx, rec.ID, true); err != nil {
		t.Fatalf("set retries: %v", err)
	}
	rec.SupportsMessageRetries = true
	return rec
}
