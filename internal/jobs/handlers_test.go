package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier/internal/domain"
	"courier/internal/platform/ratelimiter"
)

type fakeServices struct {
	mu        sync.Mutex
	refreshes int
	resets    []string
	nulls     []string
	receipts  []domain.DecryptionErrorMessage
	resends   []int64
}

func (f *fakeServices) GenerateAndStorePreKeys(string, int) (domain.X25519Public, []domain.X25519Public, error) {
	return domain.X25519Public{}, nil, nil
}

func (f *fakeServices) LoadPreKeyBundle(string, domain.Username) (domain.PreKeyBundle, error) {
	return domain.PreKeyBundle{}, nil
}

func (f *fakeServices) RefreshPreKeys(context.Context, string, domain.Username) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return true, nil
}

func (f *fakeServices) InitiateSession(context.Context, string, domain.Username) (domain.Session, error) {
	return domain.Session{}, nil
}

func (f *fakeServices) GetSession(domain.Username) (domain.Session, bool, error) {
	return domain.Session{}, false, nil
}

func (f *fakeServices) ResetSession(_ context.Context, _ string, peer domain.Username, device domain.DeviceID) (domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets = append(f.resets, peer.String()+"."+device.String())
	return domain.Session{PeerUsername: peer}, nil
}

func (f *fakeServices) SendMessage(context.Context, domain.Username, domain.DeviceID, string) (int64, error) {
	return 0, nil
}

func (f *fakeServices) SendNullMessage(_ context.Context, to domain.Username, device domain.DeviceID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nulls = append(f.nulls, to.String()+"."+device.String())
	return nil
}

func (f *fakeServices) SendRetryReceipt(
	_ context.Context,
	_ domain.Username,
	_ domain.DeviceID,
	_ domain.GroupID,
	msg domain.DecryptionErrorMessage,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts = append(f.receipts, msg)
	return nil
}

func (f *fakeServices) ResendMessage(_ context.Context, _ domain.Username, _ domain.DeviceID, ts int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resends = append(f.resends, ts)
	return nil
}

type drainCounter struct {
	mu sync.Mutex
	n  int
}

func (d *drainCounter) NotifyDecryptionsDrained() {
	d.mu.Lock()
	d.n++
	d.mu.Unlock()
}

func runJob(t *testing.T, m *Manager, job domain.Job) error {
	t.Helper()
	done := make(chan error, 1)
	m.Submit("test", job, func(err error) { done <- err })
	return waitDone(t, done)
}

func TestHandlers(t *testing.T) {
	svc := &fakeServices{}
	drained := &drainCounter{}
	m := NewManager(fastOptions())
	defer m.Close()

	RegisterHandlers(m, Deps{
		Passphrase: "pw",
		Username:   "me",
		PreKeys:    svc,
		Sessions:   svc,
		Messages:   svc,
		Drained:    drained,
	})

	require.NoError(t, runJob(t, m, RefreshPreKeysJob{}))
	require.NoError(t, runJob(t, m, AutomaticSessionResetJob{Sender: "alice", Device: 2, Timestamp: 7}))
	require.NoError(t, runJob(t, m, SendRetryReceiptJob{
		Sender:       "alice",
		Device:       2,
		ErrorMessage: domain.DecryptionErrorMessage{Timestamp: 7, DeviceID: 2},
	}))
	require.NoError(t, runJob(t, m, ResendMessageJob{Recipient: "bob", Device: 1, SentTimestamp: 42}))
	require.NoError(t, runJob(t, m, DecryptionDrainedJob{}))

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.Equal(t, 1, svc.refreshes)
	assert.Equal(t, []string{"alice.2"}, svc.resets)
	assert.Equal(t, []string{"alice.2"}, svc.nulls, "reset is followed by a null message")
	require.Len(t, svc.receipts, 1)
	assert.Equal(t, int64(7), svc.receipts[0].Timestamp)
	assert.Equal(t, []int64{42}, svc.resends)
	assert.Equal(t, 1, drained.n)
}

func TestRetryReceiptsAreRateLimitedPerSender(t *testing.T) {
	svc := &fakeServices{}
	m := NewManager(fastOptions())
	defer m.Close()

	now := time.Unix(100, 0)
	RegisterHandlers(m, Deps{
		Messages: svc,
		Limiter:  ratelimiter.New(time.Hour, 1, time.Hour),
		Now:      func() time.Time { return now },
	})

	for i := 0; i < 3; i++ {
		require.NoError(t, runJob(t, m, SendRetryReceiptJob{Sender: "alice", Device: 1}))
	}
	require.NoError(t, runJob(t, m, SendRetryReceiptJob{Sender: "carol", Device: 1}))

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.Len(t, svc.receipts, 2)
}
