package message

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier/internal/domain"
	domaintypes "courier/internal/domain/types"
	"courier/internal/store/sqlite"
)

type encryptCall struct {
	peer    domain.Username
	device  domain.DeviceID
	hint    domain.ContentHint
	payload domain.Payload
}

type fakeCipher struct {
	calls []encryptCall
	err   error
}

func (f *fakeCipher) EncryptSealed(
	peer domain.Username,
	device domain.DeviceID,
	hint domain.ContentHint,
	p domain.Payload,
) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.calls = append(f.calls, encryptCall{peer, device, hint, p})
	return []byte("sealed:" + p.Body), nil
}

type fakeRelay struct {
	domain.RelayClient
	sent []domain.Envelope
}

func (f *fakeRelay) SendMessage(_ context.Context, env domain.Envelope) error {
	f.sent = append(f.sent, env)
	return nil
}

func newService(t *testing.T) (*Service, *fakeCipher, *fakeRelay, *sqlite.Store) {
	t.Helper()
	db, _, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	c, r := &fakeCipher{}, &fakeRelay{}
	svc := New(c, r, db, db, "alice", 1)
	svc.now = func() time.Time { return time.UnixMilli(1_000) }
	return svc, c, r, db
}

func TestSendMessageLogsAndPosts(t *testing.T) {
	svc, c, r, db := newService(t)
	ctx := context.Background()

	ts, err := svc.SendMessage(ctx, "bob", 2, "hi")
	require.NoError(t, err)
	assert.Equal(t, int64(1_000), ts)

	require.Len(t, c.calls, 1)
	assert.True(t, c.calls[0].payload.Capabilities.MessageRetries)
	assert.Equal(t, domaintypes.ContentHintResendable, c.calls[0].hint)
	require.Len(t, r.sent, 1)
	env := r.sent[0]
	assert.Equal(t, domaintypes.EnvelopeUnidentifiedSender, env.Type)
	assert.Empty(t, env.Source, "the sender is only inside the seal")
	assert.Equal(t, domain.Username("bob"), env.Destination)
	assert.Equal(t, int64(1_000), env.Timestamp)

	bob, err := db.RecipientFor(ctx, "bob")
	require.NoError(t, err)
	sent, ok, err := db.LoadSent(ctx, bob.ID, 1_000)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hi", sent.Body)
	assert.Equal(t, domaintypes.ContentHintResendable, sent.ContentHint)
}

func TestSendMessageFailsWhenEncryptFails(t *testing.T) {
	svc, c, r, _ := newService(t)
	c.err = errors.New("no session")

	_, err := svc.SendMessage(context.Background(), "bob", 1, "hi")
	require.Error(t, err)
	assert.Empty(t, r.sent)
}

func TestRetryReceiptIsPlaintextContent(t *testing.T) {
	svc, c, r, _ := newService(t)
	group, err := domaintypes.ParseGroupID(make([]byte, 16))
	require.NoError(t, err)

	msg := domain.DecryptionErrorMessage{Timestamp: 77, DeviceID: 2, OriginalType: domaintypes.EnvelopeCiphertext}
	require.NoError(t, svc.SendRetryReceipt(context.Background(), "bob", 2, group, msg))

	assert.Empty(t, c.calls, "receipts are not encrypted")
	require.Len(t, r.sent, 1)
	env := r.sent[0]
	assert.Equal(t, domaintypes.EnvelopePlaintextContent, env.Type)

	var p domain.Payload
	require.NoError(t, json.Unmarshal(env.Content, &p))
	assert.Equal(t, domaintypes.ContentDecryptionError, p.Kind)
	assert.Equal(t, msg, *p.DecryptionError)
	assert.Len(t, p.GroupID, 16)
}

func TestResendUsesOriginalTimestamp(t *testing.T) {
	svc, c, r, _ := newService(t)
	ctx := context.Background()

	ts, err := svc.SendMessage(ctx, "bob", 2, "original")
	require.NoError(t, err)
	svc.now = func() time.Time { return time.UnixMilli(9_000) }

	require.NoError(t, svc.ResendMessage(ctx, "bob", 2, ts))
	require.Len(t, r.sent, 2)
	assert.Equal(t, ts, r.sent[1].Timestamp)
	assert.Equal(t, "original", c.calls[1].payload.Body)
	assert.Equal(t, domaintypes.ContentData, c.calls[1].payload.Kind)
	assert.Equal(t, domaintypes.ContentHintResendable, c.calls[1].hint, "hint comes from the sent log")
}

func TestResendWithoutLogSendsNullMessage(t *testing.T) {
	svc, c, r, _ := newService(t)

	require.NoError(t, svc.ResendMessage(context.Background(), "bob", 2, 12345))
	require.Len(t, c.calls, 1)
	assert.Equal(t, domaintypes.ContentNull, c.calls[0].payload.Kind)
	assert.Equal(t, domaintypes.ContentHintImplicit, c.calls[0].hint)
	require.Len(t, r.sent, 1)
	assert.NotEqual(t, int64(12345), r.sent[0].Timestamp)
}
