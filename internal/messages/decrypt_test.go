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

func ordinary(ts int64) domain.Envelope {
	return domain.Envelope{Type: domaintypes.EnvelopeCiphertext, Source: "alice", SourceDevice: 1, Timestamp: ts}
}

func prekey(ts int64) domain.Envelope {
	return domain.Envelope{Type: domaintypes.EnvelopePreKeyBundle, Source: "alice", SourceDevice: 1, Timestamp: ts}
}

func newTestDecryptor(t *testing.T, retries bool) (*Decryptor, Stores, *recordingNotifier) {
	t.Helper()
	stores, _ := newStores(t)
	notifier := &recordingNotifier{}
	coord := NewRetryCoordinator(stores, nil, nil)
	return NewDecryptor(nil, stores.Recipients, coord, notifier, retries, nil), stores, notifier
}

func TestClassifyStates(t *testing.T) {
	content := domain.Content{Sender: "alice", SenderDevice: 1, Timestamp: 1000, Kind: domaintypes.ContentData, Body: "hi"}

	cases := []struct {
		name    string
		outcome domain.DecryptOutcome
		state   domain.MessageState
		reset   bool
	}{
		{"ok", domaintypes.Decrypted(content), domaintypes.StateDecryptedOK, false},
		{"invalid version", sessionFailure(domaintypes.ErrKindInvalidVersion, "alice", 1, 0), domaintypes.StateInvalidVersion, false},
		{"invalid key", sessionFailure(domaintypes.ErrKindInvalidKey, "alice", 1, 0), domaintypes.StateNoop, true},
		{"invalid key id", sessionFailure(domaintypes.ErrKindInvalidKeyID, "alice", 1, 0), domaintypes.StateNoop, true},
		{"untrusted identity", sessionFailure(domaintypes.ErrKindUntrustedIdentity, "alice", 1, 0), domaintypes.StateNoop, true},
		{"no session", sessionFailure(domaintypes.ErrKindNoSession, "alice", 1, 0), domaintypes.StateNoop, true},
		{"invalid message", sessionFailure(domaintypes.ErrKindInvalidMessage, "alice", 1, 0), domaintypes.StateNoop, true},
		{"legacy", sessionFailure(domaintypes.ErrKindLegacyMessage, "alice", 1, 0), domaintypes.StateLegacyMessage, false},
		{"duplicate", sessionFailure(domaintypes.ErrKindDuplicateMessage, "alice", 1, 0), domaintypes.StateDuplicateMessage, false},
		{"metadata version", sessionFailure(domaintypes.ErrKindInvalidMetadataVersion, "", 0, 0), domaintypes.StateNoop, false},
		{"metadata message", sessionFailure(domaintypes.ErrKindInvalidMetadataMessage, "", 0, 0), domaintypes.StateNoop, false},
		{"self send", sessionFailure(domaintypes.ErrKindSelfSend, "me", 1, 0), domaintypes.StateNoop, false},
		{"unsupported", sessionFailure(domaintypes.ErrKindUnsupportedDataMessage, "alice", 1, 0), domaintypes.StateUnsupportedDataMessage, false},
	}

	for _, tc := range cases {
		for _, env := range []domain.Envelope{ordinary(1000), prekey(1000)} {
			t.Run(tc.name+"/"+env.Type.String(), func(t *testing.T) {
				d, _, _ := newTestDecryptor(t, false)
				res := d.Classify(context.Background(), env, tc.outcome)

				assert.Equal(t, tc.state, res.State)
				assert.Equal(t, res.State == domaintypes.StateDecryptedOK, res.Content != nil)
				assert.Equal(t, res.State.IsError(), res.Exception != nil)

				var kinds []string
				for _, j := range res.Jobs {
					kinds = append(kinds, j.Kind())
				}
				if env.IsPreKeyBundle() {
					require.NotEmpty(t, kinds)
					assert.Equal(t, jobs.KindRefreshPreKeys, kinds[0])
					kinds = kinds[1:]
				}
				if tc.reset {
					assert.Equal(t, []string{jobs.KindAutomaticSessionReset}, kinds)
				} else {
					assert.Empty(t, kinds)
				}
			})
		}
	}
}

func TestDuplicateClassificationIsStable(t *testing.T) {
	d, _, _ := newTestDecryptor(t, true)
	outcome := sessionFailure(domaintypes.ErrKindDuplicateMessage, "alice", 1, 0)

	first := d.Classify(context.Background(), ordinary(1000), outcome)
	second := d.Classify(context.Background(), ordinary(1000), outcome)

	assert.Equal(t, domaintypes.StateDuplicateMessage, first.State)
	assert.Equal(t, domaintypes.StateDuplicateMessage, second.State)
	assert.Len(t, second.Jobs, len(first.Jobs))
}

func TestDuplicateScenario(t *testing.T) {
	d, _, _ := newTestDecryptor(t, true)
	res := d.Classify(context.Background(), ordinary(1000), sessionFailure(domaintypes.ErrKindDuplicateMessage, "alice", 1, 0))

	assert.Equal(t, domaintypes.StateDuplicateMessage, res.State)
	require.NotNil(t, res.Exception)
	assert.Equal(t, domain.ExceptionMetadata{Sender: "alice", SenderDevice: 1}, *res.Exception)
	assert.True(t, res.Exception.GroupID.IsZero())
	assert.Empty(t, res.Jobs)
}

func TestPreKeySuccessScenario(t *testing.T) {
	c := domain.Content{Sender: "alice", SenderDevice: 1, Timestamp: 1000, Kind: domaintypes.ContentData, Body: "C"}
	stores, _ := newStores(t)
	d := NewDecryptor(cipherReturning(domaintypes.Decrypted(c)), stores.Recipients, nil, nil, true, nil)

	res := d.Decrypt(context.Background(), prekey(1000))

	assert.Equal(t, domaintypes.StateDecryptedOK, res.State)
	require.NotNil(t, res.Content)
	assert.Equal(t, c, *res.Content)
	assert.Equal(t, []domain.Job{jobs.RefreshPreKeysJob{}}, res.Jobs)
}

func TestSealedPreKeyRefreshesPreKeys(t *testing.T) {
	c := domain.Content{Sender: "alice", SenderDevice: 1, Timestamp: 1000, Kind: domaintypes.ContentData, Body: "C"}
	out := domaintypes.Decrypted(c)
	out.SealedPreKey = true
	stores, _ := newStores(t)
	d := NewDecryptor(cipherReturning(out), stores.Recipients, nil, nil, true, nil)

	res := d.Decrypt(context.Background(), domain.Envelope{Type: domaintypes.EnvelopeUnidentifiedSender, Timestamp: 1000})

	assert.Equal(t, domaintypes.StateDecryptedOK, res.State)
	assert.Equal(t, []domain.Job{jobs.RefreshPreKeysJob{}}, res.Jobs)
}

func TestSessionFailureWithRetriesInsertsPlaceholder(t *testing.T) {
	d, stores, notifier := newTestDecryptor(t, true)
	ctx := context.Background()
	alice := supportRetries(t, stores, "alice")
	thread, err := stores.Threads.GetOrCreateThread(ctx, alice.ID)
	require.NoError(t, err)

	res := d.Classify(ctx, ordinary(1000), sessionFailure(domaintypes.ErrKindInvalidMessage, "alice", 1, domaintypes.ContentHintDefault))

	assert.Equal(t, domaintypes.StateNoop, res.State)
	require.Len(t, res.Jobs, 1)
	receipt, ok := res.Jobs[0].(jobs.SendRetryReceiptJob)
	require.True(t, ok, "got %T", res.Jobs[0])
	assert.Equal(t, domain.Username("alice"), receipt.Sender)
	assert.Equal(t, int64(1000), receipt.ErrorMessage.Timestamp)

	rows, err := stores.Messages.Messages(ctx, thread)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, domaintypes.RecordBadDecrypt, rows[0].Kind)

	pending, err := stores.Pending.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Equal(t, []domain.Username{"alice"}, notifier.senders)
}

func TestSessionFailureFallsBackToReset(t *testing.T) {
	t.Run("sender without retries", func(t *testing.T) {
		d, _, notifier := newTestDecryptor(t, true)
		res := d.Classify(context.Background(), ordinary(77), sessionFailure(domaintypes.ErrKindNoSession, "bob", 3, 0))
		assert.Equal(t, []domain.Job{jobs.AutomaticSessionResetJob{Sender: "bob", Device: 3, Timestamp: 77}}, res.Jobs)
		assert.Empty(t, notifier.senders)
	})

	t.Run("retries disabled locally", func(t *testing.T) {
		d, stores, _ := newTestDecryptor(t, false)
		supportRetries(t, stores, "bob")
		res := d.Classify(context.Background(), ordinary(77), sessionFailure(domaintypes.ErrKindNoSession, "bob", 3, 0))
		assert.Equal(t, []domain.Job{jobs.AutomaticSessionResetJob{Sender: "bob", Device: 3, Timestamp: 77}}, res.Jobs)
	})
}

func TestMissingSenderDegradesToNoop(t *testing.T) {
	d, _, _ := newTestDecryptor(t, true)
	for _, kind := range []domain.ProtocolErrorKind{
		domaintypes.ErrKindUnsupportedDataMessage,
		domaintypes.ErrKindDuplicateMessage,
		domaintypes.ErrKindNoSession,
	} {
		res := d.Classify(context.Background(), prekey(5), sessionFailure(kind, "", 0, 0))
		assert.Equal(t, domaintypes.StateNoop, res.State, kind.String())
		assert.Nil(t, res.Exception)
		assert.Equal(t, []domain.Job{jobs.RefreshPreKeysJob{}}, res.Jobs)
	}
}

func TestUnsupportedKeepsValidGroup(t *testing.T) {
	d, _, _ := newTestDecryptor(t, true)
	raw := make([]byte, 32)
	raw[0] = 7
	out := sessionFailure(domaintypes.ErrKindUnsupportedDataMessage, "alice", 2, 0)
	out.Err.GroupID = raw

	res := d.Classify(context.Background(), ordinary(1), out)
	require.NotNil(t, res.Exception)
	assert.Equal(t, raw, res.Exception.GroupID.Bytes())

	out.Err.GroupID = []byte{1, 2, 3}
	res = d.Classify(context.Background(), ordinary(1), out)
	require.NotNil(t, res.Exception)
	assert.Equal(t, domaintypes.StateUnsupportedDataMessage, res.State)
	assert.True(t, res.Exception.GroupID.IsZero(), "malformed group id is dropped")
}
