package cipher_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier/internal/cipher"
	"courier/internal/crypto"
	"courier/internal/domain"
	domaintypes "courier/internal/domain/types"
	"courier/internal/protocol/x3dh"
	"courier/internal/store"
)

type party struct {
	name     domain.Username
	device   domain.DeviceID
	id       domain.Identity
	prekeys  *store.PrekeyFileStore
	sessions *store.SessionFileStore
	ratchets *store.RatchetFileStore
	cipher   *cipher.Cipher
}

func newParty(t *testing.T, name domain.Username) *party {
	t.Helper()

	xPriv, xPub, err := crypto.GenerateX25519()
	require.NoError(t, err)
	edPriv, edPub, err := crypto.GenerateSigningKey()
	require.NoError(t, err)

	dir := t.TempDir()
	p := &party{
		name:     name,
		device:   1,
		id:       domain.Identity{XPub: xPub, XPriv: xPriv, EdPub: edPub, EdPriv: edPriv},
		prekeys:  store.NewPrekeyFileStore(dir),
		sessions: store.NewSessionFileStore(dir),
		ratchets: store.NewRatchetFileStore(dir),
	}
	p.cipher = cipher.New(p.id, p.name, p.device, p.prekeys, p.sessions, p.ratchets)
	return p
}

// bundle publishes a signed prekey and one one-time prekey.
func (p *party) bundle(t *testing.T) domain.PreKeyBundle {
	t.Helper()

	spkPriv, spkPub, err := crypto.GenerateX25519()
	require.NoError(t, err)
	sig := crypto.SignPreKey(p.id.EdPriv, spkPub)
	require.NoError(t, p.prekeys.SaveSignedPreKey("spk-1", spkPriv, spkPub, sig))

	opkPriv, opkPub, err := crypto.GenerateX25519()
	require.NoError(t, err)
	require.NoError(t, p.prekeys.SaveOneTimePreKeys([]domain.OneTimePreKeyPair{
		{ID: "opk-1", Priv: opkPriv, Pub: opkPub},
	}))

	return domain.PreKeyBundle{
		Username:              p.name,
		IdentityKey:           p.id.XPub,
		SigningKey:            p.id.EdPub,
		SignedPreKeyID:        "spk-1",
		SignedPreKey:          spkPub,
		SignedPreKeySignature: sig,
		OneTimePreKeys:        []domain.OneTimePreKeyPublic{{ID: "opk-1", Pub: opkPub}},
	}
}

// initiate runs X3DH from p towards peer and stores the session the way
// the session service does.
func (p *party) initiate(t *testing.T, peer *party) {
	t.Helper()

	b := peer.bundle(t)
	root, spkID, opkID, eph, err := x3dh.InitiatorRoot(p.id, b)
	require.NoError(t, err)
	require.NoError(t, p.sessions.SaveSession(peer.name, domain.Session{
		PeerUsername:          peer.name,
		RootKey:               root,
		PeerSignedPreKey:      b.SignedPreKey,
		PeerIdentityKey:       b.IdentityKey,
		SignedPreKeyID:        spkID,
		OneTimePreKeyID:       opkID,
		InitiatorEphemeralKey: eph,
	}))
}

func (p *party) send(t *testing.T, to *party, body string) domain.Envelope {
	t.Helper()

	typ, raw, err := p.cipher.Encrypt(to.name, to.device, domain.Payload{
		Kind: domaintypes.ContentData,
		Body: body,
	})
	require.NoError(t, err)
	return domain.Envelope{
		Type:         typ,
		Source:       p.name,
		SourceDevice: p.device,
		Destination:  to.name,
		Timestamp:    1000,
		ServerGUID:   "guid-" + body,
		Content:      raw,
	}
}

func TestPreKeyRoundTripAndReply(t *testing.T) {
	alice, bob := newParty(t, "alice"), newParty(t, "bob")
	alice.initiate(t, bob)
	ctx := context.Background()

	env := alice.send(t, bob, "hello")
	assert.Equal(t, domaintypes.EnvelopePreKeyBundle, env.Type)

	out := bob.cipher.Decrypt(ctx, env)
	require.True(t, out.OK(), "decrypt: %v", out.Err)
	assert.Equal(t, "hello", out.Content.Body)
	assert.Equal(t, domain.Username("alice"), out.Content.Sender)
	assert.Equal(t, "guid-hello", out.Content.ServerGUID)

	_, ok, err := bob.prekeys.LoadOneTimePreKey("opk-1")
	require.NoError(t, err)
	assert.False(t, ok, "one-time prekey must be consumed after success")

	pinned, ok, err := bob.sessions.LoadSession("alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, alice.id.XPub, pinned.PeerIdentityKey)

	// Alice has not heard back yet, so she keeps sending prekey framing.
	again := alice.send(t, bob, "still there")
	assert.Equal(t, domaintypes.EnvelopePreKeyBundle, again.Type)
	out = bob.cipher.Decrypt(ctx, again)
	require.True(t, out.OK(), "decrypt: %v", out.Err)

	reply := bob.send(t, alice, "hi alice")
	assert.Equal(t, domaintypes.EnvelopeCiphertext, reply.Type)
	out = alice.cipher.Decrypt(ctx, reply)
	require.True(t, out.OK(), "decrypt reply: %v", out.Err)
	assert.Equal(t, "hi alice", out.Content.Body)

	after := alice.send(t, bob, "after reply")
	assert.Equal(t, domaintypes.EnvelopeCiphertext, after.Type)
	out = bob.cipher.Decrypt(ctx, after)
	require.True(t, out.OK(), "decrypt: %v", out.Err)
}

func TestReplayIsDuplicate(t *testing.T) {
	alice, bob := newParty(t, "alice"), newParty(t, "bob")
	alice.initiate(t, bob)
	ctx := context.Background()

	env := alice.send(t, bob, "once")
	require.True(t, bob.cipher.Decrypt(ctx, env).OK())

	out := bob.cipher.Decrypt(ctx, env)
	require.NotNil(t, out.Err)
	assert.Equal(t, domaintypes.ErrKindDuplicateMessage, out.Err.Kind)
	assert.Equal(t, domain.Username("alice"), out.Err.Sender)
	assert.Equal(t, domain.DeviceID(1), out.Err.SenderDevice)
}

func TestTamperedMessageDoesNotAdvanceState(t *testing.T) {
	alice, bob := newParty(t, "alice"), newParty(t, "bob")
	alice.initiate(t, bob)
	ctx := context.Background()

	env := alice.send(t, bob, "secret")

	var msg domain.CiphertextMessage
	require.NoError(t, json.Unmarshal(env.Content, &msg))
	msg.Cipher[0] ^= 0xff
	tampered := env
	tampered.Content, _ = json.Marshal(msg)

	out := bob.cipher.Decrypt(ctx, tampered)
	require.NotNil(t, out.Err)
	assert.Equal(t, domaintypes.ErrKindInvalidMessage, out.Err.Kind)

	_, ok, err := bob.prekeys.LoadOneTimePreKey("opk-1")
	require.NoError(t, err)
	assert.True(t, ok, "failed bootstrap must not consume the one-time prekey")

	out = bob.cipher.Decrypt(ctx, env)
	require.True(t, out.OK(), "original still decrypts: %v", out.Err)
}

func TestUnknownSignedPreKeyIsInvalidKeyID(t *testing.T) {
	alice, bob := newParty(t, "alice"), newParty(t, "bob")
	alice.initiate(t, bob)

	env := alice.send(t, bob, "x")
	var msg domain.CiphertextMessage
	require.NoError(t, json.Unmarshal(env.Content, &msg))
	msg.PreKey.SignedPreKeyID = "spk-gone"
	env.Content, _ = json.Marshal(msg)

	out := bob.cipher.Decrypt(context.Background(), env)
	require.NotNil(t, out.Err)
	assert.Equal(t, domaintypes.ErrKindInvalidKeyID, out.Err.Kind)
}

func TestChangedIdentityIsUntrusted(t *testing.T) {
	alice, bob := newParty(t, "alice"), newParty(t, "bob")
	alice.initiate(t, bob)
	require.NoError(t, bob.sessions.SaveSession("alice", domain.Session{
		PeerUsername:    "alice",
		PeerIdentityKey: domain.X25519Public{9},
	}))

	out := bob.cipher.Decrypt(context.Background(), alice.send(t, bob, "x"))
	require.NotNil(t, out.Err)
	assert.Equal(t, domaintypes.ErrKindUntrustedIdentity, out.Err.Kind)
	assert.True(t, out.Err.Kind.IsSessionFailure())
}

func TestCiphertextWithoutConversationIsNoSession(t *testing.T) {
	alice, bob := newParty(t, "alice"), newParty(t, "bob")
	alice.initiate(t, bob)
	ctx := context.Background()

	env := alice.send(t, bob, "x")
	env.Type = domaintypes.EnvelopeCiphertext

	out := bob.cipher.Decrypt(ctx, env)
	require.NotNil(t, out.Err)
	assert.Equal(t, domaintypes.ErrKindNoSession, out.Err.Kind)
}

func TestMessageVersions(t *testing.T) {
	bob := newParty(t, "bob")
	ctx := context.Background()

	cases := []struct {
		version uint8
		want    domain.ProtocolErrorKind
	}{
		{0, domaintypes.ErrKindInvalidVersion},
		{1, domaintypes.ErrKindLegacyMessage},
		{2, domaintypes.ErrKindLegacyMessage},
		{9, domaintypes.ErrKindInvalidVersion},
	}
	for _, tc := range cases {
		raw, err := json.Marshal(domain.CiphertextMessage{Version: tc.version})
		require.NoError(t, err)
		out := bob.cipher.Decrypt(ctx, domain.Envelope{
			Type:         domaintypes.EnvelopeCiphertext,
			Source:       "carol",
			SourceDevice: 3,
			Content:      raw,
		})
		require.NotNil(t, out.Err, "version %d", tc.version)
		assert.Equal(t, tc.want, out.Err.Kind, "version %d", tc.version)
		assert.Equal(t, domain.Username("carol"), out.Err.Sender)
	}
}

func TestUnsupportedDataVersionCarriesGroup(t *testing.T) {
	alice, bob := newParty(t, "alice"), newParty(t, "bob")
	alice.initiate(t, bob)

	group := make([]byte, 32)
	group[0] = 7
	typ, raw, err := alice.cipher.Encrypt(bob.name, bob.device, domain.Payload{
		Kind:                    domaintypes.ContentData,
		Body:                    "from the future",
		GroupID:                 group,
		RequiredProtocolVersion: cipher.CurrentDataVersion + 1,
	})
	require.NoError(t, err)

	out := bob.cipher.Decrypt(context.Background(), domain.Envelope{
		Type: typ, Source: alice.name, SourceDevice: alice.device, Content: raw,
	})
	require.NotNil(t, out.Err)
	assert.Equal(t, domaintypes.ErrKindUnsupportedDataMessage, out.Err.Kind)
	assert.Equal(t, group, out.Err.GroupID)
}

func TestSealedSender(t *testing.T) {
	alice, bob := newParty(t, "alice"), newParty(t, "bob")
	alice.initiate(t, bob)
	ctx := context.Background()

	inner := alice.send(t, bob, "sealed hello")
	sealed, err := cipher.Seal(bob.id.XPub, domain.SealedSenderMessage{
		Sender:       alice.name,
		SenderDevice: alice.device,
		Type:         inner.Type,
		Content:      inner.Content,
		ContentHint:  domaintypes.ContentHintResendable,
	})
	require.NoError(t, err)

	out := bob.cipher.Decrypt(ctx, domain.Envelope{
		Type:      domaintypes.EnvelopeUnidentifiedSender,
		Timestamp: 55,
		Content:   sealed,
	})
	require.True(t, out.OK(), "decrypt: %v", out.Err)
	assert.Equal(t, domain.Username("alice"), out.Content.Sender)
	assert.Equal(t, int64(55), out.Content.Timestamp)
}

func TestSealedSenderFailuresCarryMetadata(t *testing.T) {
	bob := newParty(t, "bob")
	ctx := context.Background()

	raw, err := json.Marshal(domain.CiphertextMessage{Version: cipher.CurrentMessageVersion})
	require.NoError(t, err)
	group := make([]byte, 16)
	sealed, err := cipher.Seal(bob.id.XPub, domain.SealedSenderMessage{
		Sender:       "carol",
		SenderDevice: 4,
		Type:         domaintypes.EnvelopeCiphertext,
		Content:      raw,
		ContentHint:  domaintypes.ContentHintResendable,
		GroupID:      group,
	})
	require.NoError(t, err)

	out := bob.cipher.Decrypt(ctx, domain.Envelope{Type: domaintypes.EnvelopeUnidentifiedSender, Content: sealed})
	require.NotNil(t, out.Err)
	assert.Equal(t, domaintypes.ErrKindNoSession, out.Err.Kind)
	assert.Equal(t, domain.Username("carol"), out.Err.Sender)
	assert.Equal(t, domain.DeviceID(4), out.Err.SenderDevice)
	assert.Equal(t, domaintypes.ContentHintResendable, out.Err.ContentHint)
	assert.Equal(t, group, out.Err.GroupID)
	require.NotNil(t, out.Err.Unidentified)
	assert.Equal(t, raw, out.Err.Unidentified.Content)
}

func TestSealedSenderMetadataErrors(t *testing.T) {
	bob := newParty(t, "bob")
	ctx := context.Background()

	self, err := cipher.Seal(bob.id.XPub, domain.SealedSenderMessage{
		Sender: bob.name, SenderDevice: bob.device, Type: domaintypes.EnvelopeCiphertext, Content: []byte("{}"),
	})
	require.NoError(t, err)
	wrongVersion := append([]byte(nil), self...)
	wrongVersion[0] = 9

	cases := map[string]struct {
		content []byte
		want    domain.ProtocolErrorKind
	}{
		"self send":     {self, domaintypes.ErrKindSelfSend},
		"wrong version": {wrongVersion, domaintypes.ErrKindInvalidMetadataVersion},
		"garbage":       {[]byte{cipher.SealedVersion, 1, 2, 3}, domaintypes.ErrKindInvalidMetadataMessage},
		"empty":         {nil, domaintypes.ErrKindInvalidMetadataMessage},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			out := bob.cipher.Decrypt(ctx, domain.Envelope{
				Type:    domaintypes.EnvelopeUnidentifiedSender,
				Content: tc.content,
			})
			require.NotNil(t, out.Err)
			assert.Equal(t, tc.want, out.Err.Kind)
		})
	}
}

func TestPlaintextDecryptionError(t *testing.T) {
	bob := newParty(t, "bob")

	raw, err := json.Marshal(domain.Payload{
		Kind:            domaintypes.ContentDecryptionError,
		DecryptionError: &domain.DecryptionErrorMessage{Timestamp: 77, DeviceID: 1},
	})
	require.NoError(t, err)

	out := bob.cipher.Decrypt(context.Background(), domain.Envelope{
		Type:         domaintypes.EnvelopePlaintextContent,
		Source:       "alice",
		SourceDevice: 2,
		Content:      raw,
	})
	require.True(t, out.OK(), "decrypt: %v", out.Err)
	require.NotNil(t, out.Content.DecryptionError)
	assert.Equal(t, int64(77), out.Content.DecryptionError.Timestamp)

	out = bob.cipher.Decrypt(context.Background(), domain.Envelope{
		Type:    domaintypes.EnvelopePlaintextContent,
		Source:  "alice",
		Content: []byte(`{"kind":"data","body":"no"}`),
	})
	require.NotNil(t, out.Err)
	assert.Equal(t, domaintypes.ErrKindInvalidMessage, out.Err.Kind)
}

func TestEncryptWithoutSession(t *testing.T) {
	alice := newParty(t, "alice")
	_, _, err := alice.cipher.Encrypt("nobody", 1, domain.Payload{Kind: domaintypes.ContentNull})
	require.ErrorIs(t, err, cipher.ErrNoSession)
}

func TestEncryptSealedCarriesHint(t *testing.T) {
	alice, bob := newParty(t, "alice"), newParty(t, "bob")
	alice.initiate(t, bob)
	ctx := context.Background()

	raw, err := alice.cipher.EncryptSealed(bob.name, bob.device, domaintypes.ContentHintResendable, domain.Payload{
		Kind: domaintypes.ContentData,
		Body: "sealed hello",
	})
	require.NoError(t, err)
	env := domain.Envelope{
		Type:        domaintypes.EnvelopeUnidentifiedSender,
		Destination: bob.name,
		Timestamp:   2000,
		Content:     raw,
	}

	out := bob.cipher.Decrypt(ctx, env)
	require.True(t, out.OK(), "decrypt: %v", out.Err)
	assert.Equal(t, domain.Username("alice"), out.Content.Sender)
	assert.Equal(t, domain.DeviceID(1), out.Content.SenderDevice)
	assert.Equal(t, "sealed hello", out.Content.Body)

	assert.True(t, out.SealedPreKey, "first message to bob still carries the prekey")

	again := bob.cipher.Decrypt(ctx, env)
	require.NotNil(t, again.Err)
	assert.Equal(t, domaintypes.ErrKindDuplicateMessage, again.Err.Kind)
	assert.Equal(t, domaintypes.ContentHintResendable, again.Err.ContentHint)
	assert.NotNil(t, again.Err.Unidentified)
	assert.Equal(t, domain.Username("alice"), again.Err.Sender)
}

func TestEncryptSealedWithoutSession(t *testing.T) {
	alice := newParty(t, "alice")
	_, err := alice.cipher.EncryptSealed("nobody", 1, domaintypes.ContentHintImplicit, domain.Payload{Kind: domaintypes.ContentNull})
	require.ErrorIs(t, err, cipher.ErrNoSession)
}

func TestArchiveSession(t *testing.T) {
	alice, bob := newParty(t, "alice"), newParty(t, "bob")
	alice.initiate(t, bob)
	_ = alice.send(t, bob, "x")

	ok, err := alice.cipher.HasSession(bob.name, bob.device)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, alice.cipher.ArchiveSession(bob.name, bob.device))
	ok, err = alice.cipher.HasSession(bob.name, bob.device)
	require.NoError(t, err)
	assert.False(t, ok)
}
