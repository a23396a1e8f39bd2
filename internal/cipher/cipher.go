package cipher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"courier/internal/crypto"
	"courier/internal/domain"
	domaintypes "courier/internal/domain/types"
	"courier/internal/protocol/ratchet"
	"courier/internal/protocol/x3dh"
)

const (
	// CurrentMessageVersion is the ciphertext framing version we speak.
	CurrentMessageVersion uint8 = 3
	// CurrentDataVersion is the highest payload version we understand.
	CurrentDataVersion = 1
)

// ErrNoSession is returned by Encrypt when neither a conversation nor an
// initiated session exists for the peer.
var ErrNoSession = errors.New("cipher: no session with peer")

// Cipher decrypts envelopes against the protocol store and encrypts outgoing
// payloads. Every call holds the session lock for its whole duration, so
// protocol state is never observed half-updated.
type Cipher struct {
	mu sync.Mutex

	self        domain.Identity
	localUser   domain.Username
	localDevice domain.DeviceID

	prekeys  domain.PreKeyStore
	sessions domain.SessionStore
	ratchets domain.RatchetStore
}

// New returns a Cipher for the local account.
func New(
	self domain.Identity,
	localUser domain.Username,
	localDevice domain.DeviceID,
	prekeys domain.PreKeyStore,
	sessions domain.SessionStore,
	ratchets domain.RatchetStore,
) *Cipher {
	return &Cipher{
		self:        self,
		localUser:   localUser,
		localDevice: localDevice,
		prekeys:     prekeys,
		sessions:    sessions,
		ratchets:    ratchets,
	}
}

// Decrypt opens one envelope. It never returns a Go error: every failure is a
// ProtocolError in the outcome.
func (c *Cipher) Decrypt(ctx context.Context, env domain.Envelope) domain.DecryptOutcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return domaintypes.Failed(&domain.ProtocolError{
			Kind:         domaintypes.ErrKindInvalidMessage,
			Sender:       env.Source,
			SenderDevice: env.SourceDevice,
			Cause:        err,
		})
	}

	switch env.Type {
	case domaintypes.EnvelopePlaintextContent:
		return c.decryptPlaintext(env)
	case domaintypes.EnvelopeUnidentifiedSender:
		return c.decryptSealed(env)
	case domaintypes.EnvelopeCiphertext, domaintypes.EnvelopePreKeyBundle:
		if env.Source == "" {
			return domaintypes.Failed(&domain.ProtocolError{
				Kind:  domaintypes.ErrKindInvalidMessage,
				Cause: errors.New("identified envelope without source"),
			})
		}
		content, perr := c.decryptInner(env.Source, env.SourceDevice, env.Type, env.Content)
		if perr != nil {
			perr.GroupID = env.GroupID
			return domaintypes.Failed(perr)
		}
		return domaintypes.Decrypted(c.contentFor(env, env.Source, env.SourceDevice, content))
	default:
		return domaintypes.Failed(&domain.ProtocolError{
			Kind:         domaintypes.ErrKindInvalidMessage,
			Sender:       env.Source,
			SenderDevice: env.SourceDevice,
			Cause:        fmt.Errorf("unknown envelope type %d", env.Type),
		})
	}
}

func (c *Cipher) decryptPlaintext(env domain.Envelope) domain.DecryptOutcome {
	var payload domain.Payload
	if err := json.Unmarshal(env.Content, &payload); err != nil ||
		payload.Kind != domaintypes.ContentDecryptionError || payload.DecryptionError == nil {
		if err == nil {
			err = errors.New("plaintext content is not a decryption error")
		}
		return domaintypes.Failed(&domain.ProtocolError{
			Kind:         domaintypes.ErrKindInvalidMessage,
			Sender:       env.Source,
			SenderDevice: env.SourceDevice,
			Cause:        err,
		})
	}
	return domaintypes.Decrypted(c.contentFor(env, env.Source, env.SourceDevice, payload))
}

func (c *Cipher) decryptSealed(env domain.Envelope) domain.DecryptOutcome {
	sealed, err := Open(c.self, env.Content)
	if err != nil {
		kind := domaintypes.ErrKindInvalidMetadataMessage
		if errors.Is(err, ErrSealedVersion) {
			kind = domaintypes.ErrKindInvalidMetadataVersion
		}
		return domaintypes.Failed(&domain.ProtocolError{Kind: kind, Cause: err})
	}

	if sealed.Sender == c.localUser && sealed.SenderDevice == c.localDevice {
		return domaintypes.Failed(&domain.ProtocolError{
			Kind:         domaintypes.ErrKindSelfSend,
			Sender:       sealed.Sender,
			SenderDevice: sealed.SenderDevice,
		})
	}

	var out domain.DecryptOutcome
	content, perr := c.decryptInner(sealed.Sender, sealed.SenderDevice, sealed.Type, sealed.Content)
	if perr != nil {
		perr.ContentHint = domaintypes.ContentHintFromType(int(sealed.ContentHint))
		perr.GroupID = sealed.GroupID
		perr.Unidentified = &domain.UnidentifiedContent{Type: sealed.Type, Content: sealed.Content}
		out = domaintypes.Failed(perr)
	} else {
		out = domaintypes.Decrypted(c.contentFor(env, sealed.Sender, sealed.SenderDevice, content))
	}
	out.SealedPreKey = sealed.Type == domaintypes.EnvelopePreKeyBundle
	return out
}

// decryptInner opens a ciphertext or prekey framing from a known sender. The
// ratchet and prekey stores are only written once the message authenticated.
func (c *Cipher) decryptInner(
	sender domain.Username,
	device domain.DeviceID,
	typ domain.EnvelopeType,
	raw []byte,
) (domain.Payload, *domain.ProtocolError) {
	fail := func(kind domain.ProtocolErrorKind, cause error) (domain.Payload, *domain.ProtocolError) {
		return domain.Payload{}, &domain.ProtocolError{
			Kind:         kind,
			Sender:       sender,
			SenderDevice: device,
			Cause:        cause,
		}
	}

	if typ == domaintypes.EnvelopePlaintextContent {
		var payload domain.Payload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return fail(domaintypes.ErrKindInvalidMessage, err)
		}
		return payload, nil
	}
	if typ != domaintypes.EnvelopeCiphertext && typ != domaintypes.EnvelopePreKeyBundle {
		return fail(domaintypes.ErrKindInvalidMessage, fmt.Errorf("unexpected inner type %d", typ))
	}

	var msg domain.CiphertextMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fail(domaintypes.ErrKindInvalidMessage, err)
	}
	switch {
	case msg.Version == 0 || msg.Version > CurrentMessageVersion:
		return fail(domaintypes.ErrKindInvalidVersion, fmt.Errorf("message version %d", msg.Version))
	case msg.Version < CurrentMessageVersion:
		return fail(domaintypes.ErrKindLegacyMessage, fmt.Errorf("message version %d", msg.Version))
	}

	convID := domaintypes.ConversationFor(sender, device)
	conv, found, err := c.ratchets.LoadConversation(convID)
	if err != nil {
		return fail(domaintypes.ErrKindInvalidMessage, fmt.Errorf("load conversation: %w", err))
	}

	var bootstrap *domain.PreKeyMessage
	if typ == domaintypes.EnvelopePreKeyBundle {
		if msg.PreKey == nil {
			return fail(domaintypes.ErrKindInvalidMessage, errors.New("prekey envelope without prekey message"))
		}
		if !found || conv.BaseKey != msg.PreKey.EphemeralKey {
			fresh, kind, err := c.respond(sender, convID, msg)
			if err != nil {
				return fail(kind, err)
			}
			conv = fresh
			bootstrap = msg.PreKey
		}
	} else if !found {
		return fail(domaintypes.ErrKindNoSession, fmt.Errorf("no conversation %s", convID))
	}

	st := ratchet.Clone(conv.State)
	plain, err := ratchet.Decrypt(&st, msg.AssociatedData, msg.Header, msg.Cipher)
	if err != nil {
		switch {
		case errors.Is(err, ratchet.ErrDuplicateMessage):
			return fail(domaintypes.ErrKindDuplicateMessage, err)
		case errors.Is(err, crypto.ErrLowOrderPoint):
			return fail(domaintypes.ErrKindInvalidKey, err)
		default:
			return fail(domaintypes.ErrKindInvalidMessage, err)
		}
	}

	conv.State = st
	if typ == domaintypes.EnvelopeCiphertext {
		// The peer answered, so it has our session and the prekey framing can stop.
		conv.Pending = nil
	}
	if err := c.ratchets.SaveConversation(convID, conv); err != nil {
		return fail(domaintypes.ErrKindInvalidMessage, fmt.Errorf("save conversation: %w", err))
	}
	if bootstrap != nil {
		c.commitBootstrap(sender, *bootstrap)
	}

	var payload domain.Payload
	if err := json.Unmarshal(plain, &payload); err != nil {
		return fail(domaintypes.ErrKindInvalidMessage, err)
	}
	if payload.RequiredProtocolVersion > CurrentDataVersion {
		perr := &domain.ProtocolError{
			Kind:         domaintypes.ErrKindUnsupportedDataMessage,
			Sender:       sender,
			SenderDevice: device,
			Cause:        fmt.Errorf("requires protocol version %d", payload.RequiredProtocolVersion),
		}
		if len(payload.GroupID) > 0 {
			perr.GroupID = payload.GroupID
		}
		return domain.Payload{}, perr
	}
	return payload, nil
}

// respond runs X3DH as the responder for a prekey message and returns a new,
// unsaved conversation.
func (c *Cipher) respond(
	sender domain.Username,
	convID domain.ConversationID,
	msg domain.CiphertextMessage,
) (domain.Conversation, domain.ProtocolErrorKind, error) {
	pk := *msg.PreKey

	sess, ok, err := c.sessions.LoadSession(sender)
	if err != nil {
		return domain.Conversation{}, domaintypes.ErrKindInvalidMessage, fmt.Errorf("load session: %w", err)
	}
	if ok && sess.PeerIdentityKey != pk.InitiatorIdentityKey {
		return domain.Conversation{}, domaintypes.ErrKindUntrustedIdentity,
			fmt.Errorf("identity key of %s changed", sender)
	}

	spkPriv, _, _, ok, err := c.prekeys.LoadSignedPreKey(pk.SignedPreKeyID)
	if err != nil {
		return domain.Conversation{}, domaintypes.ErrKindInvalidMessage, fmt.Errorf("load signed prekey: %w", err)
	}
	if !ok {
		return domain.Conversation{}, domaintypes.ErrKindInvalidKeyID,
			fmt.Errorf("signed prekey %q not found", pk.SignedPreKeyID)
	}

	var opkPriv *domain.X25519Private
	if pk.UsesOneTimePreKey() {
		priv, ok, err := c.prekeys.LoadOneTimePreKey(pk.OneTimePreKeyID)
		if err != nil {
			return domain.Conversation{}, domaintypes.ErrKindInvalidMessage, fmt.Errorf("load one-time prekey: %w", err)
		}
		if !ok {
			return domain.Conversation{}, domaintypes.ErrKindInvalidKeyID,
				fmt.Errorf("one-time prekey %q not found", pk.OneTimePreKeyID)
		}
		opkPriv = &priv
	}

	root, err := x3dh.ResponderRoot(c.self, spkPriv, opkPriv, pk)
	if err != nil {
		return domain.Conversation{}, domaintypes.ErrKindInvalidKey, err
	}
	defer crypto.Wipe(root)

	if len(msg.Header.DiffieHellmanPublicKey) != 32 {
		return domain.Conversation{}, domaintypes.ErrKindInvalidMessage, ratchet.ErrBadHeader
	}
	var senderRatchet domain.X25519Public
	copy(senderRatchet[:], msg.Header.DiffieHellmanPublicKey)

	st, err := ratchet.InitAsResponder(root, c.self.XPriv, senderRatchet)
	if err != nil {
		return domain.Conversation{}, domaintypes.ErrKindInvalidKey, err
	}
	return domain.Conversation{Peer: convID, BaseKey: pk.EphemeralKey, State: st}, 0, nil
}

// commitBootstrap consumes the one-time prekey and pins the sender identity
// after a prekey message authenticated. Failures here do not undo the
// decryption, they are only logged.
func (c *Cipher) commitBootstrap(sender domain.Username, pk domain.PreKeyMessage) {
	log := logrus.WithFields(logrus.Fields{
		"function": "commitBootstrap",
		"sender":   sender,
	})

	if pk.UsesOneTimePreKey() {
		if _, _, _, err := c.prekeys.ConsumeOneTimePreKey(pk.OneTimePreKeyID); err != nil {
			log.WithError(err).Warn("Failed to consume one-time prekey")
		}
	}

	if _, ok, err := c.sessions.LoadSession(sender); err == nil && ok {
		return
	}
	// Responder records carry no root key: they pin the identity only and can
	// not be used to bootstrap an outgoing conversation.
	if err := c.sessions.SaveSession(sender, domain.Session{
		PeerUsername:          sender,
		PeerIdentityKey:       pk.InitiatorIdentityKey,
		SignedPreKeyID:        pk.SignedPreKeyID,
		OneTimePreKeyID:       pk.OneTimePreKeyID,
		InitiatorEphemeralKey: pk.EphemeralKey,
	}); err != nil {
		log.WithError(err).Warn("Failed to pin sender identity")
	}
}

func (c *Cipher) contentFor(
	env domain.Envelope,
	sender domain.Username,
	device domain.DeviceID,
	p domain.Payload,
) domain.Content {
	content := domain.Content{
		Sender:          sender,
		SenderDevice:    device,
		Timestamp:       env.Timestamp,
		ServerTimestamp: env.ServerTimestamp,
		ServerGUID:      env.ServerGUID,
		Kind:            p.Kind,
		Body:            p.Body,
		Capabilities:    p.Capabilities,
		DecryptionError: p.DecryptionError,
	}
	if content.Kind == "" {
		content.Kind = domaintypes.ContentData
	}
	if len(p.GroupID) > 0 {
		group, err := domaintypes.ParseGroupID(p.GroupID)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"sender": sender,
				"device": device,
			}).WithError(err).Warn("Dropping malformed group id from content")
		} else {
			content.GroupID = group
		}
	}
	return content
}

// Encrypt frames payload for one device of peer. Without a conversation it
// bootstraps one from the session created by SessionService.InitiateSession
// and keeps sending prekey framing until the peer replies.
func (c *Cipher) Encrypt(
	peer domain.Username,
	device domain.DeviceID,
	payload domain.Payload,
) (domain.EnvelopeType, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.encrypt(peer, device, payload)
}

// EncryptSealed frames payload like Encrypt and wraps the result in sealed
// sender framing addressed to the peer's pinned identity key. The content
// hint travels inside the seal so the peer knows how to treat a failure.
func (c *Cipher) EncryptSealed(
	peer domain.Username,
	device domain.DeviceID,
	hint domain.ContentHint,
	payload domain.Payload,
) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok, err := c.sessions.LoadSession(peer)
	if err != nil {
		return nil, err
	}
	if !ok || sess.PeerIdentityKey.IsZero() {
		return nil, ErrNoSession
	}

	typ, raw, err := c.encrypt(peer, device, payload)
	if err != nil {
		return nil, err
	}
	return Seal(sess.PeerIdentityKey, domain.SealedSenderMessage{
		Sender:       c.localUser,
		SenderDevice: c.localDevice,
		Type:         typ,
		Content:      raw,
		ContentHint:  hint,
		GroupID:      payload.GroupID,
	})
}

func (c *Cipher) encrypt(
	peer domain.Username,
	device domain.DeviceID,
	payload domain.Payload,
) (domain.EnvelopeType, []byte, error) {
	convID := domaintypes.ConversationFor(peer, device)
	conv, found, err := c.ratchets.LoadConversation(convID)
	if err != nil {
		return domaintypes.EnvelopeUnknown, nil, err
	}

	if !found {
		sess, ok, err := c.sessions.LoadSession(peer)
		if err != nil {
			return domaintypes.EnvelopeUnknown, nil, err
		}
		if !ok || !sess.CanInitiate() {
			return domaintypes.EnvelopeUnknown, nil, ErrNoSession
		}
		st, err := ratchet.InitAsInitiator(sess.RootKey, sess.PeerIdentityKey)
		if err != nil {
			return domaintypes.EnvelopeUnknown, nil, err
		}
		conv = domain.Conversation{
			Peer:    convID,
			BaseKey: sess.InitiatorEphemeralKey,
			Pending: sess.PreKeyMessage(c.self.XPub),
			State:   st,
		}
	}

	plain, err := json.Marshal(payload)
	if err != nil {
		return domaintypes.EnvelopeUnknown, nil, err
	}
	header, ct, err := ratchet.Encrypt(&conv.State, nil, plain)
	if err != nil {
		return domaintypes.EnvelopeUnknown, nil, err
	}

	// Persist before the caller sends so a crash can not reuse a message key.
	if err := c.ratchets.SaveConversation(convID, conv); err != nil {
		return domaintypes.EnvelopeUnknown, nil, err
	}

	msg := domain.CiphertextMessage{
		Version: CurrentMessageVersion,
		Header:  header,
		Cipher:  ct,
		PreKey:  conv.Pending,
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return domaintypes.EnvelopeUnknown, nil, err
	}
	if conv.Pending != nil {
		return domaintypes.EnvelopePreKeyBundle, raw, nil
	}
	return domaintypes.EnvelopeCiphertext, raw, nil
}

// ArchiveSession drops the ratchet state with one peer device. The next
// outgoing message needs a fresh session.
func (c *Cipher) ArchiveSession(peer domain.Username, device domain.DeviceID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ratchets.DeleteConversation(domaintypes.ConversationFor(peer, device))
}

// HasSession reports whether a conversation with the peer device exists.
func (c *Cipher) HasSession(peer domain.Username, device domain.DeviceID) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok, err := c.ratchets.LoadConversation(domaintypes.ConversationFor(peer, device))
	return ok, err
}

// Compile-time assertion that Cipher implements domain.EnvelopeCipher.
var _ domain.EnvelopeCipher = (*Cipher)(nil)
