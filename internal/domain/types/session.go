package types

// Session is the X3DH outcome with one peer. An initiator record carries
// the root key for bootstrapping the first outgoing conversation. A
// responder record only pins the peer identity.
type Session struct {
	PeerUsername          Username        `json:"peer_username"`
	RootKey               []byte          `json:"root_key,omitempty"`
	PeerSignedPreKey      X25519Public    `json:"peer_signed_pre_key"`
	PeerIdentityKey       X25519Public    `json:"peer_identity_key"`
	CreatedUTC            int64           `json:"created_utc"`
	SignedPreKeyID        SignedPreKeyID  `json:"signed_pre_key_id"`
	OneTimePreKeyID       OneTimePreKeyID `json:"one_time_pre_key_id,omitempty"`
	InitiatorEphemeralKey X25519Public    `json:"initiator_ephemeral_key"`
}

// CanInitiate reports whether the session can start an outgoing conversation.
func (s Session) CanInitiate() bool { return len(s.RootKey) > 0 }

// PreKeyMessage is the handshake header every message carries until the
// peer answers.
func (s Session) PreKeyMessage(self X25519Public) *PreKeyMessage {
	return &PreKeyMessage{
		InitiatorIdentityKey: self,
		EphemeralKey:         s.InitiatorEphemeralKey,
		SignedPreKeyID:       s.SignedPreKeyID,
		OneTimePreKeyID:      s.OneTimePreKeyID,
	}
}
