package types

type OneTimePreKeyPair struct {
	ID   OneTimePreKeyID `json:"id"`
	Priv X25519Private   `json:"priv"`
	Pub  X25519Public    `json:"pub"`
}

// Public drops the private half for publishing.
func (p OneTimePreKeyPair) Public() OneTimePreKeyPublic {
	return OneTimePreKeyPublic{ID: p.ID, Pub: p.Pub}
}

type OneTimePreKeyPublic struct {
	ID  OneTimePreKeyID `json:"id"`
	Pub X25519Public    `json:"pub"`
}

// PreKeyBundle is what the relay hands to anyone starting a session with
// Username. A fetched bundle carries at most one one-time prekey.
type PreKeyBundle struct {
	Username              Username              `json:"username"`
	IdentityKey           X25519Public          `json:"identity_key"`
	SigningKey            Ed25519Public         `json:"signing_key"`
	SignedPreKeyID        SignedPreKeyID        `json:"signed_pre_key_id"`
	SignedPreKey          X25519Public          `json:"signed_pre_key"`
	SignedPreKeySignature []byte                `json:"signed_pre_key_signature"`
	OneTimePreKeys        []OneTimePreKeyPublic `json:"one_time_pre_keys,omitempty"`
}

// PreKeyMessage rides on every message of a conversation the recipient has
// not yet answered, so any of them can bootstrap the responder side.
type PreKeyMessage struct {
	InitiatorIdentityKey X25519Public    `json:"initiator_identity_key"`
	EphemeralKey         X25519Public    `json:"ephemeral_key"`
	SignedPreKeyID       SignedPreKeyID  `json:"signed_pre_key_id"`
	OneTimePreKeyID      OneTimePreKeyID `json:"one_time_pre_key_id,omitempty"`
	TranscriptSHA256     []byte          `json:"transcript_sha256,omitempty"`
}

// UsesOneTimePreKey reports whether the handshake consumed a one-time prekey.
func (m PreKeyMessage) UsesOneTimePreKey() bool { return m.OneTimePreKeyID != "" }
