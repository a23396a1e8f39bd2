package types

// RatchetHeader is sent alongside every ciphertext.
type RatchetHeader struct {
	DiffieHellmanPublicKey []byte `json:"dh_pub"`
	PreviousChainLength    uint32 `json:"pn"`
	MessageIndex           uint32 `json:"n"`
}

// RatchetState contains all fields the Double Ratchet needs to track.
type RatchetState struct {
	RootKey                 []byte            `json:"root_key"`
	DiffieHellmanPrivate    X25519Private     `json:"dh_priv"`
	DiffieHellmanPublic     X25519Public      `json:"dh_pub"`
	PeerDiffieHellmanPublic X25519Public      `json:"peer_dh_pub"`
	SendChainKey            []byte            `json:"send_ck,omitempty"`
	ReceiveChainKey         []byte            `json:"recv_ck,omitempty"`
	SendMessageIndex        uint32            `json:"ns"`
	ReceiveMessageIndex     uint32            `json:"nr"`
	PreviousChainLength     uint32            `json:"pn"`
	SkippedKeys             map[string][]byte `json:"skipped_keys"`
}

// Conversation persists the ratchet state for one peer device.
type Conversation struct {
	Peer ConversationID `json:"peer"`
	// BaseKey is the initiator ephemeral key the conversation was bootstrapped
	// from. A prekey message carrying the same base key belongs to this
	// conversation rather than starting a new one.
	BaseKey X25519Public `json:"base_key"`
	// Pending is set on the initiator until the peer replies; every outgoing
	// message repeats the prekey framing while it is set.
	Pending *PreKeyMessage `json:"pending,omitempty"`
	State   RatchetState   `json:"state"`
}
