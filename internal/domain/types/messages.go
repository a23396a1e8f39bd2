package types

// EnvelopeType tells the cipher how Envelope.Content is framed.
type EnvelopeType int

const (
	EnvelopeUnknown            EnvelopeType = 0
	EnvelopeCiphertext         EnvelopeType = 1
	EnvelopePreKeyBundle       EnvelopeType = 3
	EnvelopeUnidentifiedSender EnvelopeType = 6
	EnvelopePlaintextContent   EnvelopeType = 8
)

// String returns a short name for logs.
func (t EnvelopeType) String() string {
	switch t {
	case EnvelopeCiphertext:
		return "ciphertext"
	case EnvelopePreKeyBundle:
		return "prekey_bundle"
	case EnvelopeUnidentifiedSender:
		return "unidentified_sender"
	case EnvelopePlaintextContent:
		return "plaintext_content"
	default:
		return "unknown"
	}
}

// Envelope is the wire-format message streamed from the relay. It is never
// mutated after it has been read off the transport.
type Envelope struct {
	Type            EnvelopeType `json:"type"`
	Source          Username     `json:"source,omitempty"`
	SourceDevice    DeviceID     `json:"source_device,omitempty"`
	Destination     Username     `json:"destination"`
	Timestamp       int64        `json:"timestamp"`
	ServerTimestamp int64        `json:"server_timestamp"`
	ServerGUID      string       `json:"server_guid"`
	Content         []byte       `json:"content"`
	GroupID         []byte       `json:"group_id,omitempty"`
}

// IsPreKeyBundle reports whether the envelope bootstraps a new session.
func (e Envelope) IsPreKeyBundle() bool { return e.Type == EnvelopePreKeyBundle }

// IsUnidentifiedSender reports whether the sender is sealed inside Content.
func (e Envelope) IsUnidentifiedSender() bool { return e.Type == EnvelopeUnidentifiedSender }

// CiphertextMessage is the body of a ciphertext or prekey-bundle envelope.
type CiphertextMessage struct {
	Version        uint8          `json:"version"`
	Header         RatchetHeader  `json:"header"`
	Cipher         []byte         `json:"cipher"`
	AssociatedData []byte         `json:"associated_data,omitempty"`
	PreKey         *PreKeyMessage `json:"pre_key,omitempty"`
}

// SealedSenderMessage is the body of an unidentified-sender envelope. It
// carries the real sender and the inner ciphertext.
type SealedSenderMessage struct {
	Version      uint8        `json:"version"`
	Sender       Username     `json:"sender"`
	SenderDevice DeviceID     `json:"sender_device"`
	Type         EnvelopeType `json:"type"`
	Content      []byte       `json:"content"`
	ContentHint  ContentHint  `json:"content_hint"`
	GroupID      []byte       `json:"group_id,omitempty"`
}

// ContentKind distinguishes the payloads a decrypted Content may carry.
type ContentKind string

const (
	ContentData   ContentKind = "data"
	ContentTyping ContentKind = "typing"
	ContentNull   ContentKind = "null"
	// ContentDecryptionError is a retry receipt sent back by a peer that
	// could not decrypt one of our messages.
	ContentDecryptionError ContentKind = "decryption_error"
)

// Capabilities are the protocol features a sender advertises with its messages.
type Capabilities struct {
	MessageRetries bool `json:"message_retries"`
}

// Payload is the plaintext framing inside a CiphertextMessage. Plaintext
// content envelopes carry a bare Payload.
type Payload struct {
	Kind                    ContentKind             `json:"kind"`
	Body                    string                  `json:"body,omitempty"`
	GroupID                 []byte                  `json:"group_id,omitempty"`
	RequiredProtocolVersion int                     `json:"required_protocol_version,omitempty"`
	Capabilities            *Capabilities           `json:"capabilities,omitempty"`
	DecryptionError         *DecryptionErrorMessage `json:"decryption_error,omitempty"`
}

// Content is a successfully decrypted envelope.
type Content struct {
	Sender          Username                `json:"sender"`
	SenderDevice    DeviceID                `json:"sender_device"`
	Timestamp       int64                   `json:"timestamp"`
	ServerTimestamp int64                   `json:"server_timestamp"`
	ServerGUID      string                  `json:"server_guid"`
	Kind            ContentKind             `json:"kind"`
	Body            string                  `json:"body,omitempty"`
	GroupID         GroupID                 `json:"group_id"`
	Capabilities    *Capabilities           `json:"capabilities,omitempty"`
	DecryptionError *DecryptionErrorMessage `json:"decryption_error,omitempty"`
}

// DecryptOutcome is what the cipher returns for one envelope: exactly one of
// Content or Err is set.
type DecryptOutcome struct {
	Content *Content
	Err     *ProtocolError
	// SealedPreKey is set when a sealed envelope wrapped a prekey message.
	SealedPreKey bool
}

// Decrypted builds a successful outcome.
func Decrypted(c Content) DecryptOutcome { return DecryptOutcome{Content: &c} }

// Failed builds a failed outcome.
func Failed(err *ProtocolError) DecryptOutcome { return DecryptOutcome{Err: err} }

// OK reports whether decryption succeeded.
func (o DecryptOutcome) OK() bool { return o.Err == nil && o.Content != nil }
