package types

import (
	"fmt"
	"strings"
)

// ContentHint tells a recipient how to react when the content cannot be
// decrypted.
type ContentHint int

const (
	// ContentHintDefault content should surface an error immediately.
	ContentHintDefault ContentHint = 0
	// ContentHintResendable content may be resent by the sender after a retry receipt.
	ContentHintResendable ContentHint = 1
	// ContentHintImplicit content is low value and failures are not shown.
	ContentHintImplicit ContentHint = 2
)

// ContentHintFromType maps a wire value to a hint. Unknown values are DEFAULT.
func ContentHintFromType(v int) ContentHint {
	switch ContentHint(v) {
	case ContentHintResendable:
		return ContentHintResendable
	case ContentHintImplicit:
		return ContentHintImplicit
	default:
		return ContentHintDefault
	}
}

func (h ContentHint) String() string {
	switch h {
	case ContentHintResendable:
		return "RESENDABLE"
	case ContentHintImplicit:
		return "IMPLICIT"
	default:
		return "DEFAULT"
	}
}

// ProtocolErrorKind enumerates every way the cipher can fail.
type ProtocolErrorKind int

const (
	ErrKindInvalidVersion ProtocolErrorKind = iota + 1
	ErrKindInvalidKey
	ErrKindInvalidKeyID
	ErrKindUntrustedIdentity
	ErrKindNoSession
	ErrKindInvalidMessage
	ErrKindLegacyMessage
	ErrKindDuplicateMessage
	ErrKindInvalidMetadataVersion
	ErrKindInvalidMetadataMessage
	ErrKindSelfSend
	ErrKindUnsupportedDataMessage
)

var protocolErrorKindNames = map[ProtocolErrorKind]string{
	ErrKindInvalidVersion:         "invalid_version",
	ErrKindInvalidKey:             "invalid_key",
	ErrKindInvalidKeyID:           "invalid_key_id",
	ErrKindUntrustedIdentity:      "untrusted_identity",
	ErrKindNoSession:              "no_session",
	ErrKindInvalidMessage:         "invalid_message",
	ErrKindLegacyMessage:          "legacy_message",
	ErrKindDuplicateMessage:       "duplicate_message",
	ErrKindInvalidMetadataVersion: "invalid_metadata_version",
	ErrKindInvalidMetadataMessage: "invalid_metadata_message",
	ErrKindSelfSend:               "self_send",
	ErrKindUnsupportedDataMessage: "unsupported_data_message",
}

func (k ProtocolErrorKind) String() string {
	if name, ok := protocolErrorKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// IsSessionFailure reports whether the kind is one of the session-layer
// failures that can be recovered by a session reset or a retry receipt.
func (k ProtocolErrorKind) IsSessionFailure() bool {
	switch k {
	case ErrKindInvalidKey, ErrKindInvalidKeyID, ErrKindUntrustedIdentity,
		ErrKindNoSession, ErrKindInvalidMessage:
		return true
	}
	return false
}

// UnidentifiedContent is the inner message of a sealed-sender envelope that
// was already unwrapped when decryption of the inner layer failed.
type UnidentifiedContent struct {
	Type    EnvelopeType
	Content []byte
}

// ProtocolError is returned by the cipher for every decryption failure.
// Sender is empty when the failure happened before the sender was known.
type ProtocolError struct {
	Kind         ProtocolErrorKind
	Sender       Username
	SenderDevice DeviceID
	ContentHint  ContentHint
	GroupID      []byte
	Unidentified *UnidentifiedContent
	Cause        error
}

func (e *ProtocolError) Error() string {
	var b strings.Builder
	b.WriteString("protocol error: ")
	b.WriteString(e.Kind.String())
	if e.Sender != "" {
		fmt.Fprintf(&b, " (sender %s.%d)", e.Sender, e.SenderDevice)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *ProtocolError) Unwrap() error { return e.Cause }

// HasSender reports whether the error carries enough metadata to attribute
// the failure to a sender.
func (e *ProtocolError) HasSender() bool { return e.Sender != "" }
