package types

// RecordKind classifies a row in a conversation thread.
type RecordKind string

const (
	RecordText            RecordKind = "text"
	RecordBadDecrypt      RecordKind = "bad_decrypt"
	RecordInvalidVersion  RecordKind = "invalid_version"
	RecordLegacy          RecordKind = "legacy"
	RecordDuplicate       RecordKind = "duplicate"
	RecordUnsupported     RecordKind = "unsupported"
	RecordDecryptionError RecordKind = "decryption_error"
)

// RecordKindForState maps an error state to the record it leaves in a thread.
func RecordKindForState(s MessageState) (RecordKind, bool) {
	switch s {
	case StateInvalidVersion:
		return RecordInvalidVersion, true
	case StateLegacyMessage:
		return RecordLegacy, true
	case StateDuplicateMessage:
		return RecordDuplicate, true
	case StateUnsupportedDataMessage:
		return RecordUnsupported, true
	}
	return "", false
}

// MessageRecord is one stored row of a thread. (Sender, SenderDevice,
// SentTimestamp, Kind) identifies it; inserting the same identity twice is a
// no-op.
type MessageRecord struct {
	ID                int64       `json:"id"`
	ThreadID          ThreadID    `json:"thread_id"`
	Sender            RecipientID `json:"sender"`
	SenderDevice      DeviceID    `json:"sender_device"`
	SentTimestamp     int64       `json:"sent_timestamp"`
	ServerTimestamp   int64       `json:"server_timestamp"`
	ReceivedTimestamp int64       `json:"received_timestamp"`
	ServerGUID        string      `json:"server_guid,omitempty"`
	Kind              RecordKind  `json:"kind"`
	Body              string      `json:"body,omitempty"`
}

// SentMessage is an outgoing message kept so it can be resent when the
// recipient reports a decryption failure.
type SentMessage struct {
	Recipient     RecipientID `json:"recipient"`
	SentTimestamp int64       `json:"sent_timestamp"`
	ContentHint   ContentHint `json:"content_hint"`
	Body          string      `json:"body"`
}
