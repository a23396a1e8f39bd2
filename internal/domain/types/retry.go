package types

// PendingRetryReceipt remembers an undecryptable RESENDABLE message until the
// sender resends it or the retry window closes.
type PendingRetryReceipt struct {
	Sender            RecipientID `json:"sender"`
	SenderDevice      DeviceID    `json:"sender_device"`
	SentTimestamp     int64       `json:"sent_timestamp"`
	ReceivedTimestamp int64       `json:"received_timestamp"`
	ThreadID          ThreadID    `json:"thread_id"`
}

// DecryptionErrorMessage asks the original sender to resend a message.
type DecryptionErrorMessage struct {
	RatchetKey   []byte       `json:"ratchet_key,omitempty"`
	Timestamp    int64        `json:"timestamp"`
	DeviceID     DeviceID     `json:"device_id"`
	OriginalType EnvelopeType `json:"original_type"`
}

// Recipient is a local address book entry for a user or a group.
type Recipient struct {
	ID                     RecipientID `json:"id"`
	Username               Username    `json:"username,omitempty"`
	GroupID                GroupID     `json:"group_id"`
	SupportsMessageRetries bool        `json:"supports_message_retries"`
}

// IsGroup reports whether the recipient is a group.
func (r Recipient) IsGroup() bool { return !r.GroupID.IsZero() }
