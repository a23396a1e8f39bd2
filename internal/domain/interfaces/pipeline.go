package interfaces

import (
	"context"
	"time"

	domaintypes "courier/internal/domain/types"
)

// Transport is the long-lived envelope connection to the relay.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect()
	// ReadOrEmpty blocks for at most timeout. It returns true after calling
	// onEnvelope for the next envelope, and false once the relay reports its
	// backlog is empty.
	ReadOrEmpty(
		ctx context.Context,
		timeout time.Duration,
		onEnvelope func(domaintypes.Envelope),
	) (bool, error)
}

// EnvelopeCipher decrypts one envelope against the protocol store.
type EnvelopeCipher interface {
	Decrypt(ctx context.Context, envelope domaintypes.Envelope) domaintypes.DecryptOutcome
}

// JobQueue accepts side-effect jobs. Enqueue never fails from the caller's
// point of view; the queue owns delivery.
type JobQueue interface {
	Enqueue(job domaintypes.Job)
}

// PendingRetryCache stores pending retry receipts keyed by
// (sender, device, sent timestamp).
type PendingRetryCache interface {
	Insert(ctx context.Context, receipt domaintypes.PendingRetryReceipt) error
	Get(
		ctx context.Context,
		sender domaintypes.RecipientID,
		device domaintypes.DeviceID,
		sentTimestamp int64,
	) (domaintypes.PendingRetryReceipt, bool, error)
	Delete(
		ctx context.Context,
		sender domaintypes.RecipientID,
		device domaintypes.DeviceID,
		sentTimestamp int64,
	) error
	ListOlderThan(ctx context.Context, receivedBefore int64) ([]domaintypes.PendingRetryReceipt, error)
	List(ctx context.Context) ([]domaintypes.PendingRetryReceipt, error)
}

// RecipientStore resolves users and groups to local recipient ids.
type RecipientStore interface {
	// RecipientFor returns the recipient for a username, creating it if needed.
	RecipientFor(ctx context.Context, username domaintypes.Username) (domaintypes.Recipient, error)
	// GroupRecipientFor returns the recipient for a group, creating it if needed.
	GroupRecipientFor(ctx context.Context, group domaintypes.GroupID) (domaintypes.Recipient, error)
	// GroupRecipient looks up a group without creating it.
	GroupRecipient(ctx context.Context, group domaintypes.GroupID) (domaintypes.Recipient, bool, error)
	Recipient(ctx context.Context, id domaintypes.RecipientID) (domaintypes.Recipient, bool, error)
	SetMessageRetries(ctx context.Context, id domaintypes.RecipientID, supported bool) error
}

// ThreadStore maps recipients to conversation threads.
type ThreadStore interface {
	// ThreadFor looks up an existing thread and never creates one.
	ThreadFor(ctx context.Context, recipient domaintypes.RecipientID) (domaintypes.ThreadID, bool, error)
	GetOrCreateThread(ctx context.Context, recipient domaintypes.RecipientID) (domaintypes.ThreadID, error)
}

// MessageStore persists thread rows and the sent-message log.
type MessageStore interface {
	// Insert stores rec unless a row with the same identity exists. It
	// reports whether a row was written.
	Insert(ctx context.Context, rec domaintypes.MessageRecord) (bool, error)
	Messages(ctx context.Context, thread domaintypes.ThreadID) ([]domaintypes.MessageRecord, error)
	// HasMessage reports whether any row was stored for the envelope sent by
	// sender's device at sentTimestamp.
	HasMessage(
		ctx context.Context,
		sender domaintypes.RecipientID,
		device domaintypes.DeviceID,
		sentTimestamp int64,
	) (bool, error)
	SaveSent(ctx context.Context, msg domaintypes.SentMessage) error
	LoadSent(
		ctx context.Context,
		recipient domaintypes.RecipientID,
		sentTimestamp int64,
	) (domaintypes.SentMessage, bool, error)
}

// NetworkMonitor reports connectivity.
type NetworkMonitor interface {
	IsAvailable() bool
}

// Notifier surfaces internal problems to the user.
type Notifier interface {
	NotifyInternalError(ctx context.Context, sender domaintypes.Username, message string)
}
