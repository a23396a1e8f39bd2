package domain

import (
	interfaces "courier/internal/domain/interfaces"
	types "courier/internal/domain/types"
)

// Type aliases expose domain types from the types subpackage for compact imports.
type (
	Username               = types.Username
	Fingerprint            = types.Fingerprint
	SignedPreKeyID         = types.SignedPreKeyID
	OneTimePreKeyID        = types.OneTimePreKeyID
	ConversationID         = types.ConversationID
	DeviceID               = types.DeviceID
	RecipientID            = types.RecipientID
	ThreadID               = types.ThreadID
	GroupID                = types.GroupID
	Identity               = types.Identity
	OneTimePreKeyPair      = types.OneTimePreKeyPair
	OneTimePreKeyPublic    = types.OneTimePreKeyPublic
	PreKeyBundle           = types.PreKeyBundle
	PreKeyMessage          = types.PreKeyMessage
	Envelope               = types.Envelope
	EnvelopeType           = types.EnvelopeType
	CiphertextMessage      = types.CiphertextMessage
	SealedSenderMessage    = types.SealedSenderMessage
	Payload                = types.Payload
	Content                = types.Content
	ContentKind            = types.ContentKind
	ContentHint            = types.ContentHint
	Capabilities           = types.Capabilities
	DecryptOutcome         = types.DecryptOutcome
	ProtocolError          = types.ProtocolError
	ProtocolErrorKind      = types.ProtocolErrorKind
	UnidentifiedContent    = types.UnidentifiedContent
	MessageState           = types.MessageState
	ExceptionMetadata      = types.ExceptionMetadata
	DecryptionResult       = types.DecryptionResult
	Job                    = types.Job
	PendingRetryReceipt    = types.PendingRetryReceipt
	DecryptionErrorMessage = types.DecryptionErrorMessage
	Recipient              = types.Recipient
	RecordKind             = types.RecordKind
	MessageRecord          = types.MessageRecord
	SentMessage            = types.SentMessage
	RatchetHeader          = types.RatchetHeader
	RatchetState           = types.RatchetState
	Conversation           = types.Conversation
	Session                = types.Session
	AccountProfile         = types.AccountProfile
	X25519Public           = types.X25519Public
	X25519Private          = types.X25519Private
	Ed25519Public          = types.Ed25519Public
	Ed25519Private         = types.Ed25519Private
)

// Interface aliases expose domain interfaces from the interfaces subpackage.
type (
	IdentityService   = interfaces.IdentityService
	PreKeyService     = interfaces.PreKeyService
	SessionService    = interfaces.SessionService
	MessageService    = interfaces.MessageService
	RelayClient       = interfaces.RelayClient
	IdentityStore     = interfaces.IdentityStore
	PreKeyStore       = interfaces.PreKeyStore
	PreKeyBundleStore = interfaces.PreKeyBundleStore
	SessionStore      = interfaces.SessionStore
	RatchetStore      = interfaces.RatchetStore
	AccountStore      = interfaces.AccountStore
	Transport         = interfaces.Transport
	EnvelopeCipher    = interfaces.EnvelopeCipher
	JobQueue          = interfaces.JobQueue
	PendingRetryCache = interfaces.PendingRetryCache
	RecipientStore    = interfaces.RecipientStore
	ThreadStore       = interfaces.ThreadStore
	MessageStore      = interfaces.MessageStore
	AccountState      = interfaces.AccountState
	NetworkMonitor    = interfaces.NetworkMonitor
	Notifier          = interfaces.Notifier
)
