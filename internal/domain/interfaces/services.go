package interfaces

import (
	"context"

	domaintypes "courier/internal/domain/types"
)

// IdentityService creates, retrieves, and inspects your identity keys.
type IdentityService interface {
	GenerateIdentity(passphrase string) (
		domaintypes.Identity,
		domaintypes.Fingerprint,
		error,
	)
	LoadIdentity(passphrase string) (domaintypes.Identity, error)
	FingerprintIdentity(passphrase string) (domaintypes.Fingerprint, error)
}

// PreKeyService generates and assembles your pre-key bundles.
type PreKeyService interface {
	GenerateAndStorePreKeys(passphrase string, count int) (
		domaintypes.X25519Public,
		[]domaintypes.X25519Public,
		error,
	)
	LoadPreKeyBundle(
		passphrase string,
		username domaintypes.Username,
	) (
		domaintypes.PreKeyBundle,
		error,
	)
	// RefreshPreKeys tops up one-time prekeys when the relay runs low and
	// re-registers the bundle. It reports whether a refresh happened.
	RefreshPreKeys(ctx context.Context, passphrase string, username domaintypes.Username) (bool, error)
}

// SessionService establishes, retrieves or resets an X3DH session.
type SessionService interface {
	InitiateSession(
		ctx context.Context,
		passphrase string,
		peer domaintypes.Username,
	) (domaintypes.Session, error)
	GetSession(peer domaintypes.Username) (domaintypes.Session, bool, error)
	// ResetSession archives the session with one peer device and starts a
	// fresh one.
	ResetSession(
		ctx context.Context,
		passphrase string,
		peer domaintypes.Username,
		device domaintypes.DeviceID,
	) (domaintypes.Session, error)
}

// MessageService encrypts and sends messages, retry receipts and resends.
type MessageService interface {
	SendMessage(
		ctx context.Context,
		to domaintypes.Username,
		device domaintypes.DeviceID,
		body string,
	) (int64, error)
	SendNullMessage(ctx context.Context, to domaintypes.Username, device domaintypes.DeviceID) error
	SendRetryReceipt(
		ctx context.Context,
		to domaintypes.Username,
		device domaintypes.DeviceID,
		group domaintypes.GroupID,
		msg domaintypes.DecryptionErrorMessage,
	) error
	ResendMessage(
		ctx context.Context,
		to domaintypes.Username,
		device domaintypes.DeviceID,
		sentTimestamp int64,
	) error
}
