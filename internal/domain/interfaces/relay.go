package interfaces

import (
	"context"

	domaintypes "courier/internal/domain/types"
)

// RelayClient is how we talk to the central relay server, all with context.
// Inbound envelopes do not come through here; they stream over the Transport.
type RelayClient interface {
	RegisterPreKeyBundle(ctx context.Context, bundle domaintypes.PreKeyBundle) error
	FetchPreKeyBundle(
		ctx context.Context,
		username domaintypes.Username,
	) (domaintypes.PreKeyBundle, error)
	// FetchPreKeyCount reports how many one-time prekeys the relay still holds.
	FetchPreKeyCount(ctx context.Context, username domaintypes.Username) (int, error)

	SendMessage(ctx context.Context, envelope domaintypes.Envelope) error
	FetchAccountCanary(ctx context.Context, username domaintypes.Username) (string, error)
}
