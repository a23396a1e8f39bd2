package interfaces

import domaintypes "courier/internal/domain/types"

// AccountStore keeps one profile per (relay, username) pair.
type AccountStore interface {
	SaveAccountProfile(profile domaintypes.AccountProfile) error
	LoadAccountProfile(
		serverURL string,
		username domaintypes.Username,
	) (domaintypes.AccountProfile, bool, error)
}

// AccountState is the live view of the local account the retrieval loop
// consults before it opens a connection.
type AccountState interface {
	IsRegistered() bool
	IsPushEnabled() bool
}
