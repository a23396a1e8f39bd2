package types

import "strconv"

// Username represents a relay-registered identity.
type Username string

// String returns the string form of the username.
func (u Username) String() string { return string(u) }

// Fingerprint is a short identifier for public keys presented to users.
type Fingerprint string

// String returns the string form of the fingerprint.
func (f Fingerprint) String() string { return string(f) }

// SignedPreKeyID uniquely identifies a signed pre-key.
type SignedPreKeyID string

// String returns the string form of the identifier.
func (id SignedPreKeyID) String() string { return string(id) }

// OneTimePreKeyID uniquely identifies a one-time pre-key.
type OneTimePreKeyID string

// String returns the string form of the identifier.
func (id OneTimePreKeyID) String() string { return string(id) }

// ConversationID identifies a conversation partner device.
type ConversationID string

// ConversationFor returns the conversation id of one peer device.
func ConversationFor(peer Username, device DeviceID) ConversationID {
	return ConversationID(peer.String() + "." + device.String())
}

// String returns the string form of the conversation identifier.
func (id ConversationID) String() string { return string(id) }

// DeviceID identifies one device of a registered user.
type DeviceID uint32

// String returns the decimal form of the device identifier.
func (d DeviceID) String() string { return strconv.FormatUint(uint64(d), 10) }

// RecipientID is the local database identifier of a user or group.
type RecipientID int64

// String returns the decimal form of the recipient identifier.
func (id RecipientID) String() string { return strconv.FormatInt(int64(id), 10) }

// ThreadID is the local database identifier of a conversation thread.
// The zero value means no thread exists yet.
type ThreadID int64

// Valid reports whether the id refers to an existing thread.
func (id ThreadID) Valid() bool { return id > 0 }
