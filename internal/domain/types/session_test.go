package types_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"courier/internal/domain/types"
)

func TestResponderSessionCannotInitiate(t *testing.T) {
	assert.False(t, types.Session{PeerUsername: "bob"}.CanInitiate())
	assert.True(t, types.Session{RootKey: []byte{1}}.CanInitiate())
}

func TestSessionPreKeyMessage(t *testing.T) {
	s := types.Session{
		SignedPreKeyID:        "spk-1",
		OneTimePreKeyID:       "opk-1",
		InitiatorEphemeralKey: types.X25519Public{7},
	}
	pk := s.PreKeyMessage(types.X25519Public{9})

	assert.Equal(t, types.X25519Public{9}, pk.InitiatorIdentityKey)
	assert.Equal(t, types.X25519Public{7}, pk.EphemeralKey)
	assert.True(t, pk.UsesOneTimePreKey())

	s.OneTimePreKeyID = ""
	assert.False(t, s.PreKeyMessage(types.X25519Public{9}).UsesOneTimePreKey())
}

func TestIdentityClear(t *testing.T) {
	id := types.Identity{XPub: types.X25519Public{1}, XPriv: types.X25519Private{2}, EdPriv: types.Ed25519Private{3}}
	id.Clear()

	assert.Equal(t, types.X25519Private{}, id.XPriv)
	assert.Equal(t, types.Ed25519Private{}, id.EdPriv)
	assert.False(t, id.XPub.IsZero(), "public keys survive")
	assert.Len(t, id.PublicKeys(), 2)
}
