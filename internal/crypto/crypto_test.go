package crypto_test

import (
	"crypto/ed25519"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier/internal/crypto"
	"courier/internal/domain"
)

func TestDHAgreement(t *testing.T) {
	aPriv, aPub, err := crypto.GenerateX25519()
	require.NoError(t, err)
	bPriv, bPub, err := crypto.GenerateX25519()
	require.NoError(t, err)

	ab, err := crypto.DH(aPriv, bPub)
	require.NoError(t, err)
	ba, err := crypto.DH(bPriv, aPub)
	require.NoError(t, err)
	assert.Equal(t, ab, ba)
}

func TestDHRejectsZeroPoint(t *testing.T) {
	priv, _, err := crypto.GenerateX25519()
	require.NoError(t, err)

	_, err = crypto.DH(priv, domain.X25519Public{})
	assert.ErrorIs(t, err, crypto.ErrLowOrderPoint)
}

func TestSignedPreKey(t *testing.T) {
	priv, pub, err := crypto.GenerateSigningKey()
	require.NoError(t, err)
	_, spk, err := crypto.GenerateX25519()
	require.NoError(t, err)
	_, other, err := crypto.GenerateX25519()
	require.NoError(t, err)

	sig := crypto.SignPreKey(priv, spk)
	assert.True(t, crypto.VerifyPreKey(pub, spk, sig))
	assert.False(t, crypto.VerifyPreKey(pub, other, sig))
	assert.False(t, crypto.VerifyPreKey(pub, spk, sig[:10]), "short signature")

	bare := ed25519.Sign(ed25519.PrivateKey(priv[:]), spk[:])
	assert.False(t, crypto.VerifyPreKey(pub, spk, bare), "signature without context")
}

func TestFingerprintIsStable(t *testing.T) {
	_, pub, err := crypto.GenerateX25519()
	require.NoError(t, err)

	fp := crypto.Fingerprint(pub[:])
	assert.Len(t, fp, 32)
	assert.Len(t, strings.Fields(fp), 3)
	assert.Equal(t, fp, crypto.FingerprintX25519(pub))

	_, other, err := crypto.GenerateX25519()
	require.NoError(t, err)
	assert.NotEqual(t, fp, crypto.Fingerprint(pub[:], other[:]), "every key contributes")
}

func TestWipe(t *testing.T) {
	a, b := []byte{1, 2, 3}, []byte{4}
	crypto.Wipe(a, b)
	assert.Equal(t, []byte{0, 0, 0}, a)
	assert.Equal(t, []byte{0}, b)
}
