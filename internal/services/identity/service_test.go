package identity_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier/internal/services/identity"
	"courier/internal/store"
)

const goodPassphrase = "Correct-Horse-42"

func TestGenerateAndFingerprint(t *testing.T) {
	svc := identity.New(store.NewIdentityFileStore(t.TempDir()), false)

	id, fp, err := svc.GenerateIdentity(goodPassphrase)
	require.NoError(t, err)
	require.NotEmpty(t, fp)

	loaded, err := svc.LoadIdentity(goodPassphrase)
	require.NoError(t, err)
	assert.Equal(t, id.XPub, loaded.XPub)
	assert.Equal(t, id.EdPub, loaded.EdPub)

	again, err := svc.FingerprintIdentity(goodPassphrase)
	require.NoError(t, err)
	assert.Equal(t, fp, again)
}

func TestWeakPassphrasesAreRejected(t *testing.T) {
	svc := identity.New(store.NewIdentityFileStore(t.TempDir()), false)
	for _, p := range []string{"", "short1!A", "alllowercase-123", "NoDigitsHere!!", "NoSymbols12345"} {
		_, _, err := svc.GenerateIdentity(p)
		assert.ErrorIs(t, err, identity.ErrWeakPassphrase, p)
	}
}

func TestExistingIdentityIsKeptUnlessOverwriting(t *testing.T) {
	dir := t.TempDir()
	first, _, err := identity.New(store.NewIdentityFileStore(dir), false).GenerateIdentity(goodPassphrase)
	require.NoError(t, err)

	_, _, err = identity.New(store.NewIdentityFileStore(dir), false).GenerateIdentity(goodPassphrase)
	require.ErrorIs(t, err, identity.ErrIdentityExists)

	second, _, err := identity.New(store.NewIdentityFileStore(dir), true).GenerateIdentity(goodPassphrase)
	require.NoError(t, err)
	assert.NotEqual(t, first.XPub, second.XPub)
}

func TestWrongPassphraseDoesNotReplaceIdentity(t *testing.T) {
	dir := t.TempDir()
	_, _, err := identity.New(store.NewIdentityFileStore(dir), false).GenerateIdentity(goodPassphrase)
	require.NoError(t, err)

	_, _, err = identity.New(store.NewIdentityFileStore(dir), false).GenerateIdentity("Another-Pass-99")
	assert.ErrorIs(t, err, identity.ErrIdentityExists)
}
