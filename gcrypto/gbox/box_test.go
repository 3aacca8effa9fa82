package gbox_test

import (
	"testing"

	"github.com/gordian-engine/gdpos/gcrypto/gbox"
	"github.com/stretchr/testify/require"
)

func TestKeyPair_roundTrip(t *testing.T) {
	t.Parallel()

	alice, err := gbox.GenerateKeyPair(nil)
	require.NoError(t, err)
	bob, err := gbox.GenerateKeyPair(nil)
	require.NoError(t, err)

	ct, err := alice.Encrypt([]byte("share"), bob.PublicKeyBytes())
	require.NoError(t, err)
	require.NotContains(t, string(ct), "share")

	pt, err := bob.Decrypt(ct, alice.PublicKeyBytes())
	require.NoError(t, err)
	require.Equal(t, []byte("share"), pt)

	// Two encryptions of the same message differ by nonce.
	ct2, err := alice.Encrypt([]byte("share"), bob.PublicKeyBytes())
	require.NoError(t, err)
	require.NotEqual(t, ct, ct2)
}

func TestKeyPair_rejects(t *testing.T) {
	t.Parallel()

	kps := gbox.DeterministicKeyPairs(3)
	alice, bob, eve := kps[0], kps[1], kps[2]

	ct, err := alice.Encrypt([]byte("share"), bob.PublicKeyBytes())
	require.NoError(t, err)

	_, err = eve.Decrypt(ct, alice.PublicKeyBytes())
	require.Error(t, err)

	_, err = bob.Decrypt(ct, eve.PublicKeyBytes())
	require.Error(t, err)

	ct[len(ct)-1] ^= 1
	_, err = bob.Decrypt(ct, alice.PublicKeyBytes())
	require.Error(t, err)

	_, err = bob.Decrypt(ct[:10], alice.PublicKeyBytes())
	require.Error(t, err)

	_, err = alice.Encrypt([]byte("x"), []byte("short"))
	require.Error(t, err)
}

func TestDeterministicKeyPairs(t *testing.T) {
	t.Parallel()

	a := gbox.DeterministicKeyPairs(4)
	b := gbox.DeterministicKeyPairs(4)
	for i := range a {
		require.Equal(t, a[i].Public, b[i].Public)
		for j := range i {
			require.NotEqual(t, a[i].Public, a[j].Public)
		}
	}
}
