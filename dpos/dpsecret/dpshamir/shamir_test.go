package dpshamir_test

import (
	"crypto/rand"
	"testing"

	"github.com/gordian-engine/gdpos/dpos/dpsecret/dpshamir"
	"github.com/stretchr/testify/require"
)

func TestSharer_roundTrip(t *testing.T) {
	t.Parallel()

	var s dpshamir.Sharer
	secret, err := s.NewSecret(rand.Reader)
	require.NoError(t, err)
	require.Len(t, secret, 32)

	xs := []int{1, 2, 3, 4, 5, 6}
	shares, err := s.Split(secret, xs, 4)
	require.NoError(t, err)
	require.Len(t, shares, 6)

	got, err := s.Reconstruct(shares, 4)
	require.NoError(t, err)
	require.Equal(t, secret, got)

	// Any subset of size t works.
	subset := map[int][]byte{2: shares[2], 3: shares[3], 5: shares[5], 6: shares[6]}
	got, err = s.Reconstruct(subset, 4)
	require.NoError(t, err)
	require.Equal(t, secret, got)

	t.Run("too few shares", func(t *testing.T) {
		_, err := s.Reconstruct(map[int][]byte{1: shares[1], 2: shares[2]}, 4)
		require.Error(t, err)
	})

	t.Run("fewer than t points interpolate something else", func(t *testing.T) {
		wrong, err := s.Reconstruct(map[int][]byte{1: shares[1], 2: shares[2], 3: shares[3]}, 3)
		require.NoError(t, err)
		require.NotEqual(t, secret, wrong)
	})

	t.Run("corrupted share", func(t *testing.T) {
		bad := map[int][]byte{1: shares[1], 2: shares[2], 3: shares[3], 4: make([]byte, 32)}
		got, err := s.Reconstruct(bad, 4)
		require.NoError(t, err)
		require.NotEqual(t, secret, got)
	})
}

func TestSharer_invalidInput(t *testing.T) {
	t.Parallel()

	var s dpshamir.Sharer
	secret, err := s.NewSecret(rand.Reader)
	require.NoError(t, err)

	_, err = s.Split(secret, []int{1, 2}, 0)
	require.Error(t, err)

	_, err = s.Split(secret, []int{1}, 2)
	require.Error(t, err)

	_, err = s.Split(secret, []int{1, 1}, 2)
	require.Error(t, err)

	_, err = s.Split(secret, []int{0, 1}, 2)
	require.Error(t, err)

	_, err = s.Split([]byte("not a scalar"), []int{1, 2}, 2)
	require.Error(t, err)

	_, err = s.Reconstruct(map[int][]byte{1: []byte("short")}, 1)
	require.Error(t, err)
}
