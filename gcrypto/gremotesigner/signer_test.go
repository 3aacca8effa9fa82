package gremotesigner_test

import (
	"context"
	"crypto/ed25519"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/gordian-engine/gdpos/gcrypto"
	"github.com/gordian-engine/gdpos/gcrypto/gblsminsig/gblsminsigtest"
	"github.com/gordian-engine/gdpos/gcrypto/gcryptotest"
	"github.com/gordian-engine/gdpos/gcrypto/gremotesigner"
	"github.com/gordian-engine/gdpos/internal/gtest"
	"github.com/stretchr/testify/require"
)

// serve serves h on a fresh unix socket and returns the socket path.
func serve(t *testing.T, h http.Handler) string {
	t.Helper()

	dir, err := os.MkdirTemp("", "grs")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	path := filepath.Join(dir, "s.sock")
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)

	srv := &http.Server{Handler: h}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })

	return path
}

func TestSigner(t *testing.T) {
	t.Parallel()

	for name, local := range map[string]gcrypto.Signer{
		"ed25519":    gcryptotest.DeterministicEd25519Signers(1)[0],
		"bls-minsig": gblsminsigtest.DeterministicSigners(1)[0],
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			path := serve(t, gremotesigner.NewHandler(gtest.NewLogger(t), local))

			s, err := gremotesigner.Dial(ctx, path)
			require.NoError(t, err)
			require.True(t, s.PubKey().Equal(local.PubKey()))
			require.Equal(t, name, s.PubKey().TypeName())

			sig, err := s.Sign(ctx, []byte("round update"))
			require.NoError(t, err)
			require.True(t, local.PubKey().Verify([]byte("round update"), sig))
		})
	}
}

// lyingSigner advertises one key and signs with another.
type lyingSigner struct {
	advertised gcrypto.Signer
	actual     gcrypto.Signer
}

func (s lyingSigner) PubKey() gcrypto.PubKey { return s.advertised.PubKey() }

func (s lyingSigner) Sign(ctx context.Context, input []byte) ([]byte, error) {
	return s.actual.Sign(ctx, input)
}

func TestSigner_rejectsBadSignature(t *testing.T) {
	t.Parallel()

	signers := gcryptotest.DeterministicEd25519Signers(2)
	path := serve(t, gremotesigner.NewHandler(gtest.NewLogger(t), lyingSigner{
		advertised: signers[0],
		actual:     signers[1],
	}))

	ctx := context.Background()
	s, err := gremotesigner.Dial(ctx, path)
	require.NoError(t, err)

	_, err = s.Sign(ctx, []byte("round update"))
	require.Error(t, err)
}

func TestDial_noServer(t *testing.T) {
	t.Parallel()

	_, err := gremotesigner.Dial(context.Background(), filepath.Join(t.TempDir(), "missing.sock"))
	require.Error(t, err)
}

func TestDecodePubKey(t *testing.T) {
	t.Parallel()

	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	k, err := gremotesigner.DecodePubKey("ed25519", pub)
	require.NoError(t, err)
	require.Equal(t, "ed25519", k.TypeName())

	_, err = gremotesigner.DecodePubKey("rsa", pub)
	require.Error(t, err)
}
