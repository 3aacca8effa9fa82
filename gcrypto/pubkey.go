package gcrypto

import (
	"context"
	"encoding/hex"
)

// PubKey is the public half of a miner's signing key.
type PubKey interface {
	PubKeyBytes() []byte

	Equal(other PubKey) bool

	Verify(msg, sig []byte) bool

	// TypeName identifies the key scheme, such as "ed25519".
	TypeName() string
}

// Signer produces signatures verifiable by its PubKey.
type Signer interface {
	PubKey() PubKey

	Sign(ctx context.Context, input []byte) ([]byte, error)
}

// MinerID returns the identifier the consensus core uses for the holder of k:
// the lowercase hex encoding of the public key bytes.
func MinerID(k PubKey) string {
	return hex.EncodeToString(k.PubKeyBytes())
}
