package gcrypto

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

const secp256k1TypeName = "secp256k1"

// Secp256k1PubKey is a compressed secp256k1 public key.
// Signatures are DER-encoded ECDSA over the SHA-256 of the message.
type Secp256k1PubKey struct {
	k *secp256k1.PublicKey
}

// NewSecp256k1PubKey parses a compressed or uncompressed public key.
func NewSecp256k1PubKey(b []byte) (PubKey, error) {
	k, err := secp256k1.ParsePubKey(b)
	if err != nil {
		return nil, fmt.Errorf("failed to parse secp256k1 public key: %w", err)
	}
	return Secp256k1PubKey{k: k}, nil
}

func (k Secp256k1PubKey) PubKeyBytes() []byte {
	return k.k.SerializeCompressed()
}

func (k Secp256k1PubKey) Verify(msg, sig []byte) bool {
	s, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return false
	}
	h := sha256.Sum256(msg)
	return s.Verify(h[:], k.k)
}

func (k Secp256k1PubKey) Equal(other PubKey) bool {
	o, ok := other.(Secp256k1PubKey)
	if !ok {
		return false
	}
	return bytes.Equal(k.PubKeyBytes(), o.PubKeyBytes())
}

func (k Secp256k1PubKey) TypeName() string {
	return secp256k1TypeName
}

type Secp256k1Signer struct {
	priv *secp256k1.PrivateKey
	pub  Secp256k1PubKey
}

// NewSecp256k1Signer interprets secret as a big-endian scalar.
// The secret must be 32 bytes and nonzero modulo the group order.
func NewSecp256k1Signer(secret []byte) (Secp256k1Signer, error) {
	if len(secret) != secp256k1.PrivKeyBytesLen {
		return Secp256k1Signer{}, fmt.Errorf(
			"expected %d secret bytes, got %d", secp256k1.PrivKeyBytesLen, len(secret),
		)
	}
	priv := secp256k1.PrivKeyFromBytes(secret)
	if priv.Key.IsZero() {
		return Secp256k1Signer{}, errors.New("secret is zero modulo the group order")
	}
	return Secp256k1Signer{
		priv: priv,
		pub:  Secp256k1PubKey{k: priv.PubKey()},
	}, nil
}

func (s Secp256k1Signer) PubKey() PubKey {
	return s.pub
}

func (s Secp256k1Signer) Sign(_ context.Context, input []byte) ([]byte, error) {
	h := sha256.Sum256(input)
	return ecdsa.Sign(s.priv, h[:]).Serialize(), nil
}
