package gcrypto

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"fmt"
)

const ed25519TypeName = "ed25519"

// Ed25519PubKey is the ed25519 implementation of [PubKey].
type Ed25519PubKey ed25519.PublicKey

// NewEd25519PubKey validates the length of b and returns it as a PubKey.
func NewEd25519PubKey(b []byte) (PubKey, error) {
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("expected %d public key bytes, got %d", ed25519.PublicKeySize, len(b))
	}
	return Ed25519PubKey(bytes.Clone(b)), nil
}

func (k Ed25519PubKey) PubKeyBytes() []byte {
	return []byte(k)
}

func (k Ed25519PubKey) Verify(msg, sig []byte) bool {
	return ed25519.Verify(ed25519.PublicKey(k), msg, sig)
}

func (k Ed25519PubKey) Equal(other PubKey) bool {
	o, ok := other.(Ed25519PubKey)
	if !ok {
		return false
	}
	return bytes.Equal(k, o)
}

func (k Ed25519PubKey) TypeName() string {
	return ed25519TypeName
}

// Ed25519Signer is the ed25519 implementation of [Signer].
type Ed25519Signer struct {
	priv ed25519.PrivateKey
	pub  Ed25519PubKey
}

func NewEd25519Signer(priv ed25519.PrivateKey) Ed25519Signer {
	return Ed25519Signer{
		priv: priv,
		pub:  Ed25519PubKey(priv.Public().(ed25519.PublicKey)),
	}
}

func (s Ed25519Signer) PubKey() PubKey {
	return s.pub
}

// Sign signs input directly; ed25519 does its own hashing.
func (s Ed25519Signer) Sign(_ context.Context, input []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, input), nil
}
