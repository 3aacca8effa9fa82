// Package gbox encrypts secret shares for a single recipient
// using NaCl box (Curve25519, XSalsa20 and Poly1305).
package gbox

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/box"
)

const (
	// KeySize is the length of public and private keys.
	KeySize = 32

	nonceSize = 24
)

// KeyPair is a Curve25519 key pair used to encrypt shares to peers
// and to decrypt shares received from them.
type KeyPair struct {
	Public  [KeySize]byte
	private [KeySize]byte
}

// GenerateKeyPair reads a new key pair from r,
// or from crypto/rand if r is nil.
func GenerateKeyPair(r io.Reader) (*KeyPair, error) {
	if r == nil {
		r = rand.Reader
	}
	pub, priv, err := box.GenerateKey(r)
	if err != nil {
		return nil, fmt.Errorf("failed to generate box key: %w", err)
	}
	return &KeyPair{Public: *pub, private: *priv}, nil
}

// DeterministicKeyPairs returns n key pairs derived from their index.
// They must only be used in tests and simulations.
func DeterministicKeyPairs(n int) []*KeyPair {
	out := make([]*KeyPair, n)
	for i := range out {
		var seed [64]byte
		binary.BigEndian.PutUint64(seed[:8], uint64(i))
		copy(seed[8:], "gdpos deterministic share key")
		kp, err := GenerateKeyPair(&repeatReader{b: seed[:]})
		if err != nil {
			panic(fmt.Errorf("BUG: deterministic key generation failed: %w", err))
		}
		out[i] = kp
	}
	return out
}

// PublicKeyBytes returns a copy of the public key.
func (k *KeyPair) PublicKeyBytes() []byte {
	b := k.Public
	return b[:]
}

// Encrypt seals msg for the holder of recipientPub.
// The random nonce is prepended to the returned ciphertext.
func (k *KeyPair) Encrypt(msg, recipientPub []byte) ([]byte, error) {
	peer, err := publicKey(recipientPub)
	if err != nil {
		return nil, err
	}

	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return box.Seal(nonce[:], msg, &nonce, peer, &k.private), nil
}

// Decrypt opens a ciphertext produced by [KeyPair.Encrypt]
// from the holder of senderPub.
func (k *KeyPair) Decrypt(ciphertext, senderPub []byte) ([]byte, error) {
	peer, err := publicKey(senderPub)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < nonceSize+box.Overhead {
		return nil, errors.New("ciphertext too short")
	}

	var nonce [nonceSize]byte
	copy(nonce[:], ciphertext[:nonceSize])

	msg, ok := box.Open(nil, ciphertext[nonceSize:], &nonce, peer, &k.private)
	if !ok {
		return nil, errors.New("decryption or authentication failed")
	}
	return msg, nil
}

func publicKey(b []byte) (*[KeySize]byte, error) {
	if len(b) != KeySize {
		return nil, fmt.Errorf("expected %d public key bytes, got %d", KeySize, len(b))
	}
	var k [KeySize]byte
	copy(k[:], b)
	return &k, nil
}

// repeatReader yields b cyclically.
type repeatReader struct {
	b   []byte
	off int
}

func (r *repeatReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = r.b[r.off%len(r.b)]
		r.off++
	}
	return len(p), nil
}
