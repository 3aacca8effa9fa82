package gblsminsig

import (
	"context"
	"errors"
	"fmt"

	"github.com/gordian-engine/gdpos/gcrypto"
	blst "github.com/supranational/blst/bindings/go"
)

const keyTypeName = "bls-minsig"

// DomainSeparationTag is the ciphersuite ID of the basic BLS scheme with
// signatures in G1 (draft-irtf-cfrg-bls-signature-05 section 4.1, RFC9380 section 8.8.1).
// Every miner must sign and verify with the same tag.
var DomainSeparationTag = []byte("BLS_SIG_BLS12381G1_XMD:SHA-256_SSWU_RO_NUL_")

// KeyGenSalt is the salt for deriving miner secret keys from key material.
// Changing it changes every derived miner ID.
var KeyGenSalt = []byte("gdpos miner key")

// PubKey is a miner public key: a point in G2.
type PubKey blst.P2Affine

// NewPubKey decodes and validates a compressed G2 point,
// as returned by [PubKey.PubKeyBytes].
func NewPubKey(b []byte) (gcrypto.PubKey, error) {
	if len(b) != blst.BLST_P2_COMPRESS_BYTES {
		return nil, fmt.Errorf("expected %d compressed bytes, got %d", blst.BLST_P2_COMPRESS_BYTES, len(b))
	}

	p := new(blst.P2Affine).Uncompress(b)
	switch {
	case p == nil:
		return nil, errors.New("failed to decompress public key")
	case !p.KeyValidate():
		return nil, errors.New("public key failed validation")
	}
	return PubKey(*p), nil
}

func (k PubKey) Equal(other gcrypto.PubKey) bool {
	o, ok := other.(PubKey)
	if !ok {
		return false
	}
	a, b := blst.P2Affine(k), blst.P2Affine(o)
	return a.Equals(&b)
}

func (k PubKey) PubKeyBytes() []byte {
	p := blst.P2Affine(k)
	return p.Compress()
}

// Verify reports whether the compressed signature sig matches k for msg.
func (k PubKey) Verify(msg, sig []byte) bool {
	p1a := new(blst.P1Affine).Uncompress(sig)
	if p1a == nil || !p1a.SigValidate(false) {
		return false
	}

	p := blst.P2Affine(k)
	return p1a.Verify(false, &p, false, blst.Message(msg), DomainSeparationTag)
}

func (k PubKey) TypeName() string {
	return keyTypeName
}

// Signer signs round updates with a BLS secret scalar.
type Signer struct {
	secret blst.SecretKey
	point  blst.P2Affine
}

// NewSigner derives a signer from ikm and [KeyGenSalt].
// The initial key material must be at least 32 bytes,
// and should be cryptographically random.
func NewSigner(ikm []byte) (Signer, error) {
	if len(ikm) < blst.BLST_SCALAR_BYTES {
		return Signer{}, fmt.Errorf(
			"ikm data too short: got %d, need at least %d",
			len(ikm), blst.BLST_SCALAR_BYTES,
		)
	}
	sk := blst.KeyGenV5(ikm, KeyGenSalt)
	return Signer{
		secret: *sk,
		point:  *new(blst.P2Affine).From(sk),
	}, nil
}

func (s Signer) PubKey() gcrypto.PubKey {
	return PubKey(s.point)
}

// Sign returns the compressed G1 signature of input under [DomainSeparationTag].
func (s Signer) Sign(_ context.Context, input []byte) ([]byte, error) {
	sig := new(blst.P1Affine).Sign(&s.secret, input, DomainSeparationTag, true)
	if sig == nil {
		return nil, errors.New("failed to sign")
	}
	return sig.Compress(), nil
}
