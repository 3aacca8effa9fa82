// Package dpshamir implements Shamir secret sharing over the secp256k1 scalar field.
//
// Secrets and shares are 32-byte big-endian scalars.
// A share's x coordinate is a small positive integer chosen by the caller.
package dpshamir

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"

	"github.com/taurusgroup/multi-party-sig/pkg/math/curve"
	"github.com/taurusgroup/multi-party-sig/pkg/math/polynomial"
	"github.com/taurusgroup/multi-party-sig/pkg/math/sample"
	"github.com/taurusgroup/multi-party-sig/pkg/party"
)

// Sharer splits and reconstructs secp256k1 scalars.
// The zero value is ready to use.
type Sharer struct{}

var group = curve.Secp256k1{}

// NewSecret samples a uniformly random nonzero scalar from r.
func (Sharer) NewSecret(r io.Reader) ([]byte, error) {
	s := sample.Scalar(r, group)
	b, err := s.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal secret: %w", err)
	}
	return b, nil
}

// Split evaluates a random polynomial of degree t-1 with constant term secret
// at every x in xs.
// Any t of the returned shares reconstruct the secret.
func (Sharer) Split(secret []byte, xs []int, t int) (map[int][]byte, error) {
	if t < 1 {
		return nil, fmt.Errorf("threshold must be positive, got %d", t)
	}
	if len(xs) < t {
		return nil, fmt.Errorf("cannot split into %d shares with threshold %d", len(xs), t)
	}

	constant, err := unmarshalScalar(secret)
	if err != nil {
		return nil, fmt.Errorf("invalid secret: %w", err)
	}

	f := polynomial.NewPolynomial(group, t-1, constant)

	out := make(map[int][]byte, len(xs))
	for _, x := range xs {
		if x <= 0 {
			return nil, fmt.Errorf("x coordinate must be positive, got %d", x)
		}
		if _, ok := out[x]; ok {
			return nil, fmt.Errorf("duplicate x coordinate %d", x)
		}

		y, err := f.Evaluate(xScalar(x)).MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("failed to marshal share %d: %w", x, err)
		}
		out[x] = y
	}
	return out, nil
}

// Reconstruct interpolates the secret from the t shares with the lowest x coordinates.
func (Sharer) Reconstruct(shares map[int][]byte, t int) ([]byte, error) {
	if t < 1 {
		return nil, fmt.Errorf("threshold must be positive, got %d", t)
	}
	if len(shares) < t {
		return nil, fmt.Errorf("have %d shares, need %d", len(shares), t)
	}

	xs := slices.Sorted(maps.Keys(shares))[:t]

	domain := make([]party.ID, t)
	for i, x := range xs {
		if x <= 0 {
			return nil, fmt.Errorf("x coordinate must be positive, got %d", x)
		}
		domain[i] = partyID(x)
	}
	lagrange := polynomial.Lagrange(group, domain)

	secret := group.NewScalar()
	for i, x := range xs {
		y, err := unmarshalScalar(shares[x])
		if err != nil {
			return nil, fmt.Errorf("invalid share %d: %w", x, err)
		}
		secret.Add(group.NewScalar().Set(lagrange[domain[i]]).Mul(y))
	}

	return secret.MarshalBinary()
}

func partyID(x int) party.ID {
	return party.ID(strconv.Itoa(x))
}

func xScalar(x int) curve.Scalar {
	return partyID(x).Scalar(group)
}

func unmarshalScalar(b []byte) (curve.Scalar, error) {
	s := group.NewScalar()
	if err := s.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	return s, nil
}
