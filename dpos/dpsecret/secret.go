// Package dpsecret orchestrates the commit-reveal recovery path:
// splitting a miner's in value into shares for every other miner,
// encrypting each share for its recipient,
// and reconstructing the in value of a miner that failed to reveal it.
//
// The arithmetic is delegated to a [Sharer]
// and the encryption to an [Encryptor].
package dpsecret

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"sync"

	"github.com/gordian-engine/gdpos/dpos/dpround"
	"golang.org/x/sync/errgroup"
)

// MinMiners is the smallest miner set for which secret sharing is meaningful.
const MinMiners = 3

// Sharer is a threshold secret sharing scheme.
// Shares are indexed by positive x coordinates.
type Sharer interface {
	// NewSecret returns a fresh secret that Split accepts.
	NewSecret(r io.Reader) ([]byte, error)

	Split(secret []byte, xs []int, t int) (map[int][]byte, error)

	Reconstruct(shares map[int][]byte, t int) ([]byte, error)
}

// Encryptor encrypts a share so that only its recipient can read it.
// The keys are the peers' public encryption keys.
type Encryptor interface {
	Encrypt(msg, recipientPub []byte) ([]byte, error)
	Decrypt(ciphertext, senderPub []byte) ([]byte, error)
}

// Threshold is the number of shares required to reconstruct a secret
// among n miners.
func Threshold(n int) int {
	return n * 2 / 3
}

// Service generates and reconstructs in values.
type Service struct {
	Sharer Sharer
	Hash   dpround.HashFunc
}

// NewInValue returns a fresh in value and the out value committing to it.
func (s Service) NewInValue(r io.Reader) (in, out []byte, err error) {
	in, err = s.Sharer.NewSecret(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate in value: %w", err)
	}
	return in, s.Hash(in), nil
}

// GenerateShares splits secret into one share for every miner in minerIDs
// other than self.
//
// A miner's x coordinate is its one-based position
// in the lexicographically sorted miner IDs,
// so every node derives the same mapping.
func (s Service) GenerateShares(secret []byte, self string, minerIDs []string) (map[string][]byte, error) {
	sorted, err := sortedMiners(minerIDs)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(sorted, self) {
		return nil, fmt.Errorf("miner %q is not in the miner set", self)
	}

	xs := make([]int, 0, len(sorted)-1)
	for i, id := range sorted {
		if id != self {
			xs = append(xs, i+1)
		}
	}

	byX, err := s.Sharer.Split(secret, xs, Threshold(len(sorted)))
	if err != nil {
		return nil, fmt.Errorf("failed to split secret: %w", err)
	}

	out := make(map[string][]byte, len(byX))
	for _, x := range xs {
		out[sorted[x-1]] = byX[x]
	}
	return out, nil
}

// EncryptSharesForDistribution encrypts every share for its recipient,
// producing the map that is embedded in a round update.
// Every recipient must have a key in peerKeys.
func EncryptSharesForDistribution(
	shares map[string][]byte,
	enc Encryptor,
	peerKeys map[string][]byte,
) (map[string][]byte, error) {
	out := make(map[string][]byte, len(shares))
	for _, id := range slices.Sorted(maps.Keys(shares)) {
		key, ok := peerKeys[id]
		if !ok {
			return nil, fmt.Errorf("no encryption key for miner %q", id)
		}
		ct, err := enc.Encrypt(shares[id], key)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt share for miner %q: %w", id, err)
		}
		out[id] = ct
	}
	return out, nil
}

// DecryptShare opens a share addressed to the holder of enc by the miner owning senderKey.
func DecryptShare(enc Encryptor, ciphertext, senderKey []byte) ([]byte, error) {
	share, err := enc.Decrypt(ciphertext, senderKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt share: %w", err)
	}
	return share, nil
}

// DecryptSharesFor decrypts, in parallel, every share in r addressed to recipient.
// The result maps each owner to the decrypted share of its secret.
// Owners without a key in senderKeys are skipped.
func DecryptSharesFor(
	ctx context.Context,
	enc Encryptor,
	r dpround.Round,
	recipient string,
	senderKeys map[string][]byte,
) (map[string][]byte, error) {
	var mu sync.Mutex
	out := make(map[string][]byte)

	eg, ctx := errgroup.WithContext(ctx)
	for _, slot := range r.Slots() {
		sd, ok := slot.Commitment.(dpround.SharesDistributed)
		if !ok {
			continue
		}
		ct, ok := sd.EncryptedShares[recipient]
		if !ok {
			continue
		}
		key, ok := senderKeys[slot.ID]
		if !ok {
			continue
		}

		owner := slot.ID
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			share, err := DecryptShare(enc, ct, key)
			if err != nil {
				return fmt.Errorf("share from miner %q: %w", owner, err)
			}
			mu.Lock()
			out[owner] = share
			mu.Unlock()
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// ReconstructMissingInValue recovers owner's in value from the decrypted shares
// collected from other miners, keyed by contributor.
//
// Contributors are consumed in lexicographic order and the first
// [Threshold] of them are used.
// Contributors outside minerIDs, and owner itself, are ignored.
//
// It returns an [dpround.InsufficientSharesError] below the threshold
// and a [dpround.ReconstructionMismatchError]
// if the result does not hash to outValue.
func (s Service) ReconstructMissingInValue(
	owner string,
	collected map[string][]byte,
	minerIDs []string,
	outValue []byte,
) ([]byte, error) {
	return s.reconstruct(owner, collected, minerIDs, outValue, 0)
}

func (s Service) reconstruct(
	owner string,
	collected map[string][]byte,
	minerIDs []string,
	outValue []byte,
	roundNumber uint64,
) ([]byte, error) {
	sorted, err := sortedMiners(minerIDs)
	if err != nil {
		return nil, err
	}
	t := Threshold(len(sorted))

	byX := make(map[int][]byte, t)
	for i, id := range sorted {
		if len(byX) == t {
			break
		}
		if id == owner {
			continue
		}
		if share, ok := collected[id]; ok {
			byX[i+1] = share
		}
	}
	if len(byX) < t {
		return nil, dpround.InsufficientSharesError{OwnerID: owner, Have: len(byX), Need: t}
	}

	in, err := s.Sharer.Reconstruct(byX, t)
	if err != nil {
		// Shares that cannot even be interpolated are as bad as a wrong result.
		return nil, fmt.Errorf(
			"%w: %w",
			dpround.ReconstructionMismatchError{OwnerID: owner, RoundNumber: roundNumber}, err,
		)
	}
	if !bytes.Equal(s.Hash(in), outValue) {
		return nil, dpround.ReconstructionMismatchError{OwnerID: owner, RoundNumber: roundNumber}
	}
	return in, nil
}

// ReconstructInRound attempts to reconstruct owner's in value from the
// decrypted shares recorded in r, and records the reconstruction.
//
// Until enough shares are present it returns an [dpround.InsufficientSharesError],
// and callers retry once more shares arrive.
func (s Service) ReconstructInRound(r dpround.Round, owner string) (dpround.Round, []byte, error) {
	slot, ok := r.Miner(owner)
	if !ok {
		return r, nil, dpround.UnknownMinerError{MinerID: owner, RoundNumber: r.Number()}
	}
	if slot.Commitment == nil {
		return r, nil, fmt.Errorf("miner %q has not committed in round %d", owner, r.Number())
	}
	if in, ok := dpround.InValue(slot.Commitment); ok {
		return r, in, nil
	}

	in, err := s.reconstruct(
		owner, slot.DecryptedShares, r.SortedMinerIDs(), slot.Commitment.OutValue(), r.Number(),
	)
	if err != nil {
		return r, nil, err
	}

	updated, err := dpround.ApplyReconstruction(r, owner, in, s.Hash)
	if err != nil {
		return r, nil, err
	}
	return updated, in, nil
}

func sortedMiners(minerIDs []string) ([]string, error) {
	if len(minerIDs) < MinMiners {
		return nil, fmt.Errorf("secret sharing needs at least %d miners, got %d", MinMiners, len(minerIDs))
	}
	sorted := slices.Sorted(slices.Values(minerIDs))
	if len(slices.Compact(slices.Clone(sorted))) != len(sorted) {
		return nil, errors.New("duplicate miner IDs")
	}
	return sorted, nil
}
