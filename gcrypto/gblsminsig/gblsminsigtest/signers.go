// Package gblsminsigtest provides deterministic BLS miners for tests and simulations.
package gblsminsigtest

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gordian-engine/gdpos/gcrypto"
	"github.com/gordian-engine/gdpos/gcrypto/gblsminsig"
)

var muSigners sync.Mutex
var generatedSigners []gblsminsig.Signer

// DeterministicSigners returns n signers whose key material is derived from their index.
// Key derivation is slow, so signers are generated concurrently and cached.
func DeterministicSigners(n int) []gblsminsig.Signer {
	muSigners.Lock()
	defer muSigners.Unlock()

	if have := len(generatedSigners); have < n {
		generatedSigners = append(generatedSigners, make([]gblsminsig.Signer, n-have)...)

		var wg sync.WaitGroup
		for i := have; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				generatedSigners[i] = newSigner(i)
			}(i)
		}
		wg.Wait()
	}

	out := make([]gblsminsig.Signer, n)
	copy(out, generatedSigners)
	return out
}

// DeterministicMinerIDs returns the miner IDs of [DeterministicSigners].
func DeterministicMinerIDs(n int) []string {
	out := make([]string, n)
	for i, s := range DeterministicSigners(n) {
		out[i] = gcrypto.MinerID(s.PubKey())
	}
	return out
}

func newSigner(i int) gblsminsig.Signer {
	var ikm [32]byte
	binary.BigEndian.PutUint64(ikm[24:], uint64(i))

	s, err := gblsminsig.NewSigner(ikm[:])
	if err != nil {
		panic(fmt.Errorf("BUG: failed to make signer %d: %w", i, err))
	}
	return s
}
