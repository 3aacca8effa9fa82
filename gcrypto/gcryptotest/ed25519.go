package gcryptotest

import (
	"crypto/ed25519"
	"encoding/binary"
	"sync"

	"github.com/gordian-engine/gdpos/gcrypto"
)

var muEd25519 sync.Mutex
var generatedEd25519 []gcrypto.Ed25519Signer

// DeterministicEd25519Signers returns n ed25519 signers
// whose keys are derived from their index.
//
// The signers are cached, so subsequent calls are effectively free,
// and logs involving keys stay stable across test runs.
func DeterministicEd25519Signers(n int) []gcrypto.Ed25519Signer {
	muEd25519.Lock()
	defer muEd25519.Unlock()

	for i := len(generatedEd25519); i < n; i++ {
		var seed [ed25519.SeedSize]byte
		binary.BigEndian.PutUint64(seed[ed25519.SeedSize-8:], uint64(i))
		generatedEd25519 = append(
			generatedEd25519,
			gcrypto.NewEd25519Signer(ed25519.NewKeyFromSeed(seed[:])),
		)
	}

	out := make([]gcrypto.Ed25519Signer, n)
	copy(out, generatedEd25519)
	return out
}

// DeterministicMinerIDs returns the miner IDs of [DeterministicEd25519Signers].
func DeterministicMinerIDs(n int) []string {
	out := make([]string, n)
	for i, s := range DeterministicEd25519Signers(n) {
		out[i] = gcrypto.MinerID(s.PubKey())
	}
	return out
}
