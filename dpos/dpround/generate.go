package dpround

import (
	"crypto/sha256"
	"encoding/binary"
	"math/big"
	"time"
)

// GenerateFirstRound returns round 1 of term 1.
//
// Miners are ordered as given, starting at start and spaced by interval.
// The extra block producer is derived from start alone,
// so every node computes the same first round.
func GenerateFirstRound(minerIDs []string, interval time.Duration, start time.Time) (Round, error) {
	return GenerateFirstRoundOfTerm(minerIDs, interval, start, 1, 1)
}

// GenerateFirstRoundOfTerm is like [GenerateFirstRound]
// but with an explicit round and term number,
// so round numbering continues across term boundaries.
func GenerateFirstRoundOfTerm(
	minerIDs []string,
	interval time.Duration,
	start time.Time,
	roundNumber, termNumber uint64,
) (Round, error) {
	return NewRound(RoundParams{
		Number:     roundNumber,
		TermNumber: termNumber,

		MiningInterval: interval,
		StartTime:      start,

		MinerOrder: minerIDs,

		ExtraBlockProducerOrder: seedOrder(start, len(minerIDs)),
	})
}

// seedOrder maps the start time to an order in [1, n].
func seedOrder(start time.Time, n int) int {
	if n <= 0 {
		// NewRound reports the empty miner list.
		return 1
	}

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(start.UnixMilli()))
	h := sha256.Sum256(buf[:])
	return OrderFromSeed(h[:], n)
}

// OrderFromSeed interprets seed as a big-endian unsigned integer
// and maps it onto an order in [1, n].
func OrderFromSeed(seed []byte, n int) int {
	v := new(big.Int).SetBytes(seed)
	v.Mod(v, big.NewInt(int64(n)))
	return int(v.Int64()) + 1
}

// SupermajorityCount is the number of miners, out of n,
// needed for a Byzantine-resilient quorum: floor(2n/3) + 1.
func SupermajorityCount(n int) int {
	return n*2/3 + 1
}
