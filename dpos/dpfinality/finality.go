// Package dpfinality tracks how many trailing blocks must be confirmed
// before the chain is considered irreversible (the LIB offset).
//
// The offset is advisory.
// Marking blocks irreversible is left to the fork choice layer.
package dpfinality

import (
	"cmp"
	"slices"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/gordian-engine/gdpos/dpos/dpround"
)

// MinimumCount is the number of distinct producers required
// before a nonzero LIB offset is reported for a round of n miners.
func MinimumCount(n int) int {
	return dpround.SupermajorityCount(n)
}

// Block is a single produced block, as seen by a [Tracker].
type Block struct {
	RoundNumber uint64

	// MinerCount is the number of miners in the block's round.
	MinerCount int

	// ProducerIndex is the producer's position
	// in the lexicographically sorted miner IDs of the round.
	ProducerIndex int
}

// Tracker is an immutable record of the current online streak.
// The zero value has observed nothing and reports an offset of zero.
type Tracker struct {
	round uint64
	n     int

	// Distinct producers seen in the current round.
	producers *bitset.BitSet

	offset int
}

// Observe returns a Tracker that has also seen b.
// Blocks from rounds older than the current one are ignored.
func (t Tracker) Observe(b Block) Tracker {
	if b.MinerCount <= 0 || b.ProducerIndex < 0 || b.ProducerIndex >= b.MinerCount {
		return t
	}

	switch {
	case t.producers == nil:
		// First block ever observed.
		t.producers = bitset.New(uint(b.MinerCount))
	case b.RoundNumber < t.round:
		return t
	case b.RoundNumber > t.round:
		// A skipped round had no producers at all, which breaks the streak.
		sustained := b.RoundNumber == t.round+1 &&
			int(t.producers.Count()) >= MinimumCount(t.n)
		if !sustained {
			t.offset = 0
		}
		t.producers = bitset.New(uint(b.MinerCount))
	default:
		t.producers = t.producers.Clone()
	}

	t.round = b.RoundNumber
	t.n = b.MinerCount
	t.producers.Set(uint(b.ProducerIndex))

	if need := MinimumCount(t.n); int(t.producers.Count()) >= need {
		t.offset = need
	}
	return t
}

// Offset is the number of trailing blocks that must be confirmed
// for irreversibility, or zero if the streak is insufficient.
func (t Tracker) Offset() int {
	return t.offset
}

// RoundNumber is the round of the most recently observed block.
func (t Tracker) RoundNumber() uint64 {
	return t.round
}

// ProducerCount is the number of distinct producers observed in the current round.
func (t Tracker) ProducerCount() int {
	if t.producers == nil {
		return 0
	}
	return int(t.producers.Count())
}

// BlocksOf returns every block recorded in r, in production order.
func BlocksOf(r dpround.Round) []Block {
	ids := r.SortedMinerIDs()
	n := len(ids)

	type produced struct {
		at  time.Time
		idx int
	}
	var ps []produced
	for i, id := range ids {
		s, _ := r.Miner(id)
		for _, at := range s.ActualMiningTimes {
			ps = append(ps, produced{at: at, idx: i})
		}
	}
	slices.SortFunc(ps, func(a, b produced) int {
		if c := a.at.Compare(b.at); c != 0 {
			return c
		}
		return cmp.Compare(a.idx, b.idx)
	})

	out := make([]Block, len(ps))
	for i, p := range ps {
		out[i] = Block{RoundNumber: r.Number(), MinerCount: n, ProducerIndex: p.idx}
	}
	return out
}

// LIBOffset replays the blocks of history, in round number order,
// and returns the resulting offset.
func LIBOffset(history []dpround.Round) int {
	rounds := slices.Clone(history)
	slices.SortStableFunc(rounds, func(a, b dpround.Round) int {
		return cmp.Compare(a.Number(), b.Number())
	})

	var t Tracker
	for _, r := range rounds {
		if r.IsZero() {
			continue
		}
		for _, b := range BlocksOf(r) {
			t = t.Observe(b)
		}
	}
	return t.Offset()
}
