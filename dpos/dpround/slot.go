package dpround

import (
	"bytes"
	"slices"
	"time"
)

// MinerSlot is one miner's schedule slot and consensus artifacts within a round.
//
// Values returned from [Round] accessors are copies;
// modifying them has no effect on the Round.
type MinerSlot struct {
	ID string

	// Order is in [1, N] and defines the turn sequence within the round.
	Order int

	ExpectedMiningTime time.Time

	// The first entry is the miner's normal block;
	// later entries are tiny blocks or the extra block.
	ActualMiningTimes []time.Time

	IsExtraBlockProducer bool

	Commitment Commitment

	// The secret revealed for the previous round,
	// which must hash to the previous round's out value.
	PreviousInValue []byte

	Signature []byte

	// Shares of this miner's secret decrypted by other miners,
	// keyed by the contributing miner's ID.
	DecryptedShares map[string][]byte

	ProducedBlocks     uint64
	PromisedTinyBlocks uint64
	MissedTimeSlots    uint64
}

// ActualMiningTime returns the time of the miner's normal block,
// and whether the miner has produced one in the round.
func (s MinerSlot) ActualMiningTime() (time.Time, bool) {
	if len(s.ActualMiningTimes) == 0 {
		return time.Time{}, false
	}
	return s.ActualMiningTimes[0], true
}

// LatestMiningTime returns the time of the miner's most recent block in the round.
func (s MinerSlot) LatestMiningTime() (time.Time, bool) {
	if len(s.ActualMiningTimes) == 0 {
		return time.Time{}, false
	}
	return s.ActualMiningTimes[len(s.ActualMiningTimes)-1], true
}

// HasCommitted reports whether the miner produced its normal block
// and committed an out value in the round.
func (s MinerSlot) HasCommitted() bool {
	return s.Commitment != nil
}

func (s MinerSlot) clone() MinerSlot {
	s.ActualMiningTimes = slices.Clone(s.ActualMiningTimes)
	s.Commitment = cloneCommitment(s.Commitment)
	s.PreviousInValue = bytes.Clone(s.PreviousInValue)
	s.Signature = bytes.Clone(s.Signature)
	s.DecryptedShares = cloneBytesMap(s.DecryptedShares)
	return s
}

// Counters are the per-miner values carried from one round into the next.
type Counters struct {
	ProducedBlocks  uint64
	MissedTimeSlots uint64
}
