package dpround

import (
	"fmt"
	"time"
)

// Snapshot is the exported, plain-data form of a [Round],
// used by codecs and stores.
type Snapshot struct {
	Number     uint64
	TermNumber uint64
	ID         string

	MiningInterval time.Duration

	// Slots ordered by Order.
	Slots []MinerSlot

	ExtraBlockProducerOfPreviousRound string
	BlockchainAge                     time.Duration

	ExtraBlockProducedBy string
	ExtraBlockActualTime time.Time
}

// Snapshot returns a deep copy of r as plain data.
func (r Round) Snapshot() Snapshot {
	return Snapshot{
		Number:     r.number,
		TermNumber: r.termNumber,
		ID:         r.id,

		MiningInterval: r.interval,

		Slots: r.Slots(),

		ExtraBlockProducerOfPreviousRound: r.extraBlockProducerOfPreviousRound,
		BlockchainAge:                     r.blockchainAge,

		ExtraBlockProducedBy: r.extraBlockProducedBy,
		ExtraBlockActualTime: r.extraBlockActualTime,
	}
}

// Restore rebuilds a Round from s.
//
// The round ID is recomputed from the expected mining times;
// if s carries a different ID, Restore fails with an [InvalidOrderingError],
// as does any other violation of the round invariants.
func Restore(s Snapshot) (Round, error) {
	r := Round{
		number:     s.Number,
		termNumber: s.TermNumber,

		interval: s.MiningInterval,

		miners: make(map[string]MinerSlot, len(s.Slots)),
		order:  make([]string, len(s.Slots)),

		extraBlockProducerOfPreviousRound: s.ExtraBlockProducerOfPreviousRound,
		blockchainAge:                     s.BlockchainAge,

		extraBlockProducedBy: s.ExtraBlockProducedBy,
		extraBlockActualTime: s.ExtraBlockActualTime,
	}
	if r.number == 0 {
		return Round{}, InvalidOrderingError{Reason: "round number must be positive"}
	}
	if r.interval <= 0 {
		return Round{}, InvalidOrderingError{Reason: "mining interval must be positive"}
	}

	for i, slot := range s.Slots {
		if slot.ID == "" {
			return Round{}, InvalidOrderingError{Reason: fmt.Sprintf("empty miner ID at position %d", i+1)}
		}
		if slot.Order < 1 || slot.Order > len(s.Slots) {
			return Round{}, InvalidOrderingError{
				Reason: fmt.Sprintf("miner %q has order %d outside [1, %d]", slot.ID, slot.Order, len(s.Slots)),
			}
		}
		if _, dup := r.miners[slot.ID]; dup {
			return Round{}, InvalidOrderingError{Reason: fmt.Sprintf("duplicate miner ID %q", slot.ID)}
		}
		if slot.Order != i+1 {
			return Round{}, InvalidOrderingError{
				Reason: fmt.Sprintf("slot at position %d has order %d", i+1, slot.Order),
			}
		}
		r.miners[slot.ID] = slot.clone()
		r.order[i] = slot.ID
	}

	if r.extraBlockProducedBy != "" {
		if _, ok := r.miners[r.extraBlockProducedBy]; !ok {
			return Round{}, UnknownMinerError{MinerID: r.extraBlockProducedBy, RoundNumber: r.number}
		}
	}

	if err := Validate(r); err != nil {
		return Round{}, err
	}

	r.id = computeRoundID(r)
	if s.ID != "" && s.ID != r.id {
		return Round{}, InvalidOrderingError{
			Reason: fmt.Sprintf("round ID %s does not match expected mining times (%s)", s.ID, r.id),
		}
	}

	return r, nil
}
