package dpround

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"maps"
	"slices"
	"time"
)

// Round is an immutable snapshot of one round:
// the schedule slot and consensus artifacts of every miner.
//
// The zero value is an empty placeholder that reports IsZero() == true;
// use [NewRound] or [GenerateFirstRound] to build a usable Round.
type Round struct {
	number     uint64
	termNumber uint64
	id         string

	interval time.Duration

	// Keyed by miner ID. Slots stored here are never modified in place.
	miners map[string]MinerSlot

	// Cached ordering, index i holds the miner with Order i+1.
	order []string

	extraBlockProducerOfPreviousRound string
	blockchainAge                     time.Duration

	extraBlockProducedBy string
	extraBlockActualTime time.Time
}

// RoundParams are the inputs to [NewRound].
type RoundParams struct {
	Number     uint64
	TermNumber uint64

	MiningInterval time.Duration
	StartTime      time.Time

	// MinerOrder lists miner IDs by turn:
	// the miner at index i gets Order i+1.
	MinerOrder []string

	// ExtraBlockProducerOrder is the Order, in [1, N],
	// of the miner who seals the round.
	ExtraBlockProducerOrder int

	ExtraBlockProducerOfPreviousRound string
	BlockchainAge                     time.Duration

	// Counters carried over from the previous round, keyed by miner ID.
	// Missing entries start at zero.
	Counters map[string]Counters
}

// NewRound builds a Round from p.
// It returns an [InvalidOrderingError] if p does not describe a valid round.
func NewRound(p RoundParams) (Round, error) {
	n := len(p.MinerOrder)
	if n == 0 {
		return Round{}, InvalidOrderingError{Reason: "no miners"}
	}
	if p.Number == 0 {
		return Round{}, InvalidOrderingError{Reason: "round number must be positive"}
	}
	if p.MiningInterval <= 0 {
		return Round{}, InvalidOrderingError{
			Reason: fmt.Sprintf("mining interval must be positive, got %s", p.MiningInterval),
		}
	}
	if p.ExtraBlockProducerOrder < 1 || p.ExtraBlockProducerOrder > n {
		return Round{}, InvalidOrderingError{
			Reason: fmt.Sprintf("extra block producer order %d outside [1, %d]", p.ExtraBlockProducerOrder, n),
		}
	}

	miners := make(map[string]MinerSlot, n)
	for i, id := range p.MinerOrder {
		if id == "" {
			return Round{}, InvalidOrderingError{Reason: fmt.Sprintf("empty miner ID at index %d", i)}
		}
		if _, dup := miners[id]; dup {
			return Round{}, InvalidOrderingError{Reason: fmt.Sprintf("duplicate miner ID %q", id)}
		}

		c := p.Counters[id]
		miners[id] = MinerSlot{
			ID:                   id,
			Order:                i + 1,
			ExpectedMiningTime:   p.StartTime.Add(time.Duration(i) * p.MiningInterval),
			IsExtraBlockProducer: i+1 == p.ExtraBlockProducerOrder,

			ProducedBlocks:  c.ProducedBlocks,
			MissedTimeSlots: c.MissedTimeSlots,
		}
	}

	r := Round{
		number:     p.Number,
		termNumber: p.TermNumber,

		interval: p.MiningInterval,

		miners: miners,
		order:  slices.Clone(p.MinerOrder),

		extraBlockProducerOfPreviousRound: p.ExtraBlockProducerOfPreviousRound,
		blockchainAge:                     p.BlockchainAge,
	}
	if r.termNumber == 0 {
		r.termNumber = 1
	}
	r.id = computeRoundID(r)

	return r, nil
}

// computeRoundID hashes the sorted expected mining times of r.
func computeRoundID(r Round) string {
	ms := make([]int64, 0, len(r.miners))
	for _, s := range r.miners {
		ms = append(ms, s.ExpectedMiningTime.UnixMilli())
	}
	slices.Sort(ms)

	h := sha256.New()
	var buf [8]byte
	for _, m := range ms {
		binary.BigEndian.PutUint64(buf[:], uint64(m))
		_, _ = h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// IsZero reports whether r is the zero Round.
func (r Round) IsZero() bool {
	return r.number == 0
}

func (r Round) Number() uint64     { return r.number }
func (r Round) TermNumber() uint64 { return r.termNumber }

// ID is derived from the expected mining times of the round
// and is fixed at construction.
func (r Round) ID() string { return r.id }

// MiningInterval is the length of a single miner's slot.
func (r Round) MiningInterval() time.Duration { return r.interval }

func (r Round) MinerCount() int { return len(r.order) }

func (r Round) ExtraBlockProducerOfPreviousRound() string {
	return r.extraBlockProducerOfPreviousRound
}

// BlockchainAge is the age of the chain when the round was generated.
func (r Round) BlockchainAge() time.Duration { return r.blockchainAge }

// Miner returns a copy of the slot for the given miner ID.
func (r Round) Miner(id string) (MinerSlot, bool) {
	s, ok := r.miners[id]
	if !ok {
		return MinerSlot{}, false
	}
	return s.clone(), true
}

// HasMiner reports whether id is a miner in r.
func (r Round) HasMiner(id string) bool {
	_, ok := r.miners[id]
	return ok
}

// MinerIDs returns the miner IDs ordered by their Order.
func (r Round) MinerIDs() []string {
	return slices.Clone(r.order)
}

// SortedMinerIDs returns the miner IDs in lexicographic order.
func (r Round) SortedMinerIDs() []string {
	return sortedKeys(r.miners)
}

// MinerAt returns a copy of the slot with the given order.
func (r Round) MinerAt(order int) (MinerSlot, bool) {
	if order < 1 || order > len(r.order) {
		return MinerSlot{}, false
	}
	return r.miners[r.order[order-1]].clone(), true
}

// Slots returns copies of every slot, ordered by Order.
func (r Round) Slots() []MinerSlot {
	out := make([]MinerSlot, len(r.order))
	for i, id := range r.order {
		out[i] = r.miners[id].clone()
	}
	return out
}

// ExtraBlockProducer returns the slot flagged to produce the extra block.
func (r Round) ExtraBlockProducer() MinerSlot {
	for _, id := range r.order {
		if s := r.miners[id]; s.IsExtraBlockProducer {
			return s.clone()
		}
	}
	panic(fmt.Errorf("BUG: round %d has no extra block producer", r.number))
}

// StartTime is the expected mining time of the miner with order 1.
func (r Round) StartTime() time.Time {
	return r.miners[r.order[0]].ExpectedMiningTime
}

// ExtraBlockMiningTime is the start of the extra block slot,
// one interval after the last miner's expected mining time.
func (r Round) ExtraBlockMiningTime() time.Time {
	last := r.miners[r.order[len(r.order)-1]]
	return last.ExpectedMiningTime.Add(r.interval)
}

// ExtraBlock returns the miner that produced the extra block and when,
// or ok=false if the round has not been sealed.
func (r Round) ExtraBlock() (producer string, at time.Time, ok bool) {
	if r.extraBlockProducedBy == "" {
		return "", time.Time{}, false
	}
	return r.extraBlockProducedBy, r.extraBlockActualTime, true
}

// ProducedCount returns the number of miners that produced
// at least one block in the round.
func (r Round) ProducedCount() int {
	n := 0
	for _, s := range r.miners {
		if len(s.ActualMiningTimes) > 0 {
			n++
		}
	}
	return n
}

// Counters returns the per-miner counters to carry into a following round.
func (r Round) Counters() map[string]Counters {
	out := make(map[string]Counters, len(r.miners))
	for id, s := range r.miners {
		out[id] = Counters{
			ProducedBlocks:  s.ProducedBlocks,
			MissedTimeSlots: s.MissedTimeSlots,
		}
	}
	return out
}

// withSlot returns a copy of r with the slot for s.ID replaced by s.
// The caller must not retain s.
func (r Round) withSlot(s MinerSlot) Round {
	miners := maps.Clone(r.miners)
	miners[s.ID] = s
	r.miners = miners
	return r
}
