// Package dptransition derives the round that follows a [dpround.Round]:
// either the next round of the same term,
// or the first round of a new term.
//
// The functions here are pure; they never consult a clock or random source.
// Every choice is derived from data already committed in the current round,
// so all honest nodes compute the same next round.
package dptransition

import (
	"fmt"
	"time"

	"github.com/gordian-engine/gdpos/dpos/dpround"
	"github.com/gordian-engine/gdpos/dpos/dpsched"
)

// GenerateNextRound builds the round following cur, started by a block at terminate.
//
// It fails with a [dpround.RoundTransitionPreconditionError]
// unless at least one miner produced a block in cur
// or terminate is after cur's expected end.
//
// Miners who produced in cur take the order derived from their signature,
// walking forward past orders already taken;
// the others fill the remaining orders in their current sequence.
// The extra block producer is derived from the aggregated signature of cur.
func GenerateNextRound(
	cur dpround.Round,
	terminate, blockchainStart time.Time,
	hash dpround.HashFunc,
) (dpround.Round, error) {
	if cur.IsZero() {
		return dpround.Round{}, dpround.RoundTransitionPreconditionError{Reason: "no current round"}
	}
	if cur.ProducedCount() == 0 && !terminate.After(dpsched.ExpectedEndTime(cur, 0)) {
		return dpround.Round{}, dpround.RoundTransitionPreconditionError{
			RoundNumber: cur.Number(),
			Reason:      "no miner has produced and the round has not expired",
		}
	}

	slots := cur.Slots()
	n := len(slots)
	order := make([]string, n)
	taken := make([]bool, n+1)

	for _, s := range slots {
		if !s.HasCommitted() || len(s.Signature) == 0 {
			continue
		}
		o := dpround.OrderFromSeed(s.Signature, n)
		for taken[o] {
			o = o%n + 1
		}
		taken[o] = true
		order[o-1] = s.ID
	}

	free := 1
	for _, s := range slots {
		if s.HasCommitted() && len(s.Signature) > 0 {
			continue
		}
		for taken[free] {
			free++
		}
		taken[free] = true
		order[free-1] = s.ID
	}

	ebpOrder := cur.ExtraBlockProducer().Order
	if agg := dpround.AggregatedSignature(cur, hash); agg != nil {
		ebpOrder = dpround.OrderFromSeed(agg, n)
	}

	counters := cur.Counters()
	for _, s := range slots {
		if !s.HasCommitted() {
			c := counters[s.ID]
			c.MissedTimeSlots++
			counters[s.ID] = c
		}
	}

	prevEBP := cur.ExtraBlockProducer().ID
	if by, _, ok := cur.ExtraBlock(); ok {
		prevEBP = by
	}

	next, err := dpround.NewRound(dpround.RoundParams{
		Number:     cur.Number() + 1,
		TermNumber: cur.TermNumber(),

		MiningInterval: dpsched.MiningInterval(cur),
		StartTime:      terminate.Add(dpsched.MiningInterval(cur)),

		MinerOrder: order,

		ExtraBlockProducerOrder: ebpOrder,

		ExtraBlockProducerOfPreviousRound: prevEBP,
		BlockchainAge:                     terminate.Sub(blockchainStart),

		Counters: counters,
	})
	if err != nil {
		// All inputs derive from a valid round, so this indicates a bug.
		panic(fmt.Errorf("BUG: failed to build round %d: %w", cur.Number()+1, err))
	}
	return next, nil
}

// GenerateFirstRoundOfNewTerm returns the first round of the term after previousTermNumber.
// Round numbering continues from previousRoundNumber,
// keeping one monotonic round counter across terms.
func GenerateFirstRoundOfNewTerm(
	minerIDs []string,
	interval time.Duration,
	start time.Time,
	previousRoundNumber, previousTermNumber uint64,
) (dpround.Round, error) {
	return dpround.GenerateFirstRoundOfTerm(
		minerIDs, interval, start,
		previousRoundNumber+1, previousTermNumber+1,
	)
}
