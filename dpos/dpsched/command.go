package dpsched

import (
	"time"

	"github.com/gordian-engine/gdpos/dpos/dpround"
)

// Behaviour hints what a mining pipeline should do once a [Command]'s wait elapses.
type Behaviour uint8

const (
	// Nothing means the miner has no further work in the round.
	Nothing Behaviour = iota

	ProduceNormalBlock
	ProduceTinyBlock

	// ProduceExtraBlock seals the round and proposes the next one.
	ProduceExtraBlock

	// RecoverMissedSlot mines after missing the miner's own slot.
	RecoverMissedSlot

	// ChangeTerm is like ProduceExtraBlock but proposes the first round of a new term.
	// The scheduler never returns it on its own;
	// callers that know a term change is due upgrade ProduceExtraBlock to it.
	ChangeTerm
)

func (b Behaviour) String() string {
	switch b {
	case Nothing:
		return "Nothing"
	case ProduceNormalBlock:
		return "ProduceNormalBlock"
	case ProduceTinyBlock:
		return "ProduceTinyBlock"
	case ProduceExtraBlock:
		return "ProduceExtraBlock"
	case RecoverMissedSlot:
		return "RecoverMissedSlot"
	case ChangeTerm:
		return "ChangeTerm"
	default:
		return "Unknown"
	}
}

// Command tells a mining pipeline how long to wait and what to do next.
type Command struct {
	Behaviour Behaviour

	// ArrangedTime is when the behaviour should happen,
	// or [Never] for [Nothing].
	ArrangedTime time.Time

	// Wait is ArrangedTime minus the time the command was computed,
	// floored at zero.
	Wait time.Duration
}

// Policy holds the tunables of [Policy.Command].
// The zero value disables tiny blocks.
type Policy struct {
	// MaxTinyBlocks is how many blocks a miner may produce
	// in its own slot after its normal block.
	MaxTinyBlocks int
}

// ConsensusCommand is shorthand for the zero [Policy]'s Command method.
func ConsensusCommand(r dpround.Round, minerID string, now time.Time) (Command, error) {
	return Policy{}.Command(r, minerID, now)
}

// Command decides what minerID should do next in r, as of now.
func (p Policy) Command(r dpround.Round, minerID string, now time.Time) (Command, error) {
	passed, s, err := IsTimeSlotPassed(r, minerID, now)
	if err != nil {
		return Command{}, err
	}

	if _, _, sealed := r.ExtraBlock(); sealed {
		return Command{Behaviour: Nothing, ArrangedTime: Never}, nil
	}

	interval := MiningInterval(r)
	slotEnd := s.ExpectedMiningTime.Add(interval)
	extraStart := r.ExtraBlockMiningTime()

	if !s.HasCommitted() {
		switch {
		case !passed:
			return at(ProduceNormalBlock, latest(now, s.ExpectedMiningTime), now), nil
		case s.IsExtraBlockProducer && !now.After(extraStart.Add(interval)):
			// The extra block producer may still seal the round
			// even though it missed its normal slot.
			return at(ProduceExtraBlock, latest(now, extraStart), now), nil
		default:
			return at(RecoverMissedSlot, abnormalMiningTime(r, s, now), now), nil
		}
	}

	if p.MaxTinyBlocks > 0 && len(s.ActualMiningTimes) <= p.MaxTinyBlocks {
		last, _ := s.LatestMiningTime()
		next := last.Add(interval / time.Duration(p.MaxTinyBlocks+1))
		if next = latest(now, next); next.Before(slotEnd) {
			return at(ProduceTinyBlock, next, now), nil
		}
	}

	if s.IsExtraBlockProducer {
		return at(ProduceExtraBlock, latest(now, extraStart), now), nil
	}

	// Every other miner is a backup for the extra block producer,
	// each staggered by its own order so that they do not collide.
	return at(ProduceExtraBlock, abnormalMiningTime(r, s, latest(now, extraStart)), now), nil
}

func at(b Behaviour, t, now time.Time) Command {
	wait := t.Sub(now)
	if wait < 0 {
		wait = 0
	}
	return Command{Behaviour: b, ArrangedTime: t, Wait: wait}
}

func latest(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
