// Package dpsched computes, from a round and a wall-clock time,
// whose time slot is current, which slots have passed,
// and when a miner that missed its slot may mine again.
//
// All functions are pure and operate on [dpround.Round] values.
package dpsched

import (
	"fmt"
	"time"

	"github.com/gordian-engine/gdpos/dpos/dpround"
)

// Never is the sentinel returned when no recovery time applies.
// It is the maximum representable [time.Time].
var Never = time.Unix(1<<63-62135596801, 999999999)

// MiningInterval returns the time between the expected mining times
// of the first two miners of r.
// A single-miner round has no second slot to measure,
// so the interval recorded at construction is returned instead.
func MiningInterval(r dpround.Round) time.Duration {
	first, ok1 := r.MinerAt(1)
	second, ok2 := r.MinerAt(2)
	if !ok1 || !ok2 {
		return r.MiningInterval()
	}
	return second.ExpectedMiningTime.Sub(first.ExpectedMiningTime)
}

// TotalDuration is the length of a whole round:
// N normal slots plus one extra block slot.
func TotalDuration(r dpround.Round) time.Duration {
	return MiningInterval(r) * time.Duration(r.MinerCount()+1)
}

// RoundStartTime is the expected mining time of the miner with order 1.
func RoundStartTime(r dpround.Round) time.Time {
	return r.StartTime()
}

// ExpectedEndTime returns when r is expected to end,
// or when the round roundsAhead rounds after r is expected to end,
// assuming every following round keeps the same layout.
func ExpectedEndTime(r dpround.Round, roundsAhead int) time.Time {
	return RoundStartTime(r).Add(TotalDuration(r) * time.Duration(roundsAhead+1))
}

// IsTimeSlotPassed reports whether minerID's whole slot window,
// from its expected mining time to one interval later, has elapsed at now.
// Once true it stays true for any later time; it never resets.
//
// The returned slot is a copy of minerID's slot in r.
func IsTimeSlotPassed(r dpround.Round, minerID string, now time.Time) (bool, dpround.MinerSlot, error) {
	s, ok := r.Miner(minerID)
	if !ok {
		return false, s, dpround.UnknownMinerError{MinerID: minerID, RoundNumber: r.Number()}
	}

	return now.After(s.ExpectedMiningTime.Add(MiningInterval(r))), s, nil
}

// ArrangeAbnormalMiningTime returns when minerID may mine again after missing its slot.
//
// If the slot has not passed at now, it returns [Never].
// Otherwise the miner is placed after the end of the round that contains now,
// offset by its order, so that the returned time is always after now.
func ArrangeAbnormalMiningTime(r dpround.Round, minerID string, now time.Time) (time.Time, error) {
	passed, s, err := IsTimeSlotPassed(r, minerID, now)
	if err != nil {
		return time.Time{}, err
	}
	if !passed {
		return Never, nil
	}

	return abnormalMiningTime(r, s, now), nil
}

func abnormalMiningTime(r dpround.Round, s dpround.MinerSlot, now time.Time) time.Time {
	missedRounds := 0
	if d := now.Sub(RoundStartTime(r)); d > 0 {
		missedRounds = int(d / TotalDuration(r))
	}
	return ExpectedEndTime(r, missedRounds).Add(MiningInterval(r) * time.Duration(s.Order))
}

// RecoverySlotCollisionError is returned by [VerifyRecoverySlot]
// when a recovery time overlaps another miner's slot in a later round.
type RecoverySlotCollisionError struct {
	MinerID      string
	OtherMinerID string
	RoundNumber  uint64
	At           time.Time
}

func (e RecoverySlotCollisionError) Error() string {
	return fmt.Sprintf(
		"recovery time %s for miner %q overlaps slot of miner %q in round %d",
		e.At.Format(time.RFC3339Nano), e.MinerID, e.OtherMinerID, e.RoundNumber,
	)
}

// VerifyRecoverySlot checks that the recovery time t for minerID
// does not fall in the slot of a different miner in next,
// including the extra block slot.
func VerifyRecoverySlot(next dpround.Round, minerID string, t time.Time) error {
	interval := MiningInterval(next)
	within := func(start time.Time) bool {
		return !t.Before(start) && t.Before(start.Add(interval))
	}

	for _, s := range next.Slots() {
		if s.ID == minerID {
			continue
		}
		if within(s.ExpectedMiningTime) {
			return RecoverySlotCollisionError{
				MinerID: minerID, OtherMinerID: s.ID, RoundNumber: next.Number(), At: t,
			}
		}
	}

	if ebp := next.ExtraBlockProducer(); ebp.ID != minerID && within(next.ExtraBlockMiningTime()) {
		return RecoverySlotCollisionError{
			MinerID: minerID, OtherMinerID: ebp.ID, RoundNumber: next.Number(), At: t,
		}
	}

	return nil
}

// VerifyExtraBlockProducer checks that minerID may seal r at actual.
// The flagged extra block producer may seal at any time.
// Every other miner is a backup and may only seal from its staggered
// backup time, the same time [Policy.Command] arranges for it.
func VerifyExtraBlockProducer(r dpround.Round, minerID string, actual time.Time) error {
	s, ok := r.Miner(minerID)
	if !ok {
		return dpround.UnknownMinerError{MinerID: minerID, RoundNumber: r.Number()}
	}
	if s.IsExtraBlockProducer {
		return nil
	}

	backup := abnormalMiningTime(r, s, r.ExtraBlockMiningTime())
	if actual.Before(backup) {
		return dpround.RoundTransitionPreconditionError{
			RoundNumber: r.Number(),
			Reason: fmt.Sprintf(
				"miner %q is not the extra block producer and may not seal before %s",
				minerID, backup.Format(time.RFC3339Nano),
			),
		}
	}
	return nil
}
