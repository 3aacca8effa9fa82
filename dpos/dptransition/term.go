package dptransition

import (
	"time"

	"github.com/gordian-engine/gdpos/dpos/dpround"
)

// TermConfig defines how long a term lasts.
type TermConfig struct {
	// AgeUnit is the unit blockchain age is measured in, typically one day.
	AgeUnit time.Duration

	// TermLength is the number of AgeUnits in one term.
	TermLength uint64
}

// DefaultTermConfig returns a seven day term.
func DefaultTermConfig() TermConfig {
	return TermConfig{
		AgeUnit:    24 * time.Hour,
		TermLength: 7,
	}
}

// Period is the duration of a single term.
func (c TermConfig) Period() time.Duration {
	return c.AgeUnit * time.Duration(c.TermLength)
}

// IsTimeToChangeTerm reports whether a supermajority of the miners in cur
// last mined at a blockchain age past the end of cur's term.
//
// It performs no state change;
// switching the miner set is up to the caller.
func IsTimeToChangeTerm(cur dpround.Round, blockchainStart time.Time, cfg TermConfig) bool {
	period := cfg.Period()
	if period <= 0 || cur.IsZero() {
		return false
	}

	crossed := 0
	for _, s := range cur.Slots() {
		t, ok := s.LatestMiningTime()
		if !ok || t.Before(blockchainStart) {
			continue
		}
		termIdx := uint64(t.Sub(blockchainStart) / period)
		if termIdx >= cur.TermNumber() {
			crossed++
		}
	}

	return crossed >= dpround.SupermajorityCount(cur.MinerCount())
}
