package dproundtest

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/gordian-engine/gdpos/dpos/dpround"
	"github.com/gordian-engine/gdpos/gcrypto"
	"github.com/gordian-engine/gdpos/gcrypto/gcryptotest"
)

// DefaultInterval matches the mining interval commonly used in scenarios.
const DefaultInterval = 4000 * time.Millisecond

// T0 is an arbitrary fixed start time, so test output is stable.
var T0 = time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)

// Fixture holds deterministic miners and helpers
// to drive rounds through normal block production.
type Fixture struct {
	Signers  []gcrypto.Ed25519Signer
	MinerIDs []string

	Interval time.Duration
	Start    time.Time

	Hash dpround.HashFunc
}

// NewFixture returns a Fixture with n deterministic miners,
// [DefaultInterval], [T0], and SHA-256.
// Fields may be overridden before use.
func NewFixture(n int) *Fixture {
	signers := gcryptotest.DeterministicEd25519Signers(n)
	ids := make([]string, n)
	for i, s := range signers {
		ids[i] = gcrypto.MinerID(s.PubKey())
	}

	return &Fixture{
		Signers:  signers,
		MinerIDs: ids,

		Interval: DefaultInterval,
		Start:    T0,

		Hash: dpround.SHA256,
	}
}

// FirstRound generates round 1 from the fixture's miners.
// It panics on error, as the fixture inputs are always valid.
func (f *Fixture) FirstRound() dpround.Round {
	r, err := dpround.GenerateFirstRound(f.MinerIDs, f.Interval, f.Start)
	if err != nil {
		panic(fmt.Errorf("BUG: failed to generate first round: %w", err))
	}
	return r
}

// InValue returns the deterministic secret of minerID for the given round number.
func (f *Fixture) InValue(minerID string, roundNumber uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], roundNumber)
	return f.Hash(append([]byte(minerID), buf[:]...))
}

// OutValue returns the commitment to [Fixture.InValue].
func (f *Fixture) OutValue(minerID string, roundNumber uint64) []byte {
	return f.Hash(f.InValue(minerID, roundNumber))
}

// Produce applies minerID's normal block to cur at the given time,
// revealing its secret for prev when prev is not the zero Round.
func (f *Fixture) Produce(prev, cur dpround.Round, minerID string, at time.Time) (dpround.Round, error) {
	var prevIn, sig []byte
	if prev.IsZero() {
		sig = f.Hash(f.InValue(minerID, cur.Number()))
	} else {
		prevIn = f.InValue(minerID, prev.Number())
		sig = dpround.CalculateSignature(prev, prevIn, f.Hash)
	}

	return dpround.ApplyNormalConsensusData(
		cur, minerID, prevIn, f.OutValue(minerID, cur.Number()), sig, at,
	)
}

// ProduceInSlot is like [Fixture.Produce] at the miner's expected mining time
// plus offset. It panics on error.
func (f *Fixture) ProduceInSlot(prev, cur dpround.Round, minerID string, offset time.Duration) dpround.Round {
	s, ok := cur.Miner(minerID)
	if !ok {
		panic(fmt.Errorf("BUG: miner %q not in round %d", minerID, cur.Number()))
	}
	r, err := f.Produce(prev, cur, minerID, s.ExpectedMiningTime.Add(offset))
	if err != nil {
		panic(fmt.Errorf("BUG: failed to produce: %w", err))
	}
	return r
}

// ProduceAll has every miner in cur produce at its expected time, in order.
func (f *Fixture) ProduceAll(prev, cur dpround.Round) dpround.Round {
	for _, id := range cur.MinerIDs() {
		cur = f.ProduceInSlot(prev, cur, id, time.Millisecond)
	}
	return cur
}
