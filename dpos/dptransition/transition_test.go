package dptransition_test

import (
	"slices"
	"testing"
	"time"

	"github.com/gordian-engine/gdpos/dpos/dpround"
	"github.com/gordian-engine/gdpos/dpos/dproundtest"
	"github.com/gordian-engine/gdpos/dpos/dpsched"
	"github.com/gordian-engine/gdpos/dpos/dptransition"
	"github.com/stretchr/testify/require"
)

func TestGenerateNextRound_precondition(t *testing.T) {
	t.Parallel()

	fx := dproundtest.NewFixture(5)
	r := fx.FirstRound()

	_, err := dptransition.GenerateNextRound(r, r.ExtraBlockMiningTime(), fx.Start, fx.Hash)
	var pe dpround.RoundTransitionPreconditionError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, uint64(1), pe.RoundNumber)
	require.True(t, dpround.IsRetryable(err))

	// Once the round has expired, an empty round may still be terminated.
	late := dpsched.ExpectedEndTime(r, 0).Add(time.Millisecond)
	next, err := dptransition.GenerateNextRound(r, late, fx.Start, fx.Hash)
	require.NoError(t, err)
	require.Equal(t, uint64(2), next.Number())

	// Every miner missed its slot.
	for _, s := range next.Slots() {
		require.Equal(t, uint64(1), s.MissedTimeSlots)
	}

	_, err = dptransition.GenerateNextRound(dpround.Round{}, late, fx.Start, fx.Hash)
	require.ErrorAs(t, err, &pe)
}

func TestGenerateNextRound(t *testing.T) {
	t.Parallel()

	fx := dproundtest.NewFixture(17)
	r := fx.ProduceAll(dpround.Round{}, fx.FirstRound())
	ebp := r.ExtraBlockProducer().ID
	terminate := r.ExtraBlockMiningTime().Add(10 * time.Millisecond)

	r, err := dpround.ApplyExtraBlockProduction(r, ebp, terminate)
	require.NoError(t, err)

	next, err := dptransition.GenerateNextRound(r, terminate, fx.Start, fx.Hash)
	require.NoError(t, err)

	require.Equal(t, uint64(2), next.Number())
	require.Equal(t, uint64(1), next.TermNumber())
	require.Equal(t, ebp, next.ExtraBlockProducerOfPreviousRound())
	require.True(t, next.StartTime().Equal(terminate.Add(fx.Interval)))
	require.Equal(t, terminate.Sub(fx.Start), next.BlockchainAge())
	require.NoError(t, dpround.Validate(next))
	require.NotEqual(t, r.ID(), next.ID())

	// Same miner set.
	require.Equal(t, r.SortedMinerIDs(), next.SortedMinerIDs())

	// Slots are fresh, counters are carried.
	for _, s := range next.Slots() {
		require.Nil(t, s.Commitment)
		require.Empty(t, s.ActualMiningTimes)
		require.Zero(t, s.MissedTimeSlots)

		prev, _ := r.Miner(s.ID)
		require.Equal(t, prev.ProducedBlocks, s.ProducedBlocks)
	}

	// Deterministic.
	again, err := dptransition.GenerateNextRound(r, terminate, fx.Start, fx.Hash)
	require.NoError(t, err)
	require.Equal(t, next.MinerIDs(), again.MinerIDs())
	require.Equal(t, next.ExtraBlockProducer().ID, again.ExtraBlockProducer().ID)

	// The extra block producer follows the aggregated signature.
	wantOrder := dpround.OrderFromSeed(dpround.AggregatedSignature(r, fx.Hash), 17)
	require.Equal(t, wantOrder, next.ExtraBlockProducer().Order)
}

func TestGenerateNextRound_signatureOrdering(t *testing.T) {
	t.Parallel()

	fx := dproundtest.NewFixture(7)
	r := fx.FirstRound()

	// Only two miners produce.
	a, b := fx.MinerIDs[3], fx.MinerIDs[5]
	r = fx.ProduceInSlot(dpround.Round{}, r, a, 0)
	r = fx.ProduceInSlot(dpround.Round{}, r, b, 0)

	next, err := dptransition.GenerateNextRound(r, r.ExtraBlockMiningTime(), fx.Start, fx.Hash)
	require.NoError(t, err)

	sa, _ := r.Miner(a)
	na, _ := next.Miner(a)
	require.Equal(t, dpround.OrderFromSeed(sa.Signature, 7), na.Order)

	// The miners who did not produce keep their relative sequence.
	var missed []string
	for _, id := range next.MinerIDs() {
		if id != a && id != b {
			missed = append(missed, id)
		}
	}
	var wantMissed []string
	for _, id := range fx.MinerIDs {
		if id != a && id != b {
			wantMissed = append(wantMissed, id)
		}
	}
	require.Equal(t, wantMissed, missed)

	for _, id := range missed {
		s, _ := next.Miner(id)
		require.Equal(t, uint64(1), s.MissedTimeSlots)
	}
}

func TestGenerateNextRound_permutationProperty(t *testing.T) {
	t.Parallel()

	for n := 1; n <= 21; n += 2 {
		fx := dproundtest.NewFixture(n)
		prev := dpround.Round{}
		cur := fx.FirstRound()

		for range 4 {
			cur = fx.ProduceAll(prev, cur)
			next, err := dptransition.GenerateNextRound(cur, cur.ExtraBlockMiningTime(), fx.Start, fx.Hash)
			require.NoError(t, err)

			orders := make([]int, 0, n)
			ebps := 0
			for _, s := range next.Slots() {
				orders = append(orders, s.Order)
				if s.IsExtraBlockProducer {
					ebps++
				}
			}
			slices.Sort(orders)
			for i, o := range orders {
				require.Equal(t, i+1, o)
			}
			require.Equal(t, 1, ebps)

			prev, cur = cur, next
		}
	}
}

func TestGenerateFirstRoundOfNewTerm(t *testing.T) {
	t.Parallel()

	fx := dproundtest.NewFixture(5)
	r, err := dptransition.GenerateFirstRoundOfNewTerm(fx.MinerIDs[1:], fx.Interval, fx.Start, 41, 2)
	require.NoError(t, err)

	require.Equal(t, uint64(42), r.Number())
	require.Equal(t, uint64(3), r.TermNumber())
	require.Equal(t, fx.MinerIDs[1:], r.MinerIDs())
	require.NoError(t, dpround.Validate(r))
}
