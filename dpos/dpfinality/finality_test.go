package dpfinality_test

import (
	"testing"
	"time"

	"github.com/gordian-engine/gdpos/dpos/dpfinality"
	"github.com/gordian-engine/gdpos/dpos/dpround"
	"github.com/gordian-engine/gdpos/dpos/dproundtest"
	"github.com/gordian-engine/gdpos/dpos/dptransition"
	"github.com/stretchr/testify/require"
)

func TestMinimumCount(t *testing.T) {
	t.Parallel()

	require.Equal(t, 1, dpfinality.MinimumCount(1))
	require.Equal(t, 3, dpfinality.MinimumCount(3))
	require.Equal(t, 12, dpfinality.MinimumCount(17))
	require.Equal(t, 15, dpfinality.MinimumCount(21))
}

func TestTracker_streak(t *testing.T) {
	t.Parallel()

	var tr dpfinality.Tracker
	require.Zero(t, tr.Offset())

	for i := range 11 {
		tr = tr.Observe(dpfinality.Block{RoundNumber: 1, MinerCount: 17, ProducerIndex: i})
		require.Zero(t, tr.Offset())
	}

	// Repeated producers do not extend the streak.
	before := tr
	tr = tr.Observe(dpfinality.Block{RoundNumber: 1, MinerCount: 17, ProducerIndex: 3})
	require.Zero(t, tr.Offset())
	require.Equal(t, 11, tr.ProducerCount())

	tr = tr.Observe(dpfinality.Block{RoundNumber: 1, MinerCount: 17, ProducerIndex: 11})
	require.Equal(t, 12, tr.Offset())

	// Observe does not modify the receiver.
	require.Equal(t, 11, before.ProducerCount())
	require.Zero(t, before.Offset())

	// The offset survives a boundary after a sufficient round.
	for i := range 5 {
		tr = tr.Observe(dpfinality.Block{RoundNumber: 2, MinerCount: 17, ProducerIndex: i})
		require.Equal(t, 12, tr.Offset())
	}

	// Crossing a boundary with only five producers resets it.
	tr = tr.Observe(dpfinality.Block{RoundNumber: 3, MinerCount: 17, ProducerIndex: 0})
	require.Zero(t, tr.Offset())
	require.Equal(t, uint64(3), tr.RoundNumber())
}

func TestTracker_edgeCases(t *testing.T) {
	t.Parallel()

	var tr dpfinality.Tracker
	for i := range 3 {
		tr = tr.Observe(dpfinality.Block{RoundNumber: 4, MinerCount: 3, ProducerIndex: i})
	}
	require.Equal(t, 3, tr.Offset())

	t.Run("stale round", func(t *testing.T) {
		got := tr.Observe(dpfinality.Block{RoundNumber: 2, MinerCount: 3, ProducerIndex: 0})
		require.Equal(t, tr, got)
	})

	t.Run("invalid index", func(t *testing.T) {
		got := tr.Observe(dpfinality.Block{RoundNumber: 4, MinerCount: 3, ProducerIndex: 3})
		require.Equal(t, tr, got)
	})

	t.Run("skipped round", func(t *testing.T) {
		got := tr.Observe(dpfinality.Block{RoundNumber: 6, MinerCount: 3, ProducerIndex: 0})
		require.Zero(t, got.Offset())
	})

	t.Run("single miner", func(t *testing.T) {
		var solo dpfinality.Tracker
		solo = solo.Observe(dpfinality.Block{RoundNumber: 1, MinerCount: 1, ProducerIndex: 0})
		require.Equal(t, 1, solo.Offset())
	})
}

func TestLIBOffset(t *testing.T) {
	t.Parallel()

	require.Zero(t, dpfinality.LIBOffset(nil))

	fx := dproundtest.NewFixture(17)
	r1 := fx.FirstRound()
	require.Zero(t, dpfinality.LIBOffset([]dpround.Round{r1}))

	ids := r1.MinerIDs()
	for _, id := range ids[:11] {
		r1 = fx.ProduceInSlot(dpround.Round{}, r1, id, time.Millisecond)
	}
	require.Zero(t, dpfinality.LIBOffset([]dpround.Round{r1}))

	r1 = fx.ProduceInSlot(dpround.Round{}, r1, ids[11], time.Millisecond)
	require.Equal(t, 12, dpfinality.LIBOffset([]dpround.Round{r1}))

	terminate := r1.ExtraBlockMiningTime()
	r2, err := dptransition.GenerateNextRound(r1, terminate, fx.Start, fx.Hash)
	require.NoError(t, err)
	for _, id := range r2.MinerIDs()[:5] {
		r2 = fx.ProduceInSlot(r1, r2, id, time.Millisecond)
	}

	// History order does not matter.
	require.Equal(t, 12, dpfinality.LIBOffset([]dpround.Round{r2, r1}))

	r3, err := dptransition.GenerateNextRound(r2, r2.ExtraBlockMiningTime(), fx.Start, fx.Hash)
	require.NoError(t, err)
	r3 = fx.ProduceInSlot(r2, r3, r3.MinerIDs()[0], time.Millisecond)
	require.Zero(t, dpfinality.LIBOffset([]dpround.Round{r1, r2, r3}))
}

func TestLIBOffset_neverExceedsMinimum(t *testing.T) {
	t.Parallel()

	for _, n := range []int{1, 2, 3, 4, 7, 17, 21} {
		fx := dproundtest.NewFixture(n)
		var history []dpround.Round
		prev, cur := dpround.Round{}, fx.FirstRound()
		for range 3 {
			cur = fx.ProduceAll(prev, cur)
			history = append(history, cur)

			off := dpfinality.LIBOffset(history)
			require.Equal(t, dpfinality.MinimumCount(n), off)

			next, err := dptransition.GenerateNextRound(cur, cur.ExtraBlockMiningTime(), fx.Start, fx.Hash)
			require.NoError(t, err)
			prev, cur = cur, next
		}
	}
}

func TestBlocksOf(t *testing.T) {
	t.Parallel()

	fx := dproundtest.NewFixture(4)
	r := fx.ProduceAll(dpround.Round{}, fx.FirstRound())

	blocks := dpfinality.BlocksOf(r)
	require.Len(t, blocks, 4)

	sorted := r.SortedMinerIDs()
	for i, id := range r.MinerIDs() {
		require.Equal(t, id, sorted[blocks[i].ProducerIndex])
		require.Equal(t, 4, blocks[i].MinerCount)
		require.Equal(t, uint64(1), blocks[i].RoundNumber)
	}
}
