package dpround_test

import (
	"testing"
	"time"

	"github.com/gordian-engine/gdpos/dpos/dpround"
	"github.com/gordian-engine/gdpos/dpos/dproundtest"
	"github.com/stretchr/testify/require"
)

func TestGenerateFirstRound(t *testing.T) {
	t.Parallel()

	fx := dproundtest.NewFixture(17)
	r := fx.FirstRound()

	require.Equal(t, uint64(1), r.Number())
	require.Equal(t, uint64(1), r.TermNumber())
	require.Equal(t, 17, r.MinerCount())

	s0, ok := r.Miner(fx.MinerIDs[0])
	require.True(t, ok)
	require.Equal(t, 1, s0.Order)
	require.True(t, s0.ExpectedMiningTime.Equal(dproundtest.T0))

	s5, ok := r.Miner(fx.MinerIDs[5])
	require.True(t, ok)
	require.Equal(t, 6, s5.Order)
	require.True(t, s5.ExpectedMiningTime.Equal(dproundtest.T0.Add(20000*time.Millisecond)))

	require.NoError(t, dpround.Validate(r))
	require.Equal(t, fx.MinerIDs, r.MinerIDs())
}

func TestGenerateFirstRound_deterministic(t *testing.T) {
	t.Parallel()

	fx := dproundtest.NewFixture(7)
	a := fx.FirstRound()
	b := fx.FirstRound()

	require.Equal(t, a.ID(), b.ID())
	require.Equal(t, a.ExtraBlockProducer().ID, b.ExtraBlockProducer().ID)

	// A different start time produces a different ID.
	fx.Start = fx.Start.Add(time.Second)
	c := fx.FirstRound()
	require.NotEqual(t, a.ID(), c.ID())
}

func TestRound_orderAndExtraBlockProducerInvariants(t *testing.T) {
	t.Parallel()

	for n := 1; n <= 23; n++ {
		fx := dproundtest.NewFixture(n)
		fx.Start = fx.Start.Add(time.Duration(n) * time.Hour)
		r := fx.FirstRound()

		seen := make(map[int]bool, n)
		ebps := 0
		for _, s := range r.Slots() {
			require.GreaterOrEqual(t, s.Order, 1)
			require.LessOrEqual(t, s.Order, n)
			require.False(t, seen[s.Order], "duplicate order %d", s.Order)
			seen[s.Order] = true
			if s.IsExtraBlockProducer {
				ebps++
			}
		}
		require.Len(t, seen, n)
		require.Equal(t, 1, ebps)
	}
}

func TestGenerateFirstRound_invalidInput(t *testing.T) {
	t.Parallel()

	var ioe dpround.InvalidOrderingError

	_, err := dpround.GenerateFirstRound(nil, time.Second, dproundtest.T0)
	require.ErrorAs(t, err, &ioe)

	_, err = dpround.GenerateFirstRound([]string{"a", "b", "a"}, time.Second, dproundtest.T0)
	require.ErrorAs(t, err, &ioe)
	require.Contains(t, ioe.Reason, "duplicate")

	_, err = dpround.GenerateFirstRound([]string{"a", "b"}, 0, dproundtest.T0)
	require.ErrorAs(t, err, &ioe)

	require.True(t, dpround.IsConsensusCritical(err))
}

func TestRound_timeAccessors(t *testing.T) {
	t.Parallel()

	fx := dproundtest.NewFixture(4)
	r := fx.FirstRound()

	require.True(t, r.StartTime().Equal(dproundtest.T0))
	require.True(t, r.ExtraBlockMiningTime().Equal(dproundtest.T0.Add(4*fx.Interval)))
	require.Equal(t, fx.Interval, r.MiningInterval())
}

func TestRound_minerAccessorsReturnCopies(t *testing.T) {
	t.Parallel()

	fx := dproundtest.NewFixture(3)
	r := fx.ProduceAll(dpround.Round{}, fx.FirstRound())

	s, ok := r.Miner(fx.MinerIDs[0])
	require.True(t, ok)
	s.Signature[0] ^= 0xff
	s.ActualMiningTimes[0] = time.Time{}

	again, _ := r.Miner(fx.MinerIDs[0])
	require.NotEqual(t, s.Signature, again.Signature)
	require.False(t, again.ActualMiningTimes[0].IsZero())
}

func TestSnapshotRestore(t *testing.T) {
	t.Parallel()

	fx := dproundtest.NewFixture(5)
	r := fx.ProduceAll(dpround.Round{}, fx.FirstRound())

	restored, err := dpround.Restore(r.Snapshot())
	require.NoError(t, err)
	require.Equal(t, r.ID(), restored.ID())
	require.Equal(t, r.Slots(), restored.Slots())

	t.Run("tampered ID", func(t *testing.T) {
		snap := r.Snapshot()
		snap.ID = "00"
		_, err := dpround.Restore(snap)
		var ioe dpround.InvalidOrderingError
		require.ErrorAs(t, err, &ioe)
	})

	t.Run("two extra block producers", func(t *testing.T) {
		snap := r.Snapshot()
		for i := range snap.Slots {
			snap.Slots[i].IsExtraBlockProducer = true
		}
		_, err := dpround.Restore(snap)
		var ioe dpround.InvalidOrderingError
		require.ErrorAs(t, err, &ioe)
	})

	t.Run("empty miner ID", func(t *testing.T) {
		snap := r.Snapshot()
		snap.Slots[1].ID = ""
		snap.ID = ""
		_, err := dpround.Restore(snap)
		var ioe dpround.InvalidOrderingError
		require.ErrorAs(t, err, &ioe)
	})

	t.Run("shuffled times", func(t *testing.T) {
		snap := r.Snapshot()
		snap.Slots[0].ExpectedMiningTime, snap.Slots[1].ExpectedMiningTime =
			snap.Slots[1].ExpectedMiningTime, snap.Slots[0].ExpectedMiningTime
		snap.ID = ""
		_, err := dpround.Restore(snap)
		var ioe dpround.InvalidOrderingError
		require.ErrorAs(t, err, &ioe)
	})
}

func TestAggregatedSignature(t *testing.T) {
	t.Parallel()

	fx := dproundtest.NewFixture(4)
	r := fx.FirstRound()
	require.Nil(t, dpround.AggregatedSignature(r, fx.Hash))

	r = fx.ProduceAll(dpround.Round{}, r)
	agg := dpround.AggregatedSignature(r, fx.Hash)
	require.Len(t, agg, 32)
	require.Equal(t, agg, dpround.AggregatedSignature(r, fx.Hash))
}

func TestHashFuncByName(t *testing.T) {
	t.Parallel()

	h, ok := dpround.HashFuncByName("blake3")
	require.True(t, ok)
	require.Len(t, h([]byte("x")), 32)
	require.NotEqual(t, dpround.SHA256([]byte("x")), h([]byte("x")))

	_, ok = dpround.HashFuncByName("md5")
	require.False(t, ok)
}
