package dpsched_test

import (
	"testing"
	"time"

	"github.com/gordian-engine/gdpos/dpos/dpround"
	"github.com/gordian-engine/gdpos/dpos/dproundtest"
	"github.com/gordian-engine/gdpos/dpos/dpsched"
	"github.com/stretchr/testify/require"
)

// nonExtraMiner returns the lowest-order miner that is not the extra block producer.
func nonExtraMiner(r dpround.Round) dpround.MinerSlot {
	for _, s := range r.Slots() {
		if !s.IsExtraBlockProducer {
			return s
		}
	}
	panic("BUG: no regular miner")
}

func TestConsensusCommand_beforeAndDuringSlot(t *testing.T) {
	t.Parallel()

	fx := dproundtest.NewFixture(5)
	r := fx.FirstRound()
	s := nonExtraMiner(r)

	cmd, err := dpsched.ConsensusCommand(r, s.ID, s.ExpectedMiningTime.Add(-1500*time.Millisecond))
	require.NoError(t, err)
	require.Equal(t, dpsched.ProduceNormalBlock, cmd.Behaviour)
	require.Equal(t, 1500*time.Millisecond, cmd.Wait)
	require.True(t, cmd.ArrangedTime.Equal(s.ExpectedMiningTime))

	cmd, err = dpsched.ConsensusCommand(r, s.ID, s.ExpectedMiningTime.Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, dpsched.ProduceNormalBlock, cmd.Behaviour)
	require.Zero(t, cmd.Wait)
}

func TestConsensusCommand_missedSlot(t *testing.T) {
	t.Parallel()

	fx := dproundtest.NewFixture(5)
	r := fx.FirstRound()
	s := nonExtraMiner(r)

	now := s.ExpectedMiningTime.Add(2 * fx.Interval)
	cmd, err := dpsched.ConsensusCommand(r, s.ID, now)
	require.NoError(t, err)
	require.Equal(t, dpsched.RecoverMissedSlot, cmd.Behaviour)

	want, err := dpsched.ArrangeAbnormalMiningTime(r, s.ID, now)
	require.NoError(t, err)
	require.True(t, cmd.ArrangedTime.Equal(want))
	require.Equal(t, want.Sub(now), cmd.Wait)
}

func TestConsensusCommand_afterProducing(t *testing.T) {
	t.Parallel()

	fx := dproundtest.NewFixture(5)
	r := fx.ProduceAll(dpround.Round{}, fx.FirstRound())
	now := r.StartTime().Add(5 * fx.Interval / 2)

	ebp := r.ExtraBlockProducer()
	cmd, err := dpsched.ConsensusCommand(r, ebp.ID, now)
	require.NoError(t, err)
	require.Equal(t, dpsched.ProduceExtraBlock, cmd.Behaviour)
	require.True(t, cmd.ArrangedTime.Equal(r.ExtraBlockMiningTime()))

	// Backups are scheduled after the extra block slot, staggered by order.
	var backups []time.Time
	for _, s := range r.Slots() {
		if s.IsExtraBlockProducer {
			continue
		}
		cmd, err := dpsched.ConsensusCommand(r, s.ID, now)
		require.NoError(t, err)
		require.Equal(t, dpsched.ProduceExtraBlock, cmd.Behaviour)
		require.True(t, cmd.ArrangedTime.After(r.ExtraBlockMiningTime().Add(fx.Interval)))
		backups = append(backups, cmd.ArrangedTime)
	}
	for i := 1; i < len(backups); i++ {
		require.True(t, backups[i].After(backups[i-1]))
	}

	t.Run("sealed round", func(t *testing.T) {
		sealed, err := dpround.ApplyExtraBlockProduction(r, ebp.ID, r.ExtraBlockMiningTime())
		require.NoError(t, err)

		cmd, err := dpsched.ConsensusCommand(sealed, ebp.ID, now)
		require.NoError(t, err)
		require.Equal(t, dpsched.Nothing, cmd.Behaviour)
		require.Equal(t, dpsched.Never, cmd.ArrangedTime)
	})
}

func TestConsensusCommand_extraBlockProducerMissedOwnSlot(t *testing.T) {
	t.Parallel()

	fx := dproundtest.NewFixture(5)
	r := fx.FirstRound()
	ebp := r.ExtraBlockProducer()

	cmd, err := dpsched.ConsensusCommand(r, ebp.ID, r.ExtraBlockMiningTime().Add(-time.Millisecond))
	require.NoError(t, err)
	if ebp.Order == r.MinerCount() {
		// The last miner's slot ends exactly where the extra block slot starts.
		require.Equal(t, dpsched.ProduceNormalBlock, cmd.Behaviour)
	} else {
		require.Equal(t, dpsched.ProduceExtraBlock, cmd.Behaviour)
		require.True(t, cmd.ArrangedTime.Equal(r.ExtraBlockMiningTime()))
	}
}

func TestPolicy_tinyBlocks(t *testing.T) {
	t.Parallel()

	fx := dproundtest.NewFixture(5)
	r := fx.FirstRound()
	s := nonExtraMiner(r)
	r = fx.ProduceInSlot(dpround.Round{}, r, s.ID, 0)

	p := dpsched.Policy{MaxTinyBlocks: 3}
	cmd, err := p.Command(r, s.ID, s.ExpectedMiningTime)
	require.NoError(t, err)
	require.Equal(t, dpsched.ProduceTinyBlock, cmd.Behaviour)
	require.True(t, cmd.ArrangedTime.Equal(s.ExpectedMiningTime.Add(fx.Interval/4)))

	for i := 1; i <= 3; i++ {
		var err error
		r, err = dpround.ApplyTinyBlock(r, s.ID, s.ExpectedMiningTime.Add(time.Duration(i)*fx.Interval/4))
		require.NoError(t, err)
	}

	cmd, err = p.Command(r, s.ID, s.ExpectedMiningTime.Add(3*fx.Interval/4))
	require.NoError(t, err)
	require.Equal(t, dpsched.ProduceExtraBlock, cmd.Behaviour)
}

func TestBehaviour_String(t *testing.T) {
	t.Parallel()

	require.Equal(t, "RecoverMissedSlot", dpsched.RecoverMissedSlot.String())
	require.Equal(t, "Unknown", dpsched.Behaviour(200).String())
}
