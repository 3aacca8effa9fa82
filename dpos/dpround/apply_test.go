package dpround_test

import (
	"testing"
	"time"

	"github.com/gordian-engine/gdpos/dpos/dpround"
	"github.com/gordian-engine/gdpos/dpos/dproundtest"
	"github.com/stretchr/testify/require"
)

func TestApplyNormalConsensusData(t *testing.T) {
	t.Parallel()

	fx := dproundtest.NewFixture(4)
	r := fx.FirstRound()
	id := fx.MinerIDs[1]

	out := fx.OutValue(id, 1)
	sig := []byte("signature")
	at := dproundtest.T0.Add(fx.Interval + time.Millisecond)

	updated, err := dpround.ApplyNormalConsensusData(r, id, nil, out, sig, at)
	require.NoError(t, err)

	s, ok := updated.Miner(id)
	require.True(t, ok)
	require.Equal(t, dpround.PhaseCommitted, dpround.PhaseOf(s.Commitment))
	require.Equal(t, out, s.Commitment.OutValue())
	require.Equal(t, sig, s.Signature)
	require.Equal(t, uint64(1), s.ProducedBlocks)
	actual, ok := s.ActualMiningTime()
	require.True(t, ok)
	require.True(t, actual.Equal(at))

	// The input round is untouched and the ID is stable.
	orig, _ := r.Miner(id)
	require.Nil(t, orig.Commitment)
	require.Empty(t, orig.ActualMiningTimes)
	require.Equal(t, r.ID(), updated.ID())

	t.Run("identical values are a no-op", func(t *testing.T) {
		again, err := dpround.ApplyNormalConsensusData(updated, id, nil, out, sig, at)
		require.NoError(t, err)
		require.Equal(t, updated.Slots(), again.Slots())
	})

	t.Run("conflicting values", func(t *testing.T) {
		var ce dpround.ConflictingConsensusDataError

		_, err := dpround.ApplyNormalConsensusData(updated, id, nil, []byte("other"), sig, at)
		require.ErrorAs(t, err, &ce)
		require.Equal(t, "out value", ce.Field)
		require.Equal(t, id, ce.MinerID)

		_, err = dpround.ApplyNormalConsensusData(updated, id, nil, out, sig, at.Add(time.Millisecond))
		require.ErrorAs(t, err, &ce)
		require.Equal(t, "actual mining time", ce.Field)
	})

	t.Run("unknown miner", func(t *testing.T) {
		_, err := dpround.ApplyNormalConsensusData(r, "nobody", nil, out, sig, at)
		var ue dpround.UnknownMinerError
		require.ErrorAs(t, err, &ue)
		require.Equal(t, "nobody", ue.MinerID)
		require.Equal(t, uint64(1), ue.RoundNumber)
	})
}

func TestApplyNormalConsensusData_commutativeAcrossMiners(t *testing.T) {
	t.Parallel()

	fx := dproundtest.NewFixture(3)
	r := fx.FirstRound()
	a, b := fx.MinerIDs[0], fx.MinerIDs[2]

	ab := fx.ProduceInSlot(dpround.Round{}, fx.ProduceInSlot(dpround.Round{}, r, a, 0), b, 0)
	ba := fx.ProduceInSlot(dpround.Round{}, fx.ProduceInSlot(dpround.Round{}, r, b, 0), a, 0)

	require.Equal(t, ab.Slots(), ba.Slots())
}

func TestApplyTinyBlock(t *testing.T) {
	t.Parallel()

	fx := dproundtest.NewFixture(3)
	r := fx.FirstRound()
	id := fx.MinerIDs[0]

	_, err := dpround.ApplyTinyBlock(r, id, dproundtest.T0)
	require.Error(t, err)

	r = fx.ProduceInSlot(dpround.Round{}, r, id, 0)
	r, err = dpround.ApplyTinyBlock(r, id, dproundtest.T0.Add(500*time.Millisecond))
	require.NoError(t, err)

	s, _ := r.Miner(id)
	require.Len(t, s.ActualMiningTimes, 2)
	require.Equal(t, uint64(2), s.ProducedBlocks)

	_, err = dpround.ApplyTinyBlock(r, id, dproundtest.T0.Add(100*time.Millisecond))
	var ce dpround.ConflictingConsensusDataError
	require.ErrorAs(t, err, &ce)
}

func TestApplyExtraBlockProduction(t *testing.T) {
	t.Parallel()

	fx := dproundtest.NewFixture(3)
	r := fx.ProduceAll(dpround.Round{}, fx.FirstRound())
	ebp := r.ExtraBlockProducer().ID
	at := r.ExtraBlockMiningTime()

	sealed, err := dpround.ApplyExtraBlockProduction(r, ebp, at)
	require.NoError(t, err)

	by, when, ok := sealed.ExtraBlock()
	require.True(t, ok)
	require.Equal(t, ebp, by)
	require.True(t, when.Equal(at))

	_, _, ok = r.ExtraBlock()
	require.False(t, ok)

	again, err := dpround.ApplyExtraBlockProduction(sealed, ebp, at)
	require.NoError(t, err)
	require.Equal(t, sealed.Slots(), again.Slots())

	_, err = dpround.ApplyExtraBlockProduction(sealed, ebp, at.Add(time.Second))
	var ce dpround.ConflictingConsensusDataError
	require.ErrorAs(t, err, &ce)
}

func TestCommitmentLifecycle(t *testing.T) {
	t.Parallel()

	fx := dproundtest.NewFixture(4)
	r := fx.FirstRound()
	owner := fx.MinerIDs[0]
	in := fx.InValue(owner, 1)

	t.Run("no commitment", func(t *testing.T) {
		_, err := dpround.ApplyReveal(r, owner, in, fx.Hash)
		require.Error(t, err)
	})

	r = fx.ProduceInSlot(dpround.Round{}, r, owner, 0)

	shares := map[string][]byte{
		fx.MinerIDs[1]: []byte("s1"),
		fx.MinerIDs[2]: []byte("s2"),
		fx.MinerIDs[3]: []byte("s3"),
	}

	t.Run("shares cannot include the owner", func(t *testing.T) {
		bad := map[string][]byte{owner: []byte("x")}
		_, err := dpround.ApplyEncryptedShares(r, owner, bad)
		require.Error(t, err)
	})

	distributed, err := dpround.ApplyEncryptedShares(r, owner, shares)
	require.NoError(t, err)
	s, _ := distributed.Miner(owner)
	require.Equal(t, dpround.PhaseSharesDistributed, dpround.PhaseOf(s.Commitment))
	require.Equal(t, shares, s.Commitment.(dpround.SharesDistributed).EncryptedShares)

	t.Run("distributing different shares conflicts", func(t *testing.T) {
		_, err := dpround.ApplyEncryptedShares(distributed, owner, map[string][]byte{fx.MinerIDs[1]: []byte("zz")})
		var ce dpround.ConflictingConsensusDataError
		require.ErrorAs(t, err, &ce)
	})

	t.Run("reveal", func(t *testing.T) {
		revealed, err := dpround.ApplyReveal(distributed, owner, in, fx.Hash)
		require.NoError(t, err)
		s, _ := revealed.Miner(owner)
		require.Equal(t, dpround.PhaseRevealed, dpround.PhaseOf(s.Commitment))
		got, ok := dpround.InValue(s.Commitment)
		require.True(t, ok)
		require.Equal(t, in, got)

		// A later reconstruction of the same secret is accepted.
		_, err = dpround.ApplyReconstruction(revealed, owner, in, fx.Hash)
		require.NoError(t, err)
	})

	t.Run("reveal of the wrong secret", func(t *testing.T) {
		_, err := dpround.ApplyReveal(distributed, owner, []byte("wrong"), fx.Hash)
		var ce dpround.ConflictingConsensusDataError
		require.ErrorAs(t, err, &ce)
	})

	t.Run("reconstruction", func(t *testing.T) {
		rec, err := dpround.ApplyReconstruction(distributed, owner, in, fx.Hash)
		require.NoError(t, err)
		s, _ := rec.Miner(owner)
		require.Equal(t, dpround.PhaseReconstructed, dpround.PhaseOf(s.Commitment))

		_, err = dpround.ApplyReconstruction(distributed, owner, []byte("wrong"), fx.Hash)
		var rm dpround.ReconstructionMismatchError
		require.ErrorAs(t, err, &rm)
		require.True(t, dpround.IsConsensusCritical(err))
	})
}

func TestApplyDecryptedShare(t *testing.T) {
	t.Parallel()

	fx := dproundtest.NewFixture(4)
	r := fx.FirstRound()
	owner, contributor := fx.MinerIDs[0], fx.MinerIDs[2]

	r, err := dpround.ApplyDecryptedShare(r, owner, contributor, []byte("share"))
	require.NoError(t, err)

	s, _ := r.Miner(owner)
	require.Equal(t, map[string][]byte{contributor: []byte("share")}, s.DecryptedShares)

	_, err = dpround.ApplyDecryptedShare(r, owner, contributor, []byte("share"))
	require.NoError(t, err)

	_, err = dpround.ApplyDecryptedShare(r, owner, contributor, []byte("other"))
	var ce dpround.ConflictingConsensusDataError
	require.ErrorAs(t, err, &ce)

	_, err = dpround.ApplyDecryptedShare(r, owner, owner, []byte("share"))
	require.Error(t, err)
}

func TestVerifyPreviousInValue(t *testing.T) {
	t.Parallel()

	fx := dproundtest.NewFixture(3)
	r1 := fx.ProduceAll(dpround.Round{}, fx.FirstRound())

	r2, err := dpround.GenerateFirstRoundOfTerm(fx.MinerIDs, fx.Interval, r1.ExtraBlockMiningTime().Add(fx.Interval), 2, 1)
	require.NoError(t, err)

	id := fx.MinerIDs[1]
	r2 = fx.ProduceInSlot(r1, r2, id, 0)
	require.NoError(t, dpround.VerifyPreviousInValue(r1, r2, id, fx.Hash))

	// Carrying somebody else's secret is detected.
	other := fx.MinerIDs[2]
	s, _ := r2.Miner(other)
	r2, err = dpround.ApplyNormalConsensusData(
		r2, other, fx.InValue(id, 1), fx.OutValue(other, 2), []byte("sig"), s.ExpectedMiningTime,
	)
	require.NoError(t, err)
	var ce dpround.ConflictingConsensusDataError
	require.ErrorAs(t, dpround.VerifyPreviousInValue(r1, r2, other, fx.Hash), &ce)
}
