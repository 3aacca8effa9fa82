// Package dpstoretest contains compliance tests for [dpstore.RoundStore] implementations.
package dpstoretest

import (
	"context"
	"testing"

	"github.com/gordian-engine/gdpos/dpos/dpround"
	"github.com/gordian-engine/gdpos/dpos/dproundtest"
	"github.com/gordian-engine/gdpos/dpos/dpstore"
	"github.com/gordian-engine/gdpos/dpos/dptransition"
	"github.com/stretchr/testify/require"
)

// RoundStoreFactory returns a new, empty store for one subtest.
// Cleanup should be registered on t.
type RoundStoreFactory func(t *testing.T) dpstore.RoundStore

// TestRoundStoreCompliance is the compliance test for [dpstore.RoundStore].
func TestRoundStoreCompliance(t *testing.T, f RoundStoreFactory) {
	t.Helper()

	t.Run("empty store", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		s := f(t)

		_, err := s.LoadRound(ctx, 1)
		require.ErrorIs(t, err, dpstore.ErrRoundNotFound)

		_, err = s.LoadRoundByID(ctx, "missing")
		require.ErrorIs(t, err, dpstore.ErrRoundNotFound)

		_, err = s.LatestRound(ctx)
		require.ErrorIs(t, err, dpstore.ErrRoundNotFound)

		rs, err := s.LoadRounds(ctx, 1, 10)
		require.NoError(t, err)
		require.Empty(t, rs)

		require.Error(t, s.SaveRound(ctx, dpround.Round{}))
	})

	t.Run("save and load", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		s := f(t)

		rounds := sequence(t, 4)
		for _, r := range rounds {
			require.NoError(t, s.SaveRound(ctx, r))
		}

		for _, want := range rounds {
			got, err := s.LoadRound(ctx, want.Number())
			require.NoError(t, err)
			require.Equal(t, want.Snapshot(), got.Snapshot())

			got, err = s.LoadRoundByID(ctx, want.ID())
			require.NoError(t, err)
			require.Equal(t, want.Number(), got.Number())
		}

		latest, err := s.LatestRound(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(4), latest.Number())

		rs, err := s.LoadRounds(ctx, 2, 3)
		require.NoError(t, err)
		require.Len(t, rs, 2)
		require.Equal(t, uint64(2), rs[0].Number())
		require.Equal(t, uint64(3), rs[1].Number())

		rs, err = s.LoadRounds(ctx, 3, 100)
		require.NoError(t, err)
		require.Len(t, rs, 2)

		rs, err = s.LoadRounds(ctx, 3, 2)
		require.NoError(t, err)
		require.Empty(t, rs)
	})

	t.Run("later versions overwrite", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		s := f(t)

		fx := dproundtest.NewFixture(3)
		r := fx.FirstRound()
		require.NoError(t, s.SaveRound(ctx, r))

		filled := fx.ProduceAll(dpround.Round{}, r)
		require.NoError(t, s.SaveRound(ctx, filled))

		got, err := s.LoadRound(ctx, 1)
		require.NoError(t, err)
		require.Equal(t, filled.Snapshot(), got.Snapshot())

		got, err = s.LoadRoundByID(ctx, r.ID())
		require.NoError(t, err)
		require.Equal(t, filled.Snapshot(), got.Snapshot())
	})

	t.Run("replacing a round drops its old ID", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		s := f(t)

		fx := dproundtest.NewFixture(3)
		a := fx.FirstRound()
		b, err := dpround.GenerateFirstRound(fx.MinerIDs, fx.Interval, fx.Start.Add(fx.Interval))
		require.NoError(t, err)
		require.NotEqual(t, a.ID(), b.ID())

		require.NoError(t, s.SaveRound(ctx, a))
		require.NoError(t, s.SaveRound(ctx, b))

		_, err = s.LoadRoundByID(ctx, a.ID())
		require.ErrorIs(t, err, dpstore.ErrRoundNotFound)

		got, err := s.LoadRoundByID(ctx, b.ID())
		require.NoError(t, err)
		require.Equal(t, b.ID(), got.ID())
	})
}

// sequence returns n consecutive rounds, each fully produced.
func sequence(t *testing.T, n int) []dpround.Round {
	t.Helper()

	fx := dproundtest.NewFixture(5)
	out := make([]dpround.Round, 0, n)

	prev, cur := dpround.Round{}, fx.FirstRound()
	for range n {
		cur = fx.ProduceAll(prev, cur)
		out = append(out, cur)

		next, err := dptransition.GenerateNextRound(cur, cur.ExtraBlockMiningTime(), fx.Start, fx.Hash)
		require.NoError(t, err)
		prev, cur = cur, next
	}
	return out
}
