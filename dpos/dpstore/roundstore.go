// Package dpstore declares the storage collaborator for rounds.
//
// The consensus core never reads or writes storage itself;
// the engine persists every round it produces or accepts through a [RoundStore].
package dpstore

import (
	"context"
	"errors"

	"github.com/gordian-engine/gdpos/dpos/dpround"
)

// ErrRoundNotFound is returned by [RoundStore] load methods
// when no round matches.
var ErrRoundNotFound = errors.New("round not found")

// RoundStore persists round snapshots keyed by round number and round ID.
type RoundStore interface {
	// SaveRound stores r, replacing any round with the same number.
	// Later versions of a round overwrite earlier ones,
	// as blocks fill in the round's slots.
	SaveRound(ctx context.Context, r dpround.Round) error

	LoadRound(ctx context.Context, number uint64) (dpround.Round, error)
	LoadRoundByID(ctx context.Context, id string) (dpround.Round, error)

	// LatestRound returns the round with the highest number.
	LatestRound(ctx context.Context) (dpround.Round, error)

	// LoadRounds returns the stored rounds numbered in [from, to], ascending.
	// Missing rounds are skipped.
	LoadRounds(ctx context.Context, from, to uint64) ([]dpround.Round, error)
}
