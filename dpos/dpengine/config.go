package dpengine

import (
	"context"
	"time"

	"github.com/gordian-engine/gdpos/dpos/dpround"
	"github.com/gordian-engine/gdpos/dpos/dpsecret"
	"github.com/gordian-engine/gdpos/dpos/dpstore"
	"github.com/gordian-engine/gdpos/dpos/dptransition"
	"github.com/gordian-engine/gdpos/gcrypto"
)

// Clock is the engine's source of wall-clock time.
type Clock interface {
	Now() time.Time
}

// SystemClock is a [Clock] backed by [time.Now].
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Elector chooses the miners of the next term when a term change is due.
type Elector interface {
	NextTermMiners(ctx context.Context, cur dpround.Round) ([]string, error)
}

// KeepMiners is an [Elector] that re-elects the current miners.
type KeepMiners struct{}

func (KeepMiners) NextTermMiners(_ context.Context, cur dpround.Round) ([]string, error) {
	return cur.MinerIDs(), nil
}

// Config holds the tunables of an [Engine].
type Config struct {
	// MaxTinyBlocks is how many extra blocks a miner may produce in its own slot.
	MaxTinyBlocks int

	Term dptransition.TermConfig

	// HashName selects the commit-reveal hash, see [dpround.HashFuncByName].
	HashName string

	// HistoryRounds is how many stored rounds are replayed
	// to rebuild the LIB offset on startup.
	HistoryRounds int
}

// DefaultConfig returns default configuration values.
func DefaultConfig() Config {
	return Config{
		MaxTinyBlocks: 8,
		Term:          dptransition.DefaultTermConfig(),
		HashName:      "sha256",
		HistoryRounds: 4,
	}
}

// EngineConfig holds everything required to start an [Engine].
type EngineConfig struct {
	Config

	Store dpstore.RoundStore

	// Clock defaults to [SystemClock].
	Clock Clock

	// Sharer is used to reconstruct in values from decrypted shares.
	Sharer dpsecret.Sharer

	// Elector defaults to [KeepMiners].
	Elector Elector

	// PubKeys, when set, are used to verify signed updates by miner ID.
	PubKeys map[string]gcrypto.PubKey

	// BlockchainStart is the time of the genesis block,
	// from which blockchain age and terms are measured.
	BlockchainStart time.Time

	// InitialMiners and MiningInterval generate the first round
	// when the store is empty.
	InitialMiners  []string
	MiningInterval time.Duration
}
