package dpsim

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gordian-engine/gdpos/dpos/dpengine"
	"github.com/gordian-engine/gdpos/dpos/dptransition"
	"github.com/naoina/toml"
)

// Config is the simulation configuration, read from TOML.
type Config struct {
	Title string

	Miners           int
	MiningIntervalMs int `toml:"mining_interval_ms"`
	Rounds           int

	// Seed derives every miner key and secret, so runs are reproducible.
	Seed string

	// Signer is "ed25519", "secp256k1" or "bls".
	Signer string

	Engine  Engine
	Store   Store
	Offline []Offline

	RemoteSigners []RemoteSigner `toml:"remote_signers,omitempty"`
}

// Engine settings.
type Engine struct {
	MaxTinyBlocks int
	HashName      string
	HistoryRounds int

	TermAgeUnitSec int    `toml:"term_age_unit_sec"`
	TermLength     uint64 `toml:"term_length"`
}

// Store settings.
// Type is "memory" or "leveldb"; Path is only used by leveldb.
type Store struct {
	Type string
	Path string
}

// Offline takes the miner at index Miner offline for rounds in [FromRound, ToRound].
type Offline struct {
	Miner     int
	FromRound uint64 `toml:"from_round"`
	ToRound   uint64 `toml:"to_round"`
}

// RemoteSigner has the miner at index Miner sign through the
// gremotesigner server listening on Socket instead of an in-process key.
type RemoteSigner struct {
	Miner  int
	Socket string
}

// DefaultConfig returns a seven miner simulation with one-minute terms
// and one miner offline for a few rounds.
func DefaultConfig() Config {
	d := dpengine.DefaultConfig()
	return Config{
		Title: "gdpos simulation",

		Miners:           7,
		MiningIntervalMs: 4000,
		Rounds:           12,

		Seed:   "gdpos",
		Signer: "ed25519",

		Engine: Engine{
			MaxTinyBlocks: 2,
			HashName:      d.HashName,
			HistoryRounds: d.HistoryRounds,

			TermAgeUnitSec: 60,
			TermLength:     2,
		},
		Store: Store{Type: "memory"},
		Offline: []Offline{
			{Miner: 2, FromRound: 3, ToRound: 4},
		},
	}
}

// EngineConfig converts the engine settings.
func (c Config) EngineConfig() dpengine.Config {
	return dpengine.Config{
		MaxTinyBlocks: c.Engine.MaxTinyBlocks,
		Term: dptransition.TermConfig{
			AgeUnit:    time.Duration(c.Engine.TermAgeUnitSec) * time.Second,
			TermLength: c.Engine.TermLength,
		},
		HashName:      c.Engine.HashName,
		HistoryRounds: c.Engine.HistoryRounds,
	}
}

// MiningInterval is the configured interval as a duration.
func (c Config) MiningInterval() time.Duration {
	return time.Duration(c.MiningIntervalMs) * time.Millisecond
}

// Validate reports the first problem with c.
func (c Config) Validate() error {
	if c.Miners < 1 {
		return errors.New("at least one miner required")
	}
	if c.MiningIntervalMs <= 0 {
		return errors.New("mining interval must be positive")
	}
	if c.Rounds < 1 {
		return errors.New("at least one round required")
	}
	switch c.Signer {
	case "ed25519", "secp256k1", "bls":
	default:
		return fmt.Errorf("unknown signer %q", c.Signer)
	}
	switch c.Store.Type {
	case "memory":
	case "leveldb":
		if c.Store.Path == "" {
			return errors.New("leveldb store requires a path")
		}
	default:
		return fmt.Errorf("unknown store type %q", c.Store.Type)
	}
	for _, r := range c.RemoteSigners {
		if r.Miner < 0 || r.Miner >= c.Miners {
			return fmt.Errorf("remote signer miner index %d out of range", r.Miner)
		}
		if r.Socket == "" {
			return fmt.Errorf("remote signer for miner %d requires a socket", r.Miner)
		}
	}
	for _, o := range c.Offline {
		if o.Miner < 0 || o.Miner >= c.Miners {
			return fmt.Errorf("offline miner index %d out of range", o.Miner)
		}
		if o.ToRound < o.FromRound {
			return fmt.Errorf("offline window for miner %d ends before it starts", o.Miner)
		}
	}
	return nil
}

// IsOffline reports whether the miner at index i is offline in the given round.
func (c Config) IsOffline(i int, round uint64) bool {
	for _, r := range c.RemoteSigners {
		if r.Miner < 0 || r.Miner >= c.Miners {
			return fmt.Errorf("remote signer miner index %d out of range", r.Miner)
		}
		if r.Socket == "" {
			return fmt.Errorf("remote signer for miner %d requires a socket", r.Miner)
		}
	}
	for _, o := range c.Offline {
		if o.Miner == i && round >= o.FromRound && round <= o.ToRound {
			return true
		}
	}
	return false
}

// WriteDefaultConfig writes [DefaultConfig] as TOML to path.
func WriteDefaultConfig(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	cfg := DefaultConfig()
	if err := toml.NewEncoder(f).Encode(&cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return f.Close()
}

// ReadConfig reads a TOML config from path.
// Fields missing from the file keep their [DefaultConfig] values.
func ReadConfig(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()

	cfg := DefaultConfig()
	if err := toml.NewDecoder(f).Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	return cfg, nil
}
