// Package dpengine is the coordinating layer around the pure consensus core.
//
// The [Engine] owns the current round,
// serializes every update and transition of it,
// persists each new version to a [dpstore.RoundStore],
// and tracks the LIB offset as blocks are applied.
package dpengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/gordian-engine/gdpos/dpos/dpcodec"
	"github.com/gordian-engine/gdpos/dpos/dpfinality"
	"github.com/gordian-engine/gdpos/dpos/dpround"
	"github.com/gordian-engine/gdpos/dpos/dpsched"
	"github.com/gordian-engine/gdpos/dpos/dpsecret"
	"github.com/gordian-engine/gdpos/dpos/dpstore"
	"github.com/gordian-engine/gdpos/dpos/dptransition"
	"github.com/gordian-engine/gdpos/gcrypto"
)

// Engine methods are safe to call concurrently.
type Engine struct {
	log *slog.Logger

	cfg     Config
	hash    dpround.HashFunc
	policy  dpsched.Policy
	clock   Clock
	store   dpstore.RoundStore
	secrets dpsecret.Service
	elector Elector
	pubKeys map[string]gcrypto.PubKey

	blockchainStart time.Time

	mu       sync.Mutex
	cur      dpround.Round
	prev     dpround.Round
	finality dpfinality.Tracker
}

// New returns an Engine resuming from the latest round in cfg.Store,
// or starting from a new first round if the store is empty.
func New(ctx context.Context, log *slog.Logger, cfg EngineConfig) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("round store required")
	}
	if cfg.Sharer == nil {
		return nil, errors.New("secret sharer required")
	}
	hash, ok := dpround.HashFuncByName(cfg.HashName)
	if !ok {
		return nil, fmt.Errorf("unknown hash scheme %q", cfg.HashName)
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.Elector == nil {
		cfg.Elector = KeepMiners{}
	}

	e := &Engine{
		log: log,

		cfg:     cfg.Config,
		hash:    hash,
		policy:  dpsched.Policy{MaxTinyBlocks: cfg.MaxTinyBlocks},
		clock:   cfg.Clock,
		store:   cfg.Store,
		secrets: dpsecret.Service{Sharer: cfg.Sharer, Hash: hash},
		elector: cfg.Elector,
		pubKeys: cfg.PubKeys,

		blockchainStart: cfg.BlockchainStart,
	}

	if err := e.load(ctx, cfg); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) load(ctx context.Context, cfg EngineConfig) error {
	cur, err := e.store.LatestRound(ctx)
	switch {
	case err == nil:
		e.cur = cur
	case errors.Is(err, dpstore.ErrRoundNotFound):
		if len(cfg.InitialMiners) == 0 {
			return errors.New("round store is empty and no initial miners were given")
		}
		first, err := dpround.GenerateFirstRound(cfg.InitialMiners, cfg.MiningInterval, cfg.BlockchainStart)
		if err != nil {
			return fmt.Errorf("failed to generate first round: %w", err)
		}
		if err := e.store.SaveRound(ctx, first); err != nil {
			return fmt.Errorf("failed to save first round: %w", err)
		}
		e.cur = first
		e.log.Info(
			"Generated first round",
			"miners", first.MinerCount(),
			"extra_block_producer", first.ExtraBlockProducer().ID,
		)
		return nil
	default:
		return fmt.Errorf("failed to load latest round: %w", err)
	}

	from := uint64(1)
	if n := uint64(max(e.cfg.HistoryRounds, 1)); e.cur.Number() > n {
		from = e.cur.Number() - n
	}
	history, err := e.store.LoadRounds(ctx, from, e.cur.Number())
	if err != nil {
		return fmt.Errorf("failed to load round history: %w", err)
	}
	for _, r := range history {
		for _, b := range dpfinality.BlocksOf(r) {
			e.finality = e.finality.Observe(b)
		}
		if r.Number()+1 == e.cur.Number() {
			e.prev = r
		}
	}

	e.log.Info(
		"Resumed from stored round",
		"round", e.cur.Number(),
		"term", e.cur.TermNumber(),
		"lib_offset", e.finality.Offset(),
	)
	return nil
}

// CurrentRound returns the current round.
// The returned value is immutable and safe to retain.
func (e *Engine) CurrentRound() dpround.Round {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cur
}

// PreviousRound returns the round before the current one,
// or the zero Round if it is unknown.
func (e *Engine) PreviousRound() dpround.Round {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.prev
}

// HashFunc returns the commit-reveal hash in use.
func (e *Engine) HashFunc() dpround.HashFunc {
	return e.hash
}

// LIBOffset returns the current LIB offset.
func (e *Engine) LIBOffset() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.finality.Offset()
}

// Command returns what minerID should do next as of the engine's clock.
// A due extra block is reported as [dpsched.ChangeTerm]
// when the next round must start a new term.
func (e *Engine) Command(minerID string) (dpsched.Command, error) {
	e.mu.Lock()
	cur := e.cur
	e.mu.Unlock()

	cmd, err := e.policy.Command(cur, minerID, e.clock.Now())
	if err != nil {
		return dpsched.Command{}, err
	}
	if cmd.Behaviour == dpsched.ProduceExtraBlock &&
		dptransition.IsTimeToChangeTerm(cur, e.blockchainStart, e.cfg.Term) {
		cmd.Behaviour = dpsched.ChangeTerm
	}
	return cmd, nil
}

// ApplySignedUpdate decodes an encoded [dpcodec.SignedUpdate],
// verifies it against the producer's public key if the engine has keys,
// and applies the update.
func (e *Engine) ApplySignedUpdate(ctx context.Context, b []byte) (dpround.Round, error) {
	env, err := dpcodec.DecodeSignedUpdate(b)
	if err != nil {
		return dpround.Round{}, err
	}
	u, err := dpcodec.DecodeUpdate(env.Update)
	if err != nil {
		return dpround.Round{}, err
	}

	if e.pubKeys != nil {
		pk, ok := e.pubKeys[u.MinerID]
		if !ok {
			return dpround.Round{}, fmt.Errorf("no public key for miner %q", u.MinerID)
		}
		if !pk.Verify(env.Update, env.Signature) {
			e.log.Warn("Rejected update with invalid signature", "miner", u.MinerID, "kind", u.Kind)
			return dpround.Round{}, fmt.Errorf("invalid signature on update from miner %q", u.MinerID)
		}
	}

	return e.ApplyUpdate(ctx, u)
}

// ApplyUpdate applies u to the round it references,
// which must be the current or the previous round.
//
// Updates failing with a consensus-critical error are rejected
// and leave the engine unchanged.
// An extra block also advances the engine to the following round.
// The returned round is the current round after the update.
func (e *Engine) ApplyUpdate(ctx context.Context, u dpcodec.RoundUpdate) (dpround.Round, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.applyLocked(ctx, u); err != nil {
		if dpround.IsConsensusCritical(err) {
			e.log.Warn(
				"Rejected consensus-critical update",
				"miner", u.MinerID, "round", u.RoundNumber, "kind", u.Kind, "err", err,
			)
		} else {
			e.log.Debug("Rejected update", "miner", u.MinerID, "kind", u.Kind, "err", err)
		}
		return e.cur, err
	}
	return e.cur, nil
}

func (e *Engine) applyLocked(ctx context.Context, u dpcodec.RoundUpdate) error {
	var target dpround.Round
	switch {
	case u.RoundNumber == e.cur.Number():
		target = e.cur
	case !e.prev.IsZero() && u.RoundNumber == e.prev.Number():
		target = e.prev
	default:
		return fmt.Errorf("update references round %d, current round is %d", u.RoundNumber, e.cur.Number())
	}
	if u.RoundID != "" && u.RoundID != target.ID() {
		return fmt.Errorf("update references round ID %s, round %d has ID %s", u.RoundID, target.Number(), target.ID())
	}
	isCur := target.Number() == e.cur.Number()

	switch u.Kind {
	case dpcodec.UpdateNormalBlock:
		if !isCur {
			return fmt.Errorf("normal block for past round %d", u.RoundNumber)
		}
		return e.applyNormalBlock(ctx, u)

	case dpcodec.UpdateTinyBlock:
		if !isCur {
			return fmt.Errorf("tiny block for past round %d", u.RoundNumber)
		}
		updated, err := dpround.ApplyTinyBlock(e.cur, u.MinerID, u.ActualMiningTime)
		if err != nil {
			return err
		}
		if err := e.saveCurrent(ctx, updated); err != nil {
			return err
		}
		e.observe(updated, u.MinerID)
		return nil

	case dpcodec.UpdateExtraBlock:
		if !isCur {
			return fmt.Errorf("extra block for past round %d", u.RoundNumber)
		}
		return e.applyExtraBlock(ctx, u)

	case dpcodec.UpdateEncryptedShares:
		updated, err := dpround.ApplyEncryptedShares(target, u.MinerID, u.Shares)
		if err != nil {
			return err
		}
		return e.saveTarget(ctx, updated, isCur)

	case dpcodec.UpdateDecryptedShares:
		return e.applyDecryptedShares(ctx, target, isCur, u)

	case dpcodec.UpdateReveal:
		updated, err := dpround.ApplyReveal(target, u.MinerID, u.InValue, e.hash)
		if err != nil {
			return err
		}
		return e.saveTarget(ctx, updated, isCur)

	default:
		return fmt.Errorf("unknown update kind %d", u.Kind)
	}
}

func (e *Engine) applyNormalBlock(ctx context.Context, u dpcodec.RoundUpdate) error {
	updated, err := dpround.ApplyNormalConsensusData(
		e.cur, u.MinerID, u.PreviousInValue, u.OutValue, u.Signature, u.ActualMiningTime,
	)
	if err != nil {
		return err
	}

	// The previous in value reveals the miner's secret for the previous round.
	prev := e.prev
	if len(u.PreviousInValue) > 0 && !prev.IsZero() {
		if err := dpround.VerifyPreviousInValue(prev, updated, u.MinerID, e.hash); err != nil {
			return err
		}
		if s, ok := prev.Miner(u.MinerID); ok && s.HasCommitted() {
			prev, err = dpround.ApplyReveal(prev, u.MinerID, u.PreviousInValue, e.hash)
			if err != nil {
				return err
			}
		}
	}

	if err := e.saveCurrent(ctx, updated); err != nil {
		return err
	}
	if err := e.saveTarget(ctx, prev, false); err != nil {
		return err
	}
	e.observe(updated, u.MinerID)
	return nil
}

func (e *Engine) applyExtraBlock(ctx context.Context, u dpcodec.RoundUpdate) error {
	if err := dpsched.VerifyExtraBlockProducer(e.cur, u.MinerID, u.ActualMiningTime); err != nil {
		return err
	}
	sealed, err := dpround.ApplyExtraBlockProduction(e.cur, u.MinerID, u.ActualMiningTime)
	if err != nil {
		return err
	}

	// Decided on the unsealed round, as in Command,
	// so the extra block itself never tips the term.
	var next dpround.Round
	if dptransition.IsTimeToChangeTerm(e.cur, e.blockchainStart, e.cfg.Term) {
		miners, err := e.elector.NextTermMiners(ctx, sealed)
		if err != nil {
			return fmt.Errorf("failed to elect miners for term %d: %w", sealed.TermNumber()+1, err)
		}
		interval := dpsched.MiningInterval(sealed)
		next, err = dptransition.GenerateFirstRoundOfNewTerm(
			miners, interval, u.ActualMiningTime.Add(interval),
			sealed.Number(), sealed.TermNumber(),
		)
		if err != nil {
			return err
		}
		e.log.Info("Changing term", "term", next.TermNumber(), "round", next.Number(), "miners", next.MinerCount())
	} else {
		next, err = dptransition.GenerateNextRound(sealed, u.ActualMiningTime, e.blockchainStart, e.hash)
		if err != nil {
			return err
		}
	}

	if err := e.store.SaveRound(ctx, sealed); err != nil {
		return fmt.Errorf("failed to save sealed round %d: %w", sealed.Number(), err)
	}
	if err := e.store.SaveRound(ctx, next); err != nil {
		return fmt.Errorf("failed to save round %d: %w", next.Number(), err)
	}

	e.observe(sealed, u.MinerID)
	e.prev, e.cur = sealed, next

	e.log.Debug(
		"Advanced round",
		"round", next.Number(),
		"extra_block_producer", next.ExtraBlockProducer().ID,
		"lib_offset", e.finality.Offset(),
	)
	return nil
}

// applyDecryptedShares records the shares u's producer decrypted,
// then attempts reconstruction for every owner that has not revealed.
func (e *Engine) applyDecryptedShares(ctx context.Context, target dpround.Round, isCur bool, u dpcodec.RoundUpdate) error {
	updated := target
	owners := slices.Sorted(maps.Keys(u.Shares))
	for _, owner := range owners {
		var err error
		updated, err = dpround.ApplyDecryptedShare(updated, owner, u.MinerID, u.Shares[owner])
		if err != nil {
			return err
		}
	}

	for _, owner := range owners {
		s, _ := updated.Miner(owner)
		if s.Commitment == nil {
			continue
		}
		if _, ok := dpround.InValue(s.Commitment); ok {
			continue
		}

		reconstructed, _, err := e.secrets.ReconstructInRound(updated, owner)
		if err != nil {
			var ie dpround.InsufficientSharesError
			if errors.As(err, &ie) {
				continue
			}
			return err
		}
		updated = reconstructed
		e.log.Info("Reconstructed in value", "owner", owner, "round", updated.Number())
	}

	return e.saveTarget(ctx, updated, isCur)
}

func (e *Engine) saveCurrent(ctx context.Context, r dpround.Round) error {
	return e.saveTarget(ctx, r, true)
}

func (e *Engine) saveTarget(ctx context.Context, r dpround.Round, isCur bool) error {
	if r.IsZero() {
		return nil
	}
	if err := e.store.SaveRound(ctx, r); err != nil {
		return fmt.Errorf("failed to save round %d: %w", r.Number(), err)
	}
	if isCur {
		e.cur = r
	} else {
		e.prev = r
	}
	return nil
}

func (e *Engine) observe(r dpround.Round, minerID string) {
	sorted := r.SortedMinerIDs()
	idx, ok := slices.BinarySearch(sorted, minerID)
	if !ok {
		panic(fmt.Errorf("BUG: applied block from miner %q outside round %d", minerID, r.Number()))
	}
	e.finality = e.finality.Observe(dpfinality.Block{
		RoundNumber:   r.Number(),
		MinerCount:    len(sorted),
		ProducerIndex: idx,
	})
}

// SignUpdate encodes u and signs the encoding with signer,
// returning an encoded [dpcodec.SignedUpdate].
func SignUpdate(ctx context.Context, signer gcrypto.Signer, u dpcodec.RoundUpdate) ([]byte, error) {
	body, err := dpcodec.EncodeUpdate(u)
	if err != nil {
		return nil, err
	}
	sig, err := signer.Sign(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("failed to sign update: %w", err)
	}
	return dpcodec.EncodeSignedUpdate(dpcodec.SignedUpdate{Update: body, Signature: sig})
}
