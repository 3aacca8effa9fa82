// Package dpsim drives a set of simulated miners through rounds and terms
// on a virtual clock, exercising the whole consensus stack end to end.
package dpsim

import (
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/gordian-engine/gdpos/dpos/dpcodec"
	"github.com/gordian-engine/gdpos/dpos/dpengine"
	"github.com/gordian-engine/gdpos/dpos/dpround"
	"github.com/gordian-engine/gdpos/dpos/dpsched"
	"github.com/gordian-engine/gdpos/dpos/dpsecret"
	"github.com/gordian-engine/gdpos/dpos/dpsecret/dpshamir"
	"github.com/gordian-engine/gdpos/dpos/dpstore"
	"github.com/gordian-engine/gdpos/dpos/dpstore/dpleveldb"
	"github.com/gordian-engine/gdpos/dpos/dpstore/dpmemstore"
	"github.com/gordian-engine/gdpos/gcrypto"
	"github.com/gordian-engine/gdpos/gcrypto/gblsminsig"
	"github.com/gordian-engine/gdpos/gcrypto/gbox"
	"github.com/gordian-engine/gdpos/gcrypto/gremotesigner"
	"github.com/zeebo/blake3"
	"golang.org/x/sync/errgroup"
)

// Genesis is the blockchain start time of every simulation,
// so a persisted simulation can be resumed.
var Genesis = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// RoundReport summarizes one simulated round.
type RoundReport struct {
	Number     uint64
	TermNumber uint64

	Producers  int
	TinyBlocks int

	// Display names of miners that did not produce.
	Missed []string

	// Display names of miners whose previous round secret
	// was reconstructed from shares during this round.
	Reconstructed []string

	SealedBy    string
	TermChanged bool

	LIBOffset int
}

type miner struct {
	index int
	id    string
	name  string

	signer gcrypto.Signer
	box    *gbox.KeyPair

	// In values by round number.
	// Only the miner's own worker writes to it during a round.
	ins map[uint64][]byte
}

// Simulation is a set of miners sharing one engine.
type Simulation struct {
	log *slog.Logger
	cfg Config

	hash dpround.HashFunc
	svc  dpsecret.Service

	miners  []*miner
	byID    map[string]*miner
	boxKeys map[string][]byte

	clock  *clock
	store  dpstore.RoundStore
	closer io.Closer
	engine *dpengine.Engine
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// New prepares a simulation from cfg.
// The caller must call [*Simulation.Close] when done.
func New(ctx context.Context, log *slog.Logger, cfg Config) (*Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid simulation config: %w", err)
	}
	hash, ok := dpround.HashFuncByName(cfg.Engine.HashName)
	if !ok {
		return nil, fmt.Errorf("unknown hash scheme %q", cfg.Engine.HashName)
	}

	s := &Simulation{
		log: log,
		cfg: cfg,

		hash: hash,
		svc:  dpsecret.Service{Sharer: dpshamir.Sharer{}, Hash: hash},

		byID:    make(map[string]*miner, cfg.Miners),
		boxKeys: make(map[string][]byte, cfg.Miners),

		clock: &clock{now: Genesis},
	}

	if err := s.createMiners(ctx); err != nil {
		return nil, err
	}

	switch cfg.Store.Type {
	case "leveldb":
		db, err := dpleveldb.Open(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		s.store, s.closer = db, db
	default:
		s.store = dpmemstore.NewRoundStore()
	}

	pubKeys := make(map[string]gcrypto.PubKey, len(s.miners))
	ids := make([]string, len(s.miners))
	for i, m := range s.miners {
		pubKeys[m.id] = m.signer.PubKey()
		ids[i] = m.id
	}

	e, err := dpengine.New(ctx, log.With("sys", "engine"), dpengine.EngineConfig{
		Config: cfg.EngineConfig(),

		Store:   s.store,
		Clock:   s.clock,
		Sharer:  dpshamir.Sharer{},
		PubKeys: pubKeys,

		BlockchainStart: Genesis,
		InitialMiners:   ids,
		MiningInterval:  cfg.MiningInterval(),
	})
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.engine = e

	return s, nil
}

func (s *Simulation) createMiners(ctx context.Context) error {
	remote := make(map[int]string, len(s.cfg.RemoteSigners))
	for _, r := range s.cfg.RemoteSigners {
		remote[r.Miner] = r.Socket
	}

	for i := range s.cfg.Miners {
		var signer gcrypto.Signer
		var err error
		if path, ok := remote[i]; ok {
			signer, err = gremotesigner.Dial(ctx, path)
			if err != nil {
				return fmt.Errorf("failed to dial remote signer for miner %d: %w", i, err)
			}
			s.log.Info("Using remote signer", "miner", i, "socket", path)
		} else {
			signer, err = NewSigner(s.cfg, i)
			if err != nil {
				return err
			}
		}
		kp, err := gbox.GenerateKeyPair(seedReader(s.cfg.Seed, "box", i, 0))
		if err != nil {
			return err
		}

		m := &miner{
			index: i,
			id:    gcrypto.MinerID(signer.PubKey()),
			name:  displayName(i),

			signer: signer,
			box:    kp,

			ins: make(map[uint64][]byte),
		}
		s.miners = append(s.miners, m)
		s.byID[m.id] = m
		s.boxKeys[m.id] = kp.PublicKeyBytes()
	}
	return nil
}

var petnameMu sync.Mutex

// displayName returns a readable label for the miner at index i.
// The pet name part comes from a random source and is cosmetic;
// the index suffix keeps labels unique and stable across runs.
func displayName(i int) string {
	petnameMu.Lock()
	defer petnameMu.Unlock()
	return fmt.Sprintf("%s-%d", petname.Generate(2, "-"), i)
}

// NewSigner derives the signer of the miner at index i from cfg's seed and signer scheme.
func NewSigner(cfg Config, i int) (gcrypto.Signer, error) {
	ikm := make([]byte, 32)
	if _, err := io.ReadFull(seedReader(cfg.Seed, "signer", i, 0), ikm); err != nil {
		return nil, err
	}
	switch cfg.Signer {
	case "bls":
		return gblsminsig.NewSigner(ikm)
	case "secp256k1":
		return gcrypto.NewSecp256k1Signer(ikm)
	default:
		return gcrypto.NewEd25519Signer(ed25519.NewKeyFromSeed(ikm)), nil
	}
}

// seedReader returns an endless deterministic stream
// for the given purpose, miner index and round.
func seedReader(seed, purpose string, i int, round uint64) io.Reader {
	h := blake3.New()
	_, _ = h.WriteString(seed)
	_, _ = h.WriteString(purpose)
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(i))
	binary.BigEndian.PutUint64(buf[8:], round)
	_, _ = h.Write(buf[:])
	return h.Digest()
}

// Close releases the simulation's store.
func (s *Simulation) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

func (s *Simulation) Engine() *dpengine.Engine { return s.engine }

func (s *Simulation) Log() *slog.Logger { return s.log }

func (s *Simulation) Store() dpstore.RoundStore { return s.store }

// Name returns the display name of the miner with the given ID,
// or the ID itself if it is unknown.
func (s *Simulation) Name(id string) string {
	if m, ok := s.byID[id]; ok {
		return m.name
	}
	return id
}

// Run simulates the configured number of rounds,
// calling report after each one if it is not nil.
func (s *Simulation) Run(ctx context.Context, report func(RoundReport)) ([]RoundReport, error) {
	var out []RoundReport
	for range s.cfg.Rounds {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		rep, err := s.runRound(ctx)
		if err != nil {
			return out, err
		}
		out = append(out, rep)
		if report != nil {
			report(rep)
		}
	}
	return out, nil
}

// minerUpdates are the encoded, signed updates one miner publishes in a round.
type minerUpdates struct {
	m *miner

	normal    []byte
	shares    []byte
	decrypted []byte
}

func (s *Simulation) runRound(ctx context.Context) (RoundReport, error) {
	e := s.engine
	cur, prev := e.CurrentRound(), e.PreviousRound()

	var online []*miner
	offline := make(map[string]bool)
	for _, id := range cur.MinerIDs() {
		m := s.byID[id]
		if s.cfg.IsOffline(m.index, cur.Number()) {
			offline[id] = true
			continue
		}
		online = append(online, m)
	}
	if len(online) == 0 {
		return RoundReport{}, fmt.Errorf("every miner is offline in round %d", cur.Number())
	}

	// Every online miner prepares its updates concurrently.
	prepared := make([]minerUpdates, len(online))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, m := range online {
		eg.Go(func() error {
			u, err := s.prepare(egCtx, m, prev, cur, offline)
			if err != nil {
				return fmt.Errorf("miner %s: %w", m.name, err)
			}
			prepared[i] = u
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return RoundReport{}, err
	}

	rep := RoundReport{
		Number:     cur.Number(),
		TermNumber: cur.TermNumber(),
	}

	// Publication happens in slot order.
	for _, u := range prepared {
		slot, _ := cur.Miner(u.m.id)
		s.clock.Set(slot.ExpectedMiningTime.Add(time.Millisecond))

		for _, b := range [][]byte{u.normal, u.shares, u.decrypted} {
			if b == nil {
				continue
			}
			if _, err := e.ApplySignedUpdate(ctx, b); err != nil {
				return rep, fmt.Errorf("failed to apply update from %s: %w", u.m.name, err)
			}
		}

		n, err := s.produceTinyBlocks(ctx, u.m)
		if err != nil {
			return rep, err
		}
		rep.TinyBlocks += n
	}

	sealed := e.CurrentRound()
	sealer, err := s.seal(ctx, online)
	if err != nil {
		return rep, err
	}

	next := e.CurrentRound()
	for _, slot := range sealed.Slots() {
		if slot.HasCommitted() {
			rep.Producers++
		} else {
			rep.Missed = append(rep.Missed, s.Name(slot.ID))
		}
	}
	if !prev.IsZero() {
		stored, err := s.store.LoadRound(ctx, prev.Number())
		if err != nil {
			return rep, err
		}
		for _, slot := range stored.Slots() {
			ps, _ := prev.Miner(slot.ID)
			if dpround.PhaseOf(slot.Commitment) == dpround.PhaseReconstructed &&
				dpround.PhaseOf(ps.Commitment) != dpround.PhaseReconstructed {
				rep.Reconstructed = append(rep.Reconstructed, s.Name(slot.ID))
			}
		}
	}

	rep.SealedBy = s.Name(sealer)
	rep.TermChanged = next.TermNumber() != cur.TermNumber()
	rep.LIBOffset = e.LIBOffset()

	s.log.Info(
		"Round complete",
		"round", rep.Number,
		"term", rep.TermNumber,
		"producers", rep.Producers,
		"missed", rep.Missed,
		"sealed_by", rep.SealedBy,
		"lib_offset", rep.LIBOffset,
	)
	return rep, nil
}

// prepare builds m's normal block, share distribution,
// and the shares it decrypts for miners that went offline.
func (s *Simulation) prepare(
	ctx context.Context, m *miner, prev, cur dpround.Round, offline map[string]bool,
) (minerUpdates, error) {
	out := minerUpdates{m: m}
	slot, _ := cur.Miner(m.id)

	in, outValue, err := s.svc.NewInValue(seedReader(s.cfg.Seed, "in", m.index, cur.Number()))
	if err != nil {
		return out, err
	}
	m.ins[cur.Number()] = in

	u := dpcodec.RoundUpdate{
		Kind:        dpcodec.UpdateNormalBlock,
		RoundNumber: cur.Number(),
		RoundID:     cur.ID(),
		MinerID:     m.id,

		ActualMiningTime: slot.ExpectedMiningTime.Add(time.Millisecond),
		OutValue:         outValue,
	}
	if ps, ok := prev.Miner(m.id); ok && ps.HasCommitted() && m.ins[prev.Number()] != nil {
		u.PreviousInValue = m.ins[prev.Number()]
		u.Signature = dpround.CalculateSignature(prev, u.PreviousInValue, s.hash)
	} else {
		u.Signature = s.hash(in)
	}
	if out.normal, err = dpengine.SignUpdate(ctx, m.signer, u); err != nil {
		return out, err
	}

	if cur.MinerCount() < dpsecret.MinMiners {
		return out, nil
	}

	shares, err := s.svc.GenerateShares(in, m.id, cur.MinerIDs())
	if err != nil {
		return out, err
	}
	encrypted, err := dpsecret.EncryptSharesForDistribution(shares, m.box, s.boxKeys)
	if err != nil {
		return out, err
	}
	out.shares, err = dpengine.SignUpdate(ctx, m.signer, dpcodec.RoundUpdate{
		Kind:        dpcodec.UpdateEncryptedShares,
		RoundNumber: cur.Number(),
		RoundID:     cur.ID(),
		MinerID:     m.id,
		Shares:      encrypted,
	})
	if err != nil {
		return out, err
	}

	if prev.IsZero() {
		return out, nil
	}
	decrypted, err := dpsecret.DecryptSharesFor(ctx, m.box, prev, m.id, s.boxKeys)
	if err != nil {
		return out, err
	}
	// Only the owners who will not reveal this round need recovery.
	for owner := range decrypted {
		if !offline[owner] {
			delete(decrypted, owner)
		}
	}
	if len(decrypted) == 0 {
		return out, nil
	}
	out.decrypted, err = dpengine.SignUpdate(ctx, m.signer, dpcodec.RoundUpdate{
		Kind:        dpcodec.UpdateDecryptedShares,
		RoundNumber: prev.Number(),
		RoundID:     prev.ID(),
		MinerID:     m.id,
		Shares:      decrypted,
	})
	return out, err
}

// produceTinyBlocks has m produce tiny blocks for as long as the engine schedules them.
func (s *Simulation) produceTinyBlocks(ctx context.Context, m *miner) (int, error) {
	n := 0
	for {
		cmd, err := s.engine.Command(m.id)
		if err != nil {
			return n, err
		}
		if cmd.Behaviour != dpsched.ProduceTinyBlock {
			return n, nil
		}

		s.clock.Set(cmd.ArrangedTime)
		cur := s.engine.CurrentRound()
		b, err := dpengine.SignUpdate(ctx, m.signer, dpcodec.RoundUpdate{
			Kind:             dpcodec.UpdateTinyBlock,
			RoundNumber:      cur.Number(),
			RoundID:          cur.ID(),
			MinerID:          m.id,
			ActualMiningTime: cmd.ArrangedTime,
		})
		if err != nil {
			return n, err
		}
		if _, err := s.engine.ApplySignedUpdate(ctx, b); err != nil {
			return n, fmt.Errorf("failed to apply tiny block from %s: %w", m.name, err)
		}
		n++
	}
}

// seal has the online miner scheduled earliest for the extra block produce it,
// returning that miner's ID.
func (s *Simulation) seal(ctx context.Context, online []*miner) (string, error) {
	var (
		sealer *miner
		at     time.Time
	)
	for _, m := range online {
		cmd, err := s.engine.Command(m.id)
		if err != nil {
			return "", err
		}
		if cmd.Behaviour != dpsched.ProduceExtraBlock && cmd.Behaviour != dpsched.ChangeTerm {
			continue
		}
		if sealer == nil || cmd.ArrangedTime.Before(at) {
			sealer, at = m, cmd.ArrangedTime
		}
	}
	if sealer == nil {
		return "", errors.New("no online miner is scheduled to seal the round")
	}

	s.clock.Set(at)
	cur := s.engine.CurrentRound()
	b, err := dpengine.SignUpdate(ctx, sealer.signer, dpcodec.RoundUpdate{
		Kind:             dpcodec.UpdateExtraBlock,
		RoundNumber:      cur.Number(),
		RoundID:          cur.ID(),
		MinerID:          sealer.id,
		ActualMiningTime: at,
	})
	if err != nil {
		return "", err
	}
	if _, err := s.engine.ApplySignedUpdate(ctx, b); err != nil {
		return "", fmt.Errorf("failed to apply extra block from %s: %w", sealer.name, err)
	}
	return sealer.id, nil
}
