// Package dpcodec encodes rounds and round updates as deterministic CBOR.
//
// The consensus core treats these payloads as opaque bytes;
// this package is the reference wire format used by the stores,
// the engine and the simulator.
//
// Times are encoded as Unix nanoseconds in UTC.
package dpcodec

import (
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gordian-engine/gdpos/dpos/dpround"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Errorf("BUG: invalid CBOR encoding options: %w", err))
	}
	decMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic(fmt.Errorf("BUG: invalid CBOR decoding options: %w", err))
	}
}

type roundWire struct {
	Number     uint64 `cbor:"1,keyasint"`
	TermNumber uint64 `cbor:"2,keyasint"`
	ID         string `cbor:"3,keyasint"`

	MiningInterval int64 `cbor:"4,keyasint"`

	Slots []slotWire `cbor:"5,keyasint"`

	ExtraBlockProducerOfPreviousRound string `cbor:"6,keyasint,omitempty"`
	BlockchainAge                     int64  `cbor:"7,keyasint,omitempty"`

	ExtraBlockProducedBy string `cbor:"8,keyasint,omitempty"`
	ExtraBlockActualTime int64  `cbor:"9,keyasint,omitempty"`
}

type slotWire struct {
	ID    string `cbor:"1,keyasint"`
	Order int    `cbor:"2,keyasint"`

	ExpectedMiningTime int64   `cbor:"3,keyasint"`
	ActualMiningTimes  []int64 `cbor:"4,keyasint,omitempty"`

	IsExtraBlockProducer bool `cbor:"5,keyasint,omitempty"`

	Commitment *commitmentWire `cbor:"6,keyasint,omitempty"`

	PreviousInValue []byte            `cbor:"7,keyasint,omitempty"`
	Signature       []byte            `cbor:"8,keyasint,omitempty"`
	DecryptedShares map[string][]byte `cbor:"9,keyasint,omitempty"`

	ProducedBlocks     uint64 `cbor:"10,keyasint,omitempty"`
	PromisedTinyBlocks uint64 `cbor:"11,keyasint,omitempty"`
	MissedTimeSlots    uint64 `cbor:"12,keyasint,omitempty"`
}

// commitmentWire flattens the commitment variants,
// tagged by the phase.
type commitmentWire struct {
	Phase           dpround.Phase     `cbor:"1,keyasint"`
	Out             []byte            `cbor:"2,keyasint"`
	In              []byte            `cbor:"3,keyasint,omitempty"`
	EncryptedShares map[string][]byte `cbor:"4,keyasint,omitempty"`
}

// EncodeRound returns the canonical encoding of r.
func EncodeRound(r dpround.Round) ([]byte, error) {
	if r.IsZero() {
		return nil, errors.New("cannot encode zero round")
	}
	return encMode.Marshal(roundToWire(r.Snapshot()))
}

// DecodeRound decodes and validates a round encoded by [EncodeRound].
// Rounds violating the round invariants fail with a [dpround.InvalidOrderingError].
func DecodeRound(b []byte) (dpround.Round, error) {
	var w roundWire
	if err := decMode.Unmarshal(b, &w); err != nil {
		return dpround.Round{}, fmt.Errorf("failed to decode round: %w", err)
	}

	s, err := wireToSnapshot(w)
	if err != nil {
		return dpround.Round{}, err
	}

	r, err := dpround.Restore(s)
	if err != nil {
		return dpround.Round{}, fmt.Errorf("failed to restore round %d: %w", w.Number, err)
	}
	return r, nil
}

func roundToWire(s dpround.Snapshot) roundWire {
	w := roundWire{
		Number:     s.Number,
		TermNumber: s.TermNumber,
		ID:         s.ID,

		MiningInterval: int64(s.MiningInterval),

		Slots: make([]slotWire, len(s.Slots)),

		ExtraBlockProducerOfPreviousRound: s.ExtraBlockProducerOfPreviousRound,
		BlockchainAge:                     int64(s.BlockchainAge),

		ExtraBlockProducedBy: s.ExtraBlockProducedBy,
	}
	if s.ExtraBlockProducedBy != "" {
		w.ExtraBlockActualTime = s.ExtraBlockActualTime.UnixNano()
	}

	for i, slot := range s.Slots {
		sw := slotWire{
			ID:    slot.ID,
			Order: slot.Order,

			ExpectedMiningTime: slot.ExpectedMiningTime.UnixNano(),

			IsExtraBlockProducer: slot.IsExtraBlockProducer,

			PreviousInValue: slot.PreviousInValue,
			Signature:       slot.Signature,
			DecryptedShares: slot.DecryptedShares,

			ProducedBlocks:     slot.ProducedBlocks,
			PromisedTinyBlocks: slot.PromisedTinyBlocks,
			MissedTimeSlots:    slot.MissedTimeSlots,
		}
		for _, at := range slot.ActualMiningTimes {
			sw.ActualMiningTimes = append(sw.ActualMiningTimes, at.UnixNano())
		}
		sw.Commitment = commitmentToWire(slot.Commitment)
		w.Slots[i] = sw
	}
	return w
}

func wireToSnapshot(w roundWire) (dpround.Snapshot, error) {
	s := dpround.Snapshot{
		Number:     w.Number,
		TermNumber: w.TermNumber,
		ID:         w.ID,

		MiningInterval: time.Duration(w.MiningInterval),

		Slots: make([]dpround.MinerSlot, len(w.Slots)),

		ExtraBlockProducerOfPreviousRound: w.ExtraBlockProducerOfPreviousRound,
		BlockchainAge:                     time.Duration(w.BlockchainAge),

		ExtraBlockProducedBy: w.ExtraBlockProducedBy,
	}
	if w.ExtraBlockProducedBy != "" {
		s.ExtraBlockActualTime = fromNanos(w.ExtraBlockActualTime)
	}

	for i, sw := range w.Slots {
		c, err := wireToCommitment(sw.Commitment)
		if err != nil {
			return dpround.Snapshot{}, fmt.Errorf("miner %q: %w", sw.ID, err)
		}

		slot := dpround.MinerSlot{
			ID:    sw.ID,
			Order: sw.Order,

			ExpectedMiningTime: fromNanos(sw.ExpectedMiningTime),

			IsExtraBlockProducer: sw.IsExtraBlockProducer,

			Commitment: c,

			PreviousInValue: sw.PreviousInValue,
			Signature:       sw.Signature,
			DecryptedShares: sw.DecryptedShares,

			ProducedBlocks:     sw.ProducedBlocks,
			PromisedTinyBlocks: sw.PromisedTinyBlocks,
			MissedTimeSlots:    sw.MissedTimeSlots,
		}
		for _, at := range sw.ActualMiningTimes {
			slot.ActualMiningTimes = append(slot.ActualMiningTimes, fromNanos(at))
		}
		s.Slots[i] = slot
	}
	return s, nil
}

func commitmentToWire(c dpround.Commitment) *commitmentWire {
	switch c := c.(type) {
	case nil:
		return nil
	case dpround.Committed:
		return &commitmentWire{Phase: dpround.PhaseCommitted, Out: c.Out}
	case dpround.SharesDistributed:
		return &commitmentWire{
			Phase:           dpround.PhaseSharesDistributed,
			Out:             c.Out,
			EncryptedShares: c.EncryptedShares,
		}
	case dpround.Revealed:
		return &commitmentWire{Phase: dpround.PhaseRevealed, Out: c.Out, In: c.In}
	case dpround.Reconstructed:
		return &commitmentWire{Phase: dpround.PhaseReconstructed, Out: c.Out, In: c.In}
	default:
		panic(fmt.Errorf("BUG: unhandled commitment type %T", c))
	}
}

func wireToCommitment(w *commitmentWire) (dpround.Commitment, error) {
	if w == nil {
		return nil, nil
	}
	if len(w.Out) == 0 {
		return nil, fmt.Errorf("commitment in phase %s has no out value", w.Phase)
	}

	switch w.Phase {
	case dpround.PhaseCommitted:
		return dpround.Committed{Out: w.Out}, nil
	case dpround.PhaseSharesDistributed:
		return dpround.SharesDistributed{Out: w.Out, EncryptedShares: w.EncryptedShares}, nil
	case dpround.PhaseRevealed:
		return dpround.Revealed{Out: w.Out, In: w.In}, nil
	case dpround.PhaseReconstructed:
		return dpround.Reconstructed{Out: w.Out, In: w.In}, nil
	default:
		return nil, fmt.Errorf("unknown commitment phase %d", w.Phase)
	}
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
