package dpcodec

import (
	"errors"
	"fmt"
	"time"
)

// UpdateKind identifies what a [RoundUpdate] carries.
type UpdateKind uint8

const (
	UpdateInvalid UpdateKind = iota

	// UpdateNormalBlock carries a miner's commitment for the round,
	// its revealed previous in value, and its signature.
	UpdateNormalBlock

	UpdateTinyBlock

	// UpdateExtraBlock seals the round.
	UpdateExtraBlock

	// UpdateEncryptedShares carries the shares of the producer's in value,
	// each encrypted for its recipient.
	UpdateEncryptedShares

	// UpdateDecryptedShares carries shares the producer decrypted,
	// keyed by the owner of each secret.
	UpdateDecryptedShares

	// UpdateReveal carries the producer's in value for the round.
	UpdateReveal
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateNormalBlock:
		return "NormalBlock"
	case UpdateTinyBlock:
		return "TinyBlock"
	case UpdateExtraBlock:
		return "ExtraBlock"
	case UpdateEncryptedShares:
		return "EncryptedShares"
	case UpdateDecryptedShares:
		return "DecryptedShares"
	case UpdateReveal:
		return "Reveal"
	default:
		return "Invalid"
	}
}

// RoundUpdate is the payload a miner publishes to change a round.
// Which fields are set depends on Kind.
type RoundUpdate struct {
	Kind UpdateKind

	RoundNumber uint64
	RoundID     string
	MinerID     string

	ActualMiningTime time.Time

	PreviousInValue []byte
	OutValue        []byte
	Signature       []byte

	InValue []byte

	// Shares keyed by recipient for UpdateEncryptedShares,
	// or by secret owner for UpdateDecryptedShares.
	Shares map[string][]byte
}

// SignedUpdate is an encoded [RoundUpdate] with the producer's signature over it.
type SignedUpdate struct {
	Update    []byte `cbor:"1,keyasint"`
	Signature []byte `cbor:"2,keyasint"`
}

type updateWire struct {
	Kind UpdateKind `cbor:"1,keyasint"`

	RoundNumber uint64 `cbor:"2,keyasint"`
	RoundID     string `cbor:"3,keyasint"`
	MinerID     string `cbor:"4,keyasint"`

	ActualMiningTime int64 `cbor:"5,keyasint,omitempty"`

	PreviousInValue []byte `cbor:"6,keyasint,omitempty"`
	OutValue        []byte `cbor:"7,keyasint,omitempty"`
	Signature       []byte `cbor:"8,keyasint,omitempty"`

	InValue []byte `cbor:"9,keyasint,omitempty"`

	Shares map[string][]byte `cbor:"10,keyasint,omitempty"`
}

// EncodeUpdate returns the canonical encoding of u.
// Identical updates always encode to identical bytes,
// so the encoding may be signed.
func EncodeUpdate(u RoundUpdate) ([]byte, error) {
	if err := validateUpdate(u); err != nil {
		return nil, err
	}

	w := updateWire{
		Kind: u.Kind,

		RoundNumber: u.RoundNumber,
		RoundID:     u.RoundID,
		MinerID:     u.MinerID,

		PreviousInValue: u.PreviousInValue,
		OutValue:        u.OutValue,
		Signature:       u.Signature,

		InValue: u.InValue,

		Shares: u.Shares,
	}
	if !u.ActualMiningTime.IsZero() {
		w.ActualMiningTime = u.ActualMiningTime.UnixNano()
	}
	return encMode.Marshal(w)
}

// DecodeUpdate decodes an update encoded by [EncodeUpdate].
func DecodeUpdate(b []byte) (RoundUpdate, error) {
	var w updateWire
	if err := decMode.Unmarshal(b, &w); err != nil {
		return RoundUpdate{}, fmt.Errorf("failed to decode round update: %w", err)
	}

	u := RoundUpdate{
		Kind: w.Kind,

		RoundNumber: w.RoundNumber,
		RoundID:     w.RoundID,
		MinerID:     w.MinerID,

		PreviousInValue: w.PreviousInValue,
		OutValue:        w.OutValue,
		Signature:       w.Signature,

		InValue: w.InValue,

		Shares: w.Shares,
	}
	if w.ActualMiningTime != 0 {
		u.ActualMiningTime = fromNanos(w.ActualMiningTime)
	}

	if err := validateUpdate(u); err != nil {
		return RoundUpdate{}, err
	}
	return u, nil
}

// EncodeSignedUpdate encodes the envelope s.
func EncodeSignedUpdate(s SignedUpdate) ([]byte, error) {
	return encMode.Marshal(s)
}

// DecodeSignedUpdate decodes an envelope encoded by [EncodeSignedUpdate].
// The signature is not checked.
func DecodeSignedUpdate(b []byte) (SignedUpdate, error) {
	var s SignedUpdate
	if err := decMode.Unmarshal(b, &s); err != nil {
		return SignedUpdate{}, fmt.Errorf("failed to decode signed update: %w", err)
	}
	if len(s.Update) == 0 {
		return SignedUpdate{}, errors.New("signed update has no body")
	}
	return s, nil
}

func validateUpdate(u RoundUpdate) error {
	if u.MinerID == "" {
		return errors.New("round update has no miner ID")
	}
	if u.RoundNumber == 0 {
		return errors.New("round update has no round number")
	}

	switch u.Kind {
	case UpdateNormalBlock:
		if len(u.OutValue) == 0 {
			return errors.New("normal block update has no out value")
		}
		if u.ActualMiningTime.IsZero() {
			return errors.New("normal block update has no mining time")
		}
	case UpdateTinyBlock, UpdateExtraBlock:
		if u.ActualMiningTime.IsZero() {
			return fmt.Errorf("%s update has no mining time", u.Kind)
		}
	case UpdateEncryptedShares, UpdateDecryptedShares:
		if len(u.Shares) == 0 {
			return fmt.Errorf("%s update has no shares", u.Kind)
		}
	case UpdateReveal:
		if len(u.InValue) == 0 {
			return errors.New("reveal update has no in value")
		}
	default:
		return fmt.Errorf("invalid update kind %d", u.Kind)
	}
	return nil
}
