package dpround

import (
	"bytes"
	"errors"
	"fmt"
	"time"
)

// ApplyNormalConsensusData records miner's normal block in r.
//
// Re-applying identical values returns r unchanged.
// Applying values that differ from what is already recorded
// returns a [ConflictingConsensusDataError].
func ApplyNormalConsensusData(
	r Round,
	minerID string,
	previousInValue, outValue, signature []byte,
	actual time.Time,
) (Round, error) {
	s, ok := r.miners[minerID]
	if !ok {
		return r, UnknownMinerError{MinerID: minerID, RoundNumber: r.number}
	}
	if len(outValue) == 0 {
		return r, errors.New("out value must not be empty")
	}

	if s.Commitment != nil {
		conflict := func(field string) error {
			return ConflictingConsensusDataError{MinerID: minerID, RoundNumber: r.number, Field: field}
		}
		if !bytes.Equal(s.Commitment.OutValue(), outValue) {
			return r, conflict("out value")
		}
		if !bytes.Equal(s.Signature, signature) {
			return r, conflict("signature")
		}
		if !bytes.Equal(s.PreviousInValue, previousInValue) {
			return r, conflict("previous in value")
		}
		if at, _ := s.ActualMiningTime(); !at.Equal(actual) {
			return r, conflict("actual mining time")
		}
		return r, nil
	}

	s = s.clone()
	s.Commitment = Committed{Out: bytes.Clone(outValue)}
	s.Signature = bytes.Clone(signature)
	s.PreviousInValue = bytes.Clone(previousInValue)
	s.ActualMiningTimes = append([]time.Time{actual}, s.ActualMiningTimes...)
	s.ProducedBlocks++

	return r.withSlot(s), nil
}

// ApplyTinyBlock records an additional block produced by minerID
// inside its own slot, after its normal block.
func ApplyTinyBlock(r Round, minerID string, actual time.Time) (Round, error) {
	s, ok := r.miners[minerID]
	if !ok {
		return r, UnknownMinerError{MinerID: minerID, RoundNumber: r.number}
	}
	if s.Commitment == nil {
		return r, fmt.Errorf(
			"miner %q has not produced its normal block in round %d", minerID, r.number,
		)
	}

	latest, _ := s.LatestMiningTime()
	if actual.Equal(latest) {
		return r, nil
	}
	if actual.Before(latest) {
		return r, ConflictingConsensusDataError{
			MinerID: minerID, RoundNumber: r.number, Field: "tiny block time",
		}
	}

	s = s.clone()
	s.ActualMiningTimes = append(s.ActualMiningTimes, actual)
	s.ProducedBlocks++
	return r.withSlot(s), nil
}

// ApplyExtraBlockProduction records the block sealing r.
//
// The producer is normally the flagged extra block producer,
// but a backup miner may seal the round once its arranged time arrives.
// See dpsched.VerifyExtraBlockProducer for that check.
func ApplyExtraBlockProduction(r Round, minerID string, actual time.Time) (Round, error) {
	s, ok := r.miners[minerID]
	if !ok {
		return r, UnknownMinerError{MinerID: minerID, RoundNumber: r.number}
	}

	if r.extraBlockProducedBy != "" {
		if r.extraBlockProducedBy == minerID && r.extraBlockActualTime.Equal(actual) {
			return r, nil
		}
		return r, ConflictingConsensusDataError{
			MinerID: minerID, RoundNumber: r.number, Field: "extra block",
		}
	}

	s = s.clone()
	s.ActualMiningTimes = append(s.ActualMiningTimes, actual)
	s.ProducedBlocks++

	r = r.withSlot(s)
	r.extraBlockProducedBy = minerID
	r.extraBlockActualTime = actual
	return r, nil
}

// ApplyEncryptedShares moves minerID's commitment from [Committed]
// to [SharesDistributed].
func ApplyEncryptedShares(r Round, minerID string, shares map[string][]byte) (Round, error) {
	s, ok := r.miners[minerID]
	if !ok {
		return r, UnknownMinerError{MinerID: minerID, RoundNumber: r.number}
	}
	if len(shares) == 0 {
		return r, errors.New("no encrypted shares")
	}
	for recipient := range shares {
		if recipient == minerID {
			return r, fmt.Errorf("miner %q cannot hold a share of its own secret", minerID)
		}
		if _, ok := r.miners[recipient]; !ok {
			return r, UnknownMinerError{MinerID: recipient, RoundNumber: r.number}
		}
	}

	switch c := s.Commitment.(type) {
	case Committed:
		s = s.clone()
		s.Commitment = SharesDistributed{
			Out:             c.Out,
			EncryptedShares: cloneBytesMap(shares),
		}
		return r.withSlot(s), nil
	case SharesDistributed:
		if equalBytesMap(c.EncryptedShares, shares) {
			return r, nil
		}
	}

	return r, ConflictingConsensusDataError{
		MinerID: minerID, RoundNumber: r.number, Field: "encrypted shares",
	}
}

// ApplyDecryptedShare records that contributorID decrypted its share
// of ownerID's secret.
func ApplyDecryptedShare(r Round, ownerID, contributorID string, share []byte) (Round, error) {
	s, ok := r.miners[ownerID]
	if !ok {
		return r, UnknownMinerError{MinerID: ownerID, RoundNumber: r.number}
	}
	if _, ok := r.miners[contributorID]; !ok {
		return r, UnknownMinerError{MinerID: contributorID, RoundNumber: r.number}
	}
	if ownerID == contributorID {
		return r, fmt.Errorf("miner %q cannot contribute a share of its own secret", ownerID)
	}

	if have, ok := s.DecryptedShares[contributorID]; ok {
		if bytes.Equal(have, share) {
			return r, nil
		}
		return r, ConflictingConsensusDataError{
			MinerID: contributorID, RoundNumber: r.number, Field: "decrypted share",
		}
	}

	s = s.clone()
	if s.DecryptedShares == nil {
		s.DecryptedShares = make(map[string][]byte, 1)
	}
	s.DecryptedShares[contributorID] = bytes.Clone(share)
	return r.withSlot(s), nil
}

// ApplyReveal marks minerID's commitment as [Revealed] by the miner itself.
// The in value must hash to the committed out value.
func ApplyReveal(r Round, minerID string, inValue []byte, hash HashFunc) (Round, error) {
	return applySecret(r, minerID, inValue, hash, false)
}

// ApplyReconstruction marks minerID's commitment as [Reconstructed] from shares.
// A hash mismatch is a [ReconstructionMismatchError].
func ApplyReconstruction(r Round, minerID string, inValue []byte, hash HashFunc) (Round, error) {
	return applySecret(r, minerID, inValue, hash, true)
}

func applySecret(r Round, minerID string, inValue []byte, hash HashFunc, reconstructed bool) (Round, error) {
	s, ok := r.miners[minerID]
	if !ok {
		return r, UnknownMinerError{MinerID: minerID, RoundNumber: r.number}
	}
	if s.Commitment == nil {
		return r, fmt.Errorf("miner %q has no commitment in round %d", minerID, r.number)
	}

	if !bytes.Equal(hash(inValue), s.Commitment.OutValue()) {
		if reconstructed {
			return r, ReconstructionMismatchError{OwnerID: minerID, RoundNumber: r.number}
		}
		return r, ConflictingConsensusDataError{
			MinerID: minerID, RoundNumber: r.number, Field: "in value",
		}
	}

	if have, ok := InValue(s.Commitment); ok {
		// Either path to the same secret is acceptable once the secret is known.
		if bytes.Equal(have, inValue) {
			return r, nil
		}
		// Unreachable with a collision-resistant hash,
		// but report it rather than overwrite.
		return r, ConflictingConsensusDataError{
			MinerID: minerID, RoundNumber: r.number, Field: "in value",
		}
	}

	out := s.Commitment.OutValue()
	s = s.clone()
	if reconstructed {
		s.Commitment = Reconstructed{Out: bytes.Clone(out), In: bytes.Clone(inValue)}
	} else {
		s.Commitment = Revealed{Out: bytes.Clone(out), In: bytes.Clone(inValue)}
	}
	return r.withSlot(s), nil
}

// VerifyPreviousInValue checks that the previous in value minerID carried in cur
// hashes to the out value it committed in prev.
//
// Nothing is checked when cur carries no previous in value
// or when the miner did not commit in prev.
func VerifyPreviousInValue(prev, cur Round, minerID string, hash HashFunc) error {
	s, ok := cur.miners[minerID]
	if !ok {
		return UnknownMinerError{MinerID: minerID, RoundNumber: cur.number}
	}
	if len(s.PreviousInValue) == 0 {
		return nil
	}

	ps, ok := prev.miners[minerID]
	if !ok || ps.Commitment == nil {
		return nil
	}

	if !bytes.Equal(hash(s.PreviousInValue), ps.Commitment.OutValue()) {
		return ConflictingConsensusDataError{
			MinerID: minerID, RoundNumber: cur.number, Field: "previous in value",
		}
	}
	return nil
}
