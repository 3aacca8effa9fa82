package dpround

import (
	"errors"
	"fmt"
)

// UnknownMinerError is returned when an operation references
// a miner that is not part of the round.
type UnknownMinerError struct {
	MinerID     string
	RoundNumber uint64
}

func (e UnknownMinerError) Error() string {
	return fmt.Sprintf("miner %q is not in round %d", e.MinerID, e.RoundNumber)
}

// ConflictingConsensusDataError is returned when an operation
// would overwrite data already recorded in a miner's slot with a different value.
type ConflictingConsensusDataError struct {
	MinerID     string
	RoundNumber uint64

	// Field names the slot value that conflicted.
	Field string
}

func (e ConflictingConsensusDataError) Error() string {
	return fmt.Sprintf(
		"conflicting %s for miner %q in round %d",
		e.Field, e.MinerID, e.RoundNumber,
	)
}

// RoundTransitionPreconditionError is returned when a round or term advance
// is attempted before its conditions are met.
// It is recoverable: the caller should retry later with updated input.
type RoundTransitionPreconditionError struct {
	RoundNumber uint64
	Reason      string
}

func (e RoundTransitionPreconditionError) Error() string {
	return fmt.Sprintf("cannot advance from round %d: %s", e.RoundNumber, e.Reason)
}

// InsufficientSharesError is returned when reconstruction of a secret
// is attempted with fewer decrypted shares than the threshold.
type InsufficientSharesError struct {
	OwnerID string
	Have    int
	Need    int
}

func (e InsufficientSharesError) Error() string {
	return fmt.Sprintf(
		"insufficient shares to reconstruct secret of miner %q: have %d, need %d",
		e.OwnerID, e.Have, e.Need,
	)
}

// ReconstructionMismatchError indicates that a reconstructed secret
// does not hash to the out value its owner committed.
// This is consensus-critical:
// a block carrying such a reconstruction must be rejected.
type ReconstructionMismatchError struct {
	OwnerID     string
	RoundNumber uint64
}

func (e ReconstructionMismatchError) Error() string {
	return fmt.Sprintf(
		"reconstructed in value of miner %q does not match commitment in round %d",
		e.OwnerID, e.RoundNumber,
	)
}

// InvalidOrderingError indicates a malformed miner order,
// detected while constructing or validating a round.
type InvalidOrderingError struct {
	Reason string
}

func (e InvalidOrderingError) Error() string {
	return "invalid miner ordering: " + e.Reason
}

// IsConsensusCritical reports whether err must cause the offending
// block or transaction to be rejected.
func IsConsensusCritical(err error) bool {
	var rm ReconstructionMismatchError
	if errors.As(err, &rm) {
		return true
	}
	var io InvalidOrderingError
	return errors.As(err, &io)
}

// IsRetryable reports whether err only signals that the caller was too early.
func IsRetryable(err error) bool {
	var pe RoundTransitionPreconditionError
	return errors.As(err, &pe)
}
