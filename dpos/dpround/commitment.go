package dpround

import (
	"bytes"
	"maps"
	"slices"
)

// Phase identifies the variant of a [Commitment].
type Phase uint8

const (
	PhaseNone Phase = iota
	PhaseCommitted
	PhaseSharesDistributed
	PhaseRevealed
	PhaseReconstructed
)

func (p Phase) String() string {
	switch p {
	case PhaseNone:
		return "None"
	case PhaseCommitted:
		return "Committed"
	case PhaseSharesDistributed:
		return "SharesDistributed"
	case PhaseRevealed:
		return "Revealed"
	case PhaseReconstructed:
		return "Reconstructed"
	default:
		return "Unknown"
	}
}

// Commitment is the commit-reveal state of one miner in one round.
//
// The set of implementations is closed;
// a nil Commitment means the miner has not committed yet.
type Commitment interface {
	Phase() Phase

	// OutValue is the hash of the secret committed in the round.
	OutValue() []byte

	clone() Commitment
}

// Committed is the state after the miner produced its block in the round.
type Committed struct {
	Out []byte
}

func (c Committed) Phase() Phase      { return PhaseCommitted }
func (c Committed) OutValue() []byte  { return c.Out }
func (c Committed) clone() Commitment { return Committed{Out: bytes.Clone(c.Out)} }

// SharesDistributed is the state after the miner also published
// encrypted shares of its secret, one per other miner.
type SharesDistributed struct {
	Out []byte

	// Keyed by recipient miner ID.
	EncryptedShares map[string][]byte
}

func (c SharesDistributed) Phase() Phase     { return PhaseSharesDistributed }
func (c SharesDistributed) OutValue() []byte { return c.Out }
func (c SharesDistributed) clone() Commitment {
	return SharesDistributed{
		Out:             bytes.Clone(c.Out),
		EncryptedShares: cloneBytesMap(c.EncryptedShares),
	}
}

// Revealed is the state after the miner itself revealed its secret.
type Revealed struct {
	Out []byte
	In  []byte
}

func (c Revealed) Phase() Phase      { return PhaseRevealed }
func (c Revealed) OutValue() []byte  { return c.Out }
func (c Revealed) clone() Commitment { return Revealed{Out: bytes.Clone(c.Out), In: bytes.Clone(c.In)} }

// Reconstructed is the state after other miners recovered the secret
// from decrypted shares, because the owner did not reveal it in time.
type Reconstructed struct {
	Out []byte
	In  []byte
}

func (c Reconstructed) Phase() Phase     { return PhaseReconstructed }
func (c Reconstructed) OutValue() []byte { return c.Out }
func (c Reconstructed) clone() Commitment {
	return Reconstructed{Out: bytes.Clone(c.Out), In: bytes.Clone(c.In)}
}

// PhaseOf returns the phase of c, treating nil as [PhaseNone].
func PhaseOf(c Commitment) Phase {
	if c == nil {
		return PhaseNone
	}
	return c.Phase()
}

// InValue returns the secret behind c,
// if it has been revealed or reconstructed.
func InValue(c Commitment) ([]byte, bool) {
	switch c := c.(type) {
	case Revealed:
		return c.In, true
	case Reconstructed:
		return c.In, true
	default:
		return nil, false
	}
}

func cloneCommitment(c Commitment) Commitment {
	if c == nil {
		return nil
	}
	return c.clone()
}

func cloneBytesMap(m map[string][]byte) map[string][]byte {
	if m == nil {
		return nil
	}
	out := make(map[string][]byte, len(m))
	for k, v := range m {
		out[k] = bytes.Clone(v)
	}
	return out
}

func equalBytesMap(a, b map[string][]byte) bool {
	return maps.EqualFunc(a, b, bytes.Equal)
}

// sortedKeys returns the keys of m in lexicographic order.
func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
