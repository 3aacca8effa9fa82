// Package dpround contains the round model for the DPoS consensus core.
//
// A [Round] is an immutable value describing one complete cycle through
// every miner's time slot, plus the single extra block slot that seals the round.
// Every mutating function in this package returns a new Round
// and leaves its input untouched,
// so a Round may be shared freely between goroutines.
//
// The per-miner commit-reveal state is modeled by the [Commitment] variants:
// [Committed], [SharesDistributed], [Revealed], and [Reconstructed].
// A nil Commitment means the miner has not committed in the round.
//
// The errors defined in this package are shared by the other dpos packages,
// so that callers can use [errors.As] against a single set of types.
package dpround
