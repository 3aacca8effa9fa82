package dpround

import "fmt"

// Validate checks the structural invariants of r:
// every miner has an ID,
// orders form a permutation of 1..N,
// exactly one miner is the extra block producer,
// and expected mining times strictly increase with order.
//
// Rounds built by [NewRound] always pass;
// Validate exists for rounds decoded from untrusted input.
func Validate(r Round) error {
	n := len(r.order)
	if n == 0 || len(r.miners) != n {
		return InvalidOrderingError{
			Reason: fmt.Sprintf("round %d has %d ordered miners and %d slots", r.number, n, len(r.miners)),
		}
	}

	ebp := 0
	for i, id := range r.order {
		if id == "" {
			return InvalidOrderingError{Reason: fmt.Sprintf("empty miner ID at position %d", i+1)}
		}
		s, ok := r.miners[id]
		if !ok {
			return InvalidOrderingError{Reason: fmt.Sprintf("ordered miner %q has no slot", id)}
		}
		if s.Order != i+1 {
			return InvalidOrderingError{
				Reason: fmt.Sprintf("miner %q has order %d at position %d", id, s.Order, i+1),
			}
		}
		if s.IsExtraBlockProducer {
			ebp++
		}
		if i > 0 {
			prev := r.miners[r.order[i-1]]
			if !s.ExpectedMiningTime.After(prev.ExpectedMiningTime) {
				return InvalidOrderingError{
					Reason: fmt.Sprintf("expected mining time of order %d does not follow order %d", i+1, i),
				}
			}
		}
	}

	if ebp != 1 {
		return InvalidOrderingError{
			Reason: fmt.Sprintf("round %d has %d extra block producers", r.number, ebp),
		}
	}
	return nil
}
