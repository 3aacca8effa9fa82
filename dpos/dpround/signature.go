package dpround

// CalculateSignature returns the signature a miner reports in the round after prev,
// given the in value it reveals for prev.
//
// The result mixes every signature recorded in prev with the hash of the in value,
// so no single miner can choose it freely once the others have committed.
func CalculateSignature(prev Round, previousInValue []byte, hash HashFunc) []byte {
	acc := hash(previousInValue)
	for _, id := range prev.order {
		xorInto(acc, prev.miners[id].Signature)
	}
	return hash(acc)
}

// AggregatedSignature hashes every signature recorded in r, in miner order.
// It returns nil if no miner has reported a signature.
func AggregatedSignature(r Round, hash HashFunc) []byte {
	var buf []byte
	for _, id := range r.order {
		buf = append(buf, r.miners[id].Signature...)
	}
	if len(buf) == 0 {
		return nil
	}
	return hash(buf)
}

// xorInto XORs src into dst, repeating src if it is shorter than dst.
func xorInto(dst, src []byte) {
	if len(src) == 0 {
		return
	}
	for i := range dst {
		dst[i] ^= src[i%len(src)]
	}
}
