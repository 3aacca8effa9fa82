package dpround

import (
	"crypto/sha256"

	"github.com/zeebo/blake3"
)

// HashFunc is the collision-resistant hash binding a secret to its commitment:
// out value = HashFunc(in value).
//
// Every node of a chain must use the same HashFunc.
type HashFunc func([]byte) []byte

// SHA256 is the default [HashFunc].
func SHA256(b []byte) []byte {
	h := sha256.Sum256(b)
	return h[:]
}

// BLAKE3 is a [HashFunc] producing 32-byte BLAKE3 digests.
func BLAKE3(b []byte) []byte {
	h := blake3.Sum256(b)
	return h[:]
}

// HashFuncByName returns the named hash function,
// for use in configuration files.
func HashFuncByName(name string) (HashFunc, bool) {
	switch name {
	case "", "sha256":
		return SHA256, true
	case "blake3":
		return BLAKE3, true
	default:
		return nil, false
	}
}
