// Package gblsminsig provides a BLS12-381 [gcrypto.PubKey] and [gcrypto.Signer]
// with minimized signatures, backed by [github.com/supranational/blst/bindings/go].
//
// Miners sign every round update they publish,
// so signatures are kept on the smaller G1 group and keys on G2.
//
// The blst dependency requires CGo,
// so therefore this package also requires CGo.
//
// See [RFC9380] (Hashing to Elliptic Curves)
// and the IETF draft for [BLS Signatures].
//
// [RFC9380]: https://www.rfc-editor.org/rfc/rfc9380.html
// [BLS Signatures]: https://datatracker.ietf.org/doc/html/draft-irtf-cfrg-bls-signature-05
package gblsminsig
