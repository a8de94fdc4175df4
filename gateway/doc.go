// Package gateway defines the encryption co-processor interface the matching
// protocol depends on, and an in-memory implementation of it.
//
// The protocol never handles plaintext attributes: clients encrypt scalars
// through a Gateway before submission, and every private read returns a value
// sealed under a caller-supplied permit key. The permit's private half stays
// with the caller, so decryption is strictly client-side.
//
// InMemoryGateway stands in for an external FHE co-processor. It preserves the
// disclosure policy (ciphertexts are opaque without the gateway key, sealed
// values are opaque without the permit key) while evaluating the arithmetic
// in the clear internally.
package gateway
