// Package crypto provides the identity and sealing primitives for the
// web3cupid protocol.
//
// Participants are identified by Ed25519 key pairs; the account address is
// derived from the public key and keys all per-user ledger state. Mutating
// ledger submissions travel inside Signed[T] envelopes whose signature covers
// the serialized payload and the signer's public key, so the ledger node can
// recover the caller address without any separate authentication layer.
//
// The ECIES construction (ephemeral P-256 ECDH + AES-256-GCM) serves two
// purposes: sealing private read results to a caller-chosen permit key, and
// end-to-end encrypting message content between matched parties before it is
// submitted to the ledger as opaque bytes.
package crypto
