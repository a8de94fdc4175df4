// Package client provides the participant-side Session: plaintext
// validation, gateway encryption of attributes and ratings, signed
// transaction submission with idempotency keys, end-to-end message
// encryption to the counterparty's exchange key and permit-based private
// reads. Everything the protocol keeps private is decrypted only here.
package client
