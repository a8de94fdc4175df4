// Package protocol implements the coordination core: profile lifecycle,
// preference filters, match making, acceptance, staking, messaging,
// reputation and the token economy.
//
// All authoritative state is derived from an append-only commit log. An
// operation validates against the state at its commit point, appends the
// events it produced and applies them; replaying the log from zero
// reproduces identical projections. Attribute values, ratings, scores and
// token balances only ever exist here as gateway ciphertexts.
package protocol
