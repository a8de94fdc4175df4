package protocol

import (
	"encoding/hex"

	"golang.org/x/crypto/sha3"

	"github.com/shivaniD96/web3cupid/crypto"
)

// MatchID is the deterministic identifier of an unordered pair of users,
// rendered as a 0x-prefixed 32-byte hash.
type MatchID string

func (id MatchID) String() string { return string(id) }

// Valid reports whether id is a well-formed match identifier.
func (id MatchID) Valid() bool {
	if len(id) != 66 || id[:2] != "0x" {
		return false
	}
	_, err := hex.DecodeString(string(id[2:]))
	return err == nil
}

// CanonicalPair orders two addresses deterministically. Match records store
// the pair in this order so either submission direction produces the same
// record.
func CanonicalPair(a, b crypto.Address) (crypto.Address, crypto.Address) {
	if b < a {
		return b, a
	}
	return a, b
}

// MatchIDFor computes the commutative match identifier for a pair:
// SHA3-256 over the canonically ordered addresses. MatchIDFor(a, b) equals
// MatchIDFor(b, a) for all a, b.
func MatchIDFor(a, b crypto.Address) MatchID {
	u1, u2 := CanonicalPair(a, b)
	h := sha3.New256()
	h.Write([]byte(u1))
	h.Write([]byte(u2))
	return MatchID("0x" + hex.EncodeToString(h.Sum(nil)))
}
