package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/sha3"
)

// PublicKey identifies a participant. Every profile, like, stake balance and
// token account is keyed by the address derived from one of these.
// The implementation uses Ed25519 public keys.
type PublicKey []byte

// NewPublicKeyFromBytes creates a PublicKey from a byte slice.
// The input is copied to ensure immutability.
func NewPublicKeyFromBytes(data []byte) PublicKey {
	pk := make([]byte, len(data))
	copy(pk, data)
	return PublicKey(pk)
}

// NewPublicKeyFromString creates a PublicKey from a hex-encoded string.
func NewPublicKeyFromString(data string) (PublicKey, error) {
	rawBytes, err := hex.DecodeString(data)
	if err != nil {
		return PublicKey{}, err
	}
	return NewPublicKeyFromBytes(rawBytes), nil
}

// Bytes returns the public key as a byte slice.
func (pk PublicKey) Bytes() []byte {
	return pk
}

// Equal compares two public keys for equality.
func (pk PublicKey) Equal(other PublicKey) bool {
	return subtle.ConstantTimeCompare(pk, other) == 1
}

// String returns a hex-encoded representation of the public key.
func (pk PublicKey) String() string {
	return hex.EncodeToString(pk)
}

// Address derives the 20-byte account address for this public key:
// the last 20 bytes of the SHA3-256 digest, rendered 0x-prefixed.
func (pk PublicKey) Address() Address {
	digest := sha3.Sum256(pk)
	return Address("0x" + hex.EncodeToString(digest[12:]))
}

// Address is a lowercase 0x-prefixed account identifier. Addresses key all
// per-user ledger state and appear in plaintext on the ledger; they reveal
// nothing about the encrypted attributes behind them.
type Address string

// ZeroAddress is the absent-party placeholder.
const ZeroAddress Address = ""

// Valid reports whether a is a well-formed address.
func (a Address) Valid() bool {
	if len(a) != 42 || !strings.HasPrefix(string(a), "0x") {
		return false
	}
	_, err := hex.DecodeString(string(a[2:]))
	return err == nil
}

func (a Address) String() string { return string(a) }

// PrivateKey is a participant's signing key. It never leaves the client.
type PrivateKey []byte

// NewPrivateKeyFromBytes creates a PrivateKey from a byte slice.
// The input is copied to ensure immutability.
func NewPrivateKeyFromBytes(data []byte) PrivateKey {
	sk := make([]byte, len(data))
	copy(sk, data)
	return PrivateKey(sk)
}

// NewPrivateKeyFromString creates a PrivateKey from a hex-encoded string.
func NewPrivateKeyFromString(data string) (PrivateKey, error) {
	rawBytes, err := hex.DecodeString(data)
	if err != nil {
		return PrivateKey{}, err
	}
	return NewPrivateKeyFromBytes(rawBytes), nil
}

// Bytes returns the private key material. Handle with care.
func (sk PrivateKey) Bytes() []byte {
	return sk
}

// PublicKey derives the public key corresponding to this private key.
// For Ed25519 the public half is embedded in the private key structure.
func (sk PrivateKey) PublicKey() (PublicKey, error) {
	if len(sk) < ed25519.PrivateKeySize {
		return nil, errors.New("invalid private key size")
	}
	return PublicKey(sk[32:]), nil
}

// Address derives the account address for this private key.
func (sk PrivateKey) Address() (Address, error) {
	pk, err := sk.PublicKey()
	if err != nil {
		return ZeroAddress, err
	}
	return pk.Address(), nil
}

// GenerateKeyPair generates a new Ed25519 identity key pair.
func GenerateKeyPair() (PublicKey, PrivateKey, error) {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return PublicKey(publicKey), PrivateKey(privateKey), nil
}

// Signature authenticates a ledger submission. Every mutating transaction
// carries one; the recovered signer determines the caller address.
type Signature []byte

// NewSignature creates a Signature from a byte slice.
// The input is copied to ensure immutability.
func NewSignature(data []byte) Signature {
	sig := make([]byte, len(data))
	copy(sig, data)
	return Signature(sig)
}

// Bytes returns the signature as a byte slice.
func (s Signature) Bytes() []byte {
	return []byte(s)
}

// Verify checks the signature over data against the given public key.
func (s Signature) Verify(publicKey PublicKey, data []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), data, s)
}

// String returns a hex-encoded representation of the signature.
func (s Signature) String() string {
	return hex.EncodeToString(s.Bytes())
}

// Sign signs data with the given private key using Ed25519.
func Sign(privateKey PrivateKey, data []byte) (Signature, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, errors.New("invalid private key size")
	}
	signature := ed25519.Sign(ed25519.PrivateKey(privateKey), data)
	return Signature(signature), nil
}
