package gateway

import (
	"crypto/ecdh"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/shivaniD96/web3cupid/crypto"
)

// ScalarType declares the plaintext width of an encrypted scalar. The gateway
// range-checks values against the declared type before encrypting.
type ScalarType string

const (
	Uint8   ScalarType = "uint8"
	Uint16  ScalarType = "uint16"
	Uint64  ScalarType = "uint64"
	Uint128 ScalarType = "uint128"
)

func (t ScalarType) maxValue() (uint64, error) {
	switch t {
	case Uint8:
		return 1<<8 - 1, nil
	case Uint16:
		return 1<<16 - 1, nil
	case Uint64, Uint128:
		return 1<<64 - 1, nil
	default:
		return 0, fmt.Errorf("unsupported scalar type %q", t)
	}
}

// Ciphertext is an encrypted scalar. It is opaque to everyone but the gateway:
// the ledger node stores and forwards ciphertexts without ever recovering the
// plaintext.
type Ciphertext []byte

// Permit is a caller-generated credential authorizing retrieval of a sealed
// value. It carries the P-256 ECDH public key the result will be sealed under.
type Permit struct {
	PublicKey []byte `json:"public_key"`
}

// SealedValue is a scalar sealed under a permit key. Only the holder of the
// matching private key can recover the plaintext, strictly client-side.
type SealedValue []byte

// ErrNoCiphertext is returned for operations on an empty ciphertext.
var ErrNoCiphertext = errors.New("gateway: empty ciphertext")

// Gateway is the encryption co-processor consumed by the core. Encrypting,
// comparing and re-sealing encrypted scalars all happen here; the core treats
// every result as opaque. A production deployment would back this with an FHE
// co-processor, the in-memory implementation stands in for it.
type Gateway interface {
	// Encrypt encrypts a scalar under the gateway key, range-checking it
	// against the declared type.
	Encrypt(value uint64, typ ScalarType) (Ciphertext, error)

	// SealedDecrypt re-encrypts a ciphertext's plaintext under the permit
	// key so only the permit holder can open it.
	SealedDecrypt(ct Ciphertext, permit Permit) (SealedValue, error)

	// Add returns a ciphertext of the sum of two encrypted scalars.
	Add(a, b Ciphertext) (Ciphertext, error)

	// SubPlain returns a ciphertext of ct minus a plaintext amount.
	// Fails if the encrypted value is smaller than the amount.
	SubPlain(ct Ciphertext, plain uint64) (Ciphertext, error)

	// DivPlain returns a ciphertext of ct divided by a plaintext divisor.
	DivPlain(ct Ciphertext, plain uint64) (Ciphertext, error)

	// CmpGE reports whether the encrypted value is >= the plaintext. The
	// comparison result is the only bit the gateway discloses.
	CmpGE(ct Ciphertext, plain uint64) (bool, error)
}

// GeneratePermit creates a fresh permit and the private key that can unseal
// values sealed under it. The private key never leaves the caller.
func GeneratePermit() (*ecdh.PrivateKey, Permit, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, Permit{}, fmt.Errorf("generate permit key: %w", err)
	}
	return priv, Permit{PublicKey: priv.PublicKey().Bytes()}, nil
}

// Unseal recovers the plaintext scalar from a sealed value using the permit's
// private key. This is the client-side half of every private read.
func Unseal(permitKey *ecdh.PrivateKey, sealed SealedValue) (uint64, error) {
	env, err := crypto.ParseEncryptedMessage(sealed)
	if err != nil {
		return 0, err
	}
	plain, err := crypto.Decrypt(permitKey, env)
	if err != nil {
		return 0, err
	}
	if len(plain) != 8 {
		return 0, errors.New("sealed value has unexpected width")
	}
	return beUint64(plain), nil
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

func beBytes(v uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}
