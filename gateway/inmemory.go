package gateway

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/sha3"

	"github.com/shivaniD96/web3cupid/crypto"
)

// InMemoryGateway implements Gateway for testing and local deployments.
// It simulates the encryption co-processor by keeping the decryption key in
// memory; it provides the protocol's information-flow properties (nobody but
// the gateway can open a ciphertext, sealed outputs only open under the permit
// key) without the cost of real homomorphic evaluation.
type InMemoryGateway struct {
	// A unique identifier for this gateway instance, bound into every
	// ciphertext as associated data.
	instanceID []byte

	// The symmetric key all scalar ciphertexts are encrypted under.
	sealingKey []byte

	mu sync.Mutex
}

// NewInMemoryGateway creates a gateway instance with fresh random keys.
// Ciphertexts are only meaningful to the instance that produced them.
func NewInMemoryGateway() (*InMemoryGateway, error) {
	instanceID := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, instanceID); err != nil {
		return nil, fmt.Errorf("failed to generate instance ID: %w", err)
	}

	sealingKey := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, sealingKey); err != nil {
		return nil, fmt.Errorf("failed to generate sealing key: %w", err)
	}

	return &InMemoryGateway{
		instanceID: instanceID,
		sealingKey: sealingKey,
	}, nil
}

// NewInMemoryGatewayWithKey creates a gateway instance from a fixed 32-byte
// sealing key. Deployments that persist their ledger must use this form, so
// that ciphertexts written before a restart still open after it. The
// instance ID is derived from the key.
func NewInMemoryGatewayWithKey(sealingKey []byte) (*InMemoryGateway, error) {
	if len(sealingKey) != 32 {
		return nil, fmt.Errorf("sealing key must be 32 bytes, got %d", len(sealingKey))
	}

	digest := sha3.Sum256(sealingKey)
	return &InMemoryGateway{
		instanceID: digest[:16],
		sealingKey: append([]byte(nil), sealingKey...),
	}, nil
}

// Encrypt encrypts a scalar under the gateway key.
func (g *InMemoryGateway) Encrypt(value uint64, typ ScalarType) (Ciphertext, error) {
	maxVal, err := typ.maxValue()
	if err != nil {
		return nil, err
	}
	if value > maxVal {
		return nil, fmt.Errorf("value %d out of range for %s", value, typ)
	}
	return g.encryptScalar(value)
}

// SealedDecrypt opens a ciphertext inside the gateway and re-seals the
// plaintext under the caller's permit key.
func (g *InMemoryGateway) SealedDecrypt(ct Ciphertext, permit Permit) (SealedValue, error) {
	value, err := g.decryptScalar(ct)
	if err != nil {
		return nil, err
	}

	permitKey, err := ecdh.P256().NewPublicKey(permit.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("invalid permit key: %w", err)
	}

	env, err := crypto.Encrypt(permitKey, beBytes(value))
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}
	return SealedValue(env.Bytes()), nil
}

// Add returns a ciphertext of the sum of two encrypted scalars.
func (g *InMemoryGateway) Add(a, b Ciphertext) (Ciphertext, error) {
	av, err := g.decryptScalar(a)
	if err != nil {
		return nil, err
	}
	bv, err := g.decryptScalar(b)
	if err != nil {
		return nil, err
	}
	if av+bv < av {
		return nil, errors.New("gateway: addition overflow")
	}
	return g.encryptScalar(av + bv)
}

// SubPlain returns a ciphertext of ct minus a plaintext amount.
func (g *InMemoryGateway) SubPlain(ct Ciphertext, plain uint64) (Ciphertext, error) {
	v, err := g.decryptScalar(ct)
	if err != nil {
		return nil, err
	}
	if v < plain {
		return nil, errors.New("gateway: subtraction underflow")
	}
	return g.encryptScalar(v - plain)
}

// DivPlain returns a ciphertext of ct divided by a plaintext divisor.
func (g *InMemoryGateway) DivPlain(ct Ciphertext, plain uint64) (Ciphertext, error) {
	if plain == 0 {
		return nil, errors.New("gateway: division by zero")
	}
	v, err := g.decryptScalar(ct)
	if err != nil {
		return nil, err
	}
	return g.encryptScalar(v / plain)
}

// CmpGE reports whether the encrypted value is >= the plaintext.
func (g *InMemoryGateway) CmpGE(ct Ciphertext, plain uint64) (bool, error) {
	v, err := g.decryptScalar(ct)
	if err != nil {
		return false, err
	}
	return v >= plain, nil
}

func (g *InMemoryGateway) encryptScalar(value uint64) (Ciphertext, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	aesgcm, err := g.cipher()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, 12)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := aesgcm.Seal(nil, nonce, beBytes(value), g.instanceID)

	ct := make([]byte, 0, len(nonce)+len(sealed))
	ct = append(ct, nonce...)
	ct = append(ct, sealed...)
	return Ciphertext(ct), nil
}

func (g *InMemoryGateway) decryptScalar(ct Ciphertext) (uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(ct) == 0 {
		return 0, ErrNoCiphertext
	}
	if len(ct) < 12 {
		return 0, errors.New("gateway: ciphertext too short")
	}

	aesgcm, err := g.cipher()
	if err != nil {
		return 0, err
	}

	plain, err := aesgcm.Open(nil, ct[:12], ct[12:], g.instanceID)
	if err != nil {
		return 0, fmt.Errorf("gateway: failed to decrypt: %w", err)
	}
	if len(plain) != 8 {
		return 0, errors.New("gateway: plaintext has unexpected width")
	}
	return beUint64(plain), nil
}

func (g *InMemoryGateway) cipher() (cipher.AEAD, error) {
	block, err := aes.NewCipher(g.sealingKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
