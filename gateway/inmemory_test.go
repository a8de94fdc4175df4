package gateway

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestGateway(t *testing.T) *InMemoryGateway {
	t.Helper()
	g, err := NewInMemoryGateway()
	require.NoError(t, err)
	return g
}

func TestEncryptRangeChecks(t *testing.T) {
	g := newTestGateway(t)

	_, err := g.Encrypt(255, Uint8)
	require.NoError(t, err)

	_, err = g.Encrypt(256, Uint8)
	require.Error(t, err)

	_, err = g.Encrypt(70000, Uint16)
	require.Error(t, err)

	_, err = g.Encrypt(70000, Uint64)
	require.NoError(t, err)

	_, err = g.Encrypt(1, ScalarType("float32"))
	require.Error(t, err)
}

func TestSealedDecryptRoundtrip(t *testing.T) {
	g := newTestGateway(t)

	ct, err := g.Encrypt(7, Uint8)
	require.NoError(t, err)

	permitKey, permit, err := GeneratePermit()
	require.NoError(t, err)

	sealed, err := g.SealedDecrypt(ct, permit)
	require.NoError(t, err)

	value, err := Unseal(permitKey, sealed)
	require.NoError(t, err)
	require.Equal(t, uint64(7), value)
}

func TestSealedValueNeedsMatchingPermit(t *testing.T) {
	g := newTestGateway(t)

	ct, err := g.Encrypt(9, Uint8)
	require.NoError(t, err)

	_, permit, err := GeneratePermit()
	require.NoError(t, err)
	otherKey, _, err := GeneratePermit()
	require.NoError(t, err)

	sealed, err := g.SealedDecrypt(ct, permit)
	require.NoError(t, err)

	_, err = Unseal(otherKey, sealed)
	require.Error(t, err)
}

func TestArithmetic(t *testing.T) {
	g := newTestGateway(t)

	a, err := g.Encrypt(10, Uint64)
	require.NoError(t, err)
	b, err := g.Encrypt(32, Uint64)
	require.NoError(t, err)

	sum, err := g.Add(a, b)
	require.NoError(t, err)

	ge, err := g.CmpGE(sum, 42)
	require.NoError(t, err)
	require.True(t, ge)

	ge, err = g.CmpGE(sum, 43)
	require.NoError(t, err)
	require.False(t, ge)

	diff, err := g.SubPlain(sum, 2)
	require.NoError(t, err)

	avg, err := g.DivPlain(diff, 10)
	require.NoError(t, err)

	permitKey, permit, err := GeneratePermit()
	require.NoError(t, err)
	sealed, err := g.SealedDecrypt(avg, permit)
	require.NoError(t, err)
	v, err := Unseal(permitKey, sealed)
	require.NoError(t, err)
	require.Equal(t, uint64(4), v)
}

func TestSubPlainUnderflow(t *testing.T) {
	g := newTestGateway(t)

	ct, err := g.Encrypt(5, Uint64)
	require.NoError(t, err)

	_, err = g.SubPlain(ct, 6)
	require.Error(t, err)
}

func TestDivPlainByZero(t *testing.T) {
	g := newTestGateway(t)

	ct, err := g.Encrypt(5, Uint64)
	require.NoError(t, err)

	_, err = g.DivPlain(ct, 0)
	require.Error(t, err)
}

func TestForeignCiphertextRejected(t *testing.T) {
	g1 := newTestGateway(t)
	g2 := newTestGateway(t)

	ct, err := g1.Encrypt(5, Uint8)
	require.NoError(t, err)

	// Ciphertexts are bound to the instance that produced them.
	_, err = g2.CmpGE(ct, 1)
	require.Error(t, err)

	_, err = g2.CmpGE(nil, 1)
	require.ErrorIs(t, err, ErrNoCiphertext)
}

func TestFixedKeySurvivesRestart(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}

	g1, err := NewInMemoryGatewayWithKey(key)
	require.NoError(t, err)

	ct, err := g1.Encrypt(42, Uint64)
	require.NoError(t, err)

	// A second instance built from the same key opens the ciphertext.
	g2, err := NewInMemoryGatewayWithKey(key)
	require.NoError(t, err)

	ok, err := g2.CmpGE(ct, 42)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = NewInMemoryGatewayWithKey(key[:16])
	require.Error(t, err)
}
