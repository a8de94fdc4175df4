package crypto

import (
	"crypto/ecdh"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddressDerivation(t *testing.T) {
	pub, priv, err := GenerateKeyPair()
	require.NoError(t, err)

	addr := pub.Address()
	require.True(t, addr.Valid())

	fromPriv, err := priv.Address()
	require.NoError(t, err)
	require.Equal(t, addr, fromPriv)

	// Deterministic across calls
	require.Equal(t, addr, pub.Address())

	otherPub, _, err := GenerateKeyPair()
	require.NoError(t, err)
	require.NotEqual(t, addr, otherPub.Address())
}

func TestAddressValid(t *testing.T) {
	require.False(t, ZeroAddress.Valid())
	require.False(t, Address("0x123").Valid())
	require.False(t, Address("1x0000000000000000000000000000000000000000").Valid())
	require.False(t, Address("0xzz00000000000000000000000000000000000000").Valid())
	require.True(t, Address("0x00112233445566778899aabbccddeeff00112233").Valid())
}

func TestSignVerify(t *testing.T) {
	pub, priv, err := GenerateKeyPair()
	require.NoError(t, err)

	data := []byte("commit me")
	sig, err := Sign(priv, data)
	require.NoError(t, err)
	require.True(t, sig.Verify(pub, data))
	require.False(t, sig.Verify(pub, []byte("something else")))

	otherPub, _, _ := GenerateKeyPair()
	require.False(t, sig.Verify(otherPub, data))
}

type testPayload struct {
	Op     string `json:"op"`
	Amount uint64 `json:"amount"`
}

func TestSignedRecover(t *testing.T) {
	pub, priv, err := GenerateKeyPair()
	require.NoError(t, err)

	signed, err := NewSigned(priv, &testPayload{Op: "deposit", Amount: 42})
	require.NoError(t, err)

	obj, signer, err := signed.Recover()
	require.NoError(t, err)
	require.Equal(t, pub.String(), signer.String())
	require.Equal(t, uint64(42), obj.Amount)

	// Tampering with the payload invalidates the signature.
	signed.Object.Amount = 43
	_, _, err = signed.Recover()
	require.Error(t, err)
}

func TestSignedRejectsSubstitutedKey(t *testing.T) {
	_, priv, err := GenerateKeyPair()
	require.NoError(t, err)

	signed, err := NewSigned(priv, &testPayload{Op: "withdraw", Amount: 1})
	require.NoError(t, err)

	otherPub, _, _ := GenerateKeyPair()
	signed.PublicKey = otherPub
	_, _, err = signed.Recover()
	require.Error(t, err)
}

func TestECIESRoundtrip(t *testing.T) {
	recipient, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)

	plaintext := []byte("gm, nice portfolio range")
	msg, err := Encrypt(recipient.PublicKey(), plaintext)
	require.NoError(t, err)

	// Wire roundtrip
	parsed, err := ParseEncryptedMessage(msg.Bytes())
	require.NoError(t, err)

	recovered, err := Decrypt(recipient, parsed)
	require.NoError(t, err)
	require.Equal(t, plaintext, recovered)
}

func TestECIESWrongKeyFails(t *testing.T) {
	recipient, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	eavesdropper, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)

	msg, err := Encrypt(recipient.PublicKey(), []byte("for your eyes only"))
	require.NoError(t, err)

	_, err = Decrypt(eavesdropper, msg)
	require.Error(t, err)
}

func TestParseEncryptedMessageTooShort(t *testing.T) {
	_, err := ParseEncryptedMessage([]byte("short"))
	require.Error(t, err)
}
