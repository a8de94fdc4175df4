package crypto

import (
	"encoding/json"
	"errors"
	"io"
)

// Signed provides authentication for ledger submissions.
// Security: Uses Ed25519 signatures. Assumes private keys are secure.
// Note: Signature covers serialized object + public key to prevent substitution.
type Signed[T any] struct {
	PublicKey PublicKey `json:"public_key"`
	Signature Signature `json:"signature"`
	Object    *T        `json:"object"`
}

// NewSigned creates a signed envelope around obj.
func NewSigned[T any](privkey PrivateKey, obj *T) (*Signed[T], error) {
	pubkey, err := privkey.PublicKey()
	if err != nil {
		return nil, err
	}

	serialized, err := SerializeMessage(obj)
	if err != nil {
		return nil, err
	}

	signature, err := Sign(privkey, append(serialized, pubkey...))
	if err != nil {
		return nil, err
	}

	return &Signed[T]{
		PublicKey: pubkey,
		Signature: signature,
		Object:    obj,
	}, nil
}

// UnsafeObject returns the object without signature verification.
func (s *Signed[T]) UnsafeObject() *T {
	return s.Object
}

// Recover verifies the signature and returns the object and signer's public key.
func (s *Signed[T]) Recover() (*T, PublicKey, error) {
	serialized, err := SerializeMessage(s.Object)
	if err != nil {
		return nil, nil, err
	}

	if !s.Signature.Verify(s.PublicKey, append(serialized, s.PublicKey...)) {
		return nil, nil, errors.New("signature not valid")
	}

	return s.Object, s.PublicKey, nil
}

// UnmarshalMessage deserializes a message from JSON bytes.
func UnmarshalMessage[T any](data []byte) (*T, error) {
	var msg T
	err := json.Unmarshal(data, &msg)
	return &msg, err
}

// DecodeMessage deserializes a message from a JSON reader.
func DecodeMessage[T any](reader io.Reader) (*T, error) {
	var msg T
	err := json.NewDecoder(reader).Decode(&msg)
	return &msg, err
}

// SerializeMessage serializes a message to JSON bytes.
func SerializeMessage[T any](msg *T) ([]byte, error) {
	return json.Marshal(msg)
}
