package types

import (
	"encoding/base64"

	"github.com/fxamacker/cbor/v2"
)

// Envelope is the persisted unit of secret material: AES-256-GCM output
// plus the master key version that produced it. Stored in CouchDB
// documents as base64 over a compact CBOR encoding.
type Envelope struct {
	KeyVersion int    `json:"keyVersion" cbor:"v"`
	Nonce      []byte `json:"-" cbor:"n"`
	Ciphertext []byte `json:"-" cbor:"c"`
}

// Encode serializes the envelope to its storage representation
func (e *Envelope) Encode() (string, error) {
	data, err := cbor.Marshal(e)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeEnvelope parses the storage representation of an envelope.
// A malformed value is reported as ErrDecryption, the same failure class
// as a bad authentication tag.
func DecodeEnvelope(encoded string) (*Envelope, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrDecryption
	}
	var env Envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return nil, ErrDecryption
	}
	return &env, nil
}

// MasterKey is one registered vault key. Raw key bytes never leave the
// process; the version travels with every envelope instead.
type MasterKey struct {
	Version int
	Key     []byte // 32 bytes
}
