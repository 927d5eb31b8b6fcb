package util

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/tradewell/go-exchange-vault/types"
	"golang.org/x/crypto/scrypt"
)

const (
	MasterKeyLength = 32 // bytes, AES-256
)

var (
	scryptN   = 32768 // N = CPU/memory cost parameter (suitable as of 2017)
	scryptR   = 8     // r and p must satisfy r * p < 2^30
	scryptP   = 1
	scryptLen = MasterKeyLength
)

// AesGcmSeal encrypts plaintext under a 32 byte key with a fresh random
// nonce. GCM authenticates the ciphertext, so any bit flip in storage is
// detected on open rather than silently accepted.
func AesGcmSeal(key []byte, plaintext []byte) (nonce []byte, ciphertext []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}
	ciphertext = gcm.Seal(nil, nonce, plaintext, nil)
	return nonce, ciphertext, nil
}

// AesGcmOpen decrypts and authenticates. Any failure collapses to
// ErrDecryption; no partial plaintext ever escapes.
func AesGcmOpen(key []byte, nonce []byte, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, types.ErrDecryption
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, types.ErrDecryption
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, types.ErrDecryption
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, types.ErrDecryption
	}
	return plaintext, nil
}

// HmacSha256 computes HMAC-SHA256(key, message)
func HmacSha256(key []byte, message []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return mac.Sum(nil)
}

// HmacSha256Hex computes hex(HMAC-SHA256(key, message))
func HmacSha256Hex(key []byte, message []byte) string {
	return hex.EncodeToString(HmacSha256(key, message))
}

// HmacSha256Base64 computes base64(HMAC-SHA256(key, message))
func HmacSha256Base64(key []byte, message []byte) string {
	return base64.StdEncoding.EncodeToString(HmacSha256(key, message))
}

// GenerateMasterKey returns a random 32 byte vault master key
func GenerateMasterKey() ([]byte, error) {
	key := make([]byte, MasterKeyLength)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// DeriveMasterKey derives a 32 byte master key from an operator
// passphrase and salt, for deployments without a secret manager
func DeriveMasterKey(passphrase string, salt []byte) ([]byte, error) {
	return scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, scryptLen)
}

// DecodeMasterKey parses a base64 encoded master key and checks its length
func DecodeMasterKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	if len(key) != MasterKeyLength {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", MasterKeyLength, len(key))
	}
	return key, nil
}

// Sha256Hex returns the sha256 hash of the data as a hex string
func Sha256Hex(data []byte) string {
	hash := sha256.New()
	hash.Write(data)
	sum := hash.Sum(nil)
	return hex.EncodeToString(sum)
}
