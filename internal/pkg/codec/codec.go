package codec

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/box"
)

const nonceSize = 24

// ErrNoVaultSecretKey is returned when stored data is decrypted by a process
// that does not hold the vault secret key.
var ErrNoVaultSecretKey = errors.New("codec: vault secret key not available")

// Error describes a decoding or decryption failure without exposing key
// material or ciphertext.
type Error struct {
	Kind string
	Msg  string
}

func (e *Error) Error() string {
	return e.Kind + ": " + e.Msg
}

// StorageCodec seals data at rest to the vault public key.
type StorageCodec struct {
	ring *KeyRing
	rand io.Reader
}

func NewStorageCodec(ring *KeyRing) *StorageCodec {
	return &StorageCodec{ring: ring, rand: rand.Reader}
}

// EncryptForStorage seals plaintext with the active vault key and returns the
// id of the key used.
func (c *StorageCodec) EncryptForStorage(plaintext []byte) ([]byte, int, error) {
	key := c.ring.Active()
	sealed, err := box.SealAnonymous(nil, plaintext, key.Public, c.rand)
	if err != nil {
		return nil, 0, fmt.Errorf("codec: seal for storage: %w", err)
	}
	return sealed, key.ID, nil
}

// DecryptFromStorage opens data sealed with key version keyID.
func (c *StorageCodec) DecryptFromStorage(ciphertext []byte, keyID int) ([]byte, error) {
	key, ok := c.ring.Get(keyID)
	if !ok {
		return nil, &Error{Kind: "KeyError", Msg: fmt.Sprintf("unknown encryption key id %d", keyID)}
	}
	if key.Secret == nil {
		return nil, ErrNoVaultSecretKey
	}
	plaintext, ok := box.OpenAnonymous(nil, ciphertext, key.Public, key.Secret)
	if !ok {
		return nil, &Error{Kind: "CryptoError", Msg: "decryption failed; ciphertext failed verification"}
	}
	return plaintext, nil
}

// PlatformCodec is the authenticated box between this service and the
// platform. Messages travel as base64(nonce || box).
type PlatformCodec struct {
	shared [KeySize]byte
	rand   io.Reader
}

func NewPlatformCodec(ownSecret, platformPublic *[KeySize]byte) *PlatformCodec {
	c := &PlatformCodec{rand: rand.Reader}
	box.Precompute(&c.shared, platformPublic, ownSecret)
	return c
}

func (c *PlatformCodec) EncryptForPlatform(plaintext []byte) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(c.rand, nonce[:]); err != nil {
		return "", fmt.Errorf("codec: read nonce: %w", err)
	}
	sealed := box.SealAfterPrecomputation(nonce[:], plaintext, &nonce, &c.shared)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *PlatformCodec) DecryptFromPlatform(encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, &Error{Kind: "DecodeError", Msg: err.Error()}
	}
	if len(raw) < nonceSize+box.Overhead {
		return nil, &Error{Kind: "CryptoError", Msg: "ciphertext too short"}
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plaintext, ok := box.OpenAfterPrecomputation(nil, raw[nonceSize:], &nonce, &c.shared)
	if !ok {
		return nil, &Error{Kind: "CryptoError", Msg: "decryption failed; ciphertext failed verification"}
	}
	return plaintext, nil
}
