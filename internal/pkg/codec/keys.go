package codec

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"sort"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

const KeySize = 32

// ParseKey decodes a base64 encoded 32-byte key.
func ParseKey(encoded string) (*[KeySize]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, &Error{Kind: "DecodeError", Msg: fmt.Sprintf("invalid key encoding: %v", err)}
	}
	if len(raw) != KeySize {
		return nil, &Error{Kind: "KeyError", Msg: fmt.Sprintf("key must be %d bytes, got %d", KeySize, len(raw))}
	}
	var key [KeySize]byte
	copy(key[:], raw)
	return &key, nil
}

// EncodeKey is the inverse of ParseKey.
func EncodeKey(key *[KeySize]byte) string {
	return base64.StdEncoding.EncodeToString(key[:])
}

// PublicKeyFor derives the X25519 public key of secret.
func PublicKeyFor(secret *[KeySize]byte) (*[KeySize]byte, error) {
	pub, err := curve25519.X25519(secret[:], curve25519.Basepoint)
	if err != nil {
		return nil, &Error{Kind: "KeyError", Msg: err.Error()}
	}
	var out [KeySize]byte
	copy(out[:], pub)
	return &out, nil
}

// Keypair holds base64 encoded key material.
type Keypair struct {
	Secret string `json:"secret"`
	Public string `json:"public"`
}

// KeypairPair is two related keypairs, one per side of a relationship.
type KeypairPair struct {
	A Keypair `json:"a"`
	B Keypair `json:"b"`
}

// GenerateKeypairPair provisions two fresh keypairs. A nil reader uses
// crypto/rand.
func GenerateKeypairPair(r io.Reader) (KeypairPair, error) {
	if r == nil {
		r = rand.Reader
	}
	a, err := generateKeypair(r)
	if err != nil {
		return KeypairPair{}, err
	}
	b, err := generateKeypair(r)
	if err != nil {
		return KeypairPair{}, err
	}
	return KeypairPair{A: a, B: b}, nil
}

func generateKeypair(r io.Reader) (Keypair, error) {
	pub, secret, err := box.GenerateKey(r)
	if err != nil {
		return Keypair{}, fmt.Errorf("generate keypair: %w", err)
	}
	return Keypair{Secret: EncodeKey(secret), Public: EncodeKey(pub)}, nil
}

// StorageKey is one version of the vault keypair. Secret is nil when the
// vault secret key is kept offline.
type StorageKey struct {
	ID     int
	Public *[KeySize]byte
	Secret *[KeySize]byte
}

// KeyRing holds every storage key version by encryption_key_id.
type KeyRing struct {
	active int
	keys   map[int]StorageKey
}

func NewKeyRing(activeID int, keys ...StorageKey) (*KeyRing, error) {
	ring := &KeyRing{active: activeID, keys: make(map[int]StorageKey, len(keys))}
	for _, k := range keys {
		if k.Public == nil {
			return nil, fmt.Errorf("codec: storage key %d has no public key", k.ID)
		}
		if _, dup := ring.keys[k.ID]; dup {
			return nil, fmt.Errorf("codec: duplicate storage key id %d", k.ID)
		}
		ring.keys[k.ID] = k
	}
	if _, ok := ring.keys[activeID]; !ok {
		return nil, fmt.Errorf("codec: active storage key %d not configured", activeID)
	}
	return ring, nil
}

func (r *KeyRing) Active() StorageKey {
	return r.keys[r.active]
}

func (r *KeyRing) Get(id int) (StorageKey, bool) {
	k, ok := r.keys[id]
	return k, ok
}

// IDs returns the configured key ids in ascending order.
func (r *KeyRing) IDs() []int {
	ids := make([]int, 0, len(r.keys))
	for id := range r.keys {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
