package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Ed25519PrivateKey signs with Ed25519.
type Ed25519PrivateKey struct {
	privateKey ed25519.PrivateKey
	publicKey  *Ed25519PublicKey
}

// GenerateEd25519 creates a new random Ed25519 key.
func GenerateEd25519() (*Ed25519PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return ed25519PrivateFromSeed(priv.Seed())
}

func ed25519PrivateFromSeed(seed []byte) (*Ed25519PrivateKey, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: ed25519 seed size: got %d, want %d", ErrInvalidKey, len(seed), ed25519.SeedSize)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Ed25519PrivateKey{
		privateKey: priv,
		publicKey:  &Ed25519PublicKey{key: priv.Public().(ed25519.PublicKey)},
	}, nil
}

func (k *Ed25519PrivateKey) Type() KeyType     { return Ed25519VerificationKey2018 }
func (k *Ed25519PrivateKey) Bytes() []byte     { return k.privateKey.Seed() }
func (k *Ed25519PrivateKey) Public() PublicKey { return k.publicKey }
func (k *Ed25519PrivateKey) DER() string {
	return ed25519PrivateDERPrefix + hex.EncodeToString(k.Bytes())
}

// Sign creates an Ed25519 signature over the given data.
func (k *Ed25519PrivateKey) Sign(data []byte) ([]byte, error) {
	return ed25519.Sign(k.privateKey, data), nil
}

// Ed25519PublicKey verifies Ed25519 signatures.
type Ed25519PublicKey struct {
	key ed25519.PublicKey
}

func ed25519PublicFromBytes(raw []byte) (*Ed25519PublicKey, error) {
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: ed25519 public key size: got %d, want %d", ErrInvalidKey, len(raw), ed25519.PublicKeySize)
	}
	return &Ed25519PublicKey{key: ed25519.PublicKey(append([]byte(nil), raw...))}, nil
}

func (k *Ed25519PublicKey) Type() KeyType { return Ed25519VerificationKey2018 }
func (k *Ed25519PublicKey) Bytes() []byte { return append([]byte(nil), k.key...) }
func (k *Ed25519PublicKey) DER() string {
	return ed25519PublicDERPrefix + hex.EncodeToString(k.key)
}

func (k *Ed25519PublicKey) Verify(message, signature []byte) bool {
	return len(signature) == ed25519.SignatureSize && ed25519.Verify(k.key, message, signature)
}

var (
	_ PrivateKey = (*Ed25519PrivateKey)(nil)
	_ PublicKey  = (*Ed25519PublicKey)(nil)
)
