// Package keys provides the Ed25519 and ECDSA secp256k1 keys accepted by the
// Hedera DID method, with the raw, base58 and DER encodings used on the wire.
package keys

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// KeyType is a verification method type name.
type KeyType string

const (
	Ed25519VerificationKey2018        KeyType = "Ed25519VerificationKey2018"
	EcdsaSecp256k1VerificationKey2019 KeyType = "EcdsaSecp256k1VerificationKey2019"
)

var (
	ErrUnsupportedKeyType = errors.New("unsupported key type")
	ErrInvalidKey         = errors.New("invalid key")
)

// PublicKey verifies signatures produced by the matching PrivateKey.
type PublicKey interface {
	Type() KeyType
	// Bytes returns the raw key: 32 bytes for Ed25519, 33-byte compressed
	// point for secp256k1.
	Bytes() []byte
	Verify(message, signature []byte) bool
	// DER returns the hex DER encoding used by Hedera tooling.
	DER() string
}

// PrivateKey signs messages.
type PrivateKey interface {
	Type() KeyType
	Bytes() []byte
	Public() PublicKey
	Sign(message []byte) ([]byte, error)
	DER() string
}

// DER prefixes for the Hedera key encodings. Raw key bytes follow the prefix.
const (
	ed25519PrivateDERPrefix   = "302e020100300506032b657004220420"
	ed25519PublicDERPrefix    = "302a300506032b6570032100"
	secp256k1PrivateDERPrefix = "3030020100300706052b8104000a04220420"
	secp256k1PublicDERPrefix  = "302d300706052b8104000a032200"
)

// ParseKeyType validates a verification method type name.
func ParseKeyType(s string) (KeyType, error) {
	switch KeyType(s) {
	case Ed25519VerificationKey2018, EcdsaSecp256k1VerificationKey2019:
		return KeyType(s), nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedKeyType, s)
}

// PublicKeyFromBytes decodes a raw public key of the given type.
func PublicKeyFromBytes(t KeyType, raw []byte) (PublicKey, error) {
	var (
		k   PublicKey
		err error
	)
	switch t {
	case Ed25519VerificationKey2018:
		k, err = ed25519PublicFromBytes(raw)
	case EcdsaSecp256k1VerificationKey2019:
		k, err = secp256k1PublicFromBytes(raw)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKeyType, t)
	}
	if err != nil {
		return nil, err
	}
	return k, nil
}

// PublicKeyFromBase58 decodes a publicKeyBase58 value of the given type.
func PublicKeyFromBase58(t KeyType, s string) (PublicKey, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: base58: %v", ErrInvalidKey, err)
	}
	return PublicKeyFromBytes(t, raw)
}

// Base58 returns the publicKeyBase58 form of a key.
func Base58(k PublicKey) string {
	return base58.Encode(k.Bytes())
}

// Equal reports whether two public keys have the same type and bytes.
func Equal(a, b PublicKey) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Type() == b.Type() && string(a.Bytes()) == string(b.Bytes())
}

// ParsePrivateKey accepts a DER hex private key of either type, or a bare
// 32-byte hex Ed25519 seed.
func ParsePrivateKey(s string) (PrivateKey, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	var (
		t   KeyType
		raw string
	)
	switch {
	case strings.HasPrefix(s, ed25519PrivateDERPrefix):
		t, raw = Ed25519VerificationKey2018, strings.TrimPrefix(s, ed25519PrivateDERPrefix)
	case strings.HasPrefix(s, secp256k1PrivateDERPrefix):
		t, raw = EcdsaSecp256k1VerificationKey2019, strings.TrimPrefix(s, secp256k1PrivateDERPrefix)
	case len(s) == 64:
		t, raw = Ed25519VerificationKey2018, s
	default:
		return nil, fmt.Errorf("%w: unrecognised private key encoding", ErrInvalidKey)
	}

	b, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: hex: %v", ErrInvalidKey, err)
	}
	return PrivateKeyFromBytes(t, b)
}

// PrivateKeyFromBytes decodes a raw 32-byte private key of the given type.
func PrivateKeyFromBytes(t KeyType, raw []byte) (PrivateKey, error) {
	var (
		k   PrivateKey
		err error
	)
	switch t {
	case Ed25519VerificationKey2018:
		k, err = ed25519PrivateFromSeed(raw)
	case EcdsaSecp256k1VerificationKey2019:
		k, err = secp256k1PrivateFromBytes(raw)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKeyType, t)
	}
	if err != nil {
		return nil, err
	}
	return k, nil
}

// ParsePublicKey accepts a DER hex public key of either type.
func ParsePublicKey(s string) (PublicKey, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	var (
		t   KeyType
		raw string
	)
	switch {
	case strings.HasPrefix(s, ed25519PublicDERPrefix):
		t, raw = Ed25519VerificationKey2018, strings.TrimPrefix(s, ed25519PublicDERPrefix)
	case strings.HasPrefix(s, secp256k1PublicDERPrefix):
		t, raw = EcdsaSecp256k1VerificationKey2019, strings.TrimPrefix(s, secp256k1PublicDERPrefix)
	default:
		return nil, fmt.Errorf("%w: unrecognised public key encoding", ErrInvalidKey)
	}

	b, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: hex: %v", ErrInvalidKey, err)
	}
	return PublicKeyFromBytes(t, b)
}
