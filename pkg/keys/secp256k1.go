package keys

import (
	"encoding/hex"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/sha3"
)

// Secp256k1PrivateKey signs keccak256 digests with ECDSA over secp256k1,
// producing 64-byte r||s signatures as Hedera does.
type Secp256k1PrivateKey struct {
	key *secp256k1.PrivateKey
}

// GenerateSecp256k1 creates a new random secp256k1 key.
func GenerateSecp256k1() (*Secp256k1PrivateKey, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	return &Secp256k1PrivateKey{key: key}, nil
}

func secp256k1PrivateFromBytes(raw []byte) (*Secp256k1PrivateKey, error) {
	if len(raw) != secp256k1.PrivKeyBytesLen {
		return nil, fmt.Errorf("%w: secp256k1 private key size: got %d, want %d", ErrInvalidKey, len(raw), secp256k1.PrivKeyBytesLen)
	}
	return &Secp256k1PrivateKey{key: secp256k1.PrivKeyFromBytes(raw)}, nil
}

func (k *Secp256k1PrivateKey) Type() KeyType { return EcdsaSecp256k1VerificationKey2019 }
func (k *Secp256k1PrivateKey) Bytes() []byte { return k.key.Serialize() }
func (k *Secp256k1PrivateKey) DER() string {
	return secp256k1PrivateDERPrefix + hex.EncodeToString(k.Bytes())
}

func (k *Secp256k1PrivateKey) Public() PublicKey {
	return &Secp256k1PublicKey{key: k.key.PubKey()}
}

func (k *Secp256k1PrivateKey) Sign(message []byte) ([]byte, error) {
	// compact signatures carry a leading recovery byte
	sig := ecdsa.SignCompact(k.key, keccak256(message), true)
	return sig[1:], nil
}

// Secp256k1PublicKey verifies secp256k1 signatures.
type Secp256k1PublicKey struct {
	key *secp256k1.PublicKey
}

func secp256k1PublicFromBytes(raw []byte) (*Secp256k1PublicKey, error) {
	key, err := secp256k1.ParsePubKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: secp256k1: %v", ErrInvalidKey, err)
	}
	return &Secp256k1PublicKey{key: key}, nil
}

func (k *Secp256k1PublicKey) Type() KeyType { return EcdsaSecp256k1VerificationKey2019 }
func (k *Secp256k1PublicKey) Bytes() []byte { return k.key.SerializeCompressed() }
func (k *Secp256k1PublicKey) DER() string {
	return secp256k1PublicDERPrefix + hex.EncodeToString(k.Bytes())
}

func (k *Secp256k1PublicKey) Verify(message, signature []byte) bool {
	if len(signature) != 64 {
		return false
	}
	var r, s secp256k1.ModNScalar
	if overflow := r.SetByteSlice(signature[:32]); overflow {
		return false
	}
	if overflow := s.SetByteSlice(signature[32:]); overflow {
		return false
	}
	return ecdsa.NewSignature(&r, &s).Verify(keccak256(message), k.key)
}

func keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}

var (
	_ PrivateKey = (*Secp256k1PrivateKey)(nil)
	_ PublicKey  = (*Secp256k1PublicKey)(nil)
)
