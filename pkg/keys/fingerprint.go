package keys

import (
	"bytes"

	"github.com/multiformats/go-multicodec"
	"github.com/multiformats/go-varint"
)

// Fingerprint returns the bytes a DID method-specific id encodes for k: the
// raw public key.
func Fingerprint(k PublicKey) []byte {
	return k.Bytes()
}

// MulticodecFingerprint returns the multicodec-prefixed key, as used by
// did:key style identifiers.
func MulticodecFingerprint(k PublicKey) []byte {
	var code multicodec.Code
	switch k.Type() {
	case Ed25519VerificationKey2018:
		code = multicodec.Ed25519Pub
	case EcdsaSecp256k1VerificationKey2019:
		code = multicodec.Secp256k1Pub
	default:
		return nil
	}
	return append(varint.ToUvarint(uint64(code)), k.Bytes()...)
}

// MatchesFingerprint reports whether fp identifies k in either form.
func MatchesFingerprint(k PublicKey, fp []byte) bool {
	if k == nil || len(fp) == 0 {
		return false
	}
	return bytes.Equal(fp, Fingerprint(k)) || bytes.Equal(fp, MulticodecFingerprint(k))
}
