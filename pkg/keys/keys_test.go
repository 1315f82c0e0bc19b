package keys_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/hcsdid/pkg/keys"
)

func TestEd25519_SignVerify(t *testing.T) {
	priv, err := keys.GenerateEd25519()
	require.NoError(t, err)

	msg := []byte("hello hedera")
	sig, err := priv.Sign(msg)
	require.NoError(t, err)

	assert.True(t, priv.Public().Verify(msg, sig))
	assert.False(t, priv.Public().Verify([]byte("tampered"), sig))
	assert.Len(t, priv.Public().Bytes(), 32)
}

func TestSecp256k1_SignVerify(t *testing.T) {
	priv, err := keys.GenerateSecp256k1()
	require.NoError(t, err)

	msg := []byte("hello hedera")
	sig, err := priv.Sign(msg)
	require.NoError(t, err)
	assert.Len(t, sig, 64)

	assert.True(t, priv.Public().Verify(msg, sig))
	assert.False(t, priv.Public().Verify([]byte("tampered"), sig))
	assert.Len(t, priv.Public().Bytes(), 33)
}

func TestParsePrivateKey_DER(t *testing.T) {
	for _, gen := range []func() (keys.PrivateKey, error){
		func() (keys.PrivateKey, error) { return keys.GenerateEd25519() },
		func() (keys.PrivateKey, error) { return keys.GenerateSecp256k1() },
	} {
		priv, err := gen()
		require.NoError(t, err)

		parsed, err := keys.ParsePrivateKey(priv.DER())
		require.NoError(t, err)
		assert.Equal(t, priv.Type(), parsed.Type())
		assert.Equal(t, priv.Bytes(), parsed.Bytes())

		pub, err := keys.ParsePublicKey(priv.Public().DER())
		require.NoError(t, err)
		assert.True(t, keys.Equal(priv.Public(), pub))
	}
}

func TestParsePrivateKey_RawSeed(t *testing.T) {
	seed := strings.Repeat("01", 32)
	priv, err := keys.ParsePrivateKey(seed)
	require.NoError(t, err)
	assert.Equal(t, keys.Ed25519VerificationKey2018, priv.Type())
}

func TestParsePrivateKey_Invalid(t *testing.T) {
	_, err := keys.ParsePrivateKey("deadbeef")
	assert.ErrorIs(t, err, keys.ErrInvalidKey)
}

func TestPublicKeyFromBase58(t *testing.T) {
	priv, err := keys.GenerateEd25519()
	require.NoError(t, err)

	encoded := keys.Base58(priv.Public())
	pub, err := keys.PublicKeyFromBase58(keys.Ed25519VerificationKey2018, encoded)
	require.NoError(t, err)
	assert.True(t, keys.Equal(priv.Public(), pub))

	_, err = keys.PublicKeyFromBase58(keys.EcdsaSecp256k1VerificationKey2019, encoded)
	assert.ErrorIs(t, err, keys.ErrInvalidKey)
}

func TestParseKeyType(t *testing.T) {
	_, err := keys.ParseKeyType("RsaVerificationKey2018")
	assert.ErrorIs(t, err, keys.ErrUnsupportedKeyType)

	kt, err := keys.ParseKeyType("Ed25519VerificationKey2018")
	require.NoError(t, err)
	assert.Equal(t, keys.Ed25519VerificationKey2018, kt)
}

func TestMatchesFingerprint(t *testing.T) {
	priv, err := keys.GenerateEd25519()
	require.NoError(t, err)
	pub := priv.Public()

	assert.True(t, keys.MatchesFingerprint(pub, pub.Bytes()))

	prefixed := keys.MulticodecFingerprint(pub)
	assert.Equal(t, []byte{0xed, 0x01}, prefixed[:2])
	assert.True(t, keys.MatchesFingerprint(pub, prefixed))

	other, err := keys.GenerateEd25519()
	require.NoError(t, err)
	assert.False(t, keys.MatchesFingerprint(other.Public(), pub.Bytes()))
	assert.False(t, keys.MatchesFingerprint(pub, nil))
}
