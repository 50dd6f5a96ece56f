package cryptoprim

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
)

func xOnly(priv *btcec.PrivateKey) [32]byte {
	var out [32]byte
	copy(out[:], priv.PubKey().SerializeCompressed()[1:])
	return out
}

func TestConversationKeyIsSymmetric(t *testing.T) {
	alice, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	bob, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	keyFromAlice, err := ConversationKey(alice, xOnly(bob))
	require.NoError(t, err)
	keyFromBob, err := ConversationKey(bob, xOnly(alice))
	require.NoError(t, err)

	require.Equal(t, keyFromAlice, keyFromBob)
}

func TestEncryptDecryptRoundTrips(t *testing.T) {
	alice, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	bob, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	key, err := ConversationKey(alice, xOnly(bob))
	require.NoError(t, err)

	plaintext := []byte(`{"hello":"mostro"}`)
	blob, err := Encrypt(key, plaintext)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, blob)

	got, err := Decrypt(key, blob)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	alice, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	bob, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	key, err := ConversationKey(alice, xOnly(bob))
	require.NoError(t, err)

	blob, err := Encrypt(key, []byte("payload"))
	require.NoError(t, err)
	blob[len(blob)-1] ^= 0xFF

	_, err = Decrypt(key, blob)
	require.Error(t, err)
}

func TestDecryptRejectsUnsupportedVersion(t *testing.T) {
	alice, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	bob, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	key, err := ConversationKey(alice, xOnly(bob))
	require.NoError(t, err)

	blob, err := Encrypt(key, []byte("payload"))
	require.NoError(t, err)
	blob[0] = 0x01

	_, err = Decrypt(key, blob)
	require.Error(t, err)
}

func TestSignVerifyRoundTrips(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	pub := xOnly(priv)

	hash := Sha256([]byte("message to sign"))
	sig, err := Sign(priv, hash)
	require.NoError(t, err)

	require.True(t, Verify(sig, hash, pub))
}

func TestVerifyRejectsWrongHash(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	pub := xOnly(priv)

	hash := Sha256([]byte("message to sign"))
	sig, err := Sign(priv, hash)
	require.NoError(t, err)

	wrongHash := Sha256([]byte("different message"))
	require.False(t, Verify(sig, wrongHash, pub))
}

func TestRandomRequestIDFitsIn48Bits(t *testing.T) {
	id, err := RandomRequestID()
	require.NoError(t, err)
	require.Less(t, id, uint64(1)<<48)
}

func TestRandomRequestIDIsNotConstant(t *testing.T) {
	a, err := RandomRequestID()
	require.NoError(t, err)
	b, err := RandomRequestID()
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}
