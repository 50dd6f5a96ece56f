package chatenvelope

import (
	"encoding/base64"
	"encoding/hex"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"

	"github.com/mostro-exchange/mostro-client/cryptoprim"
	"github.com/mostro-exchange/mostro-client/relayevent"
)

func genKeyPair(t *testing.T) (*btcec.PrivateKey, [32]byte) {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	var xOnly [32]byte
	copy(xOnly[:], priv.PubKey().SerializeCompressed()[1:])
	return priv, xOnly
}

func TestSharedPubKeyIsSymmetric(t *testing.T) {
	a, aPub := genKeyPair(t)
	b, bPub := genKeyPair(t)

	sharedAB, err := SharedPubKey(a, bPub)
	require.NoError(t, err)
	sharedBA, err := SharedPubKey(b, aPub)
	require.NoError(t, err)

	require.Equal(t, sharedAB, sharedBA)
}

func TestSendBuildsVerifiableInnerEventUnderSharedIdentity(t *testing.T) {
	alice, alicePub := genKeyPair(t)
	bob, bobPub := genKeyPair(t)

	sharedPrivA, sharedPubA, err := sharedKeyPair(alice, bobPub)
	require.NoError(t, err)
	sharedPrivB, sharedPubB, err := sharedKeyPair(bob, alicePub)
	require.NoError(t, err)
	require.Equal(t, sharedPubA, sharedPubB)
	require.Equal(t, sharedPrivA.Serialize(), sharedPrivB.Serialize())

	wrap, err := build(alice, alicePub, bobPub, "hello")
	require.NoError(t, err)

	received, err := unwrap(sharedPrivB, wrap)
	require.NoError(t, err)
	require.Equal(t, "hello", received.Text)
	require.Equal(t, alicePub, received.AuthorPub)
}

func TestBuildTweaksOuterWrapTimestamp(t *testing.T) {
	alice, alicePub := genKeyPair(t)
	_, bobPub := genKeyPair(t)

	wrap, err := build(alice, alicePub, bobPub, "hello")
	require.NoError(t, err)

	now := time.Now().Unix()
	require.Greater(t, now-60, wrap.CreatedAt)
	require.Less(t, now-2*24*3600-60, wrap.CreatedAt)
}

func TestUnwrapDropsTamperedInnerSignature(t *testing.T) {
	alice, alicePub := genKeyPair(t)
	bob, bobPub := genKeyPair(t)

	sharedPrivB, _, err := sharedKeyPair(bob, alicePub)
	require.NoError(t, err)

	wrap := buildWrapForTest(t, alice, alicePub, bobPub, "hello")

	// Corrupt the encrypted payload so the decrypted inner event, if it
	// parses at all, will not carry a valid signature.
	wrap.Content = wrap.Content[:len(wrap.Content)-2] + "00"

	_, err = unwrap(sharedPrivB, wrap)
	require.Error(t, err)
}

// buildWrapForTest constructs a chat wrap without going through the
// relay pool, for direct unwrap() testing.
func buildWrapForTest(t *testing.T, sender *btcec.PrivateKey, senderPub, recipientPub [32]byte, text string) *relayevent.Event {
	t.Helper()

	shared, err := SharedPubKey(sender, recipientPub)
	require.NoError(t, err)

	inner, err := relayevent.Finalize(relayevent.Unsigned{
		SignerPub: hex.EncodeToString(senderPub[:]),
		Kind:      KindChat,
		CreatedAt: 1700000000,
		Tags:      []relayevent.Tag{{"p", hex.EncodeToString(shared[:])}},
		Content:   text,
	}, sender)
	require.NoError(t, err)
	innerBytes, err := inner.Serialize()
	require.NoError(t, err)

	ephemeral, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	var ephemeralPub [32]byte
	copy(ephemeralPub[:], ephemeral.PubKey().SerializeCompressed()[1:])

	wrapKey, err := cryptoprim.ConversationKey(ephemeral, shared)
	require.NoError(t, err)
	ciphertext, err := cryptoprim.Encrypt(wrapKey, innerBytes)
	require.NoError(t, err)

	wrap, err := relayevent.Finalize(relayevent.Unsigned{
		SignerPub: hex.EncodeToString(ephemeralPub[:]),
		Kind:      KindWrap,
		CreatedAt: 1700000000,
		Tags:      []relayevent.Tag{{"p", hex.EncodeToString(shared[:])}},
		Content:   base64.StdEncoding.EncodeToString(ciphertext),
	}, ephemeral)
	require.NoError(t, err)
	return wrap
}
