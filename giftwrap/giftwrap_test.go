package giftwrap

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"

	"github.com/mostro-exchange/mostro-client/cryptoprim"
)

func genKeyPair(t *testing.T) (*btcec.PrivateKey, [32]byte) {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	var xOnly [32]byte
	copy(xOnly[:], priv.PubKey().SerializeCompressed()[1:])
	return priv, xOnly
}

func TestBuildAndUnwrapRoundTrip(t *testing.T) {
	trade, tradePub := genKeyPair(t)
	identity, _ := genKeyPair(t)
	recipientPriv, recipientPub := genKeyPair(t)

	messageJSON := []byte(`{"order":{"version":1,"action":"new-order"}}`)

	wrap, err := build(recipientPub, messageJSON, Signer{
		Trade:    trade,
		TradePub: tradePub,
		Identity: identity,
	})
	require.NoError(t, err)
	require.True(t, wrap.Verify())

	received, err := unwrap(recipientPriv, wrap)
	require.NoError(t, err)

	require.JSONEq(t, string(messageJSON), string(received.MessageJSON))

	messageHash := cryptoprim.Sha256(messageJSON)
	sigBytes, err := hex.DecodeString(received.InnerSig)
	require.NoError(t, err)
	require.True(t, cryptoprim.Verify(sigBytes, messageHash, tradePub))
}

func TestBuildPrivacyModeUsesTradeKeyForSeal(t *testing.T) {
	trade, tradePub := genKeyPair(t)
	recipientPriv, recipientPub := genKeyPair(t)

	messageJSON := []byte(`{"dm":{"version":1,"action":"send-dm"}}`)
	wrap, err := build(recipientPub, messageJSON, Signer{Trade: trade, TradePub: tradePub})
	require.NoError(t, err)

	received, err := unwrap(recipientPriv, wrap)
	require.NoError(t, err)
	require.JSONEq(t, string(messageJSON), string(received.MessageJSON))
}

func TestUnwrapFailsWithWrongRecipientKey(t *testing.T) {
	trade, tradePub := genKeyPair(t)
	_, recipientPub := genKeyPair(t)
	wrongPriv, _ := genKeyPair(t)

	wrap, err := build(recipientPub, []byte(`{}`), Signer{Trade: trade, TradePub: tradePub})
	require.NoError(t, err)

	_, err = unwrap(wrongPriv, wrap)
	require.Error(t, err)
}

func TestTweakedTimestampIsInExpectedRange(t *testing.T) {
	now := time.Now().Unix()
	for i := 0; i < 50; i++ {
		ts := TweakedPastTimestamp()
		require.LessOrEqual(t, ts, now-60)
		require.GreaterOrEqual(t, ts, now-2*24*3600-60)
	}
}

func TestBuildProducesTweakedSealAndWrapTimestamps(t *testing.T) {
	trade, tradePub := genKeyPair(t)
	_, recipientPub := genKeyPair(t)

	wrap, err := build(recipientPub, []byte(`{}`), Signer{Trade: trade, TradePub: tradePub})
	require.NoError(t, err)

	now := time.Now().Unix()
	require.LessOrEqual(t, wrap.CreatedAt, now-60)
	require.GreaterOrEqual(t, wrap.CreatedAt, now-2*24*3600-60)

	p, ok := wrap.FirstTagValue("p")
	require.True(t, ok)
	require.NotEmpty(t, p)
}
