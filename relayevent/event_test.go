package relayevent

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
)

func newKey(t *testing.T) (*btcec.PrivateKey, string) {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	xOnly := priv.PubKey().SerializeCompressed()[1:]
	return priv, hexString(xOnly)
}

func hexString(b []byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexdigits[c>>4]
		out[i*2+1] = hexdigits[c&0xf]
	}
	return string(out)
}

func TestFinalizeProducesVerifiableEvent(t *testing.T) {
	priv, pub := newKey(t)

	u := Unsigned{
		SignerPub: pub,
		Kind:      1,
		CreatedAt: time.Now().Unix(),
		Tags:      []Tag{{"p", "deadbeef"}},
		Content:   "hello",
	}

	ev, err := Finalize(u, priv)
	require.NoError(t, err)
	require.True(t, ev.Verify())
}

func TestVerifyRejectsTamperedContent(t *testing.T) {
	priv, pub := newKey(t)

	u := Unsigned{SignerPub: pub, Kind: 1, CreatedAt: time.Now().Unix(), Content: "hello"}
	ev, err := Finalize(u, priv)
	require.NoError(t, err)

	ev.Content = "goodbye"
	require.False(t, ev.Verify())
}

func TestTagAccessors(t *testing.T) {
	ev := &Event{Tags: []Tag{{"pm", "bank"}, {"pm", "cash"}, {"amt", "1000"}}}

	v, ok := ev.FirstTagValue("amt")
	require.True(t, ok)
	require.Equal(t, "1000", v)

	_, ok = ev.FirstTagValue("missing")
	require.False(t, ok)

	require.Equal(t, []string{"bank", "cash"}, ev.TagValues("pm"))
}

func TestCanonicalSerializationPreservesTagOrder(t *testing.T) {
	priv, pub := newKey(t)
	now := time.Now().Unix()

	u1 := Unsigned{SignerPub: pub, Kind: 1, CreatedAt: now, Tags: []Tag{{"p", "a"}, {"p", "b"}}}
	u2 := Unsigned{SignerPub: pub, Kind: 1, CreatedAt: now, Tags: []Tag{{"p", "b"}, {"p", "a"}}}

	e1, err := Finalize(u1, priv)
	require.NoError(t, err)
	e2, err := Finalize(u2, priv)
	require.NoError(t, err)

	require.NotEqual(t, e1.ID, e2.ID, "canonical serialization must preserve tag order, not normalize it")
}
