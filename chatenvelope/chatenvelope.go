// Package chatenvelope builds and parses the two-layer P2P chat envelope
// (§4.E): a signed inner text event wrapped once under an ephemeral key,
// addressed to the ECDH shared public key of the two trade keys rather
// than either party's real trade pubkey.
package chatenvelope

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/sirupsen/logrus"

	"github.com/mostro-exchange/mostro-client/cryptoprim"
	"github.com/mostro-exchange/mostro-client/giftwrap"
	"github.com/mostro-exchange/mostro-client/mostroerr"
	"github.com/mostro-exchange/mostro-client/relaypool"
	"github.com/mostro-exchange/mostro-client/relayevent"
)

// KindChat is the inner event's kind, an ordinary signed text note.
const KindChat relayevent.Kind = 1

// KindWrap reuses the gift-wrap envelope's outer kind: at the relay
// level both are the same ephemeral-signed, tagged-by-p wrapper, the
// difference is entirely in what is inside.
const KindWrap = giftwrap.KindGiftWrap

// Received is one decrypted, signature-verified chat message.
type Received struct {
	Text      string
	AuthorPub [32]byte
	CreatedAt int64
}

// sharedKeyPair derives the joint identity shared by two trade keys:
// shared_priv = x(myPriv × theirPub), shared_pubkey = G·shared_priv
// (§3 "ECDH shared identity"). Both parties compute the same pair,
// since x(a·B) == x(b·A) — this is what lets either side both encrypt
// to, and decrypt from, the shared identity without a third ECDH.
func sharedKeyPair(myPriv *btcec.PrivateKey, theirPub [32]byte) (*btcec.PrivateKey, [32]byte, error) {
	xCoord, err := cryptoprim.SharedXCoordinate(myPriv, theirPub)
	if err != nil {
		return nil, [32]byte{}, err
	}
	sharedPriv, _ := btcec.PrivKeyFromBytes(xCoord[:])
	var out [32]byte
	copy(out[:], sharedPriv.PubKey().SerializeCompressed()[1:])
	return sharedPriv, out, nil
}

// SharedPubKey computes shared_pubkey = G·x(myPriv × theirPub), the
// routing identity for a trade between the two holders (§3 "ECDH shared
// identity"). It is symmetric: SharedPubKey(a, B) == SharedPubKey(b, A).
func SharedPubKey(myPriv *btcec.PrivateKey, theirPub [32]byte) ([32]byte, error) {
	_, pub, err := sharedKeyPair(myPriv, theirPub)
	return pub, err
}

// Send signs text with myPriv, wraps it under a fresh ephemeral key
// addressed to the shared public key of myPriv and theirPub, and
// publishes it to every relay in pool.
func Send(ctx context.Context, pool *relaypool.Pool, myPriv *btcec.PrivateKey, myPub, theirPub [32]byte, text string) error {
	wrap, err := build(myPriv, myPub, theirPub, text)
	if err != nil {
		return err
	}
	return pool.Publish(ctx, wrap)
}

// build constructs the inner→wrap pair for one chat message without
// touching the network, so Send's wire shape can be exercised directly.
func build(myPriv *btcec.PrivateKey, myPub, theirPub [32]byte, text string) (*relayevent.Event, error) {
	shared, err := SharedPubKey(myPriv, theirPub)
	if err != nil {
		return nil, err
	}
	sharedHex := hex.EncodeToString(shared[:])

	inner, err := relayevent.Finalize(relayevent.Unsigned{
		SignerPub: hex.EncodeToString(myPub[:]),
		Kind:      KindChat,
		CreatedAt: time.Now().Unix(),
		Tags:      []relayevent.Tag{{"p", sharedHex}},
		Content:   text,
	}, myPriv)
	if err != nil {
		return nil, err
	}
	innerBytes, err := inner.Serialize()
	if err != nil {
		return nil, mostroerr.Wrap(mostroerr.KindUnknown, "serializing chat inner event", err)
	}

	ephemeral, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, mostroerr.Wrap(mostroerr.KindUnknown, "generating ephemeral key", err)
	}
	var ephemeralPub [32]byte
	copy(ephemeralPub[:], ephemeral.PubKey().SerializeCompressed()[1:])

	wrapKey, err := cryptoprim.ConversationKey(ephemeral, shared)
	if err != nil {
		return nil, err
	}
	wrapCiphertext, err := cryptoprim.Encrypt(wrapKey, innerBytes)
	if err != nil {
		return nil, err
	}

	wrap, err := relayevent.Finalize(relayevent.Unsigned{
		SignerPub: hex.EncodeToString(ephemeralPub[:]),
		Kind:      KindWrap,
		CreatedAt: giftwrap.TweakedPastTimestamp(),
		Tags:      []relayevent.Tag{{"p", sharedHex}},
		Content:   base64.StdEncoding.EncodeToString(wrapCiphertext),
	}, ephemeral)
	if err != nil {
		return nil, err
	}
	return wrap, nil
}

// Fetch queries pool for chat wraps addressed to the shared identity of
// myPriv and theirPub, decrypts each one, and verifies the inner
// signature before accepting it. Messages with an invalid inner
// signature are dropped silently (§4.E, §8 "P2P chat authenticity").
func Fetch(ctx context.Context, pool *relaypool.Pool, myPriv *btcec.PrivateKey, theirPub [32]byte, since time.Time, waitBudget time.Duration, log *logrus.Logger) ([]Received, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	entry := log.WithField("component", "chatenvelope")

	sharedPriv, shared, err := sharedKeyPair(myPriv, theirPub)
	if err != nil {
		return nil, err
	}
	sharedHex := hex.EncodeToString(shared[:])

	filter := relaypool.Filter{
		Kinds: []relayevent.Kind{KindWrap},
		Tags:  map[string][]string{"p": {sharedHex}},
		Since: since.Unix(),
	}
	events, err := pool.Query(ctx, filter, waitBudget)
	if err != nil {
		return nil, err
	}

	var out []Received
	for _, wrap := range events {
		r, err := unwrap(sharedPriv, wrap)
		if err != nil {
			entry.WithError(err).Debug("dropping invalid chat wrap")
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// unwrap decrypts a chat wrap using the shared identity's private key —
// the only scalar either party can derive that also unwinds the
// ephemeral-key ECDH the sender used to encrypt it.
func unwrap(sharedPriv *btcec.PrivateKey, wrap *relayevent.Event) (Received, error) {
	wrapSignerPub, err := wrap.PubBytes()
	if err != nil {
		return Received{}, err
	}
	wrapKey, err := cryptoprim.ConversationKey(sharedPriv, wrapSignerPub)
	if err != nil {
		return Received{}, err
	}

	wrapBlob, err := base64.StdEncoding.DecodeString(wrap.Content)
	if err != nil {
		return Received{}, mostroerr.Wrap(mostroerr.KindDecryptFailed, "decoding chat wrap content", err)
	}
	innerBytes, err := cryptoprim.Decrypt(wrapKey, wrapBlob)
	if err != nil {
		return Received{}, err
	}

	inner, err := relayevent.ParseEvent(innerBytes)
	if err != nil {
		return Received{}, err
	}
	if !inner.Verify() {
		return Received{}, mostroerr.New(mostroerr.KindSignatureInvalid, "chat inner signature invalid")
	}

	authorPub, err := inner.PubBytes()
	if err != nil {
		return Received{}, err
	}
	return Received{Text: inner.Content, AuthorPub: authorPub, CreatedAt: inner.CreatedAt}, nil
}
