// Package giftwrap builds and parses the three-layer rumor -> seal ->
// wrap envelope used for all client<->coordinator traffic (§4.D). It
// sits directly on cryptoprim and relayevent and is the first component
// that touches the network through relaypool.
package giftwrap

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/sirupsen/logrus"

	"github.com/mostro-exchange/mostro-client/cryptoprim"
	"github.com/mostro-exchange/mostro-client/mostroerr"
	"github.com/mostro-exchange/mostro-client/relaypool"
	"github.com/mostro-exchange/mostro-client/relayevent"
)

// Event kind discriminators. These must match the target coordinator's
// relay protocol constants (§6 "Relay event kinds consumed"); the values
// below follow the gift-wrap convention the rest of the relay ecosystem
// uses (plain text note as rumor, kind 13 as seal, kind 1059 as wrap).
const (
	KindRumor    relayevent.Kind = 1
	KindSeal     relayevent.Kind = 13
	KindGiftWrap relayevent.Kind = 1059
)

// minFetchWindow is the minimum age window a fetch must use regardless of
// the caller's requested window, since wraps carry tweaked past
// timestamps up to two days old (§4.D receive step 1).
const minFetchWindow = 3 * 24 * time.Hour

// Signer is the pair of keys that can author an outgoing message: the
// trade key always authors the (unsigned) rumor and signs the inner
// message hash carried in it; the seal is signed by the identity
// key when present (reputation mode) or the trade key (privacy mode).
type Signer struct {
	Trade    *btcec.PrivateKey
	TradePub [32]byte
	Identity *btcec.PrivateKey // nil selects privacy mode
}

// Received is one successfully unwrapped message, yielded by Fetch.
type Received struct {
	MessageJSON json.RawMessage
	InnerSig    string // hex; empty if the rumor carried no signature
	CreatedAt   int64
}

// Build wraps messageJSON (the canonical JSON encoding of a protocol
// Message) for delivery to recipient, and publishes it to every relay in
// pool. It implements §4.D's build steps 1-6 in order.
func Build(ctx context.Context, pool *relaypool.Pool, recipient [32]byte, messageJSON []byte, signer Signer) error {
	wrap, err := build(recipient, messageJSON, signer)
	if err != nil {
		return err
	}
	return pool.Publish(ctx, wrap)
}

func build(recipient [32]byte, messageJSON []byte, signer Signer) (*relayevent.Event, error) {
	messageHash := cryptoprim.Sha256(messageJSON)
	innerSig, err := cryptoprim.Sign(signer.Trade, messageHash)
	if err != nil {
		return nil, err
	}

	recipientHex := hex.EncodeToString(recipient[:])
	rumorContent, err := json.Marshal([]interface{}{
		json.RawMessage(messageJSON),
		hex.EncodeToString(innerSig),
	})
	if err != nil {
		return nil, mostroerr.Wrap(mostroerr.KindUnknown, "serializing rumor content", err)
	}

	rumor := relayevent.Unsigned{
		SignerPub: hex.EncodeToString(signer.TradePub[:]),
		Kind:      KindRumor,
		CreatedAt: time.Now().Unix(),
		Tags:      []relayevent.Tag{{"p", recipientHex}},
		Content:   string(rumorContent),
	}
	rumorBytes, err := rumor.Serialize()
	if err != nil {
		return nil, mostroerr.Wrap(mostroerr.KindUnknown, "serializing rumor", err)
	}

	sealPriv := signer.Trade
	sealPub := signer.TradePub
	if signer.Identity != nil {
		sealPriv = signer.Identity
		var xOnly [32]byte
		copy(xOnly[:], sealPriv.PubKey().SerializeCompressed()[1:])
		sealPub = xOnly
	}

	sealKey, err := cryptoprim.ConversationKey(sealPriv, recipient)
	if err != nil {
		return nil, err
	}
	sealCiphertext, err := cryptoprim.Encrypt(sealKey, rumorBytes)
	if err != nil {
		return nil, err
	}
	seal, err := relayevent.Finalize(relayevent.Unsigned{
		SignerPub: hex.EncodeToString(sealPub[:]),
		Kind:      KindSeal,
		CreatedAt: TweakedPastTimestamp(),
		Content:   base64.StdEncoding.EncodeToString(sealCiphertext),
	}, sealPriv)
	if err != nil {
		return nil, err
	}
	sealBytes, err := seal.Serialize()
	if err != nil {
		return nil, mostroerr.Wrap(mostroerr.KindUnknown, "serializing seal", err)
	}

	ephemeral, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, mostroerr.Wrap(mostroerr.KindUnknown, "generating ephemeral key", err)
	}
	var ephemeralPub [32]byte
	copy(ephemeralPub[:], ephemeral.PubKey().SerializeCompressed()[1:])

	wrapKey, err := cryptoprim.ConversationKey(ephemeral, recipient)
	if err != nil {
		return nil, err
	}
	wrapCiphertext, err := cryptoprim.Encrypt(wrapKey, sealBytes)
	if err != nil {
		return nil, err
	}
	wrap, err := relayevent.Finalize(relayevent.Unsigned{
		SignerPub: hex.EncodeToString(ephemeralPub[:]),
		Kind:      KindGiftWrap,
		CreatedAt: TweakedPastTimestamp(),
		Tags:      []relayevent.Tag{{"p", recipientHex}},
		Content:   base64.StdEncoding.EncodeToString(wrapCiphertext),
	}, ephemeral)
	if err != nil {
		return nil, err
	}
	return wrap, nil
}

// Fetch queries pool for gift wraps addressed to recipient, unwraps each
// one, and returns the ones that decrypt and parse cleanly. ageWindow is
// widened to minFetchWindow if the caller asks for less (§4.D receive
// step 1); waitBudget bounds the wall-clock time spent collecting
// replies from relays.
func Fetch(ctx context.Context, pool *relaypool.Pool, recipient *btcec.PrivateKey, recipientPub [32]byte, ageWindow, waitBudget time.Duration, log *logrus.Logger) ([]Received, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	entry := log.WithField("component", "giftwrap")

	if ageWindow < minFetchWindow {
		ageWindow = minFetchWindow
	}
	since := time.Now().Add(-ageWindow).Unix()

	filter := relaypool.Filter{
		Kinds: []relayevent.Kind{KindGiftWrap},
		Tags:  map[string][]string{"p": {hex.EncodeToString(recipientPub[:])}},
		Since: since,
	}
	events, err := pool.Query(ctx, filter, waitBudget)
	if err != nil {
		return nil, err
	}

	var out []Received
	for _, wrap := range events {
		r, err := unwrap(recipient, wrap)
		if err != nil {
			entry.WithError(err).Debug("skipping undecryptable wrap")
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func unwrap(recipient *btcec.PrivateKey, wrap *relayevent.Event) (Received, error) {
	wrapSignerPub, err := wrap.PubBytes()
	if err != nil {
		return Received{}, err
	}
	wrapKey, err := cryptoprim.ConversationKey(recipient, wrapSignerPub)
	if err != nil {
		return Received{}, err
	}
	wrapBlob, err := base64.StdEncoding.DecodeString(wrap.Content)
	if err != nil {
		return Received{}, mostroerr.Wrap(mostroerr.KindDecryptFailed, "decoding wrap content", err)
	}
	sealBytes, err := cryptoprim.Decrypt(wrapKey, wrapBlob)
	if err != nil {
		return Received{}, err
	}

	seal, err := relayevent.ParseEvent(sealBytes)
	if err != nil {
		return Received{}, err
	}
	sealSignerPub, err := seal.PubBytes()
	if err != nil {
		return Received{}, err
	}
	sealKey, err := cryptoprim.ConversationKey(recipient, sealSignerPub)
	if err != nil {
		return Received{}, err
	}
	sealBlob, err := base64.StdEncoding.DecodeString(seal.Content)
	if err != nil {
		return Received{}, mostroerr.Wrap(mostroerr.KindDecryptFailed, "decoding seal content", err)
	}
	rumorBytes, err := cryptoprim.Decrypt(sealKey, sealBlob)
	if err != nil {
		return Received{}, err
	}

	rumor, err := relayevent.ParseUnsigned(rumorBytes)
	if err != nil {
		return Received{}, err
	}

	var tuple []json.RawMessage
	if err := json.Unmarshal([]byte(rumor.Content), &tuple); err != nil || len(tuple) < 1 {
		return Received{}, mostroerr.Wrap(mostroerr.KindDecryptFailed, "parsing rumor content tuple", err)
	}
	var innerSig string
	if len(tuple) >= 2 {
		_ = json.Unmarshal(tuple[1], &innerSig)
	}

	return Received{
		MessageJSON: tuple[0],
		InnerSig:    innerSig,
		CreatedAt:   rumor.CreatedAt,
	}, nil
}

// TweakedPastTimestamp returns a uniformly random Unix time in
// (now-2days, now-60s), used for seal and wrap created_at to frustrate
// traffic correlation (§4.D, §8 "Tweaked timestamp range"). Every
// wrap-kind event emitted by this client, gift-wrap or chat, must use
// this helper so the two are not distinguishable by timestamp shape alone.
func TweakedPastTimestamp() int64 {
	now := time.Now().Unix()
	minPast := now - 2*24*3600
	maxPast := now - 60
	spread := maxPast - minPast
	offset, err := rand.Int(rand.Reader, big.NewInt(spread))
	if err != nil {
		return maxPast
	}
	return minPast + offset.Int64()
}
