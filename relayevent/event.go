// Package relayevent implements the canonical relay-event record (§3, §4.C):
// an immutable tuple of id, signer public key, kind, creation time, tags,
// content and signature, plus the serialization and finalization rules that
// bind those fields together.
//
// The wire shape follows the teacher's tagged Message{Type, Payload} model
// in blacktrace-go/types.go, generalized to the relay ecosystem's
// fixed-order canonical array used for id/signature computation.
package relayevent

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/mostro-exchange/mostro-client/cryptoprim"
	"github.com/mostro-exchange/mostro-client/mostroerr"
)

// Kind discriminates the event's role in the protocol. Numeric values are
// coordinator-specific constants (§6 "Relay event kinds consumed"); this
// package treats them opaquely.
type Kind int

// Tag is a single relay tag: an ordered list of strings, index 0 being the
// tag name (e.g. "p", "d", "k").
type Tag []string

// Event is the canonical, immutable relay-event tuple of §3.
type Event struct {
	ID        string `json:"id"`
	SignerPub string `json:"pubkey"`
	Kind      Kind   `json:"kind"`
	CreatedAt int64  `json:"created_at"`
	Tags      []Tag  `json:"tags"`
	Content   string `json:"content"`
	Signature string `json:"sig"`
}

// canonicalArray is the fixed-order tuple hashed to produce an event id,
// mirroring the relay ecosystem's convention: a leading literal 0,
// followed by signer pubkey, created_at, kind, tags and content.
func canonicalArray(signerPub string, createdAt int64, kind Kind, tags []Tag, content string) ([]byte, error) {
	if tags == nil {
		tags = []Tag{}
	}
	arr := []interface{}{0, signerPub, createdAt, int(kind), tags, content}
	return json.Marshal(arr)
}

// Unsigned holds the fields of an event before id/signature are computed.
type Unsigned struct {
	SignerPub string
	Kind      Kind
	CreatedAt int64
	Tags      []Tag
	Content   string
}

// Finalize computes id = sha256(canonical(unsigned)) and signs it with priv,
// producing a complete, network-ready Event. priv must correspond to the
// x-only public key carried in unsigned.SignerPub.
func Finalize(u Unsigned, priv *btcec.PrivateKey) (*Event, error) {
	canon, err := canonicalArray(u.SignerPub, u.CreatedAt, u.Kind, u.Tags, u.Content)
	if err != nil {
		return nil, mostroerr.Wrap(mostroerr.KindUnknown, "serializing canonical event", err)
	}
	hash := cryptoprim.Sha256(canon)
	sig, err := cryptoprim.Sign(priv, hash)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:        fmt.Sprintf("%x", hash),
		SignerPub: u.SignerPub,
		Kind:      u.Kind,
		CreatedAt: u.CreatedAt,
		Tags:      u.Tags,
		Content:   u.Content,
		Signature: fmt.Sprintf("%x", sig),
	}, nil
}

// Verify reports whether e.ID matches the canonical hash of its own fields
// and whether e.Signature is a valid Schnorr signature over e.ID by
// e.SignerPub. Both conditions must hold for an event entering the system
// from the network (§8 "Relay event integrity").
func (e *Event) Verify() bool {
	canon, err := canonicalArray(e.SignerPub, e.CreatedAt, e.Kind, e.Tags, e.Content)
	if err != nil {
		return false
	}
	hash := cryptoprim.Sha256(canon)
	wantID := fmt.Sprintf("%x", hash)
	if wantID != e.ID {
		return false
	}

	sig, err := decodeHex(e.Signature)
	if err != nil || len(sig) != 64 {
		return false
	}
	pub, err := decodeHex(e.SignerPub)
	if err != nil || len(pub) != 32 {
		return false
	}
	var pubBytes [32]byte
	copy(pubBytes[:], pub)
	return cryptoprim.Verify(sig, hash, pubBytes)
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(s)
}

// PubBytes decodes e.SignerPub into its 32-byte x-only form.
func (e *Event) PubBytes() ([32]byte, error) {
	return decodeXOnly(e.SignerPub)
}

func decodeXOnly(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 32 {
		return out, mostroerr.New(mostroerr.KindUnknown, "not a 32-byte x-only public key")
	}
	copy(out[:], raw)
	return out, nil
}

// unsignedWire is the plain JSON object shape of an unsigned event, used
// to serialize/parse rumors — which are never finalized, so they carry no
// id or signature.
type unsignedWire struct {
	SignerPub string `json:"pubkey"`
	Kind      Kind   `json:"kind"`
	CreatedAt int64  `json:"created_at"`
	Tags      []Tag  `json:"tags"`
	Content   string `json:"content"`
}

// Serialize renders an unsigned event (a rumor) to its wire JSON form.
func (u Unsigned) Serialize() ([]byte, error) {
	tags := u.Tags
	if tags == nil {
		tags = []Tag{}
	}
	return json.Marshal(unsignedWire{
		SignerPub: u.SignerPub,
		Kind:      u.Kind,
		CreatedAt: u.CreatedAt,
		Tags:      tags,
		Content:   u.Content,
	})
}

// ParseUnsigned parses the wire JSON form of a rumor back into its fields.
func ParseUnsigned(data []byte) (Unsigned, error) {
	var w unsignedWire
	if err := json.Unmarshal(data, &w); err != nil {
		return Unsigned{}, mostroerr.Wrap(mostroerr.KindDecryptFailed, "parsing rumor", err)
	}
	return Unsigned{
		SignerPub: w.SignerPub,
		Kind:      w.Kind,
		CreatedAt: w.CreatedAt,
		Tags:      w.Tags,
		Content:   w.Content,
	}, nil
}

// Serialize renders a finalized event to its wire JSON form — used as the
// plaintext of a seal or wrap's encrypted content.
func (e *Event) Serialize() ([]byte, error) {
	return json.Marshal(e)
}

// ParseEvent parses the wire JSON form of a finalized event (a seal or a
// rumor-bearing inner event), without verifying it.
func ParseEvent(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, mostroerr.Wrap(mostroerr.KindDecryptFailed, "parsing event", err)
	}
	return &e, nil
}

// FirstTagValue returns the first value (index 1) of the first tag named
// name, and whether such a tag exists.
func (e *Event) FirstTagValue(name string) (string, bool) {
	for _, t := range e.Tags {
		if len(t) >= 2 && t[0] == name {
			return t[1], true
		}
	}
	return "", false
}

// TagValues returns every value (index 1) of tags named name, in event
// order — used for multi-valued tags such as payment methods.
func (e *Event) TagValues(name string) []string {
	var out []string
	for _, t := range e.Tags {
		if len(t) >= 2 && t[0] == name {
			out = append(out, t[1])
		}
	}
	return out
}

// SortTags returns a copy of tags sorted by tag name then value, useful
// only for test fixtures that want a deterministic ordering; production
// code must never reorder tags received from the network.
func SortTags(tags []Tag) []Tag {
	out := make([]Tag, len(tags))
	copy(out, tags)
	sort.Slice(out, func(i, j int) bool {
		if out[i][0] != out[j][0] {
			return out[i][0] < out[j][0]
		}
		if len(out[i]) > 1 && len(out[j]) > 1 {
			return out[i][1] < out[j][1]
		}
		return false
	})
	return out
}
