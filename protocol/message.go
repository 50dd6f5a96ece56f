// Package protocol models the coordinator's wire message as a tagged
// top-level variant over category, and builds the payload for every
// user-facing trading action (§4.F).
package protocol

import (
	"encoding/json"

	"github.com/mostro-exchange/mostro-client/mostroerr"
)

// protocolVersion is the only MessageKind.Version value this client emits
// or expects.
const protocolVersion = 1

// MessageKind is the body carried under a Message's single category key.
type MessageKind struct {
	Version    int      `json:"version"`
	ID         *string  `json:"id,omitempty"`
	RequestID  *uint64  `json:"request_id,omitempty"`
	TradeIndex *int     `json:"trade_index,omitempty"`
	Action     Action   `json:"action"`
	Payload    *Payload `json:"payload,omitempty"`
}

// Message is the top-level tagged variant over Category (§3 "Message").
type Message struct {
	Category Category
	Kind     MessageKind

	// Raw preserves the body bytes of a message whose category this
	// build doesn't recognize, so callers can log it without losing it.
	Raw json.RawMessage
}

func (m Message) MarshalJSON() ([]byte, error) {
	if m.Category == CategoryUnknown || m.Category == "" {
		return nil, mostroerr.New(mostroerr.KindUnknown, "cannot serialize a message with no category")
	}
	return json.Marshal(map[string]MessageKind{string(m.Category): m.Kind})
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return mostroerr.Wrap(mostroerr.KindUnknown, "parsing message object", err)
	}
	if len(obj) != 1 {
		return mostroerr.New(mostroerr.KindUnknown, "message must carry exactly one category key")
	}
	for key, raw := range obj {
		cat := Category(key)
		switch cat {
		case CategoryOrder, CategoryDispute, CategoryCantDo, CategoryRate, CategoryDM, CategoryRestore:
			var kind MessageKind
			if err := json.Unmarshal(raw, &kind); err != nil {
				return mostroerr.Wrap(mostroerr.KindUnknown, "parsing message kind", err)
			}
			m.Category = cat
			m.Kind = kind
		default:
			// Unknown category: tolerated per §4.F "Parsing" so version
			// skew in the coordinator never crashes this client.
			m.Category = CategoryUnknown
			m.Raw = raw
		}
	}
	return nil
}

// Serialize returns the canonical JSON a Message is signed and transmitted
// as (the rumor's content tuple carries this alongside inner_sig).
func (m Message) Serialize() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage decodes a Message, tolerating an unrecognized category or
// action instead of returning an error (§4.F "Parsing", §9 "Tagged
// variants"): an unknown category yields CategoryUnknown with the body kept
// in Raw, and an unknown action string is kept unchanged in Kind.Action.
func ParseMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, err
	}
	return m, nil
}

func newRequestID(requestID uint64) *uint64 {
	v := requestID
	return &v
}

func intPtr(v int) *int {
	return &v
}

func strPtr(v string) *string {
	return &v
}
