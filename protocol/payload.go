package protocol

import (
	"encoding/json"

	"github.com/mostro-exchange/mostro-client/mostroerr"
)

// PayloadKind discriminates which of Payload's fields is populated.
type PayloadKind string

const (
	PayloadOrder          PayloadKind = "order"
	PayloadPaymentRequest PayloadKind = "payment_request"
	PayloadTextMessage    PayloadKind = "text_message"
	PayloadPeer           PayloadKind = "peer"
	PayloadRatingUser     PayloadKind = "rating_user"
	PayloadAmount         PayloadKind = "amount"
	PayloadDispute        PayloadKind = "dispute"
	PayloadCantDo         PayloadKind = "cant_do"
	PayloadNextTrade      PayloadKind = "next_trade"
	PayloadPaymentFailed  PayloadKind = "payment_failed"
	PayloadRestoreData    PayloadKind = "restore_data"
	PayloadIDs            PayloadKind = "ids"
	PayloadOrders         PayloadKind = "orders"
	PayloadUnknown        PayloadKind = ""
)

// Peer identifies a counterparty by trade pubkey.
type Peer struct {
	Pubkey string `json:"pubkey"`
}

// NextTrade carries the trade key and index the peer should use for a
// follow-up order (child-order chaining).
type NextTrade struct {
	Pubkey string
	Index  int
}

func (n NextTrade) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{n.Pubkey, n.Index})
}

func (n *NextTrade) UnmarshalJSON(data []byte) error {
	var tuple [2]json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return mostroerr.Wrap(mostroerr.KindUnknown, "parsing next_trade tuple", err)
	}
	if err := json.Unmarshal(tuple[0], &n.Pubkey); err != nil {
		return mostroerr.Wrap(mostroerr.KindUnknown, "parsing next_trade pubkey", err)
	}
	if err := json.Unmarshal(tuple[1], &n.Index); err != nil {
		return mostroerr.Wrap(mostroerr.KindUnknown, "parsing next_trade index", err)
	}
	return nil
}

// PaymentFailed reports a failed Lightning payout attempt to the seller.
type PaymentFailed struct {
	Attempts      int `json:"attempts"`
	RetryInterval int `json:"retry_interval"`
}

// RestoredOrder is one order returned by a restore-session reply.
type RestoredOrder struct {
	ID         string      `json:"id"`
	TradeIndex int         `json:"trade_index"`
	Status     OrderStatus `json:"status"`
}

// RestoredDispute is one dispute returned by a restore-session reply.
type RestoredDispute struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// RestoreData is the payload of a restore-session reply.
type RestoreData struct {
	Orders    []RestoredOrder   `json:"orders"`
	Disputes  []RestoredDispute `json:"disputes"`
}

// PaymentRequest is the `[order?, invoice, amount?]` tuple used by
// take-sell and pay-invoice payloads.
type PaymentRequest struct {
	Order   *SmallOrder
	Invoice string
	Amount  *int64
}

func (p PaymentRequest) MarshalJSON() ([]byte, error) {
	var orderField interface{}
	if p.Order != nil {
		orderField = p.Order
	}
	var amountField interface{}
	if p.Amount != nil {
		amountField = *p.Amount
	}
	return json.Marshal([]interface{}{orderField, p.Invoice, amountField})
}

func (p *PaymentRequest) UnmarshalJSON(data []byte) error {
	var tuple [3]json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return mostroerr.Wrap(mostroerr.KindUnknown, "parsing payment_request tuple", err)
	}
	if string(tuple[0]) != "null" {
		var order SmallOrder
		if err := json.Unmarshal(tuple[0], &order); err != nil {
			return mostroerr.Wrap(mostroerr.KindUnknown, "parsing payment_request order", err)
		}
		p.Order = &order
	}
	if err := json.Unmarshal(tuple[1], &p.Invoice); err != nil {
		return mostroerr.Wrap(mostroerr.KindUnknown, "parsing payment_request invoice", err)
	}
	if len(tuple[2]) > 0 && string(tuple[2]) != "null" {
		var amount int64
		if err := json.Unmarshal(tuple[2], &amount); err != nil {
			return mostroerr.Wrap(mostroerr.KindUnknown, "parsing payment_request amount", err)
		}
		p.Amount = &amount
	}
	return nil
}

// Payload is the tagged variant carried in a MessageKind's optional
// payload field (§3 "Payload"). At most one field is ever populated; Kind
// says which.
type Payload struct {
	Kind PayloadKind

	Order          *SmallOrder
	PaymentRequest *PaymentRequest
	TextMessage    *string
	Peer           *Peer
	RatingUser     *int
	Amount         *int64
	Dispute        *string
	CantDo         *string
	NextTrade      *NextTrade
	PaymentFailed  *PaymentFailed
	RestoreData    *RestoreData
	IDs            []string
	Orders         []SmallOrder

	// Raw preserves the original single-value payload for an unrecognized
	// Kind, so an unknown payload can still round-trip unexamined.
	Raw json.RawMessage
}

func (p Payload) MarshalJSON() ([]byte, error) {
	var value interface{}
	switch p.Kind {
	case PayloadOrder:
		value = p.Order
	case PayloadPaymentRequest:
		value = p.PaymentRequest
	case PayloadTextMessage:
		value = p.TextMessage
	case PayloadPeer:
		value = p.Peer
	case PayloadRatingUser:
		value = p.RatingUser
	case PayloadAmount:
		value = p.Amount
	case PayloadDispute:
		value = p.Dispute
	case PayloadCantDo:
		value = p.CantDo
	case PayloadNextTrade:
		value = p.NextTrade
	case PayloadPaymentFailed:
		value = p.PaymentFailed
	case PayloadRestoreData:
		value = p.RestoreData
	case PayloadIDs:
		value = p.IDs
	case PayloadOrders:
		value = p.Orders
	default:
		if p.Raw == nil {
			return nil, mostroerr.New(mostroerr.KindUnknown, "cannot serialize unknown payload kind")
		}
		value = p.Raw
	}
	return json.Marshal(map[string]interface{}{string(p.Kind): value})
}

func (p *Payload) UnmarshalJSON(data []byte) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return mostroerr.Wrap(mostroerr.KindUnknown, "parsing payload object", err)
	}
	if len(obj) != 1 {
		return mostroerr.New(mostroerr.KindUnknown, "payload must carry exactly one key")
	}
	for key, raw := range obj {
		p.Kind = PayloadKind(key)
		switch p.Kind {
		case PayloadOrder:
			var v SmallOrder
			if err := json.Unmarshal(raw, &v); err != nil {
				return mostroerr.Wrap(mostroerr.KindUnknown, "parsing order payload", err)
			}
			p.Order = &v
		case PayloadPaymentRequest:
			var v PaymentRequest
			if err := json.Unmarshal(raw, &v); err != nil {
				return err
			}
			p.PaymentRequest = &v
		case PayloadTextMessage:
			var v string
			if err := json.Unmarshal(raw, &v); err != nil {
				return mostroerr.Wrap(mostroerr.KindUnknown, "parsing text_message payload", err)
			}
			p.TextMessage = &v
		case PayloadPeer:
			var v Peer
			if err := json.Unmarshal(raw, &v); err != nil {
				return mostroerr.Wrap(mostroerr.KindUnknown, "parsing peer payload", err)
			}
			p.Peer = &v
		case PayloadRatingUser:
			var v int
			if err := json.Unmarshal(raw, &v); err != nil {
				return mostroerr.Wrap(mostroerr.KindUnknown, "parsing rating_user payload", err)
			}
			p.RatingUser = &v
		case PayloadAmount:
			var v int64
			if err := json.Unmarshal(raw, &v); err != nil {
				return mostroerr.Wrap(mostroerr.KindUnknown, "parsing amount payload", err)
			}
			p.Amount = &v
		case PayloadDispute:
			var v string
			if err := json.Unmarshal(raw, &v); err != nil {
				return mostroerr.Wrap(mostroerr.KindUnknown, "parsing dispute payload", err)
			}
			p.Dispute = &v
		case PayloadCantDo:
			var v string
			if err := json.Unmarshal(raw, &v); err != nil {
				return mostroerr.Wrap(mostroerr.KindUnknown, "parsing cant_do payload", err)
			}
			p.CantDo = &v
		case PayloadNextTrade:
			var v NextTrade
			if err := json.Unmarshal(raw, &v); err != nil {
				return err
			}
			p.NextTrade = &v
		case PayloadPaymentFailed:
			var v PaymentFailed
			if err := json.Unmarshal(raw, &v); err != nil {
				return mostroerr.Wrap(mostroerr.KindUnknown, "parsing payment_failed payload", err)
			}
			p.PaymentFailed = &v
		case PayloadRestoreData:
			var v RestoreData
			if err := json.Unmarshal(raw, &v); err != nil {
				return mostroerr.Wrap(mostroerr.KindUnknown, "parsing restore_data payload", err)
			}
			p.RestoreData = &v
		case PayloadIDs:
			if err := json.Unmarshal(raw, &p.IDs); err != nil {
				return mostroerr.Wrap(mostroerr.KindUnknown, "parsing ids payload", err)
			}
		case PayloadOrders:
			if err := json.Unmarshal(raw, &p.Orders); err != nil {
				return mostroerr.Wrap(mostroerr.KindUnknown, "parsing orders payload", err)
			}
		default:
			p.Raw = raw
		}
	}
	return nil
}
