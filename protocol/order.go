package protocol

import (
	"encoding/json"

	"github.com/mostro-exchange/mostro-client/mostroerr"
)

// OrderKind distinguishes a buy order from a sell order.
type OrderKind string

const (
	OrderBuy  OrderKind = "buy"
	OrderSell OrderKind = "sell"
)

// OrderStatus mirrors the coordinator's order lifecycle states.
type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "pending"
	OrderStatusActive   OrderStatus = "active"
	OrderStatusCanceled OrderStatus = "canceled"
	OrderStatusSuccess  OrderStatus = "success"
)

// SmallOrder is the order shape carried in protocol payloads (§3).
//
// Optional fields are pointers rather than omitempty values: the
// coordinator distinguishes an explicit null from an absent key (§4.F
// "new_order payload construction"), so MarshalJSON below always emits
// every key.
type SmallOrder struct {
	ID                *string      `json:"id"`
	Kind              OrderKind    `json:"kind"`
	Status            *OrderStatus `json:"status"`
	AmountSats        int64        `json:"amount"`
	FiatCode          string       `json:"fiat_code"`
	MinAmount         *int64       `json:"min_amount"`
	MaxAmount         *int64       `json:"max_amount"`
	FiatAmount        int64        `json:"fiat_amount"`
	PaymentMethod     string       `json:"payment_method"`
	PremiumPercent    int          `json:"premium"`
	BuyerTradePubkey  *string      `json:"buyer_trade_pubkey"`
	SellerTradePubkey *string      `json:"seller_trade_pubkey"`
	BuyerInvoice      *string      `json:"buyer_invoice"`
	CreatedAt         *int64       `json:"created_at"`
	ExpiresAt         *int64       `json:"expires_at"`
}

// smallOrderWire has identical fields to SmallOrder; it exists only so
// MarshalJSON can delegate to the struct tags above without recursing.
type smallOrderWire SmallOrder

func (o SmallOrder) MarshalJSON() ([]byte, error) {
	return json.Marshal(smallOrderWire(o))
}

// Validate enforces the SmallOrder invariants of §3.
func (o SmallOrder) Validate() error {
	if o.AmountSats < 0 {
		return mostroerr.New(mostroerr.KindUnknown, "amount_sats must be >= 0")
	}
	isRange := o.MinAmount != nil || o.MaxAmount != nil
	if isRange {
		if o.FiatAmount != 0 {
			return mostroerr.New(mostroerr.KindUnknown, "range orders must carry fiat_amount == 0")
		}
		if o.MinAmount == nil || o.MaxAmount == nil || *o.MinAmount > *o.MaxAmount {
			return mostroerr.New(mostroerr.KindUnknown, "range orders require min_amount <= max_amount")
		}
	}
	return nil
}
