package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessageRoundTripsThroughCategoryTag(t *testing.T) {
	orig := Cancel("order-1", 42, 3)
	data, err := json.Marshal(orig)
	require.NoError(t, err)
	require.JSONEq(t, `{"order":{"version":1,"id":"order-1","request_id":42,"trade_index":3,"action":"cancel"}}`, string(data))

	var decoded Message
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, CategoryOrder, decoded.Category)
	require.Equal(t, ActionCancel, decoded.Kind.Action)
	require.Equal(t, uint64(42), *decoded.Kind.RequestID)
}

func TestParseMessageToleratesUnknownCategory(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"some_future_category":{"version":1,"action":"whatever"}}`))
	require.NoError(t, err)
	require.Equal(t, CategoryUnknown, msg.Category)
	require.NotEmpty(t, msg.Raw)
}

func TestParseMessageToleratesUnknownAction(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"order":{"version":1,"action":"some-future-action"}}`))
	require.NoError(t, err)
	require.Equal(t, CategoryOrder, msg.Category)
	require.Equal(t, Action("some-future-action"), msg.Kind.Action)
}

func TestNewOrderNormalizesFiatCodeAndStatus(t *testing.T) {
	order := SmallOrder{
		Kind:          OrderBuy,
		AmountSats:    0,
		FiatCode:      "ars",
		FiatAmount:    5000,
		PaymentMethod: "bank transfer",
	}
	msg := NewOrder(order, "lnbc1invoice", 7, 1)

	require.Equal(t, CategoryOrder, msg.Category)
	require.Equal(t, ActionNewOrder, msg.Kind.Action)
	require.Equal(t, "ARS", msg.Kind.Payload.Order.FiatCode)
	require.Equal(t, OrderStatusPending, *msg.Kind.Payload.Order.Status)
	require.Equal(t, "lnbc1invoice", *msg.Kind.Payload.Order.BuyerInvoice)

	data, err := json.Marshal(msg.Kind.Payload.Order)
	require.NoError(t, err)
	var wire map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &wire))
	// Explicit null keys must be present, not omitted.
	_, hasMin := wire["min_amount"]
	require.True(t, hasMin)
	require.Nil(t, wire["min_amount"])
}

func TestNewOrderOmitsBuyerInvoiceForSellOrders(t *testing.T) {
	order := SmallOrder{Kind: OrderSell, FiatCode: "usd", FiatAmount: 100, PaymentMethod: "cash"}
	msg := NewOrder(order, "lnbc1shouldnotappear", 1, 1)
	require.Nil(t, msg.Kind.Payload.Order.BuyerInvoice)
}

func TestTakeSellPayloadShapes(t *testing.T) {
	amount := int64(15)

	withInvoice := TakeSell("order-1", "lnbc1...", false, nil, 1, 2)
	require.Equal(t, PayloadPaymentRequest, withInvoice.Kind.Payload.Kind)
	require.Equal(t, "lnbc1...", withInvoice.Kind.Payload.PaymentRequest.Invoice)
	require.Nil(t, withInvoice.Kind.Payload.PaymentRequest.Order)

	withInvoiceAndAmount := TakeSell("order-1", "lnbc1...", true, &amount, 1, 2)
	require.Equal(t, int64(15), *withInvoiceAndAmount.Kind.Payload.PaymentRequest.Amount)

	rangeNoInvoice := TakeSell("order-1", "", true, &amount, 1, 2)
	require.Equal(t, PayloadAmount, rangeNoInvoice.Kind.Payload.Kind)
	require.Equal(t, int64(15), *rangeNoInvoice.Kind.Payload.Amount)

	fixedNoInvoice := TakeSell("order-1", "", false, nil, 1, 2)
	require.Nil(t, fixedNoInvoice.Kind.Payload)
}

func TestTakeSellPaymentRequestTupleShape(t *testing.T) {
	msg := TakeSell("order-1", "lnbc1...", true, nil, 1, 2)
	data, err := json.Marshal(msg.Kind.Payload)
	require.NoError(t, err)
	require.JSONEq(t, `{"payment_request":[null,"lnbc1...",null]}`, string(data))
}

func TestCorrelateExactRequestIDWins(t *testing.T) {
	candidates := []Candidate{
		{Message: FiatSent("order-1", 1, 1), CreatedAt: 100},
		{Message: FiatSent("order-1", 42, 1), CreatedAt: 200},
	}
	got, ok := Correlate(candidates, 42, []Action{ActionFiatSent}, nil)
	require.True(t, ok)
	require.Equal(t, uint64(42), *got.Kind.RequestID)
}

func TestCorrelateFallsBackToFreshestMatchingAction(t *testing.T) {
	older := Message{Category: CategoryOrder, Kind: MessageKind{Version: 1, ID: strPtr("older"), Action: ActionReleased}}
	newer := Message{Category: CategoryOrder, Kind: MessageKind{Version: 1, ID: strPtr("newer"), Action: ActionReleased}}
	candidates := []Candidate{
		{Message: older, CreatedAt: 100},
		{Message: newer, CreatedAt: 9999999999},
	}
	got, ok := Correlate(candidates, 7, []Action{ActionReleased}, nil)
	require.True(t, ok)
	require.Equal(t, "newer", *got.Kind.ID)
}

func TestCorrelateReturnsFalseWhenNothingMatches(t *testing.T) {
	_, ok := Correlate(nil, 7, []Action{ActionReleased}, nil)
	require.False(t, ok)
}
