package tradeengine

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/mostro-exchange/mostro-client/config"
	"github.com/mostro-exchange/mostro-client/keys"
	"github.com/mostro-exchange/mostro-client/protocol"
	"github.com/mostro-exchange/mostro-client/safety"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	k, err := keys.GenerateMnemonic()
	require.NoError(t, err)
	kh, err := keys.FromMnemonic(k, 1)
	require.NoError(t, err)

	index, err := NewIndexMap(t.TempDir())
	require.NoError(t, err)

	env, err := safety.New(t.TempDir(), config.Limits{
		MaxTradeAmountSats: 10_000_000,
		MaxDailyVolumeSats: 100_000_000,
		MaxTradesPerDay:    100,
	})
	require.NoError(t, err)

	return &Engine{Keys: kh, Safety: env, Index: index, MaxPremiumDeviation: 5}
}

func TestDispatchMapsReplyActionsToAuditResults(t *testing.T) {
	cases := []struct {
		action protocol.Action
		want   safety.AuditResult
	}{
		{protocol.ActionNewOrder, safety.ResultSuccess},
		{protocol.ActionPayInvoice, safety.ResultPending},
		{protocol.ActionFiatSentOk, safety.ResultSuccess},
		{protocol.ActionReleased, safety.ResultSuccess},
		{protocol.ActionPurchaseCompleted, safety.ResultSuccess},
		{protocol.ActionCanceled, safety.ResultRejected},
		{protocol.ActionCooperativeCancelInitiatedByYou, safety.ResultRejected},
		{protocol.ActionRateReceived, safety.ResultSuccess},
	}
	for _, c := range cases {
		result, _ := dispatch(protocol.Message{Kind: protocol.MessageKind{Action: c.action}})
		require.Equal(t, c.want, result, c.action)
	}
}

func TestDispatchUnknownActionIsInformational(t *testing.T) {
	result, details := dispatch(protocol.Message{Kind: protocol.MessageKind{Action: protocol.Action("something-new")}})
	require.Equal(t, safety.ResultPending, result)
	require.Contains(t, details, "something-new")
}

func TestDispatchCantDoCarriesReason(t *testing.T) {
	reason := "order already taken"
	result, details := dispatch(protocol.Message{
		Kind: protocol.MessageKind{
			Action:  protocol.ActionCantDo,
			Payload: &protocol.Payload{Kind: protocol.PayloadCantDo, CantDo: &reason},
		},
	})
	require.Equal(t, safety.ResultRejected, result)
	require.Equal(t, reason, details)
}

func TestSizeEstimateUsesFixedAmountWhenPresent(t *testing.T) {
	order := protocol.SmallOrder{AmountSats: 250_000, FiatCode: "USD"}
	require.EqualValues(t, 250_000, sizeEstimate(order, nil))
}

func TestSizeEstimateFallsBackToMaxAmountForRangeOrders(t *testing.T) {
	max := int64(100)
	order := protocol.SmallOrder{FiatCode: "USD", MaxAmount: &max}
	oracle := fixedOracle{price: decimal.NewFromInt(50_000)}
	sats := sizeEstimate(order, oracle)
	require.EqualValues(t, 200_000, sats)
}

func TestMergeRestoreDataDedupesOrdersAndDisputesByID(t *testing.T) {
	parts := []protocol.RestoreData{
		{
			Orders:   []protocol.RestoredOrder{{ID: "order-1", TradeIndex: 1}},
			Disputes: []protocol.RestoredDispute{{ID: "dispute-1"}},
		},
		{
			Orders: []protocol.RestoredOrder{
				{ID: "order-1", TradeIndex: 1},
				{ID: "order-2", TradeIndex: 2},
			},
			Disputes: []protocol.RestoredDispute{{ID: "dispute-1"}},
		},
	}

	combined := mergeRestoreData(parts)
	require.Len(t, combined.Orders, 2)
	require.Len(t, combined.Disputes, 1)
}

func TestTradeKeyForFallsBackToIndexOneForUnknownOrder(t *testing.T) {
	e := newTestEngine(t)
	_, index, err := e.tradeKeyFor("unknown-order")
	require.NoError(t, err)
	require.EqualValues(t, 1, index)
}

func TestTradeKeyForUsesRecordedIndex(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Index.Set("order-7", 4))

	_, index, err := e.tradeKeyFor("order-7")
	require.NoError(t, err)
	require.EqualValues(t, 4, index)
}
