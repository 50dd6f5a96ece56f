// Package tradeengine orchestrates one user's trade lifecycle (§4.H):
// build a message, gift-wrap and publish it, wait for and correlate the
// coordinator's reply, dispatch on the reply's action, and audit the
// outcome. It is the one component that wires every other package
// together (keys, protocol, giftwrap, safety, relaypool).
package tradeengine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/mostro-exchange/mostro-client/cryptoprim"
	"github.com/mostro-exchange/mostro-client/giftwrap"
	"github.com/mostro-exchange/mostro-client/keys"
	"github.com/mostro-exchange/mostro-client/mostroerr"
	"github.com/mostro-exchange/mostro-client/protocol"
	"github.com/mostro-exchange/mostro-client/relaypool"
	"github.com/mostro-exchange/mostro-client/safety"
)

// replyWaitBudget bounds how long one action waits for a coordinator
// reply before giving up and reporting a timeout (§4.H step 5).
const replyWaitBudget = 15 * time.Second

// Engine bundles the components a trade action needs: the user's key
// hierarchy, a relay pool, the safety envelope, the order/trade-index
// map, and the configured coordinator.
type Engine struct {
	Keys          *keys.Keys
	Pool          *relaypool.Pool
	Safety        *safety.Envelope
	Index         *IndexMap
	Oracle        PriceOracle
	CoordinatorPub [32]byte
	MaxPremiumDeviation float64
	Log           *logrus.Logger
}

func (e *Engine) logger() *logrus.Entry {
	log := e.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return log.WithField("component", "tradeengine")
}

// send wraps, publishes, and waits for a correlated reply to msg, signed
// by tradeKey. identity is nil for privacy-mode orders. It implements
// §4.H steps 3-5.
func (e *Engine) send(ctx context.Context, msg protocol.Message, tradeKey keys.KeyPair, identity *keys.KeyPair, wantActions []protocol.Action) (protocol.Message, error) {
	requestID := msg.Kind.RequestID

	body, err := msg.Serialize()
	if err != nil {
		return protocol.Message{}, err
	}

	signer := giftwrap.Signer{Trade: tradeKey.Priv, TradePub: tradeKey.PubXOnly}
	if identity != nil {
		signer.Identity = identity.Priv
	}

	if err := giftwrap.Build(ctx, e.Pool, e.CoordinatorPub, body, signer); err != nil {
		return protocol.Message{}, err
	}

	deadline := time.Now().Add(replyWaitBudget)
	for time.Now().Before(deadline) {
		received, err := giftwrap.Fetch(ctx, e.Pool, tradeKey.Priv, tradeKey.PubXOnly, replyWaitBudget, replyWaitBudget, e.Log)
		if err != nil {
			return protocol.Message{}, err
		}

		var candidates []protocol.Candidate
		for _, r := range received {
			reply, err := protocol.ParseMessage(r.MessageJSON)
			if err != nil {
				continue
			}
			candidates = append(candidates, protocol.Candidate{Message: reply, CreatedAt: r.CreatedAt})
		}

		if requestID != nil {
			if reply, ok := protocol.Correlate(candidates, *requestID, wantActions, e.Log); ok {
				return reply, nil
			}
		}

		select {
		case <-ctx.Done():
			return protocol.Message{}, mostroerr.Wrap(mostroerr.KindTimeout, "waiting for coordinator reply", ctx.Err())
		case <-time.After(2 * time.Second):
		}
	}
	return protocol.Message{}, mostroerr.New(mostroerr.KindTimeout, "no correlated reply within wait budget")
}

// replyActions is the set of coordinator actions that can answer any
// client-initiated request, used as the fallback-correlation window
// (§4.F "Correlation policy").
var replyActions = []protocol.Action{
	protocol.ActionPayInvoice,
	protocol.ActionFiatSentOk,
	protocol.ActionReleased,
	protocol.ActionPurchaseCompleted,
	protocol.ActionCanceled,
	protocol.ActionCooperativeCancelInitiatedByYou,
	protocol.ActionRateReceived,
	protocol.ActionCantDo,
}

// audit records one action's terminal result, never returning an error
// itself: a failure to write the journal must not mask the outcome it
// describes (§4.H step 7 "always audit").
func (e *Engine) audit(action string, orderID string, result safety.AuditResult, details string) {
	entry := safety.Entry{
		Timestamp: time.Now().Unix(),
		Action:    action,
		OrderID:   orderID,
		Result:    result,
		Details:   details,
	}
	if err := e.Safety.Record(entry); err != nil {
		e.logger().WithError(err).Warn("failed to write audit entry")
	}
}

// dispatch interprets a coordinator reply per §4.H step 6 and returns an
// audit result plus a human-facing summary line.
func dispatch(reply protocol.Message) (safety.AuditResult, string) {
	switch reply.Kind.Action {
	case protocol.ActionNewOrder:
		return safety.ResultSuccess, "order created"
	case protocol.ActionPayInvoice:
		return safety.ResultPending, "coordinator requests payment of a hold invoice"
	case protocol.ActionFiatSentOk:
		return safety.ResultSuccess, "fiat payment acknowledged"
	case protocol.ActionReleased:
		return safety.ResultSuccess, "escrow released"
	case protocol.ActionPurchaseCompleted:
		return safety.ResultSuccess, "trade completed"
	case protocol.ActionCanceled, protocol.ActionCooperativeCancelInitiatedByYou:
		return safety.ResultRejected, "order canceled"
	case protocol.ActionRateReceived:
		return safety.ResultSuccess, "rating recorded"
	case protocol.ActionCantDo:
		reason := "coordinator rejected the request"
		if reply.Kind.Payload != nil && reply.Kind.Payload.CantDo != nil {
			reason = *reply.Kind.Payload.CantDo
		}
		return safety.ResultRejected, reason
	default:
		return safety.ResultPending, "informational reply: " + string(reply.Kind.Action)
	}
}

// mergeRestoreData unions a restore-session reply per trade index into one
// result, de-duplicated by order/dispute id: the same order can surface
// under more than one trade index once a user has traded under several
// keys, and the coordinator has no way to know which of a client's many
// indices already reported it (§9 "Single-index restore").
func mergeRestoreData(parts []protocol.RestoreData) protocol.RestoreData {
	var combined protocol.RestoreData
	seenOrders := map[string]struct{}{}
	seenDisputes := map[string]struct{}{}

	for _, part := range parts {
		for _, o := range part.Orders {
			if _, dup := seenOrders[o.ID]; dup {
				continue
			}
			seenOrders[o.ID] = struct{}{}
			combined.Orders = append(combined.Orders, o)
		}
		for _, d := range part.Disputes {
			if _, dup := seenDisputes[d.ID]; dup {
				continue
			}
			seenDisputes[d.ID] = struct{}{}
			combined.Disputes = append(combined.Disputes, d)
		}
	}
	return combined
}

// sizeEstimate converts a new order's declared size into a sats estimate
// for the limit check (§4.H step 2): the order's own amount_sats when
// fixed, or a fiat-amount/oracle-price conversion for a market order,
// falling back to a conservative rate when the oracle is unreachable.
func sizeEstimate(order protocol.SmallOrder, oracle PriceOracle) int64 {
	if order.AmountSats > 0 {
		return order.AmountSats
	}
	fiat := order.FiatAmount
	if order.MaxAmount != nil {
		fiat = *order.MaxAmount
	}
	sats, _ := estimateSats(oracle, order.FiatCode, decimal.NewFromInt(fiat))
	return sats
}

// CreateOrder runs §4.H's full new-order sequence: size estimate, limit
// check, price-deviation check, next trade key, build/sign/publish, wait
// for a correlated reply, dispatch, and audit. It records the resulting
// trade index under the coordinator-assigned order id on success.
func (e *Engine) CreateOrder(ctx context.Context, order protocol.SmallOrder, buyerInvoice string, useIdentity bool) (protocol.Message, error) {
	if err := order.Validate(); err != nil {
		e.audit(string(protocol.ActionNewOrder), "", safety.ResultRejected, err.Error())
		return protocol.Message{}, err
	}

	estimatedSats := sizeEstimate(order, e.Oracle)
	if err := e.Safety.CheckLimits(uint64(estimatedSats)); err != nil {
		e.audit(string(protocol.ActionNewOrder), "", safety.ResultRejected, err.Error())
		return protocol.Message{}, err
	}

	if order.PremiumPercent != 0 {
		premium := order.PremiumPercent
		// The premium comparison needs no market price, so it runs as if the
		// oracle were reachable.
		if err := safety.CheckPriceDeviation(&premium, 0, decimal.Zero, decimal.Zero, true, e.MaxPremiumDeviation); err != nil {
			e.audit(string(protocol.ActionNewOrder), "", safety.ResultRejected, err.Error())
			return protocol.Message{}, err
		}
	}

	tradeKey, tradeIndex, err := e.Keys.NextTradeKeypair()
	if err != nil {
		return protocol.Message{}, err
	}

	var identity *keys.KeyPair
	if useIdentity {
		id, err := e.Keys.IdentityKeypair()
		if err != nil {
			return protocol.Message{}, err
		}
		identity = &id
	}

	requestID, err := cryptoprim.RandomRequestID()
	if err != nil {
		return protocol.Message{}, err
	}

	msg := protocol.NewOrder(order, buyerInvoice, requestID, int(tradeIndex))
	reply, err := e.send(ctx, msg, tradeKey, identity, []protocol.Action{protocol.ActionNewOrder, protocol.ActionCantDo})
	if err != nil {
		e.audit(string(protocol.ActionNewOrder), "", safety.ResultFailed, err.Error())
		return protocol.Message{}, err
	}

	result, details := dispatch(reply)
	orderID := ""
	if reply.Kind.ID != nil {
		orderID = *reply.Kind.ID
	}
	if orderID != "" {
		if err := e.Index.Set(orderID, tradeIndex); err != nil {
			e.logger().WithError(err).Warn("failed to persist trade index mapping")
		}
	}
	if result == safety.ResultSuccess || reply.Kind.Action == protocol.ActionNewOrder {
		if err := e.Safety.RecordTrade(uint64(estimatedSats)); err != nil {
			e.logger().WithError(err).Warn("failed to record trade counters")
		}
	}
	e.audit(string(protocol.ActionNewOrder), orderID, result, details)
	return reply, nil
}

// tradeKeyFor resolves the trade key an existing order was created or
// taken under, logging (not failing on) an unmapped order falling back
// to index 1 (§9 "Order→trade-index mapping").
func (e *Engine) tradeKeyFor(orderID string) (keys.KeyPair, uint32, error) {
	index, ok, err := e.Index.Lookup(orderID)
	if err != nil {
		return keys.KeyPair{}, 0, err
	}
	if !ok {
		e.logger().WithField("order_id", orderID).Warn("no recorded trade index for order, falling back to index 1")
	}
	kp, err := e.Keys.TradeKeypair(index)
	return kp, index, err
}

// takeAction runs the shared send/dispatch/audit sequence for any action
// against an existing order.
func (e *Engine) takeAction(ctx context.Context, action protocol.Action, orderID string, build func(tradeKey keys.KeyPair, tradeIndex uint32, requestID uint64) (protocol.Message, []protocol.Action)) (protocol.Message, error) {
	tradeKey, tradeIndex, err := e.tradeKeyFor(orderID)
	if err != nil {
		return protocol.Message{}, err
	}
	requestID, err := cryptoprim.RandomRequestID()
	if err != nil {
		return protocol.Message{}, err
	}
	msg, wantActions := build(tradeKey, tradeIndex, requestID)

	reply, err := e.send(ctx, msg, tradeKey, nil, wantActions)
	if err != nil {
		e.audit(string(action), orderID, safety.ResultFailed, err.Error())
		return protocol.Message{}, err
	}
	result, details := dispatch(reply)
	e.audit(string(action), orderID, result, details)
	return reply, nil
}

// TakeBuy takes a buy order as the seller side of the trade.
func (e *Engine) TakeBuy(ctx context.Context, orderID string, isRangeOrder bool, amount *int64) (protocol.Message, error) {
	return e.takeAction(ctx, protocol.ActionTakeBuy, orderID, func(tradeKey keys.KeyPair, tradeIndex uint32, requestID uint64) (protocol.Message, []protocol.Action) {
		return protocol.TakeBuy(orderID, isRangeOrder, amount, requestID, int(tradeIndex)), []protocol.Action{protocol.ActionAddInvoice, protocol.ActionCantDo}
	})
}

// TakeSell takes a sell order as the buyer side of the trade.
func (e *Engine) TakeSell(ctx context.Context, orderID, invoice string, isRangeOrder bool, amount *int64) (protocol.Message, error) {
	return e.takeAction(ctx, protocol.ActionTakeSell, orderID, func(tradeKey keys.KeyPair, tradeIndex uint32, requestID uint64) (protocol.Message, []protocol.Action) {
		return protocol.TakeSell(orderID, invoice, isRangeOrder, amount, requestID, int(tradeIndex)), replyActions
	})
}

// Cancel cancels an order the caller is a party to.
func (e *Engine) Cancel(ctx context.Context, orderID string) (protocol.Message, error) {
	return e.takeAction(ctx, protocol.ActionCancel, orderID, func(tradeKey keys.KeyPair, tradeIndex uint32, requestID uint64) (protocol.Message, []protocol.Action) {
		return protocol.Cancel(orderID, requestID, int(tradeIndex)), []protocol.Action{protocol.ActionCanceled, protocol.ActionCooperativeCancelInitiatedByYou, protocol.ActionCantDo}
	})
}

// FiatSent confirms to the coordinator that the buyer has sent fiat.
func (e *Engine) FiatSent(ctx context.Context, orderID string) (protocol.Message, error) {
	return e.takeAction(ctx, protocol.ActionFiatSent, orderID, func(tradeKey keys.KeyPair, tradeIndex uint32, requestID uint64) (protocol.Message, []protocol.Action) {
		return protocol.FiatSent(orderID, requestID, int(tradeIndex)), []protocol.Action{protocol.ActionFiatSentOk, protocol.ActionCantDo}
	})
}

// Release tells the coordinator to release escrow to the buyer.
func (e *Engine) Release(ctx context.Context, orderID string) (protocol.Message, error) {
	return e.takeAction(ctx, protocol.ActionRelease, orderID, func(tradeKey keys.KeyPair, tradeIndex uint32, requestID uint64) (protocol.Message, []protocol.Action) {
		return protocol.Release(orderID, requestID, int(tradeIndex)), []protocol.Action{protocol.ActionReleased, protocol.ActionPurchaseCompleted, protocol.ActionCantDo}
	})
}

// Rate rates the counterparty of a completed trade, stars in 1..5.
func (e *Engine) Rate(ctx context.Context, orderID string, stars int) (protocol.Message, error) {
	return e.takeAction(ctx, protocol.ActionRateUser, orderID, func(tradeKey keys.KeyPair, tradeIndex uint32, requestID uint64) (protocol.Message, []protocol.Action) {
		return protocol.Rate(orderID, stars, requestID, int(tradeIndex)), []protocol.Action{protocol.ActionRateReceived, protocol.ActionCantDo}
	})
}

// Dispute opens a dispute on orderID.
func (e *Engine) Dispute(ctx context.Context, orderID, reason string) (protocol.Message, error) {
	return e.takeAction(ctx, protocol.ActionDispute, orderID, func(tradeKey keys.KeyPair, tradeIndex uint32, requestID uint64) (protocol.Message, []protocol.Action) {
		return protocol.Dispute(orderID, reason, requestID, int(tradeIndex)), []protocol.Action{protocol.ActionCantDo}
	})
}

// AddInvoice supplies the buyer's Lightning invoice the coordinator
// requested after a take-sell without one.
func (e *Engine) AddInvoice(ctx context.Context, orderID, invoice string, amount *int64) (protocol.Message, error) {
	return e.takeAction(ctx, protocol.ActionAddInvoice, orderID, func(tradeKey keys.KeyPair, tradeIndex uint32, requestID uint64) (protocol.Message, []protocol.Action) {
		return protocol.AddInvoice(orderID, invoice, amount, requestID, int(tradeIndex)), []protocol.Action{protocol.ActionPayInvoice, protocol.ActionCantDo}
	})
}

// DisputeChat requests a dispute-solver chat channel for orderID.
func (e *Engine) DisputeChat(ctx context.Context, orderID string) (protocol.Message, error) {
	return e.takeAction(ctx, protocol.ActionDisputeChat, orderID, func(tradeKey keys.KeyPair, tradeIndex uint32, requestID uint64) (protocol.Message, []protocol.Action) {
		return protocol.DisputeChat(orderID, requestID, int(tradeIndex)), []protocol.Action{protocol.ActionCantDo}
	})
}

// QueryStatus asks the coordinator for an order's current status.
func (e *Engine) QueryStatus(ctx context.Context, orderID string) (protocol.Message, error) {
	return e.takeAction(ctx, protocol.ActionQueryStatus, orderID, func(tradeKey keys.KeyPair, tradeIndex uint32, requestID uint64) (protocol.Message, []protocol.Action) {
		return protocol.QueryStatus(orderID, requestID, int(tradeIndex)), replyActions
	})
}

// RestoreSession recovers local state after losing the trade-index
// cursor: it asks the coordinator for the identity's last-known trade
// index and advances the local cursor to one past it. It then sends one
// restore-session request per trade key — every index this client has
// recorded locally (IndexMap.AllIndices) plus the current cursor value —
// and merges the returned orders and disputes, de-duplicated by id.
// Indices that are neither recorded locally nor equal to the cursor are
// not queried.
func (e *Engine) RestoreSession(ctx context.Context) (protocol.RestoreData, error) {
	identity, err := e.Keys.IdentityKeypair()
	if err != nil {
		return protocol.RestoreData{}, err
	}

	requestID, err := cryptoprim.RandomRequestID()
	if err != nil {
		return protocol.RestoreData{}, err
	}
	lastMsg := protocol.LastTradeIndex(requestID)
	lastReply, err := e.send(ctx, lastMsg, identity, &identity, []protocol.Action{protocol.ActionLastTradeIndex, protocol.ActionCantDo})
	if err != nil {
		e.audit(string(protocol.ActionLastTradeIndex), "", safety.ResultFailed, err.Error())
		return protocol.RestoreData{}, err
	}
	if lastReply.Kind.Payload != nil && lastReply.Kind.Payload.Amount != nil {
		if err := e.Keys.SetTradeIndex(uint32(*lastReply.Kind.Payload.Amount) + 1); err != nil {
			e.logger().WithError(err).Warn("failed to advance trade index cursor from coordinator reply")
		}
	}

	var parts []protocol.RestoreData

	localIndices, err := e.Index.AllIndices()
	if err != nil {
		e.logger().WithError(err).Warn("failed to read locally recorded trade indices")
		localIndices = nil
	}
	localIndices = append(localIndices, e.Keys.CurrentTradeIndex())

	seen := map[uint32]struct{}{}
	for _, idx := range localIndices {
		if idx < 1 {
			continue
		}
		if _, dup := seen[idx]; dup {
			continue
		}
		seen[idx] = struct{}{}

		tradeKey, err := e.Keys.TradeKeypair(idx)
		if err != nil {
			continue
		}
		requestID, err := cryptoprim.RandomRequestID()
		if err != nil {
			continue
		}
		msg := protocol.RestoreSession(requestID, int(idx))
		reply, err := e.send(ctx, msg, tradeKey, nil, []protocol.Action{protocol.ActionRestoreSession, protocol.ActionCantDo})
		if err != nil {
			e.logger().WithField("trade_index", idx).WithError(err).Warn("restore-session request failed for index")
			continue
		}
		if reply.Kind.Payload == nil || reply.Kind.Payload.RestoreData == nil {
			continue
		}
		for _, o := range reply.Kind.Payload.RestoreData.Orders {
			if err := e.Index.Set(o.ID, idx); err != nil {
				e.logger().WithError(err).Warn("failed to persist restored trade index mapping")
			}
		}
		parts = append(parts, *reply.Kind.Payload.RestoreData)
	}

	combined := mergeRestoreData(parts)
	e.audit(string(protocol.ActionRestoreSession), "", safety.ResultSuccess, "restored session across recorded trade indices")
	return combined, nil
}

// Close releases the engine's relay connections. Every CLI/library entry
// point must defer this on every exit path (§4.H step 7).
func (e *Engine) Close() {
	e.Pool.Close()
}
