package protocol

import "strings"

// NewOrder builds the new-order message for order (§4.F "new_order
// payload construction"). order.Status is forced to pending, FiatCode is
// upper-cased, and buyerInvoice is attached only for a pre-funded buy
// order.
func NewOrder(order SmallOrder, buyerInvoice string, requestID uint64, tradeIndex int) Message {
	pending := OrderStatusPending
	order.Status = &pending
	order.FiatCode = strings.ToUpper(order.FiatCode)

	if order.Kind == OrderBuy && buyerInvoice != "" {
		order.BuyerInvoice = strPtr(buyerInvoice)
	} else {
		order.BuyerInvoice = nil
	}

	return Message{
		Category: CategoryOrder,
		Kind: MessageKind{
			Version:    protocolVersion,
			RequestID:  newRequestID(requestID),
			TradeIndex: intPtr(tradeIndex),
			Action:     ActionNewOrder,
			Payload:    &Payload{Kind: PayloadOrder, Order: &order},
		},
	}
}

// TakeBuy builds the take-buy message (§4.F "Take-order payload
// construction"). amount is only meaningful, and only attached, when the
// order is a range order and the taker picked a value within it.
func TakeBuy(orderID string, isRangeOrder bool, amount *int64, requestID uint64, tradeIndex int) Message {
	kind := MessageKind{
		Version:    protocolVersion,
		ID:         strPtr(orderID),
		RequestID:  newRequestID(requestID),
		TradeIndex: intPtr(tradeIndex),
		Action:     ActionTakeBuy,
	}
	if isRangeOrder && amount != nil {
		kind.Payload = &Payload{Kind: PayloadAmount, Amount: amount}
	}
	return Message{Category: CategoryOrder, Kind: kind}
}

// TakeSell builds the take-sell message (§4.F "Take-order payload
// construction"):
//   - an invoice was supplied: {payment_request: [null, invoice, amount|nil]}
//   - no invoice, range order with a chosen amount: {amount}
//   - no invoice, fixed order: no payload (coordinator follows up with add-invoice)
func TakeSell(orderID string, invoice string, isRangeOrder bool, amount *int64, requestID uint64, tradeIndex int) Message {
	kind := MessageKind{
		Version:    protocolVersion,
		ID:         strPtr(orderID),
		RequestID:  newRequestID(requestID),
		TradeIndex: intPtr(tradeIndex),
		Action:     ActionTakeSell,
	}
	switch {
	case invoice != "":
		kind.Payload = &Payload{
			Kind: PayloadPaymentRequest,
			PaymentRequest: &PaymentRequest{
				Order:   nil,
				Invoice: invoice,
				Amount:  amount,
			},
		}
	case isRangeOrder && amount != nil:
		kind.Payload = &Payload{Kind: PayloadAmount, Amount: amount}
	}
	return Message{Category: CategoryOrder, Kind: kind}
}

// FiatSent builds the fiat-sent confirmation message.
func FiatSent(orderID string, requestID uint64, tradeIndex int) Message {
	return Message{
		Category: CategoryOrder,
		Kind: MessageKind{
			Version:    protocolVersion,
			ID:         strPtr(orderID),
			RequestID:  newRequestID(requestID),
			TradeIndex: intPtr(tradeIndex),
			Action:     ActionFiatSent,
		},
	}
}

// Release builds the escrow-release message the seller sends once fiat
// payment is confirmed.
func Release(orderID string, requestID uint64, tradeIndex int) Message {
	return Message{
		Category: CategoryOrder,
		Kind: MessageKind{
			Version:    protocolVersion,
			ID:         strPtr(orderID),
			RequestID:  newRequestID(requestID),
			TradeIndex: intPtr(tradeIndex),
			Action:     ActionRelease,
		},
	}
}

// Cancel builds the order-cancellation message.
func Cancel(orderID string, requestID uint64, tradeIndex int) Message {
	return Message{
		Category: CategoryOrder,
		Kind: MessageKind{
			Version:    protocolVersion,
			ID:         strPtr(orderID),
			RequestID:  newRequestID(requestID),
			TradeIndex: intPtr(tradeIndex),
			Action:     ActionCancel,
		},
	}
}

// Rate builds the counterparty rating message; stars must be 1..5.
func Rate(orderID string, stars int, requestID uint64, tradeIndex int) Message {
	return Message{
		Category: CategoryRate,
		Kind: MessageKind{
			Version:    protocolVersion,
			ID:         strPtr(orderID),
			RequestID:  newRequestID(requestID),
			TradeIndex: intPtr(tradeIndex),
			Action:     ActionRateUser,
			Payload:    &Payload{Kind: PayloadRatingUser, RatingUser: &stars},
		},
	}
}

// Dispute opens a dispute on orderID with a free-text reason.
func Dispute(orderID, reason string, requestID uint64, tradeIndex int) Message {
	return Message{
		Category: CategoryDispute,
		Kind: MessageKind{
			Version:    protocolVersion,
			ID:         strPtr(orderID),
			RequestID:  newRequestID(requestID),
			TradeIndex: intPtr(tradeIndex),
			Action:     ActionDispute,
			Payload:    &Payload{Kind: PayloadDispute, Dispute: strPtr(reason)},
		},
	}
}

// AddInvoice responds to the coordinator's request for a Lightning
// invoice with the one the buyer supplies.
func AddInvoice(orderID, invoice string, amount *int64, requestID uint64, tradeIndex int) Message {
	return Message{
		Category: CategoryOrder,
		Kind: MessageKind{
			Version:    protocolVersion,
			ID:         strPtr(orderID),
			RequestID:  newRequestID(requestID),
			TradeIndex: intPtr(tradeIndex),
			Action:     ActionAddInvoice,
			Payload: &Payload{
				Kind:           PayloadPaymentRequest,
				PaymentRequest: &PaymentRequest{Invoice: invoice, Amount: amount},
			},
		},
	}
}

// DisputeChat requests the coordinator open a dispute-solver chat channel
// for orderID.
func DisputeChat(orderID string, requestID uint64, tradeIndex int) Message {
	return Message{
		Category: CategoryDispute,
		Kind: MessageKind{
			Version:    protocolVersion,
			ID:         strPtr(orderID),
			RequestID:  newRequestID(requestID),
			TradeIndex: intPtr(tradeIndex),
			Action:     ActionDisputeChat,
		},
	}
}

// RestoreSession builds the restore-session message for the trade key at
// tradeIndex.
func RestoreSession(requestID uint64, tradeIndex int) Message {
	return Message{
		Category: CategoryRestore,
		Kind: MessageKind{
			Version:    protocolVersion,
			RequestID:  newRequestID(requestID),
			TradeIndex: intPtr(tradeIndex),
			Action:     ActionRestoreSession,
		},
	}
}

// LastTradeIndex builds the request for the coordinator's last-known
// trade index for the identity, used ahead of a restore (§4.H
// "Restore-session").
func LastTradeIndex(requestID uint64) Message {
	return Message{
		Category: CategoryRestore,
		Kind: MessageKind{
			Version:   protocolVersion,
			RequestID: newRequestID(requestID),
			Action:    ActionLastTradeIndex,
		},
	}
}

// QueryStatus asks the coordinator for an order's current status.
func QueryStatus(orderID string, requestID uint64, tradeIndex int) Message {
	return Message{
		Category: CategoryOrder,
		Kind: MessageKind{
			Version:    protocolVersion,
			ID:         strPtr(orderID),
			RequestID:  newRequestID(requestID),
			TradeIndex: intPtr(tradeIndex),
			Action:     ActionQueryStatus,
		},
	}
}

// SendDM builds a dm-category message carrying free text, for send-dm
// actions outside the encrypted chat envelope (e.g. pre-trade questions
// routed through the coordinator rather than P2P).
func SendDM(peerPubkey, text string, requestID uint64) Message {
	return Message{
		Category: CategoryDM,
		Kind: MessageKind{
			Version:   protocolVersion,
			RequestID: newRequestID(requestID),
			Action:    ActionSendDM,
			Payload:   &Payload{Kind: PayloadTextMessage, TextMessage: strPtr(text)},
		},
	}
}
