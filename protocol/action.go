package protocol

// Category is the top-level tagged variant a Message is wrapped in on the
// wire: exactly one of these keys is present in the serialized object (§3
// "Message").
type Category string

const (
	CategoryOrder    Category = "order"
	CategoryDispute  Category = "dispute"
	CategoryCantDo   Category = "cant_do"
	CategoryRate     Category = "rate"
	CategoryDM       Category = "dm"
	CategoryRestore  Category = "restore"
	CategoryUnknown  Category = "unknown"
)

// Action enumerates the recognized action strings carried in a
// MessageKind, both client-initiated requests and coordinator replies.
// Parsing does not reject an action string missing from this list: it is
// kept as-is so version skew never crashes the parser (§4.F "Parsing").
// ActionUnknown is the empty action of a body that carries none.
type Action string

const (
	// Client-initiated.
	ActionNewOrder      Action = "new-order"
	ActionTakeBuy       Action = "take-buy"
	ActionTakeSell      Action = "take-sell"
	ActionFiatSent      Action = "fiat-sent"
	ActionRelease       Action = "release"
	ActionCancel        Action = "cancel"
	ActionRateUser      Action = "rate-user"
	ActionDispute       Action = "dispute"
	ActionAddInvoice    Action = "add-invoice"
	ActionDisputeChat   Action = "dispute-chat"
	ActionRestoreSession Action = "restore-session"
	ActionLastTradeIndex Action = "last-trade-index"
	ActionQueryStatus   Action = "query-status"
	ActionSendDM        Action = "send-dm"

	// Coordinator replies.
	ActionPayInvoice                        Action = "pay-invoice"
	ActionFiatSentOk                        Action = "fiat-sent-ok"
	ActionReleased                          Action = "released"
	ActionPurchaseCompleted                 Action = "purchase-completed"
	ActionCanceled                          Action = "canceled"
	ActionCooperativeCancelInitiatedByYou   Action = "cooperative-cancel-initiated-by-you"
	ActionRateReceived                       Action = "rate-received"
	ActionCantDo                            Action = "cant-do"

	ActionUnknown Action = ""
)
