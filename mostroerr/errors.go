// Package mostroerr defines the typed error kinds shared across the
// client's components, so callers can distinguish a rejected trade from a
// network hiccup without parsing message strings.
package mostroerr

import "errors"

// Kind identifies one of the error categories handled specially by the
// trade engine and its callers.
type Kind string

const (
	KindConfigInvalid     Kind = "config_invalid"
	KindMnemonicInvalid   Kind = "mnemonic_invalid"
	KindInvalidIndex      Kind = "invalid_index"
	KindLimitExceeded     Kind = "limit_exceeded"
	KindPriceDeviation    Kind = "price_deviation"
	KindPublishFailed     Kind = "publish_failed"
	KindTimeout           Kind = "timeout"
	KindDecryptFailed     Kind = "decrypt_failed"
	KindSignatureInvalid  Kind = "signature_invalid"
	KindProtocolReject    Kind = "protocol_reject"
	KindRelayError        Kind = "relay_error"
	KindUnknown           Kind = "unknown"
)

// Error is a typed error carrying a Kind plus a human-readable reason.
// Reason must never contain secret material (mnemonics, private scalars).
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a typed error of the given kind.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Wrap builds a typed error of the given kind around a lower-level error.
func Wrap(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// Is reports whether err carries the given Kind. It unwraps err down to
// the outermost *Error in its chain and compares that one's Kind only;
// the kinds of *Error values wrapped inside it are not consulted.
func Is(err error, kind Kind) bool {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind == kind
	}
	return false
}
