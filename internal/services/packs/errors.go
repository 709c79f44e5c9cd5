package packs

import "errors"

type Kind string

const (
	KindUserNotFound        Kind = "user_not_found"
	KindInsufficientCredits Kind = "insufficient_credits"
	KindInsufficientCards   Kind = "insufficient_cards"
	KindTransactionFailed   Kind = "transaction_failed"
	KindClaimFailed         Kind = "claim_failed"
	KindCardUnavailable     Kind = "card_unavailable"
)

var messages = map[Kind]string{
	KindUserNotFound:        "User not found",
	KindInsufficientCredits: "Insufficient credits to open pack",
	KindInsufficientCards:   "Not enough cards available to create a pack",
	KindTransactionFailed:   "Failed to process credit transaction",
	KindClaimFailed:         "Error claiming card",
	KindCardUnavailable:     "Card not found or already claimed",
}

// Error is a pack failure with a stable kind. Its message is safe to show
// to the user; the wrapped cause is for logs.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

// Sentinels for errors.Is matching by kind.
var (
	ErrUserNotFound        = &Error{Kind: KindUserNotFound}
	ErrInsufficientCredits = &Error{Kind: KindInsufficientCredits}
	ErrInsufficientCards   = &Error{Kind: KindInsufficientCards}
	ErrTransactionFailed   = &Error{Kind: KindTransactionFailed}
	ErrClaimFailed         = &Error{Kind: KindClaimFailed}
	ErrCardUnavailable     = &Error{Kind: KindCardUnavailable}
)

func newError(kind Kind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: cause}
}

func (e *Error) Error() string {
	msg, ok := messages[e.Kind]
	if !ok {
		msg = string(e.Kind)
	}

	if e.Detail != "" {
		msg += " " + e.Detail
	}

	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)

	return ok && t.Kind == e.Kind
}

// Retryable reports whether running the same request again may succeed.
// Lack of credits or cards and unknown users are final.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindInsufficientCredits, KindInsufficientCards, KindUserNotFound, KindCardUnavailable:
		return false
	default:
		return true
	}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}

	return ""
}
