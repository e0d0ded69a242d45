package clearing

import (
	"errors"
	"fmt"
)

// Typed failures surfaced by the engine. These gate a financial
// action, so they are never swallowed; callers branch with errors.Is.
var (
	// ErrInvalidRequest means the request targets are empty or
	// inconsistent with the request type.
	ErrInvalidRequest = errors.New("invalid clearing request")

	// ErrTokenNotFound means the token is unknown to this engine.
	ErrTokenNotFound = errors.New("token not found")

	// ErrTokenExpired means the token's validity window passed before
	// payment was verified.
	ErrTokenExpired = errors.New("token expired")

	// ErrAlreadyProcessed means the token is already paid or beyond
	// and the transaction reference differs from the verified one.
	ErrAlreadyProcessed = errors.New("token already processed")

	// ErrDuplicatePayment means the payment transaction has already
	// been credited to a different token.
	ErrDuplicatePayment = errors.New("payment already credited to another token")

	// ErrDispatchTimeout means the execution collaborator did not
	// accept the dispatch in time.
	ErrDispatchTimeout = errors.New("dispatch timed out")

	// ErrPollTimeout means status polling exhausted its attempts
	// before the operation reached a terminal state.
	ErrPollTimeout = errors.New("status polling timed out")
)

// InsufficientPaymentError reports a payment below the required total
// (beyond tolerance).
type InsufficientPaymentError struct {
	Required string
	Paid     string
	Denom    string
}

func (e *InsufficientPaymentError) Error() string {
	return fmt.Sprintf(
		"insufficient payment: required %s %s, paid %s %s",
		e.Required, e.Denom, e.Paid, e.Denom,
	)
}

// OverpaymentError reports a payment above the required total (beyond
// tolerance). Overpayments are rejected rather than kept: the engine
// has no refund path.
type OverpaymentError struct {
	Required string
	Paid     string
	Denom    string
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf(
		"overpayment: required %s %s, paid %s %s",
		e.Required, e.Denom, e.Paid, e.Denom,
	)
}

// WrongDenomError reports a payment in a denomination other than the
// token's accepted one.
type WrongDenomError struct {
	Expected string
	Got      string
}

func (e *WrongDenomError) Error() string {
	return fmt.Sprintf(
		"invalid payment denomination: expected %s, got %s",
		e.Expected, e.Got,
	)
}
