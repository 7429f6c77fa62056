// Package swaperr defines the closed error taxonomy shared by every engine
// component, and the classifier that maps raw failures into it. Low-level
// errors are translated at the component boundary where they occur; no raw
// provider error reaches the engine's callers untranslated.
package swaperr

import (
	"errors"
	"fmt"
)

// Kind is the closed set of failure categories.
type Kind string

const (
	KindInvalidPair           Kind = "invalid_pair"
	KindInsufficientLiquidity Kind = "insufficient_liquidity"
	KindInsufficientBalance   Kind = "insufficient_balance"
	KindAllowanceRequired     Kind = "allowance_required"
	KindSlippageExceeded      Kind = "slippage_exceeded"
	KindUserRejected          Kind = "user_rejected"
	KindNetworkError          Kind = "network_error"
	KindGasEstimationFailed   Kind = "gas_estimation_failed"
	KindInitializationFailed  Kind = "initialization_failed"
	KindTimeout               Kind = "timeout"
	KindUnknown               Kind = "unknown"
)

// Action is the recommended recovery action attached to a classified error.
type Action string

const (
	ActionRetry          Action = "retry"
	ActionApprove        Action = "approve"
	ActionAddFunds       Action = "add_funds"
	ActionAdjustSlippage Action = "adjust_slippage"
	ActionChangeRoute    Action = "change_route"
	ActionCheckBalance   Action = "check_balance"
)

// Retryable reports whether the kind is safe to retry internally.
func (k Kind) Retryable() bool {
	switch k {
	case KindNetworkError, KindTimeout, KindGasEstimationFailed:
		return true
	}
	return false
}

// RecoveryAction maps a kind to the action the consuming application should
// suggest to the user.
func (k Kind) RecoveryAction() Action {
	switch k {
	case KindNetworkError, KindTimeout, KindGasEstimationFailed, KindUnknown:
		return ActionRetry
	case KindAllowanceRequired, KindUserRejected:
		return ActionApprove
	case KindInsufficientBalance:
		return ActionAddFunds
	case KindSlippageExceeded:
		return ActionAdjustSlippage
	case KindInsufficientLiquidity, KindInvalidPair:
		return ActionChangeRoute
	case KindInitializationFailed:
		return ActionCheckBalance
	}
	return ActionRetry
}

// Error is a classified failure.
type Error struct {
	Kind   Kind
	Action Action
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Err.Error())
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, swaperr.New(kind, "")) match on kind alone.
func (e *Error) Is(target error) bool {
	var se *Error
	if errors.As(target, &se) {
		return e.Kind == se.Kind
	}
	return false
}

// Retryable reports whether the classified error may be retried.
func (e *Error) Retryable() bool {
	return e.Kind.Retryable()
}

// New builds a classified error with a message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{
		Kind:   kind,
		Action: kind.RecoveryAction(),
		Err:    fmt.Errorf(format, args...),
	}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Kind:   kind,
		Action: kind.RecoveryAction(),
		Err:    err,
	}
}

// KindOf extracts the kind from a classified error, or KindUnknown.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}
