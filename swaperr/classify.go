package swaperr

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Classify normalizes a raw failure into the taxonomy. Already-classified
// errors pass through unchanged so components can classify at their own
// boundary without double-wrapping.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var se *Error
	if errors.As(err, &se) {
		return se
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(KindTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		// A deliberate abort is not a timeout: retrying a cancelled request
		// would resurrect work the caller walked away from.
		return Wrap(KindUnknown, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Wrap(KindTimeout, err)
		}
		return Wrap(KindNetworkError, err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "user rejected", "user denied", "request rejected", "action_rejected"):
		return Wrap(KindUserRejected, err)
	case containsAny(msg, "insufficient funds", "insufficient balance", "transfer amount exceeds balance"):
		return Wrap(KindInsufficientBalance, err)
	case containsAny(msg, "insufficient_output_amount", "price slipped", "too little received", "insufficient output amount"):
		return Wrap(KindSlippageExceeded, err)
	case containsAny(msg, "transfer amount exceeds allowance", "insufficient allowance"):
		return Wrap(KindAllowanceRequired, err)
	case containsAny(msg, "insufficient liquidity", "no route", "pair does not exist", "insufficient_liquidity"):
		return Wrap(KindInsufficientLiquidity, err)
	case containsAny(msg, "gas required exceeds allowance", "cannot estimate gas", "gas estimation failed", "intrinsic gas too low"):
		return Wrap(KindGasEstimationFailed, err)
	case containsAny(msg, "connection refused", "connection reset", "no such host", "eof", "502", "503", "rate limit"):
		return Wrap(KindNetworkError, err)
	case containsAny(msg, "deadline exceeded", "timed out", "timeout"):
		return Wrap(KindTimeout, err)
	case containsAny(msg, "execution reverted", "transaction failed", "status 0"):
		// A bare revert without a recognizable reason string: slippage is the
		// most common cause on swap paths, but without the reason we cannot
		// assert it.
		return Wrap(KindUnknown, err)
	}

	return Wrap(KindUnknown, err)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
