package trade

import (
	"context"
	"errors"
	"strings"

	"github.com/atmx/paper-ledger/internal/model"
	"github.com/atmx/paper-ledger/internal/oracle"
	"github.com/atmx/paper-ledger/internal/store"
)

var (
	// ErrInvalidQuantity is returned for a non-positive share count.
	ErrInvalidQuantity = errors.New("invalid quantity")

	// ErrPriceUnavailable is returned when no price could be obtained,
	// including for tickers that do not exist.
	ErrPriceUnavailable = errors.New("price unavailable")

	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientShares = errors.New("insufficient shares")

	// ErrStorage is the store's storage sentinel.
	ErrStorage = store.ErrStorage

	// ErrTradeLog marks a filled trade whose record could not be appended.
	// It is only ever reported as a warning on a successful Result.
	ErrTradeLog = errors.New("trade log append failed")

	// ErrInconsistent means a compensating write failed and balance and
	// position no longer agree. It always comes wrapped with ErrStorage.
	ErrInconsistent = errors.New("ledger inconsistent, compensation failed")
)

// IsRetryable reports whether err is a transient failure worth retrying.
// Precondition failures and cancellation are never retried.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrInsufficientShares),
		errors.Is(err, ErrInconsistent),
		errors.Is(err, store.ErrNegativeBalance),
		errors.Is(err, store.ErrInvalidTrade):
		return false
	case errors.Is(err, ErrPriceUnavailable), errors.Is(err, oracle.ErrUnavailable):
		return true
	case errors.Is(err, ErrStorage):
		return true
	}
	return false
}

// KindOf classifies err for Result.Kind.
func KindOf(err error) model.ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidQuantity):
		return model.KindInvalidQuantity
	case errors.Is(err, ErrInsufficientFunds):
		return model.KindInsufficientFunds
	case errors.Is(err, ErrInsufficientShares):
		return model.KindInsufficientShares
	case errors.Is(err, ErrStorage):
		return model.KindStorage
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return model.KindCanceled
	case errors.Is(err, ErrPriceUnavailable), errors.Is(err, oracle.ErrUnavailable):
		return model.KindPriceUnavailable
	}
	return model.KindStorage
}

// message turns err into the text shown to the user.
func message(ticker string, err error) string {
	switch KindOf(err) {
	case model.KindPriceUnavailable:
		if ticker == "" {
			return "Could not get a price"
		}
		return "Could not get a price for " + ticker
	case model.KindStorage:
		if errors.Is(err, ErrInconsistent) {
			return "Storage error, ledger needs manual review: " + err.Error()
		}
		return "Storage error, trade not executed: " + err.Error()
	case model.KindCanceled:
		return "Trade cancelled before execution"
	}
	s := err.Error()
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
