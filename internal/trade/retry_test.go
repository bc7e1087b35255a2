package trade

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/paper-ledger/internal/model"
	"github.com/atmx/paper-ledger/internal/oracle"
	"github.com/atmx/paper-ledger/internal/store"
)

func TestRetryDelay(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 200*time.Millisecond, p.Delay(1))
	assert.Equal(t, 400*time.Millisecond, p.Delay(2))
	assert.Equal(t, 800*time.Millisecond, p.Delay(3))
	assert.Equal(t, 2*time.Second, p.Delay(10), "capped")

	flat := RetryPolicy{BaseDelay: time.Second}
	assert.Equal(t, time.Second, flat.Delay(5))
}

func TestRetryDo(t *testing.T) {
	fast := RetryPolicy{MaxAttempts: 4, BaseDelay: time.Microsecond, BackoffFactor: 2}

	t.Run("transient then ok", func(t *testing.T) {
		calls := 0
		err := fast.Do(context.Background(), "op", func(context.Context) error {
			calls++
			if calls < 3 {
				return store.ErrStorage
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up", func(t *testing.T) {
		calls := 0
		err := fast.Do(context.Background(), "op", func(context.Context) error {
			calls++
			return oracle.ErrUnavailable
		})
		assert.ErrorIs(t, err, oracle.ErrUnavailable)
		assert.Equal(t, 4, calls)
	})

	t.Run("permanent error not retried", func(t *testing.T) {
		calls := 0
		err := fast.Do(context.Background(), "op", func(context.Context) error {
			calls++
			return ErrInsufficientFunds
		})
		assert.ErrorIs(t, err, ErrInsufficientFunds)
		assert.Equal(t, 1, calls)
	})

	t.Run("stops when context is done", func(t *testing.T) {
		slow := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Hour}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		calls := 0
		err := slow.Do(ctx, "op", func(context.Context) error {
			calls++
			return store.ErrStorage
		})
		assert.ErrorIs(t, err, store.ErrStorage)
		assert.Equal(t, 1, calls)
	})
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{context.Canceled, false},
		{fmt.Errorf("wrapped: %w", context.DeadlineExceeded), false},
		{ErrInvalidQuantity, false},
		{ErrInsufficientFunds, false},
		{ErrInsufficientShares, false},
		{fmt.Errorf("%w: %w", ErrStorage, ErrInconsistent), false},
		{errors.Join(store.ErrStorage, store.ErrNegativeBalance), false},
		{ErrPriceUnavailable, true},
		{oracle.ErrUnavailable, true},
		{fmt.Errorf("write: %w", store.ErrStorage), true},
		{errors.New("mystery"), false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsRetryable(tc.err), "%v", tc.err)
	}
}

func TestKindAndMessage(t *testing.T) {
	cases := []struct {
		err  error
		kind model.ErrorKind
		msg  string
	}{
		{fmt.Errorf("%w: 0 shares", ErrInvalidQuantity), model.KindInvalidQuantity, "Invalid quantity: 0 shares"},
		{ErrPriceUnavailable, model.KindPriceUnavailable, "Could not get a price for AAPL"},
		{insufficientShares("AAPL", 2, 5), model.KindInsufficientShares, "Insufficient shares: hold 2 AAPL, tried to sell 5"},
		{context.Canceled, model.KindCanceled, "Trade cancelled before execution"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.kind, KindOf(tc.err))
		assert.Equal(t, tc.msg, message("AAPL", tc.err))
	}

	storage := fmt.Errorf("write: %w", store.ErrStorage)
	assert.Equal(t, model.KindStorage, KindOf(storage))
	assert.Contains(t, message("AAPL", storage), "trade not executed")

	bad := fmt.Errorf("%w: %w", ErrStorage, ErrInconsistent)
	assert.Contains(t, message("AAPL", bad), "manual review")
}
