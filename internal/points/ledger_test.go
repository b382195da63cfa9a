// File: internal/points/ledger_test.go
package points

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kopiclub_backend/internal/common"
)

func TestAccruePurchase(t *testing.T) {
	rules := DefaultRules()

	testCases := []struct {
		name        string
		current     int64
		amount      int64
		wantBalance int64
		wantEarned  int64
	}{
		{"zero amount earns nothing", 10, 0, 10, 0},
		{"below one unit earns nothing", 10, 4999, 10, 0},
		{"exactly one unit earns one point", 10, 5000, 11, 1},
		{"partial units are truncated", 10, 12000, 12, 2},
		{"just under the next step", 0, 9999, 1, 1},
		{"large purchase", 3, 1_000_000, 203, 200},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			acc, err := rules.AccruePurchase(tc.current, tc.amount)
			require.NoError(t, err)
			assert.Equal(t, tc.wantBalance, acc.NewBalance)
			assert.Equal(t, tc.wantEarned, acc.Earned)
			assert.Equal(t, tc.wantEarned == 0, acc.NoAccrual())
		})
	}
}

func TestAccruePurchase_NegativeAmount(t *testing.T) {
	rules := DefaultRules()

	_, err := rules.AccruePurchase(10, -1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrBadRequest))
}

func TestRedeem(t *testing.T) {
	rules := DefaultRules()

	t.Run("sufficient balance", func(t *testing.T) {
		newBalance, err := rules.Redeem(5)
		require.NoError(t, err)
		assert.Equal(t, int64(0), newBalance)
	})

	t.Run("more than enough", func(t *testing.T) {
		newBalance, err := rules.Redeem(12)
		require.NoError(t, err)
		assert.Equal(t, int64(7), newBalance)
	})

	t.Run("insufficient balance", func(t *testing.T) {
		newBalance, err := rules.Redeem(4)
		require.Error(t, err)
		assert.True(t, errors.Is(err, common.ErrInsufficientPoints))
		assert.Equal(t, int64(4), newBalance)
	})

	t.Run("zero balance", func(t *testing.T) {
		_, err := rules.Redeem(0)
		require.Error(t, err)
		assert.True(t, errors.Is(err, common.ErrInsufficientPoints))
	})
}

func TestRedeem_NeverGoesNegative(t *testing.T) {
	rules := DefaultRules()

	for balance := int64(0); balance <= 20; balance++ {
		got, err := rules.Redeem(balance)
		if err != nil {
			assert.Equal(t, balance, got)
			continue
		}
		assert.GreaterOrEqual(t, got, int64(0), "balance %d", balance)
	}
}
