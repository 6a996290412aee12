package valueobject

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/escrow-ledger/internal/pkg/apperror"
)

func TestPaymentStatus_CanTransitionTo(t *testing.T) {
	cases := []struct {
		from, to PaymentStatus
		ok       bool
	}{
		{PaymentStatusPending, PaymentStatusEscrowed, true},
		{PaymentStatusPending, PaymentStatusFailed, true},
		{PaymentStatusPending, PaymentStatusReleased, false},
		{PaymentStatusEscrowed, PaymentStatusReleased, true},
		{PaymentStatusEscrowed, PaymentStatusRefunded, true},
		{PaymentStatusEscrowed, PaymentStatusDisputed, true},
		{PaymentStatusEscrowed, PaymentStatusPending, false},
		{PaymentStatusDisputed, PaymentStatusEscrowed, true},
		{PaymentStatusReleased, PaymentStatusRefunded, false},
		{PaymentStatusRefunded, PaymentStatusDisputed, false},
		{PaymentStatusFailed, PaymentStatusEscrowed, false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.ok, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestPaymentStatus_IsTerminal(t *testing.T) {
	assert.True(t, PaymentStatusReleased.IsTerminal())
	assert.True(t, PaymentStatusRefunded.IsTerminal())
	assert.True(t, PaymentStatusFailed.IsTerminal())
	assert.False(t, PaymentStatusDisputed.IsTerminal())
	assert.False(t, PaymentStatusEscrowed.IsTerminal())
}

func TestNewPaymentStatus_Invalid(t *testing.T) {
	_, err := NewPaymentStatus("held")
	require.Error(t, err)
	assert.True(t, apperror.IsValidation(err))
}

func TestNewAmount(t *testing.T) {
	_, err := NewAmount(decimal.Zero)
	assert.True(t, apperror.IsValidation(err))

	_, err = NewAmount(decimal.RequireFromString("-10"))
	assert.True(t, apperror.IsValidation(err))

	_, err = NewAmount(decimal.RequireFromString("10.005"))
	assert.True(t, apperror.IsValidation(err))

	amount, err := NewAmount(decimal.RequireFromString("500.50"))
	require.NoError(t, err)
	assert.Equal(t, "500.5", amount.String())
}

func TestFeeRate_SplitFee(t *testing.T) {
	rate, err := NewFeeRate(decimal.RequireFromString("0.05"))
	require.NoError(t, err)

	assert.Equal(t, "0.05", rate.Decimal().String())

	payout, fee := rate.SplitFee(decimal.NewFromInt(500))
	assert.True(t, payout.Equal(decimal.NewFromInt(475)))
	assert.True(t, fee.Equal(decimal.NewFromInt(25)))

	// 0.05 * 10.01 = 0.5005 -> 0.50
	payout, fee = rate.SplitFee(decimal.RequireFromString("10.01"))
	assert.Equal(t, "0.5", fee.String())
	assert.True(t, payout.Add(fee).Equal(decimal.RequireFromString("10.01")))
}

func TestNewFeeRate_OutOfRange(t *testing.T) {
	_, err := NewFeeRate(decimal.NewFromInt(1))
	assert.Error(t, err)
	_, err = NewFeeRate(decimal.RequireFromString("-0.01"))
	assert.Error(t, err)
}
