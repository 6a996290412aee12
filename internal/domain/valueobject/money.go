package valueobject

import (
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/escrow-ledger/internal/pkg/apperror"
)

// CentsPlaces количество знаков после запятой для денежных сумм.
const CentsPlaces = 2

// NewAmount проверяет сумму платежа: строго положительная, не точнее копеек.
func NewAmount(amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, apperror.New(apperror.ErrCodeValidation, "сумма должна быть положительной")
	}
	if !amount.Equal(amount.Round(CentsPlaces)) {
		return decimal.Zero, apperror.New(apperror.ErrCodeValidation, "сумма не может быть точнее копеек")
	}
	return amount, nil
}

// FeeRate ставка комиссии платформы в долях (0.05 = 5%).
type FeeRate struct {
	rate decimal.Decimal
}

func NewFeeRate(rate decimal.Decimal) (FeeRate, error) {
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return FeeRate{}, apperror.New(apperror.ErrCodeValidation, "ставка комиссии должна быть в диапазоне [0, 1)")
	}
	return FeeRate{rate: rate}, nil
}

// Decimal возвращает ставку для логов и конфигурации.
func (r FeeRate) Decimal() decimal.Decimal {
	return r.rate
}

// SplitFee делит сумму на выплату фрилансеру и комиссию платформы.
// Комиссия округляется до копеек, payout + fee всегда равны amount.
func (r FeeRate) SplitFee(amount decimal.Decimal) (payout, fee decimal.Decimal) {
	fee = amount.Mul(r.rate).Round(CentsPlaces)
	payout = amount.Sub(fee)
	return payout, fee
}

