// Package policy holds pure wallet calculations: withdrawal fees, package credits and conversion.
// No I/O here, every function is deterministic.
package policy

import (
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/walletledger/internal/models"
)

// Money is kept in cents
const moneyPlaces = 2

var (
	// Minimal amount user may withdraw
	MinWithdrawal = decimal.RequireFromString("10.00")

	// Share of the withdrawal amount kept as fee
	WithdrawalFeeRate = decimal.RequireFromString("0.15")

	// Fiat units for one credit
	ConversionRate = decimal.NewFromInt(1)

	// Largest money delta a single record holds, NUMERIC(14, 2) in the ledger table
	MaxMoney = decimal.RequireFromString("999999999999.99")
)

// Fee rounded to cents, half away from zero
func WithdrawalFee(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(WithdrawalFeeRate).Round(moneyPlaces)
}

// Amount the user receives after the fee
func NetPayout(amount decimal.Decimal) decimal.Decimal {
	return amount.Sub(WithdrawalFee(amount))
}

// Credits added to the wallet on package purchase
func PackageCredits(p models.CreditPackage) int64 {
	return p.Credits + p.BonusCredits
}

// Fiat amount for the credits at the conversion rate
func CreditsToFiat(credits int64) decimal.Decimal {
	return decimal.NewFromInt(credits).Mul(ConversionRate).Round(moneyPlaces)
}

// Money amounts must be positive, fit MaxMoney and have at most two decimal places
func IsValidMoney(amount decimal.Decimal) bool {
	return amount.IsPositive() && amount.LessThanOrEqual(MaxMoney) && amount.Equal(amount.Round(moneyPlaces))
}

// Payout instruction for the pending withdrawal. Reference is the withdrawal id
func PayoutInstruction(withdrawal models.Transaction, destination string) models.PayoutInstruction {
	amount := withdrawal.FiatDelta.Neg()
	return models.PayoutInstruction{
		Reference:   withdrawal.ID,
		UserID:      withdrawal.UserID,
		Amount:      amount,
		Fee:         WithdrawalFee(amount),
		NetAmount:   NetPayout(amount),
		Destination: destination,
	}
}
