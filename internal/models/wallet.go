package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Wallet is derived from the user's posted transactions and never stored
type Wallet struct {
	UserID          uuid.UUID
	CashCredits     int64
	FreeCredits     int64
	FiatBalance     decimal.Decimal
	PendingEarnings decimal.Decimal
}

// Sum of the deltas per pool
type WalletDelta struct {
	CashCredits     int64
	FreeCredits     int64
	FiatBalance     decimal.Decimal
	PendingEarnings decimal.Decimal
}

func NewWallet(userID uuid.UUID) Wallet {
	return Wallet{UserID: userID, FiatBalance: decimal.Zero, PendingEarnings: decimal.Zero}
}

func (w Wallet) Apply(d WalletDelta) Wallet {
	w.CashCredits += d.CashCredits
	w.FreeCredits += d.FreeCredits
	w.FiatBalance = w.FiatBalance.Add(d.FiatBalance)
	w.PendingEarnings = w.PendingEarnings.Add(d.PendingEarnings)
	return w
}

func (w Wallet) ApplyTransaction(t Transaction) Wallet {
	if !t.IsPosted() {
		return w
	}
	return w.Apply(DeltaOf(t))
}

func (w Wallet) SpendableCredits() int64 {
	return w.CashCredits + w.FreeCredits
}

// No pool is below zero
func (w Wallet) IsValid() bool {
	return w.CashCredits >= 0 &&
		w.FreeCredits >= 0 &&
		!w.FiatBalance.IsNegative() &&
		!w.PendingEarnings.IsNegative()
}

func DeltaOf(t Transaction) WalletDelta {
	return WalletDelta{
		CashCredits:     t.CashCreditsDelta,
		FreeCredits:     t.FreeCreditsDelta,
		FiatBalance:     t.FiatDelta,
		PendingEarnings: t.PendingDelta,
	}
}

func (d WalletDelta) Add(o WalletDelta) WalletDelta {
	return WalletDelta{
		CashCredits:     d.CashCredits + o.CashCredits,
		FreeCredits:     d.FreeCredits + o.FreeCredits,
		FiatBalance:     d.FiatBalance.Add(o.FiatBalance),
		PendingEarnings: d.PendingEarnings.Add(o.PendingEarnings),
	}
}

// Result of the balance mutating operation
type Receipt struct {
	Transactions []Transaction
	Wallet       Wallet

	// True if nothing was written cause the operation had been applied before
	Replayed bool
}

// First (main) transaction of the operation
func (r Receipt) Transaction() Transaction {
	if len(r.Transactions) == 0 {
		return Transaction{}
	}
	return r.Transactions[0]
}
