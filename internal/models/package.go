package models

import (
	"github.com/shopspring/decimal"
)

// Credit package a user may buy. Comes from catalog, not editable by users
type CreditPackage struct {
	ID           string
	Credits      int64
	Price        decimal.Decimal
	BonusCredits int64
}
