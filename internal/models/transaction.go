package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionCreditPurchase   TransactionType = "credit_purchase"
	TransactionCreditUsage      TransactionType = "credit_usage"
	TransactionCreditEarning    TransactionType = "credit_earning"
	TransactionCreditBonus      TransactionType = "credit_bonus"
	TransactionWithdrawal       TransactionType = "withdrawal"
	TransactionRefund           TransactionType = "refund"
	TransactionConversion       TransactionType = "credit_to_fiat_conversion"
	TransactionTransferSent     TransactionType = "credit_transfer_sent"
	TransactionTransferReceived TransactionType = "credit_transfer_received"
)

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
	StatusCancelled TransactionStatus = "cancelled"
)

func (s TransactionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Content (idea, tool, ...) the credits were spent on
type ContentRef struct {
	Type string
	ID   string
}

// Transaction is one immutable ledger line.
// Only Status (and UpdatedAt) may change, and only from pending to a terminal status.
type Transaction struct {
	ID        uuid.UUID
	Seq       int64 // assigned by the store on append
	UserID    uuid.UUID
	Type      TransactionType
	Status    TransactionStatus
	CreatedAt time.Time
	UpdatedAt time.Time

	CashCreditsDelta int64
	FreeCreditsDelta int64
	FiatDelta        decimal.Decimal
	PendingDelta     decimal.Decimal

	Description          string
	CounterpartyUserID   *uuid.UUID
	RelatedTransactionID *uuid.UUID
	PaymentReference     *string
	Content              *ContentRef
}

// Signed change of credits over both pools
func (t Transaction) CreditsDelta() int64 {
	return t.CashCreditsDelta + t.FreeCreditsDelta
}

// Signed change of money over fiat and pending earnings
func (t Transaction) AmountDelta() decimal.Decimal {
	return t.FiatDelta.Add(t.PendingDelta)
}

// Posted transactions contribute to the wallet.
// Withdrawals reserve fiat while pending, a failed one is compensated by a refund record.
func (t Transaction) IsPosted() bool {
	if t.Type == TransactionWithdrawal {
		return t.Status == StatusPending || t.Status == StatusCompleted || t.Status == StatusFailed
	}
	return t.Status == StatusCompleted
}
