package handlers

import (
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/walletledger/internal/models"
)

// Money is rendered as string with two decimal places to keep exact value

type walletView struct {
	UserID           uuid.UUID `json:"user_id"`
	CashCredits      int64     `json:"cash_credits"`
	FreeCredits      int64     `json:"free_credits"`
	SpendableCredits int64     `json:"spendable_credits"`
	FiatBalance      string    `json:"fiat_balance"`
	PendingEarnings  string    `json:"pending_earnings"`
}

func newWalletView(w models.Wallet) walletView {
	return walletView{
		UserID:           w.UserID,
		CashCredits:      w.CashCredits,
		FreeCredits:      w.FreeCredits,
		SpendableCredits: w.SpendableCredits(),
		FiatBalance:      w.FiatBalance.StringFixed(2),
		PendingEarnings:  w.PendingEarnings.StringFixed(2),
	}
}

type contentView struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type transactionView struct {
	ID        uuid.UUID `json:"id"`
	Seq       int64     `json:"seq"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	CashCreditsDelta int64  `json:"cash_credits_delta"`
	FreeCreditsDelta int64  `json:"free_credits_delta"`
	FiatDelta        string `json:"fiat_delta"`
	PendingDelta     string `json:"pending_earnings_delta"`

	Description          string       `json:"description"`
	CounterpartyUserID   *uuid.UUID   `json:"counterparty_user_id,omitempty"`
	RelatedTransactionID *uuid.UUID   `json:"related_transaction_id,omitempty"`
	PaymentReference     *string      `json:"payment_reference,omitempty"`
	Content              *contentView `json:"content,omitempty"`
}

func newTransactionView(t models.Transaction) transactionView {
	v := transactionView{
		ID:                   t.ID,
		Seq:                  t.Seq,
		Type:                 string(t.Type),
		Status:               string(t.Status),
		CreatedAt:            t.CreatedAt,
		UpdatedAt:            t.UpdatedAt,
		CashCreditsDelta:     t.CashCreditsDelta,
		FreeCreditsDelta:     t.FreeCreditsDelta,
		FiatDelta:            t.FiatDelta.StringFixed(2),
		PendingDelta:         t.PendingDelta.StringFixed(2),
		Description:          t.Description,
		CounterpartyUserID:   t.CounterpartyUserID,
		RelatedTransactionID: t.RelatedTransactionID,
		PaymentReference:     t.PaymentReference,
	}
	if t.Content != nil {
		v.Content = &contentView{Type: t.Content.Type, ID: t.Content.ID}
	}
	return v
}

func newTransactionViews(txs []models.Transaction) []transactionView {
	views := make([]transactionView, 0, len(txs))
	for _, t := range txs {
		views = append(views, newTransactionView(t))
	}
	return views
}

type receiptView struct {
	Transactions []transactionView `json:"transactions"`
	Wallet       walletView        `json:"wallet"`
	Replayed     bool              `json:"replayed"`
}

func newReceiptView(r models.Receipt) receiptView {
	return receiptView{
		Transactions: newTransactionViews(r.Transactions),
		Wallet:       newWalletView(r.Wallet),
		Replayed:     r.Replayed,
	}
}

type packageView struct {
	ID           string `json:"id"`
	Credits      int64  `json:"credits"`
	BonusCredits int64  `json:"bonus_credits"`
	Price        string `json:"price"`
}

type userView struct {
	ID                uuid.UUID `json:"id"`
	Username          string    `json:"username"`
	CreatedAt         time.Time `json:"created_at"`
	PayoutDestination string    `json:"payout_destination,omitempty"`
	PayoutVerified    bool      `json:"payout_verified"`
}

func newUserView(u models.User) userView {
	return userView{
		ID:                u.ID,
		Username:          u.Username,
		CreatedAt:         u.CreatedAt,
		PayoutDestination: u.PayoutDestination,
		PayoutVerified:    u.PayoutVerified,
	}
}
