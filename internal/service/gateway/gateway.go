// Package gateway turns payment processor callbacks into ledger operations.
//
// Callbacks are delivered at least once. Idempotency lives in the ledger engine,
// so a repeated callback is answered with the stored result.
package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/walletledger/internal/apperrors"
	"github.com/nkiryanov/walletledger/internal/logger"
	"github.com/nkiryanov/walletledger/internal/models"
	"github.com/nkiryanov/walletledger/internal/service/policy"
)

type PaymentCompleted struct {
	UserID           uuid.UUID       `json:"user_id" validate:"required"`
	PackageID        string          `json:"credits_package_id" validate:"required"`
	PaymentReference string          `json:"payment_reference" validate:"required"`
	AmountPaid       decimal.Decimal `json:"amount_paid"`
}

type PayoutSettled struct {
	TransactionID uuid.UUID `json:"transaction_id" validate:"required"`
	Status        string    `json:"status" validate:"required"`
	Reason        string    `json:"reason"`
}

type ledgerEngine interface {
	PurchaseCredits(ctx context.Context, userID uuid.UUID, packageID string, paymentRef string) (models.Receipt, error)
	SettleWithdrawal(ctx context.Context, withdrawalID uuid.UUID, outcome models.PayoutOutcome, reason string) (models.Receipt, error)
	Catalog() *policy.Catalog
}

type payoutObserver interface {
	Payout(action string, outcome string)
}

type Gateway struct {
	engine   ledgerEngine
	observer payoutObserver
	logger   logger.Logger
}

func New(engine ledgerEngine, observer payoutObserver, l logger.Logger) *Gateway {
	return &Gateway{
		engine:   engine,
		observer: observer,
		logger:   l.With("component", "gateway"),
	}
}

func (g *Gateway) HandlePaymentCompleted(ctx context.Context, p PaymentCompleted) (models.Receipt, error) {
	pkg, ok := g.engine.Catalog().Get(p.PackageID)
	if !ok {
		return models.Receipt{}, apperrors.Invalid(apperrors.ErrUnknownPackage, fmt.Sprintf("credit package %q not found", p.PackageID))
	}
	if p.AmountPaid.LessThan(pkg.Price) {
		g.logger.Warn("Payment does not cover package", "payment_reference", p.PaymentReference, "paid", p.AmountPaid, "price", pkg.Price)
		return models.Receipt{}, apperrors.Invalid(apperrors.ErrPaymentMismatch, fmt.Sprintf("paid %s, package price is %s", p.AmountPaid.StringFixed(2), pkg.Price.StringFixed(2)))
	}

	receipt, err := g.engine.PurchaseCredits(ctx, p.UserID, p.PackageID, p.PaymentReference)
	if err != nil {
		return receipt, err
	}

	g.logger.Info("Payment applied", "payment_reference", p.PaymentReference, "user_id", p.UserID, "replayed", receipt.Replayed)
	return receipt, nil
}

func (g *Gateway) HandlePayoutSettled(ctx context.Context, p PayoutSettled) (models.Receipt, error) {
	outcome, ok := ParseOutcome(p.Status)
	if !ok {
		return models.Receipt{}, apperrors.Invalid(apperrors.ErrValidation, fmt.Sprintf("payout status %q is not final", p.Status))
	}

	receipt, err := g.engine.SettleWithdrawal(ctx, p.TransactionID, outcome, p.Reason)
	if err != nil {
		return receipt, err
	}

	if !receipt.Replayed {
		g.observer.Payout("settle", string(outcome))
	}
	g.logger.Info("Payout settled", "reference", p.TransactionID, "outcome", outcome, "replayed", receipt.Replayed)
	return receipt, nil
}

// Map processor status to the final outcome. Not final statuses return false
func ParseOutcome(status string) (models.PayoutOutcome, bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "completed", "succeeded", "paid":
		return models.PayoutSucceeded, true
	case "failed", "rejected", "returned", "cancelled", "canceled":
		return models.PayoutFailed, true
	default:
		return "", false
	}
}
