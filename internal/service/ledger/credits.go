package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nkiryanov/walletledger/internal/apperrors"
	"github.com/nkiryanov/walletledger/internal/models"
	"github.com/nkiryanov/walletledger/internal/service/policy"
)

func positiveCredits(amount int64) error {
	if amount <= 0 {
		return apperrors.Invalid(apperrors.ErrInvalidAmount, "amount must be a positive number of credits")
	}
	return nil
}

func insufficientCredits(have, need int64) error {
	return apperrors.Invalid(apperrors.ErrInsufficientBalance, fmt.Sprintf("not enough credits: available %d, required %d", have, need))
}

// Add package credits to the cash pool once per payment reference
// Repeated call with the same reference returns the first purchase with Replayed flag
func (e *Engine) PurchaseCredits(ctx context.Context, userID uuid.UUID, packageID string, paymentRef string) (models.Receipt, error) {
	const op = "purchase_credits"

	pkg, ok := e.catalog.Get(packageID)
	if !ok {
		return e.reject(op, userID, apperrors.Invalid(apperrors.ErrUnknownPackage, fmt.Sprintf("credit package %q not found", packageID)))
	}
	paymentRef = strings.TrimSpace(paymentRef)
	if paymentRef == "" {
		return e.reject(op, userID, apperrors.Invalid(apperrors.ErrValidation, "payment reference is required"))
	}

	return e.run(ctx, op, []uuid.UUID{userID}, func(t *txn) error {
		existing, err := t.storage.Ledger().GetByPaymentReference(t.ctx, paymentRef)
		switch {
		case err == nil:
			if existing.UserID != userID || existing.Type != models.TransactionCreditPurchase {
				return apperrors.Invalid(apperrors.ErrDuplicateReference, "payment reference is already used")
			}
			if existing.Status != models.StatusCompleted {
				return apperrors.Invalid(apperrors.ErrDuplicateReference, fmt.Sprintf("purchase with this payment reference is %s", existing.Status))
			}
			t.replay(existing)
			return nil
		case !errors.Is(err, apperrors.ErrTransactionNotFound):
			return err
		}

		_, err = t.append(models.Transaction{
			UserID:           userID,
			Type:             models.TransactionCreditPurchase,
			Status:           models.StatusCompleted,
			CashCreditsDelta: policy.PackageCredits(pkg),
			Description:      fmt.Sprintf("Purchase of %q package", pkg.ID),
			PaymentReference: &paymentRef,
		})
		return err
	})
}

// Spend credits on content. Free credits are consumed first, then cash credits
func (e *Engine) SpendCredits(ctx context.Context, userID uuid.UUID, amount int64, content models.ContentRef) (models.Receipt, error) {
	const op = "spend_credits"

	if err := positiveCredits(amount); err != nil {
		return e.reject(op, userID, err)
	}

	return e.run(ctx, op, []uuid.UUID{userID}, func(t *txn) error {
		w, err := t.wallet(userID)
		if err != nil {
			return err
		}
		if w.SpendableCredits() < amount {
			return insufficientCredits(w.SpendableCredits(), amount)
		}

		fromFree := min(w.FreeCredits, amount)
		fromCash := amount - fromFree

		tx := models.Transaction{
			UserID:           userID,
			Type:             models.TransactionCreditUsage,
			Status:           models.StatusCompleted,
			FreeCreditsDelta: -fromFree,
			CashCreditsDelta: -fromCash,
			Description:      "Credits spent",
		}
		if content.Type != "" || content.ID != "" {
			tx.Content = &content
			tx.Description = fmt.Sprintf("Credits spent on %s %s", content.Type, content.ID)
		}

		_, err = t.append(tx)
		return err
	})
}

// Credit cash pool with credits earned from the source (sales, tips, rewards)
func (e *Engine) EarnCredits(ctx context.Context, userID uuid.UUID, amount int64, source string) (models.Receipt, error) {
	const op = "earn_credits"

	if err := positiveCredits(amount); err != nil {
		return e.reject(op, userID, err)
	}

	return e.run(ctx, op, []uuid.UUID{userID}, func(t *txn) error {
		_, err := t.append(models.Transaction{
			UserID:           userID,
			Type:             models.TransactionCreditEarning,
			Status:           models.StatusCompleted,
			CashCreditsDelta: amount,
			Description:      describe("Credits earned", source),
		})
		return err
	})
}

// Promotional credits. The only way credits get into the free pool
func (e *Engine) GrantBonusCredits(ctx context.Context, userID uuid.UUID, amount int64, reason string) (models.Receipt, error) {
	const op = "grant_bonus_credits"

	if err := positiveCredits(amount); err != nil {
		return e.reject(op, userID, err)
	}

	return e.run(ctx, op, []uuid.UUID{userID}, func(t *txn) error {
		_, err := t.append(models.Transaction{
			UserID:           userID,
			Type:             models.TransactionCreditBonus,
			Status:           models.StatusCompleted,
			FreeCreditsDelta: amount,
			Description:      describe("Bonus credits", reason),
		})
		return err
	})
}

// Return spent credits to the pools they were taken from. Once per usage
func (e *Engine) RefundUsage(ctx context.Context, usageID uuid.UUID, reason string) (models.Receipt, error) {
	const op = "refund_usage"

	usage, err := e.storage.Ledger().GetByID(ctx, usageID)
	switch {
	case errors.Is(err, apperrors.ErrTransactionNotFound):
		return e.reject(op, uuid.Nil, apperrors.Invalid(err, fmt.Sprintf("transaction %s not found", usageID)))
	case err != nil:
		return e.reject(op, uuid.Nil, err)
	case usage.Type != models.TransactionCreditUsage || usage.Status != models.StatusCompleted:
		return e.reject(op, usage.UserID, apperrors.Invalid(apperrors.ErrNotRefundable, "only completed credit usage may be refunded"))
	}

	return e.run(ctx, op, []uuid.UUID{usage.UserID}, func(t *txn) error {
		_, err := t.storage.Ledger().GetRefundOf(t.ctx, usage.ID)
		switch {
		case err == nil:
			return apperrors.Invalid(apperrors.ErrAlreadyRefunded, "credit usage is already refunded")
		case !errors.Is(err, apperrors.ErrTransactionNotFound):
			return err
		}

		_, err = t.append(models.Transaction{
			UserID:               usage.UserID,
			Type:                 models.TransactionRefund,
			Status:               models.StatusCompleted,
			CashCreditsDelta:     -usage.CashCreditsDelta,
			FreeCreditsDelta:     -usage.FreeCreditsDelta,
			Description:          describe("Refund of credit usage", reason),
			RelatedTransactionID: &usage.ID,
			Content:              usage.Content,
		})
		if errors.Is(err, apperrors.ErrDuplicateReference) {
			return apperrors.Invalid(apperrors.ErrAlreadyRefunded, "credit usage is already refunded")
		}
		return err
	})
}

// Exchange cash credits to fiat at the conversion rate
func (e *Engine) ConvertCreditsToFiat(ctx context.Context, userID uuid.UUID, credits int64) (models.Receipt, error) {
	const op = "convert_credits"

	if err := positiveCredits(credits); err != nil {
		return e.reject(op, userID, err)
	}
	fiat := policy.CreditsToFiat(credits)
	if !policy.IsValidMoney(fiat) {
		return e.reject(op, userID, apperrors.Invalid(apperrors.ErrInvalidAmount, fmt.Sprintf("conversion may not exceed %s", policy.MaxMoney.StringFixed(2))))
	}

	return e.run(ctx, op, []uuid.UUID{userID}, func(t *txn) error {
		w, err := t.wallet(userID)
		if err != nil {
			return err
		}
		if w.CashCredits < credits {
			return insufficientCredits(w.CashCredits, credits)
		}

		_, err = t.append(models.Transaction{
			UserID:           userID,
			Type:             models.TransactionConversion,
			Status:           models.StatusCompleted,
			CashCreditsDelta: -credits,
			FiatDelta:        fiat,
			Description:      fmt.Sprintf("Converted %d credits to %s", credits, fiat.StringFixed(2)),
		})
		return err
	})
}

// Move cash credits to another user. Recipient is user id or username
func (e *Engine) TransferCredits(ctx context.Context, senderID uuid.UUID, recipientRef string, amount int64) (models.Receipt, error) {
	const op = "transfer_credits"

	if err := positiveCredits(amount); err != nil {
		return e.reject(op, senderID, err)
	}

	recipient, err := e.resolver.Resolve(ctx, recipientRef)
	if err != nil {
		return e.reject(op, senderID, err)
	}
	if recipient.ID == senderID {
		return e.reject(op, senderID, apperrors.Invalid(apperrors.ErrSelfTransfer, "can't transfer credits to yourself"))
	}

	return e.run(ctx, op, []uuid.UUID{senderID, recipient.ID}, func(t *txn) error {
		w, err := t.wallet(senderID)
		if err != nil {
			return err
		}
		if w.CashCredits < amount {
			return insufficientCredits(w.CashCredits, amount)
		}

		sentID, receivedID := uuid.New(), uuid.New()
		_, err = t.append(
			models.Transaction{
				ID:                   sentID,
				UserID:               senderID,
				Type:                 models.TransactionTransferSent,
				Status:               models.StatusCompleted,
				CashCreditsDelta:     -amount,
				Description:          fmt.Sprintf("Transfer to %s", recipient.Username),
				CounterpartyUserID:   &recipient.ID,
				RelatedTransactionID: &receivedID,
			},
			models.Transaction{
				ID:                   receivedID,
				UserID:               recipient.ID,
				Type:                 models.TransactionTransferReceived,
				Status:               models.StatusCompleted,
				CashCreditsDelta:     amount,
				Description:          "Transfer received",
				CounterpartyUserID:   &senderID,
				RelatedTransactionID: &sentID,
			},
		)
		return err
	})
}

func describe(prefix, detail string) string {
	detail = strings.TrimSpace(detail)
	if detail == "" {
		return prefix
	}
	return prefix + ": " + detail
}
