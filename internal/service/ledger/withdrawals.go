package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/walletledger/internal/apperrors"
	"github.com/nkiryanov/walletledger/internal/models"
	"github.com/nkiryanov/walletledger/internal/service/policy"
)

func validMoney(amount decimal.Decimal) error {
	if !policy.IsValidMoney(amount) {
		return apperrors.Invalid(apperrors.ErrInvalidAmount, fmt.Sprintf("amount must be positive, at most %s, with at most two decimal places", policy.MaxMoney.StringFixed(2)))
	}
	return nil
}

func insufficientFunds(have, need decimal.Decimal) error {
	return apperrors.Invalid(apperrors.ErrInsufficientBalance, fmt.Sprintf("not enough funds: available %s, required %s", have.StringFixed(2), need.StringFixed(2)))
}

// Reserve fiat for the payout. The withdrawal stays pending until the processor settles it
// The payout instruction is enqueued with the withdrawal when dispatcher supports it, otherwise after commit
func (e *Engine) RequestWithdrawal(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (models.Receipt, error) {
	const op = "request_withdrawal"

	if err := validMoney(amount); err != nil {
		return e.reject(op, userID, err)
	}
	if amount.LessThan(policy.MinWithdrawal) {
		return e.reject(op, userID, apperrors.Invalid(apperrors.ErrBelowMinimumWithdrawal, fmt.Sprintf("minimum withdrawal is %s", policy.MinWithdrawal.StringFixed(2))))
	}

	var (
		instruction models.PayoutInstruction
		enqueued    bool
	)
	receipt, err := e.run(ctx, op, []uuid.UUID{userID}, func(t *txn) error {
		user, err := t.storage.User().GetUserByID(t.ctx, userID)
		switch {
		case errors.Is(err, apperrors.ErrUserNotFound):
			return apperrors.Invalid(apperrors.ErrPayoutDestinationMissing, "set up a payout destination first")
		case err != nil:
			return err
		case !user.CanReceivePayout():
			return apperrors.Invalid(apperrors.ErrPayoutDestinationMissing, "payout destination is not set or not verified")
		}

		w, err := t.wallet(userID)
		if err != nil {
			return err
		}
		if w.FiatBalance.LessThan(amount) {
			return insufficientFunds(w.FiatBalance, amount)
		}

		fee := policy.WithdrawalFee(amount)
		saved, err := t.append(models.Transaction{
			UserID:      userID,
			Type:        models.TransactionWithdrawal,
			Status:      models.StatusPending,
			FiatDelta:   amount.Neg(),
			Description: fmt.Sprintf("Withdrawal of %s (fee %s)", amount.StringFixed(2), fee.StringFixed(2)),
		})
		if err != nil {
			return err
		}

		instruction = policy.PayoutInstruction(saved[0], user.PayoutDestination)
		if d, ok := e.payouts.(LockedPayoutDispatcher); ok {
			enqueued, err = d.DispatchLocked(t.ctx, t.storage, instruction)
		}
		return err
	})
	if err != nil || enqueued {
		return receipt, err
	}

	// The withdrawal is committed. Lost instruction is re-dispatched by the reconciler
	if err := e.payouts.Dispatch(context.WithoutCancel(ctx), instruction); err != nil {
		e.logger.Error("can't dispatch payout", "reference", instruction.Reference, "error", err)
	}

	return receipt, nil
}

// Apply processor outcome to the pending withdrawal
// Failed payout returns the reserved amount with a refund linked to the withdrawal
func (e *Engine) SettleWithdrawal(ctx context.Context, withdrawalID uuid.UUID, outcome models.PayoutOutcome, reason string) (models.Receipt, error) {
	const op = "settle_withdrawal"

	var target models.TransactionStatus
	switch outcome {
	case models.PayoutSucceeded:
		target = models.StatusCompleted
	case models.PayoutFailed:
		target = models.StatusFailed
	default:
		return e.reject(op, uuid.Nil, apperrors.Invalid(apperrors.ErrValidation, fmt.Sprintf("unknown payout outcome %q", outcome)))
	}

	// Owner is needed to take the lock. It never changes, so reading it unlocked is fine
	found, err := e.storage.Ledger().GetByID(ctx, withdrawalID)
	switch {
	case errors.Is(err, apperrors.ErrTransactionNotFound):
		return e.reject(op, uuid.Nil, apperrors.Invalid(err, fmt.Sprintf("withdrawal %s not found", withdrawalID)))
	case err != nil:
		return e.reject(op, uuid.Nil, err)
	case found.Type != models.TransactionWithdrawal:
		return e.reject(op, found.UserID, apperrors.Invalid(apperrors.ErrValidation, fmt.Sprintf("transaction %s is not a withdrawal", withdrawalID)))
	}

	return e.run(ctx, op, []uuid.UUID{found.UserID}, func(t *txn) error {
		withdrawal, err := t.storage.Ledger().GetByID(t.ctx, withdrawalID)
		if err != nil {
			return err
		}

		if withdrawal.Status.IsTerminal() {
			if withdrawal.Status != target {
				return apperrors.Invalid(apperrors.ErrAlreadySettled, fmt.Sprintf("withdrawal is already %s", withdrawal.Status))
			}
			return t.replaySettlement(withdrawal)
		}

		settled, err := t.settle(withdrawal.ID, target)
		if err != nil {
			return err
		}
		if settled.Status != target {
			return apperrors.Invalid(apperrors.ErrAlreadySettled, fmt.Sprintf("withdrawal is already %s", settled.Status))
		}
		if target == models.StatusCompleted {
			return nil
		}

		_, err = t.append(models.Transaction{
			UserID:               settled.UserID,
			Type:                 models.TransactionRefund,
			Status:               models.StatusCompleted,
			FiatDelta:            settled.FiatDelta.Neg(),
			Description:          describe("Withdrawal failed", reason),
			RelatedTransactionID: &settled.ID,
		})
		return err
	})
}

func (t *txn) replaySettlement(withdrawal models.Transaction) error {
	if withdrawal.Status != models.StatusFailed {
		t.replay(withdrawal)
		return nil
	}

	refund, err := t.storage.Ledger().GetRefundOf(t.ctx, withdrawal.ID)
	if err != nil {
		return fmt.Errorf("refund of failed withdrawal %s: %w", withdrawal.ID, err)
	}
	t.replay(withdrawal, refund)
	return nil
}

// Hold earnings until the hold period ends
func (e *Engine) AccrueEarnings(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, source string) (models.Receipt, error) {
	const op = "accrue_earnings"

	if err := validMoney(amount); err != nil {
		return e.reject(op, userID, err)
	}

	return e.run(ctx, op, []uuid.UUID{userID}, func(t *txn) error {
		_, err := t.append(models.Transaction{
			UserID:       userID,
			Type:         models.TransactionCreditEarning,
			Status:       models.StatusCompleted,
			PendingDelta: amount,
			Description:  describe("Earnings on hold", source),
		})
		return err
	})
}

// Move held earnings to fiat balance
func (e *Engine) ReleaseEarnings(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (models.Receipt, error) {
	const op = "release_earnings"

	if err := validMoney(amount); err != nil {
		return e.reject(op, userID, err)
	}

	return e.run(ctx, op, []uuid.UUID{userID}, func(t *txn) error {
		w, err := t.wallet(userID)
		if err != nil {
			return err
		}
		if w.PendingEarnings.LessThan(amount) {
			return apperrors.Invalid(apperrors.ErrInsufficientBalance, fmt.Sprintf("not enough pending earnings: available %s, required %s", w.PendingEarnings.StringFixed(2), amount.StringFixed(2)))
		}

		_, err = t.append(models.Transaction{
			UserID:       userID,
			Type:         models.TransactionCreditEarning,
			Status:       models.StatusCompleted,
			PendingDelta: amount.Neg(),
			FiatDelta:    amount,
			Description:  "Earnings released",
		})
		return err
	})
}
