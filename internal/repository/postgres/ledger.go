package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/walletledger/internal/apperrors"
	"github.com/nkiryanov/walletledger/internal/models"
	"github.com/nkiryanov/walletledger/internal/repository"
)

type LedgerRepo struct {
	DB DBTX
}

const transactionColumns = `seq, id, user_id, type, status, created_at, updated_at,
	cash_credits_delta, free_credits_delta, fiat_delta, pending_delta,
	description, counterparty_user_id, related_transaction_id, payment_reference,
	content_type, content_id`

// Same rule as models.Transaction.IsPosted
const postedCondition = `(status = 'completed' OR (type = 'withdrawal' AND status IN ('pending', 'failed')))`

const appendTransaction = `-- name: AppendTransaction
INSERT INTO ledger_transactions (
	id, user_id, type, status,
	cash_credits_delta, free_credits_delta, fiat_delta, pending_delta,
	description, counterparty_user_id, related_transaction_id, payment_reference,
	content_type, content_id
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
RETURNING ` + transactionColumns

func (r *LedgerRepo) Append(ctx context.Context, txs ...models.Transaction) (appended []models.Transaction, err error) {
	tx, err := r.DB.Begin(ctx)
	if err != nil {
		return nil, apperrors.Storage(err)
	}

	defer func() {
		switch err {
		case nil:
			if cErr := tx.Commit(ctx); cErr != nil {
				appended, err = nil, apperrors.Storage(cErr)
			}
		default:
			_ = tx.Rollback(ctx)
		}
	}()

	appended = make([]models.Transaction, 0, len(txs))
	for _, t := range txs {
		if t.ID == uuid.Nil {
			t.ID = uuid.New()
		}

		var contentType, contentID *string
		if t.Content != nil {
			contentType, contentID = &t.Content.Type, &t.Content.ID
		}

		rows, _ := tx.Query(ctx, appendTransaction,
			t.ID, t.UserID, t.Type, t.Status,
			t.CashCreditsDelta, t.FreeCreditsDelta, t.FiatDelta, t.PendingDelta,
			t.Description, t.CounterpartyUserID, t.RelatedTransactionID, t.PaymentReference,
			contentType, contentID,
		)
		saved, err := pgx.CollectOneRow(rows, rowToTransaction)
		if err != nil {
			return nil, appendError(t, err)
		}

		appended = append(appended, saved)
	}

	return appended, nil
}

func appendError(t models.Transaction, err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return apperrors.Storage(err)
	}

	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		return fmt.Errorf("%w: %s", apperrors.ErrDuplicateReference, pgErr.ConstraintName)
	case pgerrcode.LockNotAvailable:
		// Insert waited for a concurrent writer of the same unique key
		return fmt.Errorf("transaction %s of user %s is blocked: %w", t.ID, t.UserID, apperrors.ErrContention)
	case pgerrcode.NumericValueOutOfRange:
		return apperrors.Invalid(apperrors.ErrInvalidAmount, "amount is out of range")
	default:
		return apperrors.Storage(err)
	}
}

const getTransactionByID = `-- name: GetTransactionByID
SELECT ` + transactionColumns + ` FROM ledger_transactions
WHERE id = $1
`

func (r *LedgerRepo) GetByID(ctx context.Context, id uuid.UUID) (models.Transaction, error) {
	rows, _ := r.DB.Query(ctx, getTransactionByID, id)
	return collectTransaction(rows)
}

const getTransactionByPaymentReference = `-- name: GetTransactionByPaymentReference
SELECT ` + transactionColumns + ` FROM ledger_transactions
WHERE payment_reference = $1
`

func (r *LedgerRepo) GetByPaymentReference(ctx context.Context, reference string) (models.Transaction, error) {
	rows, _ := r.DB.Query(ctx, getTransactionByPaymentReference, reference)
	return collectTransaction(rows)
}

const getRefundOf = `-- name: GetRefundOf
SELECT ` + transactionColumns + ` FROM ledger_transactions
WHERE related_transaction_id = $1 AND type = 'refund'
`

func (r *LedgerRepo) GetRefundOf(ctx context.Context, id uuid.UUID) (models.Transaction, error) {
	rows, _ := r.DB.Query(ctx, getRefundOf, id)
	return collectTransaction(rows)
}

const listForUser = `-- name: ListForUser
SELECT ` + transactionColumns + ` FROM ledger_transactions
WHERE user_id = $1 AND ($2::bigint = 0 OR seq < $2)
ORDER BY seq DESC
LIMIT $3
`

func (r *LedgerRepo) ListForUser(ctx context.Context, userID uuid.UUID, page repository.Page) ([]models.Transaction, error) {
	rows, _ := r.DB.Query(ctx, listForUser, userID, page.BeforeSeq, page.Limit)
	txs, err := pgx.CollectRows(rows, rowToTransaction)
	if err != nil {
		return nil, apperrors.Storage(err)
	}
	return txs, nil
}

const listPendingWithdrawals = `-- name: ListPendingWithdrawals
SELECT ` + transactionColumns + ` FROM ledger_transactions
WHERE type = 'withdrawal' AND status = 'pending' AND created_at < $1
ORDER BY created_at, seq
LIMIT $2
`

func (r *LedgerRepo) ListPendingWithdrawals(ctx context.Context, createdBefore time.Time, limit int) ([]models.Transaction, error) {
	rows, _ := r.DB.Query(ctx, listPendingWithdrawals, createdBefore, limit)
	txs, err := pgx.CollectRows(rows, rowToTransaction)
	if err != nil {
		return nil, apperrors.Storage(err)
	}
	return txs, nil
}

const settleStatus = `-- name: SettleStatus
UPDATE ledger_transactions SET status = $2, updated_at = clock_timestamp()
WHERE id = $1 AND status = 'pending'
RETURNING ` + transactionColumns

func (r *LedgerRepo) SettleStatus(ctx context.Context, id uuid.UUID, status models.TransactionStatus) (models.Transaction, error) {
	if !status.IsTerminal() {
		return models.Transaction{}, fmt.Errorf("can't settle transaction %s to non terminal status %q", id, status)
	}

	rows, _ := r.DB.Query(ctx, settleStatus, id, status)
	t, err := collectTransaction(rows)
	if errors.Is(err, apperrors.ErrTransactionNotFound) {
		// Either unknown or terminal already
		return r.GetByID(ctx, id)
	}
	return t, err
}

const foldPosted = `-- name: FoldPosted
SELECT
	COALESCE(SUM(cash_credits_delta), 0)::bigint,
	COALESCE(SUM(free_credits_delta), 0)::bigint,
	COALESCE(SUM(fiat_delta), 0),
	COALESCE(SUM(pending_delta), 0),
	COALESCE(MAX(seq), $2)
FROM ledger_transactions
WHERE user_id = $1 AND seq > $2 AND ` + postedCondition

func (r *LedgerRepo) Fold(ctx context.Context, userID uuid.UUID, afterSeq int64) (models.WalletDelta, int64, error) {
	var d models.WalletDelta
	var lastSeq int64

	err := r.DB.QueryRow(ctx, foldPosted, userID, afterSeq).Scan(
		&d.CashCredits, &d.FreeCredits, &d.FiatBalance, &d.PendingEarnings, &lastSeq,
	)
	if err != nil {
		return models.WalletDelta{}, afterSeq, apperrors.Storage(err)
	}

	return d, lastSeq, nil
}

func collectTransaction(rows pgx.Rows) (models.Transaction, error) {
	t, err := pgx.CollectOneRow(rows, rowToTransaction)

	switch {
	case err == nil:
		return t, nil
	case errors.Is(err, pgx.ErrNoRows):
		return t, apperrors.ErrTransactionNotFound
	default:
		return t, apperrors.Storage(err)
	}
}

func rowToTransaction(row pgx.CollectableRow) (models.Transaction, error) {
	var t models.Transaction
	var contentType, contentID *string

	err := row.Scan(
		&t.Seq, &t.ID, &t.UserID, &t.Type, &t.Status, &t.CreatedAt, &t.UpdatedAt,
		&t.CashCreditsDelta, &t.FreeCreditsDelta, &t.FiatDelta, &t.PendingDelta,
		&t.Description, &t.CounterpartyUserID, &t.RelatedTransactionID, &t.PaymentReference,
		&contentType, &contentID,
	)
	if contentType != nil && contentID != nil {
		t.Content = &models.ContentRef{Type: *contentType, ID: *contentID}
	}

	return t, err
}
