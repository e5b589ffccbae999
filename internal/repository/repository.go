package repository

import (
	"bytes"
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/walletledger/internal/models"
)

// Page of user transactions, newest first.
// BeforeSeq is a keyset cursor: only transactions with smaller seq are returned. Zero means from the newest.
type Page struct {
	Limit     int
	BeforeSeq int64
}

// User repository interface
type UserRepo interface {
	// Create user with given id or update its username
	// If username is taken by another user has to return apperrors.ErrUserAlreadyExists
	EnsureUser(ctx context.Context, id uuid.UUID, username string) (models.User, error)

	// Get user by it's id or username
	// If user not found must return apperrors.ErrUserNotFound
	GetUserByID(ctx context.Context, id uuid.UUID) (models.User, error)
	GetUserByUsername(ctx context.Context, username string) (models.User, error)

	// Set where withdrawals are paid out
	// If user not found must return apperrors.ErrUserNotFound
	SetPayoutDestination(ctx context.Context, id uuid.UUID, destination string, verified bool) (models.User, error)
}

// Append-only transaction log
// There is no way to update deltas or delete a transaction
type LedgerRepo interface {
	// Append transactions atomically: all or nothing
	// The store sets Seq, CreatedAt and UpdatedAt
	// If payment reference is taken has to return apperrors.ErrDuplicateReference
	Append(ctx context.Context, txs ...models.Transaction) ([]models.Transaction, error)

	// If not found must return apperrors.ErrTransactionNotFound
	GetByID(ctx context.Context, id uuid.UUID) (models.Transaction, error)
	GetByPaymentReference(ctx context.Context, reference string) (models.Transaction, error)

	// Refund that compensates the transaction
	// If not found must return apperrors.ErrTransactionNotFound
	GetRefundOf(ctx context.Context, id uuid.UUID) (models.Transaction, error)

	// User transactions newest first
	ListForUser(ctx context.Context, userID uuid.UUID, page Page) ([]models.Transaction, error)

	// Pending withdrawals created before the time, oldest first
	ListPendingWithdrawals(ctx context.Context, createdBefore time.Time, limit int) ([]models.Transaction, error)

	// Move pending transaction to terminal status
	// If transaction is terminal already it is returned as is: caller decides what to do
	SettleStatus(ctx context.Context, id uuid.UUID, status models.TransactionStatus) (models.Transaction, error)

	// Sum of posted deltas of user transactions with seq greater than afterSeq
	// Returns the greatest seq folded or afterSeq if nothing found
	Fold(ctx context.Context, userID uuid.UUID, afterSeq int64) (models.WalletDelta, int64, error)
}

// Storage gives access to all repositories
type Storage interface {
	User() UserRepo
	Ledger() LedgerRepo

	// Run fn atomically holding exclusive locks of all the users
	// Locks are acquired in ascending user id order, so two calls never deadlock
	// If lock is not acquired in time has to return apperrors.ErrContention
	// If fn returns error nothing fn wrote is persisted
	WithUserLock(ctx context.Context, userIDs []uuid.UUID, fn func(Storage) error) error
}

// Unique user ids sorted ascending: the global lock order
func LockOrder(ids []uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}

	slices.SortFunc(out, func(a, b uuid.UUID) int {
		return bytes.Compare(a[:], b[:])
	})
	return out
}
