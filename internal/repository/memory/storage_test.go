package memory

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/walletledger/internal/apperrors"
	"github.com/nkiryanov/walletledger/internal/models"
	"github.com/nkiryanov/walletledger/internal/repository"
)

func earning(userID uuid.UUID, credits int64) models.Transaction {
	return models.Transaction{
		UserID:           userID,
		Type:             models.TransactionCreditEarning,
		Status:           models.StatusCompleted,
		CashCreditsDelta: credits,
	}
}

func withdrawal(userID uuid.UUID, amount string) models.Transaction {
	return models.Transaction{
		UserID:    userID,
		Type:      models.TransactionWithdrawal,
		Status:    models.StatusPending,
		FiatDelta: decimal.RequireFromString(amount).Neg(),
	}
}

func TestLedgerRepo(t *testing.T) {
	t.Run("append assigns seq and time", func(t *testing.T) {
		s := NewStorage()
		userID := uuid.New()

		got, err := s.Ledger().Append(t.Context(), earning(userID, 1), earning(userID, 2))

		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, int64(1), got[0].Seq)
		assert.Equal(t, int64(2), got[1].Seq)
		assert.NotEqual(t, uuid.Nil, got[0].ID, "id has to be assigned")
		assert.WithinDuration(t, time.Now(), got[0].CreatedAt, time.Second)
	})

	t.Run("duplicate payment reference", func(t *testing.T) {
		s := NewStorage()
		userID := uuid.New()
		ref := "pay-1"
		purchase := earning(userID, 10)
		purchase.PaymentReference = &ref
		_, err := s.Ledger().Append(t.Context(), purchase)
		require.NoError(t, err)

		_, err = s.Ledger().Append(t.Context(), earning(userID, 1), purchase)

		require.ErrorIs(t, err, apperrors.ErrDuplicateReference, "should return well known error")
		d, _, err := s.Ledger().Fold(t.Context(), userID, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(10), d.CashCredits, "failed batch must not be persisted")
	})

	t.Run("one refund per transaction", func(t *testing.T) {
		s := NewStorage()
		userID := uuid.New()
		related := uuid.New()
		refund := models.Transaction{UserID: userID, Type: models.TransactionRefund, Status: models.StatusCompleted, RelatedTransactionID: &related}
		_, err := s.Ledger().Append(t.Context(), refund)
		require.NoError(t, err)

		_, err = s.Ledger().Append(t.Context(), refund)

		require.ErrorIs(t, err, apperrors.ErrDuplicateReference)
		got, err := s.Ledger().GetRefundOf(t.Context(), related)
		require.NoError(t, err)
		assert.Equal(t, related, *got.RelatedTransactionID)
	})

	t.Run("get not found", func(t *testing.T) {
		s := NewStorage()

		_, err := s.Ledger().GetByID(t.Context(), uuid.New())
		require.ErrorIs(t, err, apperrors.ErrTransactionNotFound)

		_, err = s.Ledger().GetByPaymentReference(t.Context(), "nope")
		require.ErrorIs(t, err, apperrors.ErrTransactionNotFound)

		_, err = s.Ledger().GetRefundOf(t.Context(), uuid.New())
		require.ErrorIs(t, err, apperrors.ErrTransactionNotFound)
	})

	t.Run("list newest first with keyset", func(t *testing.T) {
		s := NewStorage()
		userID := uuid.New()
		for i := range 5 {
			_, err := s.Ledger().Append(t.Context(), earning(userID, int64(i+1)), earning(uuid.New(), 100))
			require.NoError(t, err)
		}

		first, err := s.Ledger().ListForUser(t.Context(), userID, repository.Page{Limit: 3})
		require.NoError(t, err)
		require.Len(t, first, 3)
		assert.Equal(t, []int64{5, 4, 3}, []int64{first[0].CashCreditsDelta, first[1].CashCreditsDelta, first[2].CashCreditsDelta})

		next, err := s.Ledger().ListForUser(t.Context(), userID, repository.Page{Limit: 3, BeforeSeq: first[2].Seq})
		require.NoError(t, err)
		require.Len(t, next, 2, "only two older records left")
		assert.Equal(t, int64(2), next[0].CashCreditsDelta)
	})

	t.Run("settle status", func(t *testing.T) {
		s := NewStorage()
		userID := uuid.New()
		saved, err := s.Ledger().Append(t.Context(), withdrawal(userID, "12.00"))
		require.NoError(t, err)

		got, err := s.Ledger().SettleStatus(t.Context(), saved[0].ID, models.StatusFailed)
		require.NoError(t, err)
		assert.Equal(t, models.StatusFailed, got.Status)

		got, err = s.Ledger().SettleStatus(t.Context(), saved[0].ID, models.StatusCompleted)
		require.NoError(t, err)
		assert.Equal(t, models.StatusFailed, got.Status, "terminal status is returned as is")

		_, err = s.Ledger().SettleStatus(t.Context(), saved[0].ID, models.StatusPending)
		require.Error(t, err, "pending is not a settlement")
	})

	t.Run("pending withdrawals oldest first", func(t *testing.T) {
		s := NewStorage()
		userID := uuid.New()
		first, err := s.Ledger().Append(t.Context(), withdrawal(userID, "10.00"))
		require.NoError(t, err)
		second, err := s.Ledger().Append(t.Context(), withdrawal(userID, "11.00"), earning(userID, 1))
		require.NoError(t, err)
		settled, err := s.Ledger().Append(t.Context(), withdrawal(userID, "12.00"))
		require.NoError(t, err)
		_, err = s.Ledger().SettleStatus(t.Context(), settled[0].ID, models.StatusCompleted)
		require.NoError(t, err)

		got, err := s.Ledger().ListPendingWithdrawals(t.Context(), time.Now().Add(time.Second), 10)

		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, first[0].ID, got[0].ID)
		assert.Equal(t, second[0].ID, got[1].ID)

		got, err = s.Ledger().ListPendingWithdrawals(t.Context(), time.Now().Add(time.Second), 1)
		require.NoError(t, err)
		assert.Len(t, got, 1, "limit has to be respected")
	})

	t.Run("fold posted after seq", func(t *testing.T) {
		s := NewStorage()
		userID := uuid.New()
		saved, err := s.Ledger().Append(t.Context(),
			earning(userID, 10),
			withdrawal(userID, "10.00"),
			models.Transaction{UserID: userID, Type: models.TransactionCreditBonus, Status: models.StatusCancelled, FreeCreditsDelta: 5},
		)
		require.NoError(t, err)

		d, seq, err := s.Ledger().Fold(t.Context(), userID, 0)
		require.NoError(t, err)
		assert.Equal(t, saved[1].Seq, seq, "last posted seq expected")
		assert.Equal(t, int64(10), d.CashCredits)
		assert.Zero(t, d.FreeCredits, "cancelled record is not posted")
		assert.True(t, d.FiatBalance.Equal(decimal.RequireFromString("-10")), "pending withdrawal reserves fiat")

		d, seq, err = s.Ledger().Fold(t.Context(), userID, saved[1].Seq)
		require.NoError(t, err)
		assert.Equal(t, saved[1].Seq, seq)
		assert.Zero(t, d.CashCredits)
	})
}

func TestUserRepo(t *testing.T) {
	t.Run("ensure and rename", func(t *testing.T) {
		s := NewStorage()
		id := uuid.New()

		created, err := s.User().EnsureUser(t.Context(), id, "alice")
		require.NoError(t, err)
		_, err = s.User().SetPayoutDestination(t.Context(), id, "acct_1", true)
		require.NoError(t, err)

		renamed, err := s.User().EnsureUser(t.Context(), id, "alice2")
		require.NoError(t, err)
		assert.Equal(t, created.CreatedAt, renamed.CreatedAt)
		assert.True(t, renamed.CanReceivePayout(), "payout destination must be kept on rename")

		_, err = s.User().GetUserByUsername(t.Context(), "alice")
		require.ErrorIs(t, err, apperrors.ErrUserNotFound, "old username has to be released")
		got, err := s.User().GetUserByUsername(t.Context(), "alice2")
		require.NoError(t, err)
		assert.Equal(t, id, got.ID)
	})

	t.Run("username taken", func(t *testing.T) {
		s := NewStorage()
		_, err := s.User().EnsureUser(t.Context(), uuid.New(), "bob")
		require.NoError(t, err)

		_, err = s.User().EnsureUser(t.Context(), uuid.New(), "bob")

		require.ErrorIs(t, err, apperrors.ErrUserAlreadyExists, "should return well known error")
	})

	t.Run("unknown user", func(t *testing.T) {
		s := NewStorage()

		_, err := s.User().GetUserByID(t.Context(), uuid.New())
		require.ErrorIs(t, err, apperrors.ErrUserNotFound)

		_, err = s.User().SetPayoutDestination(t.Context(), uuid.New(), "acct", true)
		require.ErrorIs(t, err, apperrors.ErrUserNotFound)
	})
}

func TestWithUserLock(t *testing.T) {
	t.Run("staged writes are invisible until commit", func(t *testing.T) {
		s := NewStorage()
		userID := uuid.New()

		err := s.WithUserLock(t.Context(), []uuid.UUID{userID}, func(locked repository.Storage) error {
			saved, err := locked.Ledger().Append(t.Context(), earning(userID, 3))
			require.NoError(t, err)

			_, err = s.Ledger().GetByID(t.Context(), saved[0].ID)
			require.ErrorIs(t, err, apperrors.ErrTransactionNotFound, "outside view must not see staged record")

			got, err := locked.Ledger().GetByID(t.Context(), saved[0].ID)
			require.NoError(t, err, "locked view sees own writes")
			assert.Equal(t, saved[0], got)
			return nil
		})

		require.NoError(t, err)
		d, _, err := s.Ledger().Fold(t.Context(), userID, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(3), d.CashCredits, "writes have to be published on success")
	})

	t.Run("rollback on error", func(t *testing.T) {
		s := NewStorage()
		userID := uuid.New()
		pending, err := s.Ledger().Append(t.Context(), withdrawal(userID, "10.00"))
		require.NoError(t, err)
		errBoom := errors.New("boom")

		err = s.WithUserLock(t.Context(), []uuid.UUID{userID}, func(locked repository.Storage) error {
			_, err := locked.Ledger().Append(t.Context(), earning(userID, 3))
			require.NoError(t, err)
			_, err = locked.Ledger().SettleStatus(t.Context(), pending[0].ID, models.StatusCompleted)
			require.NoError(t, err)
			return errBoom
		})

		require.ErrorIs(t, err, errBoom)
		d, _, err := s.Ledger().Fold(t.Context(), userID, 0)
		require.NoError(t, err)
		assert.Zero(t, d.CashCredits, "nothing may be published")
		got, err := s.Ledger().GetByID(t.Context(), pending[0].ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPending, got.Status, "settlement has to be rolled back too")
	})

	t.Run("contention on held lock", func(t *testing.T) {
		s := NewStorage(WithLockTimeout(50 * time.Millisecond))
		userID := uuid.New()
		locked := make(chan struct{})
		release := make(chan struct{})
		done := make(chan error, 1)

		go func() {
			done <- s.WithUserLock(t.Context(), []uuid.UUID{userID}, func(repository.Storage) error {
				close(locked)
				<-release
				return nil
			})
		}()
		<-locked

		other := uuid.New()
		err := s.WithUserLock(t.Context(), []uuid.UUID{userID, other}, func(repository.Storage) error {
			t.Error("fn must not be called without lock")
			return nil
		})
		require.ErrorIs(t, err, apperrors.ErrContention, "lock timeout has to be reported as contention")

		// Locks taken before the timeout have to be released
		err = s.WithUserLock(t.Context(), []uuid.UUID{other}, func(repository.Storage) error { return nil })
		require.NoError(t, err)

		close(release)
		require.NoError(t, <-done)
	})

	t.Run("lock released on error", func(t *testing.T) {
		s := NewStorage(WithLockTimeout(50 * time.Millisecond))
		userID := uuid.New()

		_ = s.WithUserLock(t.Context(), []uuid.UUID{userID}, func(repository.Storage) error { return errors.New("fail") })
		err := s.WithUserLock(t.Context(), []uuid.UUID{userID}, func(repository.Storage) error { return nil })

		require.NoError(t, err, "lock has to be released on error path")
	})

	t.Run("opposite lock order never deadlocks", func(t *testing.T) {
		s := NewStorage()
		a, b := uuid.New(), uuid.New()

		var wg sync.WaitGroup
		for i := range 100 {
			ids := []uuid.UUID{a, b}
			if i%2 == 1 {
				ids = []uuid.UUID{b, a}
			}
			wg.Go(func() {
				err := s.WithUserLock(t.Context(), ids, func(locked repository.Storage) error {
					_, err := locked.Ledger().Append(t.Context(), earning(a, 1), earning(b, 1))
					return err
				})
				assert.NoError(t, err)
			})
		}
		wg.Wait()

		d, _, err := s.Ledger().Fold(t.Context(), b, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(100), d.CashCredits)
	})
}
