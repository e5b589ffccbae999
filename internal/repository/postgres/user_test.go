package postgres

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/walletledger/internal/apperrors"
	"github.com/nkiryanov/walletledger/internal/testutil"
)

func Test_UserRepo(t *testing.T) {
	t.Parallel() // It's ok to run in parallel with other tests, but not with subtests

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	t.Run("ensure user creates new one", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := UserRepo{DB: tx}
			id := uuid.New()

			user, err := r.EnsureUser(t.Context(), id, "testuser")

			require.NoError(t, err)
			assert.Equal(t, id, user.ID)
			assert.Equal(t, "testuser", user.Username)
			assert.Empty(t, user.PayoutDestination, "new user has no payout destination")
			assert.False(t, user.PayoutVerified)
			assert.WithinDuration(t, time.Now(), user.CreatedAt, time.Second, "CreatedAt should be recent")
		})
	})

	t.Run("ensure user renames existing one", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := UserRepo{DB: tx}
			created, err := r.EnsureUser(t.Context(), uuid.New(), "oldname")
			require.NoError(t, err)
			_, err = r.SetPayoutDestination(t.Context(), created.ID, "acct_1", true)
			require.NoError(t, err)

			got, err := r.EnsureUser(t.Context(), created.ID, "newname")

			require.NoError(t, err)
			assert.Equal(t, created.ID, got.ID)
			assert.Equal(t, "newname", got.Username)
			assert.Equal(t, "acct_1", got.PayoutDestination, "payout destination must be kept on rename")
			assert.Equal(t, created.CreatedAt, got.CreatedAt)
		})
	})

	t.Run("ensure user with taken username", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := UserRepo{DB: tx}
			_, err := r.EnsureUser(t.Context(), uuid.New(), "taken")
			require.NoError(t, err)

			_, err = r.EnsureUser(t.Context(), uuid.New(), "taken")

			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrUserAlreadyExists, "should return well known error")
		})
	})

	t.Run("get user by id ok", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := UserRepo{DB: tx}
			created, err := r.EnsureUser(t.Context(), uuid.New(), "findbyid")
			require.NoError(t, err)

			got, err := r.GetUserByID(t.Context(), created.ID)

			require.NoError(t, err)
			assert.Equal(t, created, got)
		})
	})

	t.Run("get user by id not found", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := UserRepo{DB: tx}

			_, err := r.GetUserByID(t.Context(), uuid.New())

			assert.Error(t, err, "Should return error for non-existent user")
			assert.ErrorIs(t, err, apperrors.ErrUserNotFound, "should return well known error")
		})
	})

	t.Run("get user by username ok", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := UserRepo{DB: tx}
			created, err := r.EnsureUser(t.Context(), uuid.New(), "findbyusername")
			require.NoError(t, err)

			got, err := r.GetUserByUsername(t.Context(), created.Username)

			require.NoError(t, err)
			assert.Equal(t, created, got)
		})
	})

	t.Run("get user by username not found", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := UserRepo{DB: tx}

			_, err := r.GetUserByUsername(t.Context(), "nobody")

			assert.ErrorIs(t, err, apperrors.ErrUserNotFound, "should return well known error")
		})
	})

	t.Run("set payout destination", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := UserRepo{DB: tx}
			created, err := r.EnsureUser(t.Context(), uuid.New(), "payee")
			require.NoError(t, err)

			got, err := r.SetPayoutDestination(t.Context(), created.ID, "acct_42", true)

			require.NoError(t, err)
			assert.Equal(t, "acct_42", got.PayoutDestination)
			assert.True(t, got.PayoutVerified)
			assert.True(t, got.CanReceivePayout())
		})
	})

	t.Run("set payout destination of unknown user", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := UserRepo{DB: tx}

			_, err := r.SetPayoutDestination(t.Context(), uuid.New(), "acct_42", true)

			assert.ErrorIs(t, err, apperrors.ErrUserNotFound, "should return well known error")
		})
	})
}
