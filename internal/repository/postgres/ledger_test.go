package postgres

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/walletledger/internal/apperrors"
	"github.com/nkiryanov/walletledger/internal/models"
	"github.com/nkiryanov/walletledger/internal/repository"
	"github.com/nkiryanov/walletledger/internal/testutil"
)

func Test_LedgerRepo(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	// Repository on transaction that is rolled back when subtest ends
	// May be nested (aka transaction in transaction)
	withRepo := func(t *testing.T, outer DBTX, fn func(pgx.Tx, *LedgerRepo)) {
		testutil.WithTx(outer, t, func(tx pgx.Tx) {
			fn(tx, &LedgerRepo{DB: tx})
		})
	}

	money := decimal.RequireFromString
	ref := func(s string) *string { return &s }

	purchase := func(userID uuid.UUID, credits int64, paymentRef string) models.Transaction {
		return models.Transaction{
			UserID:           userID,
			Type:             models.TransactionCreditPurchase,
			Status:           models.StatusCompleted,
			CashCreditsDelta: credits,
			PaymentReference: ref(paymentRef),
		}
	}

	withdrawal := func(userID uuid.UUID, amount string) models.Transaction {
		return models.Transaction{
			UserID:    userID,
			Type:      models.TransactionWithdrawal,
			Status:    models.StatusPending,
			FiatDelta: money(amount).Neg(),
		}
	}

	t.Run("Append", func(t *testing.T) {
		withRepo(t, pg.Pool, func(tx pgx.Tx, _ *LedgerRepo) {
			userID := uuid.New()
			counterparty := uuid.New()

			t.Run("append one ok", func(t *testing.T) {
				withRepo(t, tx, func(_ pgx.Tx, r *LedgerRepo) {
					in := models.Transaction{
						ID:                 uuid.New(),
						UserID:             userID,
						Type:               models.TransactionCreditUsage,
						Status:             models.StatusCompleted,
						CashCreditsDelta:   -5,
						FreeCreditsDelta:   -10,
						Description:        "spent on idea",
						CounterpartyUserID: &counterparty,
						Content:            &models.ContentRef{Type: "idea", ID: "idea-1"},
					}

					got, err := r.Append(t.Context(), in)

					require.NoError(t, err, "transaction has to be appended ok")
					require.Len(t, got, 1)
					saved := got[0]
					assert.NotZero(t, saved.Seq, "store must assign seq")
					assert.Equal(t, in.ID, saved.ID)
					assert.Equal(t, int64(-15), saved.CreditsDelta())
					assert.True(t, saved.FiatDelta.IsZero())
					assert.Equal(t, "spent on idea", saved.Description)
					assert.Equal(t, &counterparty, saved.CounterpartyUserID)
					assert.Equal(t, &models.ContentRef{Type: "idea", ID: "idea-1"}, saved.Content)
					assert.Nil(t, saved.PaymentReference)
					assert.Nil(t, saved.RelatedTransactionID)
					assert.WithinDuration(t, time.Now(), saved.CreatedAt, time.Second)
					assert.WithinDuration(t, saved.CreatedAt, saved.UpdatedAt, time.Millisecond)
				})
			})

			t.Run("append assigns id if missing", func(t *testing.T) {
				withRepo(t, tx, func(_ pgx.Tx, r *LedgerRepo) {
					got, err := r.Append(t.Context(), purchase(userID, 10, "pay-id"))

					require.NoError(t, err)
					assert.NotEqual(t, uuid.Nil, got[0].ID)
				})
			})

			t.Run("append many keeps order of seq", func(t *testing.T) {
				withRepo(t, tx, func(_ pgx.Tx, r *LedgerRepo) {
					got, err := r.Append(t.Context(), purchase(userID, 10, "pay-1"), purchase(userID, 20, "pay-2"))

					require.NoError(t, err)
					require.Len(t, got, 2)
					assert.Less(t, got[0].Seq, got[1].Seq, "seq has to grow in append order")
				})
			})

			t.Run("append many is atomic", func(t *testing.T) {
				withRepo(t, tx, func(_ pgx.Tx, r *LedgerRepo) {
					_, err := r.Append(t.Context(), purchase(userID, 10, "pay-dup"))
					require.NoError(t, err)

					_, err = r.Append(t.Context(), purchase(userID, 10, "pay-fresh"), purchase(userID, 10, "pay-dup"))

					require.ErrorIs(t, err, apperrors.ErrDuplicateReference, "should return well known error")
					_, err = r.GetByPaymentReference(t.Context(), "pay-fresh")
					require.ErrorIs(t, err, apperrors.ErrTransactionNotFound, "nothing of failed batch may be persisted")
				})
			})
		})
	})

	t.Run("Get", func(t *testing.T) {
		withRepo(t, pg.Pool, func(_ pgx.Tx, r *LedgerRepo) {
			userID := uuid.New()
			saved, err := r.Append(t.Context(), purchase(userID, 10, "pay-get"))
			require.NoError(t, err)

			t.Run("by id", func(t *testing.T) {
				got, err := r.GetByID(t.Context(), saved[0].ID)

				require.NoError(t, err)
				assert.Equal(t, saved[0], got)
			})

			t.Run("by id not found", func(t *testing.T) {
				_, err := r.GetByID(t.Context(), uuid.New())

				require.ErrorIs(t, err, apperrors.ErrTransactionNotFound)
			})

			t.Run("by payment reference", func(t *testing.T) {
				got, err := r.GetByPaymentReference(t.Context(), "pay-get")

				require.NoError(t, err)
				assert.Equal(t, saved[0].ID, got.ID)
			})

			t.Run("refund of", func(t *testing.T) {
				related := saved[0].ID
				refund, err := r.Append(t.Context(), models.Transaction{
					UserID:               userID,
					Type:                 models.TransactionRefund,
					Status:               models.StatusCompleted,
					CashCreditsDelta:     10,
					RelatedTransactionID: &related,
				})
				require.NoError(t, err)

				got, err := r.GetRefundOf(t.Context(), related)

				require.NoError(t, err)
				assert.Equal(t, refund[0].ID, got.ID)

				_, err = r.GetRefundOf(t.Context(), refund[0].ID)
				require.ErrorIs(t, err, apperrors.ErrTransactionNotFound, "refund itself is not refunded")
			})
		})
	})

	t.Run("ListForUser", func(t *testing.T) {
		withRepo(t, pg.Pool, func(_ pgx.Tx, r *LedgerRepo) {
			userID := uuid.New()
			_, err := r.Append(t.Context(),
				purchase(userID, 1, "list-1"),
				purchase(userID, 2, "list-2"),
				purchase(userID, 3, "list-3"),
				purchase(uuid.New(), 4, "list-other"),
			)
			require.NoError(t, err)

			t.Run("newest first", func(t *testing.T) {
				got, err := r.ListForUser(t.Context(), userID, repository.Page{Limit: 10})

				require.NoError(t, err)
				require.Len(t, got, 3, "only user transactions expected")
				assert.Equal(t, int64(3), got[0].CashCreditsDelta)
				assert.Equal(t, int64(2), got[1].CashCreditsDelta)
				assert.Equal(t, int64(1), got[2].CashCreditsDelta)
			})

			t.Run("keyset page", func(t *testing.T) {
				first, err := r.ListForUser(t.Context(), userID, repository.Page{Limit: 2})
				require.NoError(t, err)
				require.Len(t, first, 2)

				next, err := r.ListForUser(t.Context(), userID, repository.Page{Limit: 2, BeforeSeq: first[1].Seq})

				require.NoError(t, err)
				require.Len(t, next, 1)
				assert.Equal(t, int64(1), next[0].CashCreditsDelta)
			})

			t.Run("empty for unknown user", func(t *testing.T) {
				got, err := r.ListForUser(t.Context(), uuid.New(), repository.Page{Limit: 10})

				require.NoError(t, err)
				assert.Empty(t, got)
			})
		})
	})

	t.Run("SettleStatus", func(t *testing.T) {
		withRepo(t, pg.Pool, func(tx pgx.Tx, _ *LedgerRepo) {
			userID := uuid.New()

			t.Run("pending to completed", func(t *testing.T) {
				withRepo(t, tx, func(_ pgx.Tx, r *LedgerRepo) {
					saved, err := r.Append(t.Context(), withdrawal(userID, "15.00"))
					require.NoError(t, err)

					got, err := r.SettleStatus(t.Context(), saved[0].ID, models.StatusCompleted)

					require.NoError(t, err)
					assert.Equal(t, models.StatusCompleted, got.Status)
					assert.True(t, got.UpdatedAt.After(saved[0].UpdatedAt), "updated_at has to move on")
					assert.True(t, got.FiatDelta.Equal(money("-15")), "deltas never change")
				})
			})

			t.Run("terminal returned as is", func(t *testing.T) {
				withRepo(t, tx, func(_ pgx.Tx, r *LedgerRepo) {
					saved, err := r.Append(t.Context(), withdrawal(userID, "15.00"))
					require.NoError(t, err)
					failed, err := r.SettleStatus(t.Context(), saved[0].ID, models.StatusFailed)
					require.NoError(t, err)

					got, err := r.SettleStatus(t.Context(), saved[0].ID, models.StatusCompleted)

					require.NoError(t, err)
					assert.Equal(t, models.StatusFailed, got.Status, "terminal status must not be changed")
					assert.Equal(t, failed.UpdatedAt, got.UpdatedAt)
				})
			})

			t.Run("unknown transaction", func(t *testing.T) {
				withRepo(t, tx, func(_ pgx.Tx, r *LedgerRepo) {
					_, err := r.SettleStatus(t.Context(), uuid.New(), models.StatusCompleted)

					require.ErrorIs(t, err, apperrors.ErrTransactionNotFound)
				})
			})

			t.Run("non terminal target", func(t *testing.T) {
				withRepo(t, tx, func(_ pgx.Tx, r *LedgerRepo) {
					saved, err := r.Append(t.Context(), withdrawal(userID, "15.00"))
					require.NoError(t, err)

					_, err = r.SettleStatus(t.Context(), saved[0].ID, models.StatusPending)

					require.Error(t, err, "pending is not a settlement")
				})
			})

			t.Run("deltas are immutable", func(t *testing.T) {
				withRepo(t, tx, func(ttx pgx.Tx, r *LedgerRepo) {
					saved, err := r.Append(t.Context(), withdrawal(userID, "15.00"))
					require.NoError(t, err)

					_, err = ttx.Exec(t.Context(), `UPDATE ledger_transactions SET fiat_delta = 0 WHERE id = $1`, saved[0].ID)

					require.Error(t, err, "database must reject delta update")
				})
			})

			t.Run("delete is forbidden", func(t *testing.T) {
				withRepo(t, tx, func(ttx pgx.Tx, r *LedgerRepo) {
					saved, err := r.Append(t.Context(), purchase(userID, 1, "pay-delete"))
					require.NoError(t, err)

					_, err = ttx.Exec(t.Context(), `DELETE FROM ledger_transactions WHERE id = $1`, saved[0].ID)

					require.Error(t, err, "database must reject delete")
				})
			})
		})
	})

	t.Run("ListPendingWithdrawals", func(t *testing.T) {
		withRepo(t, pg.Pool, func(_ pgx.Tx, r *LedgerRepo) {
			userID := uuid.New()
			saved, err := r.Append(t.Context(),
				withdrawal(userID, "10.00"),
				withdrawal(userID, "20.00"),
				purchase(userID, 1, "pending-purchase"),
			)
			require.NoError(t, err)
			_, err = r.SettleStatus(t.Context(), saved[1].ID, models.StatusCompleted)
			require.NoError(t, err)

			got, err := r.ListPendingWithdrawals(t.Context(), time.Now().Add(time.Minute), 100)

			require.NoError(t, err)
			ids := make([]uuid.UUID, 0, len(got))
			for _, tx := range got {
				ids = append(ids, tx.ID)
			}
			assert.Contains(t, ids, saved[0].ID, "pending withdrawal expected")
			assert.NotContains(t, ids, saved[1].ID, "settled withdrawal is not pending")
			assert.NotContains(t, ids, saved[2].ID, "purchase is not withdrawal")

			got, err = r.ListPendingWithdrawals(t.Context(), saved[0].CreatedAt, 100)
			require.NoError(t, err)
			assert.Empty(t, got, "nothing created before the first withdrawal")
		})
	})

	t.Run("Fold", func(t *testing.T) {
		withRepo(t, pg.Pool, func(_ pgx.Tx, r *LedgerRepo) {
			userID := uuid.New()

			t.Run("nothing to fold", func(t *testing.T) {
				d, seq, err := r.Fold(t.Context(), userID, 0)

				require.NoError(t, err)
				assert.Zero(t, seq)
				assert.Zero(t, d.CashCredits)
				assert.True(t, d.FiatBalance.IsZero())
			})

			saved, err := r.Append(t.Context(),
				purchase(userID, 100, "fold-1"),
				models.Transaction{
					UserID:           userID,
					Type:             models.TransactionConversion,
					Status:           models.StatusCompleted,
					CashCreditsDelta: -40,
					FiatDelta:        money("40.00"),
				},
				withdrawal(userID, "15.00"),
				models.Transaction{
					UserID:           userID,
					Type:             models.TransactionCreditBonus,
					Status:           models.StatusCancelled,
					FreeCreditsDelta: 1000,
				},
				models.Transaction{
					UserID:       userID,
					Type:         models.TransactionCreditEarning,
					Status:       models.StatusCompleted,
					PendingDelta: money("7.50"),
				},
			)
			require.NoError(t, err)

			t.Run("posted only", func(t *testing.T) {
				d, seq, err := r.Fold(t.Context(), userID, 0)

				require.NoError(t, err)
				assert.Equal(t, saved[4].Seq, seq)
				assert.Equal(t, int64(60), d.CashCredits)
				assert.Zero(t, d.FreeCredits, "cancelled bonus is not posted")
				assert.True(t, d.FiatBalance.Equal(money("25.00")), "pending withdrawal reserves fiat, got %s", d.FiatBalance)
				assert.True(t, d.PendingEarnings.Equal(money("7.50")))
			})

			t.Run("after seq", func(t *testing.T) {
				d, seq, err := r.Fold(t.Context(), userID, saved[1].Seq)

				require.NoError(t, err)
				assert.Equal(t, saved[4].Seq, seq)
				assert.Zero(t, d.CashCredits, "purchase and conversion already folded")
				assert.True(t, d.FiatBalance.Equal(money("-15.00")))
			})

			t.Run("after last seq", func(t *testing.T) {
				d, seq, err := r.Fold(t.Context(), userID, saved[4].Seq)

				require.NoError(t, err)
				assert.Equal(t, saved[4].Seq, seq, "last seq has to be kept")
				assert.Zero(t, d.CashCredits)
			})
		})
	})
}
