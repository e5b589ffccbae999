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
	"github.com/nkiryanov/walletledger/internal/repository"
)

const DefaultLockTimeout = 3 * time.Second

// Pool, connection or transaction: anything that runs queries and starts (sub)transactions
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Storage struct {
	db          DBTX
	lockTimeout time.Duration

	// Not nil inside WithUserLock
	locked pgx.Tx
}

var _ repository.Storage = (*Storage)(nil)

type Option func(*Storage)

// How long WithUserLock waits for user locks before giving up with apperrors.ErrContention
func WithLockTimeout(d time.Duration) Option {
	return func(s *Storage) {
		s.lockTimeout = d
	}
}

func NewStorage(db DBTX, opts ...Option) *Storage {
	s := &Storage{db: db, lockTimeout: DefaultLockTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Storage) User() repository.UserRepo {
	return &UserRepo{DB: s.db}
}

func (s *Storage) Ledger() repository.LedgerRepo {
	return &LedgerRepo{DB: s.db}
}

const setLockTimeout = `SELECT set_config('lock_timeout', $1, true)`

// Advisory locks are bound to the transaction and released on commit or rollback
const lockUser = `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`

func (s *Storage) WithUserLock(ctx context.Context, userIDs []uuid.UUID, fn func(repository.Storage) error) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return apperrors.Storage(err)
	}

	defer func() {
		switch err {
		case nil:
			if cErr := tx.Commit(ctx); cErr != nil {
				err = apperrors.Storage(cErr)
			}
		default:
			_ = tx.Rollback(ctx)
		}
	}()

	_, err = tx.Exec(ctx, setLockTimeout, fmt.Sprintf("%dms", s.lockTimeout.Milliseconds()))
	if err != nil {
		return apperrors.Storage(err)
	}

	for _, id := range repository.LockOrder(userIDs) {
		_, err = tx.Exec(ctx, lockUser, id)
		if err != nil {
			return lockError(id, err)
		}
	}

	return fn(&Storage{db: tx, lockTimeout: s.lockTimeout, locked: tx})
}

// Transaction that holds user locks. Writes made on it commit together with the ledger records
func (s *Storage) LockedTx() (pgx.Tx, bool) {
	return s.locked, s.locked != nil
}

func lockError(userID uuid.UUID, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.LockNotAvailable {
		return fmt.Errorf("user %s is locked: %w", userID, apperrors.ErrContention)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return apperrors.Storage(err)
}
