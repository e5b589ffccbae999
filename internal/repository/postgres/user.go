package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/walletledger/internal/apperrors"
	"github.com/nkiryanov/walletledger/internal/models"
)

type UserRepo struct {
	DB DBTX
}

const userColumns = `id, created_at, username, payout_destination, payout_verified`

// Insert user or rename existing one. Payout destination is kept as is
const ensureUser = `-- name: EnsureUser
INSERT INTO users (id, username)
VALUES ($1, $2)
ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username
RETURNING ` + userColumns

func (r *UserRepo) EnsureUser(ctx context.Context, id uuid.UUID, username string) (models.User, error) {
	rows, _ := r.DB.Query(ctx, ensureUser, id, username)
	user, err := pgx.CollectOneRow(rows, rowToUser)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return user, apperrors.ErrUserAlreadyExists
		}

		return user, apperrors.Storage(err)
	}

	return user, nil
}

const getUserByID = `-- name: GetUserByID
SELECT ` + userColumns + ` FROM users
WHERE id = $1
`

func (r *UserRepo) GetUserByID(ctx context.Context, id uuid.UUID) (models.User, error) {
	rows, _ := r.DB.Query(ctx, getUserByID, id)
	return collectUser(rows)
}

const getUserByUsername = `-- name: GetUserByUsername
SELECT ` + userColumns + ` FROM users
WHERE username = $1
`

func (r *UserRepo) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	rows, _ := r.DB.Query(ctx, getUserByUsername, username)
	return collectUser(rows)
}

const setPayoutDestination = `-- name: SetPayoutDestination
UPDATE users SET payout_destination = $2, payout_verified = $3
WHERE id = $1
RETURNING ` + userColumns

func (r *UserRepo) SetPayoutDestination(ctx context.Context, id uuid.UUID, destination string, verified bool) (models.User, error) {
	rows, _ := r.DB.Query(ctx, setPayoutDestination, id, destination, verified)
	return collectUser(rows)
}

func collectUser(rows pgx.Rows) (models.User, error) {
	user, err := pgx.CollectOneRow(rows, rowToUser)

	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, pgx.ErrNoRows):
		return user, apperrors.ErrUserNotFound
	default:
		return user, apperrors.Storage(err)
	}
}

func rowToUser(row pgx.CollectableRow) (models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.CreatedAt, &u.Username, &u.PayoutDestination, &u.PayoutVerified)
	return u, err
}
