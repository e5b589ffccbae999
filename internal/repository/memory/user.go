package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/walletledger/internal/apperrors"
	"github.com/nkiryanov/walletledger/internal/models"
)

type UserRepo struct {
	state *state
}

func (r *UserRepo) EnsureUser(ctx context.Context, id uuid.UUID, username string) (models.User, error) {
	st := r.state
	st.mu.Lock()
	defer st.mu.Unlock()

	if owner, ok := st.byName[username]; ok && owner != id {
		return models.User{}, apperrors.ErrUserAlreadyExists
	}

	user, ok := st.users[id]
	if !ok {
		user = models.User{ID: id, CreatedAt: time.Now()}
	}
	if user.Username != "" {
		delete(st.byName, user.Username)
	}

	user.Username = username
	st.users[id] = user
	st.byName[username] = id

	return user, nil
}

func (r *UserRepo) GetUserByID(ctx context.Context, id uuid.UUID) (models.User, error) {
	r.state.mu.RLock()
	defer r.state.mu.RUnlock()

	user, ok := r.state.users[id]
	if !ok {
		return user, apperrors.ErrUserNotFound
	}
	return user, nil
}

func (r *UserRepo) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	r.state.mu.RLock()
	defer r.state.mu.RUnlock()

	id, ok := r.state.byName[username]
	if !ok {
		return models.User{}, apperrors.ErrUserNotFound
	}
	return r.state.users[id], nil
}

func (r *UserRepo) SetPayoutDestination(ctx context.Context, id uuid.UUID, destination string, verified bool) (models.User, error) {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	user, ok := r.state.users[id]
	if !ok {
		return user, apperrors.ErrUserNotFound
	}

	user.PayoutDestination = destination
	user.PayoutVerified = verified
	r.state.users[id] = user

	return user, nil
}
