package user

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nkiryanov/walletledger/internal/apperrors"
	"github.com/nkiryanov/walletledger/internal/models"
	"github.com/nkiryanov/walletledger/internal/repository"
)

// UserService keeps the mirror of the identity layer users
type UserService struct {
	userRepo repository.UserRepo
}

func NewService(userRepo repository.UserRepo) *UserService {
	return &UserService{
		userRepo: userRepo,
	}
}

func (s *UserService) EnsureUser(ctx context.Context, id uuid.UUID, username string) (models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return models.User{}, apperrors.Invalid(apperrors.ErrValidation, "username is required")
	}

	user, err := s.userRepo.EnsureUser(ctx, id, username)
	switch {
	case errors.Is(err, apperrors.ErrUserAlreadyExists):
		return user, apperrors.Invalid(err, fmt.Sprintf("username %q is taken", username))
	case err != nil:
		return user, fmt.Errorf("can't save user. Err: %w", err)
	}

	return user, nil
}

func (s *UserService) SetPayoutDestination(ctx context.Context, id uuid.UUID, destination string, verified bool) (models.User, error) {
	destination = strings.TrimSpace(destination)
	if destination == "" && verified {
		return models.User{}, apperrors.Invalid(apperrors.ErrPayoutDestinationMissing, "empty destination can't be verified")
	}

	user, err := s.userRepo.SetPayoutDestination(ctx, id, destination, verified)
	if err != nil {
		return user, fmt.Errorf("can't set payout destination. Err: %w", err)
	}

	return user, nil
}

func (s *UserService) GetUser(ctx context.Context, id uuid.UUID) (models.User, error) {
	return s.userRepo.GetUserByID(ctx, id)
}

// Find user by id or username
// Unknown user is reported as apperrors.ErrUnknownRecipient validation error
func (s *UserService) Resolve(ctx context.Context, ref string) (models.User, error) {
	ref = strings.TrimSpace(ref)

	var user models.User
	var err error
	if id, parseErr := uuid.Parse(ref); parseErr == nil {
		user, err = s.userRepo.GetUserByID(ctx, id)
	} else {
		user, err = s.userRepo.GetUserByUsername(ctx, ref)
	}

	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		return user, apperrors.Invalid(apperrors.ErrUnknownRecipient, fmt.Sprintf("recipient %q not found", ref))
	case err != nil:
		return user, err
	}

	return user, nil
}
