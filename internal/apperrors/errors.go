package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrUserNotFound      = errors.New("user not found")

	ErrTransactionNotFound = errors.New("transaction not found")

	// Validation failures: never retried, always reported to the caller
	ErrValidation               = errors.New("validation failed")
	ErrInvalidAmount            = errors.New("invalid amount")
	ErrInsufficientBalance      = errors.New("insufficient balance")
	ErrUnknownRecipient         = errors.New("unknown recipient")
	ErrSelfTransfer             = errors.New("can't transfer to yourself")
	ErrBelowMinimumWithdrawal   = errors.New("amount is below minimum withdrawal")
	ErrPayoutDestinationMissing = errors.New("verified payout destination is required")
	ErrUnknownPackage           = errors.New("unknown credit package")
	ErrPaymentMismatch          = errors.New("paid amount does not cover package price")
	ErrAlreadySettled           = errors.New("transaction already settled")
	ErrAlreadyRefunded          = errors.New("transaction already refunded")
	ErrNotRefundable            = errors.New("transaction can't be refunded")

	// Lock wait timed out, whole operation is safe to retry
	ErrContention = errors.New("contention on user wallet")

	// Storage I/O failed, operation must be treated as not applied
	ErrStorage = errors.New("storage error")

	// Payment reference already used
	ErrDuplicateReference = errors.New("duplicate payment reference")
)

// ValidationError is a business rule violation with a message that is safe to show to the user.
// It matches both ErrValidation and the Reason with errors.Is.
type ValidationError struct {
	Reason  error
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message == "" {
		return e.Reason.Error()
	}
	return e.Message
}

func (e *ValidationError) Unwrap() []error {
	return []error{ErrValidation, e.Reason}
}

// Create validation error. If message is empty the reason text is used.
func Invalid(reason error, message string) error {
	return &ValidationError{Reason: reason, Message: message}
}

// Wrap low level storage error so callers may detect it with errors.Is(err, ErrStorage)
func Storage(err error) error {
	return fmt.Errorf("db error: %w: %w", ErrStorage, err)
}

// Operation may succeed if repeated as a whole
func IsRetryable(err error) bool {
	return errors.Is(err, ErrContention) || errors.Is(err, ErrStorage)
}

// Message to show to the user for validation errors
func UserMessage(err error) (string, bool) {
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return vErr.Error(), true
	}
	return "", false
}
