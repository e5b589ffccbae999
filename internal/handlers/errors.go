package handlers

import (
	"errors"
	"net/http"

	"github.com/nkiryanov/walletledger/internal/apperrors"
	"github.com/nkiryanov/walletledger/internal/handlers/render"
	"github.com/nkiryanov/walletledger/internal/logger"
)

// Render error of the ledger operation
// Validation errors carry a message for the user, others are hidden behind a generic one
func renderError(w http.ResponseWriter, l logger.Logger, err error) {
	if msg, ok := apperrors.UserMessage(err); ok {
		switch {
		case errors.Is(err, apperrors.ErrInsufficientBalance):
			render.ServiceError(w, msg, http.StatusPaymentRequired)
		default:
			render.ServiceError(w, msg, http.StatusUnprocessableEntity)
		}
		return
	}

	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		render.ServiceError(w, "User not found", http.StatusNotFound)
	case apperrors.IsRetryable(err):
		l.Warn("Temporary failure", "error", err)
		w.Header().Set("Retry-After", "1")
		render.ServiceError(w, "Temporary failure, try again", http.StatusServiceUnavailable)
	default:
		l.Error("Internal error", "error", err)
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
	}
}
