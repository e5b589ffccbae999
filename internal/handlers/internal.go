package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/walletledger/internal/handlers/render"
	"github.com/nkiryanov/walletledger/internal/logger"
	"github.com/nkiryanov/walletledger/internal/models"
)

// Handlers of the internal API. Callers are trusted services, so user id comes in the body

func handleSpend(wallet walletService, l logger.Logger) http.HandlerFunc {
	type request struct {
		UserID      uuid.UUID `json:"user_id" validate:"required"`
		Amount      int64     `json:"amount" validate:"gt=0"`
		ContentType string    `json:"content_type" validate:"max=64"`
		ContentID   string    `json:"content_id" validate:"max=128"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		content := models.ContentRef{Type: req.ContentType, ID: req.ContentID}
		receipt, err := wallet.SpendCredits(r.Context(), req.UserID, req.Amount, content)
		if err != nil {
			renderError(w, l, err)
			return
		}

		render.JSON(w, newReceiptView(receipt))
	}
}

func handleEarn(wallet walletService, l logger.Logger) http.HandlerFunc {
	type request struct {
		UserID uuid.UUID `json:"user_id" validate:"required"`
		Amount int64     `json:"amount" validate:"gt=0"`
		Source string    `json:"source" validate:"max=128"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		receipt, err := wallet.EarnCredits(r.Context(), req.UserID, req.Amount, req.Source)
		if err != nil {
			renderError(w, l, err)
			return
		}

		render.JSON(w, newReceiptView(receipt))
	}
}

func handleBonus(wallet walletService, l logger.Logger) http.HandlerFunc {
	type request struct {
		UserID uuid.UUID `json:"user_id" validate:"required"`
		Amount int64     `json:"amount" validate:"gt=0"`
		Reason string    `json:"reason" validate:"max=256"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		receipt, err := wallet.GrantBonusCredits(r.Context(), req.UserID, req.Amount, req.Reason)
		if err != nil {
			renderError(w, l, err)
			return
		}

		render.JSON(w, newReceiptView(receipt))
	}
}

func handleRefund(wallet walletService, l logger.Logger) http.HandlerFunc {
	type request struct {
		TransactionID uuid.UUID `json:"transaction_id" validate:"required"`
		Reason        string    `json:"reason" validate:"max=256"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		receipt, err := wallet.RefundUsage(r.Context(), req.TransactionID, req.Reason)
		if err != nil {
			renderError(w, l, err)
			return
		}

		render.JSON(w, newReceiptView(receipt))
	}
}

func handleAccrue(wallet walletService, l logger.Logger) http.HandlerFunc {
	type request struct {
		UserID uuid.UUID       `json:"user_id" validate:"required"`
		Amount decimal.Decimal `json:"amount"`
		Source string          `json:"source" validate:"max=128"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		receipt, err := wallet.AccrueEarnings(r.Context(), req.UserID, req.Amount, req.Source)
		if err != nil {
			renderError(w, l, err)
			return
		}

		render.JSON(w, newReceiptView(receipt))
	}
}

func handleRelease(wallet walletService, l logger.Logger) http.HandlerFunc {
	type request struct {
		UserID uuid.UUID       `json:"user_id" validate:"required"`
		Amount decimal.Decimal `json:"amount"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		receipt, err := wallet.ReleaseEarnings(r.Context(), req.UserID, req.Amount)
		if err != nil {
			renderError(w, l, err)
			return
		}

		render.JSON(w, newReceiptView(receipt))
	}
}

// User id from the path. Renders 400 itself if the id is not a uuid
func pathUserID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil || id == uuid.Nil {
		render.ServiceError(w, "User id must be a valid UUID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func handleEnsureUser(users userService, l logger.Logger) http.HandlerFunc {
	type request struct {
		Username string `json:"username" validate:"notblank,max=150"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUserID(w, r)
		if !ok {
			return
		}

		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		u, err := users.EnsureUser(r.Context(), id, req.Username)
		if err != nil {
			renderError(w, l, err)
			return
		}

		render.JSON(w, newUserView(u))
	}
}

func handlePayoutDestination(users userService, l logger.Logger) http.HandlerFunc {
	type request struct {
		Destination string `json:"destination" validate:"max=256"`
		Verified    bool   `json:"verified"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUserID(w, r)
		if !ok {
			return
		}

		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		u, err := users.SetPayoutDestination(r.Context(), id, req.Destination, req.Verified)
		if err != nil {
			renderError(w, l, err)
			return
		}

		render.JSON(w, newUserView(u))
	}
}
