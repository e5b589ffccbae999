package handlers

import (
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/nkiryanov/walletledger/internal/handlers/render"
	"github.com/nkiryanov/walletledger/internal/handlers/userctx"
	"github.com/nkiryanov/walletledger/internal/logger"
	"github.com/nkiryanov/walletledger/internal/repository"
)

func handleBalance(wallet walletService, l logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		balance, err := wallet.GetBalances(r.Context(), userID)
		if err != nil {
			renderError(w, l, err)
			return
		}

		render.JSON(w, newWalletView(balance))
	}
}

func handleListTransactions(wallet walletService, l logger.Logger) http.HandlerFunc {
	type response struct {
		Transactions []transactionView `json:"transactions"`
		NextBefore   int64             `json:"next_before,omitempty"`
	}

	parseInt := func(r *http.Request, name string) (int64, bool) {
		raw := r.URL.Query().Get(name)
		if raw == "" {
			return 0, true
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		return v, err == nil && v >= 0
	}

	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		limit, okLimit := parseInt(r, "limit")
		before, okBefore := parseInt(r, "before")
		if !okLimit || !okBefore {
			render.ServiceError(w, "limit and before must be non negative integers", http.StatusBadRequest)
			return
		}

		txs, next, err := wallet.ListTransactions(r.Context(), userID, repository.Page{Limit: int(limit), BeforeSeq: before})
		if err != nil {
			renderError(w, l, err)
			return
		}

		render.JSON(w, response{Transactions: newTransactionViews(txs), NextBefore: next})
	}
}

func handlePackages(wallet walletService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		packages := wallet.Catalog().List()

		views := make([]packageView, 0, len(packages))
		for _, p := range packages {
			views = append(views, packageView{
				ID:           p.ID,
				Credits:      p.Credits,
				BonusCredits: p.BonusCredits,
				Price:        p.Price.StringFixed(2),
			})
		}
		render.JSON(w, views)
	}
}

func handleTransfer(wallet walletService, l logger.Logger) http.HandlerFunc {
	type request struct {
		Recipient string `json:"recipient" validate:"notblank"`
		Amount    int64  `json:"amount" validate:"gt=0"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		receipt, err := wallet.TransferCredits(r.Context(), userID, req.Recipient, req.Amount)
		if err != nil {
			renderError(w, l, err)
			return
		}

		render.JSON(w, newReceiptView(receipt))
	}
}

func handleConvert(wallet walletService, l logger.Logger) http.HandlerFunc {
	type request struct {
		Credits int64 `json:"credits" validate:"gt=0"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		receipt, err := wallet.ConvertCreditsToFiat(r.Context(), userID, req.Credits)
		if err != nil {
			renderError(w, l, err)
			return
		}

		render.JSON(w, newReceiptView(receipt))
	}
}

func handleWithdraw(wallet walletService, l logger.Logger) http.HandlerFunc {
	type request struct {
		Amount decimal.Decimal `json:"amount"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		receipt, err := wallet.RequestWithdrawal(r.Context(), userID, req.Amount)
		if err != nil {
			renderError(w, l, err)
			return
		}

		render.JSONWithStatus(w, newReceiptView(receipt), http.StatusAccepted)
	}
}
