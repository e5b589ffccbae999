package handlers

import (
	"net/http"

	"github.com/nkiryanov/walletledger/internal/handlers/render"
	"github.com/nkiryanov/walletledger/internal/logger"
	"github.com/nkiryanov/walletledger/internal/service/gateway"
)

// Gateway retries the callback until it gets 2xx, so a replayed one is answered with 200 too

func handlePaymentWebhook(gw gatewayService, l logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := render.BindAndValidate[gateway.PaymentCompleted](w, r)
		if err != nil {
			return
		}

		receipt, err := gw.HandlePaymentCompleted(r.Context(), req)
		if err != nil {
			renderError(w, l, err)
			return
		}

		render.JSON(w, newReceiptView(receipt))
	}
}

func handlePayoutWebhook(gw gatewayService, l logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := render.BindAndValidate[gateway.PayoutSettled](w, r)
		if err != nil {
			return
		}

		receipt, err := gw.HandlePayoutSettled(r.Context(), req)
		if err != nil {
			renderError(w, l, err)
			return
		}

		render.JSON(w, newReceiptView(receipt))
	}
}
