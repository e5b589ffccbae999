package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/nkiryanov/walletledger/internal/handlers/render"
	"github.com/nkiryanov/walletledger/internal/logger"
)

func handleHealth(check func(ctx context.Context) error, l logger.Logger) http.HandlerFunc {
	type response struct {
		Status string `json:"status"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()

			if err := check(ctx); err != nil {
				l.Warn("Health check failed", "error", err)
				render.JSONWithStatus(w, response{Status: "unavailable"}, http.StatusServiceUnavailable)
				return
			}
		}

		render.JSON(w, response{Status: "ok"})
	}
}
