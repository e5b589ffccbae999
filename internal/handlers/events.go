package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/nkiryanov/walletledger/internal/handlers/render"
	"github.com/nkiryanov/walletledger/internal/handlers/userctx"
	"github.com/nkiryanov/walletledger/internal/logger"
)

const (
	eventsBuffer    = 16
	eventsKeepAlive = 15 * time.Second
)

// Server-sent events with the user's completed transactions
func handleEvents(subscriber eventSubscriber, l logger.Logger) http.HandlerFunc {
	type payload struct {
		Transaction transactionView `json:"transaction"`
		Wallet      walletView      `json:"wallet"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			render.ServiceError(w, "Streaming is not supported", http.StatusInternalServerError)
			return
		}

		ch, unsubscribe := subscriber.SubscribeUser(userID, eventsBuffer)
		defer unsubscribe()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		ticker := time.NewTicker(eventsKeepAlive)
		defer ticker.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
				if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case e, ok := <-ch:
				if !ok {
					return
				}

				data, err := json.Marshal(payload{
					Transaction: newTransactionView(e.Transaction),
					Wallet:      newWalletView(e.Wallet),
				})
				if err != nil {
					l.Error("Failed to encode event", "error", err, "transaction_id", e.Transaction.ID)
					continue
				}

				if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", e.Transaction.Seq, e.Type, data); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}
