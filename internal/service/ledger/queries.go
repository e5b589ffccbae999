package ledger

import (
	"context"

	"github.com/google/uuid"

	"github.com/nkiryanov/walletledger/internal/models"
	"github.com/nkiryanov/walletledger/internal/repository"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 100
)

func (e *Engine) GetBalances(ctx context.Context, userID uuid.UUID) (models.Wallet, error) {
	return e.balances.Get(ctx, e.storage.Ledger(), userID)
}

// Page of user transactions newest first
// The returned cursor is passed as page.BeforeSeq for the next page. Zero means no more records
func (e *Engine) ListTransactions(ctx context.Context, userID uuid.UUID, page repository.Page) ([]models.Transaction, int64, error) {
	limit := page.Limit
	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}

	// One extra record tells whether the next page exists
	from := repository.Page{Limit: limit + 1, BeforeSeq: page.BeforeSeq}

	txs := make([]models.Transaction, 0, limit+1)
	for tx, err := range e.balances.Iterate(ctx, e.storage.Ledger(), userID, from) {
		if err != nil {
			return nil, 0, err
		}
		txs = append(txs, tx)
		if len(txs) > limit {
			break
		}
	}

	if len(txs) <= limit {
		return txs, 0, nil
	}
	txs = txs[:limit]
	return txs, txs[limit-1].Seq, nil
}
