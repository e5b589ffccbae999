// Package balance derives wallets from the ledger.
//
// Accessor keeps the last fold of every user it has seen, so a read only folds records appended
// after it. The cache is an optimization: dropping an entry is always correct.
package balance

import (
	"context"
	"iter"
	"sync"

	"github.com/google/uuid"

	"github.com/nkiryanov/walletledger/internal/models"
	"github.com/nkiryanov/walletledger/internal/repository"
)

const DefaultPageSize = 100

type entry struct {
	wallet models.Wallet
	seq    int64
}

type Accessor struct {
	mu      sync.Mutex
	entries map[uuid.UUID]entry
}

func NewAccessor() *Accessor {
	return &Accessor{entries: make(map[uuid.UUID]entry)}
}

// Current wallet of the user. User without transactions has zero wallet
func (a *Accessor) Get(ctx context.Context, ledger repository.LedgerRepo, userID uuid.UUID) (models.Wallet, error) {
	w, _, err := a.Snapshot(ctx, ledger, userID)
	return w, err
}

// Wallet and seq of the last record folded into it
// Called under user lock before any append: the fold sees committed records only
func (a *Accessor) Snapshot(ctx context.Context, ledger repository.LedgerRepo, userID uuid.UUID) (models.Wallet, int64, error) {
	cached, ok := a.load(userID)
	if !ok {
		cached = entry{wallet: models.NewWallet(userID)}
	}

	delta, lastSeq, err := ledger.Fold(ctx, userID, cached.seq)
	if err != nil {
		return models.Wallet{}, 0, err
	}

	w := cached.wallet.Apply(delta)
	a.Extend(userID, cached.seq, w, lastSeq)

	return w, lastSeq, nil
}

// Move cache entry from fromSeq to toSeq. Entry that moved elsewhere meanwhile is dropped
func (a *Accessor) Extend(userID uuid.UUID, fromSeq int64, w models.Wallet, toSeq int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cur, ok := a.entries[userID]
	switch {
	case !ok && fromSeq == 0, ok && cur.seq == fromSeq:
		a.entries[userID] = entry{wallet: w, seq: toSeq}
	case ok && cur.seq == toSeq:
		// Somebody folded the same records already
	default:
		delete(a.entries, userID)
	}
}

// Drop the cached fold. Next read folds the user ledger from the start
func (a *Accessor) Invalidate(userID uuid.UUID) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.entries, userID)
}

func (a *Accessor) load(userID uuid.UUID) (entry, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.entries[userID]
	return e, ok
}

// User transactions newest first, starting before from.BeforeSeq (zero means from the newest)
// Records are fetched lazily by pages of from.Limit. Stop ranging to stop fetching.
func (a *Accessor) Iterate(ctx context.Context, ledger repository.LedgerRepo, userID uuid.UUID, from repository.Page) iter.Seq2[models.Transaction, error] {
	page := from
	if page.Limit <= 0 {
		page.Limit = DefaultPageSize
	}

	return func(yield func(models.Transaction, error) bool) {
		for {
			txs, err := ledger.ListForUser(ctx, userID, page)
			if err != nil {
				yield(models.Transaction{}, err)
				return
			}

			for _, t := range txs {
				if !yield(t, nil) {
					return
				}
			}

			if len(txs) < page.Limit {
				return
			}
			page.BeforeSeq = txs[len(txs)-1].Seq
		}
	}
}
