package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/walletledger/internal/apperrors"
	"github.com/nkiryanov/walletledger/internal/models"
	"github.com/nkiryanov/walletledger/internal/repository"
)

// Writes made under user lock, invisible to others until published
type stage struct {
	appended []*models.Transaction
	settled  map[uuid.UUID]*models.Transaction
}

func newStage() *stage {
	return &stage{settled: make(map[uuid.UUID]*models.Transaction)}
}

type LedgerRepo struct {
	state *state
	stage *stage
}

func (r *LedgerRepo) Append(ctx context.Context, txs ...models.Transaction) ([]models.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	st := r.state
	now := time.Now()

	st.mu.Lock()
	batch := make([]*models.Transaction, 0, len(txs))
	for _, t := range txs {
		if t.ID == uuid.Nil {
			t.ID = uuid.New()
		}
		st.seq++
		t.Seq = st.seq
		t.CreatedAt = now
		t.UpdatedAt = now
		batch = append(batch, &t)
	}
	st.mu.Unlock()

	var err error
	switch r.stage {
	case nil:
		err = st.publish(&stage{appended: batch})
	default:
		err = r.checkStaged(batch)
		if err == nil {
			r.stage.appended = append(r.stage.appended, batch...)
		}
	}
	if err != nil {
		return nil, err
	}

	out := make([]models.Transaction, 0, len(batch))
	for _, t := range batch {
		out = append(out, *t)
	}
	return out, nil
}

// Unique constraints against committed and already staged records
func (r *LedgerRepo) checkStaged(batch []*models.Transaction) error {
	r.state.mu.RLock()
	defer r.state.mu.RUnlock()

	return checkUnique(r.state, append(slices.Clone(r.stage.appended), batch...))
}

func checkUnique(st *state, batch []*models.Transaction) error {
	ids := make(map[uuid.UUID]struct{}, len(batch))
	refs := make(map[string]struct{}, len(batch))
	refunds := make(map[uuid.UUID]struct{}, len(batch))

	for _, t := range batch {
		if _, ok := st.byID[t.ID]; ok {
			return fmt.Errorf("%w: transaction id %s", apperrors.ErrDuplicateReference, t.ID)
		}
		if _, ok := ids[t.ID]; ok {
			return fmt.Errorf("%w: transaction id %s", apperrors.ErrDuplicateReference, t.ID)
		}
		ids[t.ID] = struct{}{}

		if t.PaymentReference != nil {
			ref := *t.PaymentReference
			_, committed := st.byRef[ref]
			_, staged := refs[ref]
			if committed || staged {
				return fmt.Errorf("%w: %s", apperrors.ErrDuplicateReference, ref)
			}
			refs[ref] = struct{}{}
		}

		if t.Type == models.TransactionRefund && t.RelatedTransactionID != nil {
			related := *t.RelatedTransactionID
			_, committed := st.refunds[related]
			_, staged := refunds[related]
			if committed || staged {
				return fmt.Errorf("%w: refund of %s", apperrors.ErrDuplicateReference, related)
			}
			refunds[related] = struct{}{}
		}
	}

	return nil
}

// Make staged writes visible at once. Nothing is published if constraints are violated
func (st *state) publish(s *stage) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := checkUnique(st, s.appended); err != nil {
		return err
	}

	for _, settled := range s.settled {
		// Status moves from pending only
		if cur, ok := st.byID[settled.ID]; ok && !cur.Status.IsTerminal() {
			*cur = *settled
		}
	}

	for _, t := range s.appended {
		st.byID[t.ID] = t
		st.perUser[t.UserID] = append(st.perUser[t.UserID], t)
		if t.PaymentReference != nil {
			st.byRef[*t.PaymentReference] = t
		}
		if t.Type == models.TransactionRefund && t.RelatedTransactionID != nil {
			st.refunds[*t.RelatedTransactionID] = t
		}
	}

	return nil
}

// Record as seen by this view: staged writes win over committed ones
func (r *LedgerRepo) lookup(match func(*models.Transaction) bool, committed *models.Transaction) (models.Transaction, bool) {
	if r.stage != nil {
		for _, t := range slices.Backward(r.stage.appended) {
			if match(t) {
				return r.overlay(t), true
			}
		}
	}
	if committed != nil {
		return r.overlay(committed), true
	}
	return models.Transaction{}, false
}

func (r *LedgerRepo) overlay(t *models.Transaction) models.Transaction {
	if r.stage != nil {
		if settled, ok := r.stage.settled[t.ID]; ok {
			return *settled
		}
	}
	return *t
}

func (r *LedgerRepo) GetByID(ctx context.Context, id uuid.UUID) (models.Transaction, error) {
	r.state.mu.RLock()
	defer r.state.mu.RUnlock()

	t, ok := r.lookup(func(t *models.Transaction) bool { return t.ID == id }, r.state.byID[id])
	if !ok {
		return t, apperrors.ErrTransactionNotFound
	}
	return t, nil
}

func (r *LedgerRepo) GetByPaymentReference(ctx context.Context, reference string) (models.Transaction, error) {
	r.state.mu.RLock()
	defer r.state.mu.RUnlock()

	match := func(t *models.Transaction) bool {
		return t.PaymentReference != nil && *t.PaymentReference == reference
	}
	t, ok := r.lookup(match, r.state.byRef[reference])
	if !ok {
		return t, apperrors.ErrTransactionNotFound
	}
	return t, nil
}

func (r *LedgerRepo) GetRefundOf(ctx context.Context, id uuid.UUID) (models.Transaction, error) {
	r.state.mu.RLock()
	defer r.state.mu.RUnlock()

	match := func(t *models.Transaction) bool {
		return t.Type == models.TransactionRefund && t.RelatedTransactionID != nil && *t.RelatedTransactionID == id
	}
	t, ok := r.lookup(match, r.state.refunds[id])
	if !ok {
		return t, apperrors.ErrTransactionNotFound
	}
	return t, nil
}

// User records ordered by seq, staged ones included
func (r *LedgerRepo) userRecords(userID uuid.UUID) []models.Transaction {
	committed := r.state.perUser[userID]
	out := make([]models.Transaction, 0, len(committed))
	for _, t := range committed {
		out = append(out, r.overlay(t))
	}
	if r.stage != nil {
		for _, t := range r.stage.appended {
			if t.UserID == userID {
				out = append(out, r.overlay(t))
			}
		}
	}
	return out
}

func (r *LedgerRepo) ListForUser(ctx context.Context, userID uuid.UUID, page repository.Page) ([]models.Transaction, error) {
	r.state.mu.RLock()
	defer r.state.mu.RUnlock()

	var out []models.Transaction
	for _, t := range slices.Backward(r.userRecords(userID)) {
		if len(out) >= page.Limit {
			break
		}
		if page.BeforeSeq != 0 && t.Seq >= page.BeforeSeq {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (r *LedgerRepo) ListPendingWithdrawals(ctx context.Context, createdBefore time.Time, limit int) ([]models.Transaction, error) {
	r.state.mu.RLock()
	defer r.state.mu.RUnlock()

	var out []models.Transaction
	for _, t := range r.state.byID {
		if t.Type == models.TransactionWithdrawal && t.Status == models.StatusPending && t.CreatedAt.Before(createdBefore) {
			out = append(out, *t)
		}
	}

	slices.SortFunc(out, func(a, b models.Transaction) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Seq, b.Seq)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *LedgerRepo) SettleStatus(ctx context.Context, id uuid.UUID, status models.TransactionStatus) (models.Transaction, error) {
	if !status.IsTerminal() {
		return models.Transaction{}, fmt.Errorf("can't settle transaction %s to non terminal status %q", id, status)
	}

	cur, err := r.GetByID(ctx, id)
	if err != nil || cur.Status.IsTerminal() {
		return cur, err
	}

	cur.Status = status
	cur.UpdatedAt = time.Now()

	if r.stage != nil {
		r.stage.settled[id] = &cur
		return cur, nil
	}

	err = r.state.publish(&stage{settled: map[uuid.UUID]*models.Transaction{id: &cur}})
	return cur, err
}

func (r *LedgerRepo) Fold(ctx context.Context, userID uuid.UUID, afterSeq int64) (models.WalletDelta, int64, error) {
	r.state.mu.RLock()
	defer r.state.mu.RUnlock()

	w := models.NewWallet(userID)
	lastSeq := afterSeq
	for _, t := range r.userRecords(userID) {
		if t.Seq <= afterSeq || !t.IsPosted() {
			continue
		}
		w = w.ApplyTransaction(t)
		lastSeq = max(lastSeq, t.Seq)
	}

	return models.WalletDelta{
		CashCredits:     w.CashCredits,
		FreeCredits:     w.FreeCredits,
		FiatBalance:     w.FiatBalance,
		PendingEarnings: w.PendingEarnings,
	}, lastSeq, nil
}
