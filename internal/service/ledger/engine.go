// Package ledger is the only place where wallet transactions are created.
//
// Every operation locks the users it touches, reads their wallets, validates the request,
// appends transactions and releases the locks. After commit it extends the balance cache,
// publishes events and dispatches payouts.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nkiryanov/walletledger/internal/apperrors"
	"github.com/nkiryanov/walletledger/internal/events"
	"github.com/nkiryanov/walletledger/internal/logger"
	"github.com/nkiryanov/walletledger/internal/models"
	"github.com/nkiryanov/walletledger/internal/repository"
	"github.com/nkiryanov/walletledger/internal/service/balance"
	"github.com/nkiryanov/walletledger/internal/service/policy"
)

// Sends payout instruction to the processor. Has to be idempotent by instruction reference
type PayoutDispatcher interface {
	Dispatch(ctx context.Context, instruction models.PayoutInstruction) error
}

// Dispatcher that may enqueue instruction within the locked storage
// Reports false when the storage can't carry it, then Dispatch is called after commit
type LockedPayoutDispatcher interface {
	PayoutDispatcher
	DispatchLocked(ctx context.Context, storage repository.Storage, instruction models.PayoutInstruction) (bool, error)
}

type RecipientResolver interface {
	Resolve(ctx context.Context, ref string) (models.User, error)
}

type FailureRecorder interface {
	OperationFailed(operation string, err error)
}

type Engine struct {
	storage   repository.Storage
	balances  *balance.Accessor
	catalog   *policy.Catalog
	resolver  RecipientResolver
	publisher events.Publisher
	payouts   PayoutDispatcher
	recorder  FailureRecorder
	logger    logger.Logger
}

type Option func(*Engine)

func WithBalances(a *balance.Accessor) Option {
	return func(e *Engine) { e.balances = a }
}

func WithCatalog(c *policy.Catalog) Option {
	return func(e *Engine) { e.catalog = c }
}

func WithResolver(r RecipientResolver) Option {
	return func(e *Engine) { e.resolver = r }
}

func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

func WithPayoutDispatcher(d PayoutDispatcher) Option {
	return func(e *Engine) { e.payouts = d }
}

func WithFailureRecorder(r FailureRecorder) Option {
	return func(e *Engine) { e.recorder = r }
}

func WithLogger(l logger.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func NewEngine(storage repository.Storage, resolver RecipientResolver, opts ...Option) *Engine {
	e := &Engine{
		storage:   storage,
		resolver:  resolver,
		balances:  balance.NewAccessor(),
		catalog:   policy.DefaultCatalog(),
		publisher: noopPublisher{},
		payouts:   noopDispatcher{},
		recorder:  noopRecorder{},
		logger:    logger.NewNoOpLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "ledger")
	return e
}

func (e *Engine) Catalog() *policy.Catalog {
	return e.catalog
}

type snapshot struct {
	wallet models.Wallet
	seq    int64
}

// State of one locked operation
type txn struct {
	ctx     context.Context
	storage repository.Storage
	engine  *Engine

	snapshots map[uuid.UUID]snapshot
	stale     map[uuid.UUID]bool // settled records moved out of or into the fold
	appended  []models.Transaction
	changed   []models.Transaction // appended or settled, in order
	receipt   models.Receipt
}

// Wallet of locked user as of operation start
func (t *txn) wallet(userID uuid.UUID) (models.Wallet, error) {
	if s, ok := t.snapshots[userID]; ok {
		return s.wallet, nil
	}

	w, seq, err := t.engine.balances.Snapshot(t.ctx, t.storage.Ledger(), userID)
	if err != nil {
		return w, err
	}

	t.snapshots[userID] = snapshot{wallet: w, seq: seq}
	return w, nil
}

// Wallet of locked user with everything appended so far
func (t *txn) projected(userID uuid.UUID) (models.Wallet, error) {
	w, err := t.wallet(userID)
	if err != nil {
		return w, err
	}
	for _, tx := range t.appended {
		if tx.UserID == userID {
			w = w.ApplyTransaction(tx)
		}
	}
	return w, nil
}

// Append records of locked users. No pool may go below zero
func (t *txn) append(txs ...models.Transaction) ([]models.Transaction, error) {
	after := make(map[uuid.UUID]models.Wallet, len(txs))
	for _, tx := range txs {
		w, ok := after[tx.UserID]
		if !ok {
			var err error
			if w, err = t.projected(tx.UserID); err != nil {
				return nil, err
			}
		}
		after[tx.UserID] = w.ApplyTransaction(tx)
	}
	for userID, w := range after {
		if !w.IsValid() {
			return nil, fmt.Errorf("wallet of user %s would go negative: %w", userID, apperrors.Invalid(apperrors.ErrInsufficientBalance, ""))
		}
	}

	saved, err := t.storage.Ledger().Append(t.ctx, txs...)
	if err != nil {
		return nil, err
	}

	t.appended = append(t.appended, saved...)
	t.changed = append(t.changed, saved...)
	t.receipt.Transactions = append(t.receipt.Transactions, saved...)
	return saved, nil
}

// Settle pending record of locked user
// The owner's wallet is taken before the change, so the fold does not see the staged status
func (t *txn) settle(id uuid.UUID, status models.TransactionStatus) (models.Transaction, error) {
	cur, err := t.storage.Ledger().GetByID(t.ctx, id)
	if err != nil {
		return cur, err
	}
	if _, err := t.wallet(cur.UserID); err != nil {
		return cur, err
	}

	settled, err := t.storage.Ledger().SettleStatus(t.ctx, id, status)
	if err != nil {
		return settled, err
	}
	if settled.IsPosted() != cur.IsPosted() {
		t.stale[settled.UserID] = true
	}

	t.changed = append(t.changed, settled)
	t.receipt.Transactions = append(t.receipt.Transactions, settled)
	return settled, nil
}

// Nothing is written: the operation had been applied before
func (t *txn) replay(txs ...models.Transaction) {
	t.receipt.Transactions = txs
	t.receipt.Replayed = true
}

// Run fn holding locks of all the users. The receipt wallet is the wallet of the first user
//
// Once called the operation is not cancelled by ctx: locks are bounded by the storage lock timeout
func (e *Engine) run(ctx context.Context, operation string, userIDs []uuid.UUID, fn func(*txn) error) (models.Receipt, error) {
	ctx = context.WithoutCancel(ctx)
	l := e.logger.With("operation", operation, "user_id", userIDs[0])

	var t *txn
	err := e.storage.WithUserLock(ctx, userIDs, func(s repository.Storage) error {
		t = &txn{ctx: ctx, storage: s, engine: e, snapshots: make(map[uuid.UUID]snapshot), stale: make(map[uuid.UUID]bool)}
		return fn(t)
	})
	if err != nil {
		// Unique key taken by an operation of other users that committed first
		if errors.Is(err, apperrors.ErrDuplicateReference) && !errors.Is(err, apperrors.ErrValidation) {
			err = apperrors.Invalid(err, "conflicts with a transaction committed concurrently")
		}
		e.fail(l, operation, err)
		return models.Receipt{}, err
	}

	wallets := e.commit(t)

	receipt := t.receipt
	receipt.Wallet = wallets[userIDs[0]]
	if receipt.Wallet.UserID == uuid.Nil {
		if receipt.Wallet, err = e.balances.Get(ctx, e.storage.Ledger(), userIDs[0]); err != nil {
			l.Warn("wallet is not available after commit", "error", err)
		}
	}

	l.Debug("operation applied", "written", len(t.changed), "replayed", receipt.Replayed)
	return receipt, nil
}

// Extend cached wallets with committed records and publish them
// Returns wallets of users after the operation
func (e *Engine) commit(t *txn) map[uuid.UUID]models.Wallet {
	wallets := make(map[uuid.UUID]models.Wallet, len(t.snapshots))
	for userID, s := range t.snapshots {
		if t.stale[userID] {
			e.balances.Invalidate(userID)
			w, err := e.balances.Get(t.ctx, e.storage.Ledger(), userID)
			if err != nil {
				e.logger.Warn("wallet is not available after commit", "user_id", userID, "error", err)
				continue
			}
			wallets[userID] = w
			continue
		}

		w, seq := s.wallet, s.seq
		for _, tx := range t.appended {
			if tx.UserID != userID {
				continue
			}
			w = w.ApplyTransaction(tx)
			seq = max(seq, tx.Seq)
		}

		e.balances.Extend(userID, s.seq, w, seq)
		wallets[userID] = w
	}

	for _, tx := range t.changed {
		if tx.Status != models.StatusCompleted {
			continue
		}
		e.publisher.Publish(events.Event{
			Type:        events.TransactionCompleted,
			UserID:      tx.UserID,
			Transaction: tx,
			Wallet:      wallets[tx.UserID],
		})
	}

	return wallets
}

// Report operation rejected before any lock was taken
func (e *Engine) reject(operation string, userID uuid.UUID, err error) (models.Receipt, error) {
	e.fail(e.logger.With("operation", operation, "user_id", userID), operation, err)
	return models.Receipt{}, err
}

func (e *Engine) fail(l logger.Logger, operation string, err error) {
	e.recorder.OperationFailed(operation, err)

	switch {
	case errors.Is(err, apperrors.ErrValidation):
		l.Debug("operation rejected", "error", err)
	case apperrors.IsRetryable(err):
		l.Warn("operation failed, may be retried", "error", err)
	default:
		l.Error("operation failed", "error", err)
	}
}

type noopPublisher struct{}

func (noopPublisher) Publish(events.Event) {}

type noopDispatcher struct{}

func (noopDispatcher) Dispatch(context.Context, models.PayoutInstruction) error { return nil }

type noopRecorder struct{}

func (noopRecorder) OperationFailed(string, error) {}
