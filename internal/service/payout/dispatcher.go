package payout

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/nkiryanov/walletledger/internal/apperrors"
	"github.com/nkiryanov/walletledger/internal/logger"
	"github.com/nkiryanov/walletledger/internal/models"
	"github.com/nkiryanov/walletledger/internal/repository"
)

const KindSend = "payout_send"

type sender interface {
	Send(ctx context.Context, instruction models.PayoutInstruction) error
}

type observer interface {
	Payout(action string, outcome string)
}

type SendArgs struct {
	Instruction models.PayoutInstruction `json:"instruction"`
}

func (SendArgs) Kind() string { return KindSend }

// River worker that delivers instruction to the processor. Failed attempts are retried by river
type SendWorker struct {
	river.WorkerDefaults[SendArgs]

	client   sender
	observer observer
	logger   logger.Logger
}

func NewSendWorker(client sender, o observer, l logger.Logger) *SendWorker {
	return &SendWorker{
		client:   client,
		observer: o,
		logger:   l.With("component", "payout_worker"),
	}
}

func (w *SendWorker) Work(ctx context.Context, job *river.Job[SendArgs]) error {
	instruction := job.Args.Instruction

	err := w.client.Send(ctx, instruction)
	var pErr *Error
	switch {
	case err == nil:
		w.observer.Payout("send", "ok")
		return nil
	case errors.As(err, &pErr) && pErr.Code == CodeRetryAfter:
		w.observer.Payout("send", "throttled")
		w.logger.Info("Rate limit exceeded, snoozing", "reference", instruction.Reference, "retry_after", pErr.RetryAfter)
		return river.JobSnooze(pErr.RetryAfter)
	default:
		w.observer.Payout("send", "error")
		return fmt.Errorf("send payout %s: %w", instruction.Reference, err)
	}
}

type jobInserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
	InsertTx(ctx context.Context, tx pgx.Tx, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// Storage running inside a database transaction, see postgres.Storage
type txStorage interface {
	LockedTx() (pgx.Tx, bool)
}

// Enqueues durable send job. Same instruction is enqueued once
type RiverDispatcher struct {
	inserter jobInserter
}

func NewRiverDispatcher(inserter jobInserter) *RiverDispatcher {
	return &RiverDispatcher{inserter: inserter}
}

func sendOpts() *river.InsertOpts {
	return &river.InsertOpts{UniqueOpts: river.UniqueOpts{ByArgs: true}}
}

func (d *RiverDispatcher) Dispatch(ctx context.Context, instruction models.PayoutInstruction) error {
	_, err := d.inserter.Insert(ctx, SendArgs{Instruction: instruction}, sendOpts())
	if err != nil {
		return fmt.Errorf("enqueue payout %s: %w", instruction.Reference, err)
	}
	return nil
}

// Enqueue in the transaction of the locked storage, so the job commits or rolls back with the withdrawal
// Returns false without error if the storage has no database transaction
func (d *RiverDispatcher) DispatchLocked(ctx context.Context, storage repository.Storage, instruction models.PayoutInstruction) (bool, error) {
	s, ok := storage.(txStorage)
	if !ok {
		return false, nil
	}
	tx, ok := s.LockedTx()
	if !ok {
		return false, nil
	}

	_, err := d.inserter.InsertTx(ctx, tx, SendArgs{Instruction: instruction}, sendOpts())
	if err != nil {
		return false, fmt.Errorf("enqueue payout %s: %w", instruction.Reference, apperrors.Storage(err))
	}
	return true, nil
}

// Sends instruction in background without durable queue. Used with in-memory storage
// Undelivered instructions are picked up by the reconciler
type DirectDispatcher struct {
	client   sender
	observer observer
	logger   logger.Logger

	wg sync.WaitGroup
}

func NewDirectDispatcher(client sender, o observer, l logger.Logger) *DirectDispatcher {
	return &DirectDispatcher{
		client:   client,
		observer: o,
		logger:   l.With("component", "payout_dispatcher"),
	}
}

func (d *DirectDispatcher) Dispatch(ctx context.Context, instruction models.PayoutInstruction) error {
	ctx = context.WithoutCancel(ctx)

	d.wg.Go(func() {
		if err := d.client.Send(ctx, instruction); err != nil {
			d.observer.Payout("send", "error")
			d.logger.Warn("Payout not delivered, left to reconciler", "reference", instruction.Reference, "error", err)
			return
		}
		d.observer.Payout("send", "ok")
	})
	return nil
}

// Wait for sends in flight
func (d *DirectDispatcher) Wait() {
	d.wg.Wait()
}
