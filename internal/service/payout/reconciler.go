package payout

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/walletledger/internal/logger"
	"github.com/nkiryanov/walletledger/internal/models"
	"github.com/nkiryanov/walletledger/internal/repository"
	"github.com/nkiryanov/walletledger/internal/service/gateway"
	"github.com/nkiryanov/walletledger/internal/service/policy"
)

const (
	defaultCountWorkers = 5               // Number of workers asking the processor
	defaultInterval     = 1 * time.Minute // Interval for listing stale withdrawals
	defaultGracePeriod  = 5 * time.Minute // Withdrawals younger than this wait for the callback
	defaultBatchSize    = 100
)

type statusClient interface {
	GetStatus(ctx context.Context, reference uuid.UUID) (Status, error)
}

type dispatcher interface {
	Dispatch(ctx context.Context, instruction models.PayoutInstruction) error
}

type settler interface {
	HandlePayoutSettled(ctx context.Context, p gateway.PayoutSettled) (models.Receipt, error)
}

type ReconcilerOption func(*Reconciler)

func WithInterval(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) { r.producer.interval = d }
}

func WithGracePeriod(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) { r.producer.grace = d }
}

func WithWorkers(n int) ReconcilerOption {
	return func(r *Reconciler) { r.consumer.countWorkers = n }
}

// Reconciler settles withdrawals whose callback was lost
type Reconciler struct {
	consumer *Consumer
	producer *Producer
}

func NewReconciler(storage repository.Storage, client statusClient, d dispatcher, s settler, l logger.Logger, opts ...ReconcilerOption) *Reconciler {
	l = l.With("component", "payout_reconciler")

	r := &Reconciler{
		consumer: &Consumer{
			countWorkers: defaultCountWorkers,
			client:       client,
			dispatcher:   d,
			settler:      s,
			users:        storage.User(),
			logger:       l,
		},
		producer: &Producer{
			interval:  defaultInterval,
			grace:     defaultGracePeriod,
			batchSize: defaultBatchSize,
			ledger:    storage.Ledger(),
			logger:    l,
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reconciler) Process(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})

	withdrawals := make(chan models.Transaction)

	producerStopped := r.producer.Produce(ctx, withdrawals)
	consumerStopped := r.consumer.Consume(ctx, withdrawals)

	go func() {
		defer close(idleStopped)
		<-producerStopped
		close(withdrawals)
		<-consumerStopped
		r.consumer.logger.Debug("Reconciler stopped")
	}()

	return idleStopped
}

type Producer struct {
	interval  time.Duration
	grace     time.Duration
	batchSize int
	ledger    repository.LedgerRepo
	logger    logger.Logger
}

func (p *Producer) Produce(ctx context.Context, out chan<- models.Transaction) <-chan struct{} {
	idleStopped := make(chan struct{})
	p.logger.Debug("Starting producer", "interval", p.interval, "grace", p.grace, "batch_size", p.batchSize)

	go func() {
		defer close(idleStopped)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				p.logger.Debug("Producer stopped by context")
				return

			case <-ticker.C:
				withdrawals, err := p.ledger.ListPendingWithdrawals(ctx, time.Now().Add(-p.grace), p.batchSize)
				if err != nil {
					p.logger.Error("Failed to list pending withdrawals", "error", err)
					continue
				}
				if len(withdrawals) > 0 {
					p.logger.Info("Found stale withdrawals", "count", len(withdrawals))
				}

				for _, w := range withdrawals {
					select {
					case <-ctx.Done():
						p.logger.Debug("Producer stopped by context while sending withdrawals")
						return
					case out <- w:
					}
				}
			}
		}
	}()

	return idleStopped
}

type Consumer struct {
	countWorkers int

	// Processor may return rate-limit errors
	// If the client is rate-limited, all workers wait until the time is up
	waitUntil atomic.Int64

	client     statusClient
	dispatcher dispatcher
	settler    settler
	users      repository.UserRepo
	logger     logger.Logger
}

func (c *Consumer) Consume(ctx context.Context, in <-chan models.Transaction) <-chan struct{} {
	idleStopped := make(chan struct{})

	var wg sync.WaitGroup
	for range c.countWorkers {
		wg.Go(func() {
			c.worker(ctx, in)
		})
	}

	go func() {
		defer close(idleStopped)
		wg.Wait()
		c.logger.Debug("Consumer stopped")
	}()

	return idleStopped
}

func (c *Consumer) worker(ctx context.Context, in <-chan models.Transaction) {
	for {
		waitUntil := time.Unix(c.waitUntil.Load(), 0)
		if waitUntil.After(time.Now()) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Until(waitUntil)):
				continue
			}
		}

		select {
		case <-ctx.Done():
			return

		case w, ok := <-in:
			if !ok {
				return
			}
			c.reconcile(ctx, w)
		}
	}
}

func (c *Consumer) reconcile(ctx context.Context, w models.Transaction) {
	l := c.logger.With("reference", w.ID, "user_id", w.UserID)

	status, err := c.client.GetStatus(ctx, w.ID)
	var pErr *Error

	switch {
	case err == nil:
		if _, final := gateway.ParseOutcome(status.Status); !final {
			l.Debug("Payout still in progress", "status", status.Status)
			return
		}
		_, err := c.settler.HandlePayoutSettled(ctx, gateway.PayoutSettled{
			TransactionID: w.ID,
			Status:        status.Status,
			Reason:        status.Reason,
		})
		if err != nil {
			l.Error("Failed to settle withdrawal", "error", err)
		}

	case errors.As(err, &pErr) && pErr.Code == CodeRetryAfter:
		l.Info("Rate limit exceeded, waiting", "retry_after", pErr.RetryAfter)
		c.waitUntil.Store(time.Now().Add(pErr.RetryAfter).Unix())

	case errors.As(err, &pErr) && pErr.Code == CodeNotFound:
		// Instruction never reached the processor
		user, err := c.users.GetUserByID(ctx, w.UserID)
		if err != nil {
			l.Error("Failed to get user for re-dispatch", "error", err)
			return
		}
		if err := c.dispatcher.Dispatch(ctx, policy.PayoutInstruction(w, user.PayoutDestination)); err != nil {
			l.Error("Failed to re-dispatch payout", "error", err)
			return
		}
		l.Info("Payout re-dispatched")

	default:
		l.Error("Unexpected error from payout processor", "error", err)
	}
}
