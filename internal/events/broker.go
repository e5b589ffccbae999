// Package events fans out committed ledger changes to in-process observers.
package events

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/nkiryanov/walletledger/internal/logger"
	"github.com/nkiryanov/walletledger/internal/models"
)

const TransactionCompleted = "transaction.completed"

type Event struct {
	Type        string
	UserID      uuid.UUID
	Transaction models.Transaction

	// Wallet right after the transaction was committed
	Wallet models.Wallet
}

type Publisher interface {
	Publish(Event)
}

type subscriber struct {
	ch     chan Event
	userID uuid.UUID // uuid.Nil: every user
}

// Broker never blocks the publisher: subscriber with full buffer misses the event
type Broker struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	logger logger.Logger

	// Called for every missed event
	OnDrop func(Event)
}

var _ Publisher = (*Broker)(nil)

func NewBroker(l logger.Logger) *Broker {
	return &Broker{
		subs:   make(map[*subscriber]struct{}),
		logger: l.With("component", "events"),
	}
}

func (b *Broker) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for s := range b.subs {
		if s.userID != uuid.Nil && s.userID != e.UserID {
			continue
		}

		select {
		case s.ch <- e:
		default:
			b.logger.Warn("subscriber is slow, event missed", "type", e.Type, "user_id", e.UserID, "transaction_id", e.Transaction.ID)
			if b.OnDrop != nil {
				b.OnDrop(e)
			}
		}
	}
}

// Subscribe to events of all users
func (b *Broker) Subscribe(buffer int) (<-chan Event, func()) {
	return b.subscribe(buffer, uuid.Nil)
}

// Subscribe to events of one user
func (b *Broker) SubscribeUser(userID uuid.UUID, buffer int) (<-chan Event, func()) {
	return b.subscribe(buffer, userID)
}

func (b *Broker) subscribe(buffer int, userID uuid.UUID) (<-chan Event, func()) {
	s := &subscriber{ch: make(chan Event, buffer), userID: userID}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, s)
			b.mu.Unlock()
			close(s.ch)
		})
	}

	return s.ch, unsubscribe
}

// Run fn for every event until ctx is done. Blocks, so start it in goroutine
func (b *Broker) Observe(ctx context.Context, buffer int, fn func(Event)) {
	ch, unsubscribe := b.Subscribe(buffer)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case e := <-ch:
			fn(e)
		}
	}
}

// Observer that writes every event to log
func LogObserver(l logger.Logger) func(Event) {
	l = l.With("component", "events")
	return func(e Event) {
		t := e.Transaction
		l.Info("transaction completed",
			"user_id", e.UserID,
			"transaction_id", t.ID,
			"type", t.Type,
			"credits_delta", t.CreditsDelta(),
			"amount_delta", t.AmountDelta().StringFixed(2),
		)
	}
}
