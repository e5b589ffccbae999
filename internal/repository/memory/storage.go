// Package memory keeps the ledger in process memory.
// It serves tests and local runs without database.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/walletledger/internal/apperrors"
	"github.com/nkiryanov/walletledger/internal/models"
	"github.com/nkiryanov/walletledger/internal/repository"
)

const DefaultLockTimeout = 3 * time.Second

// Committed state shared by all views of the storage
type state struct {
	mu sync.RWMutex

	seq     int64
	byID    map[uuid.UUID]*models.Transaction
	byRef   map[string]*models.Transaction
	refunds map[uuid.UUID]*models.Transaction // by related transaction id
	perUser map[uuid.UUID][]*models.Transaction
	users   map[uuid.UUID]models.User
	byName  map[string]uuid.UUID

	locksMu sync.Mutex
	locks   map[uuid.UUID]chan struct{}
}

type Storage struct {
	state       *state
	lockTimeout time.Duration

	// Not nil inside WithUserLock: writes are staged here until fn succeeds
	stage *stage
}

var _ repository.Storage = (*Storage)(nil)

type Option func(*Storage)

func WithLockTimeout(d time.Duration) Option {
	return func(s *Storage) {
		s.lockTimeout = d
	}
}

func NewStorage(opts ...Option) *Storage {
	s := &Storage{
		state: &state{
			byID:    make(map[uuid.UUID]*models.Transaction),
			byRef:   make(map[string]*models.Transaction),
			refunds: make(map[uuid.UUID]*models.Transaction),
			perUser: make(map[uuid.UUID][]*models.Transaction),
			users:   make(map[uuid.UUID]models.User),
			byName:  make(map[string]uuid.UUID),
			locks:   make(map[uuid.UUID]chan struct{}),
		},
		lockTimeout: DefaultLockTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Storage) User() repository.UserRepo {
	return &UserRepo{state: s.state}
}

func (s *Storage) Ledger() repository.LedgerRepo {
	return &LedgerRepo{state: s.state, stage: s.stage}
}

// One slot semaphore per user
func (st *state) lockFor(userID uuid.UUID) chan struct{} {
	st.locksMu.Lock()
	defer st.locksMu.Unlock()

	l, ok := st.locks[userID]
	if !ok {
		l = make(chan struct{}, 1)
		st.locks[userID] = l
	}
	return l
}

func (s *Storage) WithUserLock(ctx context.Context, userIDs []uuid.UUID, fn func(repository.Storage) error) error {
	// Nested call holds the locks already
	if s.stage != nil {
		return fn(s)
	}

	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()

	var held []chan struct{}
	defer func() {
		for _, l := range held {
			<-l
		}
	}()

	for _, id := range repository.LockOrder(userIDs) {
		l := s.state.lockFor(id)
		select {
		case l <- struct{}{}:
			held = append(held, l)
		case <-timer.C:
			return fmt.Errorf("user %s is locked: %w", id, apperrors.ErrContention)
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	locked := &Storage{state: s.state, lockTimeout: s.lockTimeout, stage: newStage()}
	if err := fn(locked); err != nil {
		return err
	}

	return s.state.publish(locked.stage)
}
