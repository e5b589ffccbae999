package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"

	"github.com/nkiryanov/walletledger/internal/db"
	"github.com/nkiryanov/walletledger/internal/events"
	"github.com/nkiryanov/walletledger/internal/handlers"
	"github.com/nkiryanov/walletledger/internal/logger"
	"github.com/nkiryanov/walletledger/internal/metrics"
	"github.com/nkiryanov/walletledger/internal/repository"
	"github.com/nkiryanov/walletledger/internal/repository/memory"
	"github.com/nkiryanov/walletledger/internal/repository/postgres"
	"github.com/nkiryanov/walletledger/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/walletledger/internal/service/gateway"
	"github.com/nkiryanov/walletledger/internal/service/ledger"
	"github.com/nkiryanov/walletledger/internal/service/payout"
	"github.com/nkiryanov/walletledger/internal/service/policy"
	"github.com/nkiryanov/walletledger/internal/service/user"
)

const (
	shutdownTimeout = 5 * time.Second
	observerBuffer  = 256
	payoutWorkers   = 10
)

// Storage with the way payout instructions leave the service
type backend struct {
	storage    repository.Storage
	dispatcher ledger.PayoutDispatcher
	health     func(ctx context.Context) error

	start func(ctx context.Context) error
	stop  func(ctx context.Context)
}

// In-memory ledger. Instructions are sent right away, lost ones are found by the reconciler
func newMemoryBackend(c *Config, client *payout.Client, m *metrics.Metrics, l logger.Logger) backend {
	dispatcher := payout.NewDirectDispatcher(client, m, l)

	return backend{
		storage:    memory.NewStorage(memory.WithLockTimeout(c.LockTimeout)),
		dispatcher: dispatcher,
		start:      func(context.Context) error { return nil },
		stop:       func(context.Context) { dispatcher.Wait() },
	}
}

// Postgres ledger. Instructions go through the durable river queue in the same database
func newPostgresBackend(ctx context.Context, c *Config, client *payout.Client, m *metrics.Metrics, l logger.Logger) (backend, error) {
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return backend{}, fmt.Errorf("error while connecting to db. Err: %w", err)
	}

	if err := db.MigrateQueue(ctx, pool); err != nil {
		pool.Close()
		return backend{}, err
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, payout.NewSendWorker(client, m, l))

	riverClient, err := river.NewClient[pgx.Tx](riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: payoutWorkers},
		},
		Workers: workers,
	})
	if err != nil {
		pool.Close()
		return backend{}, fmt.Errorf("error while creating job queue client. Err: %w", err)
	}

	return backend{
		storage:    postgres.NewStorage(pool, postgres.WithLockTimeout(c.LockTimeout)),
		dispatcher: payout.NewRiverDispatcher(riverClient),
		health:     pool.Ping,
		// Queue is stopped explicitly to let jobs in flight finish
		start: func(ctx context.Context) error {
			return riverClient.Start(context.WithoutCancel(ctx))
		},
		stop: func(ctx context.Context) {
			if err := riverClient.Stop(ctx); err != nil {
				l.Error("Job queue stopped with error", "error", err)
			}
			pool.Close()
		},
	}, nil
}

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	backend    backend
	broker     *events.Broker
	metrics    *metrics.Metrics
	reconciler *payout.Reconciler
	logger     logger.Logger
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	// Initialize logger
	logger, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	catalog := policy.DefaultCatalog()
	if c.PackagesFile != "" {
		catalog, err = policy.LoadCatalog(c.PackagesFile)
		if err != nil {
			return nil, fmt.Errorf("error while loading packages catalog. Err: %w", err)
		}
	}

	tokenManager, err := tokenmanager.New(tokenmanager.Config{SecretKey: c.SecretKey})
	if err != nil {
		return nil, fmt.Errorf("error while creating token manager. Err: %w", err)
	}

	m := metrics.New()
	broker := events.NewBroker(logger)
	broker.OnDrop = m.EventDropped
	payoutClient := payout.NewClient(c.PayoutAddr, logger)

	var b backend
	if c.DatabaseDSN == "" {
		logger.Warn("Database is not set, ledger is kept in memory")
		b = newMemoryBackend(c, payoutClient, m, logger)
	} else {
		b, err = newPostgresBackend(ctx, c, payoutClient, m, logger)
		if err != nil {
			return nil, err
		}
	}

	// Initialize services
	userService := user.NewService(b.storage.User())
	engine := ledger.NewEngine(
		b.storage,
		userService,
		ledger.WithCatalog(catalog),
		ledger.WithPublisher(broker),
		ledger.WithPayoutDispatcher(b.dispatcher),
		ledger.WithFailureRecorder(m),
		ledger.WithLogger(logger),
	)
	gw := gateway.New(engine, m, logger)
	reconciler := payout.NewReconciler(b.storage, payoutClient, b.dispatcher, gw, logger, payout.WithInterval(c.ReconcileInterval))

	mux := handlers.NewRouter(handlers.Deps{
		Wallet:         engine,
		Users:          userService,
		Gateway:        gw,
		Tokens:         tokenManager,
		Events:         broker,
		Metrics:        m,
		InternalAPIKey: c.InternalAPIKey,
		GatewaySecret:  c.GatewaySecret,
		Health:         b.health,
		Logger:         logger,
	})

	return &ServerApp{
		ListenAddr: c.ListenAddr,
		Handler:    mux,
		backend:    b,
		broker:     broker,
		metrics:    m,
		reconciler: reconciler,
		logger:     logger,
	}, nil
}

// Run starts background workers and http server. Closes gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    s.ListenAddr,
		Handler: s.Handler,
	}

	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	if err := s.backend.start(srvCtx); err != nil {
		s.backend.stop(context.Background())
		return fmt.Errorf("error while starting job queue. Err: %w", err)
	}

	go s.broker.Observe(srvCtx, observerBuffer, s.metrics.ObserveEvent)
	go s.broker.Observe(srvCtx, observerBuffer, events.LogObserver(s.logger))
	reconcilerStopped := s.reconciler.Process(srvCtx)

	idleConnsClosed := make(chan struct{})
	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); errors.Is(err, context.DeadlineExceeded) {
			s.logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.logger.Info("HTTP server stopped")

		<-reconcilerStopped
		s.backend.stop(timeoutCtx)
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	s.logger.Info("Starting server", "addr", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed

	return err
}
