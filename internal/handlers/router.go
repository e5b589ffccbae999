package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/walletledger/internal/events"
	"github.com/nkiryanov/walletledger/internal/handlers/middleware"
	"github.com/nkiryanov/walletledger/internal/logger"
	"github.com/nkiryanov/walletledger/internal/metrics"
	"github.com/nkiryanov/walletledger/internal/models"
	"github.com/nkiryanov/walletledger/internal/repository"
	"github.com/nkiryanov/walletledger/internal/service/gateway"
	"github.com/nkiryanov/walletledger/internal/service/policy"
)

type Deps struct {
	Wallet  walletService
	Users   userService
	Gateway gatewayService
	Tokens  tokenParser
	Events  eventSubscriber
	Metrics *metrics.Metrics

	// Bearer keys of internal callers and of the payment gateway
	InternalAPIKey string
	GatewaySecret  string

	// Readiness check of the storage. Nil means always ready
	Health func(ctx context.Context) error

	Logger logger.Logger
}

func NewRouter(d Deps) http.Handler {
	l := d.Logger

	r := chi.NewRouter()
	r.Use(
		chimiddleware.RequestID,
		middleware.RequestLogger(l),
		chimiddleware.Recoverer,
		middleware.HTTPMetrics(d.Metrics.HTTPLatency),
	)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))

	r.Get("/healthz", handleHealth(d.Health, l))
	r.Handle("/metrics", d.Metrics.Handler())

	r.Route("/api/wallet", func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(d.Tokens))

		r.Get("/balance", handleBalance(d.Wallet, l))
		r.Get("/transactions", handleListTransactions(d.Wallet, l))
		r.Get("/packages", handlePackages(d.Wallet))
		r.Post("/transfer", handleTransfer(d.Wallet, l))
		r.Post("/convert", handleConvert(d.Wallet, l))
		r.Post("/withdraw", handleWithdraw(d.Wallet, l))
		r.Get("/events", handleEvents(d.Events, l))
	})

	r.Route("/internal", func(r chi.Router) {
		r.Use(middleware.KeyMiddleware(d.InternalAPIKey))

		r.Post("/credits/spend", handleSpend(d.Wallet, l))
		r.Post("/credits/earn", handleEarn(d.Wallet, l))
		r.Post("/credits/bonus", handleBonus(d.Wallet, l))
		r.Post("/credits/refund", handleRefund(d.Wallet, l))
		r.Post("/earnings/accrue", handleAccrue(d.Wallet, l))
		r.Post("/earnings/release", handleRelease(d.Wallet, l))
		r.Put("/users/{id}", handleEnsureUser(d.Users, l))
		r.Put("/users/{id}/payout-destination", handlePayoutDestination(d.Users, l))
	})

	r.Route("/webhooks", func(r chi.Router) {
		r.Use(middleware.KeyMiddleware(d.GatewaySecret))

		r.Post("/payments", handlePaymentWebhook(d.Gateway, l))
		r.Post("/payouts", handlePayoutWebhook(d.Gateway, l))
	})

	return r
}

type tokenParser interface {
	ParseAccess(access string) (uuid.UUID, error)
}

type walletService interface {
	GetBalances(ctx context.Context, userID uuid.UUID) (models.Wallet, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, page repository.Page) ([]models.Transaction, int64, error)
	Catalog() *policy.Catalog

	TransferCredits(ctx context.Context, senderID uuid.UUID, recipientRef string, amount int64) (models.Receipt, error)
	ConvertCreditsToFiat(ctx context.Context, userID uuid.UUID, credits int64) (models.Receipt, error)
	RequestWithdrawal(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (models.Receipt, error)

	SpendCredits(ctx context.Context, userID uuid.UUID, amount int64, content models.ContentRef) (models.Receipt, error)
	EarnCredits(ctx context.Context, userID uuid.UUID, amount int64, source string) (models.Receipt, error)
	GrantBonusCredits(ctx context.Context, userID uuid.UUID, amount int64, reason string) (models.Receipt, error)
	RefundUsage(ctx context.Context, usageID uuid.UUID, reason string) (models.Receipt, error)
	AccrueEarnings(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, source string) (models.Receipt, error)
	ReleaseEarnings(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (models.Receipt, error)
}

type userService interface {
	EnsureUser(ctx context.Context, id uuid.UUID, username string) (models.User, error)
	SetPayoutDestination(ctx context.Context, id uuid.UUID, destination string, verified bool) (models.User, error)
}

type gatewayService interface {
	HandlePaymentCompleted(ctx context.Context, p gateway.PaymentCompleted) (models.Receipt, error)
	HandlePayoutSettled(ctx context.Context, p gateway.PayoutSettled) (models.Receipt, error)
}

type eventSubscriber interface {
	SubscribeUser(userID uuid.UUID, buffer int) (<-chan events.Event, func())
}
