package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/walletledger/internal/logger"
)

const (
	defaultListenAddr        = "localhost:8000"
	defaultLoggingLevel      = logger.LevelInfo
	defaultPayoutAddr        = "http://localhost:3000"
	defaultEnvironment       = logger.EnvProduction
	defaultLockTimeout       = 3 * time.Second
	defaultReconcileInterval = time.Minute
)

type Config struct {
	// Default logging level
	LogLevel string

	// Address on which the wallet service will be run
	ListenAddr string

	// Payout processor address to send withdrawals to
	PayoutAddr string

	// Database to connect to. In-memory storage is used if empty
	DatabaseDSN string

	// Secret key shared with the identity layer to verify access tokens
	SecretKey string

	// Bearer key of internal services (content, commerce, identity)
	InternalAPIKey string

	// Bearer key the payment gateway signs callbacks with
	GatewaySecret string

	// YAML catalog of credit packages. Embedded catalog is used if empty
	PackagesFile string

	// How long an operation waits for the user lock
	LockTimeout time.Duration

	// How often stale pending withdrawals are reconciled with the processor
	ReconcileInterval time.Duration

	// Environment
	Environment string
}

func NewConfig() *Config {
	return &Config{
		LogLevel:          defaultLoggingLevel,
		ListenAddr:        defaultListenAddr,
		PayoutAddr:        defaultPayoutAddr,
		Environment:       defaultEnvironment,
		LockTimeout:       defaultLockTimeout,
		ReconcileInterval: defaultReconcileInterval,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.LoadEnv(func(key string) string {
			return envMap[key]
		})
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) error {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = value
			}
			return nil
		}
	}
	setDuration := func(o *time.Duration) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			*o = d
			return nil
		}
	}

	envMap := map[string]func(string) error{
		"RUN_ADDRESS":        setString(&c.ListenAddr),
		"DATABASE_URI":       setString(&c.DatabaseDSN),
		"SECRET_KEY":         setString(&c.SecretKey),
		"INTERNAL_API_KEY":   setString(&c.InternalAPIKey),
		"GATEWAY_SECRET":     setString(&c.GatewaySecret),
		"PAYOUT_ADDRESS":     setString(&c.PayoutAddr),
		"PACKAGES_FILE":      setString(&c.PackagesFile),
		"LOCK_TIMEOUT":       setDuration(&c.LockTimeout),
		"RECONCILE_INTERVAL": setDuration(&c.ReconcileInterval),
		"LOG_LEVEL":          setString(&c.LogLevel),
		"ENVIRONMENT":        setString(&c.Environment),
	}

	var errs []error
	for key, parseFn := range envMap {
		if err := parseFn(getenv(key)); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("walletledger", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string, in-memory storage if empty")
	fs.StringVarP(&c.SecretKey, "secret-key", "s", c.SecretKey, "Secret key to verify access tokens")
	fs.StringVarP(&c.InternalAPIKey, "internal-key", "k", c.InternalAPIKey, "Bearer key of internal services")
	fs.StringVarP(&c.GatewaySecret, "gateway-secret", "g", c.GatewaySecret, "Bearer key of payment gateway callbacks")
	fs.StringVarP(&c.PayoutAddr, "payout", "p", c.PayoutAddr, "Payout processor address")
	fs.StringVarP(&c.PackagesFile, "packages", "c", c.PackagesFile, "Credit packages catalog (yaml)")
	fs.DurationVarP(&c.LockTimeout, "lock-timeout", "t", c.LockTimeout, "How long an operation waits for the user lock")
	fs.DurationVarP(&c.ReconcileInterval, "reconcile-interval", "r", c.ReconcileInterval, "Interval of payout reconciliation")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")

	return fs.Parse(args)
}

// Check the values that can't be defaulted
func (c *Config) Validate() error {
	var errs []error

	if c.SecretKey == "" {
		errs = append(errs, errors.New("secret key is required"))
	}
	if c.InternalAPIKey == "" {
		errs = append(errs, errors.New("internal api key is required"))
	}
	if c.GatewaySecret == "" {
		errs = append(errs, errors.New("gateway secret is required"))
	}
	if c.LockTimeout <= 0 {
		errs = append(errs, fmt.Errorf("lock timeout must be positive, got %s", c.LockTimeout))
	}
	if c.ReconcileInterval <= 0 {
		errs = append(errs, fmt.Errorf("reconcile interval must be positive, got %s", c.ReconcileInterval))
	}

	return errors.Join(errs...)
}
