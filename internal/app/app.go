// Package app wires the configured store, collaborators and services shared
// by the server and cronjob binaries.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"carrent-backend/internal/config"
	"carrent-backend/internal/envelope"
	"carrent-backend/internal/jobs"
	"carrent-backend/internal/logger"
	"carrent-backend/internal/payment"
	"carrent-backend/internal/realtime"
	"carrent-backend/internal/repository"
	"carrent-backend/internal/repository/memory"
	"carrent-backend/internal/repository/postgres"
	"carrent-backend/internal/security"
	"carrent-backend/internal/service"
	"carrent-backend/internal/storage"
	"carrent-backend/internal/utils"

	_ "github.com/lib/pq"
)

type App struct {
	Config  *config.Config
	DB      *sql.DB // nil with the memory driver
	Store   repository.Store
	Hub     *realtime.Hub
	Objects storage.ObjectStore
	Tokens  security.TokenManager

	Contracts service.ContractService
	Bookings  service.BookingService
	Telemetry service.TelemetryService
	Payments  service.PaymentService
}

// Build opens the store and constructs every service.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg, Hub: realtime.NewHub()}

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	masterKey, err := cfg.MasterKey()
	if err != nil {
		a.Close()
		return nil, err
	}
	crypto, err := envelope.NewService(masterKey)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init envelope encryption: %w", err)
	}

	a.Objects, err = storage.New(ctx, storage.Config{
		Type:           cfg.Storage.Type,
		MockDir:        cfg.Storage.UploadDir,
		BaseURL:        cfg.Storage.BaseURL,
		S3Bucket:       cfg.Storage.S3Bucket,
		S3Region:       cfg.Storage.S3Region,
		S3Endpoint:     cfg.Storage.S3Endpoint,
		S3AccessKey:    cfg.Storage.S3AccessKey,
		S3SecretKey:    cfg.Storage.S3SecretKey,
		S3UsePathStyle: cfg.Storage.S3UsePathStyle,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init object storage: %w", err)
	}
	logger.Info("Object storage ready", "type", cfg.Storage.Type)

	var notifier service.Notifier
	if cfg.SendGrid.APIKey != "" {
		notifier = service.NewSendGridNotifier(cfg.SendGrid.APIKey, cfg.SendGrid.From, cfg.SendGrid.FromName)
	} else {
		logger.Warn("No SendGrid API key configured; e-mails are only logged")
		notifier = service.NewLogNotifier()
	}

	a.Tokens = security.NewTokenManager(cfg.JWT.Secret, cfg.AccessTokenTTL(), cfg.PaymentTokenTTL())

	provider, err := payment.NewClient(payment.Config{
		ClientID:    cfg.Payment.ClientID,
		APIKey:      cfg.Payment.APIKey,
		ChecksumKey: cfg.Payment.ChecksumKey,
		ReturnURL:   cfg.Payment.ReturnURL,
		CancelURL:   cfg.Payment.CancelURL,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init payment gateway: %w", err)
	}

	deps := service.Deps{
		Store:     a.Store,
		Crypto:    crypto,
		Notifier:  notifier,
		Publisher: a.Hub,
		Objects:   a.Objects,
		Provider:  provider,
		Tokens: a.Tokens,
		Pricing: utils.PricingPolicy{
			PlatformFeePercent: cfg.Pricing.PlatformFeePercent,
			IncludedKmPerDay:   cfg.Pricing.IncludedKmPerDay,
			ExcessFeePerKm:     cfg.Pricing.ExcessFeePerKm,
		},
		PublicBaseURL: cfg.Server.PublicBaseURL,
	}

	a.Payments = service.NewPaymentService(deps)
	a.Contracts = service.NewContractService(deps)
	a.Bookings = service.NewBookingService(deps, a.Payments)
	a.Telemetry = service.NewTelemetryService(deps)
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	cfg := a.Config.Database
	if cfg.Driver == "memory" {
		logger.Warn("Using the in-memory store; data is lost on restart")
		a.Store = memory.NewStore()
		return nil
	}

	logger.Info("Connecting to database...", "host", cfg.Host, "port", cfg.Port, "database", cfg.Database, "user", cfg.User)
	db, err := sql.Open("postgres", a.Config.GetDatabaseConnectionString())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping database: %w", err)
	}
	logger.Info("Database connection established")

	if cfg.AutoMigrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			db.Close()
			return fmt.Errorf("migrate database: %w", err)
		}
		logger.Info("Database migrations applied")
	}

	a.DB = db
	a.Store = postgres.NewStore(db)
	return nil
}

// JobRunner builds the runner for the deferred jobs the services enqueue.
func (a *App) JobRunner() *jobs.JobRunner {
	return jobs.NewJobRunner(a.Store.Jobs(), &jobs.Services{
		Bookings:  a.Bookings,
		Contracts: a.Contracts,
	}, a.Config)
}

func (a *App) Close() {
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			logger.Warn("Failed to close database", "error", err)
		}
	}
}
