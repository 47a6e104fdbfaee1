package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"

	"github.com/Ivanxdigital/siargao-rides-sub004/internal/alert"
	"github.com/Ivanxdigital/siargao-rides-sub004/internal/api"
	"github.com/Ivanxdigital/siargao-rides-sub004/internal/config"
	"github.com/Ivanxdigital/siargao-rides-sub004/internal/database"
	"github.com/Ivanxdigital/siargao-rides-sub004/internal/events"
	"github.com/Ivanxdigital/siargao-rides-sub004/internal/logging"
	"github.com/Ivanxdigital/siargao-rides-sub004/internal/metrics"
	"github.com/Ivanxdigital/siargao-rides-sub004/internal/models"
	"github.com/Ivanxdigital/siargao-rides-sub004/internal/provider"
	"github.com/Ivanxdigital/siargao-rides-sub004/internal/reconcile"
	"github.com/Ivanxdigital/siargao-rides-sub004/internal/repository"
	"github.com/Ivanxdigital/siargao-rides-sub004/internal/sheets"
	"github.com/Ivanxdigital/siargao-rides-sub004/internal/worker"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	catalog, err := loadCatalog(&logger)
	if err != nil {
		return err
	}

	db, err := initDatabase(cfg, catalog, &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient := initRedis(cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	notifier := initAlerts(cfg, &logger)
	sheetsService := initGoogleSheets(cfg, &logger)

	paymongo := provider.NewPayMongo(cfg.Providers.PayMongo, cfg.Booking.DepositAmount, cfg.App.Production(), &logger)
	paypal := provider.NewPayPal(cfg.Providers.PayPal, &logger)

	bus := events.NewEventBus()

	retryPolicy := worker.RetryPolicy{MaxRetries: 5, InitialDelay: 2 * time.Second, MaxDelay: time.Minute, BackoffFactor: 2}
	processor := worker.NewProcessor(db, sheetsWorkerClient(sheetsService), redisClient, retryPolicy, &logger)

	guard := reconcile.NewGuard(db, redisClient, &logger)
	blocker := reconcile.NewBlocker(db, bus, &logger)
	reconciler := reconcile.NewReconciler(db, paymongo, blocker, bus, processor, notifier, &logger)
	processor.SetApplier(reconciler)
	go processor.Start(ctx)

	intents := reconcile.NewIntents(db, paymongo, paypal, guard, reconciler, cfg.Booking.Currency, &logger)
	payouts := reconcile.NewPayoutManager(db, bus, &logger)

	subscribeLedgerExports(ctx, bus, db, processor, &logger)

	if err := startAutoCancel(ctx, cfg, db, bus, &logger); err != nil {
		return err
	}

	startMetrics(ctx, cfg, &logger)

	httpServer := api.NewHTTPServer(cfg.API, cfg.Providers.PayMongo, api.Deps{
		Store:      db,
		Guard:      guard,
		Reconciler: reconciler,
		Intents:    intents,
		Payouts:    payouts,
		PayMongo:   paymongo,
		PayPal:     paypal,
		Logger:     &logger,
	})

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Int("http_port", cfg.API.Port).Msg("reconciliation engine started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("shutdown complete")
	return nil
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, logger, closer, nil
}

type catalogConfig struct {
	Vehicles []models.Vehicle `yaml:"vehicles"`
	Shops    []models.Shop    `yaml:"shops"`
}

func loadCatalog(logger *zerolog.Logger) (*catalogConfig, error) {
	catalogPath := os.Getenv("CATALOG_PATH")
	if catalogPath == "" {
		catalogPath = "configs/vehicles.yaml"
	}
	data, err := os.ReadFile(catalogPath)
	if err != nil {
		logger.Error().Err(err).Str("catalog_path", catalogPath).Msg("read catalog")
		return nil, err
	}

	var catalog catalogConfig
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		logger.Error().Err(err).Str("catalog_path", catalogPath).Msg("parse catalog")
		return nil, err
	}
	if len(catalog.Vehicles) == 0 {
		logger.Warn().Str("catalog_path", catalogPath).Msg("catalog has no vehicles")
	}
	return &catalog, nil
}

func initDatabase(cfg *config.Config, catalog *catalogConfig, logger *zerolog.Logger) (*database.DB, error) {
	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return nil, err
	}

	vehicles := make([]*models.Vehicle, len(catalog.Vehicles))
	for i := range catalog.Vehicles {
		vehicles[i] = &catalog.Vehicles[i]
	}
	db.SetVehicles(vehicles)

	shops := make([]*models.Shop, len(catalog.Shops))
	for i := range catalog.Shops {
		shops[i] = &catalog.Shops[i]
	}
	db.SetShops(shops)
	return db, nil
}

func initRedis(cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(context.Background(), redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

func initAlerts(cfg *config.Config, logger *zerolog.Logger) *alert.Telegram {
	if cfg.Alerts.TelegramBotToken == "" || cfg.Alerts.TelegramChatID == 0 {
		logger.Warn().Msg("telegram alerts not configured")
		return nil
	}

	notifier, err := alert.NewTelegram(cfg.Alerts.TelegramBotToken, cfg.Alerts.TelegramChatID, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("telegram alerts init failed, continuing without alerts")
		return nil
	}
	return notifier
}

func initGoogleSheets(cfg *config.Config, logger *zerolog.Logger) *sheets.Service {
	if cfg.Google.CredentialsFile == "" || cfg.Google.LedgerSpreadsheetID == "" {
		return nil
	}

	sheetsService, err := sheets.NewService(cfg.Google)
	if err != nil {
		logger.Warn().Err(err).Msg("google sheets init failed, continuing without sheets")
		return nil
	}

	logger.Info().Msg("google sheets connected")
	return sheetsService
}

// sheetsWorkerClient avoids handing the worker a typed nil.
func sheetsWorkerClient(svc *sheets.Service) worker.SheetsClient {
	if svc == nil {
		return nil
	}
	return svc
}

// subscribeLedgerExports mirrors every settled payment into the finance sheet
// through the retry worker.
func subscribeLedgerExports(ctx context.Context, bus *events.EventBus, db *database.DB, processor *worker.Processor, logger *zerolog.Logger) {
	exportRecord := func(event *events.Event) error {
		var payload events.RentalEventPayload
		if err := payload.Decode(event.Payload); err != nil {
			return err
		}
		record, err := db.GetPaymentByExternalID(ctx, payload.ExternalID)
		if err != nil {
			return err
		}
		return processor.EnqueueSheetRow(ctx, record)
	}

	bus.Subscribe(events.EventPaymentConfirmed, exportRecord)
	bus.Subscribe(events.EventDepositPaid, exportRecord)
	bus.Subscribe(events.EventPaymentFailed, exportRecord)
	logger.Info().Msg("ledger export subscriptions registered")
}

func startAutoCancel(ctx context.Context, cfg *config.Config, db *database.DB, bus *events.EventBus, logger *zerolog.Logger) error {
	canceller := reconcile.NewAutoCanceller(db, bus, cfg.Booking.AutoCancelAfter, logger)

	c := cron.New()
	if _, err := c.AddFunc(cfg.Booking.AutoCancelSchedule, func() {
		if _, err := canceller.Sweep(ctx); err != nil {
			logger.Error().Err(err).Msg("auto-cancel sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule auto-cancel: %w", err)
	}
	c.Start()

	go func() {
		<-ctx.Done()
		c.Stop()
	}()
	return nil
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
