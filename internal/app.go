package internal

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"listing-pipeline-service/internal/adapters/fetchclient"
	"listing-pipeline-service/internal/adapters/geoportal"
	logger_adapter "listing-pipeline-service/internal/adapters/logger"
	memory_adapter "listing-pipeline-service/internal/adapters/memory"
	"listing-pipeline-service/internal/adapters/nominatim"
	postgres_adapter "listing-pipeline-service/internal/adapters/postgres"
	rabbitmq_adapter "listing-pipeline-service/internal/adapters/rabbitmq"
	"listing-pipeline-service/internal/adapters/rest"
	"listing-pipeline-service/internal/adapters/scheduler"
	"listing-pipeline-service/internal/adapters/sources"
	"listing-pipeline-service/internal/configs"
	"listing-pipeline-service/internal/constants"
	"listing-pipeline-service/internal/core/domain"
	"listing-pipeline-service/internal/core/port"
	usecases_port "listing-pipeline-service/internal/core/port/usecases_port"
	"listing-pipeline-service/internal/core/usecase"
	fluentlogger "listing-pipeline-service/pkg/fluent_logger"
	"listing-pipeline-service/pkg/postgres"
	"listing-pipeline-service/pkg/rabbitmq/rabbitmq_common"
	"listing-pipeline-service/pkg/rabbitmq/rabbitmq_consumer"
	"listing-pipeline-service/pkg/rabbitmq/rabbitmq_producer"

	"github.com/fluent/fluent-logger-golang/fluent"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// storage - реализации портов хранилища выбранного драйвера
type storage struct {
	listings port.ListingRepositoryPort
	locks    port.TenantLockPort
	sources  port.SourceDefinitionRepositoryPort
}

// App – структура приложения
type App struct {
	config        *configs.AppConfig
	dbPool        *pgxpool.Pool
	connManager   *rabbitmq_common.ConnectionManager
	eventProducer *rabbitmq_producer.Publisher
	fluentClient  *fluent.Fluent
	logger        port.LoggerPort
	httpServer    *rest.Server

	// Входящие порты (слушатели событий)
	listeners map[string]port.EventListenerPort
}

// NewApp - точка сборки: все зависимости создаются и связываются здесь
func NewApp() (*App, error) {
	appConfig, err := configs.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("error loading application configuration: %w", err)
	}
	if err := appConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	app := &App{config: appConfig, listeners: make(map[string]port.EventListenerPort)}

	// --- 1. ЛОГГЕРЫ ---
	baseLogger, err := app.initLoggers()
	if err != nil {
		return nil, err
	}
	appLogger := baseLogger.WithFields(port.Fields{"component": "app"})
	app.logger = appLogger

	fail := func(msg string, err error) (*App, error) {
		appLogger.Error(msg, err, nil)
		app.closeResources()
		return nil, fmt.Errorf("%s: %w", msg, err)
	}

	// --- 2. ХРАНИЛИЩЕ ---
	store, err := app.initStorage(appLogger)
	if err != nil {
		return fail("failed to initialize storage", err)
	}

	// --- 3. ИСХОДЯЩИЕ АДАПТЕРЫ ---
	fetcher, err := fetchclient.NewClient(fetchclient.Config{
		Timeout:     appConfig.Fetch.Timeout,
		MaxAttempts: appConfig.Fetch.MaxAttempts,
		BaseDelay:   appConfig.Fetch.BaseDelay,
		MaxDelay:    appConfig.Fetch.MaxDelay,
		UserAgent:   appConfig.Fetch.UserAgent,
		RandomDelay: appConfig.Fetch.RandomDelay,
		Parallelism: appConfig.Fetch.Parallelism,
	})
	if err != nil {
		return fail("failed to create fetch client", err)
	}

	registry, err := sources.NewDefaultRegistry(appConfig.Harvest)
	if err != nil {
		return fail("failed to create source registry", err)
	}
	appLogger.Info("Source adapters initialized", port.Fields{"sources": registry.Keys()})

	var reporter port.RunReporterPort
	if appConfig.RabbitMQ.Enabled {
		if reporter, err = app.initProducer(baseLogger); err != nil {
			return fail("failed to initialize RabbitMQ producer", err)
		}
	}

	// --- 4. USE CASES ---
	harvestUC := usecase.NewHarvestUseCase(registry, fetcher, store.listings, store.sources, usecase.HarvestLimits{
		MaxPages:   appConfig.Harvest.MaxPages,
		ItemBudget: appConfig.Harvest.ItemBudget,
	})
	enrichUC := usecase.NewEnrichRoundUseCase(registry, fetcher, store.listings, store.locks, appConfig.Enrich.RetryCooldown)
	verifyUC := usecase.NewVerifyRoundUseCase(registry, fetcher, store.listings, store.locks, appConfig.Verify.Interval)

	// Необязательные стадии остаются nil-интерфейсами, если не настроены
	var geocodeUC usecases_port.GeocodeBatchPort
	if appConfig.Geocoder.URL != "" {
		geocoder, err := nominatim.NewGeocoderAdapter(fetcher, nominatim.Config{
			URL:          appConfig.Geocoder.URL,
			Email:        appConfig.Geocoder.Email,
			CountryCodes: appConfig.Geocoder.CountryCodes,
			UserAgent:    appConfig.AppName,
		})
		if err != nil {
			return fail("failed to create geocoder", err)
		}
		geocodeUC = usecase.NewGeocodeBatchUseCase(geocoder, store.listings, appConfig.Geocoder.Delay)
	}

	var rcnUC usecases_port.RcnBatchPort
	if appConfig.Rcn.WFSURL != "" && appConfig.Rcn.WMSURL != "" {
		priceRegistry, err := geoportal.NewRegistryClient(fetcher, geoportal.Config{
			WFSURL:       appConfig.Rcn.WFSURL,
			WMSURL:       appConfig.Rcn.WMSURL,
			WFSLayers:    appConfig.Rcn.WFSLayers,
			WMSLayers:    appConfig.Rcn.WMSLayers,
			LinkTemplate: appConfig.Rcn.LinkTemplate,
		})
		if err != nil {
			return fail("failed to create price registry client", err)
		}
		rcnUC = usecase.NewRcnBatchUseCase(priceRegistry, store.listings, usecase.RcnSettings{
			RadiusM:  appConfig.Rcn.RadiusM,
			Cooldown: appConfig.Rcn.Cooldown,
			Delay:    appConfig.Rcn.Delay,
		})
	}

	runUC := usecase.NewRunPipelineUseCase(harvestUC, enrichUC, geocodeUC, rcnUC, verifyUC, reporter, usecase.PipelineBudgets{
		EnrichLimit:    appConfig.Pipeline.EnrichLimit,
		EnrichRoundCap: appConfig.Pipeline.EnrichRoundCap,
		VerifyLimit:    appConfig.Pipeline.VerifyLimit,
		VerifyRoundCap: appConfig.Pipeline.VerifyRoundCap,
		GeocodeEnabled: appConfig.Pipeline.GeocodeEnabled,
		GeocodeLimit:   appConfig.Pipeline.GeocodeLimit,
		RcnEnabled:     appConfig.Pipeline.RcnEnabled,
		RcnLimit:       appConfig.Pipeline.RcnLimit,
	})
	appLogger.Info("All use cases initialized.", port.Fields{"geocode": geocodeUC != nil, "rcn": rcnUC != nil})

	// --- 5. ВХОДЯЩИЕ АДАПТЕРЫ ---
	if appConfig.RabbitMQ.Enabled {
		listener, err := rabbitmq_adapter.NewRunRequestsConsumerAdapter(runRequestsConsumerConfig(appConfig), runUC, baseLogger, app.connManager)
		if err != nil {
			return fail("failed to initialize run requests listener", err)
		}
		app.listeners["Run Requests Listener"] = listener
	}

	if appConfig.Scheduler.Enabled {
		sched, err := scheduler.NewPipelineScheduler(appConfig.Scheduler.Spec, appConfig.Scheduler.Concurrency, store.sources, runUC, baseLogger)
		if err != nil {
			return fail("failed to initialize scheduler", err)
		}
		app.listeners["Pipeline Scheduler"] = sched
	}

	if appConfig.HTTP.Enabled {
		handler := rest.NewPipelineHandler(harvestUC, enrichUC, verifyUC, geocodeUC, rcnUC, runUC, rest.SweepDefaults{
			EnrichLimit:  appConfig.Pipeline.EnrichLimit,
			VerifyLimit:  appConfig.Pipeline.VerifyLimit,
			GeocodeLimit: appConfig.Pipeline.GeocodeLimit,
			RcnLimit:     appConfig.Pipeline.RcnLimit,
		})
		sourceNames := make([]string, 0, len(registry.Keys()))
		for _, key := range registry.Keys() {
			sourceNames = append(sourceNames, string(key))
		}
		health := rest.HealthResponse{
			Status:   "ok",
			Storage:  appConfig.Storage.Driver,
			Sources:  sourceNames,
			Geocode:  geocodeUC != nil,
			Registry: rcnUC != nil,
		}
		router := rest.NewRouter(handler, health, appConfig.HTTP.AllowedOrigins, baseLogger)
		app.httpServer = rest.NewServer(appConfig.HTTP.Port, router, baseLogger.WithFields(port.Fields{"component": "rest_server"}))
	}

	if len(app.listeners) == 0 && app.httpServer == nil {
		return fail("nothing to run", errors.New("enable at least one of HTTP, RabbitMQ or scheduler"))
	}

	return app, nil
}

func (a *App) initLoggers() (port.LoggerPort, error) {
	cfg := a.config
	var activeLoggers []port.LoggerPort

	stdoutLogger := logger_adapter.NewSlogAdapter(logger_adapter.SlogConfig{
		Level:    logger_adapter.ParseLevel(cfg.StdoutLogger.Level),
		UseColor: true,
	})
	activeLoggers = append(activeLoggers, stdoutLogger)

	if cfg.FluentBit.Enabled {
		fluentClient, err := fluentlogger.NewClient(fluentlogger.Config{
			Host:      cfg.FluentBit.Host,
			Port:      cfg.FluentBit.Port,
			TagPrefix: cfg.AppName,
		})
		if err != nil {
			stdoutLogger.Error("Failed to create fluentbit client", err, nil)
			return nil, fmt.Errorf("failed to create fluentbit client: %w", err)
		}
		a.fluentClient = fluentClient

		fluentAdapter, err := logger_adapter.NewFluentLoggerAdapter(fluentClient, logger_adapter.ParseLevel(cfg.FluentBit.Level))
		if err != nil {
			stdoutLogger.Error("Failed to create fluentbit adapter", err, nil)
			fluentClient.Close()
			return nil, err
		}
		activeLoggers = append(activeLoggers, fluentAdapter)
	}

	multiLogger, err := logger_adapter.NewMultiloggerAdapter(activeLoggers...)
	if err != nil {
		return nil, fmt.Errorf("failed to create multi-logger: %w", err)
	}

	baseLogger := multiLogger.WithFields(port.Fields{"service_name": cfg.AppName})
	baseLogger.Info("Logger system initialized", port.Fields{
		"active_loggers": len(activeLoggers), "fluent_enabled": cfg.FluentBit.Enabled,
	})
	return baseLogger, nil
}

func (a *App) initStorage(appLogger port.LoggerPort) (storage, error) {
	cfg := a.config
	if cfg.Storage.Driver == configs.StorageDriverMemory {
		defs := memory_adapter.NewSourceDefinitions()
		if cfg.Storage.SeedOfficeID != "" {
			officeID := uuid.MustParse(cfg.Storage.SeedOfficeID)
			for _, key := range []domain.SourceKey{domain.SourceOtodom, domain.SourceOlx, domain.SourceGratka} {
				defs.Put(domain.SourceDefinition{
					OfficeID:      officeID,
					Source:        key,
					Enabled:       true,
					CrawlInterval: cfg.Storage.SeedCrawlInterval,
				})
			}
		}
		appLogger.Warn("Using in-memory storage, the catalog is lost on restart", port.Fields{"seed_office_id": cfg.Storage.SeedOfficeID})
		return storage{
			listings: memory_adapter.NewListingRepository(),
			locks:    memory_adapter.NewTenantLocks(),
			sources:  defs,
		}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dbPool, err := postgres.NewClient(ctx, postgres.Config{
		DatabaseURL:     cfg.Database.URL,
		MaxConns:        int32(cfg.Database.MaxConns),
		MinConns:        int32(cfg.Database.MinConns),
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return storage{}, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	a.dbPool = dbPool
	appLogger.Info("Successfully connected to PostgreSQL pool!", nil)

	if cfg.Database.MigrateOnStart {
		if err := postgres_adapter.Migrate(ctx, dbPool); err != nil {
			return storage{}, fmt.Errorf("failed to apply migrations: %w", err)
		}
		appLogger.Info("Database migrations applied.", nil)
	}

	listings, err := postgres_adapter.NewPostgresListingRepository(dbPool)
	if err != nil {
		return storage{}, err
	}
	locks, err := postgres_adapter.NewPostgresTenantLock(dbPool)
	if err != nil {
		return storage{}, err
	}
	defs, err := postgres_adapter.NewPostgresSourceDefinitions(dbPool)
	if err != nil {
		return storage{}, err
	}
	return storage{listings: listings, locks: locks, sources: defs}, nil
}

func (a *App) initProducer(baseLogger port.LoggerPort) (port.RunReporterPort, error) {
	cfg := a.config

	connManagerBridge := rabbitmq_adapter.NewPkgLoggerBridge(baseLogger.WithFields(port.Fields{"component": "rabbitmq_conn_manager"}))
	connManager, err := rabbitmq_common.NewManager(cfg.RabbitMQ.URL, connManagerBridge)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection manager: %w", err)
	}
	a.connManager = connManager

	eventProducer, err := rabbitmq_producer.NewPublisher(rabbitmq_producer.PublisherConfig{
		Config:                   rabbitmq_common.Config{URL: cfg.RabbitMQ.URL},
		ExchangeName:             constants.PipelineExchange,
		ExchangeType:             constants.PipelineExchangeType,
		DurableExchange:          true,
		DeclareExchangeIfMissing: true,
		Logger:                   rabbitmq_adapter.NewPkgLoggerBridge(baseLogger.WithFields(port.Fields{"component": "rabbitmq_producer"})),
	}, connManager)
	if err != nil {
		return nil, fmt.Errorf("failed to create event producer: %w", err)
	}
	a.eventProducer = eventProducer

	reporter, err := rabbitmq_adapter.NewRunReporterAdapter(eventProducer, constants.RoutingKeyRunResults)
	if err != nil {
		return nil, err
	}
	return reporter, nil
}

func runRequestsConsumerConfig(cfg *configs.AppConfig) rabbitmq_consumer.ConsumerConfig {
	return rabbitmq_consumer.ConsumerConfig{
		Config:                 rabbitmq_common.Config{URL: cfg.RabbitMQ.URL},
		QueueName:              constants.QueueRunRequests,
		DeclareQueue:           true,
		DurableQueue:           true,
		ExchangeNameForBind:    constants.PipelineExchange,
		DeclareExchangeForBind: true,
		ExchangeTypeForBind:    constants.PipelineExchangeType,
		DurableExchangeForBind: true,
		RoutingKeyForBind:      constants.RoutingKeyRunRequests,

		// Прогон офиса долгий: одно сообщение на потребителя
		PrefetchCount: 1,
		ConsumerTag:   "pipeline-run-requests-adapter",

		EnableRetryMechanism: true,
		RetryExchange:        constants.QueueRunRequests + "_retry_ex",
		RetryQueue:           constants.QueueRunRequests + "_retry_wait_30s",
		RetryTTL:             30000,
		FinalDLXExchange:     constants.FinalDLXExchangeForRunRequests,
		FinalDLQ:             constants.FinalDLQForRunRequests,
		FinalDLQRoutingKey:   constants.FinalDLQRoutingKeyForRunRequests,
		MaxRetries:           3,
	}
}

// Run запускает все компоненты приложения и управляет их жизненным циклом
func (a *App) Run() error {
	appCtx, cancelApp := context.WithCancel(context.Background())
	defer cancelApp()

	var wg sync.WaitGroup
	componentErrors := make(chan error, len(a.listeners)+1)

	startListener := func(name string, listener port.EventListenerPort) {
		defer wg.Done()
		listenerLogger := a.logger.WithFields(port.Fields{"listener_name": name})
		listenerLogger.Info("Starting listener...", nil)

		if err := listener.Start(appCtx); err != nil {
			listenerLogger.Error("Listener stopped with an unexpected error", err, nil)
			componentErrors <- fmt.Errorf("%s error: %w", name, err)
			return
		}
		listenerLogger.Info("Listener stopped gracefully due to context cancellation.", nil)
	}

	a.logger.Info("Application is starting...", nil)

	for name, listener := range a.listeners {
		wg.Add(1)
		go startListener(name, listener)
	}
	if a.httpServer != nil {
		go func() {
			if err := a.httpServer.Start(); err != nil {
				componentErrors <- fmt.Errorf("REST server error: %w", err)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	a.logger.Info("Application running. Waiting for signals or component error...", nil)
	var runErr error
	select {
	case receivedSignal := <-quit:
		a.logger.Warn("Received signal, shutting down", port.Fields{"signal": receivedSignal.String()})
	case runErr = <-componentErrors:
		a.logger.Error("A critical component failed, shutting down", runErr, nil)
	}

	a.logger.Info("Shutdown sequence initiated...", nil)
	cancelApp()

	if a.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := a.httpServer.Stop(shutdownCtx); err != nil {
			a.logger.Error("Error stopping REST server", err, nil)
		}
		cancel()
	}

	a.logger.Info("Waiting for background processes to finish...", nil)
	wg.Wait()
	a.logger.Info("All background processes finished.", nil)

	a.closeResources()
	return runErr
}

// closeResources закрывает все, что успело открыться, в обратном порядке
func (a *App) closeResources() {
	for name, listener := range a.listeners {
		if err := listener.Close(); err != nil {
			a.logger.Error("Error closing listener", err, port.Fields{"listener_name": name})
		}
	}
	if a.eventProducer != nil {
		if err := a.eventProducer.Close(); err != nil {
			a.logger.Error("Error closing event producer", err, nil)
		}
	}
	if a.connManager != nil {
		if err := a.connManager.Close(); err != nil {
			a.logger.Error("Error closing RabbitMQ connection manager", err, nil)
		}
	}
	if a.dbPool != nil {
		a.dbPool.Close()
		a.logger.Info("PostgreSQL pool closed.", nil)
	}

	a.logger.Info("Application shut down gracefully.", nil)

	if a.fluentClient != nil {
		if err := a.fluentClient.Close(); err != nil {
			log.Printf("App: Error closing fluent client: %v\n", err)
		}
	}
}
