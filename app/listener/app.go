package listener

import (
	"context"
	"errors"
	"net/http"
	"os"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/truly-network/eventlistener/pkg/chain"
	"github.com/truly-network/eventlistener/pkg/config"
	"github.com/truly-network/eventlistener/pkg/db"
	"github.com/truly-network/eventlistener/pkg/db/dynamo"
	"github.com/truly-network/eventlistener/pkg/db/memory"
	"github.com/truly-network/eventlistener/pkg/events"
	"github.com/truly-network/eventlistener/pkg/ingest"
	"github.com/truly-network/eventlistener/pkg/logging"
	"github.com/truly-network/eventlistener/pkg/redis"
	"github.com/truly-network/eventlistener/pkg/subscription"
)

// App listens to one contract and persists every event it emits.
type App struct {
	Config config.Config

	Store      db.Store
	Stats      *ingest.Stats
	Dispatcher *ingest.Dispatcher
	Manager    *subscription.Manager
	Lifecycle  *Lifecycle

	// Redis is nil when notifications are disabled.
	Redis *redis.Client

	// Cron logs a stats summary according to CronSpec.
	Cron     *cron.Cron
	CronSpec string

	Logger *zap.Logger
	Server *http.Server
}

// Initialize builds the App from the environment. Configuration and
// connection errors are fatal.
func Initialize(ctx context.Context) *App {
	logger, err := logging.New()
	if err != nil {
		// nothing else to do here, we'll just log to stderr'
		panic(err)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Unable to load configuration", zap.Error(err))
	}

	origin, err := chain.ParseOrigin(cfg.EventsFrom)
	if err != nil {
		logger.Fatal("Unable to parse EVENTS_FROM", zap.Error(err))
	}

	artifact, err := chain.LoadArtifact(cfg.ContractPath)
	if err != nil {
		logger.Fatal("Unable to load contract artifact", zap.String("path", cfg.ContractPath), zap.Error(err))
	}
	contract, err := artifact.Contract(cfg.NetworkID)
	if err != nil {
		logger.Fatal("Unable to resolve contract", zap.Uint64("networkID", cfg.NetworkID), zap.Error(err))
	}
	logger.Info("Reading from contract", zap.String("contract", contract.Name), zap.String("address", contract.Address.Hex()))

	store, err := NewStore(ctx, logger, cfg)
	if err != nil {
		logger.Fatal("Unable to initialize store", zap.Error(err))
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = redis.NewClient(ctx, logger, cfg.Redis)
		if err != nil {
			logger.Warn("Failed to initialize Redis client - stored-event notifications will be disabled",
				zap.Error(err))
			redisClient = nil
		}
	} else {
		logger.Info("Redis disabled - stored-event notifications will not be published")
	}

	classifier, err := events.NewClassifier(events.DefaultShard)
	if err != nil {
		logger.Fatal("Unable to create classifier", zap.Error(err))
	}

	stats := ingest.NewStats()
	pipeline := &ingest.Pipeline{
		Classifier: classifier,
		Writer:     ingest.NewWriter(store, cfg.Tables, logger),
		Stats:      stats,
		Logger:     logger,
	}
	if redisClient != nil {
		pipeline.Notifier = redis.NewPublisher(redisClient, cfg.NetworkID)
	}

	dispatcher := ingest.NewDispatcher(ctx, pipeline, cfg.MaxInFlight, logger)
	source := chain.NewEthSource(cfg.BlockchainURL, contract, logger)
	manager := subscription.NewManager(source, dispatcher, logger,
		subscription.WithOrigin(origin),
		subscription.WithStats(stats))

	app := &App{
		Config:     cfg,
		Store:      store,
		Stats:      stats,
		Dispatcher: dispatcher,
		Manager:    manager,
		Redis:      redisClient,
		Logger:     logger,
	}

	if err := app.SetupScheduler(cfg.StatsCron); err != nil {
		logger.Fatal("Unable to schedule stats", zap.String("cronSpec", cfg.StatsCron), zap.Error(err))
	}
	app.SetupServer()
	app.SetupLifecycle(os.Exit)

	return app
}

// NewStore opens the configured backend and warns about missing event tables.
func NewStore(ctx context.Context, logger *zap.Logger, cfg config.Config) (db.Store, error) {
	defs := db.EventTables(cfg.Tables)

	var store db.Store
	switch cfg.StoreBackend {
	case "memory":
		mem := memory.NewStore()
		for _, def := range defs {
			if err := mem.CreateTable(ctx, def); err != nil {
				return nil, err
			}
		}
		store = mem
	default:
		client, err := dynamo.NewClient(ctx, logger, cfg.AWS)
		if err != nil {
			return nil, err
		}
		store = dynamo.NewStore(client, defs...)
	}

	for _, def := range defs {
		exists, err := store.TableExists(ctx, def.Name)
		if err != nil {
			logger.Warn("Unable to describe table", zap.String("table", def.Name), zap.Error(err))
			continue
		}
		if !exists {
			logger.Warn("Event table does not exist, writes to it will fail", zap.String("table", def.Name))
		}
	}
	return store, nil
}

// SetupLifecycle wires the shutdown sequence: subscription, cron, server,
// dispatcher, Redis. In-flight writes are not awaited.
func (a *App) SetupLifecycle(exit func(int)) {
	a.Lifecycle = NewLifecycle(a.Logger, a.Manager, exit)
	a.Lifecycle.OnShutdown(func(context.Context) { a.StopCron() })
	a.Lifecycle.OnShutdown(func(ctx context.Context) {
		if a.Server != nil {
			_ = a.Server.Shutdown(ctx)
		}
	})
	a.Lifecycle.OnShutdown(func(context.Context) { a.Dispatcher.Stop() })
	a.Lifecycle.OnShutdown(func(context.Context) {
		if a.Redis != nil {
			if err := a.Redis.Close(); err != nil {
				a.Logger.Error("Failed to close Redis connection", zap.Error(err))
			}
		}
	})
}

// Start serves the operations endpoints, opens the subscription and blocks
// until a termination signal has been handled.
func (a *App) Start(ctx context.Context) {
	go func() {
		a.Logger.Info("Starting server", zap.String("addr", a.Server.Addr))
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error("Server stopped", zap.Error(err))
		}
	}()
	a.StartCron()

	watched := make(chan struct{})
	go func() {
		defer close(watched)
		a.Lifecycle.Watch(ctx)
	}()

	if err := a.Manager.Start(ctx); err != nil && !a.Lifecycle.ShuttingDown() {
		a.Logger.Fatal("Unable to subscribe to contract events", zap.Error(err))
	}

	<-watched
}
