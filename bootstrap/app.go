package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"vigil/api"
	"vigil/config"
	"vigil/core"
	"vigil/detect"
	"vigil/edr"
	"vigil/incident"
	"vigil/ingest"
	"vigil/service"
	"vigil/storage"
	"vigil/threat"
	"vigil/util/goroutine"

	"go.uber.org/zap"
)

// App represents the vigil service with all its components.
type App struct {
	// Configuration
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	// Storage
	Storage *StorageComponents

	// Detection
	Rules    []*core.Rule
	Matcher  *threat.Matcher
	Pipeline *service.Pipeline

	// Services
	Incidents    *incident.Manager
	ControlPlane *edr.ControlPlane
	Catalog      *threat.Catalog
	Query        *service.QueryService
	Sinks        *SinkComponents
	Hub          *api.Hub
	APIServer    *api.API

	// Lifecycle
	serviceWg *sync.WaitGroup
	cancel    context.CancelFunc
	serverErr chan error
}

// NewApp loads configuration from configFile (empty means the default lookup)
// and initializes all components.
func NewApp(ctx context.Context, configFile string) (*App, error) {
	cfg, err := InitConfig(configFile)
	if err != nil {
		return nil, err
	}

	logger, sugar, err := InitLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	sugar.Info("vigil starting...")
	logConfig(cfg, sugar)

	return NewAppWithConfig(ctx, cfg, logger)
}

// NewAppWithConfig initializes all components from an already loaded config.
func NewAppWithConfig(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	sugar := logger.Sugar()
	app := &App{
		Config:    cfg,
		Logger:    logger,
		Sugar:     sugar,
		serviceWg: &sync.WaitGroup{},
		serverErr: make(chan error, 1),
	}

	// Pre-flight checks
	dirs := DataDirectoriesFromConfig(cfg)
	if err := EnsureDataDirectories(dirs, sugar); err != nil {
		return nil, fmt.Errorf("pre-flight check failed: %w", err)
	}

	rules, err := LoadRules(cfg.Rules, sugar)
	if err != nil {
		return nil, err
	}
	app.Rules = rules

	sqlite, err := InitSQLite(dirs, sugar)
	if err != nil {
		return nil, err
	}
	app.Storage = InitStorage(sqlite, sugar)

	matcher, err := InitMatcher(ctx, app.Storage.Indicators, sugar)
	if err != nil {
		sqlite.Close()
		return nil, err
	}
	app.Matcher = matcher

	sinks, err := InitSinks(ctx, cfg, sugar)
	if err != nil {
		sqlite.Close()
		return nil, err
	}
	app.Sinks = sinks

	app.Incidents = incident.NewManager(app.Storage.Incidents, app.Storage.Alerts, incident.Config{
		AutoPromote: cfg.Incident.AutoPromote,
		Threshold:   core.ParseSeverity(cfg.Incident.AutoPromoteThreshold),
	}, sugar)

	app.Pipeline = service.NewPipeline(
		ingest.NewNormalizer(sugar),
		app.Storage.Events,
		app.Storage.Alerts,
		detect.NewEngine(rules, sugar),
		matcher,
		app.Incidents,
		service.PipelineConfig{
			MaxMessageBytes:   cfg.Ingest.MaxMessageBytes,
			IndicatorSeverity: core.ParseSeverity(cfg.Ingest.IndicatorSeverity),
		},
		sugar,
	)

	app.Hub = api.NewHub(sugar, ctx)
	app.Pipeline.AddPublisher(app.Hub)
	if sinks.Dispatcher != nil {
		app.Pipeline.AddPublisher(sinks.Dispatcher)
	}

	app.ControlPlane = edr.NewControlPlane(app.Storage.Agents, app.Storage.Actions, app.Pipeline, edr.Config{
		Allowlist:    cfg.EDR.Allowlist,
		CallTimeout:  cfg.EDR.CallTimeout,
		OfflineAfter: cfg.EDR.OfflineAfter,
	}, sugar)

	app.Catalog = threat.NewCatalog(app.Storage.Indicators, matcher, sugar)

	app.Query = service.NewQueryService(app.Storage.Events, app.Storage.Alerts, app.Storage.Stats, service.QueryConfig{
		StatsCacheSize: cfg.Query.StatsCacheSize,
		StatsCacheTTL:  cfg.Query.StatsCacheTTL,
		OfflineAfter:   cfg.EDR.OfflineAfter,
	}, sugar)

	app.APIServer = api.NewAPI(api.Services{
		Ingest:     app.Pipeline,
		Endpoints:  app.ControlPlane,
		Indicators: app.Catalog,
		Incidents:  app.Incidents,
		Query:      app.Query,
		Health:     sqlite,
		Hub:        app.Hub,
	}, cfg, sugar)

	sugar.Info("All components initialized")
	return app, nil
}

// Start launches the background services and the API server.
func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	goroutine.Go(a.serviceWg, "websocket-hub", a.Sugar, a.Hub.Start)

	if a.Config.Metrics.Enabled {
		a.Storage.SQLite.StartMetricsCollection(runCtx, a.Config.Metrics.PoolCollectInterval)
	}

	if a.Config.Retention.EventMaxAge > 0 {
		rm := storage.NewRetentionManager(a.Storage.SQLite, a.Config.Retention.EventMaxAge, a.Config.Retention.CheckInterval, a.Sugar)
		goroutine.Go(a.serviceWg, "retention", a.Sugar, func() { rm.Run(runCtx) })
	}

	a.startAPIServer()
	return nil
}

// startAPIServer runs the HTTP server until Stop. A listen failure is
// reported to WaitForShutdown.
func (a *App) startAPIServer() {
	goroutine.Go(a.serviceWg, "api-server", a.Sugar, func() {
		a.Sugar.Infof("API server listening on %s", a.Config.Addr())
		if err := a.APIServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Sugar.Errorw("API server failed", "error", err)
			select {
			case a.serverErr <- err:
			default:
			}
		}
	})
}

// WaitForShutdown blocks until a shutdown signal is received or the API
// server fails.
func (a *App) WaitForShutdown() error {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(c)

	select {
	case sig := <-c:
		a.Sugar.Infow("Shutdown signal received", "signal", sig.String())
		return nil
	case err := <-a.serverErr:
		return fmt.Errorf("api server failed: %w", err)
	}
}

// Shutdown gracefully shuts down all components.
func (a *App) Shutdown() {
	a.Sugar.Info("Shutting down...")

	// Phase 1 - Stop accepting requests
	a.Sugar.Info("Phase 1: Stopping API server...")
	if a.APIServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.Config.API.ShutdownTimeout)
		if err := a.APIServer.Stop(ctx); err != nil {
			a.Sugar.Errorw("Failed to stop API server", "error", err)
		}
		cancel()
	}

	// Phase 2 - Disconnect stream clients
	a.Sugar.Info("Phase 2: Stopping alert stream...")
	if a.Hub != nil && a.cancel != nil {
		a.Hub.Stop()
	}

	// Phase 3 - Drain queued alerts to the sinks
	a.Sugar.Info("Phase 3: Draining alert sinks...")
	if a.Sinks != nil {
		if a.Sinks.Dispatcher != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := a.Sinks.Dispatcher.Close(ctx); err != nil {
				a.Sugar.Warnw("Alert sink drain timed out", "error", err)
			}
			cancel()
		}
		a.Sinks.Close(a.Sugar)
	}

	// Phase 4 - Wait for service goroutines
	a.Sugar.Info("Phase 4: Waiting for service goroutines to complete...")
	if a.cancel != nil {
		a.cancel()
	}
	done := make(chan struct{})
	go func() {
		a.serviceWg.Wait()
		close(done)
	}()
	select {
	case <-done:
		a.Sugar.Info("All service goroutines stopped successfully")
	case <-time.After(15 * time.Second):
		a.Sugar.Warn("Service goroutine shutdown timed out")
	}

	// Phase 5 - Close database
	a.Sugar.Info("Phase 5: Closing database connections...")
	if a.Storage != nil && a.Storage.SQLite != nil {
		if err := a.Storage.SQLite.Close(); err != nil {
			a.Sugar.Errorw("Failed to close SQLite", "error", err)
		}
	}

	a.Sugar.Info("Shutdown complete")
	a.Logger.Sync()
}
