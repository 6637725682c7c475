// Package bootstrap wires the engine together: configuration, logging,
// storage, the evaluation pipeline, the scheduler and the HTTP API, plus
// the shutdown order that drains them cleanly.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"guardian/alert"
	"guardian/api"
	"guardian/audit"
	"guardian/config"
	"guardian/correlate"
	"guardian/detect"
	"guardian/incident"
	"guardian/notify"
	"guardian/pipeline"
	"guardian/rules"
	"guardian/scheduler"
	"guardian/score"
	"guardian/storage"
)

// App holds every running component of the engine.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	SQLite   *storage.SQLite
	Stores   api.Stores
	Sink     *audit.Sink
	Pipeline *pipeline.Pipeline

	Scheduler *scheduler.Scheduler
	APIServer *http.Server

	dispatcher  *notify.Dispatcher
	evaluator   *detect.Evaluator
	ruleStore   *storage.SQLiteRuleStore
	redisClient *redis.Client
}

// NewApp loads configuration and constructs all components. Nothing is
// started yet; call Run.
func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, sugar, err := InitLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	sugar.Infow("Guardian engine starting", "sqlite_path", cfg.DataPaths.SQLitePath)

	app := &App{Config: cfg, Logger: logger, Sugar: sugar}
	if err := app.initStorage(); err != nil {
		return nil, err
	}
	if err := app.initPipeline(); err != nil {
		app.SQLite.Close()
		return nil, err
	}
	if err := app.initScheduler(ctx); err != nil {
		app.SQLite.Close()
		return nil, err
	}
	if err := app.initAPI(ctx); err != nil {
		app.SQLite.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) initStorage() error {
	sqlite, err := storage.NewSQLite(a.Config.DataPaths.SQLitePath, a.Sugar)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	a.SQLite = sqlite
	a.ruleStore = storage.NewSQLiteRuleStore(sqlite, a.Sugar)
	a.Stores = api.Stores{
		Tenants:   storage.NewSQLiteTenantStore(sqlite, a.Sugar),
		Rules:     a.ruleStore,
		Events:    storage.NewSQLiteEventStore(sqlite, a.Sugar),
		Alerts:    storage.NewSQLiteAlertStore(sqlite, a.Sugar),
		Clusters:  storage.NewSQLiteClusterStore(sqlite, a.Sugar),
		Scores:    storage.NewSQLiteRiskScoreStore(sqlite, a.Sugar),
		Incidents: storage.NewSQLiteIncidentStore(sqlite, a.Sugar),
		Records:   storage.NewSQLiteNotificationStore(sqlite, a.Sugar),
		Audit:     storage.NewSQLiteAuditStore(sqlite, a.Sugar),
	}
	return nil
}

func (a *App) initPipeline() error {
	registry := notify.NewRegistry()
	registry.Register(notify.NewWebhookChannel(a.Sugar))
	registry.Register(notify.NewEmailChannel(a.Sugar))
	registry.Register(notify.NewChatChannel(a.Sugar))

	dispatcher := notify.NewDispatcher(registry, a.Stores.Records, a.Sugar,
		notify.WithMaxAttempts(a.Config.Notify.MaxAttempts),
		notify.WithBackoff(a.Config.Notify.BaseBackoff),
		notify.WithAttemptTimeout(a.Config.Notify.AttemptTimeout),
	)
	a.dispatcher = dispatcher

	a.Sink = audit.NewSink(a.Stores.Audit, a.Sugar, a.Config.Audit.QueueSize)

	// Rule updates and deletes through the API must evict the compiled
	// predicate immediately, not wait for the UpdatedAt check.
	a.evaluator = detect.NewEvaluator(a.Sugar)
	a.ruleStore.SetCacheInvalidator(a.evaluator)

	a.Pipeline = pipeline.New(
		a.Stores.Rules,
		a.Stores.Events,
		a.Stores.Alerts,
		a.evaluator,
		alert.NewEmitter(a.Stores.Alerts, a.Sugar),
		correlate.NewEngine(a.Stores.Clusters, a.Sugar),
		score.NewScorer(a.Stores.Alerts, a.Stores.Clusters, a.Stores.Incidents, a.Stores.Scores, a.Sugar),
		incident.NewBridge(a.Stores.Alerts, a.Stores.Incidents, a.Sugar),
		dispatcher,
		a.Sink,
		a.Sugar,
	)
	return nil
}

func (a *App) initScheduler(ctx context.Context) error {
	var lease scheduler.Lease
	if a.Config.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     a.Config.Redis.Addr,
			Password: a.Config.Redis.Password,
			DB:       a.Config.Redis.DB,
			PoolSize: a.Config.Redis.PoolSize,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis at %s: %w", a.Config.Redis.Addr, err)
		}
		a.redisClient = client
		lease = scheduler.NewRedisLease(client)
		a.Sugar.Infow("Using Redis run lease", "addr", a.Config.Redis.Addr)
	} else {
		lease = scheduler.NewLocalLease()
		a.Sugar.Info("Using in-process run lease")
	}

	a.Scheduler = scheduler.New(ctx, a.Stores.Tenants, a.Pipeline, lease, a.Sugar, scheduler.Config{
		DefaultInterval: a.Config.Scheduler.DefaultInterval,
		LeaseTTL:        a.Config.Scheduler.LeaseTTL,
		Workers:         a.Config.Scheduler.Workers,
		QueueSize:       a.Config.Scheduler.QueueSize,
		RefreshInterval: a.Config.Scheduler.RefreshInterval,
	})
	return nil
}

func (a *App) initAPI(_ context.Context) error {
	if !a.Config.API.Enabled {
		return nil
	}
	validator, err := rules.NewValidator(rules.NewFieldRegistry())
	if err != nil {
		return fmt.Errorf("failed to build rule validator: %w", err)
	}

	handler := api.New(a.Stores, validator, a.dispatcher, a.Scheduler, a.Sugar)
	router := handler.Router(api.RateLimit{
		RequestsPerSecond: a.Config.API.RateLimit.RequestsPerSecond,
		Burst:             a.Config.API.RateLimit.Burst,
	})
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	a.APIServer = &http.Server{
		Addr:         a.Config.ListenAddr(),
		Handler:      router,
		ReadTimeout:  a.Config.API.ReadTimeout,
		WriteTimeout: a.Config.API.WriteTimeout,
	}
	return nil
}

// LoadRuleFiles seeds rules from the configured directory, if any.
func (a *App) LoadRuleFiles(ctx context.Context) error {
	if a.Config.DataPaths.RulesDir == "" {
		return nil
	}
	validator, err := rules.NewValidator(rules.NewFieldRegistry())
	if err != nil {
		return err
	}
	loader := rules.NewLoader(a.Stores.Rules, validator, a.Sugar)
	n, err := loader.LoadDir(ctx, a.Config.DataPaths.RulesDir)
	if err != nil {
		return fmt.Errorf("failed to load rule files: %w", err)
	}
	a.Sugar.Infow("Rule files seeded", "count", n)
	return nil
}

// Run starts everything and blocks until ctx is canceled or a shutdown
// signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.LoadRuleFiles(ctx); err != nil {
		return err
	}
	if err := a.Scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	errCh := make(chan error, 1)
	if a.APIServer != nil {
		go func() {
			a.Sugar.Infow("API listening", "addr", a.APIServer.Addr)
			if err := a.APIServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		a.Sugar.Info("Shutdown signal received")
	case err := <-errCh:
		a.Sugar.Errorw("API server failed", "error", err)
		a.Shutdown()
		return err
	}

	a.Shutdown()
	return nil
}

// Shutdown stops components in reverse dependency order: stop accepting
// API traffic, stop scheduling runs, drain the audit sink, then close
// storage.
func (a *App) Shutdown() {
	if a.APIServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.API.ShutdownTimeout)
		defer cancel()
		if err := a.APIServer.Shutdown(shutdownCtx); err != nil {
			a.Sugar.Warnw("API shutdown incomplete", "error", err)
		}
	}
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.Sink != nil {
		a.Sink.Close()
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.Sugar.Warnw("Redis close failed", "error", err)
		}
	}
	if a.SQLite != nil {
		if err := a.SQLite.Close(); err != nil {
			a.Sugar.Warnw("Storage close failed", "error", err)
		}
	}
	a.Sugar.Info("Shutdown complete")
	_ = a.Logger.Sync()
}
