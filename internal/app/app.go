package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"keymint-go/internal/auth"
	"keymint-go/internal/config"
	"keymint-go/internal/reaper"
	"keymint-go/internal/session"
	"keymint-go/internal/storage"
	"keymint-go/internal/worker"
)

// Application holds all the major components of the service.
type Application struct {
	Config        *config.Config
	Logger        zerolog.Logger
	DB            *storage.SQLiteStorage
	Orchestrator  *auth.Orchestrator
	SessionStore  session.Store
	WorkerPool    *worker.Pool
	Reaper        *reaper.Reaper
	HTTPServer    *http.Server
	MetricsServer *http.Server
}

// New creates and initializes a new Application instance.
func New(cfg *config.Config) (*Application, error) {
	logger := newLogger(cfg.LogLevel)

	// Setup: Database
	db, err := storage.NewSQLiteStorage(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	credStore, err := storage.NewCredentialStore(db, []byte(cfg.EncryptionKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create credential store: %w", err)
	}

	// Setup: Session Store
	var memStore *session.InMemoryStore
	var sessionStore session.Store
	switch cfg.Session.Backend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Session.RedisAddr})
		sessionStore = session.NewRedisStore(rdb)
	default:
		memStore = session.NewInMemoryStore()
		sessionStore = memStore
	}

	// Setup: WorkerPool
	pool := worker.NewPool(cfg.NumWorkers, 0)

	// Setup: Orchestrator
	orch := auth.NewOrchestrator(providerConfigs(cfg), sessionStore, credStore, pool, logger)

	// Setup: Reaper. The redis backend expires keys server-side, so only
	// the in-memory store needs sweeping.
	rp := reaper.New(cfg.Reaper.Interval.Duration, logger)
	if memStore != nil {
		rp.Register("sessions", memStore)
	}
	rp.Register("web_logins", orch.PendingWebLogins())

	// Setup: HTTP Server for metrics
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: metricsMux,
	}

	app := &Application{
		Config:        cfg,
		Logger:        logger,
		DB:            db,
		Orchestrator:  orch,
		SessionStore:  sessionStore,
		WorkerPool:    pool,
		Reaper:        rp,
		MetricsServer: metricsServer,
	}

	// Setup: Main HTTP Server
	httpMux := http.NewServeMux()
	app.registerRoutes(httpMux)
	app.HTTPServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: app.logRequests(httpMux),
	}

	return app, nil
}

// Start begins the application's services.
func (a *Application) Start(ctx context.Context) error {
	a.Logger.Info().Msg("starting application services")

	a.WorkerPool.Start()
	a.Reaper.Start()

	go func() {
		a.Logger.Info().Str("addr", a.MetricsServer.Addr).Msg("starting metrics server")
		if err := a.MetricsServer.ListenAndServe(); err != http.ErrServerClosed {
			a.Logger.Fatal().Err(err).Msg("metrics server ListenAndServe")
		}
	}()

	go func() {
		a.Logger.Info().Str("addr", a.HTTPServer.Addr).Msg("starting HTTP server")
		if err := a.HTTPServer.ListenAndServe(); err != http.ErrServerClosed {
			a.Logger.Fatal().Err(err).Msg("HTTP server ListenAndServe")
		}
	}()

	return nil
}

// Stop gracefully shuts down the application's services.
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.Info().Msg("stopping application services")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := a.HTTPServer.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error().Err(err).Msg("HTTP server shutdown error")
	}
	if err := a.MetricsServer.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error().Err(err).Msg("metrics server shutdown error")
	}

	a.Reaper.Stop()
	a.WorkerPool.Stop()

	if err := a.DB.Close(); err != nil {
		a.Logger.Error().Err(err).Msg("error closing database")
	}

	a.Logger.Info().Msg("application stopped gracefully")
	return nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Str("service", "keymint").Logger()
}

// providerConfigs converts the file-level provider section into the
// orchestrator's read-only provider map.
func providerConfigs(cfg *config.Config) map[auth.Provider]auth.ProviderConfig {
	providers := make(map[auth.Provider]auth.ProviderConfig, len(cfg.Providers))
	for name, pc := range cfg.Providers {
		providers[auth.Provider(name)] = auth.ProviderConfig{
			ClientID:     pc.ClientID,
			AuthorizeURL: pc.AuthorizeURL,
			TokenURL:     pc.TokenURL,
			APIKeyURL:    pc.APIKeyURL,
			RedirectURI:  pc.RedirectURI,
			Scopes:       pc.Scopes,
			Flow:         auth.FlowKind(pc.Flow),
		}
	}
	return providers
}
