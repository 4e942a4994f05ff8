package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"gatekeeper/internal/api"
	"gatekeeper/internal/config"
	"gatekeeper/internal/database"
	"gatekeeper/internal/limiter"
	"gatekeeper/internal/store"
	"gatekeeper/internal/websocket"
)

// Application is the composition root. It owns every component's lifecycle
// and is the only place where the rate limiter is wired in front of the
// request and session paths.
type Application struct {
	config     *config.Config
	store      *store.Client
	limiter    limiter.Limiter
	dbManager  *database.Manager
	registry   *websocket.Registry
	wsHandler  *websocket.Handler
	apiServer  *api.Server
	httpServer *http.Server
	stopCh     chan struct{}
}

// NewApplication initializes components in dependency order:
// store → limiter → database → registry → handler → api → http.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var (
		storeClient *store.Client
		lim         limiter.Limiter
		storeHealth api.StoreHealth
	)
	switch cfg.RateLimit.Backend {
	case "redis":
		sc, err := store.New(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize store client: %w", err)
		}
		storeClient = sc
		storeHealth = sc
		lim = limiter.NewRedisLimiter(sc, cfg.RateLimit)
	case "memory":
		lim = limiter.NewMemoryLimiter(cfg.RateLimit)
	default:
		return nil, fmt.Errorf("unknown rate limit backend %q", cfg.RateLimit.Backend)
	}

	dbManager, err := database.NewManager(cfg.Database)
	if err != nil {
		if storeClient != nil {
			_ = storeClient.Close()
		}
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	registry := websocket.NewRegistry(cfg.WebSocket.MaxMessageSize)
	wsHandler := websocket.NewHandler(registry, lim, cfg.WebSocket)
	apiServer := api.NewServer(lim, registry, storeHealth, dbManager, cfg.Health.CheckTimeout)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/{client_id}", wsHandler.HandleWebSocket)
	mux.Handle("/", apiServer)

	handler := api.SecurityHeadersMiddleware(api.AdmissionMiddleware(lim)(mux))

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		store:      storeClient,
		limiter:    lim,
		dbManager:  dbManager,
		registry:   registry,
		wsHandler:  wsHandler,
		apiServer:  apiServer,
		httpServer: httpServer,
		stopCh:     make(chan struct{}),
	}, nil
}

// Start verifies the store, warms the limiter script, and begins serving.
// A store that is down at startup is fatal, matching the explicit init
// lifecycle; once running, store failures degrade to fail-open instead.
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting %s on %s", api.ServiceName, app.httpServer.Addr)

	if app.store != nil {
		pingCtx, cancel := context.WithTimeout(ctx, app.config.Redis.SocketConnectTimeout)
		err := app.store.Ping(pingCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("store unavailable at startup: %w", err)
		}
		log.Printf("Redis connection pool initialized with max %d connections",
			app.config.Redis.MaxConnections)

		if rl, ok := app.limiter.(*limiter.RedisLimiter); ok {
			if err := rl.Preload(ctx); err != nil {
				// Non-fatal: the script reloads lazily on first use.
				log.Printf("Failed to preload rate limit script: %v", err)
			} else {
				log.Println("Rate limiter initialized")
			}
		}
	}

	if ml, ok := app.limiter.(*limiter.MemoryLimiter); ok {
		go app.runMemoryCleanup(ml)
	}

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		return err
	case <-time.After(100 * time.Millisecond):
		log.Println("Application startup completed")
		return nil
	}
}

// runMemoryCleanup bounds the in-process limiter's identifier map. Entries
// idle for five windows can no longer affect any decision.
func (app *Application) runMemoryCleanup(ml *limiter.MemoryLimiter) {
	ticker := time.NewTicker(app.config.RateLimit.Window)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ml.Cleanup(5 * app.config.RateLimit.Window)
		case <-app.stopCh:
			return
		}
	}
}

// Stop drains in flight work and releases every component, in reverse
// dependency order.
func (app *Application) Stop(ctx context.Context) error {
	log.Println("Shutting down application...")
	close(app.stopCh)

	var firstErr error
	if err := app.httpServer.Shutdown(ctx); err != nil {
		firstErr = fmt.Errorf("HTTP server shutdown: %w", err)
	}

	app.registry.CloseAll()

	if err := app.dbManager.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if app.store != nil {
		if err := app.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	log.Println("Application shutdown completed")
	return firstErr
}
