package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"securechat/internal/account"
	"securechat/internal/api"
	"securechat/internal/codec"
	"securechat/internal/config"
	"securechat/internal/database"
	"securechat/internal/history"
	"securechat/internal/hub"
	"securechat/internal/router"
	"securechat/internal/websocket"
	pkgdatabase "securechat/pkg/database"
)

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config     *config.Config
	log        *slog.Logger
	dbManager  *database.Manager
	registry   *websocket.Registry
	messageHub *hub.Hub
	apiServer  *api.Server
	httpServer *http.Server
	listener   net.Listener
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Database → Codec → Registry → Router → History → Hub → Accounts → API → HTTP
func NewApplication(cfg *config.Config, log *slog.Logger) (*Application, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}

	// Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: Initialize database manager (foundation layer)
	dbConfig := pkgdatabase.DefaultConfig()
	dbConfig.DatabasePath = cfg.Database.Path
	dbConfig.WriteTimeout = cfg.Database.Timeout
	dbConfig.RetryDelay = cfg.Database.RetryDelay

	dbManager, err := database.NewManager(dbConfig, log.With("component", "database"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	// STEP 1.5: Apply embedded migrations, then confirm the schema the store expects
	if err := pkgdatabase.NewEmbeddedMigrationManager(dbManager.GetDB()).ApplyMigrations(); err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	if err := pkgdatabase.NewSchemaValidator(dbManager.GetDB()).Validate(); err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("database schema validation failed: %w", err)
	}
	log.Info("Database migrations applied successfully", "path", cfg.Database.Path)

	// STEP 2: Codec with the process-wide key
	messageCodec, err := codec.New(cfg.Chat.EncryptionKey)
	if err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to initialize codec: %w", err)
	}

	// STEP 3: Initialize WebSocket registry for connection tracking
	registry := websocket.NewRegistry(cfg.Chat.MaxConnections, log.With("component", "registry"))

	// STEP 4: Broadcast router and history service share the store and codec
	messageRouter := router.NewRouter(messageCodec, dbManager, registry, log.With("component", "router"))
	historyService := history.NewService(messageCodec, dbManager, log.With("component", "history"))

	// STEP 5: Initialize message hub for coordination
	messageHub := hub.NewHub(messageRouter, historyService, router.NewRateLimiter(cfg.Chat.RateLimit), log.With("component", "hub"))

	// STEP 6: Account collaborator
	tokens, err := account.NewTokenIssuer(cfg.Auth.TokenSecret, cfg.Auth.TokenDuration)
	if err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to initialize token issuer: %w", err)
	}
	accounts := account.NewManager(dbManager, tokens, cfg.Auth.BcryptCost, log.With("component", "account"))

	// STEP 7: API server plus the WebSocket endpoint on the same router
	apiServer := api.NewServer(accounts, messageRouter, historyService, dbManager, registry, log.With("component", "api"))
	wsHandler := websocket.NewHandler(registry, messageHub, websocket.HandlerConfig{
		PingInterval:   cfg.WebSocket.PingInterval,
		ReadTimeout:    cfg.WebSocket.ReadTimeout,
		WriteTimeout:   cfg.WebSocket.WriteTimeout,
		BufferSize:     cfg.WebSocket.BufferSize,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
		AllowedOrigins: cfg.WebSocket.AllowedOrigins,
	}, log.With("component", "websocket"))
	apiServer.HandleRealtime("/ws", wsHandler.HandleWebSocket)

	// TECHNICAL DISCOVERY: WriteTimeout only covers plain HTTP; hijacked
	// websocket connections manage their own deadlines
	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.HTTP.Host, fmt.Sprint(cfg.HTTP.Port)),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		log:        log,
		dbManager:  dbManager,
		registry:   registry,
		messageHub: messageHub,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// Start begins application execution
// Hub starts first to handle events, then the HTTP server accepts connections
func (app *Application) Start(ctx context.Context) error {
	// STEP 1: Start message hub
	if err := app.StartHub(ctx); err != nil {
		return err
	}

	// STEP 2: Bind synchronously so address errors surface here
	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		_ = app.messageHub.Stop()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = listener

	go func() {
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.log.Error("HTTP server error", "error", err)
		}
	}()

	app.log.Info("Securechat application started", "addr", listener.Addr().String())
	return nil
}

// StartHub opens event processing without binding a listener, for callers
// that serve Handler themselves
func (app *Application) StartHub(ctx context.Context) error {
	if err := app.messageHub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start message hub: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → WebSocket connections → Hub → Database
func (app *Application) Stop(ctx context.Context) error {
	app.log.Info("Shutting down securechat application")

	var errs []error

	// STEP 1: Stop accepting new connections
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP server shutdown: %w", err))
	}

	// STEP 2: Hijacked websocket connections are not covered by Shutdown
	app.registry.CloseAll()

	// STEP 3: Stop event processing
	if err := app.messageHub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		errs = append(errs, fmt.Errorf("message hub shutdown: %w", err))
	}

	// STEP 4: Flush pending writes and close the database
	if err := app.dbManager.Close(); err != nil {
		errs = append(errs, fmt.Errorf("database shutdown: %w", err))
	}

	app.log.Info("Securechat application shutdown complete")
	return errors.Join(errs...)
}

// Handler exposes the routed API and WebSocket endpoint, e.g. for httptest
func (app *Application) Handler() http.Handler {
	return app.apiServer
}

// GetAddr returns the bound address once started, else the configured one
func (app *Application) GetAddr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}
