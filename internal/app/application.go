package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"liveclass/internal/api"
	"liveclass/internal/auth"
	"liveclass/internal/catalog"
	"liveclass/internal/config"
	"liveclass/internal/hub"
	"liveclass/internal/room"
	"liveclass/internal/websocket"
	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

// Application coordinates all system components.
// Initialization order: Catalog → Registry → Rooms → Hub → WebSocket → API → HTTP
type Application struct {
	config     *config.Config
	logger     zerolog.Logger
	catalog    interfaces.ClassCatalog
	registry   *websocket.Registry
	rooms      *room.Registry
	hub        *hub.Hub
	apiServer  *api.Server
	httpServer *http.Server

	listener net.Listener
}

// NewApplication creates a new application instance with all components initialized
func NewApplication(cfg *config.Config, logger *zerolog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: Class catalog, optional
	var classes interfaces.ClassCatalog
	if cfg.Catalog.Enabled {
		store, err := catalog.Open(cfg.Catalog.Database, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open class catalog: %w", err)
		}
		cache := catalog.NewCache(store, cfg.Catalog.CacheTTL, logger)
		if err := cache.LoadActiveClasses(context.Background()); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to load active classes: %w", err)
		}
		classes = cache
	}

	// STEP 2: Connection registry and room store
	registry := websocket.NewRegistry(logger)
	rooms := room.NewRegistry(
		room.WithChatHistoryLimit(cfg.Room.ChatHistoryLimit),
		room.WithDeleteWhenEmpty(cfg.Room.DeleteWhenEmpty),
	)

	// STEP 3: Event dispatcher
	messageHub := hub.NewHub(hub.Config{
		QueueSize:     cfg.Room.QueueSize,
		ChatRateLimit: cfg.Room.ChatRateLimit,
		EvictDelay:    cfg.Room.EvictDelay,
		IdleTTL:       cfg.Room.IdleTTL,
		ReapInterval:  cfg.Room.ReapInterval,
		ICEServers:    cfg.ICE.WebRTC(),
	}, registry, rooms, classes, logger)

	// STEP 4: WebSocket transport
	wsHandler := websocket.NewHandler(websocket.Config{
		PingInterval:   cfg.WebSocket.PingInterval,
		ReadTimeout:    cfg.WebSocket.ReadTimeout,
		WriteTimeout:   cfg.WebSocket.WriteTimeout,
		SendBuffer:     cfg.WebSocket.BufferSize,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	}, registry, auth.NewQueryResolver(types.RoleStudent), messageHub, logger)

	// STEP 5: HTTP surface
	apiServer := api.NewServer(api.Config{
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Rooms:          rooms,
		Connections:    registry,
		Hub:            messageHub,
		Catalog:        classes,
		WebSocket:      wsHandler,
		Logger:         logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr(),
		Handler:           apiServer,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		logger:     logger.With().Str("component", "app").Logger(),
		catalog:    classes,
		registry:   registry,
		rooms:      rooms,
		hub:        messageHub,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// Start launches the hub and then the HTTP listener. It returns once the
// server is accepting connections. The hub outlives ctx so Stop can still
// apply the departures of the sockets it closes.
func (app *Application) Start(ctx context.Context) error {
	if err := app.hub.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("failed to start message hub: %w", err)
	}

	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		_ = app.hub.Stop()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = listener

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		_ = app.hub.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		app.logger.Info().Str("addr", app.Addr()).Msg("liveclass started")
		return nil
	case <-ctx.Done():
		_ = app.httpServer.Close()
		_ = app.hub.Stop()
		return ctx.Err()
	}
}

// Stop shuts down in reverse order: HTTP → sockets → Hub → Catalog.
// Open sockets are closed while the hub still runs so their rooms see the
// departures.
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info().Msg("shutting down")

	var errs []error
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	if n := app.registry.CloseAll(); n > 0 {
		app.waitForDrain(ctx)
		app.logger.Info().Int("connections", n).Msg("closed websocket connections")
	}

	if err := app.hub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		errs = append(errs, fmt.Errorf("hub shutdown: %w", err))
	}

	if app.catalog != nil {
		if err := app.catalog.Close(); err != nil {
			errs = append(errs, fmt.Errorf("catalog shutdown: %w", err))
		}
	}

	app.logger.Info().Msg("shutdown complete")
	return errors.Join(errs...)
}

// waitForDrain waits until every read pump has unregistered its connection
func (app *Application) waitForDrain(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for app.registry.Stats()["total_connections"] > 0 {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Run starts the application and blocks until ctx is cancelled, then shuts
// down within the configured timeout.
func (app *Application) Run(ctx context.Context) error {
	if err := app.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.HTTP.ShutdownTimeout)
	defer cancel()
	return app.Stop(shutdownCtx)
}

// Addr returns the bound listen address once started, the configured one before
func (app *Application) Addr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Handler exposes the HTTP surface for in-process testing
func (app *Application) Handler() http.Handler {
	return app.apiServer
}
