package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"golang.org/x/sync/errgroup"

	"presence-backend/internal/db"
	"presence-backend/internal/handlers"
	"presence-backend/internal/services"
	"presence-backend/internal/utils"
)

// App owns every long-lived component of the server process.
type App struct {
	cfg       utils.Config
	log       *slog.Logger
	gate      *db.Gate
	connector *db.Connector
	registry  *services.Registry
	messages  *services.MessageService
	http      *fiber.App

	cancel context.CancelFunc
	group  *errgroup.Group
}

// Run loads configuration, starts the server and blocks until SIGINT/SIGTERM.
// It returns the process exit code.
func Run() int {
	cfg, err := utils.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	log := utils.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	a, err := New(cfg, log)
	if err != nil {
		log.Error("failed to build server", "error", err)
		return 1
	}
	if err := a.Start(context.Background()); err != nil {
		log.Error("failed to start server", "error", err)
		return 1
	}

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"presence-server": func(ctx context.Context) error {
				log.Info("Gracefully shutting down...")
				return a.Stop(ctx)
			},
		},
	)
	code := <-wait
	log.Info("Server shutdown complete", "exit_code", code)
	return code
}

// New wires the registry, relay, gate and HTTP routes without starting anything.
func New(cfg utils.Config, log *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{cfg: cfg, log: log}

	a.gate = db.NewGate(log.With("component", "gate"))
	dial, err := dialerFor(cfg)
	if err != nil {
		return nil, err
	}
	if dial != nil {
		a.connector = db.NewConnector(a.gate, dial, db.ConnectorConfig{
			RetryMin:     cfg.StoreRetryMin,
			RetryMax:     cfg.StoreRetryMax,
			PingInterval: cfg.StorePingInterval,
			OpTimeout:    cfg.StoreOpTimeout,
		}, log.With("component", "connector"))
	}

	// Services
	presence := services.NewPresenceBroadcaster(log.With("component", "presence"))
	a.registry = services.NewRegistry(presence, log.With("component", "registry"))
	a.messages = services.NewMessageService(a.gate, services.MessageServiceConfig{
		Workers:   cfg.PersistWorkers,
		QueueSize: cfg.PersistQueueSize,
		OpTimeout: cfg.StoreOpTimeout,
	}, log.With("component", "messages"))
	relay := services.NewRelay(a.registry, a.messages, log.With("component", "relay"))
	handler := handlers.NewHandler(a.registry, relay, log.With("component", "ws"))

	// Fiber App
	a.http = fiber.New(fiber.Config{
		AppName:               "presence-backend",
		DisableStartupMessage: true,
	})
	a.http.Use(recover.New())
	a.http.Use(logger.New())
	a.http.Use(cors.New(cors.Config{AllowOrigins: cfg.CORSAllowedOrigins}))

	// Health Check
	a.http.Get("/health", handlers.HealthHandler)
	a.http.Get("/status", handlers.StatusHandler(a.registry, a.gate))

	api := a.http.Group("/api")
	api.Get("/rooms/:room_id/members", handlers.RoomMembersHandler(a.registry))
	api.Get("/users/:user_id/messages",
		handlers.UserMessagesHandler(a.messages, a.gate, cfg.HistoryLimit, cfg.StoreOpTimeout))

	// WebSocket Route
	a.http.Use("/ws", handlers.WSUpgradeMiddleware)
	a.http.Get("/ws", handlers.WebSocketHandler(handler, handlers.TransportConfig{
		SendBufferSize: cfg.SendBufferSize,
		MaxMessageSize: cfg.MaxMessageSize,
	}, log.With("component", "transport")))

	return a, nil
}

func dialerFor(cfg utils.Config) (db.Dialer, error) {
	switch cfg.StoreDriver {
	case "postgres":
		return db.PostgresDialer(cfg.PostgresURL()), nil
	case "mongo":
		return db.MongoDialer(cfg.MongoURI, cfg.MongoDatabase), nil
	case "badger":
		return db.BadgerDialer(cfg.BadgerPath), nil
	case "none":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

// Start launches the store connector, persistence workers and the HTTP listener.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)
	a.group, ctx = errgroup.WithContext(ctx)

	if a.connector != nil {
		a.group.Go(func() error { return a.connector.Run(ctx) })
	} else {
		a.log.Warn("no message store configured, whispers are not persisted")
	}
	a.group.Go(func() error { return a.messages.Run(ctx) })

	errCh := make(chan error, 1)
	go func() {
		if err := a.http.Listen(a.cfg.Addr()); err != nil {
			errCh <- err
		}
	}()

	// Wait briefly to catch immediate startup errors
	select {
	case err := <-errCh:
		a.cancel()
		_ = a.group.Wait()
		return fmt.Errorf("server failed to start: %w", err)
	case <-time.After(100 * time.Millisecond):
	}

	a.log.Info("server started", "addr", a.cfg.Addr(), "store_driver", a.cfg.StoreDriver)
	return nil
}

// Stop shuts the HTTP server down, then stops background work and closes the store.
func (a *App) Stop(ctx context.Context) error {
	var errs []error
	if err := a.http.ShutdownWithContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to shutdown server: %w", err))
	}
	if a.cancel != nil {
		a.cancel()
		if err := a.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, err)
		}
	}
	if err := a.gate.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close store: %w", err))
	}
	return errors.Join(errs...)
}

// HTTP exposes the fiber app for in-process requests.
func (a *App) HTTP() *fiber.App {
	return a.http
}
