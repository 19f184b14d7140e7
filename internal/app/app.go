package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/linksapi/links/internal/config"
	"github.com/linksapi/links/internal/link"
	"github.com/linksapi/links/internal/search"
	"github.com/linksapi/links/internal/server"
	"github.com/linksapi/links/internal/store"
)

// App holds the application dependencies and configuration.
type App struct {
	Config *config.Config
	Logger *slog.Logger
	Store  link.Store
	Server *server.Server
}

// New initializes and returns a new App instance with all dependencies wired up.
func New(ctx context.Context) (*App, error) {
	if err := loadEnv(".env"); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := setupLogger(os.Stdout, cfg.App.LogLevel, cfg.App.LogFormat)

	logger.Info("starting application",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
	)

	return Build(ctx, cfg, logger)
}

// Build wires the application from an already loaded configuration.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	st, err := store.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open link store: %w", err)
	}

	links := link.NewHandler(link.HandlerConfig{
		Service: link.NewService(st),
		Logger:  logger,
	})

	searchClient := search.NewClient(search.Config{
		Endpoint: cfg.Search.Endpoint,
		APIKey:   cfg.Search.APIKey,
		CX:       cfg.Search.CX,
		Language: cfg.Search.Language,
		Safe:     cfg.Search.Safe,
		Timeout:  cfg.Search.Timeout,
	})
	if !cfg.Search.Enabled() {
		logger.Warn("search proxy disabled: GOOGLE_API_KEY or GOOGLE_CX not set")
	}

	srv := server.New(cfg, logger, links, search.NewHandler(searchClient, logger))

	logger.Info("application initialized",
		"addr", cfg.Server.Addr(),
		"backend", string(store.Select(cfg.Storage)),
		"static_dir", cfg.Server.StaticDir,
	)

	return &App{
		Config: cfg,
		Logger: logger,
		Store:  st,
		Server: srv,
	}, nil
}

// Start starts the application server.
func (a *App) Start(ctx context.Context) error {
	if err := a.Server.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown releases the link store.
func (a *App) Shutdown() error {
	a.Logger.Info("shutting down application")

	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			return fmt.Errorf("failed to close link store: %w", err)
		}
		a.Logger.Info("link store closed")
	}
	return nil
}

// loadEnv loads path into the environment when it exists. Variables that
// are already set win.
func loadEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// setupLogger creates a structured logger based on the log level and format.
func setupLogger(w io.Writer, level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}
