// Package server wires the sync server together: storage backend, schema
// migrations, the sync service, the realtime hub and the HTTP endpoint, with
// graceful shutdown on OS signals.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ddanilov/podvault/internal/logging"
	"github.com/ddanilov/podvault/internal/server/config"
	"github.com/ddanilov/podvault/internal/server/httpapi"
	"github.com/ddanilov/podvault/internal/server/models"
	"github.com/ddanilov/podvault/internal/server/repositories/repomanager"
	syncsvc "github.com/ddanilov/podvault/internal/server/sync"
)

// DSNInMemory selects the in-memory backend instead of PostgreSQL.
const DSNInMemory = "inmemory"

const shutdownTimeout = 10 * time.Second

type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB
	hub    *httpapi.Hub
	server *http.Server
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	var db *sql.DB
	var manager repomanager.RepositoryManager
	if cfg.DatabaseDSN == DSNInMemory {
		manager = repomanager.NewInMemoryRepositoryManager()
	} else {
		var err error
		db, err = sql.Open("pgx", cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("db init error: %w", err)
		}
		manager = repomanager.NewPostgresRepositoryManager()
	}

	if err := manager.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	service := syncsvc.New(db, manager, logger)
	hub := httpapi.NewHub(logger)
	service.OnAppend = func(lc models.LoggedChange) { hub.Broadcast(lc.Change) }

	api := httpapi.NewServer(service, hub, []byte(cfg.SecretKey), logger)

	return &App{
		config: cfg,
		logger: logger,
		db:     db,
		hub:    hub,
		server: &http.Server{Addr: cfg.EndpointAddr, Handler: api.Handler()},
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting server", "addr", app.config.EndpointAddr)
	app.initSignalHandler(cancelFunc)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := app.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		app.logger.Info(context.Background(), "shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		app.hub.Close()
		if err := app.server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if app.db != nil {
			return app.db.Close()
		}
		return nil
	})

	return g.Wait()
}
