package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ddanilov/podvault/internal/client/config"
	"github.com/ddanilov/podvault/internal/client/conflict"
	"github.com/ddanilov/podvault/internal/client/engine"
	"github.com/ddanilov/podvault/internal/client/localdb"
	"github.com/ddanilov/podvault/internal/client/netman"
	"github.com/ddanilov/podvault/internal/client/outbox"
	"github.com/ddanilov/podvault/internal/client/store"
	"github.com/ddanilov/podvault/internal/client/syncstate"
	"github.com/ddanilov/podvault/internal/logging"
)

func main() {
	ctx := context.Background()
	cfg := config.LoadConfig()

	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	db, err := localdb.Open(ctx, cfg.DatabasePath)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer db.Close()

	net := netman.NewHTTPManager(cfg.ServerBaseURL,
		func(ctx context.Context) (string, error) { return cfg.AuthToken, nil },
		logger,
		netman.Options{PageSize: cfg.PullPageSize},
	)

	eng := engine.New(
		store.New(db, logger),
		outbox.NewSQLiteRepository(db, cfg.MaxRetries),
		syncstate.NewSQLiteRepository(db),
		conflict.NewResolver(conflict.DefaultRules()...),
		net,
		logger,
		engine.Options{
			PushBatchSize: cfg.PushBatchSize,
			SyncInterval:  cfg.SyncInterval,
			Realtime:      cfg.RealtimeEnabled,
		},
	)

	if err := eng.Initialize(ctx); err != nil {
		log.Fatalf("%v", err)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	<-sigs

	eng.Stop()
}
