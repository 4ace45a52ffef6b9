package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/a-essam23/go-huddle/internal/server"
	"github.com/a-essam23/go-huddle/pkg/config"
	"github.com/a-essam23/go-huddle/pkg/logging"
	"github.com/a-essam23/go-huddle/pkg/store"
	"github.com/a-essam23/go-huddle/pkg/store/memstore"
	"github.com/a-essam23/go-huddle/pkg/store/pgstore"
	"github.com/spf13/pflag"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to the configuration file (default ./config.yaml)")
	logLevel := pflag.String("log-level", "", "override log.level from the configuration")
	pflag.Parse()

	logger := logging.New(logging.LevelInfo)
	cfg, err := config.Load(logger, *configPath)
	if err != nil {
		logger.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	level := cfg.Log.Level
	if *logLevel != "" {
		level = *logLevel
	}
	logger = logging.New(logging.ParseLevel(level))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		logger.Error("Failed to open store", slog.Any("error", err))
		os.Exit(1)
	}
	defer st.Close()
	logger.Info("Store ready", slog.String("driver", cfg.Store.Driver))

	app := server.NewApp(logger, ctx, cfg, st)
	if err := app.Run(); err != nil {
		logger.Error("Application run failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Application shut down successfully.")
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "memory":
		return memstore.New(), nil
	case "postgres":
		pg, err := pgstore.Open(ctx, pgstore.Config{DatabaseURL: cfg.DatabaseURL, MaxConns: cfg.MaxConns})
		if err != nil {
			return nil, err
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown store driver '%s'", cfg.Driver)
	}
}
