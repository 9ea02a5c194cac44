package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/MiracleAig/IoT-WebUI/internal/database"
	"github.com/MiracleAig/IoT-WebUI/internal/events"
	"github.com/MiracleAig/IoT-WebUI/internal/metrics"
	"github.com/MiracleAig/IoT-WebUI/internal/server"
	"github.com/MiracleAig/IoT-WebUI/internal/service"
	"github.com/MiracleAig/IoT-WebUI/internal/source"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API (default command)",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewSQLiteDB(cfg.Database.Path, log)
	if err != nil {
		return err
	}
	defer db.Close()

	src, err := source.New(cfg.Source)
	if err != nil {
		return err
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	broadcaster := events.New(
		events.WithLogger(log),
		events.WithMetrics(m),
		events.WithMaxPending(cfg.Stream.MaxPending),
	)
	resolver := service.NewProductResolver(db, src, log, m)

	srv := server.New(cfg.Server, cfg.Stream, server.Deps{
		Resolver:    resolver,
		Recorder:    service.NewScanRecorder(db, resolver, broadcaster, log, m),
		Summarizer:  service.NewAggregator(db),
		Health:      db,
		Broadcaster: broadcaster,
		Metrics:     m,
		Logger:      log,
	})

	log.Info("Nutrition tracker starting",
		zap.String("version", Version),
		zap.String("env", cfg.App.Env),
		zap.String("database", cfg.Database.Path),
		zap.String("source", src.Name()),
	)
	return srv.Start(ctx)
}
