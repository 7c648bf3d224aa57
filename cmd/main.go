package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"mediaflow/internal/blob"
	"mediaflow/internal/events"
	"mediaflow/internal/logger"
	"mediaflow/internal/media"
	"mediaflow/internal/metrics"
	"mediaflow/internal/models"
	"mediaflow/internal/server"
	"mediaflow/internal/storage"
	"mediaflow/internal/transform"
)

const shutdownTimeout = 15 * time.Second

func main() {
	_ = godotenv.Load()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := models.LoadConfig(path)
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}

	log := logger.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("service stopped with error")
	}
	log.Info().Msg("service stopped")
}

func run(ctx context.Context, cfg *models.Config, log zerolog.Logger) error {
	db, err := storage.NewStorage(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return err
	}
	defer db.Close()

	blobs, err := blob.NewS3Store(ctx, cfg.S3, log)
	if err != nil {
		return err
	}
	if cfg.S3.EnsureBucket {
		if err := blobs.EnsureBucket(ctx); err != nil {
			return err
		}
	}

	tr, err := transform.New(cfg.Watermark, log)
	if err != nil {
		return err
	}

	publisher := events.NewPublisher(cfg.Kafka, log)
	defer publisher.Close()

	prom := metrics.New()
	svc := media.NewService(db, blobs, tr, publisher, prom, cfg.Media, log)

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Mode == models.ModeAll || cfg.Mode == models.ModeAPI {
		srv := server.NewServer(cfg, svc, prom.Handler(), log)
		g.Go(srv.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if cfg.Mode == models.ModeAll || cfg.Mode == models.ModeWorker {
		uploads := events.NewConsumer(cfg.Kafka, cfg.Kafka.UploadsTopic,
			events.LandedHandler(svc, log), prom, log)
		defer uploads.Close()

		management := events.NewConsumer(cfg.Kafka, cfg.Kafka.ManagementTopic,
			events.ManagementHandler(svc, log), prom, log)
		defer management.Close()

		g.Go(func() error { return uploads.Run(ctx) })
		g.Go(func() error { return management.Run(ctx) })
		g.Go(func() error { return svc.RunSweeper(ctx) })
	}

	log.Info().Str("mode", cfg.Mode).Msg("service started")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
