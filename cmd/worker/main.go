package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Domenick1991/flightbooking/config"
	"github.com/Domenick1991/flightbooking/internal/bootstrap"
	"github.com/Domenick1991/flightbooking/internal/cache"
	"github.com/Domenick1991/flightbooking/internal/email"
	"github.com/Domenick1991/flightbooking/internal/kafka"
	"github.com/Domenick1991/flightbooking/internal/ledger"
	"github.com/Domenick1991/flightbooking/internal/logger"
	"github.com/Domenick1991/flightbooking/internal/metrics"
	"github.com/Domenick1991/flightbooking/internal/repository"
	"github.com/Domenick1991/flightbooking/internal/service/booking"
	"github.com/Domenick1991/flightbooking/internal/service/finalizer"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		bootLog := logger.New(config.LogConfig{}, os.Stderr)
		bootLog.Fatal().Err(err).Msg("load config")
	}
	log := logger.New(cfg.Log, os.Stdout).With().Str("process", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	redisCache := cache.NewRedisCache(cfg.Redis, cfg.Booking.FlightsCacheTTLDuration())
	defer redisCache.Close()

	m := metrics.NewDefault()
	producer := kafka.NewProducer(cfg.Kafka.Brokers, log)
	defer producer.Close()

	flightRepo := repository.NewFlightRepository(pool)
	bookingRepo := repository.NewBookingRepository(pool)
	ledgerClient := ledger.NewClient(cfg.Ledger, m)

	compensatorOpts := []booking.CompensatorOption{booking.WithCompensatorMetrics(m)}
	if cfg.Kafka.Enabled() {
		compensatorOpts = append(compensatorOpts, booking.WithCompensatorEvents(producer, cfg.Kafka.NotificationsTopic))
	}
	compensator := booking.NewCompensator(bookingRepo, ledgerClient, log, compensatorOpts...)
	finalizerOpts := []finalizer.Option{
		finalizer.WithLocker(redisCache, cfg.Booking.FinalizeLockTTL()),
		finalizer.WithMetrics(m),
	}
	if cfg.Kafka.Enabled() {
		finalizerOpts = append(finalizerOpts, finalizer.WithEvents(producer, cfg.Kafka.NotificationsTopic))
	}
	runner := finalizer.New(bookingRepo, flightRepo, compensator, log, finalizerOpts...)
	sweeper := finalizer.NewSweeper(bookingRepo, runner, compensator,
		cfg.Worker.SweepBatchSize, cfg.Worker.MaxRefundAttempts, m, log)

	metricsMux := http.NewServeMux()
	metricsMux.Handle(cfg.HTTP.MetricsPath, m.Handler())

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sweeper.Run(gctx, cfg.Worker.SweepSchedule)
	})
	g.Go(func() error {
		return bootstrap.Run(gctx, log, bootstrap.NewHTTPServer(cfg.Worker.MetricsAddress, metricsMux))
	})

	if cfg.Kafka.Enabled() {
		finalizeConsumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.FinalizeTopic, log)
		defer finalizeConsumer.Close()
		g.Go(func() error {
			return finalizeConsumer.Consume(gctx, finalizer.NewTaskHandler(runner, log))
		})

		if cfg.Kafka.NotificationsTopic != "" {
			sender := email.NewSender(log)
			notificationsConsumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID+"-notifications", cfg.Kafka.NotificationsTopic, log)
			defer notificationsConsumer.Close()
			g.Go(func() error {
				return notificationsConsumer.Consume(gctx, sender.Handle)
			})
		}
	}

	log.Info().Bool("kafka", cfg.Kafka.Enabled()).Str("sweep_schedule", cfg.Worker.SweepSchedule).Msg("worker started")
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("worker stopped")
	}
}
