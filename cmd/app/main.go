package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Domenick1991/flightbooking/api"
	"github.com/Domenick1991/flightbooking/config"
	"github.com/Domenick1991/flightbooking/internal/bootstrap"
	"github.com/Domenick1991/flightbooking/internal/cache"
	"github.com/Domenick1991/flightbooking/internal/kafka"
	"github.com/Domenick1991/flightbooking/internal/ledger"
	"github.com/Domenick1991/flightbooking/internal/logger"
	"github.com/Domenick1991/flightbooking/internal/metrics"
	"github.com/Domenick1991/flightbooking/internal/repository"
	"github.com/Domenick1991/flightbooking/internal/service/booking"
	"github.com/Domenick1991/flightbooking/internal/service/finalizer"
	"github.com/Domenick1991/flightbooking/internal/service/flights"
	"github.com/Domenick1991/flightbooking/internal/service/ratings"
	"github.com/jackc/pgx/v5/pgxpool"
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
	log := logger.New(cfg.Log, os.Stdout)

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
	ratingRepo := repository.NewRatingRepository(pool)
	ledgerClient := ledger.NewClient(cfg.Ledger, m)

	compensatorOpts := []booking.CompensatorOption{booking.WithCompensatorMetrics(m)}
	bookingOpts := []booking.BookingServiceOption{booking.WithMetrics(m)}
	flightOpts := []flights.FlightServiceOption{flights.WithCache(redisCache)}
	healthChecks := map[string]api.HealthCheck{
		"postgres": pool.Ping,
		"redis":    redisCache.Ping,
	}
	if cfg.Kafka.Enabled() {
		compensatorOpts = append(compensatorOpts, booking.WithCompensatorEvents(producer, cfg.Kafka.NotificationsTopic))
		bookingOpts = append(bookingOpts, booking.WithEvents(producer, cfg.Kafka.NotificationsTopic))
		flightOpts = append(flightOpts, flights.WithNotifications(producer, cfg.Kafka.NotificationsTopic))
		healthChecks["kafka"] = producer.CheckConnection
	}

	compensator := booking.NewCompensator(bookingRepo, ledgerClient, log, compensatorOpts...)

	// Without brokers the finalizer runs in this process; the worker's sweep
	// still recovers anything lost on restart.
	var scheduler booking.FinalizeScheduler
	if cfg.Kafka.Enabled() {
		scheduler = finalizer.NewKafkaScheduler(producer, cfg.Kafka.FinalizeTopic)
	} else {
		runner := finalizer.New(bookingRepo, flightRepo, compensator, log,
			finalizer.WithLocker(redisCache, cfg.Booking.FinalizeLockTTL()),
			finalizer.WithMetrics(m),
		)
		delayed := finalizer.NewDelayedScheduler(runner, log)
		defer delayed.Close()
		scheduler = delayed
	}

	bookingService := booking.NewBookingService(
		bookingRepo,
		flightRepo,
		ledgerClient,
		scheduler,
		compensator,
		cfg.Booking.FinalizeDelay(),
		log,
		bookingOpts...,
	)
	flightService := flights.NewFlightService(flightRepo, bookingRepo, log, flightOpts...)
	ratingService := ratings.NewRatingService(ratingRepo, flightRepo, bookingRepo, log)

	router := api.NewRouter(log, api.Handlers{
		Bookings: api.NewBookingHandler(bookingService),
		Flights:  api.NewFlightHandler(flightService, bookingService),
		Ratings:  api.NewRatingHandler(ratingService),
	}, api.RouterOptions{
		MetricsPath:    cfg.HTTP.MetricsPath,
		MetricsHandler: m.Handler(),
		SwaggerDir:     cfg.HTTP.SwaggerDir,
		HealthChecks:   healthChecks,
	})

	if err := bootstrap.Run(ctx, log, bootstrap.NewHTTPServer(cfg.HTTP.Address, router)); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}
