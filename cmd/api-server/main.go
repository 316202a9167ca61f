package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/serenispa/reservation-engine/internal/api"
	"github.com/serenispa/reservation-engine/internal/availability"
	"github.com/serenispa/reservation-engine/internal/clock"
	"github.com/serenispa/reservation-engine/internal/config"
	"github.com/serenispa/reservation-engine/internal/db"
	"github.com/serenispa/reservation-engine/internal/directory"
	"github.com/serenispa/reservation-engine/internal/metrics"
	"github.com/serenispa/reservation-engine/internal/notify"
	redisclient "github.com/serenispa/reservation-engine/internal/redis"
	"github.com/serenispa/reservation-engine/internal/reservation"
	"github.com/serenispa/reservation-engine/internal/schedule"
)

const version = "0.3.0"

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "api-server").Logger()
	logger.Info().Msg("api-server starting up")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config load error")
	}
	if cfg.Env == "dev" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}

	logger.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("configuration loaded")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Msg("connected to Redis")

	metrics.Register()

	clk := clock.System()
	shifts := schedule.NewPgRepository(pgPool)
	dir := directory.NewPgDirectory(pgPool)
	reservations := reservation.NewPgRepository(pgPool, logger)
	guard := reservation.NewGuard(reservations, shifts, clk, logger)
	cache := availability.NewCache(cfg.CacheTTL)
	notifier := notify.NewLogDispatcher(logger)
	locker := redisclient.NewRedisTherapistLocker(rdb, cfg.LockTTL, logger)

	manager := reservation.NewManager(
		reservations, guard, dir, dir, notifier, cache, locker, clk, logger,
		reservation.ManagerConfig{HoldTTL: cfg.HoldTTL, ReminderLead: cfg.ReminderLead},
	)
	availabilitySvc := availability.NewService(shifts, reservations, dir, dir, cache, clk, logger)

	router := api.NewRouter(api.RouterDeps{
		Availability: availabilitySvc,
		Manager:      manager,
		Reservations: reservations,
		Health:       api.NewHealthHandler(pgPool, rdb, cfg.Env, version),
		Logger:       logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-rootCtx.Done()
	logger.Info().Msg("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}
