package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"villaops/internal/api"
	"villaops/internal/config"
	"villaops/internal/database"
	"villaops/internal/domain"
	"villaops/internal/events"
	"villaops/internal/lifecycle"
	"villaops/internal/logging"
	"villaops/internal/metrics"
	"villaops/internal/models"
	"villaops/internal/monitor"
	"villaops/internal/notify"
	"villaops/internal/repository"
	"villaops/internal/service"
	"villaops/internal/staff"
	"villaops/internal/sweep"
	"villaops/internal/timeline"
	"villaops/internal/worker"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, base, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}
	logger := logging.Component(base, "turnoverd")

	db, err := database.NewDB(cfg.Database.Path, logging.Component(base, "database"))
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := seedRoster(ctx, cfg, db, logger); err != nil {
		return err
	}

	redisClient := initRedis(ctx, cfg, logger)
	defer (func() { _ = repository.Close(redisClient) })()

	bus := events.NewEventBus()
	if redisClient != nil {
		relay := events.NewRedisRelay(redisClient, bus, cfg.Redis.EventChannel, cfg.App.InstanceID,
			logging.Component(base, "relay"))
		relay.Forward(events.EventTaskStatusChanged, events.EventTimelineCreated, events.EventAlertRaised)
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("event relay stopped")
			}
		}()
		defer relay.Stop()
	}

	deliveries, err := initDeliveryWorker(cfg, db, redisClient, base, logger)
	if err != nil {
		return err
	}
	go deliveries.Start(ctx)

	gateway := notify.NewGateway(db, initDedupe(redisClient, logging.Component(base, "dedupe")), deliveries, cfg.Notifications.DedupeTTL, base)

	engine := lifecycle.NewEngine(db, staff.NewDirectory(db, base), gateway, bus, base,
		lifecycle.WithChannels(channels(cfg)...))

	mon := monitor.New(db, engine, bus, time.Now, base)
	go mon.Start(ctx)
	resumed, err := mon.Resume(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("resume timeline monitoring")
	} else {
		logger.Info().Int("timelines", resumed).Msg("timeline monitoring resumed")
	}

	bookings := service.NewBookingService(db, timeline.NewGenerator(time.Now), mon, bus,
		logging.Component(base, "bookings"))

	checkout := sweep.NewCheckoutSweep(db, engine, db, time.Now, base)
	timeouts := sweep.NewTimeoutSweep(db, db, bus, thresholds(cfg), time.Now, base)

	scheduler, err := initScheduler(cfg, db, checkout, timeouts, base)
	if err != nil {
		return err
	}
	scheduler.Start()

	startMetrics(ctx, cfg, logger)

	deps := api.Deps{
		Bookings:  bookings,
		Lifecycle: engine,
		Offers:    db,
		Alerts:    db,
		Checkout:  checkout,
		Timeouts:  timeouts,
		Store:     db,
	}
	httpServer, grpcServer, err := startServers(cfg, deps, db, base, logger)
	if err != nil {
		return err
	}

	logger.Info().Str("instance", cfg.App.InstanceID).Msg("turnover engine started")
	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if httpServer != nil {
		_ = httpServer.Shutdown(shutdownCtx)
	}
	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("scheduler did not stop in time")
	}
	mon.Close()
	mon.Wait()

	logger.Info().Msg("turnover engine stopped")
	return nil
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	logger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, closer, nil
}

func seedRoster(ctx context.Context, cfg *config.Config, db *database.DB, logger *zerolog.Logger) error {
	if cfg.Staff.RosterPath == "" {
		logger.Warn().Msg("no staff roster configured; tasks stay unassigned until staff exist")
		return nil
	}
	roster, err := staff.LoadRoster(cfg.Staff.RosterPath)
	if err != nil {
		logger.Error().Err(err).Str("roster_path", cfg.Staff.RosterPath).Msg("load staff roster")
		return err
	}
	n, err := staff.Seed(ctx, db, roster)
	if err != nil {
		return err
	}
	logger.Info().Int("staff", n).Msg("staff roster loaded")
	return nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, client); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = client.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return client
}

func initDedupe(client *redis.Client, logger *zerolog.Logger) domain.DedupeStore {
	memory := repository.NewMemoryDedupeStore()
	if client == nil {
		return memory
	}
	return repository.NewFailoverDedupeStore(repository.NewRedisDedupeStore(client), memory, logger)
}

func initDeliveryWorker(cfg *config.Config, db *database.DB, client *redis.Client, base, logger *zerolog.Logger) (*worker.DeliveryWorker, error) {
	senders := []worker.Sender{notify.NewInAppSender(db)}

	if cfg.Telegram.BotToken != "" {
		bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
		if err != nil {
			logger.Error().Err(err).Msg("create telegram bot")
			return nil, err
		}
		bot.Debug = cfg.Telegram.Debug
		senders = append(senders, notify.NewTelegramSender(bot, db))
		logger.Info().Str("bot", bot.Self.UserName).Msg("push channel enabled")
	}
	if cfg.SMTP.Host != "" {
		senders = append(senders, notify.NewEmailSender(cfg.SMTP, db))
		logger.Info().Str("host", cfg.SMTP.Host).Msg("email channel enabled")
	}

	retry := worker.RetryPolicy{
		MaxRetries:    cfg.Notifications.MaxRetries,
		InitialDelay:  cfg.Notifications.InitialDelay,
		MaxDelay:      cfg.Notifications.MaxDelay,
		BackoffFactor: cfg.Notifications.BackoffFactor,
	}
	return worker.NewDeliveryWorker(db, senders, client, retry, cfg.Notifications.QueueSize, base), nil
}

func channels(cfg *config.Config) []models.Channel {
	out := make([]models.Channel, 0, len(cfg.Notifications.Channels))
	for _, ch := range cfg.Notifications.Channels {
		out = append(out, models.Channel(ch))
	}
	return out
}

func thresholds(cfg *config.Config) sweep.Thresholds {
	return sweep.Thresholds{
		OfferTimeout:       cfg.Sweeps.OfferTimeout(),
		JobAcceptedTimeout: cfg.Sweeps.JobAcceptedTimeout(),
		JobStartedTimeout:  cfg.Sweeps.JobStartedTimeout(),
	}
}

func initScheduler(
	cfg *config.Config,
	db *database.DB,
	checkout *sweep.CheckoutSweep,
	timeouts *sweep.TimeoutSweep,
	logger *zerolog.Logger,
) (*sweep.Scheduler, error) {
	scheduler := sweep.NewScheduler(logger, time.UTC)

	if err := scheduler.Add("checkout", cfg.Sweeps.CheckoutSchedule, func(ctx context.Context) error {
		_, err := checkout.Run(ctx)
		return err
	}); err != nil {
		return nil, err
	}
	if err := scheduler.Add("timeouts", cfg.Sweeps.TimeoutSchedule, func(ctx context.Context) error {
		_, err := timeouts.Run(ctx)
		return err
	}); err != nil {
		return nil, err
	}

	if cfg.Backup.Enabled {
		backups := database.NewBackupService(db, database.BackupConfig{
			Enabled:       true,
			StoragePath:   cfg.Backup.StoragePath,
			RetentionDays: cfg.Backup.RetentionDays,
		}, logging.Component(logger, "backup"))
		if err := scheduler.Add("backup", cfg.Backup.Schedule, backups.Run); err != nil {
			return nil, err
		}
	}
	return scheduler, nil
}

func startServers(cfg *config.Config, deps api.Deps, db *database.DB, base, logger *zerolog.Logger) (*api.HTTPServer, *api.GRPCServer, error) {
	if !cfg.API.Enabled {
		logger.Warn().Msg("API is disabled in config; only the sweeps run")
		return nil, nil, nil
	}

	var httpServer *api.HTTPServer
	if cfg.API.HTTP.Enabled {
		httpServer = api.NewHTTPServer(cfg.API, deps, base)
		go func() {
			if err := httpServer.Start(); err != nil {
				logger.Error().Err(err).Msg("http server stopped")
			}
		}()
	}

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		var err error
		grpcServer, err = api.NewGRPCServer(&cfg.API, db, base)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return nil, nil, err
		}
		go func() {
			if err := grpcServer.Serve(); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
			}
		}()
	}

	return httpServer, grpcServer, nil
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
