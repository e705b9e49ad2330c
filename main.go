package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"soporte_wa/internal/config"
	"soporte_wa/internal/database"
	"soporte_wa/internal/events"
	"soporte_wa/internal/handlers"
	"soporte_wa/internal/repo"
	"soporte_wa/internal/services"
	"soporte_wa/internal/telemetry"
	"soporte_wa/internal/whatsapp"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// loadEnvFiles loads the first-found values of every env file; variables
// already set in the process win
func loadEnvFiles(files ...string) {
	for _, f := range files {
		if err := godotenv.Load(f); err == nil {
			log.Debug().Str("file", f).Msg("environment loaded")
		}
	}
}

func setupLogger(cfg *config.Config) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if cfg.IsDevelopment() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Logger = logger
	return logger
}

func main() {
	loadEnvFiles(".env", "env.production", "env.local")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := setupLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, enabled, err := telemetry.Init(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("telemetry init failed, continuing without it")
	} else if enabled {
		logger.Info().Msg("telemetry enabled")
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Str("type", cfg.Database.Type).Msg("database unavailable")
	}
	logger.Info().Str("type", cfg.Database.Type).Msg("database ready")

	var publisher events.Publisher = events.Nop{}
	if cfg.AMQPURL != "" {
		rp, err := events.NewRabbitPublisher(ctx, events.DialOptions{
			URL:      cfg.AMQPURL,
			Exchange: cfg.AMQPExchange,
			Attempts: 5,
			Delay:    time.Second,
		}, logger.With().Str("component", "events").Logger())
		if err != nil {
			logger.Warn().Err(err).Msg("event broker unavailable, events disabled")
		} else {
			publisher = rp
			logger.Info().Str("exchange", cfg.AMQPExchange).Msg("publishing events")
		}
	}
	defer publisher.Close()
	emitter := events.NewEmitter(publisher, logger)

	agentRepo := repo.NewAgentRepository(db)
	instanceRepo := repo.NewInstanceRepository(db)
	assignRepo := repo.NewAssignmentRepository(db)
	logRepo := repo.NewConversationLogRepository(db)
	followUpRepo := repo.NewFollowUpRepository(db)

	media, err := whatsapp.NewFileMediaStore(cfg.MediaDir)
	if err != nil {
		logger.Fatal().Err(err).Str("dir", cfg.MediaDir).Msg("media store unavailable")
	}

	devices, err := whatsapp.NewDeviceStore(ctx, cfg.Store, instanceRepo, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("credential store unavailable")
	}
	defer devices.Close()

	logs := services.NewConversationLogger(logRepo, time.Local, logger)
	assignments := services.NewAssignmentService(assignRepo, logger)
	followUps := services.NewFollowUpScheduler(followUpRepo, logs, emitter, services.FollowUpOptions{
		CheckInterval: cfg.FollowUp.CheckInterval,
		Interval:      cfg.FollowUp.Interval,
		PostponeDelay: cfg.FollowUp.PostponeDelay,
		MaxAttempts:   cfg.FollowUp.MaxAttempts,
	}, logger)

	router := whatsapp.NewRouter(whatsapp.RouterDeps{
		Assignments:   assignments,
		Conversations: logs,
		FollowUps:     followUps,
		Media:         media,
		Events:        emitter,
		Logger:        logger,
	})
	manager := whatsapp.NewManager(whatsapp.ManagerDeps{
		Sessions:      whatsapp.NewMeowFactory(devices, logger),
		Credentials:   devices,
		Instances:     instanceRepo,
		Router:        router,
		Conversations: logs,
		Media:         media,
		Events:        emitter,
		Logger:        logger,
	}, whatsapp.Options{
		ReconnectDelay:       cfg.Instance.ReconnectDelay,
		LogoutRestartDelay:   cfg.Instance.LogoutRestartDelay,
		MaxReconnectAttempts: cfg.Instance.MaxReconnectAttempts,
	})

	auth := services.NewAuthService(cfg.JWTSecret, cfg.JWTTTL, cfg.AdminAPIKey)
	agents := services.NewAgentService(agentRepo, manager, assignments, followUps, logger)
	purge := services.NewPurgeService(logs, assignments, followUps, logger)

	if cfg.AdminAPIKey == "" {
		logger.Warn().Msg("ADMIN_API_KEY is empty, tokens cannot be issued")
	}

	if _, err := followUps.Load(ctx); err != nil {
		logger.Error().Err(err).Msg("loading follow-ups failed")
	}
	go followUps.Run(ctx, manager)
	go logs.Run(ctx, cfg.LogRetryInterval)

	if _, err := agents.StartActive(ctx); err != nil {
		logger.Error().Err(err).Msg("starting instances failed")
	}

	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: handlers.NewRouter(handlers.Deps{
			Auth:        auth,
			Agents:      agents,
			Assignments: assignments,
			Logs:        logs,
			FollowUps:   followUps,
			Purge:       purge,
			Manager:     manager,
			MediaDir:    media.Root(),
			Ping:        func() error { return database.Ping(db) },
			Logger:      logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()
	logger.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("support panel started")

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	manager.StopAll(shutdownCtx)
	if n := logs.Pending(); n > 0 {
		stored, dropped := logs.RetryPending(shutdownCtx)
		logger.Info().Int("stored", stored).Int("dropped", dropped).Msg("pending log entries flushed")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("telemetry shutdown failed")
	}
	logger.Info().Msg("server exited")
}
