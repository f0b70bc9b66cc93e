/**
 * @description
 * This is the main entry point for the collections engine. It is responsible
 * for initializing all components of the service: configuration, database
 * connection, the Redis dispatch guards, the analytics producer, the channel
 * provider clients, the repository, the core application service, the HTTP
 * server, and (optionally) the in-process scheduler. It wires everything
 * together and starts the service.
 *
 * @dependencies
 * - log/slog, net/http: Standard Go libraries for logging and HTTP serving.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Redis client for the dispatch guards.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages.
 * - pkg/*: Channel provider clients and the RabbitMQ producer.
 */

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/recoup/collections-engine/internal/api"
	"github.com/recoup/collections-engine/internal/app"
	"github.com/recoup/collections-engine/internal/config"
	"github.com/recoup/collections-engine/internal/store"
	"github.com/recoup/collections-engine/pkg/agencyclient"
	"github.com/recoup/collections-engine/pkg/lobclient"
	"github.com/recoup/collections-engine/pkg/rabbitmq"
	"github.com/recoup/collections-engine/pkg/sendgridclient"
	"github.com/recoup/collections-engine/pkg/twilioclient"
)

func main() {
	// Load a local .env if present before the config layer reads the environment.
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger.Info("starting collections engine", "port", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("unable to parse database URL", "error", err)
		os.Exit(1)
	}
	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	// Redis backs the dispatch guards; without it they run fail-open.
	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			logger.Warn("redis url parse failed, dispatch guards run fail-open", "error", parseErr)
		} else {
			redisClient = redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				logger.Warn("redis ping failed, dispatch guards run fail-open", "error", pingErr)
				redisClient.Close()
				redisClient = nil
			} else {
				defer redisClient.Close()
				logger.Info("redis connected")
			}
		}
	}

	// Analytics are best-effort: a missing broker disables them.
	var analytics *app.Analytics
	producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, cfg.AnalyticsExchange)
	if err != nil {
		logger.Warn("rabbitmq producer unavailable, analytics disabled", "error", err)
		analytics = app.NewAnalytics(nil, logger)
	} else {
		defer producer.Close()
		analytics = app.NewAnalytics(producer, logger)
		logger.Info("rabbitmq producer connected")
	}

	// Channel providers. Any unconfigured provider disables its channel
	// rather than preventing boot.
	senders := app.Senders{}
	if cfg.SendgridAPIKey != "" {
		senders.Email = sendgridclient.NewClient("https://api.sendgrid.com", cfg.SendgridAPIKey)
	} else {
		logger.Warn("sendgrid not configured, email channel disabled")
	}
	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" {
		twilio := twilioclient.NewClient("https://api.twilio.com", cfg.TwilioAccountSID, cfg.TwilioAuthToken)
		senders.SMS = twilio
		senders.Voice = twilio
	} else {
		logger.Warn("twilio not configured, sms and voice channels disabled")
	}
	if cfg.LobAPIKey != "" {
		senders.Letter = lobclient.NewClient("https://api.lob.com", cfg.LobAPIKey)
	} else {
		logger.Warn("lob not configured, letter channel disabled")
	}
	if cfg.AgencyAPIURL != "" && cfg.AgencyAPIKey != "" {
		senders.Agency = agencyclient.NewClient(cfg.AgencyAPIURL, cfg.AgencyAPIKey)
	} else {
		logger.Warn("agency partner not configured, referrals disabled")
	}

	repository := store.NewPostgresRepository(dbpool)

	var guard *app.RedisActionGuard
	if redisClient != nil {
		guard = app.NewRedisActionGuard(redisClient, cfg.RedisGuardPrefix)
	} else {
		guard = app.NewRedisActionGuard(nil, cfg.RedisGuardPrefix)
	}

	service := app.NewService(repository, senders, guard, analytics, logger, cfg)

	handlers := api.NewCollectionsHandlers(service, logger)
	router := api.Routes(handlers, cfg)

	// The in-process scheduler is optional; deployments driving the engine
	// from an external cron hit the /internal/cron endpoints instead.
	var scheduler *app.Scheduler
	if cfg.EnableScheduler {
		scheduler = app.NewScheduler(service, logger, cfg)
		scheduler.Start()
		logger.Info("in-process scheduler started",
			"escalation_cron", cfg.EscalationCron,
			"verification_cron", cfg.VerificationCron)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: router,
	}

	go func() {
		logger.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server stopped unexpectedly", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for termination signal to gracefully shut down.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutdown signal received")

	if scheduler != nil {
		stopCtx := scheduler.Stop()
		<-stopCtx.Done() // Wait for running jobs to finish
		logger.Info("scheduler stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	logger.Info("shutdown complete")
}
