package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"bizchat-platform/internal/audit"
	"bizchat-platform/internal/auth"
	"bizchat-platform/internal/booking"
	"bizchat-platform/internal/channel"
	"bizchat-platform/internal/config"
	"bizchat-platform/internal/conversations"
	"bizchat-platform/internal/events"
	"bizchat-platform/internal/notify"
	"bizchat-platform/internal/reminder"
	"bizchat-platform/internal/webhook"
	"bizchat-platform/pkg/logger"
	"bizchat-platform/pkg/utils"
)

const reminderCronSpec = "@every 5m"

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	host, err := channel.NewHTTPHost(channel.HTTPHostConfig{
		PrimaryURL:  cfg.SessionHost.PrimaryURL,
		FallbackURL: cfg.SessionHost.FallbackURL,
		Timeout:     cfg.SessionHost.RequestTimeout,
	})
	if err != nil {
		log.Error("session host init failed", "err", err)
		os.Exit(1)
	}

	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.AMQP.URL != "" {
		amqpPub, err := events.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, log)
		if err != nil {
			log.Error("amqp init failed", "err", err)
			os.Exit(1)
		}
		defer amqpPub.Close()
		publisher = amqpPub
	}

	// Wiring: Postgres-backed repositories behind domain services.
	auditSvc := audit.NewService(audit.NewPostgresRepo(db))
	convSvc := conversations.NewService(conversations.NewPostgresRepo(db))
	orchestrator := channel.NewOrchestrator(channel.NewPostgresSessionRepo(db), host, log,
		channel.OrchestratorOptions{
			PollInterval: cfg.SessionHost.PollInterval,
			AttemptTTL:   cfg.SessionHost.AttemptTTL,
		})

	ruleRepo := notify.NewPostgresRuleRepo(db)
	attemptRepo := notify.NewPostgresAttemptRepo(db)
	guard := notify.NewRedisGuard(rdb, uuid.NewString())
	dispatcher := notify.NewDispatcher(ruleRepo, attemptRepo, guard, convSvc, host, log)

	bookingRepo := booking.NewPostgresRepo(db)
	bookingSvc := booking.NewService(bookingRepo, dispatcher, publisher, log)

	reminders := reminder.NewScheduler(bookingRepo, ruleRepo, dispatcher, log)
	if err := reminders.Start(reminderCronSpec); err != nil {
		log.Error("reminder scheduler init failed", "err", err)
		os.Exit(1)
	}
	defer reminders.Stop()

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	deps := routeDeps{
		cfg:           cfg,
		db:            db,
		authManager:   authManager,
		apiKeys:       auth.NewPostgresKeyRepo(db),
		integrations:  webhook.NewPostgresIntegrationRepo(db),
		auditSvc:      auditSvc,
		conversations: convSvc,
		orchestrator:  orchestrator,
		bookings:      bookingSvc,
		rules:         ruleRepo,
		attempts:      attemptRepo,
	}
	registerRoutes(r, deps)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
