package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/sirupsen/logrus"
	"github.com/vacationrental/booking-backend/internal/config"
	"github.com/vacationrental/booking-backend/internal/database"
	"github.com/vacationrental/booking-backend/internal/services"
	"github.com/vacationrental/booking-backend/pkg/channelmanager"
)

// Worker process for async reconcile mode: runs reservation:create tasks and serves
// the asynqmon dashboard.
func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	if logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel); err == nil {
		logger.SetLevel(logLevel)
	}
	if cfg.Redis.Addr == "" {
		logger.Fatal("REDIS_ADDR is required for the worker")
	}

	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	bookingRepository := database.NewBookingRepository(db.DB)
	auditService := services.NewAuditService(database.NewPaymentAuditRepository(db.DB, logger), logger)
	alertService := services.NewAlertService(services.NewLogNotifier(logger), logger)
	if cfg.Alert.Sink == config.AlertSinkWebhook {
		alertService = services.NewAlertService(services.NewWebhookNotifier(cfg.Alert.WebhookURL, logger), logger)
	}

	channelManager := channelmanager.NewClient(channelmanager.Config{
		BaseURL:          cfg.ChannelManager.BaseURL,
		APIKey:           cfg.ChannelManager.APIKey,
		ClientID:         cfg.ChannelManager.ClientID,
		Timeout:          cfg.ChannelManager.Timeout,
		BreakerThreshold: cfg.ChannelManager.BreakerThreshold,
	}, logger)

	reconciler := services.NewWebhookReconciler(
		bookingRepository,
		channelManager,
		alertService,
		auditService,
		services.ReconcilerConfig{
			Retry: services.RetryPolicy{
				MaxAttempts: cfg.Booking.RetryAttempts,
				Backoff:     services.NewBackoff(cfg.Booking.RetryBackoff, cfg.Booking.RetryDelay),
			},
			AttemptTimeout:   cfg.Booking.AttemptTimeout,
			ReconcileTimeout: cfg.Booking.ReconcileTimeout,
		},
		logger,
	)

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
		Queues: map[string]int{
			"reservations": 10,
			"default":      1,
		},
		Logger:   logger,
		LogLevel: asynq.InfoLevel,
	})
	mux := asynq.NewServeMux()
	services.NewReservationTaskHandler(reconciler, logger).Register(mux)

	if err := srv.Start(mux); err != nil {
		logger.Fatalf("Failed to start task server: %v", err)
	}
	logger.WithField("concurrency", cfg.Worker.Concurrency).Info("✓ Reservation worker started")

	monitor := asynqmon.New(asynqmon.Options{
		RootPath:     "/monitoring",
		RedisConnOpt: redisOpt,
	})
	monitorMux := http.NewServeMux()
	// asynqmon needs the trailing slash on net/http.ServeMux
	monitorMux.Handle(monitor.RootPath()+"/", monitor)
	monitorSrv := &http.Server{
		Addr:    ":" + cfg.Worker.MonitorPort,
		Handler: monitorMux,
	}
	go func() {
		logger.Infof("Task monitor on :%s%s", cfg.Worker.MonitorPort, monitor.RootPath())
		if err := monitorSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Task monitor stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down worker...")
	srv.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := monitorSrv.Shutdown(ctx); err != nil {
		logger.Errorf("Monitor forced to shutdown: %v", err)
	}
	monitor.Close()

	logger.Info("Worker exited")
}
