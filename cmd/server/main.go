package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wamqp "github.com/ThreeDotsLabs/watermill-amqp/pkg/amqp"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/vacationrental/booking-backend/internal/config"
	"github.com/vacationrental/booking-backend/internal/database"
	"github.com/vacationrental/booking-backend/internal/handlers"
	"github.com/vacationrental/booking-backend/internal/middleware"
	"github.com/vacationrental/booking-backend/internal/services"
	"github.com/vacationrental/booking-backend/pkg/channelmanager"
	"github.com/vacationrental/booking-backend/pkg/jwt"
	"github.com/vacationrental/booking-backend/pkg/stripe"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting booking backend")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if cfg.Server.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Initialize database connection
	logger.Info("Connecting to database...")
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.WithField("driver", cfg.Database.Driver).Info("Database connection established")

	// Repositories
	bookingRepository := database.NewBookingRepository(db.DB)
	auditRepository := database.NewPaymentAuditRepository(db.DB, logger)

	// External clients
	channelManager := channelmanager.NewClient(channelmanager.Config{
		BaseURL:          cfg.ChannelManager.BaseURL,
		APIKey:           cfg.ChannelManager.APIKey,
		ClientID:         cfg.ChannelManager.ClientID,
		Timeout:          cfg.ChannelManager.Timeout,
		BreakerThreshold: cfg.ChannelManager.BreakerThreshold,
	}, logger)
	paymentProcessor := stripe.NewClient(stripe.Config{
		SecretKey: cfg.Payment.SecretKey,
		BaseURL:   cfg.Payment.APIBaseURL,
	})

	// Operator alerts
	notifier, closeNotifier := buildNotifier(cfg.Alert, logger)
	defer closeNotifier()
	alertService := services.NewAlertService(notifier, logger)
	auditService := services.NewAuditService(auditRepository, logger)

	// Core services
	logger.Info("Initializing services...")
	quoteService := services.NewQuoteService(
		channelManager,
		alertService,
		cfg.Booking.FallbackNightlyRate,
		cfg.Payment.Currency,
		logger,
	)
	paymentIntentService := services.NewPaymentIntentService(
		channelManager,
		paymentProcessor,
		bookingRepository,
		auditService,
		cfg.Payment.Currency,
		logger,
	)
	reconciler := services.NewWebhookReconciler(
		bookingRepository,
		channelManager,
		alertService,
		auditService,
		services.ReconcilerConfig{
			WebhookSecret:      cfg.Payment.WebhookSecret,
			SignatureTolerance: cfg.Payment.SignatureTolerance,
			AllowUnsigned:      cfg.Payment.AllowUnsignedWebhooks,
			Production:         cfg.Server.IsProduction(),
			Retry: services.RetryPolicy{
				MaxAttempts: cfg.Booking.RetryAttempts,
				Backoff:     services.NewBackoff(cfg.Booking.RetryBackoff, cfg.Booking.RetryDelay),
			},
			AttemptTimeout:   cfg.Booking.AttemptTimeout,
			ReconcileTimeout: cfg.Booking.ReconcileTimeout,
			Async:            cfg.Booking.ReconcileMode == config.ReconcileModeAsync,
		},
		logger,
	)
	operatorService := services.NewOperatorService(bookingRepository, reconciler, auditService, logger)

	if cfg.Booking.ReconcileMode == config.ReconcileModeAsync {
		taskClient := asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer taskClient.Close()
		reconciler.SetEnqueuer(services.NewReservationQueue(taskClient, cfg.Booking.ReconcileTimeout, logger))
		logger.WithField("redis", cfg.Redis.Addr).Info("Reservation creation runs on the background worker")
	}

	if cfg.Payment.AllowUnsignedWebhooks {
		logger.Warn("ALLOW_UNSIGNED_WEBHOOKS is enabled, webhook signatures are not enforced")
	}

	// Stale processing sweep
	cronService := services.NewCronService(
		bookingRepository,
		alertService,
		cfg.Booking.SweepSchedule,
		cfg.Booking.StaleProcessingAfter,
		logger,
	)
	if err := cronService.Start(); err != nil {
		logger.Fatalf("Failed to start cron service: %v", err)
	}
	logger.Info("✓ Cron service started - stale booking sweep enabled")

	jwtService := jwt.NewService(cfg.Operator.JWTSecret, cfg.Operator.TokenExpiry)

	// Handlers
	checkoutHandler := handlers.NewCheckoutHandler(paymentIntentService, quoteService, logger)
	webhookHandler := handlers.NewWebhookHandler(reconciler, logger)
	operatorHandler := handlers.NewOperatorHandler(operatorService, logger)
	auditHandler := handlers.NewAuditHandler(auditRepository, logger)
	maintenanceHandler := handlers.NewMaintenanceHandler(cronService, logger)

	// Setup router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.RequestMetrics())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     append(cfg.CORS.AllowedHeaders, "Stripe-Signature"),
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", healthCheckHandler(db))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/quotes", checkoutHandler.GetQuote)
		v1.POST("/payment-intents", checkoutHandler.CreatePaymentIntent)
		v1.POST("/webhooks/payment", webhookHandler.HandlePaymentWebhook)

		admin := v1.Group("/admin")
		if cfg.Operator.JWTSecret == "" {
			logger.Warn("OPERATOR_JWT_SECRET not set, operator endpoints are disabled")
			admin.Use(func(c *gin.Context) {
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
					"error": "operator API is not configured",
					"code":  "OPERATOR_API_DISABLED",
				})
			})
		} else {
			admin.Use(middleware.OperatorAuth(jwtService, logger), middleware.RequireRole(jwt.RoleOperator))
		}
		{
			admin.GET("/bookings", operatorHandler.ListBookings)
			admin.GET("/bookings/:payment_intent_id", operatorHandler.GetBooking)
			admin.GET("/bookings/:payment_intent_id/audits", auditHandler.GetPaymentAudits)
			admin.POST("/bookings/:payment_intent_id/retry-reservation", operatorHandler.RetryReservation)
			admin.POST("/bookings/:payment_intent_id/resolve", operatorHandler.ResolveManualReview)
			admin.GET("/audits/mismatches", auditHandler.GetAmountMismatches)
			admin.POST("/maintenance/sweep", maintenanceHandler.RunStaleSweep)
			admin.GET("/maintenance/jobs", maintenanceHandler.GetJobs)
		}
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	logger.Info("Stopping cron service...")
	cronService.Stop()

	// In-flight webhooks get the reconcile timeout plus headroom
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Booking.ReconcileTimeout+20*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited successfully")
}

// buildNotifier picks the operator alert sink. The returned func releases it.
func buildNotifier(cfg config.AlertConfig, logger *logrus.Logger) (services.Notifier, func()) {
	switch cfg.Sink {
	case config.AlertSinkWebhook:
		logger.Info("Operator alerts go to webhook")
		return services.NewWebhookNotifier(cfg.WebhookURL, logger), func() {}

	case config.AlertSinkAMQP:
		publisher, err := wamqp.NewPublisher(
			wamqp.NewDurableQueueConfig(cfg.AMQPURL),
			watermill.NewStdLogger(false, false),
		)
		if err != nil {
			logger.WithError(err).Error("Failed to create AMQP publisher, operator alerts fall back to log")
			return services.NewLogNotifier(logger), func() {}
		}
		logger.WithField("queue", cfg.Queue).Info("Operator alerts go to AMQP")
		return services.NewAMQPNotifier(publisher, cfg.Queue), func() {
			if err := publisher.Close(); err != nil {
				logger.WithError(err).Warn("Failed to close AMQP publisher")
			}
		}

	default:
		return services.NewLogNotifier(logger), func() {}
	}
}

// healthCheckHandler returns a health check endpoint
func healthCheckHandler(db database.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"database": "unhealthy",
				"error":    err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"database":  "healthy",
			"version":   version,
			"timestamp": time.Now().Unix(),
		})
	}
}
