package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vacationrental/booking-backend/internal/config"
	"github.com/vacationrental/booking-backend/internal/database"
	"github.com/vacationrental/booking-backend/internal/models"
	"github.com/vacationrental/booking-backend/internal/services"
	"github.com/vacationrental/booking-backend/pkg/channelmanager"
)

// Retries the downstream reservation for a booking parked in manual_review, the
// same path as POST /admin/bookings/:payment_intent_id/retry-reservation.
func main() {
	var (
		paymentIntentID string
		operator        string
		list            bool
	)
	flag.StringVar(&paymentIntentID, "payment-intent", "", "payment intent id of the booking to retry")
	flag.StringVar(&operator, "operator", os.Getenv("USER"), "operator name recorded with the retry")
	flag.BoolVar(&list, "list", false, "list bookings in manual_review and exit")
	flag.Parse()

	if !list && paymentIntentID == "" {
		flag.Usage()
		os.Exit(2)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	bookingRepository := database.NewBookingRepository(db.DB)
	auditService := services.NewAuditService(database.NewPaymentAuditRepository(db.DB, logger), logger)
	alertService := services.NewAlertService(services.NewLogNotifier(logger), logger)

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
	operatorService := services.NewOperatorService(bookingRepository, reconciler, auditService, logger)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Booking.ReconcileTimeout+30*time.Second)
	defer cancel()

	if list {
		bookings, err := operatorService.ListBookings(ctx, models.BookingStatusManualReview, 200, 0)
		if err != nil {
			log.Fatalf("failed to list bookings: %v", err)
		}
		fmt.Printf("%d booking(s) in manual_review\n", len(bookings))
		for _, b := range bookings {
			reason := ""
			if b.FailureReason != nil {
				reason = *b.FailureReason
			}
			fmt.Printf("  %s  %s  %s..%s  %s\n", b.StripePaymentIntentID, b.PropertyID,
				b.CheckIn.Format(models.DateLayout), b.CheckOut.Format(models.DateLayout), reason)
		}
		return
	}

	fmt.Printf("Retrying reservation for %s as %s...\n", paymentIntentID, operator)
	booking, err := operatorService.RetryReservation(ctx, paymentIntentID, operator)
	if err != nil {
		log.Fatalf("retry failed: %v", err)
	}

	switch booking.BookingStatus {
	case models.BookingStatusConfirmed:
		reservationID := ""
		if booking.ReservationID != nil {
			reservationID = *booking.ReservationID
		}
		fmt.Printf("✅ Confirmed, reservation %s\n", reservationID)
	default:
		fmt.Printf("⚠️  Booking is %s again, see the operator alert for details\n", booking.BookingStatus)
		os.Exit(1)
	}
}
